package upload

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minSecretLen = 16

// Capability is a time-boxed permission to write exactly one object.
type Capability struct {
	ID          string
	Key         string
	ContentType string
	MaxBytes    int64
	ExpiresAt   time.Time
}

type capabilityClaims struct {
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
	MaxBytes    int64  `json:"max_bytes"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 capability tokens.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner returns a Signer keyed by secret.
func NewSigner(secret []byte, now func() time.Time) (*Signer, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("%w: need %d bytes", ErrShortSecret, minSecretLen)
	}
	if now == nil {
		now = time.Now
	}
	return &Signer{secret: secret, now: now}, nil
}

// Sign encodes c into a token.
func (s *Signer) Sign(c Capability) (string, error) {
	claims := capabilityClaims{
		Key:         c.Key,
		ContentType: c.ContentType,
		MaxBytes:    c.MaxBytes,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        c.ID,
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign upload capability: %w", err)
	}
	return token, nil
}

// Verify decodes token and checks that it covers key.
func (s *Signer) Verify(token, key string) (Capability, error) {
	var claims capabilityClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Capability{}, ErrCapabilityExpired
	case err != nil:
		return Capability{}, fmt.Errorf("%w: %v", ErrInvalidCapability, err)
	}
	if claims.Key != key {
		return Capability{}, ErrKeyMismatch
	}
	return Capability{
		ID:          claims.ID,
		Key:         claims.Key,
		ContentType: claims.ContentType,
		MaxBytes:    claims.MaxBytes,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}
