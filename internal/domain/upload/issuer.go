// Package upload creates pending submissions and the capability to upload their audio.
package upload

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/roastboard/internal/domain/model"
	"github.com/okian/roastboard/internal/domain/validation"
	"github.com/okian/roastboard/pkg/logger"
)

// Defaults for issued authorizations.
const (
	DefaultTTL       = 300 * time.Second
	DefaultRetention = 90 * 24 * time.Hour
)

// Creator persists a new submission atomically.
type Creator interface {
	Create(ctx context.Context, s model.Submission) error
}

// Authorization is what a client needs to upload and later trigger scoring.
type Authorization struct {
	ID              string
	CreatedAtMillis int64
	SessionDate     string
	UploadURL       string
	ExpiresIn       int
	ObjectKey       string
	ContentType     string
}

// Issuer creates pending submissions and signs their upload capabilities.
type Issuer struct {
	store     Creator
	signer    *Signer
	baseURL   string
	ttl       time.Duration
	retention time.Duration
	loc       *time.Location
	now       func() time.Time
	newID     func() string
	log       logger.Logger
}

// NewIssuer creates an Issuer.
func NewIssuer(store Creator, signer *Signer, opts ...Option) *Issuer {
	i := &Issuer{
		store:     store,
		signer:    signer,
		baseURL:   "http://localhost:9080",
		ttl:       DefaultTTL,
		retention: DefaultRetention,
		loc:       time.UTC,
		now:       time.Now,
		newID:     uuid.NewString,
		log:       logger.Get().Named("upload"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue persists one pending record for acc and returns its upload authorization.
// Store errors are returned unchanged; no capability is issued for an unpersisted record.
func (i *Issuer) Issue(ctx context.Context, acc validation.Accepted) (Authorization, error) {
	now := i.now()
	s := model.Submission{
		ID:              i.newID(),
		CreatedAtMillis: now.UnixMilli(),
		SessionDate:     model.SessionDate(now, i.loc),
		ParticipantName: acc.Name,
		AudioFormat:     acc.Format,
		AudioSizeBytes:  acc.SizeBytes,
		Status:          model.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(i.retention),
	}
	if err := i.store.Create(ctx, s); err != nil {
		return Authorization{}, err
	}

	key := s.ObjectKey()
	contentType := acc.Format.ContentType()
	token, err := i.signer.Sign(Capability{
		ID:          s.ID,
		Key:         key,
		ContentType: contentType,
		MaxBytes:    model.MaxAudioSize,
		ExpiresAt:   now.Add(i.ttl),
	})
	if err != nil {
		return Authorization{}, err
	}

	i.log.Info(ctx, "submission created",
		logger.String("id", s.ID),
		logger.String("session_date", s.SessionDate),
		logger.String("format", string(s.AudioFormat)),
		logger.Int64("size", s.AudioSizeBytes),
	)

	return Authorization{
		ID:              s.ID,
		CreatedAtMillis: s.CreatedAtMillis,
		SessionDate:     s.SessionDate,
		UploadURL:       i.uploadURL(key, token),
		ExpiresIn:       int(i.ttl / time.Second),
		ObjectKey:       key,
		ContentType:     contentType,
	}, nil
}

func (i *Issuer) uploadURL(key, token string) string {
	return strings.TrimRight(i.baseURL, "/") + "/uploads/" + key + "?token=" + url.QueryEscape(token)
}
