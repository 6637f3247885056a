// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Submission limits.
const (
	MaxNameLength  = 50
	MaxAudioSize   = 5 * 1024 * 1024
	PrizeThreshold = 80
	MinScore       = 0
	MaxScore       = 100
)

// SessionDateLayout formats session dates.
const SessionDateLayout = "2006-01-02"

// AudioFormat is one of the accepted audio container formats.
type AudioFormat string

// Accepted audio formats.
const (
	FormatMP4  AudioFormat = "mp4"
	FormatWebM AudioFormat = "webm"
	FormatWAV  AudioFormat = "wav"
	FormatM4A  AudioFormat = "m4a"
	FormatAAC  AudioFormat = "aac"
)

var formats = []AudioFormat{FormatMP4, FormatWebM, FormatWAV, FormatM4A, FormatAAC}

// Formats lists the accepted formats in their canonical order.
func Formats() []AudioFormat {
	out := make([]AudioFormat, len(formats))
	copy(out, formats)
	return out
}

// ParseAudioFormat matches s case-insensitively against the accepted formats.
func ParseAudioFormat(s string) (AudioFormat, bool) {
	f := AudioFormat(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range formats {
		if f == known {
			return f, true
		}
	}
	return "", false
}

// ContentType is the MIME type an upload of this format must declare.
func (f AudioFormat) ContentType() string {
	switch f {
	case FormatMP4, FormatM4A:
		return "audio/mp4"
	case FormatWebM:
		return "audio/webm"
	case FormatWAV:
		return "audio/wav"
	case FormatAAC:
		return "audio/aac"
	default:
		return "application/octet-stream"
	}
}

// Key is the composite identity of a submission.
type Key struct {
	ID              string
	CreatedAtMillis int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%d", k.ID, k.CreatedAtMillis)
}

// Result holds the derived fields set on completion.
type Result struct {
	Transcript    string
	Score         int
	Commentary    string
	PrizeEligible bool
}

// Submission is one participant's attempt.
type Submission struct {
	ID              string
	CreatedAtMillis int64
	SessionDate     string
	ParticipantName string
	AudioFormat     AudioFormat
	AudioSizeBytes  int64
	Status          Status

	// Result is non-nil iff Status is StatusCompleted.
	Result *Result
	// ErrorDetail is non-empty only when Status is StatusFailed.
	ErrorDetail string
	// AudioKey is the object key recorded on completion.
	AudioKey string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt time.Time
	ExpiresAt   time.Time
}

// Key returns the composite key of s.
func (s Submission) Key() Key {
	return Key{ID: s.ID, CreatedAtMillis: s.CreatedAtMillis}
}

// ObjectKey returns the audio object key of s.
func (s Submission) ObjectKey() string {
	return ObjectKey(s.SessionDate, s.ID, s.AudioFormat)
}

// Clone returns a deep copy of s.
func (s Submission) Clone() Submission {
	if s.Result != nil {
		r := *s.Result
		s.Result = &r
	}
	return s
}

// CheckInvariants reports whether the derived fields agree with the status.
func (s Submission) CheckInvariants() error {
	switch s.Status {
	case StatusCompleted:
		if s.Result == nil {
			return fmt.Errorf("%w: completed submission %s without result", ErrInternal, s.ID)
		}
		if s.ErrorDetail != "" {
			return fmt.Errorf("%w: completed submission %s with error detail", ErrInternal, s.ID)
		}
	case StatusFailed:
		if s.Result != nil {
			return fmt.Errorf("%w: failed submission %s with result", ErrInternal, s.ID)
		}
	default:
		if s.Result != nil || s.ErrorDetail != "" {
			return fmt.Errorf("%w: %s submission %s with terminal fields", ErrInternal, s.Status, s.ID)
		}
	}
	return nil
}

// ObjectKey builds the audio object key {sessionDate}/{id}.{format}.
func ObjectKey(sessionDate, id string, format AudioFormat) string {
	return sessionDate + "/" + id + "." + string(format)
}

// SessionDate returns the calendar date of t in loc.
func SessionDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(SessionDateLayout)
}

// ParseSessionDate validates a YYYY-MM-DD date and returns it normalized.
func ParseSessionDate(s string) (string, error) {
	t, err := time.Parse(SessionDateLayout, s)
	if err != nil {
		return "", fmt.Errorf("%w: session date %q must be YYYY-MM-DD", ErrValidation, s)
	}
	return t.Format(SessionDateLayout), nil
}

// ClampScore rounds raw and clamps it to [MinScore, MaxScore].
func ClampScore(raw float64) int {
	if math.IsNaN(raw) {
		return MinScore
	}
	r := math.Round(raw)
	if r < MinScore {
		return MinScore
	}
	if r > MaxScore {
		return MaxScore
	}
	return int(r)
}

// IsPrizeEligible reports whether score reaches the prize threshold.
func IsPrizeEligible(score int) bool {
	return score >= PrizeThreshold
}

// NewResult builds a completion result from a raw grading score.
func NewResult(transcript string, rawScore float64, commentary string) Result {
	score := ClampScore(rawScore)
	return Result{
		Transcript:    transcript,
		Score:         score,
		Commentary:    commentary,
		PrizeEligible: IsPrizeEligible(score),
	}
}
