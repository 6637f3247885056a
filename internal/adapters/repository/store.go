// Package repository holds the submission stores.
package repository

import (
	"context"
	"time"

	"github.com/okian/roastboard/internal/domain/model"
)

// Store is the authoritative record of every submission.
//
// Implementations enforce the lifecycle: Claim is a conditional
// pending -> processing write, Complete only succeeds from processing, and
// Fail from any non-terminal state. Derived fields are written in the same
// update as the status they belong to.
type Store interface {
	// Create persists s atomically. ErrConflict if the id exists.
	Create(ctx context.Context, s model.Submission) error

	// Get returns the submission with id, or ErrNotFound.
	Get(ctx context.Context, id string) (model.Submission, error)
	// GetByKey returns the submission with the composite key, or ErrNotFound.
	GetByKey(ctx context.Context, key model.Key) (model.Submission, error)

	// Claim moves a pending submission to processing. ErrAlreadyClaimed when
	// the submission is in any other state.
	Claim(ctx context.Context, key model.Key) (model.Submission, error)
	// Complete stores the result and moves processing -> completed.
	Complete(ctx context.Context, key model.Key, result model.Result, audioKey string) error
	// Fail stores detail and moves a non-terminal submission to failed.
	Fail(ctx context.Context, key model.Key, detail string) error

	// ListBySession returns every submission of sessionDate, highest score
	// first and ties in creation order. Non-completed submissions sort last.
	ListBySession(ctx context.Context, sessionDate string) ([]model.Submission, error)
	// CountByStatus returns the number of stored submissions per status.
	CountByStatus(ctx context.Context) (map[model.Status]int, error)
	// PruneExpired deletes submissions whose retention ended at or before now.
	PruneExpired(ctx context.Context, now time.Time) (int, error)

	Ping(ctx context.Context) error
	Close() error
}
