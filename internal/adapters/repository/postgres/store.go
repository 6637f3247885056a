// Package postgres implements the submission store on PostgreSQL with pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/roastboard/internal/adapters/repository"
	"github.com/okian/roastboard/internal/domain/model"
	"github.com/okian/roastboard/pkg/metrics"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const columns = `id, created_at_ms, session_date, participant_name, audio_format,
	audio_size_bytes, status, transcript, score, commentary, prize_eligible,
	error_detail, audio_key, created_at, updated_at, completed_at, expires_at`

// Store is a repository.Store backed by PostgreSQL.
type Store struct {
	db   DBTX
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ repository.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for updated_at and completed_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a store on pool. Close closes the pool.
func NewStore(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{db: pool, pool: pool, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Create(ctx context.Context, sub model.Submission) error {
	query := `INSERT INTO submissions (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	var transcript, commentary *string
	var score *int
	var prize *bool
	if r := sub.Result; r != nil {
		transcript, commentary, score, prize = &r.Transcript, &r.Commentary, &r.Score, &r.PrizeEligible
	}
	_, err := s.db.Exec(ctx, query,
		sub.ID, sub.CreatedAtMillis, sub.SessionDate, sub.ParticipantName, string(sub.AudioFormat),
		sub.AudioSizeBytes, string(sub.Status), transcript, score, commentary, prize,
		sub.ErrorDetail, sub.AudioKey, sub.CreatedAt, sub.UpdatedAt, nullTime(sub.CompletedAt), sub.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", repository.ErrConflict, sub.ID)
		}
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (model.Submission, error) {
	row := s.db.QueryRow(ctx, `SELECT `+columns+` FROM submissions WHERE id = $1`, id)
	sub, err := scanSubmission(row)
	if err != nil {
		return model.Submission{}, notFound(err, id)
	}
	return sub, nil
}

func (s *Store) GetByKey(ctx context.Context, key model.Key) (model.Submission, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+columns+` FROM submissions WHERE id = $1 AND created_at_ms = $2`,
		key.ID, key.CreatedAtMillis)
	sub, err := scanSubmission(row)
	if err != nil {
		return model.Submission{}, notFound(err, key.String())
	}
	return sub, nil
}

func (s *Store) Claim(ctx context.Context, key model.Key) (model.Submission, error) {
	row := s.db.QueryRow(ctx, `UPDATE submissions
		SET status = 'processing', updated_at = $3
		WHERE id = $1 AND created_at_ms = $2 AND status = 'pending'
		RETURNING `+columns,
		key.ID, key.CreatedAtMillis, s.now())
	sub, err := scanSubmission(row)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Submission{}, fmt.Errorf("claim submission: %w", err)
	}
	current, err := s.GetByKey(ctx, key)
	if err != nil {
		return model.Submission{}, err
	}
	return model.Submission{}, fmt.Errorf("%w: %s is %s", repository.ErrAlreadyClaimed, key.ID, current.Status)
}

func (s *Store) Complete(ctx context.Context, key model.Key, result model.Result, audioKey string) error {
	now := s.now()
	tag, err := s.db.Exec(ctx, `UPDATE submissions
		SET status = 'completed', transcript = $3, score = $4, commentary = $5, prize_eligible = $6,
			audio_key = $7, error_detail = '', updated_at = $8, completed_at = $8
		WHERE id = $1 AND created_at_ms = $2 AND status = 'processing'`,
		key.ID, key.CreatedAtMillis, result.Transcript, result.Score, result.Commentary,
		result.PrizeEligible, audioKey, now)
	if err != nil {
		return fmt.Errorf("complete submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, key, model.StatusCompleted)
	}
	return nil
}

func (s *Store) Fail(ctx context.Context, key model.Key, detail string) error {
	tag, err := s.db.Exec(ctx, `UPDATE submissions
		SET status = 'failed', error_detail = $3, transcript = NULL, score = NULL,
			commentary = NULL, prize_eligible = NULL, updated_at = $4
		WHERE id = $1 AND created_at_ms = $2 AND status IN ('pending', 'processing')`,
		key.ID, key.CreatedAtMillis, detail, s.now())
	if err != nil {
		return fmt.Errorf("fail submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, key, model.StatusFailed)
	}
	return nil
}

// transitionError explains why a conditional update matched no row.
func (s *Store) transitionError(ctx context.Context, key model.Key, to model.Status) error {
	current, err := s.GetByKey(ctx, key)
	if err != nil {
		return err
	}
	if err := model.ValidateTransition(current.Status, to); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s changed concurrently", repository.ErrInvalidTransition, key.ID)
}

func (s *Store) ListBySession(ctx context.Context, sessionDate string) ([]model.Submission, error) {
	rows, err := s.db.Query(ctx, `SELECT `+columns+` FROM submissions
		WHERE session_date = $1
		ORDER BY score DESC NULLS LAST, created_at_ms ASC, id ASC`, sessionDate)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var out []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return out, nil
}

func (s *Store) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM submissions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count submissions: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Status]int, len(model.Statuses()))
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[model.Status(status)] = n
	}
	return counts, rows.Err()
}

func (s *Store) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM submissions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("prune submissions: %w", err)
	}
	n := int(tag.RowsAffected())
	if n > 0 {
		metrics.RecordRecordsPruned(n)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func scanSubmission(row pgx.Row) (model.Submission, error) {
	var (
		sub                    model.Submission
		format, status         string
		transcript, commentary *string
		score                  *int
		prize                  *bool
		completedAt            *time.Time
	)
	err := row.Scan(
		&sub.ID, &sub.CreatedAtMillis, &sub.SessionDate, &sub.ParticipantName, &format,
		&sub.AudioSizeBytes, &status, &transcript, &score, &commentary, &prize,
		&sub.ErrorDetail, &sub.AudioKey, &sub.CreatedAt, &sub.UpdatedAt, &completedAt, &sub.ExpiresAt,
	)
	if err != nil {
		return model.Submission{}, err
	}
	sub.AudioFormat = model.AudioFormat(format)
	sub.Status = model.Status(status)
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	sub.ExpiresAt = sub.ExpiresAt.UTC()
	if completedAt != nil {
		sub.CompletedAt = completedAt.UTC()
	}
	if sub.Status == model.StatusCompleted && score != nil {
		sub.Result = &model.Result{
			Transcript:    deref(transcript),
			Score:         *score,
			Commentary:    deref(commentary),
			PrizeEligible: prize != nil && *prize,
		}
	}
	return sub, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", repository.ErrNotFound, what)
	}
	return fmt.Errorf("get submission: %w", err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
