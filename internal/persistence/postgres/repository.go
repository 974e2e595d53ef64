package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/elieceruiz/track-rutina/internal/domain"
	"github.com/elieceruiz/track-rutina/internal/events"
	"github.com/elieceruiz/track-rutina/internal/observability"
)

// uniqueViolation is the SQLSTATE raised when the partial unique index on
// running timers rejects a second start for the same activity key.
const uniqueViolation = "23505"

const timerColumns = `timer_id, user_id, activity_kind, subtype, started_at, ended_at, in_progress,
        expected_at, lateness_minutes, amount, reason, before_score, after_score, improved, created_at, updated_at`

// Repository provides Postgres-backed persistence for timers and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a running timer and its started event in one transaction.
// The partial unique index makes the insert itself the uniqueness check, so a
// concurrent duplicate start fails here with domain.ErrTimerConflict.
func (r *Repository) Create(ctx context.Context, record domain.TimerRecord) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const insertTimer = `INSERT INTO timers (timer_id, user_id, activity_kind, subtype, started_at, in_progress,
            expected_at, amount, reason, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	_, err = tx.Exec(ctx, insertTimer,
		record.ID,
		record.UserID,
		record.Kind,
		nullIfEmpty(record.Subtype),
		record.StartedAt,
		record.InProgress,
		nullIfEmpty(record.ExpectedAt),
		record.Amount,
		nullIfEmpty(record.Reason),
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			err = nil
			tx.Rollback(ctx)
			return domain.ErrTimerConflict
		}
		return err
	}

	if err = r.insertOutbox(ctx, tx, record, "timer.started", events.TimerStarted{
		TimerID:    record.ID,
		UserID:     record.UserID,
		Kind:       string(record.Kind),
		Subtype:    record.Subtype,
		StartedAt:  record.StartedAt,
		ExpectedAt: record.ExpectedAt,
	}); err != nil {
		return err
	}

	err = tx.Commit(ctx)
	if err != nil {
		return err
	}
	observability.RecordTimerStarted(string(record.Kind), record.StartedAt)
	return nil
}

// Get retrieves a timer by ID.
func (r *Repository) Get(ctx context.Context, userID, timerID string) (*domain.TimerRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM timers WHERE user_id=$1 AND timer_id=$2`, timerColumns)

	row := r.pool.QueryRow(ctx, query, userID, timerID)
	record, err := scanTimer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

// FindOpen returns the running timer for the activity key, or nil when idle.
func (r *Repository) FindOpen(ctx context.Context, userID string, kind domain.ActivityKind, subtype string) (*domain.TimerRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM timers
        WHERE user_id=$1 AND activity_kind=$2 AND COALESCE(subtype,'')=$3 AND in_progress`, timerColumns)

	row := r.pool.QueryRow(ctx, query, userID, kind, subtype)
	record, err := scanTimer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

// Complete flips a running timer to completed and records the completed event
// in the same transaction. The update is conditional on in_progress, so two
// racing stops cannot both write an ended_at; the loser sees nil and the
// caller re-reads the winner's record.
func (r *Repository) Complete(ctx context.Context, userID, timerID string, update domain.CompletionUpdate) (*domain.TimerRecord, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	stmt := fmt.Sprintf(`UPDATE timers
        SET ended_at=$3, in_progress=FALSE, lateness_minutes=$4, updated_at=$3
        WHERE user_id=$1 AND timer_id=$2 AND in_progress
        RETURNING %s`, timerColumns)

	row := tx.QueryRow(ctx, stmt, userID, timerID, update.EndedAt, update.LatenessMinutes)
	record, err := scanTimer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = nil
			tx.Rollback(ctx)
			return nil, nil
		}
		return nil, err
	}

	if err = r.insertOutbox(ctx, tx, *record, "timer.completed", events.TimerCompleted{
		TimerID:         record.ID,
		UserID:          record.UserID,
		Kind:            string(record.Kind),
		Subtype:         record.Subtype,
		StartedAt:       record.StartedAt,
		EndedAt:         *record.EndedAt,
		DurationSeconds: int64(record.Duration().Seconds()),
		LatenessMinutes: record.LatenessMinutes,
	}); err != nil {
		return nil, err
	}

	err = tx.Commit(ctx)
	if err != nil {
		return nil, err
	}
	observability.RecordTimerCompleted(string(record.Kind), record.Duration())
	return record, nil
}

// SetPhotoScores stores the clutter heuristic results on a cleanup record.
func (r *Repository) SetPhotoScores(ctx context.Context, userID, timerID string, scores domain.PhotoScores) (*domain.TimerRecord, error) {
	stmt := fmt.Sprintf(`UPDATE timers
        SET before_score=$3, after_score=$4, improved=$5, updated_at=NOW()
        WHERE user_id=$1 AND timer_id=$2
        RETURNING %s`, timerColumns)

	row := r.pool.QueryRow(ctx, stmt, userID, timerID, scores.Before, scores.After, scores.Improved)
	record, err := scanTimer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

// ListCompleted returns completed timers for the kind ordered most recent
// first, with keyset pagination over (started_at, timer_id).
func (r *Repository) ListCompleted(ctx context.Context, userID string, kind domain.ActivityKind, subtype string, cursor *domain.Cursor, limit int) ([]domain.TimerRecord, *domain.Cursor, error) {
	args := []interface{}{userID, kind, limit}
	query := fmt.Sprintf(`SELECT %s FROM timers
        WHERE user_id=$1 AND activity_kind=$2 AND NOT in_progress`, timerColumns)

	if subtype != "" {
		query += fmt.Sprintf(` AND COALESCE(subtype,'')=$%d`, len(args)+1)
		args = append(args, subtype)
	}

	if cursor != nil {
		query += fmt.Sprintf(` AND (started_at, timer_id) < ($%d, $%d)`, len(args)+1, len(args)+2)
		args = append(args, cursor.StartedAt, cursor.ID)
	}

	query += ` ORDER BY started_at DESC, timer_id DESC LIMIT $3`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.TimerRecord, 0, limit)
	for rows.Next() {
		record, err := scanTimer(rows)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{StartedAt: last.StartedAt, ID: last.ID}
	}

	return results, nextCursor, nil
}

// DeleteCompleted removes all completed timers for the kind. Running timers
// are excluded by the predicate, so the open-record invariant is untouched.
func (r *Repository) DeleteCompleted(ctx context.Context, userID string, kind domain.ActivityKind) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM timers WHERE user_id=$1 AND activity_kind=$2 AND NOT in_progress`,
		userID, kind)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, record domain.TimerRecord, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta := eventCatalog[eventType]
	if meta.Topic == "" {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	partitionKey := meta.PartitionKeyFn(record)
	dedupeKey := fmt.Sprintf("%s:%s", record.ID, eventType)

	const stmt = `INSERT INTO outbox (user_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		record.UserID,
		"timer",
		record.ID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		partitionKey,
		body,
		dedupeKey,
	)
	return err
}

// timerScanner covers pgx.Row and pgx.Rows.
type timerScanner interface {
	Scan(dest ...any) error
}

func scanTimer(row timerScanner) (*domain.TimerRecord, error) {
	var (
		record     domain.TimerRecord
		subtype    *string
		expectedAt *string
		reason     *string
	)
	if err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.Kind,
		&subtype,
		&record.StartedAt,
		&record.EndedAt,
		&record.InProgress,
		&expectedAt,
		&record.LatenessMinutes,
		&record.Amount,
		&reason,
		&record.BeforeScore,
		&record.AfterScore,
		&record.Improved,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if subtype != nil {
		record.Subtype = *subtype
	}
	if expectedAt != nil {
		record.ExpectedAt = *expectedAt
	}
	if reason != nil {
		record.Reason = *reason
	}
	return &record, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(domain.TimerRecord) string
}

var eventCatalog = map[string]EventMetadata{
	"timer.started": {
		Topic:         "timer_events",
		SchemaSubject: "timer_events-value",
		PartitionKeyFn: func(r domain.TimerRecord) string {
			return fmt.Sprintf("%s:%s", r.UserID, r.Kind)
		},
	},
	"timer.completed": {
		Topic:         "timer_events",
		SchemaSubject: "timer_events-value",
		PartitionKeyFn: func(r domain.TimerRecord) string {
			return fmt.Sprintf("%s:%s", r.UserID, r.Kind)
		},
	},
}
