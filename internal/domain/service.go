package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimerRepository captures persistence operations. Create must be an atomic
// conditional write: it fails with ErrTimerConflict when a running timer
// already exists for the same (user, kind, subtype) key. Complete must only
// touch rows that are still in progress and returns nil when none matched.
type TimerRepository interface {
	Create(ctx context.Context, record TimerRecord) error
	Get(ctx context.Context, userID, timerID string) (*TimerRecord, error)
	FindOpen(ctx context.Context, userID string, kind ActivityKind, subtype string) (*TimerRecord, error)
	Complete(ctx context.Context, userID, timerID string, update CompletionUpdate) (*TimerRecord, error)
	SetPhotoScores(ctx context.Context, userID, timerID string, scores PhotoScores) (*TimerRecord, error)
	ListCompleted(ctx context.Context, userID string, kind ActivityKind, subtype string, cursor *Cursor, limit int) ([]TimerRecord, *Cursor, error)
	DeleteCompleted(ctx context.Context, userID string, kind ActivityKind) (int64, error)
}

// CompletionUpdate carries the derived fields written when a timer stops.
type CompletionUpdate struct {
	EndedAt         time.Time
	LatenessMinutes *int
}

// PhotoScores carries the clutter heuristic results for a cleanup record.
type PhotoScores struct {
	Before   int
	After    int
	Improved bool
}

// PhotoScorer computes the visual clutter score for an encoded image.
type PhotoScorer interface {
	Score(data []byte) (int, error)
}

// Cursor models the history pagination token.
type Cursor struct {
	StartedAt time.Time
	ID        string
}

// Service orchestrates the timer state machine against the repository.
type Service struct {
	repo   TimerRepository
	scorer PhotoScorer
	loc    *time.Location
	now    func() time.Time
}

// NewService constructs a Service. loc is the deployment timezone used for
// lateness time-of-day math; storage stays UTC.
func NewService(repo TimerRepository, scorer PhotoScorer, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{repo: repo, scorer: scorer, loc: loc, now: time.Now}
}

// StartInput captures the payload for starting a timer.
type StartInput struct {
	UserID     string
	Kind       ActivityKind
	Subtype    string
	ExpectedAt string
	Amount     *int64
	Reason     string
}

// Start creates a running record for the activity key. The repository's
// conditional insert is the uniqueness check: a second start on the same
// (user, kind, subtype) observes ErrTimerConflict even under concurrent
// callers.
func (s *Service) Start(ctx context.Context, input StartInput) (*TimerRecord, error) {
	if !ValidKind(input.Kind) {
		return nil, ErrUnknownKind
	}
	if input.Kind == KindCommute {
		if err := ParseExpectedAt(input.ExpectedAt); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	record := TimerRecord{
		ID:         uuid.NewString(),
		UserID:     input.UserID,
		Kind:       input.Kind,
		Subtype:    strings.ToLower(strings.TrimSpace(input.Subtype)),
		StartedAt:  now,
		InProgress: true,
		ExpectedAt: input.ExpectedAt,
		Amount:     input.Amount,
		Reason:     strings.TrimSpace(input.Reason),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repo.Create(ctx, record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Stop completes a running timer and computes its derived fields. It is
// idempotent: stopping an already-completed record returns that record with
// its original EndedAt and reports replay=true.
func (s *Service) Stop(ctx context.Context, userID, timerID string) (*TimerRecord, bool, error) {
	record, err := s.repo.Get(ctx, userID, timerID)
	if err != nil {
		return nil, false, err
	}
	if record == nil {
		return nil, false, ErrTimerNotFound
	}
	if record.Completed() {
		return record, true, nil
	}

	update := CompletionUpdate{EndedAt: s.now().UTC()}
	if record.Kind == KindCommute && record.ExpectedAt != "" {
		lateness, err := Lateness(update.EndedAt, record.ExpectedAt, s.loc)
		if err != nil {
			return nil, false, err
		}
		update.LatenessMinutes = &lateness
	}

	completed, err := s.repo.Complete(ctx, userID, timerID, update)
	if err != nil {
		return nil, false, err
	}
	if completed != nil {
		return completed, false, nil
	}

	// Lost the race against another stop; the conditional update matched no
	// row, so surface whatever that writer produced.
	record, err = s.repo.Get(ctx, userID, timerID)
	if err != nil {
		return nil, false, err
	}
	if record == nil || !record.Completed() {
		return nil, false, ErrTimerNotFound
	}
	return record, true, nil
}

// Get fetches a timer by ID.
func (s *Service) Get(ctx context.Context, userID, timerID string) (*TimerRecord, error) {
	record, err := s.repo.Get(ctx, userID, timerID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrTimerNotFound
	}
	return record, nil
}

// Open returns the running record for the activity key, or ErrTimerNotFound
// when the key is idle. The presentation layer queries this on every render
// instead of caching a "timer running" flag.
func (s *Service) Open(ctx context.Context, userID string, kind ActivityKind, subtype string) (*TimerRecord, error) {
	if !ValidKind(kind) {
		return nil, ErrUnknownKind
	}
	record, err := s.repo.FindOpen(ctx, userID, kind, strings.ToLower(strings.TrimSpace(subtype)))
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrTimerNotFound
	}
	return record, nil
}

// Elapsed reports how long the record has been open as of now.
func (s *Service) Elapsed(record *TimerRecord) time.Duration {
	return Elapsed(record, s.now())
}

// History lists completed records for the kind, most recent first.
func (s *Service) History(ctx context.Context, userID string, kind ActivityKind, subtype string, cursor *Cursor, limit int) ([]TimerRecord, *Cursor, error) {
	if !ValidKind(kind) {
		return nil, nil, ErrUnknownKind
	}
	return s.repo.ListCompleted(ctx, userID, kind, strings.ToLower(strings.TrimSpace(subtype)), cursor, limit)
}

// ClearHistory bulk-deletes completed records for the kind and returns the
// number removed. Running records are never deleted.
func (s *Service) ClearHistory(ctx context.Context, userID string, kind ActivityKind) (int64, error) {
	if !ValidKind(kind) {
		return 0, ErrUnknownKind
	}
	return s.repo.DeleteCompleted(ctx, userID, kind)
}

// AttachPhotos scores a before/after photo pair and stores the results on the
// record. Improved means the after-score dropped by more than 10%.
func (s *Service) AttachPhotos(ctx context.Context, userID, timerID string, before, after []byte) (*TimerRecord, error) {
	record, err := s.repo.Get(ctx, userID, timerID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrTimerNotFound
	}

	beforeScore, err := s.scorer.Score(before)
	if err != nil {
		return nil, err
	}
	afterScore, err := s.scorer.Score(after)
	if err != nil {
		return nil, err
	}

	scores := PhotoScores{
		Before:   beforeScore,
		After:    afterScore,
		Improved: float64(afterScore) < float64(beforeScore)*0.9,
	}

	updated, err := s.repo.SetPhotoScores(ctx, userID, timerID, scores)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ErrTimerNotFound
	}
	return updated, nil
}
