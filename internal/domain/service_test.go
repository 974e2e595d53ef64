package domain

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartSecondTimerConflicts(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Start(context.Background(), StartInput{UserID: "u1", Kind: KindSleep})
	require.NoError(t, err)

	_, err = svc.Start(context.Background(), StartInput{UserID: "u1", Kind: KindSleep})
	require.ErrorIs(t, err, ErrTimerConflict)
}

func TestStartDistinctSubtypesDoNotConflict(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Start(context.Background(), StartInput{UserID: "u1", Kind: KindMeal, Subtype: "Breakfast"})
	require.NoError(t, err)

	_, err = svc.Start(context.Background(), StartInput{UserID: "u1", Kind: KindMeal, Subtype: "lunch"})
	require.NoError(t, err)

	_, err = svc.Start(context.Background(), StartInput{UserID: "u1", Kind: KindMeal, Subtype: "breakfast"})
	require.ErrorIs(t, err, ErrTimerConflict)
}

func TestStartRejectsUnknownKind(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Start(context.Background(), StartInput{UserID: "u1", Kind: "gardening"})
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestStartCommuteRequiresValidExpectedAt(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Start(context.Background(), StartInput{UserID: "u1", Kind: KindCommute, ExpectedAt: "7 o'clock"})
	require.Error(t, err)

	_, err = svc.Start(context.Background(), StartInput{UserID: "u1", Kind: KindCommute, ExpectedAt: "07:00"})
	require.NoError(t, err)
}

func TestStopRoundTripDuration(t *testing.T) {
	svc, clock := newTestService(t)

	started, err := svc.Start(context.Background(), StartInput{UserID: "u1", Kind: KindMeal, Subtype: "breakfast"})
	require.NoError(t, err)
	require.True(t, started.InProgress)

	clock.advance(25 * time.Minute)

	completed, replay, err := svc.Stop(context.Background(), "u1", started.ID)
	require.NoError(t, err)
	require.False(t, replay)
	require.True(t, completed.Completed())
	require.Equal(t, completed.EndedAt.Sub(completed.StartedAt), completed.Duration())
	require.Equal(t, 25*time.Minute, completed.Duration())
}

func TestStopIsIdempotent(t *testing.T) {
	svc, clock := newTestService(t)

	started, err := svc.Start(context.Background(), StartInput{UserID: "u1", Kind: KindCoding})
	require.NoError(t, err)

	clock.advance(time.Hour)
	first, replay, err := svc.Stop(context.Background(), "u1", started.ID)
	require.NoError(t, err)
	require.False(t, replay)

	clock.advance(10 * time.Minute)
	second, replay, err := svc.Stop(context.Background(), "u1", started.ID)
	require.NoError(t, err)
	require.True(t, replay)
	require.Equal(t, first.EndedAt, second.EndedAt)
	require.Equal(t, first.Duration(), second.Duration())
}

func TestStopUnknownTimer(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Stop(context.Background(), "u1", "no-such-id")
	require.ErrorIs(t, err, ErrTimerNotFound)
}

func TestStopCommuteComputesLateness(t *testing.T) {
	svc, clock := newTestService(t)
	clock.set(time.Date(2025, time.March, 3, 6, 40, 0, 0, time.UTC))

	started, err := svc.Start(context.Background(), StartInput{UserID: "u1", Kind: KindCommute, Subtype: "work", ExpectedAt: "07:00"})
	require.NoError(t, err)

	clock.set(time.Date(2025, time.March, 3, 7, 10, 0, 0, time.UTC))
	completed, _, err := svc.Stop(context.Background(), "u1", started.ID)
	require.NoError(t, err)
	require.NotNil(t, completed.LatenessMinutes)
	require.Equal(t, 10, *completed.LatenessMinutes)
	require.False(t, completed.OnTime())
}

func TestOpenQueriesCurrentRecord(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Open(context.Background(), "u1", KindSleep, "")
	require.ErrorIs(t, err, ErrTimerNotFound)

	started, err := svc.Start(context.Background(), StartInput{UserID: "u1", Kind: KindSleep})
	require.NoError(t, err)

	open, err := svc.Open(context.Background(), "u1", KindSleep, "")
	require.NoError(t, err)
	require.Equal(t, started.ID, open.ID)

	_, _, err = svc.Stop(context.Background(), "u1", started.ID)
	require.NoError(t, err)

	_, err = svc.Open(context.Background(), "u1", KindSleep, "")
	require.ErrorIs(t, err, ErrTimerNotFound)
}

func TestHistoryExcludesRunningAndOrdersDescending(t *testing.T) {
	svc, clock := newTestService(t)

	for i := 0; i < 3; i++ {
		started, err := svc.Start(context.Background(), StartInput{UserID: "u1", Kind: KindReading})
		require.NoError(t, err)
		clock.advance(time.Minute)
		_, _, err = svc.Stop(context.Background(), "u1", started.ID)
		require.NoError(t, err)
		clock.advance(time.Minute)
	}

	running, err := svc.Start(context.Background(), StartInput{UserID: "u1", Kind: KindReading})
	require.NoError(t, err)

	items, _, err := svc.History(context.Background(), "u1", KindReading, "", nil, 10)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for i := range items {
		require.True(t, items[i].Completed())
		require.NotEqual(t, running.ID, items[i].ID)
		if i > 0 {
			require.True(t, !items[i].StartedAt.After(items[i-1].StartedAt))
		}
	}
}

func TestClearHistoryKeepsRunningTimer(t *testing.T) {
	svc, clock := newTestService(t)

	started, err := svc.Start(context.Background(), StartInput{UserID: "u1", Kind: KindCleanup})
	require.NoError(t, err)
	clock.advance(time.Minute)
	_, _, err = svc.Stop(context.Background(), "u1", started.ID)
	require.NoError(t, err)

	running, err := svc.Start(context.Background(), StartInput{UserID: "u1", Kind: KindCleanup})
	require.NoError(t, err)

	deleted, err := svc.ClearHistory(context.Background(), "u1", KindCleanup)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	open, err := svc.Open(context.Background(), "u1", KindCleanup, "")
	require.NoError(t, err)
	require.Equal(t, running.ID, open.ID)
}

func TestAttachPhotosFlagsImprovement(t *testing.T) {
	svc, clock := newTestService(t)

	started, err := svc.Start(context.Background(), StartInput{UserID: "u1", Kind: KindCleanup})
	require.NoError(t, err)
	clock.advance(time.Minute)
	_, _, err = svc.Stop(context.Background(), "u1", started.ID)
	require.NoError(t, err)

	updated, err := svc.AttachPhotos(context.Background(), "u1", started.ID, []byte("score:100"), []byte("score:80"))
	require.NoError(t, err)
	require.NotNil(t, updated.Improved)
	require.True(t, *updated.Improved)
	require.Equal(t, 100, *updated.BeforeScore)
	require.Equal(t, 80, *updated.AfterScore)

	// A drop of exactly 10% does not count as improved.
	updated, err = svc.AttachPhotos(context.Background(), "u1", started.ID, []byte("score:100"), []byte("score:90"))
	require.NoError(t, err)
	require.False(t, *updated.Improved)
}

func newTestService(t *testing.T) (*Service, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, time.March, 3, 6, 0, 0, 0, time.UTC)}
	svc := NewService(newMemoryRepository(), fakeScorer{}, time.UTC)
	svc.now = clock.Now
	return svc, clock
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }
func (c *fakeClock) set(now time.Time)       { c.now = now }

// fakeScorer reads the score from a "score:N" payload.
type fakeScorer struct{}

func (fakeScorer) Score(data []byte) (int, error) {
	var score int
	if _, err := fmt.Sscanf(string(data), "score:%d", &score); err != nil {
		return 0, err
	}
	return score, nil
}

// memoryRepository is an in-memory TimerRepository honouring the same
// conditional-write semantics the Postgres unique index provides.
type memoryRepository struct {
	records map[string]TimerRecord
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{records: make(map[string]TimerRecord)}
}

func (m *memoryRepository) Create(_ context.Context, record TimerRecord) error {
	for _, existing := range m.records {
		if existing.UserID == record.UserID && existing.Kind == record.Kind &&
			existing.Subtype == record.Subtype && existing.InProgress {
			return ErrTimerConflict
		}
	}
	m.records[record.ID] = record
	return nil
}

func (m *memoryRepository) Get(_ context.Context, userID, timerID string) (*TimerRecord, error) {
	record, ok := m.records[timerID]
	if !ok || record.UserID != userID {
		return nil, nil
	}
	out := record
	return &out, nil
}

func (m *memoryRepository) FindOpen(_ context.Context, userID string, kind ActivityKind, subtype string) (*TimerRecord, error) {
	for _, record := range m.records {
		if record.UserID == userID && record.Kind == kind && record.Subtype == subtype && record.InProgress {
			out := record
			return &out, nil
		}
	}
	return nil, nil
}

func (m *memoryRepository) Complete(_ context.Context, userID, timerID string, update CompletionUpdate) (*TimerRecord, error) {
	record, ok := m.records[timerID]
	if !ok || record.UserID != userID || !record.InProgress {
		return nil, nil
	}
	ended := update.EndedAt
	record.EndedAt = &ended
	record.InProgress = false
	record.LatenessMinutes = update.LatenessMinutes
	record.UpdatedAt = ended
	m.records[timerID] = record
	out := record
	return &out, nil
}

func (m *memoryRepository) SetPhotoScores(_ context.Context, userID, timerID string, scores PhotoScores) (*TimerRecord, error) {
	record, ok := m.records[timerID]
	if !ok || record.UserID != userID {
		return nil, nil
	}
	before, after, improved := scores.Before, scores.After, scores.Improved
	record.BeforeScore = &before
	record.AfterScore = &after
	record.Improved = &improved
	m.records[timerID] = record
	out := record
	return &out, nil
}

func (m *memoryRepository) ListCompleted(_ context.Context, userID string, kind ActivityKind, subtype string, cursor *Cursor, limit int) ([]TimerRecord, *Cursor, error) {
	results := make([]TimerRecord, 0)
	for _, record := range m.records {
		if record.UserID != userID || record.Kind != kind || record.InProgress {
			continue
		}
		if subtype != "" && record.Subtype != subtype {
			continue
		}
		results = append(results, record)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].StartedAt.After(results[j].StartedAt)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil, nil
}

func (m *memoryRepository) DeleteCompleted(_ context.Context, userID string, kind ActivityKind) (int64, error) {
	var deleted int64
	for id, record := range m.records {
		if record.UserID == userID && record.Kind == kind && !record.InProgress {
			delete(m.records, id)
			deleted++
		}
	}
	return deleted, nil
}
