// Package domain defines the business logic for the routine timer service.
package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimerConflict indicates a timer is already running for the same activity key.
	ErrTimerConflict = errors.New("timer already running for activity key")
	// ErrTimerNotFound is returned when a timer cannot be located.
	ErrTimerNotFound = errors.New("timer not found")
	// ErrUnknownKind is returned for activity kinds outside the deployment catalog.
	ErrUnknownKind = errors.New("unknown activity kind")
)

// ActivityKind is the category of tracked behaviour. The catalog is fixed per
// deployment, not user-extensible.
type ActivityKind string

const (
	KindSleep   ActivityKind = "sleep"
	KindMeal    ActivityKind = "meal"
	KindCommute ActivityKind = "commute"
	KindCoding  ActivityKind = "coding"
	KindShower  ActivityKind = "shower"
	KindReading ActivityKind = "reading"
	KindUrge    ActivityKind = "urge"
	KindPayment ActivityKind = "payment"
	KindCleanup ActivityKind = "cleanup"
)

var knownKinds = map[ActivityKind]struct{}{
	KindSleep:   {},
	KindMeal:    {},
	KindCommute: {},
	KindCoding:  {},
	KindShower:  {},
	KindReading: {},
	KindUrge:    {},
	KindPayment: {},
	KindCleanup: {},
}

// ValidKind reports whether the kind belongs to the deployment catalog.
func ValidKind(kind ActivityKind) bool {
	_, ok := knownKinds[kind]
	return ok
}

// TimerRecord is one occurrence of a tracked activity. It moves through two
// live states: running (EndedAt nil, InProgress true) and completed. StartedAt
// is set once at creation and never mutated; EndedAt is set exactly once when
// the timer stops.
type TimerRecord struct {
	ID         string
	UserID     string
	Kind       ActivityKind
	Subtype    string
	StartedAt  time.Time
	EndedAt    *time.Time
	InProgress bool

	// Commute only: expected arrival as "HH:MM" wall clock, supplied at start.
	ExpectedAt string
	// Commute only, set at stop. Positive means late, zero or negative means
	// on time. Computed from time-of-day alone, so a commute that crosses
	// midnight gets a wrong sign; known limitation carried over from the
	// original tracker.
	LatenessMinutes *int

	// Payment only.
	Amount *int64
	Reason string

	// Cleanup only, set when before/after photos are attached.
	BeforeScore *int
	AfterScore  *int
	Improved    *bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Completed reports whether the record reached its terminal archival state.
func (r *TimerRecord) Completed() bool {
	return !r.InProgress && r.EndedAt != nil
}

// Duration returns EndedAt - StartedAt for a completed record, zero otherwise.
func (r *TimerRecord) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// OnTime reports whether a completed commute arrived at or before the
// expected time. False when lateness was never computed.
func (r *TimerRecord) OnTime() bool {
	return r.LatenessMinutes != nil && *r.LatenessMinutes <= 0
}

// Elapsed is the wall-clock time a running record has been open. It is a pure
// function of the stored StartedAt and the supplied now, so callers can
// re-render it on any cadence without the service holding state.
func Elapsed(r *TimerRecord, now time.Time) time.Duration {
	if r.Completed() {
		return r.Duration()
	}
	d := now.Sub(r.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// ParseExpectedAt validates the "HH:MM" expected arrival format.
func ParseExpectedAt(value string) error {
	if _, err := time.Parse("15:04", value); err != nil {
		return fmt.Errorf("expected_at must be HH:MM: %v", err)
	}
	return nil
}

// Lateness computes signed minutes between the arrival instant and the
// expected "HH:MM" wall clock, both taken as time-of-day in loc. The date is
// deliberately ignored; see the field comment on LatenessMinutes.
func Lateness(arrivedAt time.Time, expectedAt string, loc *time.Location) (int, error) {
	expected, err := time.Parse("15:04", expectedAt)
	if err != nil {
		return 0, fmt.Errorf("expected_at must be HH:MM: %v", err)
	}

	local := arrivedAt.In(loc)
	arrivalSec := local.Hour()*3600 + local.Minute()*60 + local.Second()
	expectedSec := expected.Hour()*3600 + expected.Minute()*60

	diff := float64(arrivalSec-expectedSec) / 60.0
	if diff >= 0 {
		return int(diff + 0.5), nil
	}
	return int(diff - 0.5), nil
}
