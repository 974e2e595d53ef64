// Package events defines the payloads emitted through the transactional outbox.
package events

import "time"

// TimerStarted represents the message emitted when a timer begins running.
type TimerStarted struct {
	TimerID    string    `json:"timer_id"`
	UserID     string    `json:"user_id"`
	Kind       string    `json:"activity_kind"`
	Subtype    string    `json:"subtype,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	ExpectedAt string    `json:"expected_at,omitempty"`
}

// TimerCompleted represents the message emitted when a timer stops, carrying
// the derived fields computed at completion.
type TimerCompleted struct {
	TimerID         string    `json:"timer_id"`
	UserID          string    `json:"user_id"`
	Kind            string    `json:"activity_kind"`
	Subtype         string    `json:"subtype,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	DurationSeconds int64     `json:"duration_seconds"`
	LatenessMinutes *int      `json:"lateness_minutes,omitempty"`
}
