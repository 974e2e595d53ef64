package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLatenessLateArrival(t *testing.T) {
	loc, err := time.LoadLocation("America/Bogota")
	require.NoError(t, err)

	arrived := time.Date(2025, time.March, 3, 7, 10, 0, 0, loc)
	minutes, err := Lateness(arrived, "07:00", loc)
	require.NoError(t, err)
	require.Equal(t, 10, minutes)
}

func TestLatenessEarlyArrival(t *testing.T) {
	loc, err := time.LoadLocation("America/Bogota")
	require.NoError(t, err)

	arrived := time.Date(2025, time.March, 3, 6, 55, 0, 0, loc)
	minutes, err := Lateness(arrived, "07:00", loc)
	require.NoError(t, err)
	require.Equal(t, -5, minutes)

	record := TimerRecord{LatenessMinutes: &minutes}
	require.True(t, record.OnTime())
}

func TestLatenessExactArrivalIsOnTime(t *testing.T) {
	arrived := time.Date(2025, time.March, 3, 7, 0, 0, 0, time.UTC)
	minutes, err := Lateness(arrived, "07:00", time.UTC)
	require.NoError(t, err)
	require.Equal(t, 0, minutes)

	record := TimerRecord{LatenessMinutes: &minutes}
	require.True(t, record.OnTime())
}

func TestLatenessRoundsSeconds(t *testing.T) {
	arrived := time.Date(2025, time.March, 3, 7, 10, 31, 0, time.UTC)
	minutes, err := Lateness(arrived, "07:00", time.UTC)
	require.NoError(t, err)
	require.Equal(t, 11, minutes)
}

func TestLatenessUsesConfiguredTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/Bogota")
	require.NoError(t, err)

	// 12:10 UTC is 07:10 in Bogota.
	arrived := time.Date(2025, time.March, 3, 12, 10, 0, 0, time.UTC)
	minutes, err := Lateness(arrived, "07:00", loc)
	require.NoError(t, err)
	require.Equal(t, 10, minutes)
}

func TestLatenessRejectsBadExpectedAt(t *testing.T) {
	_, err := Lateness(time.Now(), "7am", time.UTC)
	require.Error(t, err)
}

func TestElapsedIsDeterministicAndMonotonic(t *testing.T) {
	started := time.Date(2025, time.March, 3, 6, 0, 0, 0, time.UTC)
	record := &TimerRecord{StartedAt: started, InProgress: true}

	now := started.Add(90 * time.Second)
	require.Equal(t, 90*time.Second, Elapsed(record, now))
	require.Equal(t, 90*time.Second, Elapsed(record, now))

	later := now.Add(30 * time.Second)
	require.GreaterOrEqual(t, Elapsed(record, later), Elapsed(record, now))
}

func TestElapsedOfCompletedRecordIsItsDuration(t *testing.T) {
	started := time.Date(2025, time.March, 3, 6, 0, 0, 0, time.UTC)
	ended := started.Add(45 * time.Minute)
	record := &TimerRecord{StartedAt: started, EndedAt: &ended, InProgress: false}

	require.Equal(t, 45*time.Minute, Elapsed(record, ended.Add(time.Hour)))
}

func TestValidKind(t *testing.T) {
	require.True(t, ValidKind(KindMeal))
	require.True(t, ValidKind(KindCommute))
	require.False(t, ValidKind("gardening"))
}
