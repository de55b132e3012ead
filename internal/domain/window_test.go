package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewWindowIsInclusiveOfLastDay(t *testing.T) {
	w, err := NewWindow("2024-01-01", "2024-01-14", time.UTC)
	require.NoError(t, err)

	require.True(t, w.Contains(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.True(t, w.Contains(time.Date(2024, 1, 14, 23, 59, 59, 0, time.UTC)))
	require.False(t, w.Contains(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)))
	require.False(t, w.Contains(time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC)))

	require.Equal(t, "2024-01-01", w.FirstDay())
	require.Equal(t, "2024-01-14", w.LastDay())
	require.Equal(t, "2024-01-01..2024-01-14", w.String())
}

func TestNewWindowRejectsInvertedRange(t *testing.T) {
	_, err := NewWindow("2024-01-14", "2024-01-01", time.UTC)
	require.Error(t, err)

	_, err = NewWindow("jan 1", "2024-01-01", time.UTC)
	require.Error(t, err)
}

func TestWindowDayKeyUsesCampaignZone(t *testing.T) {
	loc := time.FixedZone("EST", -5*60*60)
	w, err := NewWindow("2024-01-01", "2024-01-14", loc)
	require.NoError(t, err)

	// 03:00 UTC on the 6th is still the 5th in EST
	require.Equal(t, "2024-01-05", w.DayKey(time.Date(2024, 1, 6, 3, 0, 0, 0, time.UTC)))
}

func TestValidationErrorMatchesSentinel(t *testing.T) {
	err := NewValidationError("invalid payload", map[string]string{"distance": "is required", "date": "is required"})
	require.ErrorIs(t, err, ErrValidation)
	require.Equal(t, "invalid payload: date is required, distance is required", err.Error())
}

func TestRefreshErrorUnwraps(t *testing.T) {
	cause := ErrTransient
	err := &RefreshError{AccountID: 7, Err: cause}
	require.ErrorIs(t, err, ErrRefresh)
	require.ErrorIs(t, err, ErrTransient)
	require.True(t, IsTransient(err))
}
