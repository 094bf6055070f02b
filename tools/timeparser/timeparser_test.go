package timeparser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExportTimestamp_ExportLayout(t *testing.T) {
	result, err := ParseExportTimestamp("2025-12-18 06:00:00 -0600")
	require.NoError(t, err)

	expected := time.Date(2025, 12, 18, 12, 0, 0, 0, time.UTC)
	assert.True(t, result.Equal(expected), "got %v", result)
}

func TestParseExportTimestamp_RFC3339(t *testing.T) {
	result, err := ParseExportTimestamp("2025-12-29T10:30:45Z")
	require.NoError(t, err)
	assert.True(t, result.Equal(time.Date(2025, 12, 29, 10, 30, 45, 0, time.UTC)))
}

func TestParseExportTimestamp_FractionalSeconds(t *testing.T) {
	result, err := ParseExportTimestamp("2025-12-29T10:30:45.250Z")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, time.Duration(result.Nanosecond()))
}

func TestParseExportTimestamp_NoOffset(t *testing.T) {
	result, err := ParseExportTimestamp("2025-12-29 10:30:45")
	require.NoError(t, err)
	assert.True(t, result.Equal(time.Date(2025, 12, 29, 10, 30, 45, 0, time.UTC)))
}

func TestParseExportTimestamp_Invalid(t *testing.T) {
	_, err := ParseExportTimestamp("invalid-date-string")
	require.Error(t, err)
}

func TestLocalDate(t *testing.T) {
	cases := map[string]string{
		"2025-12-18 23:00:00 -0600": "2025-12-18",
		"2025-12-18T23:00:00-06:00": "2025-12-18",
		"2025-12-18":                "2025-12-18",
	}
	for in, want := range cases {
		got, err := LocalDate(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestLocalDate_NoConversion(t *testing.T) {
	// 23:00 at -0600 is the next day in UTC; the local date must win.
	got, err := LocalDate("2025-12-18 23:00:00 -0600")
	require.NoError(t, err)
	assert.Equal(t, "2025-12-18", got)
}

func TestLocalDate_Invalid(t *testing.T) {
	_, err := LocalDate("12/18/25")
	require.Error(t, err)

	_, err = LocalDate("")
	require.Error(t, err)
}

func TestMiddayUTC(t *testing.T) {
	got, err := MiddayUTC("2025-12-18")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 12, 18, 12, 0, 0, 0, time.UTC), got)
}

func TestFloorMinute(t *testing.T) {
	in := time.Date(2025, 12, 18, 6, 14, 59, 900, time.UTC)
	assert.Equal(t, time.Date(2025, 12, 18, 6, 14, 0, 0, time.UTC), FloorMinute(in))
}
