package timeparser

import (
	"fmt"
	"strings"
	"time"
)

// ExportLayout is the exporter's native timestamp form, e.g. "2025-12-18 06:00:00 -0600".
const ExportLayout = "2006-01-02 15:04:05 -0700"

// ParseExportTimestamp attempts to parse an exporter timestamp with multiple formats.
// Offsets are honoured; strings without one are read as UTC.
func ParseExportTimestamp(dateStr string) (time.Time, error) {
	formats := []string{
		ExportLayout,
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
	}

	dateStr = strings.TrimSpace(dateStr)

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, dateStr)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", dateStr, lastErr)
}

// LocalDate returns the calendar date prefix of an exporter timestamp exactly as written.
// No timezone conversion happens: the exporter already writes local wall time.
func LocalDate(dateStr string) (string, error) {
	dateStr = strings.TrimSpace(dateStr)
	if len(dateStr) < len("2006-01-02") {
		return "", fmt.Errorf("timestamp '%s' has no date component", dateStr)
	}
	date := dateStr[:len("2006-01-02")]
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return "", fmt.Errorf("timestamp '%s' has no date component: %w", dateStr, err)
	}
	return date, nil
}

// MiddayUTC returns 12:00 UTC on the given calendar date.
func MiddayUTC(date string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date '%s': %w", date, err)
	}
	return d.Add(12 * time.Hour), nil
}

// FloorMinute truncates t to the start of its containing minute.
func FloorMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}
