package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	// StoredTimestampLayout is the fixed-width form written to the session store.
	// Fixed width keeps lexical and chronological order identical.
	StoredTimestampLayout = "2006-01-02T15:04:05.000000Z"

	// DisplayLayout renders instants for people.
	DisplayLayout = "2006-01-02 15:04:05"
)

// DisplayZone is the fixed UTC+05:30 offset applied at read time only.
var DisplayZone = time.FixedZone("IST", 5*60*60+30*60)

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// FormatStored renders t in the canonical stored form.
func FormatStored(t time.Time) string {
	return t.UTC().Format(StoredTimestampLayout)
}

// ParseStored reads a session-store timestamp. Values with an explicit zone
// (trailing Z or an offset) are honoured; naive values are taken as UTC.
func ParseStored(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	// Older rows were written with a space separator and an offset.
	if t, err := time.Parse("2006-01-02 15:04:05.999999999-07:00", value); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}

// FormatDisplay renders t in the display timezone.
func FormatDisplay(t time.Time) string {
	return t.In(DisplayZone).Format(DisplayLayout)
}
