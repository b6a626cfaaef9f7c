package timesheet

import (
	"fmt"
	"time"
)

// DateString formats t as the YYYY-MM-DD partition key used throughout.
func DateString(t time.Time) string {
	return t.Format("2006-01-02")
}

// MinutesToHHMM renders minutes as zero-padded "HH:MM".
func MinutesToHHMM(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// MinutesToDecimal renders minutes as decimal hours with two digits, the
// format used by hour totals in reports.
func MinutesToDecimal(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	return fmt.Sprintf("%.2f", float64(minutes)/60)
}

// ElapsedMinutes returns the whole minutes between start and end, clamped
// to zero when the clock moved backwards.
func ElapsedMinutes(start, end time.Time) int {
	m := int(end.Sub(start).Minutes())
	if m < 0 {
		return 0
	}
	return m
}
