// Package conditions generates the "Current Conditions" section of the
// system prompt. Scheduling stages need today's date to resolve replies
// such as "monday" or "tomorrow", and the booking window to avoid
// offering times the validators will reject.
package conditions

import (
	"fmt"
	"strings"
	"time"

	"github.com/nugget/stagehand/internal/validate"
)

// CurrentConditions returns a formatted "# Current Conditions" section
// for now. The timezone parameter should be an IANA timezone name
// (e.g., "America/Sao_Paulo"). If empty or invalid, now's own location
// is used.
func CurrentConditions(now time.Time, timezone string, hours validate.BusinessHours) string {
	var sb strings.Builder

	sb.WriteString("# Current Conditions\n\n")

	tzResolved := false
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err == nil {
			now = now.In(loc)
			tzResolved = true
		}
	}
	zoneName, _ := now.Zone()

	// Format: Thursday, October 15, 2026 at 09:30 BRT (America/Sao_Paulo)
	sb.WriteString("**Time:** ")
	sb.WriteString(now.Format("Monday, January 2, 2006 at 15:04 "))
	sb.WriteString(zoneName)
	if tzResolved && timezone != zoneName {
		sb.WriteString(" (")
		sb.WriteString(timezone)
		sb.WriteString(")")
	}
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "**Booking hours:** %s to %s", FormatClock(hours.Start), FormatClock(hours.End))

	return sb.String()
}

// FormatClock renders minutes after midnight as "HH:MM".
func FormatClock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
