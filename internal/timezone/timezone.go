// Package timezone resolves mailbox time zone names and computes the
// calendar-week window the inbox view is scoped to.
package timezone

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/jinzhu/now"

	"mailview/internal/models"
)

// ErrUnknownZone is returned when a name is neither a Windows nor an IANA zone.
var ErrUnknownZone = errors.New("unknown time zone")

// FindIANA returns the IANA zones for a Windows zone id, canonical zone
// first. Matching ignores case and surrounding space; unknown ids return nil.
func FindIANA(windowsName string) []string {
	name := strings.TrimSpace(windowsName)
	if zones, ok := windowsZones[name]; ok {
		return append([]string(nil), zones...)
	}
	for k, zones := range windowsZones {
		if strings.EqualFold(k, name) {
			return append([]string(nil), zones...)
		}
	}
	return nil
}

// Resolve maps a Windows zone id (or an IANA name) to a *time.Location.
func Resolve(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrUnknownZone)
	}
	if zones := FindIANA(name); len(zones) > 0 {
		loc, err := time.LoadLocation(zones[0])
		if err != nil {
			return nil, fmt.Errorf("load %s for %q: %w", zones[0], name, err)
		}
		return loc, nil
	}
	// Graph may already hand back an IANA id when the mailbox was configured
	// from a non-Windows client. "Local" is never a user zone.
	if name != "Local" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownZone, name)
}

// WeekOf returns the week containing t as seen in loc. Start is the first
// instant of Sunday in loc and End is the first instant of the following
// Sunday; both are returned in UTC. The window is seven calendar days rather
// than a flat 168h, so a week containing a DST change lasts 167h or 169h and
// consecutive weeks always meet. Where DST begins at midnight and Sunday 00:00
// does not exist, the week starts at 01:00 local.
func WeekOf(t time.Time, loc *time.Location) models.Window {
	if loc == nil {
		loc = time.UTC
	}
	// Find the Sunday on the civil calendar, away from any zone transition.
	y, m, d := t.In(loc).Date()
	cal := &now.Config{WeekStartDay: time.Sunday, TimeLocation: time.UTC}
	sunday := cal.With(time.Date(y, m, d, 0, 0, 0, 0, time.UTC)).BeginningOfWeek()

	start := startOfDay(sunday, loc)
	end := startOfDay(sunday.AddDate(0, 0, 7), loc)
	return models.Window{
		Start:    start.UTC(),
		End:      end.UTC(),
		Location: loc.String(),
	}
}

// startOfDay returns the first instant in loc of the civil date of day.
func startOfDay(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.Date()
	t := time.Date(y, m, d, 0, 0, 0, 0, loc)
	if ty, tm, td := t.Date(); ty == y && tm == m && td == d {
		return t
	}
	// Midnight fell into a DST gap and was normalized onto the previous day;
	// the day begins where that zone period ends.
	if _, next := t.ZoneBounds(); !next.IsZero() {
		return next
	}
	return t
}
