// Package timezone converts contest instants into subscriber wall-clock time.
package timezone

import (
	"errors"
	"fmt"
	"strings"
	"time"

	// Embed the IANA database so zone validation does not depend on the host.
	_ "time/tzdata"
)

// ErrInvalidTimezone is returned for identifiers outside the IANA zone set.
var ErrInvalidTimezone = errors.New("invalid timezone")

// Reference points users at the canonical zone list.
const Reference = "https://en.wikipedia.org/wiki/List_of_tz_database_time_zones"

// Load resolves an IANA identifier. "Local" and the empty string are rejected
// because their meaning depends on the host.
func Load(id string) (*time.Location, error) {
	id = strings.TrimSpace(id)
	if id == "" || id == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, id)
	}
	loc, err := time.LoadLocation(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, id)
	}
	return loc, nil
}

// Validate reports whether id is a usable IANA identifier.
func Validate(id string) error {
	_, err := Load(id)
	return err
}

// Convert maps a UTC instant into the given zone.
func Convert(t time.Time, id string) (time.Time, error) {
	loc, err := Load(id)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(loc), nil
}

// HoursUntil returns the fractional hours from now until t; negative once t has passed.
func HoursUntil(t, now time.Time) float64 {
	return t.Sub(now).Hours()
}

// Offset renders the zone offset of t as "UTC", "UTC+05:30" or "UTC-04:00".
func Offset(t time.Time) string {
	_, secs := t.Zone()
	if secs == 0 {
		return "UTC"
	}
	sign := '+'
	if secs < 0 {
		sign = '-'
		secs = -secs
	}
	return fmt.Sprintf("UTC%c%02d:%02d", sign, secs/3600, (secs%3600)/60)
}
