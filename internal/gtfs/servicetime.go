package gtfs

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ServiceTime is a GTFS time of day in seconds since midnight of the service
// day. Values >= 86400 are valid and mean "after midnight, still the previous
// service day" (the standard convention for late-night trips), so 26:30:00 is
// 2:30 AM on the calendar day after the service day start, not 2:30 AM today.
type ServiceTime int

// ParseError describes a malformed GTFS time string.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid service time %q: %s", e.Input, e.Reason)
}

// ParseServiceTime parses "HH:MM:SS" with unbounded hours >= 0. Minutes and
// seconds must be in [0,59] even when the hour overflows 24.
func ParseServiceTime(s string) (ServiceTime, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, &ParseError{Input: s, Reason: "want exactly HH:MM:SS"}
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, &ParseError{Input: s, Reason: "non-numeric hours"}
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, &ParseError{Input: s, Reason: "non-numeric minutes"}
	}
	sec, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, &ParseError{Input: s, Reason: "non-numeric seconds"}
	}
	if h < 0 {
		return 0, &ParseError{Input: s, Reason: "negative hours"}
	}
	if m < 0 || m > 59 {
		return 0, &ParseError{Input: s, Reason: "minutes outside [0,59]"}
	}
	if sec < 0 || sec > 59 {
		return 0, &ParseError{Input: s, Reason: "seconds outside [0,59]"}
	}
	return ServiceTime(h*3600 + m*60 + sec), nil
}

// Hours returns the raw hour component, which can be >= 24 for late-night trips.
func (t ServiceTime) Hours() int { return int(t) / 3600 }

// Seconds returns the total seconds since midnight of the service day.
func (t ServiceTime) Seconds() int { return int(t) }

// String formats the time back to zero-padded HH:MM:SS, keeping hours >= 24 as-is.
func (t ServiceTime) String() string {
	sec := int(t)
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, (sec/60)%60, sec%60)
}

// MarshalJSON renders the HH:MM:SS form.
func (t ServiceTime) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.String())), nil
}

// UnmarshalJSON accepts the HH:MM:SS form.
func (t *ServiceTime) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return err
	}
	v, err := ParseServiceTime(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Absolute converts the service time to an instant relative to the given
// service day start.
func (t ServiceTime) Absolute(serviceDayStart time.Time) time.Time {
	return serviceDayStart.Add(time.Duration(t) * time.Second)
}

// MinutesUntilArrival returns the whole minutes between now and the scheduled
// time adjusted by delaySec. The scheduled time is first anchored at
// hours%24 on now's calendar day; if that instant has already passed and the
// schedule uses a late-night hour (>= 24), it is re-anchored hours/24 days
// later, so a 26:30:00 trip observed at 02:00 counts down to 02:30 the next
// calendar day instead of reading as overdue. With clamp, negative (overdue)
// results floor to 0.
func MinutesUntilArrival(scheduled ServiceTime, delaySec int, now time.Time, clamp bool) int {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	wallSec := scheduled.Seconds() % 86400
	at := midnight.Add(time.Duration(wallSec)*time.Second + time.Duration(delaySec)*time.Second)
	if at.Before(now) && scheduled.Hours() >= 24 {
		at = at.AddDate(0, 0, scheduled.Hours()/24)
	}
	mins := int(at.Sub(now) / time.Minute)
	if clamp && mins < 0 {
		return 0
	}
	return mins
}

// PercentTraveled is the fraction of the trip shape covered at the given
// cumulative distance.
func PercentTraveled(distanceAtStop, totalShapeDistance float64) (float64, error) {
	if totalShapeDistance == 0 {
		return 0, fmt.Errorf("percent traveled: zero total shape distance")
	}
	return distanceAtStop / totalShapeDistance, nil
}
