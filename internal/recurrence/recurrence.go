// Package recurrence parses the supported recurrence-rule grammar and
// computes next fire instants in a trigger's IANA timezone.
//
// Supported grammar (case-insensitive):
//
//	hourly               - one hour after the reference instant
//	daily                - next day, same wall-clock time in the zone
//	weekly               - seven days later, same wall-clock time in the zone
//	every N <unit>       - N minutes/hours/days after the reference instant
//	daily at HH:mm       - next wall-clock HH:mm in the zone strictly after
//	                       the reference instant
//
// Wall-clock rules (daily, weekly, every N days, daily at HH:mm) are computed
// in civil time and then converted to an absolute instant, so a daylight
// saving transition shifts the absolute instant rather than the local clock
// reading. Interval rules (hourly, every N minutes/hours) operate on absolute
// elapsed duration and are unaffected by civil-time shifts.
package recurrence

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind identifies which form of the grammar a rule uses
type Kind string

const (
	KindHourly   Kind = "hourly"
	KindDaily    Kind = "daily"
	KindWeekly   Kind = "weekly"
	KindInterval Kind = "interval"
	KindDailyAt  Kind = "daily_at"
)

// Unit is the interval unit of an "every N <unit>" rule
type Unit string

const (
	UnitMinutes Unit = "minutes"
	UnitHours   Unit = "hours"
	UnitDays    Unit = "days"
)

var (
	everyPattern   = regexp.MustCompile(`^every\s+(\d+)\s+(minutes?|hours?|days?)$`)
	dailyAtPattern = regexp.MustCompile(`^daily\s+at\s+(\d{1,2}):(\d{2})$`)
)

// ParseError indicates a rule string that does not match the grammar. The
// engine never guesses or falls back to a default cadence.
type ParseError struct {
	Rule string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unsupported recurrence rule %q", e.Rule)
}

// Rule is the typed descriptor of a parsed recurrence rule
type Rule struct {
	Kind Kind
	// Every and Unit are set for KindInterval
	Every int
	Unit  Unit
	// Hour and Minute are set for KindDailyAt
	Hour   int
	Minute int
	// Raw is the normalized rule string
	Raw string
}

// Parse converts a rule string into a typed descriptor
func Parse(rule string) (*Rule, error) {
	normalized := strings.ToLower(strings.TrimSpace(rule))

	switch normalized {
	case "hourly":
		return &Rule{Kind: KindHourly, Raw: normalized}, nil
	case "daily":
		return &Rule{Kind: KindDaily, Raw: normalized}, nil
	case "weekly":
		return &Rule{Kind: KindWeekly, Raw: normalized}, nil
	}

	if m := everyPattern.FindStringSubmatch(normalized); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return nil, &ParseError{Rule: rule}
		}
		unit, err := parseUnit(m[2])
		if err != nil {
			return nil, &ParseError{Rule: rule}
		}
		return &Rule{Kind: KindInterval, Every: n, Unit: unit, Raw: normalized}, nil
	}

	if m := dailyAtPattern.FindStringSubmatch(normalized); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if hour > 23 || minute > 59 {
			return nil, &ParseError{Rule: rule}
		}
		return &Rule{Kind: KindDailyAt, Hour: hour, Minute: minute, Raw: normalized}, nil
	}

	return nil, &ParseError{Rule: rule}
}

func parseUnit(s string) (Unit, error) {
	switch strings.TrimSuffix(s, "s") {
	case "minute":
		return UnitMinutes, nil
	case "hour":
		return UnitHours, nil
	case "day":
		return UnitDays, nil
	}
	return "", fmt.Errorf("unknown unit %q", s)
}

// Next computes the first occurrence of the rule strictly after from,
// evaluated in loc
func (r *Rule) Next(from time.Time, loc *time.Location) time.Time {
	switch r.Kind {
	case KindHourly:
		return from.Add(time.Hour)
	case KindDaily:
		return addCivilDays(from, 1, loc)
	case KindWeekly:
		return addCivilDays(from, 7, loc)
	case KindInterval:
		switch r.Unit {
		case UnitMinutes:
			return from.Add(time.Duration(r.Every) * time.Minute)
		case UnitHours:
			return from.Add(time.Duration(r.Every) * time.Hour)
		case UnitDays:
			return addCivilDays(from, r.Every, loc)
		}
	case KindDailyAt:
		local := from.In(loc)
		candidate := time.Date(local.Year(), local.Month(), local.Day(), r.Hour, r.Minute, 0, 0, loc)
		if !candidate.After(from) {
			candidate = time.Date(local.Year(), local.Month(), local.Day()+1, r.Hour, r.Minute, 0, 0, loc)
		}
		return candidate
	}
	// Unreachable for rules produced by Parse
	return from
}

// addCivilDays advances by whole civil days in loc, preserving the wall-clock
// reading across daylight saving transitions
func addCivilDays(from time.Time, days int, loc *time.Location) time.Time {
	local := from.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+days,
		local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), loc)
}

// Next parses rule and computes its first occurrence strictly after from in
// the zone named by timezone
func Next(rule string, from time.Time, loc *time.Location) (time.Time, error) {
	r, err := Parse(rule)
	if err != nil {
		return time.Time{}, err
	}
	return r.Next(from, loc), nil
}

// Validate reports whether rule is in the supported grammar
func Validate(rule string) error {
	_, err := Parse(rule)
	return err
}
