package recurrence

import (
	"errors"
	"testing"
	"time"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("Failed to load location %s: %v", name, err)
	}
	return loc
}

func TestParse_SupportedRules(t *testing.T) {
	cases := []struct {
		rule string
		kind Kind
	}{
		{"hourly", KindHourly},
		{"daily", KindDaily},
		{"weekly", KindWeekly},
		{"every 5 minutes", KindInterval},
		{"every 1 minute", KindInterval},
		{"every 2 hours", KindInterval},
		{"every 3 days", KindInterval},
		{"daily at 09:00", KindDailyAt},
		{"daily at 23:59", KindDailyAt},
	}

	for _, tc := range cases {
		r, err := Parse(tc.rule)
		if err != nil {
			t.Errorf("Parse(%q) failed: %v", tc.rule, err)
			continue
		}
		if r.Kind != tc.kind {
			t.Errorf("Parse(%q) kind = %s, want %s", tc.rule, r.Kind, tc.kind)
		}
	}
}

func TestParse_CaseAndWhitespaceInsensitive(t *testing.T) {
	for _, rule := range []string{"HOURLY", "  Daily  ", "Every 2 Hours", "DAILY AT 9:30"} {
		if _, err := Parse(rule); err != nil {
			t.Errorf("Parse(%q) failed: %v", rule, err)
		}
	}
}

func TestParse_RejectsMalformedRules(t *testing.T) {
	rules := []string{
		"",
		"every banana hours",
		"every 0 minutes",
		"every -5 minutes",
		"every 5 fortnights",
		"daily at 24:00",
		"daily at 12:60",
		"daily at noon",
		"monthly",
		"every hours",
	}

	for _, rule := range rules {
		_, err := Parse(rule)
		if err == nil {
			t.Errorf("Parse(%q) should have failed", rule)
			continue
		}
		var parseErr *ParseError
		if !errors.As(err, &parseErr) {
			t.Errorf("Parse(%q) returned %T, want *ParseError", rule, err)
		}
	}
}

func TestNext_EveryTwoHours(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	next, err := Next("every 2 hours", from, time.UTC)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}

	want := time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestNext_DailyPreservesWallClockAcrossSpringForward(t *testing.T) {
	chicago := mustLoad(t, "America/Chicago")

	// 2024-03-09 09:00 CST; DST starts overnight, so the next civil day's
	// 09:00 is only 23 absolute hours later
	from := time.Date(2024, 3, 9, 9, 0, 0, 0, chicago)

	next, err := Next("daily", from, chicago)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}

	local := next.In(chicago)
	if local.Hour() != 9 || local.Minute() != 0 {
		t.Errorf("Expected 09:00 local, got %02d:%02d", local.Hour(), local.Minute())
	}
	if local.Day() != 10 {
		t.Errorf("Expected March 10, got day %d", local.Day())
	}
	if elapsed := next.Sub(from); elapsed != 23*time.Hour {
		t.Errorf("Expected 23h elapsed across spring-forward, got %s", elapsed)
	}
}

func TestNext_DailyAtAcrossSpringForward(t *testing.T) {
	chicago := mustLoad(t, "America/Chicago")

	// Before the transition the offset is -06:00; after it is -05:00. The
	// rule must land on local 09:00 regardless.
	from := time.Date(2024, 3, 9, 8, 0, 0, 0, chicago)

	next, err := Next("daily at 09:00", from, chicago)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}

	local := next.In(chicago)
	if local.Hour() != 9 || local.Minute() != 0 {
		t.Errorf("Expected 09:00 local, got %02d:%02d", local.Hour(), local.Minute())
	}
	// 08:00 on the 9th is before that day's 09:00, so the occurrence is
	// still on the 9th
	if local.Day() != 9 {
		t.Errorf("Expected March 9, got day %d", local.Day())
	}

	// Advance past it; the following occurrence crosses the DST boundary
	after, err := Next("daily at 09:00", next, chicago)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	afterLocal := after.In(chicago)
	if afterLocal.Hour() != 9 || afterLocal.Day() != 10 {
		t.Errorf("Expected 09:00 on March 10, got %v", afterLocal)
	}
	_, offBefore := next.In(chicago).Zone()
	_, offAfter := after.In(chicago).Zone()
	if offBefore == offAfter {
		t.Error("Expected the UTC offset to change across the transition")
	}
}

func TestNext_DailyAtIsStrictlyAfterReference(t *testing.T) {
	from := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	// Exactly at 09:00: the occurrence must be tomorrow, not now
	next, err := Next("daily at 09:00", from, time.UTC)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	want := time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestNext_DailyAtLaterToday(t *testing.T) {
	from := time.Date(2024, 6, 1, 7, 30, 0, 0, time.UTC)

	next, err := Next("daily at 09:00", from, time.UTC)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	want := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestNext_WeeklyAddsSevenCivilDays(t *testing.T) {
	from := time.Date(2024, 6, 3, 14, 15, 0, 0, time.UTC)

	next, err := Next("weekly", from, time.UTC)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	want := time.Date(2024, 6, 10, 14, 15, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestNext_IntervalMinutes(t *testing.T) {
	from := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	next, err := Next("every 30 minutes", from, time.UTC)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if want := from.Add(30 * time.Minute); !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestNext_InvalidRuleNeverFallsBack(t *testing.T) {
	_, err := Next("every banana hours", time.Now(), time.UTC)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Expected *ParseError, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	if err := Validate("daily at 08:15"); err != nil {
		t.Errorf("Validate rejected a valid rule: %v", err)
	}
	if err := Validate("sometimes"); err == nil {
		t.Error("Validate accepted an invalid rule")
	}
}
