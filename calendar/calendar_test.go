package calendar

import (
	"testing"
	"time"
)

func mustParse(t *testing.T, expr string) *Expression {
	t.Helper()
	e, err := Parse(expr)
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", expr, err)
	}
	return e
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("time.Parse(%q): %v", s, err)
	}
	return tm
}

// fixedRand returns n modulo the bound (the zero value always returns 0);
// used where a test doesn't care about R fields.
type fixedRand struct{ n int }

func (f fixedRand) Intn(n int) int { return f.n % n }

func TestDailyShortcut(t *testing.T) {
	// S1
	e := mustParse(t, "daily")
	now := mustTime(t, "2025-01-15T08:42:11Z")
	got, err := e.NextFire(now, fixedRand{})
	if err != nil {
		t.Fatalf("NextFire: %v", err)
	}
	want := mustTime(t, "2025-01-16T00:00:00Z")
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRandomMinuteSecond(t *testing.T) {
	// S2
	e := mustParse(t, "*-*-* 10:R:R")
	now := mustTime(t, "2025-01-15T09:59:59Z")
	got, err := e.NextFire(now, NewSystemRand())
	if err != nil {
		t.Fatalf("NextFire: %v", err)
	}
	if got.Year() != 2025 || got.Month() != time.January || got.Day() != 15 {
		t.Errorf("got date %v, want 2025-01-15", got)
	}
	if got.Hour() != 10 {
		t.Errorf("got hour %d, want 10", got.Hour())
	}
	if got.Minute() < 0 || got.Minute() > 59 {
		t.Errorf("minute %d out of range", got.Minute())
	}
	if got.Second() < 0 || got.Second() > 59 {
		t.Errorf("second %d out of range", got.Second())
	}
}

func TestFirstMonday(t *testing.T) {
	// S3
	e := mustParse(t, "Mon *-*-01..07 00:00:00")
	now := mustTime(t, "2025-01-15T00:00:00Z")
	got, err := e.NextFire(now, fixedRand{})
	if err != nil {
		t.Fatalf("NextFire: %v", err)
	}
	want := mustTime(t, "2025-02-03T00:00:00Z")
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestQuarterlyShortcut(t *testing.T) {
	e := mustParse(t, "quarterly")
	now := mustTime(t, "2025-02-01T00:00:00Z")
	got, err := e.NextFire(now, fixedRand{})
	if err != nil {
		t.Fatalf("NextFire: %v", err)
	}
	want := mustTime(t, "2025-04-01T00:00:00Z")
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMonotonicNextFire(t *testing.T) {
	e := mustParse(t, "*-*-* *:*:*")
	now := mustTime(t, "2025-03-10T12:00:00Z")
	first, err := e.NextFire(now, fixedRand{})
	if err != nil {
		t.Fatalf("NextFire: %v", err)
	}
	if !first.After(now) {
		t.Errorf("next_fire(t) = %v, want > %v", first, now)
	}
	second, err := e.NextFire(first, fixedRand{})
	if err != nil {
		t.Fatalf("NextFire: %v", err)
	}
	if !second.After(first) {
		t.Errorf("next_fire(next_fire(t)) = %v, want > %v", second, first)
	}
}

func TestOutOfRangeRejected(t *testing.T) {
	if _, err := Parse("*-13-* 00:00:00"); err == nil {
		t.Fatal("expected ParseError for month 13")
	}
}

func TestUnknownShortcutFallsThroughToParseError(t *testing.T) {
	if _, err := Parse("bogus-shortcut"); err == nil {
		t.Fatal("expected parse error for malformed expression")
	}
}

func TestInvertedRangeRejected(t *testing.T) {
	if _, err := Parse("*-*-10..5 00:00:00"); err == nil {
		t.Fatal("expected ParseError for inverted range")
	}
}

func TestNoFutureFire(t *testing.T) {
	e := mustParse(t, "2199-01-01 00:00:00")
	now := mustTime(t, "2199-01-01T00:00:01Z")
	_, err := e.NextFire(now, fixedRand{})
	if err != ErrNoFutureFire {
		t.Fatalf("got err %v, want ErrNoFutureFire", err)
	}
}
