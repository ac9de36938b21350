package domain

import (
	"testing"
	"time"
)

func TestParseDateRoundTrip(t *testing.T) {
	d, err := ParseDate(" 2025-02-01 ")
	if err != nil {
		t.Fatalf("ParseDate: %v", err)
	}
	if d.String() != "2025-02-01" {
		t.Fatalf("unexpected string %q", d.String())
	}
	if d.Weekday() != time.Saturday {
		t.Fatalf("expected saturday, got %s", d.Weekday())
	}
}

func TestParseDateRejectsGarbage(t *testing.T) {
	if _, err := ParseDate("01/02/2025"); err == nil {
		t.Fatalf("expected error for non ISO date")
	}
}

func TestDateCompare(t *testing.T) {
	jan31 := Date{Year: 2025, Month: time.January, Day: 31}
	feb1 := Date{Year: 2025, Month: time.February, Day: 1}
	if !jan31.Before(feb1) || !feb1.After(jan31) {
		t.Fatalf("expected jan31 < feb1")
	}
	if jan31.Compare(jan31) != 0 {
		t.Fatalf("expected equal dates to compare 0")
	}
}

func TestDateOfUsesLocation(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	instant := time.Date(2025, 1, 31, 20, 0, 0, 0, time.UTC)
	if got := DateOf(instant.In(loc)); got.String() != "2025-02-01" {
		t.Fatalf("expected local date 2025-02-01, got %s", got)
	}
}
