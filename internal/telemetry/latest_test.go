package telemetry

import (
	"errors"
	"testing"
	"time"
)

func TestLatest_EmptyReportsNoData(t *testing.T) {
	l := NewLatest[RadarMeasurement](0)
	_, err := l.Merge(RadarMeasurement{}, ErrNoData, time.Unix(0, 0))
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	if _, ok := l.Get(); ok {
		t.Fatal("expected empty holder")
	}
}

func TestLatest_FallbackKeepsLastGood(t *testing.T) {
	l := NewLatest[RadarMeasurement](0)
	t0 := time.Unix(100, 0)
	good := RadarMeasurement{Timestamp: "10:00:00:000", EstimatedAngle: 12.5}

	if _, err := l.Merge(good, nil, t0); err != nil {
		t.Fatalf("merge good: %v", err)
	}
	got, err := l.Merge(RadarMeasurement{}, ErrNoData, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("unbounded fallback should not fail: %v", err)
	}
	if got != good {
		t.Fatalf("expected fallback %+v, got %+v", good, got)
	}

	// Any read error falls back the same way.
	got, err = l.Merge(RadarMeasurement{}, errors.New("disk gone"), t0.Add(2*time.Hour))
	if err != nil || got != good {
		t.Fatalf("expected fallback on read error, got %+v, %v", got, err)
	}
}

func TestLatest_ExpiredFallback(t *testing.T) {
	l := NewLatest[CommMeasurement](time.Second)
	t0 := time.Unix(100, 0)
	good := CommMeasurement{Timestamp: "a", PER: 3}
	l.Merge(good, nil, t0)

	if _, err := l.Merge(CommMeasurement{}, ErrNoData, t0.Add(500*time.Millisecond)); err != nil {
		t.Fatalf("within max age: %v", err)
	}
	got, err := l.Merge(CommMeasurement{}, ErrNoData, t0.Add(2*time.Second))
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if got != good {
		t.Fatalf("expired merge should still return held value, got %+v", got)
	}
	if age := l.Age(t0.Add(2 * time.Second)); age != 2*time.Second {
		t.Fatalf("expected age 2s, got %s", age)
	}

	// A fresh read clears expiry.
	fresh := CommMeasurement{Timestamp: "b"}
	if _, err := l.Merge(fresh, nil, t0.Add(3*time.Second)); err != nil {
		t.Fatalf("fresh merge: %v", err)
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2026, 1, 2, 22, 10, 39, 1_500_000, time.UTC)
	if got := FormatTimestamp(ts); got != "22:10:39:001" {
		t.Fatalf("expected 22:10:39:001, got %s", got)
	}
}
