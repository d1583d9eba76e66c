package telemetry

import "time"

// #region latest
// Latest holds the last known-good reading of one stream.
//
// Merge rule: a successful read replaces the held value; any failed read
// keeps it. Before the first successful read a failed read yields ErrNoData.
// With a non-zero maxAge, a held value not refreshed for longer than maxAge
// yields ErrExpired alongside the stale value.
type Latest[T any] struct {
	value     T
	ok        bool
	refreshed time.Time
	maxAge    time.Duration
}

// NewLatest creates an empty holder. maxAge 0 disables expiry.
func NewLatest[T any](maxAge time.Duration) *Latest[T] {
	return &Latest[T]{maxAge: maxAge}
}

// Merge folds a read result into the holder and returns the value to act on.
func (l *Latest[T]) Merge(v T, err error, now time.Time) (T, error) {
	if err == nil {
		l.value = v
		l.ok = true
		l.refreshed = now
		return v, nil
	}
	if !l.ok {
		var zero T
		return zero, ErrNoData
	}
	if l.maxAge > 0 && now.Sub(l.refreshed) > l.maxAge {
		return l.value, ErrExpired
	}
	return l.value, nil
}

// Get returns the held value, if any.
func (l *Latest[T]) Get() (T, bool) {
	return l.value, l.ok
}

// Age reports how long ago the held value was refreshed.
func (l *Latest[T]) Age(now time.Time) time.Duration {
	if !l.ok {
		return 0
	}
	return now.Sub(l.refreshed)
}

// #endregion latest
