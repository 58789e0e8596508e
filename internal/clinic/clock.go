package clinic

import "time"

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock in UTC.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

// FixedClock always returns t. Useful in tests and simulations.
func FixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}
