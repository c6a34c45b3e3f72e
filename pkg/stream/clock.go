package stream

import "time"

// Clock schedules the retry and heartbeat timers.
type Clock interface {
	// AfterFunc calls f once after d. The returned stop function cancels the
	// call if it has not started yet and reports whether it did so.
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// RealClock is the Clock backed by the time package.
var RealClock Clock = realClock{}
