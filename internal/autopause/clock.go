package autopause

import "time"

// Timer is a pending one-shot callback
type Timer interface {
	Stop() bool
}

// Clock schedules delayed callbacks. Tests replace it with a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
