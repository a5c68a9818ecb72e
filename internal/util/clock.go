package util

import "time"

// Clock abstracts wall-clock time so components that schedule work can be
// driven deterministically in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	AfterFunc(d time.Duration, f func())
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (systemClock) AfterFunc(d time.Duration, f func()) { time.AfterFunc(d, f) }

// SystemClock returns a Clock backed by the real time package.
func SystemClock() Clock { return systemClock{} }
