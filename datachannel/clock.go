package datachannel

import "time"

type timer interface {
	Stop() bool
}

type clock interface {
	AfterFunc(d time.Duration, fn func()) timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, fn func()) timer {
	return time.AfterFunc(d, fn)
}
