package utils

import "time"

type ReconnectStrategy interface {
	NextDelay() time.Duration
	Reset()
}

var _ ReconnectStrategy = (*ExponentialBackoff)(nil)

type ExponentialBackoff struct {
	initialDelay time.Duration
	currentDelay time.Duration
	maxDelay     time.Duration
}

// NewExponentialBackoff 从initial开始每次翻倍，不超过maxDelay
func NewExponentialBackoff(initial, maxDelay time.Duration) *ExponentialBackoff {
	if initial <= 0 {
		initial = 1 * time.Second
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	return &ExponentialBackoff{
		initialDelay: initial,
		currentDelay: initial,
		maxDelay:     maxDelay,
	}
}

func (e *ExponentialBackoff) NextDelay() time.Duration {
	delay := e.currentDelay
	e.currentDelay *= 2
	if e.currentDelay > e.maxDelay {
		e.currentDelay = e.maxDelay
	}
	return delay
}

// Reset 连接成功后回到初始延迟
func (e *ExponentialBackoff) Reset() {
	e.currentDelay = e.initialDelay
}
