package core

import (
	"context"
	"time"
)

// Handoff 两个线程之间容量为1的帧交接。
// 生产者从不阻塞：已有未消费的帧时用新帧替换旧帧，
// 因此任何时刻最多只有一帧在途，也不会重排。
type Handoff struct {
	ch chan []byte
}

func NewHandoff() *Handoff {
	return &Handoff{ch: make(chan []byte, 1)}
}

// Put 复制并投递一帧，返回是否替换掉了一个未消费的旧帧。
// 每个Handoff只允许一个生产者。
func (h *Handoff) Put(frame []byte) (displaced bool) {
	buf := make([]byte, len(frame))
	copy(buf, frame)

	for {
		select {
		case h.ch <- buf:
			return displaced
		default:
		}
		select {
		case <-h.ch:
			displaced = true
		default:
		}
	}
}

// Wait 等待一帧，最多等待timeout；超时返回ErrSyncTimeout
func (h *Handoff) Wait(ctx context.Context, timeout time.Duration) ([]byte, error) {
	select {
	case frame := <-h.ch:
		return frame, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame := <-h.ch:
		return frame, nil
	case <-timer.C:
		return nil, ErrSyncTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryTake 非阻塞地取出一帧
func (h *Handoff) TryTake() ([]byte, bool) {
	select {
	case frame := <-h.ch:
		return frame, true
	default:
		return nil, false
	}
}

// Drain 丢弃未消费的帧，返回是否丢弃了数据
func (h *Handoff) Drain() bool {
	_, ok := h.TryTake()
	return ok
}
