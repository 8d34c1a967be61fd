package audio

import (
	"sync"
	"time"
)

// SampleRing 固定容量的交错采样FIFO，用于把回调式设备转换为阻塞读写。
// 一端在设备回调中调用，另一端在音频线程中调用。
type SampleRing struct {
	mu     sync.Mutex
	buf    []int16
	start  int
	size   int
	notify chan struct{}
}

func NewSampleRing(capacity int) *SampleRing {
	return &SampleRing{
		buf:    make([]int16, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Write 写入尽可能多的采样，返回写入数量；空间不足时丢弃剩余部分
func (q *SampleRing) Write(p []int16) int {
	q.mu.Lock()
	n := min(len(p), len(q.buf)-q.size)
	end := (q.start + q.size) % len(q.buf)
	first := copy(q.buf[end:], p[:n])
	copy(q.buf, p[first:n])
	q.size += n
	q.mu.Unlock()

	if n > 0 {
		q.signal()
	}
	return n
}

// Read 读出尽可能多的采样，返回读取数量
func (q *SampleRing) Read(p []int16) int {
	q.mu.Lock()
	n := min(len(p), q.size)
	first := copy(p[:n], q.buf[q.start:])
	copy(p[first:n], q.buf)
	q.start = (q.start + n) % len(q.buf)
	q.size -= n
	q.mu.Unlock()

	if n > 0 {
		q.signal()
	}
	return n
}

func (q *SampleRing) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *SampleRing) Free() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf) - q.size
}

func (q *SampleRing) Cap() int { return len(q.buf) }

// Reset 丢弃所有缓存的采样
func (q *SampleRing) Reset() {
	q.mu.Lock()
	q.start, q.size = 0, 0
	q.mu.Unlock()
	q.signal()
}

// Wait 等待下一次读写发生或超时，返回是否收到通知
func (q *SampleRing) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-q.notify:
		return true
	case <-timer.C:
		return false
	}
}

func (q *SampleRing) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
