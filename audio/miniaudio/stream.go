package miniaudio

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/lisuiheng/pttradio/audio"
)

var (
	_ audio.CaptureStream  = (*captureStream)(nil)
	_ audio.PlaybackStream = (*playbackStream)(nil)
)

// stream 回调式malgo设备，通过SampleRing提供阻塞读写
type stream struct {
	dir      audio.Direction
	device   *malgo.Device
	ring     *audio.SampleRing
	channels int
	timeout  time.Duration
	logger   *slog.Logger

	// xrun 由回调设置，由Recover清除
	xrun atomic.Bool
	// 只在回调线程中使用
	scratch []int16
}

func (s *stream) Recover() error {
	s.ring.Reset()
	s.xrun.Store(false)
	return nil
}

func (s *stream) Pause(paused bool) error {
	if paused {
		err := s.device.Stop()
		s.ring.Reset()
		s.xrun.Store(false)
		return err
	}
	s.ring.Reset()
	s.xrun.Store(false)
	if s.device.IsStarted() {
		return nil
	}
	return s.device.Start()
}

func (s *stream) Close() error {
	if s.device.IsStarted() {
		if err := s.device.Stop(); err != nil {
			s.logger.Error("failed to stop audio device", "direction", s.dir, "error", err)
		}
	}
	s.device.Uninit()
	return nil
}

func (s *stream) samples(frames uint32) []int16 {
	n := int(frames) * s.channels
	if cap(s.scratch) < n {
		s.scratch = make([]int16, n)
	}
	return s.scratch[:n]
}

type captureStream struct {
	stream
}

// onData 采集回调，缓冲区满时记录overrun
func (s *captureStream) onData(_, input []byte, frames uint32) {
	pcm := bytesToInt16(input, s.samples(frames))
	if s.ring.Write(pcm) < len(pcm) {
		s.xrun.Store(true)
	}
}

func (s *captureStream) Read(pcm []int16) (int, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if s.xrun.Load() {
			return 0, audio.ErrOverrun
		}
		if n := s.ring.Read(pcm); n > 0 {
			return n / s.channels, nil
		}
		if !s.ring.Wait(s.timeout) {
			break
		}
	}
	return 0, nil
}

type playbackStream struct {
	stream
	// primed 首次写入之后才把缺数据视为underrun
	primed atomic.Bool
}

// onData 播放回调，数据不足时补静音
func (s *playbackStream) onData(output, _ []byte, frames uint32) {
	pcm := s.samples(frames)
	n := s.ring.Read(pcm)
	clear(pcm[n:])
	int16ToBytes(pcm, output)
	if n < len(pcm) && s.primed.Load() {
		s.xrun.Store(true)
	}
}

func (s *playbackStream) Write(pcm []int16) (int, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if s.xrun.Load() {
			return 0, audio.ErrUnderrun
		}
		if n := s.ring.Write(pcm); n > 0 {
			s.primed.Store(true)
			return n / s.channels, nil
		}
		if !s.ring.Wait(s.timeout) {
			break
		}
	}
	return 0, nil
}

func (s *playbackStream) Recover() error {
	s.primed.Store(false)
	return s.stream.Recover()
}

func (s *playbackStream) Pause(paused bool) error {
	s.primed.Store(false)
	return s.stream.Pause(paused)
}

// bytesToInt16 将小端S16字节转换为int16采样
func bytesToInt16(b []byte, pcm []int16) []int16 {
	n := min(len(b)/2, len(pcm))
	for i := 0; i < n; i++ {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm[:n]
}

// int16ToBytes 将int16采样写成小端S16字节
func int16ToBytes(pcm []int16, b []byte) {
	n := min(len(b)/2, len(pcm))
	for i := 0; i < n; i++ {
		b[i*2] = byte(pcm[i])
		b[i*2+1] = byte(pcm[i] >> 8)
	}
}
