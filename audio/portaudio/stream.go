// Package portaudio 基于PortAudio阻塞流的声卡后端
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/lisuiheng/pttradio/audio"
)

var (
	_ audio.Backend        = (*Backend)(nil)
	_ audio.CaptureStream  = (*captureStream)(nil)
	_ audio.PlaybackStream = (*playbackStream)(nil)
)

// Backend PortAudio实现的声卡后端，使用默认输入输出设备
type Backend struct {
	logger *slog.Logger
}

// NewBackend 初始化PortAudio
func NewBackend(driver string, logger *slog.Logger) (*Backend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	if driver != "" && driver != "auto" {
		logger.Warn("PortAudio uses the default host API, driver ignored", "driver", driver)
	}
	return &Backend{logger: logger}, nil
}

func (b *Backend) OpenCapture(cfg audio.HardwareConfig) (audio.CaptureStream, error) {
	s := &captureStream{stream: stream{dir: audio.Capture, channels: cfg.Channels, logger: b.logger}}
	if err := s.open(cfg.Channels, 0, cfg); err != nil {
		return nil, err
	}
	return s, nil
}

func (b *Backend) OpenPlayback(cfg audio.HardwareConfig) (audio.PlaybackStream, error) {
	s := &playbackStream{stream: stream{dir: audio.Playback, channels: cfg.Channels, logger: b.logger}}
	if err := s.open(0, cfg.Channels, cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// Close 终止PortAudio，需在所有流关闭之后调用
func (b *Backend) Close() error {
	return portaudio.Terminate()
}

// stream 阻塞式PortAudio流。buf注册给PortAudio，
// 每次读写前调整其长度来决定传输的帧数。
type stream struct {
	dir      audio.Direction
	pa       *portaudio.Stream
	buf      []int16
	size     int
	channels int
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

func (s *stream) open(in, out int, cfg audio.HardwareConfig) error {
	if cfg.PeriodFrames <= 0 || cfg.Channels <= 0 {
		return fmt.Errorf("invalid hardware config: %+v", cfg)
	}
	s.size = cfg.PeriodFrames * cfg.Channels
	s.buf = make([]int16, s.size)

	// 打开音频流
	pa, err := portaudio.OpenDefaultStream(in, out, float64(cfg.Rate), cfg.PeriodFrames, &s.buf)
	if err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}
	s.pa = pa

	// 启动音频流
	if err := s.start(); err != nil {
		pa.Close()
		return err
	}
	s.logger.Info("Audio stream started",
		"direction", s.dir,
		"sample_rate", cfg.Rate,
		"channels", cfg.Channels,
		"period_frames", cfg.PeriodFrames)
	return nil
}

// chunk 本次传输的采样数，不超过一个周期且为整帧
func (s *stream) chunk(samples int) int {
	n := min(samples, s.size)
	return n - n%s.channels
}

func (s *stream) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if err := s.pa.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}
	s.running = true
	return nil
}

// abort 立即停止并丢弃未播放/未读取的数据
func (s *stream) abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	if err := s.pa.Abort(); err != nil {
		return fmt.Errorf("failed to abort audio stream: %w", err)
	}
	return nil
}

func (s *stream) Recover() error {
	if err := s.abort(); err != nil {
		return err
	}
	return s.start()
}

func (s *stream) Pause(paused bool) error {
	if paused {
		return s.abort()
	}
	return s.start()
}

func (s *stream) Close() error {
	if err := s.abort(); err != nil {
		s.logger.Error("failed to stop audio stream", "direction", s.dir, "error", err)
	}
	if err := s.pa.Close(); err != nil {
		return fmt.Errorf("failed to close audio stream: %w", err)
	}
	return nil
}

type captureStream struct {
	stream
}

// Read 读取最多一个周期，溢出时数据仍有效但同时报告ErrOverrun
func (s *captureStream) Read(pcm []int16) (int, error) {
	n := s.chunk(len(pcm))
	s.buf = s.buf[:n]
	err := s.pa.Read()
	if err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return 0, err
	}
	copy(pcm, s.buf)
	if err != nil {
		return n / s.channels, fmt.Errorf("%w: %v", audio.ErrOverrun, err)
	}
	return n / s.channels, nil
}

type playbackStream struct {
	stream
}

// Write 写入最多一个周期，欠载时数据已写入但同时报告ErrUnderrun
func (s *playbackStream) Write(pcm []int16) (int, error) {
	n := s.chunk(len(pcm))
	s.buf = s.buf[:n]
	copy(s.buf, pcm)
	err := s.pa.Write()
	if err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
		return 0, err
	}
	if err != nil {
		return n / s.channels, fmt.Errorf("%w: %v", audio.ErrUnderrun, err)
	}
	return n / s.channels, nil
}
