// Package miniaudio 基于malgo(miniaudio)的声卡后端
package miniaudio

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/lisuiheng/pttradio/audio"
)

var _ audio.Backend = (*Backend)(nil)

// Backend 持有一个malgo上下文，采集和播放设备共享它
type Backend struct {
	ctx    *malgo.AllocatedContext
	logger *slog.Logger
}

// NewBackend 初始化malgo上下文，driver为空时自动选择
func NewBackend(driver string, logger *slog.Logger) (*Backend, error) {
	backends, err := parseDriver(driver)
	if err != nil {
		return nil, err
	}

	ctx, err := malgo.InitContext(backends, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	return &Backend{ctx: ctx, logger: logger}, nil
}

func parseDriver(name string) ([]malgo.Backend, error) {
	switch name {
	case "", "auto":
		return nil, nil
	case "alsa":
		return []malgo.Backend{malgo.BackendAlsa}, nil
	case "pulse", "pulseaudio":
		return []malgo.Backend{malgo.BackendPulseaudio}, nil
	case "jack":
		return []malgo.Backend{malgo.BackendJack}, nil
	case "null":
		return []malgo.Backend{malgo.BackendNull}, nil
	}
	return nil, fmt.Errorf("unsupported audio driver: %s", name)
}

func (b *Backend) OpenCapture(cfg audio.HardwareConfig) (audio.CaptureStream, error) {
	s := &captureStream{}
	b.initStream(&s.stream, audio.Capture, cfg)
	device, err := b.open(malgo.Capture, cfg, s.onData)
	if err != nil {
		return nil, err
	}
	s.device = device
	return s, nil
}

func (b *Backend) OpenPlayback(cfg audio.HardwareConfig) (audio.PlaybackStream, error) {
	s := &playbackStream{}
	b.initStream(&s.stream, audio.Playback, cfg)
	device, err := b.open(malgo.Playback, cfg, s.onData)
	if err != nil {
		return nil, err
	}
	s.device = device
	return s, nil
}

func (b *Backend) initStream(s *stream, dir audio.Direction, cfg audio.HardwareConfig) {
	periods := max(cfg.Periods, 2)
	period := time.Duration(cfg.PeriodFrames) * time.Second / time.Duration(max(cfg.Rate, 1))
	s.dir = dir
	s.ring = audio.NewSampleRing(cfg.PeriodFrames * cfg.Channels * periods)
	s.channels = cfg.Channels
	s.timeout = 2 * period
	s.logger = b.logger
}

func (b *Backend) open(kind malgo.DeviceType, cfg audio.HardwareConfig, onData malgo.DataProc) (*malgo.Device, error) {
	if cfg.PeriodFrames <= 0 || cfg.Rate <= 0 || cfg.Channels <= 0 {
		return nil, fmt.Errorf("invalid hardware config: %+v", cfg)
	}

	// 创建设备配置
	deviceConfig := malgo.DefaultDeviceConfig(kind)
	deviceConfig.SampleRate = uint32(cfg.Rate)
	deviceConfig.PeriodSizeInFrames = uint32(cfg.PeriodFrames)
	deviceConfig.PerformanceProfile = malgo.LowLatency
	if cfg.Periods > 0 {
		deviceConfig.Periods = uint32(cfg.Periods)
	}
	if kind == malgo.Capture {
		deviceConfig.Capture.Format = malgo.FormatS16
		deviceConfig.Capture.Channels = uint32(cfg.Channels)
	} else {
		deviceConfig.Playback.Format = malgo.FormatS16
		deviceConfig.Playback.Channels = uint32(cfg.Channels)
	}

	device, err := malgo.InitDevice(b.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onData,
		Stop: func() {
			b.logger.Debug("audio device stopped", "kind", kind)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio device: %w", err)
	}

	// 启动设备
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("failed to start audio device: %w", err)
	}

	b.logger.Info("Audio device started",
		"kind", kind,
		"sample_rate", cfg.Rate,
		"channels", cfg.Channels,
		"period_frames", cfg.PeriodFrames)
	return device, nil
}

// Close 释放malgo上下文，需在所有流关闭之后调用
func (b *Backend) Close() error {
	err := b.ctx.Uninit()
	b.ctx.Free()
	return err
}
