package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultMaxIdleTransfers 连续零帧传输的上限
const DefaultMaxIdleTransfers = 64

// DeviceConfig 音频设备参数
type DeviceConfig struct {
	HardwareRate     int
	HardwareChannels int
	SampleRate       int
	FrameDuration    int // 毫秒
	MaxIdleTransfers int
	// OnRecovery 每次传输错误恢复成功后回调
	OnRecovery func(dir Direction, cause error)
}

// Device 在硬件流之上提供整帧、可自动恢复的采集和播放
type Device struct {
	cfg         DeviceConfig
	capture     CaptureStream
	playback    PlaybackStream
	ratio       int
	hwFrameSize int
	logger      *slog.Logger

	paused    [2]atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewDevice 计算重采样倍率并检查帧长一致
func NewDevice(capture CaptureStream, playback PlaybackStream, cfg DeviceConfig, logger *slog.Logger) (*Device, error) {
	if cfg.HardwareChannels < 1 {
		return nil, fmt.Errorf("invalid hardware channels: %d", cfg.HardwareChannels)
	}
	if cfg.SampleRate <= 0 || cfg.HardwareRate < cfg.SampleRate || cfg.HardwareRate%cfg.SampleRate != 0 {
		return nil, fmt.Errorf("%w: %d/%d", ErrInvalidRatio, cfg.HardwareRate, cfg.SampleRate)
	}
	if cfg.MaxIdleTransfers <= 0 {
		cfg.MaxIdleTransfers = DefaultMaxIdleTransfers
	}

	ratio := cfg.HardwareRate / cfg.SampleRate
	frameSize := cfg.SampleRate * cfg.FrameDuration / 1000
	hwFrameSize := cfg.HardwareRate * cfg.FrameDuration / 1000
	if frameSize <= 0 || ratio*frameSize != hwFrameSize {
		return nil, fmt.Errorf("%w: frame %d x%d != hardware frame %d", ErrBufferSize, frameSize, ratio, hwFrameSize)
	}

	logger.Info("Audio device ready",
		"hardware_rate", cfg.HardwareRate,
		"hardware_channels", cfg.HardwareChannels,
		"sample_rate", cfg.SampleRate,
		"ratio", ratio,
		"hardware_frame", hwFrameSize)

	return &Device{
		cfg:         cfg,
		capture:     capture,
		playback:    playback,
		ratio:       ratio,
		hwFrameSize: hwFrameSize,
		logger:      logger,
	}, nil
}

func (d *Device) Ratio() int { return d.ratio }

// HardwareFrameSize 每声道每帧的硬件采样数
func (d *Device) HardwareFrameSize() int { return d.hwFrameSize }

// HardwareSamples 一帧交错硬件PCM的总采样数
func (d *Device) HardwareSamples() int { return d.hwFrameSize * d.cfg.HardwareChannels }

func (d *Device) HardwareChannels() int { return d.cfg.HardwareChannels }

// Capture 读满len(pcm)/声道数个帧，返回读取的帧数
func (d *Device) Capture(pcm []int16) (int, error) {
	return d.transfer(Capture, pcm, d.capture.Read, d.capture)
}

// Playback 写满len(pcm)/声道数个帧，返回写入的帧数
func (d *Device) Playback(pcm []int16) (int, error) {
	return d.transfer(Playback, pcm, d.playback.Write, d.playback)
}

func (d *Device) transfer(dir Direction, pcm []int16, xfer func([]int16) (int, error), ctl StreamControl) (int, error) {
	if d.paused[dir].Load() {
		return 0, fmt.Errorf("%s: %w", dir, ErrPaused)
	}
	ch := d.cfg.HardwareChannels
	total := len(pcm) / ch
	if total == 0 || len(pcm)%ch != 0 {
		return 0, fmt.Errorf("%w: %d samples for %d channels", ErrBufferSize, len(pcm), ch)
	}

	done, idle := 0, 0
	failed := false
	for done < total {
		n, err := xfer(pcm[done*ch : total*ch])
		if n > 0 {
			done += n
			idle = 0
			failed = false
		}

		if err != nil {
			// 恢复后仍无进展则放弃本帧
			if failed {
				return done, fmt.Errorf("%w: %s: %v", ErrTransfer, dir, err)
			}
			if rerr := ctl.Recover(); rerr != nil {
				d.logger.Error("Audio recover failed", "direction", dir, "cause", err, "error", rerr)
				return done, fmt.Errorf("%w: %s recover: %v", ErrTransfer, dir, errors.Join(err, rerr))
			}
			d.logger.Warn("audio stream recovered", "direction", dir, "cause", err, "frames", done)
			if d.cfg.OnRecovery != nil {
				d.cfg.OnRecovery(dir, err)
			}
			failed = true
			continue
		}

		if n == 0 {
			idle++
			if idle >= d.cfg.MaxIdleTransfers {
				return done, fmt.Errorf("%w: %s stalled after %d frames", ErrTransfer, dir, done)
			}
		}
	}
	return done, nil
}

// Pause 暂停或恢复一个方向。暂停丢弃未处理数据，恢复时重新准备流。
func (d *Device) Pause(dir Direction, paused bool) error {
	var ctl StreamControl = d.playback
	if dir == Capture {
		ctl = d.capture
	}
	if err := ctl.Pause(paused); err != nil {
		return fmt.Errorf("pause %s: %w", dir, err)
	}
	d.paused[dir].Store(paused)
	d.logger.Debug("audio direction paused", "direction", dir, "paused", paused)
	return nil
}

// Paused 报告一个方向是否处于暂停
func (d *Device) Paused(dir Direction) bool {
	return d.paused[dir].Load()
}

// Close 关闭两个硬件流，可重复调用
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = errors.Join(d.capture.Close(), d.playback.Close())
	})
	return d.closeErr
}
