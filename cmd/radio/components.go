package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/lisuiheng/pttradio/audio"
	"github.com/lisuiheng/pttradio/audio/miniaudio"
	"github.com/lisuiheng/pttradio/audio/opus"
	"github.com/lisuiheng/pttradio/audio/portaudio"
	"github.com/lisuiheng/pttradio/core"
	"github.com/lisuiheng/pttradio/observe"
	"github.com/lisuiheng/pttradio/pkg/interfaces"
	"github.com/lisuiheng/pttradio/protocols/serial"
	"github.com/lisuiheng/pttradio/protocols/websocket"
	"github.com/lisuiheng/pttradio/ptt"
)

func newBackend(cfg core.Config, log *slog.Logger) (audio.Backend, error) {
	var (
		backend audio.Backend
		err     error
	)
	switch cfg.Audio.Backend {
	case "", "malgo":
		backend, err = miniaudio.NewBackend(cfg.Audio.Driver, log)
	case "portaudio":
		backend, err = portaudio.NewBackend(cfg.Audio.Driver, log)
	default:
		return nil, fmt.Errorf("%w: unknown audio backend %q", core.ErrInit, cfg.Audio.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: audio backend: %v", core.ErrInit, err)
	}
	return backend, nil
}

// buildComponents 打开音频流并创建编解码器、传输和PTT。失败时关闭已创建的部分。
func buildComponents(cfg core.Config, backend audio.Backend, metrics *observe.Metrics, log *slog.Logger) (core.Components, error) {
	c := core.Components{Metrics: metrics}

	hw := cfg.HardwareConfig()
	capture, err := backend.OpenCapture(hw)
	if err != nil {
		return c, fmt.Errorf("%w: open capture: %v", core.ErrInit, err)
	}
	playback, err := backend.OpenPlayback(hw)
	if err != nil {
		_ = capture.Close()
		return c, fmt.Errorf("%w: open playback: %v", core.ErrInit, err)
	}

	devCfg := cfg.DeviceConfig()
	devCfg.OnRecovery = core.RecoveryHook(metrics)
	if c.Device, err = audio.NewDevice(capture, playback, devCfg, log); err != nil {
		_ = capture.Close()
		_ = playback.Close()
		return c, fmt.Errorf("%w: %v", core.ErrInit, err)
	}

	if c.Codec, err = audio.NewCodec(cfg.CodecParams(), opus.NewEngine, log); err != nil {
		closeComponents(c, log)
		return core.Components{}, fmt.Errorf("%w: %v", core.ErrInit, err)
	}

	if cfg.Mode == core.ModeLoopback {
		return c, nil
	}

	if c.Transport, err = newTransport(cfg, log); err != nil {
		closeComponents(c, log)
		return core.Components{}, fmt.Errorf("%w: %v", core.ErrInit, err)
	}
	if c.PTT, err = newPTT(cfg, log); err != nil {
		closeComponents(c, log)
		return core.Components{}, fmt.Errorf("%w: %v", core.ErrInit, err)
	}
	return c, nil
}

func newTransport(cfg core.Config, log *slog.Logger) (interfaces.Transport, error) {
	packetSize := cfg.CodecParams().PacketSize()

	switch cfg.Transport.Type {
	case "websocket":
		ws := cfg.Transport.Websocket
		if ws == nil {
			return nil, errors.New("missing websocket section")
		}
		wsCfg := websocket.Config{
			URL:             ws.URL,
			Listen:          ws.Listen,
			Path:            ws.Path,
			AccessToken:     ws.AccessToken,
			ProtocolVersion: ws.ProtocolVersion,
			DeviceID:        ws.DeviceID,
			PacketSize:      packetSize,
		}
		if ws.Role == "server" {
			l, err := websocket.NewListener(wsCfg, log)
			if err != nil {
				return nil, err
			}
			return l, nil
		}
		client, err := websocket.NewClient(wsCfg, log)
		if err != nil {
			return nil, err
		}
		return client, nil

	case "serial":
		s := cfg.Transport.Serial
		if s == nil {
			return nil, errors.New("missing serial section")
		}
		t, err := serial.NewTransport(serial.Config{
			Port:        s.Port,
			BaudRate:    s.BaudRate,
			ReadTimeout: s.ReadTimeout,
			PacketSize:  packetSize,
		}, log)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, fmt.Errorf("%w: %q", core.ErrUnsupportedTransport, cfg.Transport.Type)
}

func newPTT(cfg core.Config, log *slog.Logger) (interfaces.PTT, error) {
	switch cfg.PTT.Source {
	case "keyboard":
		k, err := ptt.NewKeyboard(cfg.PTT.TalkKey, log)
		if err != nil {
			return nil, err
		}
		return k, nil
	case "fixed":
		return ptt.Fixed{Signal: cfg.PTT.Signal}, nil
	}
	return nil, fmt.Errorf("%w: %q", core.ErrUnsupportedPTT, cfg.PTT.Source)
}

// closeComponents 关闭NewRadio之前创建的组件
func closeComponents(c core.Components, log *slog.Logger) {
	var errs []error
	if c.PTT != nil {
		errs = append(errs, c.PTT.Close())
	}
	if c.Transport != nil {
		errs = append(errs, c.Transport.Close())
	}
	if c.Codec != nil {
		errs = append(errs, c.Codec.Close())
	}
	if c.Device != nil {
		errs = append(errs, c.Device.Close())
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn("Failed to close components", "error", err)
	}
}
