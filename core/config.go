package core

import (
	"fmt"
	"slices"
	"time"

	"github.com/lisuiheng/pttradio/audio"
)

const (
	ModeRadio    = "radio"
	ModeLoopback = "loopback"
)

// Config 电台配置（与YAML文件结构一致）
type Config struct {
	Mode string `mapstructure:"mode"`

	Audio struct {
		Backend          string `mapstructure:"backend"` // malgo/portaudio
		Driver           string `mapstructure:"driver"`  // alsa/pulseaudio/空表示自动
		HardwareRate     int    `mapstructure:"hardware_rate"`
		HardwareChannels int    `mapstructure:"hardware_channels"`
		Periods          int    `mapstructure:"periods"`
		SampleRate       int    `mapstructure:"sample_rate"`
		Channels         int    `mapstructure:"channels"`
		FrameDuration    int    `mapstructure:"frame_duration"` // 毫秒
	} `mapstructure:"audio"`

	Codec struct {
		Bitrate int `mapstructure:"bitrate"`
	} `mapstructure:"codec"`

	Radio struct {
		InitialState   string        `mapstructure:"initial_state"`
		PrimingFrames  int           `mapstructure:"priming_frames"`
		StatusInterval time.Duration `mapstructure:"status_interval"`
	} `mapstructure:"radio"`

	Transport struct {
		Type      string           `mapstructure:"type"` // websocket/serial
		Websocket *WebsocketConfig `mapstructure:"websocket"`
		Serial    *SerialConfig    `mapstructure:"serial"`
	} `mapstructure:"transport"`

	PTT struct {
		Source  string `mapstructure:"source"` // keyboard/fixed
		TalkKey string `mapstructure:"talk_key"`
		Signal  int    `mapstructure:"signal"`
	} `mapstructure:"ptt"`

	Metrics struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"metrics"`

	Logging struct {
		Level   string   `mapstructure:"level"`
		Outputs []string `mapstructure:"outputs"`
	} `mapstructure:"logging"`
}

type WebsocketConfig struct {
	Role            string `mapstructure:"role"` // client/server
	URL             string `mapstructure:"url"`
	Listen          string `mapstructure:"listen"`
	Path            string `mapstructure:"path"`
	AccessToken     string `mapstructure:"access_token"`
	ProtocolVersion int    `mapstructure:"protocol_version"`
	DeviceID        string `mapstructure:"device_id"`
}

type SerialConfig struct {
	Port        string        `mapstructure:"port"`
	BaudRate    int           `mapstructure:"baud_rate"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// opusFrameDurations OPUS支持的帧长(毫秒)
var opusFrameDurations = []int{10, 20, 40, 60}

// DefaultConfig 返回48kHz立体声硬件、16kHz单声道60ms帧的默认配置
func DefaultConfig() Config {
	var cfg Config
	cfg.Mode = ModeRadio
	cfg.Audio.Backend = "malgo"
	cfg.Audio.HardwareRate = 48000
	cfg.Audio.HardwareChannels = 2
	cfg.Audio.Periods = 4
	cfg.Audio.SampleRate = 16000
	cfg.Audio.Channels = 1
	cfg.Audio.FrameDuration = 60
	cfg.Codec.Bitrate = audio.DefaultBitrate
	cfg.Radio.InitialState = audio.TXSwitch.String()
	cfg.Radio.PrimingFrames = 5
	cfg.Radio.StatusInterval = 10 * time.Second
	cfg.Transport.Type = "serial"
	cfg.Transport.Serial = &SerialConfig{Port: "/dev/ttyUSB0", BaudRate: 115200, ReadTimeout: 10 * time.Millisecond}
	cfg.PTT.Source = "keyboard"
	cfg.PTT.TalkKey = "t"
	cfg.Logging.Level = "info"
	cfg.Logging.Outputs = []string{"stdout"}
	return cfg
}

// Validate 检查配置，所有错误都属于初始化错误
func (c Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInit, err)
	}
	return nil
}

func (c Config) validate() error {
	if c.Mode != ModeRadio && c.Mode != ModeLoopback {
		return fmt.Errorf("unknown mode %q", c.Mode)
	}

	a := c.Audio
	if a.SampleRate <= 0 || a.HardwareRate <= 0 {
		return fmt.Errorf("invalid sample rates: %d/%d", a.HardwareRate, a.SampleRate)
	}
	if a.HardwareRate%a.SampleRate != 0 {
		return fmt.Errorf("%w: %d/%d", audio.ErrInvalidRatio, a.HardwareRate, a.SampleRate)
	}
	if a.Channels < 1 || a.Channels > 2 || a.HardwareChannels < a.Channels || a.HardwareChannels > 2 {
		return fmt.Errorf("unsupported channel layout: %d logical, %d hardware", a.Channels, a.HardwareChannels)
	}
	if !slices.Contains(opusFrameDurations, a.FrameDuration) {
		return fmt.Errorf("unsupported frame duration: %dms", a.FrameDuration)
	}
	if c.Codec.Bitrate <= 0 {
		return fmt.Errorf("invalid bitrate: %d", c.Codec.Bitrate)
	}

	state, err := audio.ParseState(c.Radio.InitialState)
	if err != nil {
		return err
	}
	if state != audio.TXSwitch && state != audio.Idle {
		return fmt.Errorf("initial state must be tx_switch or idle, got %s", state)
	}
	if c.Radio.PrimingFrames < 0 {
		return fmt.Errorf("invalid priming frames: %d", c.Radio.PrimingFrames)
	}

	if c.Mode == ModeLoopback {
		return nil
	}

	switch c.Transport.Type {
	case "websocket":
		ws := c.Transport.Websocket
		if ws == nil {
			return fmt.Errorf("websocket transport requires a websocket section")
		}
		if ws.Role == "server" && ws.Listen == "" || ws.Role != "server" && ws.URL == "" {
			return fmt.Errorf("websocket transport requires url (client) or listen (server)")
		}
	case "serial":
		if c.Transport.Serial == nil || c.Transport.Serial.Port == "" {
			return fmt.Errorf("serial transport requires a port")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedTransport, c.Transport.Type)
	}

	switch c.PTT.Source {
	case "keyboard":
		if len(c.PTT.TalkKey) != 1 {
			return fmt.Errorf("talk key must be a single character, got %q", c.PTT.TalkKey)
		}
	case "fixed":
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedPTT, c.PTT.Source)
	}
	return nil
}

// FrameDuration 一帧的时长
func (c Config) FrameDuration() time.Duration {
	return time.Duration(c.Audio.FrameDuration) * time.Millisecond
}

// CodecParams 由配置推导编解码参数
func (c Config) CodecParams() audio.CodecParams {
	return audio.CodecParams{
		Channels:      c.Audio.Channels,
		FrameDuration: c.Audio.FrameDuration,
		SampleRate:    c.Audio.SampleRate,
		Bitrate:       c.Codec.Bitrate,
	}
}

// DeviceConfig 由配置推导音频设备参数
func (c Config) DeviceConfig() audio.DeviceConfig {
	return audio.DeviceConfig{
		HardwareRate:     c.Audio.HardwareRate,
		HardwareChannels: c.Audio.HardwareChannels,
		SampleRate:       c.Audio.SampleRate,
		FrameDuration:    c.Audio.FrameDuration,
	}
}

// HardwareConfig 由配置推导硬件流参数，周期等于一个硬件帧
func (c Config) HardwareConfig() audio.HardwareConfig {
	return audio.HardwareConfig{
		Driver:       c.Audio.Driver,
		Rate:         c.Audio.HardwareRate,
		Channels:     c.Audio.HardwareChannels,
		PeriodFrames: c.Audio.HardwareRate * c.Audio.FrameDuration / 1000,
		Periods:      c.Audio.Periods,
	}
}
