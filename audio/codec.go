package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// DefaultBitrate CBR目标码率(bps)
const DefaultBitrate = 8000

// CodecParams 编解码参数，决定帧长和固定包长
type CodecParams struct {
	Channels      int
	FrameDuration int // 毫秒
	SampleRate    int
	Bitrate       int
}

// FrameSize 每声道每帧采样数
func (p CodecParams) FrameSize() int {
	return p.SampleRate * p.FrameDuration / 1000
}

// PacketSize 每帧编码后的固定字节数
func (p CodecParams) PacketSize() int {
	return (p.Bitrate*p.FrameDuration/1000 + 7) / 8
}

// Samples 一帧交错PCM的总采样数
func (p CodecParams) Samples() int {
	return p.FrameSize() * p.Channels
}

func (p CodecParams) validate() error {
	if p.Channels < 1 || p.Channels > 2 {
		return fmt.Errorf("invalid channels: %d", p.Channels)
	}
	if p.SampleRate <= 0 || p.FrameDuration <= 0 || p.Bitrate <= 0 {
		return fmt.Errorf("invalid codec params: rate=%d duration=%d bitrate=%d",
			p.SampleRate, p.FrameDuration, p.Bitrate)
	}
	if p.FrameSize() <= 0 || p.PacketSize() <= 0 {
		return fmt.Errorf("invalid frame geometry: frame=%d packet=%d", p.FrameSize(), p.PacketSize())
	}
	return nil
}

// Codec 把外部编解码器包装成固定帧长、固定包长的接口。
// Encode/Decode 只能在音频线程调用。
type Codec struct {
	params CodecParams
	engine Engine
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewCodec 校验参数并创建编解码器，失败时不保留任何部分状态
func NewCodec(params CodecParams, factory EngineFactory, logger *slog.Logger) (*Codec, error) {
	if err := params.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodecInit, err)
	}

	engine, err := factory(params)
	if err != nil {
		logger.Error("Codec init failed",
			"sample_rate", params.SampleRate,
			"channels", params.Channels,
			"frame_duration", params.FrameDuration,
			"error", err)
		return nil, fmt.Errorf("%w: %v", ErrCodecInit, err)
	}

	logger.Info("Codec ready",
		"sample_rate", params.SampleRate,
		"channels", params.Channels,
		"frame_size", params.FrameSize(),
		"packet_size", params.PacketSize(),
		"bitrate", params.Bitrate)

	return &Codec{
		params: params,
		engine: engine,
		logger: logger,
	}, nil
}

func (c *Codec) Params() CodecParams { return c.params }

// Encode 编码一帧PCM到固定大小的packet，编码器输出必须正好填满packet
func (c *Codec) Encode(pcm []int16, packet []byte) error {
	if c.isClosed() {
		return ErrCodecClosed
	}
	if len(pcm) != c.params.Samples() || len(packet) != c.params.PacketSize() {
		return fmt.Errorf("%w: pcm=%d packet=%d", ErrBufferSize, len(pcm), len(packet))
	}

	n, err := c.engine.Encode(pcm, packet)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}
	// 解码端按定长读包，长度不符的包无法正确解码
	if n != len(packet) {
		return fmt.Errorf("%w: engine returned %d bytes, want %d", ErrEncode, n, len(packet))
	}
	return nil
}

// Decode 解码一帧；packet为nil或空时执行丢包补偿
func (c *Codec) Decode(packet []byte, pcm []int16) error {
	if c.isClosed() {
		return ErrCodecClosed
	}
	if len(pcm) != c.params.Samples() {
		return fmt.Errorf("%w: pcm=%d", ErrBufferSize, len(pcm))
	}
	if len(packet) == 0 {
		packet = nil
	}

	n, err := c.engine.Decode(packet, pcm)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if n <= 0 {
		return fmt.Errorf("%w: engine returned %d", ErrDecode, n)
	}
	if n < c.params.FrameSize() {
		clear(pcm[n*c.params.Channels:])
	}
	return nil
}

// Close 释放编解码器，可重复调用
func (c *Codec) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.engine.Close()
}

func (c *Codec) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
