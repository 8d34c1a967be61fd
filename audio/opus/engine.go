// Package opus 基于libopus的CBR语音编解码器
package opus

import (
	"errors"
	"fmt"

	"layeh.com/gopus"

	"github.com/lisuiheng/pttradio/audio"
)

var _ audio.Engine = (*Engine)(nil)

// maxEncodedBytes 交给libopus的输出上限。上限等于包长时，多帧包(40/60ms)
// 会被压缩到更短，CBR下必须留出余量才能得到完整的包长。
const maxEncodedBytes = 1000

// Engine OPUS编码器和解码器，固定码率、低延迟、不启用FEC
type Engine struct {
	encoder   *gopus.Encoder
	decoder   *gopus.Decoder
	frameSize int
	channels  int
}

// NewEngine 创建OPUS编解码器，实现audio.EngineFactory
func NewEngine(p audio.CodecParams) (audio.Engine, error) {
	enc, err := gopus.NewEncoder(p.SampleRate, p.Channels, gopus.RestrictedLowDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	enc.SetVbr(false)
	enc.SetBitrate(p.Bitrate)

	dec, err := gopus.NewDecoder(p.SampleRate, p.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &Engine{
		encoder:   enc,
		decoder:   dec,
		frameSize: p.FrameSize(),
		channels:  p.Channels,
	}, nil
}

// Encode 编码一帧PCM，CBR输出必须正好是len(packet)字节
func (e *Engine) Encode(pcm []int16, packet []byte) (int, error) {
	if e.encoder == nil {
		return 0, errors.New("encoder not initialized")
	}

	data, err := e.encoder.Encode(pcm, e.frameSize, max(maxEncodedBytes, len(packet)))
	if err != nil {
		return 0, fmt.Errorf("opus encode failed: %w", err)
	}
	if len(data) != len(packet) {
		return 0, fmt.Errorf("opus produced %d bytes, want %d", len(data), len(packet))
	}
	return copy(packet, data), nil
}

// Decode 解码一帧，packet为nil时由libopus生成补偿音频
func (e *Engine) Decode(packet []byte, pcm []int16) (int, error) {
	if e.decoder == nil {
		return 0, errors.New("decoder not initialized")
	}

	out, err := e.decoder.Decode(packet, e.frameSize, false)
	if err != nil {
		return 0, fmt.Errorf("opus decode failed: %w", err)
	}
	return copy(pcm, out) / e.channels, nil
}

// Close 释放编解码器资源
func (e *Engine) Close() error {
	e.encoder = nil
	e.decoder = nil
	return nil
}
