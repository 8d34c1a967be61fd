// Package audiotest 提供用于测试的硬件流和编解码器替身
package audiotest

import (
	"errors"
	"sync"
	"time"

	"github.com/lisuiheng/pttradio/audio"
)

var (
	_ audio.CaptureStream  = (*Stream)(nil)
	_ audio.PlaybackStream = (*Stream)(nil)
	_ audio.Engine         = (*Engine)(nil)
)

// Step 一次传输调用的脚本结果，Frames < 0 表示传输全部请求的帧
type Step struct {
	Frames int
	Err    error
}

// Stream 可编排的内存硬件流，同时实现采集和播放接口
type Stream struct {
	mu sync.Mutex

	Channels int
	// Value 采集时填充的采样值
	Value int16
	// Block 每次传输前的阻塞时间，模拟硬件节拍
	Block      time.Duration
	Steps      []Step
	RecoverErr error
	PauseErr   error

	Calls      int
	Recovers   int
	PauseCalls []bool
	Paused     bool
	Closed     bool
	Written    []int16
	Writes     int
}

func NewStream(channels int) *Stream {
	return &Stream{Channels: channels}
}

func (s *Stream) next(frames int) Step {
	s.Calls++
	if len(s.Steps) == 0 {
		return Step{Frames: frames}
	}
	step := s.Steps[0]
	s.Steps = s.Steps[1:]
	if step.Frames < 0 || step.Frames > frames {
		step.Frames = frames
	}
	return step
}

func (s *Stream) Read(pcm []int16) (int, error) {
	s.wait()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Closed {
		return 0, errors.New("stream closed")
	}
	step := s.next(len(pcm) / s.Channels)
	for i := 0; i < step.Frames*s.Channels; i++ {
		pcm[i] = s.Value
	}
	return step.Frames, step.Err
}

func (s *Stream) Write(pcm []int16) (int, error) {
	s.wait()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Closed {
		return 0, errors.New("stream closed")
	}
	step := s.next(len(pcm) / s.Channels)
	s.Written = append(s.Written, pcm[:step.Frames*s.Channels]...)
	if step.Frames > 0 {
		s.Writes++
	}
	return step.Frames, step.Err
}

func (s *Stream) wait() {
	s.mu.Lock()
	block := s.Block
	s.mu.Unlock()
	if block > 0 {
		time.Sleep(block)
	}
}

func (s *Stream) Recover() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Recovers++
	return s.RecoverErr
}

func (s *Stream) Pause(paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PauseCalls = append(s.PauseCalls, paused)
	if s.PauseErr != nil {
		return s.PauseErr
	}
	s.Paused = paused
	return nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// Snapshot 返回已写入采样的副本
func (s *Stream) Snapshot() []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int16(nil), s.Written...)
}

// IsPaused 并发安全地读取暂停状态
func (s *Stream) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Paused
}

// Engine 确定性的编解码器替身：包的前两个字节保存第一个采样，
// 解码时整帧填充该值，丢包补偿输出静音。
type Engine struct {
	mu sync.Mutex

	Channels  int
	EncodeErr error
	DecodeErr error
	// EncodeLen 非0时作为编码返回的字节数，0表示整个包
	EncodeLen int

	Encoded   int
	Decoded   int
	Concealed int
	Closes    int
	// Events 记录调用顺序: "encode"/"decode"/"conceal"
	Events []string
}

// Factory 返回总是产出该Engine的工厂
func Factory(e *Engine) audio.EngineFactory {
	return func(p audio.CodecParams) (audio.Engine, error) {
		e.mu.Lock()
		e.Channels = p.Channels
		e.mu.Unlock()
		return e, nil
	}
}

// FailingFactory 返回总是失败的工厂
func FailingFactory(err error) audio.EngineFactory {
	return func(audio.CodecParams) (audio.Engine, error) {
		return nil, err
	}
}

func (e *Engine) Encode(pcm []int16, packet []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.EncodeErr != nil {
		return 0, e.EncodeErr
	}
	e.Encoded++
	e.Events = append(e.Events, "encode")
	if len(pcm) > 0 && len(packet) >= 2 {
		packet[0] = byte(uint16(pcm[0]) >> 8)
		packet[1] = byte(uint16(pcm[0]))
	}
	if e.EncodeLen != 0 {
		return e.EncodeLen, nil
	}
	return len(packet), nil
}

func (e *Engine) Decode(packet []byte, pcm []int16) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.DecodeErr != nil {
		return 0, e.DecodeErr
	}
	var v int16
	if packet == nil {
		e.Concealed++
		e.Events = append(e.Events, "conceal")
	} else {
		e.Decoded++
		e.Events = append(e.Events, "decode")
		if len(packet) >= 2 {
			v = int16(uint16(packet[0])<<8 | uint16(packet[1]))
		}
	}
	for i := range pcm {
		pcm[i] = v
	}
	if e.Channels > 1 {
		return len(pcm) / e.Channels, nil
	}
	return len(pcm), nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Closes++
	return nil
}

// Counts 并发安全地读取计数: 编码、解码、补偿
func (e *Engine) Counts() (encoded, decoded, concealed int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Encoded, e.Decoded, e.Concealed
}

// History 返回调用顺序的副本
func (e *Engine) History() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.Events...)
}
