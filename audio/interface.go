// audio/interface.go
package audio

// Direction 音频传输方向
type Direction int

const (
	Playback Direction = iota
	Capture
)

func (d Direction) String() string {
	if d == Capture {
		return "capture"
	}
	return "playback"
}

// StreamControl 硬件流的公共控制接口
type StreamControl interface {
	// Recover 在传输错误(overrun/underrun)后重新准备流
	Recover() error
	// Pause 暂停时丢弃未处理数据，恢复时重新启动流
	Pause(paused bool) error
	Close() error
}

// CaptureStream 定义硬件采集接口，pcm为交错采样，返回实际读取的帧数
type CaptureStream interface {
	StreamControl
	Read(pcm []int16) (int, error)
}

// PlaybackStream 定义硬件播放接口，返回实际写入的帧数
type PlaybackStream interface {
	StreamControl
	Write(pcm []int16) (int, error)
}

// HardwareConfig 硬件流参数
type HardwareConfig struct {
	Driver       string // alsa/pulseaudio/空表示自动
	Rate         int
	Channels     int
	PeriodFrames int // 每个周期的帧数，通常等于硬件帧长
	Periods      int
}

// Backend 打开一个声卡的采集和播放流
type Backend interface {
	OpenCapture(cfg HardwareConfig) (CaptureStream, error)
	OpenPlayback(cfg HardwareConfig) (PlaybackStream, error)
	Close() error
}

// Engine 外部语音编解码器
type Engine interface {
	// Encode 编码一帧交错PCM到packet，返回写入的字节数
	Encode(pcm []int16, packet []byte) (int, error)
	// Decode 解码packet到pcm，packet为nil时执行丢包补偿，返回每声道采样数
	Decode(packet []byte, pcm []int16) (int, error)
	Close() error
}

// EngineFactory 按编解码参数创建Engine
type EngineFactory func(params CodecParams) (Engine, error)
