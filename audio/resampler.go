package audio

import "fmt"

// Resampler 在逻辑采样率和硬件采样率之间做整数倍转换。
// 下采样为抽取(不做滤波)，上采样为逐声道线性插值。
// 只能在音频线程上使用。
type Resampler struct {
	ratio      int
	channels   int
	hwChannels int

	// 每个硬件声道最后写出的采样，用于帧间插值
	last   []int16
	primed bool
}

// NewResampler 创建重采样器，ratio = 硬件采样率 / 逻辑采样率
func NewResampler(ratio, channels, hwChannels int) (*Resampler, error) {
	if ratio < 1 {
		return nil, fmt.Errorf("%w: ratio %d", ErrInvalidRatio, ratio)
	}
	if channels < 1 || channels > 2 || hwChannels < channels || hwChannels > 2 {
		return nil, fmt.Errorf("unsupported channel layout: %d logical, %d hardware", channels, hwChannels)
	}
	return &Resampler{
		ratio:      ratio,
		channels:   channels,
		hwChannels: hwChannels,
		last:       make([]int16, hwChannels),
	}, nil
}

func (r *Resampler) Ratio() int { return r.ratio }

// Downsample 每ratio个硬件帧保留第一个，多余的硬件声道只保留前面的声道
func (r *Resampler) Downsample(hw, out []int16) error {
	hwFrames := len(hw) / r.hwChannels
	if len(hw)%r.hwChannels != 0 || hwFrames%r.ratio != 0 || len(out) != hwFrames/r.ratio*r.channels {
		return fmt.Errorf("%w: downsample %d -> %d samples", ErrBufferSize, len(hw), len(out))
	}

	frames := hwFrames / r.ratio
	for i := 0; i < frames; i++ {
		src := i * r.ratio * r.hwChannels
		for c := 0; c < r.channels; c++ {
			out[i*r.channels+c] = hw[src+c]
		}
	}
	return nil
}

// Upsample 线性插值: out[i*N+k] = prev + k*(next-prev)/N。
// 帧内第一个区间以上一帧最后写出的值为起点；首帧没有历史，直接重复第一个采样。
func (r *Resampler) Upsample(in, out []int16) error {
	frames := len(in) / r.channels
	if len(in)%r.channels != 0 || len(out) != frames*r.ratio*r.hwChannels {
		return fmt.Errorf("%w: upsample %d -> %d samples", ErrBufferSize, len(in), len(out))
	}
	if frames == 0 {
		return nil
	}

	n := int32(r.ratio)
	for c := 0; c < r.hwChannels; c++ {
		// 单声道复制到所有硬件声道
		src := c
		if src >= r.channels {
			src = r.channels - 1
		}

		prev := int32(in[src])
		if r.primed {
			prev = int32(r.last[c])
		}
		for i := 0; i < frames; i++ {
			next := int32(in[i*r.channels+src])
			if n == 1 {
				out[i*r.hwChannels+c] = int16(next)
				continue
			}
			base := i * r.ratio
			for k := int32(0); k < n; k++ {
				out[(base+int(k))*r.hwChannels+c] = int16(prev + k*(next-prev)/n)
			}
			prev = next
		}
		r.last[c] = out[len(out)-r.hwChannels+c]
	}
	r.primed = true
	return nil
}

// Reset 丢弃插值状态，下一帧按首帧处理
func (r *Resampler) Reset() {
	r.primed = false
	for i := range r.last {
		r.last[i] = 0
	}
}
