package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/lisuiheng/pttradio/audio"
	"github.com/lisuiheng/pttradio/audio/opus"
	"github.com/lisuiheng/pttradio/logger"
)

type options struct {
	hardwareRate     int
	hardwareChannels int
	sampleRate       int
	frameDuration    int
	bitrate          int
	frames           int
	lost             int
	toneHz           float64
}

func main() {
	var opts options
	flag.IntVar(&opts.hardwareRate, "hw-rate", 48000, "Hardware sample rate")
	flag.IntVar(&opts.hardwareChannels, "hw-channels", 2, "Hardware channel count")
	flag.IntVar(&opts.sampleRate, "rate", 16000, "Codec sample rate")
	flag.IntVar(&opts.frameDuration, "frame", 60, "Frame duration in milliseconds")
	flag.IntVar(&opts.bitrate, "bitrate", audio.DefaultBitrate, "Codec bitrate in bits per second")
	flag.IntVar(&opts.frames, "frames", 20, "Number of tone frames to run through the codec")
	flag.IntVar(&opts.lost, "lost", 3, "Number of lost frames to conceal after the tone")
	flag.Float64Var(&opts.toneHz, "tone", 440, "Test tone frequency in Hz")
	flag.Parse()

	if err := logger.Init(logger.Config{Level: "warn", Outputs: []string{"stderr"}}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := check(os.Stdout, opts, opus.NewEngine); err != nil {
		logger.Error("Self-test failed", "error", err)
		os.Exit(1)
	}
}

// check 打印帧几何参数，然后让正弦音经过下采样、编码、解码、上采样，最后模拟丢包补偿
func check(w io.Writer, opts options, factory audio.EngineFactory) error {
	params := audio.CodecParams{
		Channels:      1,
		FrameDuration: opts.frameDuration,
		SampleRate:    opts.sampleRate,
		Bitrate:       opts.bitrate,
	}
	if opts.sampleRate <= 0 || opts.hardwareRate%opts.sampleRate != 0 {
		return fmt.Errorf("%w: %d/%d", audio.ErrInvalidRatio, opts.hardwareRate, opts.sampleRate)
	}
	ratio := opts.hardwareRate / opts.sampleRate
	hwFrames := params.FrameSize() * ratio

	fmt.Fprintf(w, "codec:     %d Hz, %d ms, %d bit/s\n", opts.sampleRate, opts.frameDuration, opts.bitrate)
	fmt.Fprintf(w, "frame:     %d samples, %d bytes per packet\n", params.FrameSize(), params.PacketSize())
	fmt.Fprintf(w, "hardware:  %d Hz x %d ch, %d frames per period, ratio %d\n",
		opts.hardwareRate, opts.hardwareChannels, hwFrames, ratio)

	codec, err := audio.NewCodec(params, factory, logger.Logger())
	if err != nil {
		return err
	}
	defer codec.Close()

	resampler, err := audio.NewResampler(ratio, params.Channels, opts.hardwareChannels)
	if err != nil {
		return err
	}

	hw := make([]int16, hwFrames*opts.hardwareChannels)
	pcm := make([]int16, params.Samples())
	packet := make([]byte, params.PacketSize())
	out := make([]int16, len(hw))

	var inEnergy, outEnergy float64
	phase := 0.0
	step := 2 * math.Pi * opts.toneHz / float64(opts.hardwareRate)
	for i := 0; i < opts.frames; i++ {
		for f := 0; f < hwFrames; f++ {
			v := int16(8000 * math.Sin(phase))
			phase += step
			for ch := 0; ch < opts.hardwareChannels; ch++ {
				hw[f*opts.hardwareChannels+ch] = v
			}
		}
		if err := resampler.Downsample(hw, pcm); err != nil {
			return err
		}
		if err := codec.Encode(pcm, packet); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		if err := codec.Decode(packet, pcm); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		if err := resampler.Upsample(pcm, out); err != nil {
			return err
		}
		inEnergy += rms(hw)
		outEnergy += rms(out)
	}
	fmt.Fprintf(w, "tone:      %d frames, rms in %.1f, rms out %.1f\n",
		opts.frames, inEnergy/float64(max(opts.frames, 1)), outEnergy/float64(max(opts.frames, 1)))

	var concealed float64
	for i := 0; i < opts.lost; i++ {
		if err := codec.Decode(nil, pcm); err != nil {
			return fmt.Errorf("concealment %d: %w", i, err)
		}
		if err := resampler.Upsample(pcm, out); err != nil {
			return err
		}
		concealed += rms(out)
	}
	fmt.Fprintf(w, "conceal:   %d frames, rms %.1f\n", opts.lost, concealed/float64(max(opts.lost, 1)))
	fmt.Fprintln(w, "ok")
	return nil
}

func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
