package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/lisuiheng/pttradio/audio"
	"github.com/lisuiheng/pttradio/observe"
	"github.com/lisuiheng/pttradio/pkg/interfaces"
	"github.com/lisuiheng/pttradio/utils"
)

// Components 电台运行所需的外部组件，loopback模式下Transport和PTT可以为nil
type Components struct {
	Device    *audio.Device
	Codec     *audio.Codec
	Transport interfaces.Transport
	PTT       interfaces.PTT
	Metrics   *observe.Metrics
}

// Radio 半双工电台。音频线程负责采集/播放和编解码，
// 控制线程负责PTT采样和收发，两者只通过状态机和Handoff交互。
type Radio struct {
	cfg       Config
	device    *audio.Device
	codec     *audio.Codec
	resampler *audio.Resampler
	ctrl      *audio.Controller
	transport interfaces.Transport
	ptt       interfaces.PTT
	metrics   *observe.Metrics
	logger    *slog.Logger

	outbound *Handoff // 音频线程 -> 控制线程
	inbound  *Handoff // 控制线程 -> 音频线程

	frameDuration time.Duration
	backoff       utils.ReconnectStrategy

	// 以下只在音频线程中使用
	hwBuf  []int16
	pcm    []int16
	packet []byte
	primed bool

	// 以下只在控制线程中使用
	rxPacket  []byte
	lastTalk  int
	lastState audio.State

	frames    atomic.Uint64
	started   time.Time
	closeOnce sync.Once
	closeErr  error
}

// NewRadio 校验配置和组件，创建电台
func NewRadio(cfg Config, c Components, log *slog.Logger) (*Radio, error) {
	if log == nil {
		return nil, fmt.Errorf("%w: logger cannot be nil", ErrInit)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if c.Device == nil || c.Codec == nil {
		return nil, fmt.Errorf("%w: audio device and codec are required", ErrInit)
	}
	if cfg.Mode == ModeRadio && (c.Transport == nil || c.PTT == nil) {
		return nil, fmt.Errorf("%w: radio mode requires a transport and a ptt source", ErrInit)
	}

	params := c.Codec.Params()
	if params.FrameSize()*c.Device.Ratio() != c.Device.HardwareFrameSize() {
		return nil, fmt.Errorf("%w: codec frame %d does not match hardware frame %d at ratio %d",
			ErrInit, params.FrameSize(), c.Device.HardwareFrameSize(), c.Device.Ratio())
	}
	resampler, err := audio.NewResampler(c.Device.Ratio(), params.Channels, c.Device.HardwareChannels())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInit, err)
	}

	initial, err := audio.ParseState(cfg.Radio.InitialState)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInit, err)
	}

	metrics := c.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	return &Radio{
		cfg:           cfg,
		device:        c.Device,
		codec:         c.Codec,
		resampler:     resampler,
		ctrl:          audio.NewController(initial),
		transport:     c.Transport,
		ptt:           c.PTT,
		metrics:       metrics,
		logger:        log,
		outbound:      NewHandoff(),
		inbound:       NewHandoff(),
		frameDuration: cfg.FrameDuration(),
		backoff:       utils.NewExponentialBackoff(500*time.Millisecond, 10*time.Second),
		hwBuf:         make([]int16, c.Device.HardwareSamples()),
		pcm:           make([]int16, params.Samples()),
		packet:        make([]byte, params.PacketSize()),
		rxPacket:      make([]byte, params.PacketSize()),
		lastTalk:      -1,
		lastState:     initial,
	}, nil
}

// State 当前电台状态
func (r *Radio) State() audio.State { return r.ctrl.State() }

// Frames 已处理的帧数
func (r *Radio) Frames() uint64 { return r.frames.Load() }

// Run 运行直到ctx取消。取消时等待正在进行的硬件调用返回后退出并返回nil。
func (r *Radio) Run(ctx context.Context) error {
	if r.cfg.Mode == ModeRadio {
		if err := r.transport.Open(ctx); err != nil {
			return fmt.Errorf("%w: open %s transport: %v", ErrInit, r.transport.Name(), err)
		}
	}

	r.started = time.Now()
	g, gctx := errgroup.WithContext(ctx)
	if r.cfg.Radio.StatusInterval > 0 {
		g.Go(func() error {
			r.statusLoop(gctx)
			return nil
		})
	}

	if r.cfg.Mode == ModeLoopback {
		r.logger.Info("Starting loopback",
			"frame_duration", r.frameDuration,
			"packet_size", r.codec.Params().PacketSize())
		g.Go(func() error { return r.loopbackLoop(gctx) })
		return g.Wait()
	}

	r.logger.Info("Starting radio",
		"state", r.ctrl.State(),
		"transport", r.transport.Name(),
		"frame_duration", r.frameDuration,
		"packet_size", r.codec.Params().PacketSize())
	g.Go(func() error { return r.audioLoop(gctx) })
	g.Go(func() error { return r.controlLoop(gctx) })
	return g.Wait()
}

// Close 关闭所有组件，可重复调用。需在Run返回之后调用。
func (r *Radio) Close() error {
	r.closeOnce.Do(func() {
		var errs []error
		if r.transport != nil {
			errs = append(errs, r.transport.Close())
		}
		if r.ptt != nil {
			errs = append(errs, r.ptt.Close())
		}
		errs = append(errs, r.codec.Close(), r.device.Close())
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}

func (r *Radio) audioLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		r.audioTick(ctx)
	}
	return nil
}

// audioTick 音频线程的一个节拍：先完成挂起的切换，再按当前方向处理一帧
func (r *Radio) audioTick(ctx context.Context) {
	start := time.Now()
	state, err := r.ctrl.Resolve(r.applySwitch)
	if err != nil {
		r.logger.Error("Direction switch failed", "state", state, "error", err)
		sleepCtx(ctx, r.frameDuration)
		return
	}
	r.metrics.State.Record(ctx, int64(state))

	switch state {
	case audio.TX:
		r.transmitFrame(ctx)
	case audio.RX:
		r.receiveFrame(ctx)
	default:
		sleepCtx(ctx, r.frameDuration)
		return
	}
	r.metrics.TickDuration.Record(ctx, time.Since(start).Seconds())
}

// applySwitch 在音频线程上执行方向切换的硬件操作
func (r *Radio) applySwitch(from, to audio.State) error {
	switch to {
	case audio.TX:
		if err := r.setPaused(audio.Playback, true); err != nil {
			return err
		}
		if err := r.setPaused(audio.Capture, false); err != nil {
			return err
		}
		r.inbound.Drain()
	case audio.RX:
		if !r.primed {
			r.prime()
		}
		if err := r.setPaused(audio.Capture, true); err != nil {
			return err
		}
		if err := r.setPaused(audio.Playback, false); err != nil {
			return err
		}
		r.resampler.Reset()
		r.outbound.Drain()
	}

	r.logger.Info("State changed", "from", from, "to", to)
	r.metrics.Switches.Add(context.Background(), 1, metric.WithAttributes(attribute.String("to", to.String())))
	return nil
}

func (r *Radio) setPaused(dir audio.Direction, paused bool) error {
	if r.device.Paused(dir) == paused {
		return nil
	}
	return r.device.Pause(dir, paused)
}

// prime 第一次进入接收前让采集和编解码链路先跑几帧，输出丢弃
func (r *Radio) prime() {
	if err := r.setPaused(audio.Capture, false); err != nil {
		r.logger.Warn("priming skipped", "error", err)
		return
	}
	for i := 0; i < r.cfg.Radio.PrimingFrames; i++ {
		if err := r.encodeCaptured(); err != nil {
			r.logger.Debug("priming frame failed", "frame", i, "error", err)
			continue
		}
		if err := r.codec.Decode(r.packet, r.pcm); err != nil {
			r.logger.Debug("priming decode failed", "frame", i, "error", err)
		}
	}
	r.primed = true
	r.logger.Debug("audio path primed", "frames", r.cfg.Radio.PrimingFrames)
}

// encodeCaptured 采集一帧、下采样并编码到r.packet
func (r *Radio) encodeCaptured() error {
	if _, err := r.device.Capture(r.hwBuf); err != nil {
		return err
	}
	if err := r.resampler.Downsample(r.hwBuf, r.pcm); err != nil {
		return err
	}
	return r.codec.Encode(r.pcm, r.packet)
}

// playDecoded 解码packet(nil为丢包补偿)、上采样并播放
func (r *Radio) playDecoded(packet []byte) error {
	if err := r.codec.Decode(packet, r.pcm); err != nil {
		return err
	}
	if err := r.resampler.Upsample(r.pcm, r.hwBuf); err != nil {
		return err
	}
	_, err := r.device.Playback(r.hwBuf)
	return err
}

func (r *Radio) transmitFrame(ctx context.Context) {
	if err := r.encodeCaptured(); err != nil {
		r.frameFailed(ctx, "tx", err)
		return
	}
	if r.outbound.Put(r.packet) {
		r.metrics.Displaced.Add(ctx, 1, metric.WithAttributes(attribute.String("handoff", "outbound")))
	}
	r.frameDone(ctx, "tx", "ok")
}

func (r *Radio) receiveFrame(ctx context.Context) {
	packet, err := r.inbound.Wait(ctx, r.frameDuration)
	result := "ok"
	switch {
	case errors.Is(err, ErrSyncTimeout):
		// 一个帧周期内没有数据，由解码器补偿
		packet = nil
		result = "concealed"
		r.metrics.Concealments.Add(ctx, 1)
	case err != nil:
		return
	}

	if err := r.playDecoded(packet); err != nil {
		r.frameFailed(ctx, "rx", err)
		return
	}
	r.frameDone(ctx, "rx", result)
}

func (r *Radio) loopbackLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		start := time.Now()
		if err := r.encodeCaptured(); err != nil {
			r.frameFailed(ctx, "loopback", err)
			continue
		}
		if err := r.playDecoded(r.packet); err != nil {
			r.frameFailed(ctx, "loopback", err)
			continue
		}
		r.frameDone(ctx, "loopback", "ok")
		r.metrics.TickDuration.Record(ctx, time.Since(start).Seconds())
	}
	return nil
}

func (r *Radio) frameDone(ctx context.Context, direction, result string) {
	r.frames.Add(1)
	r.metrics.Frames.Add(ctx, 1, metric.WithAttributes(
		attribute.String("direction", direction),
		attribute.String("result", result)))
}

// frameFailed 丢弃当前帧并继续，硬件错误时等待一个帧周期避免空转
func (r *Radio) frameFailed(ctx context.Context, direction string, err error) {
	r.metrics.Frames.Add(ctx, 1, metric.WithAttributes(
		attribute.String("direction", direction),
		attribute.String("result", "dropped")))

	switch {
	case errors.Is(err, audio.ErrEncode):
		r.metrics.CodecErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "encode")))
		r.logger.Warn("encode failed, frame dropped", "direction", direction, "error", err)
	case errors.Is(err, audio.ErrDecode):
		r.metrics.CodecErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "decode")))
		r.logger.Warn("decode failed, frame dropped", "direction", direction, "error", err)
	default:
		r.logger.Warn("audio frame dropped", "direction", direction, "error", err)
		sleepCtx(ctx, r.frameDuration)
	}
}

func (r *Radio) controlLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		r.controlTick(ctx)
	}
	return nil
}

// controlTick 控制线程的一个节拍：采样PTT，然后按方向发送或接收一帧
func (r *Radio) controlTick(ctx context.Context) {
	talk, err := r.ptt.Read()
	if err != nil {
		r.logger.Debug("ptt read failed, keeping last signal", "error", err)
	} else {
		r.lastTalk = talk
	}
	if prev, next := r.ctrl.State(), r.ctrl.Request(r.lastTalk); next != prev {
		r.logger.Debug("switch requested", "from", prev, "to", next)
	}

	state := r.ctrl.State()
	if state == audio.RX && r.lastState != audio.RX {
		r.flushTransport()
	}
	r.lastState = state

	switch state {
	case audio.TX:
		r.sendFrame(ctx)
	case audio.RX:
		r.receivePacket(ctx)
	default:
		// 等待音频线程完成切换
		sleepCtx(ctx, min(r.frameDuration, 10*time.Millisecond))
	}
}

func (r *Radio) sendFrame(ctx context.Context) {
	packet, err := r.outbound.Wait(ctx, r.frameDuration)
	if err != nil {
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.frameDuration)
	defer cancel()
	if err := r.transport.Send(sendCtx, packet); err != nil {
		r.transportFailed(ctx, "send", err)
	}
}

func (r *Radio) receivePacket(ctx context.Context) {
	recvCtx, cancel := context.WithTimeout(ctx, r.frameDuration)
	n, err := r.transport.Receive(recvCtx, r.rxPacket)
	cancel()
	if err != nil {
		r.transportFailed(ctx, "receive", err)
		return
	}
	// 不完整的帧视为本周期无数据
	if n != len(r.rxPacket) {
		return
	}
	if r.inbound.Put(r.rxPacket) {
		r.metrics.Displaced.Add(ctx, 1, metric.WithAttributes(attribute.String("handoff", "inbound")))
	}
}

func (r *Radio) flushTransport() {
	if f, ok := r.transport.(interfaces.Flusher); ok {
		if err := f.Flush(); err != nil {
			r.logger.Debug("transport flush failed", "error", err)
		}
	}
}

// transportFailed 记录传输错误；连接断开时按指数退避重连
func (r *Radio) transportFailed(ctx context.Context, op string, err error) {
	if ctx.Err() != nil {
		return
	}
	r.metrics.TransportErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("transport", r.transport.Name()),
		attribute.String("op", op)))

	if errors.Is(err, interfaces.ErrNotConnected) {
		r.logger.Debug("no peer connected", "op", op)
		sleepCtx(ctx, r.frameDuration)
		return
	}

	r.logger.Warn("Transport error, reconnecting", "transport", r.transport.Name(), "op", op, "error", err)
	for ctx.Err() == nil {
		if !sleepCtx(ctx, r.backoff.NextDelay()) {
			return
		}
		_ = r.transport.Close()
		if err := r.transport.Open(ctx); err != nil {
			r.logger.Warn("Reconnect failed", "transport", r.transport.Name(), "error", err)
			continue
		}
		r.backoff.Reset()
		r.logger.Info("Transport reconnected", "transport", r.transport.Name())
		return
	}
}

func (r *Radio) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Radio.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.logger.Info("Radio status",
				"state", r.ctrl.State(),
				"play_time", time.Since(r.started).Round(time.Millisecond),
				"frames", r.frames.Load())
		}
	}
}

// RecoveryHook 返回记录硬件恢复次数的audio.DeviceConfig.OnRecovery回调
func RecoveryHook(m *observe.Metrics) func(audio.Direction, error) {
	return func(dir audio.Direction, _ error) {
		m.Recoveries.Add(context.Background(), 1, metric.WithAttributes(attribute.String("direction", dir.String())))
	}
}

// sleepCtx 等待d或ctx取消，返回是否等满
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
