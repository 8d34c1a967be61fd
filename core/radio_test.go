package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/lisuiheng/pttradio/audio"
	"github.com/lisuiheng/pttradio/audio/audiotest"
	"github.com/lisuiheng/pttradio/observe"
	"github.com/lisuiheng/pttradio/pkg/interfaces"
	"github.com/lisuiheng/pttradio/utils"
)

type fakeTransport struct {
	mu       sync.Mutex
	opens    int
	closes   int
	flushes  int
	sent     [][]byte
	recvErr  error
	openErr  error
	incoming chan []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{incoming: make(chan []byte, 16)}
}

func (f *fakeTransport) Open(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	return f.openErr
}

func (f *fakeTransport) Send(_ context.Context, packet []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), packet...))
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context, packet []byte) (int, error) {
	f.mu.Lock()
	if err := f.recvErr; err != nil {
		f.recvErr = nil
		f.mu.Unlock()
		return 0, err
	}
	f.mu.Unlock()

	select {
	case p := <-f.incoming:
		return copy(packet, p), nil
	case <-ctx.Done():
		return 0, nil
	}
}

func (f *fakeTransport) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) sentPackets() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

type fakePTT struct {
	talk   atomic.Int32
	err    error
	closed bool
}

func (p *fakePTT) Read() (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	return int(p.talk.Load()), nil
}

func (p *fakePTT) Close() error {
	p.closed = true
	return nil
}

type testRig struct {
	radio     *Radio
	capture   *audiotest.Stream
	playback  *audiotest.Stream
	engine    *audiotest.Engine
	transport *fakeTransport
	ptt       *fakePTT
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(mode, initial string) Config {
	cfg := DefaultConfig()
	cfg.Mode = mode
	cfg.Audio.FrameDuration = 20
	cfg.Radio.InitialState = initial
	cfg.Radio.StatusInterval = 0
	return cfg
}

func newTestRig(t *testing.T, cfg Config) *testRig {
	t.Helper()
	log := discardLogger()

	rig := &testRig{
		capture:   audiotest.NewStream(cfg.Audio.HardwareChannels),
		playback:  audiotest.NewStream(cfg.Audio.HardwareChannels),
		engine:    &audiotest.Engine{},
		transport: newFakeTransport(),
		ptt:       &fakePTT{},
	}
	rig.ptt.talk.Store(1)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	require.NoError(t, err)

	devCfg := cfg.DeviceConfig()
	devCfg.OnRecovery = RecoveryHook(metrics)
	device, err := audio.NewDevice(rig.capture, rig.playback, devCfg, log)
	require.NoError(t, err)
	codec, err := audio.NewCodec(cfg.CodecParams(), audiotest.Factory(rig.engine), log)
	require.NoError(t, err)

	rig.radio, err = NewRadio(cfg, Components{
		Device:    device,
		Codec:     codec,
		Transport: rig.transport,
		PTT:       rig.ptt,
		Metrics:   metrics,
	}, log)
	require.NoError(t, err)
	rig.radio.backoff = utils.NewExponentialBackoff(time.Millisecond, time.Millisecond)
	return rig
}

func TestNewRadioValidation(t *testing.T) {
	log := discardLogger()
	cfg := testConfig(ModeRadio, "tx_switch")
	device, err := audio.NewDevice(audiotest.NewStream(2), audiotest.NewStream(2), cfg.DeviceConfig(), log)
	require.NoError(t, err)
	codec, err := audio.NewCodec(cfg.CodecParams(), audiotest.Factory(&audiotest.Engine{}), log)
	require.NoError(t, err)

	_, err = NewRadio(cfg, Components{Device: device, Codec: codec}, log)
	assert.ErrorIs(t, err, ErrInit, "radio mode without transport")

	_, err = NewRadio(cfg, Components{Codec: codec, Transport: newFakeTransport(), PTT: &fakePTT{}}, log)
	assert.ErrorIs(t, err, ErrInit, "missing device")

	loop := testConfig(ModeLoopback, "idle")
	_, err = NewRadio(loop, Components{Device: device, Codec: codec}, log)
	assert.NoError(t, err)

	// 编解码帧长与硬件帧长不一致
	other := testConfig(ModeLoopback, "idle")
	other.Audio.FrameDuration = 40
	codec40, err := audio.NewCodec(other.CodecParams(), audiotest.Factory(&audiotest.Engine{}), log)
	require.NoError(t, err)
	_, err = NewRadio(loop, Components{Device: device, Codec: codec40}, log)
	assert.ErrorIs(t, err, ErrInit)
}

func TestInitialSwitchIntoTX(t *testing.T) {
	rig := newTestRig(t, testConfig(ModeRadio, "tx_switch"))
	rig.capture.Value = 0x0105

	rig.radio.audioTick(context.Background())

	assert.Equal(t, audio.TX, rig.radio.State())
	assert.True(t, rig.playback.IsPaused())
	assert.False(t, rig.capture.IsPaused())

	packet, ok := rig.radio.outbound.TryTake()
	require.True(t, ok)
	assert.Len(t, packet, 20)
	assert.Equal(t, []byte{0x01, 0x05}, packet[:2])
}

func TestPrimingBeforeFirstRX(t *testing.T) {
	rig := newTestRig(t, testConfig(ModeRadio, "idle"))
	rig.radio.ctrl = audio.NewController(audio.RXSwitch)

	rig.radio.audioTick(context.Background())
	assert.Equal(t, audio.RX, rig.radio.State())

	history := rig.engine.History()
	require.GreaterOrEqual(t, len(history), 10)
	for i := 0; i < 5; i++ {
		assert.Equal(t, "encode", history[2*i])
		assert.Equal(t, "decode", history[2*i+1])
	}
	assert.True(t, rig.capture.IsPaused())
	assert.False(t, rig.playback.IsPaused())
	// 之后的接收帧没有数据，使用补偿
	assert.Equal(t, "conceal", history[len(history)-1])

	// 第二次进入接收不再预热
	rig.radio.ctrl = audio.NewController(audio.TXSwitch)
	rig.radio.audioTick(context.Background())
	rig.radio.ctrl.Request(-1)
	before, _, _ := rig.engine.Counts()
	rig.radio.audioTick(context.Background())
	after, _, _ := rig.engine.Counts()
	assert.Equal(t, before, after)
}

func TestReceiveConcealsOnTimeout(t *testing.T) {
	rig := newTestRig(t, testConfig(ModeRadio, "idle"))
	rig.radio.ctrl = audio.NewController(audio.RX)
	rig.radio.primed = true

	for i := 0; i < 3; i++ {
		rig.radio.receiveFrame(context.Background())
	}

	_, decoded, concealed := rig.engine.Counts()
	assert.Equal(t, 0, decoded)
	assert.Equal(t, 3, concealed)
	// 16k 20ms -> 48k立体声, 每帧960个硬件帧
	assert.Len(t, rig.playback.Snapshot(), 3*960*2)
	assert.Equal(t, uint64(3), rig.radio.Frames())
}

func TestReceivePlaysPacket(t *testing.T) {
	rig := newTestRig(t, testConfig(ModeRadio, "idle"))
	rig.radio.ctrl = audio.NewController(audio.RX)

	packet := make([]byte, 20)
	packet[0], packet[1] = 0x01, 0x02
	rig.radio.inbound.Put(packet)
	rig.radio.receiveFrame(context.Background())

	_, decoded, concealed := rig.engine.Counts()
	assert.Equal(t, 1, decoded)
	assert.Equal(t, 0, concealed)

	out := rig.playback.Snapshot()
	require.Len(t, out, 960*2)
	for _, v := range out {
		require.Equal(t, int16(0x0102), v)
	}
}

func TestCodecErrorDropsFrame(t *testing.T) {
	rig := newTestRig(t, testConfig(ModeRadio, "idle"))
	rig.radio.ctrl = audio.NewController(audio.TX)
	rig.engine.EncodeErr = errors.New("bad state")

	rig.radio.transmitFrame(context.Background())
	_, ok := rig.radio.outbound.TryTake()
	assert.False(t, ok)
	assert.Equal(t, uint64(0), rig.radio.Frames())

	rig.engine.EncodeErr = nil
	rig.radio.transmitFrame(context.Background())
	_, ok = rig.radio.outbound.TryTake()
	assert.True(t, ok)
}

func TestControlTickSendsInTX(t *testing.T) {
	rig := newTestRig(t, testConfig(ModeRadio, "idle"))
	rig.radio.ctrl = audio.NewController(audio.TX)

	rig.radio.outbound.Put([]byte{1, 2, 3})
	rig.radio.controlTick(context.Background())

	assert.Equal(t, [][]byte{{1, 2, 3}}, rig.transport.sentPackets())
	assert.Equal(t, audio.TX, rig.radio.State())
}

func TestControlTickRequestsSwitch(t *testing.T) {
	rig := newTestRig(t, testConfig(ModeRadio, "idle"))
	rig.radio.ctrl = audio.NewController(audio.TX)
	rig.ptt.talk.Store(-1)

	rig.radio.controlTick(context.Background())
	assert.Equal(t, audio.RXSwitch, rig.radio.State())

	// PTT读取失败时沿用上一次的信号
	rig.radio.ctrl = audio.NewController(audio.RX)
	rig.ptt.err = errors.New("tty gone")
	rig.radio.controlTick(context.Background())
	assert.Equal(t, audio.RX, rig.radio.State())
}

func TestControlTickReceivesInRX(t *testing.T) {
	rig := newTestRig(t, testConfig(ModeRadio, "idle"))
	rig.radio.ctrl = audio.NewController(audio.RX)
	rig.radio.lastState = audio.TX
	rig.ptt.talk.Store(-1)

	full := make([]byte, 20)
	full[0] = 9
	rig.transport.incoming <- full
	rig.radio.controlTick(context.Background())

	packet, ok := rig.radio.inbound.TryTake()
	require.True(t, ok)
	assert.Equal(t, full, packet)
	assert.Equal(t, 1, rig.transport.flushes)

	// 不完整的帧被忽略
	rig.transport.incoming <- []byte{1, 2, 3}
	rig.radio.controlTick(context.Background())
	_, ok = rig.radio.inbound.TryTake()
	assert.False(t, ok)
	assert.Equal(t, 1, rig.transport.flushes)
}

func TestTransportErrorReconnects(t *testing.T) {
	rig := newTestRig(t, testConfig(ModeRadio, "idle"))
	rig.radio.ctrl = audio.NewController(audio.RX)
	rig.ptt.talk.Store(-1)
	rig.transport.recvErr = interfaces.ErrConnectionLost

	rig.radio.controlTick(context.Background())
	assert.Equal(t, 1, rig.transport.closes)
	assert.Equal(t, 1, rig.transport.opens)

	// 没有对端时不重连
	rig.transport.recvErr = interfaces.ErrNotConnected
	rig.radio.controlTick(context.Background())
	assert.Equal(t, 1, rig.transport.opens)
}

func TestRunLoopback(t *testing.T) {
	rig := newTestRig(t, testConfig(ModeLoopback, "idle"))
	rig.capture.Value = 42
	rig.capture.Block = 2 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, rig.radio.Run(ctx))

	encoded, decoded, _ := rig.engine.Counts()
	assert.Positive(t, encoded)
	assert.Positive(t, decoded)
	out := rig.playback.Snapshot()
	require.NotEmpty(t, out)
	assert.Equal(t, int16(42), out[len(out)-1])
	assert.Equal(t, 0, rig.transport.opens)
}

func TestRunRadioEndToEnd(t *testing.T) {
	rig := newTestRig(t, testConfig(ModeRadio, "tx_switch"))
	rig.capture.Value = 7
	rig.capture.Block = 2 * time.Millisecond
	rig.playback.Block = 2 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rig.radio.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(rig.transport.sentPackets()) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	// 松开PTT，切换到接收并播放对端的帧
	rig.ptt.talk.Store(-1)
	require.Eventually(t, func() bool { return rig.radio.State() == audio.RX }, 2*time.Second, 5*time.Millisecond)
	packet := make([]byte, 20)
	packet[1] = 3
	rig.transport.incoming <- packet
	// 预热解码5帧，之后是对端的帧
	require.Eventually(t, func() bool {
		_, decoded, _ := rig.engine.Counts()
		return decoded >= 6
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("radio did not stop")
	}

	require.NoError(t, rig.radio.Close())
	require.NoError(t, rig.radio.Close())
	assert.True(t, rig.capture.Closed)
	assert.True(t, rig.ptt.closed)
	assert.Equal(t, 1, rig.transport.closes)
}

func TestRunOpenFailure(t *testing.T) {
	rig := newTestRig(t, testConfig(ModeRadio, "tx_switch"))
	rig.transport.openErr = errors.New("no such device")
	err := rig.radio.Run(context.Background())
	assert.ErrorIs(t, err, ErrInit)
}
