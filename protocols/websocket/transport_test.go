package websocket

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lisuiheng/pttradio/pkg/interfaces"
)

const testPacketSize = 20

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPacket(b byte) []byte {
	p := make([]byte, testPacketSize)
	for i := range p {
		p[i] = b
	}
	return p
}

func receiveWithin(t *testing.T, tr interfaces.Transport, d time.Duration) ([]byte, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	buf := make([]byte, testPacketSize)
	n, err := tr.Receive(ctx, buf)
	return buf[:n], err
}

// startPair 启动Listener并让Client连上
func startPair(t *testing.T, token string) (*Listener, *Client) {
	t.Helper()
	l, err := NewListener(Config{
		Listen:      "127.0.0.1:0",
		Path:        "/radio",
		AccessToken: token,
		PacketSize:  testPacketSize,
	}, testLogger())
	require.NoError(t, err)
	require.NoError(t, l.Open(context.Background()))
	t.Cleanup(func() { _ = l.Close() })

	c, err := NewClient(Config{
		URL:             "ws://" + l.Addr() + "/radio",
		AccessToken:     token,
		ProtocolVersion: 1,
		DeviceID:        "radio-a",
		PacketSize:      testPacketSize,
	}, testLogger())
	require.NoError(t, err)
	require.NoError(t, c.Open(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	require.Eventually(t, l.Connected, time.Second, 5*time.Millisecond)
	return l, c
}

func TestConfigValidation(t *testing.T) {
	_, err := NewClient(Config{URL: "ws://localhost"}, testLogger())
	assert.Error(t, err)
	_, err = NewClient(Config{PacketSize: 20}, testLogger())
	assert.Error(t, err)
	_, err = NewListener(Config{PacketSize: 20}, testLogger())
	assert.Error(t, err)
}

func TestClientToListener(t *testing.T) {
	l, c := startPair(t, "secret")

	require.NoError(t, c.Send(context.Background(), testPacket(7)))
	got, err := receiveWithin(t, l, time.Second)
	require.NoError(t, err)
	assert.Equal(t, testPacket(7), got)

	require.NoError(t, l.Send(context.Background(), testPacket(9)))
	got, err = receiveWithin(t, c, time.Second)
	require.NoError(t, err)
	assert.Equal(t, testPacket(9), got)
}

func TestWrongSizeDropped(t *testing.T) {
	l, c := startPair(t, "")

	require.NoError(t, c.Send(context.Background(), []byte{1, 2, 3}))
	require.NoError(t, c.Send(context.Background(), testPacket(4)))

	got, err := receiveWithin(t, l, time.Second)
	require.NoError(t, err)
	assert.Equal(t, testPacket(4), got)
}

func TestReceiveTimeout(t *testing.T) {
	l, c := startPair(t, "")

	got, err := receiveWithin(t, c, 20*time.Millisecond)
	assert.NoError(t, err)
	assert.Empty(t, got)

	got, err = receiveWithin(t, l, 20*time.Millisecond)
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestFlushDiscardsQueued(t *testing.T) {
	l, c := startPair(t, "")

	require.NoError(t, c.Send(context.Background(), testPacket(1)))
	require.NoError(t, c.Send(context.Background(), testPacket(2)))
	require.Eventually(t, func() bool {
		return len(l.current().msgChan) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, l.Flush())
	got, err := receiveWithin(t, l, 20*time.Millisecond)
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestUnauthorizedRejected(t *testing.T) {
	l, _ := startPair(t, "secret")

	c, err := NewClient(Config{
		URL:         "ws://" + l.Addr() + "/radio",
		AccessToken: "wrong",
		PacketSize:  testPacketSize,
	}, testLogger())
	require.NoError(t, err)
	assert.ErrorIs(t, c.Open(context.Background()), interfaces.ErrConnectionFailed)
}

func TestSecondPeerRejected(t *testing.T) {
	l, _ := startPair(t, "")

	c, err := NewClient(Config{URL: "ws://" + l.Addr() + "/radio", PacketSize: testPacketSize}, testLogger())
	require.NoError(t, err)
	assert.ErrorIs(t, c.Open(context.Background()), interfaces.ErrConnectionFailed)
}

func TestNotConnected(t *testing.T) {
	c, err := NewClient(Config{URL: "ws://127.0.0.1:1/radio", PacketSize: testPacketSize}, testLogger())
	require.NoError(t, err)
	assert.ErrorIs(t, c.Send(context.Background(), testPacket(1)), interfaces.ErrNotConnected)
	_, err = c.Receive(context.Background(), make([]byte, testPacketSize))
	assert.ErrorIs(t, err, interfaces.ErrNotConnected)

	l, err := NewListener(Config{Listen: "127.0.0.1:0", PacketSize: testPacketSize}, testLogger())
	require.NoError(t, err)
	require.NoError(t, l.Open(context.Background()))
	defer l.Close()
	assert.ErrorIs(t, l.Send(context.Background(), testPacket(1)), interfaces.ErrNotConnected)
}

func TestConnectionLostAndReopen(t *testing.T) {
	l, c := startPair(t, "")

	require.NoError(t, l.Close())
	_, err := receiveWithin(t, c, time.Second)
	assert.ErrorIs(t, err, interfaces.ErrConnectionLost)

	// 重新监听后客户端可以再次连接
	l.config.Listen = "127.0.0.1:0"
	require.NoError(t, l.Open(context.Background()))
	c.config.URL = "ws://" + l.Addr() + "/radio"
	require.NoError(t, c.Close())
	require.NoError(t, c.Open(context.Background()))
	require.Eventually(t, l.Connected, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Send(context.Background(), testPacket(5)))
	got, err := receiveWithin(t, l, time.Second)
	require.NoError(t, err)
	assert.Equal(t, testPacket(5), got)
}
