package serial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/lisuiheng/pttradio/pkg/interfaces"
)

var (
	_ interfaces.Transport = (*Transport)(nil)
	_ interfaces.Flusher   = (*Transport)(nil)
)

const defaultReadTimeout = 10 * time.Millisecond

type Config struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration
	PacketSize  int
}

// OpenFunc 打开串口，测试时替换
type OpenFunc func(name string, mode *serial.Mode) (serial.Port, error)

// Transport 在串口上收发定长原始帧，没有额外的帧头
type Transport struct {
	config Config
	open   OpenFunc
	logger *slog.Logger

	mu      sync.Mutex
	port    serial.Port
	pending []byte // 不足一帧的已读字节
}

func NewTransport(config Config, logger *slog.Logger) (*Transport, error) {
	return newTransport(config, serial.Open, logger)
}

func newTransport(config Config, open OpenFunc, logger *slog.Logger) (*Transport, error) {
	if config.Port == "" {
		return nil, errors.New("serial port is required")
	}
	if config.PacketSize <= 0 {
		return nil, fmt.Errorf("invalid packet size: %d", config.PacketSize)
	}
	if config.BaudRate <= 0 {
		return nil, fmt.Errorf("invalid baud rate: %d", config.BaudRate)
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaultReadTimeout
	}
	return &Transport{
		config:  config,
		open:    open,
		logger:  logger,
		pending: make([]byte, 0, config.PacketSize),
	}, nil
}

func (t *Transport) Open(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port != nil {
		return nil
	}
	port, err := t.open(t.config.Port, &serial.Mode{BaudRate: t.config.BaudRate})
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrConnectionFailed, err)
	}
	if err := port.SetReadTimeout(t.config.ReadTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("%w: set read timeout: %v", interfaces.ErrConnectionFailed, err)
	}

	t.port = port
	t.pending = t.pending[:0]
	t.logger.Info("Serial port opened", "port", t.config.Port, "baud_rate", t.config.BaudRate)
	return nil
}

// Send 写出整个帧
func (t *Transport) Send(_ context.Context, packet []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return interfaces.ErrNotConnected
	}
	for written := 0; written < len(packet); {
		n, err := t.port.Write(packet[written:])
		if err != nil {
			return fmt.Errorf("%w: %v", interfaces.ErrConnectionLost, err)
		}
		written += n
	}
	return nil
}

// Receive 读满一帧或到ctx截止。未读满的字节保留到下一次调用。
func (t *Transport) Receive(ctx context.Context, packet []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return 0, interfaces.ErrNotConnected
	}

	size := t.config.PacketSize
	for len(t.pending) < size {
		if ctx.Err() != nil {
			return 0, nil
		}
		n, err := t.port.Read(t.pending[len(t.pending):size])
		if err != nil {
			return 0, fmt.Errorf("%w: %v", interfaces.ErrConnectionLost, err)
		}
		t.pending = t.pending[:len(t.pending)+n]
	}

	n := copy(packet, t.pending)
	t.pending = t.pending[:0]
	return n, nil
}

// Flush 丢弃串口输入缓冲和未读满的字节
func (t *Transport) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending = t.pending[:0]
	if t.port == nil {
		return nil
	}
	return t.port.ResetInputBuffer()
}

func (t *Transport) Name() string { return "serial" }

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}
