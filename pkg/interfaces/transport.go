// pkg/interfaces/transport.go
package interfaces

import (
	"context"
	"errors"
)

var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrConnectionLost   = errors.New("connection lost")
	ErrNotConnected     = errors.New("not connected")
)

// Transport 以固定大小的编码帧为单位收发
type Transport interface {
	Open(ctx context.Context) error
	// Send 发送一个完整的编码帧
	Send(ctx context.Context, packet []byte) error
	// Receive 在ctx截止前读取一个完整的编码帧到packet。
	// 截止时没有完整帧返回0, nil。
	Receive(ctx context.Context, packet []byte) (int, error)
	Close() error
	Name() string
}

// Flusher 可选接口，切换方向时丢弃已缓冲的输入
type Flusher interface {
	Flush() error
}

// PTT 按键通话信号源，只使用返回值的符号：正数为发射，负数为接收
type PTT interface {
	Read() (int, error)
	Close() error
}
