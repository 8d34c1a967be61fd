package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lisuiheng/pttradio/pkg/interfaces"
)

// 接收队列长度，满了丢弃最旧的帧
const queueSize = 16

// conn 一条websocket连接，每个二进制消息承载一个编码帧
type conn struct {
	ws         *websocket.Conn
	packetSize int
	logger     *slog.Logger

	msgChan chan []byte
	done    chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, packetSize int, logger *slog.Logger) *conn {
	c := &conn{
		ws:         ws,
		packetSize: packetSize,
		logger:     logger,
		msgChan:    make(chan []byte, queueSize),
		done:       make(chan struct{}),
	}
	go c.readPump()
	return c
}

func (c *conn) readPump() {
	defer close(c.done)
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Debug("websocket read stopped", "error", err)
			return
		}
		if msgType != websocket.BinaryMessage {
			c.logger.Debug("ignoring non-binary message", "type", msgType, "size", len(data))
			continue
		}
		if len(data) != c.packetSize {
			c.logger.Warn("dropping packet with unexpected size", "size", len(data), "expected", c.packetSize)
			continue
		}

		select {
		case c.msgChan <- data:
		default:
			// 只有readPump写入，丢掉一个之后一定有空位
			select {
			case <-c.msgChan:
			default:
			}
			c.msgChan <- data
		}
	}
}

func (c *conn) send(ctx context.Context, packet []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrConnectionLost, err)
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, packet); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrConnectionLost, err)
	}
	return nil
}

// receive 等待一个完整帧，ctx截止时返回0, nil
func (c *conn) receive(ctx context.Context, packet []byte) (int, error) {
	select {
	case data := <-c.msgChan:
		return copy(packet, data), nil
	case <-c.done:
		select {
		case data := <-c.msgChan:
			return copy(packet, data), nil
		default:
			return 0, interfaces.ErrConnectionLost
		}
	case <-ctx.Done():
		return 0, nil
	}
}

func (c *conn) flush() {
	for {
		select {
		case <-c.msgChan:
		default:
			return
		}
	}
}

func (c *conn) alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *conn) close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
		<-c.done
	})
	return err
}
