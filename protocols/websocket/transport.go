package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lisuiheng/pttradio/pkg/interfaces"
)

var (
	_ interfaces.Transport = (*Client)(nil)
	_ interfaces.Flusher   = (*Client)(nil)
	_ interfaces.Transport = (*Listener)(nil)
	_ interfaces.Flusher   = (*Listener)(nil)
)

// Config 定义websocket特有的配置
type Config struct {
	URL             string
	Listen          string
	Path            string
	AccessToken     string
	ProtocolVersion int
	DeviceID        string
	// PacketSize 每个消息的字节数，其它长度的消息被丢弃
	PacketSize int
}

func (c Config) validate() error {
	if c.PacketSize <= 0 {
		return fmt.Errorf("invalid packet size: %d", c.PacketSize)
	}
	return nil
}

// Client 主动连接对端电台或中继服务器
type Client struct {
	config Config
	logger *slog.Logger

	mu   sync.Mutex
	conn *conn
}

func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if config.URL == "" {
		return nil, errors.New("websocket url is required")
	}
	return &Client{config: config, logger: logger}, nil
}

// Open 建立连接，已连接时直接返回
func (p *Client) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil && p.conn.alive() {
		return nil
	}

	headers := http.Header{}
	if p.config.AccessToken != "" {
		headers.Set("Authorization", fmt.Sprintf("Bearer %s", p.config.AccessToken))
	}
	headers.Set("Protocol-Version", strconv.Itoa(p.config.ProtocolVersion))
	if p.config.DeviceID != "" {
		headers.Set("Device-Id", p.config.DeviceID)
	}

	dialer := websocket.DefaultDialer
	ws, _, err := dialer.DialContext(ctx, p.config.URL, headers)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrConnectionFailed, err)
	}
	p.conn = newConn(ws, p.config.PacketSize, p.logger)
	p.logger.Info("Websocket connected", "url", p.config.URL)
	return nil
}

func (p *Client) current() *conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

func (p *Client) Send(ctx context.Context, packet []byte) error {
	c := p.current()
	if c == nil {
		return interfaces.ErrNotConnected
	}
	return c.send(ctx, packet)
}

func (p *Client) Receive(ctx context.Context, packet []byte) (int, error) {
	c := p.current()
	if c == nil {
		return 0, interfaces.ErrNotConnected
	}
	return c.receive(ctx, packet)
}

func (p *Client) Flush() error {
	if c := p.current(); c != nil {
		c.flush()
	}
	return nil
}

func (p *Client) Name() string { return "websocket" }

// Close 断开连接，之后可以再次Open
func (p *Client) Close() error {
	p.mu.Lock()
	c := p.conn
	p.conn = nil
	p.mu.Unlock()

	if c == nil {
		return nil
	}
	return c.close()
}

// Listener 在Path上等待一个对端连接，同一时间只服务一个对端
type Listener struct {
	config   Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	ln     net.Listener
	server *http.Server
	peer   *conn
}

func NewListener(config Config, logger *slog.Logger) (*Listener, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if config.Listen == "" {
		return nil, errors.New("websocket listen address is required")
	}
	if config.Path == "" {
		config.Path = "/"
	}
	return &Listener{
		config: config,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

func (l *Listener) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.server != nil {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.config.Listen)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrConnectionFailed, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(l.config.Path, l.handle)
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("Websocket server stopped", "error", err)
		}
	}()

	l.ln = ln
	l.server = server
	l.logger.Info("Websocket listening", "addr", ln.Addr().String(), "path", l.config.Path)
	return nil
}

func (l *Listener) handle(w http.ResponseWriter, r *http.Request) {
	if l.config.AccessToken != "" && r.Header.Get("Authorization") != "Bearer "+l.config.AccessToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.peer != nil && l.peer.alive() {
		http.Error(w, "peer already connected", http.StatusConflict)
		return
	}

	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	l.peer = newConn(ws, l.config.PacketSize, l.logger)
	l.logger.Info("Peer connected",
		"remote", r.RemoteAddr,
		"device_id", r.Header.Get("Device-Id"),
		"protocol_version", r.Header.Get("Protocol-Version"))
}

// Addr 实际监听地址，未Open时为空
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return ""
	}
	return l.ln.Addr().String()
}

// Connected 是否有对端在线
func (l *Listener) Connected() bool {
	c := l.current()
	return c != nil && c.alive()
}

func (l *Listener) current() *conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peer
}

func (l *Listener) dropPeer(c *conn) {
	l.mu.Lock()
	if l.peer == c {
		l.peer = nil
	}
	l.mu.Unlock()
	_ = c.close()
	l.logger.Info("Peer disconnected")
}

func (l *Listener) Send(ctx context.Context, packet []byte) error {
	c := l.current()
	if c == nil {
		return interfaces.ErrNotConnected
	}
	if err := c.send(ctx, packet); err != nil {
		l.dropPeer(c)
		return fmt.Errorf("%w: %v", interfaces.ErrNotConnected, err)
	}
	return nil
}

// Receive 没有对端时等到ctx截止后返回0, nil，对端断开不算错误
func (l *Listener) Receive(ctx context.Context, packet []byte) (int, error) {
	c := l.current()
	if c == nil {
		<-ctx.Done()
		return 0, nil
	}
	n, err := c.receive(ctx, packet)
	if errors.Is(err, interfaces.ErrConnectionLost) {
		l.dropPeer(c)
		return 0, nil
	}
	return n, err
}

func (l *Listener) Flush() error {
	if c := l.current(); c != nil {
		c.flush()
	}
	return nil
}

func (l *Listener) Name() string { return "websocket-listener" }

func (l *Listener) Close() error {
	l.mu.Lock()
	server, peer := l.server, l.peer
	l.server, l.ln, l.peer = nil, nil, nil
	l.mu.Unlock()

	var errs []error
	if peer != nil {
		errs = append(errs, peer.close())
	}
	if server != nil {
		errs = append(errs, server.Close())
	}
	return errors.Join(errs...)
}
