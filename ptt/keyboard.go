package ptt

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/term"

	"github.com/lisuiheng/pttradio/pkg/interfaces"
)

var _ interfaces.PTT = (*Keyboard)(nil)

// Keyboard 终端按键PTT：最后一次按下的键是talkKey时发射，其它键接收
type Keyboard struct {
	talkKey byte
	logger  *slog.Logger

	last    atomic.Int32 // 最后一次按键，0表示还没有按键
	mu      sync.Mutex
	readErr error

	restore   func() error
	closeOnce sync.Once
	closeErr  error
}

// NewKeyboard 把标准输入切到非规范无回显模式，Close时恢复
func NewKeyboard(talkKey string, logger *slog.Logger) (*Keyboard, error) {
	if len(talkKey) != 1 {
		return nil, errors.New("talk key must be a single character")
	}

	fd := int(os.Stdin.Fd())
	restore := func() error { return nil }
	if term.IsTerminal(fd) {
		r, err := configureTerminal(fd)
		if err != nil {
			return nil, err
		}
		restore = r
	} else {
		logger.Warn("stdin is not a terminal, keys are read line buffered")
	}

	k := newKeyboard(os.Stdin, talkKey[0], restore, logger)
	logger.Info("Keyboard PTT ready", "talk_key", talkKey)
	return k, nil
}

func newKeyboard(r io.Reader, talkKey byte, restore func() error, logger *slog.Logger) *Keyboard {
	k := &Keyboard{talkKey: talkKey, logger: logger, restore: restore}
	go k.readLoop(r)
	return k
}

func (k *Keyboard) readLoop(r io.Reader) {
	buf := make([]byte, 16)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			k.last.Store(int32(buf[n-1]))
		}
		if err != nil {
			k.mu.Lock()
			k.readErr = err
			k.mu.Unlock()
			k.logger.Debug("keyboard input stopped", "error", err)
			return
		}
	}
}

// Read 返回+1(发射)或-1(接收)。输入结束后返回错误，调用方保持上一次的信号。
func (k *Keyboard) Read() (int, error) {
	k.mu.Lock()
	err := k.readErr
	k.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if byte(k.last.Load()) == k.talkKey {
		return 1, nil
	}
	return -1, nil
}

// Close 恢复终端设置，阻塞在标准输入上的读协程随进程退出
func (k *Keyboard) Close() error {
	k.closeOnce.Do(func() {
		k.closeErr = k.restore()
	})
	return k.closeErr
}

// Fixed 固定信号，用于只收不发的监听台和测试
type Fixed struct {
	Signal int
}

var _ interfaces.PTT = Fixed{}

func (f Fixed) Read() (int, error) { return f.Signal, nil }

func (f Fixed) Close() error { return nil }
