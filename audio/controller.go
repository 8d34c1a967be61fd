// audio/controller.go
package audio

import (
	"fmt"
	"sync/atomic"
)

// State 半双工电台状态，符号表示方向
type State int32

const (
	RXSwitch State = -2
	RX       State = -1
	Idle     State = 0
	TX       State = 1
	TXSwitch State = 2
)

func (s State) String() string {
	switch s {
	case RXSwitch:
		return "rx_switch"
	case RX:
		return "rx"
	case Idle:
		return "idle"
	case TX:
		return "tx"
	case TXSwitch:
		return "tx_switch"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Settled 报告是否为稳定状态(非切换中)
func (s State) Settled() bool {
	return s >= RX && s <= TX
}

// ParseState 解析配置中的状态名
func ParseState(name string) (State, error) {
	for _, s := range []State{RXSwitch, RX, Idle, TX, TXSwitch} {
		if s.String() == name {
			return s, nil
		}
	}
	return Idle, fmt.Errorf("unknown radio state %q", name)
}

// Controller 控制线程请求方向切换，音频线程完成切换。
// 所有修改都是比较并交换，两个线程之间不加锁。
type Controller struct {
	state atomic.Int32
}

// NewController 创建新的电台状态机
func NewController(initial State) *Controller {
	c := &Controller{}
	c.state.Store(int32(initial))
	return c
}

func (c *Controller) State() State {
	return State(c.state.Load())
}

// Request 由控制线程根据PTT信号调用，只看talk的符号。
// TX松开 -> RXSwitch，RX按下 -> TXSwitch，Idle按符号进入对应的切换状态。
func (c *Controller) Request(talk int) State {
	cur := c.State()
	next := cur
	switch {
	case cur == TX && talk < 0:
		next = RXSwitch
	case cur == RX && talk > 0:
		next = TXSwitch
	case cur == Idle && talk > 0:
		next = TXSwitch
	case cur == Idle && talk < 0:
		next = RXSwitch
	}
	if next == cur || !c.state.CompareAndSwap(int32(cur), int32(next)) {
		return c.State()
	}
	return next
}

// Resolve 由音频线程在每个节拍开始时调用。
// 处于切换状态时先执行apply(暂停/恢复硬件方向)，成功后发布稳定状态；
// apply失败时保持切换状态，下个节拍重试。
func (c *Controller) Resolve(apply func(from, to State) error) (State, error) {
	cur := c.State()
	var to State
	switch cur {
	case TXSwitch:
		to = TX
	case RXSwitch:
		to = RX
	default:
		return cur, nil
	}

	if apply != nil {
		if err := apply(cur, to); err != nil {
			return cur, err
		}
	}
	if !c.state.CompareAndSwap(int32(cur), int32(to)) {
		// 只有音频线程能离开切换状态
		return c.State(), fmt.Errorf("radio state changed during switch from %s", cur)
	}
	return to, nil
}
