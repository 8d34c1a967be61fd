package audio

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControllerRequestTable(t *testing.T) {
	tests := []struct {
		from State
		talk int
		want State
	}{
		{TX, -1, RXSwitch},
		{TX, 1, TX},
		{TX, 0, TX},
		{RX, 1, TXSwitch},
		{RX, -1, RX},
		{RX, 0, RX},
		{Idle, 1, TXSwitch},
		{Idle, -5, RXSwitch},
		{Idle, 0, Idle},
		{TXSwitch, -1, TXSwitch},
		{TXSwitch, 1, TXSwitch},
		{RXSwitch, 1, RXSwitch},
		{RXSwitch, -1, RXSwitch},
	}
	for _, tt := range tests {
		t.Run(tt.from.String(), func(t *testing.T) {
			c := NewController(tt.from)
			assert.Equal(t, tt.want, c.Request(tt.talk))
			assert.Equal(t, tt.want, c.State())
		})
	}
}

func TestControllerResolve(t *testing.T) {
	tests := []struct {
		from State
		want State
	}{
		{TXSwitch, TX},
		{RXSwitch, RX},
		{TX, TX},
		{RX, RX},
		{Idle, Idle},
	}
	for _, tt := range tests {
		t.Run(tt.from.String(), func(t *testing.T) {
			c := NewController(tt.from)
			var applied []State
			got, err := c.Resolve(func(from, to State) error {
				applied = append(applied, from, to)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, c.State())
			if tt.from.Settled() {
				assert.Empty(t, applied)
			} else {
				assert.Equal(t, []State{tt.from, tt.want}, applied)
			}
		})
	}
}

func TestControllerResolveApplyFailure(t *testing.T) {
	c := NewController(RXSwitch)
	got, err := c.Resolve(func(from, to State) error { return errors.New("pause failed") })
	assert.Error(t, err)
	assert.Equal(t, RXSwitch, got)
	assert.Equal(t, RXSwitch, c.State())

	got, err = c.Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, RX, got)
}

func TestControllerFullCycle(t *testing.T) {
	c := NewController(TXSwitch)

	got, err := c.Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, TX, got)

	assert.Equal(t, RXSwitch, c.Request(-1))
	got, _ = c.Resolve(nil)
	assert.Equal(t, RX, got)

	assert.Equal(t, TXSwitch, c.Request(1))
	got, _ = c.Resolve(nil)
	assert.Equal(t, TX, got)
}

func TestControllerConcurrentRequestResolve(t *testing.T) {
	c := NewController(TXSwitch)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 10000; i++ {
			if i%2 == 0 {
				c.Request(1)
			} else {
				c.Request(-1)
			}
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 10000; i++ {
			s, err := c.Resolve(nil)
			assert.NoError(t, err)
			assert.True(t, s.Settled(), "resolve must leave a settled state, got %s", s)
		}
	}()

	wg.Wait()
	// 状态值始终在合法范围内
	assert.GreaterOrEqual(t, int32(c.State()), int32(RXSwitch))
	assert.LessOrEqual(t, int32(c.State()), int32(TXSwitch))
}

func TestParseState(t *testing.T) {
	s, err := ParseState("tx_switch")
	require.NoError(t, err)
	assert.Equal(t, TXSwitch, s)

	s, err = ParseState("idle")
	require.NoError(t, err)
	assert.Equal(t, Idle, s)

	_, err = ParseState("bogus")
	assert.Error(t, err)
}
