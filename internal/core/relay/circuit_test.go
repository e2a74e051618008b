package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/relayd/pkg/types"
)

type circuitFixture struct {
	clk          *clock.Mock
	reservations *ReservationStore
	table        *CircuitTable

	mu     sync.Mutex
	closed map[types.CircuitID]CloseReason
	calls  int
}

func newCircuitFixture(t *testing.T, mutate func(*Config)) *circuitFixture {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clk := clock.NewMock()
	f := &circuitFixture{clk: clk, closed: make(map[types.CircuitID]CloseReason)}
	f.reservations = NewReservationStore(cfg, NewLimiter(cfg.ReservationRate, clk), clk, nil)
	f.table = NewCircuitTable(cfg, f.reservations, NewLimiter(cfg.CircuitRate, clk), clk)
	f.table.SetCloseHandler(func(c *Circuit, reason CloseReason) {
		f.mu.Lock()
		f.closed[c.ID] = reason
		f.calls++
		f.mu.Unlock()
	})
	return f
}

func (f *circuitFixture) reserve(t *testing.T, p types.PeerID) {
	t.Helper()
	_, err := f.reservations.Reserve(p, time.Hour)
	require.NoError(t, err)
}

// open 创建电路并交付两端流
func (f *circuitFixture) open(t *testing.T, src, dst types.PeerID) *Circuit {
	t.Helper()
	c, err := f.table.Open(src, dst, 0)
	require.NoError(t, err)
	s, _ := newStreamPair()
	d, _ := newStreamPair()
	require.NoError(t, f.table.Attach(c.ID, s, d))
	return c
}

func (f *circuitFixture) closeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestCircuitTable_Open(t *testing.T) {
	a, b := testPeer(1), testPeer(2)

	t.Run("src 与 dst 相同", func(t *testing.T) {
		f := newCircuitFixture(t, nil)
		f.reserve(t, a)
		_, err := f.table.Open(a, a, 0)
		assert.ErrorIs(t, err, ErrMalformedRequest)
	})

	t.Run("无预留总是 NoReservation，且不消耗限流令牌", func(t *testing.T) {
		f := newCircuitFixture(t, func(c *Config) {
			c.CircuitRate = Rate{Limit: 1, Interval: time.Hour}
		})
		for i := 0; i < 3; i++ {
			_, err := f.table.Open(b, a, 0)
			assert.ErrorIs(t, err, ErrNoReservation)
		}

		f.reserve(t, a)
		_, err := f.table.Open(b, a, 0)
		require.NoError(t, err)

		// 令牌已用完，但无预留的目标仍然返回 NoReservation
		_, err = f.table.Open(b, testPeer(9), 0)
		assert.ErrorIs(t, err, ErrNoReservation)
		_, err = f.table.Open(b, a, 0)
		assert.ErrorIs(t, err, ErrRateLimited)
	})

	t.Run("过期预留视为不存在", func(t *testing.T) {
		f := newCircuitFixture(t, nil)
		_, err := f.reservations.Reserve(a, time.Minute)
		require.NoError(t, err)
		f.clk.Add(time.Minute)
		_, err = f.table.Open(b, a, 0)
		assert.ErrorIs(t, err, ErrNoReservation)
	})

	t.Run("时长截断，0 取最大值", func(t *testing.T) {
		f := newCircuitFixture(t, func(c *Config) { c.MaxCircuitDuration = 10 * time.Minute })
		f.reserve(t, a)

		c, err := f.table.Open(b, a, 0)
		require.NoError(t, err)
		assert.Equal(t, 10*time.Minute, c.MaxDuration)

		c, err = f.table.Open(b, a, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 10*time.Minute, c.MaxDuration)

		c, err = f.table.Open(b, a, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, time.Minute, c.MaxDuration)
		assert.Equal(t, f.clk.Now().Add(time.Minute), c.Deadline())
	})

	t.Run("新电路处于 Open 且配额满", func(t *testing.T) {
		f := newCircuitFixture(t, func(c *Config) { c.MaxCircuitBytes = 1000 })
		f.reserve(t, a)
		c, err := f.table.Open(b, a, 600*time.Second)
		require.NoError(t, err)
		assert.Equal(t, CircuitOpen, c.State())
		assert.Equal(t, uint64(1000), c.BytesRemaining())
		assert.Len(t, c.ID.String(), 36)
	})

	t.Run("单目标电路上限", func(t *testing.T) {
		f := newCircuitFixture(t, func(c *Config) { c.MaxCircuitsPerPeer = 2 })
		f.reserve(t, a)
		f.reserve(t, testPeer(3))

		_, err := f.table.Open(b, a, 0)
		require.NoError(t, err)
		c2, err := f.table.Open(b, a, 0)
		require.NoError(t, err)
		_, err = f.table.Open(b, a, 0)
		assert.ErrorIs(t, err, ErrCapacityExceeded)
		assert.Equal(t, 2, f.table.CountForPeer(a))

		// 其他目标不受影响
		_, err = f.table.Open(b, testPeer(3), 0)
		assert.NoError(t, err)

		// 关闭一条后恢复
		require.NoError(t, f.table.Close(c2.ID, ClosePeerClosed))
		_, err = f.table.Open(b, a, 0)
		assert.NoError(t, err)
	})

	t.Run("全局电路上限", func(t *testing.T) {
		f := newCircuitFixture(t, func(c *Config) { c.MaxCircuits = 1 })
		f.reserve(t, a)
		f.reserve(t, testPeer(3))
		_, err := f.table.Open(b, a, 0)
		require.NoError(t, err)
		_, err = f.table.Open(b, testPeer(3), 0)
		assert.ErrorIs(t, err, ErrCapacityExceeded)
	})
}

func TestCircuitTable_Forward(t *testing.T) {
	a, b := testPeer(1), testPeer(2)

	t.Run("配额耗尽只授予前缀", func(t *testing.T) {
		f := newCircuitFixture(t, func(c *Config) { c.MaxCircuitBytes = 10 })
		f.reserve(t, a)
		c, err := f.table.Open(b, a, 0)
		require.NoError(t, err)

		n, err := f.table.Forward(c.ID, make([]byte, 6))
		require.NoError(t, err)
		assert.Equal(t, 6, n)
		assert.Equal(t, uint64(4), c.BytesRemaining())

		n, err = f.table.Forward(c.ID, make([]byte, 6))
		assert.ErrorIs(t, err, ErrQuotaExceeded)
		assert.Equal(t, 4, n)
		assert.Equal(t, uint64(0), c.BytesRemaining())
		assert.Equal(t, CircuitClosing, c.State())

		// Closing 之后不再授予，后续调用方得到 Closing 及其原因
		n, err = f.table.Forward(c.ID, make([]byte, 1))
		assert.ErrorIs(t, err, ErrCircuitClosing)
		assert.ErrorIs(t, err, ErrQuotaExceeded)
		assert.Equal(t, 0, n)

		assert.Equal(t, uint64(10), f.table.BytesRelayed())
	})

	t.Run("恰好用完配额后下一次超额", func(t *testing.T) {
		f := newCircuitFixture(t, func(c *Config) { c.MaxCircuitBytes = 8 })
		f.reserve(t, a)
		c, err := f.table.Open(b, a, 0)
		require.NoError(t, err)

		n, err := f.table.Forward(c.ID, make([]byte, 8))
		require.NoError(t, err)
		assert.Equal(t, 8, n)

		n, err = f.table.Forward(c.ID, make([]byte, 1))
		assert.ErrorIs(t, err, ErrQuotaExceeded)
		assert.Equal(t, 0, n)
	})

	t.Run("到期时不再授予", func(t *testing.T) {
		f := newCircuitFixture(t, nil)
		f.reserve(t, a)
		c, err := f.table.Open(b, a, time.Minute)
		require.NoError(t, err)

		f.clk.Add(59 * time.Second)
		n, err := f.table.Forward(c.ID, []byte("x"))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		f.clk.Add(time.Second)
		n, err = f.table.Forward(c.ID, []byte("x"))
		assert.ErrorIs(t, err, ErrDurationExceeded)
		assert.NotErrorIs(t, err, ErrCircuitClosing)
		assert.Equal(t, 0, n)
		assert.Equal(t, CircuitClosing, c.State())

		_, err = f.table.Forward(c.ID, []byte("x"))
		assert.ErrorIs(t, err, ErrCircuitClosing)
		assert.ErrorIs(t, err, ErrDurationExceeded)

		require.NoError(t, f.table.Close(c.ID, CloseDurationExceeded))
		_, err = f.table.Forward(c.ID, []byte("x"))
		assert.ErrorIs(t, err, ErrCircuitNotFound)
	})

	t.Run("未知电路", func(t *testing.T) {
		f := newCircuitFixture(t, nil)
		_, err := f.table.Forward(types.NewCircuitID(), []byte("x"))
		assert.ErrorIs(t, err, ErrCircuitNotFound)
	})
}

func TestCircuitTable_Close(t *testing.T) {
	a, b := testPeer(1), testPeer(2)

	t.Run("释放两端流且只回调一次", func(t *testing.T) {
		f := newCircuitFixture(t, nil)
		f.reserve(t, a)
		c, err := f.table.Open(b, a, 0)
		require.NoError(t, err)

		src, _ := newStreamPair()
		dst, _ := newStreamPair()
		require.NoError(t, f.table.Attach(c.ID, src, dst))

		require.NoError(t, f.table.Close(c.ID, ClosePeerClosed))
		require.NoError(t, f.table.Close(c.ID, CloseQuotaExceeded))

		assert.True(t, src.released())
		assert.True(t, dst.released())
		assert.Equal(t, CircuitClosed, c.State())
		assert.Equal(t, ClosePeerClosed, c.CloseReason())
		assert.Equal(t, 1, f.closeCalls())
		assert.Equal(t, 0, f.table.Len())
		assert.Equal(t, 0, f.table.CountForPeer(a))

		select {
		case <-c.Done():
		default:
			t.Fatal("Done 应已关闭")
		}

		n, err := f.table.Forward(c.ID, []byte("x"))
		assert.Error(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("Abort 不触发回调", func(t *testing.T) {
		f := newCircuitFixture(t, nil)
		f.reserve(t, a)
		c, err := f.table.Open(b, a, 0)
		require.NoError(t, err)

		f.table.Abort(c.ID)
		assert.Equal(t, 0, f.table.Len())
		assert.Equal(t, 0, f.closeCalls())
	})

	t.Run("Attach 设置截止时间", func(t *testing.T) {
		f := newCircuitFixture(t, nil)
		f.reserve(t, a)
		c, err := f.table.Open(b, a, 10*time.Minute)
		require.NoError(t, err)

		src, _ := newStreamPair()
		dst, _ := newStreamPair()
		before := time.Now()
		require.NoError(t, f.table.Attach(c.ID, src, dst))

		deadline, ok := src.lastDeadline()
		require.True(t, ok)
		assert.WithinDuration(t, before.Add(10*time.Minute), deadline, 5*time.Second)
		_, ok = dst.lastDeadline()
		assert.True(t, ok)
	})

	t.Run("Attach 到已关闭电路", func(t *testing.T) {
		f := newCircuitFixture(t, nil)
		f.reserve(t, a)
		c, err := f.table.Open(b, a, 0)
		require.NoError(t, err)
		require.NoError(t, f.table.Close(c.ID, CloseRelayShutdown))

		src, _ := newStreamPair()
		dst, _ := newStreamPair()
		assert.ErrorIs(t, f.table.Attach(c.ID, src, dst), ErrCircuitClosed)
		assert.False(t, src.released(), "两端流仍归调用方")
		assert.False(t, dst.released())
		assert.False(t, c.Attached())
	})

	t.Run("配额耗尽正常关闭流，其余原因重置", func(t *testing.T) {
		f := newCircuitFixture(t, nil)
		f.reserve(t, a)

		quota, err := f.table.Open(b, a, 0)
		require.NoError(t, err)
		src, _ := newStreamPair()
		dst, _ := newStreamPair()
		require.NoError(t, f.table.Attach(quota.ID, src, dst))
		require.NoError(t, f.table.Close(quota.ID, CloseQuotaExceeded))
		assert.True(t, src.closed.Load())
		assert.False(t, src.reset.Load())
		assert.True(t, dst.closed.Load())

		expired, err := f.table.Open(b, a, 0)
		require.NoError(t, err)
		src, _ = newStreamPair()
		dst, _ = newStreamPair()
		require.NoError(t, f.table.Attach(expired.ID, src, dst))
		require.NoError(t, f.table.Close(expired.ID, CloseDurationExceeded))
		assert.True(t, src.reset.Load())
		assert.True(t, dst.reset.Load())
	})
}

func TestCircuitTable_Shutdown(t *testing.T) {
	a, b := testPeer(1), testPeer(2)
	f := newCircuitFixture(t, nil)
	f.reserve(t, a)

	attached, err := f.table.Open(b, a, 0)
	require.NoError(t, err)
	src, _ := newStreamPair()
	dst, _ := newStreamPair()
	require.NoError(t, f.table.Attach(attached.ID, src, dst))

	// STOP 握手尚未完成的电路
	pending, err := f.table.Open(b, a, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, f.table.Shutdown())
	assert.Equal(t, 0, f.table.Len())
	assert.True(t, src.reset.Load())
	assert.True(t, dst.reset.Load())

	// 只有已交付两端流的电路触发关闭回调
	assert.Equal(t, 1, f.closeCalls())
	f.mu.Lock()
	assert.Equal(t, CloseRelayShutdown, f.closed[attached.ID])
	_, ok := f.closed[pending.ID]
	f.mu.Unlock()
	assert.False(t, ok)
	assert.Equal(t, CircuitClosed, pending.State())
	assert.Equal(t, CloseRelayShutdown, pending.CloseReason())

	_, err = f.table.Open(b, a, 0)
	assert.ErrorIs(t, err, ErrRelayShutdown)
	reason, ok := DenyReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, DenyRelayShutdown, reason)
	assert.Equal(t, 0, f.table.Len())
}

func TestCircuitTable_Sweep(t *testing.T) {
	a, b := testPeer(1), testPeer(2)
	f := newCircuitFixture(t, nil)
	f.reserve(t, a)

	short, err := f.table.Open(b, a, time.Minute)
	require.NoError(t, err)
	long, err := f.table.Open(b, a, time.Hour)
	require.NoError(t, err)

	f.clk.Add(time.Minute)
	closed := f.table.Sweep(f.clk.Now())
	require.Len(t, closed, 1)
	assert.Equal(t, short.ID, closed[0].ID)
	assert.Equal(t, CloseDurationExceeded, short.CloseReason())
	assert.Empty(t, f.table.Sweep(f.clk.Now()))

	_, ok := f.table.Get(long.ID)
	assert.True(t, ok)
}

func TestCircuitTable_CloseForPeerAndAll(t *testing.T) {
	a, b, c := testPeer(1), testPeer(2), testPeer(3)
	f := newCircuitFixture(t, nil)
	f.reserve(t, a)
	f.reserve(t, c)

	f.open(t, b, a)
	f.open(t, b, a)
	other := f.open(t, b, c)

	assert.Equal(t, 2, f.table.CloseForPeer(a, CloseReservationEnded))
	assert.Equal(t, 1, f.table.Len())
	assert.Equal(t, CircuitOpen, other.State())

	assert.Equal(t, 1, f.table.CloseAll(CloseRelayShutdown))
	assert.Equal(t, CloseRelayShutdown, other.CloseReason())
	assert.Equal(t, 3, f.closeCalls())
	assert.Empty(t, f.table.List())
}
