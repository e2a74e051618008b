package relay

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(mutate func(*Config)) (*ReservationStore, *clock.Mock) {
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clk := clock.NewMock()
	return NewReservationStore(cfg, NewLimiter(cfg.ReservationRate, clk), clk, nil), clk
}

func TestReservationStore_Reserve(t *testing.T) {
	t.Run("TTL 为 0 被拒绝", func(t *testing.T) {
		s, _ := newTestStore(nil)
		_, err := s.Reserve(testPeer(1), 0)
		assert.ErrorIs(t, err, ErrTTLRejected)
		reason, ok := DenyReasonOf(err)
		require.True(t, ok)
		assert.Equal(t, DenyTTLRejected, reason)
		assert.Equal(t, 0, s.Len())
	})

	t.Run("TTL 截断到上限", func(t *testing.T) {
		s, clk := newTestStore(func(c *Config) { c.MaxReservationTTL = time.Hour })
		r, err := s.Reserve(testPeer(1), 48*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, clk.Now().Add(time.Hour), r.ExpiresAt)
	})

	t.Run("续约延长过期时间且不产生重复条目", func(t *testing.T) {
		s, clk := newTestStore(nil)
		first, err := s.Reserve(testPeer(1), 10*time.Minute)
		require.NoError(t, err)

		clk.Add(5 * time.Minute)
		second, err := s.Reserve(testPeer(1), 10*time.Minute)
		require.NoError(t, err)

		assert.Equal(t, 1, s.Len())
		assert.True(t, second.ExpiresAt.After(first.ExpiresAt))
		assert.Equal(t, first.CreatedAt, second.CreatedAt)
		assert.Equal(t, uint32(1), second.Renewals)

		got, ok := s.Lookup(testPeer(1))
		require.True(t, ok)
		assert.Equal(t, second.ExpiresAt, got.ExpiresAt)
	})

	t.Run("容量已满时拒绝新预留但允许续约", func(t *testing.T) {
		s, _ := newTestStore(func(c *Config) { c.MaxReservations = 2 })
		_, err := s.Reserve(testPeer(1), time.Minute)
		require.NoError(t, err)
		_, err = s.Reserve(testPeer(2), time.Minute)
		require.NoError(t, err)

		_, err = s.Reserve(testPeer(3), time.Minute)
		assert.ErrorIs(t, err, ErrCapacityExceeded)

		_, err = s.Reserve(testPeer(1), time.Minute)
		assert.NoError(t, err)
		assert.Equal(t, 2, s.Len())
	})

	t.Run("同一窗口第 11 个请求被限流", func(t *testing.T) {
		s, _ := newTestStore(func(c *Config) {
			c.ReservationRate = Rate{Limit: 10, Interval: time.Minute}
		})
		for i := 0; i < 10; i++ {
			_, err := s.Reserve(testPeer(1), time.Minute)
			require.NoError(t, err, "请求 %d", i+1)
		}
		_, err := s.Reserve(testPeer(1), time.Minute)
		assert.ErrorIs(t, err, ErrRateLimited)
	})

	t.Run("TTL 检查先于限流", func(t *testing.T) {
		s, _ := newTestStore(func(c *Config) {
			c.ReservationRate = Rate{Limit: 1, Interval: time.Hour}
		})
		_, err := s.Reserve(testPeer(1), 0)
		assert.ErrorIs(t, err, ErrTTLRejected)
		_, err = s.Reserve(testPeer(1), time.Minute)
		assert.NoError(t, err, "TTL 拒绝不应消耗令牌")
	})
}

func TestReservationStore_Lookup(t *testing.T) {
	s, clk := newTestStore(nil)
	_, ok := s.Lookup(testPeer(1))
	assert.False(t, ok)

	_, err := s.Reserve(testPeer(1), time.Minute)
	require.NoError(t, err)
	_, ok = s.Lookup(testPeer(1))
	assert.True(t, ok)

	// 过期但尚未清理
	clk.Add(time.Minute)
	_, ok = s.Lookup(testPeer(1))
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestReservationStore_Cancel(t *testing.T) {
	s, _ := newTestStore(nil)
	assert.False(t, s.Cancel(testPeer(1)))

	_, err := s.Reserve(testPeer(1), time.Minute)
	require.NoError(t, err)
	assert.True(t, s.Cancel(testPeer(1)))
	assert.False(t, s.Cancel(testPeer(1)))
	assert.Equal(t, 0, s.Len())
}

func TestReservationStore_Sweep(t *testing.T) {
	t.Run("幂等", func(t *testing.T) {
		s, clk := newTestStore(nil)
		_, err := s.Reserve(testPeer(1), time.Minute)
		require.NoError(t, err)
		_, err = s.Reserve(testPeer(2), time.Hour)
		require.NoError(t, err)

		clk.Add(time.Minute)
		expired := s.Sweep(clk.Now())
		require.Len(t, expired, 1)
		assert.Equal(t, testPeer(1), expired[0].Peer)

		assert.Empty(t, s.Sweep(clk.Now()))
		assert.Equal(t, 1, s.Len())
	})

	t.Run("单次数量受 SweepBatch 限制", func(t *testing.T) {
		s, clk := newTestStore(func(c *Config) { c.SweepBatch = 2 })
		for i := byte(1); i <= 5; i++ {
			_, err := s.Reserve(testPeer(i), time.Second)
			require.NoError(t, err)
		}
		clk.Add(time.Second)

		assert.Len(t, s.Sweep(clk.Now()), 2)
		assert.Len(t, s.Sweep(clk.Now()), 2)
		assert.Len(t, s.Sweep(clk.Now()), 1)
		assert.Empty(t, s.Sweep(clk.Now()))
	})
}

func TestReservationStore_ListAndClear(t *testing.T) {
	s, _ := newTestStore(nil)
	_, err := s.Reserve(testPeer(1), time.Hour)
	require.NoError(t, err)
	_, err = s.Reserve(testPeer(2), time.Minute)
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, testPeer(2), list[0].Peer, "按过期时间排序")

	info := list[1].Info()
	assert.Equal(t, testPeer(1), info.Peer)

	assert.Equal(t, 2, s.Clear())
	assert.Equal(t, 0, s.Len())
}

func TestReservationStore_ExpiredNotCounted(t *testing.T) {
	s, clk := newTestStore(func(c *Config) { c.MaxReservations = 2 })
	_, err := s.Reserve(testPeer(1), time.Minute)
	require.NoError(t, err)
	_, err = s.Reserve(testPeer(2), time.Hour)
	require.NoError(t, err)

	// testPeer(1) 已过期但尚未清理
	clk.Add(time.Minute)
	r, err := s.Reserve(testPeer(3), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(time.Minute), r.ExpiresAt)

	_, err = s.Reserve(testPeer(4), time.Minute)
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	// 过期条目的节点再次预留视为新预留，且同样受容量限制
	_, err = s.Reserve(testPeer(1), time.Minute)
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	require.True(t, s.Cancel(testPeer(3)))
	again, err := s.Reserve(testPeer(1), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), again.Renewals)
	assert.Equal(t, clk.Now(), again.CreatedAt)
}

func TestReservationStore_Close(t *testing.T) {
	s, _ := newTestStore(nil)
	_, err := s.Reserve(testPeer(1), time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 1, s.Close())
	assert.Equal(t, 0, s.Len())

	_, err = s.Reserve(testPeer(2), time.Minute)
	assert.ErrorIs(t, err, ErrRelayShutdown)
	reason, ok := DenyReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, DenyRelayShutdown, reason)
	assert.Equal(t, 0, s.Len())
}
