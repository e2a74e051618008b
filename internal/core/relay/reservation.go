package relay

import (
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/relayd/pkg/types"
)

// Reservation 预留
//
// 每个节点最多一个预留；续约替换原条目并重置 ExpiresAt，CreatedAt 保留首次预留时间。
type Reservation struct {
	Peer      types.PeerID
	CreatedAt time.Time
	ExpiresAt time.Time
	Addrs     []string

	// Renewals 续约次数
	Renewals uint32
}

// Info 返回只读快照
func (r Reservation) Info() types.ReservationInfo {
	return types.ReservationInfo{
		Peer:      r.Peer,
		Addrs:     slices.Clone(r.Addrs),
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
	}
}

// ReservationStore 活跃预留表
type ReservationStore struct {
	maxTTL time.Duration
	max    int
	batch  int

	limiter *Limiter
	clock   clock.Clock
	addrs   func() []string

	mu      sync.RWMutex
	closed  bool
	entries map[types.PeerID]Reservation
}

// NewReservationStore 创建预留表
//
// addrs 返回本中继的可达地址，写入每个预留；可以为 nil。
func NewReservationStore(cfg Config, limiter *Limiter, clk clock.Clock, addrs func() []string) *ReservationStore {
	if clk == nil {
		clk = clock.New()
	}
	return &ReservationStore{
		maxTTL:  cfg.MaxReservationTTL,
		max:     cfg.MaxReservations,
		batch:   cfg.SweepBatch,
		limiter: limiter,
		clock:   clk,
		addrs:   addrs,
		entries: make(map[types.PeerID]Reservation),
	}
}

// Reserve 创建或续约预留
//
// 检查顺序：TTL 为 0 → TTLRejected；限流 → RateLimited；
// 新预留且有效预留数已满 → CapacityExceeded。续约不占用容量，
// 已过期但尚未清理的条目不计入容量，其节点再次预留视为新预留。
// TTL 截断到 MaxReservationTTL。Close 之后总是返回 RelayShutdown。
func (s *ReservationStore) Reserve(peer types.PeerID, ttl time.Duration) (Reservation, error) {
	if s.isClosed() {
		return Reservation{}, denied(DenyRelayShutdown)
	}
	if ttl <= 0 {
		return Reservation{}, denied(DenyTTLRejected)
	}
	if !s.limiter.Allow(peer.String()) {
		return Reservation{}, denied(DenyRateLimited)
	}

	var addrs []string
	if s.addrs != nil {
		addrs = s.addrs()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Reservation{}, denied(DenyRelayShutdown)
	}

	now := s.clock.Now()
	prev, exists := s.entries[peer]
	exists = exists && prev.ExpiresAt.After(now)
	if !exists && s.liveLocked(now) >= s.max {
		return Reservation{}, denied(DenyCapacityExceeded)
	}

	r := Reservation{
		Peer:      peer,
		CreatedAt: now,
		ExpiresAt: now.Add(min(ttl, s.maxTTL)),
		Addrs:     addrs,
	}
	if exists {
		r.CreatedAt = prev.CreatedAt
		r.Renewals = prev.Renewals + 1
	}
	s.entries[peer] = r
	return r, nil
}

// liveLocked 返回未过期的预留数；条目数低于上限时不遍历
func (s *ReservationStore) liveLocked(now time.Time) int {
	if len(s.entries) < s.max {
		return len(s.entries)
	}
	n := 0
	for _, r := range s.entries {
		if r.ExpiresAt.After(now) {
			n++
		}
	}
	return n
}

// Lookup 查询有效预留；已过期但尚未清理的条目视为不存在
func (s *ReservationStore) Lookup(peer types.PeerID) (Reservation, bool) {
	now := s.clock.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.entries[peer]
	if !ok || !r.ExpiresAt.After(now) {
		return Reservation{}, false
	}
	return r, true
}

// Cancel 删除预留，返回是否存在
func (s *ReservationStore) Cancel(peer types.PeerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[peer]; !ok {
		return false
	}
	delete(s.entries, peer)
	return true
}

// Sweep 删除 ExpiresAt <= now 的预留，单次最多 SweepBatch 条
//
// 重复调用是幂等的：同一时刻的第二次调用只处理剩余条目。
func (s *ReservationStore) Sweep(now time.Time) []Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []Reservation
	for peer, r := range s.entries {
		if len(expired) >= s.batch {
			break
		}
		if !r.ExpiresAt.After(now) {
			expired = append(expired, r)
			delete(s.entries, peer)
		}
	}
	return expired
}

// Clear 删除全部预留，返回删除数量
func (s *ReservationStore) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.entries)
	clear(s.entries)
	return n
}

// Close 拒绝之后的 Reserve 并删除全部预留，返回删除数量
func (s *ReservationStore) Close() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	n := len(s.entries)
	clear(s.entries)
	return n
}

func (s *ReservationStore) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Len 返回预留数量（含未清理的过期条目）
func (s *ReservationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// List 返回全部预留，按过期时间排序
func (s *ReservationStore) List() []Reservation {
	s.mu.RLock()
	out := make([]Reservation, 0, len(s.entries))
	for _, r := range s.entries {
		out = append(out, r)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Reservation) int {
		return a.ExpiresAt.Compare(b.ExpiresAt)
	})
	return out
}
