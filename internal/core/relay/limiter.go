package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

// Limiter 按 key 独立计数的令牌桶限流器
//
// 每个 key 一个 rate.Limiter：每 interval 补充 limit 个令牌，容量 limit。
// map 访问由一把锁保护，令牌计算由各桶自身串行化。
type Limiter struct {
	clock clock.Clock
	limit rate.Limit
	burst int
	idle  time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen atomic.Int64 // unix nano
}

// NewLimiter 创建限流器
func NewLimiter(r Rate, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.New()
	}
	return &Limiter{
		clock: clk,
		limit: rate.Limit(float64(r.Limit) / r.Interval.Seconds()),
		burst: r.Limit,
		// 空闲 interval 后桶已满，删除与保留等价
		idle:    max(r.Interval, limiterGrace),
		buckets: make(map[string]*bucket),
	}
}

// Allow 为 key 消费一个令牌；没有令牌时返回 false，不改变任何状态
func (l *Limiter) Allow(key string) bool {
	now := l.clock.Now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen.Store(now.UnixNano())
	l.mu.Unlock()

	return b.lim.AllowN(now, 1)
}

// GC 删除空闲超过宽限期的令牌桶，返回删除数量
func (l *Limiter) GC() int {
	cutoff := l.clock.Now().Add(-l.idle).UnixNano()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if b.lastSeen.Load() < cutoff {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len 返回当前令牌桶数量
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
