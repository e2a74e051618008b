package relay

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/dep2p/relayd/pkg/interfaces"
	"github.com/dep2p/relayd/pkg/types"
)

// CircuitState 电路状态
type CircuitState int

const (
	// CircuitOpen 正在转发
	CircuitOpen CircuitState = iota
	// CircuitClosing 配额或时长耗尽，等待关闭
	CircuitClosing
	// CircuitClosed 已关闭
	CircuitClosed
)

// String 返回状态名
func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitClosing:
		return "closing"
	case CircuitClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Circuit 一条 src → relay → dst 电路
type Circuit struct {
	ID          types.CircuitID
	Src         types.PeerID
	Dst         types.PeerID
	OpenedAt    time.Time
	MaxDuration time.Duration
	MaxBytes    uint64

	mu        sync.Mutex
	remaining uint64
	state     CircuitState
	reason    CloseReason
	pending   error // 进入 Closing 的原因，ErrQuotaExceeded 或 ErrDurationExceeded
	attached  bool
	srcStream interfaces.Stream
	dstStream interfaces.Stream

	done chan struct{}
}

// Deadline 返回电路到期时间
func (c *Circuit) Deadline() time.Time {
	return c.OpenedAt.Add(c.MaxDuration)
}

// BytesRemaining 返回剩余字节配额，只减不增
func (c *Circuit) BytesRemaining() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// BytesRelayed 返回已转发字节数
func (c *Circuit) BytesRelayed() uint64 {
	return c.MaxBytes - c.BytesRemaining()
}

// State 返回当前状态
func (c *Circuit) State() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CloseReason 返回关闭原因，未关闭时为 0
func (c *Circuit) CloseReason() CloseReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Done 电路关闭时关闭的 channel
func (c *Circuit) Done() <-chan struct{} {
	return c.done
}

// Info 返回只读快照
func (c *Circuit) Info() types.CircuitInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.CircuitInfo{
		ID:             c.ID,
		Src:            c.Src,
		Dst:            c.Dst,
		OpenedAt:       c.OpenedAt,
		MaxDuration:    c.MaxDuration,
		MaxBytes:       c.MaxBytes,
		BytesRemaining: c.remaining,
		State:          c.state.String(),
	}
}

// Attached 两端流是否已交给电路
func (c *Circuit) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attached
}

// release 将电路置为 Closed 并释放两端流，只在第一次调用时生效
//
// 对端关闭与配额耗尽时正常关闭流，已授予的前缀仍然送达；其余原因重置流。
// 返回是否首次关闭，以及关闭时两端流是否已交给电路。
func (c *Circuit) release(reason CloseReason) (first, attached bool, err error) {
	c.mu.Lock()
	if c.state == CircuitClosed {
		c.mu.Unlock()
		return false, false, nil
	}
	c.state = CircuitClosed
	c.reason = reason
	attached = c.attached
	src, dst := c.srcStream, c.dstStream
	c.srcStream, c.dstStream = nil, nil
	c.mu.Unlock()

	close(c.done)

	graceful := reason == ClosePeerClosed || reason == CloseQuotaExceeded
	for _, s := range []interfaces.Stream{src, dst} {
		if s == nil {
			continue
		}
		if graceful {
			err = multierr.Append(err, s.Close())
		} else {
			err = multierr.Append(err, s.Reset())
		}
	}
	return true, attached, err
}

// CircuitTable 活跃电路表
type CircuitTable struct {
	maxDuration time.Duration
	maxBytes    uint64
	max         int
	maxPerPeer  int
	batch       int

	reservations *ReservationStore
	limiter      *Limiter
	clock        clock.Clock

	// onClose 电路关闭后回调（Abort 不触发）
	onClose func(c *Circuit, reason CloseReason)

	relayed atomic.Uint64

	mu       sync.Mutex
	closed   bool
	circuits map[types.CircuitID]*Circuit
	perDst   map[types.PeerID]int
}

// NewCircuitTable 创建电路表
func NewCircuitTable(cfg Config, reservations *ReservationStore, limiter *Limiter, clk clock.Clock) *CircuitTable {
	if clk == nil {
		clk = clock.New()
	}
	return &CircuitTable{
		maxDuration:  cfg.MaxCircuitDuration,
		maxBytes:     cfg.MaxCircuitBytes,
		max:          cfg.MaxCircuits,
		maxPerPeer:   cfg.MaxCircuitsPerPeer,
		batch:        cfg.SweepBatch,
		reservations: reservations,
		limiter:      limiter,
		clock:        clk,
		circuits:     make(map[types.CircuitID]*Circuit),
		perDst:       make(map[types.PeerID]int),
	}
}

// SetCloseHandler 设置关闭回调
func (t *CircuitTable) SetCloseHandler(fn func(c *Circuit, reason CloseReason)) {
	t.onClose = fn
}

// Open 创建电路
//
// 检查顺序：src == dst → Malformed；dst 无有效预留 → NoReservation
// （与限流状态无关）；src 限流 → RateLimited；总数或 dst 电路数已满
// → CapacityExceeded。时长截断到 MaxCircuitDuration，0 表示取最大值。
// Shutdown 之后总是返回 RelayShutdown。
func (t *CircuitTable) Open(src, dst types.PeerID, requested time.Duration) (*Circuit, error) {
	if t.isClosed() {
		return nil, denied(DenyRelayShutdown)
	}
	if src == dst {
		return nil, denied(DenyMalformed)
	}
	if _, ok := t.reservations.Lookup(dst); !ok {
		return nil, denied(DenyNoReservation)
	}
	if !t.limiter.Allow(src.String()) {
		return nil, denied(DenyRateLimited)
	}

	duration := t.maxDuration
	if requested > 0 && requested < duration {
		duration = requested
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, denied(DenyRelayShutdown)
	}
	if len(t.circuits) >= t.max || t.perDst[dst] >= t.maxPerPeer {
		return nil, denied(DenyCapacityExceeded)
	}

	c := &Circuit{
		ID:          types.NewCircuitID(),
		Src:         src,
		Dst:         dst,
		OpenedAt:    t.clock.Now(),
		MaxDuration: duration,
		MaxBytes:    t.maxBytes,
		remaining:   t.maxBytes,
		state:       CircuitOpen,
		done:        make(chan struct{}),
	}
	t.circuits[c.ID] = c
	t.perDst[dst]++
	return c, nil
}

// Get 查询电路
func (t *CircuitTable) Get(id types.CircuitID) (*Circuit, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.circuits[id]
	return c, ok
}

// Attach 将两端流交给电路，Close 时一起释放
//
// 两端流的截止时间设为电路到期时间（按注入时钟的剩余时长换算到墙钟）。
// 电路已关闭时返回 ErrCircuitClosed，两端流仍归调用方所有。
func (t *CircuitTable) Attach(id types.CircuitID, src, dst interfaces.Stream) error {
	c, ok := t.Get(id)
	if !ok {
		return ErrCircuitClosed
	}

	c.mu.Lock()
	if c.state == CircuitClosed {
		c.mu.Unlock()
		return ErrCircuitClosed
	}
	c.srcStream, c.dstStream = src, dst
	c.attached = true
	c.mu.Unlock()

	deadline := time.Now().Add(c.Deadline().Sub(t.clock.Now()))
	return multierr.Combine(src.SetDeadline(deadline), dst.SetDeadline(deadline))
}

// Abort 删除 STOP 握手失败的电路，不触发关闭回调
func (t *CircuitTable) Abort(id types.CircuitID) {
	if c := t.remove(id); c != nil {
		_, _, _ = c.release(ClosePeerClosed)
	}
}

// Forward 为 chunk 申请转发配额，返回可转发的前缀长度
//
//   - 剩余配额不足以转发整个 chunk 时电路进入 Closing，返回 ErrQuotaExceeded
//   - 到达或超过到期时间时电路进入 Closing，返回 0 与 ErrDurationExceeded
//   - 电路已处于 Closing 时返回 0 与同时匹配 ErrCircuitClosing 和进入
//     Closing 原因的错误；只有收到未包装错误的调用方负责关闭电路
//   - 电路已关闭时返回 0 与 ErrCircuitClosed
func (t *CircuitTable) Forward(id types.CircuitID, chunk []byte) (int, error) {
	c, ok := t.Get(id)
	if !ok {
		return 0, ErrCircuitNotFound
	}
	now := t.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CircuitClosing:
		return 0, fmt.Errorf("%w: %w", ErrCircuitClosing, c.pending)
	case CircuitClosed:
		return 0, ErrCircuitClosed
	}
	if !now.Before(c.Deadline()) {
		c.state, c.pending = CircuitClosing, ErrDurationExceeded
		return 0, ErrDurationExceeded
	}

	want := uint64(len(chunk))
	granted := min(want, c.remaining)
	c.remaining -= granted
	t.relayed.Add(granted)

	if granted < want {
		c.state, c.pending = CircuitClosing, ErrQuotaExceeded
		return int(granted), ErrQuotaExceeded
	}
	return int(granted), nil
}

// Close 关闭电路并释放两端流，重复调用无副作用
func (t *CircuitTable) Close(id types.CircuitID, reason CloseReason) error {
	c := t.remove(id)
	if c == nil {
		return nil
	}
	return t.finish(c, reason)
}

// finish 释放电路；只有已交付两端流的电路触发关闭回调
func (t *CircuitTable) finish(c *Circuit, reason CloseReason) error {
	first, attached, err := c.release(reason)
	if first && attached && t.onClose != nil {
		t.onClose(c, reason)
	}
	return err
}

// remove 从表中删除电路并更新计数
func (t *CircuitTable) remove(id types.CircuitID) *Circuit {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(id)
}

func (t *CircuitTable) removeLocked(id types.CircuitID) *Circuit {
	c, ok := t.circuits[id]
	if !ok {
		return nil
	}
	delete(t.circuits, id)
	if t.perDst[c.Dst] <= 1 {
		delete(t.perDst, c.Dst)
	} else {
		t.perDst[c.Dst]--
	}
	return c
}

// Sweep 关闭已到期的电路，单次最多 SweepBatch 条
func (t *CircuitTable) Sweep(now time.Time) []*Circuit {
	t.mu.Lock()
	var expired []*Circuit
	for id, c := range t.circuits {
		if len(expired) >= t.batch {
			break
		}
		if !c.Deadline().After(now) {
			expired = append(expired, t.removeLocked(id))
		}
	}
	t.mu.Unlock()

	for _, c := range expired {
		if err := t.finish(c, CloseDurationExceeded); err != nil {
			log.Debug("释放到期电路的流失败", "circuit", c.ID, "err", err)
		}
	}
	return expired
}

// CloseAll 关闭全部电路，返回关闭数量
func (t *CircuitTable) CloseAll(reason CloseReason) int {
	return t.closeMatching(func(*Circuit) bool { return true }, reason)
}

// Shutdown 拒绝之后的 Open 并以 RelayShutdown 关闭全部电路
//
// 关闭标记与电路表在同一把锁下变更，Open 不会在两者之间插入新电路。
func (t *CircuitTable) Shutdown() int {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return t.CloseAll(CloseRelayShutdown)
}

func (t *CircuitTable) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// CloseForPeer 关闭以 dst 为目标的电路，返回关闭数量
func (t *CircuitTable) CloseForPeer(dst types.PeerID, reason CloseReason) int {
	return t.closeMatching(func(c *Circuit) bool { return c.Dst == dst }, reason)
}

func (t *CircuitTable) closeMatching(match func(*Circuit) bool, reason CloseReason) int {
	t.mu.Lock()
	var victims []*Circuit
	for id, c := range t.circuits {
		if match(c) {
			victims = append(victims, t.removeLocked(id))
		}
	}
	t.mu.Unlock()

	for _, c := range victims {
		if err := t.finish(c, reason); err != nil {
			log.Debug("释放电路流失败", "circuit", c.ID, "reason", reason, "err", err)
		}
	}
	return len(victims)
}

// Len 返回电路数量
func (t *CircuitTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.circuits)
}

// CountForPeer 返回以 dst 为目标的电路数量
func (t *CircuitTable) CountForPeer(dst types.PeerID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.perDst[dst]
}

// BytesRelayed 返回累计转发字节数
func (t *CircuitTable) BytesRelayed() uint64 {
	return t.relayed.Load()
}

// List 返回全部电路，按建立时间排序
func (t *CircuitTable) List() []*Circuit {
	t.mu.Lock()
	out := make([]*Circuit, 0, len(t.circuits))
	for _, c := range t.circuits {
		out = append(out, c)
	}
	t.mu.Unlock()

	slices.SortFunc(out, func(a, b *Circuit) int {
		return a.OpenedAt.Compare(b.OpenedAt)
	})
	return out
}
