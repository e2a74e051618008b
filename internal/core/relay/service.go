package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/relayd/internal/util/logger"
	"github.com/dep2p/relayd/pkg/interfaces"
	"github.com/dep2p/relayd/pkg/types"
)

var log = logger.Logger("relay")

// Option 服务选项
type Option func(*options)

type options struct {
	clock      clock.Clock
	registerer prometheus.Registerer
	addrs      func() []string
}

// WithClock 注入时钟（测试使用 clock.NewMock()）
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithRegisterer 注册 Prometheus 指标
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// WithAddrs 提供本中继的可达地址，写入预留响应
func WithAddrs(fn func() []string) Option {
	return func(o *options) { o.addrs = fn }
}

// Service 中继服务
//
// 组合 Limiter / ReservationStore / CircuitTable / ProtocolHandler，
// 负责清理定时器、事件分发、断开通知和关闭流程。
type Service struct {
	cfg   Config
	clock clock.Clock

	reservationLimiter *Limiter
	circuitLimiter     *Limiter
	reservations       *ReservationStore
	circuits           *CircuitTable
	handler            *ProtocolHandler
	metrics            *Metrics

	subsMu  sync.RWMutex
	subs    map[uint64]chan Event
	nextSub uint64

	totalReservations atomic.Uint64
	totalCircuits     atomic.Uint64
	totalDenied       atomic.Uint64
	droppedEvents     atomic.Uint64

	startedAt time.Time

	ctx          context.Context
	cancel       context.CancelFunc
	startOnce    sync.Once
	shutdownOnce sync.Once
	closed       atomic.Bool
	wg           sync.WaitGroup
}

// NewService 创建中继服务
func NewService(cfg Config, opener StreamOpener, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.New()
	}

	s := &Service{
		cfg:       cfg,
		clock:     o.clock,
		subs:      make(map[uint64]chan Event),
		startedAt: o.clock.Now(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.reservationLimiter = NewLimiter(cfg.ReservationRate, o.clock)
	s.circuitLimiter = NewLimiter(cfg.CircuitRate, o.clock)
	s.reservations = NewReservationStore(cfg, s.reservationLimiter, o.clock, o.addrs)
	s.circuits = NewCircuitTable(cfg, s.reservations, s.circuitLimiter, o.clock)
	s.circuits.SetCloseHandler(s.circuitClosed)
	s.metrics = NewMetrics(o.registerer, s.reservations.Len, s.circuits.Len)

	s.handler = &ProtocolHandler{
		cfg:          cfg,
		clock:        o.clock,
		reservations: s.reservations,
		circuits:     s.circuits,
		opener:       opener,
		hooks: handlerHooks{
			publish:          s.publish,
			closed:           s.closed.Load,
			reservationEnded: s.reservationEnded,
		},
	}
	return s, nil
}

// Start 启动清理定时器，重复调用无副作用
func (s *Service) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.sweepLoop()
		log.Info("中继服务已启动",
			"maxReservations", s.cfg.MaxReservations,
			"maxCircuits", s.cfg.MaxCircuits,
			"maxCircuitBytes", s.cfg.MaxCircuitBytes,
			"maxCircuitDuration", s.cfg.MaxCircuitDuration)
	})
}

func (s *Service) sweepLoop() {
	defer s.wg.Done()

	ticker := s.clock.Ticker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(s.clock.Now())
		}
	}
}

// Sweep 清理过期预留与到期电路，回收空闲令牌桶
func (s *Service) Sweep(now time.Time) {
	for _, r := range s.reservations.Sweep(now) {
		s.publish(Event{Type: EventReservationExpired, Peer: r.Peer, ExpiresAt: r.ExpiresAt})
		s.reservationEnded(r.Peer)
	}
	if closed := s.circuits.Sweep(now); len(closed) > 0 {
		log.Debug("清理到期电路", "count", len(closed))
	}
	s.reservationLimiter.GC()
	s.circuitLimiter.GC()
}

// HandleHopStream 入站 hop 流入口，注册到 Host
func (s *Service) HandleHopStream(stream interfaces.Stream) {
	conn := stream.Conn()
	if conn == nil {
		_ = stream.Reset()
		return
	}
	s.HandleHop(conn.RemotePeer(), stream)
}

// HandleHop 处理来自 src 的 hop 流；关闭后不再应答，直接关闭流
func (s *Service) HandleHop(src types.PeerID, stream interfaces.Stream) {
	if s.closed.Load() {
		_ = stream.Reset()
		return
	}
	s.handler.HandleHop(s.ctx, src, stream)
}

// PeerDisconnected 节点最后一条连接关闭，其预留随之失效
func (s *Service) PeerDisconnected(peer types.PeerID) {
	if s.reservations.Cancel(peer) {
		s.publish(Event{Type: EventReservationCancelled, Peer: peer, Disconnected: true})
		s.reservationEnded(peer)
	}
}

// Notifiee 返回用于 Host.Notify 的断开通知
func (s *Service) Notifiee() interfaces.Notifiee {
	return &interfaces.NotifyBundle{DisconnectedF: s.PeerDisconnected}
}

// reservationEnded 预留结束；仅在策略开启时关闭以该节点为目标的电路
func (s *Service) reservationEnded(peer types.PeerID) {
	if !s.cfg.CloseCircuitsOnReservationEnd {
		return
	}
	if n := s.circuits.CloseForPeer(peer, CloseReservationEnded); n > 0 {
		log.Debug("预留结束，关闭电路", "peer", peer.ShortString(), "count", n)
	}
}

func (s *Service) circuitClosed(c *Circuit, reason CloseReason) {
	s.publish(Event{
		Type:         EventCircuitClosed,
		Peer:         c.Src,
		Dst:          c.Dst,
		Circuit:      c.ID,
		Close:        reason,
		BytesRelayed: c.BytesRelayed(),
	})
}

// ============================================================================
//                              事件
// ============================================================================

// Subscribe 订阅事件
//
// 分发不阻塞：订阅者缓冲区满时事件被丢弃并计数。返回的函数取消订阅并关闭 channel。
func (s *Service) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subsMu.Unlock()

	return ch, sync.OnceFunc(func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		close(ch)
		s.subsMu.Unlock()
	})
}

func (s *Service) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = s.clock.Now()
	}

	switch ev.Type {
	case EventReservationAccepted:
		s.totalReservations.Add(1)
	case EventCircuitEstablished:
		s.totalCircuits.Add(1)
	case EventReservationDenied, EventCircuitDenied:
		s.totalDenied.Add(1)
	}
	s.metrics.observe(ev)

	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.droppedEvents.Add(1)
			s.metrics.eventDropped()
			log.Debug("订阅者缓冲区已满，丢弃事件", "event", ev.Type)
		}
	}
}

// ============================================================================
//                              查询
// ============================================================================

// Stats 返回统计快照
func (s *Service) Stats() types.RelayStats {
	return types.RelayStats{
		ActiveReservations: s.reservations.Len(),
		ActiveCircuits:     s.circuits.Len(),
		TotalReservations:  s.totalReservations.Load(),
		TotalCircuits:      s.totalCircuits.Load(),
		TotalDenied:        s.totalDenied.Load(),
		TotalBytesRelayed:  s.circuits.BytesRelayed(),
		Uptime:             s.clock.Since(s.startedAt),
	}
}

// DroppedEvents 返回被丢弃的事件数
func (s *Service) DroppedEvents() uint64 {
	return s.droppedEvents.Load()
}

// Reservations 返回预留快照
func (s *Service) Reservations() []types.ReservationInfo {
	list := s.reservations.List()
	out := make([]types.ReservationInfo, 0, len(list))
	for _, r := range list {
		out = append(out, r.Info())
	}
	return out
}

// Circuits 返回电路快照
func (s *Service) Circuits() []types.CircuitInfo {
	list := s.circuits.List()
	out := make([]types.CircuitInfo, 0, len(list))
	for _, c := range list {
		out = append(out, c.Info())
	}
	return out
}

// Config 返回生效配置
func (s *Service) Config() Config {
	return s.cfg
}

// ============================================================================
//                              关闭
// ============================================================================

// Closed 服务是否已关闭
func (s *Service) Closed() bool {
	return s.closed.Load()
}

// Shutdown 关闭服务，重复调用无副作用
//
// 以 RelayShutdown 关闭全部电路，清空预留，停止清理定时器。
// 之后新的 hop 流不被应答，已有 hop 流上的请求收到 RELAY_SHUTDOWN。
func (s *Service) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.closed.Store(true)
		circuits := s.circuits.Shutdown()
		reservations := s.reservations.Close()
		s.cancel()
		s.wg.Wait()
		log.Info("中继服务已关闭", "circuits", circuits, "reservations", reservations)
	})
}
