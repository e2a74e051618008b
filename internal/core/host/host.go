package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	mss "github.com/multiformats/go-multistream"

	"github.com/dep2p/relayd/internal/core/identity"
	"github.com/dep2p/relayd/internal/util/logger"
	"github.com/dep2p/relayd/pkg/interfaces"
	"github.com/dep2p/relayd/pkg/types"
)

var log = logger.Logger("host")

var _ interfaces.Host = (*Host)(nil)

// Host 网络主机
type Host struct {
	ctx       context.Context
	ctxCancel context.CancelFunc

	id        *identity.Identity
	transport interfaces.Transport
	config    Config

	// multistream-select muxer 用于入站协议协商
	mux *mss.MultistreamMuxer[string]

	mu        sync.RWMutex
	conns     map[types.PeerID][]interfaces.Connection
	listeners []interfaces.Listener
	notifiees []interfaces.Notifiee

	closed atomic.Bool
	wg     sync.WaitGroup
}

// New 创建 Host
func New(id *identity.Identity, transport interfaces.Transport, opts ...Option) (*Host, error) {
	if id == nil || transport == nil {
		return nil, errors.New("identity and transport are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		ctx:       ctx,
		ctxCancel: cancel,
		id:        id,
		transport: transport,
		config:    DefaultConfig(),
		mux:       mss.NewMultistreamMuxer[string](),
		conns:     make(map[types.PeerID][]interfaces.Connection),
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return h, nil
}

// ID 返回本地 PeerID
func (h *Host) ID() types.PeerID {
	return h.id.ID()
}

// Identity 返回本地身份
func (h *Host) Identity() *identity.Identity {
	return h.id
}

// UserAgent 返回节点标识
func (h *Host) UserAgent() string {
	return h.config.UserAgent
}

// ============================================================================
//                              监听
// ============================================================================

// Listen 在给定地址监听并开始接受连接
func (h *Host) Listen(addrs ...ma.Multiaddr) error {
	if h.closed.Load() {
		return ErrHostClosed
	}

	for _, addr := range addrs {
		l, err := h.transport.Listen(addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}

		h.mu.Lock()
		h.listeners = append(h.listeners, l)
		h.mu.Unlock()

		log.Info("开始监听", "addr", l.Multiaddr())
		h.wg.Add(1)
		go h.acceptLoop(l)
	}
	return nil
}

func (h *Host) acceptLoop(l interfaces.Listener) {
	defer h.wg.Done()
	for {
		conn, err := l.Accept(h.ctx)
		if err != nil {
			if !h.closed.Load() {
				log.Warn("接受连接失败，停止监听", "addr", l.Multiaddr(), "err", err)
			}
			return
		}
		h.addConn(conn)
	}
}

// ListenAddrs 返回监听器的实际地址
func (h *Host) ListenAddrs() []ma.Multiaddr {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]ma.Multiaddr, 0, len(h.listeners))
	for _, l := range h.listeners {
		out = append(out, l.Multiaddr())
	}
	return out
}

// Addrs 返回可拨号地址，通配地址展开为本机接口地址
func (h *Host) Addrs() []ma.Multiaddr {
	listen := h.ListenAddrs()
	ifaces, err := manet.InterfaceMultiaddrs()
	if err != nil {
		return listen
	}
	resolved, err := manet.ResolveUnspecifiedAddresses(listen, ifaces)
	if err != nil {
		return listen
	}
	return resolved
}

// ============================================================================
//                              连接
// ============================================================================

// Connect 拨号并注册连接；已有连接时直接返回
func (h *Host) Connect(ctx context.Context, peer types.PeerID, addr ma.Multiaddr) error {
	if h.closed.Load() {
		return ErrHostClosed
	}
	if len(h.ConnsToPeer(peer)) > 0 {
		return nil
	}

	conn, err := h.transport.Dial(ctx, addr, peer)
	if err != nil {
		return err
	}
	h.addConn(conn)
	return nil
}

// addConn 注册连接，启动流接受循环
func (h *Host) addConn(conn interfaces.Connection) {
	if h.closed.Load() {
		_ = conn.Close()
		return
	}

	peer := conn.RemotePeer()
	h.mu.Lock()
	h.conns[peer] = append(h.conns[peer], conn)
	notifiees := append([]interfaces.Notifiee(nil), h.notifiees...)
	h.mu.Unlock()

	log.Debug("连接已建立", "peer", peer.ShortString(), "remote", conn.RemoteMultiaddr())

	h.wg.Add(1)
	go h.handleConn(conn)

	for _, n := range notifiees {
		n.Connected(conn)
	}
}

func (h *Host) handleConn(conn interfaces.Connection) {
	defer h.wg.Done()
	defer h.removeConn(conn)

	for {
		s, err := conn.AcceptStream(h.ctx)
		if err != nil {
			log.Debug("连接已关闭", "peer", conn.RemotePeer().ShortString(), "err", err)
			return
		}
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.handleInboundStream(s)
		}()
	}
}

// removeConn 注销连接；节点最后一条连接关闭时通知 Disconnected
func (h *Host) removeConn(conn interfaces.Connection) {
	_ = conn.Close()

	peer := conn.RemotePeer()
	h.mu.Lock()
	list := h.conns[peer]
	for i, c := range list {
		if c == conn {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	last := len(list) == 0
	if last {
		delete(h.conns, peer)
	} else {
		h.conns[peer] = list
	}
	notifiees := append([]interfaces.Notifiee(nil), h.notifiees...)
	h.mu.Unlock()

	if !last {
		return
	}
	log.Debug("节点已断开", "peer", peer.ShortString())
	for _, n := range notifiees {
		n.Disconnected(peer)
	}
}

// Peers 返回当前有连接的节点
func (h *Host) Peers() []types.PeerID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]types.PeerID, 0, len(h.conns))
	for p := range h.conns {
		out = append(out, p)
	}
	return out
}

// ConnsToPeer 返回到指定节点的连接
func (h *Host) ConnsToPeer(peer types.PeerID) []interfaces.Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]interfaces.Connection(nil), h.conns[peer]...)
}

// ============================================================================
//                              流
// ============================================================================

// NewStream 在到 peer 的已有连接上打开流并协商协议
//
// 优先使用最新的连接，失败时依次尝试更早的连接。
func (h *Host) NewStream(ctx context.Context, peer types.PeerID, protos ...types.ProtocolID) (interfaces.Stream, error) {
	if h.closed.Load() {
		return nil, ErrHostClosed
	}
	if len(protos) == 0 {
		return nil, ErrNoProtocols
	}

	conns := h.ConnsToPeer(peer)
	if len(conns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoConnection, peer.ShortString())
	}

	var lastErr error
	for i := len(conns) - 1; i >= 0; i-- {
		s, err := h.openStream(ctx, conns[i], protos)
		if err == nil {
			return s, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (h *Host) openStream(ctx context.Context, conn interfaces.Connection, protos []types.ProtocolID) (interfaces.Stream, error) {
	s, err := conn.OpenStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	deadline := time.Now().Add(h.config.NegotiationTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.SetDeadline(deadline)

	names := make([]string, len(protos))
	for i, p := range protos {
		names[i] = string(p)
	}
	selected, err := mss.SelectOneOf(names, s)
	if err != nil {
		_ = s.Reset()
		return nil, fmt.Errorf("protocol negotiation failed: %w", err)
	}

	_ = s.SetDeadline(time.Time{})
	s.SetProtocol(types.ProtocolID(selected))
	return s, nil
}

// SetStreamHandler 注册协议处理器
func (h *Host) SetStreamHandler(proto types.ProtocolID, handler interfaces.StreamHandler) {
	h.mux.AddHandler(string(proto), func(_ string, rwc io.ReadWriteCloser) error {
		s, ok := rwc.(interfaces.Stream)
		if !ok {
			return fmt.Errorf("unexpected stream type %T", rwc)
		}
		handler(s)
		return nil
	})
	log.Debug("注册协议处理器", "protocol", proto)
}

// RemoveStreamHandler 移除协议处理器
func (h *Host) RemoveStreamHandler(proto types.ProtocolID) {
	h.mux.RemoveHandler(string(proto))
	log.Debug("移除协议处理器", "protocol", proto)
}

// Protocols 返回已注册的协议
func (h *Host) Protocols() []types.ProtocolID {
	names := h.mux.Protocols()
	out := make([]types.ProtocolID, len(names))
	for i, n := range names {
		out[i] = types.ProtocolID(n)
	}
	return out
}

// handleInboundStream 协商协议并交给处理器；处理器负责关闭流
func (h *Host) handleInboundStream(s interfaces.Stream) {
	if h.closed.Load() {
		_ = s.Reset()
		return
	}

	_ = s.SetDeadline(time.Now().Add(h.config.NegotiationTimeout))
	proto, handler, err := h.mux.Negotiate(s)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			log.Debug("协议协商失败", "peer", s.Conn().RemotePeer().ShortString(), "err", err)
		}
		_ = s.Reset()
		return
	}
	_ = s.SetDeadline(time.Time{})

	s.SetProtocol(types.ProtocolID(proto))
	if err := handler(proto, s); err != nil {
		log.Debug("处理器失败", "protocol", proto, "err", err)
		_ = s.Reset()
	}
}

// ============================================================================
//                              通知
// ============================================================================

// Notify 注册连接通知
func (h *Host) Notify(n interfaces.Notifiee) {
	h.mu.Lock()
	h.notifiees = append(h.notifiees, n)
	h.mu.Unlock()
}

// StopNotify 取消连接通知
func (h *Host) StopNotify(n interfaces.Notifiee) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, x := range h.notifiees {
		if x == n {
			h.notifiees = append(h.notifiees[:i], h.notifiees[i+1:]...)
			return
		}
	}
}

// ============================================================================
//                              关闭
// ============================================================================

// Close 关闭监听器与所有连接，等待后台任务结束
func (h *Host) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	log.Info("正在关闭 Host")

	h.ctxCancel()

	h.mu.Lock()
	listeners := h.listeners
	var conns []interfaces.Connection
	for _, list := range h.conns {
		conns = append(conns, list...)
	}
	h.mu.Unlock()

	for _, l := range listeners {
		_ = l.Close()
	}
	for _, c := range conns {
		_ = c.Close()
	}
	err := h.transport.Close()

	h.wg.Wait()
	log.Info("Host 已关闭")
	return err
}

// Closed Host 是否已关闭
func (h *Host) Closed() bool {
	return h.closed.Load()
}
