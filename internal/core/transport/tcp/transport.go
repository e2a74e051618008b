package tcp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/dep2p/relayd/internal/core/identity"
	"github.com/dep2p/relayd/internal/core/muxer"
	"github.com/dep2p/relayd/internal/util/logger"
	"github.com/dep2p/relayd/pkg/interfaces"
	"github.com/dep2p/relayd/pkg/types"
)

var log = logger.Logger("transport/tcp")

// ALPN TLS 应用层协议标识（携带多路复用协议）
const ALPN = "relayd" + muxer.ID

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultKeepAlive        = 30 * time.Second
)

var _ interfaces.Transport = (*Transport)(nil)

// Transport TCP 传输
type Transport struct {
	id               *identity.Identity
	localPeer        types.PeerID
	serverTLS        *tls.Config
	mux              *muxer.Transport
	handshakeTimeout time.Duration

	mu        sync.Mutex
	listeners []*Listener
	closed    bool
}

// New 创建 TCP 传输
func New(id *identity.Identity) (*Transport, error) {
	serverTLS, err := id.TLSConfig(ALPN, types.EmptyPeerID)
	if err != nil {
		return nil, fmt.Errorf("生成 TLS 配置失败: %w", err)
	}
	return &Transport{
		id:               id,
		localPeer:        id.ID(),
		serverTLS:        serverTLS,
		mux:              muxer.NewTransport(),
		handshakeTimeout: defaultHandshakeTimeout,
	}, nil
}

// Dial 拨号并升级连接
func (t *Transport) Dial(ctx context.Context, raddr ma.Multiaddr, peer types.PeerID) (interfaces.Connection, error) {
	tcpAddr, err := toTCPAddr(raddr)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, ErrTransportClosed
	}

	dialer := &net.Dialer{KeepAlive: defaultKeepAlive}
	raw, err := dialer.DialContext(ctx, "tcp", tcpAddr.String())
	if err != nil {
		return nil, fmt.Errorf("连接失败: %w", err)
	}

	clientTLS, err := t.id.TLSConfig(ALPN, peer)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}

	hctx, cancel := context.WithTimeout(ctx, t.handshakeTimeout)
	defer cancel()
	return upgrade(hctx, raw, clientTLS, t.mux, t.localPeer, false)
}

// CanDial 是否为 TCP 地址
func (t *Transport) CanDial(addr ma.Multiaddr) bool {
	return isTCPAddr(addr)
}

// Listen 监听地址
func (t *Transport) Listen(laddr ma.Multiaddr) (interfaces.Listener, error) {
	tcpAddr, err := toTCPAddr(laddr)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}

	nl, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp: %w", err)
	}
	actual, err := manet.FromNetAddr(nl.Addr())
	if err != nil {
		_ = nl.Close()
		return nil, err
	}

	l := &Listener{nl: nl, addr: actual, transport: t}
	t.listeners = append(t.listeners, l)
	log.Debug("TCP 监听", "addr", actual)
	return l, nil
}

// Close 关闭传输的所有监听器
//
// 已建立的连接由 Host 负责关闭。
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	for _, l := range t.listeners {
		_ = l.Close()
	}
	return nil
}
