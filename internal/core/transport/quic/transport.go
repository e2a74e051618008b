package quic

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/quic-go/quic-go"

	"github.com/dep2p/relayd/internal/core/identity"
	"github.com/dep2p/relayd/internal/util/logger"
	"github.com/dep2p/relayd/pkg/interfaces"
	"github.com/dep2p/relayd/pkg/types"
)

var log = logger.Logger("transport/quic")

// ALPN QUIC 应用层协议标识
const ALPN = "relayd"

var _ interfaces.Transport = (*Transport)(nil)

// Transport QUIC 传输
//
// 使用共享的 UDP socket 监听和拨号。
type Transport struct {
	mu sync.Mutex

	id        *identity.Identity
	localPeer types.PeerID
	serverTLS *tls.Config
	config    *quic.Config

	qt        *quic.Transport
	udpConn   *net.UDPConn
	listeners []*Listener
	closed    bool
}

// New 创建 QUIC 传输
func New(id *identity.Identity) (*Transport, error) {
	serverTLS, err := id.TLSConfig(ALPN, types.EmptyPeerID)
	if err != nil {
		return nil, fmt.Errorf("生成 TLS 配置失败: %w", err)
	}

	return &Transport{
		id:        id,
		localPeer: id.ID(),
		serverTLS: serverTLS,
		config: &quic.Config{
			// KeepAlivePeriod + MaxIdleTimeout 决定非优雅断开的检测延迟
			MaxIdleTimeout:        30 * time.Second,
			KeepAlivePeriod:       15 * time.Second,
			MaxIncomingStreams:    1024,
			MaxIncomingUniStreams: -1,
		},
	}, nil
}

// ensureTransport 首次使用时创建共享 socket；调用方持有锁
func (t *Transport) ensureTransport(laddr *net.UDPAddr) error {
	if t.qt != nil {
		return nil
	}
	network := "udp4"
	if laddr != nil && laddr.IP != nil && laddr.IP.To4() == nil {
		network = "udp6"
	}
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return fmt.Errorf("listen udp: %w", err)
	}
	t.udpConn = conn
	t.qt = &quic.Transport{Conn: conn}
	return nil
}

// Dial 拨号连接
//
// peer 非空时，握手阶段校验远端证书派生的 PeerID。
func (t *Transport) Dial(ctx context.Context, raddr ma.Multiaddr, peer types.PeerID) (interfaces.Connection, error) {
	udpAddr, err := toUDPAddr(raddr)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	if err := t.ensureTransport(&net.UDPAddr{}); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	qt := t.qt
	t.mu.Unlock()

	clientTLS, err := t.id.TLSConfig(ALPN, peer)
	if err != nil {
		return nil, err
	}

	qc, err := qt.Dial(ctx, udpAddr, clientTLS, t.config)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", raddr, err)
	}
	return newConn(qc, t.localPeer)
}

// CanDial 是否为 QUIC 地址
func (t *Transport) CanDial(addr ma.Multiaddr) bool {
	return isQUICAddr(addr)
}

// Listen 监听地址
func (t *Transport) Listen(laddr ma.Multiaddr) (interfaces.Listener, error) {
	udpAddr, err := toUDPAddr(laddr)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTransportClosed
	}
	if err := t.ensureTransport(udpAddr); err != nil {
		return nil, err
	}

	ql, err := t.qt.Listen(t.serverTLS, t.config)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	actual, err := fromNetAddr(t.udpConn.LocalAddr())
	if err != nil {
		_ = ql.Close()
		return nil, err
	}

	l := &Listener{ql: ql, addr: actual, transport: t}
	t.listeners = append(t.listeners, l)
	log.Debug("QUIC 监听", "addr", actual)
	return l, nil
}

// Close 关闭传输（监听器与所有连接）
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
	if t.qt != nil {
		_ = t.qt.Close()
	}
	if t.udpConn != nil {
		return t.udpConn.Close()
	}
	return nil
}
