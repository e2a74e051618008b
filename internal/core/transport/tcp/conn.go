package tcp

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"fmt"
	"net"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/dep2p/relayd/internal/core/identity"
	"github.com/dep2p/relayd/internal/core/muxer"
	"github.com/dep2p/relayd/pkg/interfaces"
	"github.com/dep2p/relayd/pkg/types"
)

// Conn TLS + yamux 连接
type Conn struct {
	mux        *muxer.Conn
	localPeer  types.PeerID
	remotePeer types.PeerID
	remotePub  ed25519.PublicKey
	localAddr  ma.Multiaddr
	remoteAddr ma.Multiaddr
}

var _ interfaces.Connection = (*Conn)(nil)

// upgrade 完成 TLS 握手并建立 yamux 会话
//
// 失败时关闭原始连接。
func upgrade(ctx context.Context, raw net.Conn, cfg *tls.Config, mt *muxer.Transport, local types.PeerID, isServer bool) (*Conn, error) {
	var tc *tls.Conn
	if isServer {
		tc = tls.Server(raw, cfg)
	} else {
		tc = tls.Client(raw, cfg)
	}
	if err := tc.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}

	remote, pub, err := identity.RemotePeer(tc.ConnectionState())
	if err != nil {
		_ = raw.Close()
		return nil, err
	}

	mc, err := mt.NewConn(tc, isServer)
	if err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("yamux: %w", err)
	}

	c := &Conn{
		mux:        mc,
		localPeer:  local,
		remotePeer: remote,
		remotePub:  pub,
	}
	if addr, err := manet.FromNetAddr(raw.LocalAddr()); err == nil {
		c.localAddr = addr
	}
	if addr, err := manet.FromNetAddr(raw.RemoteAddr()); err == nil {
		c.remoteAddr = addr
	}
	return c, nil
}

// LocalPeer 返回本地节点 ID
func (c *Conn) LocalPeer() types.PeerID {
	return c.localPeer
}

// RemotePeer 返回远端节点 ID
func (c *Conn) RemotePeer() types.PeerID {
	return c.remotePeer
}

// RemotePublicKey 返回远端公钥
func (c *Conn) RemotePublicKey() ed25519.PublicKey {
	return c.remotePub
}

// LocalMultiaddr 返回本地多地址
func (c *Conn) LocalMultiaddr() ma.Multiaddr {
	return c.localAddr
}

// RemoteMultiaddr 返回远端多地址
func (c *Conn) RemoteMultiaddr() ma.Multiaddr {
	return c.remoteAddr
}

// OpenStream 创建新流
func (c *Conn) OpenStream(ctx context.Context) (interfaces.Stream, error) {
	if c.mux.IsClosed() {
		return nil, ErrConnectionClosed
	}
	s, err := c.mux.OpenStream(ctx)
	if err != nil {
		return nil, err
	}
	return &Stream{Stream: s, conn: c}, nil
}

// AcceptStream 接受对方创建的流
//
// yamux 不支持带 ctx 的 Accept，ctx 取消时关闭会话以解除阻塞。
func (c *Conn) AcceptStream(ctx context.Context) (interfaces.Stream, error) {
	if c.mux.IsClosed() {
		return nil, ErrConnectionClosed
	}

	stop := context.AfterFunc(ctx, func() { _ = c.mux.Close() })
	defer stop()

	s, err := c.mux.AcceptStream()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return &Stream{Stream: s, conn: c}, nil
}

// IsClosed 连接是否已关闭
func (c *Conn) IsClosed() bool {
	return c.mux.IsClosed()
}

// Close 关闭连接
func (c *Conn) Close() error {
	return c.mux.Close()
}
