package quic

import (
	"context"
	"crypto/ed25519"
	"sync/atomic"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/quic-go/quic-go"

	"github.com/dep2p/relayd/internal/core/identity"
	"github.com/dep2p/relayd/pkg/interfaces"
	"github.com/dep2p/relayd/pkg/types"
)

// Conn QUIC 连接
type Conn struct {
	qc         *quic.Conn
	localPeer  types.PeerID
	remotePeer types.PeerID
	remotePub  ed25519.PublicKey
	localAddr  ma.Multiaddr
	remoteAddr ma.Multiaddr
	closed     atomic.Bool
}

var _ interfaces.Connection = (*Conn)(nil)

// newConn 包装已完成握手的连接，从证书派生远端身份
func newConn(qc *quic.Conn, local types.PeerID) (*Conn, error) {
	remote, pub, err := identity.RemotePeer(qc.ConnectionState().TLS)
	if err != nil {
		_ = qc.CloseWithError(0, "identity")
		return nil, err
	}

	c := &Conn{
		qc:         qc,
		localPeer:  local,
		remotePeer: remote,
		remotePub:  pub,
	}
	if addr, err := fromNetAddr(qc.LocalAddr()); err == nil {
		c.localAddr = addr
	}
	if addr, err := fromNetAddr(qc.RemoteAddr()); err == nil {
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
	if c.IsClosed() {
		return nil, ErrConnectionClosed
	}
	qs, err := c.qc.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return newStream(qs, c), nil
}

// AcceptStream 接受对方创建的流
func (c *Conn) AcceptStream(ctx context.Context) (interfaces.Stream, error) {
	if c.IsClosed() {
		return nil, ErrConnectionClosed
	}
	qs, err := c.qc.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return newStream(qs, c), nil
}

// IsClosed 连接是否已关闭（本端关闭或对端断开）
func (c *Conn) IsClosed() bool {
	return c.closed.Load() || c.qc.Context().Err() != nil
}

// Close 关闭连接
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.qc.CloseWithError(0, "connection closed")
}
