package quic

import (
	"context"
	"fmt"
	"sync/atomic"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/quic-go/quic-go"

	"github.com/dep2p/relayd/pkg/interfaces"
)

// Listener QUIC 监听器
type Listener struct {
	ql        *quic.Listener
	addr      ma.Multiaddr
	transport *Transport
	closed    atomic.Bool
}

var _ interfaces.Listener = (*Listener)(nil)

// Accept 接受连接
//
// 身份派生失败的连接被丢弃，继续等待下一个。
func (l *Listener) Accept(ctx context.Context) (interfaces.Connection, error) {
	for {
		if l.closed.Load() {
			return nil, ErrTransportClosed
		}

		qc, err := l.ql.Accept(ctx)
		if err != nil {
			if l.closed.Load() {
				return nil, ErrTransportClosed
			}
			return nil, fmt.Errorf("接受连接失败: %w", err)
		}

		conn, err := newConn(qc, l.transport.localPeer)
		if err != nil {
			log.Debug("丢弃入站连接", "remote", qc.RemoteAddr(), "err", err)
			continue
		}
		return conn, nil
	}
}

// Multiaddr 返回实际监听地址
func (l *Listener) Multiaddr() ma.Multiaddr {
	return l.addr
}

// Close 关闭监听器
func (l *Listener) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	return l.ql.Close()
}
