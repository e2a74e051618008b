package tcp

import (
	"context"
	"errors"
	"net"
	"sync/atomic"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/relayd/pkg/interfaces"
)

// Listener TCP 监听器
type Listener struct {
	nl        net.Listener
	addr      ma.Multiaddr
	transport *Transport
	closed    atomic.Bool
}

var _ interfaces.Listener = (*Listener)(nil)

// Accept 接受连接并完成升级
//
// 握手失败的连接被丢弃，继续等待下一个。
func (l *Listener) Accept(ctx context.Context) (interfaces.Connection, error) {
	stop := context.AfterFunc(ctx, func() { _ = l.nl.Close() })
	defer stop()

	for {
		raw, err := l.nl.Accept()
		if err != nil {
			if l.closed.Load() || errors.Is(err, net.ErrClosed) {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, ErrTransportClosed
			}
			return nil, err
		}

		hctx, cancel := context.WithTimeout(ctx, l.transport.handshakeTimeout)
		conn, err := upgrade(hctx, raw, l.transport.serverTLS, l.transport.mux, l.transport.localPeer, true)
		cancel()
		if err != nil {
			log.Debug("丢弃入站连接", "remote", raw.RemoteAddr(), "err", err)
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
	return l.nl.Close()
}
