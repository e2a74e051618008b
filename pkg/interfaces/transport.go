package interfaces

import (
	"context"
	"crypto/ed25519"
	"io"
	"time"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/relayd/pkg/types"
)

// Transport 定义传输层接口
//
// Transport 抽象不同的传输协议（QUIC、TCP + yamux），
// 返回的 Connection 已完成 TLS 1.3 握手并确认远端身份。
type Transport interface {
	// Dial 拨号连接到指定地址
	//
	// peer 非空时校验远端证书派生的 PeerID。
	Dial(ctx context.Context, raddr ma.Multiaddr, peer types.PeerID) (Connection, error)

	// CanDial 检查是否支持拨号到指定地址
	CanDial(addr ma.Multiaddr) bool

	// Listen 在指定地址监听
	Listen(laddr ma.Multiaddr) (Listener, error)

	// Close 关闭传输
	Close() error
}

// Listener 定义监听器接口
type Listener interface {
	// Accept 接受新连接，ctx 取消或监听器关闭时返回错误
	Accept(ctx context.Context) (Connection, error)

	// Multiaddr 返回实际监听地址（端口为 0 时已解析）
	Multiaddr() ma.Multiaddr

	// Close 关闭监听器
	Close() error
}

// Connection 定义已认证连接
type Connection interface {
	// LocalPeer 返回本地节点 ID
	LocalPeer() types.PeerID

	// RemotePeer 返回远端节点 ID
	RemotePeer() types.PeerID

	// RemotePublicKey 返回远端公钥
	RemotePublicKey() ed25519.PublicKey

	// LocalMultiaddr 返回本地多地址
	LocalMultiaddr() ma.Multiaddr

	// RemoteMultiaddr 返回远端多地址
	RemoteMultiaddr() ma.Multiaddr

	// OpenStream 在此连接上创建新流（尚未协商协议）
	OpenStream(ctx context.Context) (Stream, error)

	// AcceptStream 接受对方创建的流
	AcceptStream(ctx context.Context) (Stream, error)

	// IsClosed 连接是否已关闭
	IsClosed() bool

	// Close 关闭连接及其上的所有流
	Close() error
}

// Stream 定义双向字节流
type Stream interface {
	io.Reader
	io.Writer
	io.Closer

	// CloseWrite 半关闭写方向
	CloseWrite() error

	// Reset 异常终止流（两个方向）
	Reset() error

	// SetDeadline 设置读写截止时间
	SetDeadline(t time.Time) error

	// SetReadDeadline 设置读截止时间
	SetReadDeadline(t time.Time) error

	// SetWriteDeadline 设置写截止时间
	SetWriteDeadline(t time.Time) error

	// Protocol 返回协商得到的协议 ID
	Protocol() types.ProtocolID

	// SetProtocol 记录协商得到的协议 ID
	SetProtocol(p types.ProtocolID)

	// Conn 返回流所属连接，测试桩可以返回 nil
	Conn() Connection
}
