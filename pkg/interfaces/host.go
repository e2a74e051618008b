package interfaces

import (
	"context"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/relayd/pkg/types"
)

// StreamHandler 协议流处理函数，返回前负责关闭流
type StreamHandler func(Stream)

// Host 定义网络主机接口
//
// Host 维护按 PeerID 索引的连接注册表，用 multistream-select
// 为入站流分派协议处理器，并向订阅者通知连接变化。
type Host interface {
	// ID 返回本地 PeerID
	ID() types.PeerID

	// Addrs 返回实际监听地址
	Addrs() []ma.Multiaddr

	// SetStreamHandler 注册协议处理器
	SetStreamHandler(proto types.ProtocolID, handler StreamHandler)

	// RemoveStreamHandler 移除协议处理器
	RemoveStreamHandler(proto types.ProtocolID)

	// Protocols 返回已注册的协议列表
	Protocols() []types.ProtocolID

	// Connect 拨号并注册到指定节点的连接
	Connect(ctx context.Context, peer types.PeerID, addr ma.Multiaddr) error

	// NewStream 在到 peer 的已有连接上打开流并协商协议
	//
	// 没有连接时返回错误，Host 不主动拨号。
	NewStream(ctx context.Context, peer types.PeerID, protos ...types.ProtocolID) (Stream, error)

	// Peers 返回当前有连接的节点
	Peers() []types.PeerID

	// ConnsToPeer 返回到指定节点的连接
	ConnsToPeer(peer types.PeerID) []Connection

	// Notify 注册连接通知
	Notify(n Notifiee)

	// StopNotify 取消连接通知
	StopNotify(n Notifiee)

	// Close 关闭主机（监听器与所有连接）
	Close() error
}

// Notifiee 连接变化通知接收者
type Notifiee interface {
	// Connected 新连接注册完成
	Connected(conn Connection)

	// Disconnected 节点的最后一条连接已关闭
	Disconnected(peer types.PeerID)
}

// NotifyBundle 用函数实现 Notifiee，未设置的回调被忽略
type NotifyBundle struct {
	ConnectedF    func(Connection)
	DisconnectedF func(types.PeerID)
}

var _ Notifiee = (*NotifyBundle)(nil)

// Connected 实现 Notifiee
func (nb *NotifyBundle) Connected(conn Connection) {
	if nb.ConnectedF != nil {
		nb.ConnectedF(conn)
	}
}

// Disconnected 实现 Notifiee
func (nb *NotifyBundle) Disconnected(peer types.PeerID) {
	if nb.DisconnectedF != nil {
		nb.DisconnectedF(peer)
	}
}
