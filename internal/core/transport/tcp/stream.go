package tcp

import (
	"github.com/dep2p/relayd/internal/core/muxer"
	"github.com/dep2p/relayd/pkg/interfaces"
	"github.com/dep2p/relayd/pkg/types"
)

// Stream yamux 流封装
type Stream struct {
	*muxer.Stream
	conn  *Conn
	proto types.ProtocolID
}

var _ interfaces.Stream = (*Stream)(nil)

// Protocol 返回协商得到的协议
func (s *Stream) Protocol() types.ProtocolID {
	return s.proto
}

// SetProtocol 记录协商得到的协议
func (s *Stream) SetProtocol(p types.ProtocolID) {
	s.proto = p
}

// Conn 返回所属连接
func (s *Stream) Conn() interfaces.Connection {
	return s.conn
}
