package quic

import (
	"time"

	"github.com/quic-go/quic-go"

	"github.com/dep2p/relayd/pkg/interfaces"
	"github.com/dep2p/relayd/pkg/types"
)

// resetCode 流重置错误码
const resetCode quic.StreamErrorCode = 0

// Stream QUIC 流封装
type Stream struct {
	qs    *quic.Stream
	conn  *Conn
	proto types.ProtocolID
}

var _ interfaces.Stream = (*Stream)(nil)

func newStream(qs *quic.Stream, conn *Conn) *Stream {
	return &Stream{qs: qs, conn: conn}
}

// Read 从流中读取数据
func (s *Stream) Read(p []byte) (int, error) {
	return s.qs.Read(p)
}

// Write 向流写入数据
func (s *Stream) Write(p []byte) (int, error) {
	return s.qs.Write(p)
}

// Close 关闭写端并停止读取
func (s *Stream) Close() error {
	s.qs.CancelRead(resetCode)
	return s.qs.Close()
}

// CloseWrite 关闭写端
func (s *Stream) CloseWrite() error {
	return s.qs.Close()
}

// Reset 双向中止
func (s *Stream) Reset() error {
	s.qs.CancelRead(resetCode)
	s.qs.CancelWrite(resetCode)
	return nil
}

// SetDeadline 设置读写超时
func (s *Stream) SetDeadline(t time.Time) error {
	return s.qs.SetDeadline(t)
}

// SetReadDeadline 设置读超时
func (s *Stream) SetReadDeadline(t time.Time) error {
	return s.qs.SetReadDeadline(t)
}

// SetWriteDeadline 设置写超时
func (s *Stream) SetWriteDeadline(t time.Time) error {
	return s.qs.SetWriteDeadline(t)
}

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
