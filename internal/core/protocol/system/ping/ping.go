package ping

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"time"

	"github.com/dep2p/relayd/pkg/interfaces"
	"github.com/dep2p/relayd/pkg/protocolids"
	"github.com/dep2p/relayd/pkg/types"
)

// ProtocolID Ping 协议 ID
const ProtocolID = protocolids.SysPing

const (
	// PingSize Ping 消息大小
	PingSize = 32

	// PingTimeout 客户端等待回显的超时
	PingTimeout = 10 * time.Second

	// HandlerIdleTimeout 服务端空闲超时
	HandlerIdleTimeout = 60 * time.Second
)

// ErrDataMismatch 回显数据不匹配
var ErrDataMismatch = errors.New("ping: echo data mismatch")

// Service Ping 服务
type Service struct {
	idleTimeout time.Duration
}

// NewService 创建 Ping 服务
func NewService() *Service {
	return &Service{idleTimeout: HandlerIdleTimeout}
}

// Handler 读取 32 字节并回显，直到对端关闭或空闲超时
func (s *Service) Handler(stream interfaces.Stream) {
	defer stream.Close()

	buf := make([]byte, PingSize)
	for {
		_ = stream.SetReadDeadline(time.Now().Add(s.idleTimeout))
		if _, err := io.ReadFull(stream, buf); err != nil {
			return
		}
		if _, err := stream.Write(buf); err != nil {
			return
		}
	}
}

// Ping 向已连接的节点发送一次 ping，返回往返时间
func Ping(ctx context.Context, host interfaces.Host, peer types.PeerID) (time.Duration, error) {
	stream, err := host.NewStream(ctx, peer, ProtocolID)
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	return pingOnce(stream)
}

func pingOnce(stream io.ReadWriter) (time.Duration, error) {
	if s, ok := stream.(interface{ SetDeadline(time.Time) error }); ok {
		_ = s.SetDeadline(time.Now().Add(PingTimeout))
	}

	buf := make([]byte, PingSize)
	if _, err := rand.Read(buf); err != nil {
		return 0, err
	}

	start := time.Now()
	if _, err := stream.Write(buf); err != nil {
		return 0, err
	}
	echo := make([]byte, PingSize)
	if _, err := io.ReadFull(stream, echo); err != nil {
		return 0, err
	}
	rtt := time.Since(start)

	if !bytes.Equal(buf, echo) {
		return 0, ErrDataMismatch
	}
	return rtt, nil
}
