// Package relay 定义中继协议的 wire format
//
// 每个帧由 unsigned varint 长度前缀加 protobuf wire 格式的载荷组成，
// 载荷超过 MaxFrameSize 时在分配内存之前即被拒绝。
//
// 字段编号：
//
//	1 version    varint  必须为 1
//	2 type       varint  RESERVE=1 CONNECT=2 STATUS=3 STOP=4 CANCEL=5
//	3 ttl        varint  请求/授予的预留秒数
//	4 peer       bytes   32 字节 PeerID（CONNECT 的目标，STOP 的源）
//	5 duration   varint  电路时长秒数
//	6 status     varint  状态码
//	7 reason     bytes   状态说明
//	8 limit      varint  电路字节上限
//	9 addrs      bytes   中继地址（可重复）
//
// 未知字段被跳过。
package relay

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// Version 协议版本
	Version = 1

	// MaxFrameSize 单帧载荷上限
	MaxFrameSize = 4 << 10
)

// 编解码错误
var (
	// ErrMalformed 载荷无法解析
	ErrMalformed = errors.New("relay proto: malformed message")

	// ErrFrameTooLarge 帧长度超过 MaxFrameSize
	ErrFrameTooLarge = errors.New("relay proto: frame too large")

	// ErrUnsupportedVersion 协议版本不是 Version
	ErrUnsupportedVersion = errors.New("relay proto: unsupported version")
)

// ============================================================================
//                              消息类型
// ============================================================================

// MessageType 消息类型
type MessageType uint64

const (
	// TypeReserve 预留请求（客户端 → 中继）
	TypeReserve MessageType = 1
	// TypeConnect 连接请求（客户端 → 中继）
	TypeConnect MessageType = 2
	// TypeStatus 状态响应
	TypeStatus MessageType = 3
	// TypeStop 停止请求（中继 → 目标节点）
	TypeStop MessageType = 4
	// TypeCancel 取消预留（客户端 → 中继）
	TypeCancel MessageType = 5
)

// String 返回消息类型名
func (t MessageType) String() string {
	switch t {
	case TypeReserve:
		return "RESERVE"
	case TypeConnect:
		return "CONNECT"
	case TypeStatus:
		return "STATUS"
	case TypeStop:
		return "STOP"
	case TypeCancel:
		return "CANCEL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint64(t))
	}
}

// ============================================================================
//                              状态码
// ============================================================================

// StatusCode 状态码
type StatusCode uint64

const (
	StatusOK               StatusCode = 0
	StatusMalformedRequest StatusCode = 1
	StatusRateLimited      StatusCode = 10
	StatusNoReservation    StatusCode = 11
	StatusCapacityExceeded StatusCode = 12
	StatusTTLRejected      StatusCode = 13
	StatusConnectFailed    StatusCode = 20
	StatusRelayShutdown    StatusCode = 30
)

// String 返回状态码名
func (c StatusCode) String() string {
	switch c {
	case StatusOK:
		return "OK"
	case StatusMalformedRequest:
		return "MALFORMED_REQUEST"
	case StatusRateLimited:
		return "RATE_LIMITED"
	case StatusNoReservation:
		return "NO_RESERVATION"
	case StatusCapacityExceeded:
		return "CAPACITY_EXCEEDED"
	case StatusTTLRejected:
		return "TTL_REJECTED"
	case StatusConnectFailed:
		return "CONNECT_FAILED"
	case StatusRelayShutdown:
		return "RELAY_SHUTDOWN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint64(c))
	}
}

// ============================================================================
//                              消息结构
// ============================================================================

// Message 中继协议消息
//
// 所有消息类型共用一个结构，按 Type 使用其中的字段。
type Message struct {
	Version  uint64
	Type     MessageType
	TTL      uint64 // 秒
	Peer     []byte
	Duration uint64 // 秒
	Status   StatusCode
	Reason   string
	Limit    uint64
	Addrs    []string
}

// NewReserve 创建 RESERVE 消息
func NewReserve(ttlSeconds uint64) *Message {
	return &Message{Version: Version, Type: TypeReserve, TTL: ttlSeconds}
}

// NewCancel 创建 CANCEL 消息
func NewCancel() *Message {
	return &Message{Version: Version, Type: TypeCancel}
}

// NewConnect 创建 CONNECT 消息
func NewConnect(dst []byte, durationSeconds uint64) *Message {
	return &Message{Version: Version, Type: TypeConnect, Peer: dst, Duration: durationSeconds}
}

// NewStop 创建 STOP 消息
func NewStop(src []byte, durationSeconds, limit uint64) *Message {
	return &Message{Version: Version, Type: TypeStop, Peer: src, Duration: durationSeconds, Limit: limit}
}

// NewStatus 创建 STATUS 消息
func NewStatus(code StatusCode, reason string) *Message {
	return &Message{Version: Version, Type: TypeStatus, Status: code, Reason: reason}
}

// Marshal 编码为 protobuf wire 格式，零值字段省略
func (m *Message) Marshal() []byte {
	b := make([]byte, 0, 64)
	b = appendVarint(b, 1, m.Version)
	b = appendVarint(b, 2, uint64(m.Type))
	b = appendVarint(b, 3, m.TTL)
	if len(m.Peer) > 0 {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Peer)
	}
	b = appendVarint(b, 5, m.Duration)
	b = appendVarint(b, 6, uint64(m.Status))
	if m.Reason != "" {
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendString(b, m.Reason)
	}
	b = appendVarint(b, 8, m.Limit)
	for _, addr := range m.Addrs {
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendString(b, addr)
	}
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// Unmarshal 解码载荷
//
// 未知字段被跳过；版本不为 Version 时返回 ErrUnsupportedVersion。
func Unmarshal(b []byte) (*Message, error) {
	m := &Message{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case 1, 2, 3, 5, 6, 8:
			if typ != protowire.VarintType {
				return nil, fmt.Errorf("%w: field %d has wire type %d", ErrMalformed, num, typ)
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			m.setVarint(num, v)

		case 4, 7, 9:
			if typ != protowire.BytesType {
				return nil, fmt.Errorf("%w: field %d has wire type %d", ErrMalformed, num, typ)
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case 4:
				m.Peer = append([]byte(nil), v...)
			case 7:
				m.Reason = string(v)
			case 9:
				m.Addrs = append(m.Addrs, string(v))
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if m.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, m.Version)
	}
	return m, nil
}

func (m *Message) setVarint(num protowire.Number, v uint64) {
	switch num {
	case 1:
		m.Version = v
	case 2:
		m.Type = MessageType(v)
	case 3:
		m.TTL = v
	case 5:
		m.Duration = v
	case 6:
		m.Status = StatusCode(v)
	case 8:
		m.Limit = v
	}
}
