package relay

import (
	"fmt"
	"time"

	"github.com/dep2p/relayd/pkg/types"
)

// EventType 中继事件类型
type EventType int

const (
	// EventReservationAccepted 预留成功（含续约）
	EventReservationAccepted EventType = iota + 1
	// EventReservationDenied 预留被拒绝
	EventReservationDenied
	// EventReservationExpired 预留过期被清理
	EventReservationExpired
	// EventReservationCancelled 预留被取消（CANCEL 或断开连接）
	EventReservationCancelled
	// EventCircuitEstablished 电路建立
	EventCircuitEstablished
	// EventCircuitDenied 电路请求被拒绝
	EventCircuitDenied
	// EventCircuitClosed 电路关闭
	EventCircuitClosed
)

// String 返回事件名
func (t EventType) String() string {
	switch t {
	case EventReservationAccepted:
		return "ReservationAccepted"
	case EventReservationDenied:
		return "ReservationDenied"
	case EventReservationExpired:
		return "ReservationExpired"
	case EventReservationCancelled:
		return "ReservationCancelled"
	case EventCircuitEstablished:
		return "CircuitEstablished"
	case EventCircuitDenied:
		return "CircuitDenied"
	case EventCircuitClosed:
		return "CircuitClosed"
	default:
		return fmt.Sprintf("Event(%d)", int(t))
	}
}

// Event 中继事件
//
// 按 Type 使用其中的字段：
//   - Reservation*: Peer, ExpiresAt, Renewed, Deny
//   - Circuit*: Peer 为源节点, Dst, Circuit, Deny, Close, BytesRelayed
type Event struct {
	Type EventType
	Time time.Time

	Peer    types.PeerID
	Dst     types.PeerID
	Circuit types.CircuitID

	ExpiresAt time.Time
	Renewed   bool

	// Disconnected 预留因连接断开而取消
	Disconnected bool

	Deny  DenyReason
	Close CloseReason

	BytesRelayed uint64
}

// String 返回事件的简短描述，用于日志
func (e Event) String() string {
	switch e.Type {
	case EventReservationAccepted:
		return fmt.Sprintf("%s peer=%s renewed=%t expires=%s", e.Type, e.Peer.ShortString(), e.Renewed, e.ExpiresAt.Format(time.RFC3339))
	case EventReservationDenied:
		return fmt.Sprintf("%s peer=%s reason=%s", e.Type, e.Peer.ShortString(), e.Deny)
	case EventReservationExpired:
		return fmt.Sprintf("%s peer=%s", e.Type, e.Peer.ShortString())
	case EventReservationCancelled:
		return fmt.Sprintf("%s peer=%s disconnected=%t", e.Type, e.Peer.ShortString(), e.Disconnected)
	case EventCircuitEstablished:
		return fmt.Sprintf("%s id=%s src=%s dst=%s", e.Type, e.Circuit, e.Peer.ShortString(), e.Dst.ShortString())
	case EventCircuitDenied:
		return fmt.Sprintf("%s src=%s dst=%s reason=%s", e.Type, e.Peer.ShortString(), e.Dst.ShortString(), e.Deny)
	case EventCircuitClosed:
		return fmt.Sprintf("%s id=%s reason=%s bytes=%d", e.Type, e.Circuit, e.Close, e.BytesRelayed)
	default:
		return e.Type.String()
	}
}
