package relay

import (
	"errors"
	"fmt"

	pb "github.com/dep2p/relayd/pkg/lib/proto/relay"
)

// Sentinel errors
var (
	// 拒绝原因
	ErrMalformedRequest = errors.New("relay: malformed request")
	ErrRateLimited      = errors.New("relay: rate limited")
	ErrNoReservation    = errors.New("relay: no reservation")
	ErrCapacityExceeded = errors.New("relay: capacity exceeded")
	ErrTTLRejected      = errors.New("relay: ttl rejected")
	ErrConnectFailed    = errors.New("relay: connect failed")
	ErrRelayShutdown    = errors.New("relay: relay shutdown")

	// 电路转发
	ErrQuotaExceeded    = errors.New("relay: circuit byte quota exceeded")
	ErrDurationExceeded = errors.New("relay: circuit duration exceeded")
	ErrCircuitNotFound  = errors.New("relay: circuit not found")
	ErrCircuitClosed    = errors.New("relay: circuit closed")
	ErrCircuitClosing   = errors.New("relay: circuit closing")

	// 配置
	ErrInvalidConfig = errors.New("relay: invalid config")
)

// DenyReason 请求被拒绝的原因
type DenyReason int

const (
	// DenyMalformed 请求格式错误
	DenyMalformed DenyReason = iota + 1
	// DenyRateLimited 请求速率超限
	DenyRateLimited
	// DenyNoReservation 目标节点没有有效预留
	DenyNoReservation
	// DenyCapacityExceeded 容量已满
	DenyCapacityExceeded
	// DenyTTLRejected TTL 不可接受
	DenyTTLRejected
	// DenyConnectFailed 无法连接目标节点
	DenyConnectFailed
	// DenyRelayShutdown 中继正在关闭
	DenyRelayShutdown
)

// denyTable 拒绝原因 → 哨兵错误 / 状态码，映射只在这里定义
var denyTable = map[DenyReason]struct {
	err    error
	status pb.StatusCode
}{
	DenyMalformed:        {ErrMalformedRequest, pb.StatusMalformedRequest},
	DenyRateLimited:      {ErrRateLimited, pb.StatusRateLimited},
	DenyNoReservation:    {ErrNoReservation, pb.StatusNoReservation},
	DenyCapacityExceeded: {ErrCapacityExceeded, pb.StatusCapacityExceeded},
	DenyTTLRejected:      {ErrTTLRejected, pb.StatusTTLRejected},
	DenyConnectFailed:    {ErrConnectFailed, pb.StatusConnectFailed},
	DenyRelayShutdown:    {ErrRelayShutdown, pb.StatusRelayShutdown},
}

// String 返回原因名
func (r DenyReason) String() string {
	switch r {
	case DenyMalformed:
		return "malformed"
	case DenyRateLimited:
		return "rate_limited"
	case DenyNoReservation:
		return "no_reservation"
	case DenyCapacityExceeded:
		return "capacity_exceeded"
	case DenyTTLRejected:
		return "ttl_rejected"
	case DenyConnectFailed:
		return "connect_failed"
	case DenyRelayShutdown:
		return "relay_shutdown"
	default:
		return fmt.Sprintf("deny(%d)", int(r))
	}
}

// Status 返回对应的 wire 状态码
func (r DenyReason) Status() pb.StatusCode {
	if e, ok := denyTable[r]; ok {
		return e.status
	}
	return pb.StatusMalformedRequest
}

// DeniedError 请求被拒绝
//
// Unwrap 返回对应的哨兵错误，errors.Is(err, ErrRateLimited) 可用。
type DeniedError struct {
	Reason DenyReason
}

func (e *DeniedError) Error() string {
	return e.Unwrap().Error()
}

// Unwrap 返回哨兵错误
func (e *DeniedError) Unwrap() error {
	if d, ok := denyTable[e.Reason]; ok {
		return d.err
	}
	return ErrMalformedRequest
}

func denied(r DenyReason) error {
	return &DeniedError{Reason: r}
}

// DenyReasonOf 提取拒绝原因
func DenyReasonOf(err error) (DenyReason, bool) {
	var de *DeniedError
	if errors.As(err, &de) {
		return de.Reason, true
	}
	return 0, false
}

// StatusOf 将错误映射为 wire 状态码，nil 为 OK
func StatusOf(err error) pb.StatusCode {
	if err == nil {
		return pb.StatusOK
	}
	if r, ok := DenyReasonOf(err); ok {
		return r.Status()
	}
	for _, d := range denyTable {
		if errors.Is(err, d.err) {
			return d.status
		}
	}
	return pb.StatusConnectFailed
}

// CloseReason 电路关闭原因
type CloseReason int

const (
	// ClosePeerClosed 任一端关闭或出错
	ClosePeerClosed CloseReason = iota + 1
	// CloseQuotaExceeded 字节配额耗尽
	CloseQuotaExceeded
	// CloseDurationExceeded 时长到期
	CloseDurationExceeded
	// CloseRelayShutdown 中继关闭
	CloseRelayShutdown
	// CloseReservationEnded 目标节点预留结束（需开启策略）
	CloseReservationEnded
)

// String 返回原因名
func (r CloseReason) String() string {
	switch r {
	case ClosePeerClosed:
		return "peer_closed"
	case CloseQuotaExceeded:
		return "quota_exceeded"
	case CloseDurationExceeded:
		return "duration_exceeded"
	case CloseRelayShutdown:
		return "relay_shutdown"
	case CloseReservationEnded:
		return "reservation_ended"
	default:
		return fmt.Sprintf("close(%d)", int(r))
	}
}
