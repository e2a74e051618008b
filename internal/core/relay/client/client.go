package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dep2p/relayd/internal/util/logger"
	"github.com/dep2p/relayd/pkg/interfaces"
	pb "github.com/dep2p/relayd/pkg/lib/proto/relay"
	"github.com/dep2p/relayd/pkg/protocolids"
	"github.com/dep2p/relayd/pkg/types"
)

var log = logger.Logger("relay/client")

// DefaultTimeout 单次请求的默认超时（ctx 没有截止时间时使用）
const DefaultTimeout = 30 * time.Second

// ErrUnexpectedMessage 收到的消息类型与预期不符
var ErrUnexpectedMessage = errors.New("relay client: unexpected message")

// StatusError 中继返回的非 OK 状态
type StatusError struct {
	Code   pb.StatusCode
	Reason string
}

func (e *StatusError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("relay: %s", e.Code)
	}
	return fmt.Sprintf("relay: %s: %s", e.Code, e.Reason)
}

// Reservation 中继授予的预留
type Reservation struct {
	Relay types.PeerID

	// TTL 实际授予的有效期
	TTL time.Duration

	// Expiry 按本地时钟估算的过期时间
	Expiry time.Time

	// Addrs 中继的可达地址
	Addrs []string

	// CircuitDuration 单条电路最长存活时间
	CircuitDuration time.Duration

	// CircuitLimit 单条电路可转发字节数
	CircuitLimit uint64
}

// Circuit 已建立的中继电路
type Circuit struct {
	Relay types.PeerID
	Peer  types.PeerID

	// Stream 承载对端数据的流，关闭即关闭电路
	Stream interfaces.Stream

	Duration time.Duration
	Limit    uint64
}

// Reserve 在中继上预留（或续约），返回授予的预留
func Reserve(ctx context.Context, h interfaces.Host, relay types.PeerID, ttl time.Duration) (*Reservation, error) {
	stream, err := openHop(ctx, h, relay)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	resp, err := roundTrip(ctx, stream, pb.NewReserve(uint64(ttl/time.Second)))
	if err != nil {
		return nil, err
	}

	granted := time.Duration(resp.TTL) * time.Second
	return &Reservation{
		Relay:           relay,
		TTL:             granted,
		Expiry:          time.Now().Add(granted),
		Addrs:           resp.Addrs,
		CircuitDuration: time.Duration(resp.Duration) * time.Second,
		CircuitLimit:    resp.Limit,
	}, nil
}

// Cancel 取消在中继上的预留
func Cancel(ctx context.Context, h interfaces.Host, relay types.PeerID) error {
	stream, err := openHop(ctx, h, relay)
	if err != nil {
		return err
	}
	defer stream.Close()

	_, err = roundTrip(ctx, stream, pb.NewCancel())
	return err
}

// Connect 通过中继连接 dst
//
// 成功后返回的流直接承载与 dst 之间的数据，由调用方关闭。
func Connect(ctx context.Context, h interfaces.Host, relay, dst types.PeerID, duration time.Duration) (*Circuit, error) {
	stream, err := openHop(ctx, h, relay)
	if err != nil {
		return nil, err
	}

	resp, err := roundTrip(ctx, stream, pb.NewConnect(dst.Bytes(), uint64(duration/time.Second)))
	if err != nil {
		_ = stream.Reset()
		return nil, err
	}
	_ = stream.SetDeadline(time.Time{})

	return &Circuit{
		Relay:    relay,
		Peer:     dst,
		Stream:   stream,
		Duration: time.Duration(resp.Duration) * time.Second,
		Limit:    resp.Limit,
	}, nil
}

// StopHandler 返回 stop 协议处理器
//
// 收到 STOP 后回复 OK，并把流交给 accept；accept 负责关闭流。
func StopHandler(accept func(*Circuit)) interfaces.StreamHandler {
	return func(stream interfaces.Stream) {
		_ = stream.SetReadDeadline(time.Now().Add(DefaultTimeout))

		msg, err := pb.ReadMessage(stream)
		if err != nil {
			log.Debug("读取 STOP 失败", "err", err)
			_ = stream.Reset()
			return
		}
		if msg.Type != pb.TypeStop {
			_ = pb.WriteMessage(stream, pb.NewStatus(pb.StatusMalformedRequest, "expected STOP"))
			_ = stream.Close()
			return
		}
		src, err := types.PeerIDFromBytes(msg.Peer)
		if err != nil {
			_ = pb.WriteMessage(stream, pb.NewStatus(pb.StatusMalformedRequest, "invalid source peer"))
			_ = stream.Close()
			return
		}
		if err := pb.WriteMessage(stream, pb.NewStatus(pb.StatusOK, "")); err != nil {
			_ = stream.Reset()
			return
		}
		_ = stream.SetDeadline(time.Time{})

		var relay types.PeerID
		if conn := stream.Conn(); conn != nil {
			relay = conn.RemotePeer()
		}
		accept(&Circuit{
			Relay:    relay,
			Peer:     src,
			Stream:   stream,
			Duration: time.Duration(msg.Duration) * time.Second,
			Limit:    msg.Limit,
		})
	}
}

func openHop(ctx context.Context, h interfaces.Host, relay types.PeerID) (interfaces.Stream, error) {
	stream, err := h.NewStream(ctx, relay, protocolids.SysRelayHop)
	if err != nil {
		return nil, fmt.Errorf("open hop stream: %w", err)
	}
	return stream, nil
}

// roundTrip 写入请求并读取 STATUS，非 OK 时返回 *StatusError
func roundTrip(ctx context.Context, stream interfaces.Stream, req *pb.Message) (*pb.Message, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultTimeout)
	}
	_ = stream.SetDeadline(deadline)

	if err := pb.WriteMessage(stream, req); err != nil {
		return nil, fmt.Errorf("write %s: %w", req.Type, err)
	}
	resp, err := pb.ReadMessage(stream)
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	if resp.Type != pb.TypeStatus {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedMessage, resp.Type)
	}
	if resp.Status != pb.StatusOK {
		return nil, &StatusError{Code: resp.Status, Reason: resp.Reason}
	}
	return resp, nil
}
