package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/relayd/pkg/interfaces"
	pb "github.com/dep2p/relayd/pkg/lib/proto/relay"
	"github.com/dep2p/relayd/pkg/protocolids"
	"github.com/dep2p/relayd/pkg/types"
)

// StreamOpener 在到 peer 的已有连接上打开协议流（由 Host 实现）
type StreamOpener interface {
	NewStream(ctx context.Context, peer types.PeerID, protos ...types.ProtocolID) (interfaces.Stream, error)
}

// HandlerState 单个 hop 流的处理状态
type HandlerState int

const (
	// StateAwaitRequest 等待请求
	StateAwaitRequest HandlerState = iota
	// StateProcessing 处理请求
	StateProcessing
	// StateResponding 写回 STATUS
	StateResponding
	// StateForwarding 电路转发中
	StateForwarding
	// StateClosed 流已结束
	StateClosed
)

// String 返回状态名
func (s HandlerState) String() string {
	switch s {
	case StateAwaitRequest:
		return "await_request"
	case StateProcessing:
		return "processing"
	case StateResponding:
		return "responding"
	case StateForwarding:
		return "forwarding"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// handlerHooks 处理器回调，由 Service 提供
type handlerHooks struct {
	publish          func(Event)
	closed           func() bool
	reservationEnded func(peer types.PeerID)
}

// ProtocolHandler 中继协议处理器
//
// 每个入站 hop 流一个 goroutine。拒绝和预留响应之后回到 AwaitRequest，
// 同一流上可以继续发请求；CONNECT 成功后进入 Forwarding，流归电路所有。
type ProtocolHandler struct {
	cfg          Config
	clock        clock.Clock
	reservations *ReservationStore
	circuits     *CircuitTable
	opener       StreamOpener
	hooks        handlerHooks
}

// hopSession 单个 hop 流的会话
type hopSession struct {
	h      *ProtocolHandler
	src    types.PeerID
	stream interfaces.Stream
	state  HandlerState
}

// HandleHop 处理来自 src 的 hop 流，返回前释放或移交流
func (h *ProtocolHandler) HandleHop(ctx context.Context, src types.PeerID, s interfaces.Stream) {
	sess := &hopSession{h: h, src: src, stream: s, state: StateAwaitRequest}
	owned := sess.run(ctx)
	sess.setState(StateClosed)
	if !owned {
		_ = s.Close()
	}
}

func (sess *hopSession) setState(to HandlerState) {
	if sess.state == to {
		return
	}
	log.Debug("hop 状态变化", "peer", sess.src.ShortString(), "from", sess.state, "to", to)
	sess.state = to
}

// run 请求循环；返回 true 表示流已移交给电路
func (sess *hopSession) run(ctx context.Context) bool {
	h := sess.h
	for {
		sess.setState(StateAwaitRequest)

		msg, err := sess.readRequest()
		if err != nil {
			if isMalformed(err) {
				log.Debug("请求格式错误", "peer", sess.src.ShortString(), "err", err)
				_ = sess.respond(pb.NewStatus(pb.StatusMalformedRequest, err.Error()))
			}
			return false
		}

		sess.setState(StateProcessing)
		if h.hooks.closed() {
			_ = sess.respond(pb.NewStatus(pb.StatusRelayShutdown, ErrRelayShutdown.Error()))
			return false
		}

		switch msg.Type {
		case pb.TypeReserve:
			if !sess.reserve(msg) {
				return false
			}
		case pb.TypeCancel:
			if !sess.cancel() {
				return false
			}
		case pb.TypeConnect:
			owned, keep := sess.connect(ctx, msg)
			if owned {
				return true
			}
			if !keep {
				return false
			}
		default:
			_ = sess.respond(pb.NewStatus(pb.StatusMalformedRequest, "unexpected message "+msg.Type.String()))
			return false
		}
	}
}

// readRequest 读取一个请求，受 RequestTimeout 限制
func (sess *hopSession) readRequest() (*pb.Message, error) {
	_ = sess.stream.SetReadDeadline(time.Now().Add(sess.h.cfg.RequestTimeout))
	msg, err := pb.ReadMessage(sess.stream)
	_ = sess.stream.SetReadDeadline(time.Time{})
	return msg, err
}

// respond 写回 STATUS，受 RequestTimeout 限制
func (sess *hopSession) respond(msg *pb.Message) error {
	sess.setState(StateResponding)
	_ = sess.stream.SetWriteDeadline(time.Now().Add(sess.h.cfg.RequestTimeout))
	err := pb.WriteMessage(sess.stream, msg)
	_ = sess.stream.SetWriteDeadline(time.Time{})
	if err != nil {
		log.Debug("写回响应失败", "peer", sess.src.ShortString(), "err", err)
	}
	return err
}

// reserve 处理 RESERVE；返回 false 表示流应结束
func (sess *hopSession) reserve(msg *pb.Message) bool {
	h := sess.h
	ttl := secondsToDuration(msg.TTL)

	r, err := h.reservations.Reserve(sess.src, ttl)
	if err != nil {
		reason, _ := DenyReasonOf(err)
		h.hooks.publish(Event{Type: EventReservationDenied, Peer: sess.src, Deny: reason})
		return sess.respond(pb.NewStatus(StatusOf(err), err.Error())) == nil
	}

	h.hooks.publish(Event{
		Type:      EventReservationAccepted,
		Peer:      sess.src,
		ExpiresAt: r.ExpiresAt,
		Renewed:   r.Renewals > 0,
	})

	resp := pb.NewStatus(pb.StatusOK, "")
	resp.TTL = durationSeconds(min(ttl, h.cfg.MaxReservationTTL))
	resp.Duration = durationSeconds(h.cfg.MaxCircuitDuration)
	resp.Limit = h.cfg.MaxCircuitBytes
	resp.Addrs = r.Addrs
	return sess.respond(resp) == nil
}

// cancel 处理 CANCEL
func (sess *hopSession) cancel() bool {
	h := sess.h
	if h.reservations.Cancel(sess.src) {
		h.hooks.publish(Event{Type: EventReservationCancelled, Peer: sess.src})
		h.hooks.reservationEnded(sess.src)
	}
	return sess.respond(pb.NewStatus(pb.StatusOK, "")) == nil
}

// connect 处理 CONNECT
//
// 返回 owned=true 表示流已移交给电路；keep=true 表示继续等待下一个请求。
func (sess *hopSession) connect(ctx context.Context, msg *pb.Message) (owned, keep bool) {
	h := sess.h

	dst, err := types.PeerIDFromBytes(msg.Peer)
	if err != nil {
		h.hooks.publish(Event{Type: EventCircuitDenied, Peer: sess.src, Deny: DenyMalformed})
		_ = sess.respond(pb.NewStatus(pb.StatusMalformedRequest, "invalid destination peer"))
		return false, false
	}

	c, err := h.circuits.Open(sess.src, dst, secondsToDuration(msg.Duration))
	if err != nil {
		reason, _ := DenyReasonOf(err)
		h.hooks.publish(Event{Type: EventCircuitDenied, Peer: sess.src, Dst: dst, Deny: reason})
		werr := sess.respond(pb.NewStatus(StatusOf(err), err.Error()))
		return false, werr == nil && reason != DenyMalformed
	}

	dstStream, err := h.stop(ctx, c)
	if err != nil {
		log.Debug("STOP 握手失败", "src", sess.src.ShortString(), "dst", dst.ShortString(), "err", err)
		h.circuits.Abort(c.ID)
		reason := abortReason(c, DenyConnectFailed)
		h.hooks.publish(Event{Type: EventCircuitDenied, Peer: sess.src, Dst: dst, Circuit: c.ID, Deny: reason})
		werr := sess.respond(pb.NewStatus(reason.Status(), err.Error()))
		return false, werr == nil && reason != DenyRelayShutdown
	}

	if err := h.circuits.Attach(c.ID, sess.stream, dstStream); err != nil {
		// 握手期间电路已被关闭，两端流仍归本会话
		_ = dstStream.Reset()
		reason := abortReason(c, DenyConnectFailed)
		h.hooks.publish(Event{Type: EventCircuitDenied, Peer: sess.src, Dst: dst, Circuit: c.ID, Deny: reason})
		_ = sess.respond(pb.NewStatus(reason.Status(), denied(reason).Error()))
		return false, false
	}

	sess.setState(StateResponding)
	resp := pb.NewStatus(pb.StatusOK, "")
	resp.Duration = durationSeconds(c.MaxDuration)
	resp.Limit = c.MaxBytes
	if err := pb.WriteMessage(sess.stream, resp); err != nil {
		_ = h.circuits.Close(c.ID, ClosePeerClosed)
		return true, false
	}

	h.hooks.publish(Event{Type: EventCircuitEstablished, Peer: sess.src, Dst: dst, Circuit: c.ID})
	log.Info("电路已建立", "circuit", c.ID, "src", sess.src.ShortString(), "dst", dst.ShortString(),
		"duration", c.MaxDuration, "limit", c.MaxBytes)

	sess.setState(StateForwarding)
	h.splice(c, sess.stream, dstStream)
	return true, false
}

// stop 向 dst 打开 STOP 流并完成握手
func (h *ProtocolHandler) stop(ctx context.Context, c *Circuit) (interfaces.Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.RequestTimeout)
	defer cancel()

	s, err := h.opener.NewStream(ctx, c.Dst, protocolids.SysRelayStop)
	if err != nil {
		return nil, fmt.Errorf("open stop stream: %w", err)
	}

	_ = s.SetDeadline(time.Now().Add(h.cfg.RequestTimeout))
	if err := pb.WriteMessage(s, pb.NewStop(c.Src.Bytes(), durationSeconds(c.MaxDuration), c.MaxBytes)); err != nil {
		_ = s.Reset()
		return nil, fmt.Errorf("write stop: %w", err)
	}

	resp, err := pb.ReadMessage(s)
	if err != nil {
		_ = s.Reset()
		return nil, fmt.Errorf("read stop status: %w", err)
	}
	if resp.Type != pb.TypeStatus || resp.Status != pb.StatusOK {
		_ = s.Reset()
		return nil, fmt.Errorf("%w: destination answered %s %s", ErrConnectFailed, resp.Type, resp.Status)
	}

	_ = s.SetDeadline(time.Time{})
	return s, nil
}

// splice 双向转发，任一方向结束即关闭电路
func (h *ProtocolHandler) splice(c *Circuit, src, dst interfaces.Stream) {
	var g errgroup.Group
	g.Go(func() error { return h.pipe(c, dst, src) })
	g.Go(func() error { return h.pipe(c, src, dst) })
	if err := g.Wait(); err != nil {
		log.Debug("电路转发结束", "circuit", c.ID, "err", err)
	}
}

// pipe 单方向转发，每个 chunk 先经过 CircuitTable.Forward 计量
//
// 让电路进入 Closing 的方向先写完已授予的前缀，再以对应原因关闭电路；
// 另一方向此后直接退出，不决定关闭原因。
func (h *ProtocolHandler) pipe(c *Circuit, to io.Writer, from io.Reader) error {
	buf := make([]byte, copyBufferSize)
	for {
		n, rerr := from.Read(buf)
		if n > 0 {
			granted, ferr := h.circuits.Forward(c.ID, buf[:n])
			if errors.Is(ferr, ErrCircuitClosing) {
				return nil
			}
			if granted > 0 {
				if _, werr := to.Write(buf[:granted]); werr != nil {
					if ferr != nil {
						_ = h.circuits.Close(c.ID, closeReasonForForward(ferr))
					} else {
						h.closeUnlessClosing(c, closeReasonForIO(werr))
					}
					return werr
				}
			}
			if ferr != nil {
				_ = h.circuits.Close(c.ID, closeReasonForForward(ferr))
				return ferr
			}
		}
		if rerr != nil {
			h.closeUnlessClosing(c, closeReasonForIO(rerr))
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return rerr
		}
	}
}

// closeUnlessClosing 电路处于 Closing 时由触发的方向负责关闭
func (h *ProtocolHandler) closeUnlessClosing(c *Circuit, reason CloseReason) {
	if c.State() == CircuitClosing {
		return
	}
	_ = h.circuits.Close(c.ID, reason)
}

// abortReason 电路在 STOP 握手期间被中继关闭时返回 RelayShutdown
func abortReason(c *Circuit, fallback DenyReason) DenyReason {
	if c.State() == CircuitClosed && c.CloseReason() == CloseRelayShutdown {
		return DenyRelayShutdown
	}
	return fallback
}

func closeReasonForForward(err error) CloseReason {
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return CloseQuotaExceeded
	case errors.Is(err, ErrDurationExceeded):
		return CloseDurationExceeded
	default:
		return ClosePeerClosed
	}
}

// closeReasonForIO 流截止时间即电路到期时间，超时视为时长耗尽
func closeReasonForIO(err error) CloseReason {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return CloseDurationExceeded
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return CloseDurationExceeded
	}
	return ClosePeerClosed
}

func isMalformed(err error) bool {
	return errors.Is(err, pb.ErrMalformed) ||
		errors.Is(err, pb.ErrFrameTooLarge) ||
		errors.Is(err, pb.ErrUnsupportedVersion)
}

// secondsToDuration 对端声明的秒数，溢出时取最大值
func secondsToDuration(sec uint64) time.Duration {
	if sec > uint64(math.MaxInt64/int64(time.Second)) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(sec) * time.Second
}

func durationSeconds(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d / time.Second)
}
