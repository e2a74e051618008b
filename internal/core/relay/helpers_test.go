package relay

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/relayd/pkg/interfaces"
	pb "github.com/dep2p/relayd/pkg/lib/proto/relay"
	"github.com/dep2p/relayd/pkg/types"
)

// ============================================================================
//                              测试桩
// ============================================================================

// pipeStream 基于 net.Pipe 的 Stream
type pipeStream struct {
	c        net.Conn
	proto    types.ProtocolID
	closed   atomic.Bool
	reset    atomic.Bool
	deadline atomic.Value // time.Time
}

var _ interfaces.Stream = (*pipeStream)(nil)

func newStreamPair() (*pipeStream, *pipeStream) {
	a, b := net.Pipe()
	return &pipeStream{c: a}, &pipeStream{c: b}
}

func (s *pipeStream) Read(p []byte) (int, error)  { return s.c.Read(p) }
func (s *pipeStream) Write(p []byte) (int, error) { return s.c.Write(p) }

func (s *pipeStream) Close() error {
	s.closed.Store(true)
	return s.c.Close()
}

func (s *pipeStream) CloseWrite() error { return s.Close() }

func (s *pipeStream) Reset() error {
	s.reset.Store(true)
	return s.c.Close()
}

func (s *pipeStream) SetDeadline(t time.Time) error {
	s.deadline.Store(t)
	return s.c.SetDeadline(t)
}

func (s *pipeStream) SetReadDeadline(t time.Time) error  { return s.c.SetReadDeadline(t) }
func (s *pipeStream) SetWriteDeadline(t time.Time) error { return s.c.SetWriteDeadline(t) }
func (s *pipeStream) Protocol() types.ProtocolID         { return s.proto }
func (s *pipeStream) SetProtocol(p types.ProtocolID)     { s.proto = p }
func (s *pipeStream) Conn() interfaces.Connection        { return nil }
func (s *pipeStream) released() bool                     { return s.closed.Load() || s.reset.Load() }

func (s *pipeStream) lastDeadline() (time.Time, bool) {
	t, ok := s.deadline.Load().(time.Time)
	return t, ok
}

// stopResponder 目标节点对 STOP 流的处理
type stopResponder func(s *pipeStream)

// fakeOpener 模拟 Host.NewStream：为每个目标节点调用注册的 responder
type fakeOpener struct {
	mu         sync.Mutex
	responders map[types.PeerID]stopResponder
	opened     atomic.Int32
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{responders: make(map[types.PeerID]stopResponder)}
}

func (o *fakeOpener) handle(p types.PeerID, r stopResponder) {
	o.mu.Lock()
	o.responders[p] = r
	o.mu.Unlock()
}

func (o *fakeOpener) NewStream(_ context.Context, p types.PeerID, protos ...types.ProtocolID) (interfaces.Stream, error) {
	o.mu.Lock()
	r, ok := o.responders[p]
	o.mu.Unlock()
	if !ok {
		return nil, errors.New("no connection to peer")
	}

	o.opened.Add(1)
	local, remote := newStreamPair()
	local.proto, remote.proto = protos[0], protos[0]
	go r(remote)
	return local, nil
}

// acceptStop 应答 STOP 为 OK，返回目标端流供测试读写
func acceptStop(streams chan<- *pipeStream) stopResponder {
	return func(s *pipeStream) {
		msg, err := pb.ReadMessage(s)
		if err != nil || msg.Type != pb.TypeStop {
			_ = s.Close()
			return
		}
		if err := pb.WriteMessage(s, pb.NewStatus(pb.StatusOK, "")); err != nil {
			return
		}
		streams <- s
	}
}

// rejectStop 应答 STOP 为指定状态码
func rejectStop(code pb.StatusCode) stopResponder {
	return func(s *pipeStream) {
		if _, err := pb.ReadMessage(s); err != nil {
			return
		}
		_ = pb.WriteMessage(s, pb.NewStatus(code, "no"))
		_ = s.Close()
	}
}

// ============================================================================
//                              辅助函数
// ============================================================================

func testPeer(b byte) types.PeerID {
	var p types.PeerID
	p[0] = b
	p[31] = 0xFF
	return p
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RequestTimeout = 2 * time.Second
	return cfg
}

func newTestService(t *testing.T, mutate func(*Config)) (*Service, *clock.Mock, *fakeOpener) {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clk := clock.NewMock()
	opener := newFakeOpener()
	svc, err := NewService(cfg, opener, WithClock(clk), WithAddrs(func() []string {
		return []string{"/ip4/127.0.0.1/udp/8890/quic-v1"}
	}))
	require.NoError(t, err)
	t.Cleanup(svc.Shutdown)
	return svc, clk, opener
}

// openHop 为 src 打开一个 hop 流，返回客户端一端
func openHop(svc *Service, src types.PeerID) *pipeStream {
	client, server := newStreamPair()
	go svc.HandleHop(src, server)
	return client
}

func roundTrip(t *testing.T, s *pipeStream, req *pb.Message) *pb.Message {
	t.Helper()
	require.NoError(t, s.c.SetDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, pb.WriteMessage(s, req))
	resp, err := pb.ReadMessage(s)
	require.NoError(t, err)
	require.Equal(t, pb.TypeStatus, resp.Type)
	return resp
}

// waitEvent 等待指定类型的事件，跳过其他事件
func waitEvent(t *testing.T, ch <-chan Event, typ EventType) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "事件 channel 已关闭")
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("等待事件 %s 超时", typ)
			return Event{}
		}
	}
}
