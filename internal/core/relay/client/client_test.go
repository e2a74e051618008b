package client

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/relayd/internal/core/host"
	"github.com/dep2p/relayd/internal/core/identity"
	"github.com/dep2p/relayd/internal/core/relay"
	"github.com/dep2p/relayd/internal/core/transport/tcp"
	pb "github.com/dep2p/relayd/pkg/lib/proto/relay"
	"github.com/dep2p/relayd/pkg/protocolids"
)

func newHost(t *testing.T, seed uint8) *host.Host {
	t.Helper()
	id := identity.FromSeed(seed)
	tpt, err := tcp.New(id)
	require.NoError(t, err)
	h, err := host.New(id, tpt)
	require.NoError(t, err)
	require.NoError(t, h.Listen(ma.StringCast("/ip4/127.0.0.1/tcp/0")))
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func newRelay(t *testing.T) (*host.Host, *relay.Service) {
	t.Helper()
	h := newHost(t, 1)
	svc, err := relay.NewService(relay.DefaultConfig(), h, relay.WithAddrs(func() []string {
		return []string{h.ListenAddrs()[0].String()}
	}))
	require.NoError(t, err)

	h.SetStreamHandler(protocolids.SysRelayHop, svc.HandleHopStream)
	h.Notify(svc.Notifiee())
	svc.Start()
	t.Cleanup(svc.Shutdown)
	return h, svc
}

func connect(t *testing.T, ctx context.Context, from, to *host.Host) {
	t.Helper()
	require.NoError(t, from.Connect(ctx, to.ID(), to.ListenAddrs()[0]))
	require.Eventually(t, func() bool { return len(to.ConnsToPeer(from.ID())) > 0 }, 5*time.Second, 10*time.Millisecond)
}

func echo(c *Circuit) {
	defer c.Stream.Close()
	_, _ = io.Copy(c.Stream, c.Stream)
}

func requireStatus(t *testing.T, err error, code pb.StatusCode) {
	t.Helper()
	var se *StatusError
	require.True(t, errors.As(err, &se), "expected StatusError, got %v", err)
	assert.Equal(t, code, se.Code)
}

func TestReserveAndConnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	r, svc := newRelay(t)
	a, b := newHost(t, 2), newHost(t, 3)

	accepted := make(chan *Circuit, 1)
	a.SetStreamHandler(protocolids.SysRelayStop, StopHandler(func(c *Circuit) {
		accepted <- c
		echo(c)
	}))

	connect(t, ctx, a, r)
	connect(t, ctx, b, r)

	rsv, err := Reserve(ctx, a, r.ID(), 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, rsv.TTL)
	assert.Equal(t, r.ID(), rsv.Relay)
	assert.NotEmpty(t, rsv.Addrs)
	assert.Equal(t, relay.DefaultConfig().MaxCircuitBytes, rsv.CircuitLimit)

	c, err := Connect(ctx, b, r.ID(), a.ID(), 10*time.Minute)
	require.NoError(t, err)
	defer c.Stream.Close()
	assert.Equal(t, 10*time.Minute, c.Duration)

	select {
	case in := <-accepted:
		assert.Equal(t, b.ID(), in.Peer)
		assert.Equal(t, r.ID(), in.Relay)
	case <-ctx.Done():
		t.Fatal("stop stream not accepted")
	}

	_, err = c.Stream.Write([]byte("hello"))
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = io.ReadFull(c.Stream, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	require.Eventually(t, func() bool { return svc.Stats().TotalBytesRelayed >= 10 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, svc.Stats().ActiveReservations)
}

func TestConnectDenied(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	r, _ := newRelay(t)
	a, b := newHost(t, 2), newHost(t, 3)
	connect(t, ctx, a, r)
	connect(t, ctx, b, r)

	_, err := Connect(ctx, b, r.ID(), a.ID(), time.Minute)
	requireStatus(t, err, pb.StatusNoReservation)

	_, err = Reserve(ctx, a, r.ID(), 0)
	requireStatus(t, err, pb.StatusTTLRejected)

	_, err = Reserve(ctx, a, r.ID(), time.Minute)
	require.NoError(t, err)
	require.NoError(t, Cancel(ctx, a, r.ID()))

	_, err = Connect(ctx, b, r.ID(), a.ID(), time.Minute)
	requireStatus(t, err, pb.StatusNoReservation)
}

func TestConnectFailedWithoutStopHandler(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	r, _ := newRelay(t)
	a, b := newHost(t, 2), newHost(t, 3)
	connect(t, ctx, a, r)
	connect(t, ctx, b, r)

	_, err := Reserve(ctx, a, r.ID(), time.Minute)
	require.NoError(t, err)

	_, err = Connect(ctx, b, r.ID(), a.ID(), time.Minute)
	requireStatus(t, err, pb.StatusConnectFailed)
}

func TestNoConnectionToRelay(t *testing.T) {
	a := newHost(t, 2)
	_, err := Reserve(context.Background(), a, identity.FromSeed(9).ID(), time.Minute)
	assert.Error(t, err)
}

func TestStatusError(t *testing.T) {
	err := &StatusError{Code: pb.StatusRateLimited, Reason: "slow down"}
	assert.Equal(t, "relay: RATE_LIMITED: slow down", err.Error())
	assert.Equal(t, "relay: OK", (&StatusError{}).Error())
}
