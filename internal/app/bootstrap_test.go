package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/relayd/config"
	"github.com/dep2p/relayd/internal/core/host"
	"github.com/dep2p/relayd/internal/core/identity"
	"github.com/dep2p/relayd/internal/core/protocol/system/ping"
	"github.com/dep2p/relayd/internal/core/relay/client"
	"github.com/dep2p/relayd/internal/core/transport/tcp"
	"github.com/dep2p/relayd/pkg/protocolids"
	"github.com/dep2p/relayd/pkg/types"
)

func testConfig(seed uint8) *config.Config {
	cfg := config.NewConfig()
	cfg.Identity = cfg.Identity.WithSeed(seed)
	cfg.Transport.Kind = config.TransportTCP
	cfg.Transport.ListenAddrs = []string{"/ip4/127.0.0.1/tcp/0"}
	cfg.Diagnostics.Enabled = true
	cfg.Diagnostics.Addr = "127.0.0.1:0"
	return cfg
}

func newPeer(t *testing.T, seed uint8) *host.Host {
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

func TestBootstrap_InvalidConfig(t *testing.T) {
	cfg := config.NewConfig()
	err := NewBootstrap(cfg).Build()
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrSeedRequired)

	_, err = NewBootstrap(testConfig(1)).Start(context.Background())
	assert.ErrorIs(t, err, ErrNotBuilt)
}

func TestBootstrap_EndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b := NewBootstrap(testConfig(1))
	require.NoError(t, b.Build())
	rt, err := b.Start(ctx)
	require.NoError(t, err)
	defer rt.Stop(context.Background())

	require.NotNil(t, rt.Host)
	require.NotNil(t, rt.Relay)
	require.NotNil(t, rt.Introspect)
	assert.Equal(t, identity.FromSeed(1).ID(), rt.Host.ID())
	assert.Contains(t, rt.Host.Protocols(), types.ProtocolID(protocolids.SysRelayHop))

	relayAddr := rt.Host.ListenAddrs()[0]
	a, bPeer := newPeer(t, 2), newPeer(t, 3)

	received := make(chan []byte, 1)
	a.SetStreamHandler(protocolids.SysRelayStop, client.StopHandler(func(c *client.Circuit) {
		defer c.Stream.Close()
		data, _ := io.ReadAll(c.Stream)
		received <- data
	}))

	require.NoError(t, a.Connect(ctx, rt.Host.ID(), relayAddr))
	require.NoError(t, bPeer.Connect(ctx, rt.Host.ID(), relayAddr))

	rtt, err := ping.Ping(ctx, a, rt.Host.ID())
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))

	_, err = client.Reserve(ctx, a, rt.Host.ID(), time.Hour)
	require.NoError(t, err)

	c, err := client.Connect(ctx, bPeer, rt.Host.ID(), a.ID(), time.Minute)
	require.NoError(t, err)
	_, err = c.Stream.Write([]byte("through the relay"))
	require.NoError(t, err)
	require.NoError(t, c.Stream.CloseWrite())

	select {
	case data := <-received:
		assert.Equal(t, "through the relay", string(data))
	case <-ctx.Done():
		t.Fatal("relayed data not received")
	}
	_ = c.Stream.Close()

	resp, err := http.Get("http://" + rt.Introspect.Addr() + "/debug/relay/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var stats types.RelayStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.ActiveReservations)
	assert.Equal(t, uint64(1), stats.TotalCircuits)
	assert.GreaterOrEqual(t, stats.TotalBytesRelayed, uint64(len("through the relay")))

	metrics, err := http.Get("http://" + rt.Introspect.Addr() + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	body, err := io.ReadAll(metrics.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "relayd_relay_reservations_total")

	require.NoError(t, rt.Stop(context.Background()))
	assert.True(t, rt.Relay.Closed())
	assert.True(t, rt.Host.Closed())
}

func TestBootstrap_DiagnosticsDisabled(t *testing.T) {
	cfg := testConfig(4)
	cfg.Diagnostics.Enabled = false

	b := NewBootstrap(cfg, WithTimeouts(10*time.Second, 10*time.Second))
	require.NoError(t, b.Build())
	rt, err := b.Start(context.Background())
	require.NoError(t, err)
	defer rt.Stop(context.Background())

	assert.Nil(t, rt.Introspect)
	assert.NotNil(t, rt.Identify)
}

func TestRun_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan *Runtime, 1)
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, NewBootstrap(testConfig(5)), func(rt *Runtime) { started <- rt })
	}()

	var rt *Runtime
	select {
	case rt = <-started:
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not start")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.True(t, rt.Relay.Closed())
}
