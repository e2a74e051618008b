package protocol

import (
	"context"
	"testing"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/relayd/internal/core/host"
	"github.com/dep2p/relayd/internal/core/identity"
	"github.com/dep2p/relayd/internal/core/protocol/system/identify"
	"github.com/dep2p/relayd/internal/core/protocol/system/ping"
	"github.com/dep2p/relayd/internal/core/transport/tcp"
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

func TestSystemProtocols(t *testing.T) {
	server := newHost(t, 1)

	var idSvc *identify.Service
	app := fxtest.New(t,
		fx.Supply(server),
		Module(),
		fx.Populate(&idSvc),
	)
	app.RequireStart()
	defer app.RequireStop()

	assert.ElementsMatch(t,
		[]string{string(ping.ProtocolID), string(identify.ProtocolID)},
		protocolStrings(server))

	client := newHost(t, 2)
	clientID, err := identify.NewService(client, client.Identity().PublicKey(), client.UserAgent(), 0)
	require.NoError(t, err)
	client.SetStreamHandler(identify.ProtocolID, clientID.Handler)
	defer clientID.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx, server.ID(), server.ListenAddrs()[0]))

	t.Run("ping", func(t *testing.T) {
		rtt, err := ping.Ping(ctx, client, server.ID())
		require.NoError(t, err)
		assert.Greater(t, rtt, time.Duration(0))
	})

	t.Run("identify", func(t *testing.T) {
		info, err := identify.Identify(ctx, client, server.ID())
		require.NoError(t, err)
		assert.Equal(t, server.ID(), info.PeerID)
		assert.Equal(t, server.UserAgent(), info.AgentVersion)
		assert.Contains(t, info.Protocols, string(ping.ProtocolID))
		assert.NotEmpty(t, info.ListenAddrs)
		assert.NotEmpty(t, info.ObservedAddr)
	})

	t.Run("server caches client on connect", func(t *testing.T) {
		require.Eventually(t, func() bool {
			_, ok := idSvc.Lookup(client.ID())
			return ok
		}, 5*time.Second, 20*time.Millisecond)
		assert.Len(t, idSvc.Cached(), 1)
	})
}

func protocolStrings(h *host.Host) []string {
	protos := h.Protocols()
	out := make([]string, len(protos))
	for i, p := range protos {
		out[i] = string(p)
	}
	return out
}
