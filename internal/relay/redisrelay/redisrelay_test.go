package redisrelay

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/ctxbridge/internal/endpoint"
	"github.com/danmuck/ctxbridge/internal/protocol"
	"github.com/danmuck/ctxbridge/internal/protocol/codec"
	"github.com/danmuck/ctxbridge/internal/relay"
	"github.com/danmuck/ctxbridge/internal/testutil/testlog"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// redisAddr skips unless CTXBRIDGE_REDIS_ADDR names a reachable server.
func redisAddr(t *testing.T) string {
	t.Helper()
	addr := strings.TrimSpace(os.Getenv("CTXBRIDGE_REDIS_ADDR"))
	if addr == "" {
		t.Skip("CTXBRIDGE_REDIS_ADDR not set")
	}
	return addr
}

func dialPair(t *testing.T) (*Transport, *Transport) {
	t.Helper()
	addr := redisAddr(t)
	prefix := "ctxbridge-test-" + uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a, err := Dial(ctx, Config{Addr: addr, Prefix: prefix})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, err := Dial(ctx, Config{Addr: addr, Prefix: prefix, Codec: codec.CBOR()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return a, b
}

func TestDialRequiresAddr(t *testing.T) {
	testlog.Start(t)
	_, err := Dial(context.Background(), Config{})
	require.ErrorIs(t, err, ErrAddrRequired)
}

func TestProbeAndAck(t *testing.T) {
	testlog.Start(t)
	a, b := dialPair(t)

	inbound := make(chan relay.Inbound, 4)
	unsubscribe, err := b.Subscribe(func(in relay.Inbound) { inbound <- in })
	require.NoError(t, err)
	defer unsubscribe()

	ch, err := a.OpenChannel(context.Background())
	require.NoError(t, err)
	require.NoError(t, a.Broadcast(context.Background(), protocol.NewProbe("ext", endpoint.Background), ch))

	var in relay.Inbound
	select {
	case in = <-inbound:
	case <-time.After(2 * time.Second):
		t.Fatalf("probe not received")
	}
	msg, err := protocol.ParseRelayMessage(in.Message)
	require.NoError(t, err)
	require.Equal(t, protocol.CmdVerifyListening, msg.Cmd)
	require.Len(t, in.Ports, 1)
	require.NoError(t, in.Ports[0].Post(context.Background(), true))

	select {
	case ack := <-ch.Acks():
		require.True(t, ack)
	case <-time.After(2 * time.Second):
		t.Fatalf("ack not received")
	}

	require.NoError(t, ch.Close())
	require.ErrorIs(t, in.Ports[0].Post(context.Background(), true), relay.ErrClosed)
}

func TestForwarderOverRedis(t *testing.T) {
	testlog.Start(t)
	a, b := dialPair(t)

	delivered := make(chan protocol.RelayMessage, 4)
	unsubscribe, err := b.Subscribe(func(in relay.Inbound) {
		msg, err := protocol.ParseRelayMessage(in.Message)
		if err != nil {
			return
		}
		switch msg.Cmd {
		case protocol.CmdVerifyListening:
			for _, p := range in.Ports {
				_ = p.Post(context.Background(), true)
			}
		case protocol.CmdRouteMessage:
			delivered <- msg
		}
	})
	require.NoError(t, err)
	defer unsubscribe()

	fwd, err := relay.NewForwarder(a, relay.Config{Scope: "ext", Context: endpoint.Background, HandshakeTimeout: time.Second})
	require.NoError(t, err)
	dest := endpoint.New(endpoint.Devtools)
	env := protocol.NewMessage("inspect", map[string]any{"node": 3}, endpoint.New(endpoint.Background), &dest)
	require.NoError(t, fwd.Forward(context.Background(), env))

	select {
	case msg := <-delivered:
		require.Equal(t, env.TransactionID, msg.Payload.TransactionID)
	case <-time.After(2 * time.Second):
		t.Fatalf("delivery not received")
	}
}
