package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/danmuck/ctxbridge/internal/bridge"
	"github.com/danmuck/ctxbridge/internal/endpoint"
	"github.com/danmuck/ctxbridge/internal/logging"
	"github.com/danmuck/ctxbridge/internal/protocol"
	"github.com/rs/zerolog"
)

// Router is the local routing engine a Listener feeds.
type Router interface {
	Local() endpoint.Endpoint
	Route(ctx context.Context, env protocol.Envelope) error
	Forwarder(c endpoint.Context) (bridge.Forwarder, bool)
	ReportFault(env protocol.Envelope, err error)
}

// Listener applies inbound relay traffic to a Router.
type Listener struct {
	cfg       Config
	transport Transport
	router    Router
	log       zerolog.Logger

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
}

func NewListener(t Transport, r Router, cfg Config) (*Listener, error) {
	if t == nil {
		return nil, ErrTransportRequired
	}
	if r == nil {
		return nil, ErrRouterRequired
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Scope == "" {
		return nil, ErrScopeRequired
	}
	return &Listener{
		cfg:       cfg,
		transport: t,
		router:    r,
		log:       logging.Component("relay").With().Str("context", string(cfg.Context)).Logger(),
	}, nil
}

// Start subscribes to the transport. Inbound envelopes are routed with a
// context derived from ctx.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unsubscribe != nil {
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	unsubscribe, err := l.transport.Subscribe(l.handle)
	if err != nil {
		cancel()
		return err
	}
	l.ctx = runCtx
	l.cancel = cancel
	l.unsubscribe = unsubscribe
	l.log.Info().Str("scope", l.cfg.Scope).Msg("relay.Listener.Start listening")
	return nil
}

// Stop unsubscribes and waits for in-flight routing to return.
func (l *Listener) Stop() {
	l.mu.Lock()
	unsubscribe := l.unsubscribe
	cancel := l.cancel
	l.unsubscribe = nil
	l.cancel = nil
	l.mu.Unlock()
	if unsubscribe == nil {
		return
	}
	unsubscribe()
	cancel()
	l.wg.Wait()
}

func (l *Listener) runContext() (context.Context, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unsubscribe == nil {
		return nil, false
	}
	l.wg.Add(1)
	return l.ctx, true
}

func (l *Listener) handle(in Inbound) {
	msg, err := protocol.ParseRelayMessage(in.Message)
	if err != nil {
		if !errors.Is(err, protocol.ErrNotRelayMessage) {
			l.log.Debug().Err(err).Msg("relay.Listener.handle invalid relay message dropped")
		}
		return
	}
	if msg.Scope != l.cfg.Scope || msg.Context == l.cfg.Context {
		return
	}
	ctx, ok := l.runContext()
	if !ok {
		return
	}
	defer l.wg.Done()

	switch msg.Cmd {
	case protocol.CmdVerifyListening:
		l.acknowledge(ctx, msg, in.Ports)
	case protocol.CmdRouteMessage:
		l.deliver(ctx, *msg.Payload)
	}
}

func (l *Listener) acknowledge(ctx context.Context, msg protocol.RelayMessage, ports []Port) {
	for _, port := range ports {
		if port == nil {
			continue
		}
		if err := port.Post(ctx, true); err != nil {
			l.log.Debug().
				Err(err).
				Str("from", string(msg.Context)).
				Msg("relay.Listener.acknowledge post failed")
		}
	}
}

// deliver routes one relayed envelope. A destination that selects this
// context is cleared so the router treats it as the final leg. Anything else
// is relayed onward only into a different relay segment.
func (l *Listener) deliver(ctx context.Context, env protocol.Envelope) {
	local := l.router.Local()
	if env.Destination != nil {
		switch {
		case env.Destination.Addresses(local):
			env = env.WithDestination(nil)
		case env.Destination.Context != local.Context && l.relaysOnward(env.Destination.Context):
		default:
			l.log.Debug().
				Str("transaction_id", env.TransactionID).
				Str("destination", env.Destination.String()).
				Msg("relay.Listener.deliver not addressed here")
			return
		}
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.router.Route(ctx, env); err != nil {
			l.router.ReportFault(env, err)
		}
	}()
}

// relaysOnward reports whether an envelope for c should leave through this
// context. A forwarder on this listener's own transport would broadcast into
// the segment the envelope arrived on, where the destination already saw it.
func (l *Listener) relaysOnward(c endpoint.Context) bool {
	fwd, ok := l.router.Forwarder(c)
	if !ok || fwd == nil {
		return false
	}
	if rf, ok := fwd.(*Forwarder); ok && rf.transport == l.transport {
		return false
	}
	return true
}
