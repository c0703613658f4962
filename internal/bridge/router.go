package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/danmuck/ctxbridge/internal/endpoint"
	"github.com/danmuck/ctxbridge/internal/logging"
	"github.com/danmuck/ctxbridge/internal/observability"
	"github.com/danmuck/ctxbridge/internal/protocol"
	"github.com/danmuck/ctxbridge/internal/protocol/errwire"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Forwarder moves an envelope one hop closer to its destination.
type Forwarder interface {
	Forward(ctx context.Context, env protocol.Envelope) error
}

// ForwarderFunc adapts a function into a Forwarder.
type ForwarderFunc func(ctx context.Context, env protocol.Envelope) error

func (f ForwarderFunc) Forward(ctx context.Context, env protocol.Envelope) error {
	return f(ctx, env)
}

// FaultHandler observes local faults raised while routing inbound envelopes.
type FaultHandler func(env protocol.Envelope, err error)

// Config configures one Router.
type Config struct {
	Local endpoint.Endpoint
	// Identity is the hop identity; generated when empty.
	Identity string
	Errors   *errwire.Registry
	Logger   *zerolog.Logger
	OnFault  FaultHandler
}

// Router is the routing and transaction engine of one context instance.
type Router struct {
	local     endpoint.Endpoint
	identity  string
	errs      *errwire.Registry
	log       zerolog.Logger
	onFault   FaultHandler
	txs       *TransactionTable
	listeners *ListenerTable

	mu         sync.RWMutex
	forwarders map[endpoint.Context]Forwarder
	fallback   Forwarder
}

// NewIdentity returns a fresh process-local hop identity for c.
func NewIdentity(c endpoint.Context) string {
	return string(c) + "::" + uuid.NewString()
}

func New(cfg Config) (*Router, error) {
	if err := cfg.Local.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocalEndpointRequired, err)
	}
	identity := strings.TrimSpace(cfg.Identity)
	if identity == "" {
		identity = NewIdentity(cfg.Local.Context)
	}
	errs := cfg.Errors
	if errs == nil {
		errs = errwire.Default()
	}
	logger := logging.Component("bridge")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	logger = logger.With().
		Str("local", cfg.Local.String()).
		Str("identity", identity).
		Logger()
	return &Router{
		local:      cfg.Local,
		identity:   identity,
		errs:       errs,
		log:        logger,
		onFault:    cfg.OnFault,
		txs:        NewTransactionTable(),
		listeners:  NewListenerTable(),
		forwarders: make(map[endpoint.Context]Forwarder),
	}, nil
}

func (r *Router) Local() endpoint.Endpoint { return r.local }

func (r *Router) Identity() string { return r.identity }

func (r *Router) Transactions() *TransactionTable { return r.txs }

func (r *Router) Listeners() *ListenerTable { return r.listeners }

// SetForwarder routes envelopes destined for contexts of kind c through f.
func (r *Router) SetForwarder(c endpoint.Context, f Forwarder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f == nil {
		delete(r.forwarders, c)
		return
	}
	r.forwarders[c] = f
}

// SetDefaultForwarder is used for destinations without a specific forwarder.
func (r *Router) SetDefaultForwarder(f Forwarder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = f
}

// Forwarder returns the forwarder registered for c specifically. The default
// forwarder is not consulted.
func (r *Router) Forwarder(c endpoint.Context) (Forwarder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.forwarders[c]
	return f, ok
}

func (r *Router) forwarderFor(c endpoint.Context) (Forwarder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.forwarders[c]; ok {
		return f, true
	}
	return r.fallback, r.fallback != nil
}

// Route handles one inbound or locally created envelope.
//
// An envelope already carrying the local identity is dropped. Otherwise the
// local identity is appended and the envelope is dispatched locally when it
// has no destination (or its destination selects this context), or handed to
// the forwarder for the destination context.
//
// A non-nil error is a local fault: misconfiguration, a missing route, or a
// local handler failure that has also been reported to the sender.
func (r *Router) Route(ctx context.Context, env protocol.Envelope) error {
	ctxLabel := string(r.local.Context)
	typeLabel := string(env.MessageType)
	if err := env.Validate(); err != nil {
		observability.RecordRoute(ctxLabel, typeLabel, observability.DecisionInvalid)
		return err
	}
	if env.Visited(r.identity) {
		observability.RecordRoute(ctxLabel, typeLabel, observability.DecisionDuplicate)
		r.log.Debug().
			Str("transaction_id", env.TransactionID).
			Str("message_id", env.MessageID).
			Msg("bridge.Router.Route duplicate hop dropped")
		return nil
	}

	stepped := env.WithHop(r.identity)
	if stepped.Destination == nil || stepped.Destination.Addresses(r.local) {
		observability.RecordRoute(ctxLabel, typeLabel, observability.DecisionLocal)
		return r.dispatch(ctx, stepped)
	}

	dest := *stepped.Destination
	fwd, ok := r.forwarderFor(dest.Context)
	if !ok {
		observability.RecordRoute(ctxLabel, typeLabel, observability.DecisionNoRoute)
		return fmt.Errorf("%w: %s", ErrNoRoute, dest.String())
	}
	observability.RecordRoute(ctxLabel, typeLabel, observability.DecisionForward)
	r.log.Debug().
		Str("transaction_id", stepped.TransactionID).
		Str("message_id", stepped.MessageID).
		Str("destination", dest.String()).
		Int("hops", len(stepped.Hops)).
		Msg("bridge.Router.Route forward")
	return fwd.Forward(ctx, stepped)
}

// ReportFault surfaces a local fault raised while routing env.
func (r *Router) ReportFault(env protocol.Envelope, err error) {
	if err == nil {
		return
	}
	r.log.Error().
		Err(err).
		Str("transaction_id", env.TransactionID).
		Str("message_id", env.MessageID).
		Msg("bridge.Router fault")
	if r.onFault != nil {
		r.onFault(env, err)
	}
}
