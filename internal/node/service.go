package node

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/ctxbridge/internal/bridge"
	"github.com/danmuck/ctxbridge/internal/endpoint"
	"github.com/danmuck/ctxbridge/internal/logging"
	"github.com/danmuck/ctxbridge/internal/protocol"
	"github.com/danmuck/ctxbridge/internal/relay"
	"github.com/rs/zerolog"
)

// Service runs one bridge context: router, relay forwarder and listener,
// built-in listeners and the admin HTTP surface.
type Service struct {
	cfg      ServiceConfig
	local    endpoint.Endpoint
	peers    []endpoint.Context
	router   *bridge.Router
	admin    *Admin
	log      zerolog.Logger
	appeared time.Time

	mu            sync.Mutex
	transport     relay.Transport
	ownsTransport bool
	listener      *relay.Listener

	ready  atomic.Bool
	faults atomic.Uint64
}

// NewServiceWithConfig builds a service that dials its own relay on Start.
func NewServiceWithConfig(cfg ServiceConfig) (*Service, error) {
	return newService(cfg, nil)
}

// NewServiceWithTransport builds a service on an existing relay transport.
// The caller keeps ownership of t.
func NewServiceWithTransport(cfg ServiceConfig, t relay.Transport) (*Service, error) {
	if t == nil {
		return nil, relay.ErrTransportRequired
	}
	return newService(cfg, t)
}

func newService(cfg ServiceConfig, t relay.Transport) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	local, err := endpoint.Parse(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	peers, err := cfg.peerContexts()
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:       cfg,
		local:     local,
		peers:     peers,
		log:       logging.Component("node").With().Str("node", cfg.NodeID).Logger(),
		appeared:  time.Now(),
		transport: t,
	}
	router, err := bridge.New(bridge.Config{
		Local:   local,
		Logger:  &s.log,
		OnFault: s.onFault,
	})
	if err != nil {
		return nil, err
	}
	s.router = router
	if err := s.registerBuiltins(); err != nil {
		return nil, err
	}
	s.admin = newAdmin(s)
	return s, nil
}

func (s *Service) Router() *bridge.Router { return s.router }

func (s *Service) Admin() *Admin { return s.admin }

func (s *Service) Ready() bool { return s.ready.Load() }

func (s *Service) Faults() uint64 { return s.faults.Load() }

func (s *Service) relayConfig() relay.Config {
	return relay.Config{
		Scope:            s.cfg.Scope,
		Context:          s.local.Context,
		HandshakeTimeout: s.cfg.HandshakeTimeout,
		MaxAttempts:      s.cfg.MaxAttempts,
		RetryBackoff:     s.cfg.RetryBackoff,
	}
}

// Start connects the relay and attaches the forwarder and listener.
// Without a scope the node still serves local traffic; peers are unreachable.
func (s *Service) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready.Load() {
		return nil
	}
	if s.transport == nil {
		t, dialErr := dialRelay(ctx, s.cfg.Relay)
		if dialErr != nil {
			return dialErr
		}
		s.transport = t
		s.ownsTransport = true
		if s.cfg.Relay.Kind == RelayMemory && len(s.peers) > 0 {
			s.log.Warn().
				Strs("peers", s.cfg.Peers).
				Msg("node.Service.Start memory relay is private to this process; peers are unreachable")
		}
		defer func() {
			if err != nil {
				_ = t.Close()
				s.transport = nil
				s.ownsTransport = false
			}
		}()
	}

	fwd, err := relay.NewForwarder(s.transport, s.relayConfig())
	if err != nil {
		return err
	}

	if strings.TrimSpace(s.cfg.Scope) != "" {
		l, err := relay.NewListener(s.transport, s.router, s.relayConfig())
		if err != nil {
			return err
		}
		if err := l.Start(ctx); err != nil {
			return err
		}
		s.listener = l
	} else {
		s.log.Warn().Msg("node.Service.Start scope not set; relay listener disabled")
	}
	// Forwarders go in only once the listener is up so a failed start leaves
	// the router serving local traffic alone.
	for _, peer := range s.peers {
		s.router.SetForwarder(peer, fwd)
	}

	s.ready.Store(true)
	s.log.Info().
		Str("endpoint", s.local.String()).
		Str("identity", s.router.Identity()).
		Str("relay", string(s.cfg.Relay.Kind)).
		Strs("peers", s.cfg.Peers).
		Msg("node.Service.Start ready")
	return nil
}

// Close detaches from the relay. A transport passed by the caller stays open.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready.Store(false)
	if s.listener != nil {
		s.listener.Stop()
		s.listener = nil
	}
	for _, peer := range s.peers {
		s.router.SetForwarder(peer, nil)
	}
	var err error
	if s.ownsTransport && s.transport != nil {
		err = s.transport.Close()
		s.transport = nil
		s.ownsTransport = false
	}
	return err
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			s.log.Warn().Err(err).Msg("node.Service.Run close failed")
		}
	}()
	return s.Serve(ctx)
}

// Serve runs the heartbeat and the admin HTTP server until ctx ends.
func (s *Service) Serve(ctx context.Context) error {
	if !s.ready.Load() {
		return ErrNotStarted
	}
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	adminErr := make(chan error, 1)
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		go func() {
			adminErr <- s.serveAdmin(ctx, addr)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("node.Service.Serve shutdown")
			return nil
		case err := <-adminErr:
			if err != nil {
				return err
			}
		case <-ticker.C:
			s.log.Info().
				Str("endpoint", s.local.String()).
				Int("listeners", len(s.router.Listeners().IDs())).
				Int("pending", s.router.Transactions().Len()).
				Uint64("faults", s.faults.Load()).
				Msg("node.Service.heartbeat")
		}
	}
}

func (s *Service) serveAdmin(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.admin.HTTPRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.Info().Str("addr", addr).Msg("node.admin listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Send issues a request through the router, bounded by RequestTimeout.
func (s *Service) Send(ctx context.Context, messageID string, data any, destination string) (any, error) {
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}
	return s.router.Send(ctx, messageID, data, destination)
}

func (s *Service) onFault(env protocol.Envelope, err error) {
	s.faults.Add(1)
	s.log.Warn().
		Err(err).
		Str("transaction_id", env.TransactionID).
		Str("message_id", env.MessageID).
		Msg("node.Service fault")
}
