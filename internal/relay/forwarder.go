package relay

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/ctxbridge/internal/logging"
	"github.com/danmuck/ctxbridge/internal/observability"
	"github.com/danmuck/ctxbridge/internal/protocol"
	"github.com/rs/zerolog"
)

// Forwarder hands envelopes to a peer context over a Transport using a
// confirm-then-send handshake. A confirmed probe only proves a listener of
// the scope exists; the delivery itself is not acknowledged.
type Forwarder struct {
	cfg       Config
	transport Transport
	log       zerolog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewForwarder(t Transport, cfg Config) (*Forwarder, error) {
	if t == nil {
		return nil, ErrTransportRequired
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Forwarder{
		cfg:       cfg,
		transport: t,
		log:       logging.Component("relay").With().Str("context", string(cfg.Context)).Logger(),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Forward delivers env once a listener confirms the probe. Without a scope it
// fails immediately with ErrScopeRequired and nothing is sent.
func (f *Forwarder) Forward(ctx context.Context, env protocol.Envelope) error {
	if f.cfg.Scope == "" {
		return ErrScopeRequired
	}
	ctxLabel := string(f.cfg.Context)
	for attempt := 1; ; attempt++ {
		confirmed, err := f.probe(ctx)
		if err != nil {
			return err
		}
		if confirmed {
			observability.RecordHandshake(ctxLabel, observability.OutcomeAck)
			if err := f.transport.Broadcast(ctx, protocol.NewDelivery(f.cfg.Scope, f.cfg.Context, env), nil); err != nil {
				return err
			}
			observability.RecordDelivery(ctxLabel)
			f.log.Debug().
				Str("transaction_id", env.TransactionID).
				Str("message_id", env.MessageID).
				Int("attempt", attempt).
				Msg("relay.Forwarder.Forward delivered")
			return nil
		}

		observability.RecordHandshake(ctxLabel, observability.OutcomeTimeout)
		f.log.Debug().
			Str("transaction_id", env.TransactionID).
			Int("attempt", attempt).
			Dur("timeout", f.cfg.HandshakeTimeout).
			Msg("relay.Forwarder.Forward probe unanswered")
		if !f.shouldRetry(attempt) {
			return fmt.Errorf("%w: %d attempts", ErrHandshakeExhausted, attempt)
		}
		if err := f.sleepBackoff(ctx, attempt); err != nil {
			return err
		}
	}
}

// probe runs one handshake attempt on a fresh private channel.
func (f *Forwarder) probe(ctx context.Context) (bool, error) {
	ch, err := f.transport.OpenChannel(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = ch.Close()
	}()

	if err := f.transport.Broadcast(ctx, protocol.NewProbe(f.cfg.Scope, f.cfg.Context), ch); err != nil {
		return false, err
	}

	timer := time.NewTimer(f.cfg.HandshakeTimeout)
	defer timer.Stop()
	acks := ch.Acks()
	for {
		select {
		case ack, ok := <-acks:
			if !ok {
				acks = nil
				continue
			}
			if ack {
				return true, nil
			}
		case <-timer.C:
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func (f *Forwarder) shouldRetry(attempt int) bool {
	if f.cfg.MaxAttempts <= 0 {
		return true
	}
	return attempt < f.cfg.MaxAttempts
}

func (f *Forwarder) sleepBackoff(ctx context.Context, attempt int) error {
	f.rngMu.Lock()
	delay := NextBackoffDelay(f.cfg.RetryBackoff, attempt, f.rng)
	f.rngMu.Unlock()
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
