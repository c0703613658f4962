package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/ctxbridge/internal/observability"
	"github.com/danmuck/ctxbridge/internal/protocol"
	"github.com/danmuck/ctxbridge/internal/protocol/errwire"
)

// dispatch runs the local-delivery branch for an envelope addressed here.
func (r *Router) dispatch(ctx context.Context, env protocol.Envelope) error {
	switch env.MessageType {
	case protocol.TypeReply:
		r.settle(env)
		return nil
	case protocol.TypeMessage:
		return r.deliver(ctx, env)
	default:
		return fmt.Errorf("%w: messageType %q", protocol.ErrInvalidEnvelope, env.MessageType)
	}
}

// settle resolves or rejects the transaction a reply belongs to. Replies for
// unknown or already settled transactions are ignored.
func (r *Router) settle(env protocol.Envelope) {
	var settled bool
	if env.Err != nil {
		settled = r.txs.Reject(env.TransactionID, r.errs.Deserialize(env.Err))
	} else {
		settled = r.txs.Resolve(env.TransactionID, env.Data)
	}
	if !settled {
		r.log.Debug().
			Str("transaction_id", env.TransactionID).
			Msg("bridge.Router.settle reply for unknown transaction ignored")
		return
	}
	observability.AddPendingTransactions(string(r.local.Context), -1)
	r.log.Debug().
		Str("transaction_id", env.TransactionID).
		Bool("failed", env.Err != nil).
		Msg("bridge.Router.settle transaction settled")
}

// deliver invokes the registered handler and routes its reply.
func (r *Router) deliver(ctx context.Context, env protocol.Envelope) error {
	ctxLabel := string(r.local.Context)
	h, ok := r.listeners.Lookup(env.MessageID)
	if !ok {
		observability.RecordHandler(ctxLabel, observability.OutcomeNoHandler, 0)
		r.log.Warn().
			Str("transaction_id", env.TransactionID).
			Str("message_id", env.MessageID).
			Str("sender", env.Origin.String()).
			Msg("bridge.Router.deliver no handler registered")
		rec := errwire.Serialize(&errwire.NoHandlerError{
			MessageID: env.MessageID,
			Context:   ctxLabel,
		})
		return r.routeReply(ctx, env, nil, rec)
	}

	start := time.Now()
	data, herr := invoke(ctx, h, Message{
		Sender:    env.Origin,
		ID:        env.MessageID,
		Data:      env.Data,
		Timestamp: time.UnixMilli(env.Timestamp),
	})
	if herr != nil {
		observability.RecordHandler(ctxLabel, observability.OutcomeFailure, time.Since(start))
		if err := r.routeReply(ctx, env, nil, errwire.Serialize(herr)); err != nil {
			r.log.Error().
				Err(err).
				Str("transaction_id", env.TransactionID).
				Msg("bridge.Router.deliver failed reply not routed")
		}
		return herr
	}
	observability.RecordHandler(ctxLabel, observability.OutcomeSuccess, time.Since(start))
	return r.routeReply(ctx, env, data, nil)
}

func (r *Router) routeReply(ctx context.Context, req protocol.Envelope, data any, rec *errwire.Record) error {
	return r.Route(ctx, protocol.NewReply(req, r.local, data, rec))
}

func invoke(ctx context.Context, h Handler, msg Message) (data any, err error) {
	defer func() {
		if p := recover(); p != nil {
			data = nil
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, p)
		}
	}()
	return h(ctx, msg)
}
