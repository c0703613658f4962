package bridge

import (
	"context"

	"github.com/danmuck/ctxbridge/internal/endpoint"
	"github.com/danmuck/ctxbridge/internal/observability"
	"github.com/danmuck/ctxbridge/internal/protocol"
)

// OnMessage registers h for messageID, replacing any earlier handler.
func (r *Router) OnMessage(messageID string, h Handler) error {
	return r.listeners.Set(messageID, h)
}

// Send routes a request to destination and waits for its reply.
//
// The reply data is returned as decoded by the relay (structured values such
// as map[string]any). A failed reply yields the reconstructed remote error.
// If ctx ends first the pending transaction is dropped.
func (r *Router) Send(ctx context.Context, messageID string, data any, destination string) (any, error) {
	dest, err := endpoint.Parse(destination)
	if err != nil {
		return nil, err
	}
	return r.SendTo(ctx, messageID, data, dest)
}

// SendTo is Send with a parsed destination.
func (r *Router) SendTo(ctx context.Context, messageID string, data any, dest endpoint.Endpoint) (any, error) {
	env := protocol.NewMessage(messageID, data, r.local, &dest)
	if err := env.Validate(); err != nil {
		return nil, err
	}
	done, err := r.txs.Add(PendingTransaction{
		TransactionID: env.TransactionID,
		MessageID:     messageID,
		Destination:   dest.String(),
	})
	if err != nil {
		return nil, err
	}
	observability.AddPendingTransactions(string(r.local.Context), 1)

	if err := r.Route(ctx, env); err != nil {
		// A request to this same context may already be settled by its reply.
		select {
		case res := <-done:
			return res.Data, res.Err
		default:
		}
		r.forget(env.TransactionID)
		return nil, err
	}

	select {
	case res := <-done:
		return res.Data, res.Err
	case <-ctx.Done():
		r.forget(env.TransactionID)
		return nil, ctx.Err()
	}
}

func (r *Router) forget(id string) {
	if r.txs.Forget(id) {
		observability.AddPendingTransactions(string(r.local.Context), -1)
	}
}
