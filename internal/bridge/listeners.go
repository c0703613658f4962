package bridge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/ctxbridge/internal/endpoint"
)

// Message is what a listener receives.
type Message struct {
	Sender    endpoint.Endpoint
	ID        string
	Data      any
	Timestamp time.Time
}

// Handler processes one message kind. Its return value becomes the reply data;
// an error is sent back to the sender and also returned from Route.
type Handler func(ctx context.Context, msg Message) (any, error)

// ListenerTable maps message ids to handlers. One handler per id; the last
// registration wins.
type ListenerTable struct {
	mu    sync.RWMutex
	items map[string]Handler
}

func NewListenerTable() *ListenerTable {
	return &ListenerTable{items: make(map[string]Handler)}
}

func (l *ListenerTable) Set(messageID string, h Handler) error {
	key := strings.TrimSpace(messageID)
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidMessageID)
	}
	if h == nil {
		return ErrNilHandler
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items[key] = h
	return nil
}

func (l *ListenerTable) Lookup(messageID string) (Handler, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.items[strings.TrimSpace(messageID)]
	return h, ok
}

func (l *ListenerTable) Remove(messageID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.items, strings.TrimSpace(messageID))
}

// IDs returns registered message ids in sorted order.
func (l *ListenerTable) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.items))
	for id := range l.items {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
