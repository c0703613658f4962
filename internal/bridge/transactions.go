package bridge

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Result settles one pending transaction.
type Result struct {
	Data any
	Err  error
}

// PendingTransaction describes one request awaiting its reply.
type PendingTransaction struct {
	TransactionID string    `json:"transaction_id"`
	MessageID     string    `json:"message_id"`
	Destination   string    `json:"destination"`
	CreatedAt     time.Time `json:"created_at"`
}

type pendingEntry struct {
	info PendingTransaction
	done chan Result
}

// TransactionTable maps transaction ids to pending replies.
// Each entry is settled at most once: lookup and removal share one lock.
type TransactionTable struct {
	mu    sync.Mutex
	items map[string]pendingEntry
}

func NewTransactionTable() *TransactionTable {
	return &TransactionTable{
		items: make(map[string]pendingEntry),
	}
}

// Add registers a pending transaction and returns the channel its result arrives on.
func (t *TransactionTable) Add(info PendingTransaction) (<-chan Result, error) {
	key := strings.TrimSpace(info.TransactionID)
	if key == "" {
		return nil, ErrInvalidTransactionID
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[key]; ok {
		return nil, ErrDuplicateTransaction
	}
	done := make(chan Result, 1)
	t.items[key] = pendingEntry{info: info, done: done}
	return done, nil
}

// Resolve settles id with data. It reports false when id is unknown or already settled.
func (t *TransactionTable) Resolve(id string, data any) bool {
	return t.settle(id, Result{Data: data})
}

// Reject settles id with err. It reports false when id is unknown or already settled.
func (t *TransactionTable) Reject(id string, err error) bool {
	return t.settle(id, Result{Err: err})
}

func (t *TransactionTable) settle(id string, res Result) bool {
	key := strings.TrimSpace(id)
	t.mu.Lock()
	entry, ok := t.items[key]
	if ok {
		delete(t.items, key)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	entry.done <- res
	return true
}

// Forget drops id without settling it.
func (t *TransactionTable) Forget(id string) bool {
	key := strings.TrimSpace(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[key]; !ok {
		return false
	}
	delete(t.items, key)
	return true
}

func (t *TransactionTable) Has(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.items[strings.TrimSpace(id)]
	return ok
}

func (t *TransactionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// List returns pending transactions ordered by creation time.
func (t *TransactionTable) List() []PendingTransaction {
	t.mu.Lock()
	out := make([]PendingTransaction, 0, len(t.items))
	for _, entry := range t.items {
		out = append(out, entry.info)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TransactionID < out[j].TransactionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
