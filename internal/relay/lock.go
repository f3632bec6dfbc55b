package relay

import (
	"context"
	"sync"

	"instarelay/internal/model"
)

// keyLocks hands out one token per account key. Holding the token is the only
// way to run a pass or change that account's watermark.
type keyLocks struct {
	mu     sync.Mutex
	tokens map[model.AccountKey]chan struct{}
}

func newKeyLocks() *keyLocks {
	return &keyLocks{tokens: make(map[model.AccountKey]chan struct{})}
}

// acquire blocks until the token for key is free or ctx is done.
func (l *keyLocks) acquire(ctx context.Context, key model.AccountKey) (release func(), err error) {
	l.mu.Lock()
	token, ok := l.tokens[key]
	if !ok {
		token = make(chan struct{}, 1)
		l.tokens[key] = token
	}
	l.mu.Unlock()

	select {
	case token <- struct{}{}:
		return func() { <-token }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
