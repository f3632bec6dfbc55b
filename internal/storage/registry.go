package storage

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"instarelay/internal/model"
)

// Registry errors.
var (
	ErrInvalidAccount    = errors.New("invalid account name")
	ErrDuplicateAccount  = errors.New("account already watched")
	ErrUnknownAccount    = errors.New("account not watched")
	ErrUnknownSubscriber = errors.New("unknown subscriber")
)

var accountNameRe = regexp.MustCompile(`^[a-z0-9._]{1,30}$`)

// NormalizeAccount trims, drops a leading @ and lowercases an account name,
// then validates it.
func NormalizeAccount(name string) (string, error) {
	n := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
	if !accountNameRe.MatchString(n) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAccount, name)
	}
	return n, nil
}

// Registry is the in-memory subscriber document with explicit flush.
type Registry struct {
	backend RegistryBackend
	admins  []int64
	now     func() time.Time

	mu    sync.RWMutex
	data  map[int64]model.Subscriber
	dirty bool

	flushMu sync.Mutex
}

// OpenRegistry loads the whole subscriber document from backend. Subscribers
// listed in admins get the admin role, both those already stored and those
// seen later.
func OpenRegistry(ctx context.Context, backend RegistryBackend, admins []int64) (*Registry, error) {
	data, err := backend.LoadSubscribers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load subscribers: %w", err)
	}
	if data == nil {
		data = make(map[int64]model.Subscriber)
	}
	r := &Registry{backend: backend, admins: admins, now: time.Now, data: data}
	for _, id := range admins {
		if sub, ok := data[id]; ok && sub.Role != model.RoleAdmin {
			sub.Role = model.RoleAdmin
			data[id] = sub
			r.dirty = true
		}
	}
	return r, nil
}

// Get returns a copy of the subscriber with the given id.
func (r *Registry) Get(id int64) (model.Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.data[id]
	return cloneSubscriber(sub), ok
}

// Ensure returns the subscriber with the given id, creating an empty one.
func (r *Registry) Ensure(id int64) model.Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneSubscriber(r.ensureLocked(id))
}

func (r *Registry) ensureLocked(id int64) model.Subscriber {
	if sub, ok := r.data[id]; ok {
		return sub
	}
	role := model.RoleUser
	if slices.Contains(r.admins, id) {
		role = model.RoleAdmin
	}
	sub := model.Subscriber{ID: id, Role: role, CreatedAt: r.now().UTC().Truncate(time.Second)}
	r.data[id] = sub
	r.dirty = true
	return sub
}

// RegisterAccount appends an account to the subscriber's watch list and
// returns the normalized name.
func (r *Registry) RegisterAccount(id int64, name string) (string, error) {
	account, err := NormalizeAccount(name)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := r.ensureLocked(id)
	if sub.HasAccount(account) {
		return "", fmt.Errorf("%w: %s", ErrDuplicateAccount, account)
	}
	sub.Accounts = append(slices.Clone(sub.Accounts), account)
	r.data[id] = sub
	r.dirty = true
	return account, nil
}

// RemoveAccount drops an account from the subscriber's watch list.
func (r *Registry) RemoveAccount(id int64, name string) (string, error) {
	account, err := NormalizeAccount(name)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.data[id]
	if !ok || !sub.HasAccount(account) {
		return "", fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	sub.Accounts = slices.DeleteFunc(slices.Clone(sub.Accounts), func(a string) bool { return a == account })
	r.data[id] = sub
	r.dirty = true
	return account, nil
}

// SetBlocked changes the blocked flag of an existing subscriber.
func (r *Registry) SetBlocked(id int64, blocked bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.data[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSubscriber, id)
	}
	if sub.Blocked == blocked {
		return nil
	}
	sub.Blocked = blocked
	r.data[id] = sub
	r.dirty = true
	return nil
}

// List returns all subscribers ordered by id.
func (r *Registry) List() []model.Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Subscriber, 0, len(r.data))
	for _, sub := range r.data {
		out = append(out, cloneSubscriber(sub))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FlushAll writes the full document to the backend if anything changed.
func (r *Registry) FlushAll(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	if !r.dirty {
		r.mu.Unlock()
		return nil
	}
	snap := make(map[int64]model.Subscriber, len(r.data))
	for id, sub := range maps.All(r.data) {
		snap[id] = cloneSubscriber(sub)
	}
	r.dirty = false
	r.mu.Unlock()

	if err := r.backend.SaveSubscribers(ctx, snap); err != nil {
		r.mu.Lock()
		r.dirty = true
		r.mu.Unlock()
		return fmt.Errorf("save subscribers: %w", err)
	}
	return nil
}

func cloneSubscriber(sub model.Subscriber) model.Subscriber {
	sub.Accounts = slices.Clone(sub.Accounts)
	return sub
}
