// Package relay is the entry point used by the bot, the scheduler and the
// CLI. It owns the stores and serializes passes per account.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"instarelay/internal/engine"
	"instarelay/internal/linkres"
	"instarelay/internal/model"
	"instarelay/internal/provider"
	"instarelay/internal/storage"
)

// Errors returned to callers.
var (
	ErrBlocked   = errors.New("subscriber is blocked")
	ErrForbidden = errors.New("admin role required")
)

// Engine runs account passes and link fetches.
type Engine interface {
	SyncAccount(ctx context.Context, key model.AccountKey, wm model.Watermark) (model.Watermark, engine.Outcome)
	FetchLink(ctx context.Context, chatID int64, d linkres.Directive) engine.LinkOutcome
}

// Session is the provider's login surface.
type Session interface {
	Authenticate(ctx context.Context, creds provider.Credentials) error
	IsAuthenticated() bool
}

// Service wires the engine to the registry and the watermark store.
type Service struct {
	engine     Engine
	session    Session
	registry   *storage.Registry
	watermarks *storage.WatermarkStore
	locks      *keyLocks
	workers    int
	log        *slog.Logger
}

// New creates a Service. workers bounds the number of concurrent passes.
func New(e Engine, session Session, registry *storage.Registry, watermarks *storage.WatermarkStore, workers int, log *slog.Logger) *Service {
	if workers < 1 {
		workers = 1
	}
	return &Service{
		engine:     e,
		session:    session,
		registry:   registry,
		watermarks: watermarks,
		locks:      newKeyLocks(),
		workers:    workers,
		log:        log,
	}
}

// TriggerSync runs a pass for every account the subscriber watches and
// returns one outcome per account, in list order.
func (s *Service) TriggerSync(ctx context.Context, subscriberID int64) ([]engine.Outcome, error) {
	sub, err := s.active(subscriberID)
	if err != nil {
		return nil, err
	}
	keys := make([]model.AccountKey, 0, len(sub.Accounts))
	for _, a := range sub.Accounts {
		keys = append(keys, model.AccountKey{SubscriberID: sub.ID, Account: a})
	}
	return s.runPasses(ctx, keys)[sub.ID], nil
}

// SyncAll runs passes for every active subscriber. Subscribers without
// accounts are left out of the result.
func (s *Service) SyncAll(ctx context.Context) map[int64][]engine.Outcome {
	var keys []model.AccountKey
	for _, sub := range s.registry.List() {
		if sub.Blocked {
			continue
		}
		for _, a := range sub.Accounts {
			keys = append(keys, model.AccountKey{SubscriberID: sub.ID, Account: a})
		}
	}
	return s.runPasses(ctx, keys)
}

func (s *Service) runPasses(ctx context.Context, keys []model.AccountKey) map[int64][]engine.Outcome {
	type result struct {
		out engine.Outcome
		ok  bool
	}
	results := make([]result, len(keys))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, key := range keys {
		g.Go(func() error {
			results[i].out, results[i].ok = s.syncOne(ctx, key)
			return nil
		})
	}
	_ = g.Wait()

	grouped := make(map[int64][]engine.Outcome)
	for i, r := range results {
		if r.ok {
			id := keys[i].SubscriberID
			grouped[id] = append(grouped[id], r.out)
		}
	}
	return grouped
}

// syncOne runs a single pass under the account's lock and persists the
// resulting watermark. It reports false when the account was removed while
// the pass was queued.
func (s *Service) syncOne(ctx context.Context, key model.AccountKey) (engine.Outcome, bool) {
	release, err := s.locks.acquire(ctx, key)
	if err != nil {
		return engine.Outcome{Account: key.Account, Status: engine.StatusCancelled, Err: err}, true
	}
	defer release()

	if sub, ok := s.registry.Get(key.SubscriberID); !ok || !sub.HasAccount(key.Account) {
		return engine.Outcome{}, false
	}

	wm, _ := s.watermarks.Get(key)
	next, out := s.engine.SyncAccount(ctx, key, wm)
	s.watermarks.Put(key, next)

	// a cancelled pass still commits what it delivered
	if err := s.watermarks.FlushAll(context.WithoutCancel(ctx)); err != nil {
		s.log.Error("flush watermarks", "subscriber_id", key.SubscriberID, "account", key.Account, "error", err)
		out.Err = errors.Join(out.Err, fmt.Errorf("flush watermarks: %w", err))
	}
	return out, true
}

// TriggerLinkFetch resolves raw and delivers what it points at to the
// subscriber's chat.
func (s *Service) TriggerLinkFetch(ctx context.Context, subscriberID int64, raw string) (engine.LinkOutcome, error) {
	if _, err := s.active(subscriberID); err != nil {
		return engine.LinkOutcome{}, err
	}
	d, err := linkres.Resolve(raw)
	if err != nil {
		return engine.LinkOutcome{Status: engine.LinkUnsupported, Err: err}, nil
	}
	return s.engine.FetchLink(ctx, subscriberID, d), nil
}

// EnsureSubscriber returns the subscriber, registering it on first contact.
func (s *Service) EnsureSubscriber(ctx context.Context, id int64) (model.Subscriber, error) {
	sub := s.registry.Ensure(id)
	if err := s.registry.FlushAll(ctx); err != nil {
		return sub, fmt.Errorf("flush registry: %w", err)
	}
	return sub, nil
}

// Subscriber returns a copy of the subscriber.
func (s *Service) Subscriber(id int64) (model.Subscriber, bool) {
	return s.registry.Get(id)
}

// RegisterAccount adds an account to the subscriber's list and returns the
// normalized name.
func (s *Service) RegisterAccount(ctx context.Context, subscriberID int64, name string) (string, error) {
	if sub, ok := s.registry.Get(subscriberID); ok && sub.Blocked {
		return "", ErrBlocked
	}
	account, err := s.registry.RegisterAccount(subscriberID, name)
	if err != nil {
		return "", err
	}
	if err := s.registry.FlushAll(ctx); err != nil {
		return account, fmt.Errorf("flush registry: %w", err)
	}
	s.log.Info("account registered", "subscriber_id", subscriberID, "account", account)
	return account, nil
}

// RemoveAccount drops an account and its watermark. It waits for a running
// pass of that account to finish.
func (s *Service) RemoveAccount(ctx context.Context, subscriberID int64, name string) (string, error) {
	account, err := storage.NormalizeAccount(name)
	if err != nil {
		return "", err
	}
	key := model.AccountKey{SubscriberID: subscriberID, Account: account}
	release, err := s.locks.acquire(ctx, key)
	if err != nil {
		return "", fmt.Errorf("wait for running pass: %w", err)
	}
	defer release()

	if _, err := s.registry.RemoveAccount(subscriberID, account); err != nil {
		return "", err
	}
	s.watermarks.Delete(key)
	if err := errors.Join(s.registry.FlushAll(ctx), s.watermarks.FlushAll(ctx)); err != nil {
		return account, fmt.Errorf("flush stores: %w", err)
	}
	s.log.Info("account removed", "subscriber_id", subscriberID, "account", account)
	return account, nil
}

// Accounts returns the subscriber's watch list.
func (s *Service) Accounts(subscriberID int64) []string {
	sub, _ := s.registry.Get(subscriberID)
	return sub.Accounts
}

// Watermark returns a copy of the account's watermark for display.
func (s *Service) Watermark(subscriberID int64, account string) (model.Watermark, bool) {
	name, err := storage.NormalizeAccount(account)
	if err != nil {
		return model.Watermark{}, false
	}
	return s.watermarks.Get(model.AccountKey{SubscriberID: subscriberID, Account: name})
}

// Block denies target any further access. Only admins may block.
func (s *Service) Block(ctx context.Context, actorID, targetID int64) error {
	return s.setBlocked(ctx, actorID, targetID, true)
}

// Unblock restores access for target.
func (s *Service) Unblock(ctx context.Context, actorID, targetID int64) error {
	return s.setBlocked(ctx, actorID, targetID, false)
}

func (s *Service) setBlocked(ctx context.Context, actorID, targetID int64, blocked bool) error {
	if err := s.requireAdmin(actorID); err != nil {
		return err
	}
	if actorID == targetID {
		return fmt.Errorf("%w: cannot change own access", ErrForbidden)
	}
	if err := s.registry.SetBlocked(targetID, blocked); err != nil {
		return err
	}
	if err := s.registry.FlushAll(ctx); err != nil {
		return fmt.Errorf("flush registry: %w", err)
	}
	s.log.Info("subscriber access changed", "actor_id", actorID, "subscriber_id", targetID, "blocked", blocked)
	return nil
}

// Login authenticates the provider session on behalf of an admin.
func (s *Service) Login(ctx context.Context, actorID int64, creds provider.Credentials) error {
	if err := s.requireAdmin(actorID); err != nil {
		return err
	}
	if err := s.session.Authenticate(ctx, creds); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	s.log.Info("provider session updated", "actor_id", actorID, "username", creds.Username)
	return nil
}

// Authenticated reports whether stories can be fetched.
func (s *Service) Authenticated() bool {
	return s.session.IsAuthenticated()
}

func (s *Service) active(id int64) (model.Subscriber, error) {
	sub, ok := s.registry.Get(id)
	if !ok {
		return model.Subscriber{}, fmt.Errorf("%w: %d", storage.ErrUnknownSubscriber, id)
	}
	if sub.Blocked {
		return model.Subscriber{}, ErrBlocked
	}
	return sub, nil
}

func (s *Service) requireAdmin(id int64) error {
	sub, ok := s.registry.Get(id)
	if !ok || sub.Role != model.RoleAdmin || sub.Blocked {
		return ErrForbidden
	}
	return nil
}
