package scheduler

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"instarelay/internal/bot"
	"instarelay/internal/engine"
	"instarelay/internal/model"
)

// Syncer runs passes for every active subscriber.
type Syncer interface {
	SyncAll(ctx context.Context) map[int64][]engine.Outcome
}

// Sender is the interface for sending Telegram messages.
type Sender interface {
	SendMessage(chatID int64, text string)
}

// Scheduler periodically syncs all watched accounts and reports what it
// delivered, and accounts that stopped resolving.
type Scheduler struct {
	syncer Syncer
	sender Sender
	log    *slog.Logger
	tick   time.Duration

	// accounts whose last pass could not reach the provider; the subscriber
	// has already been told
	broken map[model.AccountKey]bool
}

// New creates a Scheduler with the default 30-minute interval.
func New(syncer Syncer, sender Sender, log *slog.Logger) *Scheduler {
	return &Scheduler{
		syncer: syncer,
		sender: sender,
		log:    log,
		tick:   30 * time.Minute,
		broken: make(map[model.AccountKey]bool),
	}
}

// SetTickInterval overrides the default interval. A non-positive interval
// disables scheduled checks.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// Run starts the scheduler loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if s.tick <= 0 {
		s.log.Info("scheduled checks disabled")
		return
	}

	s.checkAll(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkAll(ctx)
		}
	}
}

func (s *Scheduler) checkAll(ctx context.Context) {
	start := time.Now()
	results := s.syncer.SyncAll(ctx)
	if ctx.Err() != nil {
		return
	}

	ids := make([]int64, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var delivered, failed int
	for _, id := range ids {
		outcomes := results[id]
		report := false
		for _, o := range outcomes {
			delivered += o.Delivered
			failed += o.Failed
			if o.Delivered > 0 || o.Failed > 0 {
				report = true
			}
			key := model.AccountKey{SubscriberID: id, Account: o.Account}
			switch {
			case o.Status == engine.StatusProviderUnavailable && !s.broken[key]:
				s.broken[key] = true
				report = true
			case o.Status == engine.StatusCompleted:
				delete(s.broken, key)
			}
			if o.Err != nil {
				s.log.Warn("account pass failed", "subscriber_id", id, "account", o.Account, "status", o.Status, "error", o.Err)
			}
		}
		if report {
			s.sender.SendMessage(id, bot.FormatSyncReport(outcomes))
		}
	}

	s.log.Info("scheduled check done",
		"subscribers", len(ids), "delivered", delivered, "failed", failed,
		"duration", time.Since(start).Round(time.Millisecond))
}
