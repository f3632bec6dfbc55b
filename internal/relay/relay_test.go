package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"instarelay/internal/engine"
	"instarelay/internal/linkres"
	"instarelay/internal/model"
	"instarelay/internal/provider"
	"instarelay/internal/storage"
)

type fakeEngine struct {
	mu       sync.Mutex
	active   map[model.AccountKey]int
	maxSeen  int
	calls    int
	advance  time.Time
	delay    time.Duration
	links    []linkres.Directive
	linkChat int64
}

func (f *fakeEngine) SyncAccount(_ context.Context, key model.AccountKey, wm model.Watermark) (model.Watermark, engine.Outcome) {
	f.mu.Lock()
	f.calls++
	f.active[key]++
	if f.active[key] > f.maxSeen {
		f.maxSeen = f.active[key]
	}
	f.mu.Unlock()

	time.Sleep(f.delay)

	f.mu.Lock()
	f.active[key]--
	f.mu.Unlock()

	t := f.advance
	wm.LastPostAt = &t
	return wm, engine.Outcome{Account: key.Account, Status: engine.StatusCompleted, Delivered: 1}
}

func (f *fakeEngine) FetchLink(_ context.Context, chatID int64, d linkres.Directive) engine.LinkOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, d)
	f.linkChat = chatID
	return engine.LinkOutcome{Status: engine.LinkDelivered, Delivered: 1}
}

type fakeSession struct {
	authed bool
	err    error
	creds  []provider.Credentials
}

func (f *fakeSession) Authenticate(_ context.Context, c provider.Credentials) error {
	f.creds = append(f.creds, c)
	if f.err != nil {
		return f.err
	}
	f.authed = true
	return nil
}

func (f *fakeSession) IsAuthenticated() bool { return f.authed }

type fixture struct {
	svc     *Service
	engine  *fakeEngine
	session *fakeSession
	db      *storage.SQLite
}

const adminID = 1

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	reg, err := storage.OpenRegistry(ctx, db, []int64{adminID})
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	wms, err := storage.OpenWatermarks(ctx, db)
	if err != nil {
		t.Fatalf("open watermarks: %v", err)
	}
	eng := &fakeEngine{active: make(map[model.AccountKey]int), advance: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)}
	sess := &fakeSession{}
	return &fixture{
		svc:     New(eng, sess, reg, wms, 4, slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine:  eng,
		session: sess,
		db:      db,
	}
}

func (f *fixture) addAccounts(t *testing.T, id int64, names ...string) {
	t.Helper()
	if _, err := f.svc.EnsureSubscriber(context.Background(), id); err != nil {
		t.Fatalf("ensure subscriber: %v", err)
	}
	for _, n := range names {
		if _, err := f.svc.RegisterAccount(context.Background(), id, n); err != nil {
			t.Fatalf("register %s: %v", n, err)
		}
	}
}

func TestTriggerSyncPersistsWatermarks(t *testing.T) {
	f := newFixture(t)
	f.addAccounts(t, 100, "alice", "@Bob")

	outcomes, err := f.svc.TriggerSync(context.Background(), 100)
	if err != nil {
		t.Fatalf("trigger sync: %v", err)
	}

	var accounts []string
	for _, o := range outcomes {
		accounts = append(accounts, o.Account)
	}
	if diff := cmp.Diff([]string{"alice", "bob"}, accounts); diff != "" {
		t.Errorf("outcome accounts (-want +got):\n%s", diff)
	}

	stored, err := f.db.LoadWatermarks(context.Background())
	if err != nil {
		t.Fatalf("load watermarks: %v", err)
	}
	want := f.engine.advance
	for _, acc := range []string{"alice", "bob"} {
		wm, ok := stored[model.AccountKey{SubscriberID: 100, Account: acc}]
		if !ok || wm.LastPostAt == nil || !wm.LastPostAt.Equal(want) {
			t.Errorf("persisted watermark for %s = %+v, want post %v", acc, wm, want)
		}
	}

	wm, ok := f.svc.Watermark(100, "ALICE")
	if !ok || !wm.LastPostAt.Equal(want) {
		t.Errorf("Watermark(alice) = %+v, %v", wm, ok)
	}
}

func TestTriggerSyncRejects(t *testing.T) {
	f := newFixture(t)
	f.addAccounts(t, adminID)
	f.addAccounts(t, 100, "alice")
	if err := f.svc.Block(context.Background(), adminID, 100); err != nil {
		t.Fatalf("block: %v", err)
	}

	if _, err := f.svc.TriggerSync(context.Background(), 100); !errors.Is(err, ErrBlocked) {
		t.Errorf("blocked subscriber error = %v, want %v", err, ErrBlocked)
	}
	if _, err := f.svc.TriggerSync(context.Background(), 999); !errors.Is(err, storage.ErrUnknownSubscriber) {
		t.Errorf("unknown subscriber error = %v, want %v", err, storage.ErrUnknownSubscriber)
	}
	if _, err := f.svc.RegisterAccount(context.Background(), 100, "carol"); !errors.Is(err, ErrBlocked) {
		t.Errorf("register while blocked error = %v, want %v", err, ErrBlocked)
	}
	if f.engine.calls != 0 {
		t.Errorf("engine called %d times, want 0", f.engine.calls)
	}
}

func TestPassesSerializedPerAccount(t *testing.T) {
	f := newFixture(t)
	f.engine.delay = 5 * time.Millisecond
	f.addAccounts(t, 100, "alice", "bob")

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.TriggerSync(context.Background(), 100); err != nil {
				t.Errorf("trigger sync: %v", err)
			}
		}()
	}
	wg.Wait()

	if f.engine.maxSeen != 1 {
		t.Errorf("max concurrent passes per account = %d, want 1", f.engine.maxSeen)
	}
	if f.engine.calls != 10 {
		t.Errorf("engine calls = %d, want 10", f.engine.calls)
	}
}

func TestSyncAll(t *testing.T) {
	f := newFixture(t)
	f.addAccounts(t, adminID)
	f.addAccounts(t, 100, "alice")
	f.addAccounts(t, 200, "bob", "carol")
	f.addAccounts(t, 300, "dave")
	if err := f.svc.Block(context.Background(), adminID, 300); err != nil {
		t.Fatalf("block: %v", err)
	}

	got := f.svc.SyncAll(context.Background())

	counts := make(map[int64]int)
	for id, outs := range got {
		counts[id] = len(outs)
	}
	if diff := cmp.Diff(map[int64]int{100: 1, 200: 2}, counts); diff != "" {
		t.Errorf("outcomes per subscriber (-want +got):\n%s", diff)
	}
}

func TestRemoveAccount(t *testing.T) {
	f := newFixture(t)
	f.addAccounts(t, 100, "alice", "bob")
	if _, err := f.svc.TriggerSync(context.Background(), 100); err != nil {
		t.Fatalf("trigger sync: %v", err)
	}

	account, err := f.svc.RemoveAccount(context.Background(), 100, "@Alice")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if account != "alice" {
		t.Errorf("removed account = %q, want alice", account)
	}
	if diff := cmp.Diff([]string{"bob"}, f.svc.Accounts(100)); diff != "" {
		t.Errorf("accounts (-want +got):\n%s", diff)
	}
	if _, ok := f.svc.Watermark(100, "alice"); ok {
		t.Error("watermark of removed account still present")
	}
	stored, err := f.db.LoadWatermarks(context.Background())
	if err != nil {
		t.Fatalf("load watermarks: %v", err)
	}
	if _, ok := stored[model.AccountKey{SubscriberID: 100, Account: "alice"}]; ok {
		t.Error("watermark of removed account still persisted")
	}

	if _, err := f.svc.RemoveAccount(context.Background(), 100, "alice"); !errors.Is(err, storage.ErrUnknownAccount) {
		t.Errorf("second remove error = %v, want %v", err, storage.ErrUnknownAccount)
	}
}

func TestTriggerLinkFetch(t *testing.T) {
	f := newFixture(t)
	f.addAccounts(t, 100)

	out, err := f.svc.TriggerLinkFetch(context.Background(), 100, "https://example.com/whatever")
	if err != nil {
		t.Fatalf("link fetch: %v", err)
	}
	if out.Status != engine.LinkUnsupported || !errors.Is(out.Err, linkres.ErrUnsupportedLink) {
		t.Errorf("outcome = %+v, want unsupported", out)
	}
	if len(f.engine.links) != 0 {
		t.Errorf("engine called for unsupported link")
	}

	out, err = f.svc.TriggerLinkFetch(context.Background(), 100, "https://www.instagram.com/p/ABC123/")
	if err != nil {
		t.Fatalf("link fetch: %v", err)
	}
	if out.Status != engine.LinkDelivered {
		t.Errorf("status = %s, want %s", out.Status, engine.LinkDelivered)
	}
	want := []linkres.Directive{{Kind: linkres.SinglePost, Shortcode: "ABC123"}}
	if diff := cmp.Diff(want, f.engine.links); diff != "" {
		t.Errorf("directives (-want +got):\n%s", diff)
	}
	if f.engine.linkChat != 100 {
		t.Errorf("chat id = %d, want 100", f.engine.linkChat)
	}

	if _, err := f.svc.TriggerLinkFetch(context.Background(), 555, "https://www.instagram.com/p/ABC123/"); !errors.Is(err, storage.ErrUnknownSubscriber) {
		t.Errorf("unknown subscriber error = %v", err)
	}
}

func TestAdminOperations(t *testing.T) {
	f := newFixture(t)
	f.addAccounts(t, adminID)
	f.addAccounts(t, 100)
	creds := provider.Credentials{Username: "relaybot", SessionID: "abc"}

	tests := []struct {
		name    string
		run     func() error
		wantErr error
	}{
		{name: "user cannot block", run: func() error { return f.svc.Block(context.Background(), 100, adminID) }, wantErr: ErrForbidden},
		{name: "admin cannot block self", run: func() error { return f.svc.Block(context.Background(), adminID, adminID) }, wantErr: ErrForbidden},
		{name: "block unknown", run: func() error { return f.svc.Block(context.Background(), adminID, 777) }, wantErr: storage.ErrUnknownSubscriber},
		{name: "user cannot login", run: func() error { return f.svc.Login(context.Background(), 100, creds) }, wantErr: ErrForbidden},
		{name: "admin login", run: func() error { return f.svc.Login(context.Background(), adminID, creds) }},
		{name: "admin unblock", run: func() error { return f.svc.Unblock(context.Background(), adminID, 100) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if diff := cmp.Diff([]provider.Credentials{creds}, f.session.creds); diff != "" {
		t.Errorf("authenticate calls (-want +got):\n%s", diff)
	}
	if !f.svc.Authenticated() {
		t.Error("session should be authenticated after admin login")
	}
}

func TestLoginFailureKeepsSession(t *testing.T) {
	f := newFixture(t)
	f.addAccounts(t, adminID)
	f.session.err = provider.ErrAuth

	err := f.svc.Login(context.Background(), adminID, provider.Credentials{Username: "x", SessionID: "bad"})
	if !errors.Is(err, provider.ErrAuth) {
		t.Errorf("error = %v, want %v", err, provider.ErrAuth)
	}
	if f.svc.Authenticated() {
		t.Error("failed login must not authenticate the session")
	}
}

func TestKeyLocksAcquireHonorsContext(t *testing.T) {
	locks := newKeyLocks()
	key := model.AccountKey{SubscriberID: 1, Account: "alice"}

	release, err := locks.acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := locks.acquire(ctx, key); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second acquire error = %v, want %v", err, context.DeadlineExceeded)
	}

	other, err := locks.acquire(context.Background(), model.AccountKey{SubscriberID: 2, Account: "alice"})
	if err != nil {
		t.Fatalf("acquire other key: %v", err)
	}
	other()

	release()
	again, err := locks.acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	again()
}
