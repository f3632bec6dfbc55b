package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"instarelay/internal/model"
	"instarelay/migrations"
)

const timeLayout = time.RFC3339Nano

// SQLite persists the registry and watermark documents in a SQLite database.
// Each document is loaded and replaced as a whole.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if dsn == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// DB exposes the connection for schema tooling.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// LoadWatermarks reads the whole watermark document.
func (s *SQLite) LoadWatermarks(ctx context.Context) (map[model.AccountKey]model.Watermark, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subscriber_id, account, last_post_at, last_story_at FROM watermarks`)
	if err != nil {
		return nil, fmt.Errorf("query watermarks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[model.AccountKey]model.Watermark)
	for rows.Next() {
		var key model.AccountKey
		var post, story sql.NullString
		if err := rows.Scan(&key.SubscriberID, &key.Account, &post, &story); err != nil {
			return nil, fmt.Errorf("scan watermark: %w", err)
		}
		var wm model.Watermark
		if wm.LastPostAt, err = parseNullTime(post); err != nil {
			return nil, fmt.Errorf("parse last post of %s: %w", key, err)
		}
		if wm.LastStoryAt, err = parseNullTime(story); err != nil {
			return nil, fmt.Errorf("parse last story of %s: %w", key, err)
		}
		out[key] = wm
	}
	return out, rows.Err()
}

// SaveWatermarks replaces the whole watermark document in one transaction.
func (s *SQLite) SaveWatermarks(ctx context.Context, wms map[model.AccountKey]model.Watermark) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM watermarks`); err != nil {
		return fmt.Errorf("clear watermarks: %w", err)
	}
	for key, wm := range wms {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO watermarks (subscriber_id, account, last_post_at, last_story_at) VALUES (?, ?, ?, ?)`,
			key.SubscriberID, key.Account, formatNullTime(wm.LastPostAt), formatNullTime(wm.LastStoryAt),
		)
		if err != nil {
			return fmt.Errorf("insert watermark %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// LoadSubscribers reads the whole registry document.
func (s *SQLite) LoadSubscribers(ctx context.Context) (map[int64]model.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, blocked, created_at FROM subscribers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	out := make(map[int64]model.Subscriber)
	for rows.Next() {
		var sub model.Subscriber
		var role, created string
		var blocked int
		if err := rows.Scan(&sub.ID, &role, &blocked, &created); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		sub.Role = model.Role(role)
		sub.Blocked = blocked == 1
		if sub.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("parse created_at of subscriber %d: %w", sub.ID, err)
		}
		out[sub.ID] = sub
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	accRows, err := s.db.QueryContext(ctx,
		`SELECT subscriber_id, account FROM watched_accounts ORDER BY subscriber_id, position`)
	if err != nil {
		return nil, fmt.Errorf("query watched accounts: %w", err)
	}
	defer func() { _ = accRows.Close() }()
	for accRows.Next() {
		var id int64
		var account string
		if err := accRows.Scan(&id, &account); err != nil {
			return nil, fmt.Errorf("scan watched account: %w", err)
		}
		sub, ok := out[id]
		if !ok {
			continue
		}
		sub.Accounts = append(sub.Accounts, account)
		out[id] = sub
	}
	return out, accRows.Err()
}

// SaveSubscribers replaces the whole registry document in one transaction.
func (s *SQLite) SaveSubscribers(ctx context.Context, subs map[int64]model.Subscriber) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM watched_accounts`); err != nil {
		return fmt.Errorf("clear watched accounts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subscribers`); err != nil {
		return fmt.Errorf("clear subscribers: %w", err)
	}
	for _, sub := range subs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO subscribers (id, role, blocked, created_at) VALUES (?, ?, ?, ?)`,
			sub.ID, string(sub.Role), boolToInt(sub.Blocked), sub.CreatedAt.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("insert subscriber %d: %w", sub.ID, err)
		}
		for i, account := range sub.Accounts {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO watched_accounts (subscriber_id, account, position) VALUES (?, ?, ?)`,
				sub.ID, account, i,
			)
			if err != nil {
				return fmt.Errorf("insert watched account %d/%s: %w", sub.ID, account, err)
			}
		}
	}
	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatNullTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.UTC().Format(timeLayout)
	return &v
}
