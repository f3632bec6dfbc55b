// Package storage holds the persisted registry and watermark documents.
//
// Both documents are kept in memory, loaded whole on start and written whole
// by FlushAll. The SQLite type is the durable backend.
package storage

import (
	"context"

	"instarelay/internal/model"
)

// WatermarkBackend persists the watermark document.
type WatermarkBackend interface {
	LoadWatermarks(ctx context.Context) (map[model.AccountKey]model.Watermark, error)
	SaveWatermarks(ctx context.Context, wms map[model.AccountKey]model.Watermark) error
}

// RegistryBackend persists the subscriber registry document.
type RegistryBackend interface {
	LoadSubscribers(ctx context.Context) (map[int64]model.Subscriber, error)
	SaveSubscribers(ctx context.Context, subs map[int64]model.Subscriber) error
}
