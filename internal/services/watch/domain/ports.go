// Package domain defines the types and ports of the watch service
package domain

import (
	"context"

	"pkgsearch/internal/adapters/registry"
	"pkgsearch/internal/adapters/search"
)

var _ Feed = (*registry.Feed)(nil)

// WatcherPort runs the long-lived ingestion loop
type WatcherPort interface {
	Run(ctx context.Context) error
}

// StatusPort exposes the progress snapshot
type StatusPort interface {
	Status() Status
}

// Feed is one live change subscription
type Feed interface {
	Events() <-chan Change
	Pause()
	Resume()
	Stop()
}

// RegistryPort is the upstream registry surface the watcher consumes
type RegistryPort interface {
	// Changes opens the feed starting after seq
	Changes(ctx context.Context, since int64) (Feed, error)

	// GetDoc fetches the raw document at a revision; a lookup failure
	// returns a NotFound-coded error
	GetDoc(ctx context.Context, id, rev string) ([]byte, error)

	// Info reports the registry head sequence
	Info(ctx context.Context) (registry.Info, error)
}

// IndexPort is the live search index surface
type IndexPort interface {
	Upsert(ctx context.Context, rec *search.Record) error
	Delete(ctx context.Context, objectID string) error
	Search(ctx context.Context, q search.Query) (search.Result, error)
}

// LostPort is the forensic side index; upsert only, best effort
type LostPort interface {
	UpsertObject(ctx context.Context, objectID string, v any) error
}

// FormatterPort turns a raw document into a record, or nil to skip
type FormatterPort interface {
	Format(id string, raw []byte) (*search.Record, error)
}

// StatePort reads and writes the persisted pipeline state
type StatePort interface {
	Get(ctx context.Context) (State, error)
	Save(ctx context.Context, patch StatePatch) error
}
