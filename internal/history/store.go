// Package history persists simulation runs and their snapshot logs.
package history

import (
	"context"
	"errors"
	"fmt"

	"slicesim/internal/telemetry"
)

// ErrNotFound is returned for unknown simulation ids.
var ErrNotFound = errors.New("simulation not found")

// DefaultPageSize is used when a listing does not specify a limit.
const DefaultPageSize = 50

// Filter selects runs for List.
type Filter struct {
	Status telemetry.Status
	Limit  int
	Offset int
}

// Page restricts a snapshot query. A zero Limit returns everything after Offset.
type Page struct {
	Limit  int
	Offset int
}

// Store is the run and snapshot repository. Implementations are safe for
// concurrent use; operations on different runs never interfere.
type Store interface {
	CreateRun(ctx context.Context, rec telemetry.RunRecord) error
	UpdateRun(ctx context.Context, rec telemetry.RunRecord) error
	GetRun(ctx context.Context, id string) (telemetry.RunRecord, error)
	// ListRuns returns matching runs newest first plus the unpaged match count.
	ListRuns(ctx context.Context, f Filter) ([]telemetry.RunRecord, int, error)
	AppendSnapshot(ctx context.Context, s telemetry.TickSnapshot) error
	// CommitTick appends s to the run's log and saves rec in one step. On
	// error neither change is applied.
	CommitTick(ctx context.Context, rec telemetry.RunRecord, s telemetry.TickSnapshot) error
	// Snapshots returns a run's snapshots in tick order.
	Snapshots(ctx context.Context, id string, p Page) ([]telemetry.TickSnapshot, error)
	DeleteRun(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}

// Options select a Store implementation.
type Options struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

// Open returns the store named by o.Driver.
func Open(o Options) (Store, error) {
	switch o.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return OpenSQL(o.DSN)
	default:
		return nil, fmt.Errorf("unknown history driver %q", o.Driver)
	}
}

func (f Filter) normalized() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
