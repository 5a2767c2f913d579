package domain

import (
	"context"
	"time"
)

// ListOpts controls filtering and pagination for audit queries. Empty
// filters match everything.
type ListOpts struct {
	Event    string
	Exchange Exchange
	Limit    int
	Offset   int
}

// InstrumentStore persists the instrument universe loaded at startup.
type InstrumentStore interface {
	Upsert(ctx context.Context, spec InstrumentSpec) error
	List(ctx context.Context) ([]InstrumentSpec, error)
	Delete(ctx context.Context, id InstrumentID) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore records operational events such as feed status changes and
// engine start/stop.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
