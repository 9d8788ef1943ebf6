package core

import (
	"context"
)

// Bindings are the inputs a snippet runs against.
type Bindings struct {
	Table   *Table
	Options OptionValues
}

// SandboxOutput is what a snippet returned plus everything it printed.
// Value is a *Table, a *Figure, or whatever else the snippet produced.
type SandboxOutput struct {
	Value       any
	PrintOutput string
}

// Sandbox runs transformation snippets in isolation. Implementations
// capture print output per invocation and return it even on failure,
// attached to a *Error of KindTransform.
type Sandbox interface {
	Run(ctx context.Context, code string, b Bindings) (*SandboxOutput, error)
}

// DefinitionStore loads and saves dashboard definitions by path.
type DefinitionStore interface {
	Load(ctx context.Context, path string) (*Dashboard, error)
	Save(ctx context.Context, path string, d *Dashboard) error
	List(ctx context.Context) ([]string, error)
}

// SnapshotStore is durable write-once storage for share snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, s *Snapshot) error
	GetSnapshot(ctx context.Context, id string) (*Snapshot, error)
	ListSnapshots(ctx context.Context, limit int) ([]*Snapshot, error)
	Close() error
}
