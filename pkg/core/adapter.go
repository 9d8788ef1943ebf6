package core

import (
	"context"
)

// DataSource executes processed query text and returns its rows.
// Drivers report query rejections as plain errors; the cache classifies them.
type DataSource interface {
	Fetch(ctx context.Context, query string) (*Table, error)
}

// Adapter is a DataSource with a connection lifecycle.
type Adapter interface {
	DataSource

	// Connect establishes a connection to the database.
	Connect(ctx context.Context, cfg AdapterConfig) error

	// Close closes the database connection.
	Close() error
}

// AdapterConfig holds configuration for connecting to a database.
type AdapterConfig struct {
	Type     string
	Path     string
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Schema   string
	Options  map[string]string
	Params   map[string]any
}
