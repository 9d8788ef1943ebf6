// Package adapter provides the data-source adapter contract and the
// shared database/sql plumbing used by every concrete adapter.
//
// Concrete adapter implementations are in pkg/adapters/ subdirectories and
// register themselves in init(). Import them with a blank identifier:
//
//	import _ "github.com/leapstack-labs/leapdash/pkg/adapters/duckdb"
package adapter

import (
	"github.com/leapstack-labs/leapdash/pkg/core"
)

// Type aliases so adapter packages need not import pkg/core for the
// common types.
type (
	// Config is an alias for core.AdapterConfig.
	Config = core.AdapterConfig

	// Adapter is an alias for core.Adapter.
	Adapter = core.Adapter
)
