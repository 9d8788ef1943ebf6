// Package all registers every data-source adapter.
//
// Import it for side effects wherever adapters are created from config:
//
//	import _ "github.com/leapstack-labs/leapdash/pkg/adapters/all"
package all

import (
	_ "github.com/leapstack-labs/leapdash/pkg/adapters/clickhouse" // registers "clickhouse"
	_ "github.com/leapstack-labs/leapdash/pkg/adapters/duckdb"     // registers "duckdb"
	_ "github.com/leapstack-labs/leapdash/pkg/adapters/postgres"   // registers "postgres"
	_ "github.com/leapstack-labs/leapdash/pkg/adapters/sqlite"     // registers "sqlite"
)
