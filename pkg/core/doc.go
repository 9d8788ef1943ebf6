// Package core defines the shared language of the leapdash system.
//
// This package contains:
//   - Dashboard definitions (Dashboard, Parameter, Visualization, VisualizationOption)
//   - Runtime values (ParamValue, OptionValues, Table, CacheEntry, Snapshot)
//   - Collaborator interfaces (DataSource, Sandbox, DefinitionStore, SnapshotStore)
//   - The error taxonomy shared by every stage (Error, Kind)
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
