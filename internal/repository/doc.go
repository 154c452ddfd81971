// Package repository implements sect persistence on SurrealDB.
//
// SectRepository, LedgerRepository and RaidRepository each own one slice of
// the schema; Store bundles them behind the storage interfaces declared in
// the service package.
//
// # Query Patterns
//
//   - Parameterized queries with $variable syntax
//   - type::record() with deterministic composite IDs for per-user rows
//   - BEGIN/COMMIT blocks for multi-record writes
//   - version fields guard read-modify-write ledger commits
//
// # Example Usage
//
//	store := NewStore(db)
//	sect, err := store.GetSect(ctx, "sect:abc123")
//	if err != nil {
//	    return err
//	}
//	if sect == nil {
//	    // not found
//	}
package repository
