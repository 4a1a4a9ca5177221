// Package queryir provides an abstract filter representation for trace
// queries.
//
// The filter IR is the boundary between query producers (the CLI's trace
// command, replay) and the storage backend. Producers describe WHICH
// events they want; the querysql package compiles that description to
// parameterized SQLite. Nothing above the store layer writes SQL.
//
// ARCHITECTURE:
//
//	[CLI flags / replay] → [Filter IR] → [SQLite backend]
//
// A Filter selects from one run's retired-event stream. Predicates
// narrow the selection; the zero predicate selects every event in the
// run.
//
// SEALED INTERFACES:
//
// Predicate is a sealed interface using the marker method pattern. Only
// types in this package can implement it.
//
// This enables:
//   - Exhaustive type switches in the SQL compiler
//   - Compile-time safety against external extensions
//
// Example:
//
//	switch p := pred.(type) {
//	case queryir.OpIs:
//	    // op = ?
//	case queryir.CauseIs:
//	    // faulted with named cause
//	...
//	}
//
// DETERMINISM:
//
// Every compiled query orders by sequence number. Two reads of the same
// filter over the same database return identical slices. Fault causes
// are referenced by their canonical names, never raw codes, so filters
// survive cause-code renumbering.
package queryir
