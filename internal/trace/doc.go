// Package trace provides observability for retired machine operations.
//
// The machine notifies observers synchronously on its writer goroutine with
// one Event per retired operation: sequence number, op name, the register
// written (with old and new values), and the fault, if the operation raised
// one. Observers must not call back into the machine.
//
// The package ships three consumers:
//
//   - Tracer: slog key-value lines (op retire, register write, fault)
//   - Stats: in-memory counters (per-op totals, out-of-bounds histogram,
//     unrepresentable results, capability memory traffic)
//   - Store: a SQLite recorder for offline query and replay
//
// Entry packs an Event into the fixed-width binary-trace form used by
// hardware trace tooling.
package trace
