// Package store provides SQLite-backed durable storage for machine
// trace runs.
//
// The store is an append-only log with three tables:
//   - Runs: one row per recorded machine run (uuid id, machine
//     definition identity, codec, mode, policy knobs, final counters)
//   - Events: the retired-operation stream (seq, op, pc, register
//     written, packed old/new images, fault class/cause/register)
//   - Steps: the dispatched operations with their operands; what replay
//     re-executes
//
// All ordering uses the retire sequence (logical clock), never
// timestamps, and every query orders by it, so reads are deterministic
// across replays. Register images are stored in the codec-independent
// packed form including codec-private remnants, so a replayed run can be
// compared image for image.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: events and steps die with their run
package store
