package queryir

// Filter describes one query over a run's retired-event stream.
//
// Semantics:
//
//	events of RunID satisfying Where, in sequence order, at most Limit
//
// The zero Where selects every event; the zero Limit means unlimited.
// RunID is always required: the event stream is only meaningful within
// one run, and cross-run scans are never wanted by accident.
type Filter struct {
	RunID string    // run to query (required)
	Where Predicate // nil = no filtering
	Limit int       // 0 = unlimited
}

// Predicate represents one filter condition over events.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and
// enables exhaustive type switches in the SQL compiler.
//
// Predicate types:
//   - OpIs: retired by a named operation
//   - Faulted: carries a fault, any cause
//   - CauseIs: faulted with a named cause
//   - RegIs: faulted blaming a specific register
//   - SeqRange: sequence number within an inclusive range
//   - And: all predicates must hold
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// OpIs selects events retired by one operation.
//
// Semantics:
//
//	op = <name>
//
// Op is a dispatch mnemonic such as "csetbounds" or "clc". Validation
// rejects names the dispatch table does not know, since those can only
// select the empty set.
type OpIs struct {
	Op string
}

func (OpIs) predicateNode() {}

// Faulted selects only events that raised an exception.
//
// Non-faulting events store an empty class column; this predicate is
// the class check, independent of cause.
type Faulted struct{}

func (Faulted) predicateNode() {}

// CauseIs selects events that faulted with the named cause.
//
// Semantics:
//
//	faulted AND cause = <code of name>
//
// Cause is a canonical cause name such as "Tag Violation" or
// "Permit_Store_Capability Violation". Names resolve through the fault
// package at compile time; codes never appear in filters.
//
// The faulted guard matters: non-faulting rows store cause code zero,
// which is also the code of "None".
type CauseIs struct {
	Cause string
}

func (CauseIs) predicateNode() {}

// RegIs selects events whose fault blamed the given register number.
//
// Semantics:
//
//	faulted AND reg = <n>
//
// Register numbers follow the cause register encoding: 0-31 for the
// general file, 32 and up for hardware register views, 255 for faults
// with no owning register. Non-faulting rows store 255 too, hence the
// faulted guard.
type RegIs struct {
	Reg int
}

func (RegIs) predicateNode() {}

// SeqRange selects events with From <= seq <= To, both inclusive.
//
// Sequence numbers are the retire clock values recorded with each
// event, so a range is a contiguous slice of the run.
type SeqRange struct {
	From int64
	To   int64
}

func (SeqRange) predicateNode() {}

// And represents a conjunction of predicates (all must be true).
//
// Semantics:
//
//	<predicate1> AND <predicate2> AND ... AND <predicateN>
//
// An empty Predicates slice is vacuously true. Nested And values
// flatten naturally in the compiled SQL. There is no OR predicate; run
// two filters and merge when disjunction is needed.
type And struct {
	Predicates []Predicate // All must be true (empty = always true)
}

func (And) predicateNode() {}
