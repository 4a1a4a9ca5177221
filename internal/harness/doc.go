// Package harness executes YAML conformance scenarios against the machine.
//
// A scenario names a machine definition, a sequence of operations and the
// outcomes each one must produce. The runner executes the sequence under
// every capability codec, so one scenario file pins behavior across all
// bounds formats at once.
//
// # Scenario Format
//
// Scenarios are YAML documents with the following structure:
//
//	name: store-without-permission
//	description: "CSC without Permit_Store_Capability faults before any effect"
//	machine: machines/exec-window.cue   # optional, relative to the scenario file
//	codec: magic                        # optional, pins one codec
//	steps:
//	  - op: csetbounds
//	    cd: 1
//	    cb: 2
//	    rt: 0x100
//	  - op: csc
//	    cs: 2
//	    cb: 1
//	    expect:
//	      fault: "Permit_Store_Capability Violation"
//	      reg: 1
//	  - op: cgettag
//	    cb: 2
//	    expect:
//	      value: 1
//
// Operand fields (cd, cb, cs, ct, rt, rs, imm, size, sel, value, addr,
// offset, hwr, mask, signed) mirror the machine's dispatch operands;
// unused fields stay zero. Unknown YAML fields are rejected.
//
// # Expectations
//
// Each step may carry an expect clause:
//
//   - value: the scalar the operation must return
//   - fault: the canonical cause name the operation must raise, with an
//     optional reg pinning the faulting register
//   - register: field assertions against a named register after the step
//   - memory: byte and tag assertions against an address after the step
//
// A step without an expect clause must retire cleanly; an unexpected
// fault fails the scenario. Expected faults do not stop execution, so a
// scenario can assert that a faulting store left memory untouched.
//
// # Codec Sweep
//
// Run executes the scenario once per codec in capability.Names() order
// and returns one Result per run. A scenario that pins codec runs only
// under that codec. Expected values must therefore hold under every
// format; scenarios use exactly representable bounds unless the point of
// the scenario is rounding itself.
//
// # Golden Traces
//
// RunWithGolden renders the observer stream of every run into a stable
// text form and compares it against a fixture under testdata/golden,
// named after the scenario. Fixtures are updated with `go test -update`.
package harness
