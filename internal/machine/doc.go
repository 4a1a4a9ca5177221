// Package machine implements the capability machine: the register file,
// the legality checker with its fixed fault priority, and the operation
// library, executed over a tagged memory through a single codec chosen at
// construction.
//
// The machine is single-writer: one goroutine owns all state. Every public
// operation retires through one boundary that recovers the internal fault
// trap, bumps the retire clock, and notifies observers. A faulting
// operation performs no register or memory writes; its only effects are
// the capability cause register and BadVAddr.
package machine
