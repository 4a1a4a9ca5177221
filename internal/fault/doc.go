// Package fault defines the capability exception taxonomy.
//
// Every failed legality check resolves to an 8-bit Cause with a canonical
// string, wrapped in an Exception that also names the exception class
// (capability fault, address error on load or store, reserved
// instruction) and the faulting register. Operations raise through a
// typed panic; the machine's single retire boundary recovers it and the
// public API surfaces *Exception, matched with errors.As.
//
// fault imports nothing internal; everything above imports fault.
package fault
