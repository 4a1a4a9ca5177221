package store

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/roach88/warden/internal/capability"
	"github.com/roach88/warden/internal/machine"
)

// packCapability serializes a register image for an event row: the
// codec-independent packed form, remnants included, as msgpack.
func packCapability(c *capability.Capability) ([]byte, error) {
	data, err := msgpack.Marshal(c.Pack())
	if err != nil {
		return nil, fmt.Errorf("pack capability: %w", err)
	}
	return data, nil
}

// unpackCapability is the inverse of packCapability.
func unpackCapability(blob []byte) (capability.Capability, error) {
	var p capability.Packed
	if err := msgpack.Unmarshal(blob, &p); err != nil {
		return capability.Capability{}, fmt.Errorf("unpack capability: %w", err)
	}
	return capability.FromPacked(p), nil
}

// packArgs serializes a step's operands. Args carries msgpack tags with
// omitempty, so the blob stays small for sparse operand sets.
func packArgs(a machine.Args) ([]byte, error) {
	data, err := msgpack.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("pack args: %w", err)
	}
	return data, nil
}

// unpackArgs is the inverse of packArgs.
func unpackArgs(blob []byte) (machine.Args, error) {
	var a machine.Args
	if err := msgpack.Unmarshal(blob, &a); err != nil {
		return machine.Args{}, fmt.Errorf("unpack args: %w", err)
	}
	return a, nil
}
