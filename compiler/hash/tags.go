package hash

// ---------------------------------------------------------------------------
// Frozen tag bytes for the method-body serialization format.
//
// IMPORTANT: These tags are FROZEN. Once assigned, a tag byte must never
// change meaning. Adding new tags is fine; changing existing ones breaks
// every compile-cache entry keyed by a previously computed hash.
// ---------------------------------------------------------------------------

// HashVersion is the version prefix for the serialization format.
// Bumping this invalidates all existing content hashes.
const HashVersion byte = 1

const (
	TagReservedZero byte = 0x00

	// Method header
	TagKey       byte = 0x01
	TagMaxStack  byte = 0x02
	TagMaxLocals byte = 0x03

	// Instructions
	TagInstr   byte = 0x10 // opcode, raw operands (no pool indices)
	TagPoolRef byte = 0x11 // opcode, symbolic pool entry
	TagBranch  byte = 0x12 // opcode, relative offset
	TagSwitch  byte = 0x13 // opcode, keys and relative offsets

	// Exception table
	TagHandler byte = 0x20

	TagEnd byte = 0xFF
)
