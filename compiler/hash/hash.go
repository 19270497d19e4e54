// Package hash computes content hashes of method bodies.
//
// Two bodies hash equal when they execute the same instructions against
// the same symbolic references, regardless of how their class files lay
// out the constant pool. The JIT uses the hash to key compile-cache
// entries so a recompiled class invalidates stale records automatically.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
)

// Handler is an exception-table entry with its catch type resolved to a
// class name ("" catches everything).
type Handler struct {
	StartPC, EndPC, HandlerPC int
	CatchType                 string
}

// Body is the hashed view of a method.
type Body struct {
	Key       string
	MaxStack  int
	MaxLocals int
	Code      []byte
	Handlers  []Handler
}

// Pool renders constant-pool entries symbolically.
type Pool interface {
	Describe(index int) string
}

// HashMethod computes the SHA-256 content hash of a method body.
func HashMethod(b Body, pool Pool) ([32]byte, error) {
	data, err := Serialize(b, pool)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}

// Hex renders a hash the way cache keys and logs print it.
func Hex(h [32]byte) string {
	return hex.EncodeToString(h[:])
}
