package compiler

import "fmt"

// Bailout reports that a method cannot be compiled and must run in the
// interpreter. It is never visible to guest code.
type Bailout struct {
	Method string
	Reason string
}

func (b *Bailout) Error() string {
	if b.Method == "" {
		return "bailout: " + b.Reason
	}
	return fmt.Sprintf("bailout in %s: %s", b.Method, b.Reason)
}
