// Package compiler holds the analyses the JIT runs before it emits code
// for a method: the block map (basic blocks, exception dispatch, loops and
// block order) and the yield classifier that decides whether a method can
// suspend its thread.
//
// Neither analysis touches the running VM. Methods and call resolution
// are supplied through the Method and Resolver interfaces, so the class
// registry and the native table stay on the vm side.
package compiler
