package vm

import (
	"io"
	"os"
	"time"

	"github.com/chazu/cldc/cache"
	"github.com/chazu/cldc/compiler"
)

// Options configures a VM.
type Options struct {
	// ClassPath lists class directories and jar files, searched in order.
	ClassPath []string

	// Window is the wall-clock budget of one scheduler window.
	Window time.Duration
	// MinSlice is how far past the queue head a running thread's virtual
	// runtime may get before it is asked to yield.
	MinSlice time.Duration
	// Strict turns scheduler contract violations into panics.
	Strict bool

	JIT               bool
	MethodThreshold   uint64
	BackedgeThreshold uint64

	YieldRoots    []string
	NonSuspending []string

	// Cache receives compile records. Nil disables the compile cache.
	Cache cache.Store
	// DumpDir receives CBOR snapshots of contexts that die of host-fatal
	// errors. Empty disables dumps.
	DumpDir string

	Stdout io.Writer
	Stderr io.Writer
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Window:            20 * time.Millisecond,
		MinSlice:          time.Millisecond,
		JIT:               true,
		MethodThreshold:   100,
		BackedgeThreshold: 1000,
		YieldRoots:        append([]string(nil), compiler.DefaultRoots...),
		NonSuspending:     append([]string(nil), compiler.DefaultNonSuspending...),
		Stdout:            os.Stdout,
		Stderr:            os.Stderr,
	}
}
