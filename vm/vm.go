package vm

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/chazu/cldc/compiler"
	"github.com/chazu/cldc/host"
	"github.com/chazu/cldc/pkg/classfile"
)

// ---------------------------------------------------------------------------
// VM: one isolate
// ---------------------------------------------------------------------------

// VM is one isolate: a class registry, a heap and the threads that run in
// it. Everything except Preload must be called on the host loop.
type VM struct {
	// ID names the instance in logs, compile records and dump files.
	ID uuid.UUID

	opts   Options
	host   host.Host
	stdout io.Writer
	stderr io.Writer

	// Class registry
	classes  map[string]*Class
	loading  map[string]bool
	parsed   map[string]*classfile.ClassFile
	parsedMu sync.Mutex
	sources  []classSource

	// Heap
	interned map[string]*Object
	objectID uint64

	natives    *NativeTable
	classifier *compiler.Classifier
	sched      *Scheduler
	profiler   *Profiler
	jit        *JITCompiler

	contexts map[uint64]*Context
	nextCtx  uint64
	// threadSeq numbers unnamed java/lang/Thread objects.
	threadSeq int
	onExit    []func()
}

// New creates a VM driven by h. The core classes are defined before New
// returns; everything else loads from opts.ClassPath on first use.
func New(h host.Host, opts Options) (*VM, error) {
	def := DefaultOptions()
	if opts.Window <= 0 {
		opts.Window = def.Window
	}
	if opts.MinSlice <= 0 {
		opts.MinSlice = def.MinSlice
	}
	if opts.MethodThreshold == 0 {
		opts.MethodThreshold = def.MethodThreshold
	}
	if opts.BackedgeThreshold == 0 {
		opts.BackedgeThreshold = def.BackedgeThreshold
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	sources, err := openClassPath(opts.ClassPath)
	if err != nil {
		return nil, err
	}
	vm := &VM{
		ID:       uuid.New(),
		opts:     opts,
		host:     h,
		stdout:   opts.Stdout,
		stderr:   opts.Stderr,
		classes:  make(map[string]*Class),
		loading:  make(map[string]bool),
		parsed:   make(map[string]*classfile.ClassFile),
		sources:  sources,
		interned: make(map[string]*Object),
		natives:  NewNativeTable(),
		sched:    NewScheduler(h, opts.Window, opts.MinSlice, opts.Strict),
		profiler: NewProfiler(opts.MethodThreshold, opts.BackedgeThreshold),
		contexts: make(map[uint64]*Context),
	}
	vm.registerNatives()
	vm.classifier = compiler.NewClassifier(callResolver{vm}, vm.natives,
		compiler.WithRoots(opts.YieldRoots...),
		compiler.WithNonSuspending(opts.NonSuspending...))
	if opts.JIT {
		vm.jit = NewJITCompiler(vm, vm.profiler, opts.Cache)
	}
	if err := vm.defineBuiltins(); err != nil {
		closeSources(sources)
		return nil, fmt.Errorf("defining core classes: %w", err)
	}
	log.Infof("vm %s ready (%d classpath entries, jit %t)", vm.ID, len(sources), opts.JIT)
	return vm, nil
}

// Close releases the classpath.
func (vm *VM) Close() error {
	closeSources(vm.sources)
	vm.sources = nil
	return nil
}

// Host returns the host loop the VM posts to.
func (vm *VM) Host() host.Host { return vm.host }

// Scheduler returns the run queue.
func (vm *VM) Scheduler() *Scheduler { return vm.sched }

// Classifier returns the yield classifier.
func (vm *VM) Classifier() *compiler.Classifier { return vm.classifier }

// Profiler returns the invocation profiler.
func (vm *VM) Profiler() *Profiler { return vm.profiler }

// JIT returns the compiler, or nil when the JIT is disabled.
func (vm *VM) JIT() *JITCompiler { return vm.jit }

// Natives returns the native table.
func (vm *VM) Natives() *NativeTable { return vm.natives }

// RegisterNative adds a native method implementation. Methods already
// linked under key are rebound.
func (vm *VM) RegisterNative(key string, suspends bool, fn NativeFunc) {
	vm.natives.Register(key, suspends, fn)
	n := vm.natives.Lookup(key)
	for _, c := range vm.classes {
		for _, m := range c.Methods {
			if m.key == key && m.IsNative() {
				m.native = n
			}
		}
	}
}

// RunWindow runs the scheduler for one window. Hosts that drive the VM
// themselves call it from their event loop.
func (vm *VM) RunWindow() { vm.sched.RunWindow() }

// OnExit registers fn to run when the last thread terminates.
func (vm *VM) OnExit(fn func()) { vm.onExit = append(vm.onExit, fn) }

// Threads returns the live threads in creation order.
func (vm *VM) Threads() []*Context {
	out := make([]*Context, 0, len(vm.contexts))
	for _, ctx := range vm.contexts {
		out = append(out, ctx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindMethod loads class and returns its method name with descriptor desc.
func (vm *VM) FindMethod(class, name, desc string) (*Method, error) {
	c, err := vm.LoadClass(class)
	if err != nil {
		return nil, err
	}
	m := c.LookupMethod(name, desc)
	if m == nil {
		return nil, fmt.Errorf("%s.%s%s: %w", class, name, desc, ErrNoSuchMethod)
	}
	return m, nil
}

// Start spawns the main thread running mainClass.main(String[]).
func (vm *VM) Start(mainClass string, args []string) (*Context, error) {
	m, err := vm.FindMethod(mainClass, "main", "([Ljava/lang/String;)V")
	if err != nil {
		return nil, err
	}
	if !m.IsStatic() {
		return nil, fmt.Errorf("%s.main is not static", mainClass)
	}
	argv, err := vm.stringArray(args)
	if err != nil {
		return nil, err
	}
	return vm.Spawn("main", m, []Value{Ref(argv)}), nil
}

func (vm *VM) stringArray(ss []string) (*Object, error) {
	c, err := vm.LoadClass("[Ljava/lang/String;")
	if err != nil {
		return nil, err
	}
	a := vm.NewArray(c, len(ss))
	for i, s := range ss {
		a.Elems[i] = Ref(vm.NewString(s))
	}
	return a, nil
}

// Spawn creates a runnable thread that calls m with args. A static m's
// class is initialized first.
func (vm *VM) Spawn(name string, m *Method, args []Value) *Context {
	ctx := vm.newContext(name, nil)
	ctx.entry = &entryCall{method: m, args: args}
	vm.sched.Enqueue(ctx)
	return ctx
}

func (vm *VM) newContext(name string, thread *Object) *Context {
	vm.nextCtx++
	ctx := &Context{
		ID:     vm.nextCtx,
		Name:   name,
		Thread: thread,
		vm:     vm,
		state:  ThreadRunnable,
	}
	ctx.sched.Priority = NormPriority
	if ctx.Name == "" {
		ctx.Name = fmt.Sprintf("Thread-%d", ctx.ID)
	}
	vm.contexts[ctx.ID] = ctx
	log.Debugf("created %s", ctx)
	return ctx
}

func (vm *VM) threadExited(ctx *Context) {
	delete(vm.contexts, ctx.ID)
	log.Debugf("%s exited", ctx)
	if len(vm.contexts) > 0 {
		return
	}
	for _, fn := range vm.onExit {
		fn()
	}
}
