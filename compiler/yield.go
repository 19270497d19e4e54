package compiler

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/tliron/commonlog"

	"github.com/chazu/cldc/pkg/bytecode"
)

var log = commonlog.GetLogger("cldc.compiler")

// YieldReason says why a method may suspend its thread. YieldNone means it
// never does.
type YieldReason uint8

const (
	YieldNone YieldReason = iota
	YieldRoot
	YieldSynchronized
	YieldMonitorEnterExit
	YieldVirtual
	YieldCycle
)

var yieldReasonNames = [...]string{
	YieldNone:             "None",
	YieldRoot:             "Root",
	YieldSynchronized:     "Synchronized",
	YieldMonitorEnterExit: "MonitorEnterExit",
	YieldVirtual:          "Virtual",
	YieldCycle:            "Cycle",
}

func (r YieldReason) String() string {
	if int(r) < len(yieldReasonNames) {
		return yieldReasonNames[r]
	}
	return "YieldReason(?)"
}

// CanYield reports whether r allows suspension.
func (r YieldReason) CanYield() bool { return r != YieldNone }

// ParseYieldReason is the inverse of String.
func ParseYieldReason(s string) (YieldReason, bool) {
	for i, name := range yieldReasonNames {
		if name == s {
			return YieldReason(i), true
		}
	}
	return YieldNone, false
}

// Method is the view of a linked method the analyses need.
type Method interface {
	// Key is "class.name.descriptor".
	Key() string
	// Bytecode is nil for native and abstract methods.
	Bytecode() []byte
	IsSynchronized() bool
	IsNative() bool
}

// Resolver resolves the callee of an invoke instruction in caller. static
// reports whether the call binds to exactly that method at run time.
type Resolver interface {
	ResolveCall(caller Method, in bytecode.Instruction) (callee Method, static bool, err error)
}

// NativeOracle reports the declared suspend behavior of a native method.
// known is false for natives nobody registered.
type NativeOracle interface {
	NativeSuspends(key string) (suspends, known bool)
}

// DefaultRoots are the methods known to suspend whatever their
// implementation says.
var DefaultRoots = []string{
	"java/lang/Thread.sleep.(J)V",
	"java/lang/Thread.yield.()V",
	"java/lang/Thread.join.()V",
	"java/lang/Object.wait.(J)V",
	"java/lang/Object.wait.()V",
	"java/lang/Class.invoke_clinit.()V",
	"java/lang/Class.newInstance.()Ljava/lang/Object;",
}

// DefaultNonSuspending are virtual callees known never to suspend in any
// implementation the VM ships.
var DefaultNonSuspending = []string{
	"java/lang/Object.hashCode.()I",
	"java/lang/Object.equals.(Ljava/lang/Object;)Z",
	"java/lang/Object.getClass.()Ljava/lang/Class;",
	"java/lang/String.length.()I",
	"java/lang/String.charAt.(I)C",
	"java/lang/StringBuffer.append.(Ljava/lang/String;)Ljava/lang/StringBuffer;",
	"java/lang/StringBuffer.append.(I)Ljava/lang/StringBuffer;",
	"java/lang/StringBuffer.toString.()Ljava/lang/String;",
}

// Classifier computes and memoizes yield reasons. It is safe for
// concurrent use; one classification runs at a time.
type Classifier struct {
	resolver Resolver
	natives  NativeOracle

	mu         sync.Mutex
	roots      mapset.Set[string]
	overrides  mapset.Set[string]
	inProgress mapset.Set[string]
	memo       map[string]YieldReason
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithRoots adds methods that always classify as YieldRoot.
func WithRoots(keys ...string) ClassifierOption {
	return func(c *Classifier) {
		for _, k := range keys {
			c.roots.Add(k)
		}
	}
}

// WithNonSuspending adds virtual callees that do not force YieldVirtual.
func WithNonSuspending(keys ...string) ClassifierOption {
	return func(c *Classifier) {
		for _, k := range keys {
			c.overrides.Add(k)
		}
	}
}

// NewClassifier creates a classifier seeded with DefaultRoots and
// DefaultNonSuspending. natives may be nil, in which case every native
// without a root entry is assumed to suspend.
func NewClassifier(resolver Resolver, natives NativeOracle, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		resolver:   resolver,
		natives:    natives,
		roots:      mapset.NewSet(DefaultRoots...),
		overrides:  mapset.NewSet(DefaultNonSuspending...),
		inProgress: mapset.NewSet[string](),
		memo:       make(map[string]YieldReason),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Seed records a previously computed reason, for example one loaded from
// the compile cache.
func (c *Classifier) Seed(key string, r YieldReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.memo[key]; !ok {
		c.memo[key] = r
	}
}

// Lookup returns the memoized reason for key, if any.
func (c *Classifier) Lookup(key string) (YieldReason, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roots.Contains(key) {
		return YieldRoot, true
	}
	r, ok := c.memo[key]
	return r, ok
}

// Classify returns the yield reason of m.
func (c *Classifier) Classify(m Method) YieldReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.classify(m)
}

// CanYield reports whether m may suspend.
func (c *Classifier) CanYield(m Method) bool {
	return c.Classify(m).CanYield()
}

func (c *Classifier) classify(m Method) YieldReason {
	key := m.Key()
	if c.roots.Contains(key) {
		return YieldRoot
	}
	if r, ok := c.memo[key]; ok {
		return r
	}
	if m.IsSynchronized() {
		c.memo[key] = YieldSynchronized
		return YieldSynchronized
	}
	if c.inProgress.Contains(key) {
		return YieldCycle
	}
	code := m.Bytecode()
	if code == nil {
		r := c.classifyBodiless(m)
		c.memo[key] = r
		return r
	}

	c.inProgress.Add(key)
	r := c.scan(m, code)
	c.inProgress.Remove(key)
	c.memo[key] = r
	if r != YieldNone {
		log.Debugf("%s can yield: %s", key, r)
	}
	return r
}

func (c *Classifier) classifyBodiless(m Method) YieldReason {
	if !m.IsNative() {
		return YieldNone
	}
	if c.natives == nil {
		return YieldRoot
	}
	suspends, known := c.natives.NativeSuspends(m.Key())
	switch {
	case !known:
		log.Debugf("native %s has no declared suspend behavior, assuming it suspends", m.Key())
		return YieldRoot
	case suspends:
		return YieldRoot
	default:
		return YieldNone
	}
}

// scan walks the body once. The first instruction that can suspend
// decides the reason.
func (c *Classifier) scan(m Method, code []byte) YieldReason {
	st := bytecode.NewStream(code)
	for st.Next() {
		in := st.Instr()
		switch in.Op {
		case bytecode.OpMonitorenter, bytecode.OpMonitorexit:
			return YieldMonitorEnterExit
		case bytecode.OpInvokeinterface, bytecode.OpInvokevirtual,
			bytecode.OpInvokespecial, bytecode.OpInvokestatic:
			if r := c.classifyCall(m, in); r != YieldNone {
				return r
			}
		}
	}
	if err := st.Err(); err != nil {
		log.Warningf("%s: %s; treating as %s", m.Key(), err, YieldCycle)
		return YieldCycle
	}
	return YieldNone
}

func (c *Classifier) classifyCall(m Method, in bytecode.Instruction) YieldReason {
	callee, static, err := c.resolver.ResolveCall(m, in)
	if err != nil {
		log.Debugf("%s: cannot resolve call at %d: %s", m.Key(), in.PC, err)
		return YieldCycle
	}
	if in.Op == bytecode.OpInvokeinterface || !static {
		if c.overrides.Contains(callee.Key()) {
			return YieldNone
		}
		return YieldVirtual
	}
	return c.classify(callee)
}
