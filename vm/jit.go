package vm

import (
	"errors"
	"sort"
	"time"

	"github.com/chazu/cldc/cache"
	"github.com/chazu/cldc/compiler"
	"github.com/chazu/cldc/compiler/hash"
)

// JITCompiler compiles hot methods. The profiler reports hot methods, the
// compiler queues them and compiles the queue in a function posted to the
// host loop, so compiled code is only ever installed between slices.
type JITCompiler struct {
	vm       *VM
	profiler *Profiler
	store    cache.Store

	pending      []*Method
	posted       bool
	compiledKeys map[string]bool

	methodsCompiled uint64
	bailouts        uint64
	cacheHits       uint64
	compilationTime time.Duration

	Enabled bool
}

// JITStats summarizes compiler activity.
type JITStats struct {
	Compiled        uint64
	Bailouts        uint64
	CacheHits       uint64
	Pending         int
	CompilationTime time.Duration
}

// NewJITCompiler creates a compiler for vm and connects it to the
// profiler. store may be nil.
func NewJITCompiler(vm *VM, profiler *Profiler, store cache.Store) *JITCompiler {
	jit := &JITCompiler{
		vm:           vm,
		profiler:     profiler,
		store:        store,
		compiledKeys: make(map[string]bool),
		Enabled:      true,
	}
	if profiler != nil {
		profiler.OnHot = jit.onHot
	}
	return jit
}

func (jit *JITCompiler) onHot(m *Method, why HotReason) {
	if !jit.Enabled {
		return
	}
	if why == HotBackedges {
		jitLog.Debugf("%s is hot in a loop", m.Key())
	}
	jit.queueMethod(m)
}

func (jit *JITCompiler) queueMethod(m *Method) {
	if m.noCompile || m.compiled != nil || m.Code == nil || jit.compiledKeys[m.Key()] {
		return
	}
	jit.pending = append(jit.pending, m)
	if !jit.posted {
		jit.posted = true
		jit.vm.host.Post(jit.drain)
	}
}

func (jit *JITCompiler) drain() {
	jit.posted = false
	pending := jit.pending
	jit.pending = nil
	for _, m := range pending {
		jit.CompileMethod(m)
	}
}

// CompileMethod compiles m now and installs the result. It returns nil
// when m stays interpreted.
func (jit *JITCompiler) CompileMethod(m *Method) *CompiledMethod {
	key := m.Key()
	if jit.compiledKeys[key] {
		return m.compiled
	}
	jit.compiledKeys[key] = true

	codeHash := jit.codeHash(m)
	if rec := jit.lookup(key, codeHash); rec != nil {
		jit.cacheHits++
		if rec.BailedOut() {
			jitLog.Debugf("%s is known to bail out: %s", key, rec.Bailout)
			m.noCompile = true
			return nil
		}
		if r, ok := compiler.ParseYieldReason(rec.Yield); ok {
			jit.vm.classifier.Seed(key, r)
		}
	}

	start := time.Now()
	cm, err := jit.vm.compile(m)
	jit.compilationTime += time.Since(start)

	rec := &cache.CompileRecord{
		Key:        key,
		CodeHash:   codeHash,
		CompiledAt: jit.vm.host.Now().UnixMilli(),
		Instance:   jit.vm.ID.String(),
	}
	if err != nil {
		var b *compiler.Bailout
		if !errors.As(err, &b) {
			jitLog.Warningf("%s: %s", key, err)
		} else {
			jitLog.Debugf("%s", b)
		}
		jit.bailouts++
		m.noCompile = true
		rec.Bailout = err.Error()
		jit.record(rec)
		return nil
	}
	cm.Hash = codeHash
	rec.Yield = cm.Yield.String()
	rec.Blocks = cm.Blocks
	rec.Loops = cm.Loops
	jit.record(rec)

	m.compiled = cm
	jit.methodsCompiled++
	jitLog.Infof("compiled %s (%d ops, yield %s)", key, len(cm.ops), cm.Yield)
	return cm
}

func (jit *JITCompiler) codeHash(m *Method) string {
	if jit.store == nil || m.Class.File == nil {
		return ""
	}
	handlers := make([]hash.Handler, len(m.Handlers))
	for i, h := range m.Handlers {
		handlers[i] = hash.Handler{StartPC: h.StartPC, EndPC: h.EndPC, HandlerPC: h.HandlerPC, CatchType: h.CatchType}
	}
	sum, err := hash.HashMethod(hash.Body{
		Key:       m.Key(),
		MaxStack:  m.MaxStack,
		MaxLocals: m.MaxLocals,
		Code:      m.Code,
		Handlers:  handlers,
	}, m.Class.File.ConstantPool)
	if err != nil {
		jitLog.Debugf("hashing %s: %s", m.Key(), err)
		return ""
	}
	return hash.Hex(sum)
}

func (jit *JITCompiler) lookup(key, codeHash string) *cache.CompileRecord {
	if jit.store == nil || codeHash == "" {
		return nil
	}
	rec, err := cache.Lookup(jit.store, key, codeHash)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			jitLog.Warningf("compile cache: %s", err)
		}
		return nil
	}
	return rec
}

func (jit *JITCompiler) record(rec *cache.CompileRecord) {
	if jit.store == nil || rec.CodeHash == "" {
		return
	}
	if err := jit.store.Put(rec); err != nil {
		jitLog.Warningf("compile cache: %s", err)
	}
}

// Stats returns compiler statistics.
func (jit *JITCompiler) Stats() JITStats {
	return JITStats{
		Compiled:        jit.methodsCompiled,
		Bailouts:        jit.bailouts,
		CacheHits:       jit.cacheHits,
		Pending:         len(jit.pending),
		CompilationTime: jit.compilationTime,
	}
}

// CompiledMethods returns the keys of every installed compiled method.
func (jit *JITCompiler) CompiledMethods() []string {
	var keys []string
	for _, c := range jit.vm.classes {
		for _, m := range c.Methods {
			if m.compiled != nil {
				keys = append(keys, m.Key())
			}
		}
	}
	sort.Strings(keys)
	return keys
}
