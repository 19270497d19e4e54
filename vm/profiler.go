package vm

import (
	"sort"
	"sync"
	"sync/atomic"
)

// MethodProfile holds profiling data for a single method.
type MethodProfile struct {
	Invocations uint64 // atomic
	Backedges   uint64 // atomic
	IsHot       bool
}

// HotReason says which counter made a method hot.
type HotReason uint8

const (
	HotInvocations HotReason = iota
	HotBackedges
)

// Profiler counts method invocations and loop backedges to find code
// worth compiling.
type Profiler struct {
	profiles sync.Map // *Method -> *MethodProfile

	MethodThreshold   uint64
	BackedgeThreshold uint64

	// OnHot is called once per method, when a counter first crosses its
	// threshold.
	OnHot func(m *Method, why HotReason)

	hotCount uint64
}

// NewProfiler creates a profiler with the given thresholds.
func NewProfiler(methodThreshold, backedgeThreshold uint64) *Profiler {
	return &Profiler{
		MethodThreshold:   methodThreshold,
		BackedgeThreshold: backedgeThreshold,
	}
}

func (p *Profiler) profile(m *Method) *MethodProfile {
	val, _ := p.profiles.LoadOrStore(m, &MethodProfile{})
	return val.(*MethodProfile)
}

// RecordInvocation counts one call of m. It returns true if the call made
// m hot.
func (p *Profiler) RecordInvocation(m *Method) bool {
	if p == nil || m == nil {
		return false
	}
	profile := p.profile(m)
	count := atomic.AddUint64(&profile.Invocations, 1)
	return p.check(m, profile, count >= p.MethodThreshold, HotInvocations)
}

// RecordBackedge counts one taken backward branch in m and returns the
// running total.
func (p *Profiler) RecordBackedge(m *Method) uint64 {
	if p == nil || m == nil {
		return 0
	}
	profile := p.profile(m)
	count := atomic.AddUint64(&profile.Backedges, 1)
	p.check(m, profile, count >= p.BackedgeThreshold, HotBackedges)
	return count
}

func (p *Profiler) check(m *Method, profile *MethodProfile, crossed bool, why HotReason) bool {
	if profile.IsHot || !crossed {
		return false
	}
	profile.IsHot = true
	atomic.AddUint64(&p.hotCount, 1)
	if p.OnHot != nil {
		p.OnHot(m, why)
	}
	return true
}

// Profile returns the profile for m, or nil if m never ran.
func (p *Profiler) Profile(m *Method) *MethodProfile {
	if val, ok := p.profiles.Load(m); ok {
		return val.(*MethodProfile)
	}
	return nil
}

// IsHot reports whether m has crossed a threshold.
func (p *Profiler) IsHot(m *Method) bool {
	profile := p.Profile(m)
	return profile != nil && profile.IsHot
}

// ProfilerStats holds aggregate profiling statistics.
type ProfilerStats struct {
	Methods     int
	HotMethods  int
	Invocations uint64
	Backedges   uint64
}

// Stats returns aggregate profiling statistics.
func (p *Profiler) Stats() ProfilerStats {
	var stats ProfilerStats
	p.profiles.Range(func(_, value any) bool {
		profile := value.(*MethodProfile)
		stats.Methods++
		stats.Invocations += atomic.LoadUint64(&profile.Invocations)
		stats.Backedges += atomic.LoadUint64(&profile.Backedges)
		if profile.IsHot {
			stats.HotMethods++
		}
		return true
	})
	return stats
}

// TopMethods returns the n most frequently invoked methods.
func (p *Profiler) TopMethods(n int) []*Method {
	type methodCount struct {
		method *Method
		count  uint64
	}
	var all []methodCount
	p.profiles.Range(func(key, value any) bool {
		all = append(all, methodCount{key.(*Method), atomic.LoadUint64(&value.(*MethodProfile).Invocations)})
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].method.key < all[j].method.key
	})
	if n > len(all) {
		n = len(all)
	}
	out := make([]*Method, n)
	for i := range out {
		out[i] = all[i].method
	}
	return out
}

// Reset clears all profiling data.
func (p *Profiler) Reset() {
	p.profiles = sync.Map{}
	atomic.StoreUint64(&p.hotCount, 0)
}
