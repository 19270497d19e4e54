package vm

import "testing"

func TestProfilerInvocationThreshold(t *testing.T) {
	p := NewProfiler(3, 100)
	m := &Method{key: "A.f.()V"}
	var hot []HotReason
	p.OnHot = func(got *Method, why HotReason) {
		if got != m {
			t.Errorf("OnHot(%s), want A.f", got.Key())
		}
		hot = append(hot, why)
	}

	for i := 1; i <= 5; i++ {
		became := p.RecordInvocation(m)
		if want := i == 3; became != want {
			t.Errorf("RecordInvocation #%d = %t, want %t", i, became, want)
		}
	}
	if len(hot) != 1 || hot[0] != HotInvocations {
		t.Errorf("OnHot calls = %v, want one HotInvocations", hot)
	}
	if !p.IsHot(m) {
		t.Error("IsHot() = false after crossing the threshold")
	}
	if got := p.Profile(m).Invocations; got != 5 {
		t.Errorf("Invocations = %d, want 5", got)
	}
}

func TestProfilerBackedges(t *testing.T) {
	p := NewProfiler(100, 4)
	m := &Method{key: "A.loop.()V"}
	var why HotReason = 255
	p.OnHot = func(_ *Method, r HotReason) { why = r }
	for i := uint64(1); i <= 4; i++ {
		if got := p.RecordBackedge(m); got != i {
			t.Errorf("RecordBackedge() = %d, want %d", got, i)
		}
	}
	if why != HotBackedges {
		t.Errorf("hot reason = %v, want HotBackedges", why)
	}
}

func TestProfilerStatsAndTop(t *testing.T) {
	p := NewProfiler(10, 10)
	a, b, c := &Method{key: "A.a.()V"}, &Method{key: "A.b.()V"}, &Method{key: "A.c.()V"}
	for i := 0; i < 12; i++ {
		p.RecordInvocation(b)
	}
	for i := 0; i < 4; i++ {
		p.RecordInvocation(a)
		p.RecordInvocation(c)
	}
	p.RecordBackedge(c)

	st := p.Stats()
	want := ProfilerStats{Methods: 3, HotMethods: 1, Invocations: 20, Backedges: 1}
	if st != want {
		t.Errorf("Stats() = %+v, want %+v", st, want)
	}
	top := p.TopMethods(2)
	if len(top) != 2 || top[0] != b || top[1] != a {
		t.Errorf("TopMethods(2) = %v, want [b a]", top)
	}
	if got := p.TopMethods(10); len(got) != 3 {
		t.Errorf("TopMethods(10) returned %d methods, want 3", len(got))
	}

	p.Reset()
	if st := p.Stats(); st.Methods != 0 {
		t.Errorf("Stats().Methods = %d after Reset", st.Methods)
	}
}

func TestProfilerNil(t *testing.T) {
	var p *Profiler
	if p.RecordInvocation(&Method{}) || p.RecordBackedge(&Method{}) != 0 {
		t.Error("nil profiler recorded something")
	}
}
