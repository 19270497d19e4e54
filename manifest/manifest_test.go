package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[project]
name = "midlet"
version = "0.1.0"

[classpath]
dirs = ["out", "extra"]
jars = ["lib/*.jar"]
main = "com/example/Main"

[scheduler]
window_ms = 16
min_slice_us = 500
strict = true

[jit]
enabled = false
method_threshold = 10
backedge_threshold = 50

[yield]
roots = ["com/example/Net.read.()I"]
non_suspending = ["com/example/Util.id.(I)I"]

[cache]
path = "build/cache.db"
memory_entries = 64

[log]
verbosity = 3
file = "cldc.log"

[diagnostics]
dump_dir = "dumps"
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if c.Project.Name != "midlet" {
		t.Errorf("project name = %q, want midlet", c.Project.Name)
	}
	if len(c.ClassPath.Dirs) != 2 {
		t.Errorf("classpath dirs count = %d, want 2", len(c.ClassPath.Dirs))
	}
	if c.ClassPath.Main != "com/example/Main" {
		t.Errorf("main = %q, want com/example/Main", c.ClassPath.Main)
	}
	if c.Scheduler.WindowMS != 16 || !c.Scheduler.Strict {
		t.Errorf("scheduler = %+v", c.Scheduler)
	}
	if *c.JIT.Enabled {
		t.Error("jit enabled = true, want false")
	}
	if c.Cache.MemoryEntries != 64 {
		t.Errorf("memory_entries = %d, want 64", c.Cache.MemoryEntries)
	}
	if got, want := c.CachePath(), filepath.Join(c.Dir, "build", "cache.db"); got != want {
		t.Errorf("CachePath() = %q, want %q", got, want)
	}
	if got, want := c.LogFile(), filepath.Join(c.Dir, "cldc.log"); got != want {
		t.Errorf("LogFile() = %q, want %q", got, want)
	}

	opts := c.VMOptions([]string{"/x"})
	if opts.Window != 16*time.Millisecond {
		t.Errorf("Window = %v, want 16ms", opts.Window)
	}
	if opts.MinSlice != 500*time.Microsecond {
		t.Errorf("MinSlice = %v, want 500us", opts.MinSlice)
	}
	if opts.JIT {
		t.Error("opts.JIT = true, want false")
	}
	if opts.MethodThreshold != 10 || opts.BackedgeThreshold != 50 {
		t.Errorf("thresholds = %d/%d, want 10/50", opts.MethodThreshold, opts.BackedgeThreshold)
	}
	if !contains(opts.YieldRoots, "com/example/Net.read.()I") {
		t.Errorf("YieldRoots = %v, missing configured root", opts.YieldRoots)
	}
	if !contains(opts.NonSuspending, "com/example/Util.id.(I)I") {
		t.Errorf("NonSuspending = %v, missing configured override", opts.NonSuspending)
	}
	if opts.DumpDir != filepath.Join(c.Dir, "dumps") {
		t.Errorf("DumpDir = %q", opts.DumpDir)
	}
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[project]
name = "minimal"
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(c.ClassPath.Dirs) != 1 || c.ClassPath.Dirs[0] != "classes" {
		t.Errorf("classpath dirs = %v, want [classes]", c.ClassPath.Dirs)
	}
	if c.Scheduler.WindowMS != 20 {
		t.Errorf("window_ms = %d, want 20", c.Scheduler.WindowMS)
	}
	if c.Scheduler.MinSliceUS != 1000 {
		t.Errorf("min_slice_us = %d, want 1000", c.Scheduler.MinSliceUS)
	}
	if !*c.JIT.Enabled {
		t.Error("jit enabled = false, want true")
	}
	if c.JIT.MethodThreshold != 100 || c.JIT.BackedgeThreshold != 1000 {
		t.Errorf("jit thresholds = %d/%d, want 100/1000", c.JIT.MethodThreshold, c.JIT.BackedgeThreshold)
	}
	if c.Cache.MemoryEntries != 512 {
		t.Errorf("memory_entries = %d, want 512", c.Cache.MemoryEntries)
	}
	if c.Log.Verbosity != 1 {
		t.Errorf("verbosity = %d, want 1", c.Log.Verbosity)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load of missing file succeeded")
	}

	dir := t.TempDir()
	writeConfig(t, dir, "[scheduler\nwindow_ms = 1")
	if _, err := Load(dir); err == nil {
		t.Error("Load of malformed TOML succeeded")
	}

	dir = t.TempDir()
	writeConfig(t, dir, "[scheduler]\nwindow_ms = -5\n")
	if _, err := Load(dir); err == nil {
		t.Error("Load accepted a negative window")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[project]\nname = \"found\"\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if c == nil || c.Project.Name != "found" {
		t.Fatalf("FindAndLoad = %+v, want project found", c)
	}
}

func TestResolveClassPath(t *testing.T) {
	dir := t.TempDir()
	for _, d := range []string{"classes", "more", "lib"} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0755); err != nil {
			t.Fatal(err)
		}
	}
	for _, j := range []string{"lib/b.jar", "lib/a.jar"} {
		if err := os.WriteFile(filepath.Join(dir, j), []byte("PK"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	writeConfig(t, dir, `
[classpath]
dirs = ["classes", "classes"]
jars = ["lib/*.jar"]
`)
	c, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	entries, err := c.ResolveClassPath(filepath.Join(dir, "more"))
	if err != nil {
		t.Fatalf("ResolveClassPath: %v", err)
	}
	want := []ClassPathEntry{
		{Path: filepath.Join(dir, "more")},
		{Path: filepath.Join(dir, "classes")},
		{Path: filepath.Join(dir, "lib", "a.jar"), IsJar: true},
		{Path: filepath.Join(dir, "lib", "b.jar"), IsJar: true},
	}
	if len(entries) != len(want) {
		t.Fatalf("entries = %v, want %v", entries, want)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entries[%d] = %+v, want %+v", i, entries[i], want[i])
		}
	}

	c.ClassPath.Jars = []string{"nothing/*.jar"}
	if _, err := c.ResolveClassPath(); err == nil {
		t.Error("ResolveClassPath accepted a pattern with no matches")
	}
}
