package vm

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/chazu/cldc/pkg/classfile"
)

// ---------------------------------------------------------------------------
// Class sources
// ---------------------------------------------------------------------------

// classSource is one classpath entry.
type classSource interface {
	// Find returns the class file for name or an error wrapping
	// fs.ErrNotExist.
	Find(name string) (*classfile.ClassFile, error)
	// Names lists every class the entry defines.
	Names() ([]string, error)
	Close() error
	String() string
}

type dirSource struct{ root string }

func (d dirSource) Find(name string) (*classfile.ClassFile, error) {
	return classfile.ParseFile(filepath.Join(d.root, filepath.FromSlash(name)+".class"))
}

func (d dirSource) Names() ([]string, error) {
	var names []string
	err := filepath.WalkDir(d.root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() || !strings.HasSuffix(path, ".class") {
			return nil
		}
		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			return err
		}
		names = append(names, strings.TrimSuffix(filepath.ToSlash(rel), ".class"))
		return nil
	})
	return names, err
}

func (d dirSource) Close() error   { return nil }
func (d dirSource) String() string { return d.root }

type jarSource struct {
	path  string
	r     *zip.ReadCloser
	files map[string]*zip.File
}

func openJar(path string) (*jarSource, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	j := &jarSource{path: path, r: r, files: make(map[string]*zip.File)}
	for _, f := range r.File {
		if strings.HasSuffix(f.Name, ".class") {
			j.files[strings.TrimSuffix(f.Name, ".class")] = f
		}
	}
	return j, nil
}

func (j *jarSource) Find(name string) (*classfile.ClassFile, error) {
	f, ok := j.files[name]
	if !ok {
		return nil, fmt.Errorf("%s in %s: %w", name, j.path, fs.ErrNotExist)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%s in %s: %w", name, j.path, err)
	}
	defer rc.Close()
	cf, err := classfile.Parse(rc)
	if err != nil {
		return nil, fmt.Errorf("%s in %s: %w", name, j.path, err)
	}
	return cf, nil
}

func (j *jarSource) Names() ([]string, error) {
	names := make([]string, 0, len(j.files))
	for n := range j.files {
		names = append(names, n)
	}
	return names, nil
}

func (j *jarSource) Close() error   { return j.r.Close() }
func (j *jarSource) String() string { return j.path }

func openClassPath(entries []string) ([]classSource, error) {
	var sources []classSource
	for _, e := range entries {
		st, err := os.Stat(e)
		if err != nil {
			closeSources(sources)
			return nil, fmt.Errorf("classpath entry %s: %w", e, err)
		}
		if st.IsDir() {
			sources = append(sources, dirSource{root: e})
			continue
		}
		j, err := openJar(e)
		if err != nil {
			closeSources(sources)
			return nil, err
		}
		sources = append(sources, j)
	}
	return sources, nil
}

func closeSources(sources []classSource) {
	for _, s := range sources {
		if err := s.Close(); err != nil {
			log.Warningf("closing %s: %s", s, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// LoadClass returns the linked class called name, loading it and its
// supertypes on first use. Array classes are named by descriptor.
func (vm *VM) LoadClass(name string) (*Class, error) {
	if c, ok := vm.classes[name]; ok {
		return c, nil
	}
	if strings.HasPrefix(name, "[") {
		return vm.arrayClass(name)
	}
	if vm.loading[name] {
		return nil, fmt.Errorf("class %s: circular superclass chain", name)
	}
	cf, err := vm.findClassFile(name)
	if err != nil {
		return nil, err
	}
	vm.loading[name] = true
	defer delete(vm.loading, name)
	return vm.define(cf)
}

func (vm *VM) findClassFile(name string) (*classfile.ClassFile, error) {
	vm.parsedMu.Lock()
	cf, ok := vm.parsed[name]
	if ok {
		delete(vm.parsed, name)
	}
	vm.parsedMu.Unlock()
	if ok {
		return cf, nil
	}
	for _, s := range vm.sources {
		cf, err := s.Find(name)
		if err == nil {
			return cf, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s from %s: %w", name, s, err)
		}
	}
	return nil, fmt.Errorf("%s: %w", name, ErrClassNotFound)
}

// Define links a class file supplied by the embedder.
func (vm *VM) Define(cf *classfile.ClassFile) (*Class, error) {
	name := cf.Name()
	if name == "" {
		return nil, errors.New("class file has no name")
	}
	if _, ok := vm.classes[name]; ok {
		return nil, fmt.Errorf("class %s already defined", name)
	}
	return vm.define(cf)
}

func (vm *VM) define(cf *classfile.ClassFile) (*Class, error) {
	c, err := vm.link(cf)
	if err != nil {
		return nil, err
	}
	vm.classes[c.Name] = c
	log.Debugf("loaded %s", c.Name)
	return c, nil
}

// mustClass returns a class the VM cannot run without.
func (vm *VM) mustClass(name string) *Class {
	c, err := vm.LoadClass(name)
	if err != nil {
		panic(&FatalError{Reason: "missing core class " + name, Err: err, PC: -1})
	}
	return c
}

// Classes returns the names of every loaded class.
func (vm *VM) Classes() []string {
	names := make([]string, 0, len(vm.classes))
	for n := range vm.classes {
		names = append(names, n)
	}
	return names
}

// Preload parses every class on the classpath in parallel. Linking still
// happens lazily on first use.
func (vm *VM) Preload(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	var mu sync.Mutex
	seen := make(map[string]bool)
	for _, s := range vm.sources {
		names, err := s.Names()
		if err != nil {
			return fmt.Errorf("listing %s: %w", s, err)
		}
		for _, name := range names {
			mu.Lock()
			dup := seen[name]
			seen[name] = true
			mu.Unlock()
			if dup {
				continue
			}
			s, name := s, name
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				cf, err := s.Find(name)
				if err != nil {
					return err
				}
				vm.parsedMu.Lock()
				vm.parsed[name] = cf
				vm.parsedMu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Infof("preloaded %d classes", len(seen))
	return nil
}
