// Package cache persists what the JIT learns about methods between runs.
//
// A CompileRecord is written for every method the JIT attempts. Later runs
// use it to skip methods known to bail out and to seed yield
// classifications. Records are keyed by method key and carry the content
// hash of the body they describe; a record whose hash no longer matches
// the loaded class is stale and ignored.
package cache

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("cldc.cache")

// ErrNotFound is returned by Get when no record exists for a key.
var ErrNotFound = errors.New("cache: record not found")

// CompileRecord is the outcome of one compilation attempt.
type CompileRecord struct {
	Key        string `cbor:"1,keyasint"`
	CodeHash   string `cbor:"2,keyasint"`
	Yield      string `cbor:"3,keyasint"`
	Blocks     int    `cbor:"4,keyasint"`
	Loops      int    `cbor:"5,keyasint"`
	Bailout    string `cbor:"6,keyasint,omitempty"`
	CompiledAt int64  `cbor:"7,keyasint"` // unix milliseconds
	Instance   string `cbor:"8,keyasint,omitempty"`
}

// BailedOut reports whether the attempt ended in a compilation bailout.
func (r *CompileRecord) BailedOut() bool { return r.Bailout != "" }

// Store is a key to CompileRecord store.
type Store interface {
	Get(key string) (*CompileRecord, error)
	Put(rec *CompileRecord) error
	Len() (int, error)
	Close() error
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cache: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Marshal encodes r in canonical CBOR.
func Marshal(r *CompileRecord) ([]byte, error) {
	return encMode.Marshal(r)
}

// Unmarshal decodes a record written by Marshal.
func Unmarshal(data []byte) (*CompileRecord, error) {
	var r CompileRecord
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("cache: unmarshal record: %w", err)
	}
	return &r, nil
}

// Lookup returns the record for key if it describes the body with hash
// codeHash. A stale record is reported as ErrNotFound.
func Lookup(s Store, key, codeHash string) (*CompileRecord, error) {
	rec, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	if rec.CodeHash != codeHash {
		log.Debugf("stale record for %s", key)
		return nil, ErrNotFound
	}
	return rec, nil
}

// Open returns the store a VM should use: SQLite at path fronted by an LRU
// of entries records, or a MemoryStore when path is empty.
func Open(path string, entries int) (Store, error) {
	if path == "" {
		return NewMemoryStore(), nil
	}
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if entries <= 0 {
		return db, nil
	}
	c, err := NewCached(db, entries)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Infof("compile cache at %s", path)
	return c, nil
}
