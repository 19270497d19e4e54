package cache

import (
	lru "github.com/hashicorp/golang-lru"
)

// Cached fronts a Store with an in-memory LRU. Writes go through to the
// backing store; reads that miss the LRU fill it.
type Cached struct {
	backing Store
	recent  *lru.Cache
}

// NewCached wraps backing with an LRU of size entries.
func NewCached(backing Store, size int) (*Cached, error) {
	recent, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cached{backing: backing, recent: recent}, nil
}

func (c *Cached) Get(key string) (*CompileRecord, error) {
	if v, ok := c.recent.Get(key); ok {
		r := v.(CompileRecord)
		return &r, nil
	}
	rec, err := c.backing.Get(key)
	if err != nil {
		return nil, err
	}
	c.recent.Add(key, *rec)
	return rec, nil
}

func (c *Cached) Put(rec *CompileRecord) error {
	if err := c.backing.Put(rec); err != nil {
		return err
	}
	c.recent.Add(rec.Key, *rec)
	return nil
}

func (c *Cached) Len() (int, error) { return c.backing.Len() }

// Resident returns how many records the LRU holds.
func (c *Cached) Resident() int { return c.recent.Len() }

func (c *Cached) Close() error {
	c.recent.Purge()
	return c.backing.Close()
}
