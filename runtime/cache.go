package runtime

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// templateCache is the bounded compiled-template cache. Entries are
// validated against the loader's uptodate probe on every hit, and
// concurrent misses for the same name compile exactly once.
type templateCache struct {
	entries *lru.Cache[string, *Template]
	group   singleflight.Group
}

// newTemplateCache builds a cache with the given capacity. Zero disables
// caching (returns nil); negative means the default capacity.
func newTemplateCache(size int) *templateCache {
	if size == 0 {
		return nil
	}
	if size < 0 {
		size = 400
	}
	entries, err := lru.New[string, *Template](size)
	if err != nil {
		return nil
	}
	return &templateCache{entries: entries}
}

// getOrCompile returns the cached template or compiles it via load. The
// singleflight group makes the miss path an atomic setdefault: two renders
// asking for the same missing key share one compile and neither deadlocks.
func (c *templateCache) getOrCompile(name string, load func(string) (*Template, error)) (*Template, error) {
	if tpl, ok := c.entries.Get(name); ok {
		if tpl.uptodate == nil || tpl.uptodate() {
			return tpl, nil
		}
		c.entries.Remove(name)
	}

	v, err, _ := c.group.Do(name, func() (any, error) {
		if tpl, ok := c.entries.Get(name); ok {
			if tpl.uptodate == nil || tpl.uptodate() {
				return tpl, nil
			}
			c.entries.Remove(name)
		}
		tpl, err := load(name)
		if err != nil {
			return nil, err
		}
		c.entries.Add(name, tpl)
		return tpl, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Template), nil
}

func (c *templateCache) purge() {
	if c != nil {
		c.entries.Purge()
	}
}

// len reports the number of cached templates.
func (c *templateCache) len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}
