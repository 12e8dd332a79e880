package websearch

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

const cacheTTL = 24 * time.Hour

// contentCache is an in-process cache of scraped page text keyed by URL, so
// repeated search cycles and overlapping tasks do not re-download pages.
type contentCache struct {
	c *ristretto.Cache[string, string]
}

// newContentCache creates a cache bounded to maxCostBytes of stored text.
func newContentCache(maxCostBytes int64) (*contentCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: maxCostBytes / 100 * 10, // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &contentCache{c: c}, nil
}

func (c *contentCache) get(url string) (string, bool) {
	return c.c.Get(url)
}

func (c *contentCache) set(url, content string) {
	c.c.SetWithTTL(url, content, int64(len(content)), cacheTTL)
}

func (c *contentCache) close() {
	c.c.Close()
}
