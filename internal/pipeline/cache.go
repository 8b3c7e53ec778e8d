package pipeline

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/tablechat/tablechat/internal/observability"
)

// Factory builds the pipeline bound to one credential and model.
type Factory func(credential, model string) (*Pipeline, error)

type cacheKey struct {
	credential string
	model      string
}

type cacheEntry struct {
	key      cacheKey
	pipeline *Pipeline
}

// Cache reuses pipelines per (credential, model). Credentials are kept only
// as SHA-256 fingerprints. When maxInstances is positive the least recently
// used pipeline is dropped once the cache is full.
type Cache struct {
	mu           sync.Mutex
	factory      Factory
	maxInstances int
	entries      map[cacheKey]*list.Element
	order        *list.List
}

func NewCache(factory Factory, maxInstances int) (*Cache, error) {
	if factory == nil {
		return nil, fmt.Errorf("pipeline factory is required")
	}
	return &Cache{
		factory:      factory,
		maxInstances: maxInstances,
		entries:      map[cacheKey]*list.Element{},
		order:        list.New(),
	}, nil
}

// Get returns the cached pipeline for the pair, building it on first use.
// Identical pairs always resolve to the same instance while it is cached.
func (c *Cache) Get(credential, model string) (*Pipeline, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, fmt.Errorf("credential is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	key := cacheKey{credential: fingerprint(credential), model: model}

	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.entries[key]; ok {
		c.order.MoveToFront(element)
		return element.Value.(*cacheEntry).pipeline, nil
	}

	pipeline, err := c.factory(credential, model)
	if err != nil {
		return nil, fmt.Errorf("build pipeline for model %q: %w", model, err)
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, pipeline: pipeline})
	for c.maxInstances > 0 && c.order.Len() > c.maxInstances {
		c.removeElement(c.order.Back())
	}
	observability.SetCachedPipelines(c.order.Len())
	return pipeline, nil
}

// Evict drops the pipeline for the pair and reports whether one was cached.
func (c *Cache) Evict(credential, model string) bool {
	key := cacheKey{credential: fingerprint(credential), model: model}

	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeElement(element)
	observability.SetCachedPipelines(c.order.Len())
	return true
}

// EvictCredential drops every pipeline bound to credential and returns how
// many were removed.
func (c *Cache) EvictCredential(credential string) int {
	target := fingerprint(credential)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, element := range c.entries {
		if key.credential == target {
			c.removeElement(element)
			removed++
		}
	}
	observability.SetCachedPipelines(c.order.Len())
	return removed
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) removeElement(element *list.Element) {
	entry := element.Value.(*cacheEntry)
	delete(c.entries, entry.key)
	c.order.Remove(element)
}

func fingerprint(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}
