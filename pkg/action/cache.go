// SPDX-License-Identifier: Apache-2.0
package action

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache stores successful observations keyed by action name and canonical
// argument. A size of 0 keeps every entry; a ttl of 0 disables expiry.
type Cache struct {
	lru *expirable.LRU[string, Observation]
}

// NewCache creates a result cache.
func NewCache(size int, ttl time.Duration) *Cache {
	if size < 0 {
		size = 0
	}
	return &Cache{lru: expirable.NewLRU[string, Observation](size, nil, ttl)}
}

func cacheKey(name string, arg Argument) string {
	return name + "\x00" + arg.Key()
}

// Get returns a cached observation.
func (c *Cache) Get(name string, arg Argument) (Observation, bool) {
	if c == nil {
		return Observation{}, false
	}
	return c.lru.Get(cacheKey(name, arg))
}

// Put stores an observation. Error observations are ignored.
func (c *Cache) Put(name string, arg Argument, obs Observation) {
	if c == nil || obs.IsError {
		return
	}
	obs.Cached = false
	c.lru.Add(cacheKey(name, arg), obs)
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

// Purge removes every entry.
func (c *Cache) Purge() {
	if c != nil {
		c.lru.Purge()
	}
}
