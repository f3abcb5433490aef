// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package facts

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/golang/groupcache/lru"
	"golang.org/x/sync/singleflight"
)

// Cache is a Store that keeps the facts of a bounded number of files in memory. Concurrent misses on the same file
// are deduplicated, so each file is loaded at most once at a time. The global facts (endpoints, safe sinks,
// validators and aliases) are loaded once and kept.
//
// Cache is safe for concurrent use.
type Cache struct {
	store Store

	mu  sync.Mutex
	lru *lru.Cache

	group singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64

	globalOnce sync.Once
	globalErr  error
	endpoints  []Endpoint
	safeSinks  []SafeSink
	validators []ValidatorUsage
	aliases    map[string]string
}

// NewCache returns a cache over the store, holding the facts of at most size files
func NewCache(store Store, size int) *Cache {
	if size <= 0 {
		size = 1
	}
	return &Cache{store: store, lru: lru.New(size)}
}

// Files implements Store
func (c *Cache) Files(ctx context.Context) ([]string, error) {
	return c.store.Files(ctx)
}

// FileFacts implements Store
func (c *Cache) FileFacts(ctx context.Context, file string) (*FileFacts, error) {
	c.mu.Lock()
	if v, ok := c.lru.Get(file); ok {
		c.mu.Unlock()
		c.hits.Add(1)
		return v.(*FileFacts), nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(file, func() (any, error) {
		c.mu.Lock()
		if v, ok := c.lru.Get(file); ok {
			c.mu.Unlock()
			return v, nil
		}
		c.mu.Unlock()
		c.misses.Add(1)
		ff, err := c.store.FileFacts(ctx, file)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.lru.Add(file, ff)
		c.mu.Unlock()
		return ff, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*FileFacts), nil
}

func (c *Cache) loadGlobal(ctx context.Context) error {
	c.globalOnce.Do(func() {
		var err error
		if c.endpoints, err = c.store.Endpoints(ctx); err != nil {
			c.globalErr = err
			return
		}
		if c.safeSinks, err = c.store.SafeSinks(ctx); err != nil {
			c.globalErr = err
			return
		}
		if c.validators, err = c.store.ValidatorUsages(ctx); err != nil {
			c.globalErr = err
			return
		}
		c.aliases, c.globalErr = c.store.FileAliases(ctx)
	})
	return c.globalErr
}

// Endpoints implements Store
func (c *Cache) Endpoints(ctx context.Context) ([]Endpoint, error) {
	if err := c.loadGlobal(ctx); err != nil {
		return nil, err
	}
	return c.endpoints, nil
}

// SafeSinks implements Store
func (c *Cache) SafeSinks(ctx context.Context) ([]SafeSink, error) {
	if err := c.loadGlobal(ctx); err != nil {
		return nil, err
	}
	return c.safeSinks, nil
}

// ValidatorUsages implements Store
func (c *Cache) ValidatorUsages(ctx context.Context) ([]ValidatorUsage, error) {
	if err := c.loadGlobal(ctx); err != nil {
		return nil, err
	}
	return c.validators, nil
}

// FileAliases implements Store
func (c *Cache) FileAliases(ctx context.Context) (map[string]string, error) {
	if err := c.loadGlobal(ctx); err != nil {
		return nil, err
	}
	return c.aliases, nil
}

// Stats returns the number of hits and misses of the file cache
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of files currently cached
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
