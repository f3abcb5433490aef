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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore counts the file loads of the underlying store, and slows them down to make concurrent misses
// overlap.
type countingStore struct {
	Store
	loads atomic.Int64
	delay time.Duration
}

func (c *countingStore) FileFacts(ctx context.Context, file string) (*FileFacts, error) {
	c.loads.Add(1)
	time.Sleep(c.delay)
	return c.Store.FileFacts(ctx, file)
}

func TestCacheHitsAndEviction(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: loadTestSnapshot(t)}
	c := NewCache(store, 1)

	_, err := c.FileFacts(ctx, "src/app.js")
	require.NoError(t, err)
	_, err = c.FileFacts(ctx, "src/app.js")
	require.NoError(t, err)
	assert.Equal(t, int64(1), store.loads.Load())

	// a second file evicts the first one
	_, err = c.FileFacts(ctx, "build/app.compiled.js")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
	_, err = c.FileFacts(ctx, "src/app.js")
	require.NoError(t, err)
	assert.Equal(t, int64(3), store.loads.Load())

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(3), misses)
}

func TestCacheDeduplicatesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: loadTestSnapshot(t), delay: 50 * time.Millisecond}
	c := NewCache(store, 4)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ff, err := c.FileFacts(ctx, "src/app.js")
			assert.NoError(t, err)
			assert.Equal(t, "src/app.js", ff.File)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), store.loads.Load())
}

func TestCacheErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: loadTestSnapshot(t)}
	c := NewCache(store, 4)
	_, err := c.FileFacts(ctx, "missing.js")
	assert.ErrorIs(t, err, ErrUnknownFile)
	_, err = c.FileFacts(ctx, "missing.js")
	assert.ErrorIs(t, err, ErrUnknownFile)
	assert.Equal(t, int64(2), store.loads.Load())
	assert.Equal(t, 0, c.Len())

	aliases, err := c.FileAliases(ctx)
	require.NoError(t, err)
	assert.Equal(t, "src/app.js", aliases["build/app.compiled.js"])
}
