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

package dataflow

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"
)

// NumWorkers returns the size of the worker pool of the state's configuration
func (s *AnalyzerState) NumWorkers() int {
	if s.Config.Workers > 0 {
		return s.Config.Workers
	}
	return runtime.NumCPU()
}

// ForEach runs task on every item on the state's worker pool, and waits for all tasks to finish. A task that panics
// is stopped and its panic is added to the state's errors under key(item); the other tasks are not affected. The
// items whose task panicked are returned. The context is checked before each task starts, and its error is returned
// if it is cancelled.
func ForEach[T any](ctx context.Context, s *AnalyzerState, items []T, key func(T) string,
	task func(context.Context, T)) ([]T, error) {
	var (
		mu     sync.Mutex
		failed []T
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.NumWorkers())
	for _, item := range items {
		item := item
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			defer func() {
				if r := recover(); r != nil {
					s.Logger.Errorf("panic while analyzing %s: %v\n%s", key(item), r, debug.Stack())
					s.AddError(key(item), fmt.Errorf("panic: %v", r))
					mu.Lock()
					failed = append(failed, item)
					mu.Unlock()
				}
			}()
			task(gctx, item)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return failed, err
	}
	return failed, ctx.Err()
}
