package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Result is the outcome of one settled dispatch.
type Result struct {
	ID  string
	Err error
}

// Settle runs fn concurrently for every item, waits for all of them and
// returns one Result per item sorted by id. A panic in fn becomes that
// item's error; no item's failure affects another.
func Settle[T any](ctx context.Context, items map[string]T, fn func(ctx context.Context, id string, item T) error) []Result {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make([]Result, 0, len(items))
	)
	for id, item := range items {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := settleOne(ctx, id, item, fn)
			mu.Lock()
			results = append(results, Result{ID: id, Err: err})
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

// Failures returns the results that carry an error.
func Failures(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

func settleOne[T any](ctx context.Context, id string, item T, fn func(context.Context, string, T) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, id, item)
}
