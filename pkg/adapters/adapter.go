package adapters

import (
	"context"
	"time"
)

// Row represents a single time-series observation.
// Example: {"ts": "2025-10-25T17:00:00Z", "value": 312.4}
type Row map[string]any

// DataFrame is a lightweight structure for tabular data returned by adapters.
type DataFrame struct {
	Rows []Row
}

// Adapter fetches raw signal samples from an external system and shapes them
// into a DataFrame.
//
// Collect is synchronous and should respect context cancellation and deadlines.
type Adapter interface {
	// Collect evaluates query over [start, end] and returns the samples.
	Collect(ctx context.Context, query string, start, end time.Time) (*DataFrame, error)

	// Name returns a short, unique identifier for the adapter.
	Name() string
}

// AlignTimestamp truncates ts to a multiple of stepSec seconds.
func AlignTimestamp(ts time.Time, stepSec int) time.Time {
	return ts.Truncate(time.Duration(stepSec) * time.Second)
}
