// Package features turns raw adapter DataFrames into tick-indexed series for
// the load forecast.
package features

import (
	"fmt"
	"time"

	"github.com/HatiCode/gridservices/pkg/adapters"
	"github.com/HatiCode/gridservices/pkg/models"
)

// DefaultStepSeconds aligns samples to minute boundaries.
const DefaultStepSeconds = 60

// Builder converts DataFrames into models.Series aligned to a fixed step.
type Builder struct {
	stepSec int
}

// NewBuilder creates a builder aligning samples to stepSec seconds.
// A non-positive stepSec selects DefaultStepSeconds.
func NewBuilder(stepSec int) *Builder {
	if stepSec <= 0 {
		stepSec = DefaultStepSeconds
	}
	return &Builder{stepSec: stepSec}
}

// StepSeconds returns the alignment step.
func (b *Builder) StepSeconds() int { return b.stepSec }

// BuildSeries converts a DataFrame from an adapter into a Series keyed by
// aligned tick (Unix seconds).
//
// Each row needs a "value" and a "ts" field. Rows missing either, or with
// values that cannot be converted, are skipped. When several rows align to the
// same step the last one wins.
func (b *Builder) BuildSeries(df adapters.DataFrame) (models.Series, error) {
	if len(df.Rows) == 0 {
		return nil, fmt.Errorf("dataframe is empty")
	}

	series := make(models.Series, len(df.Rows))
	for _, row := range df.Rows {
		valueRaw, hasValue := row["value"]
		if !hasValue {
			continue
		}
		value, ok := toFloat64(valueRaw)
		if !ok {
			continue
		}

		tsRaw, hasTs := row["ts"]
		if !hasTs {
			continue
		}
		ts, err := parseTimestamp(tsRaw)
		if err != nil {
			continue
		}

		tick := adapters.AlignTimestamp(ts, b.stepSec).Unix()
		series[tick] = value
	}

	if len(series) == 0 {
		return nil, fmt.Errorf("no valid rows with 'value' and 'ts' fields")
	}
	return series, nil
}

// toFloat64 attempts to convert any numeric type to float64.
// Handles float64, float32, int, int64 and int32.
func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	default:
		return 0, false
	}
}

// parseTimestamp attempts to parse a timestamp from various formats.
// Supports:
//   - RFC3339 strings (e.g., "2023-01-01T12:00:00Z")
//   - Unix timestamps as float64, int, int64
//   - time.Time objects
func parseTimestamp(v any) (time.Time, error) {
	switch val := v.(type) {
	case string:
		t, err := time.Parse(time.RFC3339, val)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp string: %w", err)
		}
		return t, nil

	case float64:
		return time.Unix(int64(val), 0), nil

	case int:
		return time.Unix(int64(val), 0), nil

	case int64:
		return time.Unix(val, 0), nil

	case time.Time:
		return val, nil

	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type: %T", v)
	}
}

// FillGaps forward-fills s at every step in [from, to] after the first
// present sample. Steps before the first sample stay empty. s is not modified.
func FillGaps(s models.Series, from, to int64, stepSec int) models.Series {
	if stepSec <= 0 {
		stepSec = DefaultStepSeconds
	}
	out := make(models.Series, len(s))
	for k, v := range s {
		out[k] = v
	}

	var (
		last    float64
		hasLast bool
	)
	for tick := from; tick <= to; tick += int64(stepSec) {
		if v, ok := s[tick]; ok {
			last, hasLast = v, true
			continue
		}
		if hasLast {
			out[tick] = last
		}
	}
	return out
}
