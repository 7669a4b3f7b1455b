package features

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HatiCode/gridservices/pkg/adapters"
	"github.com/HatiCode/gridservices/pkg/models"
)

// Source pulls samples through an adapter and returns them as aligned series.
type Source struct {
	adapter adapters.Adapter
	builder *Builder
	fill    bool
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithGapFill forward-fills missing steps inside the requested range.
func WithGapFill() SourceOption {
	return func(s *Source) { s.fill = true }
}

// NewSource creates a Source over adapter. A nil builder aligns to minutes.
func NewSource(adapter adapters.Adapter, builder *Builder, opts ...SourceOption) *Source {
	if builder == nil {
		builder = NewBuilder(DefaultStepSeconds)
	}
	s := &Source{adapter: adapter, builder: builder}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Series evaluates query over [start, end]. An empty result is an empty
// series, not an error.
func (s *Source) Series(ctx context.Context, query string, start, end time.Time) (models.Series, error) {
	if s.adapter == nil {
		return nil, errors.New("no signal adapter configured")
	}

	df, err := s.adapter.Collect(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("collect %s: %w", s.adapter.Name(), err)
	}
	if df == nil || len(df.Rows) == 0 {
		return models.Series{}, nil
	}

	series, err := s.builder.BuildSeries(*df)
	if err != nil {
		return nil, fmt.Errorf("build series: %w", err)
	}
	if s.fill {
		step := s.builder.StepSeconds()
		from := adapters.AlignTimestamp(start, step).Unix()
		series = FillGaps(series, from, end.Unix(), step)
	}
	return series, nil
}
