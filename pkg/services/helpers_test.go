package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/HatiCode/gridservices/pkg/models"
	"github.com/HatiCode/gridservices/pkg/sampler"
	"github.com/HatiCode/gridservices/pkg/storage"
)

// logBuffer is a goroutine-safe log sink.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *logBuffer) Reset() {
	b.mu.Lock()
	b.buf.Reset()
	b.mu.Unlock()
}

func (b *logBuffer) errorLines() []string {
	var out []string
	for _, line := range strings.Split(b.String(), "\n") {
		if strings.Contains(line, "level=ERROR") {
			out = append(out, line)
		}
	}
	return out
}

func newTestLogger() (*slog.Logger, *logBuffer) {
	buf := &logBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// startTick is the tick of the fake clock used by test samplers.
const startTick = 1000

func newTestSampler() *sampler.Sampler {
	return sampler.New(
		sampler.WithClock(clockwork.NewFakeClockAt(time.Unix(startTick, 0))),
		sampler.WithInterval(time.Hour),
	)
}

// sequentialIDs returns an id generator yielding svc-1, svc-2, ...
func sequentialIDs() func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("svc-%d", n)
	}
}

// stopSampler waits for the tick fired on Init so tests can drive ticks by hand.
func stopSampler(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func seedDoc(t *testing.T, b storage.Backend, id, body string) {
	t.Helper()
	if err := b.Put(context.Background(), ConfigNamespace.Key(id), []byte(body)); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

// constantSource returns the same value at every minute boundary of the
// requested range.
type constantSource struct {
	value float64
	fail  map[string]error

	mu      sync.Mutex
	queries []string
}

func (s *constantSource) Series(_ context.Context, query string, start, end time.Time) (models.Series, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	if err := s.fail[query]; err != nil {
		return nil, err
	}
	series := models.Series{}
	for m := start.Unix(); m <= end.Unix(); m += 60 {
		series[m] = s.value
	}
	return series, nil
}

var errHook = errors.New("hook failed")

// countingHandlers count hook invocations and can be told to fail.
type countingHandlers struct {
	mu                        sync.Mutex
	inits, refreshes, setData int
	failInit, failRefresh     bool
	onSetData                 func()
}

func (c *countingHandlers) handlers() Handlers {
	return Handlers{
		Init: func(_ context.Context, _ Env, _ int64, _ Document) (State, error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.inits++
			if c.failInit {
				return State{}, errHook
			}
			return State{}, nil
		},
		Refresh: func(_ context.Context, _ Env, _ int64, st State) (State, error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.refreshes++
			if c.failRefresh {
				return st, errHook
			}
			st.Beats++
			return st, nil
		},
		SetStorageData: func(_ context.Context, _ Env, _ Document, st State) (State, error) {
			c.mu.Lock()
			c.setData++
			hook := c.onSetData
			c.mu.Unlock()
			if hook != nil {
				hook()
			}
			return st, nil
		},
	}
}

func (c *countingHandlers) counts() (inits, refreshes, setData int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inits, c.refreshes, c.setData
}
