package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/HatiCode/gridservices/pkg/models"
	"github.com/HatiCode/gridservices/pkg/storage"
)

// SignalSource returns the samples of one signal query over a time range.
type SignalSource interface {
	Series(ctx context.Context, query string, start, end time.Time) (models.Series, error)
}

// Env carries the collaborators a variant's handlers may use.
type Env struct {
	ID      string
	Signals SignalSource
	Outputs *storage.Cached[Output]
	Logger  *slog.Logger
}

// State is the variant-specific state threaded through handlers.
// Handlers receive a copy and return the next state.
type State struct {
	// Load is the decoded settings of a load monitoring service.
	Load *LoadMonitoringSettings

	// LastForecast is the most recent forecast produced by a refresh.
	LastForecast *models.LoadForecast

	// Beats counts successful heartbeat refreshes.
	Beats int64
}

// Handlers is the behaviour of one service variant. Every function is
// optional; a nil handler is a no-op returning the state unchanged.
type Handlers struct {
	// Validate checks type-specific settings before anything is persisted.
	Validate func(doc Document) error

	// Init runs once when the service is initialized.
	Init func(ctx context.Context, env Env, tick int64, doc Document) (State, error)

	// Refresh runs on every tick matching the service's sample time.
	Refresh func(ctx context.Context, env Env, tick int64, st State) (State, error)

	// SetStorageData runs after a configuration update has been persisted.
	SetStorageData func(ctx context.Context, env Env, doc Document, st State) (State, error)
}

var defaultVariants = map[Kind]Handlers{
	KindLoadMonitoring: loadMonitoringHandlers,
	KindHeartbeat:      heartbeatHandlers,
}

// Kinds returns the built-in service types.
func Kinds() []Kind {
	return []Kind{KindHeartbeat, KindLoadMonitoring}
}
