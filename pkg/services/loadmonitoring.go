package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/HatiCode/gridservices/pkg/models"
)

// LoadMonitoringSettings configure a load monitoring service.
type LoadMonitoringSettings struct {
	// WindowMinutes is the tumbling forecast window.
	WindowMinutes int `json:"windowMinutes"`

	// PowerLosses is a constant loss rate in energy units per hour.
	PowerLosses float64 `json:"powerLosses,omitempty"`

	Signals []SignalSettings `json:"signals"`
}

// SignalSettings name one weighted signal query.
type SignalSettings struct {
	Name  string `json:"name"`
	Query string `json:"query"`

	// Multiplier defaults to 1 when omitted.
	Multiplier *float64 `json:"multiplier,omitempty"`
}

func (s SignalSettings) multiplier() float64 {
	if s.Multiplier == nil {
		return 1
	}
	return *s.Multiplier
}

// DecodeLoadMonitoring decodes and checks the settings of a load monitoring
// document. Unknown fields are rejected.
func DecodeLoadMonitoring(raw json.RawMessage) (*LoadMonitoringSettings, error) {
	if len(raw) == 0 {
		return nil, errors.New("settings are required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var s LoadMonitoringSettings
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if s.WindowMinutes <= 0 {
		return nil, fmt.Errorf("windowMinutes must be positive, got %d", s.WindowMinutes)
	}
	if len(s.Signals) == 0 {
		return nil, errors.New("at least one signal is required")
	}
	for i, sig := range s.Signals {
		if sig.Query == "" {
			return nil, fmt.Errorf("signal %d: query is required", i)
		}
	}
	return &s, nil
}

var loadMonitoringHandlers = Handlers{
	Validate: func(doc Document) error {
		_, err := DecodeLoadMonitoring(doc.Settings)
		return err
	},
	Init: func(_ context.Context, _ Env, _ int64, doc Document) (State, error) {
		s, err := DecodeLoadMonitoring(doc.Settings)
		if err != nil {
			return State{}, err
		}
		return State{Load: s}, nil
	},
	Refresh:        refreshLoadMonitoring,
	SetStorageData: setLoadMonitoringData,
}

func setLoadMonitoringData(_ context.Context, env Env, doc Document, st State) (State, error) {
	s, err := DecodeLoadMonitoring(doc.Settings)
	if err != nil {
		return st, err
	}
	st.Load = s
	env.Logger.Debug("load monitoring settings updated",
		"service", env.ID,
		"window_minutes", s.WindowMinutes,
		"signals", len(s.Signals),
	)
	return st, nil
}

// refreshLoadMonitoring pulls every signal for the current window, runs the
// forecast and persists it. A window without two complete minutes yet is
// skipped without error.
func refreshLoadMonitoring(ctx context.Context, env Env, tick int64, st State) (State, error) {
	if st.Load == nil {
		return st, errors.New("load monitoring settings missing")
	}
	if env.Signals == nil {
		return st, errors.New("no signal source configured")
	}
	if env.Outputs == nil {
		return st, errNoOutputStore
	}

	cfg := st.Load
	windowStart, _ := models.Window(tick, cfg.WindowMinutes)
	from, to := time.Unix(windowStart, 0), time.Unix(tick, 0)

	signals := make([]models.Signal, 0, len(cfg.Signals))
	for _, sig := range cfg.Signals {
		series, err := env.Signals.Series(ctx, sig.Query, from, to)
		if err != nil {
			return st, fmt.Errorf("signal %q: %w", sig.Name, err)
		}
		signals = append(signals, models.Signal{
			Name:       sig.Name,
			Series:     series,
			Multiplier: sig.multiplier(),
		})
	}

	forecast, err := models.ForecastLoad(models.LoadInput{
		Tick:          tick,
		WindowMinutes: cfg.WindowMinutes,
		Signals:       signals,
		PowerLosses:   cfg.PowerLosses,
	})
	if errors.Is(err, models.ErrInsufficientHistory) {
		env.Logger.Debug("forecast skipped", "service", env.ID, "tick", tick, "reason", err)
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("forecast: %w", err)
	}

	if err := env.Outputs.Set(ctx, env.ID, Output{Tick: tick, Kind: KindLoadMonitoring, Forecast: &forecast}); err != nil {
		return st, err
	}

	env.Logger.Debug("forecast stored",
		"service", env.ID,
		"tick", tick,
		"historical_points", len(forecast.Historical),
		"predicted_energy", forecast.PredictedEnergy,
		"predicted_power", forecast.PredictedPower,
	)
	st.LastForecast = &forecast
	return st, nil
}
