package models

import (
	"errors"
	"fmt"
)

// secondsPerMinute is the tick distance between two minute boundaries.
const secondsPerMinute = 60

var (
	// ErrInvalidWindow is returned when the window length is not positive.
	ErrInvalidWindow = errors.New("window length must be positive")

	// ErrNoSignals is returned when no signal series are supplied.
	ErrNoSignals = errors.New("at least one signal is required")

	// ErrInsufficientHistory is returned when fewer than two historical points
	// are available in the current window, leaving the slope undefined.
	ErrInsufficientHistory = errors.New("at least two historical points are required")
)

// Series maps a tick (seconds) to an instantaneous sample value.
type Series map[int64]float64

// Signal is one weighted input to the load forecast.
type Signal struct {
	Name       string
	Series     Series
	Multiplier float64
}

// EnergyPoint is one point of an energy curve.
type EnergyPoint struct {
	TickID int64   `json:"tickId"`
	Value  float64 `json:"value"`
}

// LoadInput describes one forecast computation.
type LoadInput struct {
	// Tick is the current tick in seconds.
	Tick int64

	// WindowMinutes is the tumbling window length.
	WindowMinutes int

	Signals []Signal

	// PowerLosses is a constant loss rate in energy units per hour,
	// accrued per elapsed minute.
	PowerLosses float64
}

// LoadForecast is the result of ForecastLoad.
type LoadForecast struct {
	Tick            int64         `json:"tick"`
	WindowStart     int64         `json:"windowStart"`
	WindowEnd       int64         `json:"windowEnd"`
	WindowMinutes   int           `json:"windowMinutes"`
	Historical      []EnergyPoint `json:"historical"`
	Predicted       []EnergyPoint `json:"predicted"`
	Slope           float64       `json:"slope"`
	PredictedEnergy float64       `json:"predictedEnergy"`
	PredictedPower  float64       `json:"predictedPower"`
}

// ForecastLoad forecasts cumulative energy and average power for the rest of
// the tumbling window containing in.Tick.
//
// Algorithm:
//  1. windowStart = tick - tick mod (windowMinutes*60), windowEnd = windowStart + windowMinutes*60
//  2. For every minute boundary in [windowStart, tick] at which every signal has
//     a sample, accumulate sum(value*multiplier) plus elapsedMinutes*powerLosses/60.
//     Historical points are that running total minus its value at windowStart.
//     The first boundary with a missing sample ends the historical sequence.
//  3. slope = difference of the last two historical points; predicted points
//     extend it one minute at a time from the last historical point to windowEnd.
//  4. predictedEnergy is the last predicted value,
//     predictedPower = predictedEnergy*60/windowMinutes.
//
// ForecastLoad is pure; it never returns NaN.
func ForecastLoad(in LoadInput) (LoadForecast, error) {
	if in.WindowMinutes <= 0 {
		return LoadForecast{}, fmt.Errorf("%w: %d", ErrInvalidWindow, in.WindowMinutes)
	}
	if len(in.Signals) == 0 {
		return LoadForecast{}, ErrNoSignals
	}

	start, end := Window(in.Tick, in.WindowMinutes)

	historical := historicalEnergy(in, start)
	if len(historical) < 2 {
		return LoadForecast{}, fmt.Errorf("%w: have %d in window starting at %d",
			ErrInsufficientHistory, len(historical), start)
	}

	last := historical[len(historical)-1]
	slope := last.Value - historical[len(historical)-2].Value

	predicted := make([]EnergyPoint, 0, (end-last.TickID)/secondsPerMinute+1)
	for m, step := last.TickID, 0; m <= end; m, step = m+secondsPerMinute, step+1 {
		predicted = append(predicted, EnergyPoint{
			TickID: m,
			Value:  last.Value + slope*float64(step),
		})
	}

	energy := predicted[len(predicted)-1].Value
	return LoadForecast{
		Tick:            in.Tick,
		WindowStart:     start,
		WindowEnd:       end,
		WindowMinutes:   in.WindowMinutes,
		Historical:      historical,
		Predicted:       predicted,
		Slope:           slope,
		PredictedEnergy: energy,
		PredictedPower:  energy * secondsPerMinute / float64(in.WindowMinutes),
	}, nil
}

// Window returns the bounds of the tumbling window of the given length that
// contains tick.
func Window(tick int64, windowMinutes int) (start, end int64) {
	windowLen := int64(windowMinutes) * secondsPerMinute
	start = tick - mod(tick, windowLen)
	return start, start + windowLen
}

func historicalEnergy(in LoadInput, start int64) []EnergyPoint {
	lossPerMinute := in.PowerLosses / secondsPerMinute

	var (
		points []EnergyPoint
		sum    float64
		base   float64
	)
	for m, k := start, 0; m <= in.Tick; m, k = m+secondsPerMinute, k+1 {
		weighted, ok := sampleAt(in.Signals, m)
		if !ok {
			break
		}
		sum += weighted
		raw := sum + float64(k)*lossPerMinute
		if k == 0 {
			base = raw
		}
		points = append(points, EnergyPoint{TickID: m, Value: raw - base})
	}
	return points
}

// sampleAt returns the weighted sum of all signals at tick, or false if any
// signal lacks a sample there.
func sampleAt(signals []Signal, tick int64) (float64, bool) {
	var total float64
	for _, s := range signals {
		v, ok := s.Series[tick]
		if !ok {
			return 0, false
		}
		total += v * s.Multiplier
	}
	return total, true
}

// mod is a non-negative modulo.
func mod(a, b int64) int64 {
	r := a % b
	if r < 0 {
		r += b
	}
	return r
}
