package services

import (
	"context"
	"errors"
)

var errNoOutputStore = errors.New("no output store configured")

// heartbeatHandlers record liveness: every due tick overwrites the output
// document with the tick.
var heartbeatHandlers = Handlers{
	Refresh: func(ctx context.Context, env Env, tick int64, st State) (State, error) {
		if env.Outputs == nil {
			return st, errNoOutputStore
		}
		if err := env.Outputs.Set(ctx, env.ID, Output{Tick: tick, Kind: KindHeartbeat}); err != nil {
			return st, err
		}
		st.Beats++
		return st, nil
	},
}
