package recorder

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"

	"github.com/trafficlab/egorecorder/internal/sim"
)

const (
	controlPeriod      = 100
	controlRestoreAt   = 5
	laneChangeChance   = 0.2
	asyncLeftEvery     = 2000
	asyncRightEvery    = 8100
	pushIgnore         = 100.0
	pushLeadDistance   = 0.0
	cruiseIgnore       = 0.0
	cruiseLeadDistance = 2.0
)

// egoControl scripts the traffic-manager behavior of an ego vehicle that is
// not on plain autopilot. In synchronous mode every control period the ego
// stops yielding to the vehicle ahead and sometimes changes lanes; a few
// ticks later it goes back to keeping its distance. Asynchronous runs force
// a lane change at fixed ticks.
type egoControl struct {
	client       sim.Client
	sync         bool
	changeChance float64
	rng          *rand.Rand
	log          *slog.Logger
}

func newEgoControl(c sim.Client, sync bool, seed int64, logger *slog.Logger) *egoControl {
	return &egoControl{
		client:       c,
		sync:         sync,
		changeChance: laneChangeChance,
		rng:          rand.New(rand.NewSource(seed)),
		log:          logger,
	}
}

func ptr[T any](v T) *T { return &v }

// step applies the schedule for tick to the ego vehicle.
func (e *egoControl) step(ctx context.Context, ego int, tick uint64) error {
	if !e.sync {
		switch {
		case tick%asyncLeftEvery == 0:
			return e.push(ctx, ego, true)
		case tick%asyncRightEvery == 0:
			return e.push(ctx, ego, false)
		}
		return nil
	}

	switch tick % controlPeriod {
	case controlRestoreAt:
		return e.client.UpdateTraffic(ctx, ego, sim.TrafficUpdate{
			IgnoreVehicles: ptr(cruiseIgnore),
			LeadDistance:   ptr(cruiseLeadDistance),
		})
	case 0:
		if err := e.client.UpdateTraffic(ctx, ego, sim.TrafficUpdate{
			IgnoreVehicles: ptr(pushIgnore),
			LeadDistance:   ptr(pushLeadDistance),
		}); err != nil {
			return err
		}
		if e.rng.Float64() >= e.changeChance {
			return e.client.UpdateTraffic(ctx, ego, sim.TrafficUpdate{AutoLaneChange: ptr(false)})
		}
		left := e.rng.Float64() < 0.5
		e.log.Debug("ego lane change", "tick", tick, "left", left)
		return e.client.ForceLaneChange(ctx, ego, left)
	}
	return nil
}

func (e *egoControl) push(ctx context.Context, ego int, left bool) error {
	err := e.client.UpdateTraffic(ctx, ego, sim.TrafficUpdate{IgnoreVehicles: ptr(pushIgnore)})
	e.log.Debug("ego lane change", "left", left)
	return errors.Join(err, e.client.ForceLaneChange(ctx, ego, left))
}
