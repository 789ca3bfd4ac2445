// Package spawn decides which actors a recording session starts with and where
// they are placed.
package spawn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"

	"github.com/trafficlab/egorecorder/internal/lanes"
	"github.com/trafficlab/egorecorder/internal/sim"
	"github.com/trafficlab/egorecorder/pkg/core"
)

// SpeedLimit is the reference speed in km/h the traffic manager's speed
// difference is expressed against.
const SpeedLimit = 70.0

// WaypointSpacing is the distance in meters between the map waypoints that
// place vehicles when no lane table is loaded.
const WaypointSpacing = 10.0

// ErrNoBlueprints is returned when the blueprint filter leaves nothing to spawn.
var ErrNoBlueprints = errors.New("no blueprints match the filter")

// unsafeModels crash or misbehave under autopilot.
var unsafeModels = []string{"isetta", "carlacola", "cybertruck", "t2"}

// Layout places vehicles on the rows of a lane table.
type Layout struct {
	EgoLane  int
	EgoRow   int
	FirstRow int
	RowStep  int
	Lanes    int
	// Lift is added to z so spawned vehicles drop onto the road.
	Lift float64
}

func DefaultLayout() Layout {
	return Layout{
		EgoLane:  3,
		EgoRow:   151,
		FirstRow: 51,
		RowStep:  20,
		Lanes:    4,
		Lift:     2,
	}
}

// Config controls the spawn plan.
type Config struct {
	// Vehicles is the total vehicle count, ego included.
	Vehicles int
	Walkers  int

	Filter       string
	WalkerFilter string
	Safe         bool

	EgoBlueprint string
	// EgoAutoLaneChange lets the traffic manager change lanes for the ego.
	EgoAutoLaneChange bool
	// Velocity is the target speed in km/h for every vehicle.
	Velocity float64

	Seed   int64
	Layout Layout
}

// Plan is the ordered list of spawn requests for a session.
type Plan struct {
	Ego     sim.SpawnRequest
	Traffic []sim.SpawnRequest
	Walkers []sim.SpawnRequest
}

type Planner struct {
	cfg   Config
	table *lanes.Table
	log   *slog.Logger
	rng   *rand.Rand
}

// NewPlanner creates a planner. A nil table places vehicles on the map's
// driving waypoints instead of lane table rows.
func NewPlanner(cfg Config, table *lanes.Table, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Layout == (Layout{}) {
		cfg.Layout = DefaultLayout()
	}
	if cfg.EgoBlueprint == "" {
		cfg.EgoBlueprint = "vehicle.audi.tt"
	}
	return &Planner{
		cfg:   cfg,
		table: table,
		log:   logger,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}
}

// SpeedDifference converts a target speed in km/h to the traffic manager's
// percentage difference from SpeedLimit. Negative values drive faster.
func SpeedDifference(velocity float64) float64 {
	return -(velocity - SpeedLimit)
}

// FilterBlueprints keeps four-wheeled vehicles; safe mode also drops the
// models listed in unsafeModels.
func FilterBlueprints(bps []sim.Blueprint, safe bool) []sim.Blueprint {
	out := make([]sim.Blueprint, 0, len(bps))
	for _, bp := range bps {
		if bp.Wheels != 4 {
			continue
		}
		if safe && isUnsafe(bp.ID) {
			continue
		}
		out = append(out, bp)
	}
	return out
}

func isUnsafe(id string) bool {
	for _, m := range unsafeModels {
		if strings.HasSuffix(id, "."+m) {
			return true
		}
	}
	return false
}

// Plan builds the spawn requests for the ego, the background traffic and the
// walkers.
func (p *Planner) Plan(ctx context.Context, c sim.Client) (*Plan, error) {
	bps, err := c.Blueprints(ctx, p.cfg.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list blueprints: %w", err)
	}
	bps = FilterBlueprints(bps, p.cfg.Safe)
	if len(bps) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoBlueprints, p.cfg.Filter)
	}

	points, err := c.SpawnPoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list spawn points: %w", err)
	}

	vehicles := p.cfg.Vehicles
	if vehicles > len(points) {
		p.log.Warn("requested more vehicles than spawn points",
			"requested", vehicles, "spawnPoints", len(points))
		vehicles = len(points)
	} else if vehicles < len(points) {
		p.rng.Shuffle(len(points), func(i, j int) { points[i], points[j] = points[j], points[i] })
	}
	if vehicles < 1 {
		return nil, fmt.Errorf("at least one vehicle is required, got %d", p.cfg.Vehicles)
	}

	// without a lane table vehicle n stands on the n-th driving waypoint
	var waypoints []core.Pose
	if p.table == nil {
		if waypoints, err = drivingPoses(ctx, c); err != nil {
			return nil, err
		}
		if len(waypoints) < vehicles {
			p.log.Warn("fewer waypoints than vehicles, using spawn points for the rest",
				"waypoints", len(waypoints), "vehicles", vehicles)
		}
	}
	base := func(n int) core.Pose {
		if n < len(waypoints) {
			return waypoints[n]
		}
		return points[n]
	}

	diff := SpeedDifference(p.cfg.Velocity)
	plan := &Plan{}

	egoPose, err := p.egoPose(base(0))
	if err != nil {
		return nil, err
	}
	plan.Ego = sim.SpawnRequest{
		Kind:            sim.KindVehicle,
		Blueprint:       p.cfg.EgoBlueprint,
		Pose:            egoPose,
		Role:            "hero",
		Color:           "255,0,0",
		Autopilot:       true,
		AutoLaneChange:  p.cfg.EgoAutoLaneChange,
		SpeedDifference: diff,
		LeadDistance:    3,
		IgnoreLights:    100,
		IgnoreVehicles:  100,
	}

	lane := 0
	for n := 1; n < vehicles; n++ {
		slot := n - 1
		pose := p.lift(base(n))
		if p.table != nil {
			if tp, ok := p.trafficPose(slot, lane); ok {
				pose = tp
				lane = (lane + 1) % p.cfg.Layout.Lanes
			}
		}
		plan.Traffic = append(plan.Traffic, sim.SpawnRequest{
			Kind:            sim.KindVehicle,
			Blueprint:       bps[p.rng.Intn(len(bps))].ID,
			Pose:            pose,
			Role:            "autopilot",
			Autopilot:       true,
			AutoLaneChange:  true,
			SpeedDifference: diff,
			LeadDistance:    3,
			IgnoreLights:    100,
			IgnoreVehicles:  30,
		})
	}

	if p.cfg.Walkers > 0 {
		walkers, err := p.walkers(ctx, c)
		if err != nil {
			return nil, err
		}
		plan.Walkers = walkers
	}

	p.log.Info("spawn plan ready",
		"traffic", len(plan.Traffic), "walkers", len(plan.Walkers), "speedDifference", diff)
	return plan, nil
}

// drivingPoses lists the driving-lane waypoints of the map in map order.
func drivingPoses(ctx context.Context, c sim.Client) ([]core.Pose, error) {
	wps, err := c.Waypoints(ctx, WaypointSpacing)
	if err != nil {
		return nil, fmt.Errorf("failed to list waypoints: %w", err)
	}
	out := make([]core.Pose, 0, len(wps))
	for _, wp := range wps {
		if wp.Driving {
			out = append(out, wp.Pose)
		}
	}
	return out, nil
}

func (p *Planner) egoPose(fallback core.Pose) (core.Pose, error) {
	if p.table == nil {
		return p.lift(fallback), nil
	}
	pose, err := p.table.At(p.cfg.Layout.EgoLane, p.cfg.Layout.EgoRow)
	if err != nil {
		return core.Pose{}, fmt.Errorf("failed to place ego vehicle: %w", err)
	}
	return p.lift(pose), nil
}

// trafficPose returns the lane table pose for the slot-th background vehicle.
// The slot whose successor would land on the ego row is left on its spawn
// point, as is any slot past the end of the table.
func (p *Planner) trafficPose(slot, lane int) (core.Pose, bool) {
	l := p.cfg.Layout
	row := l.FirstRow + slot*l.RowStep
	if row+l.RowStep == l.EgoRow {
		return core.Pose{}, false
	}
	pose, err := p.table.At(lane+1, row)
	if err != nil {
		p.log.Warn("lane table too short, using spawn point", "row", row, "lane", lane+1)
		return core.Pose{}, false
	}
	return p.lift(pose), true
}

func (p *Planner) lift(pose core.Pose) core.Pose {
	pose.Location.Z += p.cfg.Layout.Lift
	return pose
}

func (p *Planner) walkers(ctx context.Context, c sim.Client) ([]sim.SpawnRequest, error) {
	filter := p.cfg.WalkerFilter
	if filter == "" {
		filter = "walker.pedestrian.*"
	}
	bps, err := c.Blueprints(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list walker blueprints: %w", err)
	}
	if len(bps) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoBlueprints, filter)
	}

	out := make([]sim.SpawnRequest, 0, p.cfg.Walkers)
	for i := 0; i < p.cfg.Walkers; i++ {
		loc, err := c.RandomNavigationLocation(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to find walker location: %w", err)
		}
		out = append(out, sim.SpawnRequest{
			Kind:      sim.KindWalker,
			Blueprint: bps[p.rng.Intn(len(bps))].ID,
			Pose:      core.Pose{Location: loc},
		})
	}
	return out, nil
}
