// Package survey maps the road network: it drives one vehicle per highway lane
// to record a lane table, and lists the driving-lane waypoints of the map.
package survey

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/trafficlab/egorecorder/internal/lanes"
	"github.com/trafficlab/egorecorder/internal/sampler"
	"github.com/trafficlab/egorecorder/internal/sim"
	"github.com/trafficlab/egorecorder/pkg/core"
)

// LaneDriveConfig controls a lane table recording.
type LaneDriveConfig struct {
	Blueprint string
	// Starts holds one start pose per lane, lane 1 first.
	Starts          []core.Pose
	SpeedDifference float64
	// Ticks bounds the drive.
	Ticks int
	// SkipEvery drops the rows of every n-th tick.
	SkipEvery  int
	Sync       bool
	FixedDelta time.Duration
}

// DefaultLaneStarts are the start poses of the four Town04 highway lanes.
func DefaultLaneStarts() []core.Pose {
	xs := []float64{-5.9, -9.25, -13.03, -16.25}
	out := make([]core.Pose, len(xs))
	for i, x := range xs {
		out[i] = core.Pose{
			Location: core.Position3D{X: x, Y: 150.15, Z: 0.2819},
			Rotation: core.Rotation{Yaw: 90},
		}
	}
	return out
}

func DefaultLaneDriveConfig() LaneDriveConfig {
	return LaneDriveConfig{
		Blueprint:       "vehicle.toyota.prius",
		Starts:          DefaultLaneStarts(),
		SpeedDifference: 10,
		Ticks:           3000,
		SkipEvery:       30,
		Sync:            true,
		FixedDelta:      50 * time.Millisecond,
	}
}

var laneColors = []string{"0,255,0", "0,255,255", "255,255,255", "100,100,100"}

// RecordLanes spawns one vehicle per start pose, drives them without lane
// changes and records their poses. Rows are numbered from 0 and only written
// on ticks not divisible by SkipEvery.
func RecordLanes(ctx context.Context, c sim.Client, cfg LaneDriveConfig, logger *slog.Logger) (table *lanes.Table, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Starts) == 0 {
		return nil, errors.New("lane recording needs at least one start pose")
	}
	if cfg.Ticks <= 0 {
		return nil, fmt.Errorf("lane recording needs a positive tick count, got %d", cfg.Ticks)
	}

	if cfg.Sync {
		restore, err := synchronous(ctx, c, cfg.FixedDelta)
		if err != nil {
			return nil, err
		}
		defer func() {
			if rerr := restore(); rerr != nil {
				err = errors.Join(err, rerr)
			}
		}()
	}

	ids := make([]int, 0, len(cfg.Starts))
	defer func() {
		if len(ids) == 0 {
			return
		}
		if derr := c.Destroy(context.WithoutCancel(ctx), ids...); derr != nil {
			err = errors.Join(err, fmt.Errorf("failed to destroy lane vehicles: %w", derr))
		}
	}()

	for i, start := range cfg.Starts {
		id, err := c.Spawn(ctx, sim.SpawnRequest{
			Kind:            sim.KindVehicle,
			Blueprint:       cfg.Blueprint,
			Pose:            start,
			Role:            "autopilot",
			Color:           laneColors[i%len(laneColors)],
			Autopilot:       true,
			SpeedDifference: cfg.SpeedDifference,
			LeadDistance:    float64(2 * (i + 1)),
			IgnoreLights:    100,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to spawn lane %d vehicle: %w", i+1, err)
		}
		ids = append(ids, id)
	}
	logger.Info("lane vehicles spawned", "lanes", len(ids), "ticks", cfg.Ticks)

	table = lanes.New(len(ids))
	frame := 0
	for tick := 1; tick <= cfg.Ticks; tick++ {
		if _, err := c.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			return nil, fmt.Errorf("tick failed: %w", err)
		}
		if cfg.SkipEvery > 0 && tick%cfg.SkipEvery == 0 {
			continue
		}
		poses, err := lanePoses(ctx, c, ids)
		if err != nil {
			return nil, err
		}
		if err := table.Append(frame, poses); err != nil {
			return nil, err
		}
		frame++
	}

	logger.Info("lane table recorded", "rows", table.Rows())
	return table, nil
}

func lanePoses(ctx context.Context, c sim.Client, ids []int) ([]core.Pose, error) {
	states, err := c.Vehicles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read vehicle states: %w", err)
	}
	byID := make(map[int]core.TrackedVehicle, len(states))
	for _, s := range states {
		byID[s.ID] = s
	}
	poses := make([]core.Pose, len(ids))
	for i, id := range ids {
		s, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: lane %d vehicle %d", sim.ErrUnknownActor, i+1, id)
		}
		poses[i] = core.Pose{Location: s.Position, Rotation: s.Rotation}
	}
	return poses, nil
}

func synchronous(ctx context.Context, c sim.Client, delta time.Duration) (func() error, error) {
	prev, err := c.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read world settings: %w", err)
	}
	next := prev
	next.Synchronous = true
	next.FixedDelta = delta
	if err := c.ApplySettings(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to apply world settings: %w", err)
	}
	return func() error {
		return c.ApplySettings(context.WithoutCancel(ctx), prev)
	}, nil
}

// DrivingWaypoints returns the waypoints on driving lanes, drawing each one
// when d is not nil. Drawing stops at the first failure.
func DrivingWaypoints(ctx context.Context, c sim.Client, spacing float64, d sim.Debugger, logger *slog.Logger) ([]sim.Waypoint, error) {
	if logger == nil {
		logger = slog.Default()
	}
	all, err := c.Waypoints(ctx, spacing)
	if err != nil {
		return nil, fmt.Errorf("failed to list waypoints: %w", err)
	}
	out := make([]sim.Waypoint, 0, len(all))
	for _, wp := range all {
		if !wp.Driving {
			continue
		}
		out = append(out, wp)
		if d == nil {
			continue
		}
		if err := d.DrawString(ctx, wp.Pose.Location, wp.Lane.String(), sim.Green, 100*time.Second); err != nil {
			logger.Debug("debug draw failed", "error", err)
			d = nil
		}
	}
	return out, nil
}

// WaypointHeader is the header of the waypoint CSV.
var WaypointHeader = []string{"Lane ID", "Location X", "Location Y", "Location Z", "Rotation Yaw"}

// WriteWaypointsCSV writes one row per waypoint.
func WriteWaypointsCSV(w io.Writer, wps []sim.Waypoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(WaypointHeader); err != nil {
		return err
	}
	for _, wp := range wps {
		loc := wp.Pose.Location
		if err := cw.Write([]string{
			wp.Lane.String(),
			sampler.FormatFloat(loc.X),
			sampler.FormatFloat(loc.Y),
			sampler.FormatFloat(loc.Z),
			sampler.FormatFloat(wp.Pose.Rotation.Yaw),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
