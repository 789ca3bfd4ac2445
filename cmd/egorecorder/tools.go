package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/trafficlab/egorecorder/internal/config"
	"github.com/trafficlab/egorecorder/internal/lanes"
	"github.com/trafficlab/egorecorder/internal/sim"
	"github.com/trafficlab/egorecorder/internal/survey"
)

// lanes drives one vehicle per lane and appends the recorded table to the
// lane table file.
func (a *app) lanes(ctx context.Context, opts options) error {
	simCfg := config.GetSimConfig()
	out := opts.out
	if out == "" {
		out = simCfg.CoordinationFile
	}

	client := a.newSimClient(simCfg)
	defer client.Close()
	if err := client.LoadWorld(ctx, simCfg.Map); err != nil {
		return fmt.Errorf("failed to load world %s: %w", simCfg.Map, err)
	}

	cfg := survey.DefaultLaneDriveConfig()
	cfg.Ticks = opts.laneTicks
	cfg.FixedDelta = simCfg.FixedDelta
	table, err := survey.RecordLanes(ctx, client, cfg, a.log)
	if err != nil {
		return err
	}

	if err := appendLaneTable(out, table); err != nil {
		return err
	}
	a.log.Info("Lane table written", "file", out, "rows", table.Rows())
	return nil
}

// appendLaneTable writes the header only when the file is new.
func appendLaneTable(path string, table *lanes.Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create lane table directory: %w", err)
	}
	_, statErr := os.Stat(path)
	isNew := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open lane table: %w", err)
	}
	if err := table.WriteCSV(f, 0, isNew); err != nil {
		f.Close()
		return fmt.Errorf("failed to write lane table: %w", err)
	}
	return f.Close()
}

// waypoints lists the driving-lane waypoints of the map as CSV.
func (a *app) waypoints(ctx context.Context, opts options, stdout io.Writer) error {
	simCfg := config.GetSimConfig()

	client := a.newSimClient(simCfg)
	defer client.Close()
	if err := client.LoadWorld(ctx, simCfg.Map); err != nil {
		return fmt.Errorf("failed to load world %s: %w", simCfg.Map, err)
	}

	var debugger sim.Debugger
	if simCfg.DebugDraw {
		debugger = client
	}
	wps, err := survey.DrivingWaypoints(ctx, client, opts.spacing, debugger, a.log)
	if err != nil {
		return err
	}

	if opts.out == "" {
		return survey.WriteWaypointsCSV(stdout, wps)
	}
	f, err := os.Create(opts.out)
	if err != nil {
		return fmt.Errorf("failed to create waypoint file: %w", err)
	}
	if err := survey.WriteWaypointsCSV(f, wps); err != nil {
		f.Close()
		return err
	}
	a.log.Info("Waypoints written", "file", opts.out, "count", len(wps))
	return f.Close()
}
