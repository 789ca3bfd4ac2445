package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/trafficlab/egorecorder/internal/config"
	"github.com/trafficlab/egorecorder/internal/geo"
	"github.com/trafficlab/egorecorder/internal/lanes"
	"github.com/trafficlab/egorecorder/internal/model/convert"
	"github.com/trafficlab/egorecorder/internal/monitor"
	"github.com/trafficlab/egorecorder/internal/recorder"
	"github.com/trafficlab/egorecorder/internal/sim"
	"github.com/trafficlab/egorecorder/internal/storage"
	"github.com/trafficlab/egorecorder/internal/upload"

	"golang.org/x/sync/errgroup"
)

// newSimClient returns the simulator the commands drive.
func (a *app) newSimClient(cfg config.SimConfig) *sim.Kinematic {
	kcfg := sim.DefaultKinematicConfig()
	kcfg.FixedDelta = cfg.FixedDelta
	kcfg.Seed = cfg.Seed
	kcfg.Logger = a.log
	a.log.Info("Simulator client ready",
		"client", "kinematic",
		"host", cfg.Host,
		"port", cfg.Port,
		"tmPort", cfg.TMPort)
	return sim.NewKinematic(kcfg)
}

// pointFunc returns the geometry projection for the database backends.
func pointFunc(cfg config.GeoConfig) (convert.PointFunc, error) {
	if cfg.Origin == "" {
		return nil, nil
	}
	origin, err := geo.Position3DFromString(cfg.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid geo origin: %w", err)
	}
	return geo.NewProjector(origin).Point, nil
}

// loadLaneTable reads the lane table when coordination is enabled. A missing
// file falls back to the map waypoints.
func (a *app) loadLaneTable(cfg config.SimConfig) (*lanes.Table, error) {
	if !cfg.CoordinationRead {
		return nil, nil
	}
	f, err := os.Open(cfg.CoordinationFile)
	if errors.Is(err, os.ErrNotExist) {
		a.log.Warn("Lane table not found, using map waypoints", "file", cfg.CoordinationFile)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open lane table: %w", err)
	}
	defer f.Close()

	table, err := lanes.Load(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load lane table %s: %w", cfg.CoordinationFile, err)
	}
	a.log.Info("Lane table loaded", "file", cfg.CoordinationFile, "lanes", table.Lanes(), "rows", table.Rows())
	return table, nil
}

// createStorageBackend builds and initializes the configured backends.
func (a *app) createStorageBackend() (storage.Backend, error) {
	point, err := pointFunc(config.GetGeoConfig())
	if err != nil {
		return nil, err
	}
	backend, err := storage.NewBackends(config.GetStorageConfig(), storage.Dependencies{
		Logger:  a.log,
		Zerolog: a.zerolog(),
		Point:   point,
	})
	if err != nil {
		return nil, err
	}
	if err := backend.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.log.Info("Storage initialized", "types", config.GetStorageConfig().Types)
	return backend, nil
}

func (a *app) record(ctx context.Context) (err error) {
	simCfg := config.GetSimConfig()

	table, err := a.loadLaneTable(simCfg)
	if err != nil {
		return err
	}

	client := a.newSimClient(simCfg)
	defer client.Close()

	backend, err := a.createStorageBackend()
	if err != nil {
		return err
	}
	closed := false
	defer func() {
		if !closed {
			err = errors.Join(err, backend.Close())
		}
	}()

	rec, err := recorder.New(simCfg, config.GetSamplerConfig(), recorder.Dependencies{
		Client:  client,
		Storage: backend,
		Lanes:   table,
		Logger:  a.log,
	})
	if err != nil {
		return err
	}
	a.slog.GetSessionID = rec.SessionID
	a.slog.GetFrame = rec.Frame

	monCfg := config.GetMonitorConfig()
	mon := monitor.NewService(monitor.Dependencies{
		Logger:     a.log,
		Recorder:   rec,
		Storage:    backend,
		Interval:   monCfg.Interval,
		StatusFile: monCfg.StatusFile,
	})

	g, gctx := errgroup.WithContext(ctx)
	monCtx, stopMonitor := context.WithCancel(gctx)
	g.Go(func() error {
		defer stopMonitor()
		return rec.Run(ctx)
	})
	g.Go(func() error {
		return mon.Run(monCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	// exports are complete only after the backends are closed
	closed = true
	if err := backend.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}
	a.log.Info("Recording finished", "session", rec.SessionID(), "frames", rec.Frame(), "snapshots", rec.Stats().SnapshotsWritten)

	return a.uploadExports(context.WithoutCancel(ctx), rec.SessionID(), backend)
}

func (a *app) uploadExports(ctx context.Context, sessionID string, backend storage.Backend) error {
	cfg := config.GetUploadConfig()
	if !cfg.Enabled {
		return nil
	}
	u, ok := backend.(storage.Uploadable)
	if !ok || len(u.ExportedFiles()) == 0 {
		a.log.Info("Nothing to upload")
		return nil
	}
	files := u.ExportedFiles()

	uploader, err := upload.New(cfg, a.log)
	if err != nil {
		return err
	}
	keys, err := uploader.Upload(ctx, sessionID, files)
	if err != nil {
		return fmt.Errorf("failed to upload datasets: %w", err)
	}
	a.log.Info("Datasets uploaded", "bucket", cfg.Bucket, "objects", len(keys))
	return nil
}
