// internal/storage/factory.go
package storage

import (
	"fmt"
	"log/slog"

	"github.com/rs/zerolog"
	"github.com/trafficlab/egorecorder/internal/config"
	"github.com/trafficlab/egorecorder/internal/model/convert"
	"github.com/trafficlab/egorecorder/internal/storage/csvfile"
	"github.com/trafficlab/egorecorder/internal/storage/influxdb"
	"github.com/trafficlab/egorecorder/internal/storage/memory"
	"github.com/trafficlab/egorecorder/internal/storage/postgres"
	sqlitestorage "github.com/trafficlab/egorecorder/internal/storage/sqlite"
)

// Dependencies are shared by the backends the factory builds.
type Dependencies struct {
	Logger *slog.Logger
	// Zerolog is used by the InfluxDB backend.
	Zerolog zerolog.Logger
	// Point stores database geometry; nil keeps simulator meters.
	Point convert.PointFunc
}

// NewBackend creates a storage backend based on configuration
func NewBackend(kind string, cfg config.StorageConfig, deps Dependencies) (Backend, error) {
	switch kind {
	case "csv":
		return csvfile.New(csvfile.Config{
			Dir:           cfg.CSV.OutputDir,
			VehiclesFile:  cfg.CSV.VehiclesFile,
			CollisionFile: cfg.CSV.CollisionFile,
		}), nil
	case "memory":
		return memory.New(cfg.Memory), nil
	case "sqlite":
		b, err := sqlitestorage.New(sqlitestorage.Config{
			DumpInterval: cfg.SQLite.DumpInterval,
			DumpPath:     cfg.SQLite.DumpPath,
		}, deps.Logger, deps.Point)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "postgres":
		return postgres.New(postgres.Dependencies{
			Config: cfg.Postgres,
			Logger: deps.Logger,
			Point:  deps.Point,
		}), nil
	case "influx":
		return influxdb.New(cfg.Influx, deps.Zerolog), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, kind)
	}
}

// NewBackends builds one backend per configured type. A single type is
// returned as is; several are wrapped in a Multi.
func NewBackends(cfg config.StorageConfig, deps Dependencies) (Backend, error) {
	if len(cfg.Types) == 0 {
		return nil, fmt.Errorf("%w: none configured", ErrUnknownType)
	}

	seen := make(map[string]bool, len(cfg.Types))
	backends := make([]Backend, 0, len(cfg.Types))
	for _, kind := range cfg.Types {
		if seen[kind] {
			continue
		}
		seen[kind] = true
		b, err := NewBackend(kind, cfg, deps)
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}
	if len(backends) == 1 {
		return backends[0], nil
	}
	return NewMulti(backends...), nil
}
