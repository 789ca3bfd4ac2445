// Package postgres implements the storage.Backend interface on PostgreSQL/PostGIS
// through the shared GORM backend.
package postgres

import (
	"fmt"
	"log/slog"

	"github.com/trafficlab/egorecorder/internal/config"
	"github.com/trafficlab/egorecorder/internal/database"
	"github.com/trafficlab/egorecorder/internal/model/convert"
	gormstorage "github.com/trafficlab/egorecorder/internal/storage/gorm"

	"gorm.io/gorm"
)

// Dependencies holds all dependencies for the PostgreSQL storage backend.
// When DB is nil, Init connects using Config.
type Dependencies struct {
	Config config.PostgresConfig
	DB     *gorm.DB
	Logger *slog.Logger
	Point  convert.PointFunc
}

// Backend connects lazily in Init and delegates recording to the GORM backend.
type Backend struct {
	*gormstorage.Backend
	deps Dependencies
}

// New creates a new PostgreSQL storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Backend{deps: deps}
}

// Init connects to the server when no DB was injected, then migrates and
// starts the writer.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		b.deps.Logger.Debug("Connecting to Postgres DB",
			"host", b.deps.Config.Host, "port", b.deps.Config.Port, "database", b.deps.Config.Database)
		db, err := database.OpenPostgres(b.deps.Config)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		b.deps.DB = db
		b.deps.Logger.Info("Connected to database")
	}

	b.Backend = gormstorage.New(gormstorage.Dependencies{
		DB:     b.deps.DB,
		Logger: b.deps.Logger,
		Point:  b.deps.Point,
	})
	return b.Backend.Init()
}

// Close stops the writer. It is safe to call when Init failed.
func (b *Backend) Close() error {
	if b.Backend == nil {
		return nil
	}
	return b.Backend.Close()
}
