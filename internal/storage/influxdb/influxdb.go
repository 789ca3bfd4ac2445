// Package influxdb records snapshots and collisions as InfluxDB points: one
// ego point and one point per filled neighbor slot.
package influxdb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/trafficlab/egorecorder/internal/config"
	"github.com/trafficlab/egorecorder/internal/influx"
	"github.com/trafficlab/egorecorder/internal/model"
	"github.com/trafficlab/egorecorder/pkg/core"
)

const connectTimeout = 5 * time.Second

// Measurement names.
const (
	MeasurementEgo         = "ego_state"
	MeasurementNeighbor    = "neighbor_state"
	MeasurementCollision   = "collision"
	MeasurementPerformance = "recorder_performance"
)

// Backend writes points through an influx.Manager.
type Backend struct {
	cfg     config.InfluxConfig
	manager *influx.Manager
	session *core.Session
}

// New creates an InfluxDB backend.
func New(cfg config.InfluxConfig, log zerolog.Logger) *Backend {
	return &Backend{
		cfg:     cfg,
		manager: influx.NewManager(log, cfg),
	}
}

// Init connects, falling back to the line-protocol backup file.
func (b *Backend) Init() error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return b.manager.Connect(ctx)
}

// Close flushes and releases the connection.
func (b *Backend) Close() error {
	return b.manager.Close()
}

func (b *Backend) StartSession(s *core.Session) error {
	b.session = s
	return nil
}

func (b *Backend) EndSession() error {
	for _, w := range b.manager.Writers {
		w.Flush()
	}
	return nil
}

func (b *Backend) tags(p *influxdb2_write.Point) *influxdb2_write.Point {
	if b.session != nil {
		p.AddTag("session", b.session.ID)
		p.AddTag("map", b.session.MapName)
	}
	return p
}

func vehicleFields(p *influxdb2_write.Point, v core.TrackedVehicle) {
	p.AddTag("type", v.TypeID)
	p.AddField("id", v.ID)
	p.AddField("x", v.Position.X)
	p.AddField("y", v.Position.Y)
	p.AddField("z", v.Position.Z)
	p.AddField("vx", v.Velocity.X)
	p.AddField("vy", v.Velocity.Y)
	p.AddField("yaw", v.Rotation.Yaw)
	p.AddField("pitch", v.Rotation.Pitch)
	p.AddField("roll", v.Rotation.Roll)
	if v.Lane.Valid {
		p.AddField("lane", v.Lane.ID)
	}
}

// SnapshotPoints converts a snapshot to its points.
func (b *Backend) SnapshotPoints(s *core.Snapshot) []*influxdb2_write.Point {
	ts := s.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	ego := b.tags(influxdb2_write.NewPointWithMeasurement(MeasurementEgo))
	vehicleFields(ego, s.Reference)
	ego.AddField("frame", s.Frame)
	ego.AddField("in_radius", s.InRadius())
	ego.SetTime(ts)

	points := []*influxdb2_write.Point{ego}
	for i, n := range s.Neighbors {
		if n.IsSentinel() {
			continue
		}
		p := b.tags(influxdb2_write.NewPointWithMeasurement(MeasurementNeighbor))
		p.AddTag("slot", strconv.Itoa(i+1))
		vehicleFields(p, *n.Vehicle)
		p.AddField("frame", s.Frame)
		p.AddField("squared_distance", n.SquaredDistance)
		p.SetTime(ts)
		points = append(points, p)
	}
	return points
}

func (b *Backend) RecordSnapshot(s *core.Snapshot) error {
	var errs []error
	for _, p := range b.SnapshotPoints(s) {
		if err := b.manager.WritePoint(b.cfg.Bucket, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Backend) RecordCollision(c *core.CollisionEvent) error {
	p := b.tags(influxdb2_write.NewPointWithMeasurement(MeasurementCollision))
	p.AddTag("other_type", c.OtherType)
	p.AddField("other_id", c.OtherID)
	p.AddField("frame", c.Frame)
	p.AddField("x", c.Location.X)
	p.AddField("y", c.Location.Y)
	p.AddField("z", c.Location.Z)
	if !c.Time.IsZero() {
		p.SetTime(c.Time)
	}
	if err := b.manager.WritePoint(b.cfg.Bucket, p); err != nil {
		return fmt.Errorf("failed to write collision: %w", err)
	}
	return nil
}

// RecordPerformance writes a throughput point to the performance bucket.
func (b *Backend) RecordPerformance(perf model.RecorderPerformance) error {
	p := b.tags(influxdb2_write.NewPointWithMeasurement(MeasurementPerformance))
	p.AddField("frame", perf.Frame)
	p.AddField("tracked_vehicles", perf.TrackedVehicles)
	p.AddField("snapshots_written", perf.SnapshotsWritten)
	p.AddField("pending_writes", perf.PendingWrites)
	p.AddField("last_write_ms", perf.LastWriteDurationMs)
	p.SetTime(perf.Time)
	return b.manager.WritePoint(influx.PerformanceBucket, p)
}

// ExportedFiles returns the backup file when the server was not reachable.
func (b *Backend) ExportedFiles() []string {
	if path := b.manager.BackupPath(); path != "" {
		return []string{path}
	}
	return nil
}
