// internal/storage/storage_test.go
package storage_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trafficlab/egorecorder/internal/config"
	"github.com/trafficlab/egorecorder/internal/model"
	"github.com/trafficlab/egorecorder/internal/storage"
	"github.com/trafficlab/egorecorder/internal/storage/csvfile"
	gormstorage "github.com/trafficlab/egorecorder/internal/storage/gorm"
	"github.com/trafficlab/egorecorder/internal/storage/influxdb"
	"github.com/trafficlab/egorecorder/internal/storage/memory"
	"github.com/trafficlab/egorecorder/internal/storage/postgres"
	sqlitestorage "github.com/trafficlab/egorecorder/internal/storage/sqlite"
	"github.com/trafficlab/egorecorder/pkg/core"
)

// Compile-time interface checks
var (
	_ storage.Backend    = (*csvfile.Backend)(nil)
	_ storage.Backend    = (*memory.Backend)(nil)
	_ storage.Backend    = (*gormstorage.Backend)(nil)
	_ storage.Backend    = (*sqlitestorage.Backend)(nil)
	_ storage.Backend    = (*postgres.Backend)(nil)
	_ storage.Backend    = (*influxdb.Backend)(nil)
	_ storage.Backend    = (*storage.Multi)(nil)
	_ storage.Uploadable = (*csvfile.Backend)(nil)
	_ storage.Uploadable = (*memory.Backend)(nil)
	_ storage.Uploadable = (*sqlitestorage.Backend)(nil)
	_ storage.Uploadable = (*influxdb.Backend)(nil)
	_ storage.Pending    = (*gormstorage.Backend)(nil)

	_ storage.PerformanceRecorder = (*gormstorage.Backend)(nil)
	_ storage.PerformanceRecorder = (*sqlitestorage.Backend)(nil)
	_ storage.PerformanceRecorder = (*postgres.Backend)(nil)
	_ storage.PerformanceRecorder = (*influxdb.Backend)(nil)
	_ storage.PerformanceRecorder = (*storage.Multi)(nil)
)

// recordingBackend counts calls and fails on demand.
type recordingBackend struct {
	calls     []string
	fail      error
	files     []string
	pending   int
	snapshots []uint64
	perf      []uint64
}

func (r *recordingBackend) record(name string) error {
	r.calls = append(r.calls, name)
	return r.fail
}

func (r *recordingBackend) Init() error { return r.record("Init") }
func (r *recordingBackend) Close() error { return r.record("Close") }
func (r *recordingBackend) StartSession(*core.Session) error { return r.record("StartSession") }
func (r *recordingBackend) EndSession() error { return r.record("EndSession") }
func (r *recordingBackend) RecordCollision(*core.CollisionEvent) error {
	return r.record("RecordCollision")
}
func (r *recordingBackend) RecordSnapshot(s *core.Snapshot) error {
	r.snapshots = append(r.snapshots, s.Frame)
	return r.record("RecordSnapshot")
}
func (r *recordingBackend) RecordPerformance(p model.RecorderPerformance) error {
	r.perf = append(r.perf, p.Frame)
	return r.record("RecordPerformance")
}
func (r *recordingBackend) ExportedFiles() []string { return r.files }
func (r *recordingBackend) PendingWrites() int { return r.pending }

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	errA := errors.New("a failed")
	a := &recordingBackend{fail: errA}
	b := &recordingBackend{}
	m := storage.NewMulti(a, b)

	err := m.RecordSnapshot(&core.Snapshot{Frame: 20})
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	// the failing backend does not stop the next one
	assert.Equal(t, []uint64{20}, b.snapshots)

	require.Error(t, m.Init())
	require.Error(t, m.StartSession(&core.Session{}))
	require.Error(t, m.RecordCollision(&core.CollisionEvent{}))
	require.Error(t, m.EndSession())
	require.Error(t, m.Close())
	assert.Equal(t, a.calls, b.calls)
	assert.Len(t, m.Backends(), 2)
}

func TestMulti_ExportedFilesAndPending(t *testing.T) {
	a := &recordingBackend{files: []string{"a.csv"}, pending: 3}
	b := &recordingBackend{files: []string{"b.db"}, pending: 4}
	m := storage.NewMulti(a, b)

	assert.Equal(t, []string{"a.csv", "b.db"}, m.ExportedFiles())
	assert.Equal(t, 7, m.PendingWrites())
}

func TestMulti_RecordPerformanceSkipsPlainBackends(t *testing.T) {
	a := &recordingBackend{}
	m := storage.NewMulti(a, &csvfile.Backend{})

	require.NoError(t, m.RecordPerformance(model.RecorderPerformance{Frame: 40}))
	assert.Equal(t, []uint64{40}, a.perf)
}

func testStorageConfig(t *testing.T, types ...string) config.StorageConfig {
	dir := t.TempDir()
	return config.StorageConfig{
		Types: types,
		CSV: config.CSVConfig{
			OutputDir:     filepath.Join(dir, "Datasets"),
			VehiclesFile:  "vehicles.csv",
			CollisionFile: "collisions.csv",
		},
		Memory: config.MemoryConfig{OutputDir: filepath.Join(dir, "recordings")},
		SQLite: config.SQLiteConfig{DumpPath: filepath.Join(dir, "run.db")},
	}
}

func TestNewBackend(t *testing.T) {
	cfg := testStorageConfig(t)

	b, err := storage.NewBackend("csv", cfg, storage.Dependencies{})
	require.NoError(t, err)
	assert.IsType(t, &csvfile.Backend{}, b)

	b, err = storage.NewBackend("memory", cfg, storage.Dependencies{})
	require.NoError(t, err)
	assert.IsType(t, &memory.Backend{}, b)

	b, err = storage.NewBackend("postgres", cfg, storage.Dependencies{})
	require.NoError(t, err)
	assert.IsType(t, &postgres.Backend{}, b)

	b, err = storage.NewBackend("influx", cfg, storage.Dependencies{})
	require.NoError(t, err)
	assert.IsType(t, &influxdb.Backend{}, b)

	_, err = storage.NewBackend("websocket", cfg, storage.Dependencies{})
	assert.ErrorIs(t, err, storage.ErrUnknownType)
}

func TestNewBackends(t *testing.T) {
	single, err := storage.NewBackends(testStorageConfig(t, "csv"), storage.Dependencies{})
	require.NoError(t, err)
	assert.IsType(t, &csvfile.Backend{}, single)

	multi, err := storage.NewBackends(testStorageConfig(t, "csv", "memory", "csv"), storage.Dependencies{})
	require.NoError(t, err)
	require.IsType(t, &storage.Multi{}, multi)
	assert.Len(t, multi.(*storage.Multi).Backends(), 2)

	_, err = storage.NewBackends(testStorageConfig(t), storage.Dependencies{})
	assert.ErrorIs(t, err, storage.ErrUnknownType)

	_, err = storage.NewBackends(testStorageConfig(t, "csv", "carrier-pigeon"), storage.Dependencies{})
	assert.ErrorIs(t, err, storage.ErrUnknownType)
}
