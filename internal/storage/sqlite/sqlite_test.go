package sqlitestorage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trafficlab/egorecorder/internal/database"
	"github.com/trafficlab/egorecorder/internal/model"
	"github.com/trafficlab/egorecorder/pkg/core"
)

func session() *core.Session {
	return &core.Session{
		ID:        "sqlite-test",
		MapName:   "Town04",
		StartTime: time.Now(),
		EgoID:     1,
		EgoType:   "vehicle.audi.tt",
		Radius:    50,
		Neighbors: 15,
	}
}

func snapshot(frame uint64) *core.Snapshot {
	return &core.Snapshot{
		Frame:     frame,
		Time:      time.Now(),
		Reference: core.TrackedVehicle{ID: 1, TypeID: "vehicle.audi.tt"},
		Neighbors: make([]core.Neighbor, 15),
	}
}

func TestEndSession_DumpsToDisk(t *testing.T) {
	dir := t.TempDir()
	dumpPath := filepath.Join(dir, "out", "run.db")

	b, err := New(Config{DumpPath: dumpPath, DBPath: filepath.Join(dir, "work.db")}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())
	defer b.Close()

	assert.Empty(t, b.ExportedFiles())

	require.NoError(t, b.StartSession(session()))
	require.NoError(t, b.RecordSnapshot(snapshot(20)))
	require.NoError(t, b.RecordSnapshot(snapshot(40)))
	require.NoError(t, b.EndSession())

	assert.Equal(t, []string{dumpPath}, b.ExportedFiles())

	dumped, err := database.OpenSqlite(dumpPath)
	require.NoError(t, err)
	var count int64
	require.NoError(t, dumped.Model(&model.Snapshot{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestDumpLoop_WritesPeriodically(t *testing.T) {
	dir := t.TempDir()
	dumpPath := filepath.Join(dir, "periodic.db")

	b, err := New(Config{
		DumpPath:     dumpPath,
		DumpInterval: 20 * time.Millisecond,
		DBPath:       filepath.Join(dir, "work.db"),
	}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())
	require.NoError(t, b.StartSession(session()))

	assert.Eventually(t, func() bool {
		_, err := os.Stat(dumpPath)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
}

func TestNoDumpPath(t *testing.T) {
	b, err := New(Config{DBPath: filepath.Join(t.TempDir(), "work.db")}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartSession(session()))
	require.NoError(t, b.EndSession())
	assert.Empty(t, b.ExportedFiles())
}
