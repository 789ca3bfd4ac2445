package gormstorage

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trafficlab/egorecorder/internal/database"
	"github.com/trafficlab/egorecorder/internal/model"
	"github.com/trafficlab/egorecorder/pkg/core"
)

// newTestBackend creates a Backend with no DB (queue-only mode for unit testing).
func newTestBackend() *Backend {
	return New(Dependencies{})
}

func newSqliteBackend(t *testing.T) *Backend {
	t.Helper()
	db, err := database.OpenSqlite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	b := New(Dependencies{DB: db, FlushInterval: time.Hour})
	require.NoError(t, b.Init())
	t.Cleanup(func() { b.Close() })
	return b
}

func testSession() *core.Session {
	return &core.Session{
		ID:          "9b7e3c1e-3f0c-4a59-8d7e-1c1d2f3a4b5c",
		MapName:     "Town04",
		StartTime:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		EgoID:       1,
		EgoType:     "vehicle.audi.tt",
		Radius:      50,
		Neighbors:   3,
		SampleEvery: 20,
		Velocity:    80,
	}
}

func testSnapshot(frame uint64) *core.Snapshot {
	other := &core.TrackedVehicle{
		ID:       7,
		TypeID:   "vehicle.tesla.model3",
		Position: core.Position3D{X: -9.25, Y: 170, Z: 0.3},
		Lane:     core.Lane(-2),
	}
	return &core.Snapshot{
		Frame: frame,
		Time:  time.Date(2024, 5, 1, 12, 0, 1, 0, time.UTC),
		Reference: core.TrackedVehicle{
			ID:       1,
			TypeID:   "vehicle.audi.tt",
			Position: core.Position3D{X: -13.03, Y: 151, Z: 0.3},
			Velocity: core.Velocity2D{Y: 22.2},
			Rotation: core.Rotation{Yaw: 90},
			Lane:     core.Lane(-3),
		},
		Neighbors: []core.Neighbor{
			{Vehicle: other, SquaredDistance: 375.0},
			{SquaredDistance: 0},
			{SquaredDistance: 0},
		},
	}
}

func TestInitClose(t *testing.T) {
	b := newTestBackend()

	require.NoError(t, b.Init())
	require.NotNil(t, b.snapshots)
	require.NotNil(t, b.stopChan)

	require.NoError(t, b.Close())
	// second close is a no-op
	require.NoError(t, b.Close())
}

func TestCloseWithoutInit(t *testing.T) {
	assert.NoError(t, newTestBackend().Close())
}

func TestRecordSnapshot_QueuesToInternalQueue(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.RecordSnapshot(testSnapshot(20)))
	require.NoError(t, b.RecordCollision(&core.CollisionEvent{Frame: 21, OtherID: 7}))

	assert.Equal(t, 1, b.snapshots.Len())
	assert.Equal(t, 1, b.collisions.Len())
	assert.Equal(t, 2, b.PendingWrites())
}

func TestRecordSnapshot_BadPositionNotQueued(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Init())
	defer b.Close()

	s := testSnapshot(20)
	s.Reference.Position.X = math.NaN()
	assert.Error(t, b.RecordSnapshot(s))
	assert.Error(t, b.RecordCollision(&core.CollisionEvent{Frame: 21, Location: core.Position3D{Y: math.Inf(1)}}))
	assert.Zero(t, b.PendingWrites())
}

func TestSessionWithoutDB_NoError(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartSession(testSession()))
	assert.Zero(t, b.SessionID())
	require.NoError(t, b.EndSession())
	require.NoError(t, b.Flush())
	require.NoError(t, b.RecordPerformance(model.RecorderPerformance{Frame: 1}))
}

func TestSqlite_WritesSessionRows(t *testing.T) {
	b := newSqliteBackend(t)
	db := b.DB()

	require.NoError(t, b.StartSession(testSession()))
	require.NotZero(t, b.SessionID())

	require.NoError(t, b.RecordSnapshot(testSnapshot(20)))
	require.NoError(t, b.RecordSnapshot(testSnapshot(40)))
	require.NoError(t, b.RecordCollision(&core.CollisionEvent{
		Frame:     41,
		OtherID:   7,
		OtherType: "vehicle.tesla.model3",
		Location:  core.Position3D{X: -13, Y: 160, Z: 0.3},
	}))
	require.NoError(t, b.EndSession())
	assert.Zero(t, b.PendingWrites())

	var snaps []model.Snapshot
	require.NoError(t, db.Select("id", "session_id", "frame", "in_radius", "lane_id", "neighbor_data").
		Order("frame").Find(&snaps).Error)
	require.Len(t, snaps, 2)
	assert.Equal(t, uint64(20), snaps[0].Frame)
	assert.Equal(t, b.SessionID(), snaps[0].SessionID)
	assert.Equal(t, 1, snaps[0].InRadius)
	assert.True(t, snaps[0].LaneID.Valid)
	assert.Equal(t, int32(-3), snaps[0].LaneID.Int32)
	assert.JSONEq(t, `[{"slot":1,"id":7,"type":"vehicle.tesla.model3","x":-9.25,"y":170,"z":0.3,"vx":0,"vy":0,"yaw":0,"pitch":0,"roll":0,"laneId":-2,"squaredDistance":375}]`,
		string(snaps[0].NeighborData))

	var coll model.Collision
	require.NoError(t, db.Select("id", "frame", "other_id", "other_type").First(&coll).Error)
	assert.Equal(t, uint64(41), coll.Frame)
	assert.Equal(t, "vehicle.tesla.model3", coll.OtherType)

	var ended int64
	require.NoError(t, db.Model(&model.Session{}).
		Where("id = ? AND end_time IS NOT NULL", b.SessionID()).Count(&ended).Error)
	assert.Equal(t, int64(1), ended)

	var mapName string
	require.NoError(t, db.Table("worlds").
		Joins("JOIN sessions ON sessions.world_id = worlds.id").
		Where("sessions.id = ?", b.SessionID()).
		Pluck("worlds.map_name", &mapName).Error)
	assert.Equal(t, "Town04", mapName)
}

func TestSqlite_RecordPerformance(t *testing.T) {
	b := newSqliteBackend(t)
	require.NoError(t, b.StartSession(testSession()))

	require.NoError(t, b.RecordPerformance(model.RecorderPerformance{
		Time:             time.Now(),
		Frame:            400,
		TrackedVehicles:  10,
		SnapshotsWritten: 20,
	}))

	var perf model.RecorderPerformance
	require.NoError(t, b.DB().Select("session_id", "frame", "tracked_vehicles").Take(&perf).Error)
	assert.Equal(t, b.SessionID(), perf.SessionID)
	assert.Equal(t, 10, perf.TrackedVehicles)
}

func TestSqlite_CloseFlushes(t *testing.T) {
	db, err := database.OpenSqlite(filepath.Join(t.TempDir(), "close.db"))
	require.NoError(t, err)
	b := New(Dependencies{DB: db, FlushInterval: time.Hour})
	require.NoError(t, b.Init())
	require.NoError(t, b.StartSession(testSession()))

	require.NoError(t, b.RecordSnapshot(testSnapshot(20)))
	require.NoError(t, b.Close())

	var count int64
	require.NoError(t, db.Model(&model.Snapshot{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
