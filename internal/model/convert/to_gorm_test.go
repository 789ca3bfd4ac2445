package convert

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficlab/egorecorder/internal/geo"
	"github.com/trafficlab/egorecorder/internal/model"
	"github.com/trafficlab/egorecorder/pkg/core"
)

func TestCoreToSession(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)
	s := CoreToSession(core.Session{
		ID:          "c0ffee",
		MapName:     "Town04",
		StartTime:   now,
		EgoID:       1,
		EgoType:     "vehicle.audi.tt",
		Radius:      50,
		Neighbors:   15,
		SampleEvery: 20,
		Autopilot:   true,
		Velocity:    100,
	})

	assert.Equal(t, "c0ffee", s.SessionKey)
	assert.Equal(t, now, s.StartTime)
	assert.Equal(t, 1, s.EgoID)
	assert.Equal(t, 15, s.Neighbors)
	assert.Equal(t, 20, s.SampleEvery)
	assert.True(t, s.Autopilot)
	assert.False(t, s.EndTime.Valid)
}

func TestCoreToSnapshot(t *testing.T) {
	near := core.TrackedVehicle{ID: 7, TypeID: "vehicle.tesla.model3", Position: core.Position3D{X: 3, Y: 4}, Lane: core.Lane(-2)}
	snap := core.Snapshot{
		Frame: 40,
		Time:  time.Unix(100, 0),
		Reference: core.TrackedVehicle{
			ID:       1,
			TypeID:   "vehicle.audi.tt",
			Position: core.Position3D{X: 1, Y: 2, Z: 0.5},
			Velocity: core.Velocity2D{X: 0, Y: 19.4},
			Rotation: core.Rotation{Yaw: 90},
			Lane:     core.Lane(-3),
		},
		Neighbors: []core.Neighbor{
			{Vehicle: &near, SquaredDistance: 25},
			{},
		},
	}

	m, err := CoreToSnapshot(snap, nil)
	require.NoError(t, err)

	assert.Equal(t, uint64(40), m.Frame)
	assert.Equal(t, 1, m.EgoID)
	assert.Equal(t, 0.5, m.Elevation)
	assert.Equal(t, 19.4, m.VelocityY)
	assert.True(t, m.LaneID.Valid)
	assert.Equal(t, int32(-3), m.LaneID.Int32)
	assert.Equal(t, 1, m.InRadius)

	c, ok := m.Position.Coordinates()
	require.True(t, ok)
	assert.Equal(t, 1.0, c.X)
	assert.Equal(t, 2.0, c.Y)

	var neighbors []model.Neighbor
	require.NoError(t, json.Unmarshal(m.NeighborData, &neighbors))
	require.Len(t, neighbors, 1, "sentinel slots are not stored")
	assert.Equal(t, 1, neighbors[0].Slot)
	assert.Equal(t, 7, neighbors[0].ID)
	assert.Equal(t, 25.0, neighbors[0].SquaredDistance)
	require.NotNil(t, neighbors[0].LaneID)
	assert.Equal(t, -2, *neighbors[0].LaneID)
}

func TestCoreToSnapshot_UnknownLane(t *testing.T) {
	m, err := CoreToSnapshot(core.Snapshot{Reference: core.TrackedVehicle{ID: 1}}, nil)
	require.NoError(t, err)
	assert.False(t, m.LaneID.Valid)
	assert.JSONEq(t, `[]`, string(m.NeighborData))
}

func TestCoreToCollision_Projected(t *testing.T) {
	proj := geo.NewProjector(core.Position3D{X: 8.68, Y: 50.11})
	m, err := CoreToCollision(core.CollisionEvent{
		Frame:     12,
		OtherID:   4,
		OtherType: "vehicle.bmw.grandtourer",
		Location:  core.Position3D{Z: 1.5},
	}, proj.Point)
	require.NoError(t, err)

	assert.Equal(t, uint64(12), m.Frame)
	assert.Equal(t, 4, m.OtherID)
	assert.Equal(t, 1.5, m.Elevation)

	c, ok := m.Location.Coordinates()
	require.True(t, ok)
	assert.InDelta(t, 8.68, c.X, 1e-6)
	assert.InDelta(t, 50.11, c.Y, 1e-6)
}

func TestCoreToSnapshot_RejectsBadPosition(t *testing.T) {
	_, err := CoreToSnapshot(core.Snapshot{
		Frame:     20,
		Reference: core.TrackedVehicle{ID: 1, Position: core.Position3D{X: math.NaN()}},
	}, nil)
	assert.ErrorContains(t, err, "frame 20")

	_, err = CoreToCollision(core.CollisionEvent{Location: core.Position3D{Y: math.Inf(-1)}}, nil)
	assert.Error(t, err)
}
