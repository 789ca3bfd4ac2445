package recorder

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trafficlab/egorecorder/internal/sim"
	"github.com/trafficlab/egorecorder/pkg/core"
)

// middleLaneEgo spawns an autopilot hero in the second lane so a lane change
// is possible in both directions.
func middleLaneEgo(t *testing.T) (*sim.Kinematic, int) {
	t.Helper()
	ctx := context.Background()
	k := sim.NewKinematic(sim.DefaultKinematicConfig())
	require.NoError(t, k.LoadWorld(ctx, "Town04"))
	require.NoError(t, k.ApplySettings(ctx, sim.Settings{Synchronous: true}))
	id, err := k.Spawn(ctx, sim.SpawnRequest{
		Kind:      sim.KindVehicle,
		Blueprint: "vehicle.audi.tt",
		Role:      "hero",
		Pose: core.Pose{
			Location: core.Position3D{X: sim.DefaultKinematicConfig().LaneCenters[1], Y: 200},
			Rotation: core.Rotation{Yaw: 90},
		},
		Autopilot:      true,
		LeadDistance:   3,
		IgnoreVehicles: 30,
	})
	require.NoError(t, err)
	return k, id
}

func egoLane(t *testing.T, k *sim.Kinematic, ticks int) core.LaneID {
	t.Helper()
	ctx := context.Background()
	for range ticks {
		_, err := k.Tick(ctx)
		require.NoError(t, err)
	}
	vs, err := k.Vehicles(ctx)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	return vs[0].Lane
}

func TestEgoControl_PushAndRestore(t *testing.T) {
	k, id := middleLaneEgo(t)
	ctx := context.Background()
	ctl := newEgoControl(k, true, 1, slog.Default())
	ctl.changeChance = 0

	require.NoError(t, ctl.step(ctx, id, 100))
	st, err := k.Traffic(id)
	require.NoError(t, err)
	assert.Equal(t, sim.TrafficState{AutoLaneChange: false, LeadDistance: 0, IgnoreVehicles: 100}, st)

	require.NoError(t, ctl.step(ctx, id, 101))
	require.NoError(t, ctl.step(ctx, id, 105))
	st, err = k.Traffic(id)
	require.NoError(t, err)
	assert.Equal(t, sim.TrafficState{AutoLaneChange: false, LeadDistance: 2, IgnoreVehicles: 0}, st)
	assert.Equal(t, core.Lane(-2), egoLane(t, k, 60))
}

func TestEgoControl_ForcedChangeLeavesLane(t *testing.T) {
	k, id := middleLaneEgo(t)
	ctl := newEgoControl(k, true, 1, slog.Default())
	ctl.changeChance = 1

	require.NoError(t, ctl.step(context.Background(), id, 200))
	assert.Contains(t, []core.LaneID{core.Lane(-1), core.Lane(-3)}, egoLane(t, k, 60))
}

func TestEgoControl_AsyncSchedule(t *testing.T) {
	ctx := context.Background()

	k, id := middleLaneEgo(t)
	ctl := newEgoControl(k, false, 1, slog.Default())
	require.NoError(t, ctl.step(ctx, id, 100))
	require.NoError(t, ctl.step(ctx, id, 2000))
	assert.Equal(t, core.Lane(-3), egoLane(t, k, 60))
	st, err := k.Traffic(id)
	require.NoError(t, err)
	assert.Equal(t, 100.0, st.IgnoreVehicles)

	k, id = middleLaneEgo(t)
	ctl = newEgoControl(k, false, 1, slog.Default())
	require.NoError(t, ctl.step(ctx, id, 8100))
	assert.Equal(t, core.Lane(-1), egoLane(t, k, 60))
}

func TestEgoControl_UnknownEgo(t *testing.T) {
	k, _ := middleLaneEgo(t)
	ctl := newEgoControl(k, true, 1, slog.Default())
	assert.ErrorIs(t, ctl.step(context.Background(), 99, 100), sim.ErrUnknownActor)
	assert.NoError(t, ctl.step(context.Background(), 99, 42))
}
