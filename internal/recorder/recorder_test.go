package recorder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trafficlab/egorecorder/internal/config"
	"github.com/trafficlab/egorecorder/internal/sim"
	"github.com/trafficlab/egorecorder/internal/storage/memory"
	"github.com/trafficlab/egorecorder/pkg/core"
)

func testSimConfig() config.SimConfig {
	return config.SimConfig{
		Map:          "Town04",
		Sync:         true,
		FixedDelta:   50 * time.Millisecond,
		Vehicles:     6,
		Walkers:      2,
		Filter:       "vehicle.*",
		WalkerFilter: "walker.pedestrian.*",
		Velocity:     70,
		DebugDraw:    true,
		Seed:         1,
		Ticks:        40,
	}
}

func testSamplerConfig() config.SamplerConfig {
	return config.SamplerConfig{Radius: 50, Neighbors: 3, SampleEvery: 20}
}

func newRecorder(t *testing.T, cfg config.SimConfig) (*Recorder, *sim.Kinematic, *memory.Backend) {
	t.Helper()
	k := sim.NewKinematic(sim.DefaultKinematicConfig())
	store := memory.New(config.MemoryConfig{OutputDir: t.TempDir()})
	r, err := New(cfg, testSamplerConfig(), Dependencies{Client: k, Storage: store})
	require.NoError(t, err)
	return r, k, store
}

func TestNew_RequiresClientAndStorage(t *testing.T) {
	_, err := New(testSimConfig(), testSamplerConfig(), Dependencies{})
	assert.Error(t, err)
	_, err = New(testSimConfig(), testSamplerConfig(), Dependencies{Client: sim.NewKinematic(sim.KinematicConfig{})})
	assert.Error(t, err)
}

func TestStep_BeforeSetup(t *testing.T) {
	r, _, _ := newRecorder(t, testSimConfig())
	assert.ErrorIs(t, r.Step(context.Background()), ErrNotSetUp)
}

func TestRun_RecordsEverySampleInterval(t *testing.T) {
	r, k, store := newRecorder(t, testSimConfig())

	require.NoError(t, r.Run(context.Background()))

	snaps := store.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, uint64(20), snaps[0].Frame)
	assert.Equal(t, uint64(40), snaps[1].Frame)

	session := r.Session()
	require.NotNil(t, session)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, "Town04", session.MapName)
	assert.Equal(t, 3, session.Neighbors)
	assert.Equal(t, 20, session.SampleEvery)

	for _, s := range snaps {
		assert.Equal(t, session.EgoID, s.Reference.ID)
		require.Len(t, s.Neighbors, 3)
		prev := -1.0
		for _, n := range s.Neighbors {
			if n.IsSentinel() {
				continue
			}
			assert.NotEqual(t, session.EgoID, n.Vehicle.ID)
			assert.LessOrEqual(t, n.SquaredDistance, 50.0*50.0)
			assert.GreaterOrEqual(t, n.SquaredDistance, prev)
			prev = n.SquaredDistance
		}
	}

	stats := r.Stats()
	assert.Equal(t, uint64(40), stats.Frame)
	assert.Equal(t, 2, stats.SnapshotsWritten)
	assert.Equal(t, session.ID, stats.SessionID)

	// teardown restored asynchronous mode and removed every actor
	settings, err := k.Settings(context.Background())
	require.NoError(t, err)
	assert.False(t, settings.Synchronous)
	vehicles, err := k.Vehicles(context.Background())
	require.NoError(t, err)
	assert.Empty(t, vehicles)
	assert.Len(t, store.ExportedFiles(), 1)
}

func TestSetup_TracksSpawnedVehicles(t *testing.T) {
	r, k, _ := newRecorder(t, testSimConfig())
	ctx := context.Background()
	require.NoError(t, r.Setup(ctx))
	t.Cleanup(func() { _ = r.Teardown(ctx) })

	assert.Equal(t, 6, r.Vehicles().Len())
	egoID, ok := r.Vehicles().EgoID()
	require.True(t, ok)
	assert.Equal(t, r.Session().EgoID, egoID)
	assert.Len(t, r.Vehicles().Candidates(), 5)

	settings, err := k.Settings(ctx)
	require.NoError(t, err)
	assert.True(t, settings.Synchronous)
	assert.Equal(t, 50*time.Millisecond, settings.FixedDelta)
}

func TestStep_RoutesCollisionsToStorage(t *testing.T) {
	r, k, store := newRecorder(t, testSimConfig())
	ctx := context.Background()
	require.NoError(t, r.Setup(ctx))
	t.Cleanup(func() { _ = r.Teardown(ctx) })

	egoID, _ := r.Vehicles().EgoID()
	other := r.Vehicles().Candidates()[0]
	require.NoError(t, k.InjectCollision(egoID, other.ID))

	require.NoError(t, r.Step(ctx))

	collisions := store.Collisions()
	require.Len(t, collisions, 1)
	assert.Equal(t, other.ID, collisions[0].OtherID)
	assert.Equal(t, other.TypeID, collisions[0].OtherType)
	assert.False(t, collisions[0].Time.IsZero())
}

func TestStep_DrawsEgo(t *testing.T) {
	r, k, _ := newRecorder(t, testSimConfig())
	ctx := context.Background()
	require.NoError(t, r.Setup(ctx))
	t.Cleanup(func() { _ = r.Teardown(ctx) })

	require.NoError(t, r.Step(ctx))

	drawings := k.Drawings()
	require.NotEmpty(t, drawings)
	assert.Equal(t, sim.Blue, drawings[len(drawings)-1].Color)
}

func TestStep_DestroyedEgo(t *testing.T) {
	r, k, _ := newRecorder(t, testSimConfig())
	ctx := context.Background()
	require.NoError(t, r.Setup(ctx))
	t.Cleanup(func() { _ = r.Teardown(ctx) })

	egoID, _ := r.Vehicles().EgoID()
	require.NoError(t, k.Destroy(ctx, egoID))

	assert.ErrorIs(t, r.Step(ctx), ErrNoEgo)
	_, ok := r.Vehicles().Get(egoID)
	assert.False(t, ok)
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testSimConfig()
	cfg.Ticks = 0
	r, _, store := newRecorder(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	assert.Eventually(t, func() bool { return r.Frame() >= 20 }, 5*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("recorder did not stop")
	}
	assert.NotEmpty(t, store.Snapshots())
	assert.Len(t, store.ExportedFiles(), 1)
}

func TestTeardown_EndsSessionOnce(t *testing.T) {
	r, _, store := newRecorder(t, testSimConfig())
	ctx := context.Background()
	require.NoError(t, r.Setup(ctx))

	require.NoError(t, r.Teardown(ctx))
	first := store.ExportedFiles()
	require.NoError(t, r.Teardown(ctx))
	assert.Equal(t, first, store.ExportedFiles())
}

func TestHandleCollision_RequiresPayload(t *testing.T) {
	r, _, _ := newRecorder(t, testSimConfig())
	assert.Error(t, r.handleCollision(core.Event{Kind: core.EventCollision, Frame: 3}))
}

func TestStep_ScriptsEgoTraffic(t *testing.T) {
	cfg := testSimConfig()
	cfg.Ticks = 0
	r, k, _ := newRecorder(t, cfg)
	ctx := context.Background()
	require.NoError(t, r.Setup(ctx))
	t.Cleanup(func() { _ = r.Teardown(ctx) })
	r.control.changeChance = 0
	egoID, _ := r.Vehicles().EgoID()

	for range 100 {
		require.NoError(t, r.Step(ctx))
	}
	st, err := k.Traffic(egoID)
	require.NoError(t, err)
	assert.Equal(t, sim.TrafficState{AutoLaneChange: false, LeadDistance: 0, IgnoreVehicles: 100}, st)

	for range 5 {
		require.NoError(t, r.Step(ctx))
	}
	st, err = k.Traffic(egoID)
	require.NoError(t, err)
	assert.Equal(t, 2.0, st.LeadDistance)
	assert.Equal(t, 0.0, st.IgnoreVehicles)
}

func TestStep_AutopilotEgoIsNotScripted(t *testing.T) {
	cfg := testSimConfig()
	cfg.EgoAutopilot = true
	r, k, _ := newRecorder(t, cfg)
	ctx := context.Background()
	require.NoError(t, r.Setup(ctx))
	t.Cleanup(func() { _ = r.Teardown(ctx) })
	assert.Nil(t, r.control)
	egoID, _ := r.Vehicles().EgoID()

	for range 100 {
		require.NoError(t, r.Step(ctx))
	}
	st, err := k.Traffic(egoID)
	require.NoError(t, err)
	assert.Equal(t, sim.TrafficState{AutoLaneChange: true, LeadDistance: 3, IgnoreVehicles: 100}, st)
}

func TestSetup_HybridPhysicsRadius(t *testing.T) {
	cfg := testSimConfig()
	cfg.Hybrid = true
	r, k, _ := newRecorder(t, cfg)
	ctx := context.Background()
	require.NoError(t, r.Setup(ctx))

	settings, err := k.Settings(ctx)
	require.NoError(t, err)
	assert.True(t, settings.HybridPhysics)
	assert.Equal(t, 30.0, settings.HybridRadius)

	require.NoError(t, r.Teardown(ctx))
	settings, err = k.Settings(ctx)
	require.NoError(t, err)
	assert.False(t, settings.HybridPhysics)
	assert.Zero(t, settings.HybridRadius)
}

func TestTeardown_DestroysOnlyTrackedVehicles(t *testing.T) {
	r, k, _ := newRecorder(t, testSimConfig())
	ctx := context.Background()
	require.NoError(t, r.Setup(ctx))

	other := r.Vehicles().Candidates()[0]
	require.NoError(t, k.Destroy(ctx, other.ID))
	require.NoError(t, r.Step(ctx))
	_, tracked := r.Vehicles().Get(other.ID)
	require.False(t, tracked)

	require.NoError(t, r.Teardown(ctx))
	assert.Zero(t, r.Vehicles().Len())
	vehicles, err := k.Vehicles(ctx)
	require.NoError(t, err)
	assert.Empty(t, vehicles)
}
