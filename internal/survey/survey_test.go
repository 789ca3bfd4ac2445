package survey

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trafficlab/egorecorder/internal/lanes"
	"github.com/trafficlab/egorecorder/internal/sim"
	"github.com/trafficlab/egorecorder/pkg/core"
)

func TestRecordLanes(t *testing.T) {
	k := sim.NewKinematic(sim.DefaultKinematicConfig())
	cfg := DefaultLaneDriveConfig()
	cfg.Ticks = 61

	table, err := RecordLanes(context.Background(), k, cfg, nil)
	require.NoError(t, err)

	// ticks 30 and 60 are skipped
	assert.Equal(t, 59, table.Rows())
	assert.Equal(t, 4, table.Lanes())

	first, err := table.At(1, 0)
	require.NoError(t, err)
	last, err := table.At(1, table.Rows()-1)
	require.NoError(t, err)
	assert.InDelta(t, -5.9, first.Location.X, 1e-9)
	assert.Greater(t, last.Location.Y, first.Location.Y)

	lane4, err := table.At(4, 0)
	require.NoError(t, err)
	assert.InDelta(t, -16.25, lane4.Location.X, 1e-9)

	// lane vehicles are removed and asynchronous mode is restored
	vehicles, err := k.Vehicles(context.Background())
	require.NoError(t, err)
	assert.Empty(t, vehicles)
	settings, err := k.Settings(context.Background())
	require.NoError(t, err)
	assert.False(t, settings.Synchronous)
}

func TestRecordLanes_RoundTripsThroughCSV(t *testing.T) {
	k := sim.NewKinematic(sim.DefaultKinematicConfig())
	cfg := DefaultLaneDriveConfig()
	cfg.Ticks = 10

	table, err := RecordLanes(context.Background(), k, cfg, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, table.WriteCSV(&buf, 0, true))
	loaded, err := lanes.Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, table.Rows(), loaded.Rows())
}

func TestRecordLanes_Validation(t *testing.T) {
	k := sim.NewKinematic(sim.DefaultKinematicConfig())

	_, err := RecordLanes(context.Background(), k, LaneDriveConfig{Ticks: 5}, nil)
	assert.Error(t, err)

	cfg := DefaultLaneDriveConfig()
	cfg.Ticks = 0
	_, err = RecordLanes(context.Background(), k, cfg, nil)
	assert.Error(t, err)

	cfg = DefaultLaneDriveConfig()
	cfg.Blueprint = "vehicle.unknown.model"
	_, err = RecordLanes(context.Background(), k, cfg, nil)
	assert.ErrorIs(t, err, sim.ErrUnknownBlueprint)
}

func TestDrivingWaypoints(t *testing.T) {
	k := sim.NewKinematic(sim.DefaultKinematicConfig())

	wps, err := DrivingWaypoints(context.Background(), k, 3, k, nil)
	require.NoError(t, err)
	require.NotEmpty(t, wps)
	for _, wp := range wps {
		assert.True(t, wp.Driving)
		assert.True(t, wp.Lane.Valid)
	}
	assert.Len(t, k.Drawings(), 1024)

	_, err = DrivingWaypoints(context.Background(), k, 0, nil, nil)
	assert.Error(t, err)
}

type failingDebugger struct{ calls int }

func (f *failingDebugger) DrawPoint(ctx context.Context, at core.Position3D, c sim.Color, lifetime time.Duration) error {
	f.calls++
	return errors.New("debug helper unavailable")
}

func (f *failingDebugger) DrawString(ctx context.Context, at core.Position3D, text string, c sim.Color, lifetime time.Duration) error {
	f.calls++
	return errors.New("debug helper unavailable")
}

func TestDrivingWaypoints_LogsDrawFailure(t *testing.T) {
	k := sim.NewKinematic(sim.DefaultKinematicConfig())
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	d := &failingDebugger{}

	wps, err := DrivingWaypoints(context.Background(), k, 50, d, logger)
	require.NoError(t, err)
	assert.NotEmpty(t, wps)
	assert.Equal(t, 1, d.calls)
	assert.Contains(t, buf.String(), "debug draw failed")
	assert.Contains(t, buf.String(), "debug helper unavailable")
}

func TestWriteWaypointsCSV(t *testing.T) {
	wps := []sim.Waypoint{
		{Pose: core.Pose{Location: core.Position3D{X: -5.9, Y: 150}, Rotation: core.Rotation{Yaw: 90}}, Lane: core.Lane(-1), Driving: true},
		{Pose: core.Pose{Location: core.Position3D{X: -20, Y: 150}}, Driving: true},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteWaypointsCSV(&buf, wps))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Lane ID,Location X,Location Y,Location Z,Rotation Yaw", lines[0])
	assert.Equal(t, "-1,-5.9,150.0,0.0,90.0", lines[1])
	assert.Equal(t, "None,-20.0,150.0,0.0,0.0", lines[2])
}
