package influxdb

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trafficlab/egorecorder/internal/config"
	"github.com/trafficlab/egorecorder/internal/model"
	"github.com/trafficlab/egorecorder/pkg/core"
)

func unreachable(t *testing.T) config.InfluxConfig {
	return config.InfluxConfig{
		Protocol:   "http",
		Host:       "127.0.0.1",
		Port:       "1",
		Token:      "token",
		Org:        "egorecorder",
		Bucket:     "snapshots",
		BackupPath: filepath.Join(t.TempDir(), "backup", "influx.lp.gz"),
	}
}

func snapshot() *core.Snapshot {
	return &core.Snapshot{
		Frame: 20,
		Time:  time.Unix(1700000000, 0),
		Reference: core.TrackedVehicle{
			ID: 1, TypeID: "vehicle.audi.tt", Lane: core.Lane(-3),
			Position: core.Position3D{X: -13.03, Y: 151},
		},
		Neighbors: []core.Neighbor{
			{Vehicle: &core.TrackedVehicle{ID: 4, TypeID: "vehicle.tesla.model3"}, SquaredDistance: 25},
			{},
			{Vehicle: &core.TrackedVehicle{ID: 6, TypeID: "vehicle.nissan.micra"}, SquaredDistance: 400},
		},
	}
}

func readBackup(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	var lines []string
	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestSnapshotPoints(t *testing.T) {
	b := New(unreachable(t), zerolog.Nop())
	require.NoError(t, b.StartSession(&core.Session{ID: "s1", MapName: "Town04"}))

	points := b.SnapshotPoints(snapshot())
	require.Len(t, points, 3)
	assert.Equal(t, MeasurementEgo, points[0].Name())
	assert.Equal(t, MeasurementNeighbor, points[1].Name())
	assert.Equal(t, MeasurementNeighbor, points[2].Name())

	tags := map[string]string{}
	for _, tag := range points[2].TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, "3", tags["slot"])
	assert.Equal(t, "s1", tags["session"])
	assert.Equal(t, "vehicle.nissan.micra", tags["type"])
}

func TestBackupWhenServerUnreachable(t *testing.T) {
	cfg := unreachable(t)
	b := New(cfg, zerolog.Nop())
	require.NoError(t, b.Init())
	require.NoError(t, b.StartSession(&core.Session{ID: "s1", MapName: "Town04"}))

	require.NoError(t, b.RecordSnapshot(snapshot()))
	require.NoError(t, b.RecordCollision(&core.CollisionEvent{Frame: 21, OtherID: 4, OtherType: "vehicle.tesla.model3"}))
	require.NoError(t, b.RecordPerformance(model.RecorderPerformance{Time: time.Unix(1700000001, 0), Frame: 21}))
	require.NoError(t, b.EndSession())
	assert.Equal(t, []string{cfg.BackupPath}, b.ExportedFiles())
	require.NoError(t, b.Close())

	lines := readBackup(t, cfg.BackupPath)
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], MeasurementEgo+","))
	assert.Contains(t, lines[0], "in_radius=2i")
	assert.True(t, strings.HasPrefix(lines[3], MeasurementCollision+","))
	assert.True(t, strings.HasPrefix(lines[4], MeasurementPerformance+","))
}
