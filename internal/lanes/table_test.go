package lanes

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficlab/egorecorder/pkg/core"
)

func pose(x, y float64) core.Pose {
	return core.Pose{
		Location: core.Position3D{X: x, Y: y, Z: 0.28},
		Rotation: core.Rotation{Yaw: 90},
	}
}

func TestTable_AppendAndAt(t *testing.T) {
	tbl := New(2)
	require.NoError(t, tbl.Append(0, []core.Pose{pose(-5.9, 150), pose(-9.25, 150)}))
	require.NoError(t, tbl.Append(1, []core.Pose{pose(-5.9, 152), pose(-9.25, 152)}))

	p, err := tbl.At(2, 1)
	require.NoError(t, err)
	assert.Equal(t, -9.25, p.Location.X)
	assert.Equal(t, 152.0, p.Location.Y)
	assert.Equal(t, 2, tbl.Rows())
	assert.Equal(t, 2, tbl.Lanes())
}

func TestTable_AppendWrongWidth(t *testing.T) {
	tbl := New(4)
	err := tbl.Append(0, []core.Pose{pose(0, 0)})
	assert.Error(t, err)
	assert.Equal(t, 0, tbl.Rows())
}

func TestTable_AtBoundsChecked(t *testing.T) {
	tbl := New(2)
	require.NoError(t, tbl.Append(0, []core.Pose{pose(0, 0), pose(1, 0)}))

	for _, tc := range []struct{ lane, row int }{
		{0, 0}, {3, 0}, {1, -1}, {1, 1},
	} {
		_, err := tbl.At(tc.lane, tc.row)
		assert.ErrorIs(t, err, ErrOutOfRange, "lane=%d row=%d", tc.lane, tc.row)
	}
}

func TestTable_RoundTripCSV(t *testing.T) {
	tbl := New(4)
	xs := []float64{-5.9, -9.25, -13.03, -16.25}
	for frame := 0; frame < 3; frame++ {
		poses := make([]core.Pose, 4)
		for i, x := range xs {
			poses[i] = pose(x, 150.15+float64(frame))
		}
		require.NoError(t, tbl.Append(frame, poses))
	}

	var buf bytes.Buffer
	require.NoError(t, tbl.WriteCSV(&buf, 0, true))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Lanes())
	assert.Equal(t, 3, loaded.Rows())

	p, err := loaded.At(3, 2)
	require.NoError(t, err)
	assert.Equal(t, -13.03, p.Location.X)
	assert.Equal(t, 152.15, p.Location.Y)
	assert.Equal(t, 90.0, p.Rotation.Yaw)
}

func TestTable_WriteCSVAppendWithoutHeader(t *testing.T) {
	tbl := New(1)
	require.NoError(t, tbl.Append(0, []core.Pose{pose(1, 2)}))
	require.NoError(t, tbl.Append(1, []core.Pose{pose(3, 4)}))

	var buf bytes.Buffer
	require.NoError(t, tbl.WriteCSV(&buf, 1, false))

	assert.Equal(t, "1,3,4,0.28,0,90,0\n", buf.String())
}

func TestLoad_ColumnsByName(t *testing.T) {
	in := "lane1 yaw,Frame,lane1 X,lane1 Y,lane1 Z,lane1 pitch,lane1 roll,extra\n" +
		"45,7,1.5,2.5,3.5,0.1,0.2,ignored\n"

	tbl, err := Load(strings.NewReader(in))
	require.NoError(t, err)

	p, err := tbl.At(1, 0)
	require.NoError(t, err)
	assert.Equal(t, core.Position3D{X: 1.5, Y: 2.5, Z: 3.5}, p.Location)
	assert.Equal(t, core.Rotation{Yaw: 45, Pitch: 0.1, Roll: 0.2}, p.Rotation)
}

func TestLoad_MissingComponent(t *testing.T) {
	in := "Frame,lane1 X,lane1 Y\n0,1,2\n"
	_, err := Load(strings.NewReader(in))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestLoad_BadNumber(t *testing.T) {
	in := strings.Join(Header(1), ",") + "\n0,abc,0,0,0,0,0\n"
	_, err := Load(strings.NewReader(in))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestLoad_NoLaneColumns(t *testing.T) {
	_, err := Load(strings.NewReader("Frame,foo\n1,2\n"))
	assert.ErrorIs(t, err, ErrMalformed)
}
