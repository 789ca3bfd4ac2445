// Package lanes holds the per-lane pose table recorded by driving one vehicle
// along each lane of a highway. Rows are indexed per lane with bounds checks,
// replacing raw row arithmetic into the flat coordination file.
package lanes

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"

	"github.com/trafficlab/egorecorder/pkg/core"
)

// ErrOutOfRange is returned when a lane or row index does not exist.
var ErrOutOfRange = errors.New("lane table index out of range")

// ErrMalformed is returned when a coordination file cannot be parsed.
var ErrMalformed = errors.New("malformed lane table")

// component order inside each lane's column block
var components = []string{"X", "Y", "Z", "pitch", "yaw", "roll"}

var laneColumn = regexp.MustCompile(`^lane(\d+) (X|Y|Z|pitch|yaw|roll)$`)

// Row is one recorded frame: the pose of each lane's vehicle.
type Row struct {
	Frame int
	Poses []core.Pose // index 0 is lane 1
}

// Table is an in-memory coordination table.
type Table struct {
	lanes int
	rows  []Row
}

// New creates an empty table with the given number of lanes.
func New(lanes int) *Table {
	return &Table{lanes: lanes}
}

// Lanes returns the number of lanes.
func (t *Table) Lanes() int { return t.lanes }

// Rows returns the number of recorded rows.
func (t *Table) Rows() int { return len(t.rows) }

// At returns the pose of lane (1-based) at row (0-based).
func (t *Table) At(lane, row int) (core.Pose, error) {
	if lane < 1 || lane > t.lanes {
		return core.Pose{}, fmt.Errorf("%w: lane %d not in 1..%d", ErrOutOfRange, lane, t.lanes)
	}
	if row < 0 || row >= len(t.rows) {
		return core.Pose{}, fmt.Errorf("%w: row %d not in 0..%d", ErrOutOfRange, row, len(t.rows)-1)
	}
	return t.rows[row].Poses[lane-1], nil
}

// Append records one frame. poses must hold one pose per lane.
func (t *Table) Append(frame int, poses []core.Pose) error {
	if len(poses) != t.lanes {
		return fmt.Errorf("expected %d lane poses, got %d", t.lanes, len(poses))
	}
	p := make([]core.Pose, len(poses))
	copy(p, poses)
	t.rows = append(t.rows, Row{Frame: frame, Poses: p})
	return nil
}

// Header returns the coordination file header for the given lane count.
func Header(lanes int) []string {
	h := []string{"Frame"}
	for l := 1; l <= lanes; l++ {
		for _, c := range components {
			h = append(h, fmt.Sprintf("lane%d %s", l, c))
		}
	}
	return h
}

func poseFields(p core.Pose) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		f(p.Location.X), f(p.Location.Y), f(p.Location.Z),
		f(p.Rotation.Pitch), f(p.Rotation.Yaw), f(p.Rotation.Roll),
	}
}

// WriteCSV writes rows starting at index from. The header is only written when
// header is true, so an existing file can be appended to.
func (t *Table) WriteCSV(w io.Writer, from int, header bool) error {
	cw := csv.NewWriter(w)
	if header {
		if err := cw.Write(Header(t.lanes)); err != nil {
			return err
		}
	}
	for i := from; i < len(t.rows); i++ {
		r := t.rows[i]
		rec := []string{strconv.Itoa(r.Frame)}
		for _, p := range r.Poses {
			rec = append(rec, poseFields(p)...)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Load parses a coordination file. Lane columns are located by name, so column
// order and extra columns do not matter; every lane must have all six components.
func Load(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrMalformed, err)
	}

	frameCol := -1
	// cols[lane-1][component] = column index
	cols := map[int]map[string]int{}
	maxLane := 0
	for i, name := range header {
		if name == "Frame" {
			frameCol = i
			continue
		}
		m := laneColumn.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		lane, _ := strconv.Atoi(m[1])
		if cols[lane] == nil {
			cols[lane] = map[string]int{}
		}
		cols[lane][m[2]] = i
		if lane > maxLane {
			maxLane = lane
		}
	}
	if maxLane == 0 {
		return nil, fmt.Errorf("%w: no lane columns", ErrMalformed)
	}
	for l := 1; l <= maxLane; l++ {
		for _, c := range components {
			if _, ok := cols[l][c]; !ok {
				return nil, fmt.Errorf("%w: missing column %q", ErrMalformed, fmt.Sprintf("lane%d %s", l, c))
			}
		}
	}

	t := New(maxLane)
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, line, err)
		}

		frame := t.Rows()
		if frameCol >= 0 && frameCol < len(rec) {
			if f, err := strconv.Atoi(rec[frameCol]); err == nil {
				frame = f
			}
		}

		poses := make([]core.Pose, maxLane)
		for l := 1; l <= maxLane; l++ {
			vals := make([]float64, len(components))
			for ci, c := range components {
				idx := cols[l][c]
				if idx >= len(rec) {
					return nil, fmt.Errorf("%w: line %d: short record", ErrMalformed, line)
				}
				v, err := strconv.ParseFloat(rec[idx], 64)
				if err != nil {
					return nil, fmt.Errorf("%w: line %d column %q: %v", ErrMalformed, line, header[idx], err)
				}
				vals[ci] = v
			}
			poses[l-1] = core.Pose{
				Location: core.Position3D{X: vals[0], Y: vals[1], Z: vals[2]},
				Rotation: core.Rotation{Pitch: vals[3], Yaw: vals[4], Roll: vals[5]},
			}
		}
		t.rows = append(t.rows, Row{Frame: frame, Poses: poses})
	}
	return t, nil
}
