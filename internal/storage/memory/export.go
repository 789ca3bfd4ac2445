// internal/storage/memory/export.go
package memory

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/trafficlab/egorecorder/pkg/core"
)

// SessionExport is the root JSON structure
type SessionExport struct {
	SessionID   string          `json:"sessionId"`
	MapName     string          `json:"mapName"`
	StartTime   time.Time       `json:"startTime"`
	EgoID       int             `json:"egoId"`
	EgoType     string          `json:"egoType"`
	Radius      float64         `json:"radius"`
	Neighbors   int             `json:"neighbors"`
	SampleEvery int             `json:"sampleEvery"`
	Autopilot   bool            `json:"autopilot"`
	Velocity    float64         `json:"velocity"`
	EndFrame    uint64          `json:"endFrame"`
	Snapshots   []SnapshotJSON  `json:"snapshots"`
	Collisions  []CollisionJSON `json:"collisions"`
}

// SnapshotJSON is one sampled row. Padding slots are null.
type SnapshotJSON struct {
	Frame     uint64          `json:"frame"`
	Time      time.Time       `json:"time"`
	Ego       VehicleJSON     `json:"ego"`
	InRadius  int             `json:"inRadius"`
	Neighbors []*NeighborJSON `json:"neighbors"`
}

// VehicleJSON is a vehicle state.
type VehicleJSON struct {
	ID       int        `json:"id"`
	Type     string     `json:"type"`
	Position [3]float64 `json:"position"`
	Velocity [2]float64 `json:"velocity"`
	Rotation [3]float64 `json:"rotation"` // yaw, pitch, roll
	LaneID   *int       `json:"laneId"`
}

// NeighborJSON is a filled neighbor slot.
type NeighborJSON struct {
	VehicleJSON
	SquaredDistance float64 `json:"squaredDistance"`
}

// CollisionJSON is a collision of the ego vehicle.
type CollisionJSON struct {
	Frame     uint64     `json:"frame"`
	Time      time.Time  `json:"time"`
	OtherID   int        `json:"otherId"`
	OtherType string     `json:"otherType"`
	Location  [3]float64 `json:"location"`
}

func vehicleJSON(v core.TrackedVehicle) VehicleJSON {
	out := VehicleJSON{
		ID:       v.ID,
		Type:     v.TypeID,
		Position: [3]float64{v.Position.X, v.Position.Y, v.Position.Z},
		Velocity: [2]float64{v.Velocity.X, v.Velocity.Y},
		Rotation: [3]float64{v.Rotation.Yaw, v.Rotation.Pitch, v.Rotation.Roll},
	}
	if v.Lane.Valid {
		lane := v.Lane.ID
		out.LaneID = &lane
	}
	return out
}

// exportFileName builds "<map>_<sessionID>_<start>.json[.gz]".
func exportFileName(s *core.Session, compress bool) string {
	name := strings.NewReplacer(" ", "_", ":", "_", "/", "_").Replace(s.MapName)
	if name == "" {
		name = "session"
	}
	if s.ID != "" {
		name += "_" + s.ID
	}
	name += "_" + s.StartTime.Format("20060102_150405")
	if compress {
		return name + ".json.gz"
	}
	return name + ".json"
}

// exportJSON writes the session data to a (gzipped) JSON file
func (b *Backend) exportJSON() error {
	export := b.buildExport()

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(b.cfg.OutputDir, exportFileName(b.session, b.cfg.CompressOutput))

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if b.cfg.CompressOutput {
		err = writeGzipJSON(f, export)
	} else {
		err = json.NewEncoder(f).Encode(export)
	}
	if err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}

	b.lastExportPath = outputPath
	return nil
}

func (b *Backend) buildExport() SessionExport {
	s := b.session
	export := SessionExport{
		SessionID:   s.ID,
		MapName:     s.MapName,
		StartTime:   s.StartTime,
		EgoID:       s.EgoID,
		EgoType:     s.EgoType,
		Radius:      s.Radius,
		Neighbors:   s.Neighbors,
		SampleEvery: s.SampleEvery,
		Autopilot:   s.Autopilot,
		Velocity:    s.Velocity,
		Snapshots:   make([]SnapshotJSON, 0, len(b.snapshots)),
		Collisions:  make([]CollisionJSON, 0, len(b.collisions)),
	}

	for _, snap := range b.snapshots {
		row := SnapshotJSON{
			Frame:     snap.Frame,
			Time:      snap.Time,
			Ego:       vehicleJSON(snap.Reference),
			InRadius:  snap.InRadius(),
			Neighbors: make([]*NeighborJSON, len(snap.Neighbors)),
		}
		for i, n := range snap.Neighbors {
			if n.IsSentinel() {
				continue
			}
			row.Neighbors[i] = &NeighborJSON{
				VehicleJSON:     vehicleJSON(*n.Vehicle),
				SquaredDistance: n.SquaredDistance,
			}
		}
		if snap.Frame > export.EndFrame {
			export.EndFrame = snap.Frame
		}
		export.Snapshots = append(export.Snapshots, row)
	}

	for _, c := range b.collisions {
		export.Collisions = append(export.Collisions, CollisionJSON{
			Frame:     c.Frame,
			Time:      c.Time,
			OtherID:   c.OtherID,
			OtherType: c.OtherType,
			Location:  [3]float64{c.Location.X, c.Location.Y, c.Location.Z},
		})
		if c.Frame > export.EndFrame {
			export.EndFrame = c.Frame
		}
	}

	return export
}

func writeGzipJSON(w io.Writer, data SessionExport) error {
	gzWriter := gzip.NewWriter(w)
	if err := json.NewEncoder(gzWriter).Encode(data); err != nil {
		gzWriter.Close()
		return err
	}
	return gzWriter.Close()
}

// ReadExport decodes an export file written by EndSession.
func ReadExport(path string) (*SessionExport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	var export SessionExport
	if err := json.NewDecoder(r).Decode(&export); err != nil {
		return nil, fmt.Errorf("failed to decode export: %w", err)
	}
	return &export, nil
}
