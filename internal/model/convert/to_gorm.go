// Package convert provides functions to convert core models to GORM models
package convert

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/trafficlab/egorecorder/internal/geo"
	"github.com/trafficlab/egorecorder/internal/model"
	"github.com/trafficlab/egorecorder/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

// PointFunc turns a world position into a stored point. geo.WorldPoint keeps
// simulator meters; a geo.Projector's Point stores longitude/latitude.
type PointFunc func(core.Position3D) (geom.Point, error)

func pointOrWorld(f PointFunc) PointFunc {
	if f == nil {
		return geo.WorldPoint
	}
	return f
}

func laneToNull(l core.LaneID) sql.NullInt32 {
	return sql.NullInt32{Int32: int32(l.ID), Valid: l.Valid}
}

// CoreToSession converts a core.Session to a GORM model.Session.
func CoreToSession(s core.Session) model.Session {
	return model.Session{
		SessionKey:  s.ID,
		StartTime:   s.StartTime,
		EgoID:       s.EgoID,
		EgoType:     s.EgoType,
		Radius:      s.Radius,
		Neighbors:   s.Neighbors,
		SampleEvery: s.SampleEvery,
		Autopilot:   s.Autopilot,
		Velocity:    s.Velocity,
	}
}

// NeighborsToJSON flattens the filled neighbor slots. Sentinel slots are
// implied by the session's neighbor count and are not stored.
func NeighborsToJSON(neighbors []core.Neighbor) datatypes.JSON {
	out := make([]model.Neighbor, 0, len(neighbors))
	for i, n := range neighbors {
		if n.IsSentinel() {
			continue
		}
		v := n.Vehicle
		nb := model.Neighbor{
			Slot:            i + 1,
			ID:              v.ID,
			Type:            v.TypeID,
			X:               v.Position.X,
			Y:               v.Position.Y,
			Z:               v.Position.Z,
			VelocityX:       v.Velocity.X,
			VelocityY:       v.Velocity.Y,
			Yaw:             v.Rotation.Yaw,
			Pitch:           v.Rotation.Pitch,
			Roll:            v.Rotation.Roll,
			SquaredDistance: n.SquaredDistance,
		}
		if v.Lane.Valid {
			lane := v.Lane.ID
			nb.LaneID = &lane
		}
		out = append(out, nb)
	}
	data, _ := json.Marshal(out)
	return datatypes.JSON(data)
}

// CoreToSnapshot converts a core.Snapshot to a GORM model.Snapshot.
func CoreToSnapshot(s core.Snapshot, point PointFunc) (model.Snapshot, error) {
	ref := s.Reference
	pos, err := pointOrWorld(point)(ref.Position)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("ego position at frame %d: %w", s.Frame, err)
	}
	return model.Snapshot{
		Time:         s.Time,
		Frame:        s.Frame,
		EgoID:        ref.ID,
		EgoType:      ref.TypeID,
		Position:     pos,
		Elevation:    ref.Position.Z,
		VelocityX:    ref.Velocity.X,
		VelocityY:    ref.Velocity.Y,
		Yaw:          ref.Rotation.Yaw,
		Pitch:        ref.Rotation.Pitch,
		Roll:         ref.Rotation.Roll,
		LaneID:       laneToNull(ref.Lane),
		InRadius:     s.InRadius(),
		NeighborData: NeighborsToJSON(s.Neighbors),
	}, nil
}

// CoreToCollision converts a core.CollisionEvent to a GORM model.Collision.
func CoreToCollision(c core.CollisionEvent, point PointFunc) (model.Collision, error) {
	loc, err := pointOrWorld(point)(c.Location)
	if err != nil {
		return model.Collision{}, fmt.Errorf("collision location at frame %d: %w", c.Frame, err)
	}
	return model.Collision{
		Time:      c.Time,
		Frame:     c.Frame,
		OtherID:   c.OtherID,
		OtherType: c.OtherType,
		Location:  loc,
		Elevation: c.Location.Z,
	}, nil
}
