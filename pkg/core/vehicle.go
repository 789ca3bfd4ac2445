// pkg/core/vehicle.go
package core

import (
	"strconv"
	"time"
)

// Position3D is a location in simulator world units (meters).
type Position3D struct {
	X float64
	Y float64
	Z float64
}

// Velocity2D is the planar velocity reported for an actor (m/s).
type Velocity2D struct {
	X float64
	Y float64
}

// Rotation is an actor orientation in degrees.
type Rotation struct {
	Yaw   float64
	Pitch float64
	Roll  float64
}

// Pose is a location plus orientation, as used for spawn points and waypoints.
type Pose struct {
	Location Position3D
	Rotation Rotation
}

// LaneID is the signed lane identifier returned by a map waypoint query.
// The zero value is an unknown lane.
type LaneID struct {
	ID    int
	Valid bool
}

// Lane returns a known lane id.
func Lane(id int) LaneID {
	return LaneID{ID: id, Valid: true}
}

// String renders the lane id, or "None" when unknown.
func (l LaneID) String() string {
	if !l.Valid {
		return NoneLabel
	}
	return strconv.Itoa(l.ID)
}

// NoneLabel marks missing values in dataset rows.
const NoneLabel = "None"

// TrackedVehicle is the state of one vehicle at sample time.
// ID is the simulator actor id.
type TrackedVehicle struct {
	ID       int
	TypeID   string // blueprint id, e.g. vehicle.audi.tt
	Position Position3D
	Velocity Velocity2D
	Rotation Rotation
	Lane     LaneID
}

// Neighbor pairs a vehicle with its squared distance to the reference vehicle.
// A nil Vehicle is a padding slot.
type Neighbor struct {
	Vehicle         *TrackedVehicle
	SquaredDistance float64
}

// IsSentinel reports whether the slot is padding.
func (n Neighbor) IsSentinel() bool {
	return n.Vehicle == nil
}

// Snapshot is one sampled frame: the reference vehicle and exactly K neighbor slots.
// Time is stamped by the recorder when the row is written.
type Snapshot struct {
	Frame     uint64
	Time      time.Time
	Reference TrackedVehicle
	Neighbors []Neighbor
}

// InRadius returns how many neighbor slots hold a real vehicle.
func (s *Snapshot) InRadius() int {
	n := 0
	for _, nb := range s.Neighbors {
		if !nb.IsSentinel() {
			n++
		}
	}
	return n
}
