// Package sim defines the boundary to the driving simulator. Physics, traffic
// AI and rendering all live on the simulator side; the recorder only issues
// configuration calls, advances ticks and reads state back.
package sim

import (
	"context"
	"errors"
	"time"

	"github.com/trafficlab/egorecorder/pkg/core"
)

var (
	// ErrUnknownActor is returned for operations on an actor id the simulator does not know.
	ErrUnknownActor = errors.New("unknown actor")
	// ErrUnknownBlueprint is returned when a spawn names a blueprint that is not in the library.
	ErrUnknownBlueprint = errors.New("unknown blueprint")
	// ErrSpawnCollision is returned when the spawn location is occupied.
	ErrSpawnCollision = errors.New("spawn failed because of collision at spawn position")
)

// Settings are the world settings relevant to stepping.
// A zero FixedDelta means variable time-step.
type Settings struct {
	Synchronous   bool
	FixedDelta    time.Duration
	// HybridPhysics limits physics to vehicles within HybridRadius meters
	// of the hero.
	HybridPhysics bool
	HybridRadius  float64
}

// Blueprint is an entry of the simulator's actor library.
type Blueprint struct {
	ID     string
	Wheels int
}

// Waypoint is a sampled point on the road network.
type Waypoint struct {
	Pose    core.Pose
	Lane    core.LaneID
	Driving bool
}

// ActorKind separates vehicles from pedestrians.
type ActorKind int

const (
	KindVehicle ActorKind = iota
	KindWalker
)

// SpawnRequest describes one actor to spawn and the traffic-manager settings
// to apply to it. Speed difference is a percentage relative to the speed
// limit; negative values drive faster than the limit.
type SpawnRequest struct {
	Kind            ActorKind
	Blueprint       string
	Pose            core.Pose
	Role            string // "hero" attaches a collision sensor
	Color           string
	Autopilot       bool
	AutoLaneChange  bool
	SpeedDifference float64
	LeadDistance    float64
	IgnoreLights    float64
	IgnoreVehicles  float64
}

// TrafficState is the traffic-manager behavior of one vehicle.
type TrafficState struct {
	AutoLaneChange bool
	LeadDistance   float64
	IgnoreVehicles float64
}

// TrafficUpdate changes the traffic-manager behavior of a running vehicle.
// Nil fields keep their current value.
type TrafficUpdate struct {
	AutoLaneChange *bool
	LeadDistance   *float64
	IgnoreVehicles *float64
}

// Apply returns s with the non-nil fields of u.
func (u TrafficUpdate) Apply(s TrafficState) TrafficState {
	if u.AutoLaneChange != nil {
		s.AutoLaneChange = *u.AutoLaneChange
	}
	if u.LeadDistance != nil {
		s.LeadDistance = *u.LeadDistance
	}
	if u.IgnoreVehicles != nil {
		s.IgnoreVehicles = *u.IgnoreVehicles
	}
	return s
}

// Client is the simulator connection used by the recorder.
type Client interface {
	LoadWorld(ctx context.Context, mapName string) error
	Settings(ctx context.Context) (Settings, error)
	ApplySettings(ctx context.Context, s Settings) error

	SpawnPoints(ctx context.Context) ([]core.Pose, error)
	Blueprints(ctx context.Context, pattern string) ([]Blueprint, error)
	Waypoints(ctx context.Context, spacing float64) ([]Waypoint, error)
	RandomNavigationLocation(ctx context.Context) (core.Position3D, error)

	Spawn(ctx context.Context, req SpawnRequest) (int, error)
	Destroy(ctx context.Context, ids ...int) error

	// UpdateTraffic changes the traffic-manager settings of one vehicle.
	UpdateTraffic(ctx context.Context, id int, u TrafficUpdate) error
	// ForceLaneChange asks the traffic manager to move the vehicle to the
	// adjacent lane on its left or right. A change towards a side without a
	// lane is ignored.
	ForceLaneChange(ctx context.Context, id int, left bool) error

	// Tick advances the world one step and returns the new frame number. In
	// synchronous mode it drives the step; otherwise it waits for the next one.
	Tick(ctx context.Context) (uint64, error)

	// Vehicles returns the current state of every vehicle actor, with lane
	// ids resolved through a map waypoint query.
	Vehicles(ctx context.Context) ([]core.TrackedVehicle, error)

	// PollEvents drains the events reported since the last call, in order.
	PollEvents(ctx context.Context) ([]core.Event, error)

	Close() error
}

// Color for debug drawing.
type Color struct{ R, G, B uint8 }

var (
	Red   = Color{R: 255}
	Green = Color{G: 255}
	Blue  = Color{B: 255}
)

// Debugger is implemented by clients that can draw debug shapes in the world.
type Debugger interface {
	DrawPoint(ctx context.Context, at core.Position3D, c Color, lifetime time.Duration) error
	DrawString(ctx context.Context, at core.Position3D, text string, c Color, lifetime time.Duration) error
}
