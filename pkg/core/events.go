// pkg/core/events.go
package core

import "time"

// EventKind names a simulator event routed through the dispatcher.
type EventKind string

const (
	EventCollision      EventKind = "collision"
	EventActorSpawned   EventKind = "actor.spawned"
	EventActorDestroyed EventKind = "actor.destroyed"
)

// Event is a simulator notification queued by the client and drained once per tick.
// ActorID names the actor the event is about; Collision is set for collisions
// and Actor for spawns.
type Event struct {
	Kind      EventKind
	Frame     uint64
	Time      time.Time
	Collision *CollisionEvent
	Actor     *TrackedVehicle
	ActorID   int
}

// CollisionEvent is reported when the ego vehicle hits another actor.
type CollisionEvent struct {
	Frame     uint64
	Time      time.Time
	OtherID   int
	OtherType string
	Location  Position3D
}

// Session describes one recording run.
type Session struct {
	ID          string
	MapName     string
	StartTime   time.Time
	EgoID       int
	EgoType     string
	Radius      float64
	Neighbors   int
	SampleEvery int
	Autopilot   bool
	Velocity    float64
}
