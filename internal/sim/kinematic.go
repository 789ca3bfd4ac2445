package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"path"
	"sync"
	"time"

	"github.com/trafficlab/egorecorder/internal/queue"
	"github.com/trafficlab/egorecorder/internal/sampler"
	"github.com/trafficlab/egorecorder/pkg/core"

	"golang.org/x/time/rate"
)

// KinematicConfig shapes the in-process highway used by Kinematic.
type KinematicConfig struct {
	// LaneCenters are the x coordinates of the lane centers, ordered from the
	// rightmost lane; lane i has id -(i+1).
	LaneCenters []float64
	StartY      float64
	Length      float64
	// SpawnSpacing is the distance between consecutive spawn points in a lane.
	SpawnSpacing    float64
	SpeedLimitKMH   float64
	FixedDelta      time.Duration
	CollisionRadius float64
	// LaneChangeSpeed is the lateral speed in m/s of a forced lane change.
	LaneChangeSpeed float64
	Seed            int64
	Logger          *slog.Logger
}

// DefaultKinematicConfig is a four lane straight highway heading north (+y).
func DefaultKinematicConfig() KinematicConfig {
	return KinematicConfig{
		LaneCenters:     []float64{-5.9, -9.25, -13.03, -16.25},
		StartY:          150.15,
		Length:          2000,
		SpawnSpacing:    20,
		SpeedLimitKMH:   70,
		FixedDelta:      50 * time.Millisecond,
		CollisionRadius: 2,
		LaneChangeSpeed: 2,
		Seed:            1,
	}
}

const (
	spawnHeight  = 0.2819
	sidewalkX    = -20.0
	laneHalfSpan = 2.5
)

var kinematicLibrary = []Blueprint{
	{ID: "vehicle.audi.tt", Wheels: 4},
	{ID: "vehicle.tesla.model3", Wheels: 4},
	{ID: "vehicle.toyota.prius", Wheels: 4},
	{ID: "vehicle.bmw.grandtourer", Wheels: 4},
	{ID: "vehicle.nissan.micra", Wheels: 4},
	{ID: "vehicle.bmw.isetta", Wheels: 4},
	{ID: "vehicle.carlamotors.carlacola", Wheels: 4},
	{ID: "vehicle.tesla.cybertruck", Wheels: 4},
	{ID: "vehicle.volkswagen.t2", Wheels: 4},
	{ID: "vehicle.bh.crossbike", Wheels: 2},
	{ID: "vehicle.yamaha.yzf", Wheels: 2},
	{ID: "walker.pedestrian.0001"},
	{ID: "walker.pedestrian.0002"},
	{ID: "sensor.other.collision"},
}

type actor struct {
	id         int
	kind       ActorKind
	blueprint  string
	pose       core.Pose
	speed      float64 // m/s along yaw
	hero       bool
	touching   map[int]bool
	traffic    TrafficState
	targetLane int // lane index of a lane change in progress, -1 if none
}

// Drawing is a debug shape recorded by Kinematic.
type Drawing struct {
	Frame uint64
	At    core.Position3D
	Text  string
	Color Color
}

// Kinematic is an in-process Client that moves vehicles at constant speed
// along their heading. It exists for offline runs and tests; there is no
// physics, only dead reckoning and a proximity check for collision events.
type Kinematic struct {
	cfg KinematicConfig
	log *slog.Logger

	mu       sync.Mutex
	mapName  string
	settings Settings
	frame    uint64
	nextID   int
	actors   map[int]*actor
	order    []int
	rng      *rand.Rand
	limiter  *rate.Limiter
	drawings []Drawing

	events *queue.Queue[core.Event]
}

// NewKinematic creates a kinematic simulator.
func NewKinematic(cfg KinematicConfig) *Kinematic {
	def := DefaultKinematicConfig()
	if len(cfg.LaneCenters) == 0 {
		cfg.LaneCenters = def.LaneCenters
	}
	if cfg.Length <= 0 {
		cfg.Length = def.Length
	}
	if cfg.SpawnSpacing <= 0 {
		cfg.SpawnSpacing = def.SpawnSpacing
	}
	if cfg.SpeedLimitKMH <= 0 {
		cfg.SpeedLimitKMH = def.SpeedLimitKMH
	}
	if cfg.FixedDelta <= 0 {
		cfg.FixedDelta = def.FixedDelta
	}
	if cfg.CollisionRadius <= 0 {
		cfg.CollisionRadius = def.CollisionRadius
	}
	if cfg.LaneChangeSpeed <= 0 {
		cfg.LaneChangeSpeed = def.LaneChangeSpeed
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Kinematic{
		cfg:     cfg,
		log:     log,
		nextID:  1,
		actors:  make(map[int]*actor),
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		limiter: rate.NewLimiter(rate.Every(cfg.FixedDelta), 1),
		events:  queue.NewBounded[core.Event](4096),
	}
}

func (k *Kinematic) LoadWorld(ctx context.Context, mapName string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.mapName = mapName
	k.actors = make(map[int]*actor)
	k.order = nil
	k.frame = 0
	k.events.Drain()
	k.log.Debug("world loaded", "map", mapName)
	return nil
}

// MapName returns the last loaded map.
func (k *Kinematic) MapName() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.mapName
}

func (k *Kinematic) Settings(ctx context.Context) (Settings, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.settings, nil
}

func (k *Kinematic) ApplySettings(ctx context.Context, s Settings) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.settings = s
	return nil
}

func (k *Kinematic) SpawnPoints(ctx context.Context) ([]core.Pose, error) {
	var out []core.Pose
	rows := int(k.cfg.Length / k.cfg.SpawnSpacing)
	for r := 0; r < rows; r++ {
		y := k.cfg.StartY + float64(r)*k.cfg.SpawnSpacing
		for _, x := range k.cfg.LaneCenters {
			out = append(out, core.Pose{
				Location: core.Position3D{X: x, Y: y, Z: spawnHeight},
				Rotation: core.Rotation{Yaw: 90},
			})
		}
	}
	return out, nil
}

func (k *Kinematic) Blueprints(ctx context.Context, pattern string) ([]Blueprint, error) {
	var out []Blueprint
	for _, bp := range kinematicLibrary {
		ok, err := path.Match(pattern, bp.ID)
		if err != nil {
			return nil, fmt.Errorf("bad blueprint filter %q: %w", pattern, err)
		}
		if ok {
			out = append(out, bp)
		}
	}
	return out, nil
}

func (k *Kinematic) Waypoints(ctx context.Context, spacing float64) ([]Waypoint, error) {
	if spacing <= 0 {
		return nil, fmt.Errorf("waypoint spacing must be positive, got %v", spacing)
	}
	var out []Waypoint
	steps := int(k.cfg.Length / spacing)
	for s := 0; s < steps; s++ {
		y := k.cfg.StartY + float64(s)*spacing
		for i, x := range k.cfg.LaneCenters {
			out = append(out, Waypoint{
				Pose:    core.Pose{Location: core.Position3D{X: x, Y: y}, Rotation: core.Rotation{Yaw: 90}},
				Lane:    core.Lane(-(i + 1)),
				Driving: true,
			})
		}
		out = append(out, Waypoint{
			Pose: core.Pose{Location: core.Position3D{X: sidewalkX, Y: y}, Rotation: core.Rotation{Yaw: 90}},
		})
	}
	return out, nil
}

func (k *Kinematic) RandomNavigationLocation(ctx context.Context) (core.Position3D, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return core.Position3D{
		X: sidewalkX,
		Y: k.cfg.StartY + k.rng.Float64()*k.cfg.Length,
	}, nil
}

func (k *Kinematic) findBlueprint(id string) (Blueprint, bool) {
	for _, bp := range kinematicLibrary {
		if bp.ID == id {
			return bp, true
		}
	}
	return Blueprint{}, false
}

func (k *Kinematic) Spawn(ctx context.Context, req SpawnRequest) (int, error) {
	if _, ok := k.findBlueprint(req.Blueprint); !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownBlueprint, req.Blueprint)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if req.Kind == KindVehicle {
		for _, id := range k.order {
			a := k.actors[id]
			if a.kind != KindVehicle {
				continue
			}
			if sampler.SquaredDistance(a.pose.Location, req.Pose.Location) < k.cfg.CollisionRadius*k.cfg.CollisionRadius {
				return 0, fmt.Errorf("%w: actor %d", ErrSpawnCollision, id)
			}
		}
	}

	a := &actor{
		id:        k.nextID,
		kind:      req.Kind,
		blueprint: req.Blueprint,
		pose:      req.Pose,
		hero:      req.Role == "hero",
		touching:  map[int]bool{},
		traffic: TrafficState{
			AutoLaneChange: req.AutoLaneChange,
			LeadDistance:   req.LeadDistance,
			IgnoreVehicles: req.IgnoreVehicles,
		},
		targetLane: -1,
	}
	if req.Kind == KindVehicle && req.Autopilot {
		a.speed = k.cfg.SpeedLimitKMH / 3.6 * (1 - req.SpeedDifference/100)
	}
	k.nextID++
	k.actors[a.id] = a
	k.order = append(k.order, a.id)

	if a.kind == KindVehicle {
		state := k.stateOf(a)
		k.events.Push(core.Event{
			Kind:    core.EventActorSpawned,
			Frame:   k.frame,
			Time:    time.Now(),
			Actor:   &state,
			ActorID: a.id,
		})
	}
	return a.id, nil
}

func (k *Kinematic) Destroy(ctx context.Context, ids ...int) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	var errs []error
	for _, id := range ids {
		a, ok := k.actors[id]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %d", ErrUnknownActor, id))
			continue
		}
		delete(k.actors, id)
		for i, oid := range k.order {
			if oid == id {
				k.order = append(k.order[:i], k.order[i+1:]...)
				break
			}
		}
		if a.kind == KindVehicle {
			k.events.Push(core.Event{
				Kind:    core.EventActorDestroyed,
				Frame:   k.frame,
				Time:    time.Now(),
				ActorID: id,
			})
		}
	}
	return errors.Join(errs...)
}

func (k *Kinematic) UpdateTraffic(ctx context.Context, id int, u TrafficUpdate) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	a, ok := k.actors[id]
	if !ok || a.kind != KindVehicle {
		return fmt.Errorf("%w: %d", ErrUnknownActor, id)
	}
	a.traffic = u.Apply(a.traffic)
	return nil
}

// Traffic returns the traffic-manager settings of a vehicle.
func (k *Kinematic) Traffic(id int) (TrafficState, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	a, ok := k.actors[id]
	if !ok || a.kind != KindVehicle {
		return TrafficState{}, fmt.Errorf("%w: %d", ErrUnknownActor, id)
	}
	return a.traffic, nil
}

func (k *Kinematic) ForceLaneChange(ctx context.Context, id int, left bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	a, ok := k.actors[id]
	if !ok || a.kind != KindVehicle {
		return fmt.Errorf("%w: %d", ErrUnknownActor, id)
	}

	from := a.targetLane
	if from < 0 {
		from = k.laneIndex(a.pose.Location)
	}
	to := from - 1
	if left {
		to = from + 1
	}
	if from < 0 || to < 0 || to >= len(k.cfg.LaneCenters) {
		k.log.Debug("lane change ignored", "id", id, "left", left, "lane", from)
		return nil
	}
	a.targetLane = to
	return nil
}

// steer moves a vehicle towards the center of its target lane.
func (k *Kinematic) steer(a *actor, dt float64) {
	if a.targetLane < 0 {
		return
	}
	target := k.cfg.LaneCenters[a.targetLane]
	gap := target - a.pose.Location.X
	step := k.cfg.LaneChangeSpeed * dt
	if math.Abs(gap) <= step {
		a.pose.Location.X = target
		a.targetLane = -1
		return
	}
	a.pose.Location.X += math.Copysign(step, gap)
}

func (k *Kinematic) Tick(ctx context.Context) (uint64, error) {
	k.mu.Lock()
	synchronous := k.settings.Synchronous
	k.mu.Unlock()

	if !synchronous {
		if err := k.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	} else if err := ctx.Err(); err != nil {
		return 0, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	dt := k.cfg.FixedDelta.Seconds()
	for _, id := range k.order {
		a := k.actors[id]
		if a.kind != KindVehicle {
			continue
		}
		yaw := a.pose.Rotation.Yaw * math.Pi / 180
		a.pose.Location.X += a.speed * math.Cos(yaw) * dt
		a.pose.Location.Y += a.speed * math.Sin(yaw) * dt
		k.steer(a, dt)
	}
	k.frame++
	k.detectCollisions()
	return k.frame, nil
}

// detectCollisions reports a collision for every hero vehicle that comes
// within the collision radius of another vehicle, once per contact.
func (k *Kinematic) detectCollisions() {
	r2 := k.cfg.CollisionRadius * k.cfg.CollisionRadius
	for _, id := range k.order {
		hero := k.actors[id]
		if !hero.hero {
			continue
		}
		for _, oid := range k.order {
			other := k.actors[oid]
			if oid == id || other.kind != KindVehicle {
				continue
			}
			near := sampler.SquaredDistance(hero.pose.Location, other.pose.Location) < r2
			if near && !hero.touching[oid] {
				k.pushCollision(hero, other)
			}
			hero.touching[oid] = near
		}
	}
}

func (k *Kinematic) pushCollision(hero, other *actor) {
	k.events.Push(core.Event{
		Kind:  core.EventCollision,
		Frame: k.frame,
		Time:  time.Now(),
		Collision: &core.CollisionEvent{
			Frame:     k.frame,
			Time:      time.Now(),
			OtherID:   other.id,
			OtherType: other.blueprint,
			Location:  hero.pose.Location,
		},
		ActorID: hero.id,
	})
}

// InjectCollision reports a collision between a hero vehicle and another actor
// at the current frame.
func (k *Kinematic) InjectCollision(heroID, otherID int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	hero, ok := k.actors[heroID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownActor, heroID)
	}
	other, ok := k.actors[otherID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownActor, otherID)
	}
	k.pushCollision(hero, other)
	return nil
}

func (k *Kinematic) Vehicles(ctx context.Context) ([]core.TrackedVehicle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]core.TrackedVehicle, 0, len(k.order))
	for _, id := range k.order {
		a := k.actors[id]
		if a.kind != KindVehicle {
			continue
		}
		out = append(out, k.stateOf(a))
	}
	return out, nil
}

func (k *Kinematic) stateOf(a *actor) core.TrackedVehicle {
	yaw := a.pose.Rotation.Yaw * math.Pi / 180
	return core.TrackedVehicle{
		ID:       a.id,
		TypeID:   a.blueprint,
		Position: a.pose.Location,
		Velocity: core.Velocity2D{X: a.speed * math.Cos(yaw), Y: a.speed * math.Sin(yaw)},
		Rotation: a.pose.Rotation,
		Lane:     k.laneAt(a.pose.Location),
	}
}

// laneAt resolves the lane whose center is nearest to the location.
func (k *Kinematic) laneAt(p core.Position3D) core.LaneID {
	i := k.laneIndex(p)
	if i < 0 {
		return core.LaneID{}
	}
	return core.Lane(-(i + 1))
}

// laneIndex is the index of the nearest lane center, -1 off the road.
func (k *Kinematic) laneIndex(p core.Position3D) int {
	best, bestDist := -1, math.Inf(1)
	for i, x := range k.cfg.LaneCenters {
		if d := math.Abs(p.X - x); d < bestDist {
			best, bestDist = i, d
		}
	}
	if bestDist > laneHalfSpan {
		return -1
	}
	return best
}

func (k *Kinematic) PollEvents(ctx context.Context) ([]core.Event, error) {
	return k.events.Drain(), nil
}

func (k *Kinematic) DrawPoint(ctx context.Context, at core.Position3D, c Color, lifetime time.Duration) error {
	return k.draw(at, "", c)
}

func (k *Kinematic) DrawString(ctx context.Context, at core.Position3D, text string, c Color, lifetime time.Duration) error {
	return k.draw(at, text, c)
}

func (k *Kinematic) draw(at core.Position3D, text string, c Color) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.drawings) >= 1024 {
		k.drawings = k.drawings[1:]
	}
	k.drawings = append(k.drawings, Drawing{Frame: k.frame, At: at, Text: text, Color: c})
	return nil
}

// Drawings returns the most recent debug shapes.
func (k *Kinematic) Drawings() []Drawing {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]Drawing, len(k.drawings))
	copy(out, k.drawings)
	return out
}

func (k *Kinematic) Close() error {
	return nil
}

var (
	_ Client   = (*Kinematic)(nil)
	_ Debugger = (*Kinematic)(nil)
)
