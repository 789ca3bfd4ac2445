// Package recorder runs a recording session: it spawns the ego vehicle and the
// background traffic, steps the simulator and writes one neighbor snapshot
// every few ticks.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/trafficlab/egorecorder/internal/cache"
	"github.com/trafficlab/egorecorder/internal/config"
	"github.com/trafficlab/egorecorder/internal/dispatcher"
	"github.com/trafficlab/egorecorder/internal/lanes"
	"github.com/trafficlab/egorecorder/internal/monitor"
	"github.com/trafficlab/egorecorder/internal/sampler"
	"github.com/trafficlab/egorecorder/internal/sim"
	"github.com/trafficlab/egorecorder/internal/spawn"
	"github.com/trafficlab/egorecorder/internal/storage"
	"github.com/trafficlab/egorecorder/pkg/core"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/trafficlab/egorecorder/internal/recorder"

const (
	drawLifetime    = time.Second
	teardownTimeout = 10 * time.Second
	hybridRadius    = 30.0
)

var (
	// ErrNoEgo is returned when the ego vehicle is gone from the registry.
	ErrNoEgo = errors.New("ego vehicle is not tracked")
	// ErrNotSetUp is returned by Step before Setup succeeded.
	ErrNotSetUp = errors.New("recorder is not set up")
)

// Dependencies holds what a recorder needs besides its configuration.
type Dependencies struct {
	Client  sim.Client
	Storage storage.Backend
	// Lanes places the spawned vehicles; nil uses the map waypoints.
	Lanes  *lanes.Table
	Logger *slog.Logger
	// Now stamps snapshots; defaults to time.Now.
	Now func() time.Time
}

// Recorder owns the tick counter, the vehicle registry and the event dispatcher
// of one session.
type Recorder struct {
	sim     config.SimConfig
	sampler *sampler.Sampler
	every   uint64
	deps    Dependencies
	log     *slog.Logger

	vehicles   *cache.VehicleCache
	dispatcher *dispatcher.Dispatcher
	draw       sim.Debugger
	// control is nil when the ego drives on plain autopilot.
	control    *egoControl

	mu           sync.RWMutex
	session      *core.Session
	walkers      []int
	prevSettings sim.Settings
	applied      bool
	ended        bool

	tick             atomic.Uint64
	simFrame         atomic.Uint64
	snapshotsWritten atomic.Int64
	lastWrite        atomic.Int64

	snapshotsCounter metric.Int64Counter
	collisionCounter metric.Int64Counter
	inRadius         metric.Int64Histogram
	writeDuration    metric.Float64Histogram
}

// New creates a recorder. The dispatcher routes collision events to storage and
// keeps the registry in step with spawn and destroy events.
func New(simCfg config.SimConfig, samplerCfg config.SamplerConfig, deps Dependencies) (*Recorder, error) {
	if deps.Client == nil {
		return nil, errors.New("recorder needs a simulator client")
	}
	if deps.Storage == nil {
		return nil, errors.New("recorder needs a storage backend")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	every := samplerCfg.SampleEvery
	if every <= 0 {
		every = 1
	}

	r := &Recorder{
		sim:      simCfg,
		sampler:  sampler.New(samplerCfg.Radius, samplerCfg.Neighbors),
		every:    uint64(every),
		deps:     deps,
		log:      deps.Logger,
		vehicles: cache.NewVehicleCache(),
	}
	if d, ok := deps.Client.(sim.Debugger); ok && simCfg.DebugDraw {
		r.draw = d
	}
	if !simCfg.EgoAutopilot {
		r.control = newEgoControl(deps.Client, simCfg.Sync, simCfg.Seed, deps.Logger)
	}

	if err := r.initMetrics(otel.Meter(instrumentationName)); err != nil {
		return nil, err
	}

	d, err := dispatcher.New(deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	d.Register(core.EventCollision, r.handleCollision, dispatcher.Logged())
	d.Register(core.EventActorSpawned, r.handleSpawned)
	d.Register(core.EventActorDestroyed, r.handleDestroyed)
	r.dispatcher = d

	return r, nil
}

func (r *Recorder) initMetrics(m metric.Meter) error {
	var err error
	r.snapshotsCounter, err = m.Int64Counter(
		"recorder.snapshots.written",
		metric.WithDescription("Neighbor snapshots handed to storage"),
	)
	if err != nil {
		return fmt.Errorf("creating snapshot counter: %w", err)
	}
	r.collisionCounter, err = m.Int64Counter(
		"recorder.collisions",
		metric.WithDescription("Collisions reported for the ego vehicle"),
	)
	if err != nil {
		return fmt.Errorf("creating collision counter: %w", err)
	}
	r.inRadius, err = m.Int64Histogram(
		"recorder.neighbors.in_radius",
		metric.WithDescription("Neighbors inside the sampling radius per snapshot"),
	)
	if err != nil {
		return fmt.Errorf("creating neighbor histogram: %w", err)
	}
	r.writeDuration, err = m.Float64Histogram(
		"recorder.write.duration",
		metric.WithDescription("Time spent handing a snapshot to storage"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("creating write duration histogram: %w", err)
	}
	return nil
}

// Vehicles exposes the registry.
func (r *Recorder) Vehicles() *cache.VehicleCache {
	return r.vehicles
}

// Session returns the running session, nil before Setup.
func (r *Recorder) Session() *core.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session
}

// SessionID returns the running session id or an empty string.
func (r *Recorder) SessionID() string {
	if s := r.Session(); s != nil {
		return s.ID
	}
	return ""
}

// Frame returns the recorder tick counter.
func (r *Recorder) Frame() uint64 {
	return r.tick.Load()
}

// Stats reports the recorder state to the status monitor.
func (r *Recorder) Stats() monitor.Stats {
	return monitor.Stats{
		SessionID:         r.SessionID(),
		Frame:             r.tick.Load(),
		TrackedVehicles:   r.vehicles.Len(),
		SnapshotsWritten:  int(r.snapshotsWritten.Load()),
		LastWriteDuration: time.Duration(r.lastWrite.Load()),
	}
}

// Setup loads the world, applies the stepping settings, spawns every actor
// and starts the storage session.
func (r *Recorder) Setup(ctx context.Context) error {
	c := r.deps.Client

	if r.sim.Map != "" {
		if err := c.LoadWorld(ctx, r.sim.Map); err != nil {
			return fmt.Errorf("failed to load world %s: %w", r.sim.Map, err)
		}
	}

	if err := r.applySettings(ctx); err != nil {
		return err
	}

	planner := spawn.NewPlanner(spawn.Config{
		Vehicles:          r.sim.Vehicles,
		Walkers:           r.sim.Walkers,
		Filter:            r.sim.Filter,
		WalkerFilter:      r.sim.WalkerFilter,
		Safe:              r.sim.Safe,
		EgoAutoLaneChange: r.sim.EgoAutopilot,
		Velocity:          r.sim.Velocity,
		Seed:              r.sim.Seed,
	}, r.deps.Lanes, r.log)
	plan, err := planner.Plan(ctx, c)
	if err != nil {
		return fmt.Errorf("failed to plan spawns: %w", err)
	}

	egoID, err := c.Spawn(ctx, plan.Ego)
	if err != nil {
		return fmt.Errorf("failed to spawn ego vehicle: %w", err)
	}
	r.trackSpawn(egoID, plan.Ego)
	if err := r.vehicles.SetEgo(egoID); err != nil {
		return err
	}

	for _, req := range plan.Traffic {
		id, err := c.Spawn(ctx, req)
		if errors.Is(err, sim.ErrSpawnCollision) {
			r.log.Warn("skipping vehicle", "blueprint", req.Blueprint, "error", err)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to spawn %s: %w", req.Blueprint, err)
		}
		r.trackSpawn(id, req)
	}

	for _, req := range plan.Walkers {
		id, err := c.Spawn(ctx, req)
		if err != nil {
			r.log.Warn("skipping walker", "blueprint", req.Blueprint, "error", err)
			continue
		}
		r.mu.Lock()
		r.walkers = append(r.walkers, id)
		r.mu.Unlock()
	}

	states, err := c.Vehicles(ctx)
	if err != nil {
		return fmt.Errorf("failed to read vehicle states: %w", err)
	}
	r.vehicles.Sync(states)

	session := &core.Session{
		ID:          uuid.NewString(),
		MapName:     r.sim.Map,
		StartTime:   r.deps.Now(),
		EgoID:       egoID,
		EgoType:     plan.Ego.Blueprint,
		Radius:      r.sampler.Radius(),
		Neighbors:   r.sampler.K(),
		SampleEvery: int(r.every),
		Autopilot:   r.sim.EgoAutopilot,
		Velocity:    r.sim.Velocity,
	}
	if err := r.deps.Storage.StartSession(session); err != nil {
		return fmt.Errorf("failed to start storage session: %w", err)
	}

	r.mu.Lock()
	r.session = session
	r.mu.Unlock()

	r.log.Info("recording session started",
		"session", session.ID,
		"map", session.MapName,
		"ego", egoID,
		"vehicles", r.vehicles.Len(),
		"walkers", len(r.walkers),
	)
	return nil
}

func (r *Recorder) applySettings(ctx context.Context) error {
	if !r.sim.Sync && !r.sim.Hybrid {
		return nil
	}
	c := r.deps.Client
	prev, err := c.Settings(ctx)
	if err != nil {
		return fmt.Errorf("failed to read world settings: %w", err)
	}
	next := prev
	next.HybridPhysics = r.sim.Hybrid
	if r.sim.Hybrid {
		next.HybridRadius = hybridRadius
	}
	if r.sim.Sync {
		next.Synchronous = true
		next.FixedDelta = r.sim.FixedDelta
	}
	if err := c.ApplySettings(ctx, next); err != nil {
		return fmt.Errorf("failed to apply world settings: %w", err)
	}

	r.mu.Lock()
	r.prevSettings = prev
	r.applied = true
	r.mu.Unlock()
	return nil
}

func (r *Recorder) trackSpawn(id int, req sim.SpawnRequest) {
	r.vehicles.Track(core.TrackedVehicle{
		ID:       id,
		TypeID:   req.Blueprint,
		Position: req.Pose.Location,
		Rotation: req.Pose.Rotation,
	})
}

// Step advances the simulator one tick, refreshes the registry, drains the
// event queue and samples when the tick counter reaches the sampling interval.
func (r *Recorder) Step(ctx context.Context) error {
	if r.Session() == nil {
		return ErrNotSetUp
	}
	c := r.deps.Client

	simFrame, err := c.Tick(ctx)
	if err != nil {
		return fmt.Errorf("tick failed: %w", err)
	}
	r.simFrame.Store(simFrame)
	tick := r.tick.Add(1)

	states, err := c.Vehicles(ctx)
	if err != nil {
		return fmt.Errorf("failed to read vehicle states: %w", err)
	}
	if missing := r.vehicles.Sync(states); len(missing) > 0 {
		r.log.Debug("tracked vehicles missing from snapshot", "ids", missing)
	}

	events, err := c.PollEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to poll events: %w", err)
	}
	if err := r.dispatcher.DispatchAll(events); err != nil {
		r.log.Error("event handling failed", "error", err)
	}

	ego, ok := r.vehicles.Ego()
	if !ok {
		return ErrNoEgo
	}
	if r.draw != nil {
		if err := r.draw.DrawPoint(ctx, ego.Position, sim.Blue, drawLifetime); err != nil {
			r.log.Debug("debug draw failed", "error", err)
		}
	}
	if r.control != nil {
		if err := r.control.step(ctx, ego.ID, tick); err != nil {
			r.log.Warn("ego control failed", "tick", tick, "error", err)
		}
	}

	if tick%r.every != 0 {
		return nil
	}
	return r.sample(ctx, tick, ego)
}

func (r *Recorder) sample(ctx context.Context, tick uint64, ego core.TrackedVehicle) error {
	snap := r.sampler.Sample(tick, ego, r.vehicles.Candidates())
	snap.Time = r.deps.Now()

	if r.draw != nil {
		for _, n := range snap.Neighbors {
			if n.IsSentinel() {
				continue
			}
			if err := r.draw.DrawString(ctx, n.Vehicle.Position, "O", sim.Red, drawLifetime); err != nil {
				r.log.Debug("debug draw failed", "error", err)
				break
			}
		}
	}

	start := time.Now()
	err := r.deps.Storage.RecordSnapshot(&snap)
	elapsed := time.Since(start)
	r.lastWrite.Store(int64(elapsed))
	r.writeDuration.Record(ctx, float64(elapsed.Microseconds())/1000)
	if err != nil {
		r.log.Error("failed to record snapshot", "frame", tick, "error", err)
		return nil
	}

	r.snapshotsWritten.Add(1)
	r.snapshotsCounter.Add(ctx, 1)
	r.inRadius.Record(ctx, int64(snap.InRadius()))
	return nil
}

func (r *Recorder) handleCollision(e core.Event) error {
	if e.Collision == nil {
		return fmt.Errorf("collision event at frame %d has no payload", e.Frame)
	}
	c := *e.Collision
	if c.Time.IsZero() {
		c.Time = r.deps.Now()
	}
	r.collisionCounter.Add(context.Background(), 1)
	r.log.Warn("ego collision",
		"frame", c.Frame,
		"other", c.OtherID,
		"otherType", c.OtherType,
	)
	if err := r.deps.Storage.RecordCollision(&c); err != nil {
		return fmt.Errorf("failed to record collision: %w", err)
	}
	return nil
}

// handleSpawned refreshes the state of vehicles the recorder spawned; other
// actors are not tracked.
func (r *Recorder) handleSpawned(e core.Event) error {
	if e.Actor == nil {
		return nil
	}
	if _, ok := r.vehicles.Get(e.ActorID); ok {
		r.vehicles.Track(*e.Actor)
	}
	return nil
}

func (r *Recorder) handleDestroyed(e core.Event) error {
	egoID, hasEgo := r.vehicles.EgoID()
	if r.vehicles.Remove(e.ActorID) && hasEgo && egoID == e.ActorID {
		r.log.Warn("ego vehicle destroyed", "id", e.ActorID, "frame", e.Frame)
	}
	return nil
}

// Run sets up the session and steps until ctx is done, the configured number
// of ticks is reached or the ego vehicle disappears. Teardown always runs.
func (r *Recorder) Run(ctx context.Context) (err error) {
	defer func() {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		defer cancel()
		if terr := r.Teardown(tctx); terr != nil {
			err = errors.Join(err, terr)
		}
	}()

	if err := r.Setup(ctx); err != nil {
		return err
	}

	for r.sim.Ticks <= 0 || r.tick.Load() < uint64(r.sim.Ticks) {
		if err := r.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	r.log.Info("tick limit reached", "ticks", r.tick.Load())
	return nil
}

// Teardown restores the world settings, destroys every spawned actor that is
// still tracked and ends the storage session.
func (r *Recorder) Teardown(ctx context.Context) error {
	c := r.deps.Client
	var errs []error

	r.mu.Lock()
	applied, prev := r.applied, r.prevSettings
	r.applied = false
	walkers := r.walkers
	r.walkers = nil
	session := r.session
	if session != nil && r.ended {
		session = nil
	}
	r.ended = true
	r.mu.Unlock()
	vehicles := r.vehicles.IDs()
	r.vehicles.Reset()

	if applied {
		if err := c.ApplySettings(ctx, prev); err != nil {
			errs = append(errs, fmt.Errorf("failed to restore world settings: %w", err))
		}
	}

	r.log.Info("destroying actors", "vehicles", len(vehicles), "walkers", len(walkers))
	if err := c.Destroy(ctx, append(vehicles, walkers...)...); err != nil && !errors.Is(err, sim.ErrUnknownActor) {
		errs = append(errs, fmt.Errorf("failed to destroy actors: %w", err))
	}

	r.dispatcher.Close()

	if session != nil {
		if err := r.deps.Storage.EndSession(); err != nil {
			errs = append(errs, fmt.Errorf("failed to end storage session: %w", err))
		}
		r.log.Info("recording session ended",
			"session", session.ID,
			"ticks", r.tick.Load(),
			"snapshots", r.snapshotsWritten.Load(),
		)
	}
	return errors.Join(errs...)
}
