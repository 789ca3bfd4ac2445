package cache

import (
	"errors"
	"sync"

	"github.com/trafficlab/egorecorder/pkg/core"
)

// ErrUnknownVehicle is returned when an operation names a vehicle that is not tracked.
var ErrUnknownVehicle = errors.New("unknown vehicle")

// VehicleCache holds the latest state of every tracked vehicle, in spawn order.
// Spawn order is the enumeration order handed to the sampler, so equal
// distances always rank the same way.
type VehicleCache struct {
	m        sync.Mutex
	order    []int
	vehicles map[int]core.TrackedVehicle
	egoID    int
	hasEgo   bool
}

func NewVehicleCache() *VehicleCache {
	return &VehicleCache{
		vehicles: make(map[int]core.TrackedVehicle),
	}
}

// Reset forgets every vehicle and the ego designation.
func (c *VehicleCache) Reset() {
	c.m.Lock()
	defer c.m.Unlock()
	c.order = nil
	c.vehicles = make(map[int]core.TrackedVehicle)
	c.egoID = 0
	c.hasEgo = false
}

// Track starts tracking a spawned vehicle. Tracking an id twice only refreshes its state.
func (c *VehicleCache) Track(v core.TrackedVehicle) {
	c.m.Lock()
	defer c.m.Unlock()
	if _, ok := c.vehicles[v.ID]; !ok {
		c.order = append(c.order, v.ID)
	}
	c.vehicles[v.ID] = v
}

// SetEgo designates a tracked vehicle as the reference vehicle.
func (c *VehicleCache) SetEgo(id int) error {
	c.m.Lock()
	defer c.m.Unlock()
	if _, ok := c.vehicles[id]; !ok {
		return ErrUnknownVehicle
	}
	c.egoID = id
	c.hasEgo = true
	return nil
}

// EgoID returns the reference vehicle id, if one is set.
func (c *VehicleCache) EgoID() (int, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	return c.egoID, c.hasEgo
}

// Remove drops a vehicle. Removing the ego clears the ego designation.
func (c *VehicleCache) Remove(id int) bool {
	c.m.Lock()
	defer c.m.Unlock()
	if _, ok := c.vehicles[id]; !ok {
		return false
	}
	delete(c.vehicles, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if c.hasEgo && c.egoID == id {
		c.hasEgo = false
		c.egoID = 0
	}
	return true
}

func (c *VehicleCache) Get(id int) (core.TrackedVehicle, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	v, ok := c.vehicles[id]
	return v, ok
}

func (c *VehicleCache) Len() int {
	c.m.Lock()
	defer c.m.Unlock()
	return len(c.vehicles)
}

// IDs returns the tracked ids in spawn order.
func (c *VehicleCache) IDs() []int {
	c.m.Lock()
	defer c.m.Unlock()
	out := make([]int, len(c.order))
	copy(out, c.order)
	return out
}

// Sync refreshes tracked vehicles from a simulator snapshot. States for
// untracked actors are ignored. It returns the tracked ids that were absent
// from the snapshot; those keep their previous state until a destroy event.
func (c *VehicleCache) Sync(states []core.TrackedVehicle) (missing []int) {
	c.m.Lock()
	defer c.m.Unlock()

	seen := make(map[int]struct{}, len(states))
	for _, s := range states {
		if _, ok := c.vehicles[s.ID]; !ok {
			continue
		}
		c.vehicles[s.ID] = s
		seen[s.ID] = struct{}{}
	}
	for _, id := range c.order {
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// Ego returns the reference vehicle state.
func (c *VehicleCache) Ego() (core.TrackedVehicle, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	if !c.hasEgo {
		return core.TrackedVehicle{}, false
	}
	v, ok := c.vehicles[c.egoID]
	return v, ok
}

// Candidates returns every tracked vehicle except the ego, in spawn order.
func (c *VehicleCache) Candidates() []core.TrackedVehicle {
	c.m.Lock()
	defer c.m.Unlock()
	out := make([]core.TrackedVehicle, 0, len(c.order))
	for _, id := range c.order {
		if c.hasEgo && id == c.egoID {
			continue
		}
		out = append(out, c.vehicles[id])
	}
	return out
}
