// Package sampler selects the nearest vehicles around the ego vehicle and
// flattens them into fixed-width dataset rows.
package sampler

import (
	"cmp"
	"slices"

	"github.com/trafficlab/egorecorder/pkg/core"
	"gonum.org/v1/gonum/spatial/r3"
)

// Defaults used by the dataset scripts: 15 neighbors within 50 meters.
const (
	DefaultRadius    = 50.0
	DefaultNeighbors = 15
)

// Sampler ranks candidate vehicles by squared distance to a reference vehicle.
// It holds no per-frame state and may be shared between goroutines.
type Sampler struct {
	radius   float64
	radiusSq float64
	k        int
}

// New creates a sampler keeping at most k neighbors within radius meters.
func New(radius float64, k int) *Sampler {
	if k < 0 {
		k = 0
	}
	return &Sampler{
		radius:   radius,
		radiusSq: radius * radius,
		k:        k,
	}
}

// Radius returns the inclusion radius in meters.
func (s *Sampler) Radius() float64 { return s.radius }

// K returns the number of neighbor slots per snapshot.
func (s *Sampler) K() int { return s.k }

// SquaredDistance returns the squared 3D Euclidean distance between a and b.
func SquaredDistance(a, b core.Position3D) float64 {
	return r3.Norm2(r3.Sub(toVec(a), toVec(b)))
}

func toVec(p core.Position3D) r3.Vec {
	return r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
}

type ranked struct {
	idx    int
	distSq float64
}

// Sample builds the snapshot for one frame. The reference vehicle must not be
// part of candidates. Candidates within the radius are ordered by ascending
// squared distance, ties keeping their input order; only the nearest K are
// kept and the remaining slots are padded with sentinels.
func (s *Sampler) Sample(frame uint64, ref core.TrackedVehicle, candidates []core.TrackedVehicle) core.Snapshot {
	origin := toVec(ref.Position)

	inRadius := make([]ranked, 0, len(candidates))
	for i := range candidates {
		d := r3.Norm2(r3.Sub(toVec(candidates[i].Position), origin))
		if d <= s.radiusSq {
			inRadius = append(inRadius, ranked{idx: i, distSq: d})
		}
	}

	slices.SortStableFunc(inRadius, func(a, b ranked) int {
		return cmp.Compare(a.distSq, b.distSq)
	})

	if len(inRadius) > s.k {
		inRadius = inRadius[:s.k]
	}

	neighbors := make([]core.Neighbor, s.k)
	for i, r := range inRadius {
		v := candidates[r.idx]
		neighbors[i] = core.Neighbor{Vehicle: &v, SquaredDistance: r.distSq}
	}

	return core.Snapshot{
		Frame:     frame,
		Reference: ref,
		Neighbors: neighbors,
	}
}
