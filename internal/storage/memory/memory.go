// internal/storage/memory/memory.go
package memory

import (
	"sync"

	"github.com/trafficlab/egorecorder/internal/config"
	"github.com/trafficlab/egorecorder/pkg/core"
)

// Backend keeps session data in memory and exports it as JSON when the
// session ends.
type Backend struct {
	cfg     config.MemoryConfig
	session *core.Session

	snapshots  []core.Snapshot
	collisions []core.CollisionEvent

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{cfg: cfg}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartSession begins recording a new session
func (b *Backend) StartSession(s *core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.session = s
	b.snapshots = nil
	b.collisions = nil
	return nil
}

// EndSession finalizes and exports the session data
func (b *Backend) EndSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil
	}
	return b.exportJSON()
}

// RecordSnapshot stores a copy of the snapshot. Neighbor vehicles are copied
// so later mutations by the caller do not leak in.
func (b *Backend) RecordSnapshot(s *core.Snapshot) error {
	cp := *s
	cp.Neighbors = make([]core.Neighbor, len(s.Neighbors))
	for i, n := range s.Neighbors {
		if n.Vehicle != nil {
			v := *n.Vehicle
			n.Vehicle = &v
		}
		cp.Neighbors[i] = n
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots = append(b.snapshots, cp)
	return nil
}

// RecordCollision stores a collision.
func (b *Backend) RecordCollision(c *core.CollisionEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.collisions = append(b.collisions, *c)
	return nil
}

// Snapshots returns the recorded snapshots in order.
func (b *Backend) Snapshots() []core.Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]core.Snapshot(nil), b.snapshots...)
}

// Collisions returns the recorded collisions in order.
func (b *Backend) Collisions() []core.CollisionEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]core.CollisionEvent(nil), b.collisions...)
}

// ExportedFiles returns the last export, if any.
func (b *Backend) ExportedFiles() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.lastExportPath == "" {
		return nil
	}
	return []string{b.lastExportPath}
}
