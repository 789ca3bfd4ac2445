package storage

import (
	"errors"

	"github.com/trafficlab/egorecorder/internal/model"
	"github.com/trafficlab/egorecorder/pkg/core"
)

// ErrUnknownType is returned by the factory for an unrecognised backend name.
var ErrUnknownType = errors.New("unknown storage type")

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Session management
	StartSession(s *core.Session) error
	EndSession() error

	// Recording
	RecordSnapshot(s *core.Snapshot) error
	RecordCollision(c *core.CollisionEvent) error
}

// Uploadable is an optional interface for storage backends that produce
// files suitable for upload once the session ends.
type Uploadable interface {
	ExportedFiles() []string
}

// Pending is an optional interface for backends that write asynchronously.
type Pending interface {
	PendingWrites() int
}

// PerformanceRecorder is an optional interface for backends that store
// recorder throughput samples.
type PerformanceRecorder interface {
	RecordPerformance(p model.RecorderPerformance) error
}

// Multi fans every call out to all backends. Errors are joined; one failing
// backend does not stop the others.
type Multi struct {
	backends []Backend
}

// NewMulti wraps backends.
func NewMulti(backends ...Backend) *Multi {
	return &Multi{backends: backends}
}

// Backends returns the wrapped backends.
func (m *Multi) Backends() []Backend {
	return m.backends
}

func (m *Multi) each(f func(Backend) error) error {
	var errs []error
	for _, b := range m.backends {
		if err := f(b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Init() error {
	return m.each(Backend.Init)
}

func (m *Multi) Close() error {
	return m.each(Backend.Close)
}

func (m *Multi) StartSession(s *core.Session) error {
	return m.each(func(b Backend) error { return b.StartSession(s) })
}

func (m *Multi) EndSession() error {
	return m.each(Backend.EndSession)
}

func (m *Multi) RecordSnapshot(s *core.Snapshot) error {
	return m.each(func(b Backend) error { return b.RecordSnapshot(s) })
}

func (m *Multi) RecordCollision(c *core.CollisionEvent) error {
	return m.each(func(b Backend) error { return b.RecordCollision(c) })
}

// ExportedFiles collects the files of every Uploadable backend.
func (m *Multi) ExportedFiles() []string {
	var files []string
	for _, b := range m.backends {
		if u, ok := b.(Uploadable); ok {
			files = append(files, u.ExportedFiles()...)
		}
	}
	return files
}

// PendingWrites sums the queued writes of every asynchronous backend.
func (m *Multi) PendingWrites() int {
	n := 0
	for _, b := range m.backends {
		if p, ok := b.(Pending); ok {
			n += p.PendingWrites()
		}
	}
	return n
}

// RecordPerformance forwards the sample to every PerformanceRecorder backend.
func (m *Multi) RecordPerformance(p model.RecorderPerformance) error {
	return m.each(func(b Backend) error {
		if r, ok := b.(PerformanceRecorder); ok {
			return r.RecordPerformance(p)
		}
		return nil
	})
}
