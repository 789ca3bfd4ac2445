// Package csvfile writes the neighbor dataset and the collision log as CSV
// files. Existing files are appended to; the header is written only when a
// file is created.
package csvfile

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/trafficlab/egorecorder/internal/sampler"
	"github.com/trafficlab/egorecorder/pkg/core"
)

// CollisionHeader is the header of the collision log.
var CollisionHeader = []string{"frame", "actor id", "actor type", "location x", "location y", "location z"}

// Config names the output files.
type Config struct {
	Dir           string
	VehiclesFile  string
	CollisionFile string
}

type csvFile struct {
	path string
	f    *os.File
	w    *csv.Writer
}

func openAppend(path string, header []string) (*csvFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	cf := &csvFile{path: path, f: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := cf.write(header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return cf, nil
}

func (c *csvFile) write(record []string) error {
	if err := c.w.Write(record); err != nil {
		return fmt.Errorf("failed to write %s: %w", c.path, err)
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *csvFile) close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		c.f.Close()
		return err
	}
	return c.f.Close()
}

// Backend appends one row per snapshot and one per collision.
type Backend struct {
	cfg Config

	mu         sync.Mutex
	neighbors  int
	vehicles   *csvFile
	collisions *csvFile
	written    []string
}

// New creates a CSV backend.
func New(cfg Config) *Backend {
	return &Backend{cfg: cfg}
}

// VehiclesPath returns the dataset file path.
func (b *Backend) VehiclesPath() string {
	return filepath.Join(b.cfg.Dir, b.cfg.VehiclesFile)
}

// CollisionPath returns the collision log path.
func (b *Backend) CollisionPath() string {
	return filepath.Join(b.cfg.Dir, b.cfg.CollisionFile)
}

// Init creates the output directory.
func (b *Backend) Init() error {
	if b.cfg.VehiclesFile == "" || b.cfg.CollisionFile == "" {
		return fmt.Errorf("csv backend needs both file names")
	}
	if err := os.MkdirAll(b.cfg.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

// StartSession opens both files. The dataset header has s.Neighbors slots.
func (b *Backend) StartSession(s *core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.closeFiles(); err != nil {
		return err
	}

	vehicles, err := openAppend(b.VehiclesPath(), sampler.Header(s.Neighbors))
	if err != nil {
		return err
	}
	// the collision log is opened on first use so quiet sessions leave no file
	b.vehicles = vehicles
	b.neighbors = s.Neighbors
	b.written = []string{b.VehiclesPath()}
	return nil
}

// EndSession flushes and closes both files.
func (b *Backend) EndSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeFiles()
}

// Close releases any open file.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeFiles()
}

func (b *Backend) closeFiles() error {
	var err error
	if b.vehicles != nil {
		err = b.vehicles.close()
		b.vehicles = nil
	}
	if b.collisions != nil {
		if cerr := b.collisions.close(); err == nil {
			err = cerr
		}
		b.collisions = nil
	}
	return err
}

// RecordSnapshot appends one dataset row.
func (b *Backend) RecordSnapshot(s *core.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.vehicles == nil {
		return fmt.Errorf("no session started")
	}
	if len(s.Neighbors) != b.neighbors {
		return fmt.Errorf("snapshot at frame %d has %d neighbor slots, header has %d",
			s.Frame, len(s.Neighbors), b.neighbors)
	}
	return b.vehicles.write(sampler.Row(*s))
}

// RecordCollision appends one collision row.
func (b *Backend) RecordCollision(c *core.CollisionEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.vehicles == nil {
		return fmt.Errorf("no session started")
	}
	if b.collisions == nil {
		cf, err := openAppend(b.CollisionPath(), CollisionHeader)
		if err != nil {
			return err
		}
		b.collisions = cf
		b.written = append(b.written, b.CollisionPath())
	}
	return b.collisions.write(CollisionRow(*c))
}

// ExportedFiles returns the files written in the last session.
func (b *Backend) ExportedFiles() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.written...)
}

// CollisionRow flattens a collision into the log columns.
func CollisionRow(c core.CollisionEvent) []string {
	return []string{
		strconv.FormatUint(c.Frame, 10),
		strconv.Itoa(c.OtherID),
		c.OtherType,
		sampler.FormatFloat(c.Location.X),
		sampler.FormatFloat(c.Location.Y),
		sampler.FormatFloat(c.Location.Z),
	}
}
