package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/trafficlab/egorecorder/internal/model"
	"github.com/trafficlab/egorecorder/internal/storage"
)

// Stats is the recorder state sampled on every monitor tick.
type Stats struct {
	SessionID         string
	Frame             uint64
	TrackedVehicles   int
	SnapshotsWritten  int
	LastWriteDuration time.Duration
}

// Status is the JSON document written to the status file.
type Status struct {
	Time                time.Time `json:"time"`
	SessionID           string    `json:"sessionId"`
	Frame               uint64    `json:"frame"`
	TrackedVehicles     int       `json:"trackedVehicles"`
	SnapshotsWritten    int       `json:"snapshotsWritten"`
	PendingWrites       int       `json:"pendingWrites"`
	LastWriteDurationMs float32   `json:"lastWriteDurationMs"`
}

// StatsProvider is implemented by the recorder.
type StatsProvider interface {
	Stats() Stats
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Logger   *slog.Logger
	Recorder StatsProvider
	// Storage receives performance rows when it implements
	// storage.PerformanceRecorder; pending writes are read when it
	// implements storage.Pending.
	Storage    storage.Backend
	Interval   time.Duration
	StatusFile string
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = 10 * time.Second
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetProgramStatus returns the current status as indented JSON and as a
// performance row.
func (s *Service) GetProgramStatus() (output string, perf model.RecorderPerformance) {
	stats := s.deps.Recorder.Stats()

	pending := 0
	if p, ok := s.deps.Storage.(storage.Pending); ok {
		pending = p.PendingWrites()
	}

	perf = model.RecorderPerformance{
		Time:                time.Now(),
		Frame:               stats.Frame,
		TrackedVehicles:     stats.TrackedVehicles,
		SnapshotsWritten:    stats.SnapshotsWritten,
		PendingWrites:       pending,
		LastWriteDurationMs: float32(stats.LastWriteDuration.Microseconds()) / 1000,
	}

	status := Status{
		Time:                perf.Time,
		SessionID:           stats.SessionID,
		Frame:               perf.Frame,
		TrackedVehicles:     perf.TrackedVehicles,
		SnapshotsWritten:    perf.SnapshotsWritten,
		PendingWrites:       perf.PendingWrites,
		LastWriteDurationMs: perf.LastWriteDurationMs,
	}

	b, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		b = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
	}
	return string(b), perf
}

// Report writes one status sample. Nothing is reported before a session starts.
func (s *Service) Report() error {
	stats := s.deps.Recorder.Stats()
	if stats.SessionID == "" {
		return nil
	}

	status, perf := s.GetProgramStatus()
	s.deps.Logger.Debug("recorder status",
		"frame", perf.Frame,
		"trackedVehicles", perf.TrackedVehicles,
		"snapshotsWritten", perf.SnapshotsWritten,
		"pendingWrites", perf.PendingWrites,
		"lastWriteMs", perf.LastWriteDurationMs,
	)

	if s.deps.StatusFile != "" {
		if err := writeStatusFile(s.deps.StatusFile, status); err != nil {
			return err
		}
	}

	if r, ok := s.deps.Storage.(storage.PerformanceRecorder); ok {
		if err := r.RecordPerformance(perf); err != nil {
			return fmt.Errorf("failed to record performance: %w", err)
		}
	}
	return nil
}

func writeStatusFile(path, status string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(status+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write status file: %w", err)
	}
	return nil
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)

		logger := s.deps.Logger
		logger.Debug("Starting status monitor goroutine", "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := s.Report(); err != nil {
					logger.Error("Error reporting recorder status", "error", err)
				}
			}
		}
	}()

	return nil
}

// Run starts the monitor and blocks until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop stops the status monitor and waits for the goroutine to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	s.isRunning = false
	done := s.done
	s.mu.Unlock()
	<-done
}
