// Package gormstorage implements the storage.Backend interface on GORM with
// internal queues and a background DB writer goroutine. The sqlite and
// postgres backends wrap it.
package gormstorage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trafficlab/egorecorder/internal/database"
	"github.com/trafficlab/egorecorder/internal/model"
	"github.com/trafficlab/egorecorder/internal/model/convert"
	"github.com/trafficlab/egorecorder/internal/queue"
	"github.com/trafficlab/egorecorder/pkg/core"

	"gorm.io/gorm"
)

const defaultFlushInterval = 2 * time.Second

// Dependencies holds all dependencies for the GORM storage backend.
// A nil DB runs the backend in queue-only mode.
type Dependencies struct {
	DB            *gorm.DB
	Logger        *slog.Logger
	Point         convert.PointFunc
	FlushInterval time.Duration
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps Dependencies

	snapshots  *queue.Queue[model.Snapshot]
	collisions *queue.Queue[model.Collision]

	sessionID atomic.Uint64
	session   model.Session

	flushMu  sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = defaultFlushInterval
	}
	return &Backend{deps: deps}
}

// DB returns the underlying connection, nil in queue-only mode.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init creates internal queues, runs schema migration, and starts the DB writer goroutine.
func (b *Backend) Init() error {
	b.snapshots = queue.New[model.Snapshot]()
	b.collisions = queue.New[model.Collision]()
	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})

	if b.deps.DB == nil {
		close(b.done)
		return nil
	}

	b.deps.Logger.Info("Migrating schema", "dialect", b.deps.DB.Name())
	if err := database.Migrate(b.deps.DB); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}

	b.startDBWriter()
	return nil
}

// Close stops the DB writer goroutine after a final flush.
func (b *Backend) Close() error {
	if b.stopChan == nil {
		return nil
	}
	b.stopOnce.Do(func() { close(b.stopChan) })
	<-b.done
	return nil
}

// StartSession gets or inserts the world and creates the session row.
func (b *Backend) StartSession(s *core.Session) error {
	db := b.deps.DB
	if db == nil {
		return nil
	}

	world := model.World{MapName: s.MapName}
	if _, err := world.GetOrInsert(db); err != nil {
		return fmt.Errorf("failed to get or insert world: %w", err)
	}

	session := convert.CoreToSession(*s)
	session.WorldID = world.ID
	if err := db.Create(&session).Error; err != nil {
		return fmt.Errorf("failed to insert new session: %w", err)
	}

	b.session = session
	b.sessionID.Store(uint64(session.ID))
	b.deps.Logger.Info("Session created", "sessionId", session.ID, "world", world.MapName)
	return nil
}

// SessionID returns the database id of the current session, 0 before StartSession.
func (b *Backend) SessionID() uint {
	return uint(b.sessionID.Load())
}

// EndSession flushes pending rows and stamps the session end time.
func (b *Backend) EndSession() error {
	db := b.deps.DB
	if db == nil || b.session.ID == 0 {
		return nil
	}

	if err := b.Flush(); err != nil {
		return err
	}
	end := sql.NullTime{Time: time.Now(), Valid: true}
	if err := db.Model(&b.session).Update("end_time", end).Error; err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return nil
}

// RecordSnapshot converts and queues a snapshot.
func (b *Backend) RecordSnapshot(s *core.Snapshot) error {
	m, err := convert.CoreToSnapshot(*s, b.deps.Point)
	if err != nil {
		return err
	}
	b.snapshots.Push(m)
	return nil
}

// RecordCollision converts and queues a collision.
func (b *Backend) RecordCollision(c *core.CollisionEvent) error {
	m, err := convert.CoreToCollision(*c, b.deps.Point)
	if err != nil {
		return err
	}
	b.collisions.Push(m)
	return nil
}

// RecordPerformance inserts a recorder throughput row synchronously.
func (b *Backend) RecordPerformance(p model.RecorderPerformance) error {
	if b.deps.DB == nil {
		return nil
	}
	p.SessionID = b.SessionID()
	if err := b.deps.DB.Create(&p).Error; err != nil {
		return fmt.Errorf("failed to insert performance row: %w", err)
	}
	return nil
}

// PendingWrites returns how many rows wait for the next flush.
func (b *Backend) PendingWrites() int {
	if b.snapshots == nil {
		return 0
	}
	return b.snapshots.Len() + b.collisions.Len()
}

// Flush writes every queued row now.
func (b *Backend) Flush() error {
	if b.deps.DB == nil {
		return nil
	}
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	sessionID := b.SessionID()
	errSnap := writeQueue(b.deps.DB, b.snapshots, func(items []model.Snapshot) {
		for i := range items {
			items[i].SessionID = sessionID
		}
	})
	errColl := writeQueue(b.deps.DB, b.collisions, func(items []model.Collision) {
		for i := range items {
			items[i].SessionID = sessionID
		}
	})
	if errSnap != nil {
		return fmt.Errorf("error creating snapshots: %w", errSnap)
	}
	if errColl != nil {
		return fmt.Errorf("error creating collisions: %w", errColl)
	}
	return nil
}

// writeQueue writes all items from a queue to the database in a transaction.
// Failed items are pushed back for the next cycle.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], prepare func([]T)) error {
	if q.Empty() {
		return nil
	}

	items := q.Drain()
	if prepare != nil {
		prepare(items)
	}

	tx := db.Begin()
	if err := tx.Create(&items).Error; err != nil {
		tx.Rollback()
		q.Push(items...)
		return err
	}
	return tx.Commit().Error
}

// startDBWriter starts the background goroutine that periodically drains queues into the DB.
func (b *Backend) startDBWriter() {
	go func() {
		defer close(b.done)
		ticker := time.NewTicker(b.deps.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-b.stopChan:
				if err := b.Flush(); err != nil {
					b.deps.Logger.Error("Final flush failed", "error", err)
				}
				return
			case <-ticker.C:
				if b.SessionID() == 0 {
					continue
				}
				if err := b.Flush(); err != nil {
					b.deps.Logger.Error("DB write failed", "error", err)
				}
			}
		}
	}()
}
