package model

import (
	"database/sql"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&World{},
	&Session{},
	&Snapshot{},
	&Collision{},
	&RecorderPerformance{},
}

////////////////////////
// SYSTEM MODELS
////////////////////////

// RecorderPerformance is the model for recorder throughput metrics
type RecorderPerformance struct {
	Time                time.Time `json:"time" gorm:"type:timestamptz;index:idx_time"`
	SessionID           uint      `json:"sessionId" gorm:"index:idx_recorderperformance_session_id"`
	Session             Session   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Frame               uint64    `json:"frame"`
	TrackedVehicles     int       `json:"trackedVehicles"`
	SnapshotsWritten    int       `json:"snapshotsWritten"`
	PendingWrites       int       `json:"pendingWrites"`
	LastWriteDurationMs float32   `json:"lastWriteDurationMs"`
}

func (*RecorderPerformance) TableName() string {
	return "recorder_performances"
}

////////////////////////
// RECORDING MODELS
////////////////////////

// World is a simulator map. Location holds the configured geographic origin.
type World struct {
	gorm.Model
	MapName  string     `json:"mapName" gorm:"size:127;uniqueIndex"`
	Location geom.Point `json:"location"`
	Sessions []Session
}

func (*World) TableName() string {
	return "worlds"
}

// GetOrInsert loads the world with the same map name or inserts w.
func (w *World) GetOrInsert(db *gorm.DB) (
	created bool,
	err error,
) {
	var existingWorld World
	err = db.Where("map_name = ?", w.MapName).First(&existingWorld).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			err = db.Create(w).Error
			return true, err
		}
		return false, err
	}
	*w = existingWorld
	return false, nil
}

// Session is one recording run.
type Session struct {
	gorm.Model
	SessionKey  string       `json:"sessionKey" gorm:"size:64;uniqueIndex"` // uuid assigned by the recorder
	WorldID     uint         `json:"worldId"`
	World       World        `gorm:"foreignkey:WorldID"`
	StartTime   time.Time    `json:"startTime" gorm:"type:timestamptz;index:idx_session_start"`
	EndTime     sql.NullTime `json:"endTime" gorm:"type:timestamptz"`
	EgoID       int          `json:"egoId"`
	EgoType     string       `json:"egoType" gorm:"size:127"`
	Radius      float64      `json:"radius"`
	Neighbors   int          `json:"neighbors"`
	SampleEvery int          `json:"sampleEvery"`
	Autopilot   bool         `json:"autopilot"`
	Velocity    float64      `json:"velocity"`
}

func (*Session) TableName() string {
	return "sessions"
}

// Snapshot is one sampled row: the ego state plus its ranked neighbors.
type Snapshot struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time `json:"time" gorm:"type:timestamptz;"`
	SessionID uint      `json:"sessionId" gorm:"index:idx_snapshot_session_id"`
	Session   Session   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Frame     uint64    `json:"frame" gorm:"index:idx_snapshot_frame"`

	EgoID        int            `json:"egoId"`
	EgoType      string         `json:"egoType" gorm:"size:127"`
	Position     geom.Point     `json:"position"`
	Elevation    float64        `json:"elevation"`
	VelocityX    float64        `json:"velocityX"`
	VelocityY    float64        `json:"velocityY"`
	Yaw          float64        `json:"yaw"`
	Pitch        float64        `json:"pitch"`
	Roll         float64        `json:"roll"`
	LaneID       sql.NullInt32  `json:"laneId"`
	InRadius     int            `json:"inRadius"`
	NeighborData datatypes.JSON `json:"neighbors" gorm:"type:jsonb;default:'[]'"`
}

func (*Snapshot) TableName() string {
	return "snapshots"
}

// Neighbor is the JSON shape of one filled neighbor slot in Snapshot.NeighborData.
type Neighbor struct {
	Slot            int     `json:"slot"`
	ID              int     `json:"id"`
	Type            string  `json:"type"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	Z               float64 `json:"z"`
	VelocityX       float64 `json:"vx"`
	VelocityY       float64 `json:"vy"`
	Yaw             float64 `json:"yaw"`
	Pitch           float64 `json:"pitch"`
	Roll            float64 `json:"roll"`
	LaneID          *int    `json:"laneId"`
	SquaredDistance float64 `json:"squaredDistance"`
}

// Collision is a collision reported by the ego vehicle's sensor.
type Collision struct {
	ID        uint       `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time  `json:"time" gorm:"type:timestamptz;"`
	SessionID uint       `json:"sessionId" gorm:"index:idx_collision_session_id"`
	Session   Session    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Frame     uint64     `json:"frame" gorm:"index:idx_collision_frame"`
	OtherID   int        `json:"otherId"`
	OtherType string     `json:"otherType" gorm:"size:127"`
	Location  geom.Point `json:"location"`
	Elevation float64    `json:"elevation"`
}

func (*Collision) TableName() string {
	return "collisions"
}
