package models

import (
	"time"

	"github.com/google/uuid"
)

// Pagination cursor sentinels used by the remote block-list API.
const (
	CursorStart = "-1"
	CursorEnd   = "0"
)

// BlockSnapshot is one pull of a user's current remote block set. Cursor is
// persisted after every page so an interrupted fetch resumes where it left
// off instead of starting over. The "latest" snapshot for a user is the
// complete one with the newest updated_at; superseded snapshots stay around
// for audit until retention reclaims them.
type BlockSnapshot struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SourceUID string    `gorm:"size:30;not null;index:idx_snapshots_source_updated" json:"source_uid"`
	Cursor    string    `gorm:"size:64;not null;default:'-1'" json:"cursor"`
	Complete  bool      `gorm:"not null;default:false" json:"complete"`
	Size      int       `gorm:"not null;default:0" json:"size"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index:idx_snapshots_source_updated" json:"updated_at"`
}

func (BlockSnapshot) TableName() string { return "block_snapshots" }

// Relationship is one blocked remote id within a snapshot. It has no
// lifecycle of its own and is deleted only together with its snapshot.
type Relationship struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SnapshotID uuid.UUID `gorm:"type:uuid;not null;index" json:"snapshot_id"`
	SinkUID    string    `gorm:"size:30;not null" json:"sink_uid"`
}

func (Relationship) TableName() string { return "relationships" }
