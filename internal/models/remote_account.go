package models

import (
	"time"

	"gorm.io/datatypes"
)

// RemoteAccount is the shared id-info table: one row per remote id the
// engine has ever seen, whether or not it belongs to a local User. The
// fetcher inserts bare UIDs; profile details are filled in later by the
// (external) profile hydrator and must never be clobbered back to empty by
// concurrent fetches.
type RemoteAccount struct {
	UID         string         `gorm:"primaryKey;size:30" json:"uid"`
	ScreenName  string         `gorm:"size:60;index" json:"screen_name"`
	Profile     datatypes.JSON `gorm:"type:jsonb;default:'{}'" json:"profile"`
	Suspended   bool           `gorm:"not null;default:false" json:"suspended"`
	Deactivated bool           `gorm:"not null;default:false" json:"deactivated"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
