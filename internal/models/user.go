package models

import (
	"time"
)

// User is one account the engine synchronizes against the remote
// social-graph service. The primary key is the remote id, stored as an
// opaque string: remote ids exceed float64 precision, so they must never
// pass through a numeric type.
type User struct {
	UID               string     `gorm:"primaryKey;size:30" json:"uid"`
	BlockNewAccounts  bool       `gorm:"not null;default:false" json:"block_new_accounts"`
	BlockLowFollowers bool       `gorm:"not null;default:false" json:"block_low_followers"`
	FollowBlockers    bool       `gorm:"not null;default:false" json:"follow_blockers"`
	DeactivatedAt     *time.Time `gorm:"index" json:"deactivated_at"`
	PendingActions    bool       `gorm:"not null;default:false;index" json:"pending_actions"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Active reports whether the user participates in fetch, processing and
// fanout. Deactivated users are skipped everywhere until credential
// verification clears DeactivatedAt.
func (u *User) Active() bool {
	return u.DeactivatedAt == nil
}
