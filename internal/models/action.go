package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action types.
const (
	TypeBlock   = "block"
	TypeUnblock = "unblock"
)

// Action causes: why the action exists. CauseUID attributes subscription
// actions to the author whose list triggered them.
const (
	CauseExternal        = "external"
	CauseSubscription    = "subscription"
	CauseBulkManualBlock = "bulk-manual-block"
)

// Action statuses. pending is the only initial state; done and cancelled-*
// are terminal; deferred-* may transition exactly once more, either back to
// pending on retry or to a terminal state.
const (
	StatusPending                 = "pending"
	StatusDone                    = "done"
	StatusCancelledFollowing      = "cancelled-following"
	StatusCancelledSuspended      = "cancelled-suspended"
	StatusCancelledDuplicate      = "cancelled-duplicate"
	StatusCancelledUnblocked      = "cancelled-unblocked"
	StatusCancelledSelf           = "cancelled-self"
	StatusDeferredTargetSuspended = "deferred-target-suspended"
	StatusDeferredSourceDeactive  = "deferred-source-deactivated"
)

// Action is one intended or observed block/unblock mutation in the log.
type Action struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SourceUID string    `gorm:"size:30;not null;index:idx_actions_source_status,priority:1;index:idx_actions_source_sink,priority:1" json:"source_uid"`
	SinkUID   string    `gorm:"size:30;not null;index:idx_actions_source_sink,priority:2" json:"sink_uid"`
	Type      string    `gorm:"size:10;not null" json:"type"`
	Status    string    `gorm:"size:30;not null;default:'pending';index:idx_actions_source_status,priority:2" json:"status"`
	Cause     string    `gorm:"size:20;not null" json:"cause"`
	CauseUID  string    `gorm:"size:30" json:"cause_uid,omitempty"`
	CreatedAt time.Time `gorm:"index:idx_actions_source_status,priority:3" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Action) TableName() string { return "actions" }

// Terminal reports whether the status is final. Terminal actions are never
// re-transitioned, only deleted by retention.
func (a *Action) Terminal() bool {
	return a.Status == StatusDone || strings.HasPrefix(a.Status, "cancelled-")
}

// Deferred reports whether the action is parked for a later retry.
func (a *Action) Deferred() bool {
	return strings.HasPrefix(a.Status, "deferred-")
}

// ValidType reports whether t is a known action type.
func ValidType(t string) bool {
	return t == TypeBlock || t == TypeUnblock
}

// ValidCause reports whether c is a known action cause.
func ValidCause(c string) bool {
	return c == CauseExternal || c == CauseSubscription || c == CauseBulkManualBlock
}
