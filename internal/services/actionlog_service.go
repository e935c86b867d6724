package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jsha/blocktogether/internal/models"
	"gorm.io/gorm"
)

var (
	ErrInvalidActionType  = errors.New("invalid action type: must be block or unblock")
	ErrInvalidCause       = errors.New("invalid action cause")
	ErrMissingCauseUID    = errors.New("cause_uid is required for subscription-caused actions")
	ErrUnknownCauseAuthor = errors.New("cause_uid does not match a subscription held by the source user")
	ErrTerminalStatus     = errors.New("action already in a terminal status")
	ErrUnknownStatus      = errors.New("unknown action status")
)

// ActionLogService owns the durable mutation log: enqueue, queries and the
// status state machine. All other components mutate actions only through
// Transition, so every state change is a single auditable row update.
type ActionLogService struct {
	db *gorm.DB
}

func NewActionLogService(db *gorm.DB) *ActionLogService {
	return &ActionLogService{db: db}
}

// Enqueue creates one pending action per target and flags the source user
// as having outstanding work. An empty target list is a no-op.
func (s *ActionLogService) Enqueue(ctx context.Context, sourceUID string, targets []string, typ, cause, causeUID string) ([]models.Action, error) {
	if !models.ValidType(typ) {
		return nil, ErrInvalidActionType
	}
	if !models.ValidCause(cause) {
		return nil, ErrInvalidCause
	}
	if cause == models.CauseSubscription {
		if causeUID == "" {
			return nil, ErrMissingCauseUID
		}
		// Attribution must point at an author the source actually
		// subscribes to, or the action can never be audited back.
		var edges int64
		err := s.db.WithContext(ctx).Model(&models.Subscription{}).
			Where("subscriber_uid = ? AND author_uid = ?", sourceUID, causeUID).
			Count(&edges).Error
		if err != nil {
			return nil, err
		}
		if edges == 0 {
			return nil, ErrUnknownCauseAuthor
		}
	}
	if len(targets) == 0 {
		return nil, nil
	}

	actions := make([]models.Action, 0, len(targets))
	for _, target := range targets {
		actions = append(actions, models.Action{
			ID:        uuid.New(),
			SourceUID: sourceUID,
			SinkUID:   target,
			Type:      typ,
			Status:    models.StatusPending,
			Cause:     cause,
			CauseUID:  causeUID,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(actions, 100).Error; err != nil {
			return fmt.Errorf("failed to enqueue actions: %w", err)
		}
		return tx.Model(&models.User{}).
			Where("uid = ?", sourceUID).
			Update("pending_actions", true).Error
	})
	if err != nil {
		return nil, err
	}
	return actions, nil
}

// FindPending returns the source user's pending actions oldest-first, the
// order the processor drains them in.
func (s *ActionLogService) FindPending(ctx context.Context, sourceUID string) ([]models.Action, error) {
	var actions []models.Action
	err := s.db.WithContext(ctx).
		Where("source_uid = ? AND status = ?", sourceUID, models.StatusPending).
		Order("created_at ASC").
		Find(&actions).Error
	return actions, err
}

func (s *ActionLogService) PendingCount(ctx context.Context, sourceUID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Action{}).
		Where("source_uid = ? AND status = ?", sourceUID, models.StatusPending).
		Count(&count).Error
	return count, err
}

// History returns a page of the user's actions newest-first plus the total.
func (s *ActionLogService) History(ctx context.Context, sourceUID string, limit, offset int) ([]models.Action, int64, error) {
	var actions []models.Action
	var total int64

	query := s.db.WithContext(ctx).Model(&models.Action{}).Where("source_uid = ?", sourceUID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&actions).Error; err != nil {
		return nil, 0, err
	}
	return actions, total, nil
}

// Transition moves an action to newStatus. Terminal actions are frozen;
// deferred actions may move once more, to a terminal status or back to
// pending for a retry.
func (s *ActionLogService) Transition(ctx context.Context, action *models.Action, newStatus string) error {
	if !knownStatus(newStatus) {
		return ErrUnknownStatus
	}
	if action.Terminal() {
		return ErrTerminalStatus
	}

	if err := s.db.WithContext(ctx).Model(action).Update("status", newStatus).Error; err != nil {
		return fmt.Errorf("failed to transition action %s: %w", action.ID, err)
	}
	return nil
}

// RetryDeferred flips the user's deferred actions back to pending and
// re-flags the user when anything was flipped.
func (s *ActionLogService) RetryDeferred(ctx context.Context, sourceUID string) (int64, error) {
	var flipped int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Action{}).
			Where("source_uid = ? AND status IN ?", sourceUID, []string{
				models.StatusDeferredTargetSuspended,
				models.StatusDeferredSourceDeactive,
			}).
			Update("status", models.StatusPending)
		if result.Error != nil {
			return result.Error
		}
		flipped = result.RowsAffected
		if flipped == 0 {
			return nil
		}
		return tx.Model(&models.User{}).
			Where("uid = ?", sourceUID).
			Update("pending_actions", true).Error
	})
	return flipped, err
}

// ClearPendingFlag drops the user's pending_actions flag if no pending rows
// remain. Called by the processor after a full drain.
func (s *ActionLogService) ClearPendingFlag(ctx context.Context, sourceUID string) error {
	count, err := s.PendingCount(ctx, sourceUID)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.User{}).
		Where("uid = ?", sourceUID).
		Update("pending_actions", false).Error
}

// ManuallyUnblocked is the set of targets the user unblocked by hand: done
// unblock actions whose cause is external observation or a manual bulk
// upload. Such targets carry unblock immunity and are never re-blocked by
// automation.
func (s *ActionLogService) ManuallyUnblocked(ctx context.Context, sourceUID string) (map[string]bool, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.Action{}).
		Where("source_uid = ? AND type = ? AND status = ? AND cause IN ?",
			sourceUID, models.TypeUnblock, models.StatusDone,
			[]string{models.CauseExternal, models.CauseBulkManualBlock}).
		Pluck("sink_uid", &ids).Error
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

func knownStatus(status string) bool {
	switch status {
	case models.StatusPending, models.StatusDone,
		models.StatusCancelledFollowing, models.StatusCancelledSuspended,
		models.StatusCancelledDuplicate, models.StatusCancelledUnblocked,
		models.StatusCancelledSelf,
		models.StatusDeferredTargetSuspended, models.StatusDeferredSourceDeactive:
		return true
	}
	return false
}
