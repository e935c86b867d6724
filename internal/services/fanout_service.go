package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jsha/blocktogether/internal/models"
	"gorm.io/gorm"
)

var ErrInvalidFanoutInput = errors.New("fanout input must be non-empty externally-caused actions from one source")

// FanoutService derives subscriber actions from externally observed
// mutations. It stays deliberately cheap on the hot path: one subscription
// lookup, one bulk insert, one flag update. Attribution records only the
// author whose event triggered this fanout; cross-author deduplication is
// reconciliation's job.
type FanoutService struct {
	db *gorm.DB
}

func NewFanoutService(db *gorm.DB) *FanoutService {
	return &FanoutService{db: db}
}

// Fanout enqueues one pending derived action per (input action,
// subscriber) pair and returns them. A malformed input batch is a caller
// bug and is rejected before any write. No subscribers means an empty
// result and no error.
func (s *FanoutService) Fanout(ctx context.Context, actions []models.Action) ([]models.Action, error) {
	if err := validateFanoutInput(actions); err != nil {
		return nil, err
	}
	author := actions[0].SourceUID

	var subs []models.Subscription
	if err := s.db.WithContext(ctx).
		Where("author_uid = ?", author).
		Order("created_at ASC").
		Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("looking up subscribers of %s: %w", author, err)
	}
	if len(subs) == 0 {
		return []models.Action{}, nil
	}

	derived := make([]models.Action, 0, len(actions)*len(subs))
	subscribers := make([]string, 0, len(subs))
	for _, sub := range subs {
		subscribers = append(subscribers, sub.SubscriberUID)
		for _, action := range actions {
			derived = append(derived, models.Action{
				ID:        uuid.New(),
				SourceUID: sub.SubscriberUID,
				SinkUID:   action.SinkUID,
				Type:      action.Type,
				Status:    models.StatusPending,
				Cause:     models.CauseSubscription,
				CauseUID:  author,
			})
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(derived, 200).Error; err != nil {
			return fmt.Errorf("failed to insert derived actions: %w", err)
		}
		return tx.Model(&models.User{}).
			Where("uid IN ?", subscribers).
			Update("pending_actions", true).Error
	})
	if err != nil {
		return nil, err
	}

	slog.Info("fanout enqueued", "source_uid", author,
		"observed", len(actions), "subscribers", len(subs), "derived", len(derived))
	return derived, nil
}

func validateFanoutInput(actions []models.Action) error {
	if len(actions) == 0 {
		return ErrInvalidFanoutInput
	}
	source := actions[0].SourceUID
	for _, a := range actions {
		if a.SourceUID != source || a.Cause != models.CauseExternal || !models.ValidType(a.Type) {
			return ErrInvalidFanoutInput
		}
	}
	return nil
}
