package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jsha/blocktogether/internal/models"
	"github.com/jsha/blocktogether/internal/scheduler"
	"gorm.io/gorm"
)

// supersededKeep is how many complete snapshots per user survive pruning;
// older ones only serve audit and are reclaimed.
const supersededKeep = 2

// RetentionService prunes historical data without long-held locks: one
// deactivated user per reap iteration, cancelled actions in bounded
// batches with pauses in between, and superseded snapshots.
type RetentionService struct {
	db         *gorm.DB
	clock      scheduler.Clock
	reapAge    time.Duration
	pruneAge   time.Duration
	batchSize  int
	batchPause time.Duration

	// BatchSizeFn, when set, receives the size of every prune batch.
	// Used by tests to verify the bound.
	BatchSizeFn func(n int)
}

func NewRetentionService(db *gorm.DB, clock scheduler.Clock, reapAge, pruneAge time.Duration, batchSize int, batchPause time.Duration) *RetentionService {
	return &RetentionService{
		db:         db,
		clock:      clock,
		reapAge:    reapAge,
		pruneAge:   pruneAge,
		batchSize:  batchSize,
		batchPause: batchPause,
	}
}

// ReapDeactivatedUser deletes the single oldest user deactivated longer ago
// than the reap age, removing its actions, relationships and snapshots
// explicitly before the user row. Returns whether a user was reaped; the
// caller spaces iterations.
func (s *RetentionService) ReapDeactivatedUser(ctx context.Context) (bool, error) {
	cutoff := s.clock.Now().Add(-s.reapAge)

	var user models.User
	err := s.db.WithContext(ctx).
		Where("deactivated_at IS NOT NULL AND deactivated_at < ?", cutoff).
		Order("deactivated_at ASC").
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source_uid = ?", user.UID).Delete(&models.Action{}).Error; err != nil {
			return err
		}

		var snapshotIDs []uuid.UUID
		if err := tx.Model(&models.BlockSnapshot{}).
			Where("source_uid = ?", user.UID).
			Pluck("id", &snapshotIDs).Error; err != nil {
			return err
		}
		if len(snapshotIDs) > 0 {
			if err := tx.Where("snapshot_id IN ?", snapshotIDs).Delete(&models.Relationship{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", snapshotIDs).Delete(&models.BlockSnapshot{}).Error; err != nil {
				return err
			}
		}

		return tx.Where("uid = ?", user.UID).Delete(&models.User{}).Error
	})
	if err != nil {
		return false, fmt.Errorf("reaping user %s: %w", user.UID, err)
	}

	slog.Info("reaped deactivated user", "job", "retention-reap", "source_uid", user.UID)
	return true, nil
}

// PruneCancelledActions deletes terminal-cancelled actions older than the
// prune age in bounded batches, pausing between batches so the actions
// table is never locked wholesale. Returns the total rows deleted.
func (s *RetentionService) PruneCancelledActions(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now().Add(-s.pruneAge)
	var total int64

	for {
		var ids []uuid.UUID
		err := s.db.WithContext(ctx).Model(&models.Action{}).
			Where("status LIKE ? AND updated_at < ?", "cancelled-%", cutoff).
			Order("created_at ASC").
			Limit(s.batchSize).
			Pluck("id", &ids).Error
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}

		result := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Action{})
		if result.Error != nil {
			return total, result.Error
		}
		total += result.RowsAffected
		if s.BatchSizeFn != nil {
			s.BatchSizeFn(len(ids))
		}
		slog.Info("pruned cancelled actions", "job", "retention-prune", "batch", len(ids))

		if len(ids) < s.batchSize {
			return total, nil
		}
		if err := s.clock.Sleep(ctx, s.batchPause); err != nil {
			return total, err
		}
	}
}

// PruneSupersededSnapshots reclaims complete snapshots beyond the newest
// few per user, member rows first. Incomplete snapshots are left alone;
// the fetcher may still be resuming them.
func (s *RetentionService) PruneSupersededSnapshots(ctx context.Context) (int64, error) {
	var uids []string
	if err := s.db.WithContext(ctx).Model(&models.BlockSnapshot{}).
		Distinct("source_uid").
		Pluck("source_uid", &uids).Error; err != nil {
		return 0, err
	}

	var total int64
	for _, uid := range uids {
		var stale []uuid.UUID
		err := s.db.WithContext(ctx).Model(&models.BlockSnapshot{}).
			Where("source_uid = ? AND complete = ?", uid, true).
			Order("updated_at DESC").
			Offset(supersededKeep).
			Pluck("id", &stale).Error
		if err != nil {
			return total, err
		}
		if len(stale) == 0 {
			continue
		}

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("snapshot_id IN ?", stale).Delete(&models.Relationship{}).Error; err != nil {
				return err
			}
			return tx.Where("id IN ?", stale).Delete(&models.BlockSnapshot{}).Error
		})
		if err != nil {
			return total, err
		}
		total += int64(len(stale))
	}
	return total, nil
}
