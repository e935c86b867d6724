package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/jsha/blocktogether/internal/config"
	"github.com/jsha/blocktogether/internal/models"
	"github.com/jsha/blocktogether/internal/scheduler"
	"gorm.io/gorm"
)

// Jobs assembles the engine's periodic duties for the scheduler. Every
// cycle works through its users sequentially; per-user guards and the
// remote client's pacing bound the real concurrency.
func Jobs(cfg *config.Config, db *gorm.DB, log *ActionLogService, snapshots *SnapshotService, processor *ProcessorService, reconcile *ReconcileService, retention *RetentionService) []scheduler.Job {
	return []scheduler.Job{
		scheduler.JobFunc{
			JobName:     "snapshot-fetch",
			JobInterval: cfg.FetchInterval,
			Fn: func(ctx context.Context) error {
				// Only users participating in a subscription need a fresh
				// snapshot: authors feed reconciliation, subscribers are
				// diffed against it.
				var users []models.User
				err := db.WithContext(ctx).
					Where("deactivated_at IS NULL").
					Where("uid IN (?) OR uid IN (?)",
						db.Model(&models.Subscription{}).Select("author_uid"),
						db.Model(&models.Subscription{}).Select("subscriber_uid")).
					Find(&users).Error
				if err != nil {
					return err
				}
				for i := range users {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					if _, err := snapshots.Fetch(ctx, &users[i]); err != nil {
						// Fetch already logged; move on to the next user.
						continue
					}
				}
				return nil
			},
		},
		scheduler.JobFunc{
			JobName:     "action-process",
			JobInterval: cfg.ProcessInterval,
			Fn: func(ctx context.Context) error {
				var uids []string
				err := db.WithContext(ctx).Model(&models.User{}).
					Where("pending_actions = ? AND deactivated_at IS NULL", true).
					Pluck("uid", &uids).Error
				if err != nil {
					return err
				}
				for _, uid := range uids {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					if err := processor.Process(ctx, uid); err != nil {
						slog.Error("processing failed", "job", "action-process", "source_uid", uid, "error", err.Error())
					}
				}
				return nil
			},
		},
		scheduler.JobFunc{
			JobName:     "deferred-retry",
			JobInterval: cfg.DeferredRetry,
			Fn: func(ctx context.Context) error {
				var uids []string
				err := db.WithContext(ctx).Model(&models.Action{}).
					Where("status LIKE ?", "deferred-%").
					Distinct("source_uid").
					Pluck("source_uid", &uids).Error
				if err != nil {
					return err
				}
				for _, uid := range uids {
					if _, err := log.RetryDeferred(ctx, uid); err != nil {
						slog.Error("deferred retry failed", "job", "deferred-retry", "source_uid", uid, "error", err.Error())
					}
				}
				return nil
			},
		},
		scheduler.JobFunc{
			JobName:     "reconcile",
			JobInterval: cfg.ReconcileInterval,
			Fn: func(ctx context.Context) error {
				var uids []string
				err := db.WithContext(ctx).Model(&models.Subscription{}).
					Distinct("subscriber_uid").
					Pluck("subscriber_uid", &uids).Error
				if err != nil {
					return err
				}
				for _, uid := range uids {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					if _, err := reconcile.Reconcile(ctx, uid); err != nil {
						slog.Error("reconcile failed", "job", "reconcile", "source_uid", uid, "error", err.Error())
					}
				}
				return nil
			},
		},
		scheduler.JobFunc{
			JobName:     "retention-reap",
			JobInterval: cfg.ReapInterval,
			Fn: func(ctx context.Context) error {
				_, err := retention.ReapDeactivatedUser(ctx)
				return err
			},
		},
		scheduler.JobFunc{
			JobName:     "retention-prune",
			JobInterval: cfg.PruneInterval,
			Fn: func(ctx context.Context) error {
				if _, err := retention.PruneCancelledActions(ctx); err != nil {
					return err
				}
				_, err := retention.PruneSupersededSnapshots(ctx)
				return err
			},
		},
		scheduler.JobFunc{
			JobName:     "system-log-cleanup",
			JobInterval: cfg.LogCleanupInterval,
			Fn: func(ctx context.Context) error {
				cutoff := time.Now().Add(-cfg.LogRetentionAge)
				result := db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&models.SystemLog{})
				if result.Error != nil {
					return result.Error
				}
				if result.RowsAffected > 0 {
					slog.Info("system logs cleaned up", "job", "system-log-cleanup", "deleted", result.RowsAffected)
				}
				return nil
			},
		},
	}
}
