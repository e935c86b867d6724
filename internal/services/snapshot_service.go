package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jsha/blocktogether/internal/guard"
	"github.com/jsha/blocktogether/internal/models"
	"github.com/jsha/blocktogether/internal/remote"
	"github.com/jsha/blocktogether/internal/scheduler"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SnapshotService walks the remote paginated block-list API to completion,
// materializing one versioned snapshot of a user's block set per cycle. The
// cursor is persisted after every page, so a crash or rate-limit suspension
// resumes exactly where it stopped and no page is fetched twice.
type SnapshotService struct {
	db       *gorm.DB
	client   remote.Client
	clock    scheduler.Clock
	guard    *guard.Registry
	cooldown time.Duration
}

func NewSnapshotService(db *gorm.DB, client remote.Client, clock scheduler.Clock, g *guard.Registry, cooldown time.Duration) *SnapshotService {
	return &SnapshotService{db: db, client: client, clock: clock, guard: g, cooldown: cooldown}
}

// Fetch pulls the user's full remote block set into a snapshot. A fetch
// already in flight for the same user makes this call a logged no-op
// returning (nil, nil). Deactivated users are skipped the same way.
func (s *SnapshotService) Fetch(ctx context.Context, user *models.User) (*models.BlockSnapshot, error) {
	if !user.Active() {
		slog.Info("skipping fetch for deactivated user", "source_uid", user.UID)
		return nil, nil
	}

	release, ok := s.guard.Acquire("fetch:" + user.UID)
	if !ok {
		slog.Info("fetch already in flight, dropping", "source_uid", user.UID)
		return nil, nil
	}
	defer release()

	snapshot, err := s.resumeOrCreate(ctx, user.UID)
	if err != nil {
		return nil, err
	}

	for {
		page, err := s.client.ListBlocks(ctx, user, snapshot.Cursor)
		if errors.Is(err, remote.ErrRateLimited) {
			slog.Info("fetch rate limited, cooling down",
				"source_uid", user.UID, "cooldown", s.cooldown.String(), "cursor", snapshot.Cursor)
			if err := s.clock.Sleep(ctx, s.cooldown); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			slog.Error("fetch aborted", "job", "snapshot-fetch", "source_uid", user.UID, "error", err.Error())
			return nil, fmt.Errorf("listing blocks for %s: %w", user.UID, err)
		}

		if err := s.storePage(ctx, snapshot, page); err != nil {
			return nil, err
		}
		if snapshot.Complete {
			slog.Info("snapshot complete", "source_uid", user.UID, "size", snapshot.Size)
			return snapshot, nil
		}
	}
}

// resumeOrCreate picks up the newest incomplete snapshot for the user, or
// starts a fresh one at the initial cursor.
func (s *SnapshotService) resumeOrCreate(ctx context.Context, uid string) (*models.BlockSnapshot, error) {
	var snapshot models.BlockSnapshot
	err := s.db.WithContext(ctx).
		Where("source_uid = ? AND complete = ?", uid, false).
		Order("updated_at DESC").
		First(&snapshot).Error
	if err == nil {
		slog.Info("resuming incomplete snapshot", "source_uid", uid, "cursor", snapshot.Cursor)
		return &snapshot, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	snapshot = models.BlockSnapshot{
		ID:        uuid.New(),
		SourceUID: uid,
		Cursor:    models.CursorStart,
	}
	if err := s.db.WithContext(ctx).Create(&snapshot).Error; err != nil {
		return nil, fmt.Errorf("failed to create snapshot: %w", err)
	}
	return &snapshot, nil
}

// storePage persists one page atomically: bare account upserts, member
// rows, then the advanced cursor on the snapshot itself. The account upsert
// is insert-only so concurrent fetches never clobber fields a profile
// hydration already populated.
func (s *SnapshotService) storePage(ctx context.Context, snapshot *models.BlockSnapshot, page *remote.Page) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(page.IDs) > 0 {
			accounts := make([]models.RemoteAccount, 0, len(page.IDs))
			members := make([]models.Relationship, 0, len(page.IDs))
			for _, id := range page.IDs {
				accounts = append(accounts, models.RemoteAccount{UID: id})
				members = append(members, models.Relationship{
					ID:         uuid.New(),
					SnapshotID: snapshot.ID,
					SinkUID:    id,
				})
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
				CreateInBatches(accounts, 500).Error; err != nil {
				return fmt.Errorf("failed to upsert remote accounts: %w", err)
			}
			if err := tx.CreateInBatches(members, 500).Error; err != nil {
				return fmt.Errorf("failed to insert relationships: %w", err)
			}
		}

		snapshot.Cursor = page.NextCursor
		snapshot.Size += len(page.IDs)
		if page.NextCursor == models.CursorEnd || page.NextCursor == "" {
			snapshot.Complete = true
		}
		return tx.Model(&models.BlockSnapshot{}).
			Where("id = ?", snapshot.ID).
			Updates(map[string]interface{}{
				"cursor":   snapshot.Cursor,
				"size":     snapshot.Size,
				"complete": snapshot.Complete,
			}).Error
	})
}

// LatestComplete returns the user's newest complete snapshot, or nil when
// none exists yet.
func (s *SnapshotService) LatestComplete(ctx context.Context, uid string) (*models.BlockSnapshot, error) {
	var snapshot models.BlockSnapshot
	err := s.db.WithContext(ctx).
		Where("source_uid = ? AND complete = ?", uid, true).
		Order("updated_at DESC").
		First(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// Members returns the blocked ids recorded in a snapshot.
func (s *SnapshotService) Members(ctx context.Context, snapshotID uuid.UUID) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.Relationship{}).
		Where("snapshot_id = ?", snapshotID).
		Pluck("sink_uid", &ids).Error
	return ids, err
}

// CurrentBlockSet loads the member set of the user's latest complete
// snapshot. Absent snapshot means an empty set.
func (s *SnapshotService) CurrentBlockSet(ctx context.Context, uid string) (map[string]bool, error) {
	snapshot, err := s.LatestComplete(ctx, uid)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool)
	if snapshot == nil {
		return set, nil
	}
	ids, err := s.Members(ctx, snapshot.ID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}
