package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jsha/blocktogether/internal/models"
	"github.com/jsha/blocktogether/internal/remote"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.RemoteAccount{},
		&models.BlockSnapshot{},
		&models.Relationship{},
		&models.Action{},
		&models.Subscription{},
	))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, uid string) *models.User {
	t.Helper()
	user := &models.User{UID: uid}
	require.NoError(t, db.Create(user).Error)
	return user
}

func seedSnapshot(t *testing.T, db *gorm.DB, s *models.BlockSnapshot) *models.BlockSnapshot {
	t.Helper()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	require.NoError(t, db.Create(s).Error)
	return s
}

func seedMembers(t *testing.T, db *gorm.DB, snapshotID uuid.UUID, sinks ...string) {
	t.Helper()
	for _, sink := range sinks {
		require.NoError(t, db.Create(&models.Relationship{
			ID:         uuid.New(),
			SnapshotID: snapshotID,
			SinkUID:    sink,
		}).Error)
	}
}

// seedCompleteSnapshot creates a complete snapshot with the given members.
func seedCompleteSnapshot(t *testing.T, db *gorm.DB, uid string, sinks ...string) *models.BlockSnapshot {
	t.Helper()
	s := seedSnapshot(t, db, &models.BlockSnapshot{
		SourceUID: uid,
		Cursor:    models.CursorEnd,
		Complete:  true,
		Size:      len(sinks),
	})
	seedMembers(t, db, s.ID, sinks...)
	return s
}

// fakeClock satisfies scheduler.Clock without real delays, recording every
// sleep it is asked for.
type fakeClock struct {
	now    time.Time
	slept  []time.Duration
	sleepF func(ctx context.Context, d time.Duration) error
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now.Add(d)
	return ch
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	if c.sleepF != nil {
		return c.sleepF(ctx, d)
	}
	return nil
}

// fakeRemote is a remote.Client built from override funcs, defaulting to
// success responses.
type fakeRemote struct {
	listBlocksFn func(ctx context.Context, user *models.User, cursor string) (*remote.Page, error)
	mutateFn     func(ctx context.Context, user *models.User, typ, targetUID string) error
	friendshipFn func(ctx context.Context, user *models.User, targetUID string) (*remote.FriendshipInfo, error)
}

func (f *fakeRemote) ListBlocks(ctx context.Context, user *models.User, cursor string) (*remote.Page, error) {
	if f.listBlocksFn == nil {
		return &remote.Page{NextCursor: models.CursorEnd}, nil
	}
	return f.listBlocksFn(ctx, user, cursor)
}

func (f *fakeRemote) Mutate(ctx context.Context, user *models.User, typ, targetUID string) error {
	if f.mutateFn == nil {
		return nil
	}
	return f.mutateFn(ctx, user, typ, targetUID)
}

func (f *fakeRemote) Friendship(ctx context.Context, user *models.User, targetUID string) (*remote.FriendshipInfo, error) {
	if f.friendshipFn == nil {
		return &remote.FriendshipInfo{}, nil
	}
	return f.friendshipFn(ctx, user, targetUID)
}
