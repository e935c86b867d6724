package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jsha/blocktogether/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedAction(t *testing.T, db *gorm.DB, a models.Action) models.Action {
	t.Helper()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = models.StatusPending
	}
	require.NoError(t, db.Create(&a).Error)
	return a
}

func TestEnqueueCreatesPendingActionsAndFlagsUser(t *testing.T) {
	db := openTestDB(t)
	log := NewActionLogService(db)
	seedUser(t, db, "100")

	actions, err := log.Enqueue(context.Background(), "100", []string{"200", "300"}, models.TypeBlock, models.CauseBulkManualBlock, "")
	require.NoError(t, err)
	assert.Len(t, actions, 2)

	var count int64
	db.Model(&models.Action{}).Where("source_uid = ? AND status = ?", "100", models.StatusPending).Count(&count)
	assert.EqualValues(t, 2, count)

	var user models.User
	require.NoError(t, db.First(&user, "uid = ?", "100").Error)
	assert.True(t, user.PendingActions)
}

func TestEnqueueValidation(t *testing.T) {
	db := openTestDB(t)
	log := NewActionLogService(db)
	seedUser(t, db, "100")

	tests := []struct {
		name     string
		typ      string
		cause    string
		causeUID string
		wantErr  error
	}{
		{"unknown type", "mute", models.CauseExternal, "", ErrInvalidActionType},
		{"unknown cause", models.TypeBlock, "whim", "", ErrInvalidCause},
		{"subscription without attribution", models.TypeBlock, models.CauseSubscription, "", ErrMissingCauseUID},
		{"subscription to unknown author", models.TypeBlock, models.CauseSubscription, "ghost", ErrUnknownCauseAuthor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := log.Enqueue(context.Background(), "100", []string{"200"}, tt.typ, tt.cause, tt.causeUID)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// None of the rejected enqueues may have written a row.
	var count int64
	db.Model(&models.Action{}).Count(&count)
	assert.EqualValues(t, 0, count)
}

func TestEnqueueSubscriptionRequiresExistingEdge(t *testing.T) {
	db := openTestDB(t)
	log := NewActionLogService(db)
	seedUser(t, db, "100")

	_, err := log.Enqueue(context.Background(), "100", []string{"200"}, models.TypeBlock, models.CauseSubscription, "7")
	assert.ErrorIs(t, err, ErrUnknownCauseAuthor)

	seedSubscription(t, db, "7", "100", time.Now())

	actions, err := log.Enqueue(context.Background(), "100", []string{"200"}, models.TypeBlock, models.CauseSubscription, "7")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "7", actions[0].CauseUID)
}

func TestEnqueueEmptyTargetsIsNoop(t *testing.T) {
	db := openTestDB(t)
	log := NewActionLogService(db)
	seedUser(t, db, "100")

	actions, err := log.Enqueue(context.Background(), "100", nil, models.TypeBlock, models.CauseExternal, "")
	require.NoError(t, err)
	assert.Empty(t, actions)

	var user models.User
	require.NoError(t, db.First(&user, "uid = ?", "100").Error)
	assert.False(t, user.PendingActions)
}

func TestFindPendingOrdersOldestFirst(t *testing.T) {
	db := openTestDB(t)
	log := NewActionLogService(db)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	seedAction(t, db, models.Action{SourceUID: "100", SinkUID: "3", Type: models.TypeBlock, Cause: models.CauseExternal, CreatedAt: base.Add(2 * time.Hour)})
	seedAction(t, db, models.Action{SourceUID: "100", SinkUID: "1", Type: models.TypeBlock, Cause: models.CauseExternal, CreatedAt: base})
	seedAction(t, db, models.Action{SourceUID: "100", SinkUID: "2", Type: models.TypeBlock, Cause: models.CauseExternal, CreatedAt: base.Add(time.Hour)})
	seedAction(t, db, models.Action{SourceUID: "999", SinkUID: "9", Type: models.TypeBlock, Cause: models.CauseExternal, CreatedAt: base})

	pending, err := log.FindPending(context.Background(), "100")
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "1", pending[0].SinkUID)
	assert.Equal(t, "2", pending[1].SinkUID)
	assert.Equal(t, "3", pending[2].SinkUID)
}

func TestTransitionTerminalIsFrozen(t *testing.T) {
	db := openTestDB(t)
	log := NewActionLogService(db)

	action := seedAction(t, db, models.Action{SourceUID: "100", SinkUID: "200", Type: models.TypeBlock, Cause: models.CauseExternal})

	require.NoError(t, log.Transition(context.Background(), &action, models.StatusDone))
	assert.ErrorIs(t, log.Transition(context.Background(), &action, models.StatusPending), ErrTerminalStatus)
	assert.ErrorIs(t, log.Transition(context.Background(), &action, models.StatusCancelledSelf), ErrTerminalStatus)

	var stored models.Action
	require.NoError(t, db.First(&stored, "id = ?", action.ID).Error)
	assert.Equal(t, models.StatusDone, stored.Status)
}

func TestTransitionRejectsUnknownStatus(t *testing.T) {
	db := openTestDB(t)
	log := NewActionLogService(db)

	action := seedAction(t, db, models.Action{SourceUID: "100", SinkUID: "200", Type: models.TypeBlock, Cause: models.CauseExternal})
	assert.ErrorIs(t, log.Transition(context.Background(), &action, "vanished"), ErrUnknownStatus)
}

func TestTransitionDeferredCanRetryOrFinish(t *testing.T) {
	db := openTestDB(t)
	log := NewActionLogService(db)

	action := seedAction(t, db, models.Action{SourceUID: "100", SinkUID: "200", Type: models.TypeBlock, Cause: models.CauseExternal})
	require.NoError(t, log.Transition(context.Background(), &action, models.StatusDeferredTargetSuspended))
	require.NoError(t, log.Transition(context.Background(), &action, models.StatusDone))
	assert.ErrorIs(t, log.Transition(context.Background(), &action, models.StatusPending), ErrTerminalStatus)
}

func TestRetryDeferredFlipsBackToPending(t *testing.T) {
	db := openTestDB(t)
	log := NewActionLogService(db)
	seedUser(t, db, "100")

	seedAction(t, db, models.Action{SourceUID: "100", SinkUID: "1", Type: models.TypeBlock, Cause: models.CauseExternal, Status: models.StatusDeferredTargetSuspended})
	seedAction(t, db, models.Action{SourceUID: "100", SinkUID: "2", Type: models.TypeBlock, Cause: models.CauseExternal, Status: models.StatusDeferredSourceDeactive})
	seedAction(t, db, models.Action{SourceUID: "100", SinkUID: "3", Type: models.TypeBlock, Cause: models.CauseExternal, Status: models.StatusDone})

	flipped, err := log.RetryDeferred(context.Background(), "100")
	require.NoError(t, err)
	assert.EqualValues(t, 2, flipped)

	count, err := log.PendingCount(context.Background(), "100")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	var user models.User
	require.NoError(t, db.First(&user, "uid = ?", "100").Error)
	assert.True(t, user.PendingActions)
}

func TestHistoryPagesNewestFirst(t *testing.T) {
	db := openTestDB(t)
	log := NewActionLogService(db)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		seedAction(t, db, models.Action{
			SourceUID: "100", SinkUID: string(rune('a' + i)),
			Type: models.TypeBlock, Cause: models.CauseExternal,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	page, total, err := log.History(context.Background(), "100", 2, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "e", page[0].SinkUID)
	assert.Equal(t, "d", page[1].SinkUID)
}

func TestManuallyUnblocked(t *testing.T) {
	db := openTestDB(t)
	log := NewActionLogService(db)

	// Counts: done unblocks caused externally or by bulk upload.
	seedAction(t, db, models.Action{SourceUID: "100", SinkUID: "1", Type: models.TypeUnblock, Cause: models.CauseExternal, Status: models.StatusDone})
	seedAction(t, db, models.Action{SourceUID: "100", SinkUID: "2", Type: models.TypeUnblock, Cause: models.CauseBulkManualBlock, Status: models.StatusDone})
	// Does not count: subscription-caused, non-done, wrong type.
	seedAction(t, db, models.Action{SourceUID: "100", SinkUID: "3", Type: models.TypeUnblock, Cause: models.CauseSubscription, CauseUID: "7", Status: models.StatusDone})
	seedAction(t, db, models.Action{SourceUID: "100", SinkUID: "4", Type: models.TypeUnblock, Cause: models.CauseExternal, Status: models.StatusPending})
	seedAction(t, db, models.Action{SourceUID: "100", SinkUID: "5", Type: models.TypeBlock, Cause: models.CauseExternal, Status: models.StatusDone})

	immune, err := log.ManuallyUnblocked(context.Background(), "100")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"1": true, "2": true}, immune)
}
