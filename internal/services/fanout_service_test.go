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

func seedSubscription(t *testing.T, db *gorm.DB, author, subscriber string, createdAt time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&models.Subscription{
		ID:            uuid.New(),
		AuthorUID:     author,
		SubscriberUID: subscriber,
		CreatedAt:     createdAt,
	}).Error)
}

func observed(source, sink, typ string) models.Action {
	return models.Action{
		ID:        uuid.New(),
		SourceUID: source,
		SinkUID:   sink,
		Type:      typ,
		Status:    models.StatusDone,
		Cause:     models.CauseExternal,
	}
}

func TestFanoutDerivesActionsForAllSubscribers(t *testing.T) {
	db := openTestDB(t)
	svc := NewFanoutService(db)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	seedUser(t, db, "sub1")
	seedUser(t, db, "sub2")
	seedSubscription(t, db, "author", "sub1", base)
	seedSubscription(t, db, "author", "sub2", base.Add(time.Minute))

	derived, err := svc.Fanout(context.Background(), []models.Action{
		observed("author", "900", models.TypeBlock),
		observed("author", "901", models.TypeUnblock),
	})
	require.NoError(t, err)
	assert.Len(t, derived, 4)

	for _, a := range derived {
		assert.Equal(t, models.StatusPending, a.Status)
		assert.Equal(t, models.CauseSubscription, a.Cause)
		assert.Equal(t, "author", a.CauseUID)
	}

	var stored []models.Action
	require.NoError(t, db.Where("source_uid = ?", "sub1").Find(&stored).Error)
	assert.Len(t, stored, 2)

	for _, uid := range []string{"sub1", "sub2"} {
		var user models.User
		require.NoError(t, db.First(&user, "uid = ?", uid).Error)
		assert.True(t, user.PendingActions, uid)
	}
}

func TestFanoutWithNoSubscribersIsEmpty(t *testing.T) {
	db := openTestDB(t)
	svc := NewFanoutService(db)

	derived, err := svc.Fanout(context.Background(), []models.Action{
		observed("author", "900", models.TypeBlock),
	})
	require.NoError(t, err)
	assert.Empty(t, derived)

	var count int64
	db.Model(&models.Action{}).Count(&count)
	assert.EqualValues(t, 0, count)
}

func TestFanoutRejectsMalformedInput(t *testing.T) {
	db := openTestDB(t)
	svc := NewFanoutService(db)
	seedSubscription(t, db, "author", "sub1", time.Now())

	tests := []struct {
		name  string
		input []models.Action
	}{
		{"empty", nil},
		{"mixed sources", []models.Action{
			observed("author", "900", models.TypeBlock),
			observed("other", "901", models.TypeBlock),
		}},
		{"non-external cause", func() []models.Action {
			a := observed("author", "900", models.TypeBlock)
			a.Cause = models.CauseSubscription
			return []models.Action{a}
		}()},
		{"bad type", []models.Action{observed("author", "900", "mute")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Fanout(context.Background(), tt.input)
			assert.ErrorIs(t, err, ErrInvalidFanoutInput)
		})
	}

	// Rejected preconditions performed no writes.
	var count int64
	db.Model(&models.Action{}).Count(&count)
	assert.EqualValues(t, 0, count)
}
