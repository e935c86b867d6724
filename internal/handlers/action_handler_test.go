package handlers_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jsha/blocktogether/internal/config"
	"github.com/jsha/blocktogether/internal/dto"
	"github.com/jsha/blocktogether/internal/handlers"
	"github.com/jsha/blocktogether/internal/middleware"
	"github.com/jsha/blocktogether/internal/models"
	"github.com/jsha/blocktogether/internal/services"
)

func setupTestApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Action{}))

	cfg := &config.Config{AdminToken: "secret"}
	app := fiber.New()

	api := app.Group("/api", middleware.AdminRequired(cfg))
	actionHandler := handlers.NewActionHandler(services.NewActionLogService(db))
	api.Post("/users/:uid/actions", actionHandler.Enqueue)
	api.Get("/users/:uid/actions/pending-count", actionHandler.PendingCount)
	api.Get("/users/:uid/actions", actionHandler.History)

	return app, db
}

func TestEnqueueEndpoint(t *testing.T) {
	app, db := setupTestApp(t)
	require.NoError(t, db.Create(&models.User{UID: "source"}).Error)

	body := `{"targets":["100","200"],"type":"block","cause":"external"}`
	req := httptest.NewRequest("POST", "/api/users/source/actions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Token", "secret")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var out dto.EnqueueActionsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 2, out.Enqueued)

	var count int64
	require.NoError(t, db.Model(&models.Action{}).
		Where("source_uid = ? AND status = ?", "source", models.StatusPending).
		Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestEnqueueEndpointRejectsBadCause(t *testing.T) {
	app, _ := setupTestApp(t)

	body := `{"targets":["100"],"type":"block","cause":"subscription"}`
	req := httptest.NewRequest("POST", "/api/users/source/actions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Token", "secret")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestAdminTokenRequired(t *testing.T) {
	app, _ := setupTestApp(t)

	req := httptest.NewRequest("GET", "/api/users/source/actions/pending-count", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest("GET", "/api/users/source/actions/pending-count", nil)
	req.Header.Set("X-Admin-Token", "wrong")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestPendingCountEndpoint(t *testing.T) {
	app, db := setupTestApp(t)
	require.NoError(t, db.Create(&models.User{UID: "source"}).Error)
	require.NoError(t, db.Create(&models.Action{
		ID:        uuid.New(),
		SourceUID: "source", SinkUID: "100",
		Type: models.TypeBlock, Cause: models.CauseExternal,
		Status: models.StatusPending,
	}).Error)

	req := httptest.NewRequest("GET", "/api/users/source/actions/pending-count", nil)
	req.Header.Set("X-Admin-Token", "secret")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out dto.PendingCountResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.EqualValues(t, 1, out.Count)
}

func TestHistoryEndpointCapsLimit(t *testing.T) {
	app, db := setupTestApp(t)
	require.NoError(t, db.Create(&models.User{UID: "source"}).Error)

	req := httptest.NewRequest("GET", "/api/users/source/actions?limit=500", nil)
	req.Header.Set("X-Admin-Token", "secret")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out dto.ActionHistoryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 100, out.Limit)
}
