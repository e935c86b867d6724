package dto

import "github.com/jsha/blocktogether/internal/models"

type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	DB        string `json:"db"`
}

// EnqueueActionsRequest enqueues block/unblock intents for a source user.
// CauseUID is required when cause is subscription.
type EnqueueActionsRequest struct {
	Targets  []string `json:"targets"`
	Type     string   `json:"type"`
	Cause    string   `json:"cause"`
	CauseUID string   `json:"cause_uid"`
}

type EnqueueActionsResponse struct {
	Enqueued int `json:"enqueued"`
}

type PendingCountResponse struct {
	Count int64 `json:"count"`
}

type ActionHistoryResponse struct {
	Actions []models.Action `json:"actions"`
	Total   int64           `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}
