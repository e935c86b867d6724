package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/jsha/blocktogether/internal/dto"
	"github.com/jsha/blocktogether/internal/services"
)

// ActionHandler is the consumer surface of the action log: the front end
// enqueues intents and reads status here; it never touches the engine
// directly.
type ActionHandler struct {
	log *services.ActionLogService
}

func NewActionHandler(log *services.ActionLogService) *ActionHandler {
	return &ActionHandler{log: log}
}

func (h *ActionHandler) Enqueue(c *fiber.Ctx) error {
	uid := c.Params("uid")

	var req dto.EnqueueActionsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid request body",
		})
	}

	actions, err := h.log.Enqueue(c.Context(), uid, req.Targets, req.Type, req.Cause, req.CauseUID)
	if err != nil {
		if errors.Is(err, services.ErrInvalidActionType) ||
			errors.Is(err, services.ErrInvalidCause) ||
			errors.Is(err, services.ErrMissingCauseUID) ||
			errors.Is(err, services.ErrUnknownCauseAuthor) {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
				Error: true, Message: err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to enqueue actions",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(dto.EnqueueActionsResponse{Enqueued: len(actions)})
}

func (h *ActionHandler) PendingCount(c *fiber.Ctx) error {
	uid := c.Params("uid")

	count, err := h.log.PendingCount(c.Context(), uid)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to count pending actions",
		})
	}
	return c.JSON(dto.PendingCountResponse{Count: count})
}

func (h *ActionHandler) History(c *fiber.Ctx) error {
	uid := c.Params("uid")
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))

	if limit > 100 {
		limit = 100
	}

	actions, total, err := h.log.History(c.Context(), uid, limit, offset)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to fetch action history",
		})
	}

	return c.JSON(dto.ActionHistoryResponse{
		Actions: actions,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}
