package handler

import (
	"errors"
	"net/http"
	"strconv"

	"lgl-sync/internal/dto"
	"lgl-sync/internal/repository"
	"lgl-sync/internal/service"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

type AdminHandler struct {
	syncRepo      repository.OrderSyncRepository
	queue         service.SyncQueueService
	membershipSvc service.MembershipService
}

func NewAdminHandler(
	syncRepo repository.OrderSyncRepository,
	queue service.SyncQueueService,
	membershipSvc service.MembershipService,
) *AdminHandler {
	return &AdminHandler{
		syncRepo:      syncRepo,
		queue:         queue,
		membershipSvc: membershipSvc,
	}
}

func (h *AdminHandler) GetSyncStatus(c echo.Context) error {
	ctx := c.Request().Context()

	orderID, err := orderIDParam(c)
	if err != nil {
		return err
	}

	rec, err := h.syncRepo.FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no sync record for order")
		}
		return err
	}

	return c.JSON(http.StatusOK, &dto.SyncStatusResponse{
		OrderID:           rec.OrderID,
		Status:            rec.Status,
		RetryCount:        rec.RetryCount,
		PermanentlyFailed: rec.PermanentlyFailed,
		FailureReason:     rec.FailureReason,
		QueuedAt:          rec.QueuedAt,
		ProcessedAt:       rec.ProcessedAt,
		FailedAt:          rec.FailedAt,
		ConstituentID:     rec.ConstituentID,
		MatchMethod:       rec.MatchMethod,
		PaymentID:         rec.PaymentID,
	})
}

// Retry clears a permanent failure and enqueues a fresh sync cycle.
func (h *AdminHandler) Retry(c echo.Context) error {
	ctx := c.Request().Context()

	orderID, err := orderIDParam(c)
	if err != nil {
		return err
	}

	if err := h.queue.ClearPermanentFailure(ctx, orderID); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "requeued"})
}

func (h *AdminHandler) ReconcileSlots(c echo.Context) error {
	ctx := c.Request().Context()

	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}

	resp, err := h.membershipSvc.ReconcileFamilySlots(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no membership for user")
		}
		return err
	}

	return c.JSON(http.StatusOK, resp)
}
