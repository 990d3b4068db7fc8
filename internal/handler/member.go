package handler

import (
	"net/http"
	"strconv"

	"lgl-sync/internal/model"
	"lgl-sync/internal/repository"
	"lgl-sync/internal/service"

	"github.com/labstack/echo/v4"
)

type MemberHandler struct {
	familyRepo    repository.FamilyMemberRepository
	familySvc     service.FamilyService
	membershipSvc service.MembershipService
}

func NewMemberHandler(
	familyRepo repository.FamilyMemberRepository,
	familySvc service.FamilyService,
	membershipSvc service.MembershipService,
) *MemberHandler {
	return &MemberHandler{
		familyRepo:    familyRepo,
		familySvc:     familySvc,
		membershipSvc: membershipSvc,
	}
}

type addFamilyMemberRequest struct {
	ChildUserID int64 `json:"child_user_id"`
}

// AddFamilyMember records a used family slot (the ground-truth record) and
// schedules the CRM relationship creation.
func (h *MemberHandler) AddFamilyMember(c echo.Context) error {
	ctx := c.Request().Context()

	ownerID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}

	var req addFamilyMemberRequest
	if err := c.Bind(&req); err != nil || req.ChildUserID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "child_user_id required")
	}

	resp, err := h.membershipSvc.ReconcileFamilySlots(ctx, ownerID)
	if err != nil {
		return err
	}
	if resp.Available <= 0 {
		return echo.NewHTTPError(http.StatusConflict, "no family slots available")
	}

	if err := h.familyRepo.Create(ctx, &model.FamilyMember{
		OwnerUserID: ownerID,
		ChildUserID: req.ChildUserID,
	}); err != nil {
		return err
	}

	if err := h.familySvc.ScheduleCreate(ctx, req.ChildUserID); err != nil {
		return err
	}

	// Usage changed; bring the counter back in line.
	resp, err = h.membershipSvc.ReconcileFamilySlots(ctx, ownerID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resp)
}
