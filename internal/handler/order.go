package handler

import (
	"net/http"
	"strconv"

	"lgl-sync/internal/dto"
	"lgl-sync/internal/model"
	"lgl-sync/internal/repository"
	"lgl-sync/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type OrderHandler struct {
	db          *gorm.DB
	orderRepo   repository.OrderRepository
	triggerRepo repository.ProcessedTriggerRepository
	router      service.OrderRouter
	queue       service.SyncQueueService
	logger      *logrus.Logger
}

func NewOrderHandler(
	db *gorm.DB,
	orderRepo repository.OrderRepository,
	triggerRepo repository.ProcessedTriggerRepository,
	router service.OrderRouter,
	queue service.SyncQueueService,
	logger *logrus.Logger,
) *OrderHandler {
	return &OrderHandler{
		db:          db,
		orderRepo:   orderRepo,
		triggerRepo: triggerRepo,
		router:      router,
		queue:       queue,
		logger:      logger,
	}
}

func orderIDParam(c echo.Context) (int64, error) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}
	return orderID, nil
}

// Completed receives the storefront's order-completed trigger. The caller
// always gets a success once the order is recorded; sync problems are an
// operator concern, never a checkout error.
func (h *OrderHandler) Completed(c echo.Context) error {
	ctx := c.Request().Context()

	orderID, err := orderIDParam(c)
	if err != nil {
		return err
	}

	exists, err := h.triggerRepo.Exists(orderID)
	if err != nil {
		return err
	}
	if exists {
		return c.JSON(http.StatusOK, map[string]string{"status": "duplicate"})
	}

	var req dto.OrderCompletedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid order payload")
	}

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := h.orderRepo.Create(ctx, tx, &model.Order{
			OrderID:      orderID,
			UserID:       req.UserID,
			BillingEmail: req.BillingEmail,
			BillingName:  req.BillingName,
		}); err != nil {
			return err
		}

		lines := make([]*model.OrderLine, len(req.Lines))
		for i, l := range req.Lines {
			lines[i] = &model.OrderLine{
				OrderID:     orderID,
				ProductID:   l.ProductID,
				ParentID:    l.ParentID,
				ProductName: l.ProductName,
				Category:    l.Category,
				Level:       l.Level,
				FundID:      l.FundID,
				Quantity:    l.Quantity,
				Price:       l.Price,
			}
		}
		if err := h.orderRepo.CreateLines(ctx, tx, lines); err != nil {
			return err
		}

		meta := make([]*model.OrderMeta, 0, len(req.Meta))
		for k, v := range req.Meta {
			meta = append(meta, &model.OrderMeta{OrderID: orderID, Key: k, Value: v})
		}
		return h.orderRepo.CreateMeta(ctx, tx, meta)
	})
	if err != nil {
		return err
	}

	if err := h.triggerRepo.MarkProcessed(orderID); err != nil {
		return err
	}

	// Immediate phase first: local writes must precede scheduling of the
	// sync phase.
	if err := h.router.ProcessImmediate(ctx, orderID); err != nil {
		h.logger.WithError(err).WithField("order_id", orderID).Error("immediate phase failed")
	}

	if err := h.queue.ScheduleAsyncProcessing(ctx, orderID); err != nil {
		h.logger.WithError(err).WithField("order_id", orderID).Error("schedule async processing")
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "accepted"})
}
