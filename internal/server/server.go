package server

import (
	"context"

	"lgl-sync/internal/handler"
	custommw "lgl-sync/internal/middleware"
	"lgl-sync/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type Server struct {
	echo           *echo.Echo
	orderHandler   *handler.OrderHandler
	memberHandler  *handler.MemberHandler
	adminHandler   *handler.AdminHandler
	adminJWTSecret string
}

func NewServer(
	orderHandler *handler.OrderHandler,
	memberHandler *handler.MemberHandler,
	adminHandler *handler.AdminHandler,
	queue service.SyncQueueService,
	adminJWTSecret string,
) *Server {
	e := echo.New()

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Stuck-order fallback for environments where the task runner stalls:
	// every request opportunistically re-drives lost orders. The sweep
	// rate-limits itself.
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			go queue.StuckOrderSweep(context.Background())
			return next(c)
		}
	})

	s := &Server{
		echo:           e,
		orderHandler:   orderHandler,
		memberHandler:  memberHandler,
		adminHandler:   adminHandler,
		adminJWTSecret: adminJWTSecret,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})

	// -------- storefront triggers --------
	api.POST("/orders/:id/completed", s.orderHandler.Completed)
	api.POST("/members/:id/family", s.memberHandler.AddFamilyMember)

	// -------- admin --------
	admin := api.Group("/admin", custommw.AdminAuth(s.adminJWTSecret))
	admin.GET("/orders/:id/sync", s.adminHandler.GetSyncStatus)
	admin.POST("/orders/:id/retry", s.adminHandler.Retry)
	admin.POST("/members/:id/reconcile-slots", s.adminHandler.ReconcileSlots)
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown() error {
	return s.echo.Close()
}
