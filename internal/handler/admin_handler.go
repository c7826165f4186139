package handler

import (
	"net/http"
	"strconv"

	"storefront/internal/config"
	"storefront/internal/domain/model"
	"storefront/internal/middleware"
	"storefront/internal/usecase"

	"github.com/labstack/echo/v4"
)

// /admin 配下
type AdminHandler struct {
	orders    *usecase.OrderUsecase
	inventory *usecase.InventoryUsecase
	sweeper   *usecase.ExpirySweeper
	audit     *usecase.AuditUsecase
}

func NewAdminHandler(orders *usecase.OrderUsecase, inventory *usecase.InventoryUsecase, sweeper *usecase.ExpirySweeper, audit *usecase.AuditUsecase) *AdminHandler {
	return &AdminHandler{orders: orders, inventory: inventory, sweeper: sweeper, audit: audit}
}

type AdminCancelRequest struct {
	Note string `json:"note"`
}

func (h *AdminHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	g := e.Group("/admin")
	g.Use(middleware.AuthJWT(cfg))
	g.Use(middleware.AdminRoleGuard())

	g.POST("/orders/:id/cancel", h.cancelOrder)
	g.POST("/sweeps/expire", h.sweep)

	g.POST("/inventory", h.seedInventory)
	g.PUT("/inventory", h.restock)
	g.GET("/inventory/low-stock", h.lowStock)

	g.GET("/audit-logs", h.auditLogs)
}

func (h *AdminHandler) cancelOrder(c echo.Context) error {
	adminID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}
	id, ok := parseID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	var req AdminCancelRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	reason, err := model.NewCancelReason(string(model.CancelReasonAdminCancelled), req.Note)
	if err != nil {
		return writeError(c, err)
	}

	out, err := h.orders.CancelOrder(c.Request().Context(), usecase.Actor{UserID: adminID, IsAdmin: true}, id, reason)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminHandler) sweep(c echo.Context) error {
	rep, err := h.sweeper.RunOnce(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *AdminHandler) seedInventory(c echo.Context) error {
	var req usecase.SeedInventoryInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	out, err := h.inventory.Seed(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminHandler) restock(c echo.Context) error {
	adminID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	var req usecase.RestockInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	out, err := h.inventory.Restock(c.Request().Context(), adminID, req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminHandler) lowStock(c echo.Context) error {
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
	}

	out, err := h.inventory.LowStock(c.Request().Context(), limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// ?resource_type=&resource_id=&action=&limit=&offset=
func (h *AdminHandler) auditLogs(c echo.Context) error {
	q := usecase.AuditQuery{
		ResourceType: c.QueryParam("resource_type"),
		Action:       c.QueryParam("action"),
	}
	var err error
	if v := c.QueryParam("resource_id"); v != "" {
		if q.ResourceID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid resource_id"})
		}
	}
	if q.Limit, err = queryInt(c, "limit", 50); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
	}
	if q.Offset, err = queryInt(c, "offset", 0); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid offset"})
	}

	out, err := h.audit.List(c.Request().Context(), q)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
