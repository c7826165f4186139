package server

import (
	"storefront/internal/config"
	"storefront/internal/handler"

	"github.com/labstack/echo/v4"
)

type Handlers struct {
	Orders    *handler.OrderHandler
	Admin     *handler.AdminHandler
	Inventory *handler.InventoryHandler
	Webhook   *handler.WebhookHandler
	Health    *handler.HealthHandler
}

func RegisterRoutes(e *echo.Echo, cfg config.Config, h Handlers) {
	h.Health.RegisterRoutes(e)
	h.Inventory.RegisterRoutes(e)
	h.Webhook.RegisterRoutes(e)
	h.Orders.RegisterRoutes(e, cfg)
	h.Admin.RegisterRoutes(e, cfg)
}
