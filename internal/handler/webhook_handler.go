package handler

import (
	"io"
	"net/http"
	"time"

	"storefront/internal/config"
	"storefront/internal/domain/model"
	"storefront/internal/middleware"
	"storefront/internal/usecase"

	"github.com/labstack/echo/v4"
)

const (
	HeaderSignature = "Stripe-Signature"

	maxWebhookBody = 1 << 20
)

// 決済プロバイダからの通知。署名を検証してから処理する。
type WebhookHandler struct {
	uc        *usecase.PaymentWebhookUsecase
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

func NewWebhookHandler(uc *usecase.PaymentWebhookUsecase, cfg config.Config) *WebhookHandler {
	return &WebhookHandler{
		uc:        uc,
		secret:    cfg.WebhookSecret,
		tolerance: usecase.DefaultSignatureTolerance,
		now:       time.Now,
	}
}

type WebhookResponse struct {
	Received bool              `json:"received"`
	Ignored  bool              `json:"ignored,omitempty"`
	OrderID  int64             `json:"order_id,omitempty"`
	Status   model.OrderStatus `json:"status,omitempty"`
}

func (h *WebhookHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/webhooks/payments", h.receive)
}

func (h *WebhookHandler) receive(c echo.Context) error {
	//署名は生のbodyに対して計算されるので Bind はしない
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	sig := c.Request().Header.Get(HeaderSignature)
	if err := usecase.VerifySignature(body, sig, h.secret, h.now(), h.tolerance); err != nil {
		c.Set(middleware.CtxErrorKey, err)
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid signature"})
	}

	evt, err := usecase.ParseWebhookEvent(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid payload"})
	}

	o, handled, err := h.uc.Dispatch(c.Request().Context(), evt)
	if err != nil {
		return writeError(c, err)
	}
	if !handled {
		return c.JSON(http.StatusOK, WebhookResponse{Received: true, Ignored: true})
	}
	return c.JSON(http.StatusOK, WebhookResponse{Received: true, OrderID: o.ID, Status: o.Status})
}
