package handler

import (
	"errors"
	"net/http"
	"strconv"

	"storefront/internal/domain/model"
	"storefront/internal/idempotency"
	"storefront/internal/middleware"
	"storefront/internal/usecase"

	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// 在庫不足。どの SKU がいくつ足りないかを返す。
type InsufficientStockResponse struct {
	Error     string `json:"error"`
	SKU       string `json:"sku"`
	ProductID int64  `json:"product_id"`
	VariantID *int64 `json:"variant_id,omitempty"`
	Available int64  `json:"available"`
	Requested int64  `json:"requested"`
}

type InvalidTransitionResponse struct {
	Error string            `json:"error"`
	From  model.OrderStatus `json:"from"`
	To    model.OrderStatus `json:"to"`
}

// 実行中の同一キーに対する再試行の目安（秒）
const conflictRetryAfter = 1

func writeError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}
	c.Set(middleware.CtxErrorKey, err)

	if he, ok := usecase.AsHTTPError(err); ok {
		return c.JSON(he.Status, ErrorResponse{Error: he.Message})
	}

	var stock *usecase.InsufficientStockError
	if errors.As(err, &stock) {
		return c.JSON(http.StatusConflict, InsufficientStockResponse{
			Error:     "insufficient stock",
			SKU:       stock.SKU,
			ProductID: stock.ProductID,
			VariantID: stock.VariantID,
			Available: stock.Available,
			Requested: stock.Requested,
		})
	}

	var tr *usecase.InvalidTransitionError
	if errors.As(err, &tr) {
		return c.JSON(http.StatusConflict, InvalidTransitionResponse{
			Error: "invalid state transition",
			From:  tr.From,
			To:    tr.To,
		})
	}

	switch {
	case errors.Is(err, idempotency.ErrConflict):
		c.Response().Header().Set("Retry-After", strconv.Itoa(conflictRetryAfter))
		return c.JSON(http.StatusConflict, ErrorResponse{Error: "request already in progress"})
	case errors.Is(err, idempotency.ErrRequestHashMismatch):
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "idempotency key reused with a different request"})
	case errors.Is(err, idempotency.ErrInvalidKey):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid idempotency key"})
	case errors.Is(err, idempotency.ErrRetriesExhausted):
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "retries exhausted"})
	case errors.Is(err, usecase.ErrOrderNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "order not found"})
	case errors.Is(err, usecase.ErrInventoryNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "inventory not found"})
	case errors.Is(err, usecase.ErrPaymentAmountMismatch):
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "payment amount mismatch"})
	case errors.Is(err, model.ErrInvalidCancelReason):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid cancel reason"})
	}

	//500
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

// JWTで入れたuser_idを取り出す
func getUserIDFromContext(c echo.Context) (int64, bool) {
	return middleware.UserID(c)
}

func parseID(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// 空なら def
func queryInt(c echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
