package handler

import (
	"net/http"
	"strconv"

	"storefront/internal/usecase"

	"github.com/labstack/echo/v4"
)

// 公開API。在庫数の表示用（押さえ中の分を引いた数）。
type InventoryHandler struct {
	uc *usecase.InventoryUsecase
}

func NewInventoryHandler(uc *usecase.InventoryUsecase) *InventoryHandler {
	return &InventoryHandler{uc: uc}
}

type AvailableResponse struct {
	ProductID int64  `json:"product_id"`
	VariantID *int64 `json:"variant_id,omitempty"`
	Tracked   bool   `json:"tracked"`
	Available *int64 `json:"available,omitempty"` // 在庫管理しない商品は null
}

func (h *InventoryHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/inventory/available", h.available)
}

func (h *InventoryHandler) available(c echo.Context) error {
	productID, err := strconv.ParseInt(c.QueryParam("product_id"), 10, 64)
	if err != nil || productID <= 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid product_id"})
	}

	var variantID *int64
	if v := c.QueryParam("variant_id"); v != "" {
		x, err := strconv.ParseInt(v, 10, 64)
		if err != nil || x <= 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid variant_id"})
		}
		variantID = &x
	}

	n, err := h.uc.Available(c.Request().Context(), productID, variantID)
	if err != nil {
		return writeError(c, err)
	}

	res := AvailableResponse{ProductID: productID, VariantID: variantID}
	if n != usecase.AlwaysAvailable {
		res.Tracked = true
		res.Available = &n
	}
	return c.JSON(http.StatusOK, res)
}
