package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"larder/internal/core/apperror"
	"larder/internal/domain/material"
	"larder/internal/domain/stock"
	"larder/internal/domain/units"
	"larder/internal/infrastructure/http/v1/dto"
)

// MaterialHandler serves the stock list, movement history and unit
// conversion.
type MaterialHandler struct {
	*BaseHandler
	materials material.Repository
	stock     *stock.Service
}

// NewMaterialHandler creates a new material handler.
func NewMaterialHandler(base *BaseHandler, materials material.Repository, stockService *stock.Service) *MaterialHandler {
	return &MaterialHandler{BaseHandler: base, materials: materials, stock: stockService}
}

// List handles GET /materials.
func (h *MaterialHandler) List(c *gin.Context) {
	list, err := h.materials.List(c.Request.Context(), h.Owner(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(list))
}

// Movements handles GET /materials/:id/movements.
func (h *MaterialHandler) Movements(c *gin.Context) {
	rid, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var q dto.MovementQuery
	if !h.BindQuery(c, &q) {
		return
	}
	filter, err := q.ToFilter()
	if err != nil {
		h.Error(c, err)
		return
	}

	ctx := c.Request.Context()
	if _, err := h.materials.GetByID(ctx, h.Owner(c), rid); err != nil {
		h.Error(c, err)
		return
	}
	history, err := h.stock.History(ctx, h.Owner(c), rid, filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(history))
}

// Convert handles GET /units/convert?value=&from=&to=.
func (h *MaterialHandler) Convert(c *gin.Context) {
	var q dto.ConvertQuery
	if !h.BindQuery(c, &q) {
		return
	}
	value, err := decimal.NewFromString(q.Value)
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid value").WithDetail("value", q.Value))
		return
	}
	out, err := units.Convert(value, q.From, q.To)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.ConvertResponse{Value: out, From: q.From, To: q.To})
}
