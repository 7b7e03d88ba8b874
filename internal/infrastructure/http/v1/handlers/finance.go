package handlers

import (
	"github.com/gin-gonic/gin"

	"larder/internal/domain/finance"
)

// FinanceHandler serves the financial summary.
type FinanceHandler struct {
	*BaseHandler
	summary *finance.SummaryService
}

// NewFinanceHandler creates a new finance handler.
func NewFinanceHandler(base *BaseHandler, summary *finance.SummaryService) *FinanceHandler {
	return &FinanceHandler{BaseHandler: base, summary: summary}
}

// Summary handles GET /finance/summary.
func (h *FinanceHandler) Summary(c *gin.Context) {
	sum, err := h.summary.Get(c.Request.Context(), h.Owner(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, sum)
}
