package handlers

import (
	"github.com/gin-gonic/gin"

	"larder/internal/domain/purchase"
	"larder/internal/infrastructure/http/v1/dto"
)

// PurchaseHandler serves the purchase lifecycle.
type PurchaseHandler struct {
	*BaseHandler
	service *purchase.Service
}

// NewPurchaseHandler creates a new purchase handler.
func NewPurchaseHandler(base *BaseHandler, service *purchase.Service) *PurchaseHandler {
	return &PurchaseHandler{BaseHandler: base, service: service}
}

// RegisterRoutes mounts the purchase endpoints on rg.
func (h *PurchaseHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.Create)
	rg.POST("/normalize", h.Normalize)
	rg.GET("/:id", h.Get)
	rg.POST("/:id/transition", h.Transition)
	rg.DELETE("/:id", h.Delete)
}

// Create handles POST /purchases.
func (h *PurchaseHandler) Create(c *gin.Context) {
	var req dto.CreatePurchaseRequest
	if !h.BindJSON(c, &req) {
		return
	}
	lines, err := req.ToLines()
	if err != nil {
		h.Error(c, err)
		return
	}
	p := purchase.NewPurchase(h.Owner(c), req.Supplier, lines)
	if err := h.service.Create(c.Request.Context(), p); err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, p.ID)
}

// Get handles GET /purchases/:id.
func (h *PurchaseHandler) Get(c *gin.Context) {
	purchaseID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	p, err := h.service.Get(c.Request.Context(), h.Owner(c), purchaseID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, p)
}

// Transition handles POST /purchases/:id/transition.
// A completion blocked by unresolved lines answers 422 with the resolver
// report; the purchase keeps its previous status.
func (h *PurchaseHandler) Transition(c *gin.Context) {
	purchaseID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.TransitionRequest
	if !h.BindJSON(c, &req) {
		return
	}
	to, err := purchase.ParseStatus(req.Status)
	if err != nil {
		h.Error(c, err)
		return
	}

	result, err := h.service.Transition(c.Request.Context(), h.Owner(c), purchaseID, to)
	if err != nil {
		h.Error(c, err)
		return
	}
	if result.Blocked() {
		h.Unprocessable(c, result)
		return
	}
	h.OK(c, result)
}

// Delete handles DELETE /purchases/:id.
func (h *PurchaseHandler) Delete(c *gin.Context) {
	purchaseID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	result, err := h.service.Delete(c.Request.Context(), h.Owner(c), purchaseID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, result)
}

// Normalize handles POST /purchases/normalize: legacy lines in, canonical
// lines out. Nothing is stored.
func (h *PurchaseHandler) Normalize(c *gin.Context) {
	var req dto.NormalizeRequest
	if !h.BindJSON(c, &req) {
		return
	}
	lines, err := purchase.NormalizeLegacyLines(req.Lines)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(lines))
}
