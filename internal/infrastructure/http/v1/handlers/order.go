package handlers

import (
	"github.com/gin-gonic/gin"

	"larder/internal/domain/order"
	"larder/internal/infrastructure/http/v1/dto"
)

// OrderHandler serves orders and product recipes.
type OrderHandler struct {
	*BaseHandler
	service *order.Service
}

// NewOrderHandler creates a new order handler.
func NewOrderHandler(base *BaseHandler, service *order.Service) *OrderHandler {
	return &OrderHandler{BaseHandler: base, service: service}
}

// RegisterRoutes mounts the order endpoints on orders and the recipe
// endpoints on products.
func (h *OrderHandler) RegisterRoutes(orders, products *gin.RouterGroup) {
	orders.POST("", h.Create)
	orders.GET("/:id", h.Get)
	orders.PATCH("/:id/status", h.SetStatus)
	orders.GET("/:id/requirements", h.Requirements)
	orders.GET("/:id/can-complete", h.CanComplete)
	orders.POST("/:id/complete", h.Complete)
	orders.POST("/:id/reverse", h.Reverse)

	products.PUT("/:id/recipe", h.PutRecipe)
	products.GET("/:id/recipe", h.GetRecipe)
}

// Create handles POST /orders.
func (h *OrderHandler) Create(c *gin.Context) {
	var req dto.CreateOrderRequest
	if !h.BindJSON(c, &req) {
		return
	}
	lines, err := req.ToLines()
	if err != nil {
		h.Error(c, err)
		return
	}
	o := order.NewOrder(h.Owner(c), lines)
	if err := h.service.Create(c.Request.Context(), o); err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, o.ID)
}

// Get handles GET /orders/:id.
func (h *OrderHandler) Get(c *gin.Context) {
	orderID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	o, err := h.service.Get(c.Request.Context(), h.Owner(c), orderID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, o)
}

// SetStatus handles PATCH /orders/:id/status.
func (h *OrderHandler) SetStatus(c *gin.Context) {
	orderID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.SetOrderStatusRequest
	if !h.BindJSON(c, &req) {
		return
	}
	to, err := order.ParseStatus(req.Status)
	if err != nil {
		h.Error(c, err)
		return
	}
	o, err := h.service.SetStatus(c.Request.Context(), h.Owner(c), orderID, to)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, o)
}

// Requirements handles GET /orders/:id/requirements.
func (h *OrderHandler) Requirements(c *gin.Context) {
	orderID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	reqs, err := h.service.Requirements(c.Request.Context(), h.Owner(c), orderID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(reqs))
}

// CanComplete handles GET /orders/:id/can-complete.
func (h *OrderHandler) CanComplete(c *gin.Context) {
	orderID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	f, err := h.service.CanComplete(c.Request.Context(), h.Owner(c), orderID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, f)
}

// Complete handles POST /orders/:id/complete. Shortfalls answer 422 with
// the completion report and nothing is deducted.
func (h *OrderHandler) Complete(c *gin.Context) {
	orderID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	result, err := h.service.Complete(c.Request.Context(), h.Owner(c), orderID)
	if err != nil {
		h.Error(c, err)
		return
	}
	if !result.Completed {
		h.Unprocessable(c, result)
		return
	}
	h.OK(c, result)
}

// Reverse handles POST /orders/:id/reverse.
func (h *OrderHandler) Reverse(c *gin.Context) {
	orderID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	result, err := h.service.Reverse(c.Request.Context(), h.Owner(c), orderID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, result)
}

// PutRecipe handles PUT /products/:id/recipe.
func (h *OrderHandler) PutRecipe(c *gin.Context) {
	productID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.RecipeRequest
	if !h.BindJSON(c, &req) {
		return
	}
	ingredients, err := req.ToIngredients()
	if err != nil {
		h.Error(c, err)
		return
	}
	rec := order.NewRecipe(h.Owner(c), productID, req.Name, ingredients)
	if err := h.service.SaveRecipe(c.Request.Context(), rec); err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, rec)
}

// GetRecipe handles GET /products/:id/recipe.
func (h *OrderHandler) GetRecipe(c *gin.Context) {
	productID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	rec, err := h.service.Recipe(c.Request.Context(), h.Owner(c), productID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, rec)
}
