// Package handlers provides HTTP request handlers.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"larder/internal/core/apperror"
	"larder/internal/core/id"
	"larder/internal/infrastructure/http/v1/dto"
	"larder/internal/infrastructure/http/v1/middleware"
)

// BaseHandler provides common handler utilities.
type BaseHandler struct{}

// NewBaseHandler creates a new base handler.
func NewBaseHandler() *BaseHandler {
	return &BaseHandler{}
}

// BindJSON binds and validates JSON request body.
func (h *BaseHandler) BindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		h.Error(c, apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		return false
	}
	return true
}

// BindQuery binds and validates query parameters.
func (h *BaseHandler) BindQuery(c *gin.Context, obj any) bool {
	if err := c.ShouldBindQuery(obj); err != nil {
		h.Error(c, apperror.NewValidation("invalid query parameters").WithDetail("error", err.Error()))
		return false
	}
	return true
}

// Error registers err on the gin context and aborts. The response is
// written by middleware.ErrorHandler.
func (h *BaseHandler) Error(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// Owner returns the account the request is scoped to.
func (h *BaseHandler) Owner(c *gin.Context) id.ID {
	return middleware.OwnerID(c)
}

// ParseID parses a path parameter as an id, aborting with 400 on failure.
func (h *BaseHandler) ParseID(c *gin.Context, param string) (id.ID, bool) {
	raw := c.Param(param)
	parsed, err := id.Parse(raw)
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid id").WithDetail("param", param).WithDetail("value", raw))
		return id.Nil(), false
	}
	return parsed, true
}

// Respond writes data as JSON and stores it for idempotent replay.
func (h *BaseHandler) Respond(c *gin.Context, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		h.Error(c, apperror.NewInternal(err))
		return
	}
	middleware.CompleteIdempotency(c, status, body)
	c.Data(status, "application/json; charset=utf-8", body)
}

// OK sends 200 response with data.
func (h *BaseHandler) OK(c *gin.Context, data any) {
	h.Respond(c, http.StatusOK, data)
}

// Created sends 201 response with the new id.
func (h *BaseHandler) Created(c *gin.Context, newID id.ID) {
	h.Respond(c, http.StatusCreated, dto.NewIDResponse(newID))
}

// Unprocessable sends 422 with a result body describing why the operation
// did not take effect.
func (h *BaseHandler) Unprocessable(c *gin.Context, data any) {
	h.Respond(c, http.StatusUnprocessableEntity, data)
}
