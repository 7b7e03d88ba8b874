// Package apperror provides structured error handling following RFC 7807 Problem Details.
// Every error the ledger engine reports to a caller is an AppError.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Infrastructure errors (5xx)
	CodeInternal = "INTERNAL_ERROR"
	CodeDatabase = "DATABASE_ERROR"

	// Validation errors (400)
	CodeValidation        = "VALIDATION_ERROR"
	CodeUnknownUnit       = "UNKNOWN_UNIT"
	CodeIncompatibleUnits = "INCOMPATIBLE_UNITS"

	// Business rule violations (422)
	CodeBusinessRule         = "BUSINESS_RULE_VIOLATION"
	CodeInsufficientStock    = "INSUFFICIENT_STOCK"
	CodeResolutionExhausted  = "RESOLUTION_EXHAUSTED"
	CodeInconsistentStockRow = "INCONSISTENT_STOCK_ROW"
	CodeMissingRecipe        = "MISSING_RECIPE"
	CodeInvalidTransition    = "INVALID_TRANSITION"

	// Separate failure domain: bookkeeping after a committed stock change
	CodeSyncCleanupFailure = "SYNC_CLEANUP_FAILURE"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeConflict  = "CONFLICT"
	CodeDuplicate = "DUPLICATE_ENTRY"
)

// AppError is the standard error type for the engine.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (unit names, quantities, line numbers)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewUnknownUnit is returned by the unit normalizer for unrecognised unit strings.
func NewUnknownUnit(unit string) *AppError {
	return &AppError{
		Code:       CodeUnknownUnit,
		Message:    fmt.Sprintf("unknown unit %q", unit),
		HTTPStatus: http.StatusBadRequest,
		Details:    map[string]any{"unit": unit},
	}
}

// NewIncompatibleUnits is returned when two units belong to different families.
func NewIncompatibleUnits(from, to, fromFamily, toFamily string) *AppError {
	return &AppError{
		Code:       CodeIncompatibleUnits,
		Message:    fmt.Sprintf("cannot convert %s (%s) to %s (%s)", from, fromFamily, to, toFamily),
		HTTPStatus: http.StatusBadRequest,
		Details: map[string]any{
			"from":        from,
			"to":          to,
			"from_family": fromFamily,
			"to_family":   toFamily,
		},
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewBusinessRule creates a business rule violation error (422)
func NewBusinessRule(code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewResolutionExhausted is attached to a single line item the resolver gave up on.
func NewResolutionExhausted(name string, attempts int) *AppError {
	return &AppError{
		Code:       CodeResolutionExhausted,
		Message:    "could not resolve line item to a raw material",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"name": name, "attempts": attempts},
	}
}

// NewInconsistentStockRow aborts a purchase application whose resolved reference has no row.
func NewInconsistentStockRow(rawMaterialID any, lineNo int) *AppError {
	return &AppError{
		Code:       CodeInconsistentStockRow,
		Message:    "resolved raw material does not exist",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"raw_material_id": rawMaterialID, "line_no": lineNo},
	}
}

// NewMissingRecipe aborts an order completion for a product without a recipe.
func NewMissingRecipe(productID any) *AppError {
	return &AppError{
		Code:       CodeMissingRecipe,
		Message:    "no recipe for ordered product",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"product_id": productID},
	}
}

// NewInsufficientStock is used where a shortfall must be expressed as an error
// (purchase reversal). Order completion reports shortfalls as data instead.
func NewInsufficientStock(rawMaterialID string, required, available string) *AppError {
	return &AppError{
		Code:       CodeInsufficientStock,
		Message:    "Insufficient stock",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"raw_material_id": rawMaterialID,
			"required":        required,
			"available":       available,
		},
	}
}

// NewInvalidTransition rejects a lifecycle edge the gate does not allow.
func NewInvalidTransition(entity, from, to string) *AppError {
	return &AppError{
		Code:       CodeInvalidTransition,
		Message:    fmt.Sprintf("%s cannot move from %s to %s", entity, from, to),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "from": from, "to": to},
	}
}

// NewSyncCleanupFailure wraps a Financial Synchronizer failure that happened after
// the stock change was committed.
func NewSyncCleanupFailure(op string, relatedID any, err error) *AppError {
	return &AppError{
		Code:       CodeSyncCleanupFailure,
		Message:    "financial sync failed after stock change; queued for retry",
		HTTPStatus: http.StatusAccepted,
		Details:    map[string]any{"op": op, "related_id": relatedID},
		Err:        err,
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewConflict creates a conflict error (409)
func NewConflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// NewDuplicate creates a duplicate entry error (409)
func NewDuplicate(entity, field, value string) *AppError {
	return &AppError{
		Code:       CodeDuplicate,
		Message:    fmt.Sprintf("%s with this %s already exists", entity, field),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "field": field, "value": value},
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	return HasCode(err, CodeNotFound)
}

// IsDuplicate checks if error is CodeDuplicate
func IsDuplicate(err error) bool {
	return HasCode(err, CodeDuplicate)
}
