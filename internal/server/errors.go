package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	apikeydomain "github.com/meterline/meterline/internal/apikey/domain"
	bundledomain "github.com/meterline/meterline/internal/bundle/domain"
	invoicedomain "github.com/meterline/meterline/internal/invoice/domain"
	paymentdomain "github.com/meterline/meterline/internal/payment/domain"
	"github.com/meterline/meterline/internal/schema"
	tenantdomain "github.com/meterline/meterline/internal/tenant/domain"
	usagedomain "github.com/meterline/meterline/internal/usage/domain"
)

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not_found")
	ErrInvalidRequest    = errors.New("invalid_request")
	ErrAuthNotConfigured = errors.New("auth_not_configured")
	ErrRateLimited       = errors.New("rate_limited")
)

type errorPayload struct {
	Type      string                  `json:"type"`
	Message   string                  `json:"message"`
	RequestID string                  `json:"request_id,omitempty"`
	Items     []usagedomain.ItemIssue `json:"items,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// respondError renders an error body, stamping the request id so the
// identifier appears in the body as well as the response header.
func respondError(c *gin.Context, status int, payload errorPayload) {
	payload.RequestID = c.GetString("request_id")
	c.AbortWithStatusJSON(status, errorResponse{Error: payload})
}

// ErrorHandlingMiddleware renders the last handler error as a JSON
// response when nothing was written yet.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		respondError(c, status, payload)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	var batchErr *usagedomain.ValidationError
	if errors.As(err, &batchErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: batchErr.Error(),
			Items:   batchErr.Items,
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, apikeydomain.ErrInvalidKey):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrAuthNotConfigured):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "auth_not_configured",
			Message: "authentication is not configured for this surface",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "rate limit exceeded",
		}
	case errors.Is(err, bundledomain.ErrBundleCodeExists),
		errors.Is(err, tenantdomain.ErrMemberExists):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: err.Error(),
		}
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, tenantdomain.ErrAppNotFound),
		errors.Is(err, tenantdomain.ErrTeamNotFound),
		errors.Is(err, tenantdomain.ErrUserNotFound),
		errors.Is(err, tenantdomain.ErrBillingEntityNotFound),
		errors.Is(err, bundledomain.ErrBundleNotFound),
		errors.Is(err, bundledomain.ErrContractNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, apikeydomain.ErrKeyNotFound),
		errors.Is(err, schema.ErrSchemaNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, tenantdomain.ErrInvalidExternalRef),
		errors.Is(err, tenantdomain.ErrInvalidName),
		errors.Is(err, tenantdomain.ErrInvalidTeamKind),
		errors.Is(err, bundledomain.ErrInvalidCadence),
		errors.Is(err, bundledomain.ErrInvalidPolicy),
		errors.Is(err, bundledomain.ErrInvalidCode),
		errors.Is(err, usagedomain.ErrBatchTooLarge),
		errors.Is(err, usagedomain.ErrEmptyBatch),
		errors.Is(err, usagedomain.ErrInvalidGroupBy),
		errors.Is(err, invoicedomain.ErrInvalidInvoiceStatus),
		errors.Is(err, invoicedomain.ErrInvalidPeriod),
		errors.Is(err, apikeydomain.ErrInvalidName),
		errors.Is(err, apikeydomain.ErrInvalidScope),
		errors.Is(err, paymentdomain.ErrSignatureVerification):
		return true
	default:
		return false
	}
}
