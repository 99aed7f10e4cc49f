package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/postloom/postloom/internal/account/domain"
	connectiondomain "github.com/postloom/postloom/internal/connection/domain"
	contentdomain "github.com/postloom/postloom/internal/content/domain"
	creditsdomain "github.com/postloom/postloom/internal/credits/domain"
	generationdomain "github.com/postloom/postloom/internal/generation/domain"
	notificationdomain "github.com/postloom/postloom/internal/notification/domain"
	publisherdomain "github.com/postloom/postloom/internal/publisher/domain"
	purchasedomain "github.com/postloom/postloom/internal/purchase/domain"
	webhookdomain "github.com/postloom/postloom/internal/webhook/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not_found")
)

// ErrorHandlingMiddleware converts errors attached to the gin context into
// the JSON error envelope. Upstream failure detail leaks only when
// includeDetail is set, which production turns off.
func ErrorHandlingMiddleware(includeDetail bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err, includeDetail)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error, includeDetail bool) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	switch {
	case isUnauthorizedError(err):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, creditsdomain.ErrInsufficientBalance):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_credits",
			Message: "not enough credits for this operation",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isUpstreamError(err):
		payload := errorPayload{
			Type:    "platform_unavailable",
			Message: "upstream platform request failed",
		}
		if includeDetail {
			payload.Message = err.Error()
		}
		return http.StatusBadGateway, payload
	case errors.Is(err, creditsdomain.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "ledger unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err, false)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, contentdomain.ErrInvalidKind),
		errors.Is(err, contentdomain.ErrInvalidInput),
		errors.Is(err, contentdomain.ErrMissingMedia),
		errors.Is(err, contentdomain.ErrScheduleInPast),
		errors.Is(err, creditsdomain.ErrInvalidAmount),
		errors.Is(err, creditsdomain.ErrInvalidCursor),
		errors.Is(err, generationdomain.ErrInvalidPrompt),
		errors.Is(err, generationdomain.ErrInvalidKind),
		errors.Is(err, connectiondomain.ErrInvalidPlatform),
		errors.Is(err, connectiondomain.ErrInvalidOAuthState),
		errors.Is(err, webhookdomain.ErrInvalidRule),
		errors.Is(err, purchasedomain.ErrUnknownPack):
		return true
	default:
		return false
	}
}

func isUnauthorizedError(err error) bool {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, accountdomain.ErrInvalidCredentials),
		errors.Is(err, accountdomain.ErrAccountInactive),
		errors.Is(err, accountdomain.ErrInvalidSession),
		errors.Is(err, accountdomain.ErrSessionNotFound),
		errors.Is(err, accountdomain.ErrSessionExpired),
		errors.Is(err, accountdomain.ErrSessionRevoked),
		errors.Is(err, creditsdomain.ErrInvalidAccount),
		errors.Is(err, contentdomain.ErrInvalidAccount),
		errors.Is(err, connectiondomain.ErrInvalidAccount),
		errors.Is(err, generationdomain.ErrInvalidAccount),
		errors.Is(err, notificationdomain.ErrInvalidAccount),
		errors.Is(err, webhookdomain.ErrInvalidAccount),
		errors.Is(err, purchasedomain.ErrInvalidAccount),
		errors.Is(err, webhookdomain.ErrVerifyFailed),
		errors.Is(err, webhookdomain.ErrInvalidSignature),
		errors.Is(err, purchasedomain.ErrInvalidSignature):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, accountdomain.ErrAccountNotFound),
		errors.Is(err, contentdomain.ErrNotFound),
		errors.Is(err, connectiondomain.ErrNotFound),
		errors.Is(err, connectiondomain.ErrNoActiveConnection),
		errors.Is(err, notificationdomain.ErrNotFound),
		errors.Is(err, webhookdomain.ErrRuleNotFound),
		errors.Is(err, generationdomain.ErrNoSuchTask),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, accountdomain.ErrAccountExists),
		errors.Is(err, contentdomain.ErrInvalidState):
		return true
	default:
		return false
	}
}

func isUpstreamError(err error) bool {
	switch {
	case errors.Is(err, publisherdomain.ErrExternal),
		errors.Is(err, publisherdomain.ErrRejected),
		errors.Is(err, generationdomain.ErrProviderFailed),
		errors.Is(err, connectiondomain.ErrExchangeFailed):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	msg := err.Error()
	if idx := strings.IndexByte(msg, ':'); idx > 0 {
		msg = msg[:idx]
	}
	return msg
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}
