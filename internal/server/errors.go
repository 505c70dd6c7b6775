package server

import (
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	auditdomain "github.com/smallbiznis/invoicedesk/internal/audit/domain"
	"github.com/smallbiznis/invoicedesk/internal/authorization"
	catalogdomain "github.com/smallbiznis/invoicedesk/internal/catalog/domain"
	clientdomain "github.com/smallbiznis/invoicedesk/internal/client/domain"
	invoicedomain "github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"github.com/smallbiznis/invoicedesk/pkg/db/pagination"
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

type dispatchPayload struct {
	Stage     string `json:"stage"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
}

type errorPayload struct {
	Type      string                        `json:"type"`
	Code      string                        `json:"code,omitempty"`
	Message   string                        `json:"message"`
	Errors    []ValidationError             `json:"errors,omitempty"`
	Offenders []invoicedomain.FloorOffender `json:"offenders,omitempty"`
	Dispatch  *dispatchPayload              `json:"dispatch,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrRateLimited        = errors.New("rate_limited")
)

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

// classifyErrorForLog feeds the request logger the same type and code the client sees.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Code
	if code == "" && len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	var dispatchErr *invoicedomain.DispatchError
	if errors.As(err, &dispatchErr) {
		return mapDispatchError(dispatchErr)
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  fromFieldErrors(fieldErrs),
		}
	}

	var lineErr *invoicedomain.ValidationError
	if errors.As(err, &lineErr) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{{
				Field:   lineErrorField(lineErr),
				Code:    "invalid_" + strings.ToLower(lineErr.Field),
				Message: lineErr.Reason,
			}},
		}
	}

	var floorErr *invoicedomain.FloorViolation
	if errors.As(err, &floorErr) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:      "price_below_floor",
			Code:      "price_below_floor",
			Message:   floorErr.Error(),
			Offenders: floorErr.Offenders,
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
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many sends, retry later",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    notFoundCode(err),
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    sentinelCode(err, conflictErrors),
			Message: conflictMessage(err),
		}
	case isConfigurationError(err):
		return http.StatusInternalServerError, errorPayload{
			Type:    "configuration_error",
			Code:    sentinelCode(err, configurationErrors),
			Message: "service is not configured for this operation",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, invoicedomain.ErrTransient):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable, retry later",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func mapDispatchError(err *invoicedomain.DispatchError) (int, errorPayload) {
	payload := errorPayload{
		Type:    "dispatch_error",
		Code:    dispatchCode(err),
		Message: err.Error(),
		Dispatch: &dispatchPayload{
			Stage:     string(err.Stage),
			Kind:      string(err.Kind),
			Retryable: err.Retryable(),
		},
	}

	switch err.Kind {
	case invoicedomain.KindNotFound:
		return http.StatusNotFound, payload
	case invoicedomain.KindValidation:
		return http.StatusUnprocessableEntity, payload
	case invoicedomain.KindConflict:
		return http.StatusConflict, payload
	case invoicedomain.KindTransient:
		return http.StatusServiceUnavailable, payload
	case invoicedomain.KindRejected:
		return http.StatusBadGateway, payload
	default:
		return http.StatusInternalServerError, payload
	}
}

func dispatchCode(err *invoicedomain.DispatchError) string {
	for _, sentinel := range []error{
		invoicedomain.ErrNoRecipient,
		invoicedomain.ErrNoAcceptedRecipient,
		invoicedomain.ErrRecipientsRejected,
		invoicedomain.ErrMessageRejected,
		invoicedomain.ErrMailNotConfigured,
		invoicedomain.ErrFontUnavailable,
		invoicedomain.ErrDispatchInProgress,
		invoicedomain.ErrInvoiceNotFound,
		invoicedomain.ErrClientNotFound,
		invoicedomain.ErrTransient,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return string(err.Kind)
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func lineErrorField(err *invoicedomain.ValidationError) string {
	if err.Index < 0 {
		return err.Field
	}
	return "lines[" + strconv.Itoa(err.Index) + "]." + err.Field
}

func fromFieldErrors(errs validator.ValidationErrors) []ValidationError {
	out := make([]ValidationError, 0, len(errs))
	for _, fe := range errs {
		field := fe.Namespace()
		if idx := strings.Index(field, "."); idx >= 0 {
			field = field[idx+1:]
		}
		out = append(out, ValidationError{
			Field:   field,
			Code:    fe.Tag(),
			Message: "failed on " + fe.Tag() + " rule",
		})
	}
	return out
}

// jsonTagName reports validation failures under the request's JSON names.
func jsonTagName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return field.Name
	}
	return name
}

var invalidInputErrors = []error{
	ErrInvalidRequest,
	invoicedomain.ErrInvalidInvoiceID,
	invoicedomain.ErrInvalidClientID,
	invoicedomain.ErrInvalidStatus,
	invoicedomain.ErrInvalidTaxRate,
	invoicedomain.ErrInvalidMode,
	pagination.ErrInvalidPageToken,
	auditdomain.ErrInvalidTimeRange,
	auditdomain.ErrInvalidAction,
}

var notFoundErrors = []error{
	ErrNotFound,
	invoicedomain.ErrInvoiceNotFound,
	invoicedomain.ErrClientNotFound,
	invoicedomain.ErrProductNotFound,
	clientdomain.ErrNotFound,
	catalogdomain.ErrNotFound,
	gorm.ErrRecordNotFound,
}

var conflictErrors = []error{
	invoicedomain.ErrIllegalTransition,
	invoicedomain.ErrSentRequiresDispatch,
	invoicedomain.ErrNotEditable,
	invoicedomain.ErrNumberConflict,
	invoicedomain.ErrDispatchInProgress,
}

var configurationErrors = []error{
	invoicedomain.ErrMailNotConfigured,
	invoicedomain.ErrFontUnavailable,
}

func isValidationError(err error) bool {
	return matchesAny(err, invalidInputErrors)
}

func isNotFoundError(err error) bool {
	return matchesAny(err, notFoundErrors)
}

func isConflictError(err error) bool {
	return matchesAny(err, conflictErrors)
}

func isConfigurationError(err error) bool {
	return matchesAny(err, configurationErrors)
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func sentinelCode(err error, targets []error) string {
	for _, target := range targets {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return ""
}

func notFoundCode(err error) string {
	switch {
	case errors.Is(err, invoicedomain.ErrInvoiceNotFound):
		return "invoice_not_found"
	case errors.Is(err, invoicedomain.ErrClientNotFound),
		errors.Is(err, clientdomain.ErrNotFound):
		return "client_not_found"
	case errors.Is(err, invoicedomain.ErrProductNotFound),
		errors.Is(err, catalogdomain.ErrNotFound):
		return "product_not_found"
	default:
		return ""
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, invoicedomain.ErrSentRequiresDispatch):
		return "an invoice becomes sent only through dispatch"
	case errors.Is(err, invoicedomain.ErrNotEditable):
		return "invoice lines can no longer be edited"
	case errors.Is(err, invoicedomain.ErrNumberConflict):
		return "could not allocate an invoice number, retry"
	case errors.Is(err, invoicedomain.ErrDispatchInProgress):
		return "invoice is already being sent"
	default:
		return err.Error()
	}
}

func validationErrorCode(err error) string {
	for _, target := range invalidInputErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return err.Error()
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "invalid_invoice_id":
		return "id"
	case "invalid_render_mode":
		return "mode"
	case "invalid_time_range":
		return "start_at"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
