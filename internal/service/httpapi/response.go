package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

// коды ошибок в теле ответа.
const (
	codeValidation             = "VALIDATION_ERROR"
	codeInvalidInput           = "INVALID_INPUT"
	codeNotFound               = "NOT_FOUND"
	codeInsufficientStock      = "INSUFFICIENT_STOCK"
	codeDuplicate              = "DUPLICATE_RECORD"
	codeInUse                  = "RESOURCE_IN_USE"
	codeConcurrentModification = "CONCURRENT_MODIFICATION"
	codeInvalidTransition      = "INVALID_TRANSITION"
	codeIdempotencyConflict    = "IDEMPOTENCY_CONFLICT"
	codeRateLimited            = "RATE_LIMITED"
	codeInternal               = "INTERNAL_ERROR"
)

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Message string     `json:"message,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

type insufficientStockDetails struct {
	ProductID     string `json:"product_id"`
	StockRecordID string `json:"stock_record_id,omitempty"`
	Requested     int64  `json:"requested"`
	Available     int64  `json:"available"`
	Shortfall     int64  `json:"shortfall"`
}

func writeOK(c *gin.Context, status int, message string, data any) {
	c.JSON(status, envelope{Success: true, Data: data, Message: message})
}

func writeFailure(c *gin.Context, status int, code, message string, details any) {
	c.AbortWithStatusJSON(status, envelope{
		Success: false,
		Message: message,
		Error:   &errorBody{Code: code, Details: details},
	})
}

// writeError переводит доменную ошибку в HTTP-ответ.
func (h *Handler) writeError(c *gin.Context, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		writeFailure(c, http.StatusBadRequest, codeValidation, "validation failed", validationDetails(validationErrs))
		return
	}

	if shortage, ok := domain.AsInsufficientStock(err); ok {
		writeFailure(c, http.StatusConflict, codeInsufficientStock, shortage.Error(), insufficientStockDetails{
			ProductID:     shortage.ProductID,
			StockRecordID: shortage.StockRecordID,
			Requested:     shortage.Requested,
			Available:     shortage.Available,
			Shortfall:     shortage.Shortfall(),
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		writeFailure(c, http.StatusConflict, codeInsufficientStock, err.Error(), nil)
	case errors.Is(err, domain.ErrNotFound):
		writeFailure(c, http.StatusNotFound, codeNotFound, err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidInput):
		writeFailure(c, http.StatusBadRequest, codeInvalidInput, joinedMessage(err), nil)
	case errors.Is(err, domain.ErrDuplicateRecord):
		writeFailure(c, http.StatusConflict, codeDuplicate, err.Error(), nil)
	case errors.Is(err, domain.ErrInUse):
		writeFailure(c, http.StatusConflict, codeInUse, err.Error(), nil)
	case domain.IsVersionConflict(err):
		writeFailure(c, http.StatusConflict, codeConcurrentModification, err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidTransition):
		writeFailure(c, http.StatusUnprocessableEntity, codeInvalidTransition, err.Error(), nil)
	default:
		h.logger.WithError(err).WithFields(log.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("request failed")
		writeFailure(c, http.StatusInternalServerError, codeInternal, "internal server error", nil)
	}
}

// bindJSON разбирает тело запроса; ошибки разбора и валидации уже записаны в ответ.
func (h *Handler) bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.writeBindError(c, err, "invalid request body")
		return false
	}
	return true
}

func (h *Handler) bindQuery(c *gin.Context, dst any) bool {
	if err := c.ShouldBindQuery(dst); err != nil {
		h.writeBindError(c, err, "invalid query parameters")
		return false
	}
	return true
}

func (h *Handler) writeBindError(c *gin.Context, err error, message string) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		h.writeError(c, err)
		return
	}
	writeFailure(c, http.StatusBadRequest, codeInvalidInput, fmt.Sprintf("%s: %v", message, err), nil)
}

func validationDetails(errs validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(errs))
	for _, fe := range errs {
		fields[fieldName(fe)] = fieldMessage(fe)
	}
	return fields
}

func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		ns = ns[idx+1:]
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	field := fieldName(fe)
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "email":
		return field + " must be a valid email address"
	case "nefield":
		return fmt.Sprintf("%s must differ from %s", field, fe.Param())
	default:
		return field + " is invalid"
	}
}

// joinedMessage склеивает ошибки errors.Join в одну строку.
func joinedMessage(err error) string {
	return strings.ReplaceAll(err.Error(), "\n", "; ")
}
