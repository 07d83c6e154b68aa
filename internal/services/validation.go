package services

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/growshop/ledger/internal/models"
)

// ErrorResponse is the shape the boundary layer renders for a failed call.
type ErrorResponse struct {
	Error     string            `json:"error"`             // Error message
	Code      string            `json:"code"`              // Stable error code
	Retryable bool              `json:"retryable"`         // Safe to retry with backoff
	Details   map[string]string `json:"details,omitempty"` // Validation details
}

var errorCodes = []struct {
	target error
	code   string
}{
	{models.ErrValidation, "validation_error"},
	{models.ErrInsufficientFunds, "insufficient_funds"},
	{models.ErrNoActiveRate, "no_active_rate"},
	{models.ErrRange, "amount_out_of_range"},
	{models.ErrLockTimeout, "lock_timeout"},
	{models.ErrAccountNotFound, "account_not_found"},
	{models.ErrAccountExists, "account_exists"},
	{models.ErrAccountDisabled, "account_disabled"},
	{models.ErrEntryNotFound, "entry_not_found"},
	{models.ErrIllegalTransition, "illegal_transition"},
	{models.ErrStorage, "storage_error"},
}

// NewErrorResponse maps a ledger error onto a stable code.
func NewErrorResponse(err error) ErrorResponse {
	resp := ErrorResponse{Error: err.Error(), Code: "internal_error", Retryable: models.IsRetryable(err)}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.target) {
			resp.Code = ec.code
			break
		}
	}

	var ve *models.ValidationError
	if errors.As(err, &ve) {
		resp.Details = map[string]string{ve.Field: ve.Message}
	}
	return resp
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("ledger_currency", func(fl validator.FieldLevel) bool {
		return models.Currency(fl.Field().String()).Valid()
	})
	v.RegisterValidation("entry_type", func(fl validator.FieldLevel) bool {
		return models.EntryType(fl.Field().String()).Valid()
	})

	return &ValidationHelper{
		validator: v,
	}
}

// ValidateStruct validates a struct and returns the first failure as a
// *models.ValidationError
func (vh *ValidationHelper) ValidateStruct(s any) error {
	err := vh.validator.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return models.NewValidationError(fe.Field(), "field validation failed on '%s' tag", fe.Tag())
	}
	return models.NewValidationError("request", "%v", err)
}
