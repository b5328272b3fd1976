package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/xelth-com/arkikgo/internal/apperr"
	"github.com/xelth-com/arkikgo/internal/arkik"
	"github.com/xelth-com/arkikgo/internal/arkikfile"
	"github.com/xelth-com/arkikgo/internal/lock"
	"github.com/xelth-com/arkikgo/internal/resilience"
	"github.com/xelth-com/arkikgo/internal/services/importer"
)

// rejected decisions are the operator's to fix
var validationErrors = []error{
	arkik.ErrNotDuplicate,
	arkik.ErrInvalidStrategy,
	arkik.ErrUnknownCandidate,
	arkik.ErrAssignmentNotUsed,
	arkik.ErrNotAbnormal,
	arkik.ErrTargetRequired,
	arkik.ErrUnknownTarget,
	arkik.ErrSelfTarget,
	arkik.ErrNegativeQuantity,
	arkik.ErrNothingToTransfer,
	arkik.ErrWasteReasonRequired,
	arkik.ErrUnknownStatusAction,
}

var badRequestErrors = []error{
	arkikfile.ErrNoHeader,
	arkikfile.ErrUnsupportedFormat,
	importer.ErrPlantRequired,
}

var conflictErrors = []error{
	arkik.ErrCommitInProgress,
	arkik.ErrDecisionAlreadyFinal,
	arkik.ErrCommitBlocked,
	lock.ErrNotObtained,
}

// toAppError maps service and engine errors to HTTP errors
func toAppError(err error) *apperr.AppError {
	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := apperr.Validation("validation failed")
		for _, fe := range verrs {
			out.WithDetail(fieldName(fe), fieldMessage(fe))
		}
		return out
	}

	switch {
	case errors.Is(err, arkik.ErrSessionNotFound):
		return apperr.New(apperr.CodeNotFound, err.Error(), http.StatusNotFound).Wrap(err)
	case errors.Is(err, arkik.ErrRecordNotFound):
		return apperr.New(apperr.CodeNotFound, err.Error(), http.StatusNotFound).Wrap(err)
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, context.DeadlineExceeded):
		return apperr.Unavailable("database").Wrap(err)
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return apperr.Validation(err.Error()).Wrap(err)
		}
	}
	for _, target := range badRequestErrors {
		if errors.Is(err, target) {
			return apperr.BadRequest(err.Error()).Wrap(err)
		}
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return apperr.Conflict(err.Error()).Wrap(err)
		}
	}
	return apperr.As(err)
}

// fieldName lowercases the first letter of the struct field
func fieldName(fe validator.FieldError) string {
	field := fe.Field()
	if len(field) > 0 {
		field = strings.ToLower(field[:1]) + field[1:]
	}
	return field
}

func fieldMessage(fe validator.FieldError) string {
	field := fieldName(fe)
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_if":
		return fmt.Sprintf("%s is required when %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "uuid":
		return fmt.Sprintf("%s must be a valid UUID", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
