package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	AppsErrorBadInput              = "APPS_BAD_INPUT"
	AppsErrorAppNotFound           = "APPS_APP_NOT_FOUND"
	AppsErrorAppNotRegistered      = "APPS_APP_NOT_REGISTERED"
	AppsErrorCapabilityUnsupported = "APPS_CAPABILITY_UNSUPPORTED"
	AppsErrorConfiguration         = "APPS_CONFIGURATION"
	AppsErrorVendorFailure         = "APPS_VENDOR_FAILURE"
	AppsErrorUnauthorized          = "APPS_UNAUTHORIZED"
	AppsErrorNotFound              = "APPS_NOT_FOUND"
	AppsErrorConflict              = "APPS_CONFLICT"
	AppsErrorInternal              = "APPS_INTERNAL_ERROR"
)

type ErrorMapper func(err error) *goerrors.Error

// DefaultErrorMapper converts runtime errors to transport friendly
// envelopes. AppError i18n references travel in metadata.
func DefaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	if appErr, ok := AsAppError(err); ok {
		category, textCode := appErrorCategory(appErr.Kind)
		mapped := goerrors.New(appErr.Error(), category).
			WithTextCode(textCode).
			WithMetadata(map[string]any{
				"key":  appErr.Key,
				"args": copyAnyMap(appErr.Args),
				"kind": string(appErr.Kind),
			})
		return ensureErrorEnvelope(mapped)
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrAppNotFound):
		return newAppsError(err.Error(), goerrors.CategoryNotFound, AppsErrorAppNotFound)
	case errors.Is(err, ErrAppNotRegistered):
		return newAppsError(err.Error(), goerrors.CategoryNotFound, AppsErrorAppNotRegistered)
	case errors.Is(err, ErrCapabilityNotSupported):
		return newAppsError(err.Error(), goerrors.CategoryOperation, AppsErrorCapabilityUnsupported)
	case errors.Is(err, ErrReminderNameTaken):
		return newAppsError(err.Error(), goerrors.CategoryConflict, AppsErrorConflict)
	case errors.Is(err, ErrReminderNotFound):
		return newAppsError(err.Error(), goerrors.CategoryNotFound, AppsErrorNotFound)
	case errors.Is(err, ErrInvalidReminder), errors.Is(err, ErrInvalidEvent), errors.Is(err, ErrAppDataEmpty), errors.Is(err, ErrInvalidRequest):
		return newAppsError(err.Error(), goerrors.CategoryBadInput, AppsErrorBadInput)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	if strings.Contains(msg, "required") || strings.Contains(msg, "invalid") {
		return newAppsError(err.Error(), goerrors.CategoryBadInput, AppsErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func appErrorCategory(kind ErrorKind) (goerrors.Category, string) {
	switch kind {
	case ErrorKindConfig:
		return goerrors.CategoryBadInput, AppsErrorConfiguration
	case ErrorKindTransient:
		return goerrors.CategoryExternal, AppsErrorVendorFailure
	case ErrorKindAuth:
		return goerrors.CategoryAuth, AppsErrorUnauthorized
	case ErrorKindNotFound:
		return goerrors.CategoryNotFound, AppsErrorNotFound
	default:
		return goerrors.CategoryInternal, AppsErrorInternal
	}
}

func newAppsError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(goerrors.New(message, category).WithTextCode(textCode))
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatusForCategory(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return AppsErrorBadInput
	case goerrors.CategoryNotFound:
		return AppsErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return AppsErrorUnauthorized
	case goerrors.CategoryConflict:
		return AppsErrorConflict
	case goerrors.CategoryExternal:
		return AppsErrorVendorFailure
	case goerrors.CategoryOperation:
		return AppsErrorCapabilityUnsupported
	default:
		return AppsErrorInternal
	}
}

func httpStatusForCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryOperation:
		return http.StatusUnprocessableEntity
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
