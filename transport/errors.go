package transport

import (
	"errors"
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-apps/core"
)

// StatusError is a vendor response outside the 2xx range.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: %s %s returned %d", e.Method, e.URL, e.StatusCode)
}

// IsStatus reports whether err is a vendor response with the given code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == code
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.Code == code && rich.TextCode != core.AppsErrorInternal
	}
	return false
}

func transportError(
	message string,
	category goerrors.Category,
	code int,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	metadata map[string]any,
) error {
	if source == nil {
		return transportError(message, category, code, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// statusCategory classifies a vendor status code so core can derive the
// failure kind.
func statusCategory(code int) goerrors.Category {
	switch {
	case code == http.StatusUnauthorized:
		return goerrors.CategoryAuth
	case code == http.StatusForbidden:
		return goerrors.CategoryAuthz
	case code == http.StatusNotFound:
		return goerrors.CategoryNotFound
	case code == http.StatusTooManyRequests:
		return goerrors.CategoryRateLimit
	case code >= 500:
		return goerrors.CategoryExternal
	case code >= 400:
		return goerrors.CategoryBadInput
	default:
		return goerrors.CategoryExternal
	}
}

func transportTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.AppsErrorBadInput
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return core.AppsErrorUnauthorized
	case goerrors.CategoryNotFound:
		return core.AppsErrorNotFound
	case goerrors.CategoryExternal, goerrors.CategoryRateLimit:
		return core.AppsErrorVendorFailure
	default:
		return core.AppsErrorInternal
	}
}
