package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// LocalizedText is either a plain string or an i18n key with arguments. It
// encodes to a JSON string when Key is empty and to {key,args} otherwise.
type LocalizedText struct {
	Text string
	Key  string
	Args map[string]any
}

func PlainText(text string) LocalizedText {
	return LocalizedText{Text: text}
}

func Localized(key string, args map[string]any) LocalizedText {
	return LocalizedText{Key: strings.TrimSpace(key), Args: copyAnyMap(args)}
}

func (t LocalizedText) IsZero() bool {
	return t.Text == "" && t.Key == "" && len(t.Args) == 0
}

func (t LocalizedText) Clone() LocalizedText {
	return LocalizedText{Text: t.Text, Key: t.Key, Args: copyAnyMap(t.Args)}
}

func (t LocalizedText) String() string {
	if t.Key == "" {
		return t.Text
	}
	return t.Key
}

type localizedTextObject struct {
	Key  string         `json:"key"`
	Args map[string]any `json:"args,omitempty"`
}

func (t LocalizedText) MarshalJSON() ([]byte, error) {
	if t.Key == "" {
		return json.Marshal(t.Text)
	}
	return json.Marshal(localizedTextObject{Key: t.Key, Args: t.Args})
}

func (t *LocalizedText) UnmarshalJSON(raw []byte) error {
	if t == nil {
		return fmt.Errorf("core: unmarshal into nil localized text")
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		*t = LocalizedText{Text: text}
		return nil
	}
	var obj localizedTextObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("core: localized text must be a string or {key,args}: %w", err)
	}
	*t = LocalizedText{Key: obj.Key, Args: obj.Args}
	return nil
}

type StatusWithText struct {
	Status     AppStatus     `json:"status"`
	StatusText LocalizedText `json:"statusText"`
}

func ConnectedStatus(key string, args map[string]any) StatusWithText {
	return StatusWithText{Status: AppStatusConnected, StatusText: Localized(key, args)}
}

func FailedStatus(key string, args map[string]any) StatusWithText {
	return StatusWithText{Status: AppStatusFailed, StatusText: Localized(key, args)}
}

type ErrorKind string

const (
	ErrorKindConfig    ErrorKind = "config"
	ErrorKindTransient ErrorKind = "transient"
	ErrorKindAuth      ErrorKind = "auth"
	ErrorKindNotFound  ErrorKind = "not_found"
	ErrorKindInternal  ErrorKind = "internal"
)

// AppError is the typed failure every adapter reports through. Key and Args
// are an i18n message reference for the admin UI.
type AppError struct {
	Kind ErrorKind
	Key  string
	Args map[string]any
	Err  error
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("apps: %s error: %s", e.Kind, e.Key)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *AppError) Status() StatusWithText {
	if e == nil {
		return StatusWithText{Status: AppStatusConnected}
	}
	return FailedStatus(e.Key, e.Args)
}

func NewAppError(kind ErrorKind, key string, args map[string]any, cause error) *AppError {
	return &AppError{Kind: kind, Key: strings.TrimSpace(key), Args: copyAnyMap(args), Err: cause}
}

func ConfigError(key string, args map[string]any) *AppError {
	return NewAppError(ErrorKindConfig, key, args, nil)
}

func TransientError(key string, cause error) *AppError {
	return NewAppError(ErrorKindTransient, key, nil, cause)
}

func AuthError(key string, cause error) *AppError {
	return NewAppError(ErrorKindAuth, key, nil, cause)
}

func NotFoundError(key string, args map[string]any) *AppError {
	return NewAppError(ErrorKindNotFound, key, args, nil)
}

func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr, true
	}
	return nil, false
}

func IsKind(err error, kind ErrorKind) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Kind == kind
}

// NormalizeError maps any error to an AppError. Known AppErrors keep their
// key. Everything else surfaces fallbackKey with a kind derived from the
// error shape.
func NormalizeError(err error, fallbackKey string) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := AsAppError(err); ok {
		out := *appErr
		if out.Kind == "" {
			out.Kind = ErrorKindInternal
		}
		if out.Key == "" {
			out.Key = fallbackKey
		}
		return &out
	}
	return NewAppError(classifyErrorKind(err), fallbackKey, nil, err)
}

// StatusFromError is the status the host persists after a failed operation.
func StatusFromError(err error, fallbackKey string) StatusWithText {
	return NormalizeError(err, fallbackKey).Status()
}

func classifyErrorKind(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorKindTransient
	}
	switch {
	case errors.Is(err, ErrAppNotFound), errors.Is(err, ErrReminderNotFound):
		return ErrorKindNotFound
	case errors.Is(err, ErrAppDataEmpty), errors.Is(err, ErrInvalidReminder), errors.Is(err, ErrInvalidEvent), errors.Is(err, ErrInvalidRequest):
		return ErrorKindConfig
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz:
			return ErrorKindAuth
		case goerrors.CategoryNotFound:
			return ErrorKindNotFound
		case goerrors.CategoryBadInput, goerrors.CategoryValidation:
			return ErrorKindConfig
		case goerrors.CategoryExternal, goerrors.CategoryRateLimit:
			return ErrorKindTransient
		}
	}
	return ErrorKindInternal
}
