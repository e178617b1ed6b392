package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RequestEnvelope is the shape of admin requests: a type discriminator and
// the request body. A missing type means the adapter's default action,
// usually saving its settings.
type RequestEnvelope struct {
	Type string          `json:"type,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func DecodeRequest(payload json.RawMessage) (RequestEnvelope, error) {
	var env RequestEnvelope
	if len(strings.TrimSpace(string(payload))) == 0 {
		return env, nil
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return RequestEnvelope{}, fmt.Errorf("%w: decode request: %v", ErrInvalidRequest, err)
	}
	env.Type = strings.TrimSpace(env.Type)
	return env, nil
}

// DecodeData unmarshals the request body, or the whole payload when the
// envelope carried no data field.
func (r RequestEnvelope) DecodeData(payload json.RawMessage, target any) error {
	raw := r.Data
	if len(raw) == 0 {
		raw = payload
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return fmt.Errorf("%w: request body is empty", ErrInvalidRequest)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%w: decode request body: %v", ErrInvalidRequest, err)
	}
	return nil
}

func UnknownRequestError(app string, requestType string) error {
	return NewAppError(ErrorKindConfig, app+".statusText.unknown_request", map[string]any{"type": requestType}, ErrInvalidRequest)
}
