package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	envelopePrefix    = "apps.secret.v1:"
	envelopeAlgorithm = "aes-256-gcm"
)

// sealedSecret is the stored form of one encrypted value: the envelope
// prefix followed by this JSON document. Byte fields travel as base64.
type sealedSecret struct {
	KeyID     string `json:"kid"`
	Version   int    `json:"ver"`
	Algorithm string `json:"alg"`
	Nonce     []byte `json:"nonce"`
	Sealed    []byte `json:"ciphertext"`
}

type EnvelopeMetadata struct {
	KeyID     string
	Version   int
	Algorithm string
}

// IsEnvelope reports whether value carries the encrypted envelope prefix.
func IsEnvelope(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), envelopePrefix)
}

func ParseEnvelopeMetadata(ciphertext []byte) (EnvelopeMetadata, error) {
	secret, err := openSealed(ciphertext)
	if err != nil {
		return EnvelopeMetadata{}, err
	}
	return EnvelopeMetadata{KeyID: secret.KeyID, Version: secret.Version, Algorithm: secret.Algorithm}, nil
}

func (s sealedSecret) encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(envelopePrefix)
	if err := json.NewEncoder(&buf).Encode(s); err != nil {
		return nil, fmt.Errorf("security: encode envelope: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// openSealed parses a stored envelope. A missing algorithm means the only
// one ever written.
func openSealed(ciphertext []byte) (sealedSecret, error) {
	payload, ok := bytes.CutPrefix(bytes.TrimSpace(ciphertext), []byte(envelopePrefix))
	if !ok {
		if len(ciphertext) == 0 {
			return sealedSecret{}, errors.New("security: ciphertext is required")
		}
		return sealedSecret{}, errors.New("security: invalid ciphertext envelope prefix")
	}
	var secret sealedSecret
	if err := json.Unmarshal(payload, &secret); err != nil {
		return sealedSecret{}, fmt.Errorf("security: decode envelope: %w", err)
	}
	secret.KeyID = strings.TrimSpace(secret.KeyID)
	secret.Algorithm = strings.ToLower(strings.TrimSpace(secret.Algorithm))
	if secret.Algorithm == "" {
		secret.Algorithm = envelopeAlgorithm
	}
	switch {
	case len(secret.Nonce) == 0:
		return sealedSecret{}, errors.New("security: envelope nonce is required")
	case len(secret.Sealed) == 0:
		return sealedSecret{}, errors.New("security: envelope ciphertext is required")
	}
	return secret, nil
}
