package security

import (
	"context"
	"strings"
	"testing"
)

func TestOpenSealed_RejectsIncompleteEnvelopes(t *testing.T) {
	cases := map[string]string{
		"empty":      "",
		"no prefix":  `{"kid":"apps","ciphertext":"AAAA","nonce":"AAAA"}`,
		"bad json":   envelopePrefix + `{"kid":`,
		"no nonce":   envelopePrefix + `{"kid":"apps","ciphertext":"AAAA"}`,
		"no payload": envelopePrefix + `{"kid":"apps","nonce":"AAAAAAAAAAAAAAAA"}`,
	}
	for name, raw := range cases {
		if _, err := openSealed([]byte(raw)); err == nil {
			t.Fatalf("%s: expected envelope to be rejected", name)
		}
	}
}

func TestOpenSealed_DefaultsAlgorithmAndTrimsKeyID(t *testing.T) {
	secret, err := openSealed([]byte(" " + envelopePrefix + `{"kid":" apps ","ver":2,"nonce":"AAAA","ciphertext":"AAAA"}` + "\n"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if secret.KeyID != "apps" || secret.Version != 2 || secret.Algorithm != envelopeAlgorithm {
		t.Fatalf("unexpected envelope %+v", secret)
	}
}

func TestSealedSecret_EncodeIsSingleLine(t *testing.T) {
	raw, err := sealedSecret{KeyID: "apps", Version: 1, Algorithm: envelopeAlgorithm, Nonce: []byte{1, 2}, Sealed: []byte{3}}.encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if strings.ContainsAny(string(raw), "\r\n") || !IsEnvelope(string(raw)) {
		t.Fatalf("unexpected envelope %q", raw)
	}
	if !strings.Contains(string(raw), `"nonce":"AQI="`) {
		t.Fatalf("expected base64 nonce in %q", raw)
	}
}

func TestAppKeySecretProvider_RejectsShortNonce(t *testing.T) {
	provider, err := NewAppKeySecretProviderFromString("super-secret-test-key")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	forged := envelopePrefix + `{"kid":"app-key","ver":1,"alg":"aes-256-gcm","nonce":"AAAA","ciphertext":"AAAAAAAAAAAAAAAAAAAAAA=="}`
	if _, err := provider.Decrypt(context.Background(), []byte(forged)); err == nil {
		t.Fatalf("expected a short nonce to be rejected")
	}
}
