package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"
)

// SecretProvider encrypts and decrypts opaque secret payloads.
type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type Option func(*AppKeySecretProvider)

type appKey struct {
	id      string
	version int
	key     []byte
}

func (k appKey) ref() string {
	return fmt.Sprintf("%s:%d", k.id, k.version)
}

// AppKeySecretProvider seals secrets with AES-256-GCM under the application
// key. Retired keys can be kept for decryption while rotating.
type AppKeySecretProvider struct {
	active  appKey
	retired map[string]appKey
}

func WithKeyID(id string) Option {
	return func(provider *AppKeySecretProvider) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			provider.active.id = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(provider *AppKeySecretProvider) {
		if version > 0 {
			provider.active.version = version
		}
	}
}

// WithRetiredKey accepts ciphertext sealed by a previous key during rotation.
func WithRetiredKey(id string, version int, keyMaterial []byte) Option {
	return func(provider *AppKeySecretProvider) {
		material := bytes.TrimSpace(keyMaterial)
		if strings.TrimSpace(id) == "" || version <= 0 || len(material) == 0 {
			return
		}
		key := appKey{id: strings.TrimSpace(id), version: version, key: normalizeKey(material)}
		provider.retired[key.ref()] = key
	}
}

func NewAppKeySecretProvider(keyMaterial []byte, opts ...Option) (*AppKeySecretProvider, error) {
	key := bytes.TrimSpace(keyMaterial)
	if len(key) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	provider := &AppKeySecretProvider{
		active:  appKey{id: "app-key", version: 1, key: normalizeKey(key)},
		retired: map[string]appKey{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(provider)
	}
	return provider, nil
}

func NewAppKeySecretProviderFromString(key string, opts ...Option) (*AppKeySecretProvider, error) {
	return NewAppKeySecretProvider([]byte(key), opts...)
}

func (p *AppKeySecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	gcm, err := newGCM(p.active.key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	return sealedSecret{
		KeyID:     p.active.id,
		Version:   p.active.version,
		Algorithm: envelopeAlgorithm,
		Nonce:     nonce,
		Sealed:    sealed,
	}.encode()
}

func (p *AppKeySecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	secret, err := openSealed(ciphertext)
	if err != nil {
		return nil, err
	}
	if secret.Algorithm != envelopeAlgorithm {
		return nil, fmt.Errorf("security: unsupported envelope algorithm %q", secret.Algorithm)
	}
	key, err := p.keyFor(secret)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key.key)
	if err != nil {
		return nil, err
	}
	if len(secret.Nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("security: envelope nonce has %d bytes, want %d", len(secret.Nonce), gcm.NonceSize())
	}
	plaintext, err := gcm.Open(nil, secret.Nonce, secret.Sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

func (p *AppKeySecretProvider) keyFor(env sealedSecret) (appKey, error) {
	if env.KeyID == "" || (env.KeyID == p.active.id && (env.Version == 0 || env.Version == p.active.version)) {
		return p.active, nil
	}
	if retired, ok := p.retired[fmt.Sprintf("%s:%d", env.KeyID, env.Version)]; ok {
		return retired, nil
	}
	return appKey{}, fmt.Errorf("security: key mismatch: got %q v%d want %q v%d", env.KeyID, env.Version, p.active.id, p.active.version)
}

func (p *AppKeySecretProvider) KeyID() string {
	if p == nil {
		return ""
	}
	return p.active.id
}

func (p *AppKeySecretProvider) Version() int {
	if p == nil {
		return 0
	}
	return p.active.version
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return gcm, nil
}

func normalizeKey(value []byte) []byte {
	if len(value) == 32 {
		key := make([]byte, len(value))
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	key := make([]byte, len(sum))
	copy(key, sum[:])
	return key
}

var _ SecretProvider = (*AppKeySecretProvider)(nil)
