package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-apps/core"
)

// TokenCodec is the credential codec for tokens and adapter secrets stored
// inside app records. Only ciphertext ever leaves it towards persistence.
type TokenCodec struct {
	provider SecretProvider
}

func NewTokenCodec(provider SecretProvider) (*TokenCodec, error) {
	if provider == nil {
		return nil, fmt.Errorf("security: secret provider is required")
	}
	return &TokenCodec{provider: provider}, nil
}

func (c *TokenCodec) EncryptString(ctx context.Context, plaintext string) (string, error) {
	if c == nil || c.provider == nil {
		return "", fmt.Errorf("security: token codec is not configured")
	}
	if plaintext == "" {
		return "", nil
	}
	sealed, err := c.provider.Encrypt(ctx, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return string(sealed), nil
}

func (c *TokenCodec) DecryptString(ctx context.Context, ciphertext string) (string, error) {
	if c == nil || c.provider == nil {
		return "", fmt.Errorf("security: token codec is not configured")
	}
	ciphertext = strings.TrimSpace(ciphertext)
	if ciphertext == "" {
		return "", nil
	}
	plaintext, err := c.provider.Decrypt(ctx, []byte(ciphertext))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// PlainTokens is decrypted OAuth material. It must stay in local scope for
// the vendor call that needs it.
type PlainTokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresOn    *time.Time
}

func (c *TokenCodec) EncryptTokens(ctx context.Context, tokens PlainTokens) (*core.OAuthTokens, error) {
	if strings.TrimSpace(tokens.AccessToken) == "" {
		return nil, fmt.Errorf("security: access token is required")
	}
	access, err := c.EncryptString(ctx, tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("security: encrypt access token: %w", err)
	}
	refresh, err := c.EncryptString(ctx, tokens.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("security: encrypt refresh token: %w", err)
	}
	out := &core.OAuthTokens{AccessToken: access, RefreshToken: refresh}
	if tokens.ExpiresOn != nil {
		expires := tokens.ExpiresOn.UTC()
		out.ExpiresOn = &expires
	}
	return out, nil
}

func (c *TokenCodec) DecryptTokens(ctx context.Context, tokens *core.OAuthTokens) (PlainTokens, error) {
	if tokens == nil {
		return PlainTokens{}, fmt.Errorf("security: tokens are required")
	}
	access, err := c.DecryptString(ctx, tokens.AccessToken)
	if err != nil {
		return PlainTokens{}, fmt.Errorf("security: decrypt access token: %w", err)
	}
	refresh, err := c.DecryptString(ctx, tokens.RefreshToken)
	if err != nil {
		return PlainTokens{}, fmt.Errorf("security: decrypt refresh token: %w", err)
	}
	out := PlainTokens{AccessToken: access, RefreshToken: refresh}
	if tokens.ExpiresOn != nil {
		expires := tokens.ExpiresOn.UTC()
		out.ExpiresOn = &expires
	}
	return out, nil
}
