package core

import (
	"strings"
	"time"
)

// TokenState captures access/refresh lifecycle flags derived from stored
// tokens. It only inspects presence and expiry, never plaintext.
type TokenState struct {
	ExpiresAt       *time.Time
	HasAccessToken  bool
	HasRefreshToken bool
	IsExpired       bool
	IsExpiringSoon  bool
}

func ResolveTokenState(now time.Time, tokens *OAuthTokens, expiringSoonWindow time.Duration) TokenState {
	if now.IsZero() {
		now = time.Now().UTC()
	} else {
		now = now.UTC()
	}
	if expiringSoonWindow <= 0 {
		expiringSoonWindow = DefaultRefreshLeadWindow
	}
	if tokens == nil {
		return TokenState{}
	}

	state := TokenState{
		HasAccessToken:  strings.TrimSpace(tokens.AccessToken) != "",
		HasRefreshToken: strings.TrimSpace(tokens.RefreshToken) != "",
	}
	if tokens.ExpiresOn == nil {
		return state
	}
	expiresAt := tokens.ExpiresOn.UTC()
	state.ExpiresAt = &expiresAt
	if !expiresAt.After(now) {
		state.IsExpired = true
		return state
	}
	state.IsExpiringSoon = !expiresAt.After(now.Add(expiringSoonWindow))
	return state
}

// ShouldRefreshToken returns true when a refresh must happen before the next
// vendor call.
func ShouldRefreshToken(now time.Time, state TokenState, refreshLeadWindow time.Duration) bool {
	if !state.HasRefreshToken {
		return false
	}
	if !state.HasAccessToken {
		return true
	}
	if state.ExpiresAt == nil {
		return false
	}
	if refreshLeadWindow <= 0 {
		refreshLeadWindow = DefaultRefreshLeadWindow
	}
	if now.IsZero() {
		now = time.Now().UTC()
	} else {
		now = now.UTC()
	}
	return !state.ExpiresAt.UTC().After(now.Add(refreshLeadWindow))
}
