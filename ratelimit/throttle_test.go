package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-apps/core"
)

func fixedThrottle(windows WindowStore, now *time.Time) *VendorThrottle {
	throttle := NewVendorThrottle(windows)
	throttle.Now = func() time.Time { return *now }
	return throttle
}

func TestVendorThrottle_BeforeCallAllowsUnknownHost(t *testing.T) {
	throttle := NewVendorThrottle(NewMemoryWindows())
	if err := throttle.BeforeCall(context.Background(), "graph.microsoft.com"); err != nil {
		t.Fatalf("expected no error for an unknown host, got %v", err)
	}
}

func TestVendorThrottle_AfterCallRecordsQuotaHeaders(t *testing.T) {
	windows := NewMemoryWindows()
	now := time.Unix(1_700_000_000, 0).UTC()
	throttle := fixedThrottle(windows, &now)

	headers := http.Header{}
	headers.Set("X-RateLimit-Limit", "5000")
	headers.Set("X-RateLimit-Remaining", "4999")
	headers.Set("X-RateLimit-Reset", "1700000045")
	if err := throttle.AfterCall(context.Background(), "Graph.Microsoft.com", http.StatusOK, headers); err != nil {
		t.Fatalf("after call: %v", err)
	}

	window, ok, err := windows.Load(context.Background(), "graph.microsoft.com")
	if err != nil || !ok {
		t.Fatalf("expected window for normalized host, ok=%v err=%v", ok, err)
	}
	if window.Limit != 5000 || window.Remaining != 4999 {
		t.Fatalf("unexpected quota %+v", window)
	}
	if !window.ResetAt.Equal(now.Add(45 * time.Second)) {
		t.Fatalf("unexpected reset at %v", window.ResetAt)
	}
	if !window.BlockedUntil.IsZero() {
		t.Fatalf("expected host not to be blocked, got %v", window.BlockedUntil)
	}
}

func TestVendorThrottle_TooManyRequestsBlocksForRetryAfter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	throttle := fixedThrottle(nil, &now)

	headers := http.Header{}
	headers.Set("Retry-After", "20")
	if err := throttle.AfterCall(context.Background(), "www.googleapis.com", http.StatusTooManyRequests, headers); err != nil {
		t.Fatalf("after call: %v", err)
	}

	err := throttle.BeforeCall(context.Background(), "www.googleapis.com")
	if err == nil {
		t.Fatalf("expected throttle error")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryRateLimit || rich.Code != http.StatusTooManyRequests {
		t.Fatalf("unexpected envelope %+v", rich)
	}
	if rich.TextCode != core.AppsErrorVendorFailure {
		t.Fatalf("expected vendor failure text code, got %q", rich.TextCode)
	}
	if rich.Metadata["retry_after_ms"] != int64(20000) {
		t.Fatalf("expected retry hint of 20s, got %#v", rich.Metadata["retry_after_ms"])
	}
	if rich.Metadata["host"] != "www.googleapis.com" {
		t.Fatalf("expected host metadata, got %#v", rich.Metadata["host"])
	}

	now = now.Add(21 * time.Second)
	if err := throttle.BeforeCall(context.Background(), "www.googleapis.com"); err != nil {
		t.Fatalf("expected block to lift, got %v", err)
	}
}

func TestVendorThrottle_RetryAfterAcceptsHTTPDate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	throttle := fixedThrottle(nil, &now)

	headers := http.Header{}
	headers.Set("Retry-After", now.Add(90*time.Second).Format(http.TimeFormat))
	if err := throttle.AfterCall(context.Background(), "outlook.office.com", http.StatusTooManyRequests, headers); err != nil {
		t.Fatalf("after call: %v", err)
	}
	now = now.Add(80 * time.Second)
	if err := throttle.BeforeCall(context.Background(), "outlook.office.com"); err == nil {
		t.Fatalf("expected host to stay blocked until the retry date")
	}
}

func TestVendorThrottle_BackoffDoublesWithoutRetryAfter(t *testing.T) {
	windows := NewMemoryWindows()
	now := time.Unix(1_700_000_000, 0).UTC()
	throttle := fixedThrottle(windows, &now)

	for i := 0; i < 3; i++ {
		if err := throttle.AfterCall(context.Background(), "caldav.example.com", http.StatusTooManyRequests, http.Header{}); err != nil {
			t.Fatalf("after call: %v", err)
		}
	}
	window, _, _ := windows.Load(context.Background(), "caldav.example.com")
	if window.Strikes != 3 {
		t.Fatalf("expected 3 strikes, got %d", window.Strikes)
	}
	if !window.BlockedUntil.Equal(now.Add(4 * time.Second)) {
		t.Fatalf("expected 4s backoff, got %v", window.BlockedUntil)
	}

	if err := throttle.AfterCall(context.Background(), "caldav.example.com", http.StatusOK, http.Header{}); err != nil {
		t.Fatalf("after call: %v", err)
	}
	window, _, _ = windows.Load(context.Background(), "caldav.example.com")
	if window.Strikes != 0 || !window.BlockedUntil.IsZero() {
		t.Fatalf("expected success to clear the block, got %+v", window)
	}
}

func TestVendorThrottle_BackoffStopsAtMaxDelay(t *testing.T) {
	throttle := NewVendorThrottle(nil)
	throttle.MaxDelay = 10 * time.Second
	if got := throttle.backoff(12); got != 10*time.Second {
		t.Fatalf("expected backoff capped at 10s, got %s", got)
	}
}

func TestVendorThrottle_ExhaustedQuotaBlocksUntilReset(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	throttle := fixedThrottle(nil, &now)

	headers := http.Header{}
	headers.Set("X-RateLimit-Remaining", "0")
	headers.Set("X-RateLimit-Reset", "1700000030")
	if err := throttle.AfterCall(context.Background(), "api.example.com", http.StatusOK, headers); err != nil {
		t.Fatalf("after call: %v", err)
	}
	now = now.Add(20 * time.Second)
	if err := throttle.BeforeCall(context.Background(), "api.example.com"); err == nil {
		t.Fatalf("expected exhausted quota to block until reset")
	}
	now = now.Add(11 * time.Second)
	if err := throttle.BeforeCall(context.Background(), "api.example.com"); err != nil {
		t.Fatalf("expected reset to lift the block, got %v", err)
	}
}

func TestVendorThrottle_ServerErrorsDoNotBlock(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	throttle := fixedThrottle(nil, &now)

	headers := http.Header{}
	headers.Set("X-RateLimit-Remaining", "0")
	if err := throttle.AfterCall(context.Background(), "api.example.com", http.StatusServiceUnavailable, headers); err != nil {
		t.Fatalf("after call: %v", err)
	}
	if err := throttle.BeforeCall(context.Background(), "api.example.com"); err != nil {
		t.Fatalf("expected 5xx answers to leave the host open, got %v", err)
	}
}
