package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-apps/core"
)

// Window is what the throttle remembers about one vendor host. Every
// installation talking to the same API shares it.
type Window struct {
	Host         string
	Limit        int
	Remaining    int
	ResetAt      time.Time
	BlockedUntil time.Time
	Strikes      int
}

// wait returns how long calls to the host must hold off at now.
func (w Window) wait(now time.Time) time.Duration {
	var wait time.Duration
	if now.Before(w.BlockedUntil) {
		wait = w.BlockedUntil.Sub(now)
	}
	if w.Remaining == 0 && now.Before(w.ResetAt) {
		if untilReset := w.ResetAt.Sub(now); untilReset > wait {
			wait = untilReset
		}
	}
	return wait
}

type WindowStore interface {
	Load(ctx context.Context, host string) (Window, bool, error)
	Save(ctx context.Context, window Window) error
}

// VendorThrottle refuses calls while a vendor host is throttled and learns
// the window from 429 answers and quota headers. It satisfies
// transport.Throttle.
type VendorThrottle struct {
	Windows   WindowStore
	Now       func() time.Time
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func NewVendorThrottle(windows WindowStore) *VendorThrottle {
	if windows == nil {
		windows = NewMemoryWindows()
	}
	return &VendorThrottle{
		Windows:   windows,
		Now:       time.Now,
		BaseDelay: time.Second,
		MaxDelay:  time.Minute,
	}
}

func (t *VendorThrottle) BeforeCall(ctx context.Context, host string) error {
	if t == nil || t.Windows == nil {
		return nil
	}
	host = normalizeHost(host)
	window, ok, err := t.Windows.Load(ctx, host)
	if err != nil || !ok {
		return err
	}
	if wait := window.wait(t.now()); wait > 0 {
		return throttled(host, wait)
	}
	return nil
}

func (t *VendorThrottle) AfterCall(ctx context.Context, host string, statusCode int, headers http.Header) error {
	if t == nil || t.Windows == nil {
		return nil
	}
	host = normalizeHost(host)
	window, _, err := t.Windows.Load(ctx, host)
	if err != nil {
		return err
	}
	window.Host = host

	now := t.now()
	q := readQuota(headers, now)
	if q.limit != nil {
		window.Limit = *q.limit
	}
	if q.remaining != nil {
		window.Remaining = *q.remaining
	}
	if !q.resetAt.IsZero() {
		window.ResetAt = q.resetAt
	}

	exhausted := q.metered() && window.Remaining == 0 && statusCode < http.StatusInternalServerError
	if statusCode != http.StatusTooManyRequests && !exhausted {
		window.Strikes = 0
		window.BlockedUntil = time.Time{}
		return t.Windows.Save(ctx, window)
	}

	window.Strikes++
	delay := q.retryAfter
	if delay <= 0 {
		delay = t.backoff(window.Strikes)
	}
	window.BlockedUntil = now.Add(delay)
	return t.Windows.Save(ctx, window)
}

func (t *VendorThrottle) now() time.Time {
	if t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

// backoff doubles BaseDelay per strike up to MaxDelay.
func (t *VendorThrottle) backoff(strikes int) time.Duration {
	delay, limit := t.BaseDelay, t.MaxDelay
	if delay <= 0 {
		delay = time.Second
	}
	if limit <= 0 {
		limit = time.Minute
	}
	for i := 1; i < strikes && delay < limit; i++ {
		delay *= 2
	}
	return min(delay, limit)
}

func throttled(host string, wait time.Duration) error {
	return goerrors.New(fmt.Sprintf("ratelimit: vendor %q throttled for %s", host, wait), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.AppsErrorVendorFailure).
		WithMetadata(map[string]any{
			"host":           host,
			"retry_after_ms": wait.Milliseconds(),
		})
}

// quota is the rate limit information of one vendor response.
type quota struct {
	limit      *int
	remaining  *int
	resetAt    time.Time
	retryAfter time.Duration
}

func (q quota) metered() bool {
	return q.limit != nil || q.remaining != nil || !q.resetAt.IsZero() || q.retryAfter > 0
}

func readQuota(headers http.Header, now time.Time) quota {
	q := quota{
		limit:     headerInt(headers, "X-RateLimit-Limit"),
		remaining: headerInt(headers, "X-RateLimit-Remaining"),
	}
	if reset := headerInt(headers, "X-RateLimit-Reset"); reset != nil && *reset > 0 {
		q.resetAt = time.Unix(int64(*reset), 0).UTC()
	}

	// Retry-After is either delta seconds or an HTTP date.
	raw := strings.TrimSpace(headers.Get("Retry-After"))
	if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
		q.retryAfter = time.Duration(seconds) * time.Second
	} else if at, err := http.ParseTime(raw); err == nil && at.After(now) {
		q.retryAfter = at.Sub(now)
	}
	return q
}

func headerInt(headers http.Header, key string) *int {
	value, err := strconv.Atoi(strings.TrimSpace(headers.Get(key)))
	if err != nil {
		return nil
	}
	return &value
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSpace(host))
}

// MemoryWindows keeps windows in process. A daemon running several replicas
// learns each throttle once per replica.
type MemoryWindows struct {
	mu      sync.RWMutex
	windows map[string]Window
}

func NewMemoryWindows() *MemoryWindows {
	return &MemoryWindows{windows: map[string]Window{}}
}

func (m *MemoryWindows) Load(_ context.Context, host string) (Window, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	window, ok := m.windows[normalizeHost(host)]
	return window, ok, nil
}

func (m *MemoryWindows) Save(_ context.Context, window Window) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	window.Host = normalizeHost(window.Host)
	m.windows[window.Host] = window
	return nil
}
