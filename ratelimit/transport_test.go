package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/goliatone/go-apps/transport"
)

var _ transport.Throttle = (*VendorThrottle)(nil)

func TestVendorThrottle_GatesRESTClientAfterTooManyRequests(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := transport.NewClient(server.Client())
	client.Throttle = NewVendorThrottle(nil)

	if _, err := client.Do(context.Background(), transport.Request{URL: server.URL}); err == nil {
		t.Fatalf("expected 429 to surface as an error")
	}
	if _, err := client.Do(context.Background(), transport.Request{URL: server.URL}); err == nil {
		t.Fatalf("expected throttled call to fail")
	}
	if hits.Load() != 1 {
		t.Fatalf("expected throttled call to skip the vendor, got %d hits", hits.Load())
	}
}
