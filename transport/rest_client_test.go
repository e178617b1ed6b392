package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goliatone/go-apps/core"
	goerrors "github.com/goliatone/go-errors"
)

func TestClient_ResponseLimitReturnsRichError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("12345"))
	}))
	defer server.Close()

	client := NewClient(server.Client())
	client.MaxResponseBodyBytes = 4

	_, err := client.Do(context.Background(), Request{Method: http.MethodGet, URL: server.URL})
	if err == nil {
		t.Fatalf("expected response body limit error")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryExternal {
		t.Fatalf("expected external category, got %q", rich.Category)
	}
	if rich.TextCode != core.AppsErrorVendorFailure {
		t.Fatalf("expected %q text code, got %q", core.AppsErrorVendorFailure, rich.TextCode)
	}
}

func TestClient_StatusCodesClassifyIntoKinds(t *testing.T) {
	cases := []struct {
		status int
		kind   core.ErrorKind
	}{
		{http.StatusUnauthorized, core.ErrorKindAuth},
		{http.StatusNotFound, core.ErrorKindNotFound},
		{http.StatusBadRequest, core.ErrorKindConfig},
		{http.StatusServiceUnavailable, core.ErrorKindTransient},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))
		_, err := NewClient(server.Client()).Do(context.Background(), Request{URL: server.URL})
		server.Close()
		if !IsStatus(err, tc.status) {
			t.Fatalf("expected status error %d, got %v", tc.status, err)
		}
		if got := core.NormalizeError(err, "fallback").Kind; got != tc.kind {
			t.Fatalf("status %d: expected kind %s, got %s", tc.status, tc.kind, got)
		}
	}
}

func TestClient_AcceptedStatusIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = w.Write([]byte("<multistatus/>"))
	}))
	defer server.Close()

	res, err := NewClient(server.Client()).Do(context.Background(), Request{Method: "PROPFIND", URL: server.URL, Accept: []int{http.StatusNotFound}})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if res.StatusCode != http.StatusMultiStatus || string(res.Body) != "<multistatus/>" {
		t.Fatalf("unexpected response %d %q", res.StatusCode, res.Body)
	}
}

func TestClient_TimeoutIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	_, err := NewClient(server.Client()).Do(context.Background(), Request{URL: server.URL, Timeout: 20 * time.Millisecond})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if got := core.NormalizeError(err, "fallback").Kind; got != core.ErrorKindTransient {
		t.Fatalf("expected transient kind, got %s", got)
	}
}

func TestClient_DoJSONDecodesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected json content type, got %q", r.Header.Get("Content-Type"))
		}
		_, _ = w.Write([]byte(`{"id":"evt-1"}`))
	}))
	defer server.Close()

	var out struct {
		ID string `json:"id"`
	}
	if _, err := NewClient(server.Client()).DoJSON(context.Background(), Request{Method: http.MethodPost, URL: server.URL}, map[string]string{"a": "b"}, &out); err != nil {
		t.Fatalf("do json: %v", err)
	}
	if out.ID != "evt-1" {
		t.Fatalf("unexpected decoded body %#v", out)
	}
}

func TestClient_StatusDoerWrapsNonSuccessResponses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "go-apps-test" {
			t.Errorf("expected default user agent, got %q", r.Header.Get("User-Agent"))
		}
		if r.URL.Path == "/full" {
			w.WriteHeader(http.StatusInsufficientStorage)
			return
		}
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = w.Write([]byte("<ok/>"))
	}))
	defer server.Close()

	client := NewClient(server.Client())
	client.DefaultHeaders["User-Agent"] = "go-apps-test"
	doer := client.StatusDoer()

	req, _ := http.NewRequest("PROPFIND", server.URL+"/", nil)
	res, err := doer.Do(req)
	if err != nil {
		t.Fatalf("multistatus should pass through: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusMultiStatus {
		t.Fatalf("expected 207, got %d", res.StatusCode)
	}

	req, _ = http.NewRequest("REPORT", server.URL+"/full", nil)
	if _, err := doer.Do(req); !IsStatus(err, http.StatusInsufficientStorage) {
		t.Fatalf("expected 507 status error, got %v", err)
	}
}
