package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const defaultClientTimeout = 30 * time.Second
const defaultResponseBodyLimit int64 = 10 << 20 // 10 MiB

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Throttle gates vendor calls per bucket. The client uses the request host
// as the bucket.
type Throttle interface {
	BeforeCall(ctx context.Context, bucket string) error
	AfterCall(ctx context.Context, bucket string, statusCode int, headers http.Header) error
}

type Request struct {
	Method  string
	URL     string
	Query   url.Values
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
	// Accept lists extra non 2xx status codes the caller handles itself.
	Accept []int
}

type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Client executes vendor HTTP calls with a bounded timeout per call and
// normalizes failures into go-errors envelopes.
type Client struct {
	doer                 HTTPDoer
	DefaultHeaders       map[string]string
	DefaultTimeout       time.Duration
	MaxResponseBodyBytes int64
	Throttle             Throttle
}

func NewClient(doer HTTPDoer) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: defaultClientTimeout}
	}
	return &Client{
		doer:                 doer,
		DefaultHeaders:       map[string]string{},
		DefaultTimeout:       defaultClientTimeout,
		MaxResponseBodyBytes: defaultResponseBodyLimit,
	}
}

func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	if c == nil || c.doer == nil {
		return Response{}, transportError(
			"transport: client requires an http doer",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	method := strings.TrimSpace(strings.ToUpper(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	parsedURL, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || parsedURL.String() == "" {
		return Response{}, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: invalid request url",
			http.StatusBadRequest,
			map[string]any{"url": strings.TrimSpace(req.URL)},
		)
	}
	if len(req.Query) > 0 {
		query := parsedURL.Query()
		for key, values := range req.Query {
			query.Del(key)
			for _, value := range values {
				query.Add(key, value)
			}
		}
		parsedURL.RawQuery = strings.ReplaceAll(query.Encode(), "+", "%20")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.DefaultTimeout
	}
	requestCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(requestCtx, method, parsedURL.String(), body)
	if err != nil {
		return Response{}, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: create http request",
			http.StatusBadRequest,
			map[string]any{"method": method, "url": parsedURL.String()},
		)
	}
	for key, value := range c.DefaultHeaders {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), value)
	}
	for key, value := range req.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), value)
	}

	if c.Throttle != nil {
		if err := c.Throttle.BeforeCall(ctx, parsedURL.Host); err != nil {
			return Response{}, err
		}
	}

	startedAt := time.Now()
	httpRes, err := c.doer.Do(httpReq)
	if err != nil {
		return Response{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: execute http request",
			http.StatusBadGateway,
			map[string]any{"method": method, "url": parsedURL.String()},
		)
	}
	defer httpRes.Body.Close()
	if c.Throttle != nil {
		if err := c.Throttle.AfterCall(ctx, parsedURL.Host, httpRes.StatusCode, httpRes.Header); err != nil {
			return Response{}, transportWrapError(err, goerrors.CategoryInternal, "transport: record vendor quota", http.StatusInternalServerError, nil)
		}
	}

	maxBodyBytes := c.MaxResponseBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultResponseBodyLimit
	}
	payload, err := io.ReadAll(io.LimitReader(httpRes.Body, maxBodyBytes+1))
	if err != nil {
		return Response{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: read response body",
			http.StatusBadGateway,
			map[string]any{"status_code": httpRes.StatusCode},
		)
	}
	if int64(len(payload)) > maxBodyBytes {
		return Response{}, transportError(
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", maxBodyBytes),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			map[string]any{"status_code": httpRes.StatusCode, "response_limit_b": maxBodyBytes},
		)
	}

	res := Response{
		StatusCode: httpRes.StatusCode,
		Headers:    httpRes.Header.Clone(),
		Body:       payload,
		Duration:   time.Since(startedAt),
	}
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return res, nil
	}
	for _, accepted := range req.Accept {
		if accepted == res.StatusCode {
			return res, nil
		}
	}
	statusErr := &StatusError{Method: method, URL: parsedURL.String(), StatusCode: res.StatusCode, Body: payload}
	return res, transportWrapError(
		statusErr,
		statusCategory(res.StatusCode),
		statusErr.Error(),
		res.StatusCode,
		map[string]any{"status_code": res.StatusCode},
	)
}

// DoJSON encodes in as the request body when set and decodes a 2xx response
// into out when set.
func (c *Client) DoJSON(ctx context.Context, req Request, in any, out any) (Response, error) {
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return Response{}, transportWrapError(err, goerrors.CategoryBadInput, "transport: encode request body", http.StatusBadRequest, nil)
		}
		req.Body = encoded
		if req.Headers == nil {
			req.Headers = map[string]string{}
		}
		if _, ok := req.Headers["Content-Type"]; !ok {
			req.Headers["Content-Type"] = "application/json"
		}
	}
	if req.Headers == nil {
		req.Headers = map[string]string{}
	}
	if _, ok := req.Headers["Accept"]; !ok {
		req.Headers["Accept"] = "application/json"
	}
	res, err := c.Do(ctx, req)
	if err != nil {
		return res, err
	}
	if out != nil && len(bytes.TrimSpace(res.Body)) > 0 && res.StatusCode >= 200 && res.StatusCode < 300 {
		if err := json.Unmarshal(res.Body, out); err != nil {
			return res, transportWrapError(err, goerrors.CategoryExternal, "transport: decode response body", http.StatusBadGateway, map[string]any{"status_code": res.StatusCode})
		}
	}
	return res, nil
}
