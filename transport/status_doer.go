package transport

import (
	"io"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// StatusDoer lets SDKs that build their own requests share the client's
// default headers, throttle and error envelopes. A non 2xx response is
// drained, closed and returned as the same error Do would produce.
func (c *Client) StatusDoer() HTTPDoer {
	return statusDoer{client: c}
}

type statusDoer struct {
	client *Client
}

func (d statusDoer) Do(req *http.Request) (*http.Response, error) {
	c := d.client
	if c == nil || c.doer == nil {
		return nil, transportError(
			"transport: client requires an http doer",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		)
	}
	for key, value := range c.DefaultHeaders {
		key = strings.TrimSpace(key)
		if key == "" || req.Header.Get(key) != "" {
			continue
		}
		req.Header.Set(key, value)
	}

	ctx := req.Context()
	if c.Throttle != nil {
		if err := c.Throttle.BeforeCall(ctx, req.URL.Host); err != nil {
			return nil, err
		}
	}
	res, err := c.doer.Do(req)
	if err != nil {
		return nil, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: execute http request",
			http.StatusBadGateway,
			map[string]any{"method": req.Method, "url": req.URL.String()},
		)
	}
	if c.Throttle != nil {
		if err := c.Throttle.AfterCall(ctx, req.URL.Host, res.StatusCode, res.Header); err != nil {
			_ = res.Body.Close()
			return nil, transportWrapError(err, goerrors.CategoryInternal, "transport: record vendor quota", http.StatusInternalServerError, nil)
		}
	}
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return res, nil
	}

	defer res.Body.Close()
	limit := c.MaxResponseBodyBytes
	if limit <= 0 {
		limit = defaultResponseBodyLimit
	}
	payload, _ := io.ReadAll(io.LimitReader(res.Body, limit))
	statusErr := &StatusError{Method: req.Method, URL: req.URL.String(), StatusCode: res.StatusCode, Body: payload}
	return nil, transportWrapError(
		statusErr,
		statusCategory(res.StatusCode),
		statusErr.Error(),
		res.StatusCode,
		map[string]any{"status_code": res.StatusCode},
	)
}
