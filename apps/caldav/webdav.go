package caldav

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	webdav "github.com/emersion/go-webdav"
	gocaldav "github.com/emersion/go-webdav/caldav"

	"github.com/goliatone/go-apps/core"
	"github.com/goliatone/go-apps/ical"
	"github.com/goliatone/go-apps/transport"
)

const propfindTimezone = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav"><d:prop><c:calendar-timezone/></d:prop></d:propfind>`

// timezoneStatus is the PROPFIND answer for CALDAV:calendar-timezone, which
// gocaldav.Calendar does not carry.
type timezoneStatus struct {
	XMLName   xml.Name `xml:"DAV: multistatus"`
	Responses []struct {
		Propstats []struct {
			Status string `xml:"DAV: status"`
			Prop   struct {
				Timezone string `xml:"urn:ietf:params:xml:ns:caldav calendar-timezone"`
			} `xml:"DAV: prop"`
		} `xml:"DAV: propstat"`
	} `xml:"DAV: response"`
}

// davClient pairs a go-webdav CalDAV client per endpoint with the shared
// REST client. Both send vendor status errors through transport envelopes.
type davClient struct {
	rest          *transport.Client
	http          webdav.HTTPClient
	timeout       time.Duration
	authorization string
}

func newDAVClient(doer transport.HTTPDoer, timeout time.Duration, username, password string) *davClient {
	rest := transport.NewClient(doer)
	if timeout > 0 {
		rest.DefaultTimeout = timeout
	}
	rest.DefaultHeaders["User-Agent"] = "go-apps-caldav"
	return &davClient{
		rest:          rest,
		http:          webdav.HTTPClientWithBasicAuth(rest.StatusDoer(), username, password),
		timeout:       rest.DefaultTimeout,
		authorization: "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password)),
	}
}

// open returns a client rooted at endpoint, which may be the server or a
// calendar collection URL.
func (c *davClient) open(endpoint string) (*gocaldav.Client, error) {
	client, err := gocaldav.NewClient(c.http, endpoint)
	if err != nil {
		return nil, core.NewAppError(core.ErrorKindConfig, keyInvalidSettings, map[string]any{"field": "serverUrl"}, err)
	}
	return client, nil
}

func (c *davClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// calendarTimezone reads the zone a calendar collection declares.
func (c *davClient) calendarTimezone(ctx context.Context, calendarURL string) (string, error) {
	res, err := c.rest.Do(ctx, transport.Request{
		Method: "PROPFIND",
		URL:    calendarURL,
		Body:   []byte(propfindTimezone),
		Headers: map[string]string{
			"Authorization": c.authorization,
			"Content-Type":  "application/xml; charset=utf-8",
			"Depth":         "0",
		},
	})
	if err != nil {
		return "", err
	}
	var status timezoneStatus
	if err := xml.NewDecoder(bytes.NewReader(res.Body)).Decode(&status); err != nil {
		return "", err
	}
	for _, response := range status.Responses {
		for _, ps := range response.Propstats {
			if ps.Status != "" && !strings.Contains(ps.Status, " 200") {
				continue
			}
			if zone, ok := ical.ZoneName(ps.Prop.Timezone); ok {
				return zone, nil
			}
		}
	}
	return "", nil
}

// isHTTPFailure reports whether the server answered with a non 2xx status.
func isHTTPFailure(err error) bool {
	var statusErr *transport.StatusError
	return errors.As(err, &statusErr)
}

func isMissing(err error) bool {
	return transport.IsStatus(err, http.StatusNotFound) || transport.IsStatus(err, http.StatusGone)
}

func calendarPath(calendarURL string) (string, error) {
	parsed, err := url.Parse(calendarURL)
	if err != nil || parsed.Path == "" {
		return "", core.ConfigError(keyCalendarNotFound, map[string]any{"calendar": calendarURL})
	}
	return ensureTrailingSlash(parsed.Path), nil
}

var resourceNameReplacer = strings.NewReplacer("/", "_", "\\", "_", "?", "_", "#", "_")

func eventPath(collection, uid string) string {
	return ensureTrailingSlash(collection) + resourceNameReplacer.Replace(uid) + ".ics"
}

func resolvePath(base, p string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(&url.URL{Path: p}).String(), nil
}

func ensureTrailingSlash(value string) string {
	if strings.HasSuffix(value, "/") {
		return value
	}
	return value + "/"
}
