// Package httptransport exposes the connected apps runtime over HTTP.
package httptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/goliatone/go-apps/core"
)

const (
	DefaultPrefix  = "/api/apps"
	MaxRequestBody = 1 << 20
)

type Service interface {
	InstallApp(ctx context.Context, name string) (core.ConnectedAppData, error)
	GetApp(ctx context.Context, appID string) (core.ConnectedAppData, error)
	ListApps(ctx context.Context, query core.ConnectedAppQuery) ([]core.ConnectedAppData, error)
	ProcessRequest(ctx context.Context, appID string, payload []byte) (any, error)
	ProcessStaticRequest(ctx context.Context, appName string, req core.StaticRequest) (core.StaticResponse, error)
	UninstallApp(ctx context.Context, appID string) error
}

type Option func(*handler)

func WithPrefix(prefix string) Option {
	return func(h *handler) {
		prefix = "/" + strings.Trim(strings.TrimSpace(prefix), "/")
		if prefix != "/" {
			h.prefix = prefix
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(h *handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithErrorMapper(mapper core.ErrorMapper) Option {
	return func(h *handler) {
		if mapper != nil {
			h.mapError = mapper
		}
	}
}

type handler struct {
	svc      Service
	prefix   string
	logger   core.Logger
	mapError core.ErrorMapper
}

// NewRouter mounts the apps routes on a new router.
func NewRouter(svc Service, opts ...Option) *mux.Router {
	r := mux.NewRouter()
	Mount(r, svc, opts...)
	return r
}

// Mount registers the apps routes on r:
//
//	GET    {prefix}                         list installed apps
//	POST   {prefix}                         install {"name": "..."}
//	GET    {prefix}/{id}                    get one app
//	DELETE {prefix}/{id}                    uninstall
//	POST   {prefix}/{id}/request            forward an admin request
//	*      {prefix}/oauth/{app}/{path...}   static requests such as OAuth redirects
func Mount(r *mux.Router, svc Service, opts ...Option) {
	h := &handler{svc: svc, prefix: DefaultPrefix, mapError: core.DefaultErrorMapper}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	api := r.PathPrefix(h.prefix).Subrouter()
	api.PathPrefix("/oauth/{app}/").HandlerFunc(h.static)
	api.HandleFunc("", h.list).Methods(http.MethodGet)
	api.HandleFunc("", h.install).Methods(http.MethodPost)
	api.HandleFunc("/{id}", h.get).Methods(http.MethodGet)
	api.HandleFunc("/{id}", h.uninstall).Methods(http.MethodDelete)
	api.HandleFunc("/{id}/request", h.request).Methods(http.MethodPost)
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	query := core.ConnectedAppQuery{}
	if names := strings.TrimSpace(r.URL.Query().Get("name")); names != "" {
		query.Names = strings.Split(names, ",")
	}
	for _, status := range strings.Split(r.URL.Query().Get("status"), ",") {
		if status = strings.TrimSpace(status); status != "" {
			query.Statuses = append(query.Statuses, core.AppStatus(status))
		}
	}
	apps, err := h.svc.ListApps(r.Context(), query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	for i := range apps {
		apps[i].Token = nil
	}
	writeJSON(w, http.StatusOK, apps)
}

func (h *handler) install(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var input struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &input); err != nil || strings.TrimSpace(input.Name) == "" {
		h.writeError(w, r, fmt.Errorf("%w: app name is required", core.ErrInvalidRequest))
		return
	}
	app, err := h.svc.InstallApp(r.Context(), input.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	app.Token = nil
	writeJSON(w, http.StatusCreated, app)
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	app, err := h.svc.GetApp(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	app.Token = nil
	writeJSON(w, http.StatusOK, app)
}

func (h *handler) uninstall(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.UninstallApp(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) request(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.svc.ProcessRequest(r.Context(), mux.Vars(r)["id"], body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if out == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) static(w http.ResponseWriter, r *http.Request) {
	appName := mux.Vars(r)["app"]
	rest := strings.TrimPrefix(r.URL.Path, h.prefix+"/oauth/"+appName)
	var body []byte
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		var err error
		if body, err = readBody(r); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	req := core.StaticRequest{
		Method:  r.Method,
		Slug:    splitSlug(rest),
		Query:   r.URL.Query(),
		Headers: r.Header.Clone(),
		Body:    body,
	}
	res, err := h.svc.ProcessStaticRequest(r.Context(), appName, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res.Redirect != "" {
		status := res.StatusCode
		if status < 300 || status > 399 {
			status = http.StatusFound
		}
		http.Redirect(w, r, res.Redirect, status)
		return
	}
	status := res.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	if res.Body == nil {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, res.Body)
}

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Message  string         `json:"message"`
	TextCode string         `json:"textCode"`
	Category string         `json:"category"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	mapped := h.mapError(err)
	if mapped == nil {
		mapped = core.DefaultErrorMapper(err)
	}
	status := mapped.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		core.LogError(r.Context(), h.logger, "apps request failed", map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
			"error":  err.Error(),
		})
	}
	writeJSON(w, status, errorBody{Error: errorPayload{
		Message:  mapped.Message,
		TextCode: mapped.TextCode,
		Category: string(mapped.Category),
		Metadata: mapped.Metadata,
	}})
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBody+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", core.ErrInvalidRequest, err)
	}
	if len(body) > MaxRequestBody {
		return nil, fmt.Errorf("%w: request body too large", core.ErrInvalidRequest)
	}
	return body, nil
}

func splitSlug(path string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
