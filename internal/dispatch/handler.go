// Package dispatch turns HTTP requests into logic unit invocations.
package dispatch

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-edge/internal/auth"
	"github.com/odyssey-erp/odyssey-edge/internal/bundle"
	"github.com/odyssey-erp/odyssey-edge/internal/executor"
	"github.com/odyssey-erp/odyssey-edge/internal/observability"
	"github.com/odyssey-erp/odyssey-edge/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-edge/internal/respcache"
)

// Response headers set by the dispatcher.
const (
	HeaderRequestID     = "X-Request-ID"
	HeaderCacheStatus   = "X-Cache-Status"
	HeaderExecutionTime = "X-Execution-Time"
)

const maxBodyBytes = 1 << 20

// Handler is the edge entry point.
type Handler struct {
	logger    *slog.Logger
	bundles   executor.Loader
	auth      *auth.Authenticator
	exec      *executor.Executor
	cache     *respcache.Cache
	metrics   *observability.Metrics
	validator *validator.Validate
}

// NewHandler wires the dispatcher. cache and metrics may be nil.
func NewHandler(
	logger *slog.Logger,
	bundles executor.Loader,
	authenticator *auth.Authenticator,
	exec *executor.Executor,
	cache *respcache.Cache,
	metrics *observability.Metrics,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		bundles:   bundles,
		auth:      authenticator,
		exec:      exec,
		cache:     cache,
		metrics:   metrics,
		validator: validator.New(),
	}
}

// MountRoutes registers health, the generic call endpoint and direct unit paths.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Post("/call", h.Call)
	r.HandleFunc("/*", h.Direct)
}

// Health answers liveness probes.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type callRequest struct {
	Path   string         `json:"path" validate:"required"`
	Params map[string]any `json:"params"`
}

// Call resolves {path, params} from the JSON body and invokes the unit.
func (h *Handler) Call(w http.ResponseWriter, r *http.Request) {
	rid := requestID(r)
	var body callRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := httpx.DecodeJSON(r, &body); err != nil {
		h.fail(w, rid, "", httpx.Errorf(httpx.ErrValidation, "malformed request body"))
		return
	}
	if err := h.validator.Struct(body); err != nil {
		h.fail(w, rid, "", httpx.Errorf(httpx.ErrValidation, "path is required"))
		return
	}
	params := queryParams(r)
	for k, v := range body.Params {
		params[k] = v
	}
	h.serve(w, r, rid, body.Path, params)
}

// Direct invokes the unit named by the request path.
func (h *Handler) Direct(w http.ResponseWriter, r *http.Request) {
	rid := requestID(r)
	params := queryParams(r)
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		bodyParams, err := decodeBodyParams(w, r)
		if err != nil {
			h.fail(w, rid, "", err)
			return
		}
		for k, v := range bodyParams {
			params[k] = v
		}
	}
	h.serve(w, r, rid, chi.URLParam(r, "*"), params)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, rid, path string, provided map[string]any) {
	w.Header().Set(HeaderRequestID, rid)

	namespace, name, ok := bundle.SplitPath(path)
	if !ok {
		h.fail(w, rid, path, httpx.Errorf(httpx.ErrNotFound, "no logic unit at %q", path))
		return
	}
	unitPath := namespace + "/" + name
	if bundle.IsPrivate(name) {
		h.fail(w, rid, unitPath, httpx.Errorf(httpx.ErrForbidden, "logic unit %s is private", unitPath))
		return
	}

	ctx := r.Context()
	unit, err := h.bundles.Load(ctx, namespace, name)
	if err != nil {
		h.fail(w, rid, unitPath, err)
		return
	}

	user := h.auth.FromRequest(r)
	access := unit.Config.AccessRequirement()
	if err := executor.Authorize(access, user); err != nil {
		h.fail(w, rid, unitPath, err)
		return
	}

	params, err := unit.Config.ResolveParams(provided)
	if err != nil {
		h.fail(w, rid, unitPath, err)
		return
	}

	// crud and script results depend on the caller, so only anonymous
	// responses of those kinds are shared.
	public := access == auth.RolePublic && (unit.Kind == bundle.KindSQL || user == nil)
	cacheControl := respcache.CacheControl(unit.Config.Cache, public)
	ttl, cacheable := unit.Config.CacheTTL()
	cacheable = cacheable && public

	var key string
	if cacheable {
		key = respcache.Key(r.Method, r.URL, unitPath, params)
		start := time.Now()
		entry, hit := h.cache.Get(ctx, key)
		h.metrics.ObserveCache(hit)
		if hit {
			for k, v := range entry.Headers {
				w.Header().Set(k, v)
			}
			w.Header().Set(HeaderCacheStatus, respcache.StatusHit)
			w.Header().Set(HeaderExecutionTime, elapsedMillis(start))
			w.Header().Set("Cache-Control", cacheControl)
			httpx.Raw(w, entry.Status, entry.Body)
			return
		}
		w.Header().Set(HeaderCacheStatus, respcache.StatusMiss)
	}

	start := time.Now()
	result, err := h.exec.Execute(ctx, executor.Invocation{
		Unit:    unit,
		Params:  params,
		User:    user,
		Request: requestInfo(r, rid),
	})
	if err != nil {
		h.fail(w, rid, unitPath, err)
		return
	}
	elapsed := elapsedMillis(start)

	payload, err := json.Marshal(map[string]any{"data": result})
	if err != nil {
		h.fail(w, rid, unitPath, err)
		return
	}
	if cacheable {
		h.cache.Set(ctx, key, respcache.Entry{
			Status:  http.StatusOK,
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    payload,
		}, ttl)
	}

	w.Header().Set(HeaderExecutionTime, elapsed)
	w.Header().Set("Cache-Control", cacheControl)
	httpx.Raw(w, http.StatusOK, payload)
	h.logger.Debug("logic unit served",
		slog.String("request_id", rid),
		slog.String("unit", unitPath),
		slog.String("kind", string(unit.Kind)),
		slog.String("duration", elapsed))
}

// fail is the single error translation point.
func (h *Handler) fail(w http.ResponseWriter, rid, unitPath string, err error) {
	st := httpx.Classify(err)
	attrs := []any{
		slog.String("request_id", rid),
		slog.String("unit", unitPath),
		slog.Int("status", st.Code),
		slog.Any("error", err),
	}
	if st.Code >= http.StatusInternalServerError {
		h.logger.Error("logic unit failed", attrs...)
	} else {
		h.logger.Info("logic unit rejected", attrs...)
	}
	w.Header().Set(HeaderRequestID, rid)
	httpx.RespondError(w, err, rid)
}

func queryParams(r *http.Request) map[string]any {
	out := make(map[string]any)
	for k, vals := range r.URL.Query() {
		switch len(vals) {
		case 0:
		case 1:
			out[k] = vals[0]
		default:
			list := make([]any, len(vals))
			for i, v := range vals {
				list[i] = v
			}
			out[k] = list
		}
	}
	return out
}

func decodeBodyParams(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	if r.Body == nil {
		return nil, nil
	}
	ct := r.Header.Get("Content-Type")
	switch {
	case ct == "" || strings.HasPrefix(ct, "application/json"):
		var params map[string]any
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		err := httpx.DecodeJSON(r, &params)
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, httpx.Errorf(httpx.ErrValidation, "malformed request body")
		}
		return params, nil
	case strings.HasPrefix(ct, "application/x-www-form-urlencoded"):
		if err := r.ParseForm(); err != nil {
			return nil, httpx.Errorf(httpx.ErrValidation, "malformed request body")
		}
		params := make(map[string]any, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		return params, nil
	default:
		return nil, nil
	}
}

func requestInfo(r *http.Request, rid string) executor.RequestInfo {
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		if strings.EqualFold(k, "Authorization") || strings.EqualFold(k, "Cookie") {
			continue
		}
		headers[strings.ToLower(k)] = r.Header.Get(k)
	}
	return executor.RequestInfo{
		Method:    r.Method,
		Path:      r.URL.Path,
		RequestID: rid,
		Headers:   headers,
	}
}

func elapsedMillis(start time.Time) string {
	return strconv.FormatInt(time.Since(start).Milliseconds(), 10) + "ms"
}

// requestID reuses the id assigned by the router middleware, falling back
// to a fresh uuid when the handler is mounted without it.
func requestID(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return uuid.NewString()
}
