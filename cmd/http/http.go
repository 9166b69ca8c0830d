package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mg52/unfold/internal/app"
	"github.com/mg52/unfold/internal/engine"
	"github.com/mg52/unfold/internal/logging"
	"github.com/mg52/unfold/internal/model"
)

const maxLimit = 1000

var errRateLimited = errors.New("too many searches, slow down")

// OpenRequest is the payload of /open. Either Path or ID is required.
type OpenRequest struct {
	Path string `json:"path"`
	ID   string `json:"id"`
}

// OpenResponse is returned when an access was recorded.
type OpenResponse struct {
	Record     model.FileRecord `json:"record"`
	Count      int64            `json:"count"`
	LastAccess time.Time        `json:"lastAccess"`
}

// RebuildResponse is returned when a rebuild finished.
type RebuildResponse struct {
	Records    int    `json:"records"`
	Duration   string `json:"duration"`
	DurationMs int64  `json:"durationMs"`
}

type HTTP struct {
	app     *app.App
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewHTTP serves a over HTTP. A search rate of zero disables the limiter.
func NewHTTP(a *app.App, logger *slog.Logger) *HTTP {
	if logger == nil {
		logger = logging.Discard()
	}
	limit := rate.Inf
	if a.Config.Server.SearchRate > 0 {
		limit = rate.Limit(a.Config.Server.SearchRate)
	}
	return &HTTP{
		app:     a,
		limiter: rate.NewLimiter(limit, a.Config.Server.SearchBurst),
		logger:  logging.ForComponent(logger, logging.CompHTTP),
	}
}

// Routes registers every handler on mux.
func (ht *HTTP) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/search", ht.Search)
	mux.HandleFunc("/open", ht.Open)
	mux.HandleFunc("/stats", ht.Stats)
	mux.HandleFunc("/recent", ht.Recent)
	mux.HandleFunc("/frequent", ht.Frequent)
	mux.HandleFunc("/rebuild", ht.Rebuild)
	mux.HandleFunc("/save", ht.Save)
	mux.HandleFunc("/health", ht.Health)
}

// ErrWriter writes err as a JSON body with a status derived from it.
func ErrWriter(w http.ResponseWriter, err error) {
	var jsonBytes []byte
	jsonBytes, jsonErr := json.Marshal(map[string]interface{}{
		"err": fmt.Sprintf("%v", err),
	})
	if jsonErr != nil {
		jsonBytes = []byte(fmt.Sprintf("err: %v", err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusOf(err))
	w.Write(jsonBytes)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errMethod):
		return http.StatusMethodNotAllowed
	}
	return http.StatusInternalServerError
}

var errMethod = errors.New("method not allowed")

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	ErrWriter(w, errMethod)
	return false
}

func writeJSON(w http.ResponseWriter, status int, resp interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func (ht *HTTP) limit(r *http.Request, def int) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: invalid limit %q", engine.ErrInvalidArgument, s)
	}
	if n > maxLimit {
		return 0, fmt.Errorf("%w: limit %d above %d", engine.ErrInvalidArgument, n, maxLimit)
	}
	return n, nil
}

// Search handles GET /search?q=<text>&ext=<a,b>&kind=<files|dirs>&limit=<n>.
func (ht *HTTP) Search(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if !ht.limiter.Allow() {
		ErrWriter(w, errRateLimited)
		return
	}

	startTime := time.Now()
	params := r.URL.Query()
	query := params.Get("q")

	kind, err := engine.ParseKind(params.Get("kind"))
	if err != nil {
		ErrWriter(w, err)
		return
	}
	limit, err := ht.limit(r, ht.app.Config.Search.DefaultLimit)
	if err != nil {
		ErrWriter(w, err)
		return
	}
	var exts []string
	for _, v := range params["ext"] {
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				exts = append(exts, e)
			}
		}
	}

	result, err := ht.app.Engine.Search(r.Context(), engine.Query{
		Text:    query,
		Filters: engine.Filters{Extensions: exts, Kind: kind},
		Limit:   limit,
	})
	if err != nil {
		ErrWriter(w, err)
		return
	}
	duration := time.Since(startTime)
	ht.logger.Debug("search_served", "query", query, "results", len(result.Results), "cached", result.Cached, "took", duration)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "success",
		"statusCode": 200,
		"query":      query,
		"response":   result,
		"duration":   duration.String(),
	})
}

// Open records that a file was opened. It handles POST /open with an
// OpenRequest body.
func (ht *HTTP) Open(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrWriter(w, fmt.Errorf("%w: invalid JSON payload: %v", engine.ErrInvalidArgument, err))
		return
	}

	var resp OpenResponse
	switch {
	case req.Path != "":
		rec, st, err := ht.app.Engine.RecordAccessByPath(req.Path)
		if err != nil {
			ErrWriter(w, err)
			return
		}
		resp = OpenResponse{Record: rec, Count: st.Count, LastAccess: st.LastAccess}
	case req.ID != "":
		id := model.FileID(req.ID)
		st, err := ht.app.Engine.RecordAccess(id)
		if err != nil {
			ErrWriter(w, err)
			return
		}
		rec, _ := ht.app.Engine.Get(id)
		resp = OpenResponse{Record: rec, Count: st.Count, LastAccess: st.LastAccess}
	default:
		ErrWriter(w, fmt.Errorf("%w: `path` or `id` is required", engine.ErrInvalidArgument))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Stats handles GET /stats.
func (ht *HTTP) Stats(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "success",
		"statusCode": 200,
		"engine":     ht.app.Engine.Stats(),
		"updater":    ht.app.Updater.Stats(),
		"roots":      ht.app.Walker.Roots(),
		"snapshot":   ht.app.Config.SnapshotPath(),
	})
}

// Recent handles GET /recent?limit=<n>.
func (ht *HTTP) Recent(w http.ResponseWriter, r *http.Request) {
	ht.opened(w, r, ht.app.Engine.Recent)
}

// Frequent handles GET /frequent?limit=<n>.
func (ht *HTTP) Frequent(w http.ResponseWriter, r *http.Request) {
	ht.opened(w, r, ht.app.Engine.Frequent)
}

func (ht *HTTP) opened(w http.ResponseWriter, r *http.Request, list func(int) []engine.Opened) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	limit, err := ht.limit(r, ht.app.Config.Search.DefaultLimit)
	if err != nil {
		ErrWriter(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "success",
		"statusCode": 200,
		"response":   list(limit),
	})
}

// Rebuild re-walks the roots and saves the result. Searches keep being
// answered from the old index meanwhile.
func (ht *HTTP) Rebuild(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	stats, err := ht.app.Index(r.Context())
	if err != nil {
		ErrWriter(w, err)
		return
	}
	if err := ht.app.Save(r.Context()); err != nil {
		ErrWriter(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RebuildResponse{
		Records:    stats.Committed,
		Duration:   stats.Duration.String(),
		DurationMs: stats.Duration.Milliseconds(),
	})
}

// Save handles POST /save.
func (ht *HTTP) Save(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	start := time.Now()
	if err := ht.app.Save(r.Context()); err != nil {
		ErrWriter(w, fmt.Errorf("failed to save index: %w", err))
		return
	}
	duration := time.Since(start)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "success",
		"statusCode": 200,
		"path":       ht.app.Config.SnapshotPath(),
		"duration":   duration.String(),
		"durationMs": duration.Milliseconds(),
	})
}

// Health is a simple health‐check endpoint. It reports unhealthy while the
// index is marked corrupt.
func (ht *HTTP) Health(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	start := time.Now()
	stats := ht.app.Engine.Stats()
	status, code := "ok", http.StatusOK
	if stats.Corrupt {
		status, code = "corrupt", http.StatusServiceUnavailable
	}
	duration := time.Since(start)

	writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"records":    stats.Records,
		"version":    stats.Version,
		"duration":   duration.String(),
		"durationMs": duration.Milliseconds(),
	})
}
