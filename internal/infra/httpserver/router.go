package httpserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scanmux/scanmux/internal/application/review"
	"github.com/scanmux/scanmux/internal/application/runs"
	"github.com/scanmux/scanmux/internal/domain/findings"
	"github.com/scanmux/scanmux/internal/domain/history"
	"github.com/scanmux/scanmux/internal/domain/tools"
	"github.com/scanmux/scanmux/internal/domain/triage"
	"github.com/scanmux/scanmux/internal/middleware"
)

// Options collects everything the router wires besides the two services.
type Options struct {
	// Profiles maps a profile name to the tool definitions it runs.
	Profiles map[string][]tools.Definition
	// AuthToken guards the API when non-empty.
	AuthToken string
	// RateLimiter throttles clients when non-nil.
	RateLimiter *middleware.RateLimiter
	// Health checkers exposed under /health.
	Health map[string]middleware.HealthChecker
	Log    zerolog.Logger
}

type Router struct {
	runsSvc   *runs.Service
	reviewSvc *review.Service
	profiles  map[string][]tools.Definition
	log       zerolog.Logger
}

func NewRouter(runsSvc *runs.Service, reviewSvc *review.Service, opts Options) http.Handler {
	r := &Router{
		runsSvc:   runsSvc,
		reviewSvc: reviewSvc,
		profiles:  opts.Profiles,
		log:       opts.Log.With().Str("component", "httpserver").Logger(),
	}
	mux := chi.NewRouter()

	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	mux.Use(middleware.LoggingMiddleware(opts.Log))
	mux.Use(middleware.MetricsMiddleware)
	if opts.RateLimiter != nil {
		mux.Use(middleware.RateLimitMiddleware(opts.RateLimiter))
	}
	if opts.AuthToken != "" {
		mux.Use(middleware.TokenAuth(opts.AuthToken))
	}

	mux.Get("/health", middleware.HealthHandler(opts.Health))
	mux.Get("/ready", middleware.ReadinessHandler)
	mux.Get("/live", middleware.LivenessHandler)
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Route("/v1", func(rt chi.Router) {
		rt.Post("/scans", r.wrap(r.handleTriggerScan))
		rt.Get("/scans", r.wrap(r.handleListScans))
		rt.Get("/scans/{id}", r.wrap(r.handleGetScan))
		rt.Get("/scans/{id}/findings", r.wrap(r.handleFindings))
		rt.Get("/scans/{id}/findings/{fingerprint}", r.wrap(r.handleGetFinding))
		rt.Post("/scans/{id}/findings/{fingerprint}/resolution", r.wrap(r.handleResolve))
		rt.Post("/scans/{id}/findings/{fingerprint}/triage", r.wrap(r.handleTriage))
		rt.Get("/diff", r.wrap(r.handleDiff))
		rt.Get("/trends", r.wrap(r.handleTrends))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			switch {
			case errors.Is(err, history.ErrScanNotFound),
				errors.Is(err, history.ErrFindingNotFound),
				errors.Is(err, sql.ErrNoRows):
				http.Error(w, "not found", http.StatusNotFound)
			case errors.Is(err, review.ErrValidation):
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			case errors.Is(err, triage.ErrQuotaExceeded):
				http.Error(w, "advice quota exceeded", http.StatusTooManyRequests)
			case errors.Is(err, triage.ErrProviderFailure):
				http.Error(w, "advice provider failure", http.StatusBadGateway)
			case errors.Is(err, review.ErrAdvisorUnavailable):
				http.Error(w, "advice provider not configured", http.StatusServiceUnavailable)
			default:
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// POST /v1/scans
// Body: {"profile": "default", "branch": "main", "target": "."}
// The run executes in the background; the response acknowledges the
// queued scan with the id the run will be stored under.
func (r *Router) handleTriggerScan(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Profile string `json:"profile"`
		Branch  string `json:"branch"`
		Target  string `json:"target"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return fmt.Errorf("%w: %v", review.ErrValidation, err)
	}
	if body.Profile == "" {
		body.Profile = "default"
	}
	if body.Target == "" {
		body.Target = "."
	}
	if err := middleware.ValidateProfileName(body.Profile); err != nil {
		return fmt.Errorf("%w: %v", review.ErrValidation, err)
	}
	if err := middleware.ValidateBranch(body.Branch); err != nil {
		return fmt.Errorf("%w: %v", review.ErrValidation, err)
	}
	if err := middleware.ValidateTarget(body.Target); err != nil {
		return fmt.Errorf("%w: %v", review.ErrValidation, err)
	}

	defs, ok := r.profiles[body.Profile]
	if !ok {
		return fmt.Errorf("%w: unknown profile %q", review.ErrValidation, body.Profile)
	}

	cmd := runs.Command{
		ID:      history.ScanID(uuid.New().String()),
		Profile: body.Profile,
		Branch:  body.Branch,
		Target:  body.Target,
		Tools:   defs,
	}

	// Run in the background so the scan survives the HTTP request.
	go func() {
		middleware.IncrementScans()
		middleware.IncrementScansRunning()
		defer middleware.DecrementScansRunning()

		sum, err := r.runsSvc.RunUntilDone(cmd)
		if err != nil {
			middleware.IncrementScansFailed()
			r.log.Error().Err(err).Str("scan_id", string(cmd.ID)).Msg("background run failed")
			return
		}
		if sum.Status != runs.StatusSuccess {
			middleware.IncrementScansFailed()
		}
	}()

	return writeJSON(w, http.StatusAccepted, map[string]any{
		"scan_id":  cmd.ID,
		"status":   "queued",
		"profile":  body.Profile,
		"branch":   body.Branch,
		"message":  "scan started in background",
		"queuedAt": time.Now(),
	})
}

// GET /v1/scans?profile=&branch=&limit=20
func (r *Router) handleListScans(w http.ResponseWriter, req *http.Request) error {
	q := req.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	list, err := r.reviewSvc.ListScans(req.Context(), q.Get("profile"), q.Get("branch"), limit)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /v1/scans/{id}
func (r *Router) handleGetScan(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")

	scan, err := r.reviewSvc.GetScan(req.Context(), history.ScanID(id))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, scan)
}

type findingsPage struct {
	Total  int64                 `json:"total"`
	Count  int                   `json:"count"`
	Offset int                   `json:"offset"`
	Items  []*findings.Annotated `json:"items"`
}

// GET /v1/scans/{id}/findings?severity=&tool=&rule_id=&path=&limit=&offset=
func (r *Router) handleFindings(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	q := req.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	filter := history.Filter{
		Severity: findings.Severity(strings.ToUpper(strings.TrimSpace(q.Get("severity")))),
		Tool:     q.Get("tool"),
		RuleID:   q.Get("rule_id"),
		Path:     q.Get("path"),
		Limit:    limit,
		Offset:   offset,
	}

	items, total, err := r.reviewSvc.Findings(req.Context(), history.ScanID(id), filter)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*findings.Annotated{}
	}
	return writeJSON(w, http.StatusOK, findingsPage{
		Total:  total,
		Count:  len(items),
		Offset: offset,
		Items:  items,
	})
}

// GET /v1/scans/{id}/findings/{fingerprint}
func (r *Router) handleGetFinding(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	fp := chi.URLParam(req, "fingerprint")

	f, err := r.reviewSvc.GetFinding(req.Context(), history.ScanID(id), fp)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, f)
}

// POST /v1/scans/{id}/findings/{fingerprint}/resolution
// Body: {"status": "false_positive", "comment": "test credential"}
func (r *Router) handleResolve(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	fp := chi.URLParam(req, "fingerprint")

	var body struct {
		Status  string `json:"status"`
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return fmt.Errorf("%w: %v", review.ErrValidation, err)
	}

	res, err := r.reviewSvc.Resolve(req.Context(), history.ScanID(id), fp, body.Status, body.Comment)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

// POST /v1/scans/{id}/findings/{fingerprint}/triage
func (r *Router) handleTriage(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	fp := chi.URLParam(req, "fingerprint")

	advice, err := r.reviewSvc.Advise(req.Context(), history.ScanID(id), fp)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, advice)
}

// GET /v1/diff?base=<scan-id>&head=<scan-id>
func (r *Router) handleDiff(w http.ResponseWriter, req *http.Request) error {
	q := req.URL.Query()
	base := q.Get("base")
	head := q.Get("head")
	if base == "" || head == "" {
		return fmt.Errorf("%w: base and head scan ids are required", review.ErrValidation)
	}

	diff, err := r.reviewSvc.Diff(req.Context(), history.ScanID(base), history.ScanID(head))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, diff)
}

// GET /v1/trends?profile=&branch=&days=30
func (r *Router) handleTrends(w http.ResponseWriter, req *http.Request) error {
	q := req.URL.Query()
	days, _ := strconv.Atoi(q.Get("days"))

	report, err := r.reviewSvc.Trends(req.Context(), q.Get("profile"), q.Get("branch"), days)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, report)
}
