package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/david/bid-intel/internal/ai"
	"github.com/david/bid-intel/internal/db"
	"github.com/david/bid-intel/internal/ingest"
	"github.com/david/bid-intel/internal/keypool"
	"github.com/david/bid-intel/internal/models"
	"github.com/david/bid-intel/internal/pipeline"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultJobTimeout = 30 * time.Minute

// NoticeSource is the feed side of the API.
type NoticeSource interface {
	Search(ctx context.Context, f ingest.SearchFilters, page ingest.Pagination) (*models.NoticeBatch, error)
	Detail(ctx context.Context, id string) (*models.Notice, error)
	ExtractDocuments(ctx context.Context, n *models.Notice, extractFilenames bool) []models.DocRef
	DownloadDocuments(ctx context.Context, n *models.Notice, store ingest.DocumentStore) ([]ingest.StoredDocument, error)
}

// DecisionStore reads what the pipeline persisted.
type DecisionStore interface {
	GetDecision(ctx context.Context, noticeID string) (*models.Decision, error)
	ListDecisions(ctx context.Context, f db.DecisionFilter) (*db.DecisionList, error)
	SimilarNotices(ctx context.Context, id string, limit int) ([]db.SimilarNotice, error)
}

type Processor interface {
	ProcessNotice(ctx context.Context, id string) (*models.Decision, error)
	Run(ctx context.Context, f ingest.SearchFilters, page ingest.Pagination) (*pipeline.RunSummary, error)
}

// Deps are the collaborators behind the routes. Decisions and Documents may
// be nil; their routes then answer 503.
type Deps struct {
	Notices   NoticeSource
	Decisions DecisionStore
	Pipeline  Processor
	Documents ingest.DocumentStore
}

type Options struct {
	CORSOrigins []string
	JobTimeout  time.Duration
}

type Server struct {
	Echo *echo.Echo

	deps       Deps
	jobTimeout time.Duration
	log        *zap.Logger

	// Background job tracking
	jobMu      sync.Mutex
	runningJob *backgroundJob
}

type backgroundJob struct {
	ID        string             `json:"id"`
	Status    string             `json:"status"` // running, completed, failed
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at,omitempty"`
	Result    any                `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	Cancel    context.CancelFunc `json:"-"`
}

func NewServer(deps Deps, opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("api")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				log.Warn("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			log.Debug("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:4200"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	if opts.JobTimeout <= 0 {
		opts.JobTimeout = defaultJobTimeout
	}
	s := &Server{Echo: e, deps: deps, jobTimeout: opts.JobTimeout, log: log}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	s.Echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.Echo.Group("/api/v1")
	api.GET("/notices/search", s.handleSearchNotices)
	api.GET("/notices/:id", s.handleGetNotice)
	api.GET("/notices/:id/documents", s.handleNoticeDocuments)
	api.GET("/notices/:id/similar", s.handleSimilarNotices)
	api.POST("/notices/:id/evaluate", s.handleEvaluateNotice)

	api.GET("/decisions", s.handleListDecisions)
	api.GET("/decisions/:id", s.handleGetDecision)

	api.POST("/jobs/ingest", s.handleIngestJob)
	api.GET("/jobs/:id", s.handleJobStatus)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, port string) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("port", port))
		errCh <- s.Echo.Start(":" + port)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Cancel != nil {
		s.runningJob.Cancel()
	}
	s.jobMu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return s.Echo.Shutdown(shutdownCtx)
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrNotFound), errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrRateLimited), errors.Is(err, keypool.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, ingest.ErrInvalidCredential), errors.Is(err, keypool.ErrAllKeysExhausted):
		return http.StatusBadGateway
	case errors.Is(err, ai.ErrNoProvidersAvailable), errors.Is(err, keypool.ErrNoCredentials),
		errors.Is(err, db.ErrNoDatabaseURL):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c echo.Context, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", c.Path()), zap.Int("status", status), zap.Error(err))
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"database":  s.deps.Decisions != nil,
		"documents": s.deps.Documents != nil,
	})
}

func (s *Server) handleSearchNotices(c echo.Context) error {
	f, page, err := parseSearch(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	batch, err := s.deps.Notices.Search(c.Request().Context(), f, page)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, batch)
}

func (s *Server) handleGetNotice(c echo.Context) error {
	n, err := s.deps.Notices.Detail(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, n)
}

// handleNoticeDocuments lists attachment links. ?filenames=true resolves
// real names with HEAD requests; ?download=true saves the files.
func (s *Server) handleNoticeDocuments(c echo.Context) error {
	ctx := c.Request().Context()
	n, err := s.deps.Notices.Detail(ctx, c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}

	if c.QueryParam("download") == "true" {
		if s.deps.Documents == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "document storage not configured"})
		}
		stored, err := s.deps.Notices.DownloadDocuments(ctx, n, s.deps.Documents)
		resp := map[string]any{"notice_id": n.NoticeID, "documents": stored}
		if err != nil {
			if len(stored) == 0 {
				return s.fail(c, err)
			}
			resp["error"] = err.Error()
		}
		return c.JSON(http.StatusOK, resp)
	}

	docs := s.deps.Notices.ExtractDocuments(ctx, n, c.QueryParam("filenames") == "true")
	return c.JSON(http.StatusOK, map[string]any{"notice_id": n.NoticeID, "documents": docs})
}

func (s *Server) handleSimilarNotices(c echo.Context) error {
	if s.deps.Decisions == nil {
		return s.fail(c, db.ErrNoDatabaseURL)
	}
	limit := 5
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 50 {
		limit = l
	}
	similar, err := s.deps.Decisions.SimilarNotices(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"notice_id": c.Param("id"), "similar": similar})
}

func (s *Server) handleEvaluateNotice(c echo.Context) error {
	d, err := s.deps.Pipeline.ProcessNotice(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) handleListDecisions(c echo.Context) error {
	if s.deps.Decisions == nil {
		return s.fail(c, db.ErrNoDatabaseURL)
	}
	f := db.DecisionFilter{
		Recommendation: c.QueryParam("recommendation"),
		NAICS:          c.QueryParam("naics"),
		SortBy:         c.QueryParam("sort"),
	}
	if raw := c.QueryParam("min_score"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 100 {
			return badRequest(c, "min_score must be a number between 0 and 100")
		}
		f.MinScore = v
	}
	if raw := c.QueryParam("since"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			return badRequest(c, "since: "+err.Error())
		}
		f.Since = &t
	}
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 {
		f.Limit = l
	}
	if o, err := strconv.Atoi(c.QueryParam("offset")); err == nil && o >= 0 {
		f.Offset = o
	}

	list, err := s.deps.Decisions.ListDecisions(c.Request().Context(), f)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleGetDecision(c echo.Context) error {
	if s.deps.Decisions == nil {
		return s.fail(c, db.ErrNoDatabaseURL)
	}
	d, err := s.deps.Decisions.GetDecision(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) handleIngestJob(c echo.Context) error {
	f, page, err := parseSearch(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" {
		job := s.runningJob
		s.jobMu.Unlock()
		return c.JSON(http.StatusConflict, map[string]any{
			"error":  "an ingest job is already running",
			"job_id": job.ID,
		})
	}

	// Detached from the request so the job outlives it.
	jobCtx, jobCancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), s.jobTimeout)

	jobID := uuid.New().String()[:8]
	job := &backgroundJob{
		ID:        jobID,
		Status:    "running",
		StartedAt: time.Now(),
		Cancel:    jobCancel,
	}
	s.runningJob = job
	s.jobMu.Unlock()

	go func() {
		defer jobCancel()
		summary, err := s.deps.Pipeline.Run(jobCtx, f, page)

		s.jobMu.Lock()
		defer s.jobMu.Unlock()
		job.EndedAt = time.Now()
		if summary != nil {
			job.Result = summary
		}
		if err != nil {
			job.Status = "failed"
			job.Error = err.Error()
			s.log.Error("ingest job failed", zap.String("job_id", jobID), zap.Error(err))
			return
		}
		job.Status = "completed"
		s.log.Info("ingest job completed", zap.String("job_id", jobID), zap.Int("processed", summary.Processed))
	}()

	return c.JSON(http.StatusAccepted, map[string]any{
		"message": "ingest job started",
		"job_id":  jobID,
		"poll":    fmt.Sprintf("/api/v1/jobs/%s", jobID),
	})
}

func (s *Server) handleJobStatus(c echo.Context) error {
	queried := c.Param("id")
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	job := s.runningJob
	if job == nil || job.ID != queried {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}

	resp := map[string]any{
		"id":         job.ID,
		"status":     job.Status,
		"started_at": job.StartedAt,
	}
	if !job.EndedAt.IsZero() {
		resp["ended_at"] = job.EndedAt
		resp["duration"] = job.EndedAt.Sub(job.StartedAt).String()
	}
	if job.Result != nil {
		resp["result"] = job.Result
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	return c.JSON(http.StatusOK, resp)
}

// parseSearch reads notice filters from the query string. Dates accept
// YYYY-MM-DD or MM/DD/YYYY.
func parseSearch(c echo.Context) (ingest.SearchFilters, ingest.Pagination, error) {
	var f ingest.SearchFilters
	var page ingest.Pagination

	dates := []struct {
		param string
		dst   **time.Time
	}{
		{"posted_from", &f.PostedFrom},
		{"posted_to", &f.PostedTo},
		{"rdl_from", &f.ResponseFrom},
		{"rdl_to", &f.ResponseTo},
	}
	for _, d := range dates {
		raw := strings.TrimSpace(c.QueryParam(d.param))
		if raw == "" {
			continue
		}
		t, err := parseDate(raw)
		if err != nil {
			return f, page, fmt.Errorf("%s: %w", d.param, err)
		}
		*d.dst = &t
	}

	f.NAICSCodes = splitCSV(c.QueryParam("naics"))
	f.Agencies = splitCSV(c.QueryParam("agency"))
	f.Title = strings.TrimSpace(c.QueryParam("title"))
	f.NoticeType = strings.TrimSpace(c.QueryParam("ptype"))

	if raw := c.QueryParam("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil || l <= 0 {
			return f, page, errors.New("limit must be a positive integer")
		}
		page.Limit = l
	}
	if raw := c.QueryParam("offset"); raw != "" {
		o, err := strconv.Atoi(raw)
		if err != nil || o < 0 {
			return f, page, errors.New("offset must be a non-negative integer")
		}
		page.Offset = o
	}
	return f, page, nil
}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range []string{time.DateOnly, "01/02/2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", raw)
}

// splitCSV splits a comma-separated query parameter into trimmed non-empty strings.
func splitCSV(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
