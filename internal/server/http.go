// Package server exposes the sync engine's REST API over gin.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"outreach-sync-engine/internal/namespace"
	"outreach-sync-engine/internal/platform"
	"outreach-sync-engine/internal/syncjob/domain"
	"outreach-sync-engine/internal/syncjob/service"
)

// Pinger reports store reachability for health checks.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server wires the REST surface to the tracker and registry.
type Server struct {
	tracker    *service.Tracker
	registry   *namespace.Registry
	connectors platform.Set
	db         Pinger
}

// New returns a Server over the given collaborators. db may be nil in tests.
func New(tracker *service.Tracker, registry *namespace.Registry, connectors platform.Set, db Pinger) *Server {
	return &Server{tracker: tracker, registry: registry, connectors: connectors, db: db}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/sync", s.handleSync)
	r.POST("/sync/async", s.handleSyncAsync)
	r.POST("/sync/validate", s.handleValidate)
	r.GET("/jobs/:id", s.handleGetJob)
	r.GET("/jobs", s.handleListJobs)
	r.POST("/jobs/:id/cancel", s.handleCancelJob)
	r.GET("/namespaces", s.handleListNamespaces)
	r.POST("/namespaces", s.handleRegisterNamespace)
	r.GET("/health", s.handleHealth)

	return r
}

type syncRequest struct {
	Mode          string                         `json:"mode"`
	Platforms     []string                       `json:"platforms"`
	Namespaces    []string                       `json:"namespaces,omitempty"`
	StartDate     string                         `json:"start_date,omitempty"`
	EndDate       string                         `json:"end_date,omitempty"`
	ResetFrom     string                         `json:"reset_from,omitempty"`
	BatchSize     int                            `json:"batch_size,omitempty"`
	RateOverrides map[string]domain.RateOverride `json:"rate_overrides,omitempty"`
	CallbackURL   string                         `json:"callback_url,omitempty"`
}

// toJob converts the request into a job, parsing RFC3339 dates.
func (req *syncRequest) toJob() (*domain.Job, error) {
	job := &domain.Job{
		Mode:          domain.Mode(req.Mode),
		Platforms:     req.Platforms,
		Namespaces:    req.Namespaces,
		BatchSize:     req.BatchSize,
		RateOverrides: req.RateOverrides,
		CallbackURL:   req.CallbackURL,
	}
	if req.StartDate != "" {
		t, err := time.Parse(time.RFC3339, req.StartDate)
		if err != nil {
			return nil, errors.New("start_date must be RFC3339")
		}
		job.Window.Start = t.UTC()
	}
	if req.EndDate != "" {
		t, err := time.Parse(time.RFC3339, req.EndDate)
		if err != nil {
			return nil, errors.New("end_date must be RFC3339")
		}
		job.Window.End = t.UTC()
	}
	if req.ResetFrom != "" {
		t, err := time.Parse(time.RFC3339, req.ResetFrom)
		if err != nil {
			return nil, errors.New("reset_from must be RFC3339")
		}
		u := t.UTC()
		job.ResetFrom = &u
	}
	return job, nil
}

type jobView struct {
	ID          string                        `json:"id"`
	Mode        string                        `json:"mode"`
	Platforms   []string                      `json:"platforms"`
	Namespaces  []string                      `json:"namespaces,omitempty"`
	Status      string                        `json:"status"`
	Error       string                        `json:"error,omitempty"`
	Checkpoints map[string]*domain.Checkpoint `json:"checkpoints,omitempty"`
	Summary     *domain.Summary               `json:"summary,omitempty"`
	CreatedAt   time.Time                     `json:"created_at"`
	StartedAt   *time.Time                    `json:"started_at,omitempty"`
	FinishedAt  *time.Time                    `json:"finished_at,omitempty"`
}

func viewOf(j *domain.Job) jobView {
	return jobView{
		ID:          j.ID,
		Mode:        string(j.Mode),
		Platforms:   j.Platforms,
		Namespaces:  j.Namespaces,
		Status:      string(j.Status),
		Error:       j.Error,
		Checkpoints: j.Checkpoints,
		Summary:     j.Summary,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		FinishedAt:  j.FinishedAt,
	}
}

func (s *Server) bindJob(c *gin.Context) (*domain.Job, bool) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return nil, false
	}
	job, err := req.toJob()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return job, true
}

// handleSync runs a job to its terminal state before responding.
func (s *Server) handleSync(c *gin.Context) {
	job, ok := s.bindJob(c)
	if !ok {
		return
	}
	if err := s.tracker.Submit(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// Run on a detached context: closing the HTTP connection must not abort
	// a half-finished sync.
	if err := s.tracker.Run(context.WithoutCancel(c.Request.Context()), job); err != nil && job.Status != domain.StatusFailed {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, viewOf(job))
}

// handleSyncAsync queues the job and returns immediately.
func (s *Server) handleSyncAsync(c *gin.Context) {
	job, ok := s.bindJob(c)
	if !ok {
		return
	}
	if err := s.tracker.SubmitAsync(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, viewOf(job))
}

// handleValidate dry-runs request validation without persisting anything.
func (s *Server) handleValidate(c *gin.Context) {
	job, ok := s.bindJob(c)
	if !ok {
		return
	}
	if err := s.tracker.Validate(job); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.tracker.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, viewOf(job))
}

func (s *Server) handleListJobs(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	jobs, err := s.tracker.List(c.Request.Context(), domain.Status(c.Query("status")), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, viewOf(j))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": views})
}

func (s *Server) handleCancelJob(c *gin.Context) {
	err := s.tracker.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

type namespaceView struct {
	Name             string   `json:"name"`
	Keywords         []string `json:"keywords,omitempty"`
	Position         int      `json:"position"`
	Active           bool     `json:"active"`
	IsDefault        bool     `json:"is_default"`
	MinBehaviorScore *int     `json:"min_behavior_score,omitempty"`
}

func (s *Server) handleListNamespaces(c *gin.Context) {
	all := s.registry.ListActive()
	views := make([]namespaceView, 0, len(all))
	for _, ns := range all {
		views = append(views, namespaceView{
			Name:             ns.Name,
			Keywords:         ns.Keywords,
			Position:         ns.Position,
			Active:           ns.Active,
			IsDefault:        ns.IsDefault,
			MinBehaviorScore: ns.MinBehaviorScore,
		})
	}
	c.JSON(http.StatusOK, gin.H{"namespaces": views})
}

type registerNamespaceRequest struct {
	Name             string   `json:"name"`
	Keywords         []string `json:"keywords"`
	MinBehaviorScore *int     `json:"min_behavior_score,omitempty"`
}

func (s *Server) handleRegisterNamespace(c *gin.Context) {
	var req registerNamespaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	ns, err := s.registry.Register(c.Request.Context(), req.Name, req.Keywords, req.MinBehaviorScore)
	if err != nil {
		switch {
		case errors.Is(err, namespace.ErrAlreadyExists), errors.Is(err, namespace.ErrDefaultExists):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusCreated, namespaceView{
		Name:             ns.Name,
		Keywords:         ns.Keywords,
		Position:         ns.Position,
		Active:           ns.Active,
		MinBehaviorScore: ns.MinBehaviorScore,
	})
}

// handleHealth reports each platform and the store independently; the overall
// status is degraded when any dependency is down.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.connectors)+1)
	healthy := true

	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = err.Error()
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}
	for name, conn := range s.connectors {
		if err := conn.Ping(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	c.JSON(status, gin.H{"status": overall, "checks": checks})
}
