// Package server exposes the stage store and run trigger over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lamim/modeleur/internal/api"
	"github.com/lamim/modeleur/internal/config"
	"github.com/lamim/modeleur/internal/keys"
	"github.com/lamim/modeleur/internal/metrics"
	"github.com/lamim/modeleur/internal/orchestrator"
	"github.com/lamim/modeleur/internal/stage"
	"github.com/lamim/modeleur/pkg/models"
)

// keepAliveInterval is how often an idle event stream gets a comment line
const keepAliveInterval = 15 * time.Second

// Server serves the display boundary: stage snapshots, images, the run
// trigger, key selection and a server-sent event stream of stage updates.
type Server struct {
	cfg          config.ServerConfig
	orchestrator *orchestrator.Orchestrator
	store        *stage.Store
	gate         *keys.Gate
	keys         *keys.StaticProvider
	metrics      *metrics.Collector
	logger       *slog.Logger

	// runCtx outlives individual requests; runs started over HTTP use it
	runCtx context.Context
	engine *gin.Engine
}

// New wires the routes. runCtx bounds every run started through the API.
func New(
	runCtx context.Context,
	cfg config.ServerConfig,
	orch *orchestrator.Orchestrator,
	gate *keys.Gate,
	selected *keys.StaticProvider,
	m *metrics.Collector,
	logger *slog.Logger,
) *Server {
	s := &Server{
		cfg:          cfg,
		orchestrator: orch,
		store:        orch.Store(),
		gate:         gate,
		keys:         selected,
		metrics:      m,
		logger:       logger,
		runCtx:       runCtx,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())

	apiGroup := engine.Group("/api")
	apiGroup.POST("/runs", s.startRun)
	apiGroup.GET("/runs/current", s.currentRun)
	apiGroup.DELETE("/runs/current", s.cancelRun)
	apiGroup.GET("/stages", s.listStages)
	apiGroup.GET("/stages/:id", s.getStage)
	apiGroup.GET("/stages/:id/image", s.getStageImage)
	apiGroup.GET("/key", s.keyStatus)
	apiGroup.POST("/key", s.selectKey)

	engine.GET("/events", s.events)
	if m != nil {
		engine.GET(cfg.MetricsPath, gin.WrapH(m.Handler()))
	}
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.engine = engine
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	s.orchestrator.Cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

type startRunRequest struct {
	Description string `json:"description"`
}

type stageResponse struct {
	ID          int    `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Image       string `json:"image,omitempty"` // data URI, success only
}

func toStageResponse(st models.Stage, withImage bool) stageResponse {
	resp := stageResponse{
		ID:          int(st.ID),
		Label:       st.Label,
		Description: st.Description,
		Status:      string(st.Status),
	}
	if withImage && st.HasImage() {
		resp.Image = api.EncodeDataURI(st.Image, "")
	}
	return resp
}

func (s *Server) startRun(c *gin.Context) {
	var req startRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := config.ValidateDescription(req.Description); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// No key, no call
	if !s.gate.Check(c.Request.Context()) {
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": keys.ErrKeyUnavailable.Error()})
		return
	}

	runID, done, err := s.orchestrator.Start(s.runCtx, models.GenerationRequest{Description: req.Description})
	switch {
	case errors.Is(err, orchestrator.ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	go func() {
		if err := <-done; err != nil {
			s.logger.Warn("Run finished with error", "run_id", runID, "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "status": string(orchestrator.StateRunning)})
}

func (s *Server) currentRun(c *gin.Context) {
	resp := gin.H{"state": string(s.orchestrator.State())}
	if last := s.orchestrator.LastResult(); last != nil {
		resp["last"] = last
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) cancelRun(c *gin.Context) {
	if !s.orchestrator.Cancel() {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run in progress"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

func (s *Server) listStages(c *gin.Context) {
	withImages := c.Query("images") != "false"
	snapshot := s.store.Snapshot()

	out := make([]stageResponse, 0, len(snapshot))
	for _, st := range snapshot {
		out = append(out, toStageResponse(st, withImages))
	}
	c.JSON(http.StatusOK, gin.H{"version": s.store.Version(), "stages": out})
}

func (s *Server) stageParam(c *gin.Context) (models.Stage, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || !models.StageID(id).Valid() {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown stage"})
		return models.Stage{}, false
	}
	st, ok := s.store.Get(models.StageID(id))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown stage"})
		return models.Stage{}, false
	}
	return st, true
}

func (s *Server) getStage(c *gin.Context) {
	st, ok := s.stageParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toStageResponse(st, true))
}

func (s *Server) getStageImage(c *gin.Context) {
	st, ok := s.stageParam(c)
	if !ok {
		return
	}
	if !st.HasImage() {
		c.JSON(http.StatusNotFound, gin.H{"error": "stage has no image", "status": string(st.Status)})
		return
	}
	contentType := http.DetectContentType(st.Image)
	if !strings.HasPrefix(contentType, "image/") {
		contentType = config.DefaultReferenceMIMEType
	}
	c.Data(http.StatusOK, contentType, st.Image)
}

func (s *Server) keyStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"selected": s.gate.Check(c.Request.Context())})
}

type selectKeyRequest struct {
	APIKey string `json:"api_key"`
}

func (s *Server) selectKey(c *gin.Context) {
	var req selectKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := keys.ValidateKey(req.APIKey); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.keys.SetKey(req.APIKey, "http"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info("API key selected over HTTP")
	c.JSON(http.StatusOK, gin.H{"selected": true})
}

// events streams every store update as a JSON "stage" event
func (s *Server) events(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.String(http.StatusInternalServerError, "streaming unsupported")
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Status(http.StatusOK)

	sub := s.store.Subscribe()
	defer s.store.Unsubscribe(sub)

	fmt.Fprintf(c.Writer, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	done := c.Request.Context().Done()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			fmt.Fprintf(c.Writer, ": ping\n\n")
			flusher.Flush()
		case u, open := <-sub:
			if !open {
				return
			}
			payload, err := json.Marshal(gin.H{
				"version": u.Version,
				"stage":   toStageResponse(u.Stage, false),
			})
			if err != nil {
				s.logger.Error("Failed to encode stage event", "error", err)
				continue
			}
			fmt.Fprintf(c.Writer, "id: %d\nevent: stage\ndata: %s\n\n", u.Version, payload)
			flusher.Flush()
		}
	}
}
