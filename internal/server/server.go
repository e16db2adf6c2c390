// Package server exposes the pipeline over HTTP: multipart uploads go to
// a temp file, the engine runs, and the repaired image or a JSON report
// streams back.
package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/striplab/markless/internal/batch"
	"github.com/striplab/markless/internal/config"
	"github.com/striplab/markless/internal/pipeline"
)

// Server is the HTTP front of the pipeline.
type Server struct {
	pipe   *pipeline.Pipeline
	cfg    config.ServerConfig
	log    zerolog.Logger
	router *gin.Engine
}

// New builds the server and its routes.
func New(pipe *pipeline.Pipeline, cfg config.ServerConfig, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.MaxMultipartMemory = cfg.MaxUploadMB << 20

	s := &Server{pipe: pipe, cfg: cfg, log: log, router: router}

	router.GET("/healthz", s.handleHealth)
	api := router.Group("/api/watermark")
	{
		api.POST("/detect", s.handleDetect)
		api.POST("/remove", s.handleRemove)
		api.POST("/batch", s.handleBatch)
		api.GET("/tasks", s.handleTasks)
		api.GET("/tasks/:id", s.handleTask)
		api.GET("/status", s.handleStatus)
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until the listener fails, evicting stale tasks in the
// background.
func (s *Server) Run() error {
	go s.evictLoop()
	s.log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
	return s.router.Run(s.cfg.Addr)
}

func (s *Server) evictLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		if n := s.pipe.CleanupTasks(); n > 0 {
			s.log.Info().Int("evicted", n).Msg("stale batch tasks removed")
		}
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleDetect runs detection on an uploaded image and answers with the
// fusion report.
func (s *Server) handleDetect(c *gin.Context) {
	path, cleanup, ok := s.saveUpload(c)
	if !ok {
		return
	}
	defer cleanup()

	result, err := s.pipe.DetectOnly(path, "")
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	// Raw candidates are diagnostics; the API answers with the decision.
	result.AllResults = nil
	c.JSON(http.StatusOK, result)
}

// handleRemove detects and removes the watermark in an uploaded image,
// streaming the repaired file back.
func (s *Server) handleRemove(c *gin.Context) {
	path, cleanup, ok := s.saveUpload(c)
	if !ok {
		return
	}
	defer cleanup()

	minConfidence := 0.5
	if v := c.PostForm("min_confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "min_confidence must be a number in [0,1]"})
			return
		}
		minConfidence = f
	}

	outPath := filepath.Join(filepath.Dir(path), "out_"+filepath.Base(path))
	defer os.Remove(outPath)

	res := s.pipe.Remove(path, outPath, minConfidence)
	if !res.Success {
		c.JSON(http.StatusUnprocessableEntity, res)
		return
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read result: " + err.Error()})
		return
	}
	name := "cleaned." + extFor(res.Format)
	c.Header("Content-Disposition", `inline; filename="`+name+`"`)
	c.Header("X-Watermark-Algorithm", res.Algorithm)
	c.Data(http.StatusOK, "image/"+res.Format, data)
}

type batchRequest struct {
	InputFolder  string `json:"input_folder" binding:"required"`
	OutputFolder string `json:"output_folder" binding:"required"`
}

// handleBatch starts a background batch task and answers with its id.
func (s *Server) handleBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := s.pipe.BatchRemove(req.InputFolder, req.OutputFolder)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": task.ID(), "status": task.Snapshot().Status})
}

func (s *Server) handleTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": s.pipe.Tasks()})
}

func (s *Server) handleTask(c *gin.Context) {
	snap, err := s.pipe.Task(c.Param("id"))
	if err != nil {
		if errors.Is(err, batch.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.pipe.CurrentStatus())
}

// saveUpload writes the "image" form file to a temp location. On failure
// it answers the request itself and returns ok false.
func (s *Server) saveUpload(c *gin.Context) (path string, cleanup func(), ok bool) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return "", nil, false
	}

	dir, err := os.MkdirTemp("", "markless-upload-*")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "temp storage unavailable"})
		return "", nil, false
	}

	path = filepath.Join(dir, filepath.Base(file.Filename))
	if err := c.SaveUploadedFile(file, path); err != nil {
		os.RemoveAll(dir)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store upload: " + err.Error()})
		return "", nil, false
	}
	return path, func() { os.RemoveAll(dir) }, true
}

func extFor(format string) string {
	if format == "jpeg" {
		return "jpg"
	}
	return format
}
