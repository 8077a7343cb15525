package main

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/gobuffalo/packr/v2"
	"github.com/gorilla/websocket"
	"github.com/ivan3bx/enginetest"
	"github.com/ivan3bx/enginetest/metrics"
)

var tmpls = packr.New("templates", "./templates")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

var errNotRunning = errors.New("target is not running")

// serverHandler owns the harness driven through the web page. At most one
// target runs at a time.
type serverHandler struct {
	host    enginetest.Host
	cfg     Config
	clients *enginetest.ClientManager
	metrics *metrics.Metrics

	mu      sync.Mutex
	active  *harness
	history []string
}

// Start launches a new target unless one is running.
func (s *serverHandler) Start(ctx context.Context, level string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil && s.active.Running() {
		return enginetest.StateError("start", s.active.State())
	}

	h, err := newHarness(s.host, s.cfg, level, s.clients, s.metrics)
	if err != nil {
		return err
	}

	if err := h.Start(ctx); err != nil {
		s.history = h.History()
		h.Close()
		return err
	}

	s.active = h
	return nil
}

// Stop tears down the running target, if any.
func (s *serverHandler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return errNotRunning
	}

	h := s.active
	s.active = nil

	err := h.Stop(ctx)
	s.history = h.History()
	h.Close()

	return err
}

// Running returns the active harness.
func (s *serverHandler) Running() (*harness, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil || !s.active.Running() {
		return nil, errNotRunning
	}
	return s.active, nil
}

func (s *serverHandler) status() (string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return s.active.State().String(), s.active.History()
	}
	return enginetest.Uninitialized.String(), s.history
}

func rootHandler(c *gin.Context) {
	sh := getServer(c)
	if sh == nil {
		return
	}

	status, lines := sh.status()

	html, err := tmpls.FindString("index.html")
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	t, err := template.New("").Parse(html)
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")

	err = t.Execute(c.Writer, gin.H{
		"logLines": lines,
		"status":   status,
		"platform": sh.cfg.Platform,
	})
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
	}
}

func startHandler(c *gin.Context) {
	sh := getServer(c)
	if sh == nil {
		return
	}

	var req struct {
		Level string `json:"level"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.BindJSON(&req); err != nil {
			return
		}
	}

	if err := sh.Start(c.Request.Context(), req.Level); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, enginetest.ErrInvalidState) {
			status = http.StatusBadRequest
		}

		log.WithError(err).Error("start failed")
		c.AbortWithStatusJSON(status, gin.H{"err": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": enginetest.Running.String()})
}

func stopHandler(c *gin.Context) {
	sh := getServer(c)
	if sh == nil {
		return
	}

	if err := sh.Stop(c.Request.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errNotRunning) {
			status = http.StatusBadRequest
		}
		c.AbortWithStatusJSON(status, gin.H{"err": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": enginetest.Uninitialized.String()})
}

func commandHandler(c *gin.Context) {
	sh := getServer(c)
	if sh == nil {
		return
	}

	h, err := sh.Running()
	if err != nil {
		sh.clients.Write([]byte("Target not running. Unable to respond to commands."))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	var req struct {
		Command string `json:"command" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		return
	}

	if err := h.Command(req.Command); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"output": "sent"})
}

func expectHandler(c *gin.Context) {
	sh := getServer(c)
	if sh == nil {
		return
	}

	h, err := sh.Running()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	var req struct {
		Pattern string `json:"pattern" binding:"required"`
		Timeout string `json:"timeout"`
	}
	if err := c.BindJSON(&req); err != nil {
		return
	}

	timeout := time.Second * 10
	if req.Timeout != "" {
		if timeout, err = time.ParseDuration(req.Timeout); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"err": err.Error()})
			return
		}
	}

	line, err := h.Expect(req.Pattern, timeout)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, enginetest.ErrTimeout) {
			status = http.StatusGatewayTimeout
		}
		c.AbortWithStatusJSON(status, gin.H{"err": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"line": line})
}

func webSocketHandler(c *gin.Context) {
	sh := getServer(c)
	if sh == nil {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	sh.clients.AddClient(conn)
}
