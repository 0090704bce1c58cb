package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/EXCurryBar/mybot/internal/chart"
	"github.com/EXCurryBar/mybot/internal/line"
	"github.com/EXCurryBar/mybot/internal/models"
	"github.com/EXCurryBar/mybot/internal/observability"
	"github.com/EXCurryBar/mybot/internal/session"
	"github.com/EXCurryBar/mybot/internal/worker"

	"github.com/gin-gonic/gin"
)

// EventSource verifies and decodes webhook calls.
type EventSource interface {
	ParseRequest(r *http.Request) ([]models.Event, error)
}

// JobQueue accepts events for background processing.
type JobQueue interface {
	Submit(job worker.Job) error
	Workers() int
}

// Handler wires HTTP routes to the webhook parser and the worker queue.
type Handler struct {
	events   EventSource
	jobs     JobQueue
	imageDir string
}

func NewHandler(events EventSource, jobs JobQueue, imageDir string) *Handler {
	return &Handler{events: events, jobs: jobs, imageDir: imageDir}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(RequestID())
	router.POST("/callback", h.callback)
	router.GET("/healthz", h.health)
	if h.imageDir != "" {
		router.Static(strings.TrimSuffix(chart.URLPrefix, "/"), h.imageDir)
	}
}

// callback acknowledges the webhook as soon as its events are queued; replies
// go out from the workers.
func (h *Handler) callback(c *gin.Context) {
	ctx := c.Request.Context()
	log := observability.LoggerFromContext(ctx)

	events, err := h.events.ParseRequest(c.Request)
	if err != nil {
		if errors.Is(err, line.ErrInvalidSignature) {
			log.Warn("webhook signature mismatch")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
			return
		}
		log.Warn("webhook parse failed", "err", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	reqID := RequestIDFromContext(c)
	accepted := 0
	for _, ev := range events {
		job := worker.Job{Key: session.Key(ev.Source), RequestID: reqID, Event: ev}
		if err := h.jobs.Submit(job); err != nil {
			// the platform only retries whole batches, so a dropped event stays dropped
			log.Error("event dropped", "event_id", ev.ID, "session", job.Key, "err", err)
			continue
		}
		accepted++
	}
	c.JSON(http.StatusOK, gin.H{"accepted": accepted})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "workers": h.jobs.Workers()})
}
