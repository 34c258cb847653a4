package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"image-sentiment-pipeline/config"
	"image-sentiment-pipeline/database"
	"image-sentiment-pipeline/models"
	"image-sentiment-pipeline/service"
	"image-sentiment-pipeline/storage"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

// QueueChecker reports dispatch queue liveness for health checks.
type QueueChecker interface {
	IsConnected() bool
}

// Handlers represents the HTTP handlers.
type Handlers struct {
	config  *config.Config
	db      *database.Database
	svc     *service.Service
	store   *storage.Store
	queue   QueueChecker
	allowed map[string]bool
}

// NewHandlers creates new HTTP handlers. queue may be nil when the service
// runs without a dispatch queue.
func NewHandlers(cfg *config.Config, db *database.Database, svc *service.Service, store *storage.Store, queue QueueChecker) *Handlers {
	allowed := make(map[string]bool, len(cfg.TokenAllowList))
	for _, t := range cfg.TokenAllowList {
		allowed[t] = true
	}
	return &Handlers{
		config:  cfg,
		db:      db,
		svc:     svc,
		store:   store,
		queue:   queue,
		allowed: allowed,
	}
}

// HealthCheck handles health check requests, reporting dispatch queue
// liveness alongside the service status.
func (h *Handlers) HealthCheck(c *gin.Context) {
	dispatch := "disabled"
	if h.queue != nil {
		if h.queue.IsConnected() {
			dispatch = "connected"
		} else {
			dispatch = "disconnected"
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"service":  "image-sentiment-pipeline",
		"dispatch": dispatch,
	})
}

// SubmitAnalysis accepts a submission body containing a single image URL,
// runs the pipeline to a terminal state and returns the finalized record.
func (h *Handlers) SubmitAnalysis(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || strings.TrimSpace(string(body)) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be an image URL"})
		return
	}
	sourceURL := strings.TrimSpace(string(body))

	token := h.resolveCredential(c.GetHeader("Authorization"))

	req := service.SubmitRequest{
		SourceURL:   sourceURL,
		AuthToken:   token,
		RequestorIP: c.ClientIP(),
	}
	if mod := c.Query("threshold_modifier"); mod != "" {
		v, err := strconv.ParseFloat(mod, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "threshold_modifier must be a number"})
			return
		}
		req.ThresholdModifier = &v
	}

	record, err := h.svc.Submit(c.Request.Context(), req)
	if err != nil {
		var perr *service.PipelineError
		if errors.As(err, &perr) && perr.Kind == models.KindUnauthorized {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid credential"})
			return
		}
		log.WithError(err).WithField("ip", c.ClientIP()).Error("Submission failed")
		if record != nil {
			c.JSON(http.StatusBadGateway, record)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analysis failed"})
		return
	}

	c.JSON(http.StatusOK, record)
}

// GetAnalysis polls one request by identifier. A pending record returns 202
// so clients keep polling; terminal records are returned in full.
func (h *Handlers) GetAnalysis(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown request identifier"})
		return
	}

	record, err := h.db.GetRequest(id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown request identifier"})
			return
		}
		log.WithError(err).WithField("request_id", id).Error("Failed to read request record")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read request"})
		return
	}

	if !record.Terminal() {
		c.JSON(http.StatusAccepted, gin.H{
			"request_id": record.ID,
			"status":     models.StatusPending,
		})
		return
	}

	c.JSON(http.StatusOK, record)
}

// GetImage serves a persisted blob by storage identifier.
func (h *Handlers) GetImage(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	data, contentType, err := h.store.Get(id)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
			return
		}
		log.WithError(err).WithField("storage_id", id).Error("Failed to read blob")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return
	}
	c.Data(http.StatusOK, contentType, data)
}

// GetStats returns request totals by lifecycle state.
func (h *Handlers) GetStats(c *gin.Context) {
	counts, err := h.db.CountRequestsByStatus()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"pending":  counts[models.StatusPending],
		"complete": counts[models.StatusComplete],
		"error":    counts[models.StatusError],
	})
}

// resolveCredential extracts the bearer token. Tokens on the configured
// allow-list are swapped for the system-held OpenAI key so trusted callers
// never carry a real credential.
func (h *Handlers) resolveCredential(authHeader string) string {
	token := extractToken(authHeader)
	if token == "" {
		return ""
	}
	if h.allowed[token] {
		return h.config.OpenAIAPIKey
	}
	return token
}

func extractToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
