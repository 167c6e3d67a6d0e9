package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/claim-comb/app/cfg"
	"github.com/lysyi3m/claim-comb/app/tasks"
	"github.com/lysyi3m/claim-comb/app/verify"
)

const maxRequestBody = 64 << 10

func NewHandler(verifier Verifier, configCache SourceCatalog, registry AdapterRegistry,
	cache CacheCounter, scheduler tasks.TaskSchedulerInterface) *Handler {
	return &Handler{
		verifier:    verifier,
		configCache: configCache,
		registry:    registry,
		cache:       cache,
		scheduler:   scheduler,
	}
}

func (h *Handler) APIVerify(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody)

	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Warn("Invalid verify request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": "body must be a JSON object with a non-empty 'input' field",
		})
		return
	}

	mode, err := verify.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid mode",
			"details": "mode must be 'text' or 'url'",
		})
		return
	}

	verdict, err := h.verifier.Verify(c.Request.Context(), req.Input, mode)
	if err != nil {
		var failure *verify.Failure
		if errors.As(err, &failure) {
			slog.Warn("Verification failed", "stage", failure.Stage, "reason", failure.Reason, "error", failure.Err)
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":  "Verification failed",
				"stage":  failure.Stage,
				"reason": failure.Reason,
			})
			return
		}

		slog.Error("Unexpected verification error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}

	c.Header("X-Verdict-Cached", strconv.FormatBool(verdict.Cached))
	c.JSON(http.StatusOK, verdict)
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"version":   cfg.GetVersion(),
	}

	health["loaded_sources"] = h.configCache.GetConfigCount()
	health["active_adapters"] = h.registry.Count()
	health["cached_verdicts"] = h.cache.Len(c.Request.Context())

	c.JSON(http.StatusOK, health)
}

func (h *Handler) APIListSources(c *gin.Context) {
	configs := h.configCache.GetConfigs()

	sources := make([]map[string]interface{}, 0, len(configs))

	for _, sourceConfig := range configs {
		sources = append(sources, map[string]interface{}{
			"name":        sourceConfig.Name,
			"type":        sourceConfig.Type,
			"tier":        sourceConfig.Tier,
			"enabled":     sourceConfig.Settings.Enabled,
			"priority":    sourceConfig.Settings.Priority,
			"max_items":   sourceConfig.Settings.MaxItems,
			"timeout":     (time.Duration(sourceConfig.Settings.Timeout) * time.Second).String(),
			"rate_limit":  sourceConfig.Settings.RateLimit,
			"has_api_key": sourceConfig.APIKey != "",
		})
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"sources": sources,
		"total":   len(sources),
	})
}

func (h *Handler) APIReloadSources(c *gin.Context) {
	syncTask := tasks.NewSyncSourcesTask(h.configCache, h.registry)
	if err := h.scheduler.EnqueueTask(syncTask); err != nil {
		slog.Error("Error enqueueing sync task", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Failed to enqueue sync task",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Source reload enqueued",
		"task": gin.H{
			"id":   syncTask.ID,
			"type": syncTask.Type,
		},
	})
}
