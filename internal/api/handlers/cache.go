package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/etffactor/internal/engine"
	"github.com/irfndi/etffactor/internal/middleware"
	"github.com/irfndi/etffactor/pkg/factors"
)

// CacheHandler exposes cache statistics and invalidation.
type CacheHandler struct {
	engine *engine.Engine
}

func NewCacheHandler(e *engine.Engine) *CacheHandler {
	return &CacheHandler{engine: e}
}

// GetCacheInfo returns store statistics. With ?factor= it also lists that
// factor's keys.
func (h *CacheHandler) GetCacheInfo(c *gin.Context) {
	store := h.engine.Cache().Store()
	ctx := c.Request.Context()

	info, err := store.Info(ctx)
	if err != nil {
		middleware.RecordError(c, err, "cache_info")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
		return
	}

	data := gin.H{"info": info}
	if factor := c.Query("factor"); factor != "" {
		keys, err := store.Keys(ctx, factors.NormalizeName(factor))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
			return
		}
		data["keys"] = keys
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": data})
}

// ClearCache removes the entries of ?factor=, or everything without it.
func (h *CacheHandler) ClearCache(c *gin.Context) {
	factor := c.Query("factor")
	if factor != "" {
		factor = factors.NormalizeName(factor)
	}
	removed, err := h.engine.Cache().Store().Clear(c.Request.Context(), factor)
	if err != nil {
		middleware.RecordError(c, err, "cache_clear")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"factor":  factor,
			"removed": removed,
		},
	})
}

// EngineHandler reports engine state.
type EngineHandler struct {
	engine *engine.Engine
}

func NewEngineHandler(e *engine.Engine) *EngineHandler {
	return &EngineHandler{engine: e}
}

func (h *EngineHandler) GetInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   h.engine.Info(c.Request.Context()),
	})
}
