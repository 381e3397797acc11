package handlers

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/etffactor/internal/engine"
	"github.com/irfndi/etffactor/internal/middleware"
	"github.com/irfndi/etffactor/internal/quality"
	"github.com/irfndi/etffactor/pkg/factors"
)

// FactorHandler serves the factor catalogue and computations.
type FactorHandler struct {
	engine *engine.Engine
}

func NewFactorHandler(e *engine.Engine) *FactorHandler {
	return &FactorHandler{engine: e}
}

// ListFactors returns every registered factor, optionally filtered by
// ?category=.
func (h *FactorHandler) ListFactors(c *gin.Context) {
	category := factors.Category(strings.ToLower(strings.TrimSpace(c.Query("category"))))
	if category != "" && !knownCategory(category) {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  fmt.Sprintf("unknown category %q", category),
		})
		return
	}

	reg := h.engine.Registry()
	adj := h.engine.Config().Adjustment
	infos := make([]factors.Info, 0, len(reg.Names()))
	for _, name := range reg.Names() {
		f, err := reg.Get(name)
		if err != nil {
			continue
		}
		if category != "" && f.Category() != category {
			continue
		}
		infos = append(infos, factors.Describe(f, adj))
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"factors": infos,
			"count":   len(infos),
		},
	})
}

// GetFactor describes one factor.
func (h *FactorHandler) GetFactor(c *gin.Context) {
	f, err := h.engine.Registry().Get(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   factors.Describe(f, h.engine.Config().Adjustment),
	})
}

// FrameRequest is a columnar frame. Dates accept YYYYMMDD or ISO forms and
// null column values are missing.
type FrameRequest struct {
	TsCode    []string              `json:"ts_code" binding:"required,min=1"`
	TradeDate []string              `json:"trade_date" binding:"required,min=1"`
	Columns   map[string][]*float64 `json:"columns" binding:"required"`
}

// Frame converts the request into a factors.Frame.
func (r FrameRequest) Frame() (*factors.Frame, error) {
	if len(r.TsCode) != len(r.TradeDate) {
		return nil, fmt.Errorf("ts_code has %d rows, trade_date has %d", len(r.TsCode), len(r.TradeDate))
	}
	dates := make([]time.Time, len(r.TradeDate))
	for i, s := range r.TradeDate {
		d, err := factors.ParseTradeDate(s)
		if err != nil {
			return nil, fmt.Errorf("trade_date row %d: %w", i, err)
		}
		dates[i] = d
	}
	frame := factors.NewFrame(r.TsCode, dates)
	for name, values := range r.Columns {
		col := make([]float64, len(values))
		for i, v := range values {
			if v == nil {
				col[i] = math.NaN()
				continue
			}
			col[i] = *v
		}
		frame.SetColumn(name, col)
	}
	return frame, nil
}

// ComputeRequest is the body of POST /api/v1/factors/compute.
type ComputeRequest struct {
	// Factors to compute; empty computes every registered factor.
	Factors    []string       `json:"factors"`
	Params     map[string]any `json:"params"`
	Adjustment string         `json:"adjustment" binding:"omitempty,oneof=hfq qfq raw none"`
	NoCache    bool           `json:"no_cache"`
	Persist    bool           `json:"persist"`
	Data       FrameRequest   `json:"data" binding:"required"`
}

// ComputeResponse is the data of a compute reply.
type ComputeResponse struct {
	*engine.BatchResult
	Results map[string]*factors.Result `json:"results"`
}

// Compute runs a batch over the posted frame. A batch where some factors
// failed still answers 200 with status "partial"; 422 means nothing
// succeeded.
func (h *FactorHandler) Compute(c *gin.Context) {
	var req ComputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "invalid request payload: " + err.Error(),
		})
		return
	}

	frame, err := req.Data.Frame()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}
	adj, err := factors.ParseAdjustment(req.Adjustment)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}

	middleware.AddSpanAttribute(c, "factor.count", len(req.Factors))
	batch, err := h.engine.Compute(c.Request.Context(), req.Factors, frame, req.Params, engine.Options{
		NoCache:    req.NoCache,
		Adjustment: adj,
		Persist:    req.Persist,
	})
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			middleware.RecordError(c, err, "factor_compute")
		}
		c.JSON(code, gin.H{"status": "error", "error": err.Error()})
		return
	}

	status, code := "success", http.StatusOK
	switch {
	case batch.Summary.Succeeded() == 0 && batch.Summary.Requested > 0:
		status, code = "error", http.StatusUnprocessableEntity
	case batch.Summary.Failed > 0 || batch.Summary.Cancelled > 0:
		status = "partial"
	}
	c.JSON(code, gin.H{
		"status": status,
		"data":   ComputeResponse{BatchResult: batch, Results: batch.Results},
	})
}

// Quality reports data quality for a posted frame without computing.
func (h *FactorHandler) Quality(c *gin.Context) {
	var req FrameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "invalid request payload: " + err.Error(),
		})
		return
	}
	frame, err := req.Frame()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}
	report := quality.NewChecker(h.engine.Config().Quality, nil).Check(frame)
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": report})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, factors.ErrEmptyData),
		errors.Is(err, factors.ErrInvalidFrame),
		errors.Is(err, factors.ErrMissingColumns),
		errors.Is(err, factors.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, factors.ErrUnknownFactor):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func knownCategory(c factors.Category) bool {
	for _, known := range factors.Categories {
		if known == c {
			return true
		}
	}
	return false
}
