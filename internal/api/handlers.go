package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/health"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/buildinfo"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/errors"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/logger"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/waveform"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// ElementReport is the health of one pooled element
type ElementReport struct {
	Key       string        `json:"key"`
	ElementID string        `json:"element_id"`
	Priority  string        `json:"priority"`
	LastUsed  time.Time     `json:"last_used"`
	Report    health.Report `json:"report"`
}

// handleError logs err with a correlation id and writes it as JSON
func (s *Server) handleError(c echo.Context, err error, message string, code int) error {
	resp := ErrorResponse{
		Error:         message,
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}
	if err != nil {
		resp.Error = err.Error()
	}

	s.logger.Warn("API error",
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("path", c.Path()),
		logger.Int("code", code),
		logger.String("message", message),
		logger.Error(err))

	return c.JSON(code, resp)
}

func (s *Server) healthCheck(c echo.Context) error {
	snap := s.core.Snapshot(c.Request().Context())
	status, code := "healthy", http.StatusOK
	if !snap.Healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	uptime := time.Since(s.startTime)
	return c.JSON(code, map[string]any{
		"status":         status,
		"version":        buildinfo.Get().Version,
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      snap.Timestamp.Format(time.RFC3339),
	})
}

func (s *Server) diagnostics(c echo.Context) error {
	return c.JSON(http.StatusOK, s.core.Snapshot(c.Request().Context()))
}

func (s *Server) elements(c echo.Context) error {
	slots := s.core.Pool.ActiveElements()
	out := make([]ElementReport, 0, len(slots))
	for _, slot := range slots {
		out = append(out, ElementReport{
			Key:       slot.Key,
			ElementID: slot.ID,
			Priority:  slot.Priority.String(),
			LastUsed:  slot.LastUsed,
			Report:    health.Check(slot.Element),
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) cacheStats(c echo.Context) error {
	ctx := c.Request().Context()
	cache := s.core.Waveforms.Cache()
	return c.JSON(http.StatusOK, map[string]any{
		"blobs": s.core.Blobs.Stats(ctx),
		"waveforms": map[string]any{
			"memory_entries":    cache.Len(),
			"persisted_entries": cache.Persisted(ctx),
		},
	})
}

func (s *Server) clearCache(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.core.Blobs.Clear(ctx); err != nil {
		return s.handleError(c, err, "clearing blob cache failed", http.StatusInternalServerError)
	}
	if err := s.core.Waveforms.Cache().Clear(ctx); err != nil {
		return s.handleError(c, err, "clearing waveform cache failed", http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) waveform(c echo.Context) error {
	url := c.QueryParam("url")
	if url == "" {
		return s.handleError(c, nil, "url query parameter is required", http.StatusBadRequest)
	}

	res, err := s.core.Waveforms.Generate(c.Request().Context(), url)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, res)
	case errors.Is(err, waveform.ErrTerminated):
		return s.handleError(c, err, "waveform pool is shut down", http.StatusServiceUnavailable)
	case errors.IsCategory(err, errors.CategoryValidation):
		return s.handleError(c, err, "invalid waveform request", http.StatusBadRequest)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return s.handleError(c, err, "request canceled", http.StatusRequestTimeout)
	default:
		return s.handleError(c, err, "waveform extraction failed", http.StatusBadGateway)
	}
}

func (s *Server) resume(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.core.Resume(ctx); err != nil {
		return s.handleError(c, err, "resuming audio context failed", http.StatusConflict)
	}
	d := s.core.Graph.Diagnostics()
	return c.JSON(http.StatusOK, map[string]any{
		"state":    d.State,
		"routed":   d.Bound,
		"analysis": d.Bound && !d.AnalysisBypassed,
	})
}
