package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/freshgroup/dashboard/backend/apperr"
	"github.com/freshgroup/dashboard/backend/logger"
	"github.com/freshgroup/dashboard/backend/middleware"
	"github.com/freshgroup/dashboard/backend/models"
	"github.com/freshgroup/dashboard/backend/service"
)

const defaultRequestTimeout = 60 * time.Second

// Handler handles HTTP requests
type Handler struct {
	svc            *service.Service
	log            *logger.Logger
	uploadMaxBytes int64
	timeout        time.Duration
}

// NewHandler creates a new handler instance
func NewHandler(svc *service.Service, log *logger.Logger, uploadMaxBytes int64) *Handler {
	return &Handler{
		svc:            svc,
		log:            log.With("component", "http"),
		uploadMaxBytes: uploadMaxBytes,
		timeout:        defaultRequestTimeout,
	}
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// requestContext bounds a request's store and compute work.
func (h *Handler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

// respondError writes err as the JSON error envelope.
func (h *Handler) respondError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		appErr = apperr.Infrastructure(err, "Internal server error")
	}
	status := appErr.Status()
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed",
			"request_id", middleware.GetRequestID(c),
			"path", c.FullPath(),
			"error", err)
	} else {
		h.log.Debug("Request rejected",
			"request_id", middleware.GetRequestID(c),
			"path", c.FullPath(),
			"code", appErr.Code,
			"error", err)
	}
	code := appErr.Code
	if code == "" {
		code = string(appErr.Kind)
	}
	c.JSON(status, models.ErrorBody{Error: models.ErrorDetail{Message: appErr.Error(), Code: code}})
}

// badRequest reports a binding failure.
func (h *Handler) badRequest(c *gin.Context, err error) {
	h.respondError(c, apperr.Validation("invalid_parameter", "Invalid request: %v", err))
}

// idParam parses a positive numeric path parameter.
func idParam(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Validation("invalid_parameter", "%s must be a positive integer", name)
	}
	return uint(id), nil
}
