package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/freshgroup/dashboard/backend/middleware"
	"github.com/freshgroup/dashboard/backend/models"
)

// GetClusters handles GET /api/clusters
func (h *Handler) GetClusters(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	view, err := h.svc.OfficialView(ctx, middleware.GetPrincipal(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Recluster handles POST /api/clusters/recluster
// k and features may come from the query string or a JSON body; the body wins.
func (h *Handler) Recluster(c *gin.Context) {
	var req models.ReclusterRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, err)
			return
		}
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	resp, err := h.svc.Recluster(ctx, middleware.GetPrincipal(c), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Preview handles GET /api/clusters/preview?k=&features=gwa,income
func (h *Handler) Preview(c *gin.Context) {
	var q models.ClusterQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, err)
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	resp, err := h.svc.Preview(ctx, middleware.GetPrincipal(c), q.K, c.QueryArray("features"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Playground handles GET /api/clusters/playground
func (h *Handler) Playground(c *gin.Context) {
	var q models.ClusterQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, err)
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	resp, err := h.svc.Playground(ctx, middleware.GetPrincipal(c), q.K)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Pairwise handles GET /api/clusters/pairwise
func (h *Handler) Pairwise(c *gin.Context) {
	var q models.PairwiseQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, err)
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	resp, err := h.svc.Pairwise(ctx, middleware.GetPrincipal(c), q.X, q.Y, q.K)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
