package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/freshgroup/dashboard/backend/middleware"
	"github.com/freshgroup/dashboard/backend/models"
)

// ListStudents handles GET /api/students
func (h *Handler) ListStudents(c *gin.Context) {
	var filter models.StudentFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.badRequest(c, err)
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	students, err := h.svc.ListStudents(ctx, middleware.GetPrincipal(c), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students, "count": len(students)})
}

// UpdateStudent handles PUT /api/students/:id
func (h *Handler) UpdateStudent(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	var req models.UpdateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	resp, err := h.svc.UpdateStudent(ctx, middleware.GetPrincipal(c), id, req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
