package handlers

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/freshgroup/dashboard/backend/apperr"
	"github.com/freshgroup/dashboard/backend/middleware"
	"github.com/freshgroup/dashboard/backend/models"
)

// readUploadedFile reads the multipart "file" field within the upload limit.
func (h *Handler) readUploadedFile(c *gin.Context) (string, []byte, error) {
	if h.uploadMaxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.uploadMaxBytes)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, apperr.Validation("file_too_large", "Upload exceeds %d bytes", h.uploadMaxBytes)
		}
		return "", nil, apperr.Validation("missing_file", "A spreadsheet must be sent in the \"file\" form field")
	}
	f, err := fh.Open()
	if err != nil {
		return "", nil, apperr.Infrastructure(err, "Failed to open uploaded file")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", nil, apperr.Infrastructure(err, "Failed to read uploaded file")
	}
	return fh.Filename, data, nil
}

// Elbow handles POST /api/datasets/elbow
func (h *Handler) Elbow(c *gin.Context) {
	filename, data, err := h.readUploadedFile(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	resp, err := h.svc.Elbow(ctx, middleware.GetPrincipal(c), filename, data)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// UploadDataset handles POST /api/datasets/upload
func (h *Handler) UploadDataset(c *gin.Context) {
	var q models.UploadQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, err)
		return
	}
	filename, data, err := h.readUploadedFile(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	resp, err := h.svc.Upload(ctx, middleware.GetPrincipal(c), filename, data, q.K)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.log.Info("Dataset uploaded",
		"request_id", middleware.GetRequestID(c),
		"dataset_id", resp.DatasetID,
		"students", resp.TotalStudents,
		"k", resp.K)
	c.JSON(http.StatusCreated, resp)
}

// ListDatasets handles GET /api/datasets
func (h *Handler) ListDatasets(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	datasets, err := h.svc.ListDatasets(ctx, middleware.GetPrincipal(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"datasets": datasets, "count": len(datasets)})
}

// ActivateDataset handles POST /api/datasets/:id/activate
func (h *Handler) ActivateDataset(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	if err := h.svc.ActivateDataset(ctx, middleware.GetPrincipal(c), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Dataset %d activated", id)})
}

// DeleteDataset handles DELETE /api/datasets/:id
func (h *Handler) DeleteDataset(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	if err := h.svc.DeleteDataset(ctx, middleware.GetPrincipal(c), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Dataset %d deleted", id)})
}

// PreviewDataset handles GET /api/datasets/:id/preview
func (h *Handler) PreviewDataset(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	students, err := h.svc.PreviewDataset(ctx, middleware.GetPrincipal(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

// DownloadDataset handles GET /api/datasets/:id/download
func (h *Handler) DownloadDataset(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	ds, students, err := h.svc.ExportDataset(ctx, middleware.GetPrincipal(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	body, err := studentsCSV(students)
	if err != nil {
		h.respondError(c, apperr.Infrastructure(err, "Failed to render dataset"))
		return
	}
	base := strings.TrimSuffix(path.Base(ds.Filename), path.Ext(ds.Filename))
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": base + "_export.csv"}))
	c.Data(http.StatusOK, "text/csv", body)
}

// DatasetSource handles GET /api/datasets/:id/source
func (h *Handler) DatasetSource(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	filename, rc, err := h.svc.DatasetSource(ctx, middleware.GetPrincipal(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer rc.Close()

	headers := map[string]string{
		"Content-Disposition": mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(filename)}),
	}
	c.DataFromReader(http.StatusOK, -1, "application/octet-stream", rc, headers)
}

var studentColumns = []string{
	"id", "firstname", "lastname", "sex", "program", "municipality", "income",
	"shs_type", "shs_origin", "gwa", "honors", "income_category", "cluster",
}

func studentsCSV(students []models.Student) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(studentColumns); err != nil {
		return nil, err
	}
	for _, st := range students {
		row := []string{
			strconv.FormatUint(uint64(st.ID), 10),
			deref(st.Firstname),
			deref(st.Lastname),
			deref(st.Sex),
			deref(st.Program),
			deref(st.Municipality),
			derefFloat(st.Income),
			deref(st.SHSType),
			deref(st.SHSOrigin),
			derefFloat(st.GWA),
			st.Honors,
			st.IncomeCategory,
			clusterCell(st.Cluster),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

// clusterCell leaves unassigned students blank.
func clusterCell(cl int) string {
	if cl < 0 {
		return ""
	}
	return strconv.Itoa(cl)
}
