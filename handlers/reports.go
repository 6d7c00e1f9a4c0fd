package handlers

import (
	"bytes"
	"encoding/csv"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/freshgroup/dashboard/backend/apperr"
	"github.com/freshgroup/dashboard/backend/middleware"
	"github.com/freshgroup/dashboard/backend/models"
)

// ReportQuery selects the playground export.
type ReportQuery struct {
	K      int    `form:"k,default=3" binding:"min=2,max=10"`
	Format string `form:"format,default=csv"`
}

// PlaygroundReport handles GET /api/reports/cluster_playground
func (h *Handler) PlaygroundReport(c *gin.Context) {
	var q ReportQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, err)
		return
	}
	if q.Format != "csv" {
		h.respondError(c, apperr.Validation("unsupported_format", "Report format %q is not supported; use csv", q.Format))
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	preview, err := h.svc.Playground(ctx, middleware.GetPrincipal(c), q.K)
	if err != nil {
		h.respondError(c, err)
		return
	}
	body, err := playgroundCSV(preview)
	if err != nil {
		h.respondError(c, apperr.Infrastructure(err, "Failed to render report"))
		return
	}
	c.Header("Content-Disposition", `attachment; filename="cluster_playground.csv"`)
	c.Data(http.StatusOK, "text/csv", body)
}

// playgroundCSV writes the cluster sizes, a blank row, then one row per clustered student.
func playgroundCSV(p *models.PreviewResponse) ([]byte, error) {
	counts := map[int]int{}
	for _, pt := range p.Points {
		counts[pt.Cluster]++
	}
	clusters := make([]int, 0, len(counts))
	for cl := range counts {
		clusters = append(clusters, cl)
	}
	sort.Ints(clusters)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	rows := [][]string{{"Cluster", "Count"}}
	for _, cl := range clusters {
		rows = append(rows, []string{strconv.Itoa(cl), strconv.Itoa(counts[cl])})
	}
	rows = append(rows, []string{}, []string{"Firstname", "Lastname", "GWA", "Income", "Cluster"})
	for _, pt := range p.Points {
		rows = append(rows, []string{
			pt.Firstname,
			pt.Lastname,
			formatFloat(pt.Values["gwa"]),
			formatFloat(pt.Values["income"]),
			strconv.Itoa(pt.Cluster),
		})
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
