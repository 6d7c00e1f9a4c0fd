package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// QualityMetrics are the internal validation scores of a clustering.
type QualityMetrics struct {
	Silhouette       float64 `json:"silhouette"`
	DaviesBouldin    float64 `json:"davies_bouldin"`
	CalinskiHarabasz float64 `json:"calinski_harabasz"`
	Computed         bool    `json:"computed"`
}

// ClusterQuery is the query string of the preview endpoints.
type ClusterQuery struct {
	K int `form:"k" binding:"required,min=2,max=10"`
}

// PairwiseQuery selects two features for a two dimensional preview.
type PairwiseQuery struct {
	X string `form:"x" binding:"required"`
	Y string `form:"y" binding:"required"`
	K int    `form:"k" binding:"required,min=2,max=10"`
}

// ReclusterRequest asks for a new clustering of the latest dataset.
// K=0 reuses the latest run's k. Empty Features uses every canonical feature.
type ReclusterRequest struct {
	K        int      `json:"k" form:"k" binding:"omitempty,min=2,max=10"`
	Features []string `json:"features" form:"features"`
}

// UploadQuery carries the optional k of an upload.
type UploadQuery struct {
	K *int `form:"k" binding:"omitempty,min=2,max=10"`
}

// StudentFilter holds exact-match filters and a name search for listing students.
type StudentFilter struct {
	Program        string `form:"program"`
	Sex            string `form:"sex"`
	Municipality   string `form:"municipality"`
	IncomeCategory string `form:"income_category"`
	SHSType        string `form:"shs_type"`
	SHSOrigin      string `form:"shs_origin"`
	Honors         string `form:"honors"`
	Search         string `form:"search"`
}

// NumberInput is an edited numeric field. Clients may send it as a JSON
// number or as a string; a missing-value spelling such as "N/A" clears it.
type NumberInput string

func (n *NumberInput) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*n = NumberInput(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("expected a number or a string, got %s", data)
	}
	*n = NumberInput(num.String())
	return nil
}

// UpdateStudentRequest is a partial edit. Nil (or JSON null) fields are left
// unchanged and an empty string clears the field.
type UpdateStudentRequest struct {
	Firstname    *string      `json:"firstname"`
	Lastname     *string      `json:"lastname"`
	Sex          *string      `json:"sex"`
	Program      *string      `json:"program"`
	Municipality *string      `json:"municipality"`
	Income       *NumberInput `json:"income"`
	SHSType      *string      `json:"shs_type"`
	SHSOrigin    *string      `json:"shs_origin"`
	GWA          *NumberInput `json:"gwa"`
}

// Point is one clustered student in a preview.
type Point struct {
	StudentID      uint               `json:"student_id"`
	Firstname      string             `json:"firstname"`
	Lastname       string             `json:"lastname"`
	Values         map[string]float64 `json:"values"`
	Honors         string             `json:"honors"`
	IncomeCategory string             `json:"income_category"`
	Cluster        int                `json:"cluster"`
}

// PreviewResponse is a clustering that was not persisted.
type PreviewResponse struct {
	DatasetID     uint                `json:"dataset_id"`
	K             int                 `json:"k"`
	Features      []string            `json:"features"`
	Centroids     [][]float64         `json:"centroids"`
	Quality       QualityMetrics      `json:"quality_metrics"`
	Categories    map[string][]string `json:"categories,omitempty"`
	Encoding      map[string]string   `json:"encoding,omitempty"`
	TotalStudents int                 `json:"total_students"`
	Clustered     int                 `json:"clustered"`
	Points        []Point             `json:"points"`
}

// ClusterCount is the size of one cluster.
type ClusterCount struct {
	Cluster int `json:"cluster"`
	Count   int `json:"count"`
}

// ReclusterResponse reports an official run, or carries a preview for non-persisting roles.
type ReclusterResponse struct {
	Message   string           `json:"message"`
	Official  bool             `json:"official"`
	DatasetID uint             `json:"dataset_id"`
	RunID     uint             `json:"run_id,omitempty"`
	K         int              `json:"k"`
	Features  []string         `json:"features"`
	Centroids [][]float64      `json:"centroids"`
	Quality   QualityMetrics   `json:"quality_metrics"`
	Assigned  int              `json:"assigned"`
	Preview   *PreviewResponse `json:"preview,omitempty"`
}

// ElbowResponse is the inertia curve of an uploaded file.
type ElbowResponse struct {
	Ks           []int          `json:"ks"`
	WCSS         []float64      `json:"wcss"`
	RecommendedK int            `json:"recommended_k"`
	KSource      string         `json:"k_source"`
	Quality      QualityMetrics `json:"quality_metrics"`
}

// UploadResponse summarizes a stored dataset.
type UploadResponse struct {
	Message       string         `json:"message"`
	DatasetID     uint           `json:"dataset_id"`
	TotalStudents int            `json:"total_students"`
	Clustered     int            `json:"clustered"`
	K             int            `json:"clusters"`
	KSource       string         `json:"k_source"`
	Quality       QualityMetrics `json:"quality_metrics"`
}

// Student is a stored student with its current cluster (-1 when unassigned).
type Student struct {
	ID             uint     `json:"id"`
	DatasetID      uint     `json:"dataset_id"`
	Firstname      *string  `json:"firstname"`
	Lastname       *string  `json:"lastname"`
	Sex            *string  `json:"sex"`
	Program        *string  `json:"program"`
	Municipality   *string  `json:"municipality"`
	Income         *float64 `json:"income"`
	SHSType        *string  `json:"shs_type"`
	SHSOrigin      *string  `json:"shs_origin"`
	GWA            *float64 `json:"gwa"`
	Honors         string   `json:"honors"`
	IncomeCategory string   `json:"income_category"`
	Cluster        int      `json:"cluster"`
}

// UpdateStudentResponse is returned after an edit.
type UpdateStudentResponse struct {
	Message            string  `json:"message"`
	Student            Student `json:"student"`
	ReclusterTriggered bool    `json:"reclustering_triggered"`
}

// PlotPoint is one student on the official cluster scatter plot.
type PlotPoint struct {
	StudentID uint     `json:"student_id"`
	Name      string   `json:"name"`
	X         *float64 `json:"x"`
	Y         *float64 `json:"y"`
	Program   *string  `json:"program"`
}

// ClusterGroup is one cluster of the official view.
type ClusterGroup struct {
	Cluster  int         `json:"cluster"`
	Centroid []float64   `json:"centroid"`
	Count    int         `json:"count"`
	Points   []PlotPoint `json:"points"`
}

// ClusterView is the persisted clustering of the latest dataset.
type ClusterView struct {
	DatasetID uint           `json:"dataset_id"`
	RunID     uint           `json:"run_id"`
	K         int            `json:"k"`
	Features  []string       `json:"features"`
	Centroids [][]float64    `json:"centroids"`
	Quality   QualityMetrics `json:"quality_metrics"`
	CreatedAt *time.Time     `json:"created_at,omitempty"`
	Clusters  []ClusterGroup `json:"clusters"`
}

// DatasetSummary is one entry of the dataset history.
type DatasetSummary struct {
	ID           uint      `json:"id"`
	Filename     string    `json:"filename"`
	UploadDate   time.Time `json:"upload_date"`
	UploadedBy   string    `json:"uploaded_by"`
	StudentCount int       `json:"student_count"`
	LatestK      *int      `json:"latest_k"`
	IsActive     bool      `json:"is_active"`
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}
