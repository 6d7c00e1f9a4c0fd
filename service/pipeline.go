package service

import (
	"encoding/json"
	"strings"

	"gorm.io/datatypes"

	"github.com/freshgroup/dashboard/backend/apperr"
	"github.com/freshgroup/dashboard/backend/clustering"
	"github.com/freshgroup/dashboard/backend/config"
	"github.com/freshgroup/dashboard/backend/models"
	"github.com/freshgroup/dashboard/backend/preprocess"
)

// featureMatrix is the clustering input built from the complete records.
type featureMatrix struct {
	features []preprocess.Field
	rows     []preprocess.Record
	X        [][]float64
	encoded  map[preprocess.Field]preprocess.EncodedColumn
}

func (s *Service) buildMatrix(records []preprocess.Record, features []preprocess.Field) *featureMatrix {
	complete := preprocess.FilterComplete(records)

	var categorical []preprocess.Field
	for _, f := range features {
		if preprocess.IsCategorical(f) {
			categorical = append(categorical, f)
		}
	}
	encoded := s.encoder.Encode(complete, categorical)
	for f, col := range encoded {
		if col.Source == preprocess.EncodingFallback {
			s.log.Warn("Categorical encoding fell back to first-seen order", "field", f)
		}
	}

	X := make([][]float64, len(complete))
	for i, r := range complete {
		row := make([]float64, len(features))
		for j, f := range features {
			if preprocess.IsNumeric(f) {
				row[j], _ = r.Number(f)
			} else {
				row[j] = float64(encoded[f].Codes[i])
			}
		}
		X[i] = row
	}
	return &featureMatrix{features: features, rows: complete, X: X, encoded: encoded}
}

// checkClusterable applies the row count rules shared by previews and official runs.
func checkClusterable(m *featureMatrix, k int) error {
	if len(m.X) == 0 {
		return apperr.DataQuality("no_complete_rows", "No complete student records are available for clustering")
	}
	if k > len(m.X) {
		return apperr.Validation("invalid_parameter", "k=%d exceeds the %d clusterable rows", k, len(m.X))
	}
	return nil
}

// parseFeatures resolves feature names, using defaults when none are given.
func parseFeatures(names []string, defaults []preprocess.Field) ([]preprocess.Field, error) {
	if len(names) == 0 {
		return defaults, nil
	}
	seen := make(map[preprocess.Field]bool, len(names))
	out := make([]preprocess.Field, 0, len(names))
	for _, raw := range names {
		for _, name := range strings.Split(raw, ",") {
			if strings.TrimSpace(name) == "" {
				continue
			}
			f, ok := preprocess.FieldFromName(name)
			if !ok {
				return nil, apperr.Validation("unknown_feature", "Unknown feature %q", strings.TrimSpace(name))
			}
			if seen[f] {
				return nil, apperr.Validation("duplicate_feature", "Feature %q was given twice", f)
			}
			seen[f] = true
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return defaults, nil
	}
	return out, nil
}

func featureNames(fields []preprocess.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}

func quality(q clustering.Quality) models.QualityMetrics {
	return models.QualityMetrics{
		Silhouette:       q.Silhouette,
		DaviesBouldin:    q.DaviesBouldin,
		CalinskiHarabasz: q.CalinskiHarabasz,
		Computed:         q.Computed,
	}
}

// studentRecord turns a stored student back into a pipeline record.
func studentRecord(i int, st config.Student) preprocess.Record {
	return preprocess.Record{
		Index:        i,
		StudentID:    st.ID,
		Firstname:    st.Firstname,
		Lastname:     st.Lastname,
		Sex:          st.Sex,
		Program:      st.Program,
		Municipality: st.Municipality,
		Income:       preprocess.FormatNumber(st.Income),
		SHSType:      st.SHSType,
		SHSOrigin:    st.SHSOrigin,
		GWA:          preprocess.FormatNumber(st.GWA),
	}
}

func studentRecords(students []config.Student) []preprocess.Record {
	out := make([]preprocess.Record, len(students))
	for i, st := range students {
		out[i] = studentRecord(i, st)
	}
	return out
}

// newStudent converts an uploaded record into a row. Missing values become NULL.
func newStudent(r preprocess.Record) config.Student {
	return config.Student{
		Firstname:      textOrNil(r.Firstname),
		Lastname:       textOrNil(r.Lastname),
		Sex:            textOrNil(r.Sex),
		Program:        textOrNil(r.Program),
		Municipality:   textOrNil(r.Municipality),
		Income:         numberOrNil(r.Income),
		SHSType:        textOrNil(r.SHSType),
		SHSOrigin:      textOrNil(r.SHSOrigin),
		GWA:            numberOrNil(r.GWA),
		Honors:         preprocess.ClassifyHonors(r),
		IncomeCategory: preprocess.ClassifyIncome(r.Income),
	}
}

func textOrNil(v *string) *string {
	if preprocess.IsMissing(v) {
		return nil
	}
	t := preprocess.Text(v)
	return &t
}

func numberOrNil(v *string) *float64 {
	f, ok := preprocess.ParseNumber(v)
	if !ok {
		return nil
	}
	return &f
}

func toJSON(v interface{}) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(data)
}

func centroidsOrEmpty(c [][]float64) [][]float64 {
	if c == nil {
		return [][]float64{}
	}
	return c
}

func newRun(k int, features []preprocess.Field, res *clustering.Result) *config.Cluster {
	return &config.Cluster{
		K:                k,
		Centroids:        toJSON(centroidsOrEmpty(res.Centroids)),
		Features:         toJSON(featureNames(features)),
		Silhouette:       res.Quality.Silhouette,
		DaviesBouldin:    res.Quality.DaviesBouldin,
		CalinskiHarabasz: res.Quality.CalinskiHarabasz,
		QualityComputed:  res.Quality.Computed,
	}
}

// decodeRun reads the JSON columns of a run, tolerating empty values.
// A column that fails to decode is logged and read as empty.
func (s *Service) decodeRun(run *config.Cluster) (centroids [][]float64, features []string) {
	if len(run.Centroids) > 0 {
		if err := json.Unmarshal(run.Centroids, &centroids); err != nil {
			s.log.Warn("Failed to decode cluster run centroids", "run_id", run.ID, "error", err)
			centroids = nil
		}
	}
	if len(run.Features) > 0 {
		if err := json.Unmarshal(run.Features, &features); err != nil {
			s.log.Warn("Failed to decode cluster run features", "run_id", run.ID, "error", err)
			features = nil
		}
	}
	if centroids == nil {
		centroids = [][]float64{}
	}
	if features == nil {
		features = []string{}
	}
	return centroids, features
}
