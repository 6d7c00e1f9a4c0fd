package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/freshgroup/dashboard/backend/apperr"
	"github.com/freshgroup/dashboard/backend/auth"
	"github.com/freshgroup/dashboard/backend/clustering"
	"github.com/freshgroup/dashboard/backend/config"
	"github.com/freshgroup/dashboard/backend/models"
	"github.com/freshgroup/dashboard/backend/preprocess"
	"github.com/freshgroup/dashboard/backend/repository"
	"github.com/freshgroup/dashboard/backend/spreadsheet"
	"github.com/freshgroup/dashboard/backend/storage"
)

func readUpload(filename string, data []byte) ([]preprocess.Record, error) {
	if !spreadsheet.Supported(filename) {
		return nil, apperr.Validation("unsupported_file_type", "Only CSV and Excel files are supported")
	}
	table, err := spreadsheet.Read(filename, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return preprocess.Normalize(table), nil
}

func contentType(filename string) string {
	if strings.EqualFold(filepath.Ext(filename), ".xlsx") {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Elbow computes the inertia curve of an uploaded file and the recommended k. Nothing is stored.
func (s *Service) Elbow(ctx context.Context, p auth.Principal, filename string, data []byte) (*models.ElbowResponse, error) {
	if err := requireAdmin(p, "compute elbow preview"); err != nil {
		return nil, err
	}
	records, err := readUpload(filename, data)
	if err != nil {
		return nil, err
	}
	m := s.buildMatrix(records, PlaygroundFeatures)
	if len(m.X) == 0 {
		return nil, apperr.DataQuality("no_complete_rows", "No complete student records are available for clustering")
	}
	out := s.engine.Elbow(m.X, MinK, MaxK)
	s.log.Debug("Elbow computed", "filename", filename, "rows", len(m.X), "k", out.K, "source", out.Source.String())
	ks := out.Ks
	if ks == nil {
		ks = []int{}
	}
	wcss := out.WCSS
	if wcss == nil {
		wcss = []float64{}
	}
	return &models.ElbowResponse{
		Ks:           ks,
		WCSS:         wcss,
		RecommendedK: out.K,
		KSource:      out.Source.String(),
		Quality:      quality(out.Quality),
	}, nil
}

// Upload stores a spreadsheet as the new active dataset. Complete rows are
// clustered on (gwa, income) with k, or an elbow-recommended k when k is nil.
func (s *Service) Upload(ctx context.Context, p auth.Principal, filename string, data []byte, k *int) (*models.UploadResponse, error) {
	if err := requireAdmin(p, "upload datasets"); err != nil {
		return nil, err
	}
	if k != nil {
		if err := validateK(*k); err != nil {
			return nil, err
		}
	}
	records, err := readUpload(filename, data)
	if err != nil {
		return nil, err
	}

	features := PlaygroundFeatures
	m := s.buildMatrix(records, features)
	labels := make([]int, len(records))
	for i := range labels {
		labels[i] = -1
	}

	res := &clustering.Result{Labels: []int{}, Centroids: [][]float64{}}
	kFinal, kSource := DefaultK, "default"
	switch {
	case len(m.X) == 0:
		if k != nil {
			kFinal, kSource = *k, "requested"
		}
	default:
		if k == nil {
			elbow := s.engine.Elbow(m.X, MinK, MaxK)
			kFinal, kSource = elbow.K, elbow.Source.String()
			if kFinal > len(m.X) {
				kFinal = len(m.X)
			}
		} else {
			kFinal, kSource = *k, "requested"
			if err := checkClusterable(m, kFinal); err != nil {
				return nil, err
			}
		}
		if res, err = s.engine.Cluster(m.X, kFinal); err != nil {
			return nil, err
		}
		for i, r := range m.rows {
			labels[r.Index] = res.Labels[i]
		}
	}

	students := make([]config.Student, len(records))
	for i, r := range records {
		students[i] = newStudent(r)
	}
	now := s.now()
	ds := &config.Dataset{Filename: filepath.Base(filename), UploadedBy: p.ID, UploadDate: now}
	if s.archiver != nil {
		key := storage.ObjectKey(filename, now)
		if err := s.archiver.Archive(ctx, key, data, contentType(filename)); err != nil {
			s.log.Warn("Failed to archive upload", "filename", filename, "error", err)
		} else {
			ds.ObjectKey = key
		}
	}

	run := newRun(kFinal, features, res)
	if err := s.store.CreateDataset(ctx, ds, students, run, labels); err != nil {
		return nil, apperr.Infrastructure(err, "Failed to save dataset")
	}
	s.log.Info("Dataset uploaded", "dataset_id", ds.ID, "rows", len(records), "clustered", len(m.rows), "k", kFinal, "k_source", kSource)
	s.logActivity(ctx, p.ID, "Upload Dataset", fmt.Sprintf("Admin uploaded dataset: %s with %d records", ds.Filename, len(records)))

	return &models.UploadResponse{
		Message:       "Dataset uploaded and processed successfully",
		DatasetID:     ds.ID,
		TotalStudents: len(records),
		Clustered:     len(m.rows),
		K:             kFinal,
		KSource:       kSource,
		Quality:       quality(res.Quality),
	}, nil
}

// ListDatasets returns the upload history, newest first.
func (s *Service) ListDatasets(ctx context.Context, p auth.Principal) ([]models.DatasetSummary, error) {
	if err := requireAdmin(p, "view dataset history"); err != nil {
		return nil, err
	}
	out, err := s.store.ListDatasets(ctx)
	if err != nil {
		return nil, apperr.Infrastructure(err, "Database operation failed")
	}
	if out == nil {
		out = []models.DatasetSummary{}
	}
	return out, nil
}

// ActivateDataset makes id the only active dataset.
func (s *Service) ActivateDataset(ctx context.Context, p auth.Principal, id uint) error {
	if err := requireAdmin(p, "activate datasets"); err != nil {
		return err
	}
	if err := s.store.ActivateDataset(ctx, id); err != nil {
		return storeErr(err, "dataset_not_found", "Dataset")
	}
	s.logActivity(ctx, p.ID, "Activate Dataset", fmt.Sprintf("Activated dataset %d", id))
	return nil
}

// DeleteDataset removes a dataset with its students, runs and archived upload.
func (s *Service) DeleteDataset(ctx context.Context, p auth.Principal, id uint) error {
	if err := requireAdmin(p, "delete datasets"); err != nil {
		return err
	}
	ds, err := s.store.GetDataset(ctx, id)
	if err != nil {
		return storeErr(err, "dataset_not_found", "Dataset")
	}

	unlock := s.locks.Lock(id)
	err = s.store.DeleteDataset(ctx, id)
	unlock()
	if err != nil {
		return storeErr(err, "dataset_not_found", "Dataset")
	}

	if ds.ObjectKey != "" && s.archiver != nil {
		if err := s.archiver.Remove(ctx, ds.ObjectKey); err != nil {
			s.log.Warn("Failed to remove archived upload", "dataset_id", id, "key", ds.ObjectKey, "error", err)
		}
	}
	s.logActivity(ctx, p.ID, "Delete Dataset", fmt.Sprintf("Deleted dataset %d (%s)", id, ds.Filename))
	return nil
}

// DatasetStudents returns the students of a dataset with their cluster numbers.
// A positive limit truncates the list.
func (s *Service) DatasetStudents(ctx context.Context, p auth.Principal, id uint, limit int) (*config.Dataset, []models.Student, error) {
	if err := requireAdmin(p, "view dataset contents"); err != nil {
		return nil, nil, err
	}
	ds, err := s.store.GetDataset(ctx, id)
	if err != nil {
		return nil, nil, storeErr(err, "dataset_not_found", "Dataset")
	}
	students, err := s.studentsWithClusters(ctx, ds.ID, models.StudentFilter{}, limit)
	if err != nil {
		return nil, nil, err
	}
	return ds, students, nil
}

// PreviewDataset returns the first rows of a dataset.
func (s *Service) PreviewDataset(ctx context.Context, p auth.Principal, id uint) ([]models.Student, error) {
	_, students, err := s.DatasetStudents(ctx, p, id, datasetPreviewRows)
	return students, err
}

// ExportDataset returns every student of a dataset for download and records the download.
func (s *Service) ExportDataset(ctx context.Context, p auth.Principal, id uint) (*config.Dataset, []models.Student, error) {
	ds, students, err := s.DatasetStudents(ctx, p, id, 0)
	if err != nil {
		return nil, nil, err
	}
	if len(students) == 0 {
		return nil, nil, apperr.NotFound("no_students", "No students found for this dataset")
	}
	s.logActivity(ctx, p.ID, "Download Dataset", fmt.Sprintf("Admin downloaded dataset: %s", ds.Filename))
	return ds, students, nil
}

// DatasetSource opens the archived original upload of a dataset.
func (s *Service) DatasetSource(ctx context.Context, p auth.Principal, id uint) (string, io.ReadCloser, error) {
	if err := requireAdmin(p, "download datasets"); err != nil {
		return "", nil, err
	}
	ds, err := s.store.GetDataset(ctx, id)
	if err != nil {
		return "", nil, storeErr(err, "dataset_not_found", "Dataset")
	}
	if ds.ObjectKey == "" || s.archiver == nil {
		return "", nil, apperr.NotFound("source_not_archived", "The original file of dataset %d was not archived", id)
	}
	rc, err := s.archiver.Open(ctx, ds.ObjectKey)
	if err != nil {
		return "", nil, apperr.Infrastructure(err, "Failed to read archived upload")
	}
	return ds.Filename, rc, nil
}

// studentsWithClusters lists students of a dataset with cluster numbers from its latest run.
func (s *Service) studentsWithClusters(ctx context.Context, datasetID uint, filter models.StudentFilter, limit int) ([]models.Student, error) {
	students, err := s.store.ListStudents(ctx, datasetID, filter, limit)
	if err != nil {
		return nil, apperr.Infrastructure(err, "Database operation failed")
	}
	numbers := map[uint]int{}
	run, err := s.store.LatestClusterRun(ctx, datasetID)
	switch {
	case err == nil:
		if numbers, err = s.store.ClusterNumbers(ctx, run.ID); err != nil {
			return nil, apperr.Infrastructure(err, "Database operation failed")
		}
	case !repository.IsNotFound(err):
		return nil, apperr.Infrastructure(err, "Database operation failed")
	}

	out := make([]models.Student, len(students))
	for i, st := range students {
		c, ok := numbers[st.ID]
		if !ok {
			c = -1
		}
		out[i] = repository.ToStudent(st, c)
	}
	return out, nil
}
