package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/freshgroup/dashboard/backend/config"
	"github.com/freshgroup/dashboard/backend/models"
)

const batchSize = 200

// Assignment links a student to a cluster number of a run.
type Assignment struct {
	StudentID     uint
	ClusterNumber int
}

// Repository handles database operations
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository instance
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// LatestDataset returns the most recently uploaded dataset.
func (r *Repository) LatestDataset(ctx context.Context) (*config.Dataset, error) {
	var ds config.Dataset
	err := r.db.WithContext(ctx).Order("upload_date DESC").Order("id DESC").First(&ds).Error
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

// GetDataset retrieves a dataset by ID
func (r *Repository) GetDataset(ctx context.Context, id uint) (*config.Dataset, error) {
	var ds config.Dataset
	if err := r.db.WithContext(ctx).First(&ds, id).Error; err != nil {
		return nil, err
	}
	return &ds, nil
}

// ListDatasets returns every dataset, newest first, with student counts and latest k.
func (r *Repository) ListDatasets(ctx context.Context) ([]models.DatasetSummary, error) {
	var out []models.DatasetSummary
	err := r.db.WithContext(ctx).
		Model(&config.Dataset{}).
		Select(`datasets.id, datasets.filename, datasets.upload_date, datasets.uploaded_by, datasets.is_active,
			(SELECT COUNT(*) FROM students s WHERE s.dataset_id = datasets.id) AS student_count,
			(SELECT c.k FROM clusters c WHERE c.dataset_id = datasets.id ORDER BY c.id DESC LIMIT 1) AS latest_k`).
		Order("datasets.upload_date DESC").
		Order("datasets.id DESC").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	return out, nil
}

// ActivateDataset marks id as the only active dataset.
func (r *Repository) ActivateDataset(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ds config.Dataset
		if err := tx.Select("id").First(&ds, id).Error; err != nil {
			return err
		}
		if err := tx.Model(&config.Dataset{}).Where("is_active = ?", true).Update("is_active", false).Error; err != nil {
			return fmt.Errorf("failed to deactivate datasets: %w", err)
		}
		if err := tx.Model(&config.Dataset{}).Where("id = ?", id).Update("is_active", true).Error; err != nil {
			return fmt.Errorf("failed to activate dataset: %w", err)
		}
		return nil
	})
}

// DeleteDataset removes a dataset with its assignments, students and runs.
func (r *Repository) DeleteDataset(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ds config.Dataset
		if err := tx.Select("id").First(&ds, id).Error; err != nil {
			return err
		}
		runs := tx.Model(&config.Cluster{}).Select("id").Where("dataset_id = ?", id)
		students := tx.Model(&config.Student{}).Select("id").Where("dataset_id = ?", id)
		if err := tx.Where("cluster_id IN (?) OR student_id IN (?)", runs, students).Delete(&config.StudentCluster{}).Error; err != nil {
			return fmt.Errorf("failed to delete assignments: %w", err)
		}
		if err := tx.Where("dataset_id = ?", id).Delete(&config.Student{}).Error; err != nil {
			return fmt.Errorf("failed to delete students: %w", err)
		}
		if err := tx.Where("dataset_id = ?", id).Delete(&config.Cluster{}).Error; err != nil {
			return fmt.Errorf("failed to delete cluster runs: %w", err)
		}
		if err := tx.Delete(&config.Dataset{}, id).Error; err != nil {
			return fmt.Errorf("failed to delete dataset: %w", err)
		}
		return nil
	})
}

// CreateDataset stores a new active dataset with its students, a cluster run
// and the assignments of the clustered students, all in one transaction.
// labels[i] is the cluster of students[i], or -1 when it was not clustered.
func (r *Repository) CreateDataset(ctx context.Context, ds *config.Dataset, students []config.Student, run *config.Cluster, labels []int) error {
	if len(labels) != len(students) {
		return fmt.Errorf("labels length %d does not match %d students", len(labels), len(students))
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&config.Dataset{}).Where("is_active = ?", true).Update("is_active", false).Error; err != nil {
			return fmt.Errorf("failed to deactivate datasets: %w", err)
		}
		ds.IsActive = true
		if err := tx.Create(ds).Error; err != nil {
			return fmt.Errorf("failed to create dataset: %w", err)
		}

		run.DatasetID = ds.ID
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("failed to create cluster run: %w", err)
		}

		if len(students) == 0 {
			return nil
		}
		for i := range students {
			students[i].DatasetID = ds.ID
		}
		if err := tx.CreateInBatches(students, batchSize).Error; err != nil {
			return fmt.Errorf("failed to create students: %w", err)
		}

		var assignments []config.StudentCluster
		for i, label := range labels {
			if label < 0 {
				continue
			}
			assignments = append(assignments, config.StudentCluster{
				StudentID:     students[i].ID,
				ClusterID:     run.ID,
				ClusterNumber: label,
			})
		}
		if len(assignments) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(assignments, batchSize).Error; err != nil {
			return fmt.Errorf("failed to create assignments: %w", err)
		}
		return nil
	})
}

// LatestClusterRun returns the newest run of a dataset.
func (r *Repository) LatestClusterRun(ctx context.Context, datasetID uint) (*config.Cluster, error) {
	var run config.Cluster
	err := r.db.WithContext(ctx).Where("dataset_id = ?", datasetID).Order("id DESC").First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ReplaceClusterRun deletes every run of the dataset with its assignments and
// inserts run and assignments in their place. Nothing changes on failure.
func (r *Repository) ReplaceClusterRun(ctx context.Context, datasetID uint, run *config.Cluster, assignments []Assignment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old := tx.Model(&config.Cluster{}).Select("id").Where("dataset_id = ?", datasetID)
		if err := tx.Where("cluster_id IN (?)", old).Delete(&config.StudentCluster{}).Error; err != nil {
			return fmt.Errorf("failed to delete old assignments: %w", err)
		}
		if err := tx.Where("dataset_id = ?", datasetID).Delete(&config.Cluster{}).Error; err != nil {
			return fmt.Errorf("failed to delete old cluster runs: %w", err)
		}

		run.ID = 0
		run.DatasetID = datasetID
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("failed to create cluster run: %w", err)
		}
		if len(assignments) == 0 {
			return nil
		}
		rows := make([]config.StudentCluster, len(assignments))
		for i, a := range assignments {
			rows[i] = config.StudentCluster{StudentID: a.StudentID, ClusterID: run.ID, ClusterNumber: a.ClusterNumber}
		}
		if err := tx.CreateInBatches(rows, batchSize).Error; err != nil {
			return fmt.Errorf("failed to create assignments: %w", err)
		}
		return nil
	})
}

// ListStudents returns the students of a dataset ordered by ID.
// A zero limit returns every row.
func (r *Repository) ListStudents(ctx context.Context, datasetID uint, filter models.StudentFilter, limit int) ([]config.Student, error) {
	q := r.db.WithContext(ctx).Where("dataset_id = ?", datasetID)
	exact := []struct {
		column string
		value  string
	}{
		{"program", filter.Program},
		{"sex", filter.Sex},
		{"municipality", filter.Municipality},
		{"income_category", filter.IncomeCategory},
		{"shs_type", filter.SHSType},
		{"shs_origin", filter.SHSOrigin},
		{"honors", filter.Honors},
	}
	for _, f := range exact {
		if f.value != "" {
			q = q.Where(f.column+" = ?", f.value)
		}
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		q = q.Where("(LOWER(firstname) LIKE ? OR LOWER(lastname) LIKE ?)", like, like)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var students []config.Student
	if err := q.Order("id ASC").Find(&students).Error; err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	return students, nil
}

// ClusterNumbers maps student IDs to their cluster number in the given run.
func (r *Repository) ClusterNumbers(ctx context.Context, runID uint) (map[uint]int, error) {
	var rows []config.StudentCluster
	if err := r.db.WithContext(ctx).Where("cluster_id = ?", runID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load assignments: %w", err)
	}
	out := make(map[uint]int, len(rows))
	for _, row := range rows {
		out[row.StudentID] = row.ClusterNumber
	}
	return out, nil
}

// GetStudent retrieves a student by ID
func (r *Repository) GetStudent(ctx context.Context, id uint) (*config.Student, error) {
	var s config.Student
	if err := r.db.WithContext(ctx).First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateStudent writes every column of s, including cleared ones.
func (r *Repository) UpdateStudent(ctx context.Context, s *config.Student) error {
	if err := r.db.WithContext(ctx).Save(s).Error; err != nil {
		return fmt.Errorf("failed to update student: %w", err)
	}
	return nil
}

// LogActivity appends an audit entry.
func (r *Repository) LogActivity(ctx context.Context, userID, action, details string) error {
	entry := &config.ActivityLog{UserID: userID, Action: action, Details: details}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to log activity: %w", err)
	}
	return nil
}

// IsNotFound reports whether err means a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// ToStudent converts a stored student to its API form. cluster is -1 when unassigned.
func ToStudent(s config.Student, cluster int) models.Student {
	return models.Student{
		ID:             s.ID,
		DatasetID:      s.DatasetID,
		Firstname:      s.Firstname,
		Lastname:       s.Lastname,
		Sex:            s.Sex,
		Program:        s.Program,
		Municipality:   s.Municipality,
		Income:         s.Income,
		SHSType:        s.SHSType,
		SHSOrigin:      s.SHSOrigin,
		GWA:            s.GWA,
		Honors:         s.Honors,
		IncomeCategory: s.IncomeCategory,
		Cluster:        cluster,
	}
}
