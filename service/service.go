// Package service coordinates the clustering pipeline with storage: previews,
// official reclusters, uploads, dataset management and student edits.
package service

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/freshgroup/dashboard/backend/apperr"
	"github.com/freshgroup/dashboard/backend/auth"
	"github.com/freshgroup/dashboard/backend/clustering"
	"github.com/freshgroup/dashboard/backend/config"
	"github.com/freshgroup/dashboard/backend/logger"
	"github.com/freshgroup/dashboard/backend/models"
	"github.com/freshgroup/dashboard/backend/preprocess"
	"github.com/freshgroup/dashboard/backend/repository"
	"github.com/freshgroup/dashboard/backend/worker"
)

const (
	MinK     = clustering.DefaultKMin
	MaxK     = clustering.DefaultKMax
	DefaultK = 3

	datasetPreviewRows = 15
)

// PlaygroundFeatures are used by uploads, the playground and background reclusters without a stored feature list.
var PlaygroundFeatures = []preprocess.Field{preprocess.FieldGWA, preprocess.FieldIncome}

// OfficialFeatures are used by official reclusters when no features are requested.
var OfficialFeatures = []preprocess.Field{
	preprocess.FieldGWA, preprocess.FieldIncome, preprocess.FieldSex, preprocess.FieldProgram,
	preprocess.FieldMunicipality, preprocess.FieldSHSType, preprocess.FieldSHSOrigin,
}

// Store is the persistence the service needs. *repository.Repository implements it.
type Store interface {
	LatestDataset(ctx context.Context) (*config.Dataset, error)
	GetDataset(ctx context.Context, id uint) (*config.Dataset, error)
	ListDatasets(ctx context.Context) ([]models.DatasetSummary, error)
	ActivateDataset(ctx context.Context, id uint) error
	DeleteDataset(ctx context.Context, id uint) error
	CreateDataset(ctx context.Context, ds *config.Dataset, students []config.Student, run *config.Cluster, labels []int) error
	LatestClusterRun(ctx context.Context, datasetID uint) (*config.Cluster, error)
	ReplaceClusterRun(ctx context.Context, datasetID uint, run *config.Cluster, assignments []repository.Assignment) error
	ListStudents(ctx context.Context, datasetID uint, filter models.StudentFilter, limit int) ([]config.Student, error)
	ClusterNumbers(ctx context.Context, runID uint) (map[uint]int, error)
	GetStudent(ctx context.Context, id uint) (*config.Student, error)
	UpdateStudent(ctx context.Context, s *config.Student) error
	LogActivity(ctx context.Context, userID, action, details string) error
}

// Archiver keeps the raw bytes of uploads. *storage.MinIOClient implements it.
type Archiver interface {
	Archive(ctx context.Context, key string, data []byte, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
}

// Scheduler runs background jobs. *worker.Queue implements it.
type Scheduler interface {
	Submit(job worker.Job) bool
}

// Options carries the optional collaborators of a Service.
type Options struct {
	Engine   *clustering.Engine
	Encoder  *preprocess.Encoder
	Archiver Archiver
	Jobs     Scheduler
	Now      func() time.Time
}

type Service struct {
	store    Store
	engine   *clustering.Engine
	encoder  *preprocess.Encoder
	archiver Archiver
	jobs     Scheduler
	locks    *keyedMutex
	log      *logger.Logger
	now      func() time.Time
}

func New(store Store, log *logger.Logger, opts Options) *Service {
	s := &Service{
		store:    store,
		engine:   opts.Engine,
		encoder:  opts.Encoder,
		archiver: opts.Archiver,
		jobs:     opts.Jobs,
		locks:    newKeyedMutex(),
		log:      log.With("component", "cluster_service"),
		now:      opts.Now,
	}
	if s.engine == nil {
		s.engine = clustering.NewEngine(clustering.DefaultConfig())
	}
	if s.encoder == nil {
		s.encoder = preprocess.NewEncoder()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func requireViewer(p auth.Principal) error {
	if !p.CanView() {
		return apperr.Forbidden("Role %q may not access clustering", p.Role)
	}
	return nil
}

func requireAdmin(p auth.Principal, action string) error {
	if !p.IsAdmin() {
		return apperr.Forbidden("Only Admins can %s", action)
	}
	return nil
}

func validateK(k int) error {
	if k < MinK || k > MaxK {
		return apperr.Validation("invalid_parameter", "k must be between %d and %d, got %d", MinK, MaxK, k)
	}
	return nil
}

// storeErr maps a store failure to the error taxonomy.
func storeErr(err error, code, what string) error {
	if repository.IsNotFound(err) {
		return apperr.NotFound(code, "%s not found", what)
	}
	return apperr.Infrastructure(err, "Database operation failed")
}

func (s *Service) latestDataset(ctx context.Context) (*config.Dataset, error) {
	ds, err := s.store.LatestDataset(ctx)
	if err != nil {
		return nil, storeErr(err, "no_dataset", "Dataset")
	}
	return ds, nil
}

// logActivity writes an audit entry. Failures are logged and otherwise ignored.
func (s *Service) logActivity(ctx context.Context, userID, action, details string) {
	if err := s.store.LogActivity(ctx, userID, action, details); err != nil {
		s.log.Warn("Failed to write activity log", "user_id", userID, "action", action, "error", err)
	}
}

// keyedMutex serializes official cluster replaces per dataset within this process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uint]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uint]*refMutex)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key uint) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
