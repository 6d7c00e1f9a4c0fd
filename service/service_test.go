package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"github.com/freshgroup/dashboard/backend/apperr"
	"github.com/freshgroup/dashboard/backend/auth"
	"github.com/freshgroup/dashboard/backend/clustering"
	"github.com/freshgroup/dashboard/backend/config"
	"github.com/freshgroup/dashboard/backend/logger"
	"github.com/freshgroup/dashboard/backend/models"
	"github.com/freshgroup/dashboard/backend/preprocess"
	"github.com/freshgroup/dashboard/backend/repository"
	"github.com/freshgroup/dashboard/backend/repository/repotest"
	"github.com/freshgroup/dashboard/backend/worker"
)

var (
	admin  = auth.Principal{ID: "1", Role: auth.RoleAdmin}
	viewer = auth.Principal{ID: "2", Role: auth.RoleViewer}
	guest  = auth.Principal{ID: "3", Role: "Guest"}
)

// tenRows has two rows (Cara, Gina) without a usable income.
const tenRows = `Name,Gender,Course,Town,Family Income,SHS Type,SHS Origin,GWA
Ana Cruz,F,BSIT,Capas,9000,Public,Capas NHS,84
Ben Reyes,M,BSIT,Capas,9500,Public,Capas NHS,85
Cara Diaz,F,BSCS,Tarlac,,Private,St. Paul,86
Dan Lim,M,BSCS,Tarlac,10000,Public,Tarlac NHS,83
Eve Tan,F,BSIT,Bamban,11000,Public,Bamban NHS,85
Finn Go,M,BSCS,Tarlac,90000,Private,St. Paul,96
Gina Sy,F,BSIT,Tarlac,N/A,Private,St. Paul,97
Hal Uy,M,BSCS,Capas,95000,Private,La Salle,95
Ivy Ong,F,BSIT,Bamban,100000,Private,La Salle,97
Jon Chu,M,BSCS,Tarlac,98000,Private,St. Paul,98
`

type memArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memArchive) Archive(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memArchive) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memArchive) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

type fixture struct {
	svc     *Service
	db      *gorm.DB
	queue   *worker.Queue
	archive *memArchive
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	db := repotest.Open(t)
	queue := worker.NewQueue(logger.Nop(), 8, time.Minute)
	queue.Start()
	t.Cleanup(queue.Stop)

	archive := &memArchive{objects: map[string][]byte{}}
	opts.Jobs = queue
	opts.Archiver = archive
	if opts.Engine == nil {
		opts.Engine = clustering.NewEngine(clustering.Config{Seed: 42, Restarts: 4})
	}
	svc := New(repository.NewRepository(db), logger.Nop(), opts)
	return &fixture{svc: svc, db: db, queue: queue, archive: archive}
}

func (f *fixture) upload(t *testing.T, csv string, k *int) *models.UploadResponse {
	t.Helper()
	resp, err := f.svc.Upload(context.Background(), admin, "students.csv", []byte(csv), k)
	require.NoError(t, err)
	return resp
}

func (f *fixture) count(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func intPtr(v int) *int { return &v }

func TestUploadClustersOnlyCompleteRows(t *testing.T) {
	f := newFixture(t, Options{})
	resp := f.upload(t, tenRows, intPtr(2))

	assert.Equal(t, 10, resp.TotalStudents)
	assert.Equal(t, 8, resp.Clustered)
	assert.Equal(t, 2, resp.K)
	assert.Equal(t, "requested", resp.KSource)

	var assignments []config.StudentCluster
	require.NoError(t, f.db.Find(&assignments).Error)
	require.Len(t, assignments, 8)
	for _, a := range assignments {
		assert.Contains(t, []int{0, 1}, a.ClusterNumber)
	}

	students, err := f.svc.ListStudents(context.Background(), viewer, models.StudentFilter{})
	require.NoError(t, err)
	require.Len(t, students, 10)
	unassigned := 0
	for _, st := range students {
		if st.Cluster == -1 {
			unassigned++
			assert.Nil(t, st.Income)
			assert.Equal(t, preprocess.IncomeUnknown, st.IncomeCategory)
		}
	}
	assert.Equal(t, 2, unassigned)

	view, err := f.svc.OfficialView(context.Background(), viewer)
	require.NoError(t, err)
	assert.Equal(t, 2, view.K)
	assert.Len(t, view.Centroids, 2)
	assert.Equal(t, []string{"gwa", "income"}, view.Features)
	total := 0
	for _, g := range view.Clusters {
		total += g.Count
	}
	assert.Equal(t, 8, total)

	assert.Len(t, f.archive.objects, 1)
	assert.Equal(t, int64(1), f.count(t, &config.ActivityLog{}))
}

func TestUploadAutoSelectsK(t *testing.T) {
	f := newFixture(t, Options{})
	resp := f.upload(t, tenRows, nil)
	assert.GreaterOrEqual(t, resp.K, MinK)
	assert.LessOrEqual(t, resp.K, 8)
	assert.Contains(t, []string{"detected", "fallback"}, resp.KSource)
}

func TestUploadWithoutCompleteRows(t *testing.T) {
	f := newFixture(t, Options{})
	resp := f.upload(t, "firstname,lastname,gwa\nAna,Cruz,90\nBen,Reyes,85\n", nil)
	assert.Equal(t, 2, resp.TotalStudents)
	assert.Zero(t, resp.Clustered)
	assert.Equal(t, DefaultK, resp.K)
	assert.Zero(t, f.count(t, &config.StudentCluster{}))
	assert.Equal(t, int64(1), f.count(t, &config.Cluster{}))

	_, err := f.svc.Playground(context.Background(), viewer, 2)
	assert.True(t, apperr.Is(err, apperr.KindDataQuality))
}

func TestUploadValidation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, viewer, "students.csv", []byte(tenRows), nil)
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))

	_, err = f.svc.Upload(ctx, admin, "students.json", []byte("{}"), nil)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.Upload(ctx, admin, "students.csv", []byte(tenRows), intPtr(9))
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.Upload(ctx, admin, "students.csv", []byte(tenRows), intPtr(1))
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	assert.Zero(t, f.count(t, &config.Dataset{}))
}

func TestOfficialReclusterReplacesPreviousRun(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.upload(t, tenRows, intPtr(2))

	first, err := f.svc.Recluster(ctx, admin, models.ReclusterRequest{K: 3})
	require.NoError(t, err)
	assert.True(t, first.Official)
	assert.Len(t, first.Features, len(OfficialFeatures))

	second, err := f.svc.Recluster(ctx, admin, models.ReclusterRequest{K: 2, Features: []string{"gwa", "income"}})
	require.NoError(t, err)
	assert.Equal(t, 8, second.Assigned)

	var runs []config.Cluster
	require.NoError(t, f.db.Find(&runs).Error)
	require.Len(t, runs, 1)
	assert.Equal(t, second.RunID, runs[0].ID)

	var assignments []config.StudentCluster
	require.NoError(t, f.db.Find(&assignments).Error)
	require.Len(t, assignments, 8)
	for _, a := range assignments {
		assert.Equal(t, second.RunID, a.ClusterID)
	}
}

func TestReclusterRoles(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.upload(t, tenRows, intPtr(2))
	runsBefore := f.count(t, &config.Cluster{})

	resp, err := f.svc.Recluster(ctx, viewer, models.ReclusterRequest{K: 2})
	require.NoError(t, err)
	assert.False(t, resp.Official)
	require.NotNil(t, resp.Preview)
	assert.Len(t, resp.Preview.Points, 8)
	assert.Equal(t, runsBefore, f.count(t, &config.Cluster{}))

	_, err = f.svc.Recluster(ctx, guest, models.ReclusterRequest{K: 2})
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))

	_, err = f.svc.Recluster(ctx, admin, models.ReclusterRequest{K: 9})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.Recluster(ctx, admin, models.ReclusterRequest{K: 2, Features: []string{"height"}})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestPreviewIsReadOnlyAndDeterministic(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.upload(t, tenRows, intPtr(2))

	runs, links := f.count(t, &config.Cluster{}), f.count(t, &config.StudentCluster{})
	one, err := f.svc.Playground(ctx, viewer, 2)
	require.NoError(t, err)
	two, err := f.svc.Playground(ctx, viewer, 2)
	require.NoError(t, err)

	assert.Equal(t, one, two)
	assert.Equal(t, runs, f.count(t, &config.Cluster{}))
	assert.Equal(t, links, f.count(t, &config.StudentCluster{}))

	official, err := f.svc.Recluster(ctx, admin, models.ReclusterRequest{K: 2, Features: []string{"gwa", "income"}})
	require.NoError(t, err)
	require.Len(t, official.Centroids, 2)
	for i := range official.Centroids {
		assert.InDeltaSlice(t, one.Centroids[i], official.Centroids[i], 1e-9)
	}
}

func TestPreviewValidation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.svc.Playground(ctx, viewer, 2)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	f.upload(t, tenRows, intPtr(2))
	_, err = f.svc.Playground(ctx, viewer, 11)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = f.svc.Playground(ctx, guest, 2)
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))
	_, err = f.svc.Pairwise(ctx, viewer, "gwa", "shoe_size", 2)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = f.svc.Pairwise(ctx, viewer, "gwa", "gwa", 2)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestPairwiseCategoricalAxis(t *testing.T) {
	f := newFixture(t, Options{})
	f.upload(t, tenRows, intPtr(2))

	resp, err := f.svc.Pairwise(context.Background(), viewer, "Program", "gwa", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"program", "gwa"}, resp.Features)
	assert.Equal(t, []string{"BSCS", "BSIT"}, resp.Categories["program"])
	assert.Equal(t, "primary", resp.Encoding["program"])
	for _, pt := range resp.Points {
		assert.Contains(t, []float64{0, 1}, pt.Values["program"])
	}
}

func TestEncoderFailureFallsBack(t *testing.T) {
	failing := &preprocess.Encoder{Primary: func([]string) (map[string]int, error) {
		return nil, errors.New("encoder unavailable")
	}}
	f := newFixture(t, Options{Encoder: failing})
	f.upload(t, tenRows, intPtr(2))

	resp, err := f.svc.Preview(context.Background(), viewer, 2, []string{"sex", "program", "gwa"})
	require.NoError(t, err)
	assert.Equal(t, "fallback", resp.Encoding["sex"])
	assert.Equal(t, []string{"F", "M"}, resp.Categories["sex"])
	assert.Len(t, resp.Points, 8)
}

func TestCompletingRecordTriggersBackgroundRecluster(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.upload(t, tenRows, intPtr(2))

	students, err := f.svc.ListStudents(ctx, viewer, models.StudentFilter{Search: "cara"})
	require.NoError(t, err)
	require.Len(t, students, 1)
	cara := students[0]
	require.Equal(t, -1, cara.Cluster)

	income := models.NumberInput("15000")
	resp, err := f.svc.UpdateStudent(ctx, viewer, cara.ID, models.UpdateStudentRequest{Income: &income})
	require.NoError(t, err)
	assert.True(t, resp.ReclusterTriggered)
	assert.Equal(t, preprocess.IncomeLow, resp.Student.IncomeCategory)

	f.queue.Stop()

	students, err = f.svc.ListStudents(ctx, viewer, models.StudentFilter{Search: "cara"})
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Contains(t, []int{0, 1}, students[0].Cluster)
	assert.Equal(t, int64(9), f.count(t, &config.StudentCluster{}))

	var run config.Cluster
	require.NoError(t, f.db.First(&run).Error)
	assert.Equal(t, 2, run.K)
}

func TestEditKeepingRecordIncompleteDoesNotTrigger(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.upload(t, tenRows, intPtr(2))

	students, err := f.svc.ListStudents(ctx, viewer, models.StudentFilter{Search: "gina"})
	require.NoError(t, err)
	require.Len(t, students, 1)

	program := "BSCS"
	resp, err := f.svc.UpdateStudent(ctx, admin, students[0].ID, models.UpdateStudentRequest{Program: &program})
	require.NoError(t, err)
	assert.False(t, resp.ReclusterTriggered)

	bad := models.NumberInput("lots")
	_, err = f.svc.UpdateStudent(ctx, admin, students[0].ID, models.UpdateStudentRequest{Income: &bad})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.UpdateStudent(ctx, admin, 9999, models.UpdateStudentRequest{Program: &program})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestElbowPreview(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	resp, err := f.svc.Elbow(ctx, admin, "students.csv", []byte(tenRows))
	require.NoError(t, err)
	assert.Len(t, resp.WCSS, 7) // k = 2..8 on 8 complete rows
	assert.GreaterOrEqual(t, resp.RecommendedK, MinK)
	assert.LessOrEqual(t, resp.RecommendedK, MaxK)
	assert.Zero(t, f.count(t, &config.Dataset{}))

	_, err = f.svc.Elbow(ctx, viewer, "students.csv", []byte(tenRows))
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))
}

func TestDatasetManagement(t *testing.T) {
	f := newFixture(t, Options{Now: func() time.Time { return time.Now() }})
	ctx := context.Background()

	var b strings.Builder
	b.WriteString("firstname,lastname,gwa\n")
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&b, "S%d,L%d,%d\n", i, i, 80+i%20)
	}
	old := f.upload(t, b.String(), nil)
	current := f.upload(t, tenRows, intPtr(2))

	list, err := f.svc.ListDatasets(ctx, admin)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, current.DatasetID, list[0].ID)
	assert.True(t, list[0].IsActive)
	assert.False(t, list[1].IsActive)

	preview, err := f.svc.PreviewDataset(ctx, admin, old.DatasetID)
	require.NoError(t, err)
	assert.Len(t, preview, datasetPreviewRows)

	name, rc, err := f.svc.DatasetSource(ctx, admin, current.DatasetID)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "students.csv", name)
	assert.Equal(t, tenRows, string(data))

	require.NoError(t, f.svc.ActivateDataset(ctx, admin, old.DatasetID))
	assert.True(t, apperr.Is(f.svc.ActivateDataset(ctx, admin, 999), apperr.KindNotFound))

	require.NoError(t, f.svc.DeleteDataset(ctx, admin, current.DatasetID))
	assert.Len(t, f.archive.objects, 1)
	assert.True(t, apperr.Is(f.svc.DeleteDataset(ctx, admin, current.DatasetID), apperr.KindNotFound))
	assert.True(t, apperr.Is(f.svc.DeleteDataset(ctx, viewer, old.DatasetID), apperr.KindAuthorization))
}

func TestKeyedMutexSerializes(t *testing.T) {
	km := newKeyedMutex()
	var mu sync.Mutex
	active, maxActive := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock(1)
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive)
	assert.Empty(t, km.locks)
}

func TestCorruptRunColumnsAreLogged(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.upload(t, tenRows, intPtr(2))
	require.NoError(t, f.db.Exec("UPDATE clusters SET centroids = ?, features = ?", "[[1,", "gwa").Error)

	core, logs := observer.New(zap.WarnLevel)
	svc := New(repository.NewRepository(f.db), &logger.Logger{SugaredLogger: zap.New(core).Sugar()}, Options{})

	view, err := svc.OfficialView(ctx, viewer)
	require.NoError(t, err)
	assert.Empty(t, view.Centroids)
	assert.Empty(t, view.Features)
	assert.Equal(t, 2, view.K)

	for _, msg := range []string{"Failed to decode cluster run centroids", "Failed to decode cluster run features"} {
		entries := logs.FilterMessage(msg).All()
		require.Len(t, entries, 1, msg)
		assert.EqualValues(t, view.RunID, entries[0].ContextMap()["run_id"])
	}
}
