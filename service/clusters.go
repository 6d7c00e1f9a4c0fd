package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/freshgroup/dashboard/backend/apperr"
	"github.com/freshgroup/dashboard/backend/auth"
	"github.com/freshgroup/dashboard/backend/models"
	"github.com/freshgroup/dashboard/backend/preprocess"
	"github.com/freshgroup/dashboard/backend/repository"
	"github.com/freshgroup/dashboard/backend/worker"
)

// Preview clusters the latest dataset on the given features without writing anything.
func (s *Service) Preview(ctx context.Context, p auth.Principal, k int, featureList []string) (*models.PreviewResponse, error) {
	if err := requireViewer(p); err != nil {
		return nil, err
	}
	if err := validateK(k); err != nil {
		return nil, err
	}
	features, err := parseFeatures(featureList, PlaygroundFeatures)
	if err != nil {
		return nil, err
	}
	return s.preview(ctx, k, features)
}

// Playground previews the latest dataset on (gwa, income).
func (s *Service) Playground(ctx context.Context, p auth.Principal, k int) (*models.PreviewResponse, error) {
	return s.Preview(ctx, p, k, featureNames(PlaygroundFeatures))
}

// Pairwise previews the latest dataset on exactly two distinct features.
func (s *Service) Pairwise(ctx context.Context, p auth.Principal, x, y string, k int) (*models.PreviewResponse, error) {
	if strings.TrimSpace(x) == "" || strings.TrimSpace(y) == "" {
		return nil, apperr.Validation("invalid_parameter", "Both x and y features are required")
	}
	if strings.Contains(x, ",") || strings.Contains(y, ",") {
		return nil, apperr.Validation("invalid_parameter", "x and y must each name a single feature")
	}
	return s.Preview(ctx, p, k, []string{x, y})
}

func (s *Service) preview(ctx context.Context, k int, features []preprocess.Field) (*models.PreviewResponse, error) {
	ds, err := s.latestDataset(ctx)
	if err != nil {
		return nil, err
	}
	students, err := s.store.ListStudents(ctx, ds.ID, models.StudentFilter{}, 0)
	if err != nil {
		return nil, apperr.Infrastructure(err, "Database operation failed")
	}
	m := s.buildMatrix(studentRecords(students), features)
	if err := checkClusterable(m, k); err != nil {
		return nil, err
	}
	res, err := s.engine.Cluster(m.X, k)
	if err != nil {
		return nil, err
	}

	out := &models.PreviewResponse{
		DatasetID:     ds.ID,
		K:             k,
		Features:      featureNames(features),
		Centroids:     res.Centroids,
		Quality:       quality(res.Quality),
		TotalStudents: len(students),
		Clustered:     len(m.rows),
		Points:        make([]models.Point, len(m.rows)),
	}
	if len(m.encoded) > 0 {
		out.Categories = make(map[string][]string, len(m.encoded))
		out.Encoding = make(map[string]string, len(m.encoded))
		for f, col := range m.encoded {
			out.Categories[string(f)] = col.Labels
			out.Encoding[string(f)] = col.Source.String()
		}
	}
	for i, r := range m.rows {
		st := students[r.Index]
		values := make(map[string]float64, len(features))
		for j, f := range features {
			values[string(f)] = m.X[i][j]
		}
		out.Points[i] = models.Point{
			StudentID:      st.ID,
			Firstname:      preprocess.Text(st.Firstname),
			Lastname:       preprocess.Text(st.Lastname),
			Values:         values,
			Honors:         st.Honors,
			IncomeCategory: st.IncomeCategory,
			Cluster:        res.Labels[i],
		}
	}
	return out, nil
}

// Recluster reclusters the latest dataset. Admins replace the persisted run;
// Viewers get the same computation as a preview.
func (s *Service) Recluster(ctx context.Context, p auth.Principal, req models.ReclusterRequest) (*models.ReclusterResponse, error) {
	if !p.CanView() {
		return nil, apperr.Forbidden("Role %q may not recluster", p.Role)
	}
	if req.K != 0 {
		if err := validateK(req.K); err != nil {
			return nil, err
		}
	}
	features, err := parseFeatures(req.Features, OfficialFeatures)
	if err != nil {
		return nil, err
	}
	ds, err := s.latestDataset(ctx)
	if err != nil {
		return nil, err
	}
	k := req.K
	if k == 0 {
		if k, _, err = s.runDefaults(ctx, ds.ID); err != nil {
			return nil, err
		}
	}

	if !p.IsAdmin() {
		preview, err := s.preview(ctx, k, features)
		if err != nil {
			return nil, err
		}
		return &models.ReclusterResponse{
			Message:   "Preview computed; only Admins can save clusters",
			DatasetID: preview.DatasetID,
			K:         k,
			Features:  preview.Features,
			Centroids: preview.Centroids,
			Quality:   preview.Quality,
			Assigned:  preview.Clustered,
			Preview:   preview,
		}, nil
	}

	out, err := s.reclusterDataset(ctx, ds.ID, k, features)
	if err != nil {
		return nil, err
	}
	s.logActivity(ctx, p.ID, "Recluster", fmt.Sprintf("Reclustered dataset %d with k=%d on %s", ds.ID, k, strings.Join(out.Features, ", ")))
	return out, nil
}

// reclusterDataset computes and atomically stores a new run for datasetID.
func (s *Service) reclusterDataset(ctx context.Context, datasetID uint, k int, features []preprocess.Field) (*models.ReclusterResponse, error) {
	unlock := s.locks.Lock(datasetID)
	defer unlock()

	students, err := s.store.ListStudents(ctx, datasetID, models.StudentFilter{}, 0)
	if err != nil {
		return nil, apperr.Infrastructure(err, "Database operation failed")
	}
	m := s.buildMatrix(studentRecords(students), features)
	if err := checkClusterable(m, k); err != nil {
		return nil, err
	}
	res, err := s.engine.Cluster(m.X, k)
	if err != nil {
		return nil, err
	}

	run := newRun(k, features, res)
	assignments := make([]repository.Assignment, len(m.rows))
	for i, r := range m.rows {
		assignments[i] = repository.Assignment{StudentID: r.StudentID, ClusterNumber: res.Labels[i]}
	}
	if err := s.store.ReplaceClusterRun(ctx, datasetID, run, assignments); err != nil {
		return nil, apperr.Infrastructure(err, "Failed to save clusters")
	}
	s.log.Info("Cluster run replaced", "dataset_id", datasetID, "run_id", run.ID, "k", k, "assigned", len(assignments))

	return &models.ReclusterResponse{
		Message:   "Reclustering completed",
		Official:  true,
		DatasetID: datasetID,
		RunID:     run.ID,
		K:         k,
		Features:  featureNames(features),
		Centroids: res.Centroids,
		Quality:   quality(res.Quality),
		Assigned:  len(assignments),
	}, nil
}

// runDefaults returns the k and features of the dataset's latest run, or
// DefaultK and PlaygroundFeatures when there is none.
func (s *Service) runDefaults(ctx context.Context, datasetID uint) (int, []preprocess.Field, error) {
	run, err := s.store.LatestClusterRun(ctx, datasetID)
	if repository.IsNotFound(err) {
		return DefaultK, PlaygroundFeatures, nil
	}
	if err != nil {
		return 0, nil, apperr.Infrastructure(err, "Database operation failed")
	}
	k := run.K
	if k < MinK {
		k = DefaultK
	}
	_, names := s.decodeRun(run)
	features, err := parseFeatures(names, PlaygroundFeatures)
	if err != nil {
		features = PlaygroundFeatures
	}
	return k, features, nil
}

// scheduleRecluster queues an official recluster of datasetID run as the system principal.
func (s *Service) scheduleRecluster(datasetID uint) bool {
	if s.jobs == nil {
		s.log.Warn("No background queue configured, skipping recluster", "dataset_id", datasetID)
		return false
	}
	return s.jobs.Submit(worker.Job{
		Name:      "recluster",
		DatasetID: datasetID,
		Run: func(ctx context.Context) error {
			k, features, err := s.runDefaults(ctx, datasetID)
			if err != nil {
				return err
			}
			out, err := s.reclusterDataset(ctx, datasetID, k, features)
			if err != nil {
				return err
			}
			s.logActivity(ctx, auth.System().ID, "Auto Recluster",
				fmt.Sprintf("Reclustered dataset %d with k=%d after a record became complete (%d assigned)", datasetID, k, out.Assigned))
			return nil
		},
	})
}

// OfficialView returns the persisted clustering of the latest dataset, or an
// empty view when there is no dataset or run.
func (s *Service) OfficialView(ctx context.Context, p auth.Principal) (*models.ClusterView, error) {
	if err := requireViewer(p); err != nil {
		return nil, err
	}
	empty := &models.ClusterView{Centroids: [][]float64{}, Features: []string{}, Clusters: []models.ClusterGroup{}}

	ds, err := s.store.LatestDataset(ctx)
	if repository.IsNotFound(err) {
		return empty, nil
	}
	if err != nil {
		return nil, apperr.Infrastructure(err, "Database operation failed")
	}
	empty.DatasetID = ds.ID

	run, err := s.store.LatestClusterRun(ctx, ds.ID)
	if repository.IsNotFound(err) {
		return empty, nil
	}
	if err != nil {
		return nil, apperr.Infrastructure(err, "Database operation failed")
	}

	students, err := s.store.ListStudents(ctx, ds.ID, models.StudentFilter{}, 0)
	if err != nil {
		return nil, apperr.Infrastructure(err, "Database operation failed")
	}
	numbers, err := s.store.ClusterNumbers(ctx, run.ID)
	if err != nil {
		return nil, apperr.Infrastructure(err, "Database operation failed")
	}

	centroids, features := s.decodeRun(run)
	created := run.CreatedAt
	view := &models.ClusterView{
		DatasetID: ds.ID,
		RunID:     run.ID,
		K:         run.K,
		Features:  features,
		Centroids: centroids,
		Quality: models.QualityMetrics{
			Silhouette:       run.Silhouette,
			DaviesBouldin:    run.DaviesBouldin,
			CalinskiHarabasz: run.CalinskiHarabasz,
			Computed:         run.QualityComputed,
		},
		CreatedAt: &created,
	}

	groups := make(map[int]*models.ClusterGroup)
	for _, st := range students {
		c, ok := numbers[st.ID]
		if !ok {
			continue
		}
		g, ok := groups[c]
		if !ok {
			g = &models.ClusterGroup{Cluster: c, Points: []models.PlotPoint{}}
			if c >= 0 && c < len(centroids) {
				g.Centroid = centroids[c]
			}
			groups[c] = g
		}
		g.Points = append(g.Points, models.PlotPoint{
			StudentID: st.ID,
			Name:      strings.TrimSpace(preprocess.Text(st.Firstname) + " " + preprocess.Text(st.Lastname)),
			X:         st.GWA,
			Y:         st.Income,
			Program:   st.Program,
		})
		g.Count++
	}
	view.Clusters = make([]models.ClusterGroup, 0, len(groups))
	for _, g := range groups {
		view.Clusters = append(view.Clusters, *g)
	}
	sort.Slice(view.Clusters, func(i, j int) bool { return view.Clusters[i].Cluster < view.Clusters[j].Cluster })
	return view, nil
}
