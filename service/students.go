package service

import (
	"context"
	"fmt"

	"github.com/freshgroup/dashboard/backend/apperr"
	"github.com/freshgroup/dashboard/backend/auth"
	"github.com/freshgroup/dashboard/backend/config"
	"github.com/freshgroup/dashboard/backend/models"
	"github.com/freshgroup/dashboard/backend/preprocess"
	"github.com/freshgroup/dashboard/backend/repository"
)

// ListStudents lists the latest dataset's students. No dataset yields an empty list.
func (s *Service) ListStudents(ctx context.Context, p auth.Principal, filter models.StudentFilter) ([]models.Student, error) {
	if err := requireViewer(p); err != nil {
		return nil, err
	}
	ds, err := s.store.LatestDataset(ctx)
	if repository.IsNotFound(err) {
		return []models.Student{}, nil
	}
	if err != nil {
		return nil, apperr.Infrastructure(err, "Database operation failed")
	}
	return s.studentsWithClusters(ctx, ds.ID, filter, 0)
}

// UpdateStudent applies a partial edit and recomputes the derived labels.
// When the edit makes the record complete, an official recluster of its
// dataset is queued; the edit never waits for or depends on it.
func (s *Service) UpdateStudent(ctx context.Context, p auth.Principal, id uint, req models.UpdateStudentRequest) (*models.UpdateStudentResponse, error) {
	if err := requireViewer(p); err != nil {
		return nil, err
	}
	income, err := parseNumericEdit("income", (*string)(req.Income))
	if err != nil {
		return nil, err
	}
	gwa, err := parseNumericEdit("gwa", (*string)(req.GWA))
	if err != nil {
		return nil, err
	}

	st, err := s.store.GetStudent(ctx, id)
	if err != nil {
		return nil, storeErr(err, "student_not_found", "Student")
	}
	wasComplete := preprocess.IsComplete(studentRecord(0, *st))

	applyText(&st.Firstname, req.Firstname)
	applyText(&st.Lastname, req.Lastname)
	applyText(&st.Sex, req.Sex)
	applyText(&st.Program, req.Program)
	applyText(&st.Municipality, req.Municipality)
	applyText(&st.SHSType, req.SHSType)
	applyText(&st.SHSOrigin, req.SHSOrigin)
	if req.Income != nil {
		st.Income = income
	}
	if req.GWA != nil {
		st.GWA = gwa
	}
	rec := studentRecord(0, *st)
	st.Honors = preprocess.ClassifyHonors(rec)
	st.IncomeCategory = preprocess.ClassifyIncome(rec.Income)

	if err := s.store.UpdateStudent(ctx, st); err != nil {
		return nil, apperr.Infrastructure(err, "Failed to update student")
	}

	out := &models.UpdateStudentResponse{Message: "Student updated successfully"}
	if !wasComplete && preprocess.IsComplete(rec) {
		out.ReclusterTriggered = s.scheduleRecluster(st.DatasetID)
		if out.ReclusterTriggered {
			out.Message = "Student updated; reclustering triggered"
		}
	}
	out.Student = repository.ToStudent(*st, s.currentCluster(ctx, st))
	s.logActivity(ctx, p.ID, "Edit Student", fmt.Sprintf("%s edited student %d", p.Role, st.ID))
	return out, nil
}

// currentCluster looks up the student's cluster in the latest run, -1 when unassigned or unknown.
func (s *Service) currentCluster(ctx context.Context, st *config.Student) int {
	run, err := s.store.LatestClusterRun(ctx, st.DatasetID)
	if err != nil {
		return -1
	}
	numbers, err := s.store.ClusterNumbers(ctx, run.ID)
	if err != nil {
		return -1
	}
	if c, ok := numbers[st.ID]; ok {
		return c
	}
	return -1
}

func applyText(dst **string, v *string) {
	if v != nil {
		*dst = textOrNil(v)
	}
}

// parseNumericEdit validates an edited number. A missing-value spelling clears the field.
func parseNumericEdit(field string, v *string) (*float64, error) {
	if v == nil || preprocess.IsMissing(v) {
		return nil, nil
	}
	f, ok := preprocess.ParseNumber(v)
	if !ok {
		return nil, apperr.Validation("invalid_number", "%s must be a number, got %q", field, *v)
	}
	return &f, nil
}
