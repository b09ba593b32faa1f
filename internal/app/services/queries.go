package services

import (
	"context"
	"fmt"

	"github.com/yigit/studentrecords/internal/app/models"
	"github.com/yigit/studentrecords/internal/app/repositories"
	"github.com/yigit/studentrecords/internal/pkg/apperrors"
)

// FindByRegistrationNumber returns the only student with this registration
// number. Zero matches and, when uniqueness is not enforced, several
// matches both fail with apperrors.ErrNotFound.
func (p *PersistenceService) FindByRegistrationNumber(ctx context.Context, s *Session, number string) (*models.Student, error) {
	st, err := p.findByRegistrationNumber(ctx, s, number)
	p.count(err, p.metrics.Query, p.metrics.QueryFail, p.metrics.QueryNotFound)
	return st, err
}

func (p *PersistenceService) findByRegistrationNumber(ctx context.Context, s *Session, number string) (*models.Student, error) {
	if err := s.ensureOpen(ctx); err != nil {
		return nil, err
	}
	rows, err := s.tx.FindStudentsByRegistrationNumber(ctx, number)
	if err != nil {
		return nil, storageError(err)
	}
	switch len(rows) {
	case 0:
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("no student with registration number %q", number))
	case 1:
		return s.loadStudent(ctx, rows[0].ID)
	}
	return nil, apperrors.NewNotFoundError(fmt.Sprintf("registration number %q is ambiguous", number)).
		WithDetails(map[string]interface{}{"matches": len(rows)})
}

// FindByNameLike returns the students whose name matches a case-sensitive
// SQL LIKE pattern, ordered by id. No match is an empty result, not an error.
func (p *PersistenceService) FindByNameLike(ctx context.Context, s *Session, pattern string) ([]*models.Student, error) {
	out, err := p.studentsFrom(ctx, s, func() ([]*models.Student, error) {
		return s.tx.FindStudentsByNameLike(ctx, pattern)
	})
	p.count(err, p.metrics.Query, p.metrics.QueryFail, nil)
	return out, err
}

// AllStudents returns every student ordered by id
func (p *PersistenceService) AllStudents(ctx context.Context, s *Session) ([]*models.Student, error) {
	out, err := p.studentsFrom(ctx, s, func() ([]*models.Student, error) {
		return s.tx.ListStudents(ctx)
	})
	p.count(err, p.metrics.Query, p.metrics.QueryFail, nil)
	return out, err
}

func (p *PersistenceService) studentsFrom(ctx context.Context, s *Session, query func() ([]*models.Student, error)) ([]*models.Student, error) {
	if err := s.ensureOpen(ctx); err != nil {
		return nil, err
	}
	rows, err := query()
	if err != nil {
		return nil, storageError(err)
	}
	out := make([]*models.Student, 0, len(rows))
	for _, row := range rows {
		st, err := s.loadStudent(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// PositiveExamResults returns the exam results of st with a mark below 5
func (p *PersistenceService) PositiveExamResults(ctx context.Context, s *Session, st *models.Student) ([]*models.ExamResult, error) {
	out, err := p.examResultsOf(ctx, s, st, repositories.MarkFilter{Op: repositories.MarkBelow, Value: models.NegativeMark})
	p.count(err, p.metrics.Query, p.metrics.QueryFail, p.metrics.QueryNotFound)
	return out, err
}

// NegativeExamResults returns the exam results of st with mark 5
func (p *PersistenceService) NegativeExamResults(ctx context.Context, s *Session, st *models.Student) ([]*models.ExamResult, error) {
	out, err := p.examResultsOf(ctx, s, st, repositories.MarkFilter{Op: repositories.MarkEqual, Value: models.NegativeMark})
	p.count(err, p.metrics.Query, p.metrics.QueryFail, p.metrics.QueryNotFound)
	return out, err
}

func (p *PersistenceService) examResultsOf(ctx context.Context, s *Session, st *models.Student, filter repositories.MarkFilter) ([]*models.ExamResult, error) {
	if err := s.ensureOpen(ctx); err != nil {
		return nil, err
	}
	if st == nil || st.ID == 0 {
		return nil, apperrors.NewNotFoundError("exam results of an unsaved student")
	}
	rows, err := s.tx.ListExamResultsByStudent(ctx, st.ID, filter)
	if err != nil {
		return nil, storageError(err)
	}
	return s.adoptExamResults(rows), nil
}
