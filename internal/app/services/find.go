package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/yigit/studentrecords/internal/app/models"
	"github.com/yigit/studentrecords/internal/app/repositories"
	"github.com/yigit/studentrecords/internal/pkg/apperrors"
)

// FindByID returns the managed instance of the row kind/id
func (p *PersistenceService) FindByID(ctx context.Context, s *Session, kind models.Kind, id int64) (models.Entity, error) {
	e, err := p.findByID(ctx, s, kind, id)
	p.count(err, p.metrics.Find, p.metrics.FindFail, p.metrics.FindNotFound)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (p *PersistenceService) findByID(ctx context.Context, s *Session, kind models.Kind, id int64) (models.Entity, error) {
	if err := s.ensureOpen(ctx); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, unknownKind(kind)
	}
	if id <= 0 {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("%s %d does not exist", kind, id))
	}
	switch kind {
	case models.KindStudent:
		return s.loadStudent(ctx, id)
	case models.KindCourse:
		return s.loadCourse(ctx, id)
	case models.KindExamResult:
		return s.loadExamResult(ctx, id)
	}
	return s.loadScholarship(ctx, id)
}

func unknownKind(kind models.Kind) error {
	return apperrors.NewValidationError(fmt.Sprintf("unknown entity kind %q", kind))
}

// FindStudent returns the student with id, its courses, exam results and scholarship loaded
func (p *PersistenceService) FindStudent(ctx context.Context, s *Session, id int64) (*models.Student, error) {
	e, err := p.FindByID(ctx, s, models.KindStudent, id)
	if err != nil {
		return nil, err
	}
	return e.(*models.Student), nil
}

// FindCourse returns the course with id
func (p *PersistenceService) FindCourse(ctx context.Context, s *Session, id int64) (*models.Course, error) {
	e, err := p.FindByID(ctx, s, models.KindCourse, id)
	if err != nil {
		return nil, err
	}
	return e.(*models.Course), nil
}

// FindExamResult returns the exam result with id
func (p *PersistenceService) FindExamResult(ctx context.Context, s *Session, id int64) (*models.ExamResult, error) {
	e, err := p.FindByID(ctx, s, models.KindExamResult, id)
	if err != nil {
		return nil, err
	}
	return e.(*models.ExamResult), nil
}

// FindScholarship returns the scholarship with id and its holder loaded
func (p *PersistenceService) FindScholarship(ctx context.Context, s *Session, id int64) (*models.Scholarship, error) {
	e, err := p.FindByID(ctx, s, models.KindScholarship, id)
	if err != nil {
		return nil, err
	}
	return e.(*models.Scholarship), nil
}

// FindAll returns the managed instances of every row of kind, ordered by id
func (p *PersistenceService) FindAll(ctx context.Context, s *Session, kind models.Kind) ([]models.Entity, error) {
	out, err := p.findAll(ctx, s, kind)
	p.count(err, p.metrics.Find, p.metrics.FindFail, nil)
	return out, err
}

func (p *PersistenceService) findAll(ctx context.Context, s *Session, kind models.Kind) ([]models.Entity, error) {
	if err := s.ensureOpen(ctx); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, unknownKind(kind)
	}

	var ids []int64
	switch kind {
	case models.KindStudent:
		rows, err := s.tx.ListStudents(ctx)
		if err != nil {
			return nil, storageError(err)
		}
		for _, r := range rows {
			ids = append(ids, r.ID)
		}
	case models.KindCourse:
		rows, err := s.tx.ListCourses(ctx)
		if err != nil {
			return nil, storageError(err)
		}
		for _, r := range rows {
			ids = append(ids, r.ID)
		}
	case models.KindExamResult:
		rows, err := s.tx.ListExamResults(ctx)
		if err != nil {
			return nil, storageError(err)
		}
		for _, r := range rows {
			ids = append(ids, r.ID)
		}
	case models.KindScholarship:
		rows, err := s.tx.ListScholarships(ctx)
		if err != nil {
			return nil, storageError(err)
		}
		for _, r := range rows {
			ids = append(ids, r.ID)
		}
	}

	out := make([]models.Entity, 0, len(ids))
	for _, id := range ids {
		e, err := p.findByID(ctx, s, kind, id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// AllCourses returns every course ordered by id
func (p *PersistenceService) AllCourses(ctx context.Context, s *Session) ([]*models.Course, error) {
	return findAllOf[*models.Course](ctx, p, s, models.KindCourse)
}

// AllExamResults returns every exam result ordered by id
func (p *PersistenceService) AllExamResults(ctx context.Context, s *Session) ([]*models.ExamResult, error) {
	return findAllOf[*models.ExamResult](ctx, p, s, models.KindExamResult)
}

// AllScholarships returns every scholarship ordered by id
func (p *PersistenceService) AllScholarships(ctx context.Context, s *Session) ([]*models.Scholarship, error) {
	return findAllOf[*models.Scholarship](ctx, p, s, models.KindScholarship)
}

func findAllOf[T models.Entity](ctx context.Context, p *PersistenceService, s *Session, kind models.Kind) ([]T, error) {
	all, err := p.FindAll(ctx, s, kind)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(all))
	for _, e := range all {
		out = append(out, e.(T))
	}
	return out, nil
}

// --- loading ---

// loadStudent returns the managed student id, reading and hydrating it on
// first access. The student is registered before its associations are
// loaded, which ends the student/scholarship cycle.
func (s *Session) loadStudent(ctx context.Context, id int64) (*models.Student, error) {
	if e, ok := s.lookup(models.KindStudent, id); ok {
		return e.(*models.Student), nil
	}
	st, err := s.tx.GetStudent(ctx, id)
	if err != nil {
		return nil, storageError(err)
	}
	s.register(st)
	if err := s.hydrateStudent(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Session) hydrateStudent(ctx context.Context, st *models.Student) error {
	courseIDs, err := s.tx.ListCourseIDs(ctx, st.ID)
	if err != nil {
		return storageError(err)
	}
	st.Courses = make([]*models.Course, 0, len(courseIDs))
	for _, cid := range courseIDs {
		c, err := s.loadCourse(ctx, cid)
		if err != nil {
			return err
		}
		st.Courses = append(st.Courses, c)
	}

	rows, err := s.tx.ListExamResultsByStudent(ctx, st.ID, repositories.MarkFilter{})
	if err != nil {
		return storageError(err)
	}
	st.ExamResults = s.adoptExamResults(rows)

	sc, err := s.tx.GetScholarshipByStudent(ctx, st.ID)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		st.Scholarship = nil
	case err != nil:
		return storageError(err)
	default:
		managed := s.adoptScholarship(sc)
		managed.GrantedTo = st
		st.Scholarship = managed
	}
	return nil
}

func (s *Session) loadCourse(ctx context.Context, id int64) (*models.Course, error) {
	if e, ok := s.lookup(models.KindCourse, id); ok {
		return e.(*models.Course), nil
	}
	c, err := s.tx.GetCourse(ctx, id)
	if err != nil {
		return nil, storageError(err)
	}
	s.register(c)
	return c, nil
}

func (s *Session) loadExamResult(ctx context.Context, id int64) (*models.ExamResult, error) {
	if e, ok := s.lookup(models.KindExamResult, id); ok {
		return e.(*models.ExamResult), nil
	}
	r, err := s.tx.GetExamResult(ctx, id)
	if err != nil {
		return nil, storageError(err)
	}
	s.register(r)
	return r, nil
}

func (s *Session) loadScholarship(ctx context.Context, id int64) (*models.Scholarship, error) {
	if e, ok := s.lookup(models.KindScholarship, id); ok {
		return e.(*models.Scholarship), nil
	}
	sc, err := s.tx.GetScholarship(ctx, id)
	if err != nil {
		return nil, storageError(err)
	}
	s.register(sc)
	if sc.StudentID != nil {
		// hydrating the holder links both sides
		if _, err := s.loadStudent(ctx, *sc.StudentID); err != nil {
			return nil, err
		}
	}
	return sc, nil
}

// adoptExamResults swaps rows for their managed instances, registering the
// ones seen for the first time
func (s *Session) adoptExamResults(rows []*models.ExamResult) []*models.ExamResult {
	out := make([]*models.ExamResult, 0, len(rows))
	for _, r := range rows {
		if e, ok := s.lookup(models.KindExamResult, r.ID); ok {
			out = append(out, e.(*models.ExamResult))
			continue
		}
		s.register(r)
		out = append(out, r)
	}
	return out
}

func (s *Session) adoptScholarship(row *models.Scholarship) *models.Scholarship {
	if e, ok := s.lookup(models.KindScholarship, row.ID); ok {
		return e.(*models.Scholarship)
	}
	s.register(row)
	return row
}
