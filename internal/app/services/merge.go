package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/yigit/studentrecords/internal/app/models"
	"github.com/yigit/studentrecords/internal/app/repositories"
	"github.com/yigit/studentrecords/internal/pkg/apperrors"
	"github.com/yigit/studentrecords/internal/pkg/helpers"
)

// mergeCopies maps each source instance of one merge call to its managed
// copy, so an instance reachable twice is merged once.
type mergeCopies map[models.Entity]models.Entity

// Merge copies the state of e onto its managed instance, inserting it when
// e is transient, and returns the managed instance. e itself is not
// modified. Associations are merged as the cascade policies say and
// associations no longer referenced by e are handled as orphans.
func (p *PersistenceService) Merge(ctx context.Context, s *Session, e models.Entity) (models.Entity, error) {
	out, err := p.merge(ctx, s, e, mergeCopies{})
	p.count(err, p.metrics.Merge, p.metrics.MergeFail, nil)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MergeStudent is Merge for students
func (p *PersistenceService) MergeStudent(ctx context.Context, s *Session, st *models.Student) (*models.Student, error) {
	out, err := p.Merge(ctx, s, st)
	if err != nil {
		return nil, err
	}
	return out.(*models.Student), nil
}

// MergeCourse is Merge for courses
func (p *PersistenceService) MergeCourse(ctx context.Context, s *Session, c *models.Course) (*models.Course, error) {
	out, err := p.Merge(ctx, s, c)
	if err != nil {
		return nil, err
	}
	return out.(*models.Course), nil
}

// MergeExamResult is Merge for exam results. The result is added to the
// managed instance of its student.
func (p *PersistenceService) MergeExamResult(ctx context.Context, s *Session, r *models.ExamResult) (*models.ExamResult, error) {
	out, err := p.Merge(ctx, s, r)
	if err != nil {
		return nil, err
	}
	return out.(*models.ExamResult), nil
}

// MergeScholarship is Merge for scholarships. The link follows GrantedTo, or
// the StudentID column when GrantedTo is nil; a scholarship with neither is
// revoked from its current holder.
func (p *PersistenceService) MergeScholarship(ctx context.Context, s *Session, sc *models.Scholarship) (*models.Scholarship, error) {
	out, err := p.Merge(ctx, s, sc)
	if err != nil {
		return nil, err
	}
	return out.(*models.Scholarship), nil
}

func (p *PersistenceService) merge(ctx context.Context, s *Session, e models.Entity, copies mergeCopies) (models.Entity, error) {
	if err := s.ensureOpen(ctx); err != nil {
		return nil, err
	}
	switch v := e.(type) {
	case *models.Student:
		if v != nil {
			return p.mergeStudent(ctx, s, v, copies)
		}
	case *models.Course:
		if v != nil {
			return s.mergeCourse(ctx, v, copies)
		}
	case *models.ExamResult:
		if v != nil {
			return s.mergeOwnedExamResult(ctx, v, copies)
		}
	case *models.Scholarship:
		if v != nil {
			return s.mergeGrantedScholarship(ctx, v, copies)
		}
	default:
		if e != nil {
			return nil, apperrors.NewValidationError(fmt.Sprintf("unsupported entity %T", e))
		}
	}
	return nil, apperrors.NewValidationError("cannot merge a nil entity")
}

// mergeTarget returns the managed instance a merge of id writes to. It is
// nil when id is zero or has no stored row; merge then inserts a new row.
func mergeTarget[T models.Entity](ctx context.Context, id int64, load func(context.Context, int64) (T, error)) (T, error) {
	var none T
	if id == 0 {
		return none, nil
	}
	m, err := load(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return none, nil
	}
	return m, err
}

func (p *PersistenceService) mergeStudent(ctx context.Context, s *Session, src *models.Student, copies mergeCopies) (*models.Student, error) {
	if done, ok := copies[src]; ok {
		return done.(*models.Student), nil
	}
	if err := validateStudent(src); err != nil {
		return nil, err
	}

	// read the associations first: src may be the managed instance itself
	courses := append([]*models.Course(nil), src.Courses...)
	results := append([]*models.ExamResult(nil), src.ExamResults...)
	scholarship := src.Scholarship

	m, err := mergeTarget(ctx, src.ID, s.loadStudent)
	if err != nil {
		return nil, err
	}
	if m == nil {
		if err := p.checkRegistrationNumber(ctx, s, src.RegistrationNumber, 0); err != nil {
			return nil, err
		}
		m = &models.Student{
			RegistrationNumber: src.RegistrationNumber,
			Name:               src.Name,
			LoginTime:          helpers.CopyTime(src.LoginTime),
		}
		if err := s.tx.CreateStudent(ctx, m); err != nil {
			return nil, storageError(err)
		}
		s.register(m)
	} else {
		// src may be m itself, so the number is checked against storage
		if err := p.checkRegistrationNumber(ctx, s, src.RegistrationNumber, m.ID); err != nil {
			return nil, err
		}
		if m != src {
			m.RegistrationNumber = src.RegistrationNumber
			m.Name = src.Name
			m.LoginTime = helpers.CopyTime(src.LoginTime)
		}
		if err := s.tx.UpdateStudent(ctx, m); err != nil {
			return nil, storageError(err)
		}
	}
	copies[src] = m
	s.logger.Debug().Int64("student", m.ID).Msg("Student merged")

	if err := p.mergeStudentCourses(ctx, s, m, courses, copies); err != nil {
		return nil, err
	}
	if err := p.mergeStudentExamResults(ctx, s, m, results, copies); err != nil {
		return nil, err
	}
	if err := p.mergeStudentScholarship(ctx, s, m, scholarship, copies); err != nil {
		return nil, err
	}
	return m, nil
}

func (p *PersistenceService) mergeStudentCourses(ctx context.Context, s *Session, m *models.Student, courses []*models.Course, copies mergeCopies) error {
	policy := p.policies.For(StudentCourses)
	want := make([]*models.Course, 0, len(courses))
	for _, c := range courses {
		if c == nil {
			continue
		}
		var (
			mc  *models.Course
			err error
		)
		if policy.Merge {
			mc, err = s.mergeCourse(ctx, c, copies)
		} else if err = requireSaved(c, StudentCourses); err == nil {
			mc, err = s.loadCourse(ctx, c.ID)
		}
		if err != nil {
			return err
		}
		want = append(want, mc)
	}

	linked, err := s.syncEnrollments(ctx, m, want, policy.Orphans)
	if err != nil {
		return err
	}
	m.Courses = linked
	return nil
}

func (p *PersistenceService) mergeStudentExamResults(ctx context.Context, s *Session, m *models.Student, results []*models.ExamResult, copies mergeCopies) error {
	policy := p.policies.For(StudentExamResults)
	want := make([]*models.ExamResult, 0, len(results))
	kept := map[int64]bool{}
	for _, r := range results {
		if r == nil {
			continue
		}
		var (
			mr  *models.ExamResult
			err error
		)
		if policy.Merge {
			mr, err = s.mergeExamResult(ctx, r, m, copies)
		} else if err = requireSaved(r, StudentExamResults); err == nil {
			if mr, err = s.loadExamResult(ctx, r.ID); err == nil {
				err = s.moveExamResult(ctx, mr, m)
			}
		}
		if err != nil {
			return err
		}
		if kept[mr.ID] {
			continue
		}
		kept[mr.ID] = true
		want = append(want, mr)
	}

	stored, err := s.tx.ListExamResultsByStudent(ctx, m.ID, repositories.MarkFilter{})
	if err != nil {
		return storageError(err)
	}
	for _, row := range stored {
		if kept[row.ID] {
			continue
		}
		if policy.Orphans == OrphanDelete {
			if err := s.deleteExamResult(ctx, row.ID); err != nil {
				return err
			}
			s.logger.Debug().Int64("examResult", row.ID).Int64("student", m.ID).Msg("Orphaned exam result deleted")
			continue
		}
		want = append(want, s.adoptExamResults([]*models.ExamResult{row})...)
	}
	m.ExamResults = want
	return nil
}

func (p *PersistenceService) mergeStudentScholarship(ctx context.Context, s *Session, m *models.Student, sc *models.Scholarship, copies mergeCopies) error {
	policy := p.policies.For(StudentScholarship)

	cur, err := s.tx.GetScholarshipByStudent(ctx, m.ID)
	if errors.Is(err, repositories.ErrNotFound) {
		cur, err = nil, nil
	}
	if err != nil {
		return storageError(err)
	}

	if sc == nil {
		if cur == nil {
			m.Scholarship = nil
			return nil
		}
		switch policy.Orphans {
		case OrphanKeep:
			managed := s.adoptScholarship(cur)
			managed.GrantedTo = m
			m.Scholarship = managed
			return nil
		case OrphanDelete:
			if err := s.revoke(ctx, m); err != nil {
				return err
			}
			return s.deleteScholarship(ctx, cur.ID)
		default:
			return s.revoke(ctx, m)
		}
	}

	var msc *models.Scholarship
	if policy.Merge {
		msc, err = s.mergeScholarshipFields(ctx, sc, copies)
	} else if err = requireSaved(sc, StudentScholarship); err == nil {
		msc, err = s.loadScholarship(ctx, sc.ID)
	}
	if err != nil {
		return err
	}

	// the scholarship being replaced is an orphan; grant unlinks it anyway
	if cur != nil && cur.ID != msc.ID && policy.Orphans == OrphanDelete {
		if err := s.revoke(ctx, m); err != nil {
			return err
		}
		if err := s.deleteScholarship(ctx, cur.ID); err != nil {
			return err
		}
	}
	return s.grant(ctx, m, msc)
}

func (s *Session) mergeCourse(ctx context.Context, src *models.Course, copies mergeCopies) (*models.Course, error) {
	if done, ok := copies[src]; ok {
		return done.(*models.Course), nil
	}
	if err := validateCourse(src); err != nil {
		return nil, err
	}

	m, err := mergeTarget(ctx, src.ID, s.loadCourse)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = &models.Course{CourseNumber: src.CourseNumber, Title: src.Title}
		if err := s.tx.CreateCourse(ctx, m); err != nil {
			return nil, storageError(err)
		}
		s.register(m)
	} else {
		if m != src {
			m.CourseNumber = src.CourseNumber
			m.Title = src.Title
		}
		if err := s.tx.UpdateCourse(ctx, m); err != nil {
			return nil, storageError(err)
		}
	}
	copies[src] = m
	return m, nil
}

// mergeOwnedExamResult merges an exam result on its own: the owner named by
// StudentID must exist and gets the managed result in its list.
func (s *Session) mergeOwnedExamResult(ctx context.Context, src *models.ExamResult, copies mergeCopies) (*models.ExamResult, error) {
	if err := validateExamResult(src); err != nil {
		return nil, err
	}
	owner, err := s.loadStudent(ctx, src.StudentID)
	if err != nil {
		return nil, err
	}
	mr, err := s.mergeExamResult(ctx, src, owner, copies)
	if err != nil {
		return nil, err
	}
	owner.AddExamResult(mr)
	return mr, nil
}

func (s *Session) mergeExamResult(ctx context.Context, src *models.ExamResult, owner *models.Student, copies mergeCopies) (*models.ExamResult, error) {
	if done, ok := copies[src]; ok {
		mr := done.(*models.ExamResult)
		return mr, s.moveExamResult(ctx, mr, owner)
	}

	m, err := mergeTarget(ctx, src.ID, s.loadExamResult)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = &models.ExamResult{StudentID: owner.ID, Exam: src.Exam, Mark: src.Mark}
		if err := s.tx.CreateExamResult(ctx, m); err != nil {
			return nil, storageError(err)
		}
		s.register(m)
	} else {
		if m != src {
			m.Exam = src.Exam
			m.Mark = src.Mark
		}
		if err := s.moveExamResult(ctx, m, owner); err != nil {
			return nil, err
		}
	}
	copies[src] = m
	return m, nil
}

// moveExamResult stores mr with owner as its student and takes it out of the
// managed previous owner's list
func (s *Session) moveExamResult(ctx context.Context, mr *models.ExamResult, owner *models.Student) error {
	prev := mr.StudentID
	mr.StudentID = owner.ID
	if err := s.tx.UpdateExamResult(ctx, mr); err != nil {
		return storageError(err)
	}
	if prev != owner.ID {
		if e, ok := s.lookup(models.KindStudent, prev); ok {
			e.(*models.Student).RemoveExamResult(mr)
		}
	}
	return nil
}

// mergeScholarshipFields merges amount and description only; the link is
// left to the caller
func (s *Session) mergeScholarshipFields(ctx context.Context, src *models.Scholarship, copies mergeCopies) (*models.Scholarship, error) {
	if done, ok := copies[src]; ok {
		return done.(*models.Scholarship), nil
	}
	if err := validateScholarship(src); err != nil {
		return nil, err
	}

	m, err := mergeTarget(ctx, src.ID, s.loadScholarship)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = &models.Scholarship{Amount: src.Amount, Description: src.Description}
		if err := s.tx.CreateScholarship(ctx, m); err != nil {
			return nil, storageError(err)
		}
		s.register(m)
	} else {
		if m != src {
			m.Amount = src.Amount
			m.Description = src.Description
		}
		stored, err := s.tx.GetScholarship(ctx, m.ID)
		if err != nil {
			return nil, storageError(err)
		}
		stored.Amount = m.Amount
		stored.Description = m.Description
		if err := s.tx.UpdateScholarship(ctx, stored); err != nil {
			return nil, storageError(err)
		}
	}
	copies[src] = m
	return m, nil
}

// mergeGrantedScholarship merges a scholarship on its own, including its link
func (s *Session) mergeGrantedScholarship(ctx context.Context, src *models.Scholarship, copies mergeCopies) (*models.Scholarship, error) {
	// resolve the holder before the fields merge can touch src
	holder, err := s.holderOf(ctx, src)
	if err != nil {
		return nil, err
	}
	m, err := s.mergeScholarshipFields(ctx, src, copies)
	if err != nil {
		return nil, err
	}
	if holder != nil {
		return m, s.grant(ctx, holder, m)
	}
	return m, s.unlinkScholarship(ctx, m)
}

// unlinkScholarship clears the stored link of sc and the holder's reference
func (s *Session) unlinkScholarship(ctx context.Context, sc *models.Scholarship) error {
	stored, err := s.tx.GetScholarship(ctx, sc.ID)
	if err != nil {
		return storageError(err)
	}
	if stored.StudentID != nil {
		if e, ok := s.lookup(models.KindStudent, *stored.StudentID); ok {
			holder := e.(*models.Student)
			if holder.Scholarship != nil && holder.Scholarship.ID == sc.ID {
				holder.Scholarship = nil
			}
		}
		stored.StudentID = nil
		if err := s.tx.UpdateScholarship(ctx, stored); err != nil {
			return storageError(err)
		}
	}
	sc.StudentID = nil
	sc.GrantedTo = nil
	return nil
}
