package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/yigit/studentrecords/internal/app/models"
	"github.com/yigit/studentrecords/internal/app/repositories"
	"github.com/yigit/studentrecords/internal/pkg/apperrors"
)

// Remove deletes a managed entity. e must be the instance managed by s,
// otherwise it fails with apperrors.ErrNotFound. Removing a student applies
// the remove column of the cascade policies; the removed entity gets id 0
// and is transient again.
func (p *PersistenceService) Remove(ctx context.Context, s *Session, e models.Entity) error {
	err := p.remove(ctx, s, e)
	p.count(err, p.metrics.Remove, p.metrics.RemoveFail, p.metrics.RemoveNotFound)
	return err
}

func (p *PersistenceService) remove(ctx context.Context, s *Session, e models.Entity) error {
	if err := s.ensureOpen(ctx); err != nil {
		return err
	}
	if isNil(e) {
		return apperrors.NewValidationError("cannot remove a nil entity")
	}
	if !s.Contains(e) {
		return apperrors.NewNotFoundError(fmt.Sprintf("%s %d is not managed by this session", e.EntityKind(), e.EntityID()))
	}

	switch v := e.(type) {
	case *models.Student:
		return p.removeStudent(ctx, s, v)
	case *models.Course:
		return s.removeCourse(ctx, v)
	case *models.ExamResult:
		return s.removeExamResult(ctx, v)
	case *models.Scholarship:
		return s.removeScholarship(ctx, v)
	}
	return apperrors.NewValidationError(fmt.Sprintf("unsupported entity %T", e))
}

func (p *PersistenceService) removeStudent(ctx context.Context, s *Session, st *models.Student) error {
	coursePolicy := p.policies.For(StudentCourses)
	if coursePolicy.Remove != RemoveNone {
		ids, err := s.tx.ListCourseIDs(ctx, st.ID)
		if err != nil {
			return storageError(err)
		}
		for _, id := range ids {
			if err := s.tx.Unenroll(ctx, st.ID, id); err != nil {
				return storageError(err)
			}
			if coursePolicy.Remove == RemoveDelete {
				if err := s.deleteCourse(ctx, id); err != nil {
					return err
				}
			}
		}
		st.Courses = nil
	}

	if p.policies.For(StudentExamResults).Remove == RemoveDelete {
		rows, err := s.tx.ListExamResultsByStudent(ctx, st.ID, repositories.MarkFilter{})
		if err != nil {
			return storageError(err)
		}
		for _, row := range rows {
			if err := s.deleteExamResult(ctx, row.ID); err != nil {
				return err
			}
		}
		st.ExamResults = nil
	}

	switch p.policies.For(StudentScholarship).Remove {
	case RemoveUnlink:
		if err := s.revoke(ctx, st); err != nil {
			return err
		}
		st.AddScholarship(nil)
	case RemoveDelete:
		cur, err := s.tx.GetScholarshipByStudent(ctx, st.ID)
		if err != nil && !errors.Is(err, repositories.ErrNotFound) {
			return storageError(err)
		}
		if err := s.revoke(ctx, st); err != nil {
			return err
		}
		if cur != nil {
			if err := s.deleteScholarship(ctx, cur.ID); err != nil {
				return err
			}
		}
		st.AddScholarship(nil)
	}

	// storage refuses the delete while anything the policies kept still
	// references the student
	if err := s.tx.DeleteStudent(ctx, st.ID); err != nil {
		return storageError(err)
	}
	s.forget(st)
	s.logger.Debug().Int64("student", st.ID).Msg("Student removed")
	st.ID = 0
	return nil
}

// removeCourse unlinks every enrolled student before deleting the course
func (s *Session) removeCourse(ctx context.Context, c *models.Course) error {
	studentIDs, err := s.tx.ListStudentIDs(ctx, c.ID)
	if err != nil {
		return storageError(err)
	}
	for _, id := range studentIDs {
		if err := s.tx.Unenroll(ctx, id, c.ID); err != nil {
			return storageError(err)
		}
		if e, ok := s.lookup(models.KindStudent, id); ok {
			e.(*models.Student).RemoveCourse(c)
		}
	}
	if err := s.tx.DeleteCourse(ctx, c.ID); err != nil {
		return storageError(err)
	}
	s.forget(c)
	s.logger.Debug().Int64("course", c.ID).Msg("Course removed")
	c.ID = 0
	return nil
}

func (s *Session) removeExamResult(ctx context.Context, r *models.ExamResult) error {
	if err := s.tx.DeleteExamResult(ctx, r.ID); err != nil {
		return storageError(err)
	}
	if e, ok := s.lookup(models.KindStudent, r.StudentID); ok {
		e.(*models.Student).RemoveExamResult(r)
	}
	s.forget(r)
	s.logger.Debug().Int64("examResult", r.ID).Msg("Exam result removed")
	r.ID = 0
	return nil
}

func (s *Session) removeScholarship(ctx context.Context, sc *models.Scholarship) error {
	if err := s.unlinkScholarship(ctx, sc); err != nil {
		return err
	}
	if err := s.tx.DeleteScholarship(ctx, sc.ID); err != nil {
		return storageError(err)
	}
	s.forget(sc)
	s.logger.Debug().Int64("scholarship", sc.ID).Msg("Scholarship removed")
	sc.ID = 0
	return nil
}

// Detach removes e from the session without touching storage. Detaching an
// entity the session does not manage is a no-op. A detached entity keeps its
// id, so persisting it again fails; merging it is the way back.
func (p *PersistenceService) Detach(ctx context.Context, s *Session, e models.Entity) error {
	if err := s.ensureOpen(ctx); err != nil {
		return err
	}
	if isNil(e) || !s.Contains(e) {
		return nil
	}
	p.detach(s, e)
	p.metrics.Detach.Inc(1)
	return nil
}

func (p *PersistenceService) detach(s *Session, e models.Entity) {
	if !s.Contains(e) {
		return
	}
	s.forget(e)
	s.detached[keyOf(e)] = struct{}{}

	st, ok := e.(*models.Student)
	if !ok {
		return
	}
	if p.policies.For(StudentCourses).Detach {
		for _, c := range st.Courses {
			if c != nil {
				p.detach(s, c)
			}
		}
	}
	if p.policies.For(StudentExamResults).Detach {
		for _, r := range st.ExamResults {
			if r != nil {
				p.detach(s, r)
			}
		}
	}
	if sc := st.Scholarship; sc != nil && p.policies.For(StudentScholarship).Detach {
		p.detach(s, sc)
	}
}

// isNil reports whether e is nil or a typed nil pointer
func isNil(e models.Entity) bool {
	switch v := e.(type) {
	case nil:
		return true
	case *models.Student:
		return v == nil
	case *models.Course:
		return v == nil
	case *models.ExamResult:
		return v == nil
	case *models.Scholarship:
		return v == nil
	}
	return false
}
