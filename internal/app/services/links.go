package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/yigit/studentrecords/internal/app/models"
	"github.com/yigit/studentrecords/internal/app/repositories"
	"github.com/yigit/studentrecords/internal/pkg/apperrors"
	"github.com/yigit/studentrecords/internal/pkg/validation"
)

func validateStudent(st *models.Student) error {
	if !validation.NewStringValidation(st.RegistrationNumber).
		WithMaxLength(validation.RegistrationNumberMaxLength).
		WithPattern(validation.RegistrationNumberPattern).
		Validate() {
		return apperrors.NewValidationError(fmt.Sprintf("registration number must be non-empty, untrimmed and at most %d characters",
			validation.RegistrationNumberMaxLength))
	}
	if !validation.NewStringValidation(st.Name).WithRequired(false).WithMaxLength(validation.NameMaxLength).Validate() {
		return apperrors.NewValidationError(fmt.Sprintf("name exceeds %d characters", validation.NameMaxLength))
	}
	return nil
}

func validateCourse(c *models.Course) error {
	if !validation.NewStringValidation(c.CourseNumber).WithRequired(false).WithMaxLength(validation.CourseNumberMaxLength).Validate() {
		return apperrors.NewValidationError(fmt.Sprintf("course number exceeds %d characters", validation.CourseNumberMaxLength))
	}
	if !validation.NewStringValidation(c.Title).WithRequired(false).WithMaxLength(validation.TitleMaxLength).Validate() {
		return apperrors.NewValidationError(fmt.Sprintf("title exceeds %d characters", validation.TitleMaxLength))
	}
	return nil
}

func validateScholarship(sc *models.Scholarship) error {
	if !validation.NewNumericValidation(sc.Amount).WithMin(0).Validate() {
		return apperrors.NewValidationError("scholarship amount cannot be negative")
	}
	return nil
}

func validateExamResult(r *models.ExamResult) error {
	if r.StudentID == 0 {
		return apperrors.NewValidationError("exam result must belong to a student")
	}
	if !validation.NewStringValidation(r.Exam).WithRequired(false).WithMaxLength(validation.ExamMaxLength).Validate() {
		return apperrors.NewValidationError(fmt.Sprintf("exam exceeds %d characters", validation.ExamMaxLength))
	}
	return nil
}

// checkRegistrationNumber rejects a number already used by another student
func (p *PersistenceService) checkRegistrationNumber(ctx context.Context, s *Session, number string, self int64) error {
	if !p.uniqueRegistrationNumbers {
		return nil
	}
	rows, err := s.tx.FindStudentsByRegistrationNumber(ctx, number)
	if err != nil {
		return storageError(err)
	}
	for _, row := range rows {
		if row.ID != self {
			return apperrors.NewDuplicateIdentityError(
				fmt.Sprintf("registration number %q is already used by student %d", number, row.ID)).
				WithDetails(map[string]interface{}{"registrationNumber": number, "studentId": row.ID})
		}
	}
	return nil
}

// requireSaved is used where an association does not cascade: the
// associated entity must already have been stored.
func requireSaved(e models.Entity, a Association) error {
	if e.EntityID() == 0 {
		return apperrors.NewCascadeConsistencyError(
			fmt.Sprintf("%s references an unsaved %s and does not cascade", a, e.EntityKind()))
	}
	return nil
}

// grant links sc to st in storage and in memory. A previous holder of sc
// loses it and the scholarship st held before is revoked, since a student
// holds at most one.
func (s *Session) grant(ctx context.Context, st *models.Student, sc *models.Scholarship) error {
	stored, err := s.tx.GetScholarship(ctx, sc.ID)
	if err != nil {
		return storageError(err)
	}

	if stored.StudentID == nil || *stored.StudentID != st.ID {
		if stored.StudentID != nil {
			if e, ok := s.lookup(models.KindStudent, *stored.StudentID); ok {
				prev := e.(*models.Student)
				if prev.Scholarship != nil && prev.Scholarship.ID == sc.ID {
					prev.Scholarship = nil
				}
			}
		}

		if err := s.revoke(ctx, st); err != nil {
			return err
		}

		holder := st.ID
		stored.StudentID = &holder
		if err := s.tx.UpdateScholarship(ctx, stored); err != nil {
			return storageError(err)
		}
		s.logger.Debug().Int64("scholarship", sc.ID).Int64("student", st.ID).Msg("Scholarship granted")
	}

	holder := st.ID
	sc.StudentID = &holder
	sc.GrantedTo = st
	st.Scholarship = sc
	return s.verifyScholarshipLink(ctx, st, sc)
}

// revoke clears the stored link of whatever scholarship st holds. The
// scholarship itself survives.
func (s *Session) revoke(ctx context.Context, st *models.Student) error {
	cur, err := s.tx.GetScholarshipByStudent(ctx, st.ID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil
	}
	if err != nil {
		return storageError(err)
	}

	cur.StudentID = nil
	if err := s.tx.UpdateScholarship(ctx, cur); err != nil {
		return storageError(err)
	}
	if e, ok := s.lookup(models.KindScholarship, cur.ID); ok {
		managed := e.(*models.Scholarship)
		managed.StudentID = nil
		if managed.GrantedTo == st {
			managed.GrantedTo = nil
		}
	}
	if st.Scholarship != nil && st.Scholarship.ID == cur.ID {
		st.Scholarship = nil
	}
	s.logger.Debug().Int64("scholarship", cur.ID).Int64("student", st.ID).Msg("Scholarship revoked")
	return nil
}

// verifyScholarshipLink checks that storage and both in-memory sides agree
func (s *Session) verifyScholarshipLink(ctx context.Context, st *models.Student, sc *models.Scholarship) error {
	stored, err := s.tx.GetScholarshipByStudent(ctx, st.ID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return storageError(err)
	}
	switch {
	case stored == nil || stored.ID != sc.ID:
		return apperrors.NewCascadeConsistencyError(
			fmt.Sprintf("student %d is not linked to scholarship %d in storage", st.ID, sc.ID))
	case st.Scholarship != sc || sc.GrantedTo != st:
		return apperrors.NewCascadeConsistencyError(
			fmt.Sprintf("student %d and scholarship %d do not reference each other", st.ID, sc.ID))
	}
	return nil
}

// syncEnrollments makes the stored links of st match want. Links no longer
// wanted are handled by orphans.
func (s *Session) syncEnrollments(ctx context.Context, st *models.Student, want []*models.Course, orphans OrphanAction) ([]*models.Course, error) {
	stored, err := s.tx.ListCourseIDs(ctx, st.ID)
	if err != nil {
		return nil, storageError(err)
	}
	linked := make(map[int64]bool, len(stored))
	for _, id := range stored {
		linked[id] = true
	}

	wanted := make(map[int64]bool, len(want))
	result := make([]*models.Course, 0, len(want))
	for _, c := range want {
		if wanted[c.ID] {
			continue
		}
		wanted[c.ID] = true
		result = append(result, c)
		if !linked[c.ID] {
			if err := s.tx.Enroll(ctx, st.ID, c.ID); err != nil {
				return nil, storageError(err)
			}
		}
	}

	for _, id := range stored {
		if wanted[id] {
			continue
		}
		switch orphans {
		case OrphanKeep:
			c, err := s.loadCourse(ctx, id)
			if err != nil {
				return nil, err
			}
			result = append(result, c)
		case OrphanUnlink:
			if err := s.tx.Unenroll(ctx, st.ID, id); err != nil {
				return nil, storageError(err)
			}
		case OrphanDelete:
			if err := s.tx.Unenroll(ctx, st.ID, id); err != nil {
				return nil, storageError(err)
			}
			if err := s.deleteCourse(ctx, id); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// deleteCourse deletes a course row and retires its managed instance
func (s *Session) deleteCourse(ctx context.Context, id int64) error {
	if err := s.tx.DeleteCourse(ctx, id); err != nil {
		return storageError(err)
	}
	if e, ok := s.lookup(models.KindCourse, id); ok {
		s.forget(e)
		e.(*models.Course).ID = 0
	}
	return nil
}

// deleteExamResult deletes an exam result row and retires its managed instance
func (s *Session) deleteExamResult(ctx context.Context, id int64) error {
	if err := s.tx.DeleteExamResult(ctx, id); err != nil {
		return storageError(err)
	}
	if e, ok := s.lookup(models.KindExamResult, id); ok {
		s.forget(e)
		e.(*models.ExamResult).ID = 0
	}
	return nil
}

// deleteScholarship deletes a scholarship row, which must no longer be linked
func (s *Session) deleteScholarship(ctx context.Context, id int64) error {
	if err := s.tx.DeleteScholarship(ctx, id); err != nil {
		return storageError(err)
	}
	if e, ok := s.lookup(models.KindScholarship, id); ok {
		sc := e.(*models.Scholarship)
		if sc.GrantedTo != nil && sc.GrantedTo.Scholarship == sc {
			sc.GrantedTo.Scholarship = nil
		}
		s.forget(sc)
		sc.ID = 0
		sc.StudentID = nil
		sc.GrantedTo = nil
	}
	return nil
}
