package services

import (
	"context"
	"fmt"

	"github.com/yigit/studentrecords/internal/app/models"
	"github.com/yigit/studentrecords/internal/pkg/apperrors"
)

// Persist makes a transient entity managed and inserts it. Persisting a
// managed entity is a no-op except that persist cascades to its
// associations, so unsaved children added since are inserted. Any other
// entity with an id, including one detached in this session, fails with
// apperrors.ErrDuplicateIdentity.
func (p *PersistenceService) Persist(ctx context.Context, s *Session, e models.Entity) error {
	err := p.persist(ctx, s, e)
	p.count(err, p.metrics.Persist, p.metrics.PersistFail, nil)
	return err
}

func (p *PersistenceService) persist(ctx context.Context, s *Session, e models.Entity) error {
	if err := s.ensureOpen(ctx); err != nil {
		return err
	}
	switch v := e.(type) {
	case *models.Student:
		if v != nil {
			return p.persistStudent(ctx, s, v)
		}
	case *models.Course:
		if v != nil {
			return s.persistCourse(ctx, v)
		}
	case *models.ExamResult:
		if v != nil {
			_, err := s.persistExamResult(ctx, v)
			return err
		}
	case *models.Scholarship:
		if v != nil {
			return p.persistScholarship(ctx, s, v)
		}
	default:
		if e != nil {
			return apperrors.NewValidationError(fmt.Sprintf("unsupported entity %T", e))
		}
	}
	return apperrors.NewValidationError("cannot persist a nil entity")
}

func (p *PersistenceService) persistStudent(ctx context.Context, s *Session, st *models.Student) error {
	transient, err := s.checkPersistable(st)
	if err != nil {
		return err
	}
	if transient {
		if err := validateStudent(st); err != nil {
			return err
		}
		if err := p.checkRegistrationNumber(ctx, s, st.RegistrationNumber, 0); err != nil {
			return err
		}
		if err := s.tx.CreateStudent(ctx, st); err != nil {
			return storageError(err)
		}
		s.register(st)
		s.logger.Debug().Int64("student", st.ID).Str("registrationNumber", st.RegistrationNumber).Msg("Student persisted")
	}
	return p.cascadePersist(ctx, s, st)
}

// cascadePersist walks the associations of a managed student
func (p *PersistenceService) cascadePersist(ctx context.Context, s *Session, st *models.Student) error {
	coursePolicy := p.policies.For(StudentCourses)
	for _, c := range st.Courses {
		if c == nil {
			continue
		}
		if coursePolicy.Persist {
			if err := s.persistCourse(ctx, c); err != nil {
				return err
			}
		} else if err := requireSaved(c, StudentCourses); err != nil {
			return err
		}
		if err := s.tx.Enroll(ctx, st.ID, c.ID); err != nil {
			return storageError(err)
		}
	}

	resultPolicy := p.policies.For(StudentExamResults)
	for _, r := range st.ExamResults {
		if r == nil {
			continue
		}
		r.StudentID = st.ID
		if resultPolicy.Persist {
			inserted, err := s.persistExamResult(ctx, r)
			if err != nil {
				return err
			}
			if inserted {
				continue
			}
		} else if err := requireSaved(r, StudentExamResults); err != nil {
			return err
		}
		// the result may have been moved here from another student
		if err := s.tx.UpdateExamResult(ctx, r); err != nil {
			return storageError(err)
		}
	}

	if sc := st.Scholarship; sc != nil {
		if p.policies.For(StudentScholarship).Persist {
			if err := p.persistScholarship(ctx, s, sc); err != nil {
				return err
			}
		} else if err := requireSaved(sc, StudentScholarship); err != nil {
			return err
		}
		managed, err := s.loadScholarship(ctx, sc.ID)
		if err != nil {
			return err
		}
		if err := s.grant(ctx, st, managed); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) persistCourse(ctx context.Context, c *models.Course) error {
	transient, err := s.checkPersistable(c)
	if err != nil || !transient {
		return err
	}
	if err := validateCourse(c); err != nil {
		return err
	}
	if err := s.tx.CreateCourse(ctx, c); err != nil {
		return storageError(err)
	}
	s.register(c)
	s.logger.Debug().Int64("course", c.ID).Msg("Course persisted")
	return nil
}

// persistExamResult inserts a transient exam result and reports whether it did
func (s *Session) persistExamResult(ctx context.Context, r *models.ExamResult) (bool, error) {
	transient, err := s.checkPersistable(r)
	if err != nil || !transient {
		return false, err
	}
	if err := validateExamResult(r); err != nil {
		return false, err
	}
	if err := s.tx.CreateExamResult(ctx, r); err != nil {
		return false, storageError(err)
	}
	s.register(r)
	if e, ok := s.lookup(models.KindStudent, r.StudentID); ok {
		e.(*models.Student).AddExamResult(r)
	}
	s.logger.Debug().Int64("examResult", r.ID).Int64("student", r.StudentID).Msg("Exam result persisted")
	return true, nil
}

// persistScholarship inserts a transient scholarship unlinked and then grants
// it to its holder, if it has one. The holder must already be stored: the
// scholarship side does not cascade.
func (p *PersistenceService) persistScholarship(ctx context.Context, s *Session, sc *models.Scholarship) error {
	transient, err := s.checkPersistable(sc)
	if err != nil || !transient {
		return err
	}
	if err := validateScholarship(sc); err != nil {
		return err
	}

	holder, err := s.holderOf(ctx, sc)
	if err != nil {
		return err
	}

	sc.StudentID = nil
	if err := s.tx.CreateScholarship(ctx, sc); err != nil {
		return storageError(err)
	}
	s.register(sc)
	s.logger.Debug().Int64("scholarship", sc.ID).Msg("Scholarship persisted")

	if holder == nil {
		sc.GrantedTo = nil
		return nil
	}
	return s.grant(ctx, holder, sc)
}

// holderOf resolves the student sc should be linked to: GrantedTo when set,
// otherwise the link column. It returns nil for an unlinked scholarship.
func (s *Session) holderOf(ctx context.Context, sc *models.Scholarship) (*models.Student, error) {
	var id int64
	switch {
	case sc.GrantedTo != nil:
		if sc.GrantedTo.ID == 0 {
			return nil, apperrors.NewCascadeConsistencyError("scholarship is granted to an unsaved student")
		}
		if s.Contains(sc.GrantedTo) {
			return sc.GrantedTo, nil
		}
		id = sc.GrantedTo.ID
	case sc.StudentID != nil:
		id = *sc.StudentID
	default:
		return nil, nil
	}
	return s.loadStudent(ctx, id)
}
