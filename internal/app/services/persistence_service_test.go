package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/uber-go/tally/v4"

	"github.com/yigit/studentrecords/internal/app/models"
	"github.com/yigit/studentrecords/internal/app/repositories"
	"github.com/yigit/studentrecords/internal/app/repositories/memory"
	"github.com/yigit/studentrecords/internal/app/services"
	"github.com/yigit/studentrecords/internal/pkg/apperrors"
)

// serviceSuite runs a service on a fresh memory store per test
type serviceSuite struct {
	suite.Suite

	ctx   context.Context
	store *memory.Store
	scope tally.TestScope
	svc   *services.PersistenceService
}

type PersistenceServiceTestSuite struct {
	serviceSuite
}

func TestPersistenceService(t *testing.T) {
	suite.Run(t, new(PersistenceServiceTestSuite))
}

func (suite *serviceSuite) SetupTest() {
	suite.ctx = context.Background()
	store, err := memory.NewStore()
	suite.Require().NoError(err)
	suite.store = store
	suite.scope = tally.NewTestScope("", nil)
	suite.svc = suite.newService()
}

func (suite *serviceSuite) newService(opts ...services.Option) *services.PersistenceService {
	opts = append([]services.Option{
		services.WithMetricsScope(suite.scope),
		services.WithLogger(zerolog.Nop()),
	}, opts...)
	svc, err := services.NewPersistenceService(suite.store, opts...)
	suite.Require().NoError(err)
	return svc
}

// tx runs work in its own transaction and requires it to commit
func (suite *serviceSuite) tx(work services.Work) {
	suite.Require().NoError(suite.svc.RunInTransaction(suite.ctx, work))
}

func (suite *serviceSuite) persistMax() int64 {
	var id int64
	suite.tx(func(ctx context.Context, s *services.Session) error {
		st := &models.Student{RegistrationNumber: "0123565", Name: "Max Mustermann"}
		if err := suite.svc.Persist(ctx, s, st); err != nil {
			return err
		}
		id = st.ID
		return nil
	})
	return id
}

func (suite *serviceSuite) counter(name string, tags map[string]string) int64 {
	for _, c := range suite.scope.Snapshot().Counters() {
		if c.Name() != name || len(c.Tags()) != len(tags) {
			continue
		}
		match := true
		for k, v := range tags {
			if c.Tags()[k] != v {
				match = false
			}
		}
		if match {
			return c.Value()
		}
	}
	return 0
}

func (suite *PersistenceServiceTestSuite) TestNewPersistenceServiceNilStore() {
	_, err := services.NewPersistenceService(nil)
	suite.ErrorIs(err, apperrors.ErrValidationFailed)
}

func (suite *PersistenceServiceTestSuite) TestFindAllAfterMerge() {
	suite.tx(func(ctx context.Context, s *services.Session) error {
		for i, name := range []string{"Student A", "Student B", "Student C"} {
			src := &models.Student{RegistrationNumber: fmt.Sprintf("000000%d", i), Name: name}
			merged, err := suite.svc.MergeStudent(ctx, s, src)
			suite.Require().NoError(err)
			suite.NotZero(merged.ID)
			suite.NotSame(src, merged)
			suite.Zero(src.ID, "merge must not modify its input")
		}
		return nil
	})

	suite.tx(func(ctx context.Context, s *services.Session) error {
		all, err := suite.svc.FindAll(ctx, s, models.KindStudent)
		suite.Require().NoError(err)
		suite.Len(all, 3)
		for i := 1; i < len(all); i++ {
			suite.Less(all[i-1].EntityID(), all[i].EntityID())
		}
		return nil
	})
}

func (suite *PersistenceServiceTestSuite) TestPersistAndQueries() {
	suite.tx(func(ctx context.Context, s *services.Session) error {
		st := &models.Student{RegistrationNumber: "0123565", Name: "Max Mustermann"}
		suite.Require().NoError(suite.svc.Persist(ctx, s, st))
		suite.NotZero(st.ID)
		suite.True(s.Contains(st))

		all, err := suite.svc.AllStudents(ctx, s)
		suite.Require().NoError(err)
		suite.Require().Len(all, 1)
		suite.Same(st, all[0])

		byName, err := suite.svc.FindByNameLike(ctx, s, "Max Mustermann")
		suite.Require().NoError(err)
		suite.Len(byName, 1)

		none, err := suite.svc.FindByNameLike(ctx, s, "foo")
		suite.Require().NoError(err)
		suite.Empty(none)
		return nil
	})
}

func (suite *PersistenceServiceTestSuite) TestScholarshipLifecycle() {
	suite.persistMax()

	var scholarshipA int64
	suite.tx(func(ctx context.Context, s *services.Session) error {
		st, err := suite.svc.FindByRegistrationNumber(ctx, s, "0123565")
		suite.Require().NoError(err)
		st.AddScholarship(&models.Scholarship{Amount: 1000, Description: "Scholarship A"})

		merged, err := suite.svc.MergeStudent(ctx, s, st)
		suite.Require().NoError(err)
		suite.Same(st, merged)
		suite.Require().NotNil(merged.Scholarship)
		suite.NotZero(merged.Scholarship.ID)
		scholarshipA = merged.Scholarship.ID

		all, err := suite.svc.AllScholarships(ctx, s)
		suite.Require().NoError(err)
		suite.Require().Len(all, 1)
		suite.Same(merged, all[0].GrantedTo)

		st.SetScholarship(nil)
		merged, err = suite.svc.MergeStudent(ctx, s, st)
		suite.Require().NoError(err)
		suite.Nil(merged.Scholarship)

		// unlinking keeps the scholarship
		all, err = suite.svc.AllScholarships(ctx, s)
		suite.Require().NoError(err)
		suite.Require().Len(all, 1)
		suite.Nil(all[0].GrantedTo)
		suite.Nil(all[0].StudentID)
		return nil
	})

	suite.tx(func(ctx context.Context, s *services.Session) error {
		st, err := suite.svc.FindByRegistrationNumber(ctx, s, "0123565")
		suite.Require().NoError(err)
		suite.Nil(st.Scholarship)

		st.SetScholarship(&models.Scholarship{Amount: 500, Description: "abc"})
		merged, err := suite.svc.MergeStudent(ctx, s, st)
		suite.Require().NoError(err)
		suite.Require().NotNil(merged.Scholarship)
		suite.NotEqual(scholarshipA, merged.Scholarship.ID)
		return nil
	})

	suite.tx(func(ctx context.Context, s *services.Session) error {
		st, err := suite.svc.FindByRegistrationNumber(ctx, s, "0123565")
		suite.Require().NoError(err)
		suite.Require().NotNil(st.Scholarship)
		moved := st.Scholarship

		student2 := &models.Student{RegistrationNumber: "29383929", Name: "Student A"}
		student2.AddScholarship(moved)
		suite.Nil(st.Scholarship)

		merged2, err := suite.svc.MergeStudent(ctx, s, student2)
		suite.Require().NoError(err)
		suite.Same(moved, merged2.Scholarship)

		all, err := suite.svc.AllScholarships(ctx, s)
		suite.Require().NoError(err)
		suite.Len(all, 2)
		for _, sc := range all {
			if sc.ID != moved.ID {
				continue
			}
			suite.Require().NotNil(sc.GrantedTo)
			suite.Equal("29383929", sc.GrantedTo.RegistrationNumber)
		}
		suite.Nil(st.Scholarship)
		return nil
	})

	suite.tx(func(ctx context.Context, s *services.Session) error {
		st, err := suite.svc.FindByRegistrationNumber(ctx, s, "0123565")
		suite.Require().NoError(err)
		suite.Nil(st.Scholarship)

		st2, err := suite.svc.FindByRegistrationNumber(ctx, s, "29383929")
		suite.Require().NoError(err)
		suite.Require().NotNil(st2.Scholarship)
		suite.Equal("abc", st2.Scholarship.Description)
		return nil
	})
}

func (suite *PersistenceServiceTestSuite) TestPersistSameObjectTwice() {
	suite.tx(func(ctx context.Context, s *services.Session) error {
		st := &models.Student{RegistrationNumber: "bar", Name: "Bar"}
		suite.Require().NoError(suite.svc.Persist(ctx, s, st))

		found, err := suite.svc.FindByRegistrationNumber(ctx, s, "bar")
		suite.Require().NoError(err)
		suite.Same(st, found)

		result := &models.ExamResult{Exam: "Web Engineering", Mark: 2}
		found.AddExamResult(result)
		suite.Require().NoError(suite.svc.Persist(ctx, s, found))
		suite.NotZero(result.ID)
		suite.Equal(st.ID, result.StudentID)
		suite.Len(st.ExamResults, 1)
		suite.True(s.Contains(result))

		suite.Require().NoError(suite.svc.Detach(ctx, s, st))
		suite.False(s.Contains(st))
		suite.True(s.IsDetached(st))

		err = suite.svc.Persist(ctx, s, st)
		suite.ErrorIs(err, apperrors.ErrDuplicateIdentity)
		return nil
	})
}

func (suite *PersistenceServiceTestSuite) TestPersistUnmanagedIdentity() {
	id := suite.persistMax()
	err := suite.svc.RunInTransaction(suite.ctx, func(ctx context.Context, s *services.Session) error {
		return suite.svc.Persist(ctx, s, &models.Student{ID: id, RegistrationNumber: "0123565"})
	})
	suite.ErrorIs(err, apperrors.ErrDuplicateIdentity)
}

func (suite *PersistenceServiceTestSuite) TestPersistNil() {
	suite.tx(func(ctx context.Context, s *services.Session) error {
		suite.ErrorIs(suite.svc.Persist(ctx, s, nil), apperrors.ErrValidationFailed)
		suite.ErrorIs(suite.svc.Persist(ctx, s, (*models.Student)(nil)), apperrors.ErrValidationFailed)
		_, err := suite.svc.Merge(ctx, s, (*models.Course)(nil))
		suite.ErrorIs(err, apperrors.ErrValidationFailed)
		suite.ErrorIs(suite.svc.Remove(ctx, s, (*models.ExamResult)(nil)), apperrors.ErrValidationFailed)
		suite.NoError(suite.svc.Detach(ctx, s, (*models.Scholarship)(nil)))
		return nil
	})
}

func (suite *PersistenceServiceTestSuite) TestValidation() {
	suite.tx(func(ctx context.Context, s *services.Session) error {
		suite.ErrorIs(suite.svc.Persist(ctx, s, &models.Student{Name: "No Number"}), apperrors.ErrValidationFailed)
		suite.ErrorIs(suite.svc.Persist(ctx, s, &models.Student{RegistrationNumber: " 0123565"}), apperrors.ErrValidationFailed)
		suite.ErrorIs(suite.svc.Persist(ctx, s, &models.Course{CourseNumber: strings.Repeat("9", 65)}), apperrors.ErrValidationFailed)
		suite.ErrorIs(suite.svc.Persist(ctx, s, &models.Scholarship{Amount: -1}), apperrors.ErrValidationFailed)
		suite.ErrorIs(suite.svc.Persist(ctx, s, &models.ExamResult{Exam: "orphan", Mark: 1}), apperrors.ErrValidationFailed)

		var custom *apperrors.CustomError
		suite.Require().ErrorAs(suite.svc.Persist(ctx, s, &models.Scholarship{Amount: -1}), &custom)
		suite.Equal("VALIDATION_FAILED", custom.Code)
		suite.Equal("scholarship amount cannot be negative", custom.Error())
		return nil
	})
}

func (suite *PersistenceServiceTestSuite) TestPositiveAndNegativeExamResults() {
	suite.tx(func(ctx context.Context, s *services.Session) error {
		st := &models.Student{RegistrationNumber: "0123565", Name: "Max Mustermann"}
		for _, mark := range []int{1, 2, 5} {
			st.AddExamResult(&models.ExamResult{Exam: fmt.Sprintf("exam %d", mark), Mark: mark})
		}
		return suite.svc.Persist(ctx, s, st)
	})

	suite.tx(func(ctx context.Context, s *services.Session) error {
		st, err := suite.svc.FindByRegistrationNumber(ctx, s, "0123565")
		suite.Require().NoError(err)
		suite.Len(st.ExamResults, 3)

		positive, err := suite.svc.PositiveExamResults(ctx, s, st)
		suite.Require().NoError(err)
		suite.Len(positive, 2)
		for _, r := range positive {
			suite.Less(r.Mark, models.NegativeMark)
		}

		negative, err := suite.svc.NegativeExamResults(ctx, s, st)
		suite.Require().NoError(err)
		suite.Require().Len(negative, 1)
		suite.Equal(models.NegativeMark, negative[0].Mark)
		// query results share the managed instances
		suite.Contains(st.ExamResults, negative[0])
		return nil
	})
}

func (suite *PersistenceServiceTestSuite) TestExamResultsOfUnsavedStudent() {
	suite.tx(func(ctx context.Context, s *services.Session) error {
		_, err := suite.svc.PositiveExamResults(ctx, s, nil)
		suite.ErrorIs(err, apperrors.ErrNotFound)
		_, err = suite.svc.NegativeExamResults(ctx, s, &models.Student{RegistrationNumber: "x"})
		suite.ErrorIs(err, apperrors.ErrNotFound)
		return nil
	})
}

func (suite *PersistenceServiceTestSuite) TestCoursesSurviveStudentRemoval() {
	suite.tx(func(ctx context.Context, s *services.Session) error {
		st := &models.Student{RegistrationNumber: "0123565", Name: "Max Mustermann"}
		for i := 0; i < 5; i++ {
			st.AddCourse(&models.Course{CourseNumber: fmt.Sprintf("188.95%d", i), Title: fmt.Sprintf("Course %d", i)})
		}
		st.AddExamResult(&models.ExamResult{Exam: "Course 0", Mark: 1})
		st.AddScholarship(&models.Scholarship{Amount: 1000, Description: "Scholarship A"})

		merged, err := suite.svc.MergeStudent(ctx, s, st)
		suite.Require().NoError(err)
		suite.Len(merged.Courses, 5)
		for _, c := range st.Courses {
			suite.Zero(c.ID, "merge must not modify its input")
		}

		courses, err := suite.svc.AllCourses(ctx, s)
		suite.Require().NoError(err)
		suite.Len(courses, 5)
		return nil
	})

	suite.tx(func(ctx context.Context, s *services.Session) error {
		st, err := suite.svc.FindByRegistrationNumber(ctx, s, "0123565")
		suite.Require().NoError(err)
		suite.Require().NoError(suite.svc.Remove(ctx, s, st))
		suite.Zero(st.ID)
		suite.False(s.Contains(st))
		return nil
	})

	suite.tx(func(ctx context.Context, s *services.Session) error {
		students, err := suite.svc.AllStudents(ctx, s)
		suite.Require().NoError(err)
		suite.Empty(students)

		courses, err := suite.svc.AllCourses(ctx, s)
		suite.Require().NoError(err)
		suite.Len(courses, 5)

		results, err := suite.svc.AllExamResults(ctx, s)
		suite.Require().NoError(err)
		suite.Empty(results)

		scholarships, err := suite.svc.AllScholarships(ctx, s)
		suite.Require().NoError(err)
		suite.Require().Len(scholarships, 1)
		suite.Nil(scholarships[0].GrantedTo)
		return nil
	})
	suite.Empty(suite.store.Export().Enrollments)
}

func (suite *PersistenceServiceTestSuite) TestRemoveRequiresManagedInstance() {
	id := suite.persistMax()
	suite.tx(func(ctx context.Context, s *services.Session) error {
		err := suite.svc.Remove(ctx, s, &models.Student{ID: id, RegistrationNumber: "0123565"})
		suite.ErrorIs(err, apperrors.ErrNotFound)

		err = suite.svc.Remove(ctx, s, &models.Course{CourseNumber: "new"})
		suite.ErrorIs(err, apperrors.ErrNotFound)
		return nil
	})
	suite.Equal(int64(2), suite.counter("persistence.remove", map[string]string{"result": "not_found"}))
}

func (suite *PersistenceServiceTestSuite) TestRemoveCourseUnlinksStudents() {
	suite.tx(func(ctx context.Context, s *services.Session) error {
		st := &models.Student{RegistrationNumber: "0123565"}
		st.AddCourse(&models.Course{CourseNumber: "188.951"})
		st.AddCourse(&models.Course{CourseNumber: "188.923"})
		return suite.svc.Persist(ctx, s, st)
	})

	suite.tx(func(ctx context.Context, s *services.Session) error {
		st, err := suite.svc.FindByRegistrationNumber(ctx, s, "0123565")
		suite.Require().NoError(err)
		suite.Require().Len(st.Courses, 2)
		c := st.Courses[0]

		suite.Require().NoError(suite.svc.Remove(ctx, s, c))
		suite.Zero(c.ID)
		suite.Len(st.Courses, 1)
		return nil
	})

	suite.tx(func(ctx context.Context, s *services.Session) error {
		st, err := suite.svc.FindByRegistrationNumber(ctx, s, "0123565")
		suite.Require().NoError(err)
		suite.Require().Len(st.Courses, 1)
		suite.Equal("188.923", st.Courses[0].CourseNumber)
		return nil
	})
}

func (suite *PersistenceServiceTestSuite) TestRemoveExamResultAndScholarship() {
	suite.tx(func(ctx context.Context, s *services.Session) error {
		st := &models.Student{RegistrationNumber: "0123565"}
		st.AddExamResult(&models.ExamResult{Exam: "A", Mark: 1})
		st.AddScholarship(&models.Scholarship{Amount: 10})
		return suite.svc.Persist(ctx, s, st)
	})

	suite.tx(func(ctx context.Context, s *services.Session) error {
		st, err := suite.svc.FindByRegistrationNumber(ctx, s, "0123565")
		suite.Require().NoError(err)
		suite.Require().Len(st.ExamResults, 1)
		suite.Require().NotNil(st.Scholarship)

		suite.Require().NoError(suite.svc.Remove(ctx, s, st.ExamResults[0]))
		suite.Empty(st.ExamResults)

		suite.Require().NoError(suite.svc.Remove(ctx, s, st.Scholarship))
		suite.Nil(st.Scholarship)
		return nil
	})

	suite.tx(func(ctx context.Context, s *services.Session) error {
		results, err := suite.svc.AllExamResults(ctx, s)
		suite.Require().NoError(err)
		suite.Empty(results)
		scholarships, err := suite.svc.AllScholarships(ctx, s)
		suite.Require().NoError(err)
		suite.Empty(scholarships)
		return nil
	})
}

func (suite *PersistenceServiceTestSuite) TestMergeUnknownIDInserts() {
	src := &models.Student{ID: 99, RegistrationNumber: "x", Name: "Stale"}
	src.AddCourse(&models.Course{ID: 42, CourseNumber: "188.951"})
	src.AddExamResult(&models.ExamResult{ID: 17, Exam: "WE", Mark: 2})
	src.AddScholarship(&models.Scholarship{ID: 7, Amount: 500})

	var id int64
	suite.tx(func(ctx context.Context, s *services.Session) error {
		merged, err := suite.svc.MergeStudent(ctx, s, src)
		suite.Require().NoError(err)
		suite.NotSame(src, merged)
		suite.NotEqual(int64(99), merged.ID)
		suite.True(s.Contains(merged))
		suite.Require().Len(merged.Courses, 1)
		suite.NotEqual(int64(42), merged.Courses[0].ID)
		suite.Require().Len(merged.ExamResults, 1)
		suite.Equal(merged.ID, merged.ExamResults[0].StudentID)
		suite.Require().NotNil(merged.Scholarship)
		suite.Equal(int64(500), merged.Scholarship.Amount)

		course, err := suite.svc.MergeCourse(ctx, s, &models.Course{ID: 1000, Title: "Compilers"})
		suite.Require().NoError(err)
		suite.NotEqual(int64(1000), course.ID)
		id = merged.ID
		return nil
	})
	suite.Equal(int64(99), src.ID)

	suite.tx(func(ctx context.Context, s *services.Session) error {
		st, err := suite.svc.FindByRegistrationNumber(ctx, s, "x")
		suite.Require().NoError(err)
		suite.Equal(id, st.ID)
		suite.Equal("Stale", st.Name)
		courses, err := suite.svc.AllCourses(ctx, s)
		suite.Require().NoError(err)
		suite.Len(courses, 2)
		return nil
	})
}

func (suite *PersistenceServiceTestSuite) TestMergeManagedInstanceKeepsRegistrationNumbersUnique() {
	suite.tx(func(ctx context.Context, s *services.Session) error {
		suite.Require().NoError(suite.svc.Persist(ctx, s, &models.Student{RegistrationNumber: "1"}))
		return suite.svc.Persist(ctx, s, &models.Student{RegistrationNumber: "2"})
	})

	err := suite.svc.RunInTransaction(suite.ctx, func(ctx context.Context, s *services.Session) error {
		b, err := suite.svc.FindByRegistrationNumber(ctx, s, "2")
		suite.Require().NoError(err)
		b.RegistrationNumber = "1"
		_, err = suite.svc.MergeStudent(ctx, s, b)
		return err
	})
	suite.ErrorIs(err, apperrors.ErrDuplicateIdentity)

	suite.tx(func(ctx context.Context, s *services.Session) error {
		a, err := suite.svc.FindByRegistrationNumber(ctx, s, "1")
		suite.Require().NoError(err)
		a.Name = "renamed"
		merged, err := suite.svc.MergeStudent(ctx, s, a)
		suite.Require().NoError(err)
		suite.Same(a, merged)

		_, err = suite.svc.FindByRegistrationNumber(ctx, s, "2")
		suite.NoError(err)
		return nil
	})
}

func (suite *PersistenceServiceTestSuite) TestMergeOrphans() {
	suite.tx(func(ctx context.Context, s *services.Session) error {
		st := &models.Student{RegistrationNumber: "0123565"}
		st.AddCourse(&models.Course{CourseNumber: "188.951"})
		st.AddCourse(&models.Course{CourseNumber: "188.923"})
		st.AddExamResult(&models.ExamResult{Exam: "A", Mark: 1})
		st.AddExamResult(&models.ExamResult{Exam: "B", Mark: 5})
		return suite.svc.Persist(ctx, s, st)
	})

	suite.tx(func(ctx context.Context, s *services.Session) error {
		st, err := suite.svc.FindByRegistrationNumber(ctx, s, "0123565")
		suite.Require().NoError(err)
		dropped := st.ExamResults[0]
		suite.True(st.RemoveCourse(st.Courses[0]))
		suite.True(st.RemoveExamResult(dropped))

		merged, err := suite.svc.MergeStudent(ctx, s, st)
		suite.Require().NoError(err)
		suite.Len(merged.Courses, 1)
		suite.Len(merged.ExamResults, 1)
		suite.Zero(dropped.ID)
		return nil
	})

	suite.tx(func(ctx context.Context, s *services.Session) error {
		courses, err := suite.svc.AllCourses(ctx, s)
		suite.Require().NoError(err)
		suite.Len(courses, 2, "unlinked courses are kept")

		results, err := suite.svc.AllExamResults(ctx, s)
		suite.Require().NoError(err)
		suite.Require().Len(results, 1, "orphaned exam results are deleted")
		suite.Equal("B", results[0].Exam)
		return nil
	})
}

func (suite *PersistenceServiceTestSuite) TestMergeDetachedStudent() {
	var detached *models.Student
	suite.tx(func(ctx context.Context, s *services.Session) error {
		st := &models.Student{RegistrationNumber: "0123565", Name: "Max Mustermann"}
		st.AddCourse(&models.Course{CourseNumber: "188.951"})
		st.AddExamResult(&models.ExamResult{Exam: "A", Mark: 2})
		st.AddScholarship(&models.Scholarship{Amount: 1000})
		suite.Require().NoError(suite.svc.Persist(ctx, s, st))

		suite.Require().NoError(suite.svc.Detach(ctx, s, st))
		suite.False(s.Contains(st))
		suite.False(s.Contains(st.ExamResults[0]))
		suite.False(s.Contains(st.Scholarship))
		suite.True(s.Contains(st.Courses[0]), "courses do not detach with the student")
		detached = st
		return nil
	})

	detached.Name = "Maximilian Mustermann"
	detached.ExamResults[0].Mark = 1
	suite.tx(func(ctx context.Context, s *services.Session) error {
		merged, err := suite.svc.MergeStudent(ctx, s, detached)
		suite.Require().NoError(err)
		suite.NotSame(detached, merged)
		suite.Equal("Maximilian Mustermann", merged.Name)
		suite.Require().Len(merged.ExamResults, 1)
		suite.Equal(1, merged.ExamResults[0].Mark)
		suite.Require().NotNil(merged.Scholarship)
		suite.Same(merged, merged.Scholarship.GrantedTo)
		return nil
	})
}

func (suite *PersistenceServiceTestSuite) TestDetachUnmanagedIsNoop() {
	suite.tx(func(ctx context.Context, s *services.Session) error {
		st := &models.Student{RegistrationNumber: "x"}
		suite.NoError(suite.svc.Detach(ctx, s, st))
		suite.False(s.IsDetached(st))
		suite.Zero(s.ManagedCount())
		return nil
	})
}

func (suite *PersistenceServiceTestSuite) TestIdentityMap() {
	id := suite.persistMax()

	var first *models.Student
	suite.tx(func(ctx context.Context, s *services.Session) error {
		a, err := suite.svc.FindStudent(ctx, s, id)
		suite.Require().NoError(err)
		b, err := suite.svc.FindByID(ctx, s, models.KindStudent, id)
		suite.Require().NoError(err)
		suite.Same(a, b)
		first = a
		return nil
	})

	suite.tx(func(ctx context.Context, s *services.Session) error {
		again, err := suite.svc.FindStudent(ctx, s, id)
		suite.Require().NoError(err)
		suite.NotSame(first, again)
		suite.Equal(first.ID, again.ID)
		return nil
	})
}

func (suite *PersistenceServiceTestSuite) TestFindNotFound() {
	suite.tx(func(ctx context.Context, s *services.Session) error {
		_, err := suite.svc.FindStudent(ctx, s, 42)
		suite.ErrorIs(err, apperrors.ErrNotFound)
		_, err = suite.svc.FindCourse(ctx, s, 0)
		suite.ErrorIs(err, apperrors.ErrNotFound)
		_, err = suite.svc.FindByRegistrationNumber(ctx, s, "missing")
		suite.ErrorIs(err, apperrors.ErrNotFound)
		_, err = suite.svc.FindByID(ctx, s, models.Kind("tutor"), 1)
		suite.ErrorIs(err, apperrors.ErrValidationFailed)
		_, err = suite.svc.FindAll(ctx, s, models.Kind("tutor"))
		suite.ErrorIs(err, apperrors.ErrValidationFailed)
		return nil
	})
	suite.Equal(int64(2), suite.counter("persistence.find", map[string]string{"result": "not_found"}))
	suite.Equal(int64(1), suite.counter("persistence.query", map[string]string{"result": "not_found"}))
}

func (suite *PersistenceServiceTestSuite) TestDuplicateRegistrationNumber() {
	suite.persistMax()
	err := suite.svc.RunInTransaction(suite.ctx, func(ctx context.Context, s *services.Session) error {
		return suite.svc.Persist(ctx, s, &models.Student{RegistrationNumber: "0123565", Name: "Other"})
	})
	suite.ErrorIs(err, apperrors.ErrDuplicateIdentity)
}

func (suite *PersistenceServiceTestSuite) TestAmbiguousRegistrationNumber() {
	suite.svc = suite.newService(services.WithUniqueRegistrationNumbers(false))
	suite.persistMax()
	suite.persistMax()

	err := suite.svc.RunInTransaction(suite.ctx, func(ctx context.Context, s *services.Session) error {
		_, err := suite.svc.FindByRegistrationNumber(ctx, s, "0123565")
		return err
	})
	suite.ErrorIs(err, apperrors.ErrNotFound)
}

func (suite *PersistenceServiceTestSuite) TestMergeScholarshipOnItsOwn() {
	id := suite.persistMax()
	suite.tx(func(ctx context.Context, s *services.Session) error {
		st, err := suite.svc.FindStudent(ctx, s, id)
		suite.Require().NoError(err)

		sc, err := suite.svc.MergeScholarship(ctx, s, &models.Scholarship{Amount: 300, Description: "B", GrantedTo: st})
		suite.Require().NoError(err)
		suite.Same(sc, st.Scholarship)
		suite.Same(st, sc.GrantedTo)

		revoked, err := suite.svc.MergeScholarship(ctx, s, &models.Scholarship{ID: sc.ID, Amount: 400, Description: "B"})
		suite.Require().NoError(err)
		suite.Same(sc, revoked)
		suite.Nil(st.Scholarship)
		suite.Nil(revoked.GrantedTo)
		suite.Equal(int64(400), revoked.Amount)
		return nil
	})
}

func (suite *PersistenceServiceTestSuite) TestMergeExamResultOnItsOwn() {
	id := suite.persistMax()
	suite.tx(func(ctx context.Context, s *services.Session) error {
		r, err := suite.svc.MergeExamResult(ctx, s, &models.ExamResult{StudentID: id, Exam: "A", Mark: 3})
		suite.Require().NoError(err)
		suite.NotZero(r.ID)

		st, err := suite.svc.FindStudent(ctx, s, id)
		suite.Require().NoError(err)
		suite.Contains(st.ExamResults, r)

		_, err = suite.svc.MergeExamResult(ctx, s, &models.ExamResult{StudentID: 99, Exam: "A", Mark: 3})
		suite.ErrorIs(err, apperrors.ErrNotFound)
		return nil
	})
}

func (suite *PersistenceServiceTestSuite) TestMergeCourse() {
	var id int64
	suite.tx(func(ctx context.Context, s *services.Session) error {
		c, err := suite.svc.MergeCourse(ctx, s, &models.Course{CourseNumber: "188.951", Title: "Web"})
		suite.Require().NoError(err)
		id = c.ID
		return nil
	})
	suite.tx(func(ctx context.Context, s *services.Session) error {
		c, err := suite.svc.MergeCourse(ctx, s, &models.Course{ID: id, CourseNumber: "188.951", Title: "Web Engineering"})
		suite.Require().NoError(err)
		suite.Equal("Web Engineering", c.Title)
		return nil
	})
	suite.tx(func(ctx context.Context, s *services.Session) error {
		c, err := suite.svc.FindCourse(ctx, s, id)
		suite.Require().NoError(err)
		suite.Equal("Web Engineering", c.Title)
		return nil
	})
}

func (suite *PersistenceServiceTestSuite) TestRollback() {
	failure := errors.New("abort")
	err := suite.svc.RunInTransaction(suite.ctx, func(ctx context.Context, s *services.Session) error {
		st := &models.Student{RegistrationNumber: "0123565"}
		st.AddCourse(&models.Course{CourseNumber: "188.951"})
		suite.Require().NoError(suite.svc.Persist(ctx, s, st))
		return failure
	})
	suite.ErrorIs(err, failure)

	suite.tx(func(ctx context.Context, s *services.Session) error {
		students, err := suite.svc.AllStudents(ctx, s)
		suite.Require().NoError(err)
		suite.Empty(students)
		courses, err := suite.svc.AllCourses(ctx, s)
		suite.Require().NoError(err)
		suite.Empty(courses)
		return nil
	})

	suite.Equal(int64(1), suite.counter("transaction.rollback", nil))
	suite.Equal(int64(1), suite.counter("transaction.commit", nil))
}

func (suite *PersistenceServiceTestSuite) TestSessionClosedAfterTransaction() {
	var leaked *services.Session
	suite.tx(func(ctx context.Context, s *services.Session) error {
		leaked = s
		return nil
	})
	_, err := suite.svc.AllStudents(suite.ctx, leaked)
	suite.ErrorIs(err, apperrors.ErrSessionClosed)
	suite.ErrorIs(suite.svc.Persist(suite.ctx, leaked, &models.Course{}), apperrors.ErrSessionClosed)
}

func (suite *PersistenceServiceTestSuite) TestStorageFailureRollsBack() {
	failure := errors.New("disk on fire")
	store := &faultyStore{Store: suite.store, failUpdateScholarship: failure}
	svc, err := services.NewPersistenceService(store, services.WithLogger(zerolog.Nop()))
	suite.Require().NoError(err)

	err = svc.RunInTransaction(suite.ctx, func(ctx context.Context, s *services.Session) error {
		st := &models.Student{RegistrationNumber: "0123565"}
		st.AddScholarship(&models.Scholarship{Amount: 1})
		return svc.Persist(ctx, s, st)
	})
	suite.ErrorIs(err, failure)
	suite.Empty(suite.store.Export().Students)
	suite.Empty(suite.store.Export().Scholarships)
}

func (suite *PersistenceServiceTestSuite) TestConcurrentTransactions() {
	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- suite.svc.RunInTransaction(suite.ctx, func(ctx context.Context, s *services.Session) error {
				st := &models.Student{RegistrationNumber: fmt.Sprintf("%07d", i)}
				st.AddExamResult(&models.ExamResult{Exam: "A", Mark: 1 + i%5})
				return suite.svc.Persist(ctx, s, st)
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		suite.NoError(err)
	}

	snap := suite.store.Export()
	suite.Len(snap.Students, workers)
	suite.Len(snap.ExamResults, workers)
}

func (suite *PersistenceServiceTestSuite) TestMetrics() {
	suite.persistMax()
	suite.tx(func(ctx context.Context, s *services.Session) error {
		_, err := suite.svc.AllStudents(ctx, s)
		return err
	})
	suite.Equal(int64(1), suite.counter("persistence.persist", map[string]string{"result": "success"}))
	suite.Equal(int64(1), suite.counter("persistence.query", map[string]string{"result": "success"}))
	suite.Equal(int64(2), suite.counter("transaction.commit", nil))

	timers := suite.scope.Snapshot().Timers()
	found := false
	for _, t := range timers {
		if t.Name() == "transaction.duration" {
			found = true
			suite.Len(t.Values(), 2)
		}
	}
	suite.True(found)
}

// faultyStore fails selected table operations of the wrapped store
type faultyStore struct {
	*memory.Store
	failUpdateScholarship error
}

func (f *faultyStore) WithTransaction(ctx context.Context, fn repositories.TransactionFn) error {
	return f.Store.WithTransaction(ctx, func(ctx context.Context, tx repositories.Tx) error {
		return fn(ctx, &faultyTx{Tx: tx, store: f})
	})
}

type faultyTx struct {
	repositories.Tx
	store *faultyStore
}

func (t *faultyTx) UpdateScholarship(ctx context.Context, sc *models.Scholarship) error {
	if t.store.failUpdateScholarship != nil {
		return t.store.failUpdateScholarship
	}
	return t.Tx.UpdateScholarship(ctx, sc)
}

func TestStudentHelpers(t *testing.T) {
	st := &models.Student{ID: 1, RegistrationNumber: "0123565"}
	other := &models.Student{ID: 2, RegistrationNumber: "29383929"}
	sc := &models.Scholarship{ID: 7, Amount: 1000}

	st.AddScholarship(sc)
	require.Same(t, sc, st.Scholarship)
	assert.Same(t, st, sc.GrantedTo)
	require.NotNil(t, sc.StudentID)
	assert.Equal(t, int64(1), *sc.StudentID)

	other.AddScholarship(sc)
	assert.Nil(t, st.Scholarship)
	assert.Same(t, other, sc.GrantedTo)
	assert.Equal(t, int64(2), *sc.StudentID)

	other.AddScholarship(nil)
	assert.Nil(t, other.Scholarship)
	assert.Nil(t, sc.GrantedTo)
	assert.False(t, sc.Granted())

	c := &models.Course{ID: 3}
	st.AddCourse(c)
	st.AddCourse(c)
	assert.Len(t, st.Courses, 1)
	assert.True(t, st.RemoveCourse(&models.Course{ID: 3}))
	assert.False(t, st.RemoveCourse(c))

	r := &models.ExamResult{Mark: 5}
	st.AddExamResult(r)
	assert.Equal(t, int64(1), r.StudentID)
	assert.True(t, r.IsNegative())
	assert.False(t, r.IsPositive())
	assert.True(t, st.RemoveExamResult(r))
	assert.Empty(t, st.ExamResults)
}
