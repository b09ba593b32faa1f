package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/yigit/studentrecords/internal/app/models"
	"github.com/yigit/studentrecords/internal/app/repositories"
)

type StoreTestSuite struct {
	suite.Suite

	ctx   context.Context
	store *Store
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (suite *StoreTestSuite) SetupTest() {
	suite.ctx = context.Background()
	store, err := NewStore()
	suite.Require().NoError(err)
	suite.store = store
}

// inTx runs fn and fails the test when the transaction does not commit
func (suite *StoreTestSuite) inTx(fn repositories.TransactionFn) {
	suite.Require().NoError(suite.store.WithTransaction(suite.ctx, fn))
}

func (suite *StoreTestSuite) createStudent(tx repositories.Tx, number, name string) *models.Student {
	s := &models.Student{RegistrationNumber: number, Name: name}
	suite.Require().NoError(tx.CreateStudent(suite.ctx, s))
	return s
}

func (suite *StoreTestSuite) TestStudentCRUD() {
	var id int64
	suite.inTx(func(ctx context.Context, tx repositories.Tx) error {
		s := suite.createStudent(tx, "0123565", "Max Mustermann")
		suite.Equal(int64(1), s.ID)
		id = s.ID
		return nil
	})

	suite.inTx(func(ctx context.Context, tx repositories.Tx) error {
		s, err := tx.GetStudent(ctx, id)
		suite.Require().NoError(err)
		suite.Equal("Max Mustermann", s.Name)

		s.Name = "Maximilian Mustermann"
		suite.NoError(tx.UpdateStudent(ctx, s))

		again, err := tx.GetStudent(ctx, id)
		suite.Require().NoError(err)
		suite.Equal("Maximilian Mustermann", again.Name)
		suite.NotSame(s, again)

		suite.NoError(tx.DeleteStudent(ctx, id))
		_, err = tx.GetStudent(ctx, id)
		suite.ErrorIs(err, repositories.ErrNotFound)
		return nil
	})
}

func (suite *StoreTestSuite) TestRowsAreCopies() {
	suite.inTx(func(ctx context.Context, tx repositories.Tx) error {
		s := suite.createStudent(tx, "1", "A")
		s.Name = "changed outside"

		stored, err := tx.GetStudent(ctx, s.ID)
		suite.Require().NoError(err)
		suite.Equal("A", stored.Name)
		return nil
	})
}

func (suite *StoreTestSuite) TestRollbackDiscardsChanges() {
	failure := errors.New("boom")
	err := suite.store.WithTransaction(suite.ctx, func(ctx context.Context, tx repositories.Tx) error {
		suite.createStudent(tx, "1", "A")
		return failure
	})
	suite.ErrorIs(err, failure)

	suite.inTx(func(ctx context.Context, tx repositories.Tx) error {
		students, err := tx.ListStudents(ctx)
		suite.Require().NoError(err)
		suite.Empty(students)

		// ids handed out by the rolled back transaction are reused
		s := suite.createStudent(tx, "2", "B")
		suite.Equal(int64(1), s.ID)
		return nil
	})
}

func (suite *StoreTestSuite) TestPanicRollsBack() {
	suite.Panics(func() {
		_ = suite.store.WithTransaction(suite.ctx, func(ctx context.Context, tx repositories.Tx) error {
			suite.createStudent(tx, "1", "A")
			panic("boom")
		})
	})
	suite.Empty(suite.store.Export().Students)

	// the writer slot was released
	suite.inTx(func(ctx context.Context, tx repositories.Tx) error { return nil })
}

func (suite *StoreTestSuite) TestTxDoneAfterCommit() {
	var leaked repositories.Tx
	suite.inTx(func(ctx context.Context, tx repositories.Tx) error {
		leaked = tx
		return nil
	})
	_, err := leaked.ListStudents(suite.ctx)
	suite.ErrorIs(err, repositories.ErrTxDone)
}

func (suite *StoreTestSuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(suite.ctx)
	err := suite.store.WithTransaction(ctx, func(ctx context.Context, tx repositories.Tx) error {
		suite.createStudent(tx, "1", "A")
		cancel()
		return nil
	})
	suite.ErrorIs(err, context.Canceled)
	suite.Empty(suite.store.Export().Students)

	err = suite.store.WithTransaction(ctx, func(ctx context.Context, tx repositories.Tx) error {
		suite.Fail("must not run with a cancelled context")
		return nil
	})
	suite.ErrorIs(err, context.Canceled)
}

func (suite *StoreTestSuite) TestTxTimeout() {
	store, err := NewStore(WithTxTimeout(10 * time.Millisecond))
	suite.Require().NoError(err)

	err = store.WithTransaction(suite.ctx, func(ctx context.Context, tx repositories.Tx) error {
		<-ctx.Done()
		_, err := tx.ListStudents(ctx)
		return err
	})
	suite.ErrorIs(err, context.DeadlineExceeded)
}

func (suite *StoreTestSuite) TestDeleteStudentReferenced() {
	suite.inTx(func(ctx context.Context, tx repositories.Tx) error {
		s := suite.createStudent(tx, "1", "A")
		c := &models.Course{CourseNumber: "188.951", Title: "Web Engineering"}
		suite.Require().NoError(tx.CreateCourse(ctx, c))
		suite.Require().NoError(tx.Enroll(ctx, s.ID, c.ID))
		suite.ErrorIs(tx.DeleteStudent(ctx, s.ID), repositories.ErrReferenced)
		suite.ErrorIs(tx.DeleteCourse(ctx, c.ID), repositories.ErrReferenced)

		suite.Require().NoError(tx.Unenroll(ctx, s.ID, c.ID))
		r := &models.ExamResult{StudentID: s.ID, Exam: "WE", Mark: 1}
		suite.Require().NoError(tx.CreateExamResult(ctx, r))
		suite.ErrorIs(tx.DeleteStudent(ctx, s.ID), repositories.ErrReferenced)

		suite.Require().NoError(tx.DeleteExamResult(ctx, r.ID))
		holder := s.ID
		sc := &models.Scholarship{Amount: 1000, Description: "A", StudentID: &holder}
		suite.Require().NoError(tx.CreateScholarship(ctx, sc))
		suite.ErrorIs(tx.DeleteStudent(ctx, s.ID), repositories.ErrReferenced)

		sc.StudentID = nil
		suite.Require().NoError(tx.UpdateScholarship(ctx, sc))
		suite.NoError(tx.DeleteStudent(ctx, s.ID))
		suite.NoError(tx.DeleteCourse(ctx, c.ID))
		return nil
	})
}

func (suite *StoreTestSuite) TestForeignKeys() {
	suite.inTx(func(ctx context.Context, tx repositories.Tx) error {
		suite.ErrorIs(tx.CreateExamResult(ctx, &models.ExamResult{StudentID: 42, Exam: "X", Mark: 1}), repositories.ErrReferenced)
		suite.ErrorIs(tx.Enroll(ctx, 42, 1), repositories.ErrReferenced)

		missing := int64(42)
		suite.ErrorIs(tx.CreateScholarship(ctx, &models.Scholarship{StudentID: &missing}), repositories.ErrReferenced)
		return nil
	})
}

func (suite *StoreTestSuite) TestEnrollmentIsIdempotent() {
	suite.inTx(func(ctx context.Context, tx repositories.Tx) error {
		s := suite.createStudent(tx, "1", "A")
		c := &models.Course{CourseNumber: "184.686"}
		suite.Require().NoError(tx.CreateCourse(ctx, c))
		suite.NoError(tx.Enroll(ctx, s.ID, c.ID))
		suite.NoError(tx.Enroll(ctx, s.ID, c.ID))

		ids, err := tx.ListCourseIDs(ctx, s.ID)
		suite.Require().NoError(err)
		suite.Equal([]int64{c.ID}, ids)

		ids, err = tx.ListStudentIDs(ctx, c.ID)
		suite.Require().NoError(err)
		suite.Equal([]int64{s.ID}, ids)

		suite.NoError(tx.Unenroll(ctx, s.ID, c.ID))
		suite.NoError(tx.Unenroll(ctx, s.ID, c.ID))
		ids, err = tx.ListCourseIDs(ctx, s.ID)
		suite.Require().NoError(err)
		suite.Empty(ids)
		return nil
	})
}

func (suite *StoreTestSuite) TestScholarshipHolderIsUnique() {
	suite.inTx(func(ctx context.Context, tx repositories.Tx) error {
		s := suite.createStudent(tx, "1", "A")
		holder := s.ID
		first := &models.Scholarship{Amount: 1000, StudentID: &holder}
		suite.Require().NoError(tx.CreateScholarship(ctx, first))

		second := &models.Scholarship{Amount: 500, StudentID: &holder}
		suite.ErrorIs(tx.CreateScholarship(ctx, second), repositories.ErrConflict)

		second.StudentID = nil
		suite.Require().NoError(tx.CreateScholarship(ctx, second))
		second.StudentID = &holder
		suite.ErrorIs(tx.UpdateScholarship(ctx, second), repositories.ErrConflict)

		got, err := tx.GetScholarshipByStudent(ctx, s.ID)
		suite.Require().NoError(err)
		suite.Equal(first.ID, got.ID)

		_, err = tx.GetScholarshipByStudent(ctx, 99)
		suite.ErrorIs(err, repositories.ErrNotFound)
		return nil
	})
}

func (suite *StoreTestSuite) TestExamResultsByMark() {
	suite.inTx(func(ctx context.Context, tx repositories.Tx) error {
		s := suite.createStudent(tx, "1", "A")
		other := suite.createStudent(tx, "2", "B")
		for _, mark := range []int{1, 2, 5} {
			suite.Require().NoError(tx.CreateExamResult(ctx, &models.ExamResult{StudentID: s.ID, Exam: "E", Mark: mark}))
		}
		suite.Require().NoError(tx.CreateExamResult(ctx, &models.ExamResult{StudentID: other.ID, Exam: "E", Mark: 1}))

		all, err := tx.ListExamResultsByStudent(ctx, s.ID, repositories.MarkFilter{})
		suite.Require().NoError(err)
		suite.Len(all, 3)

		positive, err := tx.ListExamResultsByStudent(ctx, s.ID, repositories.MarkFilter{Op: repositories.MarkBelow, Value: 5})
		suite.Require().NoError(err)
		suite.Len(positive, 2)

		negative, err := tx.ListExamResultsByStudent(ctx, s.ID, repositories.MarkFilter{Op: repositories.MarkEqual, Value: 5})
		suite.Require().NoError(err)
		suite.Require().Len(negative, 1)
		suite.Equal(5, negative[0].Mark)

		everything, err := tx.ListExamResults(ctx)
		suite.Require().NoError(err)
		suite.Len(everything, 4)
		return nil
	})
}

func (suite *StoreTestSuite) TestFindStudents() {
	suite.inTx(func(ctx context.Context, tx repositories.Tx) error {
		suite.createStudent(tx, "0123565", "Max Mustermann")
		suite.createStudent(tx, "1699394", "Erika Musterfrau")
		suite.createStudent(tx, "0123565", "Max Mustermann Jr")

		byNumber, err := tx.FindStudentsByRegistrationNumber(ctx, "0123565")
		suite.Require().NoError(err)
		suite.Len(byNumber, 2)
		suite.Less(byNumber[0].ID, byNumber[1].ID)

		exact, err := tx.FindStudentsByNameLike(ctx, "Max Mustermann")
		suite.Require().NoError(err)
		suite.Len(exact, 1)

		prefix, err := tx.FindStudentsByNameLike(ctx, "Muster%")
		suite.Require().NoError(err)
		suite.Empty(prefix)

		contains, err := tx.FindStudentsByNameLike(ctx, "%Muster%")
		suite.Require().NoError(err)
		suite.Len(contains, 3)

		lower, err := tx.FindStudentsByNameLike(ctx, "max%")
		suite.Require().NoError(err)
		suite.Empty(lower)

		_, err = tx.FindStudentsByNameLike(ctx, `bad\`)
		suite.Error(err)
		return nil
	})
}

func (suite *StoreTestSuite) TestSnapshotFile() {
	path := filepath.Join(suite.T().TempDir(), "data", "snapshot.json")
	store, err := NewStore(WithSnapshotFile(path))
	suite.Require().NoError(err)

	suite.Require().NoError(store.WithTransaction(suite.ctx, func(ctx context.Context, tx repositories.Tx) error {
		s := &models.Student{RegistrationNumber: "0123565", Name: "Max Mustermann"}
		if err := tx.CreateStudent(ctx, s); err != nil {
			return err
		}
		c := &models.Course{CourseNumber: "188.951", Title: "Web Engineering"}
		if err := tx.CreateCourse(ctx, c); err != nil {
			return err
		}
		if err := tx.Enroll(ctx, s.ID, c.ID); err != nil {
			return err
		}
		holder := s.ID
		return tx.CreateScholarship(ctx, &models.Scholarship{Amount: 1000, Description: "A", StudentID: &holder})
	}))
	suite.FileExists(path)

	restored, err := NewStore(WithSnapshotFile(path))
	suite.Require().NoError(err)
	suite.Equal(store.Export(), restored.Export())

	suite.Require().NoError(restored.WithTransaction(suite.ctx, func(ctx context.Context, tx repositories.Tx) error {
		s := &models.Student{RegistrationNumber: "1699394"}
		suite.Require().NoError(tx.CreateStudent(ctx, s))
		suite.Equal(int64(2), s.ID)

		sc, err := tx.GetScholarshipByStudent(ctx, 1)
		suite.Require().NoError(err)
		suite.Equal(int64(1000), sc.Amount)
		return nil
	}))
}

func (suite *StoreTestSuite) TestBrokenSnapshotFile() {
	path := filepath.Join(suite.T().TempDir(), "snapshot.json")
	suite.Require().NoError(os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := NewStore(WithSnapshotFile(path))
	suite.Error(err)
}

func (suite *StoreTestSuite) TestImportRejectsDanglingReferences() {
	err := suite.store.Import(Snapshot{
		ExamResults: []models.ExamResult{{ID: 1, StudentID: 7, Exam: "E", Mark: 1}},
	})
	suite.Error(err)

	holder := int64(1)
	err = suite.store.Import(Snapshot{
		Students:     []models.Student{{ID: 1, RegistrationNumber: "1"}},
		Scholarships: []models.Scholarship{{ID: 1, StudentID: &holder}, {ID: 2, StudentID: &holder}},
	})
	suite.Error(err)
}
