// Package repositories defines the storage contract the persistence service
// runs on. A Store hands out transactions; a Tx exposes typed per-table
// operations whose effects become visible to other transactions only when
// the whole transaction commits.
//
// Stores never cascade: deleting a row that is still referenced fails with
// ErrReferenced. Cascades are decided and executed by the persistence service.
package repositories

import (
	"context"
	"errors"

	"github.com/yigit/studentrecords/internal/app/models"
)

// Storage errors
var (
	ErrNotFound   = errors.New("row not found")
	ErrConflict   = errors.New("unique constraint violated")
	ErrReferenced = errors.New("row is referenced by another row")
	ErrTxDone     = errors.New("transaction has already been committed or rolled back")
)

// MarkOp selects how exam results are filtered by mark
type MarkOp int

const (
	// MarkAny applies no filter
	MarkAny MarkOp = iota
	// MarkBelow keeps marks strictly below Value
	MarkBelow
	// MarkEqual keeps marks equal to Value
	MarkEqual
)

// MarkFilter restricts exam results by mark
type MarkFilter struct {
	Op    MarkOp
	Value int
}

// Match reports whether mark passes the filter
func (f MarkFilter) Match(mark int) bool {
	switch f.Op {
	case MarkBelow:
		return mark < f.Value
	case MarkEqual:
		return mark == f.Value
	default:
		return true
	}
}

// TransactionFn is a unit of work run inside a storage transaction
type TransactionFn func(ctx context.Context, tx Tx) error

// Store is a transactional storage backend
type Store interface {
	// WithTransaction runs fn in a transaction, committing when fn returns
	// nil and rolling back otherwise (including panics).
	WithTransaction(ctx context.Context, fn TransactionFn) error
	// Close releases the backend's resources
	Close() error
}

// Tx is the view of the store inside one transaction. Rows returned by a Tx
// are fresh copies with relations unset; mutating them does not touch storage.
// Lists are ordered by id.
type Tx interface {
	StudentTable
	CourseTable
	EnrollmentTable
	ExamResultTable
	ScholarshipTable
}

// StudentTable operates on the students table
type StudentTable interface {
	// CreateStudent inserts the row and assigns s.ID
	CreateStudent(ctx context.Context, s *models.Student) error
	GetStudent(ctx context.Context, id int64) (*models.Student, error)
	UpdateStudent(ctx context.Context, s *models.Student) error
	// DeleteStudent fails with ErrReferenced while exam results, course links
	// or a scholarship still point at the student
	DeleteStudent(ctx context.Context, id int64) error
	ListStudents(ctx context.Context) ([]*models.Student, error)
	FindStudentsByRegistrationNumber(ctx context.Context, number string) ([]*models.Student, error)
	// FindStudentsByNameLike matches names against a case-sensitive SQL LIKE
	// pattern: % matches any run, _ one character, \ escapes the next one.
	FindStudentsByNameLike(ctx context.Context, pattern string) ([]*models.Student, error)
}

// CourseTable operates on the courses table
type CourseTable interface {
	CreateCourse(ctx context.Context, c *models.Course) error
	GetCourse(ctx context.Context, id int64) (*models.Course, error)
	UpdateCourse(ctx context.Context, c *models.Course) error
	// DeleteCourse fails with ErrReferenced while students are enrolled
	DeleteCourse(ctx context.Context, id int64) error
	ListCourses(ctx context.Context) ([]*models.Course, error)
}

// EnrollmentTable maintains the student_courses link table
type EnrollmentTable interface {
	// Enroll links a student and a course. Linking twice is a no-op.
	Enroll(ctx context.Context, studentID, courseID int64) error
	// Unenroll removes a link. Removing a missing link is a no-op.
	Unenroll(ctx context.Context, studentID, courseID int64) error
	ListCourseIDs(ctx context.Context, studentID int64) ([]int64, error)
	ListStudentIDs(ctx context.Context, courseID int64) ([]int64, error)
}

// ExamResultTable operates on the exam_results table
type ExamResultTable interface {
	// CreateExamResult fails with ErrReferenced when the owning student does not exist
	CreateExamResult(ctx context.Context, r *models.ExamResult) error
	GetExamResult(ctx context.Context, id int64) (*models.ExamResult, error)
	UpdateExamResult(ctx context.Context, r *models.ExamResult) error
	DeleteExamResult(ctx context.Context, id int64) error
	ListExamResults(ctx context.Context) ([]*models.ExamResult, error)
	ListExamResultsByStudent(ctx context.Context, studentID int64, filter MarkFilter) ([]*models.ExamResult, error)
}

// ScholarshipTable operates on the scholarships table. The student_id
// column is unique: a second scholarship linked to the same student fails
// with ErrConflict.
type ScholarshipTable interface {
	CreateScholarship(ctx context.Context, s *models.Scholarship) error
	GetScholarship(ctx context.Context, id int64) (*models.Scholarship, error)
	UpdateScholarship(ctx context.Context, s *models.Scholarship) error
	DeleteScholarship(ctx context.Context, id int64) error
	ListScholarships(ctx context.Context) ([]*models.Scholarship, error)
	// GetScholarshipByStudent returns ErrNotFound when the student holds none
	GetScholarshipByStudent(ctx context.Context, studentID int64) (*models.Scholarship, error)
}
