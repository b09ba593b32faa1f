package memory

import (
	"context"
	"fmt"
	"slices"

	"github.com/yigit/studentrecords/internal/app/models"
	"github.com/yigit/studentrecords/internal/app/repositories"
)

// transaction works on its own copy of the state
type transaction struct {
	state state
	done  bool
}

var _ repositories.Tx = (*transaction)(nil)

func (tx *transaction) finish() { tx.done = true }

func (tx *transaction) check(ctx context.Context) error {
	if tx.done {
		return repositories.ErrTxDone
	}
	return ctx.Err()
}

// --- students ---

func (tx *transaction) CreateStudent(ctx context.Context, s *models.Student) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	s.ID = tx.state.next(models.KindStudent)
	tx.state.students[s.ID] = flatStudent(s)
	return nil
}

func (tx *transaction) GetStudent(ctx context.Context, id int64) (*models.Student, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	v, ok := tx.state.students[id]
	if !ok {
		return nil, fmt.Errorf("student %d: %w", id, repositories.ErrNotFound)
	}
	return studentOut(v), nil
}

func (tx *transaction) UpdateStudent(ctx context.Context, s *models.Student) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	if _, ok := tx.state.students[s.ID]; !ok {
		return fmt.Errorf("student %d: %w", s.ID, repositories.ErrNotFound)
	}
	tx.state.students[s.ID] = flatStudent(s)
	return nil
}

func (tx *transaction) DeleteStudent(ctx context.Context, id int64) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	if _, ok := tx.state.students[id]; !ok {
		return fmt.Errorf("student %d: %w", id, repositories.ErrNotFound)
	}
	for _, rid := range sortedIDs(tx.state.examResults) {
		if tx.state.examResults[rid].StudentID == id {
			return fmt.Errorf("student %d still owns exam result %d: %w", id, rid, repositories.ErrReferenced)
		}
	}
	for e := range tx.state.enrollments {
		if e.StudentID == id {
			return fmt.Errorf("student %d is still enrolled in course %d: %w", id, e.CourseID, repositories.ErrReferenced)
		}
	}
	for _, sid := range sortedIDs(tx.state.scholarships) {
		if holder := tx.state.scholarships[sid].StudentID; holder != nil && *holder == id {
			return fmt.Errorf("student %d still holds scholarship %d: %w", id, sid, repositories.ErrReferenced)
		}
	}
	delete(tx.state.students, id)
	return nil
}

func (tx *transaction) ListStudents(ctx context.Context) ([]*models.Student, error) {
	return tx.filterStudents(ctx, func(models.Student) bool { return true })
}

func (tx *transaction) FindStudentsByRegistrationNumber(ctx context.Context, number string) ([]*models.Student, error) {
	return tx.filterStudents(ctx, func(s models.Student) bool { return s.RegistrationNumber == number })
}

func (tx *transaction) FindStudentsByNameLike(ctx context.Context, pattern string) ([]*models.Student, error) {
	re, err := likePattern(pattern)
	if err != nil {
		return nil, err
	}
	return tx.filterStudents(ctx, func(s models.Student) bool { return re.MatchString(s.Name) })
}

func (tx *transaction) filterStudents(ctx context.Context, keep func(models.Student) bool) ([]*models.Student, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	out := []*models.Student{}
	for _, id := range sortedIDs(tx.state.students) {
		if v := tx.state.students[id]; keep(v) {
			out = append(out, studentOut(v))
		}
	}
	return out, nil
}

// --- courses ---

func (tx *transaction) CreateCourse(ctx context.Context, c *models.Course) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	c.ID = tx.state.next(models.KindCourse)
	tx.state.courses[c.ID] = *c
	return nil
}

func (tx *transaction) GetCourse(ctx context.Context, id int64) (*models.Course, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	v, ok := tx.state.courses[id]
	if !ok {
		return nil, fmt.Errorf("course %d: %w", id, repositories.ErrNotFound)
	}
	return &v, nil
}

func (tx *transaction) UpdateCourse(ctx context.Context, c *models.Course) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	if _, ok := tx.state.courses[c.ID]; !ok {
		return fmt.Errorf("course %d: %w", c.ID, repositories.ErrNotFound)
	}
	tx.state.courses[c.ID] = *c
	return nil
}

func (tx *transaction) DeleteCourse(ctx context.Context, id int64) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	if _, ok := tx.state.courses[id]; !ok {
		return fmt.Errorf("course %d: %w", id, repositories.ErrNotFound)
	}
	for e := range tx.state.enrollments {
		if e.CourseID == id {
			return fmt.Errorf("course %d still has student %d enrolled: %w", id, e.StudentID, repositories.ErrReferenced)
		}
	}
	delete(tx.state.courses, id)
	return nil
}

func (tx *transaction) ListCourses(ctx context.Context) ([]*models.Course, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	out := make([]*models.Course, 0, len(tx.state.courses))
	for _, id := range sortedIDs(tx.state.courses) {
		v := tx.state.courses[id]
		out = append(out, &v)
	}
	return out, nil
}

// --- enrollments ---

func (tx *transaction) Enroll(ctx context.Context, studentID, courseID int64) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	if _, ok := tx.state.students[studentID]; !ok {
		return fmt.Errorf("enrollment of unknown student %d: %w", studentID, repositories.ErrReferenced)
	}
	if _, ok := tx.state.courses[courseID]; !ok {
		return fmt.Errorf("enrollment in unknown course %d: %w", courseID, repositories.ErrReferenced)
	}
	tx.state.enrollments[enrollment{StudentID: studentID, CourseID: courseID}] = struct{}{}
	return nil
}

func (tx *transaction) Unenroll(ctx context.Context, studentID, courseID int64) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	delete(tx.state.enrollments, enrollment{StudentID: studentID, CourseID: courseID})
	return nil
}

func (tx *transaction) ListCourseIDs(ctx context.Context, studentID int64) ([]int64, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	ids := []int64{}
	for e := range tx.state.enrollments {
		if e.StudentID == studentID {
			ids = append(ids, e.CourseID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (tx *transaction) ListStudentIDs(ctx context.Context, courseID int64) ([]int64, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	ids := []int64{}
	for e := range tx.state.enrollments {
		if e.CourseID == courseID {
			ids = append(ids, e.StudentID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// --- exam results ---

func (tx *transaction) CreateExamResult(ctx context.Context, r *models.ExamResult) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	if _, ok := tx.state.students[r.StudentID]; !ok {
		return fmt.Errorf("exam result of unknown student %d: %w", r.StudentID, repositories.ErrReferenced)
	}
	r.ID = tx.state.next(models.KindExamResult)
	tx.state.examResults[r.ID] = *r
	return nil
}

func (tx *transaction) GetExamResult(ctx context.Context, id int64) (*models.ExamResult, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	v, ok := tx.state.examResults[id]
	if !ok {
		return nil, fmt.Errorf("exam result %d: %w", id, repositories.ErrNotFound)
	}
	return &v, nil
}

func (tx *transaction) UpdateExamResult(ctx context.Context, r *models.ExamResult) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	if _, ok := tx.state.examResults[r.ID]; !ok {
		return fmt.Errorf("exam result %d: %w", r.ID, repositories.ErrNotFound)
	}
	if _, ok := tx.state.students[r.StudentID]; !ok {
		return fmt.Errorf("exam result of unknown student %d: %w", r.StudentID, repositories.ErrReferenced)
	}
	tx.state.examResults[r.ID] = *r
	return nil
}

func (tx *transaction) DeleteExamResult(ctx context.Context, id int64) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	if _, ok := tx.state.examResults[id]; !ok {
		return fmt.Errorf("exam result %d: %w", id, repositories.ErrNotFound)
	}
	delete(tx.state.examResults, id)
	return nil
}

func (tx *transaction) ListExamResults(ctx context.Context) ([]*models.ExamResult, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	out := make([]*models.ExamResult, 0, len(tx.state.examResults))
	for _, id := range sortedIDs(tx.state.examResults) {
		v := tx.state.examResults[id]
		out = append(out, &v)
	}
	return out, nil
}

func (tx *transaction) ListExamResultsByStudent(ctx context.Context, studentID int64, filter repositories.MarkFilter) ([]*models.ExamResult, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	out := []*models.ExamResult{}
	for _, id := range sortedIDs(tx.state.examResults) {
		v := tx.state.examResults[id]
		if v.StudentID == studentID && filter.Match(v.Mark) {
			out = append(out, &v)
		}
	}
	return out, nil
}

// --- scholarships ---

// checkHolder enforces the foreign key and the unique constraint on student_id
func (tx *transaction) checkHolder(s *models.Scholarship) error {
	if s.StudentID == nil {
		return nil
	}
	holder := *s.StudentID
	if _, ok := tx.state.students[holder]; !ok {
		return fmt.Errorf("scholarship granted to unknown student %d: %w", holder, repositories.ErrReferenced)
	}
	for _, id := range sortedIDs(tx.state.scholarships) {
		other := tx.state.scholarships[id]
		if id != s.ID && other.StudentID != nil && *other.StudentID == holder {
			return fmt.Errorf("student %d already holds scholarship %d: %w", holder, id, repositories.ErrConflict)
		}
	}
	return nil
}

func (tx *transaction) CreateScholarship(ctx context.Context, s *models.Scholarship) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	if err := tx.checkHolder(s); err != nil {
		return err
	}
	s.ID = tx.state.next(models.KindScholarship)
	tx.state.scholarships[s.ID] = flatScholarship(s)
	return nil
}

func (tx *transaction) GetScholarship(ctx context.Context, id int64) (*models.Scholarship, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	v, ok := tx.state.scholarships[id]
	if !ok {
		return nil, fmt.Errorf("scholarship %d: %w", id, repositories.ErrNotFound)
	}
	return scholarshipOut(v), nil
}

func (tx *transaction) UpdateScholarship(ctx context.Context, s *models.Scholarship) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	if _, ok := tx.state.scholarships[s.ID]; !ok {
		return fmt.Errorf("scholarship %d: %w", s.ID, repositories.ErrNotFound)
	}
	if err := tx.checkHolder(s); err != nil {
		return err
	}
	tx.state.scholarships[s.ID] = flatScholarship(s)
	return nil
}

func (tx *transaction) DeleteScholarship(ctx context.Context, id int64) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	if _, ok := tx.state.scholarships[id]; !ok {
		return fmt.Errorf("scholarship %d: %w", id, repositories.ErrNotFound)
	}
	delete(tx.state.scholarships, id)
	return nil
}

func (tx *transaction) ListScholarships(ctx context.Context) ([]*models.Scholarship, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	out := make([]*models.Scholarship, 0, len(tx.state.scholarships))
	for _, id := range sortedIDs(tx.state.scholarships) {
		out = append(out, scholarshipOut(tx.state.scholarships[id]))
	}
	return out, nil
}

func (tx *transaction) GetScholarshipByStudent(ctx context.Context, studentID int64) (*models.Scholarship, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	for _, id := range sortedIDs(tx.state.scholarships) {
		v := tx.state.scholarships[id]
		if v.StudentID != nil && *v.StudentID == studentID {
			return scholarshipOut(v), nil
		}
	}
	return nil, fmt.Errorf("scholarship of student %d: %w", studentID, repositories.ErrNotFound)
}
