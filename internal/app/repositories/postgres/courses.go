package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/yigit/studentrecords/internal/app/models"
)

func scanCourse(row pgx.Row) (*models.Course, error) {
	c := &models.Course{}
	if err := row.Scan(&c.ID, &c.CourseNumber, &c.Title); err != nil {
		return nil, err
	}
	return c, nil
}

func (t *transaction) CreateCourse(ctx context.Context, c *models.Course) error {
	q := t.sb.Insert("courses").
		Columns("course_number", "title").
		Values(c.CourseNumber, c.Title).
		Suffix("RETURNING id")

	id, err := selectOne(ctx, t, q, "create course", scanID)
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}

func (t *transaction) GetCourse(ctx context.Context, id int64) (*models.Course, error) {
	q := t.sb.Select("id", "course_number", "title").From("courses").Where(squirrel.Eq{"id": id}).Limit(1)
	return selectOne(ctx, t, q, fmt.Sprintf("get course %d", id), scanCourse)
}

func (t *transaction) UpdateCourse(ctx context.Context, c *models.Course) error {
	q := t.sb.Update("courses").
		Set("course_number", c.CourseNumber).
		Set("title", c.Title).
		Where(squirrel.Eq{"id": c.ID})
	return t.execOne(ctx, q, fmt.Sprintf("update course %d", c.ID))
}

func (t *transaction) DeleteCourse(ctx context.Context, id int64) error {
	q := t.sb.Delete("courses").Where(squirrel.Eq{"id": id})
	return t.execOne(ctx, q, fmt.Sprintf("delete course %d", id))
}

func (t *transaction) ListCourses(ctx context.Context) ([]*models.Course, error) {
	q := t.sb.Select("id", "course_number", "title").From("courses").OrderBy("id ASC")
	return selectMany(ctx, t, q, "list courses", scanCourse)
}

// Enroll links a student to a course; an existing link is left alone
func (t *transaction) Enroll(ctx context.Context, studentID, courseID int64) error {
	q := t.sb.Insert("student_courses").
		Columns("student_id", "course_id").
		Values(studentID, courseID).
		Suffix("ON CONFLICT (student_id, course_id) DO NOTHING")
	_, err := t.exec(ctx, q, fmt.Sprintf("enroll student %d in course %d", studentID, courseID))
	return err
}

func (t *transaction) Unenroll(ctx context.Context, studentID, courseID int64) error {
	q := t.sb.Delete("student_courses").Where(squirrel.Eq{"student_id": studentID, "course_id": courseID})
	_, err := t.exec(ctx, q, fmt.Sprintf("unenroll student %d from course %d", studentID, courseID))
	return err
}

func (t *transaction) ListCourseIDs(ctx context.Context, studentID int64) ([]int64, error) {
	q := t.sb.Select("course_id").From("student_courses").
		Where(squirrel.Eq{"student_id": studentID}).
		OrderBy("course_id ASC")
	return selectMany(ctx, t, q, "list courses of student", scanID)
}

func (t *transaction) ListStudentIDs(ctx context.Context, courseID int64) ([]int64, error) {
	q := t.sb.Select("student_id").From("student_courses").
		Where(squirrel.Eq{"course_id": courseID}).
		OrderBy("student_id ASC")
	return selectMany(ctx, t, q, "list students of course", scanID)
}
