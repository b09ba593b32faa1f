package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/yigit/studentrecords/internal/app/models"
)

var studentColumns = []string{"id", "registration_number", "name", "login_time"}

func scanStudent(row pgx.Row) (*models.Student, error) {
	s := &models.Student{}
	if err := row.Scan(&s.ID, &s.RegistrationNumber, &s.Name, &s.LoginTime); err != nil {
		return nil, err
	}
	return s, nil
}

func (t *transaction) selectStudents() squirrel.SelectBuilder {
	return t.sb.Select(studentColumns...).From("students").OrderBy("id ASC")
}

// CreateStudent inserts a student and assigns its id
func (t *transaction) CreateStudent(ctx context.Context, s *models.Student) error {
	q := t.sb.Insert("students").
		Columns("registration_number", "name", "login_time").
		Values(s.RegistrationNumber, s.Name, s.LoginTime).
		Suffix("RETURNING id")

	id, err := selectOne(ctx, t, q, "create student", scanID)
	if err != nil {
		return err
	}
	s.ID = id
	return nil
}

// GetStudent retrieves a student row by id
func (t *transaction) GetStudent(ctx context.Context, id int64) (*models.Student, error) {
	q := t.sb.Select(studentColumns...).From("students").Where(squirrel.Eq{"id": id}).Limit(1)
	return selectOne(ctx, t, q, fmt.Sprintf("get student %d", id), scanStudent)
}

// UpdateStudent overwrites the stored columns of a student
func (t *transaction) UpdateStudent(ctx context.Context, s *models.Student) error {
	q := t.sb.Update("students").
		SetMap(map[string]interface{}{
			"registration_number": s.RegistrationNumber,
			"name":                s.Name,
			"login_time":          s.LoginTime,
		}).
		Where(squirrel.Eq{"id": s.ID})
	return t.execOne(ctx, q, fmt.Sprintf("update student %d", s.ID))
}

// DeleteStudent deletes a student row. Foreign keys reject the delete while
// the student is still referenced.
func (t *transaction) DeleteStudent(ctx context.Context, id int64) error {
	q := t.sb.Delete("students").Where(squirrel.Eq{"id": id})
	return t.execOne(ctx, q, fmt.Sprintf("delete student %d", id))
}

// ListStudents returns every student ordered by id
func (t *transaction) ListStudents(ctx context.Context) ([]*models.Student, error) {
	return selectMany(ctx, t, t.selectStudents(), "list students", scanStudent)
}

// FindStudentsByRegistrationNumber returns students with exactly this number
func (t *transaction) FindStudentsByRegistrationNumber(ctx context.Context, number string) ([]*models.Student, error) {
	q := t.selectStudents().Where(squirrel.Eq{"registration_number": number})
	return selectMany(ctx, t, q, "find students by registration number", scanStudent)
}

// FindStudentsByNameLike returns students whose name matches the LIKE pattern
func (t *transaction) FindStudentsByNameLike(ctx context.Context, pattern string) ([]*models.Student, error) {
	q := t.selectStudents().Where(squirrel.Like{"name": pattern})
	return selectMany(ctx, t, q, "find students by name", scanStudent)
}
