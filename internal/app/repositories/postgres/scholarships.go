package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/yigit/studentrecords/internal/app/models"
)

var scholarshipColumns = []string{"id", "amount", "description", "student_id"}

func scanScholarship(row pgx.Row) (*models.Scholarship, error) {
	s := &models.Scholarship{}
	if err := row.Scan(&s.ID, &s.Amount, &s.Description, &s.StudentID); err != nil {
		return nil, err
	}
	return s, nil
}

func (t *transaction) CreateScholarship(ctx context.Context, s *models.Scholarship) error {
	q := t.sb.Insert("scholarships").
		Columns("amount", "description", "student_id").
		Values(s.Amount, s.Description, s.StudentID).
		Suffix("RETURNING id")

	id, err := selectOne(ctx, t, q, "create scholarship", scanID)
	if err != nil {
		return err
	}
	s.ID = id
	return nil
}

func (t *transaction) GetScholarship(ctx context.Context, id int64) (*models.Scholarship, error) {
	q := t.sb.Select(scholarshipColumns...).From("scholarships").Where(squirrel.Eq{"id": id}).Limit(1)
	return selectOne(ctx, t, q, fmt.Sprintf("get scholarship %d", id), scanScholarship)
}

func (t *transaction) UpdateScholarship(ctx context.Context, s *models.Scholarship) error {
	q := t.sb.Update("scholarships").
		SetMap(map[string]interface{}{
			"amount":      s.Amount,
			"description": s.Description,
			"student_id":  s.StudentID,
		}).
		Where(squirrel.Eq{"id": s.ID})
	return t.execOne(ctx, q, fmt.Sprintf("update scholarship %d", s.ID))
}

func (t *transaction) DeleteScholarship(ctx context.Context, id int64) error {
	q := t.sb.Delete("scholarships").Where(squirrel.Eq{"id": id})
	return t.execOne(ctx, q, fmt.Sprintf("delete scholarship %d", id))
}

func (t *transaction) ListScholarships(ctx context.Context) ([]*models.Scholarship, error) {
	q := t.sb.Select(scholarshipColumns...).From("scholarships").OrderBy("id ASC")
	return selectMany(ctx, t, q, "list scholarships", scanScholarship)
}

func (t *transaction) GetScholarshipByStudent(ctx context.Context, studentID int64) (*models.Scholarship, error) {
	q := t.sb.Select(scholarshipColumns...).From("scholarships").
		Where(squirrel.Eq{"student_id": studentID}).
		Limit(1)
	return selectOne(ctx, t, q, fmt.Sprintf("get scholarship of student %d", studentID), scanScholarship)
}
