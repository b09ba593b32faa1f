package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/yigit/studentrecords/internal/app/models"
	"github.com/yigit/studentrecords/internal/app/repositories"
)

var examResultColumns = []string{"id", "student_id", "exam", "mark"}

func scanExamResult(row pgx.Row) (*models.ExamResult, error) {
	r := &models.ExamResult{}
	if err := row.Scan(&r.ID, &r.StudentID, &r.Exam, &r.Mark); err != nil {
		return nil, err
	}
	return r, nil
}

func (t *transaction) CreateExamResult(ctx context.Context, r *models.ExamResult) error {
	q := t.sb.Insert("exam_results").
		Columns("student_id", "exam", "mark").
		Values(r.StudentID, r.Exam, r.Mark).
		Suffix("RETURNING id")

	id, err := selectOne(ctx, t, q, "create exam result", scanID)
	if err != nil {
		return err
	}
	r.ID = id
	return nil
}

func (t *transaction) GetExamResult(ctx context.Context, id int64) (*models.ExamResult, error) {
	q := t.sb.Select(examResultColumns...).From("exam_results").Where(squirrel.Eq{"id": id}).Limit(1)
	return selectOne(ctx, t, q, fmt.Sprintf("get exam result %d", id), scanExamResult)
}

func (t *transaction) UpdateExamResult(ctx context.Context, r *models.ExamResult) error {
	q := t.sb.Update("exam_results").
		SetMap(map[string]interface{}{
			"student_id": r.StudentID,
			"exam":       r.Exam,
			"mark":       r.Mark,
		}).
		Where(squirrel.Eq{"id": r.ID})
	return t.execOne(ctx, q, fmt.Sprintf("update exam result %d", r.ID))
}

func (t *transaction) DeleteExamResult(ctx context.Context, id int64) error {
	q := t.sb.Delete("exam_results").Where(squirrel.Eq{"id": id})
	return t.execOne(ctx, q, fmt.Sprintf("delete exam result %d", id))
}

func (t *transaction) ListExamResults(ctx context.Context) ([]*models.ExamResult, error) {
	q := t.sb.Select(examResultColumns...).From("exam_results").OrderBy("id ASC")
	return selectMany(ctx, t, q, "list exam results", scanExamResult)
}

// ListExamResultsByStudent returns the student's exam results passing filter
func (t *transaction) ListExamResultsByStudent(ctx context.Context, studentID int64, filter repositories.MarkFilter) ([]*models.ExamResult, error) {
	q := t.sb.Select(examResultColumns...).From("exam_results").
		Where(squirrel.Eq{"student_id": studentID}).
		OrderBy("id ASC")

	switch filter.Op {
	case repositories.MarkBelow:
		q = q.Where(squirrel.Lt{"mark": filter.Value})
	case repositories.MarkEqual:
		q = q.Where(squirrel.Eq{"mark": filter.Value})
	}

	return selectMany(ctx, t, q, "list exam results of student", scanExamResult)
}
