package seed

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	appModels "github.com/yigit/studentrecords/internal/app/models"
	appServices "github.com/yigit/studentrecords/internal/app/services"
	"github.com/yigit/studentrecords/internal/pkg/apperrors"
)

type demoStudent struct {
	registrationNumber string
	name               string
	courses            []string
	marks              map[string]int
	scholarship        *appModels.Scholarship
}

var demoCourses = map[string]string{
	"188.951": "Web Engineering",
	"188.923": "Model Engineering",
	"184.686": "Distributed Systems",
}

var demoStudents = []demoStudent{
	{
		registrationNumber: "0123565",
		name:               "Max Mustermann",
		courses:            []string{"188.951", "188.923"},
		marks:              map[string]int{"Web Engineering": 1, "Model Engineering": 5},
		scholarship:        &appModels.Scholarship{Amount: 1000, Description: "Scholarship A"},
	},
	{
		registrationNumber: "1699394",
		name:               "Erika Musterfrau",
		courses:            []string{"188.951", "184.686"},
		marks:              map[string]int{"Web Engineering": 2, "Distributed Systems": 3},
	},
	{
		registrationNumber: "29383929",
		name:               "Student A",
		courses:            []string{"184.686"},
	},
}

// CreateDemoData stores a small set of students, courses, exam results and a
// scholarship. Students that already exist are left alone, so running it
// twice is harmless. Errors of single students do not stop the others.
func CreateDemoData(ctx context.Context, svc *appServices.PersistenceService, lgr zerolog.Logger) error {
	lgr.Info().Msg("Checking/Creating demo data (Students/Courses)...")

	courses, err := ensureCourses(ctx, svc)
	if err != nil {
		lgr.Error().Err(err).Msg("Error creating demo courses")
		return err
	}

	var finalErr error
	for _, d := range demoStudents {
		err := svc.RunInTransaction(ctx, func(ctx context.Context, s *appServices.Session) error {
			_, err := svc.FindByRegistrationNumber(ctx, s, d.registrationNumber)
			if err == nil {
				return nil
			}
			if !errors.Is(err, apperrors.ErrNotFound) {
				return err
			}

			loginTime := time.Date(2014, time.December, 12, 14, 0, 0, 0, time.UTC)
			st := &appModels.Student{RegistrationNumber: d.registrationNumber, Name: d.name, LoginTime: &loginTime}
			for _, number := range d.courses {
				c, err := svc.FindCourse(ctx, s, courses[number])
				if err != nil {
					return err
				}
				st.AddCourse(c)
			}
			for exam, mark := range d.marks {
				st.AddExamResult(&appModels.ExamResult{Exam: exam, Mark: mark})
			}
			if d.scholarship != nil {
				sc := *d.scholarship
				st.AddScholarship(&sc)
			}
			if err := svc.Persist(ctx, s, st); err != nil {
				return err
			}
			lgr.Info().Int64("id", st.ID).Str("registrationNumber", st.RegistrationNumber).Msg("Demo student created")
			return nil
		})
		if err != nil {
			lgr.Error().Err(err).Str("registrationNumber", d.registrationNumber).Msg("Error creating demo student")
			finalErr = multierr.Append(finalErr, err)
		}
	}
	return finalErr
}

// ensureCourses returns the ids of the demo courses by course number,
// creating the missing ones
func ensureCourses(ctx context.Context, svc *appServices.PersistenceService) (map[string]int64, error) {
	ids := map[string]int64{}
	err := svc.RunInTransaction(ctx, func(ctx context.Context, s *appServices.Session) error {
		existing, err := svc.AllCourses(ctx, s)
		if err != nil {
			return err
		}
		for _, c := range existing {
			if _, demo := demoCourses[c.CourseNumber]; demo {
				ids[c.CourseNumber] = c.ID
			}
		}
		for number, title := range demoCourses {
			if _, ok := ids[number]; ok {
				continue
			}
			c := &appModels.Course{CourseNumber: number, Title: title}
			if err := svc.Persist(ctx, s, c); err != nil {
				return err
			}
			ids[number] = c.ID
		}
		return nil
	})
	return ids, err
}
