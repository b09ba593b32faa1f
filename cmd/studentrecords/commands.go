package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yigit/studentrecords/internal/app/models"
	"github.com/yigit/studentrecords/internal/app/services"
	"github.com/yigit/studentrecords/internal/bootstrap"
	"github.com/yigit/studentrecords/internal/pkg/helpers"
	"github.com/yigit/studentrecords/internal/seed"
)

func idArg(c *cli.Context, what string) (int64, error) {
	if c.NArg() != 1 {
		return 0, fmt.Errorf("expected exactly one %s id argument", what)
	}
	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, c.Args().First())
	}
	return id, nil
}

func (r *runner) demo(c *cli.Context) error {
	p, err := r.printer(c)
	if err != nil {
		return err
	}
	return r.withService(c, func(ctx context.Context, deps *bootstrap.Dependencies) error {
		if err := seed.CreateDemoData(ctx, deps.Persistence, deps.Logger); err != nil {
			return err
		}
		svc := deps.Persistence
		return svc.RunInTransaction(ctx, func(ctx context.Context, s *services.Session) error {
			students, err := svc.AllStudents(ctx, s)
			if err != nil {
				return err
			}
			return p.students(students)
		})
	})
}

func studentCommands(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "students",
		Usage: "manage students",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "add a student",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "registration-number", Aliases: []string{"r"}, Required: true},
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}},
					&cli.TimestampFlag{Name: "login-time", Layout: time.RFC3339},
				},
				Action: r.addStudent,
			},
			{
				Name:  "list",
				Usage: "list all students, or one page of them",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "page", Usage: "1-based page, 0 lists every student"},
					&cli.IntFlag{Name: "size", Value: helpers.DefaultPageSize, Usage: "students per page"},
				},
				Action: r.listStudents,
			},
			{
				Name:      "show",
				Usage:     "show one student with its courses and exam results",
				ArgsUsage: "<student id>",
				Action:    r.showStudent,
			},
			{
				Name:  "find",
				Usage: "find students by registration number or name pattern",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "registration-number", Aliases: []string{"r"}},
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "SQL LIKE pattern, case-sensitive"},
				},
				Action: r.findStudents,
			},
			{
				Name:      "remove",
				Usage:     "remove a student, its exam results and its links",
				ArgsUsage: "<student id>",
				Action:    r.removeStudent,
			},
		},
	}
}

func (r *runner) addStudent(c *cli.Context) error {
	p, err := r.printer(c)
	if err != nil {
		return err
	}
	return r.withService(c, func(ctx context.Context, deps *bootstrap.Dependencies) error {
		svc := deps.Persistence
		return svc.RunInTransaction(ctx, func(ctx context.Context, s *services.Session) error {
			st := &models.Student{
				RegistrationNumber: c.String("registration-number"),
				Name:               c.String("name"),
				LoginTime:          c.Timestamp("login-time"),
			}
			if err := svc.Persist(ctx, s, st); err != nil {
				return err
			}
			return p.student(st)
		})
	})
}

func (r *runner) listStudents(c *cli.Context) error {
	p, err := r.printer(c)
	if err != nil {
		return err
	}
	return r.withService(c, func(ctx context.Context, deps *bootstrap.Dependencies) error {
		svc := deps.Persistence
		return svc.RunInTransaction(ctx, func(ctx context.Context, s *services.Session) error {
			students, err := svc.AllStudents(ctx, s)
			if err != nil {
				return err
			}
			if c.Int("page") <= 0 {
				return p.students(students)
			}
			page, info := helpers.Paginate(students, c.Int("page"), c.Int("size"))
			if err := p.students(page); err != nil {
				return err
			}
			return p.pageFooter(info)
		})
	})
}

func (r *runner) showStudent(c *cli.Context) error {
	id, err := idArg(c, "student")
	if err != nil {
		return err
	}
	p, err := r.printer(c)
	if err != nil {
		return err
	}
	return r.withService(c, func(ctx context.Context, deps *bootstrap.Dependencies) error {
		svc := deps.Persistence
		return svc.RunInTransaction(ctx, func(ctx context.Context, s *services.Session) error {
			st, err := svc.FindStudent(ctx, s, id)
			if err != nil {
				return err
			}
			return p.student(st)
		})
	})
}

func (r *runner) findStudents(c *cli.Context) error {
	number, pattern := c.String("registration-number"), c.String("name")
	if (number == "") == (pattern == "") {
		return fmt.Errorf("exactly one of --registration-number and --name is required")
	}
	p, err := r.printer(c)
	if err != nil {
		return err
	}
	return r.withService(c, func(ctx context.Context, deps *bootstrap.Dependencies) error {
		svc := deps.Persistence
		return svc.RunInTransaction(ctx, func(ctx context.Context, s *services.Session) error {
			if number != "" {
				st, err := svc.FindByRegistrationNumber(ctx, s, number)
				if err != nil {
					return err
				}
				return p.student(st)
			}
			students, err := svc.FindByNameLike(ctx, s, pattern)
			if err != nil {
				return err
			}
			return p.students(students)
		})
	})
}

func (r *runner) removeStudent(c *cli.Context) error {
	id, err := idArg(c, "student")
	if err != nil {
		return err
	}
	return r.inTransaction(c, func(ctx context.Context, s *services.Session) error {
		svc := s.Service()
		st, err := svc.FindStudent(ctx, s, id)
		if err != nil {
			return err
		}
		if err := svc.Remove(ctx, s, st); err != nil {
			return err
		}
		_, err = fmt.Fprintf(r.out, "Student %d removed\n", id)
		return err
	})
}

func examCommands(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "exams",
		Usage: "manage exam results",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "add an exam result to a student",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "student", Aliases: []string{"s"}, Required: true},
					&cli.StringFlag{Name: "exam", Aliases: []string{"e"}, Required: true},
					&cli.IntFlag{Name: "mark", Aliases: []string{"m"}, Required: true},
				},
				Action: r.addExamResult,
			},
			{
				Name:      "positive",
				Usage:     "list the passed exams (mark below 5) of a student",
				ArgsUsage: "<student id>",
				Action:    r.examResults(true),
			},
			{
				Name:      "negative",
				Usage:     "list the failed exams (mark 5) of a student",
				ArgsUsage: "<student id>",
				Action:    r.examResults(false),
			},
		},
	}
}

func (r *runner) addExamResult(c *cli.Context) error {
	p, err := r.printer(c)
	if err != nil {
		return err
	}
	return r.inTransaction(c, func(ctx context.Context, s *services.Session) error {
		svc := s.Service()
		st, err := svc.FindStudent(ctx, s, c.Int64("student"))
		if err != nil {
			return err
		}
		result := &models.ExamResult{Exam: c.String("exam"), Mark: c.Int("mark")}
		st.AddExamResult(result)
		// persisting the managed student cascades to the new result
		if err := svc.Persist(ctx, s, st); err != nil {
			return err
		}
		return p.examResults([]*models.ExamResult{result})
	})
}

func (r *runner) examResults(positive bool) cli.ActionFunc {
	return func(c *cli.Context) error {
		id, err := idArg(c, "student")
		if err != nil {
			return err
		}
		p, err := r.printer(c)
		if err != nil {
			return err
		}
		return r.inTransaction(c, func(ctx context.Context, s *services.Session) error {
			svc := s.Service()
			st, err := svc.FindStudent(ctx, s, id)
			if err != nil {
				return err
			}
			var results []*models.ExamResult
			if positive {
				results, err = svc.PositiveExamResults(ctx, s, st)
			} else {
				results, err = svc.NegativeExamResults(ctx, s, st)
			}
			if err != nil {
				return err
			}
			return p.examResults(results)
		})
	}
}

func courseCommands(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "courses",
		Usage: "manage courses",
		Subcommands: []*cli.Command{
			{
				Name:  "enroll",
				Usage: "enroll a student in a course, creating the course when its number is new",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "student", Aliases: []string{"s"}, Required: true},
					&cli.StringFlag{Name: "number", Aliases: []string{"n"}, Required: true},
					&cli.StringFlag{Name: "title", Aliases: []string{"t"}},
				},
				Action: r.enroll,
			},
			{
				Name:   "list",
				Usage:  "list all courses",
				Action: r.listCourses,
			},
		},
	}
}

func (r *runner) enroll(c *cli.Context) error {
	p, err := r.printer(c)
	if err != nil {
		return err
	}
	return r.inTransaction(c, func(ctx context.Context, s *services.Session) error {
		svc := s.Service()
		st, err := svc.FindStudent(ctx, s, c.Int64("student"))
		if err != nil {
			return err
		}
		all, err := svc.AllCourses(ctx, s)
		if err != nil {
			return err
		}
		var course *models.Course
		for _, existing := range all {
			if existing.CourseNumber == c.String("number") {
				course = existing
				break
			}
		}
		if course == nil {
			course = &models.Course{CourseNumber: c.String("number"), Title: c.String("title")}
		}
		st.AddCourse(course)
		if err := svc.Persist(ctx, s, st); err != nil {
			return err
		}
		return p.courses(st.Courses)
	})
}

func (r *runner) listCourses(c *cli.Context) error {
	p, err := r.printer(c)
	if err != nil {
		return err
	}
	return r.inTransaction(c, func(ctx context.Context, s *services.Session) error {
		courses, err := s.Service().AllCourses(ctx, s)
		if err != nil {
			return err
		}
		return p.courses(courses)
	})
}

func scholarshipCommands(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "scholarships",
		Usage: "manage scholarships",
		Subcommands: []*cli.Command{
			{
				Name:  "grant",
				Usage: "grant a new or an existing scholarship to a student",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "student", Aliases: []string{"s"}, Required: true},
					&cli.Int64Flag{Name: "id", Usage: "existing scholarship to move to the student"},
					&cli.Int64Flag{Name: "amount", Aliases: []string{"a"}},
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}},
				},
				Action: r.grant,
			},
			{
				Name:  "revoke",
				Usage: "revoke the scholarship of a student; the scholarship is kept",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "student", Aliases: []string{"s"}, Required: true},
				},
				Action: r.revoke,
			},
			{
				Name:   "list",
				Usage:  "list all scholarships",
				Action: r.listScholarships,
			},
		},
	}
}

func (r *runner) grant(c *cli.Context) error {
	p, err := r.printer(c)
	if err != nil {
		return err
	}
	return r.inTransaction(c, func(ctx context.Context, s *services.Session) error {
		svc := s.Service()
		st, err := svc.FindStudent(ctx, s, c.Int64("student"))
		if err != nil {
			return err
		}
		sc := &models.Scholarship{Amount: c.Int64("amount"), Description: c.String("description")}
		if id := c.Int64("id"); id != 0 {
			if sc, err = svc.FindScholarship(ctx, s, id); err != nil {
				return err
			}
		}
		st.AddScholarship(sc)
		merged, err := svc.MergeStudent(ctx, s, st)
		if err != nil {
			return err
		}
		return p.scholarships([]*models.Scholarship{merged.Scholarship})
	})
}

func (r *runner) revoke(c *cli.Context) error {
	return r.inTransaction(c, func(ctx context.Context, s *services.Session) error {
		svc := s.Service()
		st, err := svc.FindStudent(ctx, s, c.Int64("student"))
		if err != nil {
			return err
		}
		if st.Scholarship == nil {
			_, err := fmt.Fprintf(r.out, "Student %d holds no scholarship\n", st.ID)
			return err
		}
		id := st.Scholarship.ID
		st.SetScholarship(nil)
		if _, err := svc.MergeStudent(ctx, s, st); err != nil {
			return err
		}
		_, err = fmt.Fprintf(r.out, "Scholarship %d revoked from student %d\n", id, st.ID)
		return err
	})
}

func (r *runner) listScholarships(c *cli.Context) error {
	p, err := r.printer(c)
	if err != nil {
		return err
	}
	return r.inTransaction(c, func(ctx context.Context, s *services.Session) error {
		scholarships, err := s.Service().AllScholarships(ctx, s)
		if err != nil {
			return err
		}
		return p.scholarships(scholarships)
	})
}
