package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/yigit/studentrecords/internal/app/models"
	"github.com/yigit/studentrecords/internal/pkg/helpers"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

type printer struct {
	out    io.Writer
	format string
}

func newPrinter(out io.Writer, format string) (*printer, error) {
	switch f := strings.ToLower(format); f {
	case formatTable, formatJSON, formatYAML:
		return &printer{out: out, format: f}, nil
	case "yml":
		return &printer{out: out, format: formatYAML}, nil
	}
	return nil, fmt.Errorf("invalid output format %q", format)
}

// structured prints v as JSON or YAML and reports whether it did. YAML goes
// through JSON so both formats share the json field names.
func (p *printer) structured(v interface{}) (bool, error) {
	switch p.format {
	case formatJSON:
		buffer, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, fmt.Errorf("failed to marshal output: %w", err)
		}
		_, err = fmt.Fprintf(p.out, "%s\n", buffer)
		return true, err
	case formatYAML:
		buffer, err := json.Marshal(v)
		if err != nil {
			return true, fmt.Errorf("failed to marshal output: %w", err)
		}
		var dat interface{}
		if err := json.Unmarshal(buffer, &dat); err != nil {
			return true, fmt.Errorf("failed to unmarshal output: %w", err)
		}
		out, err := yaml.Marshal(dat)
		if err != nil {
			return true, fmt.Errorf("failed to marshal output: %w", err)
		}
		_, err = p.out.Write(out)
		return true, err
	}
	return false, nil
}

func (p *printer) table(header string, rows [][]string) error {
	w := tabwriter.NewWriter(p.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, header)
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}

func (p *printer) students(students []*models.Student) error {
	if done, err := p.structured(students); done {
		return err
	}
	rows := make([][]string, 0, len(students))
	for _, s := range students {
		scholarship := "-"
		if s.Scholarship != nil {
			scholarship = fmt.Sprintf("%d (%d)", s.Scholarship.ID, s.Scholarship.Amount)
		}
		login := "-"
		if s.LoginTime != nil {
			login = s.LoginTime.Format(time.RFC3339)
		}
		rows = append(rows, []string{
			fmt.Sprint(s.ID), s.RegistrationNumber, s.Name, login,
			fmt.Sprint(len(s.Courses)), fmt.Sprint(len(s.ExamResults)), scholarship,
		})
	}
	return p.table("ID\tREGISTRATION\tNAME\tLOGIN\tCOURSES\tEXAMS\tSCHOLARSHIP", rows)
}

// pageFooter closes a paged table. Structured output carries the page only.
func (p *printer) pageFooter(info helpers.PaginationInfo) error {
	if p.format != formatTable {
		return nil
	}
	_, err := fmt.Fprintf(p.out, "page %d of %d, %d students\n", info.CurrentPage, info.TotalPages, info.TotalItems)
	return err
}

func (p *printer) student(s *models.Student) error {
	if done, err := p.structured(s); done {
		return err
	}
	if err := p.students([]*models.Student{s}); err != nil {
		return err
	}
	if len(s.Courses) > 0 {
		fmt.Fprintln(p.out)
		if err := p.courses(s.Courses); err != nil {
			return err
		}
	}
	if len(s.ExamResults) > 0 {
		fmt.Fprintln(p.out)
		if err := p.examResults(s.ExamResults); err != nil {
			return err
		}
	}
	return nil
}

func (p *printer) courses(courses []*models.Course) error {
	if done, err := p.structured(courses); done {
		return err
	}
	rows := make([][]string, 0, len(courses))
	for _, c := range courses {
		rows = append(rows, []string{fmt.Sprint(c.ID), c.CourseNumber, c.Title})
	}
	return p.table("ID\tNUMBER\tTITLE", rows)
}

func (p *printer) examResults(results []*models.ExamResult) error {
	if done, err := p.structured(results); done {
		return err
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		outcome := "unclassified"
		switch {
		case r.IsPositive():
			outcome = "positive"
		case r.IsNegative():
			outcome = "negative"
		}
		rows = append(rows, []string{fmt.Sprint(r.ID), fmt.Sprint(r.StudentID), r.Exam, fmt.Sprint(r.Mark), outcome})
	}
	return p.table("ID\tSTUDENT\tEXAM\tMARK\tOUTCOME", rows)
}

func (p *printer) scholarships(scholarships []*models.Scholarship) error {
	if done, err := p.structured(scholarships); done {
		return err
	}
	rows := make([][]string, 0, len(scholarships))
	for _, s := range scholarships {
		holder := "-"
		switch {
		case s.GrantedTo != nil:
			holder = fmt.Sprintf("%d (%s)", s.GrantedTo.ID, s.GrantedTo.RegistrationNumber)
		case s.Granted():
			holder = fmt.Sprint(*s.StudentID)
		}
		rows = append(rows, []string{fmt.Sprint(s.ID), fmt.Sprint(s.Amount), s.Description, holder})
	}
	return p.table("ID\tAMOUNT\tDESCRIPTION\tGRANTED TO", rows)
}
