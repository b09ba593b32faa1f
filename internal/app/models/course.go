package models

// Course represents a course students can be enrolled in. Courses are shared
// between students and have no lifecycle dependency on any of them.
type Course struct {
	ID           int64  `json:"id" db:"id"`
	CourseNumber string `json:"courseNumber" db:"course_number"`
	Title        string `json:"title" db:"title"`
}

func (c *Course) EntityKind() Kind { return KindCourse }
func (c *Course) EntityID() int64  { return c.ID }
