package models

// Scholarship is granted to at most one student at a time and can be moved
// between students.
type Scholarship struct {
	ID          int64  `json:"id" db:"id"`
	Amount      int64  `json:"amount" db:"amount"`
	Description string `json:"description" db:"description"`
	StudentID   *int64 `json:"studentId,omitempty" db:"student_id"` // Stored link column, nil when not granted

	// Relations (populated when needed)
	GrantedTo *Student `json:"-"`
}

func (s *Scholarship) EntityKind() Kind { return KindScholarship }
func (s *Scholarship) EntityID() int64  { return s.ID }

// Granted reports whether the scholarship is currently linked to a student
func (s *Scholarship) Granted() bool {
	return s.GrantedTo != nil || s.StudentID != nil
}
