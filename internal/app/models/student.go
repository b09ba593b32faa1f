package models

import "time"

// Student defines the student model based on the 'students' table
type Student struct {
	ID                 int64      `json:"id" db:"id"`                                   // Assigned on first insert, zero while transient
	RegistrationNumber string     `json:"registrationNumber" db:"registration_number"` // Matriculation number used for lookups
	Name               string     `json:"name" db:"name"`
	LoginTime          *time.Time `json:"loginTime,omitempty" db:"login_time"` // Nullable

	// Relations (populated when loaded through the persistence service)
	Courses     []*Course     `json:"courses,omitempty"`     // many-to-many via student_courses
	ExamResults []*ExamResult `json:"examResults,omitempty"` // owned, deleted with the student
	Scholarship *Scholarship  `json:"scholarship,omitempty"` // at most one
}

func (s *Student) EntityKind() Kind { return KindStudent }
func (s *Student) EntityID() int64  { return s.ID }

// AddCourse links a course to the student. Adding the same course twice is a no-op.
func (s *Student) AddCourse(c *Course) {
	for _, existing := range s.Courses {
		if existing == c {
			return
		}
	}
	s.Courses = append(s.Courses, c)
}

// RemoveCourse unlinks a course, matching by instance or by id. It reports
// whether a course was removed.
func (s *Student) RemoveCourse(c *Course) bool {
	for i, existing := range s.Courses {
		if existing == c || (c.ID != 0 && existing.ID == c.ID) {
			s.Courses = append(s.Courses[:i:i], s.Courses[i+1:]...)
			return true
		}
	}
	return false
}

// AddExamResult attaches an exam result to the student
func (s *Student) AddExamResult(r *ExamResult) {
	for _, existing := range s.ExamResults {
		if existing == r {
			return
		}
	}
	r.StudentID = s.ID
	s.ExamResults = append(s.ExamResults, r)
}

// RemoveExamResult detaches an exam result, matching by instance or by id
func (s *Student) RemoveExamResult(r *ExamResult) bool {
	for i, existing := range s.ExamResults {
		if existing == r || (r.ID != 0 && existing.ID == r.ID) {
			s.ExamResults = append(s.ExamResults[:i:i], s.ExamResults[i+1:]...)
			return true
		}
	}
	return false
}

// AddScholarship grants sc to the student and keeps both sides of the
// one-to-one link consistent in memory: the previous holder of sc loses it
// and the student's previous scholarship loses its holder. Passing nil
// revokes the current scholarship. Storage is updated when the student is
// merged or persisted.
func (s *Student) AddScholarship(sc *Scholarship) {
	if old := s.Scholarship; old != nil && old != sc && old.GrantedTo == s {
		old.GrantedTo = nil
		old.StudentID = nil
	}
	if sc == nil {
		s.Scholarship = nil
		return
	}
	if prev := sc.GrantedTo; prev != nil && prev != s && prev.Scholarship == sc {
		prev.Scholarship = nil
	}
	sc.GrantedTo = s
	sc.StudentID = nil
	if s.ID != 0 {
		id := s.ID
		sc.StudentID = &id
	}
	s.Scholarship = sc
}

// SetScholarship replaces the reference without touching back-references.
// Merging the student reconciles the other side.
func (s *Student) SetScholarship(sc *Scholarship) {
	s.Scholarship = sc
}
