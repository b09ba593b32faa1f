package memory

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/yigit/studentrecords/internal/app/models"
	"github.com/yigit/studentrecords/internal/pkg/helpers"
)

type enrollment struct {
	StudentID int64 `json:"studentId"`
	CourseID  int64 `json:"courseId"`
}

// state holds flat rows only; relation fields are always nil inside it.
type state struct {
	students     map[int64]models.Student
	courses      map[int64]models.Course
	enrollments  map[enrollment]struct{}
	examResults  map[int64]models.ExamResult
	scholarships map[int64]models.Scholarship
	sequences    map[models.Kind]int64
}

// Snapshot is the serialisable representation of the in-memory state.
type Snapshot struct {
	Students     []models.Student      `json:"students"`
	Courses      []models.Course       `json:"courses"`
	Enrollments  []enrollment          `json:"enrollments"`
	ExamResults  []models.ExamResult   `json:"examResults"`
	Scholarships []models.Scholarship  `json:"scholarships"`
	Sequences    map[models.Kind]int64 `json:"sequences"`
}

func newState() state {
	return state{
		students:     map[int64]models.Student{},
		courses:      map[int64]models.Course{},
		enrollments:  map[enrollment]struct{}{},
		examResults:  map[int64]models.ExamResult{},
		scholarships: map[int64]models.Scholarship{},
		sequences:    map[models.Kind]int64{},
	}
}

// clone copies the maps. Stored values are replaced, never mutated in place,
// so sharing the pointers inside them is safe.
func (s state) clone() state {
	c := state{
		students:     make(map[int64]models.Student, len(s.students)),
		courses:      make(map[int64]models.Course, len(s.courses)),
		enrollments:  make(map[enrollment]struct{}, len(s.enrollments)),
		examResults:  make(map[int64]models.ExamResult, len(s.examResults)),
		scholarships: make(map[int64]models.Scholarship, len(s.scholarships)),
		sequences:    make(map[models.Kind]int64, len(s.sequences)),
	}
	for k, v := range s.students {
		c.students[k] = v
	}
	for k, v := range s.courses {
		c.courses[k] = v
	}
	for k := range s.enrollments {
		c.enrollments[k] = struct{}{}
	}
	for k, v := range s.examResults {
		c.examResults[k] = v
	}
	for k, v := range s.scholarships {
		c.scholarships[k] = v
	}
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	return c
}

func (s *state) next(kind models.Kind) int64 {
	s.sequences[kind]++
	return s.sequences[kind]
}

func sortedIDs[V any](m map[int64]V) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func snapshotFromState(s state) Snapshot {
	snap := Snapshot{
		Students:     make([]models.Student, 0, len(s.students)),
		Courses:      make([]models.Course, 0, len(s.courses)),
		Enrollments:  make([]enrollment, 0, len(s.enrollments)),
		ExamResults:  make([]models.ExamResult, 0, len(s.examResults)),
		Scholarships: make([]models.Scholarship, 0, len(s.scholarships)),
		Sequences:    make(map[models.Kind]int64, len(s.sequences)),
	}
	for _, id := range sortedIDs(s.students) {
		snap.Students = append(snap.Students, s.students[id])
	}
	for _, id := range sortedIDs(s.courses) {
		snap.Courses = append(snap.Courses, s.courses[id])
	}
	for e := range s.enrollments {
		snap.Enrollments = append(snap.Enrollments, e)
	}
	slices.SortFunc(snap.Enrollments, func(a, b enrollment) int {
		if c := cmp.Compare(a.StudentID, b.StudentID); c != 0 {
			return c
		}
		return cmp.Compare(a.CourseID, b.CourseID)
	})
	for _, id := range sortedIDs(s.examResults) {
		snap.ExamResults = append(snap.ExamResults, s.examResults[id])
	}
	for _, id := range sortedIDs(s.scholarships) {
		snap.Scholarships = append(snap.Scholarships, s.scholarships[id])
	}
	for k, v := range s.sequences {
		snap.Sequences[k] = v
	}
	return snap
}

// stateFromSnapshot rebuilds the state and rejects snapshots that break
// referential integrity.
func stateFromSnapshot(snap Snapshot) (state, error) {
	st := newState()
	for _, v := range snap.Students {
		st.students[v.ID] = flatStudent(&v)
	}
	for _, v := range snap.Courses {
		st.courses[v.ID] = v
	}
	for _, e := range snap.Enrollments {
		if _, ok := st.students[e.StudentID]; !ok {
			return state{}, fmt.Errorf("enrollment references unknown student %d", e.StudentID)
		}
		if _, ok := st.courses[e.CourseID]; !ok {
			return state{}, fmt.Errorf("enrollment references unknown course %d", e.CourseID)
		}
		st.enrollments[e] = struct{}{}
	}
	for _, v := range snap.ExamResults {
		if _, ok := st.students[v.StudentID]; !ok {
			return state{}, fmt.Errorf("exam result %d references unknown student %d", v.ID, v.StudentID)
		}
		st.examResults[v.ID] = v
	}
	holders := map[int64]int64{}
	for _, v := range snap.Scholarships {
		if v.StudentID != nil {
			if _, ok := st.students[*v.StudentID]; !ok {
				return state{}, fmt.Errorf("scholarship %d references unknown student %d", v.ID, *v.StudentID)
			}
			if other, taken := holders[*v.StudentID]; taken {
				return state{}, fmt.Errorf("scholarships %d and %d are both granted to student %d", other, v.ID, *v.StudentID)
			}
			holders[*v.StudentID] = v.ID
		}
		st.scholarships[v.ID] = flatScholarship(&v)
	}
	for k, v := range snap.Sequences {
		st.sequences[k] = v
	}
	// sequences must never hand out an id that is already taken
	bump := func(kind models.Kind, id int64) {
		if st.sequences[kind] < id {
			st.sequences[kind] = id
		}
	}
	for id := range st.students {
		bump(models.KindStudent, id)
	}
	for id := range st.courses {
		bump(models.KindCourse, id)
	}
	for id := range st.examResults {
		bump(models.KindExamResult, id)
	}
	for id := range st.scholarships {
		bump(models.KindScholarship, id)
	}
	return st, nil
}

func flatStudent(s *models.Student) models.Student {
	return models.Student{
		ID:                 s.ID,
		RegistrationNumber: s.RegistrationNumber,
		Name:               s.Name,
		LoginTime:          helpers.CopyTime(s.LoginTime),
	}
}

func flatScholarship(s *models.Scholarship) models.Scholarship {
	return models.Scholarship{
		ID:          s.ID,
		Amount:      s.Amount,
		Description: s.Description,
		StudentID:   helpers.CopyInt64(s.StudentID),
	}
}

func studentOut(v models.Student) *models.Student {
	v.LoginTime = helpers.CopyTime(v.LoginTime)
	return &v
}

func scholarshipOut(v models.Scholarship) *models.Scholarship {
	v.StudentID = helpers.CopyInt64(v.StudentID)
	return &v
}
