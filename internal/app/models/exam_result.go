package models

// NegativeMark is the failing mark. Lower marks are better: anything below
// it passed, exactly NegativeMark failed. Marks above NegativeMark are not
// classified either way.
const NegativeMark = 5

// ExamResult is the mark a student received for an exam. It always belongs
// to exactly one student and is deleted together with it.
type ExamResult struct {
	ID        int64  `json:"id" db:"id"`
	StudentID int64  `json:"studentId" db:"student_id"` // Owning student
	Exam      string `json:"exam" db:"exam"`
	Mark      int    `json:"mark" db:"mark"`
}

func (r *ExamResult) EntityKind() Kind { return KindExamResult }
func (r *ExamResult) EntityID() int64  { return r.ID }

// IsPositive reports whether the exam was passed (mark < 5)
func (r *ExamResult) IsPositive() bool { return r.Mark < NegativeMark }

// IsNegative reports whether the exam was failed (mark == 5)
func (r *ExamResult) IsNegative() bool { return r.Mark == NegativeMark }
