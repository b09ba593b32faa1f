package models

// Kind identifies a persistent entity type. Each kind maps to one table.
type Kind string

const (
	KindStudent     Kind = "student"
	KindCourse      Kind = "course"
	KindExamResult  Kind = "exam_result"
	KindScholarship Kind = "scholarship"
)

// Valid reports whether k is one of the known kinds
func (k Kind) Valid() bool {
	switch k {
	case KindStudent, KindCourse, KindExamResult, KindScholarship:
		return true
	}
	return false
}

// Entity is implemented by every persistent model. An id of zero means the
// entity is transient (never stored, or removed).
type Entity interface {
	EntityKind() Kind
	EntityID() int64
}
