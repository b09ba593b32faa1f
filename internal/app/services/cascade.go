package services

import (
	"fmt"

	"github.com/yigit/studentrecords/internal/pkg/apperrors"
)

// Association names one relationship of the student aggregate
type Association string

const (
	StudentCourses     Association = "student.courses"
	StudentExamResults Association = "student.exam_results"
	StudentScholarship Association = "student.scholarship"
)

// Associations lists every association a policy table must describe
var Associations = []Association{StudentCourses, StudentExamResults, StudentScholarship}

// RemoveAction is what happens to associated rows when a student is removed
type RemoveAction int

const (
	// RemoveNone leaves the association alone; storage then refuses to
	// delete a student that is still referenced.
	RemoveNone RemoveAction = iota
	// RemoveUnlink clears the link and keeps the associated entity
	RemoveUnlink
	// RemoveDelete deletes the associated entity
	RemoveDelete
)

func (a RemoveAction) String() string {
	switch a {
	case RemoveUnlink:
		return "unlink"
	case RemoveDelete:
		return "delete"
	}
	return "none"
}

// OrphanAction is what happens to an association a merge no longer references
type OrphanAction int

const (
	OrphanKeep OrphanAction = iota
	OrphanUnlink
	OrphanDelete
)

func (a OrphanAction) String() string {
	switch a {
	case OrphanUnlink:
		return "unlink"
	case OrphanDelete:
		return "delete"
	}
	return "keep"
}

// CascadePolicy says which operations propagate along one association
type CascadePolicy struct {
	Persist bool
	Merge   bool
	Detach  bool
	Remove  RemoveAction
	Orphans OrphanAction
}

// CascadePolicies maps every association to its policy. A missing entry
// cascades nothing.
type CascadePolicies map[Association]CascadePolicy

// DefaultCascadePolicies returns the policy table of the student aggregate
//
//	association              persist merge detach remove orphans
//	student -> courses       yes     yes   no     unlink unlink
//	student -> exam results  yes     yes   yes    delete delete
//	student <> scholarship   yes     yes   yes    unlink unlink
func DefaultCascadePolicies() CascadePolicies {
	return CascadePolicies{
		StudentCourses: {
			Persist: true,
			Merge:   true,
			Detach:  false,
			Remove:  RemoveUnlink,
			Orphans: OrphanUnlink,
		},
		StudentExamResults: {
			Persist: true,
			Merge:   true,
			Detach:  true,
			Remove:  RemoveDelete,
			Orphans: OrphanDelete,
		},
		StudentScholarship: {
			Persist: true,
			Merge:   true,
			Detach:  true,
			Remove:  RemoveUnlink,
			Orphans: OrphanUnlink,
		},
	}
}

// For returns the policy of a
func (c CascadePolicies) For(a Association) CascadePolicy {
	return c[a]
}

// Validate rejects tables that cannot be executed. Exam results cannot live
// without their student, so they can only be deleted, never unlinked.
func (c CascadePolicies) Validate() error {
	for a := range c {
		known := false
		for _, k := range Associations {
			if a == k {
				known = true
				break
			}
		}
		if !known {
			return apperrors.NewValidationError(fmt.Sprintf("unknown association %q", a))
		}
	}
	results := c.For(StudentExamResults)
	if results.Remove == RemoveUnlink {
		return apperrors.NewValidationError(fmt.Sprintf("%s cannot be unlinked on remove", StudentExamResults))
	}
	if results.Orphans == OrphanUnlink {
		return apperrors.NewValidationError(fmt.Sprintf("%s orphans cannot be unlinked", StudentExamResults))
	}
	return nil
}

// clone copies the table so callers cannot change a running service
func (c CascadePolicies) clone() CascadePolicies {
	out := make(CascadePolicies, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
