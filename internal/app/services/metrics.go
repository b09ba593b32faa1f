package services

import (
	"github.com/uber-go/tally/v4"
)

// Metrics is a placeholder for all metrics of the persistence service
type Metrics struct {
	TransactionCommit   tally.Counter
	TransactionRollback tally.Counter
	TransactionDuration tally.Timer

	Persist         tally.Counter
	PersistFail     tally.Counter
	Merge           tally.Counter
	MergeFail       tally.Counter
	Remove          tally.Counter
	RemoveFail      tally.Counter
	RemoveNotFound  tally.Counter
	Detach          tally.Counter
	Find            tally.Counter
	FindFail        tally.Counter
	FindNotFound    tally.Counter
	Query           tally.Counter
	QueryFail       tally.Counter
	QueryNotFound   tally.Counter
	CascadeViolated tally.Counter
}

// NewMetrics returns a new instance of services.Metrics
func NewMetrics(scope tally.Scope) *Metrics {
	persistenceScope := scope.SubScope("persistence")
	txScope := scope.SubScope("transaction")

	successScope := persistenceScope.Tagged(map[string]string{"result": "success"})
	failScope := persistenceScope.Tagged(map[string]string{"result": "fail"})
	notFoundScope := persistenceScope.Tagged(map[string]string{"result": "not_found"})

	return &Metrics{
		TransactionCommit:   txScope.Counter("commit"),
		TransactionRollback: txScope.Counter("rollback"),
		TransactionDuration: txScope.Timer("duration"),

		Persist:         successScope.Counter("persist"),
		PersistFail:     failScope.Counter("persist"),
		Merge:           successScope.Counter("merge"),
		MergeFail:       failScope.Counter("merge"),
		Remove:          successScope.Counter("remove"),
		RemoveFail:      failScope.Counter("remove"),
		RemoveNotFound:  notFoundScope.Counter("remove"),
		Detach:          successScope.Counter("detach"),
		Find:            successScope.Counter("find"),
		FindFail:        failScope.Counter("find"),
		FindNotFound:    notFoundScope.Counter("find"),
		Query:           successScope.Counter("query"),
		QueryFail:       failScope.Counter("query"),
		QueryNotFound:   notFoundScope.Counter("query"),
		CascadeViolated: failScope.Counter("cascade_consistency"),
	}
}
