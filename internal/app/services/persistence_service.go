// Package services implements the persistence façade over the student
// records schema: merge, persist, remove, detach and find with cascades
// executed explicitly from a policy table.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/uber-go/tally/v4"

	"github.com/yigit/studentrecords/internal/app/repositories"
	"github.com/yigit/studentrecords/internal/pkg/apperrors"
	"github.com/yigit/studentrecords/internal/pkg/logger"
)

// Work is the body of a transaction
type Work func(ctx context.Context, s *Session) error

// PersistenceService is the entry point of the façade. It is safe for
// concurrent use; each transaction gets its own Session.
type PersistenceService struct {
	store                     repositories.Store
	policies                  CascadePolicies
	uniqueRegistrationNumbers bool
	metrics                   *Metrics
	logger                    zerolog.Logger
}

// Option configures a PersistenceService
type Option func(*PersistenceService)

// WithCascadePolicies replaces the default cascade policy table
func WithCascadePolicies(policies CascadePolicies) Option {
	return func(p *PersistenceService) { p.policies = policies.clone() }
}

// WithUniqueRegistrationNumbers toggles the registration number uniqueness check
func WithUniqueRegistrationNumbers(enabled bool) Option {
	return func(p *PersistenceService) { p.uniqueRegistrationNumbers = enabled }
}

// WithMetricsScope reports operation metrics to scope
func WithMetricsScope(scope tally.Scope) Option {
	return func(p *PersistenceService) { p.metrics = NewMetrics(scope) }
}

// WithLogger overrides the service logger
func WithLogger(l zerolog.Logger) Option {
	return func(p *PersistenceService) { p.logger = l }
}

// NewPersistenceService creates the façade on top of store
func NewPersistenceService(store repositories.Store, opts ...Option) (*PersistenceService, error) {
	if store == nil {
		return nil, apperrors.NewValidationError("store is nil")
	}
	p := &PersistenceService{
		store:                     store,
		policies:                  DefaultCascadePolicies(),
		uniqueRegistrationNumbers: true,
		metrics:                   NewMetrics(tally.NoopScope),
		logger:                    logger.WithComponent("persistence"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.policies.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Policies returns a copy of the cascade policy table in use
func (p *PersistenceService) Policies() CascadePolicies {
	return p.policies.clone()
}

// RunInTransaction runs work in one storage transaction. Everything work does
// through its session is committed together when it returns nil and rolled
// back when it returns an error or panics. The session is closed afterwards.
func (p *PersistenceService) RunInTransaction(ctx context.Context, work Work) error {
	start := time.Now()
	var sessionID string

	err := p.store.WithTransaction(ctx, func(ctx context.Context, tx repositories.Tx) error {
		s := newSession(p, tx)
		defer s.close()
		sessionID = s.ID().String()

		s.logger.Debug().Msg("Transaction started")
		return work(ctx, s)
	})

	p.metrics.TransactionDuration.Record(time.Since(start))
	if err != nil {
		p.metrics.TransactionRollback.Inc(1)
		if errors.Is(err, apperrors.ErrCascadeConsistency) {
			p.metrics.CascadeViolated.Inc(1)
			p.logger.Error().Err(err).Str("session", sessionID).Msg("Transaction rolled back on cascade consistency violation")
		} else {
			p.logger.Debug().Err(err).Str("session", sessionID).Msg("Transaction rolled back")
		}
		return err
	}

	p.metrics.TransactionCommit.Inc(1)
	p.logger.Debug().Str("session", sessionID).Dur("duration", time.Since(start)).Msg("Transaction committed")
	return nil
}

// storageError translates storage errors into façade errors
func storageError(err error) error {
	if err == nil {
		return nil
	}
	var custom *apperrors.CustomError
	if errors.As(err, &custom) {
		return err
	}
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return apperrors.NewNotFoundError(err.Error())
	case errors.Is(err, repositories.ErrConflict), errors.Is(err, repositories.ErrReferenced):
		return apperrors.NewCascadeConsistencyError(err.Error())
	}
	return err
}

func (p *PersistenceService) count(err error, ok, fail, notFound tally.Counter) {
	switch {
	case err == nil:
		ok.Inc(1)
	case notFound != nil && errors.Is(err, apperrors.ErrNotFound):
		notFound.Inc(1)
	default:
		fail.Inc(1)
	}
}
