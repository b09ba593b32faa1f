package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yigit/studentrecords/internal/app/models"
	"github.com/yigit/studentrecords/internal/app/repositories"
	"github.com/yigit/studentrecords/internal/pkg/apperrors"
)

type entityKey struct {
	kind models.Kind
	id   int64
}

func keyOf(e models.Entity) entityKey {
	return entityKey{kind: e.EntityKind(), id: e.EntityID()}
}

func (k entityKey) String() string {
	return fmt.Sprintf("%s %d", k.kind, k.id)
}

// Session is the scope of one transaction. It holds the identity map: within
// a session every stored row is represented by at most one managed instance.
// A Session must not be used after its transaction ended or from several
// goroutines at once.
type Session struct {
	id       uuid.UUID
	svc      *PersistenceService
	tx       repositories.Tx
	managed  map[entityKey]models.Entity
	detached map[entityKey]struct{}
	closed   bool
	logger   zerolog.Logger
}

func newSession(svc *PersistenceService, tx repositories.Tx) *Session {
	id := uuid.New()
	return &Session{
		id:       id,
		svc:      svc,
		tx:       tx,
		managed:  map[entityKey]models.Entity{},
		detached: map[entityKey]struct{}{},
		logger:   svc.logger.With().Str("session", id.String()).Logger(),
	}
}

// ID identifies the session in logs
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Service returns the service that opened the session
func (s *Session) Service() *PersistenceService {
	return s.svc
}

// Contains reports whether e is the managed instance of its row
func (s *Session) Contains(e models.Entity) bool {
	if e == nil || e.EntityID() == 0 {
		return false
	}
	return s.managed[keyOf(e)] == e
}

// IsDetached reports whether the row of e was detached in this session and
// is not managed again
func (s *Session) IsDetached(e models.Entity) bool {
	if e == nil || e.EntityID() == 0 {
		return false
	}
	_, ok := s.detached[keyOf(e)]
	return ok
}

// ManagedCount returns the size of the identity map
func (s *Session) ManagedCount() int {
	return len(s.managed)
}

func (s *Session) close() {
	s.closed = true
	s.managed = map[entityKey]models.Entity{}
}

func (s *Session) ensureOpen(ctx context.Context) error {
	if s == nil {
		return apperrors.NewValidationError("session is nil")
	}
	if s.closed {
		return apperrors.ErrSessionClosed
	}
	return ctx.Err()
}

func (s *Session) lookup(kind models.Kind, id int64) (models.Entity, bool) {
	e, ok := s.managed[entityKey{kind: kind, id: id}]
	return e, ok
}

func (s *Session) register(e models.Entity) {
	k := keyOf(e)
	s.managed[k] = e
	delete(s.detached, k)
}

// forget drops e from the identity map when e is the managed instance
func (s *Session) forget(e models.Entity) {
	k := keyOf(e)
	if s.managed[k] == e {
		delete(s.managed, k)
	}
}

// checkPersistable classifies e for persist: transient entities are
// inserted, managed ones are kept, anything else has an identity this
// session does not own.
func (s *Session) checkPersistable(e models.Entity) (transient bool, err error) {
	if e.EntityID() == 0 {
		return true, nil
	}
	if s.Contains(e) {
		return false, nil
	}
	k := keyOf(e)
	if _, ok := s.detached[k]; ok {
		return false, apperrors.NewDuplicateIdentityError(fmt.Sprintf("cannot persist detached %s", k)).
			WithDetails(map[string]interface{}{"kind": k.kind, "id": k.id})
	}
	return false, apperrors.NewDuplicateIdentityError(fmt.Sprintf("%s already has an identity that is not managed by this session", k)).
		WithDetails(map[string]interface{}{"kind": k.kind, "id": k.id})
}
