// Package memory provides an in-memory transactional store. Every
// transaction works on a private copy of the state which replaces the shared
// state on commit, so no other transaction ever observes half of a cascade.
// Writers are serialized; an optional snapshot file makes the state survive
// restarts.
package memory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/yigit/studentrecords/internal/app/repositories"
	"github.com/yigit/studentrecords/internal/pkg/logger"
)

// Store is the in-memory implementation of repositories.Store
type Store struct {
	mu           sync.RWMutex
	writers      *semaphore.Weighted
	state        state
	snapshotPath string
	txTimeout    time.Duration
	logger       zerolog.Logger
}

var _ repositories.Store = (*Store)(nil)

// Option configures a Store
type Option func(*Store)

// WithSnapshotFile loads the state from path when it exists and rewrites the
// file on every commit.
func WithSnapshotFile(path string) Option {
	return func(s *Store) { s.snapshotPath = path }
}

// WithTxTimeout sets the timeout applied to transactions whose context has no deadline
func WithTxTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.txTimeout = d
		}
	}
}

// NewStore creates an empty store, or one restored from the snapshot file
func NewStore(opts ...Option) (*Store, error) {
	s := &Store{
		writers:   semaphore.NewWeighted(1),
		state:     newState(),
		txTimeout: 30 * time.Second,
		logger:    logger.WithComponent("memory-store"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.snapshotPath != "" {
		snap, err := readSnapshotFile(s.snapshotPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			s.logger.Info().Str("path", s.snapshotPath).Msg("No snapshot file yet, starting empty")
		case err != nil:
			return nil, err
		default:
			if err := s.Import(snap); err != nil {
				return nil, fmt.Errorf("failed to restore snapshot %s: %w", s.snapshotPath, err)
			}
			s.logger.Info().Str("path", s.snapshotPath).Int("students", len(snap.Students)).Msg("Snapshot restored")
		}
	}
	return s, nil
}

// WithTransaction runs fn against a private copy of the state and publishes
// the copy when fn succeeds.
func (s *Store) WithTransaction(ctx context.Context, fn repositories.TransactionFn) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	if err := s.writers.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.writers.Release(1)

	s.mu.RLock()
	tx := &transaction{state: s.state.clone()}
	s.mu.RUnlock()
	// a panic in fn skips the swap below, which is the rollback
	defer tx.finish()

	if err := fn(ctx, tx); err != nil {
		s.logger.Debug().Err(err).Msg("Transaction rolled back")
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}

	if s.snapshotPath != "" {
		if err := writeSnapshotFile(s.snapshotPath, snapshotFromState(tx.state)); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
	}

	s.mu.Lock()
	s.state = tx.state
	s.mu.Unlock()
	return nil
}

// Export returns a copy of the committed state
func (s *Store) Export() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromState(s.state)
}

// Import replaces the committed state
func (s *Store) Import(snap Snapshot) error {
	st, err := stateFromSnapshot(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	return nil
}

// Close implements repositories.Store. Commits are already durable in the
// snapshot file, so there is nothing to flush.
func (s *Store) Close() error {
	return nil
}

func readSnapshotFile(path string) (Snapshot, error) {
	var snap Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("failed to decode snapshot %s: %w", path, err)
	}
	return snap, nil
}

// writeSnapshotFile replaces path atomically
func writeSnapshotFile(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}
