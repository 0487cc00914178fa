// Package store provides session record persistence interfaces and implementations.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/claudebot/internal/domain"
)

// Repository defines the interface for persisting per-user session records.
type Repository interface {
	// Load returns the whole store. Read or parse failures yield an empty store.
	Load(ctx context.Context) domain.SessionStore

	// Save overwrites durable state with the given store.
	Save(ctx context.Context, sessions domain.SessionStore) error

	// AddOrUpdate replaces the record with the same session id in place,
	// or appends it when none exists.
	AddOrUpdate(ctx context.Context, userID string, record domain.SessionRecord) error

	// SetStatus moves a record to a new status. A missing record is not an error.
	SetStatus(ctx context.Context, userID, sessionID string, status domain.Status) error

	// List returns the user's records in creation order.
	List(ctx context.Context, userID string) []domain.SessionRecord

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases the backing storage.
	Close() error
}

// Backend reads and writes the full session store.
type Backend interface {
	Read(ctx context.Context) (domain.SessionStore, error)
	Write(ctx context.Context, sessions domain.SessionStore) error
	Ping(ctx context.Context) error
	Close() error
}

// Store implements Repository with a full load-modify-save cycle per mutation.
type Store struct {
	backend Backend
	logger  *slog.Logger
	mu      sync.Mutex // serializes load-modify-save within this process
}

// New wraps a backend.
func New(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, logger: logger}
}

// Open builds the repository for the named backend kind.
func Open(kind, sessionFile, dbPath string, logger *slog.Logger) (Repository, error) {
	switch kind {
	case "", "json":
		return New(NewJSONFile(sessionFile), logger), nil
	case "sqlite":
		backend, err := NewSQLite(dbPath)
		if err != nil {
			return nil, err
		}
		return New(backend, logger), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", kind)
	}
}

// Load returns the current store, falling back to empty on failure.
func (s *Store) Load(ctx context.Context) domain.SessionStore {
	sessions, err := s.backend.Read(ctx)
	if err != nil {
		s.logger.Error("Failed to load sessions, using empty store", "error", err)
		return domain.SessionStore{}
	}
	if sessions == nil {
		return domain.SessionStore{}
	}
	return sessions
}

// Save overwrites the durable store.
func (s *Store) Save(ctx context.Context, sessions domain.SessionStore) error {
	if err := s.backend.Write(ctx, sessions); err != nil {
		return fmt.Errorf("save sessions: %w", err)
	}
	return nil
}

// AddOrUpdate upserts a record by session id, preserving list position.
func (s *Store) AddOrUpdate(ctx context.Context, userID string, record domain.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := s.Load(ctx)
	records := sessions[userID]
	replaced := false
	for i := range records {
		if records[i].SessionID == record.SessionID {
			records[i] = records[i].Merge(record)
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, record)
	}
	sessions[userID] = records
	return s.Save(ctx, sessions)
}

// SetStatus updates a record's status if it exists and the move is allowed.
func (s *Store) SetStatus(ctx context.Context, userID, sessionID string, status domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := s.Load(ctx)
	records := sessions[userID]
	for i := range records {
		if records[i].SessionID != sessionID {
			continue
		}
		if !records[i].Status.CanTransition(status) {
			s.logger.Warn("Ignoring session status regression",
				"user_id", userID,
				"session_id", sessionID,
				"from", records[i].Status,
				"to", status,
			)
			return nil
		}
		if records[i].Status == status {
			return nil
		}
		records[i].Status = status
		return s.Save(ctx, sessions)
	}
	s.logger.Debug("SetStatus found no record", "user_id", userID, "session_id", sessionID)
	return nil
}

// List returns the records stored for a user.
func (s *Store) List(ctx context.Context, userID string) []domain.SessionRecord {
	records := s.Load(ctx)[userID]
	if records == nil {
		return []domain.SessionRecord{}
	}
	return records
}

// Ping verifies storage connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
