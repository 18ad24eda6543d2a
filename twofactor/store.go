package twofactor

import (
	"context"
	"sync"
)

// Store persists one two-factor Record per user.
type Store interface {
	// Get returns the user's record. A missing record has State None.
	Get(ctx context.Context, userID string) (Record, error)
	// SavePending replaces any pending setup. It fails with ErrAlreadyEnabled
	// and leaves the record untouched when an enabled configuration exists.
	SavePending(ctx context.Context, userID string, p Pending) error
	// Enable promotes the pending setup to e. It fails with ErrNotPending when
	// no pending setup exists.
	Enable(ctx context.Context, userID string, e Enabled) error
	// ConsumeBackupCode atomically removes hash from the enabled record's
	// backup codes and reports whether it was present.
	ConsumeBackupCode(ctx context.Context, userID, hash string) (bool, error)
	// Delete removes the record. Missing records are not an error.
	Delete(ctx context.Context, userID string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]State
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]State)}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.records[userID]
	if !ok {
		return Record{UserID: userID, State: None{}}, nil
	}
	if e, ok := state.(Enabled); ok {
		e.BackupCodeHashes = append([]string(nil), e.BackupCodeHashes...)
		state = e
	}
	return Record{UserID: userID, State: state}, nil
}

func (s *MemoryStore) SavePending(_ context.Context, userID string, p Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, enabled := s.records[userID].(Enabled); enabled {
		return ErrAlreadyEnabled
	}
	s.records[userID] = p
	return nil
}

func (s *MemoryStore) Enable(_ context.Context, userID string, e Enabled) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, pending := s.records[userID].(Pending); !pending {
		return ErrNotPending
	}
	e.BackupCodeHashes = append([]string(nil), e.BackupCodeHashes...)
	s.records[userID] = e
	return nil
}

func (s *MemoryStore) ConsumeBackupCode(_ context.Context, userID, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[userID].(Enabled)
	if !ok {
		return false, nil
	}

	match := -1
	for i, h := range e.BackupCodeHashes {
		if Equal(h, hash) && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return false, nil
	}

	remaining := make([]string, 0, len(e.BackupCodeHashes)-1)
	remaining = append(remaining, e.BackupCodeHashes[:match]...)
	remaining = append(remaining, e.BackupCodeHashes[match+1:]...)
	e.BackupCodeHashes = remaining
	s.records[userID] = e
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	delete(s.records, userID)
	s.mu.Unlock()
	return nil
}
