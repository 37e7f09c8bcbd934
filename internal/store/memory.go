package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
)

var _ FlagRepository = (*MemoryStore)(nil)

// MemoryStore is an in-process FlagRepository.
// It honours the same contract as PostgresStore (uniqueness, optimistic
// locking, ordering) and is used for tests and single-node development.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*Flag
	byName map[string]string // name -> id
}

// NewMemoryStore creates an empty in-memory repository.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Flag),
		byName: make(map[string]string),
	}
}

func (s *MemoryStore) CreateFlag(ctx context.Context, f *Flag) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byName[f.Name]; taken {
		return fmt.Errorf("%w: %q", ErrDuplicateName, f.Name)
	}
	if _, taken := s.byID[f.ID]; taken {
		return fmt.Errorf("flag id %q already exists", f.ID)
	}

	f.normalize()
	f.Version = 1

	s.byID[f.ID] = f.Clone()
	s.byName[f.Name] = f.ID
	return nil
}

func (s *MemoryStore) UpdateFlag(ctx context.Context, f *Flag, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[f.ID]
	if !ok {
		return fmt.Errorf("%w: id %q", ErrNotFound, f.ID)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: id %q expected version %d, found %d", ErrVersionConflict, f.ID, expectedVersion, current.Version)
	}
	if ownerID, taken := s.byName[f.Name]; taken && ownerID != f.ID {
		return fmt.Errorf("%w: %q", ErrDuplicateName, f.Name)
	}

	f.normalize()
	f.Version = current.Version + 1

	// Identity and provenance are immutable.
	next := f.Clone()
	next.CreatedAt = current.CreatedAt
	next.CreatedBy = current.CreatedBy
	f.CreatedAt = current.CreatedAt
	f.CreatedBy = current.CreatedBy

	delete(s.byName, current.Name)
	s.byName[next.Name] = next.ID
	s.byID[next.ID] = next
	return nil
}

func (s *MemoryStore) DeleteFlag(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: id %q", ErrNotFound, id)
	}
	delete(s.byID, id)
	delete(s.byName, current.Name)
	return nil
}

func (s *MemoryStore) GetFlag(ctx context.Context, id string) (*Flag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %q", ErrNotFound, id)
	}
	return f.Clone(), nil
}

func (s *MemoryStore) GetFlagByName(ctx context.Context, name string) (*Flag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: name %q", ErrNotFound, name)
	}
	return s.byID[id].Clone(), nil
}

func (s *MemoryStore) ListAllFlags(ctx context.Context) ([]*Flag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	flags := make([]*Flag, 0, len(s.byID))
	for _, f := range s.byID {
		flags = append(flags, f.Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(flags, func(a, b *Flag) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return flags, nil
}
