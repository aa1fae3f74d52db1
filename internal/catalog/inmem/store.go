// Package inmem is a mutex-guarded, in-memory catalog.Store used by tests
// and local development. It never talks to a database.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/sharelane/dataplane/internal/catalog"
)

// Store is a thread-safe in-memory implementation of catalog.Store. The
// zero value is not usable; construct with New.
type Store struct {
	mu       sync.RWMutex
	shares   map[int64]*catalog.Share
	datasets map[int64]*catalog.Dataset
	audit    []*catalog.AuditLog
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		shares:   make(map[int64]*catalog.Share),
		datasets: make(map[int64]*catalog.Dataset),
	}
}

// PutShare inserts or replaces a share. Test and seed helper, not part of
// catalog.Store.
func (s *Store) PutShare(sh *catalog.Share) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sh
	s.shares[sh.ID] = &cp
}

// PutDataset inserts or replaces a dataset.
func (s *Store) PutDataset(ds *catalog.Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ds
	s.datasets[ds.ID] = &cp
}

// AuditEntries returns a snapshot of everything appended so far, for test
// assertions.
func (s *Store) AuditEntries() []*catalog.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*catalog.AuditLog, len(s.audit))
	copy(out, s.audit)
	return out
}

func (s *Store) ShareByTokenHash(_ context.Context, hash string) (*catalog.Share, error) {
	if hash == "" {
		return nil, catalog.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sh := range s.shares {
		if sh.TokenHash != "" && sh.TokenHash == hash {
			cp := *sh
			return &cp, nil
		}
	}
	return nil, catalog.ErrNotFound
}

func (s *Store) ShareByPlaintextToken(_ context.Context, token string) (*catalog.Share, error) {
	if token == "" {
		return nil, catalog.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sh := range s.shares {
		if sh.TokenHash == "" && sh.Token == token {
			cp := *sh
			return &cp, nil
		}
	}
	return nil, catalog.ErrNotFound
}

func (s *Store) TouchLastUsed(_ context.Context, shareID int64, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shares[shareID]
	if !ok {
		return catalog.ErrNotFound
	}
	sh.LastUsedAt = when
	return nil
}

func (s *Store) DatasetByID(_ context.Context, id int64) (*catalog.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.datasets[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	cp := *ds
	cp.AnchorColumns = append([]string(nil), ds.AnchorColumns...)
	return &cp, nil
}

func (s *Store) Append(_ context.Context, entry *catalog.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	cp.ID = int64(len(s.audit) + 1)
	s.audit = append(s.audit, &cp)
	return nil
}

var _ catalog.Store = (*Store)(nil)
