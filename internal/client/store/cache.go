package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tasksync/internal/domain"

	"github.com/dgraph-io/badger/v4"
)

// ErrNoSnapshot is returned when no snapshot has ever been saved for the
// account.
var ErrNoSnapshot = errors.New("no cached snapshot")

// Snapshot is the last known full task list for one account. It is replaced
// wholesale on every successful fetch or local mutation; PendingIDs marks
// tasks whose ids are local placeholders not yet assigned by the server.
type Snapshot struct {
	Tasks      []*domain.Task `json:"tasks"`
	PendingIDs []string       `json:"pending_ids,omitempty"`
	CapturedAt time.Time      `json:"captured_at"`
}

func cacheKey(accountID string) []byte {
	return []byte("cache:" + accountID)
}

func (s *Store) SaveSnapshot(accountID string, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cacheKey(accountID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

func (s *Store) LoadSnapshot(accountID string) (*Snapshot, error) {
	var snap Snapshot

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(accountID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	return &snap, nil
}

func (s *Store) DeleteSnapshot(accountID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(cacheKey(accountID))
	})
}
