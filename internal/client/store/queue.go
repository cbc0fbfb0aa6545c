package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tasksync/internal/domain"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

var ErrOperationNotFound = errors.New("queued operation not found")

type OperationKind string

const (
	OpCreate OperationKind = "create"
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
)

// Operation is one pending offline mutation. Operations are totally ordered
// by Seq within an account; an operation leaves the queue only on success or
// when its retry budget is exhausted.
type Operation struct {
	ID         string                    `json:"id"`
	Kind       OperationKind             `json:"kind"`
	TaskID     string                    `json:"task_id,omitempty"`  // update/delete target
	LocalID    string                    `json:"local_id,omitempty"` // placeholder id for creates
	Create     *domain.CreateTaskRequest `json:"create,omitempty"`
	Update     *domain.UpdateTaskRequest `json:"update,omitempty"`
	RetryCount int                       `json:"retry_count"`
	LastError  string                    `json:"last_error,omitempty"`
	EnqueuedAt time.Time                 `json:"enqueued_at"`
	Seq        uint64                    `json:"seq"`
}

func queuePrefix(accountID string) []byte {
	return []byte(fmt.Sprintf("queue:%s:", accountID))
}

func queueKey(accountID string, seq uint64) []byte {
	// Zero-padded so badger's lexicographic key order is enqueue order.
	return []byte(fmt.Sprintf("queue:%s:%020d", accountID, seq))
}

// Append assigns the operation an id and the next sequence number, then
// persists it. The write is durable before Append returns.
func (s *Store) Append(accountID string, op *Operation) error {
	op.ID = uuid.New().String()
	op.EnqueuedAt = time.Now()

	err := s.db.Update(func(txn *badger.Txn) error {
		op.Seq = s.nextSeq(txn, accountID)

		data, err := json.Marshal(op)
		if err != nil {
			return fmt.Errorf("failed to encode operation: %w", err)
		}

		return txn.Set(queueKey(accountID, op.Seq), data)
	})
	if err != nil {
		return fmt.Errorf("failed to append operation: %w", err)
	}

	return nil
}

func (s *Store) nextSeq(txn *badger.Txn, accountID string) uint64 {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Reverse = true
	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := queuePrefix(accountID)
	// Seek past the last queue key for this account.
	it.Seek(append(prefix, 0xff))
	if it.ValidForPrefix(prefix) {
		var last Operation
		item := it.Item()
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &last)
		}); err == nil {
			return last.Seq + 1
		}
	}
	return 1
}

// Pending returns all queued operations in enqueue order.
func (s *Store) Pending(accountID string) ([]*Operation, error) {
	var ops []*Operation

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := queuePrefix(accountID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var op Operation
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &op)
			})
			if err != nil {
				return fmt.Errorf("failed to decode operation: %w", err)
			}
			ops = append(ops, &op)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return ops, nil
}

func (s *Store) Remove(accountID, opID string) error {
	return s.mutateOp(accountID, opID, func(txn *badger.Txn, key []byte, _ *Operation) error {
		return txn.Delete(key)
	})
}

func (s *Store) UpdateRetry(accountID, opID string, retryCount int, lastError string) error {
	return s.mutateOp(accountID, opID, func(txn *badger.Txn, key []byte, op *Operation) error {
		op.RetryCount = retryCount
		op.LastError = lastError

		data, err := json.Marshal(op)
		if err != nil {
			return fmt.Errorf("failed to encode operation: %w", err)
		}
		return txn.Set(key, data)
	})
}

// RewriteTarget repoints every queued operation targeting oldID at newID.
// The rewrite is durable, so operations that depend on a drained create keep
// the server-assigned id even if the drain is interrupted and resumed later.
func (s *Store) RewriteTarget(accountID, oldID, newID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		type rewrite struct {
			key  []byte
			data []byte
		}
		var rewrites []rewrite

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		prefix := queuePrefix(accountID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var op Operation
			item := it.Item()
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &op)
			})
			if err != nil {
				it.Close()
				return fmt.Errorf("failed to decode operation: %w", err)
			}

			if op.TaskID != oldID {
				continue
			}
			op.TaskID = newID

			data, err := json.Marshal(&op)
			if err != nil {
				it.Close()
				return fmt.Errorf("failed to encode operation: %w", err)
			}
			rewrites = append(rewrites, rewrite{key: item.KeyCopy(nil), data: data})
		}
		it.Close()

		for _, rw := range rewrites {
			if err := txn.Set(rw.key, rw.data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) HasPending(accountID string) (bool, error) {
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := queuePrefix(accountID)
		it.Seek(prefix)
		found = it.ValidForPrefix(prefix)
		return nil
	})
	if err != nil {
		return false, err
	}

	return found, nil
}

func (s *Store) PendingCount(accountID string) (int, error) {
	ops, err := s.Pending(accountID)
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

func (s *Store) mutateOp(accountID, opID string, fn func(txn *badger.Txn, key []byte, op *Operation) error) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var key []byte
		var found Operation

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		prefix := queuePrefix(accountID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var op Operation
			item := it.Item()
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &op)
			})
			if err != nil {
				it.Close()
				return fmt.Errorf("failed to decode operation: %w", err)
			}

			if op.ID == opID {
				key = item.KeyCopy(nil)
				found = op
				break
			}
		}
		it.Close()

		if key == nil {
			return ErrOperationNotFound
		}
		return fn(txn, key, &found)
	})
}
