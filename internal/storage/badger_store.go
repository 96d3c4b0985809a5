package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"inveni/internal/errors"

	"github.com/dgraph-io/badger/v4"
)

var (
	ErrNotFound = errors.NotFound("entity not found")
	ErrExists   = errors.ValidationError("entity already exists", nil)
)

// Entity represents any storable entity with an ID
type Entity interface {
	GetID() string
}

// BadgerStore keeps JSON entities under "<prefix>:<id>" keys. Secondary
// index keys carry no value and are written in the same transaction.
type BadgerStore struct {
	db     *badger.DB
	prefix string
}

func NewBadgerStore(db *badger.DB, prefix string) *BadgerStore {
	return &BadgerStore{
		db:     db,
		prefix: prefix,
	}
}

func (s *BadgerStore) makeKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", s.prefix, id))
}

// Create stores a new entity along with its index keys.
func (s *BadgerStore) Create(entity Entity, indexKeys ...string) error {
	if entity.GetID() == "" {
		return fmt.Errorf("entity ID cannot be empty")
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshaling entity: %w", err)
	}

	key := s.makeKey(entity.GetID())
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return ErrExists.Wrap(fmt.Errorf("id %s", entity.GetID()))
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		if err := txn.Set(key, data); err != nil {
			return fmt.Errorf("storing entity: %w", err)
		}
		for _, ik := range indexKeys {
			if err := txn.Set([]byte(ik), nil); err != nil {
				return fmt.Errorf("storing index %s: %w", ik, err)
			}
		}
		return nil
	})
}

func (s *BadgerStore) Get(id string, entity Entity) error {
	key := s.makeKey(id)

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, entity)
		})
	})

	if err == badger.ErrKeyNotFound {
		return ErrNotFound.Wrap(fmt.Errorf("id %s", id))
	}
	return err
}

// Delete removes an entity and the given index keys.
func (s *BadgerStore) Delete(id string, indexKeys ...string) error {
	key := s.makeKey(id)

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return ErrNotFound.Wrap(fmt.Errorf("id %s", id))
		} else if err != nil {
			return err
		}

		for _, ik := range indexKeys {
			if err := txn.Delete([]byte(ik)); err != nil {
				return err
			}
		}
		return txn.Delete(key)
	})
}

// ScanKeys returns the suffixes of keys under prefix in key order, or in
// reverse order when reverse is set. limit <= 0 means no limit.
func (s *BadgerStore) ScanKeys(prefix string, reverse bool, limit int) ([]string, error) {
	var out []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = reverse
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := []byte(prefix)
		if reverse {
			seek = append(seek, 0xff)
		}
		for it.Seek(seek); it.ValidForPrefix([]byte(prefix)); it.Next() {
			out = append(out, strings.TrimPrefix(string(it.Item().Key()), prefix))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", prefix, err)
	}
	return out, nil
}
