// Package artifact persists trained crowd models in an embedded key/value store.
package artifact

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"

	"smartmess-backend/config"
	"smartmess-backend/internal/crowdmodel"
)

const modelKeyPrefix = "model:"

// ErrNotFound is returned when no artifact exists for a key.
var ErrNotFound = errors.New("model artifact not found")

// Store keeps one serialized model per model key.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the artifact database described by cfg.
func Open(cfg config.ModelsConfig) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = quietLogger{log.WithField("component", "badger")}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open model store: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an already opened database.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes m under its key, replacing any previous version.
func (s *Store) Save(ctx context.Context, m *crowdmodel.Model) error {
	if m.Key == "" {
		return errors.New("model key is empty")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal model: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(modelKeyPrefix+m.Key), data)
	})
}

// Load reads the model stored under key.
func (s *Store) Load(ctx context.Context, key string) (*crowdmodel.Model, error) {
	var m crowdmodel.Model
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(modelKeyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get model: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Delete removes a model. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(modelKeyPrefix + key))
	})
}

// Keys lists every stored model key.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(modelKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return keys, nil
}

// quietLogger drops badger's chatty info and debug output.
type quietLogger struct {
	badger.Logger
}

func (quietLogger) Infof(string, ...interface{})  {}
func (quietLogger) Debugf(string, ...interface{}) {}
