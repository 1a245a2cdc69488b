package trust

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerKV stores values in an embedded badger database.
type BadgerKV struct {
	db *badger.DB
}

// OpenBadgerKV opens (or creates) the database in dir.
func OpenBadgerKV(dir string) (*BadgerKV, error) {
	if dir == "" {
		return nil, errors.New("trust: badger backend needs a directory")
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("trust: open badger: %w", err)
	}
	return &BadgerKV{db: db}, nil
}

func (b *BadgerKV) Get(key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("trust: badger get %s: %w", key, err)
	}
	return out, nil
}

func (b *BadgerKV) Set(key string, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("trust: badger set %s: %w", key, err)
	}
	return nil
}

func (b *BadgerKV) Delete(key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("trust: badger delete %s: %w", key, err)
	}
	return nil
}

func (b *BadgerKV) Close() error { return b.db.Close() }
