// Package boltkv persists mirror entries in a BoltDB file.
package boltkv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/syntrixbase/bizdata/internal/mirror"
)

var bucketMirror = []byte("mirror")

// KV implements mirror.KV on a single bolt bucket.
type KV struct {
	db *bolt.DB
}

var _ mirror.KV = (*KV)(nil)

// Open opens or creates the database at path.
func Open(path string) (*KV, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMirror)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &KV{db: db}, nil
}

func (k *KV) Get(key string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := k.db.View(func(tx *bolt.Tx) error {
		// Bolt values are only valid inside the transaction. Seek keeps
		// empty values distinguishable from missing keys.
		k, v := tx.Bucket(bucketMirror).Cursor().Seek([]byte(key))
		if k != nil && string(k) == key {
			value, ok = string(v), true
		}
		return nil
	})
	if err != nil {
		return "", false, translate(err)
	}
	return value, ok, nil
}

func (k *KV) Set(key, value string) error {
	return translate(k.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMirror).Put([]byte(key), []byte(value))
	}))
}

func (k *KV) Delete(key string) error {
	return translate(k.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMirror).Delete([]byte(key))
	}))
}

func (k *KV) Close() error {
	return k.db.Close()
}

func translate(err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return mirror.ErrClosed
	}
	return err
}
