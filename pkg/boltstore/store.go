// Package boltstore persists accounts and world layouts in a bbolt file.
package boltstore

import (
	"errors"
	"fmt"
	"os"

	bbolt "go.etcd.io/bbolt"
)

var (
	ErrNotFound = errors.New("boltstore: not found")
	ErrExists   = errors.New("boltstore: already exists")
)

// Store wraps a bbolt database.
type Store struct {
	bolt *bbolt.DB
}

// Open opens or creates a bbolt database file and ensures all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}

	// Ensure all buckets exist.
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketAccounts, bucketAccountNames, bucketWorlds, bucketWorldNames} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketMeta).Put(keyVersion, intToKey(schemaVersion))
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: create buckets: %w", err)
	}

	return &Store{bolt: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	if s.bolt != nil {
		return s.bolt.Close()
	}
	return nil
}

// Path returns the filesystem path of the underlying bbolt database.
func (s *Store) Path() string {
	if s.bolt != nil {
		return s.bolt.Path()
	}
	return ""
}

// Backup creates a hot snapshot of the bbolt database using tx.WriteTo().
func (s *Store) Backup(path string) error {
	return s.bolt.View(func(tx *bbolt.Tx) error {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("boltstore: create backup %s: %w", path, err)
		}
		defer f.Close()
		if _, err := tx.WriteTo(f); err != nil {
			return fmt.Errorf("boltstore: write backup: %w", err)
		}
		return nil
	})
}

// Counts returns the number of stored accounts and worlds.
func (s *Store) Counts() (accounts, worlds int) {
	s.bolt.View(func(tx *bbolt.Tx) error {
		accounts = tx.Bucket(bucketAccounts).Stats().KeyN
		worlds = tx.Bucket(bucketWorlds).Stats().KeyN
		return nil
	})
	return accounts, worlds
}
