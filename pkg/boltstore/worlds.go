package boltstore

import (
	"fmt"
	"sort"
	"time"

	bbolt "go.etcd.io/bbolt"
)

// worldRecord is the stored form of a world. Blob is zstd-compressed.
type worldRecord struct {
	ID      uint64
	Name    string
	Created time.Time
	Updated time.Time
	Blob    []byte
}

// GetWorld returns the layout stored under name. ok is false when no world
// with that name exists.
func (s *Store) GetWorld(name string) (id int, blob []byte, ok bool, err error) {
	var rec *worldRecord
	err = s.bolt.View(func(tx *bbolt.Tx) error {
		idKey := tx.Bucket(bucketWorldNames).Get(nameKey(name))
		if idKey == nil {
			return nil
		}
		data := tx.Bucket(bucketWorlds).Get(idKey)
		if data == nil {
			return fmt.Errorf("boltstore: world %q (#%d): dangling index", name, keyToInt(idKey))
		}
		var derr error
		rec, derr = decodeWorld(data)
		return derr
	})
	if err != nil || rec == nil {
		return 0, nil, false, err
	}
	blob, err = decompress(rec.Blob)
	if err != nil {
		return 0, nil, false, fmt.Errorf("boltstore: world %q: decompress: %w", name, err)
	}
	return int(rec.ID), blob, true, nil
}

// CreateWorld stores a new world layout and returns its assigned ID.
func (s *Store) CreateWorld(name string, blob []byte) (int, error) {
	packed, err := compress(blob)
	if err != nil {
		return 0, fmt.Errorf("boltstore: world %q: compress: %w", name, err)
	}
	var id uint64
	err = s.bolt.Update(func(tx *bbolt.Tx) error {
		names := tx.Bucket(bucketWorldNames)
		if names.Get(nameKey(name)) != nil {
			return fmt.Errorf("boltstore: world %q: %w", name, ErrExists)
		}
		b := tx.Bucket(bucketWorlds)
		var err error
		if id, err = b.NextSequence(); err != nil {
			return err
		}
		now := time.Now()
		data, err := encodeWorld(&worldRecord{ID: id, Name: name, Created: now, Updated: now, Blob: packed})
		if err != nil {
			return fmt.Errorf("boltstore: encode world %q: %w", name, err)
		}
		if err := b.Put(intToKey(id), data); err != nil {
			return err
		}
		return names.Put(nameKey(name), intToKey(id))
	})
	return int(id), err
}

// PutWorld replaces the layout of an existing world.
func (s *Store) PutWorld(name string, blob []byte) error {
	packed, err := compress(blob)
	if err != nil {
		return fmt.Errorf("boltstore: world %q: compress: %w", name, err)
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		idKey := tx.Bucket(bucketWorldNames).Get(nameKey(name))
		if idKey == nil {
			return fmt.Errorf("boltstore: world %q: %w", name, ErrNotFound)
		}
		b := tx.Bucket(bucketWorlds)
		rec, err := decodeWorld(b.Get(idKey))
		if err != nil {
			return fmt.Errorf("boltstore: decode world %q: %w", name, err)
		}
		rec.Blob = packed
		rec.Updated = time.Now()
		data, err := encodeWorld(rec)
		if err != nil {
			return fmt.Errorf("boltstore: encode world %q: %w", name, err)
		}
		return b.Put(idKey, data)
	})
}

// WorldNames lists stored world names in ascending order.
func (s *Store) WorldNames() ([]string, error) {
	var names []string
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketWorlds).ForEach(func(_, v []byte) error {
			rec, err := decodeWorld(v)
			if err != nil {
				return err
			}
			names = append(names, rec.Name)
			return nil
		})
	})
	sort.Strings(names)
	return names, err
}
