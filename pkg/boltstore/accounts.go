package boltstore

import (
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"
)

// Account is a registered GrowID.
type Account struct {
	ID        uint64
	Name      string
	PassHash  string // bcrypt, or a legacy DES crypt string
	Email     string
	Created   time.Time
	LastLogon time.Time
	Banned    bool
}

// CreateAccount stores a new account and assigns its ID. Names are unique
// regardless of case.
func (s *Store) CreateAccount(a *Account) error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		names := tx.Bucket(bucketAccountNames)
		if names.Get(nameKey(a.Name)) != nil {
			return fmt.Errorf("boltstore: account %q: %w", a.Name, ErrExists)
		}
		b := tx.Bucket(bucketAccounts)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		a.ID = id
		if a.Created.IsZero() {
			a.Created = time.Now()
		}
		data, err := encodeAccount(a)
		if err != nil {
			return fmt.Errorf("boltstore: encode account %q: %w", a.Name, err)
		}
		if err := b.Put(intToKey(id), data); err != nil {
			return err
		}
		return names.Put(nameKey(a.Name), intToKey(id))
	})
}

// PutAccount overwrites an existing account record.
func (s *Store) PutAccount(a *Account) error {
	data, err := encodeAccount(a)
	if err != nil {
		return fmt.Errorf("boltstore: encode account %q: %w", a.Name, err)
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		if b.Get(intToKey(a.ID)) == nil {
			return fmt.Errorf("boltstore: account #%d: %w", a.ID, ErrNotFound)
		}
		return b.Put(intToKey(a.ID), data)
	})
}

// GetAccount returns the account with the given ID.
func (s *Store) GetAccount(id uint64) (*Account, error) {
	var a *Account
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketAccounts).Get(intToKey(id))
		if data == nil {
			return fmt.Errorf("boltstore: account #%d: %w", id, ErrNotFound)
		}
		var err error
		a, err = decodeAccount(data)
		return err
	})
	return a, err
}

// GetAccountByName looks an account up by case-insensitive name.
func (s *Store) GetAccountByName(name string) (*Account, error) {
	var a *Account
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		idKey := tx.Bucket(bucketAccountNames).Get(nameKey(name))
		if idKey == nil {
			return fmt.Errorf("boltstore: account %q: %w", name, ErrNotFound)
		}
		data := tx.Bucket(bucketAccounts).Get(idKey)
		if data == nil {
			return fmt.Errorf("boltstore: account %q (#%d): %w", name, keyToInt(idKey), ErrNotFound)
		}
		var err error
		a, err = decodeAccount(data)
		return err
	})
	return a, err
}
