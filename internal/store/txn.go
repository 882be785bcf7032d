// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Txn is a store transaction. It is only valid inside the Update or View
// closure that received it.
type Txn struct {
	txn *badger.Txn
	ctx context.Context
}

// Get decodes the JSON document at key into v. Returns ErrNotFound if the key is absent.
func (t *Txn) Get(key string, v interface{}) error {
	item, err := t.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return transient("get", err)
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, v); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return nil
	})
}

// Exists reports whether key is present.
func (t *Txn) Exists(key string) (bool, error) {
	_, err := t.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, transient("get", err)
	}
	return true, nil
}

// Set stores v as a JSON document at key.
func (t *Txn) Set(key string, v interface{}) error {
	return t.SetWithTTL(key, v, 0)
}

// SetWithTTL stores v at key with an expiry. A zero ttl never expires.
func (t *Txn) SetWithTTL(key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	entry := badger.NewEntry([]byte(key), data)
	if ttl > 0 {
		entry = entry.WithTTL(ttl)
	}
	if err := t.txn.SetEntry(entry); err != nil {
		return transient("set", err)
	}
	return nil
}

// ExpiresAt returns the expiry of key, or the zero time when it never expires.
func (t *Txn) ExpiresAt(key string) (time.Time, error) {
	item, err := t.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, transient("get", err)
	}
	if exp := item.ExpiresAt(); exp > 0 {
		return time.Unix(int64(exp), 0), nil
	}
	return time.Time{}, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (t *Txn) Delete(key string) error {
	if err := t.txn.Delete([]byte(key)); err != nil {
		return transient("delete", err)
	}
	return nil
}

// Scan calls fn for every key with prefix in key order. The value slice is
// only valid during the call. Returning ErrStopScan ends the scan cleanly.
func (t *Txn) Scan(prefix string, fn func(key string, value []byte) error) error {
	return t.iterate(prefix, true, func(item *badger.Item) error {
		return item.Value(func(val []byte) error {
			return fn(string(item.Key()), val)
		})
	})
}

// ScanKeys calls fn for every key with prefix without loading values.
func (t *Txn) ScanKeys(prefix string, fn func(key string) error) error {
	return t.iterate(prefix, false, func(item *badger.Item) error {
		return fn(string(item.Key()))
	})
}

// ScanFrom calls fn for keys with prefix starting at the first key >= start.
func (t *Txn) ScanFrom(prefix, start string, fn func(key string, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := t.txn.NewIterator(opts)
	defer it.Close()

	p := []byte(prefix)
	for it.Seek([]byte(start)); it.ValidForPrefix(p); it.Next() {
		if err := t.ctx.Err(); err != nil {
			return err
		}
		item := it.Item()
		err := item.Value(func(val []byte) error {
			return fn(string(item.Key()), val)
		})
		if errors.Is(err, ErrStopScan) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of keys with prefix.
func (t *Txn) Count(prefix string) (int, error) {
	n := 0
	err := t.ScanKeys(prefix, func(string) error {
		n++
		return nil
	})
	return n, err
}

func (t *Txn) iterate(prefix string, prefetch bool, fn func(item *badger.Item) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = prefetch
	opts.Prefix = []byte(prefix)
	it := t.txn.NewIterator(opts)
	defer it.Close()

	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		if err := t.ctx.Err(); err != nil {
			return err
		}
		err := fn(it.Item())
		if errors.Is(err, ErrStopScan) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}
