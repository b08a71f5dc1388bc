// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package poller

import (
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/ghclient"
)

// QuotaCache is the shared rate-limit state peers coordinate through.
// Semantics are compare-and-set with last-writer-wins by observation
// timestamp: a stale update never overwrites a fresher one.
type QuotaCache interface {
	// Update stores the quota if it is fresher than the current entry.
	Update(q ghclient.Quota) error

	// Get returns the current quota. ok is false when no entry exists or
	// the entry has expired.
	Get() (q ghclient.Quota, ok bool, err error)
}

// quotaKeyPrefix namespaces rate-limit entries in the shared store.
const quotaKeyPrefix = "ratelimit:poller:"

// quotaEntryTTL keeps entries slightly past the one-hour quota window so a
// fresh entry always supersedes before expiry.
const quotaEntryTTL = 70 * time.Minute

// BadgerQuotaCache implements QuotaCache on a Badger store shared between
// poller instances on the same host.
type BadgerQuotaCache struct {
	db  *badger.DB
	key []byte
}

// NewBadgerQuotaCache creates a quota cache keyed by region.
func NewBadgerQuotaCache(db *badger.DB, region string) *BadgerQuotaCache {
	if region == "" {
		region = "default"
	}
	return &BadgerQuotaCache{
		db:  db,
		key: []byte(quotaKeyPrefix + region),
	}
}

// Update performs the CAS write inside one Badger transaction. Badger
// retries conflicting transactions, so concurrent writers serialize and the
// freshest observation wins.
func (c *BadgerQuotaCache) Update(q ghclient.Quota) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(c.key)
		if err == nil {
			var current ghclient.Quota
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &current)
			}); err == nil && current.Observed.After(q.Observed) {
				// Existing entry is fresher; keep it.
				return nil
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		data, err := json.Marshal(q)
		if err != nil {
			return err
		}
		e := badger.NewEntry(c.key, data).WithTTL(quotaEntryTTL)
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("update quota cache: %w", err)
	}
	return nil
}

// Get reads the current shared quota.
func (c *BadgerQuotaCache) Get() (ghclient.Quota, bool, error) {
	var q ghclient.Quota
	found := false
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &q); err != nil {
				return err
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return ghclient.Quota{}, false, fmt.Errorf("read quota cache: %w", err)
	}
	return q, found, nil
}
