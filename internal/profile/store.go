// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package profile implements the behavioral baseline store: Badger-backed
// persistence with a bounded LRU in front, and per-key write serialization
// via striped locks. Callers on the same key serialize; callers on distinct
// keys run concurrently.
package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/spaolacci/murmur3"

	"github.com/streamwarden/streamwarden/internal/cache"
	"github.com/streamwarden/streamwarden/internal/config"
	"github.com/streamwarden/streamwarden/internal/detect"
	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/metrics"
	"github.com/streamwarden/streamwarden/internal/models"
)

const (
	userKeyPrefix = "user:"
	repoKeyPrefix = "repo:"
)

// Store is the profile store.
type Store struct {
	db  *badger.DB
	cfg config.ProfileConfig

	alpha float64 // EWMA learning rate

	userCache *cache.LRU[*models.UserProfile]
	repoCache *cache.LRU[*models.RepoProfile]

	stripes []sync.Mutex
}

// Open opens (or creates) the store at cfg.Dir.
func Open(cfg config.ProfileConfig, alpha float64) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Dir).
		WithLogger(nil).
		WithCompactL0OnClose(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open profile store: %w", err)
	}

	return &Store{
		db:        db,
		cfg:       cfg,
		alpha:     alpha,
		userCache: cache.NewLRU[*models.UserProfile](cfg.CacheCapacity, cfg.CacheTTL),
		repoCache: cache.NewLRU[*models.RepoProfile](cfg.CacheCapacity, cfg.CacheTTL),
		stripes:   make([]sync.Mutex, cfg.LockStripes),
	}, nil
}

// OpenInMemory opens an ephemeral store, for tests.
func OpenInMemory(cfg config.ProfileConfig, alpha float64) (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory profile store: %w", err)
	}
	return &Store{
		db:        db,
		cfg:       cfg,
		alpha:     alpha,
		userCache: cache.NewLRU[*models.UserProfile](cfg.CacheCapacity, cfg.CacheTTL),
		repoCache: cache.NewLRU[*models.RepoProfile](cfg.CacheCapacity, cfg.CacheTTL),
		stripes:   make([]sync.Mutex, cfg.LockStripes),
	}, nil
}

// DB exposes the underlying Badger handle for collaborators that share the
// store directory (the poller's quota cache).
func (s *Store) DB() *badger.DB { return s.db }

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// stripe returns the lock guarding a key. Striping keeps per-key
// serialization without a lock per key.
func (s *Store) stripe(key string) *sync.Mutex {
	h := murmur3.Sum64([]byte(key))
	return &s.stripes[h%uint64(len(s.stripes))]
}

// GetUser returns a copy of the actor's profile, or nil when no profile
// exists yet.
func (s *Store) GetUser(ctx context.Context, actorKey string) (*models.UserProfile, error) {
	if p, ok := s.userCache.Get(userKeyPrefix + actorKey); ok {
		metrics.ProfileCacheHits.Inc()
		return copyUserProfile(p), nil
	}
	metrics.ProfileCacheMisses.Inc()

	p, err := s.loadUser(actorKey)
	if err != nil || p == nil {
		return nil, err
	}
	s.userCache.Add(userKeyPrefix+actorKey, p)
	return copyUserProfile(p), nil
}

// UpsertUser applies the EWMA update for one observation and persists the
// result atomically. Concurrent callers on the same actor serialize on the
// key's stripe; the processor's lane sharding means that in practice each
// actor has a single writer.
func (s *Store) UpsertUser(ctx context.Context, actorKey string, features [models.FeatureCount]float64, eventType models.EventType, ts time.Time) (*models.UserProfile, error) {
	mu := s.stripe(userKeyPrefix + actorKey)
	mu.Lock()
	defer mu.Unlock()

	p, err := s.loadUser(actorKey)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = models.NewUserProfile(actorKey)
	}

	p.ApplyEWMA(features, s.alpha, eventType, ts)

	if err := s.persist(userKeyPrefix+actorKey, p, s.cfg.UserTTL); err != nil {
		return nil, fmt.Errorf("persist user profile %s: %w", actorKey, err)
	}
	s.userCache.Add(userKeyPrefix+actorKey, p)
	return copyUserProfile(p), nil
}

// GetRepo returns a copy of the repository profile, or nil when absent.
func (s *Store) GetRepo(ctx context.Context, repoKey string) (*models.RepoProfile, error) {
	if p, ok := s.repoCache.Get(repoKeyPrefix + repoKey); ok {
		metrics.ProfileCacheHits.Inc()
		return copyRepoProfile(p), nil
	}
	metrics.ProfileCacheMisses.Inc()

	p, err := s.loadRepo(repoKey)
	if err != nil || p == nil {
		return nil, err
	}
	s.repoCache.Add(repoKeyPrefix+repoKey, p)
	return copyRepoProfile(p), nil
}

// TouchRepo folds one event into the repository's rate estimate and
// refreshes the cached criticality when its TTL has lapsed.
func (s *Store) TouchRepo(ctx context.Context, repoKey, actorKey string, ts time.Time) (*models.RepoProfile, error) {
	mu := s.stripe(repoKeyPrefix + repoKey)
	mu.Lock()
	defer mu.Unlock()

	p, err := s.loadRepo(repoKey)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = models.NewRepoProfile(repoKey, ts)
	}

	p.Touch(actorKey, ts, s.alpha)

	if !p.CriticalityValid(ts) {
		p.Criticality = detect.EstimateCriticality(p, repoKey, ts)
		p.CriticalityTTL = ts.Add(s.cfg.CriticalityTTL)
	}

	if err := s.persist(repoKeyPrefix+repoKey, p, s.cfg.UserTTL); err != nil {
		return nil, fmt.Errorf("persist repo profile %s: %w", repoKey, err)
	}
	s.repoCache.Add(repoKeyPrefix+repoKey, p)
	return copyRepoProfile(p), nil
}

func (s *Store) loadUser(actorKey string) (*models.UserProfile, error) {
	var p *models.UserProfile
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(userKeyPrefix + actorKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var loaded models.UserProfile
			if err := json.Unmarshal(val, &loaded); err != nil {
				return err
			}
			p = &loaded
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load user profile %s: %w", actorKey, err)
	}
	return p, nil
}

func (s *Store) loadRepo(repoKey string) (*models.RepoProfile, error) {
	var p *models.RepoProfile
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(repoKeyPrefix + repoKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var loaded models.RepoProfile
			if err := json.Unmarshal(val, &loaded); err != nil {
				return err
			}
			p = &loaded
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load repo profile %s: %w", repoKey, err)
	}
	return p, nil
}

func (s *Store) persist(key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), data)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

// copyUserProfile returns a detached copy so detector reads never race
// with the writer lane's next update.
func copyUserProfile(p *models.UserProfile) *models.UserProfile {
	cp := *p
	cp.TypeCounts = make(map[string]int64, len(p.TypeCounts))
	for k, v := range p.TypeCounts {
		cp.TypeCounts[k] = v
	}
	return &cp
}

func copyRepoProfile(p *models.RepoProfile) *models.RepoProfile {
	cp := *p
	cp.Contributors = append([]string(nil), p.Contributors...)
	return &cp
}

// GC is the background maintenance service: value-log garbage collection
// and cache sweeps. Badger's own TTLs expire idle profiles; GC reclaims
// their space.
type GC struct {
	store    *Store
	interval time.Duration
}

// NewGC creates the maintenance service.
func NewGC(store *Store) *GC {
	return &GC{store: store, interval: store.cfg.GCInterval}
}

// Serve runs maintenance until the context ends. Implements
// suture.Service.
func (g *GC) Serve(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.runOnce()
		}
	}
}

func (g *GC) runOnce() {
	removed := g.store.userCache.CleanupExpired() + g.store.repoCache.CleanupExpired()
	if removed > 0 {
		logging.Debug().Int("removed", removed).Msg("profile cache sweep")
	}

	// Badger recommends repeating value-log GC while it makes progress.
	for {
		if err := g.store.db.RunValueLogGC(0.5); err != nil {
			if !errors.Is(err, badger.ErrNoRewrite) {
				logging.Warn().Err(err).Msg("profile store value log GC")
			}
			return
		}
		metrics.ProfilesExpired.Add(1)
	}
}
