package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/aiidateam/renku2-aiida-integration/internal/constants"
	"github.com/aiidateam/renku2-aiida-integration/internal/statestore"
)

// Cache stores one metadata record per session, overwritten on every run.
type Cache struct {
	store statestore.Store
}

func NewCache(store statestore.Store) *Cache {
	return &Cache{store: store}
}

// CacheKey returns the store key of the session's metadata slot.
func CacheKey(sessionID string) string {
	return statestore.Key(constants.SessionsPrefix, sessionID, constants.MetadataFile)
}

// Save replaces the session's cached metadata with m.
func (c *Cache) Save(ctx context.Context, sessionID string, m Metadata) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return fmt.Errorf("canonicalize metadata: %w", err)
	}
	if err := c.store.Put(ctx, CacheKey(sessionID), canonical); err != nil {
		return fmt.Errorf("save metadata cache: %w", err)
	}
	return nil
}

// Load returns the session's cached metadata. ok is false when the slot is
// empty; err is set only when the slot exists but cannot be used.
func (c *Cache) Load(ctx context.Context, sessionID string) (Metadata, bool, error) {
	data, err := c.store.Get(ctx, CacheKey(sessionID))
	if errors.Is(err, statestore.ErrNotFound) {
		return Metadata{}, false, nil
	}
	if err != nil {
		return Metadata{}, false, err
	}
	if err := validateCache(data); err != nil {
		return Metadata{}, false, fmt.Errorf("metadata cache: %w", err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, false, fmt.Errorf("decode metadata cache: %w", err)
	}
	return m, true, nil
}

// Exists reports whether the session has a cached record.
func (c *Cache) Exists(ctx context.Context, sessionID string) bool {
	ok, err := c.store.Exists(ctx, CacheKey(sessionID))
	return err == nil && ok
}
