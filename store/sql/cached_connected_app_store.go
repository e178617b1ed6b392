package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-apps/core"
)

const connectedAppCacheKeyPrefix = "go-apps::connected_app::v1"

// CachedConnectedAppStore serves Get from a cache and invalidates on every
// write. List always reads through.
type CachedConnectedAppStore struct {
	base  core.ConnectedAppStore
	cache repositorycache.CacheService
}

func NewCachedConnectedAppStore(base core.ConnectedAppStore, cacheService repositorycache.CacheService) (*CachedConnectedAppStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base connected app store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: connected app cache service is required")
	}
	return &CachedConnectedAppStore{base: base, cache: cacheService}, nil
}

func ConnectedAppCacheKey(appID string) (string, error) {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return "", fmt.Errorf("sqlstore: app id is required")
	}
	return connectedAppCacheKeyPrefix + "::" + url.PathEscape(appID), nil
}

func (s *CachedConnectedAppStore) Create(ctx context.Context, app core.ConnectedAppData) (core.ConnectedAppData, error) {
	return s.base.Create(ctx, app)
}

func (s *CachedConnectedAppStore) Get(ctx context.Context, appID string) (core.ConnectedAppData, error) {
	key, err := ConnectedAppCacheKey(appID)
	if err != nil {
		return core.ConnectedAppData{}, err
	}
	return repositorycache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) (core.ConnectedAppData, error) {
		return s.base.Get(ctx, appID)
	})
}

func (s *CachedConnectedAppStore) List(ctx context.Context, query core.ConnectedAppQuery) ([]core.ConnectedAppData, error) {
	return s.base.List(ctx, query)
}

func (s *CachedConnectedAppStore) Update(ctx context.Context, appID string, update core.AppUpdate) (core.ConnectedAppData, error) {
	updated, err := s.base.Update(ctx, appID, update)
	if invalidateErr := s.invalidate(ctx, appID); err == nil && invalidateErr != nil {
		return updated, invalidateErr
	}
	return updated, err
}

func (s *CachedConnectedAppStore) Delete(ctx context.Context, appID string) error {
	err := s.base.Delete(ctx, appID)
	if invalidateErr := s.invalidate(ctx, appID); err == nil {
		return invalidateErr
	}
	return err
}

func (s *CachedConnectedAppStore) invalidate(ctx context.Context, appID string) error {
	key, err := ConnectedAppCacheKey(appID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, key)
}
