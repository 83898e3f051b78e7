package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/wagate/billing-service/internal/domain"
	"github.com/wagate/billing-service/pkg/logger"
)

const (
	// Префиксы ключей для различных типов данных
	packageKeyPrefix  = "package:"
	activePackagesKey = "packages:active"

	// TTL для кэша
	defaultCacheTTL = 15 * time.Minute
)

// RedisCacheRepository реализует кеширование для репозиториев с использованием Redis
type RedisCacheRepository struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedisCacheRepository создает новый кеш-репозиторий
func NewRedisCacheRepository(client *redis.Client, log *logger.Logger) *RedisCacheRepository {
	return &RedisCacheRepository{
		client: client,
		ttl:    defaultCacheTTL,
		log:    log,
	}
}

// GetPackage возвращает пакет из кеша
func (c *RedisCacheRepository) GetPackage(ctx context.Context, id uuid.UUID) (domain.Package, bool) {
	data, err := c.client.Get(ctx, packageKeyPrefix+id.String()).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warnw("Failed to read package from cache", "package_id", id, "error", err)
		}
		return domain.Package{}, false
	}

	var pkg domain.Package
	if err := json.Unmarshal(data, &pkg); err != nil {
		c.log.Warnw("Failed to unmarshal cached package", "package_id", id, "error", err)
		return domain.Package{}, false
	}

	return pkg, true
}

// SetPackage сохраняет пакет в кеш
func (c *RedisCacheRepository) SetPackage(ctx context.Context, pkg domain.Package) {
	data, err := json.Marshal(pkg)
	if err != nil {
		c.log.Warnw("Failed to marshal package for cache", "package_id", pkg.ID, "error", err)
		return
	}

	if err := c.client.Set(ctx, packageKeyPrefix+pkg.ID.String(), data, c.ttl).Err(); err != nil {
		c.log.Warnw("Failed to write package to cache", "package_id", pkg.ID, "error", err)
	}
}

// GetActivePackages возвращает список активных пакетов из кеша
func (c *RedisCacheRepository) GetActivePackages(ctx context.Context) ([]domain.Package, bool) {
	data, err := c.client.Get(ctx, activePackagesKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warnw("Failed to read active packages from cache", "error", err)
		}
		return nil, false
	}

	var packages []domain.Package
	if err := json.Unmarshal(data, &packages); err != nil {
		c.log.Warnw("Failed to unmarshal cached package list", "error", err)
		return nil, false
	}

	return packages, true
}

// SetActivePackages сохраняет список активных пакетов в кеш
func (c *RedisCacheRepository) SetActivePackages(ctx context.Context, packages []domain.Package) {
	data, err := json.Marshal(packages)
	if err != nil {
		c.log.Warnw("Failed to marshal package list for cache", "error", err)
		return
	}

	if err := c.client.Set(ctx, activePackagesKey, data, c.ttl).Err(); err != nil {
		c.log.Warnw("Failed to write package list to cache", "error", err)
	}
}

// InvalidatePackage удаляет пакет и список активных пакетов из кеша
func (c *RedisCacheRepository) InvalidatePackage(ctx context.Context, id uuid.UUID) {
	keys := []string{packageKeyPrefix + id.String(), activePackagesKey}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Warnw("Failed to invalidate package cache", "package_id", id, "error", err)
	}
}

// Ping проверяет доступность Redis
func (c *RedisCacheRepository) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
