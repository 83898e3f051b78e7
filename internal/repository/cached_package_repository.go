package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/wagate/billing-service/internal/domain"
	"github.com/wagate/billing-service/pkg/logger"
)

// CachedPackageRepository реализует PackageRepository с кешированием.
// Каталог пакетов читается на каждом расчете квоты, поэтому кешируется;
// записи администратора инвалидируют кеш.
type CachedPackageRepository struct {
	repo  PackageRepository
	cache *RedisCacheRepository
	log   *logger.Logger
}

// NewCachedPackageRepository создает новый репозиторий пакетов с кешированием
func NewCachedPackageRepository(
	repo PackageRepository,
	cache *RedisCacheRepository,
	log *logger.Logger,
) PackageRepository {
	return &CachedPackageRepository{
		repo:  repo,
		cache: cache,
		log:   log,
	}
}

// GetByID возвращает пакет из кеша или из основного репозитория
func (r *CachedPackageRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Package, error) {
	if pkg, ok := r.cache.GetPackage(ctx, id); ok {
		return pkg, nil
	}

	pkg, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Package{}, err
	}

	r.cache.SetPackage(ctx, pkg)

	return pkg, nil
}

// GetActive возвращает список активных пакетов из кеша или из основного репозитория
func (r *CachedPackageRepository) GetActive(ctx context.Context) ([]domain.Package, error) {
	if packages, ok := r.cache.GetActivePackages(ctx); ok {
		return packages, nil
	}

	packages, err := r.repo.GetActive(ctx)
	if err != nil {
		return nil, err
	}

	r.cache.SetActivePackages(ctx, packages)

	return packages, nil
}

// GetAll возвращает все пакеты, административное чтение идет мимо кеша
func (r *CachedPackageRepository) GetAll(ctx context.Context) ([]domain.Package, error) {
	return r.repo.GetAll(ctx)
}

// Create создает пакет и инвалидирует кеш
func (r *CachedPackageRepository) Create(ctx context.Context, pkg domain.Package) (domain.Package, error) {
	created, err := r.repo.Create(ctx, pkg)
	if err != nil {
		return domain.Package{}, err
	}

	r.cache.InvalidatePackage(ctx, created.ID)

	return created, nil
}

// Update обновляет пакет и инвалидирует кеш
func (r *CachedPackageRepository) Update(ctx context.Context, pkg domain.Package) error {
	if err := r.repo.Update(ctx, pkg); err != nil {
		return err
	}

	r.cache.InvalidatePackage(ctx, pkg.ID)

	return nil
}

// Deactivate выключает пакет и инвалидирует кеш
func (r *CachedPackageRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	if err := r.repo.Deactivate(ctx, id); err != nil {
		return err
	}

	r.cache.InvalidatePackage(ctx, id)

	return nil
}
