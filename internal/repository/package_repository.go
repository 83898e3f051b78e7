package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/uuid"
	"github.com/wagate/billing-service/internal/domain"
	"github.com/wagate/billing-service/pkg/logger"
)

// PackageRepository интерфейс репозитория тарифных пакетов
type PackageRepository interface {
	// GetByID возвращает пакет по ID
	GetByID(ctx context.Context, id uuid.UUID) (domain.Package, error)

	// GetActive возвращает список активных пакетов
	GetActive(ctx context.Context) ([]domain.Package, error)

	// GetAll возвращает все пакеты, включая отключенные
	GetAll(ctx context.Context) ([]domain.Package, error)

	// Create создает новый пакет
	Create(ctx context.Context, pkg domain.Package) (domain.Package, error)

	// Update обновляет существующий пакет
	Update(ctx context.Context, pkg domain.Package) error

	// Deactivate выключает пакет, не удаляя его.
	// Пакеты не удаляются физически, пока на них ссылаются подписки.
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// InMemoryPackageRepository реализация репозитория пакетов в памяти
type InMemoryPackageRepository struct {
	packages map[uuid.UUID]domain.Package
	mutex    sync.RWMutex
	log      *logger.Logger
}

// NewInMemoryPackageRepository создает новый репозиторий пакетов в памяти
func NewInMemoryPackageRepository(log *logger.Logger) *InMemoryPackageRepository {
	return &InMemoryPackageRepository{
		packages: make(map[uuid.UUID]domain.Package),
		log:      log,
	}
}

// GetByID возвращает пакет по ID
func (r *InMemoryPackageRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Package, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	pkg, exists := r.packages[id]
	if !exists {
		return domain.Package{}, ErrNotFound
	}

	return pkg, nil
}

// GetActive возвращает список активных пакетов
func (r *InMemoryPackageRepository) GetActive(ctx context.Context) ([]domain.Package, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	packages := make([]domain.Package, 0, len(r.packages))
	for _, pkg := range r.packages {
		if pkg.Active {
			packages = append(packages, pkg)
		}
	}

	sort.Slice(packages, func(i, j int) bool {
		return packages[i].Price < packages[j].Price
	})

	return packages, nil
}

// GetAll возвращает все пакеты
func (r *InMemoryPackageRepository) GetAll(ctx context.Context) ([]domain.Package, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	packages := make([]domain.Package, 0, len(r.packages))
	for _, pkg := range r.packages {
		packages = append(packages, pkg)
	}

	sort.Slice(packages, func(i, j int) bool {
		return packages[i].Price < packages[j].Price
	})

	return packages, nil
}

// Create создает новый пакет
func (r *InMemoryPackageRepository) Create(ctx context.Context, pkg domain.Package) (domain.Package, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.packages[pkg.ID]; exists {
		return domain.Package{}, ErrDuplicate
	}

	pkg.CreatedAt = time.Now()
	pkg.UpdatedAt = time.Now()

	r.packages[pkg.ID] = pkg

	return pkg, nil
}

// Update обновляет существующий пакет
func (r *InMemoryPackageRepository) Update(ctx context.Context, pkg domain.Package) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.packages[pkg.ID]; !exists {
		return ErrNotFound
	}

	pkg.UpdatedAt = time.Now()
	r.packages[pkg.ID] = pkg

	return nil
}

// Deactivate выключает пакет
func (r *InMemoryPackageRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	pkg, exists := r.packages[id]
	if !exists {
		return ErrNotFound
	}

	pkg.Active = false
	pkg.UpdatedAt = time.Now()
	r.packages[id] = pkg

	return nil
}

// PostgresPackageRepository реализация репозитория пакетов через PostgreSQL
type PostgresPackageRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewPostgresPackageRepository создает новый репозиторий пакетов через PostgreSQL
func NewPostgresPackageRepository(db *pgxpool.Pool, log *logger.Logger) *PostgresPackageRepository {
	return &PostgresPackageRepository{
		db:  db,
		log: log,
	}
}

const packageColumns = `
	id, name, price, currency, duration_days, features,
	active, trial, created_at, updated_at
`

// scanPackage разбирает одну строку результата в доменную модель
func scanPackage(row pgx.Row) (domain.Package, error) {
	var pkg domain.Package
	var featuresBytes []byte

	err := row.Scan(
		&pkg.ID,
		&pkg.Name,
		&pkg.Price,
		&pkg.Currency,
		&pkg.DurationDays,
		&featuresBytes,
		&pkg.Active,
		&pkg.Trial,
		&pkg.CreatedAt,
		&pkg.UpdatedAt,
	)
	if err != nil {
		return domain.Package{}, err
	}

	if len(featuresBytes) > 0 {
		if err := json.Unmarshal(featuresBytes, &pkg.Features); err != nil {
			return domain.Package{}, fmt.Errorf("failed to unmarshal package features: %w", err)
		}
	}

	return pkg, nil
}

// GetByID возвращает пакет по ID из базы данных
func (r *PostgresPackageRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE id = $1`

	pkg, err := scanPackage(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Package{}, ErrNotFound
		}
		return domain.Package{}, fmt.Errorf("failed to get package: %w", err)
	}

	return pkg, nil
}

// GetActive возвращает список активных пакетов из базы данных
func (r *PostgresPackageRepository) GetActive(ctx context.Context) ([]domain.Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE active = true ORDER BY price`

	return r.queryPackages(ctx, query)
}

// GetAll возвращает все пакеты из базы данных
func (r *PostgresPackageRepository) GetAll(ctx context.Context) ([]domain.Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages ORDER BY price`

	return r.queryPackages(ctx, query)
}

func (r *PostgresPackageRepository) queryPackages(ctx context.Context, query string, args ...any) ([]domain.Package, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query packages: %w", err)
	}
	defer rows.Close()

	var packages []domain.Package
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan package: %w", err)
		}
		packages = append(packages, pkg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating packages: %w", err)
	}

	return packages, nil
}

// Create создает новый пакет в базе данных
func (r *PostgresPackageRepository) Create(ctx context.Context, pkg domain.Package) (domain.Package, error) {
	query := `
		INSERT INTO packages (
			id, name, price, currency, duration_days, features,
			active, trial, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		RETURNING created_at, updated_at
	`

	featuresBytes, err := json.Marshal(pkg.Features)
	if err != nil {
		return domain.Package{}, fmt.Errorf("failed to marshal package features: %w", err)
	}

	now := time.Now()
	err = r.db.QueryRow(
		ctx,
		query,
		pkg.ID,
		pkg.Name,
		pkg.Price,
		pkg.Currency,
		pkg.DurationDays,
		featuresBytes,
		pkg.Active,
		pkg.Trial,
		now,
		now,
	).Scan(&pkg.CreatedAt, &pkg.UpdatedAt)
	if err != nil {
		return domain.Package{}, fmt.Errorf("failed to create package: %w", err)
	}

	return pkg, nil
}

// Update обновляет существующий пакет в базе данных
func (r *PostgresPackageRepository) Update(ctx context.Context, pkg domain.Package) error {
	query := `
		UPDATE packages
		SET name = $2, price = $3, currency = $4, duration_days = $5,
			features = $6, active = $7, trial = $8, updated_at = $9
		WHERE id = $1
	`

	featuresBytes, err := json.Marshal(pkg.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal package features: %w", err)
	}

	tag, err := r.db.Exec(
		ctx,
		query,
		pkg.ID,
		pkg.Name,
		pkg.Price,
		pkg.Currency,
		pkg.DurationDays,
		featuresBytes,
		pkg.Active,
		pkg.Trial,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to update package: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// Deactivate выключает пакет в базе данных
func (r *PostgresPackageRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE packages SET active = false, updated_at = $2 WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to deactivate package: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}
