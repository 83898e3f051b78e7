package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/wagate/billing-service/internal/domain"
	"github.com/wagate/billing-service/internal/repository"
	"github.com/wagate/billing-service/pkg/logger"
)

// PackageService интерфейс каталога тарифных пакетов
type PackageService interface {
	// GetByID возвращает пакет по ID
	GetByID(ctx context.Context, id uuid.UUID) (domain.Package, error)

	// GetActive возвращает пакеты, доступные для покупки
	GetActive(ctx context.Context) ([]domain.Package, error)

	// GetAll возвращает все пакеты, включая снятые с продажи
	GetAll(ctx context.Context) ([]domain.Package, error)

	// Create добавляет пакет в каталог
	Create(ctx context.Context, req domain.PackageRequest) (domain.Package, error)

	// Update изменяет пакет. Изменение не затрагивает уже открытые
	// транзакции и действующие подписки до их продления.
	Update(ctx context.Context, id uuid.UUID, req domain.PackageRequest) (domain.Package, error)

	// Deactivate снимает пакет с продажи, не удаляя его из каталога
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// packageService реализация каталога пакетов
type packageService struct {
	packages repository.PackageRepository
	log      *logger.Logger
	currency string
}

// NewPackageService создает новый сервис каталога пакетов.
// currency подставляется в пакеты, созданные без явной валюты
func NewPackageService(packages repository.PackageRepository, log *logger.Logger, currency string) PackageService {
	return &packageService{
		packages: packages,
		log:      log,
		currency: currency,
	}
}

// GetByID возвращает пакет по ID
func (s *packageService) GetByID(ctx context.Context, id uuid.UUID) (domain.Package, error) {
	pkg, err := s.packages.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Package{}, domain.NewNotFoundError("package", id.String())
		}
		return domain.Package{}, fmt.Errorf("failed to get package: %w", err)
	}
	return pkg, nil
}

// GetActive возвращает пакеты, доступные для покупки
func (s *packageService) GetActive(ctx context.Context) ([]domain.Package, error) {
	return s.packages.GetActive(ctx)
}

// GetAll возвращает все пакеты, включая снятые с продажи
func (s *packageService) GetAll(ctx context.Context) ([]domain.Package, error) {
	return s.packages.GetAll(ctx)
}

// Create добавляет пакет в каталог
func (s *packageService) Create(ctx context.Context, req domain.PackageRequest) (domain.Package, error) {
	if req.Currency == "" {
		req.Currency = s.currency
	}
	if err := validatePackageRequest(req); err != nil {
		return domain.Package{}, err
	}

	pkg := domain.Package{
		ID:           uuid.New(),
		Name:         req.Name,
		Price:        req.Price,
		Currency:     req.Currency,
		DurationDays: req.DurationDays,
		Features:     req.Features,
		Active:       true,
		Trial:        req.Trial,
	}

	pkg, err := s.packages.Create(ctx, pkg)
	if err != nil {
		return domain.Package{}, fmt.Errorf("failed to create package: %w", err)
	}

	s.log.Infow("Created package", "package_id", pkg.ID, "name", pkg.Name, "price", pkg.Price)

	return pkg, nil
}

// Update изменяет пакет
func (s *packageService) Update(ctx context.Context, id uuid.UUID, req domain.PackageRequest) (domain.Package, error) {
	if req.Currency == "" {
		req.Currency = s.currency
	}
	if err := validatePackageRequest(req); err != nil {
		return domain.Package{}, err
	}

	pkg, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Package{}, err
	}

	pkg.Name = req.Name
	pkg.Price = req.Price
	pkg.Currency = req.Currency
	pkg.DurationDays = req.DurationDays
	pkg.Features = req.Features
	pkg.Trial = req.Trial

	if err := s.packages.Update(ctx, pkg); err != nil {
		return domain.Package{}, fmt.Errorf("failed to update package: %w", err)
	}

	s.log.Infow("Updated package", "package_id", pkg.ID, "name", pkg.Name)

	return pkg, nil
}

// Deactivate снимает пакет с продажи
func (s *packageService) Deactivate(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}

	if err := s.packages.Deactivate(ctx, id); err != nil {
		return fmt.Errorf("failed to deactivate package: %w", err)
	}

	s.log.Infow("Deactivated package", "package_id", id)

	return nil
}

// validatePackageRequest проверяет поля запроса каталога
func validatePackageRequest(req domain.PackageRequest) error {
	var verr domain.ValidationErrors

	if req.Name == "" {
		verr.Add("name", "name is required")
	}
	if req.Price <= 0 {
		verr.Add("price", "price must be positive")
	}
	if len(req.Currency) != 3 {
		verr.Add("currency", "currency must be a 3-letter code")
	}
	if req.DurationDays <= 0 {
		verr.Add("duration_days", "duration must be positive")
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}
