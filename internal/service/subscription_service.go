package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wagate/billing-service/internal/domain"
	"github.com/wagate/billing-service/internal/repository"
	"github.com/wagate/billing-service/pkg/logger"
)

// Ключи метаданных подписки
const (
	metaScheduledDowngrade = "downgrade_package_id"
	metaLastUpgradeAmount  = "last_upgrade_amount"
	metaWarnedPrefix       = "warned_"
)

// SubscriptionService интерфейс жизненного цикла подписок.
// У пользователя не более одной подписки в статусах pending/active/grace,
// это инвариант репозитория и всех операций сервиса.
type SubscriptionService interface {
	// OpenPending резервирует pending-подписку под открытую транзакцию покупки
	OpenPending(ctx context.Context, tr domain.Transaction) error

	// ActivateForTransaction запускает/продлевает/меняет подписку после
	// оплаты транзакции. Идемпотентна по оплатившей транзакции.
	ActivateForTransaction(ctx context.Context, tr domain.Transaction) error

	// Expire переводит активную подписку с истекшим сроком в льготный период
	Expire(ctx context.Context, subscriptionID uuid.UUID) (domain.Subscription, error)

	// Suspend приостанавливает подписку с истекшим льготным периодом
	Suspend(ctx context.Context, subscriptionID uuid.UUID) (domain.Subscription, error)

	// Cancel отменяет подписку пользователя из любого неотмененного
	// статуса, включая suspended. Статус конечный
	Cancel(ctx context.Context, userID uuid.UUID, reason string) (domain.Subscription, error)

	// ScheduleDowngrade запоминает понижение пакета, применяемое при продлении
	ScheduleDowngrade(ctx context.Context, userID, newPackageID uuid.UUID) (domain.Subscription, error)

	// GetCurrent возвращает текущую подписку пользователя
	GetCurrent(ctx context.Context, userID uuid.UUID) (domain.Subscription, error)

	// RenewalPackage возвращает пакет, по которому будет оплачено
	// продление: текущий пакет подписки либо запланированное понижение
	RenewalPackage(ctx context.Context, userID uuid.UUID) (domain.Package, error)

	// ProrationDelta считает прорейтовую доплату за смену пакета
	// на остаток оплаченного периода
	ProrationDelta(ctx context.Context, sub domain.Subscription, newPkg domain.Package) (int64, error)

	// RecordExpiryWarning публикует предупреждение об истечении срока,
	// не более одного раза на порог в рамках периода
	RecordExpiryWarning(ctx context.Context, sub domain.Subscription, daysLeft int) (bool, error)

	// ListByStatus возвращает подписки в указанном статусе
	ListByStatus(ctx context.Context, status domain.SubscriptionStatus) ([]domain.Subscription, error)
}

// subscriptionService реализация жизненного цикла подписок
type subscriptionService struct {
	subscriptions repository.SubscriptionRepository
	packages      repository.PackageRepository
	events        EventPublisher
	log           *logger.Logger
	graceDays     int
	now           func() time.Time
}

// NewSubscriptionService создает новый сервис подписок.
// now подменяет источник времени, nil означает time.Now.
func NewSubscriptionService(
	subscriptions repository.SubscriptionRepository,
	packages repository.PackageRepository,
	events EventPublisher,
	log *logger.Logger,
	graceDays int,
	now func() time.Time,
) SubscriptionService {
	if now == nil {
		now = time.Now
	}
	return &subscriptionService{
		subscriptions: subscriptions,
		packages:      packages,
		events:        events,
		log:           log,
		graceDays:     graceDays,
		now:           now,
	}
}

// OpenPending резервирует pending-подписку под открытую транзакцию покупки
func (s *subscriptionService) OpenPending(ctx context.Context, tr domain.Transaction) error {
	sub := domain.Subscription{
		ID:            uuid.New(),
		UserID:        tr.UserID,
		PackageID:     tr.PackageID,
		TransactionID: tr.ID,
		Status:        domain.SubscriptionStatusPending,
		GraceDays:     s.graceDays,
	}

	if _, err := s.subscriptions.Create(ctx, sub); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return fmt.Errorf("%w: user %s already has a current subscription", domain.ErrInvalidOperation, tr.UserID)
		}
		return fmt.Errorf("failed to create pending subscription: %w", err)
	}

	return nil
}

// ActivateForTransaction запускает/продлевает/меняет подписку после оплаты
func (s *subscriptionService) ActivateForTransaction(ctx context.Context, tr domain.Transaction) error {
	if tr.Status != domain.TransactionStatusPaid {
		return fmt.Errorf("%w: transaction %s is not paid", domain.ErrInvalidOperation, tr.OrderID)
	}

	switch tr.Kind {
	case domain.TransactionKindPurchase:
		return s.activatePurchase(ctx, tr)
	case domain.TransactionKindRenewal:
		return s.applyRenewal(ctx, tr)
	case domain.TransactionKindUpgrade:
		return s.applyUpgrade(ctx, tr)
	default:
		return fmt.Errorf("%w: unknown transaction kind %q", domain.ErrInvalidOperation, tr.Kind)
	}
}

// activatePurchase запускает подписку по оплаченной транзакции покупки
func (s *subscriptionService) activatePurchase(ctx context.Context, tr domain.Transaction) error {
	sub, err := s.subscriptions.GetByTransactionID(ctx, tr.ID)
	if errors.Is(err, repository.ErrNotFound) {
		// pending-подписка могла не создаться при открытии транзакции,
		// например при падении процесса между шагами
		sub = domain.Subscription{
			ID:            uuid.New(),
			UserID:        tr.UserID,
			PackageID:     tr.PackageID,
			TransactionID: tr.ID,
			Status:        domain.SubscriptionStatusPending,
			GraceDays:     s.graceDays,
		}
		sub, err = s.subscriptions.Create(ctx, sub)
	}
	if err != nil {
		return fmt.Errorf("failed to resolve subscription for transaction %s: %w", tr.OrderID, err)
	}

	if sub.Status == domain.SubscriptionStatusActive && sub.TransactionID == tr.ID {
		// Повторная доставка paid-статуса, активация уже выполнена
		return nil
	}

	if sub.Status != domain.SubscriptionStatusPending {
		return fmt.Errorf("%w: subscription %s is %s, cannot activate", domain.ErrInvalidOperation, sub.ID, sub.Status)
	}

	pkg, err := s.packages.GetByID(ctx, sub.PackageID)
	if err != nil {
		return fmt.Errorf("failed to load package %s: %w", sub.PackageID, err)
	}

	periods := tr.Periods
	if periods < 1 {
		periods = 1
	}

	now := s.now()
	sub.Status = domain.SubscriptionStatusActive
	sub.TransactionID = tr.ID
	sub.StartsAt = now
	sub.EndsAt = now.AddDate(0, 0, pkg.DurationDays*periods)
	sub.GraceDeadline = nil

	if err := s.subscriptions.Update(ctx, sub); err != nil {
		return fmt.Errorf("failed to activate subscription: %w", err)
	}

	s.log.Infow("Activated subscription",
		"subscription_id", sub.ID, "user_id", sub.UserID, "package_id", sub.PackageID, "ends_at", sub.EndsAt)

	s.publish(ctx, domain.BillingEvent{
		Type:           domain.EventSubscriptionActivated,
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		PackageID:      sub.PackageID,
		OrderID:        tr.OrderID,
	})

	return nil
}

// applyRenewal продлевает подписку по оплаченной транзакции продления
func (s *subscriptionService) applyRenewal(ctx context.Context, tr domain.Transaction) error {
	sub, err := s.subscriptions.GetLatestByUserID(ctx, tr.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: no subscription to renew for user %s", domain.ErrInvalidOperation, tr.UserID)
		}
		return fmt.Errorf("failed to load subscription: %w", err)
	}

	if sub.TransactionID == tr.ID && sub.Status == domain.SubscriptionStatusActive {
		return nil
	}

	if sub.Status == domain.SubscriptionStatusCancelled {
		return fmt.Errorf("%w: subscription %s is cancelled", domain.ErrInvalidOperation, sub.ID)
	}

	// Запланированное понижение вступает в силу в момент продления
	if raw := sub.MetaValue(metaScheduledDowngrade); raw != "" {
		if pkgID, perr := uuid.Parse(raw); perr == nil {
			sub.PackageID = pkgID
		}
		delete(sub.Metadata, metaScheduledDowngrade)
	}

	// Длительность и лимиты берутся из актуального каталога, а не из
	// тех, что действовали при первоначальной покупке
	pkg, err := s.packages.GetByID(ctx, sub.PackageID)
	if err != nil {
		return fmt.Errorf("failed to load package %s: %w", sub.PackageID, err)
	}

	periods := tr.Periods
	if periods < 1 {
		periods = 1
	}

	now := s.now()

	// Досрочное продление не теряет оплаченные дни, просроченное
	// не дарит прошедшие
	base := sub.EndsAt
	if base.Before(now) {
		base = now
	}

	if sub.Status == domain.SubscriptionStatusPending || sub.StartsAt.IsZero() {
		sub.StartsAt = now
	}
	sub.Status = domain.SubscriptionStatusActive
	sub.TransactionID = tr.ID
	sub.EndsAt = base.AddDate(0, 0, pkg.DurationDays*periods)
	sub.GraceDeadline = nil
	s.clearExpiryWarnings(&sub)

	if err := s.subscriptions.Update(ctx, sub); err != nil {
		return fmt.Errorf("failed to renew subscription: %w", err)
	}

	s.log.Infow("Renewed subscription",
		"subscription_id", sub.ID, "user_id", sub.UserID, "ends_at", sub.EndsAt)

	s.publish(ctx, domain.BillingEvent{
		Type:           domain.EventSubscriptionRenewed,
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		PackageID:      sub.PackageID,
		OrderID:        tr.OrderID,
	})

	return nil
}

// applyUpgrade меняет пакет подписки по оплаченной транзакции доплаты
func (s *subscriptionService) applyUpgrade(ctx context.Context, tr domain.Transaction) error {
	sub, err := s.subscriptions.GetCurrentByUserID(ctx, tr.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: no current subscription for user %s", domain.ErrInvalidOperation, tr.UserID)
		}
		return fmt.Errorf("failed to load subscription: %w", err)
	}

	if sub.TransactionID == tr.ID {
		return nil
	}

	if !sub.IsEntitled() {
		return fmt.Errorf("%w: subscription %s is %s, cannot upgrade", domain.ErrInvalidOperation, sub.ID, sub.Status)
	}

	// Срок не меняется: доплата покрывает разницу тарифов на остаток периода
	sub.PackageID = tr.PackageID
	sub.TransactionID = tr.ID
	sub.Status = domain.SubscriptionStatusActive
	sub.GraceDeadline = nil
	sub.SetMeta(metaLastUpgradeAmount, strconv.FormatInt(tr.Amount, 10))

	if err := s.subscriptions.Update(ctx, sub); err != nil {
		return fmt.Errorf("failed to upgrade subscription: %w", err)
	}

	s.log.Infow("Upgraded subscription",
		"subscription_id", sub.ID, "user_id", sub.UserID, "package_id", sub.PackageID, "delta", tr.Amount)

	s.publish(ctx, domain.BillingEvent{
		Type:           domain.EventSubscriptionUpgraded,
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		PackageID:      sub.PackageID,
		OrderID:        tr.OrderID,
	})

	return nil
}

// Expire переводит активную подписку с истекшим сроком в льготный период
func (s *subscriptionService) Expire(ctx context.Context, subscriptionID uuid.UUID) (domain.Subscription, error) {
	sub, err := s.getByID(ctx, subscriptionID)
	if err != nil {
		return domain.Subscription{}, err
	}

	// Идемпотентно: повторный вызов для уже обработанной подписки это no-op
	if sub.Status != domain.SubscriptionStatusActive {
		return sub, nil
	}

	now := s.now()
	if !now.After(sub.EndsAt) {
		return sub, nil
	}

	graceDays := sub.GraceDays
	if graceDays <= 0 {
		graceDays = s.graceDays
	}

	// Дедлайн отсчитывается от даты истечения, а не от момента сверки:
	// задержка планировщика не удлиняет льготный период
	deadline := sub.EndsAt.AddDate(0, 0, graceDays)
	sub.Status = domain.SubscriptionStatusGrace
	sub.GraceDeadline = &deadline

	if err := s.subscriptions.Update(ctx, sub); err != nil {
		return domain.Subscription{}, fmt.Errorf("failed to expire subscription: %w", err)
	}

	s.log.Infow("Subscription entered grace period",
		"subscription_id", sub.ID, "user_id", sub.UserID, "grace_deadline", deadline)

	s.publish(ctx, domain.BillingEvent{
		Type:           domain.EventSubscriptionGrace,
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		PackageID:      sub.PackageID,
		DaysRemaining:  graceDays,
	})

	return sub, nil
}

// Suspend приостанавливает подписку с истекшим льготным периодом
func (s *subscriptionService) Suspend(ctx context.Context, subscriptionID uuid.UUID) (domain.Subscription, error) {
	sub, err := s.getByID(ctx, subscriptionID)
	if err != nil {
		return domain.Subscription{}, err
	}

	if sub.Status != domain.SubscriptionStatusGrace {
		return sub, nil
	}

	if sub.GraceDeadline == nil || !s.now().After(*sub.GraceDeadline) {
		return sub, nil
	}

	sub.Status = domain.SubscriptionStatusSuspended

	if err := s.subscriptions.Update(ctx, sub); err != nil {
		return domain.Subscription{}, fmt.Errorf("failed to suspend subscription: %w", err)
	}

	s.log.Infow("Suspended subscription", "subscription_id", sub.ID, "user_id", sub.UserID)

	// По этому событию смежные сервисы обязаны отключить инстансы пользователя
	s.publish(ctx, domain.BillingEvent{
		Type:           domain.EventSubscriptionSuspended,
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		PackageID:      sub.PackageID,
	})

	return sub, nil
}

// Cancel отменяет последнюю подписку пользователя, если она еще не отменена
func (s *subscriptionService) Cancel(ctx context.Context, userID uuid.UUID, reason string) (domain.Subscription, error) {
	// Отменить можно и приостановленную подписку, ищем последнюю в любом статусе
	sub, err := s.subscriptions.GetLatestByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Subscription{}, domain.NewNotFoundError("subscription", userID.String())
		}
		return domain.Subscription{}, fmt.Errorf("failed to get subscription: %w", err)
	}

	if sub.Status == domain.SubscriptionStatusCancelled {
		return domain.Subscription{}, fmt.Errorf("%w: subscription %s is already cancelled", domain.ErrInvalidOperation, sub.ID)
	}

	now := s.now()
	sub.Status = domain.SubscriptionStatusCancelled
	sub.CancelReason = reason
	sub.CancelledAt = &now
	sub.GraceDeadline = nil

	if err := s.subscriptions.Update(ctx, sub); err != nil {
		return domain.Subscription{}, fmt.Errorf("failed to cancel subscription: %w", err)
	}

	s.log.Infow("Cancelled subscription",
		"subscription_id", sub.ID, "user_id", sub.UserID, "reason", reason)

	s.publish(ctx, domain.BillingEvent{
		Type:           domain.EventSubscriptionCancelled,
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		PackageID:      sub.PackageID,
	})

	return sub, nil
}

// ScheduleDowngrade запоминает понижение пакета, применяемое при продлении
func (s *subscriptionService) ScheduleDowngrade(ctx context.Context, userID, newPackageID uuid.UUID) (domain.Subscription, error) {
	sub, err := s.GetCurrent(ctx, userID)
	if err != nil {
		return domain.Subscription{}, err
	}

	pkg, err := s.packages.GetByID(ctx, newPackageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Subscription{}, fmt.Errorf("%w: package %s", domain.ErrInvalidPackage, newPackageID)
		}
		return domain.Subscription{}, fmt.Errorf("failed to load package: %w", err)
	}
	if !pkg.Active {
		return domain.Subscription{}, fmt.Errorf("%w: package %s is not active", domain.ErrInvalidPackage, newPackageID)
	}

	sub.SetMeta(metaScheduledDowngrade, newPackageID.String())

	if err := s.subscriptions.Update(ctx, sub); err != nil {
		return domain.Subscription{}, fmt.Errorf("failed to schedule downgrade: %w", err)
	}

	s.log.Infow("Scheduled downgrade",
		"subscription_id", sub.ID, "user_id", userID, "package_id", newPackageID)

	return sub, nil
}

// GetCurrent возвращает текущую подписку пользователя
func (s *subscriptionService) GetCurrent(ctx context.Context, userID uuid.UUID) (domain.Subscription, error) {
	sub, err := s.subscriptions.GetCurrentByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Subscription{}, domain.NewNotFoundError("subscription", userID.String())
		}
		return domain.Subscription{}, fmt.Errorf("failed to get current subscription: %w", err)
	}
	return sub, nil
}

// RenewalPackage возвращает пакет, по которому будет оплачено продление
func (s *subscriptionService) RenewalPackage(ctx context.Context, userID uuid.UUID) (domain.Package, error) {
	sub, err := s.subscriptions.GetLatestByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Package{}, fmt.Errorf("%w: no subscription to renew for user %s", domain.ErrInvalidOperation, userID)
		}
		return domain.Package{}, fmt.Errorf("failed to load subscription: %w", err)
	}

	if sub.Status == domain.SubscriptionStatusCancelled {
		return domain.Package{}, fmt.Errorf("%w: subscription %s is cancelled", domain.ErrInvalidOperation, sub.ID)
	}

	pkgID := sub.PackageID
	if raw := sub.MetaValue(metaScheduledDowngrade); raw != "" {
		if parsed, perr := uuid.Parse(raw); perr == nil {
			pkgID = parsed
		}
	}

	pkg, err := s.packages.GetByID(ctx, pkgID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Package{}, fmt.Errorf("%w: package %s", domain.ErrInvalidPackage, pkgID)
		}
		return domain.Package{}, fmt.Errorf("failed to load package %s: %w", pkgID, err)
	}

	return pkg, nil
}

// ProrationDelta считает прорейтовую доплату за смену пакета
func (s *subscriptionService) ProrationDelta(ctx context.Context, sub domain.Subscription, newPkg domain.Package) (int64, error) {
	if !sub.IsEntitled() {
		return 0, fmt.Errorf("%w: subscription %s is %s, cannot upgrade", domain.ErrInvalidOperation, sub.ID, sub.Status)
	}

	oldPkg, err := s.packages.GetByID(ctx, sub.PackageID)
	if err != nil {
		return 0, fmt.Errorf("failed to load package %s: %w", sub.PackageID, err)
	}

	remaining := sub.EndsAt.Sub(s.now())
	daysRemaining := int(math.Ceil(remaining.Hours() / 24))
	if daysRemaining <= 0 {
		return 0, fmt.Errorf("%w: no paid days remaining on subscription %s", domain.ErrInvalidOperation, sub.ID)
	}

	delta := (newPkg.DailyRate() - oldPkg.DailyRate()) * int64(daysRemaining)
	if delta <= 0 {
		return 0, fmt.Errorf("%w: package %s is not an upgrade, schedule a downgrade instead", domain.ErrInvalidOperation, newPkg.ID)
	}

	return delta, nil
}

// RecordExpiryWarning публикует предупреждение об истечении срока подписки.
// Ключ дедупликации включает дату окончания периода: после продления тот же
// порог сработает снова для нового периода.
func (s *subscriptionService) RecordExpiryWarning(ctx context.Context, sub domain.Subscription, daysLeft int) (bool, error) {
	key := fmt.Sprintf("%s%d_%s", metaWarnedPrefix, daysLeft, sub.EndsAt.Format("2006-01-02"))
	if sub.MetaValue(key) != "" {
		return false, nil
	}

	sub.SetMeta(key, s.now().Format(time.RFC3339))

	if err := s.subscriptions.Update(ctx, sub); err != nil {
		return false, fmt.Errorf("failed to record expiry warning: %w", err)
	}

	s.publish(ctx, domain.BillingEvent{
		Type:           domain.EventSubscriptionExpiring,
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		PackageID:      sub.PackageID,
		DaysRemaining:  daysLeft,
	})

	return true, nil
}

// ListByStatus возвращает подписки в указанном статусе
func (s *subscriptionService) ListByStatus(ctx context.Context, status domain.SubscriptionStatus) ([]domain.Subscription, error) {
	return s.subscriptions.ListByStatus(ctx, status)
}

// getByID возвращает подписку по ID с доменной ошибкой not found
func (s *subscriptionService) getByID(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	sub, err := s.subscriptions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Subscription{}, domain.NewNotFoundError("subscription", id.String())
		}
		return domain.Subscription{}, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// clearExpiryWarnings сбрасывает отметки предупреждений прошлого периода
func (s *subscriptionService) clearExpiryWarnings(sub *domain.Subscription) {
	for key := range sub.Metadata {
		if strings.HasPrefix(key, metaWarnedPrefix) {
			delete(sub.Metadata, key)
		}
	}
}

// publish отправляет событие биллинга, сбой публикации не прерывает операцию
func (s *subscriptionService) publish(ctx context.Context, event domain.BillingEvent) {
	if s.events == nil {
		return
	}
	event.OccurredAt = s.now()
	if err := s.events.PublishBillingEvent(ctx, event); err != nil {
		s.log.Errorw("Failed to publish billing event", "type", event.Type, "error", err)
	}
}
