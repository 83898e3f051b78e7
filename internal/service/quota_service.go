package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/wagate/billing-service/internal/domain"
	"github.com/wagate/billing-service/pkg/logger"
)

// QuotaService интерфейс оценки квот.
// Сервис сопоставляет счетчики ресурсов с лимитами пакета текущей подписки;
// без подписки действуют пробные лимиты.
type QuotaService interface {
	// Snapshot возвращает срез использования квот по всем ресурсам
	Snapshot(ctx context.Context, userID uuid.UUID, counts domain.ResourceCounts) (domain.QuotaSnapshot, error)

	// CanPerform проверяет, укладывается ли действие в лимиты пакета
	CanPerform(ctx context.Context, userID uuid.UUID, req domain.QuotaCheckRequest) (domain.QuotaCheckResult, error)
}

// quotaService реализация оценки квот
type quotaService struct {
	subscriptions SubscriptionService
	packages      PackageService
	log           *logger.Logger
	trial         domain.PackageFeatures
}

// NewQuotaService создает новый сервис квот
func NewQuotaService(
	subscriptions SubscriptionService,
	packages PackageService,
	log *logger.Logger,
	trial domain.PackageFeatures,
) QuotaService {
	return &quotaService{
		subscriptions: subscriptions,
		packages:      packages,
		log:           log,
		trial:         trial,
	}
}

// Snapshot возвращает срез использования квот по всем ресурсам
func (s *quotaService) Snapshot(ctx context.Context, userID uuid.UUID, counts domain.ResourceCounts) (domain.QuotaSnapshot, error) {
	snapshot := domain.QuotaSnapshot{UserID: userID}
	limits := s.trial
	snapshot.Trial = true

	sub, err := s.subscriptions.GetCurrent(ctx, userID)
	switch {
	case err == nil && sub.IsEntitled():
		// Льготный период сохраняет лимиты пакета целиком
		pkg, perr := s.packages.GetByID(ctx, sub.PackageID)
		if perr != nil {
			return domain.QuotaSnapshot{}, perr
		}
		limits = pkg.Features
		snapshot.Trial = false
		snapshot.PackageID = pkg.ID
		snapshot.PackageName = pkg.Name
		snapshot.Status = sub.Status
	case err == nil:
		// pending-подписка прав еще не дает, лимиты пробные
		snapshot.Status = sub.Status
	case errors.Is(err, domain.ErrNotFound):
		// нет подписки, действуют пробные лимиты
	default:
		return domain.QuotaSnapshot{}, err
	}

	snapshot.Instances = buildUsage(counts.Instances, limits.MaxInstances)
	snapshot.MessagesToday = buildUsage(counts.MessagesToday, limits.MaxMessagesPerDay)
	snapshot.MessagesMonth = buildUsage(counts.MessagesMonth, limits.MaxMessagesPerMonth)
	snapshot.ExternalDevices = buildUsage(counts.ExternalDevices, limits.MaxExternalDevices)

	return snapshot, nil
}

// CanPerform проверяет, укладывается ли действие в лимиты пакета
func (s *quotaService) CanPerform(ctx context.Context, userID uuid.UUID, req domain.QuotaCheckRequest) (domain.QuotaCheckResult, error) {
	snapshot, err := s.Snapshot(ctx, userID, req.Counts)
	if err != nil {
		return domain.QuotaCheckResult{}, err
	}

	count := req.Count
	if count < 1 {
		count = 1
	}

	result := domain.QuotaCheckResult{
		Action:   req.Action,
		Snapshot: snapshot,
	}

	switch req.Action {
	case domain.QuotaActionCreateInstance:
		result.Allowed = fits(snapshot.Instances, count)
	case domain.QuotaActionSendMessage:
		// Сообщение должно укладываться и в дневной, и в месячный лимит
		result.Allowed = fits(snapshot.MessagesToday, count) && fits(snapshot.MessagesMonth, count)
	case domain.QuotaActionAddDevice:
		result.Allowed = fits(snapshot.ExternalDevices, count)
	default:
		var verr domain.ValidationErrors
		verr.Add("action", "unknown quota action")
		return domain.QuotaCheckResult{}, verr
	}

	if !result.Allowed {
		s.log.Debugw("Quota check denied", "user_id", userID, "action", req.Action, "count", count)
	}

	return result, nil
}

// buildUsage собирает использование одного ресурса относительно лимита
func buildUsage(used, limit int) domain.QuotaUsage {
	usage := domain.QuotaUsage{Used: used, Limit: limit}

	if limit <= 0 {
		if used > 0 {
			usage.Percentage = 100
		}
		return usage
	}

	if used < limit {
		usage.Remaining = limit - used
	}

	usage.Percentage = float64(used) / float64(limit) * 100
	if usage.Percentage > 100 {
		usage.Percentage = 100
	}

	return usage
}

// fits проверяет, что count дополнительных единиц не превышают лимит
func fits(usage domain.QuotaUsage, count int) bool {
	return count <= usage.Remaining
}
