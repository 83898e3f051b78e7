package scheduler

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/wagate/billing-service/internal/domain"
	"github.com/wagate/billing-service/internal/metrics"
	"github.com/wagate/billing-service/internal/service"
	"github.com/wagate/billing-service/pkg/logger"
)

// Имена сверок в метриках
const (
	sweepExpiry  = "expiry"
	sweepPayment = "payment"
)

// Jobs фоновые сверки биллинга.
// Обе сверки идемпотентны и переживают сбой на отдельной записи:
// ошибка одной подписки или транзакции не прерывает проход.
type Jobs struct {
	ledger         service.LedgerService
	subscriptions  service.SubscriptionService
	metrics        *metrics.Metrics
	log            *logger.Logger
	now            func() time.Time
	warnThresholds []int
	pendingTTL     time.Duration
}

// NewJobs создает набор фоновых сверок.
// now подменяет источник времени, nil означает time.Now.
func NewJobs(
	ledger service.LedgerService,
	subscriptions service.SubscriptionService,
	m *metrics.Metrics,
	log *logger.Logger,
	warnThresholds []int,
	pendingTTL time.Duration,
	now func() time.Time,
) *Jobs {
	if now == nil {
		now = time.Now
	}

	thresholds := make([]int, len(warnThresholds))
	copy(thresholds, warnThresholds)
	sort.Ints(thresholds)

	return &Jobs{
		ledger:         ledger,
		subscriptions:  subscriptions,
		metrics:        m,
		log:            log,
		now:            now,
		warnThresholds: thresholds,
		pendingTTL:     pendingTTL,
	}
}

// RunExpirySweep проходит по подпискам: предупреждает об истечении срока,
// переводит просроченные в льготный период и приостанавливает те,
// у кого льготный период закончился.
func (j *Jobs) RunExpirySweep(ctx context.Context) {
	start := j.now()
	result := "ok"

	active, err := j.subscriptions.ListByStatus(ctx, domain.SubscriptionStatusActive)
	if err != nil {
		j.log.Errorw("Expiry sweep: failed to list active subscriptions", "error", err)
		result = "error"
	}
	for _, sub := range active {
		if err := j.sweepActive(ctx, sub); err != nil {
			j.log.Errorw("Expiry sweep: failed to process subscription",
				"subscription_id", sub.ID, "error", err)
			result = "error"
		}
	}

	grace, err := j.subscriptions.ListByStatus(ctx, domain.SubscriptionStatusGrace)
	if err != nil {
		j.log.Errorw("Expiry sweep: failed to list grace subscriptions", "error", err)
		result = "error"
	}
	for _, sub := range grace {
		// Suspend сам перепроверяет дедлайн льготного периода
		if _, err := j.subscriptions.Suspend(ctx, sub.ID); err != nil {
			j.log.Errorw("Expiry sweep: failed to suspend subscription",
				"subscription_id", sub.ID, "error", err)
			result = "error"
		}
	}

	j.observe(sweepExpiry, result, start)
}

// sweepActive обрабатывает одну активную подписку
func (j *Jobs) sweepActive(ctx context.Context, sub domain.Subscription) error {
	now := j.now()

	if now.After(sub.EndsAt) {
		_, err := j.subscriptions.Expire(ctx, sub.ID)
		return err
	}

	daysLeft := int(math.Ceil(sub.EndsAt.Sub(now).Hours() / 24))

	// Срабатывает наименьший подходящий порог: при первом запуске за
	// 2 дня до истечения уйдет одно предупреждение, а не три
	for _, t := range j.warnThresholds {
		if daysLeft <= t {
			_, err := j.subscriptions.RecordExpiryWarning(ctx, sub, t)
			return err
		}
	}

	return nil
}

// RunPaymentSweep сверяет незавершенные транзакции со шлюзом, снимает
// зависшие pending по сроку давности и довыполняет активацию подписок,
// оставшихся pending при оплаченной транзакции.
func (j *Jobs) RunPaymentSweep(ctx context.Context) {
	start := j.now()
	result := "ok"

	for _, status := range []domain.TransactionStatus{
		domain.TransactionStatusPending,
		domain.TransactionStatusProcessing,
	} {
		transactions, err := j.ledger.ListByStatus(ctx, status)
		if err != nil {
			j.log.Errorw("Payment sweep: failed to list transactions", "status", status, "error", err)
			result = "error"
			continue
		}
		for _, tr := range transactions {
			if _, err := j.ledger.SyncRemoteStatus(ctx, tr.OrderID); err != nil {
				j.log.Errorw("Payment sweep: failed to sync transaction",
					"order_id", tr.OrderID, "error", err)
				result = "error"
			}
		}
	}

	// Сверка выше могла перевести часть pending в конечные статусы,
	// остальные зависшие снимаются по сроку давности
	if _, err := j.ledger.MarkStaleExpired(ctx, j.now().Add(-j.pendingTTL)); err != nil {
		j.log.Errorw("Payment sweep: failed to expire stale transactions", "error", err)
		result = "error"
	}

	// Самовосстановление: оплаченная транзакция с так и не запущенной
	// подпиской означает сбой активации в момент оплаты
	pendingSubs, err := j.subscriptions.ListByStatus(ctx, domain.SubscriptionStatusPending)
	if err != nil {
		j.log.Errorw("Payment sweep: failed to list pending subscriptions", "error", err)
		result = "error"
	}
	for _, sub := range pendingSubs {
		tr, err := j.ledger.Lookup(ctx, sub.TransactionID)
		if err != nil {
			j.log.Errorw("Payment sweep: failed to load funding transaction",
				"subscription_id", sub.ID, "transaction_id", sub.TransactionID, "error", err)
			result = "error"
			continue
		}
		if tr.Status != domain.TransactionStatusPaid {
			continue
		}
		j.log.Warnw("Payment sweep: re-activating subscription for paid transaction",
			"subscription_id", sub.ID, "order_id", tr.OrderID)
		if err := j.subscriptions.ActivateForTransaction(ctx, tr); err != nil {
			j.log.Errorw("Payment sweep: failed to activate subscription",
				"subscription_id", sub.ID, "error", err)
			result = "error"
		}
	}

	j.observe(sweepPayment, result, start)
}

// observe записывает метрики прохода сверки
func (j *Jobs) observe(sweep, result string, start time.Time) {
	if j.metrics == nil {
		return
	}
	j.metrics.SweepRunsTotal.WithLabelValues(sweep, result).Inc()
	j.metrics.SweepDuration.WithLabelValues(sweep).Observe(j.now().Sub(start).Seconds())
}
