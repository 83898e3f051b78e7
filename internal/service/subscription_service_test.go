package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagate/billing-service/internal/domain"
)

// activeSubscription покупает и оплачивает подписку на pkg
func (e *billingEnv) activeSubscription(t *testing.T, userID uuid.UUID, pkg domain.Package) domain.Subscription {
	t.Helper()

	tr := e.openPurchase(t, userID, pkg)
	e.settle(t, tr.OrderID)

	sub, err := e.lifecycle.GetCurrent(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	return sub
}

// openAndSettle открывает транзакцию указанного вида и оплачивает ее
func (e *billingEnv) openAndSettle(t *testing.T, userID uuid.UUID, kind domain.TransactionKind, pkg domain.Package) domain.Transaction {
	t.Helper()

	tr, err := e.ledger.Open(context.Background(), userID, kind, domain.OpenTransactionRequest{PackageID: pkg.ID})
	require.NoError(t, err)
	return e.settle(t, tr.OrderID)
}

func TestSubscriptionSecondPurchaseRejected(t *testing.T) {
	env := newBillingEnv(t)
	pkg := env.seedPackage(t, 150000, 30)
	userID := uuid.New()

	env.activeSubscription(t, userID, pkg)

	_, err := env.ledger.Open(context.Background(), userID, domain.TransactionKindPurchase, domain.OpenTransactionRequest{
		PackageID: pkg.ID,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)
}

func TestSubscriptionEarlyRenewalKeepsPaidDays(t *testing.T) {
	env := newBillingEnv(t)
	pkg := env.seedPackage(t, 150000, 30)
	userID := uuid.New()

	sub := env.activeSubscription(t, userID, pkg)

	// Продление за 10 дней до конца срока
	env.clock.Advance(20 * 24 * time.Hour)
	env.openAndSettle(t, userID, domain.TransactionKindRenewal, pkg)

	renewed, err := env.lifecycle.GetCurrent(context.Background(), userID)
	require.NoError(t, err)

	// Оплаченные дни не теряются: новый срок отсчитан от старого конца
	assert.Equal(t, sub.EndsAt.AddDate(0, 0, 30), renewed.EndsAt)
	assert.Equal(t, domain.SubscriptionStatusActive, renewed.Status)
}

func TestSubscriptionLateRenewalFromGrace(t *testing.T) {
	env := newBillingEnv(t)
	pkg := env.seedPackage(t, 150000, 30)
	userID := uuid.New()

	sub := env.activeSubscription(t, userID, pkg)

	// Срок истек 2 дня назад, подписка в льготном периоде
	env.clock.Advance(32 * 24 * time.Hour)
	graced, err := env.lifecycle.Expire(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionStatusGrace, graced.Status)

	env.openAndSettle(t, userID, domain.TransactionKindRenewal, pkg)

	renewed, err := env.lifecycle.GetCurrent(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, renewed.Status)
	assert.Nil(t, renewed.GraceDeadline)

	// Просроченное продление отсчитывается от момента оплаты
	assert.Equal(t, env.clock.Now().AddDate(0, 0, 30), renewed.EndsAt)
}

func TestSubscriptionExpireEntersGrace(t *testing.T) {
	env := newBillingEnv(t)
	pkg := env.seedPackage(t, 150000, 30)
	userID := uuid.New()

	sub := env.activeSubscription(t, userID, pkg)

	env.clock.Advance(31 * 24 * time.Hour)
	graced, err := env.lifecycle.Expire(context.Background(), sub.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.SubscriptionStatusGrace, graced.Status)
	require.NotNil(t, graced.GraceDeadline)

	// Дедлайн отсчитан от даты истечения, а не от момента сверки
	assert.Equal(t, sub.EndsAt.AddDate(0, 0, 7), *graced.GraceDeadline)
	assert.True(t, graced.IsEntitled())
	assert.Equal(t, 1, env.events.countOf(domain.EventSubscriptionGrace))
}

func TestSubscriptionExpireBeforeEndIsNoop(t *testing.T) {
	env := newBillingEnv(t)
	pkg := env.seedPackage(t, 150000, 30)
	userID := uuid.New()

	sub := env.activeSubscription(t, userID, pkg)

	got, err := env.lifecycle.Expire(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, got.Status)
	assert.Nil(t, got.GraceDeadline)
}

func TestSubscriptionSuspendAfterGraceDeadline(t *testing.T) {
	env := newBillingEnv(t)
	pkg := env.seedPackage(t, 150000, 30)
	userID := uuid.New()

	sub := env.activeSubscription(t, userID, pkg)

	env.clock.Advance(31 * 24 * time.Hour)
	_, err := env.lifecycle.Expire(context.Background(), sub.ID)
	require.NoError(t, err)

	// До дедлайна льготного периода приостановка не срабатывает
	early, err := env.lifecycle.Suspend(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusGrace, early.Status)

	env.clock.Advance(7 * 24 * time.Hour)
	suspended, err := env.lifecycle.Suspend(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusSuspended, suspended.Status)
	assert.False(t, suspended.IsEntitled())
	assert.Equal(t, 1, env.events.countOf(domain.EventSubscriptionSuspended))
}

func TestSubscriptionRenewalFromSuspended(t *testing.T) {
	env := newBillingEnv(t)
	pkg := env.seedPackage(t, 150000, 30)
	userID := uuid.New()

	sub := env.activeSubscription(t, userID, pkg)

	env.clock.Advance(40 * 24 * time.Hour)
	_, err := env.lifecycle.Expire(context.Background(), sub.ID)
	require.NoError(t, err)
	suspended, err := env.lifecycle.Suspend(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionStatusSuspended, suspended.Status)

	env.openAndSettle(t, userID, domain.TransactionKindRenewal, pkg)

	renewed, err := env.lifecycle.GetCurrent(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, renewed.Status)
	assert.Equal(t, env.clock.Now().AddDate(0, 0, 30), renewed.EndsAt)
}

func TestSubscriptionUpgradeProration(t *testing.T) {
	env := newBillingEnv(t)
	basic := env.seedPackage(t, 150000, 30) // 5000/день
	userID := uuid.New()

	sub := env.activeSubscription(t, userID, basic)

	pro, err := env.packages.Create(context.Background(), domain.Package{
		ID:           uuid.New(),
		Name:         "Pro",
		Price:        300000, // 10000/день
		Currency:     "IDR",
		DurationDays: 30,
		Active:       true,
	})
	require.NoError(t, err)

	// Половина срока позади, осталось 15 дней
	env.clock.Advance(15 * 24 * time.Hour)

	tr, err := env.ledger.Open(context.Background(), userID, domain.TransactionKindUpgrade, domain.OpenTransactionRequest{
		PackageID: pro.ID,
	})
	require.NoError(t, err)

	// (10000 - 5000) * 15 дней
	assert.Equal(t, int64(75000), tr.Amount)

	env.settle(t, tr.OrderID)

	upgraded, err := env.lifecycle.GetCurrent(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, pro.ID, upgraded.PackageID)
	// Срок подписки при смене пакета не меняется
	assert.Equal(t, sub.EndsAt, upgraded.EndsAt)
	assert.Equal(t, 1, env.events.countOf(domain.EventSubscriptionUpgraded))
}

func TestSubscriptionUpgradeToCheaperRejected(t *testing.T) {
	env := newBillingEnv(t)
	pro := env.seedPackage(t, 300000, 30)
	userID := uuid.New()

	env.activeSubscription(t, userID, pro)

	lite, err := env.packages.Create(context.Background(), domain.Package{
		ID:           uuid.New(),
		Name:         "Lite",
		Price:        90000,
		Currency:     "IDR",
		DurationDays: 30,
		Active:       true,
	})
	require.NoError(t, err)

	_, err = env.ledger.Open(context.Background(), userID, domain.TransactionKindUpgrade, domain.OpenTransactionRequest{
		PackageID: lite.ID,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)
}

func TestSubscriptionScheduledDowngradeAppliesOnRenewal(t *testing.T) {
	env := newBillingEnv(t)
	pro := env.seedPackage(t, 300000, 30)
	userID := uuid.New()

	env.activeSubscription(t, userID, pro)

	lite, err := env.packages.Create(context.Background(), domain.Package{
		ID:           uuid.New(),
		Name:         "Lite",
		Price:        90000,
		Currency:     "IDR",
		DurationDays: 30,
		Active:       true,
	})
	require.NoError(t, err)

	_, err = env.lifecycle.ScheduleDowngrade(context.Background(), userID, lite.ID)
	require.NoError(t, err)

	// Продление оплачивается уже по новому пакету
	env.clock.Advance(29 * 24 * time.Hour)
	tr, err := env.ledger.Open(context.Background(), userID, domain.TransactionKindRenewal, domain.OpenTransactionRequest{PackageID: pro.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(90000), tr.Amount)
	env.settle(t, tr.OrderID)

	renewed, err := env.lifecycle.GetCurrent(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, lite.ID, renewed.PackageID)
	assert.Empty(t, renewed.MetaValue("downgrade_package_id"))
}

func TestSubscriptionCancelIsTerminal(t *testing.T) {
	env := newBillingEnv(t)
	pkg := env.seedPackage(t, 150000, 30)
	userID := uuid.New()

	env.activeSubscription(t, userID, pkg)

	cancelled, err := env.lifecycle.Cancel(context.Background(), userID, "switching providers")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCancelled, cancelled.Status)
	assert.Equal(t, "switching providers", cancelled.CancelReason)
	require.NotNil(t, cancelled.CancelledAt)

	_, err = env.lifecycle.GetCurrent(context.Background(), userID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// После отмены пользователь может купить подписку заново
	tr := env.openPurchase(t, userID, pkg)
	env.settle(t, tr.OrderID)

	fresh, err := env.lifecycle.GetCurrent(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, fresh.Status)
}

func TestSubscriptionCancelFromSuspended(t *testing.T) {
	env := newBillingEnv(t)
	pkg := env.seedPackage(t, 150000, 30)
	userID := uuid.New()

	sub := env.activeSubscription(t, userID, pkg)

	env.clock.Advance(40 * 24 * time.Hour)
	_, err := env.lifecycle.Expire(context.Background(), sub.ID)
	require.NoError(t, err)
	suspended, err := env.lifecycle.Suspend(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionStatusSuspended, suspended.Status)

	// Приостановленную подписку тоже можно отменить
	cancelled, err := env.lifecycle.Cancel(context.Background(), userID, "never coming back")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCancelled, cancelled.Status)
	assert.Equal(t, "never coming back", cancelled.CancelReason)
	require.NotNil(t, cancelled.CancelledAt)

	// Повторная отмена отвергается
	_, err = env.lifecycle.Cancel(context.Background(), userID, "again")
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)
}

func TestSubscriptionActivationIsIdempotentPerTransaction(t *testing.T) {
	env := newBillingEnv(t)
	pkg := env.seedPackage(t, 150000, 30)
	userID := uuid.New()

	tr := env.openPurchase(t, userID, pkg)
	paid := env.settle(t, tr.OrderID)

	// Повторная активация той же транзакцией ничего не меняет
	require.NoError(t, env.lifecycle.ActivateForTransaction(context.Background(), paid))

	sub, err := env.lifecycle.GetCurrent(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now().AddDate(0, 0, 30), sub.EndsAt)
	assert.Equal(t, 1, env.events.countOf(domain.EventSubscriptionActivated))
}

func TestSubscriptionActivateRequiresPaidTransaction(t *testing.T) {
	env := newBillingEnv(t)
	pkg := env.seedPackage(t, 150000, 30)

	tr := env.openPurchase(t, uuid.New(), pkg)

	err := env.lifecycle.ActivateForTransaction(context.Background(), tr)
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)
}

func TestSubscriptionExpiryWarningDeduped(t *testing.T) {
	env := newBillingEnv(t)
	pkg := env.seedPackage(t, 150000, 30)
	userID := uuid.New()

	env.activeSubscription(t, userID, pkg)
	env.clock.Advance(28 * 24 * time.Hour)

	sub, err := env.lifecycle.GetCurrent(context.Background(), userID)
	require.NoError(t, err)

	sent, err := env.lifecycle.RecordExpiryWarning(context.Background(), sub, 3)
	require.NoError(t, err)
	assert.True(t, sent)

	// Повторный вызов для того же порога и периода подавляется
	sub, err = env.lifecycle.GetCurrent(context.Background(), userID)
	require.NoError(t, err)
	sent, err = env.lifecycle.RecordExpiryWarning(context.Background(), sub, 3)
	require.NoError(t, err)
	assert.False(t, sent)

	assert.Equal(t, 1, env.events.countOf(domain.EventSubscriptionExpiring))
}

func TestSubscriptionRenewalClearsWarnings(t *testing.T) {
	env := newBillingEnv(t)
	pkg := env.seedPackage(t, 150000, 30)
	userID := uuid.New()

	env.activeSubscription(t, userID, pkg)
	env.clock.Advance(28 * 24 * time.Hour)

	sub, err := env.lifecycle.GetCurrent(context.Background(), userID)
	require.NoError(t, err)
	_, err = env.lifecycle.RecordExpiryWarning(context.Background(), sub, 3)
	require.NoError(t, err)

	env.openAndSettle(t, userID, domain.TransactionKindRenewal, pkg)

	renewed, err := env.lifecycle.GetCurrent(context.Background(), userID)
	require.NoError(t, err)
	for key := range renewed.Metadata {
		assert.NotContains(t, key, "warned_")
	}
}

func TestSubscriptionSelfHealingActivation(t *testing.T) {
	env := newBillingEnv(t)
	pkg := env.seedPackage(t, 150000, 30)
	userID := uuid.New()

	tr := env.openPurchase(t, userID, pkg)

	// Транзакция оплачена, но активация в момент вебхука не состоялась
	paid, err := env.transactions.UpdateWithLock(context.Background(), tr.OrderID, func(tr *domain.Transaction) error {
		now := env.clock.Now()
		tr.Status = domain.TransactionStatusPaid
		tr.PaidAt = &now
		return nil
	})
	require.NoError(t, err)

	sub, err := env.lifecycle.GetCurrent(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionStatusPending, sub.Status)

	// Сверка доводит активацию до конца
	require.NoError(t, env.lifecycle.ActivateForTransaction(context.Background(), paid))

	healed, err := env.lifecycle.GetCurrent(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, healed.Status)
}

// Проверяет сценарий из жизни: оплата, истечение, льготный период,
// приостановка, позднее продление.
func TestSubscriptionFullLifecycle(t *testing.T) {
	env := newBillingEnv(t)
	pkg := env.seedPackage(t, 150000, 30)
	userID := uuid.New()

	sub := env.activeSubscription(t, userID, pkg)

	// Через 38 дней после покупки: срок вышел 8 дней назад,
	// льготный период (7 дней) тоже закончился
	env.clock.Advance(38 * 24 * time.Hour)

	graced, err := env.lifecycle.Expire(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionStatusGrace, graced.Status)

	suspended, err := env.lifecycle.Suspend(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionStatusSuspended, suspended.Status)

	env.openAndSettle(t, userID, domain.TransactionKindRenewal, pkg)

	renewed, err := env.lifecycle.GetCurrent(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, renewed.Status)
	assert.Equal(t, env.clock.Now().AddDate(0, 0, 30), renewed.EndsAt)
}

// Компилируемость фейкового шлюза как GatewayClient
var _ GatewayClient = (*fakeGateway)(nil)
