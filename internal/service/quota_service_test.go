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

// trialLimits пробные лимиты, используемые в тестах
var trialLimits = domain.PackageFeatures{
	MaxInstances:        1,
	MaxMessagesPerDay:   50,
	MaxMessagesPerMonth: 500,
	MaxExternalDevices:  1,
}

func newQuotaEnv(t *testing.T) (*billingEnv, QuotaService) {
	t.Helper()

	env := newBillingEnv(t)
	packages := NewPackageService(env.packages, testLogger(), "IDR")
	quota := NewQuotaService(env.lifecycle, packages, testLogger(), trialLimits)
	return env, quota
}

func TestQuotaTrialLimitsWithoutSubscription(t *testing.T) {
	_, quota := newQuotaEnv(t)

	snapshot, err := quota.Snapshot(context.Background(), uuid.New(), domain.ResourceCounts{
		Instances:     1,
		MessagesToday: 10,
	})
	require.NoError(t, err)

	assert.True(t, snapshot.Trial)
	assert.Equal(t, 1, snapshot.Instances.Limit)
	assert.Equal(t, 0, snapshot.Instances.Remaining)
	assert.Equal(t, 50, snapshot.MessagesToday.Limit)
	assert.Equal(t, 40, snapshot.MessagesToday.Remaining)
	assert.InDelta(t, 20.0, snapshot.MessagesToday.Percentage, 0.001)
}

func TestQuotaActiveSubscriptionUsesPackageLimits(t *testing.T) {
	env, quota := newQuotaEnv(t)
	pkg := env.seedPackage(t, 150000, 30) // MaxInstances: 5
	userID := uuid.New()

	env.activeSubscription(t, userID, pkg)

	snapshot, err := quota.Snapshot(context.Background(), userID, domain.ResourceCounts{Instances: 2})
	require.NoError(t, err)

	assert.False(t, snapshot.Trial)
	assert.Equal(t, pkg.ID, snapshot.PackageID)
	assert.Equal(t, 5, snapshot.Instances.Limit)
	assert.Equal(t, 3, snapshot.Instances.Remaining)
}

func TestQuotaPendingSubscriptionStaysOnTrial(t *testing.T) {
	env, quota := newQuotaEnv(t)
	pkg := env.seedPackage(t, 150000, 30)
	userID := uuid.New()

	// Подписка еще не оплачена
	env.openPurchase(t, userID, pkg)

	snapshot, err := quota.Snapshot(context.Background(), userID, domain.ResourceCounts{})
	require.NoError(t, err)
	assert.True(t, snapshot.Trial)
	assert.Equal(t, domain.SubscriptionStatusPending, snapshot.Status)
	assert.Equal(t, 1, snapshot.Instances.Limit)
}

func TestQuotaGraceKeepsPackageLimits(t *testing.T) {
	env, quota := newQuotaEnv(t)
	pkg := env.seedPackage(t, 150000, 30)
	userID := uuid.New()

	sub := env.activeSubscription(t, userID, pkg)

	env.clock.Advance(31 * 24 * time.Hour)
	_, err := env.lifecycle.Expire(context.Background(), sub.ID)
	require.NoError(t, err)

	// Льготный период сохраняет лимиты пакета целиком
	snapshot, err := quota.Snapshot(context.Background(), userID, domain.ResourceCounts{Instances: 2})
	require.NoError(t, err)
	assert.False(t, snapshot.Trial)
	assert.Equal(t, domain.SubscriptionStatusGrace, snapshot.Status)
	assert.Equal(t, 5, snapshot.Instances.Limit)
}

func TestQuotaSuspendedFallsBackToTrial(t *testing.T) {
	env, quota := newQuotaEnv(t)
	pkg := env.seedPackage(t, 150000, 30)
	userID := uuid.New()

	sub := env.activeSubscription(t, userID, pkg)

	env.clock.Advance(40 * 24 * time.Hour)
	_, err := env.lifecycle.Expire(context.Background(), sub.ID)
	require.NoError(t, err)
	_, err = env.lifecycle.Suspend(context.Background(), sub.ID)
	require.NoError(t, err)

	snapshot, err := quota.Snapshot(context.Background(), userID, domain.ResourceCounts{})
	require.NoError(t, err)
	assert.True(t, snapshot.Trial)
	assert.Equal(t, 1, snapshot.Instances.Limit)
}

func TestQuotaCanPerformAtLimit(t *testing.T) {
	env, quota := newQuotaEnv(t)

	pkg, err := env.packages.Create(context.Background(), domain.Package{
		ID:           uuid.New(),
		Name:         "Duo",
		Price:        100000,
		Currency:     "IDR",
		DurationDays: 30,
		Active:       true,
		Features:     domain.PackageFeatures{MaxInstances: 2, MaxMessagesPerDay: 100, MaxMessagesPerMonth: 1000, MaxExternalDevices: 1},
	})
	require.NoError(t, err)

	userID := uuid.New()
	env.activeSubscription(t, userID, pkg)

	// Оба слота заняты: создание третьего инстанса отклоняется
	result, err := quota.CanPerform(context.Background(), userID, domain.QuotaCheckRequest{
		Action: domain.QuotaActionCreateInstance,
		Counts: domain.ResourceCounts{Instances: 2},
	})
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Snapshot.Instances.Remaining)

	// Один слот свободен: создание разрешено
	result, err = quota.CanPerform(context.Background(), userID, domain.QuotaCheckRequest{
		Action: domain.QuotaActionCreateInstance,
		Counts: domain.ResourceCounts{Instances: 1},
	})
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestQuotaSendMessageChecksBothWindows(t *testing.T) {
	env, quota := newQuotaEnv(t)

	pkg, err := env.packages.Create(context.Background(), domain.Package{
		ID:           uuid.New(),
		Name:         "Tight",
		Price:        100000,
		Currency:     "IDR",
		DurationDays: 30,
		Active:       true,
		Features:     domain.PackageFeatures{MaxInstances: 1, MaxMessagesPerDay: 100, MaxMessagesPerMonth: 1000, MaxExternalDevices: 1},
	})
	require.NoError(t, err)

	userID := uuid.New()
	env.activeSubscription(t, userID, pkg)

	// Дневной лимит позволяет, но месячный исчерпан
	result, err := quota.CanPerform(context.Background(), userID, domain.QuotaCheckRequest{
		Action: domain.QuotaActionSendMessage,
		Counts: domain.ResourceCounts{MessagesToday: 10, MessagesMonth: 1000},
	})
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestQuotaCanPerformBatchCount(t *testing.T) {
	_, quota := newQuotaEnv(t)

	// Пробный лимит 50 в день: пакет из 60 сообщений не проходит
	result, err := quota.CanPerform(context.Background(), uuid.New(), domain.QuotaCheckRequest{
		Action: domain.QuotaActionSendMessage,
		Count:  60,
		Counts: domain.ResourceCounts{},
	})
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	result, err = quota.CanPerform(context.Background(), uuid.New(), domain.QuotaCheckRequest{
		Action: domain.QuotaActionSendMessage,
		Count:  50,
		Counts: domain.ResourceCounts{},
	})
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestQuotaUnknownActionRejected(t *testing.T) {
	_, quota := newQuotaEnv(t)

	_, err := quota.CanPerform(context.Background(), uuid.New(), domain.QuotaCheckRequest{
		Action: "delete_everything",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
