package scheduler

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagate/billing-service/internal/domain"
	"github.com/wagate/billing-service/internal/gateway"
	"github.com/wagate/billing-service/internal/metrics"
	"github.com/wagate/billing-service/internal/repository"
	"github.com/wagate/billing-service/internal/service"
	"github.com/wagate/billing-service/pkg/logger"
)

// sweepGateway управляемый фейковый шлюз для сверок
type sweepGateway struct {
	mu     sync.Mutex
	status map[string]gateway.StatusResponse
}

func (f *sweepGateway) SetStatus(orderID, transactionStatus string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[orderID] = gateway.StatusResponse{OrderID: orderID, TransactionStatus: transactionStatus}
}

func (f *sweepGateway) CreateRemoteTransaction(_ context.Context, tr domain.Transaction, _ domain.Package) (gateway.CreateTransactionResponse, error) {
	return gateway.CreateTransactionResponse{Token: "tok-" + tr.OrderID, RedirectURL: "https://pay.example.com/" + tr.OrderID}, nil
}

func (f *sweepGateway) CheckRemoteStatus(_ context.Context, orderID string) (gateway.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp, ok := f.status[orderID]
	if !ok {
		return gateway.StatusResponse{}, domain.NewExternalServiceError("gateway", "not_found", "unknown order", 404, nil)
	}
	return resp, nil
}

func (f *sweepGateway) CancelRemote(_ context.Context, _ string) error  { return nil }
func (f *sweepGateway) RefundRemote(_ context.Context, _ string, _ int64, _ string) error {
	return nil
}
func (f *sweepGateway) VerifyNotification(_ gateway.Notification) error { return nil }

// eventRecorder собирает опубликованные события
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.BillingEvent
}

func (p *eventRecorder) PublishBillingEvent(_ context.Context, event domain.BillingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *eventRecorder) countOf(eventType domain.BillingEventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, e := range p.events {
		if e.Type == eventType {
			count++
		}
	}
	return count
}

// sweepEnv окружение для тестов фоновых сверок
type sweepEnv struct {
	now           time.Time
	nowMu         sync.Mutex
	gateway       *sweepGateway
	events        *eventRecorder
	transactions  repository.TransactionRepository
	subscriptions repository.SubscriptionRepository
	packages      repository.PackageRepository
	ledger        service.LedgerService
	lifecycle     service.SubscriptionService
	jobs          *Jobs
}

func (e *sweepEnv) Now() time.Time {
	e.nowMu.Lock()
	defer e.nowMu.Unlock()
	return e.now
}

func (e *sweepEnv) Advance(d time.Duration) {
	e.nowMu.Lock()
	defer e.nowMu.Unlock()
	e.now = e.now.Add(d)
}

func newSweepEnv(t *testing.T) *sweepEnv {
	t.Helper()

	log := logger.New(logger.ERROR)
	log.SetOutput(io.Discard)

	env := &sweepEnv{
		// Репозитории в памяти проставляют created_at реальным временем,
		// поэтому тестовые часы стартуют от него же
		now:     time.Now(),
		gateway: &sweepGateway{status: make(map[string]gateway.StatusResponse)},
		events:  &eventRecorder{},
	}

	env.transactions = repository.NewInMemoryTransactionRepository(log)
	env.subscriptions = repository.NewInMemorySubscriptionRepository(log)
	env.packages = repository.NewInMemoryPackageRepository(log)

	env.lifecycle = service.NewSubscriptionService(env.subscriptions, env.packages, env.events, log, 7, env.Now)
	env.ledger = service.NewLedgerService(env.transactions, env.packages, env.lifecycle, env.gateway, env.events, log, env.Now)

	env.jobs = NewJobs(
		env.ledger,
		env.lifecycle,
		metrics.New(prometheus.NewRegistry()),
		log,
		[]int{7, 3, 1},
		24*time.Hour,
		env.Now,
	)

	return env
}

func (e *sweepEnv) seedPackage(t *testing.T) domain.Package {
	t.Helper()

	pkg, err := e.packages.Create(context.Background(), domain.Package{
		ID:           uuid.New(),
		Name:         "Business",
		Price:        150000,
		Currency:     "IDR",
		DurationDays: 30,
		Active:       true,
	})
	require.NoError(t, err)
	return pkg
}

// seedActiveSubscription проводит пользователя через покупку и оплату
func (e *sweepEnv) seedActiveSubscription(t *testing.T, userID uuid.UUID, pkg domain.Package) domain.Subscription {
	t.Helper()

	tr, err := e.ledger.Open(context.Background(), userID, domain.TransactionKindPurchase, domain.OpenTransactionRequest{PackageID: pkg.ID})
	require.NoError(t, err)

	e.gateway.SetStatus(tr.OrderID, gateway.StatusSettlement)
	_, err = e.ledger.SyncRemoteStatus(context.Background(), tr.OrderID)
	require.NoError(t, err)

	sub, err := e.lifecycle.GetCurrent(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	return sub
}

func TestExpirySweepSuspendsLongOverdueSubscription(t *testing.T) {
	env := newSweepEnv(t)
	pkg := env.seedPackage(t)
	userID := uuid.New()

	env.seedActiveSubscription(t, userID, pkg)

	// Срок вышел 8 дней назад: льготный период (7 дней) тоже позади
	env.Advance(38 * 24 * time.Hour)
	env.jobs.RunExpirySweep(context.Background())

	latest, err := env.subscriptions.GetLatestByUserID(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusSuspended, latest.Status)

	assert.Equal(t, 1, env.events.countOf(domain.EventSubscriptionGrace))
	assert.Equal(t, 1, env.events.countOf(domain.EventSubscriptionSuspended))
}

func TestExpirySweepGraceWithinDeadline(t *testing.T) {
	env := newSweepEnv(t)
	pkg := env.seedPackage(t)
	userID := uuid.New()

	sub := env.seedActiveSubscription(t, userID, pkg)

	// Срок вышел 2 дня назад, льготный период еще идет
	env.Advance(32 * 24 * time.Hour)
	env.jobs.RunExpirySweep(context.Background())

	latest, err := env.subscriptions.GetLatestByUserID(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusGrace, latest.Status)
	require.NotNil(t, latest.GraceDeadline)
	assert.Equal(t, sub.EndsAt.AddDate(0, 0, 7), *latest.GraceDeadline)
}

func TestExpirySweepWarnsOnceForThreshold(t *testing.T) {
	env := newSweepEnv(t)
	pkg := env.seedPackage(t)
	userID := uuid.New()

	env.seedActiveSubscription(t, userID, pkg)

	// До истечения 2 дня: срабатывает порог 3, и только он
	env.Advance(28 * 24 * time.Hour)
	env.jobs.RunExpirySweep(context.Background())
	env.jobs.RunExpirySweep(context.Background())

	assert.Equal(t, 1, env.events.countOf(domain.EventSubscriptionExpiring))

	// Через день срабатывает порог 1
	env.Advance(24 * time.Hour)
	env.jobs.RunExpirySweep(context.Background())

	assert.Equal(t, 2, env.events.countOf(domain.EventSubscriptionExpiring))
}

func TestPaymentSweepSyncsPendingTransaction(t *testing.T) {
	env := newSweepEnv(t)
	pkg := env.seedPackage(t)
	userID := uuid.New()

	tr, err := env.ledger.Open(context.Background(), userID, domain.TransactionKindPurchase, domain.OpenTransactionRequest{PackageID: pkg.ID})
	require.NoError(t, err)

	// Вебхук не дошел, но шлюз знает об оплате
	env.gateway.SetStatus(tr.OrderID, gateway.StatusSettlement)
	env.jobs.RunPaymentSweep(context.Background())

	synced, err := env.transactions.GetByOrderID(context.Background(), tr.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPaid, synced.Status)

	sub, err := env.lifecycle.GetCurrent(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
}

func TestPaymentSweepExpiresStalePending(t *testing.T) {
	env := newSweepEnv(t)
	pkg := env.seedPackage(t)
	userID := uuid.New()

	tr, err := env.ledger.Open(context.Background(), userID, domain.TransactionKindPurchase, domain.OpenTransactionRequest{PackageID: pkg.ID})
	require.NoError(t, err)
	env.gateway.SetStatus(tr.OrderID, gateway.StatusPending)

	// Сутки спустя шлюз все еще не получил оплату
	env.Advance(25 * time.Hour)
	env.jobs.RunPaymentSweep(context.Background())

	stale, err := env.transactions.GetByOrderID(context.Background(), tr.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusExpired, stale.Status)
}

func TestPaymentSweepSelfHealsActivation(t *testing.T) {
	env := newSweepEnv(t)
	pkg := env.seedPackage(t)
	userID := uuid.New()

	tr, err := env.ledger.Open(context.Background(), userID, domain.TransactionKindPurchase, domain.OpenTransactionRequest{PackageID: pkg.ID})
	require.NoError(t, err)

	// Транзакция оплачена, но активация при вебхуке не состоялась
	_, err = env.transactions.UpdateWithLock(context.Background(), tr.OrderID, func(tr *domain.Transaction) error {
		now := env.Now()
		tr.Status = domain.TransactionStatusPaid
		tr.PaidAt = &now
		return nil
	})
	require.NoError(t, err)

	env.jobs.RunPaymentSweep(context.Background())

	sub, err := env.lifecycle.GetCurrent(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, 1, env.events.countOf(domain.EventSubscriptionActivated))
}
