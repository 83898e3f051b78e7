package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
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

const testServerKey = "test-server-key"

// webhookEnv поднимает webhook-роут поверх репозиториев в памяти
type webhookEnv struct {
	router        *gin.Engine
	transactions  repository.TransactionRepository
	subscriptions repository.SubscriptionRepository
	packages      repository.PackageRepository
	lifecycle     service.SubscriptionService
}

func newWebhookEnv(t *testing.T) *webhookEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.New(logger.ERROR)
	log.SetOutput(io.Discard)

	client := gateway.NewClient(gateway.Config{
		BaseURL:   "https://api.gateway.example.com",
		ServerKey: testServerKey,
	}, log)

	transactions := repository.NewInMemoryTransactionRepository(log)
	subscriptions := repository.NewInMemorySubscriptionRepository(log)
	packages := repository.NewInMemoryPackageRepository(log)

	lifecycle := service.NewSubscriptionService(subscriptions, packages, nil, log, 7, nil)
	ledger := service.NewLedgerService(transactions, packages, lifecycle, client, nil, log, nil)

	handler := NewWebhookHandler(client, ledger, metrics.New(prometheus.NewRegistry()), log)

	router := gin.New()
	router.POST("/webhooks/payment", handler.HandlePaymentWebhook)

	return &webhookEnv{
		router:        router,
		transactions:  transactions,
		subscriptions: subscriptions,
		packages:      packages,
		lifecycle:     lifecycle,
	}
}

// seedPendingTransaction создает пакет, pending-транзакцию и pending-подписку
func (e *webhookEnv) seedPendingTransaction(t *testing.T) domain.Transaction {
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

	tr, err := e.transactions.Create(context.Background(), domain.Transaction{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		PackageID: pkg.ID,
		Kind:      domain.TransactionKindPurchase,
		Amount:    150000,
		Currency:  "IDR",
		Periods:   1,
		OrderID:   "WGB-" + uuid.NewString(),
		Status:    domain.TransactionStatusPending,
	})
	require.NoError(t, err)

	_, err = e.subscriptions.Create(context.Background(), domain.Subscription{
		ID:            uuid.New(),
		UserID:        tr.UserID,
		PackageID:     pkg.ID,
		TransactionID: tr.ID,
		Status:        domain.SubscriptionStatusPending,
		GraceDays:     7,
	})
	require.NoError(t, err)

	return tr
}

// signedPayload собирает корректно подписанное уведомление
func signedPayload(orderID, transactionStatus string) []byte {
	n := gateway.Notification{
		OrderID:           orderID,
		TransactionStatus: transactionStatus,
		StatusCode:        "200",
		GrossAmount:       "150000.00",
		PaymentType:       "bank_transfer",
	}
	n.SignatureKey = gateway.ComputeSignature(n.OrderID, n.StatusCode, n.GrossAmount, testServerKey)

	payload, _ := json.Marshal(n)
	return payload
}

func (e *webhookEnv) post(payload []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	e.router.ServeHTTP(w, req)
	return w
}

func TestWebhookSettlementActivates(t *testing.T) {
	env := newWebhookEnv(t)
	tr := env.seedPendingTransaction(t)

	w := env.post(signedPayload(tr.OrderID, gateway.StatusSettlement))
	assert.Equal(t, http.StatusOK, w.Code)

	updated, err := env.transactions.GetByOrderID(context.Background(), tr.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPaid, updated.Status)
	assert.NotEmpty(t, updated.RawPayload)

	sub, err := env.lifecycle.GetCurrent(context.Background(), tr.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
}

func TestWebhookMalformedPayload(t *testing.T) {
	env := newWebhookEnv(t)

	w := env.post([]byte(`{"order_id": `))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookMissingRequiredFields(t *testing.T) {
	env := newWebhookEnv(t)

	w := env.post([]byte(`{"order_id": "WGB-1"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookBadSignature(t *testing.T) {
	env := newWebhookEnv(t)
	tr := env.seedPendingTransaction(t)

	payload := signedPayload(tr.OrderID, gateway.StatusSettlement)
	payload = bytes.Replace(payload, []byte("150000.00"), []byte("1.00"), 1)

	w := env.post(payload)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Состояние транзакции не тронуто
	updated, err := env.transactions.GetByOrderID(context.Background(), tr.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, updated.Status)
}

func TestWebhookDuplicateDeliveryStillOK(t *testing.T) {
	env := newWebhookEnv(t)
	tr := env.seedPendingTransaction(t)

	payload := signedPayload(tr.OrderID, gateway.StatusSettlement)
	assert.Equal(t, http.StatusOK, env.post(payload).Code)
	assert.Equal(t, http.StatusOK, env.post(payload).Code)

	updated, err := env.transactions.GetByOrderID(context.Background(), tr.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPaid, updated.Status)
}

func TestWebhookUnknownOrderStillOK(t *testing.T) {
	env := newWebhookEnv(t)

	// Подпись верна, но заказа нет: 200, переотправка бессмысленна
	w := env.post(signedPayload("WGB-unknown", gateway.StatusSettlement))
	assert.Equal(t, http.StatusOK, w.Code)
}
