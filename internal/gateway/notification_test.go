package gateway

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagate/billing-service/internal/domain"
	"github.com/wagate/billing-service/pkg/logger"
)

func testClient(serverKey string) *Client {
	log := logger.New(logger.ERROR)
	log.SetOutput(io.Discard)
	return NewClient(Config{
		BaseURL:   "https://api.gateway.example.com",
		ServerKey: serverKey,
	}, log)
}

func signedNotification(serverKey string) Notification {
	n := Notification{
		OrderID:           "WGB-7f3a",
		TransactionStatus: StatusSettlement,
		StatusCode:        "200",
		GrossAmount:       "150000.00",
	}
	n.SignatureKey = ComputeSignature(n.OrderID, n.StatusCode, n.GrossAmount, serverKey)
	return n
}

func TestVerifyNotification(t *testing.T) {
	client := testClient("server-key-1")

	n := signedNotification("server-key-1")
	require.NoError(t, client.VerifyNotification(n))
}

func TestVerifyNotificationWrongKey(t *testing.T) {
	client := testClient("server-key-1")

	// Подпись вычислена с чужим ключом
	n := signedNotification("server-key-2")
	err := client.VerifyNotification(n)
	assert.ErrorIs(t, err, domain.ErrSignatureMismatch)
}

func TestVerifyNotificationTamperedAmount(t *testing.T) {
	client := testClient("server-key-1")

	n := signedNotification("server-key-1")
	n.GrossAmount = "1.00"

	err := client.VerifyNotification(n)
	assert.ErrorIs(t, err, domain.ErrSignatureMismatch)
}

func TestVerifyNotificationEmptySignature(t *testing.T) {
	client := testClient("server-key-1")

	n := signedNotification("server-key-1")
	n.SignatureKey = ""

	err := client.VerifyNotification(n)
	assert.ErrorIs(t, err, domain.ErrSignatureMismatch)
}
