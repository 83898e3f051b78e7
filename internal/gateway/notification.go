package gateway

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"

	"github.com/wagate/billing-service/internal/domain"
)

// Notification асинхронное уведомление шлюза о смене статуса платежа
type Notification struct {
	OrderID           string `json:"order_id" binding:"required"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status" binding:"required"`
	FraudStatus       string `json:"fraud_status"`
	StatusCode        string `json:"status_code" binding:"required"`
	GrossAmount       string `json:"gross_amount" binding:"required"`
	PaymentType       string `json:"payment_type"`
	TransactionTime   string `json:"transaction_time"`
	SignatureKey      string `json:"signature_key" binding:"required"`
}

// ComputeSignature вычисляет подпись уведомления:
// SHA-512 от конкатенации order_id + status_code + gross_amount + server_key
func ComputeSignature(orderID, statusCode, grossAmount, serverKey string) string {
	h := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(h[:])
}

// VerifyNotification проверяет подпись уведомления.
// Сравнение выполняется за постоянное время, любое несовпадение
// отклоняется до изменения локального состояния.
func (c *Client) VerifyNotification(n Notification) error {
	expected := ComputeSignature(n.OrderID, n.StatusCode, n.GrossAmount, c.serverKey)

	if subtle.ConstantTimeCompare([]byte(expected), []byte(n.SignatureKey)) != 1 {
		c.log.Warnw("Notification signature mismatch", "order_id", n.OrderID)
		return domain.ErrSignatureMismatch
	}

	return nil
}
