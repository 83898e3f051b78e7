package gateway

import "github.com/wagate/billing-service/internal/domain"

// Внешний словарь статусов шлюза
const (
	StatusCapture    = "capture"
	StatusSettlement = "settlement"
	StatusPending    = "pending"
	StatusDeny       = "deny"
	StatusCancel     = "cancel"
	StatusExpire     = "expire"
	StatusRefund     = "refund"

	FraudAccept    = "accept"
	FraudChallenge = "challenge"
	FraudDeny      = "deny"
)

// statusMapping единственная точка перевода словаря шлюза во внутренние
// статусы транзакций. Новые внешние статусы добавляются сюда, не трогая
// логику переходов.
var statusMapping = map[string]domain.TransactionStatus{
	StatusSettlement: domain.TransactionStatusPaid,
	StatusPending:    domain.TransactionStatusPending,
	StatusDeny:       domain.TransactionStatusFailed,
	StatusCancel:     domain.TransactionStatusCancelled,
	StatusExpire:     domain.TransactionStatusExpired,
	StatusRefund:     domain.TransactionStatusRefunded,
}

// captureMapping статус capture уточняется результатом антифрод-проверки
var captureMapping = map[string]domain.TransactionStatus{
	FraudAccept:    domain.TransactionStatusPaid,
	FraudChallenge: domain.TransactionStatusProcessing,
	FraudDeny:      domain.TransactionStatusFailed,
}

// MapStatus переводит пару (transaction_status, fraud_status) шлюза
// во внутренний статус транзакции. Второе значение false означает
// неизвестный внешний статус.
func MapStatus(transactionStatus, fraudStatus string) (domain.TransactionStatus, bool) {
	if transactionStatus == StatusCapture {
		status, ok := captureMapping[fraudStatus]
		return status, ok
	}

	status, ok := statusMapping[transactionStatus]
	return status, ok
}
