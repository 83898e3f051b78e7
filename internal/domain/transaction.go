package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TransactionStatus статус транзакции
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusPaid       TransactionStatus = "paid"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusExpired    TransactionStatus = "expired"
	TransactionStatusCancelled  TransactionStatus = "cancelled"
	TransactionStatusRefunded   TransactionStatus = "refunded"
)

// legalTransitions описывает граф допустимых переходов статуса транзакции.
// Любое ребро вне графа игнорируется: шлюз переотправляет уведомления,
// и повторная доставка не должна менять уже достигнутое состояние.
var legalTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending: {
		TransactionStatusProcessing,
		TransactionStatusPaid,
		TransactionStatusFailed,
		TransactionStatusExpired,
		TransactionStatusCancelled,
	},
	TransactionStatusProcessing: {
		TransactionStatusPaid,
		TransactionStatusFailed,
	},
	TransactionStatusPaid: {
		TransactionStatusRefunded,
	},
}

// CanTransitionTo проверяет, допустим ли переход из текущего статуса в target
func (s TransactionStatus) CanTransitionTo(target TransactionStatus) bool {
	for _, t := range legalTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal проверяет, является ли статус конечным
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionStatusFailed, TransactionStatusExpired, TransactionStatusCancelled, TransactionStatusRefunded:
		return true
	}
	return false
}

// TransactionKind назначение транзакции
type TransactionKind string

const (
	TransactionKindPurchase TransactionKind = "purchase"
	TransactionKindRenewal  TransactionKind = "renewal"
	TransactionKindUpgrade  TransactionKind = "upgrade"
)

// Transaction представляет собой запись о попытке оплаты.
// Сумма, пакет и пользователь неизменяемы после создания, статус движется
// только по графу legalTransitions.
type Transaction struct {
	ID            uuid.UUID         `json:"id"`
	UserID        uuid.UUID         `json:"user_id"`
	PackageID     uuid.UUID         `json:"package_id"`
	Kind          TransactionKind   `json:"kind"`
	Amount        int64             `json:"amount"` // с учетом скидки
	Currency      string            `json:"currency"`
	Periods       int               `json:"periods"` // количество периодов пакета
	OrderID       string            `json:"order_id"` // корреляционный ID на стороне шлюза
	PaymentToken  string            `json:"payment_token,omitempty"`
	RedirectURL   string            `json:"redirect_url,omitempty"`
	Status        TransactionStatus `json:"status"`
	FailureReason string            `json:"failure_reason,omitempty"`
	PaymentMethod string            `json:"payment_method,omitempty"`
	RawPayload    json.RawMessage   `json:"raw_payload,omitempty"` // последний payload шлюза для аудита
	PaidAt        *time.Time        `json:"paid_at,omitempty"`
	FailedAt      *time.Time        `json:"failed_at,omitempty"`
	ExpiredAt     *time.Time        `json:"expired_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// OpenTransactionRequest представляет запрос на открытие транзакции
type OpenTransactionRequest struct {
	PackageID uuid.UUID `json:"package_id" binding:"required"`
	Periods   int       `json:"periods" binding:"omitempty,gte=1"`
	Discount  int64     `json:"discount" binding:"omitempty,gte=0"`
}
