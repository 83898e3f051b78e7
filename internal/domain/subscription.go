package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus статус подписки
type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusGrace     SubscriptionStatus = "grace"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// Subscription представляет собой подписку пользователя на тарифный пакет.
// У пользователя может быть не более одной подписки в статусах
// pending/active/grace одновременно.
type Subscription struct {
	ID            uuid.UUID          `json:"id"`
	UserID        uuid.UUID          `json:"user_id"`
	PackageID     uuid.UUID          `json:"package_id"`
	TransactionID uuid.UUID          `json:"transaction_id"` // транзакция, оплатившая текущий период
	Status        SubscriptionStatus `json:"status"`
	StartsAt      time.Time          `json:"starts_at"`
	EndsAt        time.Time          `json:"ends_at"`
	GraceDays     int                `json:"grace_days"`
	GraceDeadline *time.Time         `json:"grace_deadline,omitempty"`
	CancelReason  string             `json:"cancel_reason,omitempty"`
	CancelledAt   *time.Time         `json:"cancelled_at,omitempty"`
	Metadata      map[string]string  `json:"metadata,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// IsEntitled проверяет, дает ли подписка право на квоты пакета.
// Льготный период сохраняет лимиты пакета целиком.
func (s Subscription) IsEntitled() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusGrace
}

// IsCurrent проверяет, занимает ли подписка единственный "слот" пользователя
func (s Subscription) IsCurrent() bool {
	switch s.Status {
	case SubscriptionStatusPending, SubscriptionStatusActive, SubscriptionStatusGrace:
		return true
	}
	return false
}

// MetaValue возвращает значение метаданных по ключу
func (s Subscription) MetaValue(key string) string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata[key]
}

// SetMeta записывает значение метаданных по ключу
func (s *Subscription) SetMeta(key, value string) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]string)
	}
	s.Metadata[key] = value
}
