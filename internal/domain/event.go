package domain

import (
	"time"

	"github.com/google/uuid"
)

// BillingEventType тип события биллинга
type BillingEventType string

const (
	EventTransactionPaid       BillingEventType = "transaction.paid"
	EventTransactionRefunded   BillingEventType = "transaction.refunded"
	EventSubscriptionActivated BillingEventType = "subscription.activated"
	EventSubscriptionRenewed   BillingEventType = "subscription.renewed"
	EventSubscriptionExpiring  BillingEventType = "subscription.expiring"
	EventSubscriptionGrace     BillingEventType = "subscription.grace"
	EventSubscriptionSuspended BillingEventType = "subscription.suspended"
	EventSubscriptionCancelled BillingEventType = "subscription.cancelled"
	EventSubscriptionUpgraded  BillingEventType = "subscription.upgraded"
)

// BillingEvent событие жизненного цикла биллинга.
// Через эти события смежные сервисы шлюза узнают об изменении прав:
// например, на subscription.suspended они обязаны отключить инстансы.
type BillingEvent struct {
	Type           BillingEventType `json:"type"`
	UserID         uuid.UUID        `json:"user_id"`
	SubscriptionID uuid.UUID        `json:"subscription_id,omitempty"`
	PackageID      uuid.UUID        `json:"package_id,omitempty"`
	OrderID        string           `json:"order_id,omitempty"`
	DaysRemaining  int              `json:"days_remaining,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
}
