package domain

import "github.com/google/uuid"

// QuotaAction действие, требующее проверки квоты
type QuotaAction string

const (
	QuotaActionCreateInstance QuotaAction = "create_instance"
	QuotaActionSendMessage    QuotaAction = "send_message"
	QuotaActionAddDevice      QuotaAction = "add_device"
)

// ResourceCounts текущие счетчики ресурсов пользователя.
// Счетчики поставляет вызывающий сервис: оценка квоты доверяет им
// и не ведет собственного учета.
type ResourceCounts struct {
	Instances       int `json:"instances"`
	MessagesToday   int `json:"messages_today"`
	MessagesMonth   int `json:"messages_month"`
	ExternalDevices int `json:"external_devices"`
}

// QuotaUsage использование одного ресурса относительно лимита
type QuotaUsage struct {
	Used       int     `json:"used"`
	Limit      int     `json:"limit"`
	Remaining  int     `json:"remaining"`
	Percentage float64 `json:"percentage"`
}

// QuotaSnapshot срез использования квот по всем ресурсам
type QuotaSnapshot struct {
	UserID          uuid.UUID          `json:"user_id"`
	PackageID       uuid.UUID          `json:"package_id,omitempty"`
	PackageName     string             `json:"package_name,omitempty"`
	Status          SubscriptionStatus `json:"subscription_status,omitempty"`
	Trial           bool               `json:"trial"`
	Instances       QuotaUsage         `json:"instances"`
	MessagesToday   QuotaUsage         `json:"messages_today"`
	MessagesMonth   QuotaUsage         `json:"messages_month"`
	ExternalDevices QuotaUsage         `json:"external_devices"`
}

// QuotaCheckRequest запрос на проверку квоты от смежного сервиса
type QuotaCheckRequest struct {
	Action QuotaAction    `json:"action" binding:"required"`
	Count  int            `json:"count" binding:"omitempty,gte=1"`
	Counts ResourceCounts `json:"counts"`
}

// QuotaCheckResult результат проверки квоты
type QuotaCheckResult struct {
	Allowed  bool          `json:"allowed"`
	Action   QuotaAction   `json:"action"`
	Snapshot QuotaSnapshot `json:"snapshot"`
}
