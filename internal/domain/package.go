package domain

import (
	"time"

	"github.com/google/uuid"
)

// PackageFeatures набор квот и функций тарифного пакета
type PackageFeatures struct {
	MaxInstances        int  `json:"max_instances"`
	MaxMessagesPerDay   int  `json:"max_messages_per_day"`
	MaxMessagesPerMonth int  `json:"max_messages_per_month"`
	MaxExternalDevices  int  `json:"max_external_devices"`
	BulkMessaging       bool `json:"bulk_messaging"`
	DeviceMonitoring    bool `json:"device_monitoring"`
	APIAccess           bool `json:"api_access"`
}

// Package представляет собой тарифный пакет подписки
type Package struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Price        int64           `json:"price"` // в минимальных единицах валюты
	Currency     string          `json:"currency"`
	DurationDays int             `json:"duration_days"`
	Features     PackageFeatures `json:"features"`
	Active       bool            `json:"active"`
	Trial        bool            `json:"trial"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// DailyRate возвращает стоимость одного дня пакета, используется при перерасчете
func (p Package) DailyRate() int64 {
	if p.DurationDays <= 0 {
		return 0
	}
	return p.Price / int64(p.DurationDays)
}

// PackageRequest представляет запрос на создание или изменение пакета
type PackageRequest struct {
	Name         string          `json:"name" binding:"required"`
	Price        int64           `json:"price" binding:"required,gt=0"`
	Currency     string          `json:"currency" binding:"omitempty,len=3"`
	DurationDays int             `json:"duration_days" binding:"required,gt=0"`
	Features     PackageFeatures `json:"features"`
	Trial        bool            `json:"trial"`
}
