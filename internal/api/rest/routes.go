package rest

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wagate/billing-service/internal/api/rest/handlers"
	"github.com/wagate/billing-service/internal/api/rest/middleware"
	"github.com/wagate/billing-service/internal/metrics"
	"github.com/wagate/billing-service/internal/service"
	"github.com/wagate/billing-service/pkg/logger"
)

// Services сервисы, необходимые HTTP слою
type Services struct {
	Ledger        service.LedgerService
	Subscriptions service.SubscriptionService
	Quota         service.QuotaService
	Packages      service.PackageService
	Gateway       service.GatewayClient
}

// SetupRouter настраивает маршрутизатор Gin с маршрутами и middleware
func SetupRouter(log *logger.Logger, registry *prometheus.Registry, m *metrics.Metrics, svc Services) *gin.Engine {
	r := gin.New()

	r.Use(middleware.LoggerMiddleware(log))
	r.Use(gin.Recovery())

	// Endpoint для проверки работоспособности сервиса
	r.GET("/health", handlers.HealthCheck)

	// Prometheus метрики
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// Инициализация обработчиков
	billingHandler := handlers.NewBillingHandler(svc.Ledger, svc.Subscriptions, log)
	quotaHandler := handlers.NewQuotaHandler(svc.Quota, m, log)
	packageHandler := handlers.NewPackageHandler(svc.Packages, log)
	webhookHandler := handlers.NewWebhookHandler(svc.Gateway, svc.Ledger, m, log)

	v1 := r.Group("/api/v1")
	{
		// Каталог пакетов
		packages := v1.Group("/packages")
		{
			packages.GET("", packageHandler.GetPackages)
			packages.GET("/:id", packageHandler.GetPackage)
			packages.POST("", packageHandler.CreatePackage)
			packages.PUT("/:id", packageHandler.UpdatePackage)
			packages.DELETE("/:id", packageHandler.DeactivatePackage)
		}

		// Покупка и управление подпиской
		billing := v1.Group("/billing")
		{
			billing.POST("/subscribe", billingHandler.Subscribe)
			billing.POST("/renew", billingHandler.Renew)
			billing.POST("/upgrade", billingHandler.Upgrade)
			billing.POST("/downgrade", billingHandler.Downgrade)
			billing.POST("/cancel", billingHandler.CancelSubscription)
			billing.GET("/subscription", billingHandler.GetSubscription)
			billing.GET("/transactions", billingHandler.GetTransactions)
			billing.GET("/transactions/:id", billingHandler.GetTransaction)
			billing.POST("/transactions/:id/cancel", billingHandler.CancelTransaction)
			billing.POST("/transactions/:id/refund", billingHandler.RefundTransaction)
		}

		// Оценка квот для смежных сервисов шлюза
		quota := v1.Group("/quota")
		{
			quota.GET("", quotaHandler.GetSnapshot)
			quota.POST("/check", quotaHandler.Check)
		}
	}

	// Вебхуки на корневом уровне роутера
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/payment", webhookHandler.HandlePaymentWebhook)
	}

	return r
}
