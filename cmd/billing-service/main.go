package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wagate/billing-service/config"
	"github.com/wagate/billing-service/internal/api/rest"
	"github.com/wagate/billing-service/internal/domain"
	"github.com/wagate/billing-service/internal/gateway"
	"github.com/wagate/billing-service/internal/kafka"
	"github.com/wagate/billing-service/internal/metrics"
	"github.com/wagate/billing-service/internal/repository"
	"github.com/wagate/billing-service/internal/repository/postgres"
	"github.com/wagate/billing-service/internal/scheduler"
	"github.com/wagate/billing-service/internal/service"
	"github.com/wagate/billing-service/pkg/logger"
)

var log *logger.Logger

func init() {
	logLevel := logger.INFO
	if os.Getenv("DEBUG") == "true" {
		logLevel = logger.DEBUG
	}
	log = logger.New(logLevel)
}

func main() {
	// Загрузка конфигурации
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Инициализация Prometheus
	promRegistry := prometheus.NewRegistry()
	billingMetrics := metrics.New(promRegistry)

	// Подключение к базе данных
	dbPool, err := postgres.NewConnection(ctx, cfg.Database.DSN, log)
	if err != nil {
		log.Fatal("Failed to connect to database: %v", err)
	}
	defer dbPool.Close()

	// Репозитории
	transactionRepo := repository.NewPostgresTransactionRepository(dbPool, log)
	subscriptionRepo := repository.NewPostgresSubscriptionRepository(dbPool, log)

	var packageRepo repository.PackageRepository = repository.NewPostgresPackageRepository(dbPool, log)

	// Кэш каталога пакетов, без Redis работаем напрямую с базой
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache := repository.NewRedisCacheRepository(redisClient, log)
		if err := cache.Ping(ctx); err != nil {
			log.Fatal("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()

		packageRepo = repository.NewCachedPackageRepository(packageRepo, cache, log)
	}

	// Kafka продюсер, без брокеров события только логируются
	eventProducer := kafka.NewNoopProducer(log)
	if len(cfg.Kafka.Brokers) > 0 {
		if err := kafka.EnsureKafkaTopics(cfg.Kafka.Brokers, log); err != nil {
			log.Warn("Failed to ensure Kafka topics: %v", err)
		}
		eventProducer, err = kafka.NewKafkaProducer(cfg.Kafka.Brokers, log)
		if err != nil {
			log.Fatal("Failed to create Kafka producer: %v", err)
		}
	}
	defer eventProducer.Close()

	// Клиент платежного шлюза
	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:   cfg.Gateway.BaseURL,
		ServerKey: cfg.Gateway.ServerKey,
		ClientKey: cfg.Gateway.ClientKey,
		FinishURL: cfg.Gateway.FinishURL,
		NotifyURL: cfg.Gateway.NotifyURL,
	}, log)

	// Сервисы
	packageService := service.NewPackageService(packageRepo, log, cfg.Billing.Currency)
	subscriptionService := service.NewSubscriptionService(
		subscriptionRepo, packageRepo, eventProducer, log, cfg.Billing.GraceDays, nil)
	ledgerService := service.NewLedgerService(
		transactionRepo, packageRepo, subscriptionService, gatewayClient, eventProducer, log, nil)
	quotaService := service.NewQuotaService(subscriptionService, packageService, log, domain.PackageFeatures{
		MaxInstances:        cfg.Billing.Trial.MaxInstances,
		MaxMessagesPerDay:   cfg.Billing.Trial.MaxMessagesPerDay,
		MaxMessagesPerMonth: cfg.Billing.Trial.MaxMessagesPerMonth,
		MaxExternalDevices:  cfg.Billing.Trial.MaxExternalDevices,
	})

	// Фоновые сверки
	jobs := scheduler.NewJobs(
		ledgerService,
		subscriptionService,
		billingMetrics,
		log,
		cfg.Billing.WarnThresholds,
		time.Duration(cfg.Billing.PendingTTLHours)*time.Hour,
		nil,
	)
	sched, err := scheduler.New(jobs, log)
	if err != nil {
		log.Fatal("Failed to create scheduler: %v", err)
	}
	sched.Start()

	// Установка режима Gin
	if cfg.App.Env == "production" || os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Настройка маршрутизатора
	router := rest.SetupRouter(log, promRegistry, billingMetrics, rest.Services{
		Ledger:        ledgerService,
		Subscriptions: subscriptionService,
		Quota:         quotaService,
		Packages:      packageService,
		Gateway:       gatewayClient,
	})

	// Создание и запуск HTTP сервера
	server := rest.NewServer(router, cfg, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	sched.Stop(ctxShutdown)

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatal("Server forced to shutdown: %v", err)
	}

	log.Info("Server stopped gracefully")
}
