package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/wagate/billing-service/internal/domain"
	"github.com/wagate/billing-service/internal/metrics"
	"github.com/wagate/billing-service/internal/service"
	"github.com/wagate/billing-service/pkg/logger"
)

// QuotaHandler обработчик запросов оценки квот
type QuotaHandler struct {
	quota   service.QuotaService
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewQuotaHandler создает новый обработчик квот
func NewQuotaHandler(quota service.QuotaService, m *metrics.Metrics, log *logger.Logger) *QuotaHandler {
	return &QuotaHandler{
		quota:   quota,
		metrics: m,
		log:     log,
	}
}

// GetSnapshot возвращает срез использования квот.
// Счетчики ресурсов передаются вызывающим сервисом в query-параметрах.
func (h *QuotaHandler) GetSnapshot(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		return
	}

	counts := domain.ResourceCounts{
		Instances:       queryInt(c, "instances"),
		MessagesToday:   queryInt(c, "messages_today"),
		MessagesMonth:   queryInt(c, "messages_month"),
		ExternalDevices: queryInt(c, "external_devices"),
	}

	snapshot, err := h.quota.Snapshot(c.Request.Context(), userID, counts)
	if err != nil {
		h.log.Error("Failed to build quota snapshot for user %s: %v", userID, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// Check проверяет, укладывается ли действие в лимиты пакета
func (h *QuotaHandler) Check(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		return
	}

	var req domain.QuotaCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	result, err := h.quota.CanPerform(c.Request.Context(), userID, req)
	if err != nil {
		h.log.Error("Failed to check quota for user %s: %v", userID, err)
		respondError(c, err)
		return
	}

	if h.metrics != nil {
		h.metrics.QuotaChecksTotal.WithLabelValues(string(result.Action), strconv.FormatBool(result.Allowed)).Inc()
	}

	c.JSON(http.StatusOK, result)
}

// queryInt читает неотрицательный int из query-параметра
func queryInt(c *gin.Context, name string) int {
	v, err := strconv.Atoi(c.DefaultQuery(name, "0"))
	if err != nil || v < 0 {
		return 0
	}
	return v
}
