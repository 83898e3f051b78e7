package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/wagate/billing-service/internal/domain"
	"github.com/wagate/billing-service/internal/gateway"
	"github.com/wagate/billing-service/internal/metrics"
	"github.com/wagate/billing-service/internal/service"
	"github.com/wagate/billing-service/pkg/logger"
)

// WebhookHandler обработчик уведомлений платежного шлюза
type WebhookHandler struct {
	gateway service.GatewayClient
	ledger  service.LedgerService
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewWebhookHandler создает новый обработчик вебхуков
func NewWebhookHandler(gatewayClient service.GatewayClient, ledger service.LedgerService, m *metrics.Metrics, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		gateway: gatewayClient,
		ledger:  ledger,
		metrics: m,
		log:     log,
	}
}

// HandlePaymentWebhook принимает уведомление шлюза о смене статуса платежа.
// Нечитаемый payload дает 400, неверная подпись 403. После успешной проверки
// подписи всегда 200: дальнейшие сбои наши, переотправка уведомления
// их не исправит, это сделает часовая сверка.
func (h *WebhookHandler) HandlePaymentWebhook(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		h.observe("invalid_payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	var notification gateway.Notification
	if err := binding.JSON.BindBody(raw, &notification); err != nil {
		h.log.Warn("Malformed webhook payload: %v", err)
		h.observe("invalid_payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed notification payload"})
		return
	}

	if err := h.gateway.VerifyNotification(notification); err != nil {
		if errors.Is(err, domain.ErrSignatureMismatch) {
			h.observe("signature_mismatch")
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid signature"})
			return
		}
		h.log.Error("Failed to verify notification: %v", err)
		h.observe("error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify notification"})
		return
	}

	tr, err := h.ledger.ApplyGatewayStatus(
		c.Request.Context(),
		notification.OrderID,
		notification.TransactionStatus,
		notification.FraudStatus,
		notification.PaymentType,
		raw,
	)
	if err != nil {
		h.log.Error("Failed to apply gateway status for order %s: %v", notification.OrderID, err)
		h.observe("error")
		c.JSON(http.StatusOK, gin.H{"status": "received"})
		return
	}

	h.observe("applied")
	if h.metrics != nil {
		h.metrics.TransactionsTotal.WithLabelValues(string(tr.Kind), string(tr.Status)).Inc()
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "order_id": tr.OrderID, "transaction_status": tr.Status})
}

// observe учитывает исход обработки вебхука в метриках
func (h *WebhookHandler) observe(outcome string) {
	if h.metrics == nil {
		return
	}
	h.metrics.WebhooksTotal.WithLabelValues(outcome).Inc()
}
