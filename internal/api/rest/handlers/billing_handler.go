package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wagate/billing-service/internal/domain"
	"github.com/wagate/billing-service/internal/service"
	"github.com/wagate/billing-service/pkg/logger"
)

// BillingHandler обработчик операций покупки и управления подпиской
type BillingHandler struct {
	ledger        service.LedgerService
	subscriptions service.SubscriptionService
	log           *logger.Logger
}

// NewBillingHandler создает новый обработчик биллинга
func NewBillingHandler(ledger service.LedgerService, subscriptions service.SubscriptionService, log *logger.Logger) *BillingHandler {
	return &BillingHandler{
		ledger:        ledger,
		subscriptions: subscriptions,
		log:           log,
	}
}

// Subscribe открывает транзакцию первой покупки пакета
func (h *BillingHandler) Subscribe(c *gin.Context) {
	h.openTransaction(c, domain.TransactionKindPurchase)
}

// Renew открывает транзакцию продления подписки
func (h *BillingHandler) Renew(c *gin.Context) {
	h.openTransaction(c, domain.TransactionKindRenewal)
}

// Upgrade открывает транзакцию доплаты за переход на более дорогой пакет
func (h *BillingHandler) Upgrade(c *gin.Context) {
	h.openTransaction(c, domain.TransactionKindUpgrade)
}

// openTransaction общий путь открытия транзакции
func (h *BillingHandler) openTransaction(c *gin.Context, kind domain.TransactionKind) {
	userID, ok := userIDFrom(c)
	if !ok {
		return
	}

	var req domain.OpenTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	tr, err := h.ledger.Open(c.Request.Context(), userID, kind, req)
	if err != nil {
		h.log.Error("Failed to open %s transaction for user %s: %v", kind, userID, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, tr)
}

// Downgrade запоминает понижение пакета, применяемое при следующем продлении
func (h *BillingHandler) Downgrade(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		return
	}

	var req struct {
		PackageID uuid.UUID `json:"package_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	sub, err := h.subscriptions.ScheduleDowngrade(c.Request.Context(), userID, req.PackageID)
	if err != nil {
		h.log.Error("Failed to schedule downgrade for user %s: %v", userID, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

// CancelSubscription отменяет текущую подписку пользователя
func (h *BillingHandler) CancelSubscription(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	// Причина опциональна, пустое тело допустимо
	_ = c.ShouldBindJSON(&req)

	sub, err := h.subscriptions.Cancel(c.Request.Context(), userID, req.Reason)
	if err != nil {
		h.log.Error("Failed to cancel subscription for user %s: %v", userID, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

// GetSubscription возвращает текущую подписку пользователя
func (h *BillingHandler) GetSubscription(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		return
	}

	sub, err := h.subscriptions.GetCurrent(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

// GetTransactions возвращает транзакции пользователя
func (h *BillingHandler) GetTransactions(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	transactions, err := h.ledger.ListByUserID(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.log.Error("Failed to list transactions for user %s: %v", userID, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, transactions)
}

// GetTransaction возвращает транзакцию пользователя по ID
func (h *BillingHandler) GetTransaction(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		return
	}

	transactionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transaction ID format"})
		return
	}

	tr, err := h.ledger.GetByID(c.Request.Context(), userID, transactionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, tr)
}

// CancelTransaction отменяет незавершенную транзакцию
func (h *BillingHandler) CancelTransaction(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		return
	}

	transactionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transaction ID format"})
		return
	}

	tr, err := h.ledger.Cancel(c.Request.Context(), userID, transactionID)
	if err != nil {
		h.log.Error("Failed to cancel transaction %s: %v", transactionID, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, tr)
}

// RefundTransaction возвращает оплаченную транзакцию
func (h *BillingHandler) RefundTransaction(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		return
	}

	transactionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transaction ID format"})
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	tr, err := h.ledger.Refund(c.Request.Context(), userID, transactionID, req.Reason)
	if err != nil {
		h.log.Error("Failed to refund transaction %s: %v", transactionID, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, tr)
}
