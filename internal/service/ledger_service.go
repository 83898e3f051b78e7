package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wagate/billing-service/internal/domain"
	"github.com/wagate/billing-service/internal/gateway"
	"github.com/wagate/billing-service/internal/repository"
	"github.com/wagate/billing-service/pkg/logger"
)

// GatewayClient интерфейс клиента платежного шлюза
type GatewayClient interface {
	// CreateRemoteTransaction создает платежную сессию на стороне шлюза
	CreateRemoteTransaction(ctx context.Context, tr domain.Transaction, pkg domain.Package) (gateway.CreateTransactionResponse, error)

	// CheckRemoteStatus запрашивает текущий статус платежа
	CheckRemoteStatus(ctx context.Context, orderID string) (gateway.StatusResponse, error)

	// CancelRemote отменяет платеж на стороне шлюза
	CancelRemote(ctx context.Context, orderID string) error

	// RefundRemote возвращает платеж на стороне шлюза
	RefundRemote(ctx context.Context, orderID string, amount int64, reason string) error

	// VerifyNotification проверяет подпись уведомления
	VerifyNotification(n gateway.Notification) error
}

// EventPublisher интерфейс публикации событий биллинга
type EventPublisher interface {
	PublishBillingEvent(ctx context.Context, event domain.BillingEvent) error
}

// LedgerService интерфейс журнала транзакций.
// Статусы транзакций движутся только по допустимому графу переходов,
// любое другое изменение отвергается.
type LedgerService interface {
	// Open открывает транзакцию на покупку/продление/смену пакета
	// и создает платежную сессию на стороне шлюза
	Open(ctx context.Context, userID uuid.UUID, kind domain.TransactionKind, req domain.OpenTransactionRequest) (domain.Transaction, error)

	// ApplyGatewayStatus применяет статус шлюза к транзакции.
	// Идемпотентна: повторные и недопустимые переходы дают тихий no-op,
	// возвращающий текущее состояние.
	ApplyGatewayStatus(ctx context.Context, orderID, externalStatus, fraudStatus, paymentType string, rawPayload json.RawMessage) (domain.Transaction, error)

	// MarkStaleExpired переводит зависшие pending-транзакции старше olderThan в expired
	MarkStaleExpired(ctx context.Context, olderThan time.Time) (int64, error)

	// Cancel отменяет транзакцию: сначала на шлюзе, затем локально
	Cancel(ctx context.Context, userID, transactionID uuid.UUID) (domain.Transaction, error)

	// Refund возвращает оплаченную транзакцию: сначала на шлюзе, затем локально
	Refund(ctx context.Context, userID, transactionID uuid.UUID, reason string) (domain.Transaction, error)

	// SyncRemoteStatus сверяет локальную транзакцию с состоянием шлюза
	SyncRemoteStatus(ctx context.Context, orderID string) (domain.Transaction, error)

	// GetByID возвращает транзакцию пользователя по ID
	GetByID(ctx context.Context, userID, transactionID uuid.UUID) (domain.Transaction, error)

	// Lookup возвращает транзакцию по ID без проверки владельца, для сверок
	Lookup(ctx context.Context, transactionID uuid.UUID) (domain.Transaction, error)

	// ListByUserID возвращает транзакции пользователя
	ListByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Transaction, error)

	// ListByStatus возвращает транзакции в указанном статусе, для сверок
	ListByStatus(ctx context.Context, status domain.TransactionStatus) ([]domain.Transaction, error)
}

// ledgerService реализация журнала транзакций
type ledgerService struct {
	transactions  repository.TransactionRepository
	packages      repository.PackageRepository
	subscriptions SubscriptionService
	gateway       GatewayClient
	events        EventPublisher
	log           *logger.Logger
	now           func() time.Time
}

// NewLedgerService создает новый журнал транзакций.
// now подменяет источник времени, nil означает time.Now.
func NewLedgerService(
	transactions repository.TransactionRepository,
	packages repository.PackageRepository,
	subscriptions SubscriptionService,
	gatewayClient GatewayClient,
	events EventPublisher,
	log *logger.Logger,
	now func() time.Time,
) LedgerService {
	if now == nil {
		now = time.Now
	}
	return &ledgerService{
		transactions:  transactions,
		packages:      packages,
		subscriptions: subscriptions,
		gateway:       gatewayClient,
		events:        events,
		log:           log,
		now:           now,
	}
}

// Open открывает транзакцию и создает платежную сессию на стороне шлюза
func (s *ledgerService) Open(ctx context.Context, userID uuid.UUID, kind domain.TransactionKind, req domain.OpenTransactionRequest) (domain.Transaction, error) {
	periods := req.Periods
	if periods < 1 {
		periods = 1
	}

	var (
		pkg    domain.Package
		amount int64
		err    error
	)

	switch kind {
	case domain.TransactionKindRenewal:
		// Продление оплачивается по текущему пакету подписки
		// (или по запланированному понижению), а не по пакету из запроса
		pkg, err = s.subscriptions.RenewalPackage(ctx, userID)
		if err != nil {
			return domain.Transaction{}, err
		}
		amount = pkg.Price * int64(periods)

	case domain.TransactionKindUpgrade:
		// Для смены пакета сумма равна прорейтовой разнице, а не полной цене
		pkg, err = s.loadActivePackage(ctx, req.PackageID)
		if err != nil {
			return domain.Transaction{}, err
		}
		current, err := s.subscriptions.GetCurrent(ctx, userID)
		if err != nil {
			return domain.Transaction{}, err
		}
		amount, err = s.subscriptions.ProrationDelta(ctx, current, pkg)
		if err != nil {
			return domain.Transaction{}, err
		}
		periods = 0

	default:
		pkg, err = s.loadActivePackage(ctx, req.PackageID)
		if err != nil {
			return domain.Transaction{}, err
		}
		amount = pkg.Price * int64(periods)
	}

	amount -= req.Discount

	if amount <= 0 {
		var verr domain.ValidationErrors
		verr.Add("amount", "computed amount must be positive")
		return domain.Transaction{}, verr
	}

	tr := domain.Transaction{
		ID:        uuid.New(),
		UserID:    userID,
		PackageID: pkg.ID,
		Kind:      kind,
		Amount:    amount,
		Currency:  pkg.Currency,
		Periods:   periods,
		OrderID:   "WGB-" + uuid.NewString(),
		Status:    domain.TransactionStatusPending,
	}

	tr, err = s.transactions.Create(ctx, tr)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("failed to create transaction: %w", err)
	}

	resp, err := s.gateway.CreateRemoteTransaction(ctx, tr, pkg)
	if err != nil {
		// Локальная запись остается в pending: часовая сверка снимет ее
		// по сроку давности, если шлюз так и не ответит
		s.log.Errorw("Failed to create remote transaction", "order_id", tr.OrderID, "error", err)
		return domain.Transaction{}, err
	}

	tr.PaymentToken = resp.Token
	tr.RedirectURL = resp.RedirectURL
	if err := s.transactions.Update(ctx, tr); err != nil {
		return domain.Transaction{}, fmt.Errorf("failed to store payment token: %w", err)
	}

	// Первая покупка сразу резервирует "слот" подписки пользователя
	if kind == domain.TransactionKindPurchase {
		if err := s.subscriptions.OpenPending(ctx, tr); err != nil {
			return domain.Transaction{}, err
		}
	}

	s.log.Infow("Opened transaction",
		"order_id", tr.OrderID, "user_id", userID, "kind", kind, "amount", amount)

	return tr, nil
}

// loadActivePackage возвращает пакет, доступный для покупки
func (s *ledgerService) loadActivePackage(ctx context.Context, packageID uuid.UUID) (domain.Package, error) {
	pkg, err := s.packages.GetByID(ctx, packageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Package{}, fmt.Errorf("%w: package %s", domain.ErrInvalidPackage, packageID)
		}
		return domain.Package{}, fmt.Errorf("failed to load package: %w", err)
	}

	if !pkg.Active {
		return domain.Package{}, fmt.Errorf("%w: package %s is not active", domain.ErrInvalidPackage, packageID)
	}

	return pkg, nil
}

// ApplyGatewayStatus применяет статус шлюза к транзакции
func (s *ledgerService) ApplyGatewayStatus(ctx context.Context, orderID, externalStatus, fraudStatus, paymentType string, rawPayload json.RawMessage) (domain.Transaction, error) {
	target, known := gateway.MapStatus(externalStatus, fraudStatus)
	if !known {
		s.log.Warnw("Unknown gateway status, ignoring",
			"order_id", orderID, "transaction_status", externalStatus, "fraud_status", fraudStatus)
		return s.getByOrderID(ctx, orderID)
	}

	var becamePaid bool

	tr, err := s.transactions.UpdateWithLock(ctx, orderID, func(tr *domain.Transaction) error {
		// Последний payload шлюза сохраняется для аудита независимо от перехода
		if len(rawPayload) > 0 {
			tr.RawPayload = rawPayload
		}
		if paymentType != "" {
			tr.PaymentMethod = paymentType
		}

		if tr.Status == target {
			return nil
		}

		if !tr.Status.CanTransitionTo(target) {
			// Шлюзы переотправляют уведомления: запоздавший или
			// дублирующий статус игнорируется без ошибки
			s.log.Debugw("Ignoring illegal status transition",
				"order_id", orderID, "from", tr.Status, "to", target)
			return nil
		}

		now := s.now()
		tr.Status = target

		switch target {
		case domain.TransactionStatusPaid:
			tr.PaidAt = &now
			becamePaid = true
		case domain.TransactionStatusFailed:
			tr.FailedAt = &now
			tr.FailureReason = externalStatus
		case domain.TransactionStatusExpired:
			tr.ExpiredAt = &now
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Transaction{}, domain.NewNotFoundError("transaction", orderID)
		}
		return domain.Transaction{}, fmt.Errorf("failed to apply gateway status: %w", err)
	}

	if becamePaid {
		s.log.Infow("Transaction paid", "order_id", orderID, "user_id", tr.UserID, "amount", tr.Amount)
		s.publish(ctx, domain.BillingEvent{
			Type:      domain.EventTransactionPaid,
			UserID:    tr.UserID,
			PackageID: tr.PackageID,
			OrderID:   tr.OrderID,
		})

		// Явный проверяемый вызов активации. Если он не удался,
		// часовая сверка найдет оплаченную транзакцию с незапущенной
		// подпиской и повторит активацию.
		if err := s.subscriptions.ActivateForTransaction(ctx, tr); err != nil {
			s.log.Errorw("Failed to activate subscription for paid transaction",
				"order_id", orderID, "error", err)
		}
	}

	return tr, nil
}

// MarkStaleExpired переводит зависшие pending-транзакции в expired
func (s *ledgerService) MarkStaleExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	count, err := s.transactions.MarkStaleExpired(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale transactions: %w", err)
	}

	if count > 0 {
		s.log.Infow("Expired stale pending transactions", "count", count, "older_than", olderThan)
	}

	return count, nil
}

// Cancel отменяет транзакцию: сначала на шлюзе, затем локально
func (s *ledgerService) Cancel(ctx context.Context, userID, transactionID uuid.UUID) (domain.Transaction, error) {
	tr, err := s.GetByID(ctx, userID, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}

	if tr.Status != domain.TransactionStatusPending && tr.Status != domain.TransactionStatusProcessing {
		return domain.Transaction{}, fmt.Errorf("%w: cannot cancel transaction in status %s", domain.ErrInvalidOperation, tr.Status)
	}

	// Локальное состояние меняется только после успеха удаленного вызова
	if err := s.gateway.CancelRemote(ctx, tr.OrderID); err != nil {
		return domain.Transaction{}, err
	}

	return s.transactions.UpdateWithLock(ctx, tr.OrderID, func(tr *domain.Transaction) error {
		if !tr.Status.CanTransitionTo(domain.TransactionStatusCancelled) {
			return fmt.Errorf("%w: %s -> cancelled", domain.ErrIllegalTransition, tr.Status)
		}
		tr.Status = domain.TransactionStatusCancelled
		return nil
	})
}

// Refund возвращает оплаченную транзакцию: сначала на шлюзе, затем локально
func (s *ledgerService) Refund(ctx context.Context, userID, transactionID uuid.UUID, reason string) (domain.Transaction, error) {
	tr, err := s.GetByID(ctx, userID, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}

	if tr.Status != domain.TransactionStatusPaid {
		return domain.Transaction{}, fmt.Errorf("%w: cannot refund transaction in status %s", domain.ErrInvalidOperation, tr.Status)
	}

	// Локальное состояние меняется только после успеха удаленного вызова
	if err := s.gateway.RefundRemote(ctx, tr.OrderID, tr.Amount, reason); err != nil {
		return domain.Transaction{}, err
	}

	refunded, err := s.transactions.UpdateWithLock(ctx, tr.OrderID, func(tr *domain.Transaction) error {
		if !tr.Status.CanTransitionTo(domain.TransactionStatusRefunded) {
			return fmt.Errorf("%w: %s -> refunded", domain.ErrIllegalTransition, tr.Status)
		}
		tr.Status = domain.TransactionStatusRefunded
		tr.FailureReason = reason
		return nil
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	s.publish(ctx, domain.BillingEvent{
		Type:    domain.EventTransactionRefunded,
		UserID:  refunded.UserID,
		OrderID: refunded.OrderID,
	})

	return refunded, nil
}

// SyncRemoteStatus сверяет локальную транзакцию с состоянием шлюза
func (s *ledgerService) SyncRemoteStatus(ctx context.Context, orderID string) (domain.Transaction, error) {
	resp, err := s.gateway.CheckRemoteStatus(ctx, orderID)
	if err != nil {
		return domain.Transaction{}, err
	}

	raw, _ := json.Marshal(resp)
	return s.ApplyGatewayStatus(ctx, orderID, resp.TransactionStatus, resp.FraudStatus, resp.PaymentType, raw)
}

// GetByID возвращает транзакцию пользователя по ID
func (s *ledgerService) GetByID(ctx context.Context, userID, transactionID uuid.UUID) (domain.Transaction, error) {
	tr, err := s.transactions.GetByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Transaction{}, domain.NewNotFoundError("transaction", transactionID.String())
		}
		return domain.Transaction{}, fmt.Errorf("failed to get transaction: %w", err)
	}

	// Чужие транзакции не раскрываются
	if tr.UserID != userID {
		return domain.Transaction{}, domain.NewNotFoundError("transaction", transactionID.String())
	}

	return tr, nil
}

// Lookup возвращает транзакцию по ID без проверки владельца
func (s *ledgerService) Lookup(ctx context.Context, transactionID uuid.UUID) (domain.Transaction, error) {
	tr, err := s.transactions.GetByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Transaction{}, domain.NewNotFoundError("transaction", transactionID.String())
		}
		return domain.Transaction{}, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tr, nil
}

// ListByUserID возвращает транзакции пользователя
func (s *ledgerService) ListByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	return s.transactions.ListByUserID(ctx, userID, limit, offset)
}

// ListByStatus возвращает транзакции в указанном статусе
func (s *ledgerService) ListByStatus(ctx context.Context, status domain.TransactionStatus) ([]domain.Transaction, error) {
	return s.transactions.ListByStatus(ctx, status)
}

// getByOrderID возвращает транзакцию по корреляционному ID
func (s *ledgerService) getByOrderID(ctx context.Context, orderID string) (domain.Transaction, error) {
	tr, err := s.transactions.GetByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Transaction{}, domain.NewNotFoundError("transaction", orderID)
		}
		return domain.Transaction{}, fmt.Errorf("failed to get transaction by order id: %w", err)
	}
	return tr, nil
}

// publish отправляет событие биллинга, сбой публикации не прерывает операцию
func (s *ledgerService) publish(ctx context.Context, event domain.BillingEvent) {
	if s.events == nil {
		return
	}
	event.OccurredAt = s.now()
	if err := s.events.PublishBillingEvent(ctx, event); err != nil {
		s.log.Errorw("Failed to publish billing event", "type", event.Type, "error", err)
	}
}
