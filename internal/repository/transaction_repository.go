package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/uuid"
	"github.com/wagate/billing-service/internal/domain"
	"github.com/wagate/billing-service/pkg/logger"
)

// TransactionRepository интерфейс репозитория транзакций
type TransactionRepository interface {
	// Create создает новую транзакцию
	Create(ctx context.Context, tr domain.Transaction) (domain.Transaction, error)

	// Update обновляет существующую транзакцию
	Update(ctx context.Context, tr domain.Transaction) error

	// GetByID возвращает транзакцию по ID
	GetByID(ctx context.Context, id uuid.UUID) (domain.Transaction, error)

	// GetByOrderID возвращает транзакцию по корреляционному ID шлюза
	GetByOrderID(ctx context.Context, orderID string) (domain.Transaction, error)

	// ListByUserID возвращает транзакции пользователя
	ListByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Transaction, error)

	// ListByStatus возвращает транзакции в указанном статусе
	ListByStatus(ctx context.Context, status domain.TransactionStatus) ([]domain.Transaction, error)

	// UpdateWithLock читает транзакцию по orderID с блокировкой строки,
	// применяет fn и записывает результат в одной транзакции БД.
	// Конкурентные доставки одного уведомления сериализуются здесь.
	UpdateWithLock(ctx context.Context, orderID string, fn func(tr *domain.Transaction) error) (domain.Transaction, error)

	// MarkStaleExpired переводит зависшие pending-транзакции старше olderThan
	// в expired, возвращает количество обновленных строк
	MarkStaleExpired(ctx context.Context, olderThan time.Time) (int64, error)
}

// InMemoryTransactionRepository реализация репозитория транзакций в памяти
type InMemoryTransactionRepository struct {
	transactions map[uuid.UUID]domain.Transaction
	byOrderID    map[string]uuid.UUID
	mutex        sync.RWMutex
	log          *logger.Logger
}

// NewInMemoryTransactionRepository создает новый репозиторий транзакций в памяти
func NewInMemoryTransactionRepository(log *logger.Logger) *InMemoryTransactionRepository {
	return &InMemoryTransactionRepository{
		transactions: make(map[uuid.UUID]domain.Transaction),
		byOrderID:    make(map[string]uuid.UUID),
		log:          log,
	}
}

// Create создает новую транзакцию
func (r *InMemoryTransactionRepository) Create(ctx context.Context, tr domain.Transaction) (domain.Transaction, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.byOrderID[tr.OrderID]; exists {
		return domain.Transaction{}, ErrDuplicate
	}

	tr.CreatedAt = time.Now()
	tr.UpdatedAt = time.Now()

	r.transactions[tr.ID] = tr
	r.byOrderID[tr.OrderID] = tr.ID

	return tr, nil
}

// Update обновляет существующую транзакцию
func (r *InMemoryTransactionRepository) Update(ctx context.Context, tr domain.Transaction) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.transactions[tr.ID]; !exists {
		return ErrNotFound
	}

	tr.UpdatedAt = time.Now()
	r.transactions[tr.ID] = tr

	return nil
}

// GetByID возвращает транзакцию по ID
func (r *InMemoryTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	tr, exists := r.transactions[id]
	if !exists {
		return domain.Transaction{}, ErrNotFound
	}

	return tr, nil
}

// GetByOrderID возвращает транзакцию по корреляционному ID
func (r *InMemoryTransactionRepository) GetByOrderID(ctx context.Context, orderID string) (domain.Transaction, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	id, exists := r.byOrderID[orderID]
	if !exists {
		return domain.Transaction{}, ErrNotFound
	}

	return r.transactions[id], nil
}

// ListByUserID возвращает транзакции пользователя
func (r *InMemoryTransactionRepository) ListByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var transactions []domain.Transaction
	for _, tr := range r.transactions {
		if tr.UserID == userID {
			transactions = append(transactions, tr)
		}
	}

	// Сортируем по времени создания (новые в начале)
	sort.Slice(transactions, func(i, j int) bool {
		return transactions[i].CreatedAt.After(transactions[j].CreatedAt)
	})

	// Применяем пагинацию
	if offset >= len(transactions) {
		return []domain.Transaction{}, nil
	}

	end := offset + limit
	if limit <= 0 || end > len(transactions) {
		end = len(transactions)
	}

	return transactions[offset:end], nil
}

// ListByStatus возвращает транзакции в указанном статусе
func (r *InMemoryTransactionRepository) ListByStatus(ctx context.Context, status domain.TransactionStatus) ([]domain.Transaction, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var transactions []domain.Transaction
	for _, tr := range r.transactions {
		if tr.Status == status {
			transactions = append(transactions, tr)
		}
	}

	sort.Slice(transactions, func(i, j int) bool {
		return transactions[i].CreatedAt.Before(transactions[j].CreatedAt)
	})

	return transactions, nil
}

// UpdateWithLock применяет fn к транзакции под глобальным мьютексом
func (r *InMemoryTransactionRepository) UpdateWithLock(ctx context.Context, orderID string, fn func(tr *domain.Transaction) error) (domain.Transaction, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	id, exists := r.byOrderID[orderID]
	if !exists {
		return domain.Transaction{}, ErrNotFound
	}

	tr := r.transactions[id]
	if err := fn(&tr); err != nil {
		return domain.Transaction{}, err
	}

	tr.UpdatedAt = time.Now()
	r.transactions[id] = tr

	return tr, nil
}

// MarkStaleExpired переводит зависшие pending-транзакции в expired
func (r *InMemoryTransactionRepository) MarkStaleExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var updated int64
	now := time.Now()
	for id, tr := range r.transactions {
		if tr.Status == domain.TransactionStatusPending && tr.CreatedAt.Before(olderThan) {
			tr.Status = domain.TransactionStatusExpired
			expiredAt := now
			tr.ExpiredAt = &expiredAt
			tr.UpdatedAt = now
			r.transactions[id] = tr
			updated++
		}
	}

	return updated, nil
}

// PostgresTransactionRepository реализация репозитория транзакций через PostgreSQL
type PostgresTransactionRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewPostgresTransactionRepository создает новый репозиторий транзакций через PostgreSQL
func NewPostgresTransactionRepository(db *pgxpool.Pool, log *logger.Logger) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{
		db:  db,
		log: log,
	}
}

const transactionColumns = `
	id, user_id, package_id, kind, amount, currency, periods,
	order_id, payment_token, redirect_url, status, failure_reason,
	payment_method, raw_payload, paid_at, failed_at, expired_at,
	created_at, updated_at
`

// scanTransaction разбирает одну строку результата в доменную модель
func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var tr domain.Transaction

	err := row.Scan(
		&tr.ID,
		&tr.UserID,
		&tr.PackageID,
		&tr.Kind,
		&tr.Amount,
		&tr.Currency,
		&tr.Periods,
		&tr.OrderID,
		&tr.PaymentToken,
		&tr.RedirectURL,
		&tr.Status,
		&tr.FailureReason,
		&tr.PaymentMethod,
		&tr.RawPayload,
		&tr.PaidAt,
		&tr.FailedAt,
		&tr.ExpiredAt,
		&tr.CreatedAt,
		&tr.UpdatedAt,
	)
	if err != nil {
		return domain.Transaction{}, err
	}

	return tr, nil
}

// Create создает новую транзакцию в базе данных
func (r *PostgresTransactionRepository) Create(ctx context.Context, tr domain.Transaction) (domain.Transaction, error) {
	query := `
		INSERT INTO transactions (
			id, user_id, package_id, kind, amount, currency, periods,
			order_id, payment_token, redirect_url, status, failure_reason,
			payment_method, raw_payload, paid_at, failed_at, expired_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19
		)
		RETURNING created_at, updated_at
	`

	now := time.Now()
	err := r.db.QueryRow(
		ctx,
		query,
		tr.ID,
		tr.UserID,
		tr.PackageID,
		tr.Kind,
		tr.Amount,
		tr.Currency,
		tr.Periods,
		tr.OrderID,
		tr.PaymentToken,
		tr.RedirectURL,
		tr.Status,
		tr.FailureReason,
		tr.PaymentMethod,
		tr.RawPayload,
		tr.PaidAt,
		tr.FailedAt,
		tr.ExpiredAt,
		now,
		now,
	).Scan(&tr.CreatedAt, &tr.UpdatedAt)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("failed to create transaction: %w", err)
	}

	return tr, nil
}

const transactionUpdateQuery = `
	UPDATE transactions
	SET payment_token = $2, redirect_url = $3, status = $4,
		failure_reason = $5, payment_method = $6, raw_payload = $7,
		paid_at = $8, failed_at = $9, expired_at = $10, updated_at = $11
	WHERE id = $1
`

// Update обновляет существующую транзакцию в базе данных.
// Сумма, пакет и пользователь неизменяемы и в запрос не входят.
func (r *PostgresTransactionRepository) Update(ctx context.Context, tr domain.Transaction) error {
	tag, err := r.db.Exec(
		ctx,
		transactionUpdateQuery,
		tr.ID,
		tr.PaymentToken,
		tr.RedirectURL,
		tr.Status,
		tr.FailureReason,
		tr.PaymentMethod,
		tr.RawPayload,
		tr.PaidAt,
		tr.FailedAt,
		tr.ExpiredAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// GetByID возвращает транзакцию по ID из базы данных
func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	tr, err := scanTransaction(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, ErrNotFound
		}
		return domain.Transaction{}, fmt.Errorf("failed to get transaction: %w", err)
	}

	return tr, nil
}

// GetByOrderID возвращает транзакцию по корреляционному ID из базы данных
func (r *PostgresTransactionRepository) GetByOrderID(ctx context.Context, orderID string) (domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE order_id = $1`

	tr, err := scanTransaction(r.db.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, ErrNotFound
		}
		return domain.Transaction{}, fmt.Errorf("failed to get transaction by order id: %w", err)
	}

	return tr, nil
}

// ListByUserID возвращает транзакции пользователя из базы данных
func (r *PostgresTransactionRepository) ListByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	return r.queryTransactions(ctx, query, userID, limit, offset)
}

// ListByStatus возвращает транзакции в указанном статусе из базы данных
func (r *PostgresTransactionRepository) ListByStatus(ctx context.Context, status domain.TransactionStatus) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = $1
		ORDER BY created_at
	`

	return r.queryTransactions(ctx, query, status)
}

func (r *PostgresTransactionRepository) queryTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		tr, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, tr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

// UpdateWithLock читает строку с SELECT ... FOR UPDATE, применяет fn
// и записывает результат в одной транзакции БД
func (r *PostgresTransactionRepository) UpdateWithLock(ctx context.Context, orderID string, fn func(tr *domain.Transaction) error) (domain.Transaction, error) {
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback(ctx)

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE order_id = $1 FOR UPDATE`

	tr, err := scanTransaction(dbTx.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, ErrNotFound
		}
		return domain.Transaction{}, fmt.Errorf("failed to lock transaction: %w", err)
	}

	if err := fn(&tr); err != nil {
		return domain.Transaction{}, err
	}

	_, err = dbTx.Exec(
		ctx,
		transactionUpdateQuery,
		tr.ID,
		tr.PaymentToken,
		tr.RedirectURL,
		tr.Status,
		tr.FailureReason,
		tr.PaymentMethod,
		tr.RawPayload,
		tr.PaidAt,
		tr.FailedAt,
		tr.ExpiredAt,
		time.Now(),
	)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("failed to update locked transaction: %w", err)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return domain.Transaction{}, fmt.Errorf("failed to commit transaction update: %w", err)
	}

	return tr, nil
}

// MarkStaleExpired переводит зависшие pending-транзакции в expired
func (r *PostgresTransactionRepository) MarkStaleExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		UPDATE transactions
		SET status = $1, expired_at = $2, updated_at = $2
		WHERE status = $3 AND created_at < $4
	`

	tag, err := r.db.Exec(
		ctx,
		query,
		domain.TransactionStatusExpired,
		time.Now(),
		domain.TransactionStatusPending,
		olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale transactions: %w", err)
	}

	return tag.RowsAffected(), nil
}
