package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/uuid"
	"github.com/wagate/billing-service/internal/domain"
	"github.com/wagate/billing-service/pkg/logger"
)

// SubscriptionRepository интерфейс репозитория подписок
type SubscriptionRepository interface {
	// Create создает новую подписку
	Create(ctx context.Context, sub domain.Subscription) (domain.Subscription, error)

	// Update обновляет существующую подписку
	Update(ctx context.Context, sub domain.Subscription) error

	// GetByID возвращает подписку по ID
	GetByID(ctx context.Context, id uuid.UUID) (domain.Subscription, error)

	// GetByTransactionID возвращает подписку, привязанную к транзакции
	GetByTransactionID(ctx context.Context, transactionID uuid.UUID) (domain.Subscription, error)

	// GetCurrentByUserID возвращает текущую подписку пользователя
	// (в статусе pending, active или grace)
	GetCurrentByUserID(ctx context.Context, userID uuid.UUID) (domain.Subscription, error)

	// GetLatestByUserID возвращает последнюю по времени создания подписку
	// пользователя в любом статусе
	GetLatestByUserID(ctx context.Context, userID uuid.UUID) (domain.Subscription, error)

	// ListByStatus возвращает подписки в указанном статусе
	ListByStatus(ctx context.Context, status domain.SubscriptionStatus) ([]domain.Subscription, error)
}

// InMemorySubscriptionRepository реализация репозитория подписок в памяти
type InMemorySubscriptionRepository struct {
	subscriptions map[uuid.UUID]domain.Subscription
	mutex         sync.RWMutex
	log           *logger.Logger
}

// NewInMemorySubscriptionRepository создает новый репозиторий подписок в памяти
func NewInMemorySubscriptionRepository(log *logger.Logger) *InMemorySubscriptionRepository {
	return &InMemorySubscriptionRepository{
		subscriptions: make(map[uuid.UUID]domain.Subscription),
		log:           log,
	}
}

// Create создает новую подписку
func (r *InMemorySubscriptionRepository) Create(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Не более одной текущей подписки на пользователя
	for _, existing := range r.subscriptions {
		if existing.UserID == sub.UserID && existing.IsCurrent() && sub.IsCurrent() {
			return domain.Subscription{}, ErrDuplicate
		}
	}

	sub.CreatedAt = time.Now()
	sub.UpdatedAt = time.Now()

	r.subscriptions[sub.ID] = sub

	return sub, nil
}

// Update обновляет существующую подписку
func (r *InMemorySubscriptionRepository) Update(ctx context.Context, sub domain.Subscription) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.subscriptions[sub.ID]; !exists {
		return ErrNotFound
	}

	sub.UpdatedAt = time.Now()
	r.subscriptions[sub.ID] = sub

	return nil
}

// GetByID возвращает подписку по ID
func (r *InMemorySubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	sub, exists := r.subscriptions[id]
	if !exists {
		return domain.Subscription{}, ErrNotFound
	}

	return sub, nil
}

// GetByTransactionID возвращает подписку, привязанную к транзакции
func (r *InMemorySubscriptionRepository) GetByTransactionID(ctx context.Context, transactionID uuid.UUID) (domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, sub := range r.subscriptions {
		if sub.TransactionID == transactionID {
			return sub, nil
		}
	}

	return domain.Subscription{}, ErrNotFound
}

// GetCurrentByUserID возвращает текущую подписку пользователя
func (r *InMemorySubscriptionRepository) GetCurrentByUserID(ctx context.Context, userID uuid.UUID) (domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, sub := range r.subscriptions {
		if sub.UserID == userID && sub.IsCurrent() {
			return sub, nil
		}
	}

	return domain.Subscription{}, ErrNotFound
}

// GetLatestByUserID возвращает последнюю подписку пользователя
func (r *InMemorySubscriptionRepository) GetLatestByUserID(ctx context.Context, userID uuid.UUID) (domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var latest *domain.Subscription
	for _, sub := range r.subscriptions {
		if sub.UserID != userID {
			continue
		}
		if latest == nil || sub.CreatedAt.After(latest.CreatedAt) {
			copySub := sub
			latest = &copySub
		}
	}

	if latest == nil {
		return domain.Subscription{}, ErrNotFound
	}

	return *latest, nil
}

// ListByStatus возвращает подписки в указанном статусе
func (r *InMemorySubscriptionRepository) ListByStatus(ctx context.Context, status domain.SubscriptionStatus) ([]domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var subscriptions []domain.Subscription
	for _, sub := range r.subscriptions {
		if sub.Status == status {
			subscriptions = append(subscriptions, sub)
		}
	}

	sort.Slice(subscriptions, func(i, j int) bool {
		return subscriptions[i].CreatedAt.Before(subscriptions[j].CreatedAt)
	})

	return subscriptions, nil
}

// PostgresSubscriptionRepository реализация репозитория подписок через
// PostgreSQL. Единственность текущей подписки пользователя обеспечивает
// частичный уникальный индекс:
//
//	CREATE UNIQUE INDEX subscriptions_one_current_per_user
//	ON subscriptions (user_id)
//	WHERE status IN ('pending', 'active', 'grace');
type PostgresSubscriptionRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewPostgresSubscriptionRepository создает новый репозиторий подписок через PostgreSQL
func NewPostgresSubscriptionRepository(db *pgxpool.Pool, log *logger.Logger) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{
		db:  db,
		log: log,
	}
}

const subscriptionColumns = `
	id, user_id, package_id, transaction_id, status,
	starts_at, ends_at, grace_days, grace_deadline,
	cancel_reason, cancelled_at, metadata, created_at, updated_at
`

// scanSubscription разбирает одну строку результата в доменную модель
func scanSubscription(row pgx.Row) (domain.Subscription, error) {
	var sub domain.Subscription
	var metadataBytes []byte

	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.PackageID,
		&sub.TransactionID,
		&sub.Status,
		&sub.StartsAt,
		&sub.EndsAt,
		&sub.GraceDays,
		&sub.GraceDeadline,
		&sub.CancelReason,
		&sub.CancelledAt,
		&metadataBytes,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return domain.Subscription{}, err
	}

	if len(metadataBytes) > 0 {
		if err := json.Unmarshal(metadataBytes, &sub.Metadata); err != nil {
			return domain.Subscription{}, fmt.Errorf("failed to unmarshal subscription metadata: %w", err)
		}
	}

	return sub, nil
}

// Create создает новую подписку в базе данных
func (r *PostgresSubscriptionRepository) Create(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	query := `
		INSERT INTO subscriptions (
			id, user_id, package_id, transaction_id, status,
			starts_at, ends_at, grace_days, grace_deadline,
			cancel_reason, cancelled_at, metadata, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
		RETURNING created_at, updated_at
	`

	metadataBytes, err := marshalMetadata(sub.Metadata)
	if err != nil {
		return domain.Subscription{}, err
	}

	now := time.Now()
	err = r.db.QueryRow(
		ctx,
		query,
		sub.ID,
		sub.UserID,
		sub.PackageID,
		sub.TransactionID,
		sub.Status,
		sub.StartsAt,
		sub.EndsAt,
		sub.GraceDays,
		sub.GraceDeadline,
		sub.CancelReason,
		sub.CancelledAt,
		metadataBytes,
		now,
		now,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			// Нарушение частичного уникального индекса по user_id для
			// статусов pending/active/grace: вторая текущая подписка
			if pgErr.Code == "23505" {
				return domain.Subscription{}, ErrDuplicate
			}
		}
		return domain.Subscription{}, fmt.Errorf("failed to create subscription: %w", err)
	}

	return sub, nil
}

// Update обновляет существующую подписку в базе данных
func (r *PostgresSubscriptionRepository) Update(ctx context.Context, sub domain.Subscription) error {
	query := `
		UPDATE subscriptions
		SET package_id = $2, transaction_id = $3, status = $4,
			starts_at = $5, ends_at = $6, grace_days = $7, grace_deadline = $8,
			cancel_reason = $9, cancelled_at = $10, metadata = $11, updated_at = $12
		WHERE id = $1
	`

	metadataBytes, err := marshalMetadata(sub.Metadata)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(
		ctx,
		query,
		sub.ID,
		sub.PackageID,
		sub.TransactionID,
		sub.Status,
		sub.StartsAt,
		sub.EndsAt,
		sub.GraceDays,
		sub.GraceDeadline,
		sub.CancelReason,
		sub.CancelledAt,
		metadataBytes,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// GetByID возвращает подписку по ID из базы данных
func (r *PostgresSubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Subscription{}, ErrNotFound
		}
		return domain.Subscription{}, fmt.Errorf("failed to get subscription: %w", err)
	}

	return sub, nil
}

// GetByTransactionID возвращает подписку по ID транзакции из базы данных
func (r *PostgresSubscriptionRepository) GetByTransactionID(ctx context.Context, transactionID uuid.UUID) (domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE transaction_id = $1`

	sub, err := scanSubscription(r.db.QueryRow(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Subscription{}, ErrNotFound
		}
		return domain.Subscription{}, fmt.Errorf("failed to get subscription by transaction: %w", err)
	}

	return sub, nil
}

// GetCurrentByUserID возвращает текущую подписку пользователя из базы данных
func (r *PostgresSubscriptionRepository) GetCurrentByUserID(ctx context.Context, userID uuid.UUID) (domain.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1 AND status = ANY($2)
		ORDER BY created_at DESC
		LIMIT 1
	`

	current := []string{
		string(domain.SubscriptionStatusPending),
		string(domain.SubscriptionStatusActive),
		string(domain.SubscriptionStatusGrace),
	}

	sub, err := scanSubscription(r.db.QueryRow(ctx, query, userID, current))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Subscription{}, ErrNotFound
		}
		return domain.Subscription{}, fmt.Errorf("failed to get current subscription: %w", err)
	}

	return sub, nil
}

// GetLatestByUserID возвращает последнюю подписку пользователя из базы данных
func (r *PostgresSubscriptionRepository) GetLatestByUserID(ctx context.Context, userID uuid.UUID) (domain.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	sub, err := scanSubscription(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Subscription{}, ErrNotFound
		}
		return domain.Subscription{}, fmt.Errorf("failed to get latest subscription: %w", err)
	}

	return sub, nil
}

// ListByStatus возвращает подписки в указанном статусе из базы данных
func (r *PostgresSubscriptionRepository) ListByStatus(ctx context.Context, status domain.SubscriptionStatus) ([]domain.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = $1
		ORDER BY created_at
	`

	rows, err := r.db.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var subscriptions []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subscriptions = append(subscriptions, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscriptions: %w", err)
	}

	return subscriptions, nil
}

// marshalMetadata сериализует метаданные подписки в JSON
func marshalMetadata(metadata map[string]string) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}

	metadataBytes, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	return metadataBytes, nil
}
