package gateway

import (
	"context"
	"net/http"

	"github.com/wagate/billing-service/internal/domain"
)

// Время жизни платежной сессии на стороне шлюза
const paymentExpiryHours = 24

// TransactionDetails сумма и корреляционный ID платежа
type TransactionDetails struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
	Currency    string `json:"currency"`
}

// CustomerDetails данные плательщика
type CustomerDetails struct {
	UserID string `json:"user_id"`
}

// ItemDetails строка заказа
type ItemDetails struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

// ExpiryDetails время жизни платежной сессии
type ExpiryDetails struct {
	Unit     string `json:"unit"`
	Duration int    `json:"duration"`
}

// CallbackDetails адреса возврата пользователя и уведомлений
type CallbackDetails struct {
	Finish string `json:"finish"`
	Notify string `json:"notify,omitempty"`
}

// CreateTransactionRequest запрос на создание платежной сессии
type CreateTransactionRequest struct {
	TransactionDetails TransactionDetails `json:"transaction_details"`
	CustomerDetails    CustomerDetails    `json:"customer_details"`
	ItemDetails        []ItemDetails      `json:"item_details"`
	Expiry             ExpiryDetails      `json:"expiry"`
	Callbacks          CallbackDetails    `json:"callbacks"`
}

// CreateTransactionResponse ответ шлюза на создание платежной сессии
type CreateTransactionResponse struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

// StatusResponse ответ шлюза на запрос статуса платежа.
// Тот же словарь, что и в асинхронных уведомлениях.
type StatusResponse struct {
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	PaymentType       string `json:"payment_type"`
	TransactionTime   string `json:"transaction_time"`
	StatusMessage     string `json:"status_message"`
}

// CreateRemoteTransaction создает платежную сессию на стороне шлюза
// и возвращает токен оплаты и URL для редиректа пользователя
func (c *Client) CreateRemoteTransaction(ctx context.Context, tr domain.Transaction, pkg domain.Package) (CreateTransactionResponse, error) {
	req := CreateTransactionRequest{
		TransactionDetails: TransactionDetails{
			OrderID:     tr.OrderID,
			GrossAmount: tr.Amount,
			Currency:    tr.Currency,
		},
		CustomerDetails: CustomerDetails{
			UserID: tr.UserID.String(),
		},
		ItemDetails: []ItemDetails{
			{
				ID:       pkg.ID.String(),
				Name:     pkg.Name,
				Price:    tr.Amount,
				Quantity: 1,
			},
		},
		Expiry: ExpiryDetails{
			Unit:     "hours",
			Duration: paymentExpiryHours,
		},
		Callbacks: CallbackDetails{
			Finish: c.finishURL,
			Notify: c.notifyURL,
		},
	}

	var resp CreateTransactionResponse
	if err := c.doRequest(ctx, http.MethodPost, "/v1/transactions", req, &resp); err != nil {
		return CreateTransactionResponse{}, err
	}

	c.log.Infow("Created remote transaction", "order_id", tr.OrderID, "amount", tr.Amount)

	return resp, nil
}

// CheckRemoteStatus запрашивает текущий статус платежа у шлюза
func (c *Client) CheckRemoteStatus(ctx context.Context, orderID string) (StatusResponse, error) {
	var resp StatusResponse
	if err := c.doRequest(ctx, http.MethodGet, "/v2/"+orderID+"/status", nil, &resp); err != nil {
		return StatusResponse{}, err
	}

	return resp, nil
}

// CancelRemote отменяет платеж на стороне шлюза
func (c *Client) CancelRemote(ctx context.Context, orderID string) error {
	return c.doRequest(ctx, http.MethodPost, "/v2/"+orderID+"/cancel", nil, nil)
}

// RefundRemote возвращает платеж на стороне шлюза
func (c *Client) RefundRemote(ctx context.Context, orderID string, amount int64, reason string) error {
	req := struct {
		Amount int64  `json:"amount"`
		Reason string `json:"reason,omitempty"`
	}{
		Amount: amount,
		Reason: reason,
	}

	return c.doRequest(ctx, http.MethodPost, "/v2/"+orderID+"/refund", req, nil)
}
