package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wagate/billing-service/internal/domain"
	"github.com/wagate/billing-service/pkg/logger"
)

// Client представляет клиент для работы с API платежного шлюза
type Client struct {
	baseURL    string
	serverKey  string
	clientKey  string
	finishURL  string
	notifyURL  string
	httpClient *http.Client
	log        *logger.Logger
}

// Config конфигурация для клиента платежного шлюза
type Config struct {
	BaseURL   string
	ServerKey string
	ClientKey string
	FinishURL string
	NotifyURL string
}

// NewClient создает новый клиент платежного шлюза
func NewClient(cfg Config, log *logger.Logger) *Client {
	return &Client{
		baseURL:   cfg.BaseURL,
		serverKey: cfg.ServerKey,
		clientKey: cfg.ClientKey,
		finishURL: cfg.FinishURL,
		notifyURL: cfg.NotifyURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
}

// doRequest выполняет HTTP-запрос к API шлюза с авторизацией по серверному ключу
func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateway: failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("gateway: failed to build request: %w", err)
	}

	req.SetBasicAuth(c.serverKey, "")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewExternalServiceError("gateway", "request_failed", "gateway request failed", 0, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewExternalServiceError("gateway", "read_failed", "failed to read gateway response", resp.StatusCode, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		c.log.Warnw("Gateway returned error status",
			"method", method, "path", path, "status", resp.StatusCode, "body", string(respBody))
		return domain.NewExternalServiceError(
			"gateway",
			fmt.Sprintf("http_%d", resp.StatusCode),
			string(respBody),
			resp.StatusCode,
			nil,
		)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return domain.NewExternalServiceError("gateway", "decode_failed", "failed to decode gateway response", resp.StatusCode, err)
		}
	}

	return nil
}
