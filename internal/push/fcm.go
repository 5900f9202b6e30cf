package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/courierhq/dispatch-api/internal/service/notification"
	"github.com/courierhq/dispatch-api/pkg/circuitbreaker"
)

type Config struct {
	Endpoint  string
	ServerKey string
	Timeout   time.Duration
}

// Client talks to an FCM-compatible HTTP push gateway. Permanent token
// errors are wrapped with notification.ErrInvalidToken so the dispatcher
// retires the token.
type Client struct {
	config Config
	http   *http.Client
	cb     *circuitbreaker.CircuitBreaker
}

func NewClient(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "push-gateway",
			MaxRequests: 20,
			Interval:    30 * time.Second,
			Timeout:     15 * time.Second,
		}),
	}
}

type sendRequest struct {
	To           string            `json:"to"`
	Notification map[string]string `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type sendResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		Error string `json:"error"`
	} `json:"results"`
}

// Token error codes the gateway reports for dead registrations.
var permanentTokenErrors = map[string]bool{
	"NotRegistered":       true,
	"InvalidRegistration": true,
	"MismatchSenderId":    true,
}

func (c *Client) SendToToken(ctx context.Context, token string, message *notification.PushMessage) error {
	body, err := json.Marshal(sendRequest{
		To: token,
		Notification: map[string]string{
			"title": message.Title,
			"body":  message.Body,
		},
		Data: message.Data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal push request: %w", err)
	}

	return c.cb.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build push request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "key="+c.config.ServerKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("push request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("push gateway returned status %d", resp.StatusCode)
		}

		var result sendResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("failed to decode push response: %w", err)
		}
		if result.Failure > 0 && len(result.Results) > 0 {
			code := result.Results[0].Error
			if permanentTokenErrors[code] {
				return fmt.Errorf("%s: %w", code, notification.ErrInvalidToken)
			}
			return fmt.Errorf("push rejected: %s", code)
		}
		return nil
	})
}
