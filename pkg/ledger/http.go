package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPLedger talks to an external settlement service. Transfers are posted
// with their idempotency key so the service can deduplicate retries; the
// engine treats any non-2xx response as a failed transfer.
type HTTPLedger struct {
	baseURL string
	client  *http.Client
}

// NewHTTPLedger creates a client for the settlement service at baseURL.
func NewHTTPLedger(baseURL string, timeout time.Duration) *HTTPLedger {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPLedger{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type transferPayload struct {
	From           string `json:"from"`
	To             string `json:"to"`
	Currency       string `json:"currency"`
	AmountCents    int64  `json:"amount_cents"`
	IdempotencyKey string `json:"idempotency_key"`
}

type transferReply struct {
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

// Transfer implements Ledger.
func (l *HTTPLedger) Transfer(ctx context.Context, t Transfer) Result {
	body, err := json.Marshal(transferPayload{
		From:           t.From,
		To:             t.To,
		Currency:       t.Currency,
		AmountCents:    t.AmountCents,
		IdempotencyKey: t.IdempotencyKey,
	})
	if err != nil {
		return Failed(fmt.Sprintf("failed to encode transfer: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/transfers", bytes.NewReader(body))
	if err != nil {
		return Failed(fmt.Sprintf("failed to build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", t.IdempotencyKey)

	resp, err := l.client.Do(req)
	if err != nil {
		return Failed(fmt.Sprintf("ledger unreachable: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Ok()
	}

	var reply transferReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err == nil {
		if reply.Reason != "" {
			return Failed(reply.Reason)
		}
		if reply.Error != "" {
			return Failed(reply.Error)
		}
	}
	return Failed(fmt.Sprintf("ledger returned status %d", resp.StatusCode))
}
