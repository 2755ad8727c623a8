package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/parley/pkg/models"
)

// HTTPPushAdapter posts outbound messages as JSON to a configured
// endpoint, the generic half of a platform integration whose inbound
// half arrives on the webhook route.
type HTTPPushAdapter struct {
	name     string
	endpoint string
	secret   string
	client   *http.Client
}

type pushEnvelope struct {
	ConversationID string                 `json:"conversation_id"`
	Message        models.OutboundMessage `json:"message"`
}

func NewHTTPPushAdapter(name, endpoint, secret string) *HTTPPushAdapter {
	return &HTTPPushAdapter{
		name:     name,
		endpoint: endpoint,
		secret:   secret,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *HTTPPushAdapter) Name() string { return a.name }

func (a *HTTPPushAdapter) Deliver(ctx context.Context, conversationID string, msg models.OutboundMessage) error {
	payload, err := json.Marshal(pushEnvelope{ConversationID: conversationID, Message: msg})
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.secret != "" {
		req.Header.Set("X-Parley-Token", a.secret)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("push to %s: %w", a.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push to %s: status %d: %s", a.endpoint, resp.StatusCode, string(body))
	}
	return nil
}
