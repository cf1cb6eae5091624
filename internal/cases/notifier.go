package cases

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wardlabs/ward/internal/metrics"
	"github.com/wardlabs/ward/internal/rules"
	"github.com/wardlabs/ward/internal/security"
)

// Notifier delivers case lifecycle events to an operator-configured webhook
// so external alerting can page on high-priority fraud queues. Delivery is
// fire-and-forget: a slow or dead webhook never blocks the decision path,
// and all methods are safe on a nil receiver.
type Notifier struct {
	url    string
	secret string
	client *http.Client
	logger *slog.Logger
}

// NewNotifier validates the webhook URL and returns a notifier. The URL is
// operator-supplied, so it goes through the server-side request checks before
// any delivery is attempted. The secret, when set, signs payloads with
// HMAC-SHA256 in the X-Ward-Signature header.
func NewNotifier(rawURL, secret string, logger *slog.Logger) (*Notifier, error) {
	if err := security.ValidateEndpointURL(rawURL); err != nil {
		return nil, fmt.Errorf("case webhook URL: %w", err)
	}
	return &Notifier{
		url:    rawURL,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}, nil
}

// caseEvent is the webhook payload for one case lifecycle change.
type caseEvent struct {
	Type       string           `json:"type"`
	CaseID     string           `json:"caseId"`
	DecisionID string           `json:"decisionId"`
	Checkpoint rules.Checkpoint `json:"checkpoint"`
	Priority   rules.Severity   `json:"priority"`
	Status     Status           `json:"status"`
	Resolution Resolution       `json:"resolution,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// CaseOpened posts a case.opened event in the background.
func (n *Notifier) CaseOpened(c *Case) {
	if n == nil {
		return
	}
	go n.send(eventFor("case.opened", c))
}

// CaseResolved posts a case.resolved event in the background.
func (n *Notifier) CaseResolved(c *Case) {
	if n == nil {
		return
	}
	go n.send(eventFor("case.resolved", c))
}

func eventFor(eventType string, c *Case) caseEvent {
	return caseEvent{
		Type:       eventType,
		CaseID:     c.ID,
		DecisionID: c.DecisionID,
		Checkpoint: c.Checkpoint,
		Priority:   c.Priority,
		Status:     c.Status,
		Resolution: c.Resolution,
		Timestamp:  c.UpdatedAt,
	}
}

func (n *Notifier) send(evt caseEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("error").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("error").Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Ward-Event", evt.Type)
	req.Header.Set("X-Ward-Timestamp", fmt.Sprintf("%d", evt.Timestamp.Unix()))
	if n.secret != "" {
		req.Header.Set("X-Ward-Signature", n.sign(payload))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("error").Inc()
		n.logger.Warn("case webhook delivery failed", "event", evt.Type, "case_id", evt.CaseID, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		metrics.WebhookDeliveriesTotal.WithLabelValues("ok").Inc()
	} else {
		metrics.WebhookDeliveriesTotal.WithLabelValues("error").Inc()
		n.logger.Warn("case webhook rejected event", "event", evt.Type, "case_id", evt.CaseID, "status", resp.StatusCode)
	}
}

func (n *Notifier) sign(payload []byte) string {
	h := hmac.New(sha256.New, []byte(n.secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
