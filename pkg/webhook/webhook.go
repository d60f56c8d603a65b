// Package webhook delivers alert notifications for events that must
// reach an operator even when nobody is watching the logs: a failed
// rollback, a critical-tier apply, a broken audit chain. Delivery is
// best-effort and never blocks or fails the pipeline itself.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EventType represents an alert-worthy pipeline event.
type EventType string

const (
	EventRollbackFailed   EventType = "rollback.failed"
	EventCriticalApplied  EventType = "apply.critical"
	EventAuditChainBroken EventType = "audit.chain_broken"
)

// Event is the payload POSTed to the configured hook.
type Event struct {
	Event     EventType      `json:"event"`
	Timestamp string         `json:"timestamp"`
	FilePath  string         `json:"file_path,omitempty"`
	PatchID   string         `json:"patch_id,omitempty"`
	Tier      string         `json:"tier,omitempty"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Notifier sends alert events to a single configured endpoint.
type Notifier struct {
	url        string
	secret     string
	http       *http.Client
	retries    int
	retryDelay time.Duration
}

// NewNotifier creates a notifier. An empty URL yields a disabled
// notifier whose Send is a no-op.
func NewNotifier(url, secret string) *Notifier {
	return &Notifier{
		url:        url,
		secret:     secret,
		http:       &http.Client{Timeout: 10 * time.Second},
		retries:    2,
		retryDelay: time.Second,
	}
}

// SetRetryDelay overrides the backoff base between delivery attempts.
func (n *Notifier) SetRetryDelay(d time.Duration) {
	n.retryDelay = d
}

// Enabled reports whether a destination is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.url != ""
}

// Send delivers one event, retrying transient failures. Errors are
// returned for logging but must never fail the operation that raised
// the alert.
func (n *Notifier) Send(event Event) error {
	if !n.Enabled() {
		return nil
	}

	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal alert payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= n.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * n.retryDelay)
		}

		req, err := http.NewRequest(http.MethodPost, n.url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "selfmod-alert/1.0")
		if n.secret != "" {
			req.Header.Set("X-Selfmod-Signature", sign(payload, n.secret))
		}

		resp, err := n.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	return lastErr
}

// sign creates an HMAC-SHA256 signature for the payload.
func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
