// Package notify publishes queue and graph state changes to interested
// listeners. Delivery is fire-and-forget: failures are logged and never
// propagate into queue processing.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EventType identifies what changed.
type EventType string

const (
	EventItemQueued     EventType = "queue.item.queued"
	EventItemBlocked    EventType = "queue.item.blocked"
	EventItemConflicted EventType = "queue.item.conflicted"
	EventItemReady      EventType = "queue.item.ready"
	EventItemMerged     EventType = "queue.item.merged"
	EventItemFailed     EventType = "queue.item.failed"
	EventItemRemoved    EventType = "queue.item.removed"
	EventItemRetried    EventType = "queue.item.retried"
	EventPassCompleted  EventType = "queue.pass.completed"
)

// Event is one state-change notification.
type Event struct {
	ID           string                 `json:"id"`
	Type         EventType              `json:"type"`
	RepositoryID string                 `json:"repository_id"`
	Timestamp    time.Time              `json:"timestamp"`
	Data         map[string]interface{} `json:"data,omitempty"`
}

// Broadcaster publishes events. Publish must not block queue processing on
// delivery and must never return delivery errors.
type Broadcaster interface {
	Publish(ctx context.Context, event Event)
}

// NopBroadcaster drops all events. Used in tests and deployments without
// configured listeners.
type NopBroadcaster struct{}

// Publish discards the event.
func (NopBroadcaster) Publish(ctx context.Context, event Event) {}

// Endpoint is one webhook destination.
type Endpoint struct {
	URL    string
	Secret string
}

// WebhookBroadcaster POSTs events to configured endpoints with HMAC-SHA256
// signatures. Each delivery runs in its own goroutine with a bounded
// timeout.
type WebhookBroadcaster struct {
	endpoints []Endpoint
	client    *http.Client
	log       *logrus.Logger
}

// NewWebhookBroadcaster creates a broadcaster for the given endpoints.
func NewWebhookBroadcaster(endpoints []Endpoint, log *logrus.Logger) *WebhookBroadcaster {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WebhookBroadcaster{
		endpoints: endpoints,
		client:    &http.Client{Timeout: 10 * time.Second},
		log:       log,
	}
}

// Publish stamps and dispatches the event to every endpoint asynchronously.
func (b *WebhookBroadcaster) Publish(ctx context.Context, event Event) {
	event.ID = uuid.NewString()
	event.Timestamp = time.Now().UTC()

	payload, err := json.Marshal(event)
	if err != nil {
		b.log.WithError(err).Warn("failed to marshal notification event")
		return
	}

	for _, ep := range b.endpoints {
		ep := ep
		go b.deliver(ep, event, payload)
	}
}

func (b *WebhookBroadcaster) deliver(ep Endpoint, event Event, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		b.log.WithError(err).WithField("url", ep.URL).Warn("failed to build notification request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Mergeplane-Event", string(event.Type))
	req.Header.Set("X-Mergeplane-Event-ID", event.ID)
	if ep.Secret != "" {
		req.Header.Set("X-Mergeplane-Signature", sign(payload, ep.Secret))
	}

	resp, err := b.client.Do(req)
	if err != nil {
		b.log.WithError(err).WithFields(logrus.Fields{
			"url":  ep.URL,
			"type": event.Type,
		}).Warn("notification delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b.log.WithFields(logrus.Fields{
			"url":    ep.URL,
			"type":   event.Type,
			"status": resp.StatusCode,
		}).Warn("notification endpoint returned non-2xx")
	}
}

// VerifySignature checks a delivery signature on the receiving side.
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(sign(payload, secret)), []byte(signature))
}

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
