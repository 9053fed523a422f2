// Copyright 2025 James Ross

// Package notify emits best-effort delivery notifications to downstream
// sidecars over NATS and HTTP webhooks (spec §4.11 C11). A failing hook
// logs and is skipped; it never fails the job that triggered it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// EventType names the three notification shapes this pipeline emits.
type EventType string

const (
	EventCompleted  EventType = "REPORT_COMPLETED"
	EventFailed     EventType = "REPORT_FAILED"
	EventBatchDone  EventType = "CRON_BATCH_COMPLETED"
)

// Event is the wire payload published on every hook transport.
type Event struct {
	Type         EventType `json:"type"`
	JobID        string    `json:"jobId,omitempty"`
	TargetSystem string    `json:"targetSystem,omitempty"`
	RecordCount  int64     `json:"recordCount,omitempty"`
	ResultPath   string    `json:"resultPath,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	TotalJobs    int       `json:"totalJobs,omitempty"`
	SuccessCount int       `json:"successCount,omitempty"`
	FailureCount int       `json:"failureCount,omitempty"`
	EmittedAt    time.Time `json:"emittedAt"`
}

// Hook is a single notification sink. Implementations must be best-effort:
// Send should never block the caller indefinitely and its error is only
// ever logged.
type Hook interface {
	Send(ctx context.Context, event Event) error
}

// Notifier fans an event out to every configured Hook, logging (never
// propagating) individual hook failures.
type Notifier struct {
	hooks  []Hook
	logger *zap.Logger
}

// New constructs a Notifier over the given hooks.
func New(logger *zap.Logger, hooks ...Hook) *Notifier {
	return &Notifier{hooks: hooks, logger: logger}
}

func (n *Notifier) emit(ctx context.Context, event Event) {
	event.EmittedAt = time.Now().UTC()
	for _, h := range n.hooks {
		if err := h.Send(ctx, event); err != nil {
			n.logger.Warn("notify: hook delivery failed", zap.String("eventType", string(event.Type)), zap.Error(err))
		}
	}
}

// Completed emits a delivery notification for a successfully finished job.
func (n *Notifier) Completed(ctx context.Context, jobID, targetSystem, resultPath string, recordCount int64) {
	n.emit(ctx, Event{Type: EventCompleted, JobID: jobID, TargetSystem: targetSystem, ResultPath: resultPath, RecordCount: recordCount})
}

// Failed emits an error notification for a job that ended FAILED.
func (n *Notifier) Failed(ctx context.Context, jobID, errMsg string) {
	n.emit(ctx, Event{Type: EventFailed, JobID: jobID, ErrorMessage: errMsg})
}

// BatchCompleted emits a cron batch summary.
func (n *Notifier) BatchCompleted(ctx context.Context, total, success, failure int) {
	n.emit(ctx, Event{Type: EventBatchDone, TotalJobs: total, SuccessCount: success, FailureCount: failure})
}

// NATSHook publishes events as JSON on a fixed subject, grounded on the
// teacher's event-hooks NATSPublisher.
type NATSHook struct {
	conn    *nats.Conn
	subject string
}

// NewNATSHook connects to natsURL and returns a Hook publishing to subject.
func NewNATSHook(natsURL, subject string) (*NATSHook, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &NATSHook{conn: conn, subject: subject}, nil
}

func (h *NATSHook) Send(_ context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return h.conn.Publish(h.subject, payload)
}

// Close releases the underlying NATS connection.
func (h *NATSHook) Close() {
	h.conn.Close()
}

// WebhookHook POSTs events as JSON to a fixed URL, grounded on the
// teacher's event-hooks WebhookSubscriber.
type WebhookHook struct {
	url    string
	client *http.Client
}

// NewWebhookHook constructs a WebhookHook with the given timeout.
func NewWebhookHook(url string, timeout time.Duration) *WebhookHook {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookHook{url: url, client: &http.Client{Timeout: timeout}}
}

func (h *WebhookHook) Send(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}
