// MIT License
//
// Copyright (c) 2026 Kolin
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pterm/pterm"
)

// EventType identifies the class of a notification event
type EventType string

const (
	EventIPBlocked EventType = "ip_blocked"
	EventError     EventType = "error"
)

// Event is the payload handed to a sink. Delivery is fire-and-forget:
// a sink failure is the sink's problem, never the caller's.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// Notifier is the external collaborator interface for block/error events
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// LogNotifier writes events to the structured log
type LogNotifier struct {
	logger *pterm.Logger
}

func NewLogNotifier(logger *pterm.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, event Event) {
	switch event.Type {
	case EventError:
		n.logger.Warn("Notification event", n.logger.Args("type", event.Type, "payload", event.Payload))
	default:
		n.logger.Info("Notification event", n.logger.Args("type", event.Type, "payload", event.Payload))
	}
}

// WebhookNotifier POSTs events as JSON to a configured endpoint.
// Failures are logged and dropped; the sink never retries inline.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *pterm.Logger
}

func NewWebhookNotifier(url string, timeout time.Duration, logger *pterm.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		n.logger.Warn("Failed to encode notification event", n.logger.Args("error", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("Failed to build webhook request", n.logger.Args("error", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("Webhook delivery failed", n.logger.Args("url", n.url, "error", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn("Webhook delivery rejected",
			n.logger.Args("url", n.url, "status", resp.StatusCode))
		return
	}

	n.logger.Trace("Webhook delivered", n.logger.Args("type", event.Type, "status", resp.StatusCode))
}

// MultiNotifier fans one event out to every configured sink
type MultiNotifier struct {
	sinks []Notifier
}

func NewMultiNotifier(sinks ...Notifier) *MultiNotifier {
	return &MultiNotifier{sinks: sinks}
}

func (n *MultiNotifier) Notify(ctx context.Context, event Event) {
	for _, sink := range n.sinks {
		sink.Notify(ctx, event)
	}
}
