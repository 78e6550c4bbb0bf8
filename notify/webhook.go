// Package notify delivers audit events to chat webhooks. Delivery is best
// effort: the audit sink already holds the durable copy.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fxpulse/fxpulse/journal"
)

// Embed colors per severity, Discord decimal RGB.
const (
	colorInfo      = 0x2ECC71
	colorWarn      = 0xF1C40F
	colorCritical  = 0xE67E22
	colorEmergency = 0xE74C3C
)

// Webhook posts audit events to a Discord-compatible webhook URL. Events
// below MinSeverity are skipped, except EMERGENCY which always goes out.
type Webhook struct {
	url         string
	minSeverity journal.Severity
	client      *http.Client
}

// NewWebhook builds a notifier. An empty URL disables it.
func NewWebhook(url string, minSeverity journal.Severity) *Webhook {
	return &Webhook{
		url:         url,
		minSeverity: minSeverity,
		client:      &http.Client{Timeout: 5 * time.Second},
	}
}

func severityRank(s journal.Severity) int {
	switch s {
	case journal.SeverityInfo:
		return 0
	case journal.SeverityWarn:
		return 1
	case journal.SeverityCritical:
		return 2
	case journal.SeverityEmergency:
		return 3
	}
	return 0
}

func severityColor(s journal.Severity) int {
	switch s {
	case journal.SeverityWarn:
		return colorWarn
	case journal.SeverityCritical:
		return colorCritical
	case journal.SeverityEmergency:
		return colorEmergency
	}
	return colorInfo
}

// Notify implements journal.Notifier.
func (w *Webhook) Notify(e journal.Event) error {
	if w.url == "" {
		return nil
	}
	if e.Severity != journal.SeverityEmergency &&
		severityRank(e.Severity) < severityRank(w.minSeverity) {
		return nil
	}

	title := fmt.Sprintf("[%s] %s/%s", e.Severity, e.Component, e.Type)
	description := e.Payload
	if e.CorrelationID != "" {
		description = fmt.Sprintf("`%s`\n%s", e.CorrelationID, e.Payload)
	}

	payload := map[string]any{
		"embeds": []map[string]any{
			{
				"title":       title,
				"description": description,
				"color":       severityColor(e.Severity),
				"footer": map[string]string{
					"text": "fxpulse",
				},
				"timestamp": e.Time.UTC().Format(time.RFC3339),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := w.client.Post(w.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
