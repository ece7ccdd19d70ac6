package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dnsvigil/dnsvigil/internal/errkind"
)

const webhookTimeout = 5 * time.Second

// colorCodes is the embed encoding of the presentational colors.
var colorCodes = map[Color]int{
	ColorRed:    0xE74C3C,
	ColorOrange: 0xE67E22,
	ColorYellow: 0xF1C40F,
	ColorBlue:   0x3498DB,
	ColorGray:   0x95A5A6,
}

// WebhookNotifier posts notifications as Discord-compatible embeds.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier builds a notifier posting to url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: webhookTimeout},
	}
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type embed struct {
	Title     string       `json:"title"`
	Color     int          `json:"color"`
	Fields    []embedField `json:"fields,omitempty"`
	Timestamp string       `json:"timestamp"`
	Footer    *struct {
		Text string `json:"text"`
	} `json:"footer,omitempty"`
}

type webhookPayload struct {
	Embeds []embed `json:"embeds"`
}

// Emit posts the notification once. Errors are not retried within a tick;
// the caller's dampening timestamp already advanced, so a failed delivery is
// dropped rather than spammed.
func (w *WebhookNotifier) Emit(ctx context.Context, n Notification) error {
	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	e := embed{
		Title:     n.Title,
		Color:     colorCodes[n.Color],
		Timestamp: n.At.UTC().Format(time.RFC3339),
	}
	for _, f := range n.Fields {
		e.Fields = append(e.Fields, embedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}

	body, err := json.Marshal(webhookPayload{Embeds: []embed{e}})
	if err != nil {
		return errkind.NewDomain(errkind.KindInternal, "webhook_marshal", n.Domain, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return errkind.NewDomain(errkind.KindInternal, "webhook_request", n.Domain, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return errkind.NewDomain(errkind.KindTransport, "webhook_post", n.Domain, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errkind.NewDomain(errkind.KindTransport, "webhook_post", n.Domain,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	log.Debug().Str("id", n.ID).Str("title", n.Title).Msg("Webhook delivered")
	return nil
}
