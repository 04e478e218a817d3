package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/dropbox_exporter/internal/downloader"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

type DiscordNotifier struct {
	WebhookURL string
	Client     *http.Client
}

func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		WebhookURL: webhookURL,
		Client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// FormatStatus renders the final state of an export as a chat message.
func FormatStatus(s downloader.Status) string {
	if s.State == downloader.StateFailed {
		return fmt.Sprintf("Export %s of %s failed after %d/%d files: %s",
			s.RunID, s.Source, s.Completed, s.Total, s.Error)
	}

	msg := fmt.Sprintf("Export %s of %s finished: %d downloaded, %d skipped, %d failed (%s)",
		s.RunID, s.Source, s.Downloaded, s.Skipped, s.Failed, humanize.Bytes(uint64(s.Bytes)))

	if s.StartedAt != nil && s.FinishedAt != nil {
		msg += " in " + s.FinishedAt.Sub(*s.StartedAt).Round(time.Second).String()
	}

	return msg
}
