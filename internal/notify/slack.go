package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/vitaliisemenov/run-record-archiver/internal/errs"
)

// SlackSink posts a notification to a Slack incoming webhook URL. No
// Slack SDK appears anywhere in the retrieval pack, so this is a plain
// net/http POST of the minimal { "text": ... } payload Slack's webhook
// endpoint accepts.
type SlackSink struct {
	WebhookURL string
	Client     *http.Client
}

func (s *SlackSink) Notify(ctx context.Context, subject, body string) error {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	payload, err := json.Marshal(map[string]string{"text": subject + "\n" + body})
	if err != nil {
		return errs.Wrap(errs.KindReporting, "marshal slack payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return errs.Wrap(errs.KindReporting, "build slack request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindReporting, "post slack notification", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errs.New(errs.KindReporting, "slack webhook rejected notification").WithField("status", resp.StatusCode)
	}
	return nil
}
