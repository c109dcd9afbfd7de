package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	alertDomain "smartstock-alerts/internal/domain/alert"
)

// WebhookNotifier 以 JSON POST 通知外部系統。
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WebhookPayload 為送出的 JSON 結構。
type WebhookPayload struct {
	AlertID        string    `json:"alert_id"`
	PassID         string    `json:"pass_id"`
	Email          string    `json:"email"`
	Symbol         string    `json:"symbol"`
	AlertType      string    `json:"alert_type"`
	ConditionValue string    `json:"condition_value"`
	Reason         string    `json:"reason"`
	FiredAt        time.Time `json:"fired_at"`
}

func (n *WebhookNotifier) Name() string { return "webhook" }

func (n *WebhookNotifier) Notify(ctx context.Context, a alertDomain.Alert, o alertDomain.Outcome) error {
	body, err := json.Marshal(WebhookPayload{
		AlertID:        a.ID,
		PassID:         o.PassID,
		Email:          a.Email,
		Symbol:         a.Symbol,
		AlertType:      string(a.Kind),
		ConditionValue: a.ConditionValue.String(),
		Reason:         o.Reason,
		FiredAt:        o.Timestamp.UTC(),
	})
	if err != nil {
		return &alertDomain.NotifierError{Channel: n.Name(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return &alertDomain.NotifierError{Channel: n.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return &alertDomain.NotifierError{Channel: n.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &alertDomain.NotifierError{Channel: n.Name(), Err: fmt.Errorf("status=%d body=%s", resp.StatusCode, string(raw))}
	}
	return nil
}
