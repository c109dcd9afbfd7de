package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	alertDomain "smartstock-alerts/internal/domain/alert"
)

// TelegramClient 透過 Bot API sendMessage 推送警報。
type TelegramClient struct {
	token      string
	chatID     int64
	prefix     string
	baseURL    string
	httpClient *http.Client
}

// NewTelegramClient 建立客戶端；prefix 非空時加在每則訊息前，例如環境名稱。
func NewTelegramClient(token string, chatID int64, prefix string) *TelegramClient {
	return &TelegramClient{
		token:   token,
		chatID:  chatID,
		prefix:  prefix,
		baseURL: "https://api.telegram.org",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithBaseURL 覆寫 Bot API 位址（測試或自架 proxy 使用）。
func (c *TelegramClient) WithBaseURL(baseURL string) *TelegramClient {
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

func (c *TelegramClient) Name() string { return "telegram" }

// Notify 將觸發的警報推送到設定的 chat。
func (c *TelegramClient) Notify(ctx context.Context, a alertDomain.Alert, o alertDomain.Outcome) error {
	if err := c.SendMessage(ctx, FormatText(a, o)); err != nil {
		return &alertDomain.NotifierError{Channel: c.Name(), Err: err}
	}
	return nil
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// telegramResponse 為 Bot API 的共同回應；ok=false 時 HTTP 狀態不一定是錯誤。
type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// SendMessage 將文字訊息推送到指定 chat。
func (c *TelegramClient) SendMessage(ctx context.Context, text string) error {
	if c == nil {
		return fmt.Errorf("telegram client is nil")
	}
	if c.token == "" || c.chatID == 0 {
		return fmt.Errorf("telegram token or chat_id missing")
	}

	if c.prefix != "" {
		text = fmt.Sprintf("[%s] %s", c.prefix, text)
	}
	body, err := json.Marshal(sendMessageRequest{ChatID: c.chatID, Text: text, DisableWebPagePreview: true})
	if err != nil {
		return fmt.Errorf("encode telegram message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("telegram send failed status=%d body=%s", resp.StatusCode, string(raw))
	}
	var tr telegramResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return fmt.Errorf("decode telegram response: %w", err)
	}
	if !tr.OK {
		return fmt.Errorf("telegram rejected message code=%d: %s", tr.ErrorCode, tr.Description)
	}
	return nil
}
