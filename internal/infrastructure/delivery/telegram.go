package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/asmelnikov/docstream/internal/core/domain"
)

// TelegramConfig configures delivery through a bot-API-compatible server.
type TelegramConfig struct {
	BaseURL  string
	BotToken string
	ChatID   string
	Timeout  time.Duration
}

// TelegramDeliverer uploads artifacts to a channel via sendDocument and
// returns the provider's file id. A 429 surfaces as ThrottledError with
// the provider-suggested wait; the orchestrator decides when to retry.
type TelegramDeliverer struct {
	client *resty.Client
	token  string
	chatID string
}

func NewTelegramDeliverer(cfg TelegramConfig) *TelegramDeliverer {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)
	return &TelegramDeliverer{
		client: client,
		token:  cfg.BotToken,
		chatID: cfg.ChatID,
	}
}

type sendDocumentResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		Document struct {
			FileID string `json:"file_id"`
		} `json:"document"`
	} `json:"result"`
	Description string `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (d *TelegramDeliverer) Deliver(ctx context.Context, documentID, path, title string) (string, error) {
	resp, err := d.client.R().
		SetContext(ctx).
		SetFile("document", path).
		SetFormData(map[string]string{
			"chat_id": d.chatID,
			"caption": title,
		}).
		Post(fmt.Sprintf("/bot%s/sendDocument", d.token))
	if err != nil {
		return "", domain.WrapError(domain.ErrTemporary, "telegram upload", err)
	}

	var parsed sendDocumentResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return "", fmt.Errorf("decode telegram response: %w", err)
	}

	if resp.StatusCode() == http.StatusTooManyRequests {
		wait := 5 * time.Second
		if parsed.Parameters != nil && parsed.Parameters.RetryAfter > 0 {
			wait = time.Duration(parsed.Parameters.RetryAfter) * time.Second
		}
		return "", &domain.ThrottledError{RetryAfter: wait}
	}
	if resp.StatusCode() >= 500 {
		return "", domain.WrapError(domain.ErrTemporary, "telegram upload",
			fmt.Errorf("status %s: %s", resp.Status(), parsed.Description))
	}
	if !parsed.OK {
		return "", fmt.Errorf("telegram upload rejected (document %s): %s", documentID, parsed.Description)
	}
	if parsed.Result.Document.FileID == "" {
		return "", fmt.Errorf("telegram response missing file id (document %s)", documentID)
	}
	return parsed.Result.Document.FileID, nil
}
