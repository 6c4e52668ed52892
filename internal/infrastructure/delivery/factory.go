// Package delivery uploads finished artifacts to the configured durable
// channel and hands back the provider's opaque artifact id.
package delivery

import (
	"context"
	"fmt"

	"github.com/asmelnikov/docstream/internal/core/ports"
)

type Backend string

const (
	BackendTelegram Backend = "telegram"
	BackendS3       Backend = "s3"
)

type Config struct {
	Backend  Backend
	Telegram TelegramConfig
	S3       S3Config
}

func New(ctx context.Context, cfg Config) (ports.Deliverer, error) {
	switch cfg.Backend {
	case BackendTelegram, "":
		return NewTelegramDeliverer(cfg.Telegram), nil
	case BackendS3:
		return NewS3Deliverer(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown delivery backend: %q", cfg.Backend)
	}
}
