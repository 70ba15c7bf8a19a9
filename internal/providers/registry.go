package providers

import (
	"callwatch/internal/config"
	"callwatch/internal/engine"
	"callwatch/internal/logging"
	"callwatch/internal/models"
)

// Registry builds the transport table consumed by the dispatcher. Unknown
// action kinds are absent from the map and fail permanently at dispatch.
func Registry(cfg config.Config, logger *logging.Logger) map[models.ActionKind]engine.Transport {
	return map[models.ActionKind]engine.Transport{
		models.ActionEmail:      NewEmail(cfg),
		models.ActionWebhook:    NewWebhook(),
		models.ActionGoogleChat: NewGoogleChat(),
		models.ActionTelegram:   NewTelegram(cfg.RateLimit.TelegramPerSecond),
		models.ActionLog:        NewLog(logger),
	}
}
