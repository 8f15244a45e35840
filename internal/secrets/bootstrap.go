package secrets

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Checker-Finance/panelbot/pkg/config"
	pkgsecrets "github.com/Checker-Finance/panelbot/pkg/secrets"
)

// BotSecrets are the process-level secrets panelbot can pull from a secrets
// manager instead of the environment.
//
// Secret JSON format: {"discord_token": "...", "credential_key": "...",
// "sentry_dsn": "...", "database_url": "...", "rabbitmq_url": "..."}
type BotSecrets struct {
	DiscordToken  string
	CredentialKey string
	SentryDSN     string
	DatabaseURL   string
	RabbitMQURL   string
}

// parseBotSecrets extracts BotSecrets from the raw secret map.
func parseBotSecrets(m map[string]string) (BotSecrets, error) {
	s := BotSecrets{
		DiscordToken:  m["discord_token"],
		CredentialKey: m["credential_key"],
		SentryDSN:     m["sentry_dsn"],
		DatabaseURL:   m["database_url"],
		RabbitMQURL:   m["rabbitmq_url"],
	}
	if s.DiscordToken == "" {
		return BotSecrets{}, fmt.Errorf("missing required field 'discord_token'")
	}
	return s, nil
}

// NewBotSecretsResolver builds the resolver for BotSecrets.
func NewBotSecretsResolver(logger *zap.Logger, provider pkgsecrets.Provider, cache *pkgsecrets.Cache[BotSecrets]) *Resolver[BotSecrets] {
	return NewResolver(logger, provider, cache, parseBotSecrets)
}

// Apply resolves cfg.SecretName and overlays its non-empty values on cfg,
// taking precedence over the environment.
func Apply(ctx context.Context, cfg *config.Config, r *Resolver[BotSecrets]) error {
	s, err := r.Resolve(ctx, cfg.SecretName)
	if err != nil {
		return err
	}

	cfg.DiscordToken = s.DiscordToken
	if s.CredentialKey != "" {
		cfg.CredentialKey = s.CredentialKey
	}
	if s.SentryDSN != "" {
		cfg.SentryDSN = s.SentryDSN
	}
	if s.DatabaseURL != "" {
		cfg.DatabaseURL = s.DatabaseURL
	}
	if s.RabbitMQURL != "" {
		cfg.RabbitMQURL = s.RabbitMQURL
	}
	return nil
}
