package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/Checker-Finance/panelbot/internal/app"
)

// ErrNotReady is returned by HealthCheck before the gateway session is ready.
var ErrNotReady = errors.New("discord session not ready")

const (
	commandTimeout      = 30 * time.Second
	autocompleteTimeout = 2500 * time.Millisecond
)

// Bot owns the Discord session and routes interactions to the panels in app.
type Bot struct {
	app       *app.Context
	session   SessionHandler
	logger    *zap.Logger
	cooldowns *Cooldowns

	mu         sync.RWMutex
	commandIDs map[string]string

	ready   atomic.Bool
	removes []func()
}

// New creates a Bot. It does not connect until Start.
func New(ac *app.Context, session SessionHandler) *Bot {
	cfg := ac.Config
	durations := map[string]time.Duration{CommandRemoveKey: cfg.RemoveCooldown}
	for _, p := range ac.Panels {
		durations[p.Command] = cfg.PowerCooldown
		durations[p.SetKeyCommand] = cfg.SetKeyCooldown
	}

	return &Bot{
		app:        ac,
		session:    session,
		logger:     ac.Logger.Named("discord"),
		cooldowns:  NewCooldowns(durations),
		commandIDs: make(map[string]string),
	}
}

// Cooldowns exposes the per-user command cooldowns.
func (b *Bot) Cooldowns() *Cooldowns { return b.cooldowns }

// Start registers gateway handlers and opens the session.
func (b *Bot) Start() error {
	b.removes = append(b.removes,
		b.session.AddHandler(b.onReady),
		b.session.AddHandler(b.onInteraction),
		b.session.AddHandler(b.onDisconnect),
	)
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	return nil
}

// Stop removes handlers and closes the session.
func (b *Bot) Stop() error {
	for _, remove := range b.removes {
		remove()
	}
	b.removes = nil
	b.ready.Store(false)
	return b.session.Close()
}

// HealthCheck reports whether the gateway session is ready.
func (b *Bot) HealthCheck(context.Context) error {
	if !b.ready.Load() {
		return ErrNotReady
	}
	return nil
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.logger.Info("discord.ready",
		zap.String("user", r.User.Username),
		zap.Int("guilds", len(r.Guilds)))

	if err := b.setPresence(); err != nil {
		b.logger.Warn("discord.presence_failed", zap.Error(err))
	}

	if b.app.Config.RegisterCommands {
		if err := b.registerCommands(r.User.ID); err != nil {
			b.logger.Error("discord.register_commands_failed", zap.Error(err))
		}
	}
	b.ready.Store(true)
}

func (b *Bot) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	b.ready.Store(false)
	b.logger.Warn("discord.disconnected")
}

func (b *Bot) setPresence() error {
	text := b.app.Config.DiscordStatusText
	if text == "" {
		return nil
	}
	return b.session.UpdateStatusComplex(discordgo.UpdateStatusData{
		Status: string(discordgo.StatusOnline),
		Activities: []*discordgo.Activity{{
			Name:  "Custom Status",
			Type:  discordgo.ActivityTypeCustom,
			State: text,
		}},
	})
}

// registerCommands overwrites the bot's commands globally, or in each
// configured guild, and remembers their ids for mentions.
func (b *Bot) registerCommands(appID string) error {
	cmds := Commands(b.app.Panels)
	guilds := b.app.Config.DiscordGuildIDs
	if len(guilds) == 0 {
		guilds = []string{""}
	}

	var errs []error
	for _, guildID := range guilds {
		created, err := b.session.ApplicationCommandBulkOverwrite(appID, guildID, cmds)
		if err != nil {
			errs = append(errs, fmt.Errorf("guild %q: %w", guildID, err))
			continue
		}
		b.mu.Lock()
		for _, c := range created {
			b.commandIDs[c.Name] = c.ID
		}
		b.mu.Unlock()
		b.logger.Info("discord.commands_registered",
			zap.String("guild_id", guildID),
			zap.Int("count", len(created)))
	}
	return errors.Join(errs...)
}

// mention renders a clickable command mention when the command id is known.
func (b *Bot) mention(name string) string {
	b.mu.RLock()
	id, ok := b.commandIDs[name]
	b.mu.RUnlock()
	if !ok {
		return "`/" + name + "`"
	}
	return "</" + name + ":" + id + ">"
}
