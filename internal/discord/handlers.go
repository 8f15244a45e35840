package discord

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/Checker-Finance/panelbot/internal/app"
	"github.com/Checker-Finance/panelbot/internal/metrics"
	"github.com/Checker-Finance/panelbot/internal/power"
	"github.com/Checker-Finance/panelbot/internal/report"
	"github.com/Checker-Finance/panelbot/pkg/utils"
)

const genericFailure = "Something went wrong while running this command. The error has been reported."

// maxChoiceName is Discord's limit on an autocomplete choice name.
const maxChoiceName = 100

func (b *Bot) onInteraction(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
	i := ic.Interaction
	defer func() {
		if r := recover(); r != nil {
			b.recoverInteraction(i, r)
		}
	}()

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleCommand(i)
	case discordgo.InteractionApplicationCommandAutocomplete:
		b.handleAutocomplete(i)
	}
}

func (b *Bot) handleCommand(i *discordgo.Interaction) {
	name := i.ApplicationCommandData().Name
	if name == CommandRemoveKey {
		b.handleRemoveKey(i)
		return
	}

	p, ok := b.app.PanelByCommand(name)
	if !ok {
		b.logger.Warn("discord.unknown_command", zap.String("command", name))
		b.respond(i, errorEmbed("Unknown command."))
		return
	}
	if name == p.SetKeyCommand {
		b.handleSetKey(i, p)
		return
	}
	b.handlePower(i, p)
}

func (b *Bot) handlePower(i *discordgo.Interaction, p *app.Panel) {
	user := interactionUserID(i)
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		b.respond(i, errorEmbed("Pick an action: kill, restart, start or stop."))
		return
	}
	sub := data.Options[0]

	action, err := power.ParseAction(sub.Name)
	if err != nil {
		b.respond(i, errorEmbed(fmt.Sprintf("Unknown action `%s`.", sub.Name)))
		return
	}
	server := stringOption(sub.Options, optionServer)

	if !b.takeCooldown(i, p.Command, user) {
		return
	}

	if err := b.session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}); err != nil {
		b.cooldowns.Refund(p.Command, user)
		b.logger.Warn("discord.defer_failed", zap.String("command", p.Command), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	out := p.Dispatcher.Dispatch(ctx, user, action, server)
	metrics.IncCommand(p.Command, out.Kind.String())

	var msg *discordgo.MessageEmbed
	switch out.Kind {
	case power.KindSuccess:
		msg = successEmbed(out.Message())
	case power.KindMissingCredential:
		// nothing was sent, so the user may retry as soon as a key is set
		b.cooldowns.Refund(p.Command, user)
		msg = warningEmbed("No API key",
			fmt.Sprintf("You don't have a %s panel API key set. Use %s to set one.",
				p.Target.Name, b.mention(p.SetKeyCommand)))
	case power.KindRemoteError:
		msg = errorEmbed("The panel rejected the request: " + out.Message())
	default:
		msg = errorEmbed(genericFailure)
	}
	b.edit(i, msg)
}

func (b *Bot) handleSetKey(i *discordgo.Interaction, p *app.Panel) {
	user := interactionUserID(i)
	key := strings.TrimSpace(stringOption(i.ApplicationCommandData().Options, optionKey))
	if key == "" {
		b.respond(i, errorEmbed("The API key can't be empty."))
		return
	}
	if !b.takeCooldown(i, p.SetKeyCommand, user) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := b.app.Store.SetCredential(ctx, user, p.Target.Field, key); err != nil {
		metrics.IncCommand(p.SetKeyCommand, "unexpected_error")
		b.app.Reporter.Report(ctx, report.Failure{
			UserID:  user,
			Command: p.SetKeyCommand,
			Panel:   p.Target.Name,
			Kind:    report.KindUnexpected,
			Err:     err,
		})
		b.respond(i, errorEmbed(genericFailure))
		return
	}

	metrics.IncCommand(p.SetKeyCommand, "success")
	b.logger.Info("discord.key_set",
		zap.String("user_id", user),
		zap.String("panel", p.Target.Name),
		zap.String("key", utils.MaskKey(key)))
	b.respond(i, successEmbed(fmt.Sprintf("Your %s panel API key `%s` has been saved. Try %s.",
		p.Target.Name, utils.MaskKey(key), b.mention(p.Command))))
}

func (b *Bot) handleRemoveKey(i *discordgo.Interaction) {
	user := interactionUserID(i)
	name := stringOption(i.ApplicationCommandData().Options, optionPanel)
	p, ok := b.app.Panel(name)
	if !ok {
		b.respond(i, errorEmbed(fmt.Sprintf("Unknown panel `%s`.", name)))
		return
	}
	if !b.takeCooldown(i, CommandRemoveKey, user) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	// only used to word the reply; clearing is idempotent either way
	hadKey := true
	if rec, err := b.app.Store.FindCredential(ctx, user); err == nil {
		_, hadKey = rec.Key(p.Target.Field)
	}

	if err := b.app.Store.ClearCredential(ctx, user, p.Target.Field); err != nil {
		metrics.IncCommand(CommandRemoveKey, "unexpected_error")
		b.app.Reporter.Report(ctx, report.Failure{
			UserID:  user,
			Command: CommandRemoveKey,
			Panel:   p.Target.Name,
			Kind:    report.KindUnexpected,
			Err:     err,
		})
		b.respond(i, errorEmbed(genericFailure))
		return
	}

	metrics.IncCommand(CommandRemoveKey, "success")
	if !hadKey {
		b.respond(i, infoEmbed("Nothing to remove", fmt.Sprintf("You don't have a %s panel API key set.", p.Target.Name)))
		return
	}
	b.logger.Info("discord.key_removed", zap.String("user_id", user), zap.String("panel", p.Target.Name))
	b.respond(i, successEmbed(fmt.Sprintf("Your %s panel API key has been removed.", p.Target.Name)))
}

func (b *Bot) handleAutocomplete(i *discordgo.Interaction) {
	data := i.ApplicationCommandData()
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, power.MaxChoices)

	if p, ok := b.app.PanelByCommand(data.Name); ok && p.Command == data.Name {
		if focused := focusedOption(data.Options); focused != nil && focused.Name == optionServer {
			ctx, cancel := context.WithTimeout(context.Background(), autocompleteTimeout)
			for _, c := range p.Suggester.Suggest(ctx, interactionUserID(i), focused.StringValue()) {
				choices = append(choices, &discordgo.ApplicationCommandOptionChoice{
					Name:  truncate(c.Label, maxChoiceName),
					Value: c.Value,
				})
			}
			cancel()
		}
	}
	metrics.IncAutocomplete(data.Name, len(choices))

	if err := b.session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices},
	}); err != nil {
		b.logger.Debug("discord.autocomplete_respond_failed", zap.Error(err))
	}
}

// takeCooldown starts the user's cooldown for command, replying with the
// remaining wait when it is still running.
func (b *Bot) takeCooldown(i *discordgo.Interaction, command, user string) bool {
	ok, wait := b.cooldowns.Take(command, user)
	if ok {
		return true
	}
	metrics.IncCommand(command, "cooldown")
	secs := int(math.Ceil(wait.Seconds()))
	b.respond(i, warningEmbed("Slow down",
		fmt.Sprintf("Please wait %d more second(s) before reusing `/%s`.", secs, command)))
	return false
}

func (b *Bot) recoverInteraction(i *discordgo.Interaction, r any) {
	user := interactionUserID(i)
	command := ""
	if i.Type == discordgo.InteractionApplicationCommand || i.Type == discordgo.InteractionApplicationCommandAutocomplete {
		command = i.ApplicationCommandData().Name
	}
	b.logger.Error("discord.handler_panic", zap.String("command", command), zap.Any("panic", r))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.app.Reporter.Report(ctx, report.Failure{
		UserID:  user,
		Command: command,
		Kind:    report.KindUnexpected,
		Err:     fmt.Errorf("panic in handler: %v", r),
	})

	if i.Type == discordgo.InteractionApplicationCommand {
		// the interaction may already be deferred; try both paths
		if err := b.session.InteractionRespond(i, ephemeral(errorEmbed(genericFailure))); err != nil {
			b.edit(i, errorEmbed(genericFailure))
		}
	}
}

func (b *Bot) respond(i *discordgo.Interaction, e *discordgo.MessageEmbed) {
	if err := b.session.InteractionRespond(i, ephemeral(e)); err != nil {
		b.logger.Warn("discord.respond_failed", zap.Error(err))
	}
}

func (b *Bot) edit(i *discordgo.Interaction, e *discordgo.MessageEmbed) {
	embeds := []*discordgo.MessageEmbed{e}
	if _, err := b.session.InteractionResponseEdit(i, &discordgo.WebhookEdit{Embeds: &embeds}); err != nil {
		b.logger.Warn("discord.edit_failed", zap.Error(err))
	}
}

func ephemeral(e *discordgo.MessageEmbed) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{e},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	}
}

func interactionUserID(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func stringOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, o := range opts {
		if o.Name == name && o.Type == discordgo.ApplicationCommandOptionString {
			return o.StringValue()
		}
	}
	return ""
}

// focusedOption finds the option being typed, looking inside subcommands.
func focusedOption(opts []*discordgo.ApplicationCommandInteractionDataOption) *discordgo.ApplicationCommandInteractionDataOption {
	for _, o := range opts {
		if o.Focused {
			return o
		}
		if o.Type == discordgo.ApplicationCommandOptionSubCommand {
			if f := focusedOption(o.Options); f != nil {
				return f
			}
		}
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
