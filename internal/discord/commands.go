package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/Checker-Finance/panelbot/internal/app"
	"github.com/Checker-Finance/panelbot/internal/power"
)

// Command and option names.
const (
	CommandRemoveKey = "remove-api-key"

	optionServer = "server"
	optionKey    = "key"
	optionPanel  = "panel"
)

// Commands builds the slash command definitions for the configured panels.
// DMPermission is left unset so every command also works in DMs.
func Commands(panels []*app.Panel) []*discordgo.ApplicationCommand {
	cmds := make([]*discordgo.ApplicationCommand, 0, 2*len(panels)+1)
	panelChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(panels))

	for _, p := range panels {
		cmds = append(cmds, powerCommand(p), &discordgo.ApplicationCommand{
			Name:        p.SetKeyCommand,
			Description: "Set your " + p.Target.Name + " panel API key",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        optionKey,
				Description: "Client API key from your " + p.Target.Name + " panel account page",
				Required:    true,
				MinLength:   intPtr(1),
				MaxLength:   255,
			}},
		})
		panelChoices = append(panelChoices, &discordgo.ApplicationCommandOptionChoice{
			Name:  p.Target.Name,
			Value: p.Target.Name,
		})
	}

	cmds = append(cmds, &discordgo.ApplicationCommand{
		Name:        CommandRemoveKey,
		Description: "Remove a stored panel API key",
		Options: []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        optionPanel,
			Description: "Which panel's key to remove",
			Required:    true,
			Choices:     panelChoices,
		}},
	})
	return cmds
}

func powerCommand(p *app.Panel) *discordgo.ApplicationCommand {
	subs := make([]*discordgo.ApplicationCommandOption, 0, len(power.Actions()))
	for _, a := range power.Actions() {
		subs = append(subs, &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        a.String(),
			Description: a.Description(),
			Options: []*discordgo.ApplicationCommandOption{{
				Type:         discordgo.ApplicationCommandOptionString,
				Name:         optionServer,
				Description:  "The server to " + a.String(),
				Required:     true,
				Autocomplete: true,
			}},
		})
	}
	return &discordgo.ApplicationCommand{
		Name:        p.Command,
		Description: "Manage servers on the " + p.Target.Name + " panel",
		Options:     subs,
	}
}

func intPtr(v int) *int { return &v }
