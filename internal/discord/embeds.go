package discord

import (
	"github.com/bwmarrin/discordgo"
)

const (
	colorSuccess = 0x57F287
	colorError   = 0xED4245
	colorWarning = 0xFEE75C
	colorInfo    = 0x5865F2
)

func embed(title, description string, color int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
	}
}

func successEmbed(description string) *discordgo.MessageEmbed {
	return embed("Success", description, colorSuccess)
}

func errorEmbed(description string) *discordgo.MessageEmbed {
	return embed("Error", description, colorError)
}

func warningEmbed(title, description string) *discordgo.MessageEmbed {
	return embed(title, description, colorWarning)
}

func infoEmbed(title, description string) *discordgo.MessageEmbed {
	return embed(title, description, colorInfo)
}
