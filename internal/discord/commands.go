package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/vthunder/charbot/internal/engine"
)

// commandDefinitions are registered in every guild on ready.
func commandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "list",
			Description: "List registered bots",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "page",
				Description: "Which page of the list to display",
			}},
		},
		{
			Name:        "invite",
			Description: "Invite a bot to this channel",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "id",
				Description: "The bot's ID",
				Required:    true,
			}},
		},
		{
			Name:        "uninvite",
			Description: "Uninvite the current bot from this channel",
		},
		{
			Name:        "fence",
			Description: "Create a fence - Bots won't see any messages on the other side of the fence",
		},
	}
}

// parseCommand maps slash command data onto the engine's command set.
func parseCommand(data discordgo.ApplicationCommandInteractionData) (engine.Command, error) {
	switch data.Name {
	case "invite":
		for _, opt := range data.Options {
			if opt.Name == "id" && opt.Type == discordgo.ApplicationCommandOptionString {
				return engine.Invite{PersonaID: opt.StringValue()}, nil
			}
		}
		return engine.Invite{}, nil
	case "uninvite":
		return engine.Uninvite{}, nil
	case "list":
		for _, opt := range data.Options {
			if opt.Name == "page" && opt.Type == discordgo.ApplicationCommandOptionInteger {
				return engine.List{Page: int(opt.IntValue())}, nil
			}
		}
		return engine.List{}, nil
	case "fence":
		return engine.Fence{}, nil
	default:
		return nil, fmt.Errorf("unknown command %q", data.Name)
	}
}

// toResponse renders an engine reply as interaction response data.
func toResponse(reply engine.Reply) *discordgo.InteractionResponseData {
	data := &discordgo.InteractionResponseData{Content: reply.Content}
	if reply.Title == "" && reply.Description == "" && len(reply.Fields) == 0 {
		return data
	}

	embed := &discordgo.MessageEmbed{
		Title:       reply.Title,
		Description: reply.Description,
	}
	if reply.ImageURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: reply.ImageURL}
	}
	for _, f := range reply.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: true,
		})
	}
	data.Embeds = []*discordgo.MessageEmbed{embed}
	return data
}
