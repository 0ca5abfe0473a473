// Package discord connects the engine to the Discord gateway.
package discord

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/vthunder/charbot/internal/engine"
	"github.com/vthunder/charbot/internal/history"
	"github.com/vthunder/charbot/internal/logging"
)

// Intents are the gateway events the bot subscribes to.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildWebhooks |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsMessageContent

// MessageSource fetches recent channel messages, newest first.
type MessageSource interface {
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

// Owner recognises webhooks the bot posts through. Refresh re-reads a
// channel's webhooks by name.
type Owner interface {
	Owns(webhookID string) bool
	Refresh(channelID string) error
}

// Responder answers interactions. *discordgo.Session implements it.
type Responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// Gateway routes gateway events into the engine.
type Gateway struct {
	session   *discordgo.Session
	engine    *engine.Engine
	owner     Owner
	messages  MessageSource
	responder Responder
	// pool runs generations; commands has its own so a busy backend never
	// delays an interaction past Discord's response deadline.
	pool     *Pool
	commands *Pool
	ctx      context.Context
	status   string
	botID    atomic.Value
}

// Config holds gateway settings.
type Config struct {
	Workers int
	// Status is shown as the bot's activity, usually the loaded model name.
	Status string
}

// NewSession builds an unopened session carrying the bot's intents.
func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Identify.Intents = Intents
	return session, nil
}

// NewGateway registers the event handlers on session. ctx bounds every
// task started from an event.
func NewGateway(ctx context.Context, session *discordgo.Session, eng *engine.Engine, owner Owner, cfg Config) *Gateway {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	g := &Gateway{
		session:   session,
		engine:    eng,
		owner:     owner,
		messages:  session,
		responder: session,
		pool:      NewPool(workers),
		commands:  NewPool(workers),
		ctx:       ctx,
		status:    cfg.Status,
	}
	session.AddHandler(g.handleReady)
	session.AddHandler(g.handleInteraction)
	session.AddHandler(g.handleMessage)
	return g
}

// Start connects to Discord.
func (g *Gateway) Start() error {
	if err := g.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}
	g.botID.Store(g.session.State.User.ID)
	logging.Info("discord", "Connected as %s", g.session.State.User.Username)
	return nil
}

// Stop disconnects and waits for in-flight tasks.
func (g *Gateway) Stop() error {
	err := g.session.Close()
	g.commands.Wait()
	g.pool.Wait()
	return err
}

func (g *Gateway) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	g.botID.Store(r.User.ID)
	if g.status != "" {
		if err := s.UpdateGameStatus(0, g.status); err != nil {
			logging.Warn("discord", "Failed to set status: %v", err)
		}
	}

	defs := commandDefinitions()
	for _, guild := range r.Guilds {
		if _, err := s.ApplicationCommandBulkOverwrite(r.User.ID, guild.ID, defs); err != nil {
			logging.Error("discord", err, "Failed to register commands in guild %s", guild.ID)
			continue
		}
		logging.Debug("discord", "Registered %d commands in guild %s", len(defs), guild.ID)
	}
	logging.Info("discord", "Ready in %d guilds", len(r.Guilds))
}

func (g *Gateway) handleInteraction(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	g.commands.Go("command:"+data.Name, func() error {
		return g.answer(i.Interaction, data)
	})
}

// answer responds to the interaction first and only then runs the reply's
// follow-up work.
func (g *Gateway) answer(interaction *discordgo.Interaction, data discordgo.ApplicationCommandInteractionData) error {
	reply := g.runCommand(interaction.ChannelID, data)
	err := g.responder.InteractionRespond(interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: toResponse(reply),
	})
	if err != nil {
		logging.Error("discord", err, "Failed to respond to /%s in %s", data.Name, interaction.ChannelID)
	}

	if reply.Followup != nil {
		if ferr := reply.Followup(); ferr != nil {
			logging.Error("discord", ferr, "/%s follow-up failed in %s", data.Name, interaction.ChannelID)
			return ferr
		}
	}
	return err
}

func (g *Gateway) runCommand(channelID string, data discordgo.ApplicationCommandInteractionData) engine.Reply {
	cmd, err := parseCommand(data)
	if err != nil {
		logging.Warn("discord", "Ignoring command in %s: %v", channelID, err)
		return engine.Reply{Content: "Command not implemented"}
	}
	reply, err := g.engine.Execute(g.ctx, channelID, cmd)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrPersonaNotFound), errors.Is(err, engine.ErrBindingAbsent):
		logging.Debug("discord", "/%s in %s: %v", engine.Name(cmd), channelID, err)
	default:
		logging.Error("discord", err, "/%s failed in %s", engine.Name(cmd), channelID)
	}
	return reply
}

func (g *Gateway) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == g.selfID() {
		return
	}
	if !g.engine.Bound(m.ChannelID) {
		return
	}
	channelID := m.ChannelID
	g.pool.Go("message:"+channelID, func() error {
		return g.respond(channelID)
	})
}

// respond answers the newest message in channelID.
func (g *Gateway) respond(channelID string) error {
	msgs, err := g.messages.ChannelMessages(channelID, g.engine.HistoryLimit(), "", "", "")
	if err != nil {
		logging.Error("discord", err, "Failed to fetch history for %s", channelID)
		return err
	}
	g.recognize(channelID, msgs)

	err = g.engine.HandleMessage(g.ctx, channelID, toEntries(msgs, g.isSelf))
	switch {
	case err == nil:
	case engine.IsSkip(err):
		logging.Debug("discord", "Skipped %s: %v", channelID, err)
	default:
		logging.Error("discord", err, "Failed to answer in %s", channelID)
	}
	return err
}

func (g *Gateway) selfID() string {
	id, _ := g.botID.Load().(string)
	return id
}

// recognize refreshes the owner's webhook cache when history holds a
// webhook message it does not know, so replies posted before a restart are
// still treated as self-authored.
func (g *Gateway) recognize(channelID string, msgs []*discordgo.Message) {
	if g.owner == nil {
		return
	}
	for _, m := range msgs {
		if m == nil || m.WebhookID == "" || g.owner.Owns(m.WebhookID) {
			continue
		}
		if err := g.owner.Refresh(channelID); err != nil {
			logging.Warn("discord", "Failed to refresh webhooks for %s: %v", channelID, err)
		}
		return
	}
}

func (g *Gateway) isSelf(m *discordgo.Message) bool {
	if id := g.selfID(); m.Author != nil && id != "" && m.Author.ID == id {
		return true
	}
	return m.WebhookID != "" && g.owner != nil && g.owner.Owns(m.WebhookID)
}

// toEntries converts Discord messages, newest first, into history entries.
func toEntries(msgs []*discordgo.Message, isSelf func(*discordgo.Message) bool) []history.Entry {
	entries := make([]history.Entry, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		speaker := ""
		if m.Author != nil {
			speaker = m.Author.Username
		}
		entries = append(entries, history.Entry{
			Speaker: speaker,
			Content: m.ContentWithMentionsReplaced(),
			Self:    isSelf(m),
		})
	}
	return entries
}
