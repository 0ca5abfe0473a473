// Package engine ties the catalog, registry, history window, prompt,
// generation backend and reply identities together.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/vthunder/charbot/internal/history"
	"github.com/vthunder/charbot/internal/logging"
	"github.com/vthunder/charbot/internal/metrics"
	"github.com/vthunder/charbot/internal/persona"
	"github.com/vthunder/charbot/internal/session"
	"github.com/vthunder/charbot/internal/textgen"
)

var (
	// ErrPersonaNotFound is returned for ids missing from the catalog.
	ErrPersonaNotFound = persona.ErrNotFound
	// ErrBindingAbsent is returned when the channel has no persona.
	ErrBindingAbsent = errors.New("no persona bound to channel")
	// ErrEmptyWindow is returned when history holds no user turn to answer.
	ErrEmptyWindow = errors.New("no conversation to respond to")
	// ErrBindingChanged is returned when the channel was uninvited or
	// re-invited while a reply was being generated.
	ErrBindingChanged = errors.New("binding changed during generation")
)

// IsSkip reports whether err means "nothing to do" rather than a failure.
func IsSkip(err error) bool {
	return errors.Is(err, ErrBindingAbsent) ||
		errors.Is(err, ErrEmptyWindow) ||
		errors.Is(err, ErrBindingChanged)
}

// ListPageSize is the most personas shown by one list command.
const ListPageSize = 25

// DefaultTypingInterval refreshes the typing indicator before Discord's
// ten second expiry.
const DefaultTypingInterval = 8 * time.Second

// Generator produces completions.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	CheckModel(ctx context.Context) (string, error)
}

// Renderer turns a persona and window into a prompt.
type Renderer interface {
	Render(p persona.Persona, window []history.Utterance) (string, error)
}

// Identities posts replies and removes channel identities.
type Identities interface {
	Deliver(channelID, username, avatarURL, text string) error
	Teardown(channelID string) (bool, error)
}

// Typer shows the typing indicator. *discordgo.Session implements it.
type Typer interface {
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

// Config tunes the engine.
type Config struct {
	History history.Options
	// FallbackReply, when set, is posted instead of dropping a message whose
	// generation failed.
	FallbackReply  string
	TypingInterval time.Duration
}

// Deps are the engine's collaborators.
type Deps struct {
	Catalog    *persona.Catalog
	Registry   *session.Registry
	Renderer   Renderer
	Generator  Generator
	Identities Identities
	Typer      Typer
}

// Engine runs commands and answers messages.
type Engine struct {
	catalog    *persona.Catalog
	registry   *session.Registry
	renderer   Renderer
	gen        Generator
	identities Identities
	typer      Typer
	cfg        Config
}

// New creates an engine.
func New(deps Deps, cfg Config) *Engine {
	if cfg.TypingInterval <= 0 {
		cfg.TypingInterval = DefaultTypingInterval
	}
	registry := deps.Registry
	if registry == nil {
		registry = session.NewRegistry()
	}
	return &Engine{
		catalog:    deps.Catalog,
		registry:   registry,
		renderer:   deps.Renderer,
		gen:        deps.Generator,
		identities: deps.Identities,
		typer:      deps.Typer,
		cfg:        cfg,
	}
}

// HistoryLimit is the number of recent messages the engine looks at.
func (e *Engine) HistoryLimit() int {
	return e.cfg.History.Limit
}

// Bound reports whether a persona is bound to the channel.
func (e *Engine) Bound(channelID string) bool {
	_, ok := e.registry.Lookup(channelID)
	return ok
}

// CheckBackend returns the backend's loaded model name.
func (e *Engine) CheckBackend(ctx context.Context) (string, error) {
	return e.gen.CheckModel(ctx)
}

// Execute runs a command for a channel. The reply is always meant for the
// user; err classifies the outcome for logging. Work that may be slow, such
// as removing the channel identity, is left in Reply.Followup.
func (e *Engine) Execute(_ context.Context, channelID string, cmd Command) (Reply, error) {
	switch c := cmd.(type) {
	case Invite:
		return e.invite(channelID, c.PersonaID)
	case Uninvite:
		return e.uninvite(channelID)
	case List:
		return e.list(c.Page), nil
	case Fence:
		return Reply{Content: history.FenceMessage}, nil
	default:
		return Reply{Content: "Command not implemented"}, fmt.Errorf("unknown command %T", cmd)
	}
}

func (e *Engine) invite(channelID, personaID string) (Reply, error) {
	if personaID == "" {
		return Reply{Content: "Expected bot ID!"}, fmt.Errorf("%w: empty id", ErrPersonaNotFound)
	}
	p, err := e.catalog.Get(personaID)
	if err != nil {
		return Reply{Content: "The selected bot ID doesn't exist!"}, err
	}

	e.registry.Bind(channelID, personaID)
	metrics.SetBindings(e.registry.Len())
	logging.Info("engine", "Invited %s (%s) to channel %s", p.Name, personaID, channelID)

	return Reply{
		Title:       "Bot invited!",
		Description: p.Name + " will now respond in this channel!",
		ImageURL:    p.AvatarURL,
	}, nil
}

func (e *Engine) uninvite(channelID string) (Reply, error) {
	if !e.registry.Unbind(channelID) {
		return Reply{Content: "There is no active bot in this channel!"}, ErrBindingAbsent
	}
	metrics.SetBindings(e.registry.Len())
	logging.Info("engine", "Uninvited bot from channel %s", channelID)

	return Reply{
		Content: "Bot uninvited!",
		Followup: func() error {
			if _, err := e.identities.Teardown(channelID); err != nil {
				return fmt.Errorf("teardown identity in %s: %w", channelID, err)
			}
			return nil
		},
	}, nil
}

func (e *Engine) list(start int) Reply {
	reply := Reply{
		Title:       "Bot profile List",
		Description: "Use `/invite` to invite one of these bots to the current channel!",
	}
	for _, entry := range e.catalog.Page(start, ListPageSize) {
		reply.Fields = append(reply.Fields, Field{
			Name:  entry.Name,
			Value: "`/invite " + entry.ID + "`\n" + entry.Description,
		})
	}
	return reply
}

// HandleMessage answers the newest message of a channel. entries is the
// channel's recent log, newest first. Skips are reported with errors for
// which IsSkip is true.
func (e *Engine) HandleMessage(ctx context.Context, channelID string, entries []history.Entry) error {
	personaID, ok := e.registry.Lookup(channelID)
	if !ok {
		return ErrBindingAbsent
	}

	p, err := e.catalog.Get(personaID)
	if err != nil {
		// The catalog never shrinks, so this is a consistency fault.
		logging.Error("engine", err, "Channel %s is bound to %q which is not loaded", channelID, personaID)
		return fmt.Errorf("channel %s: %w", channelID, err)
	}

	window := history.Extract(entries, e.cfg.History)
	if !history.HasUserTurn(window) {
		return ErrEmptyWindow
	}

	promptText, err := e.renderer.Render(p, window)
	if err != nil {
		return fmt.Errorf("render prompt for %s: %w", personaID, err)
	}

	text, genErr := e.generate(ctx, channelID, promptText)
	if genErr != nil {
		if e.cfg.FallbackReply == "" {
			return genErr
		}
		logging.Warn("engine", "Generation failed in %s, sending fallback: %v", channelID, genErr)
		text = e.cfg.FallbackReply
	}

	if current, ok := e.registry.Lookup(channelID); !ok || current != personaID {
		metrics.ObserveGeneration(metrics.OutcomeDiscarded, 0)
		return ErrBindingChanged
	}

	err = e.identities.Deliver(channelID, p.Name, p.AvatarURL, text)
	metrics.ObserveDelivery(err)
	if err != nil {
		return fmt.Errorf("deliver reply for %s: %w", personaID, err)
	}
	logging.Debug("engine", "%s replied in %s: %s", p.Name, channelID, logging.Truncate(text, 80))
	return nil
}

// generate calls the backend with the typing indicator shown for the
// duration of the call only.
func (e *Engine) generate(ctx context.Context, channelID, promptText string) (string, error) {
	stop := e.startTyping(channelID)
	defer stop()

	start := time.Now()
	text, err := e.gen.Generate(ctx, promptText)
	metrics.ObserveGeneration(outcome(err), time.Since(start))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty completion", textgen.ErrMalformedResponse)
	}
	return text, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, textgen.ErrTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, textgen.ErrMalformedResponse):
		return metrics.OutcomeMalformed
	default:
		return metrics.OutcomeUnreachable
	}
}

// startTyping keeps the typing indicator alive until the returned func is
// called. The func waits for the refresh goroutine to exit.
func (e *Engine) startTyping(channelID string) func() {
	if e.typer == nil {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(e.cfg.TypingInterval)
		defer ticker.Stop()
		for {
			if err := e.typer.ChannelTyping(channelID); err != nil {
				logging.Debug("engine", "Typing indicator failed in %s: %v", channelID, err)
			}
			select {
			case <-done:
				return
			case <-ticker.C:
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}
