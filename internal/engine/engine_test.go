package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vthunder/charbot/internal/history"
	"github.com/vthunder/charbot/internal/identity"
	"github.com/vthunder/charbot/internal/logging"
	"github.com/vthunder/charbot/internal/persona"
	"github.com/vthunder/charbot/internal/prompt"
	"github.com/vthunder/charbot/internal/session"
	"github.com/vthunder/charbot/internal/textgen"
)

func TestMain(m *testing.M) {
	logging.SetOutput(io.Discard)
	goleak.VerifyTestMain(m)
}

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
	block   chan struct{}
	model   string
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	block := g.block
	g.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", textgen.ErrTimeout, ctx.Err())
		}
	}
	return g.reply, g.err
}

func (g *fakeGenerator) CheckModel(context.Context) (string, error) {
	return g.model, nil
}

type delivery struct {
	channel, name, avatar, text string
}

type fakeIdentities struct {
	mu          sync.Mutex
	delivered   []delivery
	present     map[string]bool
	deliverErr  error
	teardownErr error
}

func newFakeIdentities() *fakeIdentities {
	return &fakeIdentities{present: make(map[string]bool)}
}

func (f *fakeIdentities) Deliver(channelID, username, avatarURL, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deliverErr != nil {
		return f.deliverErr
	}
	f.present[channelID] = true
	f.delivered = append(f.delivered, delivery{channelID, username, avatarURL, text})
	return nil
}

func (f *fakeIdentities) Teardown(channelID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.teardownErr != nil {
		return false, f.teardownErr
	}
	existed := f.present[channelID]
	delete(f.present, channelID)
	return existed, nil
}

type fakeTyper struct {
	calls atomic.Int32
}

func (f *fakeTyper) ChannelTyping(string, ...discordgo.RequestOption) error {
	f.calls.Add(1)
	return nil
}

type fixture struct {
	engine     *Engine
	registry   *session.Registry
	gen        *fakeGenerator
	identities *fakeIdentities
	typer      *fakeTyper
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	catalog := persona.NewCatalog(
		persona.Entry{ID: "ada", Persona: persona.Persona{Name: "Ada", Description: "Mathematician", Persona: "Precise.", AvatarURL: "ada.png"}},
		persona.Entry{ID: "grace", Persona: persona.Persona{Name: "Grace", Description: "Admiral", AvatarURL: "grace.png"}},
	)
	f := &fixture{
		registry:   session.NewRegistry(),
		gen:        &fakeGenerator{reply: "Hello!"},
		identities: newFakeIdentities(),
		typer:      &fakeTyper{},
	}
	if cfg.History.Limit == 0 {
		cfg.History = history.DefaultOptions()
	}
	f.engine = New(Deps{
		Catalog:    catalog,
		Registry:   f.registry,
		Renderer:   prompt.NewRenderer("[[NAME]]: [[PERSONA]]\n[[CONTEXT]]\n[[NAME]]:"),
		Generator:  f.gen,
		Identities: f.identities,
		Typer:      f.typer,
	}, cfg)
	return f
}

var userTurn = []history.Entry{{Speaker: "bob", Content: "hi Ada"}}

func TestInviteBinds(t *testing.T) {
	f := newFixture(t, Config{})
	reply, err := f.engine.Execute(context.Background(), "chan", Invite{PersonaID: "ada"})
	require.NoError(t, err)
	assert.Equal(t, "Bot invited!", reply.Title)
	assert.Equal(t, "ada.png", reply.ImageURL)

	got, ok := f.registry.Lookup("chan")
	assert.True(t, ok)
	assert.Equal(t, "ada", got)
}

func TestInviteUnknownPersona(t *testing.T) {
	f := newFixture(t, Config{})
	reply, err := f.engine.Execute(context.Background(), "chan", Invite{PersonaID: "nobody"})
	assert.ErrorIs(t, err, ErrPersonaNotFound)
	assert.Equal(t, "The selected bot ID doesn't exist!", reply.Content)

	_, ok := f.registry.Lookup("chan")
	assert.False(t, ok)
}

func TestReinviteOverwritesWithoutTeardown(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, err := f.engine.Execute(ctx, "chan", Invite{PersonaID: "ada"})
	require.NoError(t, err)
	require.NoError(t, f.engine.HandleMessage(ctx, "chan", userTurn))

	_, err = f.engine.Execute(ctx, "chan", Invite{PersonaID: "grace"})
	require.NoError(t, err)

	got, _ := f.registry.Lookup("chan")
	assert.Equal(t, "grace", got)
	assert.True(t, f.identities.present["chan"], "identity survives re-invite")
}

func TestUninviteTearsDownIdentity(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.registry.Bind("chan", "ada")
	require.NoError(t, f.engine.HandleMessage(ctx, "chan", userTurn))
	require.True(t, f.identities.present["chan"])

	reply, err := f.engine.Execute(ctx, "chan", Uninvite{})
	require.NoError(t, err)
	assert.Equal(t, "Bot uninvited!", reply.Content)

	_, ok := f.registry.Lookup("chan")
	assert.False(t, ok)
	assert.True(t, f.identities.present["chan"], "identity is removed only by the follow-up")

	require.NotNil(t, reply.Followup)
	require.NoError(t, reply.Followup())
	assert.False(t, f.identities.present["chan"])
}

func TestUninviteFollowupReportsIdentityFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.registry.Bind("chan", "ada")
	f.identities.teardownErr = fmt.Errorf("%w: discord down", identity.ErrIdentity)

	reply, err := f.engine.Execute(context.Background(), "chan", Uninvite{})
	require.NoError(t, err)
	assert.ErrorIs(t, reply.Followup(), identity.ErrIdentity)
}

func TestUninviteWithoutBinding(t *testing.T) {
	f := newFixture(t, Config{})
	reply, err := f.engine.Execute(context.Background(), "chan", Uninvite{})
	assert.ErrorIs(t, err, ErrBindingAbsent)
	assert.Equal(t, "There is no active bot in this channel!", reply.Content)
}

func TestListAndFence(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	reply, err := f.engine.Execute(ctx, "chan", List{})
	require.NoError(t, err)
	require.Len(t, reply.Fields, 2)
	assert.Equal(t, "Ada", reply.Fields[0].Name)
	assert.Equal(t, "`/invite ada`\nMathematician", reply.Fields[0].Value)

	reply, err = f.engine.Execute(ctx, "chan", List{Page: 1})
	require.NoError(t, err)
	require.Len(t, reply.Fields, 1)
	assert.Equal(t, "Grace", reply.Fields[0].Name)

	reply, err = f.engine.Execute(ctx, "chan", Fence{})
	require.NoError(t, err)
	assert.Equal(t, history.FenceMessage, reply.Content)
}

func TestHandleMessageDelivers(t *testing.T) {
	f := newFixture(t, Config{})
	f.registry.Bind("chan", "ada")

	entries := []history.Entry{
		{Speaker: "bob", Content: "what's 2+2?"},
		{Speaker: "Ada", Content: "old reply", Self: true},
		{Speaker: "ann", Content: "hey"},
	}
	require.NoError(t, f.engine.HandleMessage(context.Background(), "chan", entries))

	require.Len(t, f.gen.prompts, 1)
	assert.Equal(t, "Ada: Precise.\nann: hey\nbob: what's 2+2?\nAda:", f.gen.prompts[0])
	require.Len(t, f.identities.delivered, 1)
	assert.Equal(t, delivery{"chan", "Ada", "ada.png", "Hello!"}, f.identities.delivered[0])
	assert.GreaterOrEqual(t, f.typer.calls.Load(), int32(1))
}

func TestHandleMessageSkips(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	err := f.engine.HandleMessage(ctx, "chan", userTurn)
	assert.ErrorIs(t, err, ErrBindingAbsent)
	assert.True(t, IsSkip(err))

	f.registry.Bind("chan", "ada")
	err = f.engine.HandleMessage(ctx, "chan", []history.Entry{{Speaker: "Ada", Content: history.FenceMessage, Self: true}, {Speaker: "bob", Content: "old"}})
	assert.ErrorIs(t, err, ErrEmptyWindow)
	assert.True(t, IsSkip(err))

	assert.Empty(t, f.gen.prompts)
	assert.Empty(t, f.identities.delivered)
}

func TestHandleMessageUnknownBoundPersona(t *testing.T) {
	f := newFixture(t, Config{})
	f.registry.Bind("chan", "ghost")

	err := f.engine.HandleMessage(context.Background(), "chan", userTurn)
	assert.ErrorIs(t, err, ErrPersonaNotFound)
	assert.False(t, IsSkip(err))
}

func TestHandleMessageTimeoutLeavesNoState(t *testing.T) {
	f := newFixture(t, Config{TypingInterval: 5 * time.Millisecond})
	f.registry.Bind("chan", "ada")
	f.gen.block = make(chan struct{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := f.engine.HandleMessage(ctx, "chan", userTurn)
	assert.ErrorIs(t, err, textgen.ErrTimeout)
	assert.Empty(t, f.identities.delivered)
	assert.False(t, f.identities.present["chan"], "no identity created for a timed out request")

	// The typing refresher has exited: no more calls after return.
	calls := f.typer.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, f.typer.calls.Load())
}

func TestHandleMessageBackendErrors(t *testing.T) {
	for _, backendErr := range []error{textgen.ErrUnreachable, textgen.ErrMalformedResponse} {
		t.Run(backendErr.Error(), func(t *testing.T) {
			f := newFixture(t, Config{})
			f.registry.Bind("chan", "ada")
			f.gen.err = backendErr

			err := f.engine.HandleMessage(context.Background(), "chan", userTurn)
			assert.ErrorIs(t, err, backendErr)
			assert.Empty(t, f.identities.delivered)
		})
	}
}

func TestHandleMessageEmptyCompletionIsMalformed(t *testing.T) {
	f := newFixture(t, Config{})
	f.registry.Bind("chan", "ada")
	f.gen.reply = "  \n"

	err := f.engine.HandleMessage(context.Background(), "chan", userTurn)
	assert.ErrorIs(t, err, textgen.ErrMalformedResponse)
}

func TestHandleMessageFallbackReply(t *testing.T) {
	f := newFixture(t, Config{FallbackReply: "*stares blankly*"})
	f.registry.Bind("chan", "ada")
	f.gen.err = textgen.ErrUnreachable

	require.NoError(t, f.engine.HandleMessage(context.Background(), "chan", userTurn))
	require.Len(t, f.identities.delivered, 1)
	assert.Equal(t, "*stares blankly*", f.identities.delivered[0].text)
}

func TestHandleMessageDiscardsAfterUninvite(t *testing.T) {
	f := newFixture(t, Config{})
	f.registry.Bind("chan", "ada")
	f.gen.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- f.engine.HandleMessage(context.Background(), "chan", userTurn)
	}()

	require.Eventually(t, func() bool {
		f.gen.mu.Lock()
		defer f.gen.mu.Unlock()
		return len(f.gen.prompts) == 1
	}, time.Second, time.Millisecond)

	_, err := f.engine.Execute(context.Background(), "chan", Uninvite{})
	require.NoError(t, err)
	close(f.gen.block)

	err = <-done
	assert.ErrorIs(t, err, ErrBindingChanged)
	assert.True(t, IsSkip(err))
	assert.Empty(t, f.identities.delivered)
}

func TestHandleMessageDeliveryFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.registry.Bind("chan", "ada")
	f.identities.deliverErr = errors.New("webhook gone")

	err := f.engine.HandleMessage(context.Background(), "chan", userTurn)
	assert.Error(t, err)
	assert.False(t, IsSkip(err))
}

func TestConcurrentChannels(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		ch := fmt.Sprintf("chan-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Execute(ctx, ch, Invite{PersonaID: "ada"})
			assert.NoError(t, err)
			assert.NoError(t, f.engine.HandleMessage(ctx, ch, userTurn))
			reply, err := f.engine.Execute(ctx, ch, Uninvite{})
			assert.NoError(t, err)
			assert.NoError(t, reply.Followup())
		}()
	}
	wg.Wait()

	assert.Len(t, f.identities.delivered, 20)
	assert.Equal(t, 0, f.registry.Len())
}

func TestCheckBackend(t *testing.T) {
	f := newFixture(t, Config{})
	f.gen.model = "pygmalion-6b"
	model, err := f.engine.CheckBackend(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pygmalion-6b", model)
}

func TestCommandNames(t *testing.T) {
	assert.Equal(t, "invite", Name(Invite{}))
	assert.Equal(t, "uninvite", Name(Uninvite{}))
	assert.Equal(t, "list", Name(List{}))
	assert.Equal(t, "fence", Name(Fence{}))
}
