package assistant

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestAssistant(t testing.TB, generator Generator) (*Assistant, *mockDiscordSession) {
	t.Helper()
	cfg := DefaultTestConfig(t)
	writeKnowledge(t, cfg, testKnowledge)

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)

	session := newMockDiscordSession()
	a.discord.session = session
	a.router.generator = generator
	return a, session
}

func startAssistant(t testing.TB, a *Assistant, session *mockDiscordSession) (
	context.CancelFunc,
	<-chan error,
) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	runErr := make(chan error, 1)
	go func() {
		runErr <- a.Run(ctx)
	}()

	require.Eventually(
		t, func() bool {
			session.mu.Lock()
			defer session.mu.Unlock()
			return session.opened
		},
		5*time.Second,
		10*time.Millisecond,
	)
	session.emit(
		&discordgo.Ready{
			SessionID: "s1",
			User:      &discordgo.User{ID: testBotUserID, Username: "helper"},
		},
	)
	return cancel, runErr
}

func waitRun(t testing.TB, runErr <-chan error) error {
	t.Helper()
	select {
	case err := <-runErr:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for Run to return")
		return nil
	}
}

func TestRun(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	generator := &stubGenerator{answer: "Every Friday at 6pm."}
	a, session := newTestAssistant(t, generator)
	cancel, runErr := startAssistant(t, a, session)

	assert.Equal(t, testBotUserID, a.discord.BotUserID())
	assert.True(t, a.Knowledge().Ready())
	assert.Equal(t, DefaultDiscordGatewayIntents, session.identify.Intents)

	m := newTestMessage(testQuestionsChannelID, "someone", "When is the meetup?")
	session.emit(&discordgo.MessageCreate{Message: m})

	require.Eventually(
		t, func() bool { return len(session.Replies()) == 1 },
		5*time.Second,
		10*time.Millisecond,
	)
	assert.Equal(t, "Every Friday at 6pm.", session.Replies()[0].Content)

	// the bot's own answers are ignored
	own := newTestMessage(testQuestionsChannelID, testBotUserID, "anything else?")
	session.emit(&discordgo.MessageCreate{Message: own})

	cancel()
	require.NoError(t, waitRun(t, runErr))
	assert.Len(t, generator.Prompts(), 1)
	assert.True(t, session.closed)
	assert.Empty(t, a.discord.discordgoRemoveHandlerFuncs)

	// messages arriving after shutdown aren't handled
	a.dispatch(context.Background(), m)
	assert.Len(t, generator.Prompts(), 1)
}

func TestRun_BackgroundServices(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := DefaultTestConfig(t)
	cfg.KeepAlive.Enabled = true
	cfg.KeepAlive.Listen = "127.0.0.1:0"
	cfg.Knowledge.Watch = true
	cfg.Knowledge.WatchDebounce = 10 * time.Millisecond
	writeKnowledge(t, cfg, testKnowledge)

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	session := newMockDiscordSession()
	a.discord.session = session
	a.router.generator = &stubGenerator{answer: "ok"}

	cancel, runErr := startAssistant(t, a, session)

	require.Eventually(
		t, func() bool {
			_ = os.WriteFile(cfg.Knowledge.File, []byte("updated knowledge"), 0o600)
			return a.Knowledge().Text() == "updated knowledge"
		},
		5*time.Second,
		50*time.Millisecond,
	)

	cancel()
	require.NoError(t, waitRun(t, runErr))
	assert.True(t, session.closed)
}

func TestRun_ZeroShutdownTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	// with nothing in flight, an already-expired deadline is still a
	// clean shutdown
	for i := 0; i < 10; i++ {
		a, session := newTestAssistant(t, &stubGenerator{answer: "ok"})
		a.config.ShutdownTimeout = 0
		cancel, runErr := startAssistant(t, a, session)

		cancel()
		require.NoError(t, waitRun(t, runErr), "run %d", i)
		assert.True(t, session.closed)
	}
}

func TestRun_ShutdownTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	started := make(chan struct{}, 1)
	generator := GeneratorFunc(
		func(ctx context.Context, _ string) (string, error) {
			started <- struct{}{}
			<-ctx.Done()
			return "", ctx.Err()
		},
	)
	a, session := newTestAssistant(t, generator)
	a.config.ShutdownTimeout = 100 * time.Millisecond
	cancel, runErr := startAssistant(t, a, session)

	session.emit(
		&discordgo.MessageCreate{
			Message: newTestMessage(testQuestionsChannelID, "someone", "Still there?"),
		},
	)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("generator not called")
	}

	cancel()
	assert.ErrorIs(t, waitRun(t, runErr), ErrShutdownTimeout)
	assert.Empty(t, session.Replies())
}

func TestRun_RecoversFromPanic(t *testing.T) {
	generator := GeneratorFunc(
		func(context.Context, string) (string, error) {
			panic("generator exploded")
		},
	)
	a, session := newTestAssistant(t, generator)
	cancel, runErr := startAssistant(t, a, session)

	session.emit(
		&discordgo.MessageCreate{
			Message: newTestMessage(testQuestionsChannelID, "someone", "Boom?"),
		},
	)
	cancel()
	require.NoError(t, waitRun(t, runErr))
	assert.Empty(t, session.Replies())
}

func TestRun_InvalidConfig(t *testing.T) {
	a, session := newTestAssistant(t, &stubGenerator{})
	a.config.Discord.Token = ""

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.False(t, session.opened)
}

func TestRun_OpenError(t *testing.T) {
	a, session := newTestAssistant(t, &stubGenerator{})
	session.openErr = errors.New("authentication failed")

	err := a.Run(context.Background())
	require.ErrorIs(t, err, session.openErr)
	assert.Empty(t, a.discord.discordgoRemoveHandlerFuncs)
}

func TestRun_MissingKnowledge(t *testing.T) {
	generator := &stubGenerator{answer: "Friday"}
	a, session := newTestAssistant(t, generator)
	a.config.Knowledge.File += ".missing"
	a.knowledge = NewKnowledgeStore(a.config.Knowledge.File, nil)
	a.router.knowledge = a.knowledge

	cancel, runErr := startAssistant(t, a, session)
	assert.False(t, a.Knowledge().Ready())

	m := newTestMessage(testQuestionsChannelID, "someone", "When?")
	session.emit(&discordgo.MessageCreate{Message: m})

	cancel()
	require.NoError(t, waitRun(t, runErr))
	assert.Empty(t, generator.Prompts())
}

func TestAssistant_Ask(t *testing.T) {
	ctx := context.Background()
	generator := &stubGenerator{answer: "Fridays."}
	a, _ := newTestAssistant(t, generator)

	_, _, err := a.Ask(ctx, "when?")
	require.Error(t, err, "knowledge isn't loaded until Run or Load")

	require.True(t, a.Knowledge().Load(ctx))
	answer, missed, err := a.Ask(ctx, "when?")
	require.NoError(t, err)
	assert.False(t, missed)
	assert.Equal(t, "Fridays.", answer)

	generator.answer = " SILENCE "
	answer, missed, err = a.Ask(ctx, "parking?")
	require.NoError(t, err)
	assert.True(t, missed)
	assert.Empty(t, answer)

	generator.err = ErrEmptyResponse
	_, _, err = a.Ask(ctx, "parking?")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestAssistant_Prompt(t *testing.T) {
	a, _ := newTestAssistant(t, &stubGenerator{})
	require.True(t, a.Knowledge().Load(context.Background()))

	prompt := a.Prompt([]string{"someone: when?"}, "when?")
	assert.Contains(t, prompt, testKnowledge)
	assert.Contains(t, prompt, "someone: when?")
}

func TestNew_KeepAlive(t *testing.T) {
	cfg := DefaultTestConfig(t)
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, a.keepAlive)

	cfg = DefaultTestConfig(t)
	cfg.KeepAlive.Enabled = true
	a, err = New(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, a.keepAlive)
}

func TestNew_UnknownMissMode(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.Misses.Mode = "database"
	_, err := New(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnknownMissMode)
}
