package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// ErrShutdownTimeout is returned by Run when message handlers are still
// running once the shutdown timeout elapses
var ErrShutdownTimeout = errors.New("message handlers did not stop in time")

// Assistant is the bot. It owns the knowledge store, the gateway session,
// the model client, and the optional keep-alive server and knowledge
// watcher.
//
// Example usage:
//
//	bot, err := assistant.New(ctx, cfg)
//	if err != nil {
//	    log.Fatalf("error creating assistant: %v", err)
//	}
//	if err = bot.Run(ctx); err != nil {
//	    log.Fatalf("error running assistant: %v", err)
//	}
type Assistant struct {
	config    *Config
	logger    *slog.Logger
	knowledge *KnowledgeStore
	discord   *Discord
	router    *Router
	keepAlive *KeepAlive

	// prevents concurrent runs
	runMu sync.Mutex

	// handlersMu guards accepting, so no handler is added to handlersWG
	// once shutdown has started waiting on it
	handlersMu sync.RWMutex
	accepting  bool
	handlersWG sync.WaitGroup

	// handlersActive counts message handlers that haven't returned yet
	handlersActive atomic.Int64
}

// New creates an Assistant from the given config. Config is validated by
// Run, not here, so commands that only need part of it (like building a
// prompt) can still construct one.
func New(ctx context.Context, config *Config) (*Assistant, error) {
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	logger := slog.New(newLogHandler(defaultLogWriter, config.LogLevel))
	slog.SetDefault(logger)

	a := &Assistant{config: config, logger: logger}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		newLogHandler(defaultLogWriter, config.Discord.DiscordGoLogLevel).WithAttrs(
			[]slog.Attr{slog.String(loggerNameKey, discordgoLoggerTag)},
		),
	)

	a.knowledge = NewKnowledgeStore(
		config.Knowledge.File,
		logger.With(loggerNameKey, "knowledge"),
	)

	a.discord = newDiscord(
		config.Discord,
		config.HTTPClient,
		newComponentLogger(defaultLogWriter, config.Discord.LogLevel, "discord"),
	)

	generator, err := NewGenerator(
		ctx,
		config.Model,
		config.HTTPClient,
		newComponentLogger(defaultLogWriter, config.Model.LogLevel, "model"),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating generator: %w", err)
	}

	misses, err := newMissRecorder(config.Misses, a.discord)
	if err != nil {
		return nil, fmt.Errorf("error creating miss recorder: %w", err)
	}

	a.router = newRouter(
		a.discord,
		config.Discord,
		a.knowledge,
		NewPromptBuilder(config.Prompt),
		generator,
		misses,
		newComponentLogger(defaultLogWriter, config.Discord.LogLevel, "router"),
	)

	if config.KeepAlive.Enabled {
		a.keepAlive = newKeepAlive(
			config.KeepAlive,
			a.discord,
			a.knowledge,
			newComponentLogger(defaultLogWriter, config.KeepAlive.LogLevel, "keepalive"),
		)
	}
	return a, nil
}

// Knowledge returns the bot's knowledge store
func (a *Assistant) Knowledge() *KnowledgeStore {
	return a.knowledge
}

// Prompt returns the prompt that would be sent to the model for the given
// question, with the given history lines
func (a *Assistant) Prompt(history []string, question string) string {
	return a.router.prompt.Build(a.knowledge.Text(), history, question)
}

// Ask runs the answer pipeline outside of discord, with no conversation
// history. It reports missed=true, with an empty answer, when the model
// replies with the sentinel. Nothing is recorded for misses.
func (a *Assistant) Ask(ctx context.Context, question string) (answer string, missed bool, err error) {
	knowledge := a.knowledge.Text()
	if knowledge == "" {
		return "", false, errors.New("no knowledge loaded")
	}
	prompt := a.router.prompt.Build(knowledge, []string{question}, question)
	answer, err = a.router.generator.Generate(ctx, prompt)
	if err != nil {
		return "", false, err
	}
	if a.router.prompt.IsSentinel(answer) {
		return "", true, nil
	}
	return answer, false, nil
}

// Run loads the knowledge file, connects to discord and handles messages
// until ctx is canceled. In-flight messages are then given up to
// Config.ShutdownTimeout to finish.
func (a *Assistant) Run(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	logger := a.logger
	if err := a.config.Validate(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}
	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", a.config))

	// a failed load leaves the bot connected but not answering, until an
	// admin fixes the file and reloads
	_ = a.knowledge.Load(ctx)

	// handlers get their own context, so in-flight answers aren't cut off
	// the moment shutdown starts
	handlerCtx, handlerCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer handlerCancel()

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	background := a.startBackground(bgCtx)

	if err := a.initDiscordSession(handlerCtx); err != nil {
		logger.ErrorContext(ctx, "error creating discord session", tint.Err(err))
		a.stopBackground(ctx, bgCancel, background)
		return err
	}

	if err := a.discord.session.Open(); err != nil {
		logger.ErrorContext(ctx, "error opening discord session", tint.Err(err))
		a.discord.removeHandlers()
		a.stopBackground(ctx, bgCancel, background)
		return fmt.Errorf("error opening discord session: %w", err)
	}
	logger.InfoContext(ctx, "discord session opened")

	<-ctx.Done()
	return a.shutdown(ctx, handlerCancel, bgCancel, background)
}

func (a *Assistant) initDiscordSession(ctx context.Context) error {
	if a.discord.session == nil {
		session, err := a.discord.newSession()
		if err != nil {
			return err
		}
		a.discord.session = session
	}
	a.discord.removeHandlers()

	a.discord.session.SetIdentify(
		discordgo.Identify{Intents: a.config.Discord.GatewayIntents},
	)

	a.handlersMu.Lock()
	a.accepting = true
	a.handlersMu.Unlock()

	a.discord.discordgoRemoveHandlerFuncs = []func(){
		a.discord.session.AddHandler(a.discord.handlerConnect()),
		a.discord.session.AddHandler(a.discord.handlerDisconnect()),
		a.discord.session.AddHandler(a.discord.handlerReady()),
		a.discord.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				if m == nil || m.Message == nil {
					return
				}
				a.dispatch(ctx, m.Message)
			},
		),
	}
	return nil
}

// dispatch handles the message in its own goroutine, so a slow model call
// only holds up that one message
func (a *Assistant) dispatch(ctx context.Context, m *discordgo.Message) {
	a.handlersMu.RLock()
	defer a.handlersMu.RUnlock()
	if !a.accepting {
		return
	}
	a.handlersWG.Add(1)
	a.handlersActive.Add(1)
	go func() {
		defer a.handlersWG.Done()
		defer a.handlersActive.Add(-1)
		defer func() {
			if rc := recover(); rc != nil {
				handleRecover(ctx, rc)
			}
		}()
		a.router.HandleMessage(ctx, m)
	}()
}

// startBackground starts the keep-alive server and knowledge watcher, when
// enabled. Both run until ctx is canceled.
func (a *Assistant) startBackground(ctx context.Context) *errgroup.Group {
	g := &errgroup.Group{}
	if a.keepAlive != nil {
		g.Go(
			func() error {
				err := a.keepAlive.Serve(ctx)
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.logger.ErrorContext(ctx, "error serving keep-alive HTTP", tint.Err(err))
					return err
				}
				return nil
			},
		)
	}
	if a.config.Knowledge.Watch {
		g.Go(
			func() error {
				err := a.knowledge.Watch(ctx, a.config.Knowledge.WatchDebounce)
				if err != nil {
					a.logger.ErrorContext(ctx, "error watching knowledge file", tint.Err(err))
				}
				return err
			},
		)
	}
	return g
}

// stopBackground stops the services started by startBackground, waiting
// up to Config.ShutdownTimeout for them to return
func (a *Assistant) stopBackground(
	ctx context.Context,
	cancel context.CancelFunc,
	g *errgroup.Group,
) {
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.WithoutCancel(ctx),
		a.config.ShutdownTimeout,
	)
	defer shutdownCancel()

	if a.keepAlive != nil {
		if err := a.keepAlive.Shutdown(shutdownCtx); err != nil {
			a.logger.ErrorContext(ctx, "error shutting down keep-alive server", tint.Err(err))
		}
	}
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()
	select {
	case err := <-done:
		if err != nil {
			a.logger.WarnContext(ctx, "background service stopped with an error", tint.Err(err))
		}
	case <-shutdownCtx.Done():
		a.logger.WarnContext(ctx, "background services did not stop in time")
	}
}

func (a *Assistant) shutdown(
	ctx context.Context,
	handlerCancel context.CancelFunc,
	backgroundCancel context.CancelFunc,
	background *errgroup.Group,
) error {
	shutdownStart := time.Now()
	shutdownDeadline := shutdownStart.Add(a.config.ShutdownTimeout)
	a.logger.WarnContext(
		ctx,
		"shutting down",
		"shutdown_timeout", a.config.ShutdownTimeout,
		"shutdown_deadline", shutdownDeadline,
	)

	a.handlersMu.Lock()
	a.accepting = false
	a.handlersMu.Unlock()

	a.discord.removeHandlers()
	if err := a.discord.session.Close(); err != nil {
		a.logger.ErrorContext(ctx, "error closing discord session", tint.Err(err))
	}
	a.stopBackground(ctx, backgroundCancel, background)

	handlersDone := make(chan struct{})
	go func() {
		a.handlersWG.Wait()
		close(handlersDone)
	}()

	timer := time.NewTimer(time.Until(shutdownDeadline))
	defer timer.Stop()

	select {
	case <-handlersDone:
	case <-timer.C:
		// no new handlers start once accepting is false, so zero here
		// means they all finished, however the race with the timer went
		if a.handlersActive.Load() == 0 {
			<-handlersDone
			break
		}
		a.logger.WarnContext(ctx, "message handlers did not stop in time, canceling")
		handlerCancel()
		<-handlersDone
		return ErrShutdownTimeout
	}
	a.logger.InfoContext(
		ctx,
		"shutdown complete",
		"shutdown_duration", time.Since(shutdownStart),
	)
	return nil
}
