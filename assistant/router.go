package assistant

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Disposition is the outcome of classifying an incoming message
type Disposition int

const (
	// DispositionSelf is a message sent by the bot itself
	DispositionSelf Disposition = iota

	// DispositionReload is an authorized reload command
	DispositionReload

	// DispositionUnauthorizedCommand is a reload command from the wrong
	// user or channel. It's ignored without a reply.
	DispositionUnauthorizedCommand

	// DispositionOtherChannel is a message outside the questions channel
	DispositionOtherChannel

	// DispositionNoTrigger is a message in the questions channel that
	// neither ends in '?' nor mentions the bot
	DispositionNoTrigger

	// DispositionNotReady is a question received while there's no
	// knowledge loaded
	DispositionNotReady

	// DispositionQuestion is a question to be answered
	DispositionQuestion
)

func (d Disposition) String() string {
	switch d {
	case DispositionSelf:
		return "self"
	case DispositionReload:
		return "reload"
	case DispositionUnauthorizedCommand:
		return "unauthorized_command"
	case DispositionOtherChannel:
		return "other_channel"
	case DispositionNoTrigger:
		return "no_trigger"
	case DispositionNotReady:
		return "not_ready"
	case DispositionQuestion:
		return "question"
	default:
		return "unknown"
	}
}

// Router decides what to do with each message the gateway delivers, and
// runs the answer pipeline for questions.
type Router struct {
	discord   *Discord
	config    *DiscordConfig
	knowledge *KnowledgeStore
	prompt    PromptBuilder
	generator Generator
	misses    MissRecorder
	logger    *slog.Logger
}

func newRouter(
	discord *Discord,
	config *DiscordConfig,
	knowledge *KnowledgeStore,
	prompt PromptBuilder,
	generator Generator,
	misses MissRecorder,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		discord:   discord,
		config:    config,
		knowledge: knowledge,
		prompt:    prompt,
		generator: generator,
		misses:    misses,
		logger:    logger,
	}
}

// Classify applies the message guards in order, and returns the first
// that matches.
func (r *Router) Classify(m *discordgo.Message) Disposition {
	return r.classify(m, r.knowledge.Text())
}

func (r *Router) classify(m *discordgo.Message, knowledge string) Disposition {
	authorID := authorIDOf(m)
	botUserID := r.discord.BotUserID()

	if botUserID != "" && authorID == botUserID {
		return DispositionSelf
	}

	if m.Content == r.config.ReloadCommand {
		if r.config.AdminChannelID != "" &&
			r.config.AdminUserID != "" &&
			m.ChannelID == r.config.AdminChannelID &&
			authorID == r.config.AdminUserID {
			return DispositionReload
		}
		return DispositionUnauthorizedCommand
	}

	if m.ChannelID != r.config.QuestionsChannelID {
		return DispositionOtherChannel
	}

	if !isTriggered(m, botUserID) {
		return DispositionNoTrigger
	}

	if knowledge == "" {
		return DispositionNotReady
	}
	return DispositionQuestion
}

// isTriggered reports whether a message asks for an answer: its trimmed
// content ends with '?', or it mentions the bot.
func isTriggered(m *discordgo.Message, botUserID string) bool {
	return strings.HasSuffix(strings.TrimSpace(m.Content), "?") ||
		messageMentionsUser(m, botUserID)
}

// HandleMessage classifies the message and acts on it. Errors are logged
// and the message dropped; nothing is returned to the gateway.
func (r *Router) HandleMessage(ctx context.Context, m *discordgo.Message) Disposition {
	if m == nil {
		return DispositionOtherChannel
	}
	// one snapshot for the whole turn, so a concurrent reload can't change
	// the knowledge between the readiness check and the prompt
	knowledge := r.knowledge.Text()
	disposition := r.classify(m, knowledge)

	logger := r.logger.With(
		slog.Group(
			"message",
			"id", m.ID,
			"channel_id", m.ChannelID,
			"author_id", authorIDOf(m),
		),
	)
	ctx = WithLogger(ctx, logger)

	switch disposition {
	case DispositionReload:
		r.reload(ctx, m)
	case DispositionQuestion:
		logger.InfoContext(ctx, "processing question", "content", m.Content)
		r.answer(ctx, m, knowledge)
	case DispositionNotReady:
		logger.DebugContext(ctx, "knowledge not loaded, ignoring question")
	}
	return disposition
}

func (r *Router) reload(ctx context.Context, m *discordgo.Message) {
	logger, _ := ContextLogger(ctx)

	reply := DefaultDiscordReloadSuccess
	if !r.knowledge.Load(ctx) {
		reply = DefaultDiscordReloadFailure
	}
	logger.InfoContext(ctx, "knowledge reload requested", "loaded", r.knowledge.Ready())

	if _, err := r.discord.session.ChannelMessageSendReply(
		m.ChannelID,
		reply,
		m.Reference(),
	); err != nil {
		logger.ErrorContext(ctx, "unable to reply to reload command", tint.Err(err))
	}
}

// answer runs the question pipeline: fetch recent history, build the
// prompt, generate, then either record a miss or deliver the answer.
func (r *Router) answer(ctx context.Context, m *discordgo.Message, knowledge string) {
	logger, _ := ContextLogger(ctx)

	if err := r.discord.session.ChannelTyping(m.ChannelID); err != nil {
		logger.WarnContext(ctx, "unable to show typing indicator", tint.Err(err))
	}

	history, err := r.history(m.ChannelID)
	if err != nil {
		logger.ErrorContext(ctx, "unable to fetch channel history", tint.Err(err))
		return
	}

	prompt := r.prompt.Build(knowledge, history, m.Content)

	start := time.Now()
	answer, err := r.generator.Generate(ctx, prompt)
	if err != nil {
		logger.ErrorContext(
			ctx,
			"unable to generate answer",
			tint.Err(err),
			"duration", time.Since(start),
		)
		return
	}

	if r.prompt.IsSentinel(answer) {
		miss := newMissedQuestion(m)
		logger.InfoContext(ctx, "answer not found, recording missed question", "missed", miss)
		if err = r.misses.RecordMiss(ctx, miss); err != nil {
			logger.ErrorContext(ctx, "unable to record missed question", tint.Err(err))
		}
		return
	}

	r.deliver(ctx, m, strings.TrimSpace(answer))
}

// history returns the last HistoryLimit channel messages, oldest first,
// one `username: content` line per message with mentions resolved.
func (r *Router) history(channelID string) ([]string, error) {
	msgs, err := r.discord.session.ChannelMessages(
		channelID,
		r.config.HistoryLimit,
		"",
		"",
		"",
	)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if msg == nil {
			continue
		}
		var name string
		if author := messageAuthor(msg); author != nil {
			name = author.Username
		}
		lines = append(lines, name+": "+msg.ContentWithMentionsReplaced())
	}
	return lines, nil
}

// deliver replies to the question with the answer. Long answers are
// split, with the first chunk sent as the reply and the rest following
// it in the channel. Delivery stops at the first failed send.
func (r *Router) deliver(ctx context.Context, m *discordgo.Message, answer string) {
	logger, _ := ContextLogger(ctx)

	chunks := splitMessage(answer, discordMaxMessageLength, discordMessageChunkLength)
	for i, chunk := range chunks {
		var err error
		if i == 0 {
			_, err = r.discord.session.ChannelMessageSendReply(
				m.ChannelID,
				chunk,
				m.Reference(),
			)
		} else {
			_, err = r.discord.session.ChannelMessageSend(m.ChannelID, chunk)
		}
		if err != nil {
			logger.ErrorContext(
				ctx,
				"unable to send answer",
				tint.Err(err),
				"chunk", i+1,
				"chunks", len(chunks),
			)
			return
		}
	}
	logger.InfoContext(ctx, "answered question", "chunks", len(chunks))
}

func authorIDOf(m *discordgo.Message) string {
	if author := messageAuthor(m); author != nil {
		return author.ID
	}
	return ""
}
