package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	// microseconds are zero padded to six digits, and left out when zero
	missTimeFormat      = "2006-01-02 15:04:05-07:00"
	missTimeFormatMicro = "2006-01-02 15:04:05.000000-07:00"

	// missChannelQuestionLimit keeps forwarded questions, plus the header
	// line, under discordMaxMessageLength
	missChannelQuestionLimit = 1800
)

// ErrUnknownMissMode is returned for an unsupported MissesConfig.Mode
var ErrUnknownMissMode = errors.New("unknown miss mode")

// MissedQuestion is a question the model couldn't answer from the
// knowledge base. It's recorded for a human to follow up on, and never
// read back.
type MissedQuestion struct {
	CreatedAt  time.Time `json:"created_at"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	ChannelID  string    `json:"channel_id"`
	MessageID  string    `json:"message_id"`
	Question   string    `json:"question"`
}

func newMissedQuestion(m *discordgo.Message) MissedQuestion {
	q := MissedQuestion{
		CreatedAt: m.Timestamp,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		Question:  m.Content,
	}
	if author := messageAuthor(m); author != nil {
		q.AuthorID = author.ID
		q.AuthorName = author.Username
	}
	return q
}

func (q MissedQuestion) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Time("created_at", q.CreatedAt),
		slog.String("author_id", q.AuthorID),
		slog.String("author_name", q.AuthorName),
		slog.String("channel_id", q.ChannelID),
		slog.String("message_id", q.MessageID),
		slog.String("question", q.Question),
	)
}

// line formats the question as a single log line, ex:
//
//	[2024-05-01 10:00:00+00:00] someone: where do I sign up?
func (q MissedQuestion) line() string {
	return fmt.Sprintf(
		"[%s] %s: %s\n",
		formatMissTime(q.CreatedAt),
		q.AuthorName,
		q.Question,
	)
}

func formatMissTime(t time.Time) string {
	if t.Nanosecond()/int(time.Microsecond) == 0 {
		return t.Format(missTimeFormat)
	}
	return t.Format(missTimeFormatMicro)
}

// MissRecorder records questions that went unanswered
type MissRecorder interface {
	RecordMiss(ctx context.Context, q MissedQuestion) error
}

// FileMissRecorder appends one line per missed question to a text file
type FileMissRecorder struct {
	path string
	mu   sync.Mutex
}

func NewFileMissRecorder(path string) *FileMissRecorder {
	return &FileMissRecorder{path: path}
}

func (f *FileMissRecorder) RecordMiss(_ context.Context, q MissedQuestion) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fh, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("error opening missed question log: %w", err)
	}
	if _, err = fh.WriteString(q.line()); err != nil {
		_ = fh.Close()
		return fmt.Errorf("error writing missed question log: %w", err)
	}
	return fh.Close()
}

// channelMessageSender sends a plain message to a discord channel
type channelMessageSender interface {
	channelMessageSend(
		channelID string,
		message string,
		opts ...discordgo.RequestOption,
	) error
}

// ChannelMissRecorder forwards missed questions to a review channel
type ChannelMissRecorder struct {
	sender    channelMessageSender
	channelID string
}

func NewChannelMissRecorder(sender channelMessageSender, channelID string) *ChannelMissRecorder {
	return &ChannelMissRecorder{sender: sender, channelID: channelID}
}

func (c *ChannelMissRecorder) RecordMiss(_ context.Context, q MissedQuestion) error {
	if err := c.sender.channelMessageSend(c.channelID, c.message(q)); err != nil {
		return fmt.Errorf("error forwarding missed question: %w", err)
	}
	return nil
}

func (*ChannelMissRecorder) message(q MissedQuestion) string {
	return fmt.Sprintf(
		"Unanswered question from %s (<@%s>) in <#%s>:\n%s",
		q.AuthorName,
		q.AuthorID,
		q.ChannelID,
		truncate(q.Question, missChannelQuestionLimit),
	)
}

// newMissRecorder returns the MissRecorder for the configured mode
func newMissRecorder(config *MissesConfig, sender channelMessageSender) (MissRecorder, error) {
	switch config.Mode {
	case MissModeFile, "":
		return NewFileMissRecorder(config.File), nil
	case MissModeChannel:
		return NewChannelMissRecorder(sender, config.ChannelID), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMissMode, config.Mode)
	}
}
