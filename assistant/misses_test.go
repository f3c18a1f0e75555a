package assistant

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMissedQuestion() MissedQuestion {
	return MissedQuestion{
		CreatedAt:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		AuthorID:   "u1",
		AuthorName: "someone",
		ChannelID:  testQuestionsChannelID,
		MessageID:  "m1",
		Question:   "where do I sign up?",
	}
}

func TestFormatMissTime(t *testing.T) {
	east := time.FixedZone("east", 5*60*60+30*60)
	testCases := []struct {
		name     string
		t        time.Time
		expected string
	}{
		{
			name:     "whole seconds",
			t:        time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
			expected: "2024-05-01 10:00:00+00:00",
		},
		{
			name:     "milliseconds keep trailing zeros",
			t:        time.Date(2024, 5, 1, 10, 0, 0, 123*int(time.Millisecond), time.UTC),
			expected: "2024-05-01 10:00:00.123000+00:00",
		},
		{
			name:     "microseconds",
			t:        time.Date(2024, 5, 1, 10, 0, 0, 4567*int(time.Microsecond), time.UTC),
			expected: "2024-05-01 10:00:00.004567+00:00",
		},
		{
			name:     "sub-microsecond is dropped",
			t:        time.Date(2024, 5, 1, 10, 0, 0, 999, time.UTC),
			expected: "2024-05-01 10:00:00+00:00",
		},
		{
			name:     "offset",
			t:        time.Date(2024, 5, 1, 15, 30, 0, 0, east),
			expected: "2024-05-01 15:30:00+05:30",
		},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				assert.Equal(t, tc.expected, formatMissTime(tc.t))
			},
		)
	}
}

func TestNewMissedQuestion(t *testing.T) {
	m := newTestMessage(testQuestionsChannelID, "u1", "where do I sign up?")
	q := newMissedQuestion(m)

	assert.Equal(t, m.Timestamp, q.CreatedAt)
	assert.Equal(t, "u1", q.AuthorID)
	assert.Equal(t, "user_u1", q.AuthorName)
	assert.Equal(t, testQuestionsChannelID, q.ChannelID)
	assert.Equal(t, m.ID, q.MessageID)
	assert.Equal(t, "where do I sign up?", q.Question)

	// member-only authors still get a name
	m.Author = nil
	m.Member = &discordgo.Member{User: &discordgo.User{ID: "u2", Username: "member"}}
	assert.Equal(t, "member", newMissedQuestion(m).AuthorName)
}

func TestFileMissRecorder(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "missed_questions.txt")
	r := NewFileMissRecorder(path)

	q := testMissedQuestion()
	require.NoError(t, r.RecordMiss(ctx, q))

	second := q
	second.AuthorName = "another"
	second.Question = "is there parking?"
	require.NoError(t, r.RecordMiss(ctx, second))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(
		t,
		"[2024-05-01 10:00:00+00:00] someone: where do I sign up?\n"+
			"[2024-05-01 10:00:00+00:00] another: is there parking?\n",
		string(data),
	)
}

func TestFileMissRecorder_Concurrent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "missed_questions.txt")
	r := NewFileMissRecorder(path)

	wg := sync.WaitGroup{}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.RecordMiss(ctx, testMissedQuestion()))
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	assert.Len(t, lines, 20)
	for _, line := range lines {
		assert.Equal(t, strings.TrimSuffix(testMissedQuestion().line(), "\n"), line)
	}
}

func TestFileMissRecorder_Unwritable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "missed_questions.txt")
	r := NewFileMissRecorder(path)
	assert.Error(t, r.RecordMiss(context.Background(), testMissedQuestion()))
}

func TestChannelMissRecorder(t *testing.T) {
	cfg := DefaultTestConfig(t)
	d, session := newTestDiscord(t, cfg.Discord)
	r := NewChannelMissRecorder(d, "review")

	require.NoError(t, r.RecordMiss(context.Background(), testMissedQuestion()))
	sent := session.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "review", sent[0].ChannelID)
	assert.Equal(
		t,
		"Unanswered question from someone (<@u1>) in <#"+testQuestionsChannelID+">:\nwhere do I sign up?",
		sent[0].Content,
	)

	long := testMissedQuestion()
	long.Question = strings.Repeat("?", 5000)
	require.NoError(t, r.RecordMiss(context.Background(), long))
	sent = session.Sent()
	require.Len(t, sent, 2)
	assert.LessOrEqual(t, len([]rune(sent[1].Content)), discordMaxMessageLength)

	session.sendErr = errors.New("missing access")
	assert.Error(t, r.RecordMiss(context.Background(), testMissedQuestion()))
}

func TestNewMissRecorder(t *testing.T) {
	cfg := DefaultTestConfig(t)
	d, _ := newTestDiscord(t, cfg.Discord)

	r, err := newMissRecorder(cfg.Misses, d)
	require.NoError(t, err)
	assert.IsType(t, &FileMissRecorder{}, r)

	cfg.Misses.Mode = MissModeChannel
	cfg.Misses.ChannelID = "review"
	r, err = newMissRecorder(cfg.Misses, d)
	require.NoError(t, err)
	assert.IsType(t, &ChannelMissRecorder{}, r)

	cfg.Misses.Mode = "database"
	_, err = newMissRecorder(cfg.Misses, d)
	assert.ErrorIs(t, err, ErrUnknownMissMode)
}

func TestMissedQuestion_LogValue(t *testing.T) {
	v := testMissedQuestion().LogValue()
	attrs := map[string]string{}
	for _, a := range v.Group() {
		attrs[a.Key] = a.Value.String()
	}
	assert.Equal(t, "someone", attrs["author_name"])
	assert.Equal(t, "where do I sign up?", attrs["question"])
}
