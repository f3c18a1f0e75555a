//nolint:lll // struct tags can't be split
package assistant

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
)

const (
	EnvvarSetEnvPrefix = "HELPERASSISTANT_ENV_PREFIX"
	DefaultEnvPrefix   = "HA"

	DefaultLogLevel        = slog.LevelInfo
	DefaultShutdownTimeout = 30 * time.Second

	DefaultKnowledgeFile      = "knowledge.txt"
	DefaultKnowledgeDebounce  = 500 * time.Millisecond
	DefaultMissedQuestionFile = "missed_questions.txt"

	DefaultDiscordLogLevel       = slog.LevelInfo
	DefaultDiscordgoLogLevel     = slog.LevelWarn
	DefaultDiscordReloadCommand  = "!reload"
	DefaultDiscordHistoryLimit   = 5
	DefaultDiscordGatewayIntents = discordgo.IntentsAllWithoutPrivileged | discordgo.IntentMessageContent
	DefaultDiscordReloadSuccess  = "✅ Knowledge base reloaded successfully!"
	DefaultDiscordReloadFailure  = "❌ Error: Could not find the knowledge file."

	DefaultModelProvider = ModelProviderGemini
	DefaultGeminiModel   = "gemini-flash-lite-latest"
	DefaultOpenAIModel   = "gpt-4o-mini"
	DefaultModelLogLevel = slog.LevelInfo

	DefaultPromptStrictness = PromptStrictnessStrict
	DefaultSentinel         = "SILENCE"

	DefaultMissMode = MissModeFile

	DefaultKeepAliveListen            = "0.0.0.0:8080"
	DefaultKeepAliveLogLevel          = slog.LevelInfo
	DefaultKeepAliveReadTimeout       = 5 * time.Second
	DefaultKeepAliveReadHeaderTimeout = 5 * time.Second
	DefaultKeepAliveWriteTimeout      = 10 * time.Second
	DefaultKeepAliveIdleTimeout       = 30 * time.Second

	// discordMaxMessageLength is the most characters discord accepts in a
	// single message
	discordMaxMessageLength = 2000

	// discordMessageChunkLength is the size of each chunk when an answer
	// exceeds discordMaxMessageLength
	discordMessageChunkLength = 1900
)

// ModelProvider names the hosted model API used to generate answers
type ModelProvider string

const (
	ModelProviderGemini ModelProvider = "gemini"
	ModelProviderOpenAI ModelProvider = "openai"
)

// MissMode selects where missed questions are recorded
type MissMode string

const (
	// MissModeFile appends missed questions to a flat text file
	MissModeFile MissMode = "file"

	// MissModeChannel forwards missed questions to a review channel
	MissModeChannel MissMode = "channel"
)

var structValidator = validator.New()

type Config struct {
	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// ShutdownTimeout is the time to allow in-flight messages to finish
	// after the bot is told to stop.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout" binding:"min=0"`

	Knowledge *KnowledgeConfig `yaml:"knowledge" mapstructure:"knowledge" json:"knowledge" binding:"required"`

	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord" binding:"required"`

	Model *ModelConfig `yaml:"model" mapstructure:"model" json:"model" binding:"required"`

	Prompt *PromptConfig `yaml:"prompt" mapstructure:"prompt" json:"prompt" binding:"required"`

	Misses *MissesConfig `yaml:"misses" mapstructure:"misses" json:"misses" binding:"required"`

	KeepAlive *KeepAliveConfig `yaml:"keepalive" mapstructure:"keepalive" json:"keepalive" binding:"required"`

	HTTPClient *http.Client `mapstructure:"-" json:"-" log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// Validate checks the config against its `binding` tags. A missing
// discord token or model API key fails here, which aborts startup.
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// KnowledgeConfig points at the reference text handed to the model
type KnowledgeConfig struct {
	// Path to a UTF-8 text file, read fully into memory
	File string `yaml:"file" mapstructure:"file" json:"file" binding:"required"`

	// Watch reloads the file automatically when it changes on disk,
	// in addition to the reload command
	Watch bool `yaml:"watch" mapstructure:"watch" json:"watch"`

	// WatchDebounce is how long the file must be quiet before a reload
	WatchDebounce time.Duration `yaml:"watch_debounce" mapstructure:"watch_debounce" json:"watch_debounce" binding:"min=0"`
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// QuestionsChannelID is the only channel where questions are answered
	QuestionsChannelID string `yaml:"questions_channel_id" mapstructure:"questions_channel_id" json:"questions_channel_id" binding:"required"`

	// AdminChannelID and AdminUserID must both match for the reload
	// command to be honored. If either is empty, reload is never honored.
	AdminChannelID string `yaml:"admin_channel_id" mapstructure:"admin_channel_id" json:"admin_channel_id"`
	AdminUserID    string `yaml:"admin_user_id" mapstructure:"admin_user_id" json:"admin_user_id"`

	// ReloadCommand is matched against the full message content
	ReloadCommand string `yaml:"reload_command" mapstructure:"reload_command" json:"reload_command" binding:"required"`

	// HistoryLimit is the number of recent channel messages included
	// in the prompt
	HistoryLimit int `yaml:"history_limit" mapstructure:"history_limit" json:"history_limit" binding:"min=1,max=100"`

	// Custom status shown on the bot user. Empty for none.
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. Message content is privileged, and
	// needs to be enabled in the dev portal.
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`
}

// ModelConfig configures the hosted model used to answer questions
type ModelConfig struct {
	Provider ModelProvider `yaml:"provider" mapstructure:"provider" json:"provider" binding:"oneof=gemini openai"`

	// API key for the provider
	APIKey string `yaml:"api_key" mapstructure:"api_key" json:"api_key" log:"[redacted]" binding:"required"`

	// Model identifier, ex: gemini-flash-lite-latest. Defaults per provider.
	Name string `yaml:"name" mapstructure:"name" json:"name"`

	// Optional base URL override (openai-compatible endpoints)
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// Validate checks only the model settings, for commands that call the
// model without connecting to discord
func (m *ModelConfig) Validate() error {
	if err := structValidator.Struct(m); err != nil {
		return fmt.Errorf("invalid model config: %w", err)
	}
	return nil
}

// ModelName returns the configured model, or the provider's default
func (m ModelConfig) ModelName() string {
	if m.Name != "" {
		return m.Name
	}
	if m.Provider == ModelProviderOpenAI {
		return DefaultOpenAIModel
	}
	return DefaultGeminiModel
}

// PromptConfig controls the instruction preamble given to the model
type PromptConfig struct {
	Strictness PromptStrictness `yaml:"strictness" mapstructure:"strictness" json:"strictness" binding:"oneof=strict loose"`

	// Sentinel is the exact, case-sensitive reply the model is told to
	// give when the knowledge base doesn't answer the question
	Sentinel string `yaml:"sentinel" mapstructure:"sentinel" json:"sentinel" binding:"required"`
}

// MissesConfig configures how unanswered questions are recorded
type MissesConfig struct {
	Mode MissMode `yaml:"mode" mapstructure:"mode" json:"mode" binding:"oneof=file channel"`

	// File receives one line per missed question when Mode is 'file'
	File string `yaml:"file" mapstructure:"file" json:"file" binding:"required_if=Mode file"`

	// ChannelID receives one message per missed question when Mode is 'channel'
	ChannelID string `yaml:"channel_id" mapstructure:"channel_id" json:"channel_id" binding:"required_if=Mode channel"`
}

// KeepAliveConfig configures the optional liveness HTTP server. Some
// hosts only keep a process running while it answers HTTP.
type KeepAliveConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
}

// DefaultConfig returns a Config with all default settings populated.
// Secrets and channel IDs are left empty.
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	modelLogLevel := &slog.LevelVar{}
	keepAliveLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	modelLogLevel.Set(DefaultModelLogLevel)
	keepAliveLogLevel.Set(DefaultKeepAliveLogLevel)

	return &Config{
		LogLevel:        mainLogLevel,
		ShutdownTimeout: DefaultShutdownTimeout,
		Knowledge: &KnowledgeConfig{
			File:          DefaultKnowledgeFile,
			WatchDebounce: DefaultKnowledgeDebounce,
		},
		Discord: &DiscordConfig{
			ReloadCommand:     DefaultDiscordReloadCommand,
			HistoryLimit:      DefaultDiscordHistoryLimit,
			GatewayIntents:    DefaultDiscordGatewayIntents,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
		},
		Model: &ModelConfig{
			Provider: DefaultModelProvider,
			LogLevel: modelLogLevel,
		},
		Prompt: &PromptConfig{
			Strictness: DefaultPromptStrictness,
			Sentinel:   DefaultSentinel,
		},
		Misses: &MissesConfig{
			Mode: DefaultMissMode,
			File: DefaultMissedQuestionFile,
		},
		KeepAlive: &KeepAliveConfig{
			Listen:            DefaultKeepAliveListen,
			LogLevel:          keepAliveLogLevel,
			ReadTimeout:       DefaultKeepAliveReadTimeout,
			ReadHeaderTimeout: DefaultKeepAliveReadHeaderTimeout,
			WriteTimeout:      DefaultKeepAliveWriteTimeout,
			IdleTimeout:       DefaultKeepAliveIdleTimeout,
		},
	}
}

//nolint:gochecknoinits // validator tag has to be set before first use
func init() {
	structValidator.SetTagName("binding")
}
