package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/eksodiastudio-coder/HelperAssistant/assistant"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envDiscordToken = "DISCORD_TOKEN"
	envGoogleAPIKey = "GOOGLE_API_KEY"
	envOpenAIAPIKey = "OPENAI_API_KEY"
)

var (
	cfg        = assistant.DefaultConfig()
	configFile string
)

// logLevelKeys are the config keys holding a *slog.LevelVar
var logLevelKeys = []string{
	"log_level",
	"discord.log_level",
	"discord.discordgo_log_level",
	"model.log_level",
	"keepalive.log_level",
}

var rootCmd = &cobra.Command{
	Use:   "helperassistant [flags]",
	Short: "Discord bot that answers questions from a knowledge file",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := unmarshalConfig(cfg); err != nil {
			log.Fatalln(err)
		}
	},
}

func unmarshalConfig(config *assistant.Config) error {
	return viper.Unmarshal(
		config,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				LevelToStringHookFunc(),
			),
		),
	)
}

func getLogLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes log level names into *slog.LevelVar.
// When the target field already holds a LevelVar, mapstructure decodes
// into the struct it points to, so both slog.LevelVar and *slog.LevelVar
// targets are handled.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}

		typ := t
		if typ.Kind() == reflect.Ptr {
			typ = typ.Elem()
		}

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("log_level", assistant.DefaultLogLevel.String())
	viper.SetDefault("shutdown_timeout", assistant.DefaultShutdownTimeout)

	viper.SetDefault("knowledge.file", assistant.DefaultKnowledgeFile)
	viper.SetDefault("knowledge.watch", false)
	viper.SetDefault("knowledge.watch_debounce", assistant.DefaultKnowledgeDebounce)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.questions_channel_id", "")
	viper.SetDefault("discord.admin_channel_id", "")
	viper.SetDefault("discord.admin_user_id", "")
	viper.SetDefault("discord.reload_command", assistant.DefaultDiscordReloadCommand)
	viper.SetDefault("discord.history_limit", assistant.DefaultDiscordHistoryLimit)
	viper.SetDefault("discord.custom_status", "")
	viper.SetDefault(
		"discord.log_level",
		assistant.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		assistant.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		int(assistant.DefaultDiscordGatewayIntents),
	)

	// Model config
	viper.SetDefault("model.provider", string(assistant.DefaultModelProvider))
	viper.SetDefault("model.api_key", "")
	viper.SetDefault("model.name", "")
	viper.SetDefault("model.base_url", "")
	viper.SetDefault("model.log_level", assistant.DefaultModelLogLevel.String())

	// Prompt config
	viper.SetDefault("prompt.strictness", string(assistant.DefaultPromptStrictness))
	viper.SetDefault("prompt.sentinel", assistant.DefaultSentinel)

	// Missed questions
	viper.SetDefault("misses.mode", string(assistant.DefaultMissMode))
	viper.SetDefault("misses.file", assistant.DefaultMissedQuestionFile)
	viper.SetDefault("misses.channel_id", "")

	// Keep-alive server
	viper.SetDefault("keepalive.enabled", false)
	viper.SetDefault("keepalive.listen", assistant.DefaultKeepAliveListen)
	viper.SetDefault("keepalive.log_level", assistant.DefaultKeepAliveLogLevel.String())
	viper.SetDefault("keepalive.read_timeout", assistant.DefaultKeepAliveReadTimeout)
	viper.SetDefault(
		"keepalive.read_header_timeout",
		assistant.DefaultKeepAliveReadHeaderTimeout,
	)
	viper.SetDefault("keepalive.write_timeout", assistant.DefaultKeepAliveWriteTimeout)
	viper.SetDefault("keepalive.idle_timeout", assistant.DefaultKeepAliveIdleTimeout)

	envPrefix := os.Getenv(assistant.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = assistant.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	fatalErr := func(err error) {
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}

	// secrets are also accepted under their conventional, unprefixed names
	fatalErr(
		viper.BindEnv(
			"discord.token",
			envKey(envPrefix, "discord.token"),
			envDiscordToken,
		),
	)
	fatalErr(
		viper.BindEnv(
			"model.api_key",
			envKey(envPrefix, "model.api_key"),
			modelAPIKeyEnv(viper.GetString("model.provider")),
		),
	)

	// levels are decoded by LevelToStringHookFunc, this just fails early
	// on a bad value
	for _, key := range logLevelKeys {
		if _, err := levelStringToLevelVar(viper.GetString(key)); err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
	}
}

// envKey returns the prefixed environment variable name for a config key,
// ex: discord.token -> HA_DISCORD_TOKEN
func envKey(prefix string, key string) string {
	return strings.ToUpper(prefix + "_" + strings.ReplaceAll(key, ".", "_"))
}

// modelAPIKeyEnv returns the conventional API key variable for a provider
func modelAPIKeyEnv(provider string) string {
	if assistant.ModelProvider(provider) == assistant.ModelProviderOpenAI {
		return envOpenAIAPIKey
	}
	return envGoogleAPIKey
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//nolint:gochecknoinits // cobra wiring
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config (.env) file to use",
	)
}
