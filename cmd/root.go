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
	"unicode"

	"github.com/afzalimdad9/treantai/treantai"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = treantai.DefaultConfig()
	configFile string
)

// logLevelKeys are the config keys holding a log level, which are
// converted from strings to *slog.LevelVar
var logLevelKeys = []string{
	"log_level",
	"discord.log_level",
	"discord.discordgo_log_level",
	"ai.log_level",
	"image.log_level",
	"api.log_level",
}

// listKeys are the config keys holding a list, which may be given as a
// comma or space separated string
var listKeys = []string{
	"discord.dm_allowlist",
	"api.cors.allow_origins",
}

var rootCmd = &cobra.Command{
	Use:   "treantai [flags]",
	Short: "Discord bot that answers /chat and /image, and chats over DMs",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
					mapstructure.StringToSliceHookFunc(","),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
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

// LevelToStringHookFunc decodes a level name (ex: "WARN") into a
// *slog.LevelVar
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

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

// Execute runs the root command, canceling its context on
// SIGINT/SIGTERM/SIGHUP
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

	viper.SetDefault("log_level", treantai.DefaultLogLevel.String())
	viper.SetDefault("log_file", "")
	viper.SetDefault("lock_file", "")
	viper.SetDefault("debug", false)
	viper.SetDefault("startup_timeout", treantai.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", treantai.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.direct_messages", false)
	viper.SetDefault("discord.dm_allowlist", []string{})
	viper.SetDefault(
		"discord.max_response_length",
		treantai.DefaultDiscordMaxResponseLength,
	)
	viper.SetDefault("discord.activity", treantai.DefaultDiscordActivity)
	viper.SetDefault(
		"discord.rate_limit_probe_url",
		treantai.DefaultRateLimitProbeURL,
	)
	viper.SetDefault(
		"discord.rate_limit_probe_interval",
		treantai.DefaultRateLimitProbeInterval,
	)
	viper.SetDefault(
		"discord.log_level",
		treantai.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		treantai.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		treantai.DefaultDiscordGatewayIntent,
	)

	// AI config
	viper.SetDefault("ai.provider", treantai.DefaultAIProvider)
	viper.SetDefault("ai.token", "")
	viper.SetDefault("ai.endpoint", treantai.AIEndpointDefault)
	viper.SetDefault("ai.model", "")
	viper.SetDefault("ai.max_tokens", treantai.DefaultAIMaxTokens)
	viper.SetDefault("ai.log_level", treantai.DefaultAILogLevel.String())

	// Image config
	viper.SetDefault("image.token", "")
	viper.SetDefault("image.endpoint", treantai.DefaultImageEndpoint)
	viper.SetDefault("image.log_level", treantai.DefaultImageLogLevel.String())

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", treantai.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.log_level", treantai.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", treantai.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		treantai.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", treantai.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", treantai.DefaultIdleTimeout)

	// API: CORS config
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", treantai.DefaultCORSMaxAge)

	envPrefix := os.Getenv(treantai.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = treantai.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	for _, key := range listKeys {
		viper.Set(key, splitList(viper.GetStringSlice(key)))
	}

	for _, key := range logLevelKeys {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

// splitList splits each value on commas and whitespace, dropping
// empty entries
func splitList(values []string) []string {
	rv := make([]string, 0, len(values))
	for _, v := range values {
		rv = append(
			rv,
			strings.FieldsFunc(
				v, func(r rune) bool {
					return r == ',' || unicode.IsSpace(r)
				},
			)...,
		)
	}
	return rv
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//goland:noinspection GoLinter,GoLinter
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
