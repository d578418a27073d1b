//nolint:lll // struct tags can't be split
package treantai

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"github.com/go-playground/validator/v10"
)

const (
	EnvvarSetEnvPrefix = "TREANTAI_ENV_PREFIX"
	DefaultEnvPrefix   = "TREANTAI"

	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DiscordSlashCommandChat  = "chat"
	DiscordSlashCommandImage = "image"

	DefaultDiscordLogLevel          = slog.LevelWarn
	DefaultDiscordgoLogLevel        = slog.LevelWarn
	DefaultDiscordGatewayIntent     = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsGuildIntegrations | discordgo.IntentsDirectMessages | discordgo.IntentsDirectMessageTyping | discordgo.IntentsMessageContent
	DefaultDiscordActivity          = "Minecraft"
	DefaultDiscordMaxResponseLength = discordMaxMessageLength
	DefaultRateLimitProbeURL        = "https://discord.com/api/v10"
	DefaultRateLimitProbeInterval   = 30 * time.Second
	discordMaxMessageLength         = 2000

	AIProviderOpenAI      = "openai"
	AIProviderAnthropic   = "anthropic"
	AIEndpointDefault     = "default"
	DefaultAIProvider     = AIProviderOpenAI
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
	DefaultAIMaxTokens    = 1024
	DefaultAILogLevel     = slog.LevelInfo

	DefaultImageEndpoint = "https://stablediffusionapi.com/api/v3/dreambooth"
	DefaultImageLogLevel = slog.LevelInfo

	DefaultAPIListen          = "127.0.0.1:5000"
	DefaultAPILogLevel        = slog.LevelInfo
	DefaultReadTimeout        = 5 * time.Second
	DefaultReadHeaderTimeout  = 5 * time.Second
	DefaultWriteTimeout       = 10 * time.Second
	DefaultIdleTimeout        = 30 * time.Second
	DefaultCORSMaxAge         = 12 * time.Hour
	defaultListenNetwork      = "tcp"
	DefaultLogFileMaxSizeMB   = 50
	DefaultLogFileMaxBackups  = 3
	DefaultLogFileMaxAgeDays  = 28
	DefaultDMRejectionMessage = "Ask Bot Owner To WhiteList Your ID 🙄"
	DefaultCommandNotFound    = "Command Not Found"
)

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	return v
}

type Config struct {
	// Discord configures the bot user and gateway connection
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord" binding:"required"`

	// AI configures the conversational backend used by /chat and DMs
	AI *AIConfig `yaml:"ai" mapstructure:"ai" json:"ai" binding:"required"`

	// Image configures the image generation backend used by /image
	Image *ImageConfig `yaml:"image" mapstructure:"image" json:"image" binding:"required"`

	// API configures the (optional) status API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api" binding:"required"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// LogFile, if set, receives a copy of all log output. The file is
	// rotated by size.
	LogFile string `yaml:"log_file" mapstructure:"log_file" json:"log_file"`

	// LockFile, if set, is locked for the lifetime of Run so only one
	// bot process uses it at a time.
	LockFile string `yaml:"lock_file" mapstructure:"lock_file" json:"lock_file"`

	// Debug lowers every component's log level to DEBUG and registers
	// pprof handlers on the status API.
	Debug bool `yaml:"debug" mapstructure:"debug" json:"debug"`

	// StartupTimeout limits how long the bot has to connect and register
	// commands before Run gives up.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout" binding:"min=0"`

	// ShutdownTimeout is the time to allow for a graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout" binding:"min=0"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// DirectMessages enables chatting with the bot over direct messages
	DirectMessages bool `yaml:"direct_messages" mapstructure:"direct_messages" json:"direct_messages"`

	// DMAllowlist holds the usernames allowed to use direct messages
	DMAllowlist []string `yaml:"dm_allowlist" mapstructure:"dm_allowlist" json:"dm_allowlist"`

	// MaxResponseLength is the chunk threshold: responses at or above this
	// many characters are split and sent by direct message.
	MaxResponseLength int `yaml:"max_response_length" mapstructure:"max_response_length" json:"max_response_length" binding:"min=1,max=2000"`

	// Activity is the default presence shown while the bot is idle
	Activity string `yaml:"activity" mapstructure:"activity" json:"activity"`

	// RateLimitProbeURL is polled every RateLimitProbeInterval, and a
	// warning is logged whenever it returns 429
	RateLimitProbeURL string `yaml:"rate_limit_probe_url" mapstructure:"rate_limit_probe_url" json:"rate_limit_probe_url" binding:"omitempty,url"`

	RateLimitProbeInterval time.Duration `yaml:"rate_limit_probe_interval" mapstructure:"rate_limit_probe_interval" json:"rate_limit_probe_interval" binding:"min=0"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	httpClient *http.Client
}

// AIConfig configures the conversational AI backend
type AIConfig struct {
	// Provider selects the backend implementation: 'openai' or 'anthropic'
	Provider string `yaml:"provider" mapstructure:"provider" json:"provider" binding:"oneof=openai anthropic"`

	// API token for the provider
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Endpoint is either 'default', to use the provider's public API,
	// or a custom base URL
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint" json:"endpoint"`

	// Model overrides the provider's default model
	Model string `yaml:"model" mapstructure:"model" json:"model"`

	// MaxTokens caps the length of each completion
	MaxTokens int `yaml:"max_tokens" mapstructure:"max_tokens" json:"max_tokens" binding:"min=0"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// ImageConfig configures the stable diffusion image API
type ImageConfig struct {
	// API key sent in each request body
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]"`

	// Endpoint receives the image generation POST
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint" json:"endpoint" binding:"required,url"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// APIConfig configures the status API server
type APIConfig struct {
	// Enabled starts the status API alongside the bot
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"omitempty,oneof=tcp tcp4 tcp6 unix"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	MaxAge       time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{http.MethodGet, http.MethodHead, http.MethodOptions}
	cfg.MaxAge = c.MaxAge
	if len(c.AllowOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = c.AllowOrigins
	}
	return cfg
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	aiLogLevel := &slog.LevelVar{}
	imageLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	aiLogLevel.Set(DefaultAILogLevel)
	imageLogLevel.Set(DefaultImageLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		LogLevel:        mainLogLevel,
		StartupTimeout:  DefaultStartupTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			GatewayIntents:         DefaultDiscordGatewayIntent,
			LogLevel:               discordLogLevel,
			DiscordGoLogLevel:      discordgoLogLevel,
			MaxResponseLength:      DefaultDiscordMaxResponseLength,
			Activity:               DefaultDiscordActivity,
			RateLimitProbeURL:      DefaultRateLimitProbeURL,
			RateLimitProbeInterval: DefaultRateLimitProbeInterval,
			DMAllowlist:            []string{},
		},
		AI: &AIConfig{
			Provider:  DefaultAIProvider,
			Endpoint:  AIEndpointDefault,
			MaxTokens: DefaultAIMaxTokens,
			LogLevel:  aiLogLevel,
		},
		Image: &ImageConfig{
			Endpoint: DefaultImageEndpoint,
			LogLevel: imageLogLevel,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS: CORSConfig{
				AllowOrigins: []string{},
				MaxAge:       DefaultCORSMaxAge,
			},
		},
	}
}

// Validate checks the config against its `binding` constraints
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// levelVars returns every component log level, so they can be adjusted
// together (ex: when Debug is set)
func (c *Config) levelVars() []*slog.LevelVar {
	levels := []*slog.LevelVar{c.LogLevel}
	if c.Discord != nil {
		levels = append(levels, c.Discord.LogLevel, c.Discord.DiscordGoLogLevel)
	}
	if c.AI != nil {
		levels = append(levels, c.AI.LogLevel)
	}
	if c.Image != nil {
		levels = append(levels, c.Image.LogLevel)
	}
	if c.API != nil {
		levels = append(levels, c.API.LogLevel)
	}
	return levels
}
