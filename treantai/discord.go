package treantai

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	optionPrompt         = "prompt"
	optionNegativePrompt = "negative_prompt"
	optionStyle          = "style"
	optionWidth          = "width"
	optionHeight         = "height"
	optionGuidanceScale  = "guidance_scale"
	optionSteps          = "steps"
	optionSeed           = "seed"

	imageDimensionMin  = 192
	imageDimensionMax  = 768
	imageDimensionStep = 64
	imageStepsMin      = 5
	imageStepsMax      = 50
	imageStepsStep     = 5
)

// Discord represents the Discord integration for Treantai.
//
// It manages the Discord session, tracks the gateway connection state and
// registers the bot's slash commands.
type Discord struct {
	session                     DiscordSessionHandler
	config                      *DiscordConfig
	logger                      *slog.Logger
	metricConnects              atomic.Int64
	metricDisconnects           atomic.Int64
	connected                   atomic.Bool
	discordgoRemoveHandlerFuncs []func()
	bot                         *Treantai
}

// newDiscord initializes a new Discord instance with the provided configuration
func newDiscord(config *DiscordConfig, logger *slog.Logger) *Discord {
	return &Discord{
		config:                      config,
		logger:                      logger,
		discordgoRemoveHandlerFuncs: []func(){},
	}
}

// newSession initializes a new Discord session for the Discord struct.
// It sets up the session with the appropriate logger, token, and configuration.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{logger: d.logger.With(loggerNameKey, "discord_session_handler")}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.StateEnabled = false
	session.session = disc
	if d.config.httpClient != nil {
		session.SetHTTPClient(d.config.httpClient)
	}

	if err = session.SetLogLevel(leveler(d.config.DiscordGoLogLevel).Level()); err != nil {
		return session, err
	}

	return session, nil
}

// appCommandChat creates a new ApplicationCommand for the "chat" command.
func (*Discord) appCommandChat() *discordgo.ApplicationCommand {
	minLength := 1
	dmPerm := false

	return &discordgo.ApplicationCommand{
		Name:         DiscordSlashCommandChat,
		Description:  "Ask the AI a question",
		DMPermission: &dmPerm,
		Type:         discordgo.ChatApplicationCommand,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        optionPrompt,
				Description: "Your question or request",
				Required:    true,
				MinLength:   &minLength,
			},
		},
	}
}

// appCommandImage creates a new ApplicationCommand for the "image" command
func (*Discord) appCommandImage() *discordgo.ApplicationCommand {
	minLength := 1
	dmPerm := false

	return &discordgo.ApplicationCommand{
		Name:         DiscordSlashCommandImage,
		Description:  "Create AI images in one of several styles",
		DMPermission: &dmPerm,
		Type:         discordgo.ChatApplicationCommand,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        optionPrompt,
				Description: "A prompt to condition the model with.",
				Required:    true,
				MinLength:   &minLength,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        optionNegativePrompt,
				Description: "A negative prompt to avoid the condition.",
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        optionStyle,
				Description: "Style/model of the image.",
				Choices:     stringChoices(styleNames...),
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        optionWidth,
				Description: "Width of the generated image.",
				Choices:     numericChoices(imageDimensionMin, imageDimensionMax, imageDimensionStep),
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        optionHeight,
				Description: "Height of the generated image.",
				Choices:     numericChoices(imageDimensionMin, imageDimensionMax, imageDimensionStep),
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        optionGuidanceScale,
				Description: "Classifier-Free Guidance Scale.",
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        optionSteps,
				Description: "The amount of steps to sample the model.",
				Choices:     numericChoices(imageStepsMin, imageStepsMax, imageStepsStep),
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        optionSeed,
				Description: "The seed to use for reproducibility.",
			},
		},
	}
}

func stringChoices(values ...string) []*discordgo.ApplicationCommandOptionChoice {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(values))
	for _, v := range values {
		choices = append(
			choices,
			&discordgo.ApplicationCommandOptionChoice{Name: v, Value: v},
		)
	}
	return choices
}

// numericChoices returns string choices from start to end (inclusive),
// incrementing by step
func numericChoices(start, end, step int) []*discordgo.ApplicationCommandOptionChoice {
	var values []string
	for n := start; n <= end; n += step {
		values = append(values, strconv.Itoa(n))
	}
	return stringChoices(values...)
}

func (d *Discord) commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		d.appCommandChat(),
		d.appCommandImage(),
	}
}

// registerCommands sends the bot's commands to the discord bulk overwrite
// endpoint
func (d *Discord) registerCommands(
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	d.logger.Info("Started refreshing application commands (/)")
	created, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		d.commands(),
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	if len(created) == 0 {
		d.logger.Warn("no commands created")
	}
	d.logger.Info("Successfully reloaded application commands (/)", "count", len(created))
	return created, nil
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(_ *discordgo.Session, r *discordgo.Ready) {
		var tag string
		var userID string
		if r.User != nil {
			tag = r.User.String()
			userID = r.User.ID
		}
		d.logger.Info(
			fmt.Sprintf("Logged in as %s", tag),
			"session_id", r.SessionID,
			"user_id", userID,
		)
		if d.bot != nil {
			d.bot.resetActivity()
		}
	}
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(_ *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		d.logger.Info("Connected to Discord Gateway")
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)
		d.logger.Warn("disconnected from Discord Gateway")
	}
}

// DiscordSessionHandler defines the interface for handling Discord sessions.
// This is basically defines methods from `discordgo.Session` which are
// used in this application, to enable testing/mocking.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// ChannelMessageSend sends a message to a specified channel.
	ChannelMessageSend(
		channelID string,
		message string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// UserChannelCreate opens (or returns the existing) DM channel
	// with the given user
	UserChannelCreate(
		recipientID string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	// ChannelTyping shows the 'typing' indicator in the given channel
	ChannelTyping(channelID string, opts ...discordgo.RequestOption) error

	// ApplicationCommandBulkOverwrite overwrites Discord application commands in bulk.
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// UpdateStatusComplex sends the given status update, untouched
	UpdateStatusComplex(data discordgo.UpdateStatusData) error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// InteractionRespond sends an interaction response to Discord
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// InteractionResponseEdit modifies the given interaction
	InteractionResponseEdit(
		interaction *discordgo.Interaction,
		newresp *discordgo.WebhookEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// SetIdentify sets the identify object that's sent during the initial
	// handshake with the discord gateway
	SetIdentify(discordgo.Identify)

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error

	// SetHTTPClient sets the HTTP client for the session
	SetHTTPClient(client *http.Client)
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	level, err := discordgoLogLevel(lvl)
	if err != nil {
		return err
	}
	d.session.LogLevel = level
	return nil
}

func (d DiscordSession) SetHTTPClient(client *http.Client) {
	d.session.Client = client
}

func (d DiscordSession) SetIdentify(i discordgo.Identify) {
	d.session.Identify = i
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.InteractionResponseEdit(interaction, newresp, options...)
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSend(channelID, message, opts...)
}

func (d DiscordSession) UserChannelCreate(
	recipientID string,
	opts ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	ch, err := d.session.UserChannelCreate(recipientID, opts...)
	if err != nil {
		d.logger.Error(
			"error creating DM channel",
			tint.Err(err),
			"user_id", recipientID,
		)
	}
	return ch, err
}

func (d DiscordSession) ChannelTyping(
	channelID string,
	opts ...discordgo.RequestOption,
) error {
	return d.session.ChannelTyping(channelID, opts...)
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		appID,
		guildID,
		commands,
		options...,
	)
	if err != nil {
		return created, err
	}
	for _, c := range created {
		d.logger.Info("Created command", "command", c.Name, "id", c.ID)
	}

	return created, nil
}

func (d DiscordSession) UpdateStatusComplex(
	data discordgo.UpdateStatusData,
) error {
	return d.session.UpdateStatusComplex(data)
}

// mentionUser returns the mention string for the user, ex: <@1234>
func mentionUser(u *discordgo.User) string {
	if u == nil {
		return ""
	}
	return u.Mention()
}
