package treantai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/afzalimdad9/treantai/treantai.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// Treantai is the bot. It's created with New, and started with Run.
type Treantai struct {
	config *Config

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handles discord integration, sessions
	discord *Discord

	// Sends prompts to the AI backend
	dispatcher *Dispatcher

	// Generates images for /image
	images ImageBackend

	// Usernames allowed to use direct messages
	allowlist Allowlist

	// Presence label shown on the bot's profile
	activity *activityLabel

	// Periodic check for Discord rate limiting
	probe *rateLimitProbe

	// Optional status API
	api *API

	// signalReady has a value sent on it once Run has opened the gateway
	// and registered commands
	signalReady chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// The time Run was called
	startedAt time.Time

	// getInteractionHandlerFunc returns the InteractionHandler used for
	// a received interaction
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler
}

// New creates a new Treantai instance from the given config.
//
// Loggers are created for each component, and the AI backend client is
// initialized. An error is returned if the AI backend can't be set up,
// in which case the bot can't run.
//
// Example usage:
//
//	config := DefaultConfig()
//	bot, err := New(config)
//	if err != nil {
//	    log.Fatalf("Failed to initialize treantai: %v", err)
//	}
func New(config *Config) (*Treantai, error) {
	if config == nil || config.Discord == nil || config.AI == nil ||
		config.Image == nil || config.API == nil {
		return nil, errors.New("incomplete config: discord, ai, image and api sections are required")
	}

	var errs []error

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.Debug {
		for _, lvl := range config.levelVars() {
			if lvl != nil {
				lvl.Set(slog.LevelDebug)
			}
		}
	}

	t := &Treantai{
		config:      config,
		signalReady: make(chan struct{}, 1),
		activity:    &activityLabel{},
		allowlist:   NewAllowlist(config.Discord.DMAllowlist...),
	}
	t.activity.Store(Activity{Name: config.Discord.Activity, Type: discordgo.ActivityTypeGame})

	w := logWriter(config)
	t.logger = slog.New(newLogHandler(w, leveler(config.LogLevel)))
	slog.SetDefault(t.logger)

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		newLogHandler(w, leveler(config.Discord.DiscordGoLogLevel)).WithAttrs(
			[]slog.Attr{slog.String(loggerNameKey, "discordgo")},
		),
	)

	config.Discord.httpClient = config.HTTPClient
	t.discord = newDiscord(
		config.Discord,
		newComponentLogger(w, leveler(config.Discord.LogLevel), "discord"),
	)
	t.discord.bot = t

	aiLogger := newComponentLogger(w, leveler(config.AI.LogLevel), "ai")
	backend, err := newChatBackend(config.AI, config.HTTPClient)
	if err != nil {
		errs = append(errs, fmt.Errorf("error initializing AI backend: %w", err))
	} else {
		t.dispatcher = newDispatcher(backend, aiLogger)
	}

	t.images = newStableDiffusionClient(
		config.Image,
		config.HTTPClient,
		newComponentLogger(w, leveler(config.Image.LogLevel), "image"),
	)

	t.probe = newRateLimitProbe(
		config.Discord.RateLimitProbeURL,
		config.Discord.RateLimitProbeInterval,
		config.HTTPClient,
		newComponentLogger(w, leveler(config.Discord.LogLevel), "rate_limit_probe"),
	)

	if config.API.Enabled {
		t.api = newAPI(
			t,
			config.API,
			newComponentLogger(w, leveler(config.API.LogLevel), "api"),
		)
	}

	return t, errors.Join(errs...)
}

// RegisterSlashCommands registers the bot's slash commands, replacing any
// existing commands. A session is created if one doesn't exist, but the
// gateway connection isn't opened.
func (t *Treantai) RegisterSlashCommands(
	ctx context.Context,
) ([]*discordgo.ApplicationCommand, error) {
	if t.discord.session == nil {
		session, err := t.discord.newSession()
		if err != nil {
			return nil, err
		}
		t.discord.session = session
	}
	return t.discord.registerCommands(discordgo.WithContext(ctx))
}

// Run starts the bot, blocking until the context is canceled or the
// status API fails.
//
// Slash commands are registered before the gateway connection is opened.
// Failing to register commands, or to open the gateway, is logged but
// doesn't stop the bot. Once the context is canceled, the gateway is
// closed, the rate limit probe is stopped, and in-flight interactions are
// given until the configured shutdown timeout to finish.
func (t *Treantai) Run(ctx context.Context) error {
	// prevents concurrent runs
	t.runMu.Lock()
	defer t.runMu.Unlock()

	t.startedAt = time.Now()
	logger := t.logger

	if err := t.config.Validate(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}
	if t.dispatcher == nil {
		return errors.New("AI backend not initialized")
	}

	if t.config.LockFile != "" {
		lock := newInstanceLock(t.config.LockFile)
		if err := lock.Acquire(); err != nil {
			logger.Error("unable to acquire lock", tint.Err(err))
			return err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				logger.Error("error releasing lock", tint.Err(err))
			}
		}()
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", t.config))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// in-flight interactions and messages
	handlerWG := &sync.WaitGroup{}

	g, gctx := errgroup.WithContext(ctx)
	if t.api != nil {
		g.Go(func() error { return t.api.Serve(gctx) })
	}

	stopProbe, err := t.probe.Start(gctx)
	if err != nil {
		cancel()
		return errors.Join(err, g.Wait())
	}

	if err = t.initDiscordSession(gctx, handlerWG); err != nil {
		logger.ErrorContext(ctx, "error creating discord session", tint.Err(err))
		cancel()
		stopProbe()
		return errors.Join(err, g.Wait())
	}

	startCtx := gctx
	if t.config.StartupTimeout > 0 {
		var startCancel context.CancelFunc
		startCtx, startCancel = context.WithTimeout(gctx, t.config.StartupTimeout)
		defer startCancel()
	}
	if _, regErr := t.discord.registerCommands(discordgo.WithContext(startCtx)); regErr != nil {
		logger.ErrorContext(ctx, "error registering commands, continuing", tint.Err(regErr))
	}

	logger.InfoContext(ctx, "Connecting to Discord Gateway...")
	if openErr := t.discord.session.Open(); openErr != nil {
		logger.ErrorContext(ctx, "error connecting to discord", tint.Err(openErr))
	}

	select {
	case t.signalReady <- struct{}{}:
	default:
	}

	// block until the context is canceled (generally from an interrupt)
	// or the status API stops
	<-gctx.Done()

	return t.shutdown(ctx, g, handlerWG, stopProbe)
}

// shutdown closes the discord session, stops the rate limit probe and
// waits for in-flight handlers, up to the configured shutdown timeout
func (t *Treantai) shutdown(
	ctx context.Context,
	g *errgroup.Group,
	handlerWG *sync.WaitGroup,
	stopProbe func(),
) error {
	logger := t.logger
	logger.WarnContext(ctx, "shutting down")
	shutdownStart := time.Now()

	var errs []error

	if t.discord.session != nil {
		logger.InfoContext(ctx, "closing discord session")
		if err := t.discord.session.Close(); err != nil {
			logger.ErrorContext(ctx, "error closing discord session", tint.Err(err))
		}
		for _, h := range t.discord.discordgoRemoveHandlerFuncs {
			h()
		}
		t.discord.discordgoRemoveHandlerFuncs = []func(){}
	}

	stopProbe()

	handlersDone := make(chan struct{}, 1)
	go func() {
		handlerWG.Wait()
		handlersDone <- struct{}{}
	}()

	var timeout <-chan time.Time
	if t.config.ShutdownTimeout > 0 {
		timer := time.NewTimer(t.config.ShutdownTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-handlersDone:
		logger.InfoContext(ctx, "finished handling in-flight requests")
	case <-timeout:
		logger.WarnContext(ctx, "in-flight requests did not finish in time")
		errs = append(errs, errors.New("in-flight requests did not finish in time"))
	}

	if err := g.Wait(); err != nil {
		logger.ErrorContext(ctx, "error serving status API", tint.Err(err))
		errs = append(errs, err)
	}

	logger.InfoContext(
		ctx,
		"shutdown complete",
		"shutdown_duration", time.Since(shutdownStart),
	)
	return errors.Join(errs...)
}

// initDiscordSession creates the discord session, if needed, and adds
// the gateway event handlers. Each interaction and message is handled in
// its own goroutine.
func (t *Treantai) initDiscordSession(ctx context.Context, handlerWG *sync.WaitGroup) error {
	if t.discord.session == nil {
		disc, err := t.discord.newSession()
		if err != nil {
			return fmt.Errorf("error creating discord session: %w", err)
		}
		t.discord.session = disc
	}

	for _, h := range t.discord.discordgoRemoveHandlerFuncs {
		h()
	}

	t.discord.session.SetIdentify(
		discordgo.Identify{
			Intents: t.config.Discord.GatewayIntents,
			Presence: discordgo.GatewayStatusUpdate{
				Status: string(discordgo.StatusOnline),
				Game: discordgo.Activity{
					Name: t.config.Discord.Activity,
					Type: discordgo.ActivityTypeGame,
				},
			},
		},
	)

	t.discord.discordgoRemoveHandlerFuncs = []func(){
		t.discord.session.AddHandler(t.discord.handlerConnect()),
		t.discord.session.AddHandler(t.discord.handlerDisconnect()),
		t.discord.session.AddHandler(t.discord.handlerReady()),
		t.discord.session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				handler := t.getInteractionHandlerFunc(ctx, i)
				handlerWG.Add(1)
				go func() {
					defer handlerWG.Done()
					defer func() {
						if rc := recover(); rc != nil {
							t.handleRecover(ctx, rc)
						}
					}()
					t.handleInteraction(ctx, handler)
				}()
			},
		),
		t.discord.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				handlerWG.Add(1)
				go func() {
					defer handlerWG.Done()
					defer func() {
						if rc := recover(); rc != nil {
							t.handleRecover(ctx, rc)
						}
					}()
					t.handleDirectMessage(ctx, m)
				}()
			},
		),
	}

	if t.getInteractionHandlerFunc == nil {
		t.getInteractionHandlerFunc = func(
			_ context.Context,
			i *discordgo.InteractionCreate,
		) InteractionHandler {
			return GatewayHandler{
				session:     t.discord.session,
				interaction: i,
				logger: t.discord.logger.With(
					slog.Group("interaction", interactionLogAttrs(*i)...),
				),
			}
		}
	}
	return nil
}

// handleInteraction routes an application command to its handler.
//
// Interactions other than application commands, and commands from bots,
// are ignored. While a command is being handled, the bot's activity is
// set to 'Watching <user>', and is reset to the default afterward.
func (t *Treantai) handleInteraction(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	logger := handler.Logger()

	if i.Type != discordgo.InteractionApplicationCommand {
		logger.DebugContext(ctx, "ignoring interaction", "type", i.Type.String())
		return
	}

	discordUser := getDiscordUser(i)
	if discordUser == nil {
		logger.ErrorContext(ctx, "no user found in interaction")
		return
	}

	logger = logger.With(
		requestIDKey, newRequestID("int"),
		slog.Group("user", discordUserLogAttrs(discordUser)...),
	)
	ctx = WithLogger(ctx, logger)
	logger.InfoContext(ctx, "received new interaction")

	if discordUser.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring")
		return
	}

	t.watchUser(discordUser)
	defer t.resetActivity()

	switch commandName := i.ApplicationCommandData().Name; commandName {
	case DiscordSlashCommandChat:
		t.runChatCommand(ctx, handler)
	case DiscordSlashCommandImage:
		t.runImageCommand(ctx, handler)
	default:
		logger.WarnContext(ctx, "unknown command", "command", commandName)
		if err := handler.Respond(ctx, messageResponse(DefaultCommandNotFound)); err != nil {
			logger.ErrorContext(ctx, "error responding to unknown command", tint.Err(err))
		}
	}
}

// handleDirectMessage answers a direct message sent to the bot.
//
// Messages are ignored if direct messages are disabled, if they weren't
// sent in a DM channel, or if they're from a bot. Users who aren't in the
// allow-list are sent a rejection message, and their message isn't sent
// to the AI backend.
func (t *Treantai) handleDirectMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if !t.config.Discord.DirectMessages {
		return
	}
	if m == nil || m.Message == nil || m.Author == nil {
		return
	}
	// StateEnabled is false, so the channel type isn't available - DMs
	// are the only messages without a guild ID
	if m.GuildID != "" {
		return
	}
	if m.Author.Bot {
		return
	}

	logger := t.discord.logger.With(
		requestIDKey, newRequestID("msg"),
		slog.Group("message", messageLogAttrs(m.Message)...),
		slog.Group("user", discordUserLogAttrs(m.Author)...),
	)
	ctx = WithLogger(ctx, logger)

	if !t.allowlist.Allowed(m.Author.Username) {
		logger.InfoContext(ctx, "rejecting direct message from user not in allow-list")
		dest := newChannelDestination(t.discord.session, m.Author.ID, m.ChannelID)
		if err := dest.Send(ctx, DefaultDMRejectionMessage); err != nil {
			logger.ErrorContext(ctx, "error sending rejection message", tint.Err(err))
		}
		return
	}

	if m.Content == "" {
		logger.DebugContext(ctx, "ignoring direct message without content")
		return
	}

	logger.InfoContext(ctx, "received direct message")
	t.runDirectMessageChat(ctx, m)
}

func (*Treantai) handleRecover(ctx context.Context, rc any) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = slog.Default()
	}
	stackTrace := string(debug.Stack())
	if nerr, ok := rc.(error); ok {
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(nerr),
			"stack_trace", stackTrace,
		)
		return
	}
	if nerr, ok := rc.(string); ok {
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(errors.New(nerr)),
			"stack_trace", stackTrace,
		)
		return
	}
	logger.ErrorContext(
		ctx,
		"recovered from panic",
		"panic_arg", rc,
		"stack_trace", stackTrace,
	)
}
