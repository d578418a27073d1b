package treantai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/samber/mo"
	"github.com/shopspring/decimal"
)

const (
	DefaultImageErrorMessage = "Image Generation Failed ❌ Try Again Later 😅"

	defaultImageModelID       = "arcane-diffusion"
	defaultImageWidth         = "512"
	defaultImageHeight        = "512"
	defaultImageSteps         = "5"
	defaultImageSamples       = "1"
	imageSafetyCheckerEnabled = "yes"
	imageAttachmentName       = "file.png"
	imageStatusError          = "error"
	imageStatusFailed         = "failed"
)

var defaultGuidanceScale = decimal.NewFromFloat(7.5)

var ErrNoImageOutput = errors.New("no image in response")

// styleNames lists the user-facing style names, in the order they're
// offered as command choices
var styleNames = []string{
	"stable-diffusion",
	"openjourney",
	"anime",
	"paint",
	"disney",
	"portrait",
	"3D",
	"anime_v2",
}

// styleModels maps each user-facing style name to the model ID used by
// the image API
var styleModels = map[string]string{
	"stable-diffusion": "arcane-diffusion",
	"openjourney":      "midjourney",
	"anime":            "animefull",
	"paint":            "midjourney-v4-painta",
	"disney":           "cartoonish",
	"portrait":         "portraitplus-diffusion",
	"3D":               "realistic3d-model",
	"anime_v2":         "animefull2",
}

// styleModelID returns the model ID for the given style, or the default
// model ID if the style is empty or unrecognized
func styleModelID(style string) string {
	if modelID, ok := styleModels[style]; ok {
		return modelID
	}
	return defaultImageModelID
}

// ImageRequestOptions holds the options supplied with an /image command.
// Only Prompt is required.
type ImageRequestOptions struct {
	Prompt         string
	NegativePrompt mo.Option[string]
	Width          mo.Option[string]
	Height         mo.Option[string]
	Style          mo.Option[string]
	Steps          mo.Option[string]
	Seed           mo.Option[string]
	GuidanceScale  mo.Option[string]
}

// imageRequestOptions reads ImageRequestOptions from the interaction.
// Options which weren't supplied, or were supplied empty, are left unset.
func imageRequestOptions(i *discordgo.InteractionCreate) ImageRequestOptions {
	options := discordInteractionOptions(i)
	get := func(name string) mo.Option[string] {
		if v, ok := stringOption(options, name); ok {
			return mo.Some(v)
		}
		return mo.None[string]()
	}
	prompt, _ := stringOption(options, optionPrompt)
	return ImageRequestOptions{
		Prompt:         prompt,
		NegativePrompt: get(optionNegativePrompt),
		Width:          get(optionWidth),
		Height:         get(optionHeight),
		Style:          get(optionStyle),
		Steps:          get(optionSteps),
		Seed:           get(optionSeed),
		GuidanceScale:  get(optionGuidanceScale),
	}
}

// Summary returns a description of the request for display alongside the
// generated image. Options which weren't supplied are omitted.
func (o ImageRequestOptions) Summary(u *discordgo.User) string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(
		&sb,
		"Image Request generated for %s\n\n**Prompt:** %s\n",
		mentionUser(u),
		o.Prompt,
	)
	lines := []struct {
		label string
		value mo.Option[string]
	}{
		{"Negative Prompt", o.NegativePrompt},
		{"Width", o.Width},
		{"Height", o.Height},
		{"Style", o.Style},
		{"Steps", o.Steps},
		{"Seed", o.Seed},
		{"Guidance Scale", o.GuidanceScale},
	}
	for _, line := range lines {
		if v, ok := line.value.Get(); ok {
			_, _ = fmt.Fprintf(&sb, "**%s:** %s\n", line.label, v)
		}
	}
	return sb.String()
}

func (o ImageRequestOptions) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("prompt", o.Prompt)}
	add := func(key string, v mo.Option[string]) {
		if s, ok := v.Get(); ok {
			attrs = append(attrs, slog.String(key, s))
		}
	}
	add(optionNegativePrompt, o.NegativePrompt)
	add(optionWidth, o.Width)
	add(optionHeight, o.Height)
	add(optionStyle, o.Style)
	add(optionSteps, o.Steps)
	add(optionSeed, o.Seed)
	add(optionGuidanceScale, o.GuidanceScale)
	return slog.GroupValue(attrs...)
}

// ImagePayload is the JSON body sent to the image API
//
//nolint:lll // struct tags can't be split
type ImagePayload struct {
	Key               string          `json:"key" log:"[redacted]"`
	Prompt            string          `json:"prompt"`
	NegativePrompt    *string         `json:"negative_prompt"`
	Width             string          `json:"width"`
	Height            string          `json:"height"`
	ModelID           string          `json:"model_id"`
	Samples           string          `json:"samples"`
	NumInferenceSteps string          `json:"num_inference_steps"`
	Seed              *string         `json:"seed"`
	GuidanceScale     jsonDecimal     `json:"guidance_scale"`
	SafetyChecker     string          `json:"safety_checker"`
	Webhook           *string         `json:"webhook"`
	TrackID           *string         `json:"track_id"`
}

func (p ImagePayload) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("model_id", p.ModelID),
		slog.String("width", p.Width),
		slog.String("height", p.Height),
		slog.String("num_inference_steps", p.NumInferenceSteps),
		slog.String("guidance_scale", p.GuidanceScale.String()),
		slog.Bool("seed", p.Seed != nil),
		slog.Bool("negative_prompt", p.NegativePrompt != nil),
	)
}

// jsonDecimal is a decimal encoded as a JSON number instead of a string
type jsonDecimal struct {
	decimal.Decimal
}

func (d jsonDecimal) MarshalJSON() ([]byte, error) {
	return []byte(d.String()), nil
}

// newImagePayload builds the image API request body, substituting the
// default for each option that wasn't supplied. An unparseable guidance
// scale is logged and replaced with the default.
func newImagePayload(
	key string,
	opts ImageRequestOptions,
	logger *slog.Logger,
) ImagePayload {
	guidanceScale := defaultGuidanceScale
	if v, ok := opts.GuidanceScale.Get(); ok {
		parsed, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			if logger != nil {
				logger.Warn(
					"invalid guidance scale, using default",
					tint.Err(err),
					"guidance_scale", v,
					"default", defaultGuidanceScale.String(),
				)
			}
		} else {
			guidanceScale = parsed
		}
	}

	return ImagePayload{
		Key:               key,
		Prompt:            opts.Prompt,
		NegativePrompt:    optionPointer(opts.NegativePrompt),
		Width:             opts.Width.OrElse(defaultImageWidth),
		Height:            opts.Height.OrElse(defaultImageHeight),
		ModelID:           styleModelID(opts.Style.OrEmpty()),
		Samples:           defaultImageSamples,
		NumInferenceSteps: opts.Steps.OrElse(defaultImageSteps),
		Seed:              optionPointer(opts.Seed),
		GuidanceScale:     jsonDecimal{guidanceScale},
		SafetyChecker:     imageSafetyCheckerEnabled,
	}
}

// optionPointer returns nil for an unset option, so it's encoded as null
func optionPointer(o mo.Option[string]) *string {
	if v, ok := o.Get(); ok {
		return &v
	}
	return nil
}

// ImageResult is a generated image
type ImageResult struct {
	URL         string
	ContentType string
	Data        []byte
}

// ImageBackend generates images
type ImageBackend interface {
	Generate(ctx context.Context, payload ImagePayload) (*ImageResult, error)
}

// imageAPIResponse is the subset of the image API response that's used
type imageAPIResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Output  []string `json:"output"`
}

// stableDiffusionClient implements ImageBackend for the stable diffusion
// API. Each request is a single POST, with no retries.
type stableDiffusionClient struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

func newStableDiffusionClient(
	config *ImageConfig,
	httpClient *http.Client,
	logger *slog.Logger,
) *stableDiffusionClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &stableDiffusionClient{
		endpoint:   config.Endpoint,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *stableDiffusionClient) Generate(
	ctx context.Context,
	payload ImagePayload,
) (*ImageResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("error marshaling image payload: %w", err)
	}
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.endpoint,
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating image request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.InfoContext(ctx, "sending image request", "payload", payload)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending image request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var apiResp imageAPIResponse
	if err = json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf(
			"error decoding image response (status %d): %w",
			resp.StatusCode,
			err,
		)
	}
	if resp.StatusCode >= http.StatusBadRequest ||
		apiResp.Status == imageStatusError ||
		apiResp.Status == imageStatusFailed {
		return nil, fmt.Errorf(
			"image request failed (status %d, %q): %s",
			resp.StatusCode,
			apiResp.Status,
			apiResp.Message,
		)
	}
	if len(apiResp.Output) == 0 || apiResp.Output[0] == "" {
		return nil, fmt.Errorf("%w (status %q)", ErrNoImageOutput, apiResp.Status)
	}

	return c.download(ctx, apiResp.Output[0])
}

// download retrieves the generated image from the URL returned by the API
func (c *stableDiffusionClient) download(ctx context.Context, imageURL string) (
	*ImageResult,
	error,
) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating image download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error downloading image: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("error downloading image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading image: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	c.logger.InfoContext(
		ctx,
		"downloaded image",
		"url", imageURL,
		"content_type", contentType,
		"size", len(data),
	)
	return &ImageResult{URL: imageURL, ContentType: contentType, Data: data}, nil
}

// runImageCommand handles the /image command.
//
// A placeholder reply is sent right away. On success, it's edited to
// attach the image, with a summary of the request. On failure, it's
// edited with DefaultImageErrorMessage.
func (t *Treantai) runImageCommand(ctx context.Context, handler InteractionHandler) {
	logger := handlerLogger(ctx, handler)
	i := handler.GetInteraction()
	u := getDiscordUser(i)

	opts := imageRequestOptions(i)
	if opts.Prompt == "" {
		logger.WarnContext(ctx, "image command missing prompt")
		_ = handler.Respond(ctx, messageResponse("A prompt is required"))
		return
	}
	logger = logger.With("image_request", opts)
	ctx = WithLogger(ctx, logger)

	if err := handler.Respond(ctx, placeholderResponse(u)); err != nil {
		logger.ErrorContext(ctx, "error acknowledging image command", tint.Err(err))
		return
	}

	payload := newImagePayload(t.config.Image.Token, opts, logger)
	if opts.GuidanceScale.IsPresent() {
		opts.GuidanceScale = mo.Some(payload.GuidanceScale.String())
	}
	result, err := t.images.Generate(ctx, payload)
	if err != nil {
		logger.ErrorContext(ctx, "error generating image", tint.Err(err))
		content := fmt.Sprintf("%s\n%s", DefaultImageErrorMessage, mentionUser(u))
		if _, editErr := handler.Edit(
			ctx,
			&discordgo.WebhookEdit{Content: &content},
		); editErr != nil {
			logger.ErrorContext(ctx, "error sending image error message", tint.Err(editErr))
		}
		return
	}

	content := shortenString(opts.Summary(u), discordMaxMessageLength)
	_, err = handler.Edit(
		ctx,
		&discordgo.WebhookEdit{
			Content: &content,
			Files: []*discordgo.File{
				{
					Name:        imageAttachmentName,
					ContentType: result.ContentType,
					Reader:      bytes.NewReader(result.Data),
				},
			},
		},
	)
	if err != nil {
		logger.ErrorContext(ctx, "error sending image", tint.Err(err))
	}
}
