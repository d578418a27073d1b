package treantai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pngHeader is enough of a PNG for content type detection
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestStyleModelID(t *testing.T) {
	testCases := []struct {
		style    string
		expected string
	}{
		{"stable-diffusion", "arcane-diffusion"},
		{"openjourney", "midjourney"},
		{"anime", "animefull"},
		{"paint", "midjourney-v4-painta"},
		{"disney", "cartoonish"},
		{"portrait", "portraitplus-diffusion"},
		{"3D", "realistic3d-model"},
		{"anime_v2", "animefull2"},
		{"", "arcane-diffusion"},
		{"3d", "arcane-diffusion"},
		{"watercolor", "arcane-diffusion"},
	}

	for _, tc := range testCases {
		t.Run(
			fmt.Sprintf("style=%q", tc.style), func(t *testing.T) {
				assert.Equal(t, tc.expected, styleModelID(tc.style))
			},
		)
	}

	for _, name := range styleNames {
		assert.Contains(t, styleModels, name)
	}
}

func TestNewImagePayload_Defaults(t *testing.T) {
	payload := newImagePayload(
		"api-key",
		ImageRequestOptions{Prompt: "a castle"},
		nil,
	)

	assert.Equal(t, "512", payload.Width)
	assert.Equal(t, "512", payload.Height)
	assert.Equal(t, "5", payload.NumInferenceSteps)
	assert.Equal(t, "7.5", payload.GuidanceScale.String())
	assert.Equal(t, "arcane-diffusion", payload.ModelID)
	assert.Nil(t, payload.NegativePrompt)
	assert.Nil(t, payload.Seed)

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))

	expected := map[string]any{
		"key":                 "api-key",
		"prompt":              "a castle",
		"negative_prompt":     nil,
		"width":               "512",
		"height":              "512",
		"model_id":            "arcane-diffusion",
		"samples":             "1",
		"num_inference_steps": "5",
		"seed":                nil,
		"guidance_scale":      7.5,
		"safety_checker":      "yes",
		"webhook":             nil,
		"track_id":            nil,
	}
	assert.Equal(t, expected, body)
}

func TestNewImagePayload_Options(t *testing.T) {
	opts := ImageRequestOptions{
		Prompt:         "a castle",
		NegativePrompt: mo.Some("blurry"),
		Width:          mo.Some("768"),
		Height:         mo.Some("256"),
		Style:          mo.Some("3D"),
		Steps:          mo.Some("25"),
		Seed:           mo.Some("42"),
		GuidanceScale:  mo.Some("12"),
	}
	payload := newImagePayload("api-key", opts, nil)

	assert.Equal(t, "realistic3d-model", payload.ModelID)
	assert.Equal(t, "768", payload.Width)
	assert.Equal(t, "256", payload.Height)
	assert.Equal(t, "25", payload.NumInferenceSteps)
	assert.Equal(t, "12", payload.GuidanceScale.String())
	require.NotNil(t, payload.NegativePrompt)
	assert.Equal(t, "blurry", *payload.NegativePrompt)
	require.NotNil(t, payload.Seed)
	assert.Equal(t, "42", *payload.Seed)
}

func TestNewImagePayload_InvalidGuidanceScale(t *testing.T) {
	payload := newImagePayload(
		"api-key",
		ImageRequestOptions{Prompt: "a castle", GuidanceScale: mo.Some("very")},
		slogDiscard(),
	)
	assert.True(t, payload.GuidanceScale.Equal(defaultGuidanceScale))
}

func TestImagePayload_GuidanceScaleIsNumber(t *testing.T) {
	payload := newImagePayload(
		"api-key",
		ImageRequestOptions{Prompt: "a castle", GuidanceScale: mo.Some("12.25")},
		nil,
	)
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"guidance_scale":12.25`)
}

func TestImageRequestOptions(t *testing.T) {
	u := newDiscordUser(t)
	i := newDiscordInteraction(
		t,
		u,
		DiscordSlashCommandImage,
		map[string]string{
			optionPrompt: "a castle",
			optionStyle:  "anime",
			optionSeed:   "",
		},
	)
	opts := imageRequestOptions(i)

	assert.Equal(t, "a castle", opts.Prompt)
	assert.Equal(t, mo.Some("anime"), opts.Style)
	assert.True(t, opts.Seed.IsAbsent(), "empty options are left unset")
	assert.True(t, opts.Width.IsAbsent())

	summary := opts.Summary(u)
	assert.Contains(t, summary, "Image Request generated for "+u.Mention())
	assert.Contains(t, summary, "**Prompt:** a castle")
	assert.Contains(t, summary, "**Style:** anime")
	assert.NotContains(t, summary, "Seed")
	assert.NotContains(t, summary, "Width")
}

func TestStableDiffusionClient_Generate(t *testing.T) {
	var received ImagePayload
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc(
		"POST /api/v3/dreambooth", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			body, err := io.ReadAll(r.Body)
			if !assert.NoError(t, err) {
				return
			}
			if !assert.NoError(t, json.Unmarshal(body, &received)) {
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = fmt.Fprintf(
				w,
				`{"status":"success","output":["%s/generated/image.png"]}`,
				srv.URL,
			)
		},
	)
	mux.HandleFunc(
		"GET /generated/image.png", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write(pngHeader)
		},
	)
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := newStableDiffusionClient(
		&ImageConfig{Endpoint: srv.URL + "/api/v3/dreambooth"},
		srv.Client(),
		slogDiscard(),
	)
	payload := newImagePayload(
		"api-key",
		ImageRequestOptions{Prompt: "a castle", Style: mo.Some("3D")},
		nil,
	)

	result, err := client.Generate(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, result.Data)
	assert.Equal(t, "image/png", result.ContentType)
	assert.Equal(t, srv.URL+"/generated/image.png", result.URL)

	assert.Equal(t, "realistic3d-model", received.ModelID)
	assert.Equal(t, "a castle", received.Prompt)
	assert.Equal(t, "api-key", received.Key)
}

func TestStableDiffusionClient_GenerateErrors(t *testing.T) {
	testCases := []struct {
		name       string
		statusCode int
		body       string
		expectErr  error
	}{
		{
			name:       "error status",
			statusCode: http.StatusOK,
			body:       `{"status":"error","message":"invalid key"}`,
		},
		{
			name:       "failed status",
			statusCode: http.StatusOK,
			body:       `{"status":"failed","message":"nsfw"}`,
		},
		{
			name:       "http error",
			statusCode: http.StatusInternalServerError,
			body:       `{"status":"","message":"oops"}`,
		},
		{
			name:       "no output",
			statusCode: http.StatusOK,
			body:       `{"status":"processing","output":[]}`,
			expectErr:  ErrNoImageOutput,
		},
		{
			name:       "invalid json",
			statusCode: http.StatusOK,
			body:       `<html>`,
		},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				srv := httptest.NewServer(
					http.HandlerFunc(
						func(w http.ResponseWriter, _ *http.Request) {
							w.WriteHeader(tc.statusCode)
							_, _ = w.Write([]byte(tc.body))
						},
					),
				)
				t.Cleanup(srv.Close)

				client := newStableDiffusionClient(
					&ImageConfig{Endpoint: srv.URL},
					srv.Client(),
					slogDiscard(),
				)
				result, err := client.Generate(
					context.Background(),
					newImagePayload("k", ImageRequestOptions{Prompt: "p"}, nil),
				)
				require.Error(t, err)
				assert.Nil(t, result)
				if tc.expectErr != nil {
					assert.ErrorIs(t, err, tc.expectErr)
				}
			},
		)
	}
}

func TestImageCommand(t *testing.T) {
	bot, _ := newTestTreantai(t, nil)
	images := &stubImageBackend{
		result:   &ImageResult{URL: "https://example.com/x.png", ContentType: "image/png", Data: pngHeader},
		payloads: make(chan ImagePayload, 10),
	}
	bot.images = images

	u := newDiscordUser(t)
	i := newDiscordInteraction(
		t,
		u,
		DiscordSlashCommandImage,
		map[string]string{optionPrompt: "a castle", optionStyle: "3D"},
	)
	handler := newStubInteractionHandler(t, i)

	bot.runImageCommand(context.Background(), handler)

	payloads := drain(images.payloads)
	require.Len(t, payloads, 1)
	assert.Equal(t, "realistic3d-model", payloads[0].ModelID)
	assert.Equal(t, "test-image-token", payloads[0].Key)

	responses := drain(handler.callRespond)
	require.Len(t, responses, 1)
	assert.Equal(t, "AI Text is being generated for "+u.Mention(), responses[0].Data.Content)

	edits := drain(handler.callEdit)
	require.Len(t, edits, 1)
	assert.Contains(t, *edits[0].Content, "**Style:** 3D")
	require.Len(t, edits[0].Files, 1)
	assert.Equal(t, imageAttachmentName, edits[0].Files[0].Name)

	data, err := io.ReadAll(edits[0].Files[0].Reader)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, data)
}

func TestImageCommand_Failure(t *testing.T) {
	bot, _ := newTestTreantai(t, nil)
	bot.images = &stubImageBackend{
		err:      errors.New("image API unavailable"),
		payloads: make(chan ImagePayload, 10),
	}

	u := newDiscordUser(t)
	i := newDiscordInteraction(
		t,
		u,
		DiscordSlashCommandImage,
		map[string]string{optionPrompt: "a castle"},
	)
	handler := newStubInteractionHandler(t, i)

	bot.runImageCommand(context.Background(), handler)

	edits := drain(handler.callEdit)
	require.Len(t, edits, 1)
	assert.Equal(t, DefaultImageErrorMessage+"\n"+u.Mention(), *edits[0].Content)
	assert.Empty(t, edits[0].Files)
	assert.Equal(t, DefaultDiscordActivity, bot.activity.Load().Name)
}

func TestImageCommand_InvalidGuidanceScaleSummary(t *testing.T) {
	bot, _ := newTestTreantai(t, nil)
	images := &stubImageBackend{
		result:   &ImageResult{URL: "https://example.com/x.png", ContentType: "image/png", Data: pngHeader},
		payloads: make(chan ImagePayload, 10),
	}
	bot.images = images

	u := newDiscordUser(t)
	i := newDiscordInteraction(
		t,
		u,
		DiscordSlashCommandImage,
		map[string]string{optionPrompt: "a castle", optionGuidanceScale: "very"},
	)
	handler := newStubInteractionHandler(t, i)

	bot.runImageCommand(context.Background(), handler)

	payloads := drain(images.payloads)
	require.Len(t, payloads, 1)
	assert.Equal(t, "7.5", payloads[0].GuidanceScale.String())

	edits := drain(handler.callEdit)
	require.Len(t, edits, 1)
	assert.Contains(t, *edits[0].Content, "**Guidance Scale:** 7.5")
	assert.NotContains(t, *edits[0].Content, "very")
}
