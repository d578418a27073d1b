package treantai

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slogDiscard returns a logger which discards everything
func slogDiscard() *slog.Logger {
	return slog.New(tint.NewHandler(io.Discard, nil))
}

func TestShortenString(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		limit    int
		expected string
	}{
		{
			name:     "String shorter than limit",
			input:    "Short string",
			limit:    20,
			expected: "Short string",
		},
		{
			name:     "String equal to limit",
			input:    "Exactly twenty chars",
			limit:    20,
			expected: "Exactly twenty chars",
		},
		{
			name:     "String with double newlines",
			input:    "Line 1\n\nLine 2\n\nLine 3",
			limit:    20,
			expected: "Line 1\nLine 2\nLine 3",
		},
		{
			name:     "String with bold markdown",
			input:    "Some **bold** text",
			limit:    15,
			expected: "Some bold text",
		},
		{
			name:     "Truncated with suffix",
			input:    strings.Repeat("a", 100),
			limit:    50,
			expected: strings.Repeat("a", 22) + "\n\n**(output limit reached)**",
		},
		{
			name:     "Multi-byte characters",
			input:    "😅😅😅😅",
			limit:    4,
			expected: "😅😅😅😅",
		},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				result := shortenString(tc.input, tc.limit)
				assert.Equal(t, tc.expected, result)
				assert.LessOrEqual(t, runeLen(result), tc.limit)
			},
		)
	}
}

func TestNewRequestID(t *testing.T) {
	first := newRequestID("int")
	second := newRequestID("int")
	assert.True(t, strings.HasPrefix(first, "int_"))
	assert.Len(t, first, len("int_")+26)
	assert.NotEqual(t, first, second)
}

func TestLoggerCtx(t *testing.T) {
	ctx := context.Background()
	_, ok := ContextLogger(ctx)
	assert.False(t, ok)

	logger := slogDiscard()
	ctx = WithLogger(ctx, logger)
	rv, ok := ContextLogger(ctx)
	require.True(t, ok)
	assert.Same(t, logger, rv)

	rv, ok = ContextLogger(WithLogger(context.Background(), nil))
	require.True(t, ok)
	assert.NotNil(t, rv)
}

func TestGetDiscordUser(t *testing.T) {
	u := newDiscordUser(t)

	i := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{User: u}}
	assert.Same(t, u, getDiscordUser(i))

	i = &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{Member: &discordgo.Member{User: u}},
	}
	assert.Same(t, u, getDiscordUser(i))

	i = &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}}
	assert.Nil(t, getDiscordUser(i))
}

func TestStringOption(t *testing.T) {
	u := newDiscordUser(t)
	i := newDiscordInteraction(
		t,
		u,
		DiscordSlashCommandChat,
		map[string]string{optionPrompt: "hello", optionSeed: ""},
	)
	options := discordInteractionOptions(i)

	v, ok := stringOption(options, optionPrompt)
	assert.True(t, ok)
	assert.Equal(t, "hello", v)

	_, ok = stringOption(options, optionSeed)
	assert.False(t, ok)

	_, ok = stringOption(options, optionStyle)
	assert.False(t, ok)
}

func TestStructToSlogValue(t *testing.T) {
	type inner struct {
		Name string `json:"name"`
	}
	type sample struct {
		Token  string   `json:"token" log:"[redacted]"`
		Count  int      `json:"count"`
		Empty  string   `json:"empty"`
		Tags   []string `json:"tags"`
		Inner  *inner   `json:"inner"`
		Absent *inner   `json:"absent"`
		hidden string
	}

	v := structToSlogValue(
		sample{
			Token:  "secret",
			Count:  3,
			Inner:  &inner{Name: "x"},
			hidden: "nope",
		},
	)
	require.Equal(t, slog.KindGroup, v.Kind())

	attrs := map[string]slog.Value{}
	for _, a := range v.Group() {
		attrs[a.Key] = a.Value
	}
	assert.Equal(t, "[redacted]", attrs["token"].String())
	assert.Equal(t, int64(3), attrs["count"].Int64())
	assert.Contains(t, attrs, "inner")
	assert.NotContains(t, attrs, "empty")
	assert.NotContains(t, attrs, "tags")
	assert.NotContains(t, attrs, "absent")
	assert.NotContains(t, attrs, "hidden")

	assert.Equal(t, slog.KindAny, structToSlogValue(nil).Kind())
}
