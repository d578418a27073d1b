package treantai

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkResponse(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		limit    int
		expected []string
	}{
		{
			name:     "empty",
			input:    "",
			limit:    10,
			expected: nil,
		},
		{
			name:     "shorter than limit",
			input:    "hello",
			limit:    10,
			expected: []string{"hello"},
		},
		{
			name:     "equal to limit",
			input:    "0123456789",
			limit:    10,
			expected: []string{"0123456789"},
		},
		{
			name:     "one over limit",
			input:    "0123456789a",
			limit:    10,
			expected: []string{"0123456789", "a"},
		},
		{
			name:     "multi-byte characters",
			input:    "🤯🤯🤯😅😅",
			limit:    2,
			expected: []string{"🤯🤯", "🤯😅", "😅"},
		},
		{
			name:     "non-positive limit",
			input:    "hello",
			limit:    0,
			expected: []string{"hello"},
		},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				assert.Equal(t, tc.expected, chunkResponse(tc.input, tc.limit))
			},
		)
	}
}

func TestChunkResponse_Reassembles(t *testing.T) {
	lengths := []int{1, 1999, 2000, 2001, 4500, 6000, 10001}
	limits := []int{1, 7, 1000, 2000}

	for _, length := range lengths {
		for _, limit := range limits {
			t.Run(
				fmt.Sprintf("length=%d/limit=%d", length, limit), func(t *testing.T) {
					text := testResponseText(length)
					require.Equal(t, length, runeLen(text))

					chunks := chunkResponse(text, limit)
					expectedCount := (length + limit - 1) / limit
					require.Len(t, chunks, expectedCount)

					for _, c := range chunks {
						assert.LessOrEqual(t, runeLen(c), limit)
						assert.NotEmpty(t, c)
					}
					assert.Equal(t, text, strings.Join(chunks, ""))
				},
			)
		}
	}
}

func TestExceedsThreshold(t *testing.T) {
	assert.False(t, exceedsThreshold(testResponseText(1999), 2000))
	assert.True(t, exceedsThreshold(testResponseText(2000), 2000))
	assert.True(t, exceedsThreshold(testResponseText(2001), 2000))
	assert.False(t, exceedsThreshold("😅😅", 3))
}

// testResponseText returns text of the given length (in characters),
// mixing ASCII and multi-byte characters so chunk boundaries are checked
// against both
func testResponseText(length int) string {
	alphabet := []rune("abcdefghij ñ😅\n")
	rv := make([]rune, length)
	for i := range rv {
		rv[i] = alphabet[i%len(alphabet)]
	}
	return string(rv)
}
