package text_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/book-expert/tts-jobs/internal/text"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chunkTestCase struct {
	name     string
	input    string
	target   int
	expected []string
}

func TestSentenceChunker_Chunk(t *testing.T) {
	t.Parallel()

	tests := []chunkTestCase{
		{name: "empty input", input: "", target: 120, expected: nil},
		{name: "whitespace only", input: " \n\t\n", target: 120, expected: nil},
		{
			name:     "short text stays whole",
			input:    "One. Two. Three.",
			target:   120,
			expected: []string{"One. Two. Three."},
		},
		{
			name:     "sentences grouped by target",
			input:    "First one. Second one. Third.",
			target:   10,
			expected: []string{"First one.", "Second one.", "Third."},
		},
		{
			name:     "decimal point is not a boundary",
			input:    "It costs 3.5 dollars. Next.",
			target:   15,
			expected: []string{"It costs 3.5 dollars.", "Next."},
		},
		{
			name:     "closing quote stays with sentence",
			input:    `He said "Hi." Then left.`,
			target:   12,
			expected: []string{`He said "Hi."`, "Then left."},
		},
		{
			name:     "oversized word split at hard limit",
			input:    strings.Repeat("a", 50),
			target:   10,
			expected: []string{strings.Repeat("a", 20), strings.Repeat("a", 20), strings.Repeat("a", 10)},
		},
	}

	chunker := text.SentenceChunker{}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.expected, chunker.Chunk(testCase.input, testCase.target))
		})
	}
}

func TestSentenceChunker_LineBreaksBoundChunkSize(t *testing.T) {
	t.Parallel()

	input := `This is a very long sentence that would normally create a massive chunk
and it continues on the next line without any periods
and keeps going on another line
and another line
and yet another line
until it finally ends here`

	chunks := text.SentenceChunker{}.Chunk(input, 120)
	require.Greater(t, len(chunks), 1)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 240)
		assert.NotEmpty(t, chunk)
	}

	assert.Equal(t, strings.Fields(input), strings.Fields(strings.Join(chunks, " ")))
}

func TestSentenceChunker_Deterministic(t *testing.T) {
	t.Parallel()

	input := strings.Repeat("A sentence of moderate length sits here. ", 40)
	chunker := text.SentenceChunker{}

	assert.Equal(t, chunker.Chunk(input, 80), chunker.Chunk(input, 80))
}

func TestNormalizer_Normalize(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty", input: "", expected: ""},
		{
			name:     "abbreviations quotes and references",
			input:    "Dr. Smith said “hi” [12]  twice",
			expected: `Doctor Smith said "hi" twice`,
		},
		{
			name:     "line structure preserved and blank lines dropped",
			input:    "line one\r\n\r\n  line two\t\tend",
			expected: "line one\nline two end",
		},
		{name: "dashes", input: "wait—what", expected: "wait - what"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.expected, normalizer.Normalize(testCase.input))
		})
	}
}
