package text

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultChunkSize is the target chunk length in characters.
	DefaultChunkSize = 120
	// hardLimitFactor bounds any single chunk at this multiple of the target.
	hardLimitFactor = 2
)

// SentenceChunker splits text into chunks of whole sentences close to a target
// size. Line breaks always end a sentence, and no chunk exceeds twice the
// target; over-long sentences are split at word boundaries.
type SentenceChunker struct{}

// Chunk splits input into ordered, non-empty chunks. The result is deterministic
// for the same input and target size.
func (SentenceChunker) Chunk(input string, targetSize int) []string {
	if targetSize <= 0 {
		targetSize = DefaultChunkSize
	}

	hardLimit := targetSize * hardLimitFactor

	var (
		chunks     []string
		current    strings.Builder
		currentLen int
	)

	flush := func() {
		if currentLen > 0 {
			chunks = append(chunks, current.String())
		}

		current.Reset()

		currentLen = 0
	}

	for _, line := range strings.Split(input, "\n") {
		for _, sentence := range splitSentences(line) {
			for _, piece := range splitLong(sentence, hardLimit) {
				pieceLen := utf8.RuneCountInString(piece)

				if currentLen > 0 && currentLen+1+pieceLen > targetSize {
					flush()
				}

				if currentLen > 0 {
					current.WriteByte(' ')

					currentLen++
				}

				current.WriteString(piece)

				currentLen += pieceLen
			}
		}
	}

	flush()

	return chunks
}

// splitSentences cuts a single line after runs of terminal punctuation that are
// followed by whitespace or the end of the line.
func splitSentences(line string) []string {
	runes := []rune(line)

	var sentences []string

	appendTrimmed := func(candidate string) {
		trimmed := strings.TrimSpace(candidate)
		if trimmed != "" {
			sentences = append(sentences, trimmed)
		}
	}

	start := 0

	for index := 0; index < len(runes); index++ {
		if !isTerminator(runes[index]) {
			continue
		}

		end := index + 1
		for end < len(runes) && (isTerminator(runes[end]) || isClosing(runes[end])) {
			end++
		}

		if end < len(runes) && !unicode.IsSpace(runes[end]) {
			index = end - 1

			continue
		}

		appendTrimmed(string(runes[start:end]))

		start = end
		index = end - 1
	}

	if start < len(runes) {
		appendTrimmed(string(runes[start:]))
	}

	return sentences
}

// splitLong breaks a sentence longer than limit into word-aligned pieces.
func splitLong(sentence string, limit int) []string {
	if utf8.RuneCountInString(sentence) <= limit {
		return []string{sentence}
	}

	var (
		pieces     []string
		current    strings.Builder
		currentLen int
	)

	for _, word := range strings.Fields(sentence) {
		for _, part := range splitWord(word, limit) {
			partLen := utf8.RuneCountInString(part)

			if currentLen > 0 && currentLen+1+partLen > limit {
				pieces = append(pieces, current.String())

				current.Reset()

				currentLen = 0
			}

			if currentLen > 0 {
				current.WriteByte(' ')

				currentLen++
			}

			current.WriteString(part)

			currentLen += partLen
		}
	}

	if currentLen > 0 {
		pieces = append(pieces, current.String())
	}

	return pieces
}

func splitWord(word string, limit int) []string {
	runes := []rune(word)
	if len(runes) <= limit {
		return []string{word}
	}

	parts := make([]string, 0, len(runes)/limit+1)
	for start := 0; start < len(runes); start += limit {
		end := min(start+limit, len(runes))
		parts = append(parts, string(runes[start:end]))
	}

	return parts
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isClosing(r rune) bool {
	return r == '"' || r == '\'' || r == ')' || r == ']'
}
