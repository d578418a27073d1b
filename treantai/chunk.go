package treantai

// chunkResponse splits text into consecutive pieces of at most limit
// characters. Concatenating the result, in order, yields the original text.
// Length is counted in runes, so a multi-byte character is never split.
// Empty text yields no chunks, and a non-positive limit yields the whole
// text as a single chunk.
func chunkResponse(text string, limit int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return []string{text}
	}

	chunks := make([]string, 0, (len(runes)+limit-1)/limit)
	for len(runes) > 0 {
		end := min(limit, len(runes))
		chunks = append(chunks, string(runes[:end]))
		runes = runes[end:]
	}
	return chunks
}

// exceedsThreshold reports whether text is long enough that it must be
// chunked and sent by direct message, rather than as a single reply
func exceedsThreshold(text string, threshold int) bool {
	return runeLen(text) >= threshold
}
