package speech

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// WakeConfidenceThreshold gates detection.
const WakeConfidenceThreshold = 0.75

// wakePhrases is the canonical phrase plus common mis-transcriptions and
// homophones, longest variants first so they win the match.
var wakePhrases = []string{
	"hey orito",
	"hey aurito",
	"hey arita",
	"hey oreo",
	"hey rito",
	"a rito",
	"orito",
	"orita",
}

// Detection is the result of scanning a transcript for the wake word.
type Detection struct {
	Detected   bool
	Phrase     string
	Confidence float64
}

// DetectWakeWord scans a transcript for the wake phrase. Confidence is
// heuristic: 0.95 when the whole utterance is the phrase, 0.85 when the
// phrase opens the utterance, 0.75 anywhere else.
func DetectWakeWord(text string) Detection {
	norm := strings.ToLower(strings.TrimSpace(text))
	if norm == "" {
		return Detection{}
	}

	for _, phrase := range wakePhrases {
		idx := strings.Index(norm, phrase)
		if idx < 0 {
			continue
		}

		confidence := 0.75
		switch {
		case norm == phrase:
			confidence = 0.95
		case idx == 0:
			confidence = 0.85
		}

		if confidence < WakeConfidenceThreshold {
			continue
		}
		return Detection{Detected: true, Phrase: phrase, Confidence: confidence}
	}

	return Detection{}
}

// ExtractCommand strips everything up to and including the matched wake
// phrase and returns the trimmed remainder, preserving the original case.
func ExtractCommand(text string) string {
	trimmed := strings.TrimSpace(text)

	for _, phrase := range wakePhrases {
		if _, end := foldIndex(trimmed, phrase); end >= 0 {
			return strings.TrimSpace(trimmed[end:])
		}
	}
	return trimmed
}

// foldIndex locates the first case-insensitive match of phrase in s and
// returns its byte range, or -1,-1. Matching folds rune by rune so the
// offsets stay valid for s; lowercasing the whole string first can change
// its byte length (U+0130 grows under strings.ToLower) and misalign them.
func foldIndex(s, phrase string) (int, int) {
	want := []rune(phrase)
	for start := 0; start < len(s); {
		i, matched := start, 0
		for matched < len(want) && i < len(s) {
			r, size := utf8.DecodeRuneInString(s[i:])
			if unicode.ToLower(r) != want[matched] {
				break
			}
			i += size
			matched++
		}
		if matched == len(want) {
			return start, i
		}
		_, size := utf8.DecodeRuneInString(s[start:])
		start += size
	}
	return -1, -1
}
