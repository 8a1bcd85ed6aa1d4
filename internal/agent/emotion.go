package agent

import "strings"

// Emotion intensity levels.
const (
	IntensityMild     = "mild"
	IntensityModerate = "moderate"
	IntensityStrong   = "strong"
)

// Intensity thresholds on the combined score.
const (
	strongScore   = 4
	moderateScore = 2
)

// Emotion is the outcome of keyword-based emotion detection.
type Emotion struct {
	Emotions  []string
	Primary   string
	Intensity string
}

// emotionCategories is checked in order; on a score tie the earlier
// category wins, so the order is part of the behavior.
var emotionCategories = []struct {
	name     string
	keywords []string
}{
	{"happy", []string{"happy", "glad", "joyful", "wonderful", "great", "delighted", "cheerful"}},
	{"excited", []string{"excited", "thrilled", "amazing", "fantastic", "can't wait"}},
	{"sad", []string{"sad", "lonely", "unhappy", "crying", "miss him", "miss her", "miss them", "heartbroken"}},
	{"anxious", []string{"worried", "anxious", "nervous", "scared", "afraid", "frightened"}},
	{"angry", []string{"angry", "mad", "furious", "frustrated", "annoyed", "upset"}},
	{"confused", []string{"confused", "can't remember", "cannot remember", "forgot", "forget", "mixed up"}},
	{"tired", []string{"tired", "exhausted", "sleepy", "weary", "worn out"}},
}

// DetectEmotion scores the message against the fixed keyword tables.
// The score combines keyword hits with exclamation density and an
// all-caps bonus; a message with no hits reads as neutral/mild.
func DetectEmotion(text string) Emotion {
	lower := strings.ToLower(text)

	var emotions []string
	primary := "neutral"
	best := 0
	for _, cat := range emotionCategories {
		hits := 0
		for _, kw := range cat.keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		emotions = append(emotions, cat.name)
		if hits > best {
			best = hits
			primary = cat.name
		}
	}

	if best == 0 {
		return Emotion{Primary: "neutral", Intensity: IntensityMild}
	}

	score := best + exclamationBonus(text) + capsBonus(text)

	intensity := IntensityMild
	switch {
	case score >= strongScore:
		intensity = IntensityStrong
	case score >= moderateScore:
		intensity = IntensityModerate
	}

	return Emotion{Emotions: emotions, Primary: primary, Intensity: intensity}
}

// exclamationBonus counts exclamation marks, capped at 3.
func exclamationBonus(text string) int {
	n := strings.Count(text, "!")
	if n > 3 {
		n = 3
	}
	return n
}

// capsBonus adds 2 when the message is mostly shouted.
func capsBonus(text string) int {
	letters, upper := 0, 0
	for _, r := range text {
		switch {
		case r >= 'A' && r <= 'Z':
			letters++
			upper++
		case r >= 'a' && r <= 'z':
			letters++
		}
	}
	if letters > 8 && float64(upper)/float64(letters) > 0.5 {
		return 2
	}
	return 0
}
