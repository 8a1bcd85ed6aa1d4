package agent

import "regexp"

// DangerMatch describes a critical phrase hit and the SOS severity it
// escalates to.
type DangerMatch struct {
	Label string
	Level int
}

// dangerPatterns is checked in order and the first match wins, so the
// most severe categories come first. Levels map onto SOS severity 1-5.
var dangerPatterns = []struct {
	label   string
	level   int
	pattern *regexp.Regexp
}{
	{"breathing distress", 5, regexp.MustCompile(`(?i)can'?t breathe|cannot breathe|trouble breathing|hard to breathe|struggling to breathe`)},
	{"bleeding or unconsciousness", 5, regexp.MustCompile(`(?i)bleeding (a lot|badly|heavily)|blood everywhere|unconscious|passed out|won'?t wake up`)},
	{"fall", 4, regexp.MustCompile(`(?i)\bfell\b|\bfallen\b|on the floor|hit my head|can'?t get up|cannot get up`)},
	{"emergency request", 5, regexp.MustCompile(`(?i)\bemergency\b|help me please|call (911|999|112|an ambulance)|\bambulance\b`)},
	{"severe disorientation", 4, regexp.MustCompile(`(?i)don'?t know where i am|nothing looks familiar|don'?t recognize (this|anything|anyone)`)},
	{"severe pain", 5, regexp.MustCompile(`(?i)chest pain|severe pain|terrible pain|unbearable pain|hurts so (bad|much)`)},
}

// DetectDanger matches the raw user message against the critical phrase
// table. No debounce is applied: repeated matching messages retrigger
// the escalation every turn.
func DetectDanger(text string) (DangerMatch, bool) {
	for _, entry := range dangerPatterns {
		if entry.pattern.MatchString(text) {
			return DangerMatch{Label: entry.label, Level: entry.level}, true
		}
	}
	return DangerMatch{}, false
}
