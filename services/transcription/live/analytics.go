package live

import (
	"maps"
	"slices"
	"strings"
	"unicode"

	"github.com/xilidan/workmate/services/transcription/entity"
)

const (
	maxKeyTopics      = 5
	maxSentimentTrend = 50
	minTopicWordLen   = 4
	unknownSpeaker    = "unknown"
)

var stopwords = map[string]struct{}{
	"about": {}, "after": {}, "again": {}, "also": {}, "because": {}, "been": {}, "before": {},
	"being": {}, "could": {}, "does": {}, "doing": {}, "from": {}, "have": {}, "here": {},
	"into": {}, "just": {}, "like": {}, "make": {}, "more": {}, "need": {}, "okay": {},
	"only": {}, "other": {}, "really": {}, "should": {}, "some": {}, "that": {}, "their": {},
	"them": {}, "then": {}, "there": {}, "these": {}, "they": {}, "think": {}, "this": {},
	"those": {}, "very": {}, "want": {}, "were": {}, "what": {}, "when": {}, "where": {},
	"which": {}, "will": {}, "with": {}, "would": {}, "yeah": {}, "your": {}, "workmate": {},
}

var positiveWords = map[string]struct{}{
	"agree": {}, "awesome": {}, "done": {}, "excellent": {}, "glad": {}, "good": {}, "great": {},
	"happy": {}, "love": {}, "nice": {}, "perfect": {}, "progress": {}, "resolved": {},
	"success": {}, "thanks": {}, "win": {},
}

var negativeWords = map[string]struct{}{
	"bad": {}, "blocked": {}, "blocker": {}, "broken": {}, "concern": {}, "delay": {},
	"delayed": {}, "disagree": {}, "fail": {}, "failed": {}, "issue": {}, "late": {},
	"problem": {}, "risk": {}, "stuck": {}, "worried": {},
}

// Tracker keeps the rolling analytics of one live session. It is not safe for
// concurrent use; the session serializes access.
type Tracker struct {
	speaking    map[string]float64
	words       map[string]int
	sentiment   []entity.SentimentPoint
	actionItems int
	decisions   int
}

func NewTracker() *Tracker {
	return &Tracker{
		speaking: make(map[string]float64),
		words:    make(map[string]int),
	}
}

// ObserveTranscript folds one transcribed chunk into the snapshot.
func (t *Tracker) ObserveTranscript(seq int64, speaker, text string, seconds float64) {
	if speaker == "" {
		speaker = unknownSpeaker
	}
	if seconds > 0 {
		t.speaking[speaker] += seconds
	} else if _, ok := t.speaking[speaker]; !ok {
		t.speaking[speaker] = 0
	}

	tokens := tokenize(text)
	for _, w := range tokens {
		if len(w) < minTopicWordLen {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		t.words[w]++
	}

	t.sentiment = append(t.sentiment, entity.SentimentPoint{Sequence: seq, Score: sentimentScore(tokens)})
	if len(t.sentiment) > maxSentimentTrend {
		t.sentiment = t.sentiment[len(t.sentiment)-maxSentimentTrend:]
	}
}

func (t *Tracker) ObserveCommand(cmd entity.VoiceCommand) {
	switch cmd.Intent {
	case entity.IntentActionItem:
		t.actionItems++
	case entity.IntentDecision:
		t.decisions++
	}
}

// Snapshot returns a copy of the current analytics.
func (t *Tracker) Snapshot() entity.LiveAnalytics {
	participants := 0
	for speaker := range t.speaking {
		if speaker != unknownSpeaker {
			participants++
		}
	}

	return entity.LiveAnalytics{
		SpeakingTime:     maps.Clone(t.speaking),
		KeyTopics:        t.keyTopics(),
		SentimentTrend:   slices.Clone(t.sentiment),
		ActionItemsCount: t.actionItems,
		DecisionsCount:   t.decisions,
		ParticipantCount: participants,
	}
}

func (t *Tracker) keyTopics() []string {
	words := slices.Collect(maps.Keys(t.words))
	slices.SortFunc(words, func(a, b string) int {
		if d := t.words[b] - t.words[a]; d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})
	if len(words) > maxKeyTopics {
		words = words[:maxKeyTopics]
	}
	return words
}

// sentimentScore is (positive - negative) / hits, in [-1, 1], zero without hits.
func sentimentScore(tokens []string) float64 {
	var pos, neg int
	for _, w := range tokens {
		if _, ok := positiveWords[w]; ok {
			pos++
		}
		if _, ok := negativeWords[w]; ok {
			neg++
		}
	}
	if pos+neg == 0 {
		return 0
	}
	return float64(pos-neg) / float64(pos+neg)
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
