package classifier

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type intentProfile struct {
	keywords []string
	phrases  []string
	weight   float64
}

type keywordClassifier struct {
	profiles  map[string]intentProfile
	stopWords map[string]bool
}

func New() IClassifier {
	stopWords := map[string]bool{
		"the": true, "a": true, "an": true, "i": true, "my": true, "is": true,
		"it": true, "to": true, "of": true, "and": true, "or": true, "in": true,
		"on": true, "at": true, "for": true, "with": true, "me": true, "we": true,
		"you": true, "your": true, "have": true, "has": true, "just": true,
		"please": true, "hi": true, "hello": true, "hey": true, "um": true, "uh": true,
	}

	return &keywordClassifier{
		profiles:  defaultIntentProfiles(),
		stopWords: stopWords,
	}
}

func defaultIntentProfiles() map[string]intentProfile {
	return map[string]intentProfile{
		IntentEmergency: {
			keywords: []string{"gas", "smoke", "fire", "flooding", "flood", "burst", "sparking", "leaking", "leak", "carbon", "monoxide", "emergency"},
			phrases:  []string{"smell gas", "water everywhere", "no heat", "burst pipe", "sewage backup", "sparks flying"},
			weight:   1.4,
		},
		IntentWrongNumber: {
			keywords: []string{"wrong"},
			phrases:  []string{"wrong number", "who is this", "didn't call", "never called", "stop calling"},
			weight:   1.2,
		},
		IntentSpam: {
			keywords: []string{"warranty", "survey", "prize", "robocall"},
			phrases:  []string{"extended warranty", "final notice", "you have been selected", "press one"},
			weight:   1.0,
		},
		IntentBooking: {
			keywords: []string{"appointment", "schedule", "book", "booking", "visit", "technician", "tomorrow", "today", "morning", "afternoon", "available"},
			phrases:  []string{"come out", "send someone", "set up a time", "get someone out"},
			weight:   1.0,
		},
		IntentUpdateBooking: {
			keywords: []string{"reschedule", "cancel", "move", "change"},
			phrases:  []string{"change my appointment", "move my appointment", "running late", "cancel my appointment"},
			weight:   1.1,
		},
		IntentTroubleshooting: {
			keywords: []string{"broken", "noise", "rattling", "dripping", "clogged", "stuck", "won't", "isn't", "error", "blinking", "tripped"},
			phrases:  []string{"not working", "stopped working", "keeps turning off", "won't turn on", "won't start"},
			weight:   0.9,
		},
		IntentBilling: {
			keywords: []string{"invoice", "bill", "charge", "charged", "refund", "payment", "receipt", "overcharged"},
			phrases:  []string{"pay my bill", "charged twice"},
			weight:   1.0,
		},
		IntentInfoRequest: {
			keywords: []string{"hours", "price", "pricing", "cost", "estimate", "quote", "warranty", "license", "insured", "area"},
			phrases:  []string{"how much", "do you service", "are you open", "service area"},
			weight:   0.8,
		},
	}
}

// Classify scans the utterance against every intent profile. It is pure string work,
// no allocation-heavy machinery, so it stays well under the per-turn latency budget.
func (c *keywordClassifier) Classify(text string) (*IntentResult, error) {
	startTime := time.Now()

	cleanText := c.cleanText(text)
	tokens := c.extractTokens(cleanText)

	signals := make(map[string]bool, len(c.profiles))
	var results []*IntentResult

	for intent, profile := range c.profiles {
		confidence, matches := c.scoreProfile(tokens, cleanText, profile)
		signals[intent] = confidence >= 0.3

		if confidence > 0.2 {
			results = append(results, &IntentResult{
				Intent:     intent,
				Confidence: confidence,
				Matches:    matches,
			})
		}
	}

	processingTime := time.Since(startTime)

	if len(results) == 0 {
		return &IntentResult{
			Intent:         IntentUnknown,
			Confidence:     0.0,
			Signals:        signals,
			CleanedText:    cleanText,
			ProcessingTime: processingTime.String(),
		}, nil
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})

	best := results[0]
	best.Signals = signals
	best.CleanedText = cleanText
	best.ProcessingTime = processingTime.String()

	return best, nil
}

func (c *keywordClassifier) scoreProfile(tokens []string, fullText string, profile intentProfile) (float64, []MatchResult) {
	var matches []MatchResult
	totalScore := 0.0

	for _, keyword := range profile.keywords {
		for _, token := range tokens {
			if strings.EqualFold(token, keyword) {
				matches = append(matches, MatchResult{
					Keyword: keyword,
					Score:   1.0,
					Type:    "exact",
				})
				totalScore += 1.0
				continue
			}

			similarity := c.calculateSimilarity(token, keyword)
			if similarity > 0.8 && similarity < 1.0 {
				matches = append(matches, MatchResult{
					Keyword: keyword,
					Score:   similarity * 0.7,
					Type:    "fuzzy",
				})
				totalScore += similarity * 0.7
			}
		}
	}

	for _, phrase := range profile.phrases {
		if strings.Contains(fullText, phrase) {
			matches = append(matches, MatchResult{
				Keyword: phrase,
				Score:   1.5,
				Type:    "phrase",
			})
			totalScore += 1.5
		}
	}

	confidence := (totalScore * profile.weight) / 3.0
	if len(matches) > 1 {
		confidence *= 1.1
	}
	confidence = math.Min(confidence, 1.0)

	return confidence, matches
}

func (c *keywordClassifier) calculateSimilarity(text1, text2 string) float64 {
	if text1 == text2 {
		return 1.0
	}

	distance := c.levenshteinDistance(text1, text2)
	maxLen := math.Max(float64(len(text1)), float64(len(text2)))

	if maxLen == 0 {
		return 0.0
	}

	return math.Max(0, 1.0-(float64(distance)/maxLen))
}

func (c *keywordClassifier) levenshteinDistance(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	matrix := make([][]int, len(s1)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(s2)+1)
		matrix[i][0] = i
	}

	for j := 0; j <= len(s2); j++ {
		matrix[0][j] = j
	}

	for i := 1; i <= len(s1); i++ {
		for j := 1; j <= len(s2); j++ {
			cost := 0
			if s1[i-1] != s2[j-1] {
				cost = 1
			}
			matrix[i][j] = minOf(
				matrix[i-1][j]+1,
				matrix[i][j-1]+1,
				matrix[i-1][j-1]+cost,
			)
		}
	}

	return matrix[len(s1)][len(s2)]
}

func minOf(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func (c *keywordClassifier) cleanText(text string) string {
	lowered := strings.ToLower(strings.TrimSpace(text))

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	normalized, _, err := transform.String(t, lowered)
	if err != nil {
		normalized = lowered
	}

	var b strings.Builder
	b.Grow(len(normalized))
	for _, r := range normalized {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '\'' {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

func (c *keywordClassifier) extractTokens(cleanText string) []string {
	fields := strings.Fields(cleanText)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if !c.stopWords[f] {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
