package lexical

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/codebuildervaibhav/speech-insights/internal/types"
)

const (
	// DefaultMinChars is the shortest text that gets summarized.
	DefaultMinChars = 200

	summarySentences = 3
	maxActionItems   = 5
)

var actionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(need to|needs to|should|must|will|going to|have to|has to)\b`),
	regexp.MustCompile(`\b(please|kindly|ensure|make sure|follow up|schedule|call|email|send)\b`),
	regexp.MustCompile(`\b(action required|next step|todo|to-do|task)\b`),
}

// topicKeywords is ordered so topics come out in a stable order.
var topicKeywords = []struct {
	topic    string
	keywords []string
}{
	{"billing", []string{"bill", "charge", "payment", "invoice", "fee", "cost", "price"}},
	{"technical", []string{"error", "issue", "problem", "bug", "crash", "not working", "broken"}},
	{"account", []string{"account", "login", "password", "profile", "settings", "access"}},
	{"shipping", []string{"delivery", "shipping", "package", "order", "track", "arrive"}},
	{"refund", []string{"refund", "return", "exchange", "money back", "cancel"}},
	{"product", []string{"product", "item", "feature", "quality", "defect"}},
	{"support", []string{"help", "support", "assist", "service", "representative"}},
	{"complaint", []string{"complaint", "unhappy", "frustrated", "disappointed", "angry"}},
}

// Summarizer produces extractive summaries.
type Summarizer struct {
	minChars int
}

// NewSummarizer creates a summarizer. Texts shorter than minChars characters
// are returned unchanged; minChars <= 0 uses DefaultMinChars.
func NewSummarizer(minChars int) *Summarizer {
	if minChars <= 0 {
		minChars = DefaultMinChars
	}
	return &Summarizer{minChars: minChars}
}

// Summarize picks the highest scoring sentences in original order and extracts
// key phrases, action items and topics.
func (s *Summarizer) Summarize(ctx context.Context, text string, keyPhraseCount int, segments []types.Segment) (*types.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < s.minChars {
		return &types.Summary{Summary: text, KeyPhrases: []string{}}, nil
	}

	sentences := splitSentences(text)
	// unpunctuated transcripts fall back to segment boundaries
	if len(sentences) <= 1 && len(segments) > 1 {
		sentences = sentences[:0]
		for _, seg := range segments {
			if t := strings.TrimSpace(seg.Text); t != "" {
				sentences = append(sentences, t)
			}
		}
	}

	return &types.Summary{
		Summary:     extractSummary(text, sentences),
		KeyPhrases:  keyPhrases(text, keyPhraseCount),
		ActionItems: actionItems(sentences),
		Topics:      topics(text),
	}, nil
}

func extractSummary(text string, sentences []string) string {
	if len(sentences) <= summarySentences {
		return text
	}

	freq := wordFrequencies(text)
	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(sentences))
	for i, sent := range sentences {
		var sum float64
		var n int
		for _, tok := range tokenize(sent) {
			if f, ok := freq[tok.text]; ok {
				sum += f
				n++
			}
		}
		if n > 0 {
			sum /= math.Sqrt(float64(n))
		}
		ranked[i] = scored{i, sum}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	top := ranked[:summarySentences]
	sort.Slice(top, func(i, j int) bool { return top[i].idx < top[j].idx })

	parts := make([]string, len(top))
	for i, r := range top {
		parts[i] = sentences[r.idx]
	}
	return strings.Join(parts, " ")
}

// wordFrequencies counts content words, normalized by the most frequent one.
func wordFrequencies(text string) map[string]float64 {
	freq := make(map[string]float64)
	var top float64
	for _, tok := range tokenize(text) {
		if isStopword(tok.text) {
			continue
		}
		freq[tok.text]++
		if freq[tok.text] > top {
			top = freq[tok.text]
		}
	}
	for w := range freq {
		freq[w] /= top
	}
	return freq
}

// keyPhrases returns the most frequent pairs of adjacent content words.
// Ties keep first-appearance order.
func keyPhrases(text string, n int) []string {
	phrases := []string{}
	if n <= 0 {
		return phrases
	}

	counts := make(map[string]int)
	var order []string
	for _, sent := range splitSentences(text) {
		prev := ""
		for _, tok := range tokenize(sent) {
			if isStopword(tok.text) || len(tok.text) < 2 {
				prev = ""
				continue
			}
			if prev != "" {
				p := prev + " " + tok.text
				if counts[p] == 0 {
					order = append(order, p)
				}
				counts[p]++
			}
			prev = tok.text
		}
	}

	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > n {
		order = order[:n]
	}
	return append(phrases, order...)
}

func actionItems(sentences []string) []string {
	var items []string
	seen := make(map[string]struct{})
	for _, sent := range sentences {
		lower := strings.ToLower(sent)
		for _, re := range actionPatterns {
			if !re.MatchString(lower) {
				continue
			}
			if _, dup := seen[sent]; !dup {
				seen[sent] = struct{}{}
				items = append(items, sent)
			}
			break
		}
		if len(items) == maxActionItems {
			break
		}
	}
	return items
}

func topics(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, t := range topicKeywords {
		for _, kw := range t.keywords {
			if strings.Contains(lower, kw) {
				found = append(found, t.topic)
				break
			}
		}
	}
	return found
}
