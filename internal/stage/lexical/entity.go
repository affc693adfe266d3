package lexical

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/codebuildervaibhav/speech-insights/internal/types"
)

// Entity labels produced by the extractor
const (
	LabelPerson  = "PERSON"
	LabelOrg     = "ORG"
	LabelDate    = "DATE"
	LabelMoney   = "MONEY"
	LabelProduct = "PRODUCT"
	LabelGPE     = "GPE"
	LabelTime    = "TIME"
)

type entityRule struct {
	label string
	re    *regexp.Regexp
}

const (
	months   = `January|February|March|April|May|June|July|August|September|October|November|December`
	weekdays = `Monday|Tuesday|Wednesday|Thursday|Friday|Saturday|Sunday`
	capWord  = `[A-Z][a-zA-Z&'-]+`
)

// Rules are tried in order; an earlier rule wins when spans tie.
var entityRules = []entityRule{
	{LabelMoney, regexp.MustCompile(`[$€£]\s?\d[\d,]*(?:\.\d+)?(?:\s?(?:million|billion|thousand|k))?|\b\d[\d,]*(?:\.\d+)?\s(?:dollars|euros|pounds|cents|bucks)\b`)},
	{LabelTime, regexp.MustCompile(`(?i)\b\d{1,2}(?::\d{2})?\s?(?:a\.m\.|p\.m\.|am\b|pm\b)|\b(?:noon|midnight)\b`)},
	{LabelDate, regexp.MustCompile(`\b(?:(?:` + months + `)\s\d{1,2}(?:st|nd|rd|th)?(?:,?\s\d{4})?|\d{1,2}(?:st|nd|rd|th)?\sof\s(?:` + months + `)|(?:next|last|this)\s(?:` + weekdays + `|week|month|year)|` + weekdays + `|\d{1,2}/\d{1,2}/\d{2,4}|(?i:today|tomorrow|yesterday))\b`)},
	{LabelOrg, regexp.MustCompile(`\b(?:` + capWord + `\s)*` + capWord + `\s(?:Inc|Corp|Corporation|LLC|Ltd|Company|Co|Bank|University|Group|Airlines|Insurance|Technologies)\b`)},
	{LabelPerson, regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Miss|Dr|Prof)\.?\s` + capWord + `(?:\s` + capWord + `)?`)},
	{LabelPerson, regexp.MustCompile(`(?i:\bmy name is|\bthis is|\bspeaking with|\bspoke (?:to|with))\s(` + capWord + `(?:\s` + capWord + `)?)`)},
}

var gazetteer = map[string]string{
	"iphone": LabelProduct, "ipad": LabelProduct, "macbook": LabelProduct, "android": LabelProduct,
	"windows": LabelProduct, "playstation": LabelProduct, "xbox": LabelProduct, "kindle": LabelProduct,
	"google": LabelOrg, "amazon": LabelOrg, "microsoft": LabelOrg, "apple": LabelOrg, "netflix": LabelOrg,
	"paypal": LabelOrg, "visa": LabelOrg, "mastercard": LabelOrg, "fedex": LabelOrg, "ups": LabelOrg,
	"america": LabelGPE, "usa": LabelGPE, "canada": LabelGPE, "mexico": LabelGPE, "london": LabelGPE,
	"paris": LabelGPE, "berlin": LabelGPE, "india": LabelGPE, "china": LabelGPE, "japan": LabelGPE,
	"germany": LabelGPE, "france": LabelGPE, "texas": LabelGPE, "california": LabelGPE,
	"chicago": LabelGPE, "boston": LabelGPE, "seattle": LabelGPE, "tokyo": LabelGPE,
}

// EntityExtractor recognizes entities with patterns and a small gazetteer.
type EntityExtractor struct{}

// NewEntityExtractor creates a rule-based entity extractor
func NewEntityExtractor() *EntityExtractor {
	return &EntityExtractor{}
}

type span struct {
	start, end int // byte offsets
	label      string
}

// ExtractEntities returns non-overlapping entities in text order, deduplicated
// by lowercased text and label. Offsets are character positions.
func (e *EntityExtractor) ExtractEntities(ctx context.Context, text string) (*types.Entities, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return types.NewEntities(nil), nil
	}

	var spans []span
	for _, rule := range entityRules {
		for _, m := range rule.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[0], m[1]
			// rules with a capture group only keep the group
			if len(m) >= 4 && m[2] >= 0 {
				start, end = m[2], m[3]
			}
			spans = append(spans, span{start, end, rule.label})
		}
	}
	for _, tok := range tokenize(text) {
		if label, ok := gazetteer[tok.text]; ok && isUpper(text[tok.start]) {
			spans = append(spans, span{tok.start, tok.end, label})
		}
	}

	// earliest first, longest first on ties
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end-spans[i].start > spans[j].end-spans[j].start
	})

	var (
		list    []types.Entity
		seen    = make(map[string]struct{})
		lastEnd = -1
	)
	for _, s := range spans {
		if s.start < lastEnd {
			continue
		}
		lastEnd = s.end

		surface := text[s.start:s.end]
		key := strings.ToLower(surface) + "\x00" + s.label
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		startChar := runeOffset(text, s.start)
		endChar := runeOffset(text, s.end)
		confidence := 1.0
		list = append(list, types.Entity{
			Text:       surface,
			Label:      s.label,
			StartChar:  &startChar,
			EndChar:    &endChar,
			Confidence: &confidence,
		})
	}

	return types.NewEntities(list), nil
}

func isUpper(b byte) bool {
	return b >= 'A' && b <= 'Z'
}
