// Package lexical provides dependency-free stage implementations for
// sentiment, entities and summaries. They are deterministic and suitable for
// offline runs and tests; deployments wanting model quality use the remote
// backends instead.
package lexical

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	wordRe     = regexp.MustCompile(`[A-Za-z][A-Za-z']*`)
	sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]*`)
)

type token struct {
	text  string // lowercased
	start int    // byte offset
	end   int
}

func tokenize(text string) []token {
	locs := wordRe.FindAllStringIndex(text, -1)
	tokens := make([]token, 0, len(locs))
	for _, loc := range locs {
		tokens = append(tokens, token{
			text:  strings.ToLower(text[loc[0]:loc[1]]),
			start: loc[0],
			end:   loc[1],
		})
	}
	return tokens
}

func splitSentences(text string) []string {
	var out []string
	for _, s := range sentenceRe.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// runeOffset converts a byte offset in s to a character offset.
func runeOffset(s string, byteOff int) int {
	return utf8.RuneCountInString(s[:byteOff])
}

func round4(f float64) float64 {
	return float64(int64(f*10000+0.5)) / 10000
}

var stopwords = toSet(`a about above after again against all am an and any are as at be because
been before being below between both but by can could did do does doing down during each few for
from further had has have having he her here hers herself him himself his how i if in into is it
its itself just me more most my myself no nor not now of off on once only or other our ours
ourselves out over own same she should so some such than that the their theirs them themselves
then there these they this those through to too under until up very was we were what when where
which while who whom why will with would you your yours yourself yourselves um uh yeah okay ok
like really also get got going go know think well oh so right i'm it's that's don't can't we're
you're they're i've i'll`)

func toSet(words string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(words) {
		set[w] = struct{}{}
	}
	return set
}

func isStopword(w string) bool {
	_, ok := stopwords[w]
	return ok
}
