package lexical

import (
	"context"

	"github.com/codebuildervaibhav/speech-insights/internal/types"
)

var (
	positiveWords = toSet(`good great excellent amazing awesome happy glad pleased love loved lovely
wonderful fantastic perfect helpful thanks thank appreciate appreciated resolved easy fast
nice best better satisfied recommend enjoy enjoyed fine brilliant success successful smooth
friendly clear correct works working fixed delighted excited impressive reliable`)

	negativeWords = toSet(`bad terrible awful horrible poor hate hated angry upset annoyed
frustrated frustrating disappointed disappointing worst worse problem problems issue issues broken
slow wrong error errors fail failed failure crash crashed bug bugs useless unhappy complaint
cancel refund late delay delayed difficult confusing rude expensive missing lost damaged`)

	negators = toSet(`not no never don't doesn't didn't isn't wasn't aren't weren't can't cannot
won't hardly without`)
)

// neutralWeight is the pseudo-count given to the neutral class.
const neutralWeight = 0.5

// SentimentAnalyzer scores polarity with a word lexicon and simple negation.
type SentimentAnalyzer struct{}

// NewSentimentAnalyzer creates a lexicon sentiment analyzer
func NewSentimentAnalyzer() *SentimentAnalyzer {
	return &SentimentAnalyzer{}
}

// AnalyzeSentiment scores the full text and, when segments are given, each segment.
func (a *SentimentAnalyzer) AnalyzeSentiment(ctx context.Context, text string, segments []types.Segment) (*types.Sentiment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	label, confidence, scores := scoreText(text)
	result := &types.Sentiment{
		OverallSentiment: label,
		Confidence:       confidence,
		Scores:           scores,
	}

	for _, seg := range segments {
		segLabel, segConf, _ := scoreText(seg.Text)
		start, end := seg.Start, seg.End
		result.SegmentSentiments = append(result.SegmentSentiments, types.SegmentSentiment{
			Text:       seg.Text,
			Sentiment:  segLabel,
			Confidence: segConf,
			Start:      &start,
			End:        &end,
		})
	}
	return result, nil
}

// scoreText returns the argmax label, its confidence and the normalized scores.
// Text without words is neutral with zero confidence.
func scoreText(text string) (types.SentimentLabel, float64, types.SentimentScores) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return types.SentimentNeutral, 0, types.SentimentScores{}
	}

	var pos, neg float64
	for i, tok := range tokens {
		polarity := 0.0
		if _, ok := positiveWords[tok.text]; ok {
			polarity = 1
		} else if _, ok := negativeWords[tok.text]; ok {
			polarity = -1
		}
		if polarity == 0 {
			continue
		}
		// a negator within the two preceding words flips polarity
		for j := i - 1; j >= 0 && j >= i-2; j-- {
			if _, ok := negators[tokens[j].text]; ok {
				polarity = -polarity
				break
			}
		}
		if polarity > 0 {
			pos++
		} else {
			neg++
		}
	}

	total := pos + neg + neutralWeight
	scores := types.SentimentScores{
		Positive: round4(pos / total),
		Negative: round4(neg / total),
		Neutral:  round4(neutralWeight / total),
	}

	label, confidence := types.SentimentNeutral, scores.Neutral
	if scores.Positive > confidence {
		label, confidence = types.SentimentPositive, scores.Positive
	}
	if scores.Negative > confidence {
		label, confidence = types.SentimentNegative, scores.Negative
	}
	return label, confidence, scores
}
