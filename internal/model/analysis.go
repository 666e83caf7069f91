package model

// Sentiment labels returned by the sentiment analysis.
const (
	SentimentPositive = "ポジティブ"
	SentimentNeutral  = "ニュートラル"
	SentimentNegative = "ネガティブ"
)

// TextRequest is the body every analysis endpoint accepts.
type TextRequest struct {
	Text string `json:"text"`
}

// SentimentResult is the output of sentiment analysis. Score ranges from 0
// (most negative) to 10 (most positive); 5 is neutral.
type SentimentResult struct {
	Sentiment string  `json:"sentiment"`
	Score     float64 `json:"score"`
	Reason    string  `json:"reason"`
}

// SummaryResult is the output of summarization.
type SummaryResult struct {
	Summary string `json:"summary"`
}

// KeywordsResult is the output of keyword extraction. Error is set when the
// model output could not be parsed and Keywords fell back to empty.
type KeywordsResult struct {
	Keywords []string `json:"keywords"`
	Error    string   `json:"error,omitempty"`
}

// BusinessImpactResult scores a news item from a business perspective. Each
// score ranges from 1 to 10.
type BusinessImpactResult struct {
	MarketOpportunity  float64 `json:"market_opportunity"`
	ThreatLevel        float64 `json:"threat_level"`
	InvestmentPriority float64 `json:"investment_priority"`
	BusinessImpact     string  `json:"business_impact"`
}

// ErrorDetail is the body of every non-2xx analysis response.
type ErrorDetail struct {
	Detail string `json:"detail"`
}

// SentimentBucket maps a sentiment label onto the distribution buckets
// ("positive", "neutral", "negative"). Unknown labels count as neutral.
func SentimentBucket(label string) string {
	switch label {
	case SentimentPositive:
		return "positive"
	case SentimentNegative:
		return "negative"
	default:
		return "neutral"
	}
}
