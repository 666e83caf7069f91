package analysis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/enrich-cli/internal/model"
)

const (
	defaultBusinessScore   = 5
	fallbackExcerptRunes   = 100
	sentimentMissingReason = "分析に問題がありました"
	businessIncomplete     = "分析結果が不完全でした"
)

// CleanResponse strips surrounding whitespace and Markdown code fences from
// model output.
func CleanResponse(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func excerpt(s string) string {
	if utf8.RuneCountInString(s) > fallbackExcerptRunes {
		s = string([]rune(s)[:fallbackExcerptRunes])
	}
	return s + "..."
}

// ParseSentiment decodes model output, substituting neutral defaults for
// missing fields and for unparseable output.
func ParseSentiment(raw string) model.SentimentResult {
	cleaned := CleanResponse(raw)
	var m map[string]any
	if err := json.Unmarshal([]byte(cleaned), &m); err != nil {
		return model.SentimentResult{
			Sentiment: model.SentimentNeutral,
			Score:     0,
			Reason:    "分析結果の解析に失敗しました。元のレスポンス: " + excerpt(cleaned),
		}
	}

	out := model.SentimentResult{Sentiment: model.SentimentNeutral, Reason: sentimentMissingReason}
	if s, ok := m["sentiment"].(string); ok {
		out.Sentiment = s
	}
	if f, ok := toFloat(m["score"]); ok {
		out.Score = f
	}
	if r, ok := m["reason"].(string); ok {
		out.Reason = r
	}
	return out
}

// ParseSummary returns the model output as the summary.
func ParseSummary(raw string) model.SummaryResult {
	return model.SummaryResult{Summary: strings.TrimSpace(raw)}
}

// ParseKeywords decodes model output. Missing keywords become an empty list;
// unparseable output also sets Error.
func ParseKeywords(raw string) model.KeywordsResult {
	cleaned := CleanResponse(raw)
	var m map[string]any
	if err := json.Unmarshal([]byte(cleaned), &m); err != nil {
		return model.KeywordsResult{
			Keywords: []string{},
			Error:    "キーワード抽出結果の解析に失敗しました。元のレスポンス: " + excerpt(cleaned),
		}
	}

	out := model.KeywordsResult{Keywords: []string{}}
	items, _ := m["keywords"].([]any)
	for _, it := range items {
		switch v := it.(type) {
		case string:
			if v = strings.TrimSpace(v); v != "" {
				out.Keywords = append(out.Keywords, v)
			}
		case nil:
		default:
			out.Keywords = append(out.Keywords, fmt.Sprint(v))
		}
	}
	return out
}

// ParseBusinessImpact decodes model output, filling any missing score with 5.
func ParseBusinessImpact(raw string) model.BusinessImpactResult {
	cleaned := CleanResponse(raw)
	var m map[string]any
	if err := json.Unmarshal([]byte(cleaned), &m); err != nil {
		return model.BusinessImpactResult{
			MarketOpportunity:  defaultBusinessScore,
			ThreatLevel:        defaultBusinessScore,
			InvestmentPriority: defaultBusinessScore,
			BusinessImpact:     "ビジネス分析結果の解析に失敗しました。元のレスポンス: " + excerpt(cleaned),
		}
	}

	score := func(key string) float64 {
		if f, ok := toFloat(m[key]); ok {
			return f
		}
		return defaultBusinessScore
	}
	out := model.BusinessImpactResult{
		MarketOpportunity:  score("market_opportunity"),
		ThreatLevel:        score("threat_level"),
		InvestmentPriority: score("investment_priority"),
		BusinessImpact:     businessIncomplete,
	}
	if s, ok := m["business_impact"].(string); ok {
		out.BusinessImpact = s
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
