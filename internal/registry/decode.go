package registry

import (
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/model"
)

// Result tags understood by Decoder.
const (
	ResultSentiment      = "sentiment"
	ResultSummary        = "summary"
	ResultKeywords       = "keywords"
	ResultBusinessImpact = "business_impact"
	ResultJSON           = "json"
)

var decoders = map[string]func([]byte) (any, error){
	ResultSentiment:      decodeSentiment,
	ResultSummary:        decodeSummary,
	ResultKeywords:       decodeKeywords,
	ResultBusinessImpact: decodeBusinessImpact,
	ResultJSON:           decodeJSON,
}

// Decoder returns the strict response decoder for a result tag.
func Decoder(result string) (func([]byte) (any, error), error) {
	d, ok := decoders[result]
	if !ok {
		return nil, eris.Errorf("registry: unknown result type %q (known: %v)", result, ResultTypes())
	}
	return d, nil
}

// ResultTypes lists the known result tags.
func ResultTypes() []string {
	out := make([]string, 0, len(decoders))
	for k := range decoders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func decodeSentiment(b []byte) (any, error) {
	var v struct {
		Sentiment *string  `json:"sentiment"`
		Score     *float64 `json:"score"`
		Reason    string   `json:"reason"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, eris.Wrap(err, "sentiment")
	}
	if v.Sentiment == nil || v.Score == nil {
		return nil, eris.New("sentiment: missing sentiment or score")
	}
	return model.SentimentResult{Sentiment: *v.Sentiment, Score: *v.Score, Reason: v.Reason}, nil
}

func decodeSummary(b []byte) (any, error) {
	var v struct {
		Summary *string `json:"summary"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, eris.Wrap(err, "summary")
	}
	if v.Summary == nil {
		return nil, eris.New("summary: missing summary")
	}
	return model.SummaryResult{Summary: *v.Summary}, nil
}

func decodeKeywords(b []byte) (any, error) {
	var v struct {
		Keywords *[]string `json:"keywords"`
		Error    string    `json:"error"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, eris.Wrap(err, "keywords")
	}
	if v.Keywords == nil {
		return nil, eris.New("keywords: missing keywords")
	}
	return model.KeywordsResult{Keywords: *v.Keywords, Error: v.Error}, nil
}

func decodeBusinessImpact(b []byte) (any, error) {
	var v struct {
		MarketOpportunity  *float64 `json:"market_opportunity"`
		ThreatLevel        *float64 `json:"threat_level"`
		InvestmentPriority *float64 `json:"investment_priority"`
		BusinessImpact     *string  `json:"business_impact"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, eris.Wrap(err, "business_impact")
	}
	if v.MarketOpportunity == nil || v.ThreatLevel == nil || v.InvestmentPriority == nil || v.BusinessImpact == nil {
		return nil, eris.New("business_impact: missing score or explanation")
	}
	return model.BusinessImpactResult{
		MarketOpportunity:  *v.MarketOpportunity,
		ThreatLevel:        *v.ThreatLevel,
		InvestmentPriority: *v.InvestmentPriority,
		BusinessImpact:     *v.BusinessImpact,
	}, nil
}

func decodeJSON(b []byte) (any, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, eris.Wrap(err, "json")
	}
	return v, nil
}
