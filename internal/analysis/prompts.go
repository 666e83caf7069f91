package analysis

// Kind identifies one analysis capability.
type Kind string

const (
	KindSentiment      Kind = "sentiment"
	KindSummary        Kind = "summary"
	KindKeywords       Kind = "keywords"
	KindBusinessImpact Kind = "business_impact"
)

// Prompt is one provider request.
type Prompt struct {
	Kind   Kind
	System string
	User   string
	// JSON is set when the analysis expects a JSON object back.
	JSON bool
}

type promptTemplate struct {
	system string
	prefix string
	json   bool
	label  string
}

var prompts = map[Kind]promptTemplate{
	KindSentiment: {
		system: "あなたは与えられたテキストの感情を分析する専門家です。感情は「ポジティブ」「ネガティブ」「ニュートラル」のいずれかで判断し、その感情スコア（0から10の範囲、10が最もポジティブ、5がニュートラル、0が最もネガティブ）と、その判断に至った理由を簡潔に日本語で説明してください。**必ず次の正確なJSON形式のみで回答してください。他のテキストは一切含めないでください**：{\"sentiment\": \"感情\", \"score\": スコア, \"reason\": \"理由\"}",
		prefix: "以下のレビューの感情を分析してください。\n\nレビュー: ",
		json:   true,
		label:  "Sentiment analysis",
	},
	KindSummary: {
		system: "あなたは与えられたテキストを簡潔かつ網羅的に要約する専門家です。重要なポイントを抽出し、読みやすい形式で要約を生成してください。",
		prefix: "以下のニュース記事を要約してください。\n\n記事: ",
		label:  "Text summarization",
	},
	KindKeywords: {
		system: "あなたは与えられたテキストから主要なキーワードを抽出する専門家です。最大5つのキーワードを抽出し、**必ず次の正確なJSON形式のみで回答してください。他のテキストは一切含めないでください**：{\"keywords\": [\"キーワード1\", \"キーワード2\", \"キーワード3\"]}",
		prefix: "以下のテキストから主要なキーワードを抽出してください。\n\nテキスト: ",
		json:   true,
		label:  "Keyword extraction",
	},
	KindBusinessImpact: {
		system: "あなたは企業戦略のビジネス分析専門家です。与えられた市場ニュースから、1)市場機会スコア（1-10、新規事業機会の可能性）、2)競合脅威レベル（1-10、競合からの脅威度）、3)投資優先度（1-10、投資検討の優先度）を分析してください。**必ず次の正確なJSON形式のみで回答してください**：{\"market_opportunity\": スコア, \"threat_level\": スコア, \"investment_priority\": スコア, \"business_impact\": \"簡潔な分析理由\"}",
		prefix: "以下の市場ニュースをビジネス視点で分析してください。\n\nニュース: ",
		json:   true,
		label:  "Business analysis",
	},
}

// BuildPrompt renders the provider request for an analysis over text.
func BuildPrompt(kind Kind, text string) Prompt {
	t := prompts[kind]
	return Prompt{Kind: kind, System: t.system, User: t.prefix + text, JSON: t.json}
}

func label(kind Kind) string {
	if t, ok := prompts[kind]; ok {
		return t.label
	}
	return string(kind)
}
