package analysis

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/resilience"
	"github.com/sells-group/enrich-cli/pkg/anthropic"
	"github.com/sells-group/enrich-cli/pkg/gemini"
)

// Provider generates model output for a prompt.
type Provider interface {
	Name() string
	Generate(ctx context.Context, p Prompt) (string, error)
}

// ProviderError is a provider failure that carries the upstream HTTP status.
type ProviderError struct {
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string { return e.Err.Error() }

func (e *ProviderError) Unwrap() error { return e.Err }

// classifyProviderErr tags a provider error so the breaker and the service
// can branch on it.
func classifyProviderErr(err error, status int) error {
	switch {
	case status == 429:
		return &ProviderError{StatusCode: status, Err: err}
	case resilience.IsTransientHTTPStatus(status):
		return resilience.NewTransientError(&ProviderError{StatusCode: status, Err: err}, status)
	case status != 0:
		return &ProviderError{StatusCode: status, Err: err}
	default:
		return err
	}
}

// isQuotaError reports whether a provider error signals exhausted quota or
// provider-side rate limiting.
func isQuotaError(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.StatusCode == 429 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit")
}

// ProviderConfig selects and configures a Provider.
type ProviderConfig struct {
	Name            string
	GeminiAPIKey    string
	GeminiModel     string
	GeminiBaseURL   string
	AnthropicAPIKey string
	AnthropicModel  string
	MaxTokens       int64
}

// NewProvider builds the configured provider: "gemini", "anthropic" or "mock".
func NewProvider(ctx context.Context, cfg ProviderConfig) (Provider, error) {
	switch cfg.Name {
	case "gemini", "":
		c, err := gemini.NewClient(ctx, gemini.Config{APIKey: cfg.GeminiAPIKey, BaseURL: cfg.GeminiBaseURL})
		if err != nil {
			return nil, eris.Wrap(err, "analysis: gemini provider")
		}
		return NewGeminiProvider(c, cfg.GeminiModel), nil
	case "anthropic":
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
			return nil, eris.New("analysis: anthropic provider: api key is required")
		}
		return NewAnthropicProvider(anthropic.NewClient(cfg.AnthropicAPIKey), cfg.AnthropicModel, cfg.MaxTokens), nil
	case "mock":
		return MockProvider{}, nil
	default:
		return nil, eris.Errorf("analysis: unknown provider %q", cfg.Name)
	}
}

// GeminiProvider generates with the Gemini API.
type GeminiProvider struct {
	client gemini.Client
	model  string
}

// NewGeminiProvider creates a GeminiProvider. An empty model selects
// gemini-2.0-flash.
func NewGeminiProvider(c gemini.Client, model string) *GeminiProvider {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiProvider{client: c, model: model}
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Generate(ctx context.Context, pr Prompt) (string, error) {
	resp, err := p.client.Generate(ctx, gemini.GenerateRequest{
		Model:  p.model,
		System: pr.System,
		Prompt: pr.User,
		JSON:   pr.JSON,
	})
	if err != nil {
		return "", classifyProviderErr(err, gemini.StatusCode(err))
	}
	return resp.Text, nil
}

// AnthropicProvider generates with the Anthropic Messages API.
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicProvider creates an AnthropicProvider. Empty values select
// claude-haiku-4-5-20251001 and 1024 max tokens.
func NewAnthropicProvider(c anthropic.Client, model string, maxTokens int64) *AnthropicProvider {
	if model == "" {
		model = "claude-haiku-4-5-20251001"
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicProvider{client: c, model: model, maxTokens: maxTokens}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Generate(ctx context.Context, pr Prompt) (string, error) {
	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		System:    pr.System,
		Messages:  []anthropic.Message{{Role: "user", Content: pr.User}},
	})
	if err != nil {
		return "", classifyProviderErr(err, anthropic.StatusCode(err))
	}
	resp.Usage.LogCost(p.model, string(pr.Kind))
	return resp.Text(), nil
}

// MockProvider returns deterministic canned output derived from the prompt
// text. It needs no credentials.
type MockProvider struct{}

func (MockProvider) Name() string { return "mock" }

var (
	mockPositive = []string{"満足", "良い", "快適", "クリア", "褒め", "気に入", "簡単", "長持ち", "成長", "拡大", "改善"}
	mockNegative = []string{"残念", "不具合", "遅", "切れ", "できませんでした", "圧迫", "上昇", "激化", "止まる"}
	mockVocab    = []string{"EV", "充電", "生成AI", "需要予測", "半導体", "価格", "フィンテック", "決済", "健康志向", "市場", "補助金", "在庫", "競合"}
)

func (MockProvider) Generate(_ context.Context, pr Prompt) (string, error) {
	text := pr.User
	if i := strings.LastIndex(text, ": "); i >= 0 {
		text = text[i+2:]
	}

	switch pr.Kind {
	case KindSentiment:
		score := 5 + countAny(text, mockPositive)*2 - countAny(text, mockNegative)*2
		score = max(0, min(10, score))
		label := "ニュートラル"
		switch {
		case score >= 6:
			label = "ポジティブ"
		case score <= 4:
			label = "ネガティブ"
		}
		return fmt.Sprintf("```json\n{\"sentiment\": %q, \"score\": %d, \"reason\": \"定型分析による判定です\"}\n```", label, score), nil

	case KindSummary:
		if i := strings.Index(text, "。"); i >= 0 {
			return text[:i+len("。")], nil
		}
		return text, nil

	case KindKeywords:
		var kws []string
		for _, w := range mockVocab {
			if strings.Contains(text, w) && len(kws) < 5 {
				kws = append(kws, fmt.Sprintf("%q", w))
			}
		}
		return "{\"keywords\": [" + strings.Join(kws, ", ") + "]}", nil

	case KindBusinessImpact:
		h := fnv.New32a()
		_, _ = h.Write([]byte(text))
		sum := h.Sum32()
		return fmt.Sprintf(`{"market_opportunity": %d, "threat_level": %d, "investment_priority": %d, "business_impact": "定型分析による評価です"}`,
			1+sum%10, 1+(sum/10)%10, 1+(sum/100)%10), nil

	default:
		return "", eris.Errorf("mock: unsupported analysis %q", pr.Kind)
	}
}

func countAny(text string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}
