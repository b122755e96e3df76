package digiscore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const systemPrompt = "You are an expert in urban digital transformation and e-governance."

// AIClient generates recommendations with an OpenAI-compatible chat API.
type AIClient struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int64
}

// NewAIClient builds a client from cfg. It does not contact the API.
func NewAIClient(cfg OpenAIConfig) (*AIClient, error) {
	if cfg.APIKey == "" {
		return nil, eris.New("openai: API key not configured")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AIClient{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Ping checks that the API is reachable and the key is accepted.
func (c *AIClient) Ping(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx); err != nil {
		return eris.Wrap(err, "openai: list models")
	}
	return nil
}

// Generate asks the model for recommendations for city.
func (c *AIClient) Generate(ctx context.Context, city CityRecord) (string, error) {
	chatCompletion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(BuildPrompt(city)),
		},
		Model:       openai.ChatModel(c.model),
		Temperature: openai.Float(c.temperature),
		MaxTokens:   openai.Int(c.maxTokens),
	})
	if err != nil {
		return "", eris.Wrap(err, "openai: chat completion")
	}

	if len(chatCompletion.Choices) == 0 {
		return "", eris.New("openai: no choices in response")
	}
	content := strings.TrimSpace(chatCompletion.Choices[0].Message.Content)
	if content == "" {
		return "", eris.New("openai: empty content in response")
	}
	return content, nil
}

// BuildPrompt renders the user prompt describing city's service coverage.
func BuildPrompt(city CityRecord) string {
	var status strings.Builder
	for i, s := range city.ServiceFlags() {
		if i > 0 {
			status.WriteString("\n")
		}
		mark := "❌ Not Available"
		if s.Flag.Available() {
			mark = "✅ Available"
		}
		fmt.Fprintf(&status, "- %s: %s", s.Service.PromptName, mark)
	}

	return fmt.Sprintf(`Analyze the digital services status for %s (%s):

Current Digital Inclusion Score: %d/%d
Services Status:
%s

As a digital policy expert, provide specific recommendations:
1. Identify the 2-3 most critical missing services to implement
2. Suggest practical implementation steps for each
3. Estimate potential impact on citizens
4. Provide examples from similar cities
5. Suggest quick wins and long-term strategies

Format with clear sections and bullet points.
Keep under 250 words.`, city.Name, city.Zone, city.Score, NumServices, status.String())
}

var (
	aiOnce   sync.Once
	aiClient *AIClient
)

// InitAI sets up the process-wide AI client the first time it is called and
// returns it on every call. It returns nil when no key is configured or the
// API cannot be reached; that outcome is final for the life of the process.
func InitAI(ctx context.Context, cfg OpenAIConfig) *AIClient {
	aiOnce.Do(func() {
		defer func() {
			if p := recover(); p != nil {
				zap.L().Warn("OpenAI setup failed, using basic recommendations", zap.Any("panic", p))
				aiClient = nil
			}
		}()

		client, err := NewAIClient(cfg)
		if err != nil {
			zap.L().Warn("OpenAI disabled, using basic recommendations", zap.Error(err))
			return
		}

		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := client.Ping(pingCtx); err != nil {
			zap.L().Warn("OpenAI connection test failed, using basic recommendations", zap.Error(err))
			return
		}

		zap.L().Info("OpenAI connection successful", zap.String("model", cfg.Model))
		aiClient = client
	})
	return aiClient
}
