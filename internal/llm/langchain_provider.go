package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// LangchainProvider wraps a langchaingo model, grounded on
// raphi011-knowhow's Model type, registered alongside HTTPProvider as a
// second provider a deployment can route to by name.
type LangchainProvider struct {
	llm       llms.Model
	modelName string
}

// NewLangchainProvider builds an OpenAI-compatible langchaingo model.
// baseURL lets it point at a LiteLLM proxy the same way HTTPProvider
// does, reusing one API surface for two client implementations.
func NewLangchainProvider(baseURL, apiKey, model string) (*LangchainProvider, error) {
	opts := []openai.Option{
		openai.WithModel(model),
		openai.WithToken(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	m, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: create langchain provider: %w", err)
	}
	return &LangchainProvider{llm: m, modelName: model}, nil
}

func (p *LangchainProvider) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, userPrompt),
	}

	resp, err := p.llm.GenerateContent(ctx, messages, llms.WithTemperature(temperature))
	if err != nil {
		return "", fmt.Errorf("llm: generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: no response choices")
	}
	return resp.Choices[0].Content, nil
}
