package assess

import (
	"context"
	"errors"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"deployguard/internal/config"
)

// Client is the outbound edge to the analysis service. Implementations
// return the raw completion text; parsing stays in this package.
type Client interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

const systemPrompt = "You are a deployment risk analyst. Answer only with the requested JSON object, no prose."

type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient(cfg config.AssessorConfig) (*OpenAIClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("assessor api key not configured and OPENAI_API_KEY not set")
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

func (c *OpenAIClient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxCompletionTokens: maxTokens,
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("analysis service call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("analysis service returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
