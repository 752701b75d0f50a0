package oracle

import (
	"context"
	"errors"
	"fmt"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
)

const systemPrompt = `Classify the financial analytics question into exactly one category:
descriptive (what happened), diagnostic (why it happened),
predictive (what will happen), prescriptive (what should we do).
Reply with JSON only:
{"intent": "...", "confidence": 0.0-1.0,
 "scores": {"descriptive": 0.0, "diagnostic": 0.0, "predictive": 0.0, "prescriptive": 0.0},
 "metrics": [], "comparison_type": null, "reasoning": ""}`

// OpenAIClient classifies with a chat completion model.
type OpenAIClient struct {
	client openaisdk.Client
	model  string
}

// NewOpenAIClient builds a client with SDK retries disabled; the router
// owns the retry budget.
func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = string(openaisdk.ChatModelGPT4oMini)
	}
	return &OpenAIClient{
		client: openaisdk.NewClient(opts...),
		model:  model,
	}
}

func (c *OpenAIClient) Classify(ctx context.Context, text string) (*Output, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(systemPrompt),
			openaisdk.UserMessage(text),
		},
		Model:       openaisdk.ChatModel(c.model),
		Temperature: param.NewOpt(0.0),
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}
	return parseOutput(resp.Choices[0].Message.Content)
}
