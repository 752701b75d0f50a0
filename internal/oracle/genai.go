package oracle

import (
	"context"
	"encoding/json"
	"strings"

	apphttp "fin-analytics/internal/common/http"
)

const classifyPath = "/api/ai/classify-intent"

// GenAIClient calls the in-house GenAI service.
type GenAIClient struct {
	baseURL string
	client  *apphttp.Client
}

// NewGenAIClient builds a client. Retries are left to the router.
func NewGenAIClient(baseURL string, client *apphttp.Client) *GenAIClient {
	return &GenAIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client.WithRetries(0),
	}
}

func (c *GenAIClient) Classify(ctx context.Context, text string) (*Output, error) {
	var raw json.RawMessage
	err := c.client.PostJSON(ctx, c.baseURL+classifyPath, map[string]interface{}{
		"query":      text,
		"categories": []string{"descriptive", "diagnostic", "predictive", "prescriptive"},
	}, &raw)
	if err != nil {
		return nil, err
	}
	return parseOutput(string(raw))
}
