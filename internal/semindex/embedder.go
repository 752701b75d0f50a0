package semindex

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	apphttp "fin-analytics/internal/common/http"
)

const embedPath = "/api/ai/embed"

var errEmptyEmbedding = errors.New("embedding service returned no vector")

// Embedder turns query text into the vector space of the indexed
// descriptions.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GenAIEmbedder calls the in-house GenAI embedding route.
type GenAIEmbedder struct {
	baseURL string
	client  *apphttp.Client
}

func NewGenAIEmbedder(baseURL string, client *apphttp.Client) *GenAIEmbedder {
	return &GenAIEmbedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (e *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := e.client.PostJSON(ctx, e.baseURL+embedPath, map[string]string{"text": text}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, errEmptyEmbedding
	}
	return toFloat32(resp.Embedding), nil
}

// OpenAIEmbedder uses the embeddings endpoint of an OpenAI compatible API.
type OpenAIEmbedder struct {
	client     openaisdk.Client
	model      string
	dimensions int
}

func NewOpenAIEmbedder(apiKey, baseURL, model string, dimensions int) *OpenAIEmbedder {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = string(openaisdk.EmbeddingModelTextEmbedding3Small)
	}
	return &OpenAIEmbedder{
		client:     openaisdk.NewClient(opts...),
		model:      model,
		dimensions: dimensions,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Model: openaisdk.EmbeddingModel(e.model),
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errEmptyEmbedding
	}
	vec := toFloat32(resp.Data[0].Embedding)
	if e.dimensions > 0 && len(vec) != e.dimensions {
		// the index mapping fixes the vector length
		resized := make([]float32, e.dimensions)
		copy(resized, vec)
		vec = resized
	}
	return vec, nil
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
