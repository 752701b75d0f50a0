// Package semindex runs nearest-neighbour lookups over embedded account,
// entity and department descriptions.
package semindex

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	lru "github.com/hashicorp/golang-lru/v2"

	"fin-analytics/internal/models"
)

const (
	defaultVectorField = "embedding"
	defaultLabelField  = "label"
	minCandidates      = 50
	vectorCacheSize    = 256
)

// Index is the nearest-neighbour lookup used by the retrieval assembler.
// Hits come back ordered by score, highest first, with Rank set.
type Index interface {
	Search(ctx context.Context, collection models.Collection, text string, topK int) ([]models.SemanticHit, error)
}

type ElasticConfig struct {
	IndexPrefix string
	VectorField string
	LabelField  string
}

// ElasticIndex stores one Elasticsearch index per collection.
type ElasticIndex struct {
	client   *elasticsearch.Client
	embedder Embedder
	config   ElasticConfig
	// one query fans out to every collection; embed it once
	vectors *lru.Cache[string, []float32]
}

func NewElasticIndex(client *elasticsearch.Client, embedder Embedder, config ElasticConfig) *ElasticIndex {
	if config.VectorField == "" {
		config.VectorField = defaultVectorField
	}
	if config.LabelField == "" {
		config.LabelField = defaultLabelField
	}
	vectors, _ := lru.New[string, []float32](vectorCacheSize)
	return &ElasticIndex{
		client:   client,
		embedder: embedder,
		config:   config,
		vectors:  vectors,
	}
}

func (x *ElasticIndex) indexName(collection models.Collection) string {
	return x.config.IndexPrefix + string(collection)
}

func (x *ElasticIndex) Search(ctx context.Context, collection models.Collection, text string, topK int) ([]models.SemanticHit, error) {
	if topK <= 0 {
		return []models.SemanticHit{}, nil
	}

	vector, err := x.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	body, err := json.Marshal(map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          x.config.VectorField,
			"query_vector":   vector,
			"k":              topK,
			"num_candidates": numCandidates(topK),
		},
		"_source": []string{x.config.LabelField},
		"size":    topK,
	})
	if err != nil {
		return nil, err
	}

	req := esapi.SearchRequest{
		Index: []string{x.indexName(collection)},
		Body:  strings.NewReader(string(body)),
	}
	res, err := req.Do(ctx, x.client)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("knn search on %s failed: %s", x.indexName(collection), res.Status())
	}

	var r searchResponse
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode knn response: %w", err)
	}

	hits := make([]models.SemanticHit, 0, len(r.Hits.Hits))
	for _, h := range r.Hits.Hits {
		label, _ := h.Source[x.config.LabelField].(string)
		hits = append(hits, models.SemanticHit{
			EntityID:   h.ID,
			Label:      label,
			Score:      clampScore(h.Score),
			Collection: collection,
			Rank:       len(hits),
		})
		if len(hits) == topK {
			break
		}
	}
	return hits, nil
}

func (x *ElasticIndex) embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := x.vectors.Get(text); ok {
		return v, nil
	}
	v, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	x.vectors.Add(text, v)
	return v, nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string                 `json:"_id"`
			Score  float64                `json:"_score"`
			Source map[string]interface{} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func numCandidates(topK int) int {
	if n := topK * 10; n > minCandidates {
		return n
	}
	return minCandidates
}

func clampScore(s float64) float64 {
	if math.IsNaN(s) || s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
