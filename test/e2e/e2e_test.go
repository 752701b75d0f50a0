// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fin-analytics/internal/common/config"
	"fin-analytics/internal/common/database"
	apphttp "fin-analytics/internal/common/http"
	"fin-analytics/internal/common/logger"
	"fin-analytics/internal/gateway"
	"fin-analytics/internal/models"
	"fin-analytics/internal/oracle"
	"fin-analytics/internal/pipeline"
	"fin-analytics/internal/pipeline/cache"
	"fin-analytics/internal/pipeline/responder"
	"fin-analytics/internal/pipeline/retrieval"
	"fin-analytics/internal/pipeline/router"
	"fin-analytics/internal/semindex"
	aq "fin-analytics/internal/workers/analytics/answer-query"
)

const indexPrefix = "e2e_"

// Runs against the docker-compose stack: E2E_ENABLED=1 go test ./test/e2e/...
func TestMain(m *testing.M) {
	if os.Getenv("E2E_ENABLED") != "1" {
		fmt.Println("skipping e2e tests, set E2E_ENABLED=1 to run them")
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// genAIStub answers classification with a fixed label and embeds text into
// a tiny 3-dimensional space keyed on a few words.
type genAIStub struct {
	intent   atomic.Value
	classify int32
}

func newGenAIStub(t *testing.T, intent string) (*genAIStub, *httptest.Server) {
	s := &genAIStub{}
	s.intent.Store(intent)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/ai/classify-intent":
			atomic.AddInt32(&s.classify, 1)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"intent":     s.intent.Load().(string),
				"confidence": 0.91,
			})
		case "/api/ai/embed":
			text, _ := body["text"].(string)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"embedding": embed(text)})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return s, srv
}

func embed(text string) []float64 {
	text = strings.ToLower(text)
	v := []float64{0.1, 0.1, 0.1}
	if strings.Contains(text, "revenue") || strings.Contains(text, "sales") {
		v[0] = 1
	}
	if strings.Contains(text, "cost") || strings.Contains(text, "expense") {
		v[1] = 1
	}
	if strings.Contains(text, "marketing") {
		v[2] = 1
	}
	return v
}

type stack struct {
	db    *sql.DB
	es    *elasticsearch.Client
	genai *genAIStub
	url   string
}

func setupStack(t *testing.T) *stack {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)

	// the compose stack publishes everything on localhost
	cfg.Database.Postgres.Host = "localhost"
	cfg.Database.Elasticsearch.Addresses = []string{"http://localhost:9200"}

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	require.NoError(t, err, "PostgreSQL connection failed")
	require.NoError(t, pg.Ping(context.Background()), "PostgreSQL ping failed")
	t.Cleanup(func() { pg.Close() })

	es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
	require.NoError(t, err)
	require.NoError(t, es.Ping(context.Background()), "Elasticsearch ping failed")

	genai, srv := newGenAIStub(t, "descriptive")
	s := &stack{db: pg.DB, es: es.Client, genai: genai, url: srv.URL}
	s.seedTables(t)
	s.seedIndexes(t)
	return s
}

func (s *stack) seedTables(t *testing.T) {
	t.Helper()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fin_actuals (
			fiscal_year INT NOT NULL, period TEXT NOT NULL, account TEXT NOT NULL,
			entity TEXT NOT NULL, department TEXT NOT NULL, amount NUMERIC NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS fin_budget (
			fiscal_year INT NOT NULL, period TEXT NOT NULL, account TEXT NOT NULL,
			entity TEXT NOT NULL, department TEXT NOT NULL, amount NUMERIC NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS dataset_versions (dataset TEXT PRIMARY KEY, version TEXT NOT NULL)`,
		`TRUNCATE fin_actuals, fin_budget, dataset_versions`,
		`INSERT INTO dataset_versions VALUES ('actuals', 'e2e-1'), ('budget', 'e2e-1')`,
	}
	for _, stmt := range stmts {
		_, err := s.db.Exec(stmt)
		require.NoError(t, err, stmt)
	}

	for i, period := range models.Periods {
		_, err := s.db.Exec(`INSERT INTO fin_actuals VALUES (2024, $1, '4000', 'US01', 'Sales', $2)`, period, 100000+float64(i)*10000)
		require.NoError(t, err)
		_, err = s.db.Exec(`INSERT INTO fin_budget VALUES (2024, $1, '4000', 'US01', 'Sales', $2)`, period, 120000)
		require.NoError(t, err)
	}
}

func (s *stack) seedIndexes(t *testing.T) {
	t.Helper()
	docs := map[models.Collection][]map[string]interface{}{
		models.CollectionAccounts: {
			{"id": "4000", "name": "Product Revenue", "embedding": []float64{1, 0.1, 0.1}},
			{"id": "6100", "name": "Marketing Expense", "embedding": []float64{0.1, 1, 1}},
		},
		models.CollectionEntities:    {{"id": "US01", "name": "US Operations", "embedding": []float64{0.5, 0.5, 0.1}}},
		models.CollectionDepartments: {{"id": "Sales", "name": "Sales", "embedding": []float64{1, 0.1, 0.1}}},
	}
	mapping := `{"mappings":{"properties":{
		"name":{"type":"keyword"},
		"embedding":{"type":"dense_vector","dims":3,"index":true,"similarity":"cosine"}}}}`

	for collection, items := range docs {
		index := indexPrefix + string(collection)
		_, _ = s.es.Indices.Delete([]string{index})
		res, err := s.es.Indices.Create(index, s.es.Indices.Create.WithBody(strings.NewReader(mapping)))
		require.NoError(t, err)
		require.False(t, res.IsError(), res.String())
		res.Body.Close()

		for _, doc := range items {
			body, _ := json.Marshal(map[string]interface{}{"name": doc["name"], "embedding": doc["embedding"]})
			res, err := s.es.Index(index, strings.NewReader(string(body)),
				s.es.Index.WithDocumentID(doc["id"].(string)),
				s.es.Index.WithRefresh("true"))
			require.NoError(t, err)
			require.False(t, res.IsError(), res.String())
			res.Body.Close()
		}
	}
}

func (s *stack) service(t *testing.T) *pipeline.Service {
	log := logger.NewTestLogger(t)
	client := apphttp.NewClient(5 * time.Second)

	gw := gateway.NewPostgresGateway(s.db)
	index := semindex.NewElasticIndex(s.es, semindex.NewGenAIEmbedder(s.url, client), semindex.ElasticConfig{
		IndexPrefix: indexPrefix,
		LabelField:  "name",
	})
	c := cache.New(cache.NewMemoryStore(128, time.Minute), time.Minute, log)
	t.Cleanup(func() { c.Close() })

	r := router.New(router.Config{LowConfidenceThreshold: 0.5, Timeout: 5 * time.Second, MaxRetries: 1},
		oracle.NewGenAIClient(s.url, client), log)
	a := retrieval.New(retrieval.Config{TopK: 5, HistoryYears: 1}, index, gw, c, log)
	return pipeline.NewService(pipeline.Config{DefaultFiscalYear: 2024}, r, a,
		responder.NewRegistry(responder.Config{MinHistoryPeriods: 3, ForecastHorizon: 3}), nil, log)
}

func TestFullE2E(t *testing.T) {
	s := setupStack(t)
	svc := s.service(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	t.Run("descriptive answer with semantic context", func(t *testing.T) {
		answer, err := svc.Handle(ctx, "What was our revenue trend in FY24?", "")
		require.NoError(t, err)
		assert.Equal(t, models.IntentDescriptive, answer.Intent)
		assert.False(t, answer.Degraded)
		assert.False(t, answer.InsufficientData)
		require.NotNil(t, answer.Chart)
		assert.Equal(t, models.ChartLine, answer.Chart.Type)
		assert.Equal(t, 12, answer.Chart.SourceRows)
		assert.Contains(t, answer.Narrative, "Product Revenue")
	})

	t.Run("repeat is served from cache", func(t *testing.T) {
		before := atomic.LoadInt32(&s.genai.classify)
		answer, err := svc.Handle(ctx, "what was our  revenue trend in FY24?", "")
		require.NoError(t, err)
		assert.True(t, answer.Cached)
		// classification still runs; only retrieval and generation are reused
		assert.Equal(t, before+1, atomic.LoadInt32(&s.genai.classify))
	})

	t.Run("diagnostic against budget", func(t *testing.T) {
		answer, err := svc.Handle(ctx, "Why is revenue below budget in FY24?", "diagnostic")
		require.NoError(t, err)
		assert.Equal(t, models.IntentDiagnostic, answer.Intent)
		assert.True(t, answer.Classification.Overridden)
		require.NotNil(t, answer.Chart)
		assert.Equal(t, models.ChartWaterfall, answer.Chart.Type)
		assert.NotEmpty(t, answer.Drivers)
	})

	t.Run("version change invalidates", func(t *testing.T) {
		_, err := s.db.Exec(`UPDATE dataset_versions SET version = 'e2e-2' WHERE dataset = 'actuals'`)
		require.NoError(t, err)
		answer, err := svc.Handle(ctx, "What was our revenue trend in FY24?", "")
		require.NoError(t, err)
		assert.False(t, answer.Cached)
	})

	t.Run("job worker execution", func(t *testing.T) {
		h := aq.NewHandler(aq.LoadConfig(config.WorkerConfig{Timeout: 30000}), svc, logger.NewTestLogger(t))
		out, err := h.Execute(ctx, &aq.Input{Query: "Forecast revenue for next quarter", Intent: "predictive"})
		require.NoError(t, err)
		assert.Equal(t, "predictive", out.Intent)
		assert.Len(t, out.Answer.Projections, 3)
	})
}
