package pipeline

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"fin-analytics/internal/common/errors"
	"fin-analytics/internal/common/logger"
	"fin-analytics/internal/gateway"
	"fin-analytics/internal/models"
	"fin-analytics/internal/oracle"
	"fin-analytics/internal/pipeline/cache"
	"fin-analytics/internal/pipeline/responder"
	"fin-analytics/internal/pipeline/retrieval"
	"fin-analytics/internal/pipeline/router"
)

type stubOracle struct {
	calls int32
	out   *oracle.Output
	err   error
}

func (s *stubOracle) Classify(ctx context.Context, text string) (*oracle.Output, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	out := *s.out
	return &out, nil
}

type stubIndex struct {
	calls int32
	err   error
}

func (s *stubIndex) Search(ctx context.Context, collection models.Collection, text string, topK int) ([]models.SemanticHit, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	if collection != models.CollectionAccounts {
		return []models.SemanticHit{}, nil
	}
	hits := make([]models.SemanticHit, 0, topK)
	for i := 0; i < topK; i++ {
		hits = append(hits, models.SemanticHit{EntityID: string(rune('A' + i)), Label: "Account " + string(rune('A'+i)), Score: 0.9 - float64(i)*0.1})
	}
	return hits, nil
}

type stubGateway struct {
	mu    sync.Mutex
	calls int32
	rows  map[string][]models.Row
}

func (s *stubGateway) Fetch(ctx context.Context, table string, filter models.Filter) (*gateway.FetchResult, error) {
	atomic.AddInt32(&s.calls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return &gateway.FetchResult{Rows: append([]models.Row{}, s.rows[table]...), Version: "v1"}, nil
}

func (s *stubGateway) Version(ctx context.Context) (string, error) {
	return "v1", nil
}

type stubRenderer struct {
	calls int32
	err   error
}

func (s *stubRenderer) Render(ctx context.Context, spec models.ChartSpec) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return "", s.err
	}
	return "chart://" + string(spec.Type), nil
}

type fixture struct {
	service  *Service
	oracle   *stubOracle
	index    *stubIndex
	gateway  *stubGateway
	renderer *stubRenderer
}

func fy24Rows() []models.Row {
	rows := make([]models.Row, 0, 12)
	for i, p := range models.Periods {
		rows = append(rows, models.Row{Year: 2024, Period: p, Account: "A", Entity: "US01", Department: "Sales", Amount: 1000 + float64(i)*50})
	}
	return rows
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		oracle:   &stubOracle{out: &oracle.Output{Intent: "descriptive", Confidence: 0.93}},
		index:    &stubIndex{},
		gateway:  &stubGateway{rows: map[string][]models.Row{models.TableActuals: fy24Rows()}},
		renderer: &stubRenderer{},
	}
	log := logger.NewTestLogger(t)
	c := cache.New(cache.NewMemoryStore(64, time.Minute), time.Minute, log)
	r := router.New(router.Config{LowConfidenceThreshold: 0.5, Timeout: time.Second, MaxRetries: 1}, f.oracle, log)
	a := retrieval.New(retrieval.Config{TopK: 5, HistoryYears: 2}, f.index, f.gateway, c, log)
	f.service = NewService(Config{RenderCharts: true, DefaultFiscalYear: 2024}, r, a,
		responder.NewRegistry(responder.Config{MinHistoryPeriods: 3, ForecastHorizon: 3}), f.renderer, log)
	return f
}

func TestHandle_DescriptiveFY24(t *testing.T) {
	f := newFixture(t)

	answer, err := f.service.Handle(context.Background(), "Show me financial trends for FY24", "")
	require.NoError(t, err)

	assert.Equal(t, models.IntentDescriptive, answer.Intent)
	assert.Equal(t, models.IntentDescriptive, answer.Classification.Intent)
	assert.Equal(t, 0.93, answer.Confidence)
	assert.False(t, answer.Cached)
	require.NotNil(t, answer.Chart)
	assert.Equal(t, models.ChartLine, answer.Chart.Type)
	assert.Equal(t, 12, answer.Chart.SourceRows)
	assert.Equal(t, "chart://line", answer.ChartRef)
	assert.NotEmpty(t, answer.ID)
	assert.NotEmpty(t, answer.QueryID)
	assert.NotEmpty(t, answer.BundleID)

	var semantic int
	for _, ref := range answer.Evidence {
		if ref.Kind == models.EvidenceSemantic {
			semantic++
		}
	}
	assert.Equal(t, 5, semantic)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.oracle.calls))
}

func TestHandle_RepeatedQueryServedFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.service.Handle(ctx, "Show me financial trends for FY24", "")
	require.NoError(t, err)
	second, err := f.service.Handle(ctx, "show me   financial trends for fy24", "")
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.QueryID, second.QueryID)
	assert.Equal(t, first.BundleID, second.BundleID)
	assert.Equal(t, first.Narrative, second.Narrative)
	assert.Equal(t, first.Evidence, second.Evidence)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.gateway.calls))
	assert.Equal(t, int32(3), atomic.LoadInt32(&f.index.calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.renderer.calls))
}

func TestHandle_ChangedConfidenceRegeneratesAnswer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Handle(ctx, "Show me financial trends for FY24", "")
	require.NoError(t, err)

	f.oracle.out = &oracle.Output{Intent: "descriptive", Confidence: 0.42}
	again, err := f.service.Handle(ctx, "Show me financial trends for FY24", "")
	require.NoError(t, err)
	assert.False(t, again.Cached)
	assert.True(t, again.LowConfidence)
	assert.True(t, strings.HasPrefix(again.Narrative, "Note: this question was read as descriptive with low confidence"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.gateway.calls), "evidence is still reused")
}

func TestHandle_ExplicitIntentSkipsOracle(t *testing.T) {
	f := newFixture(t)

	answer, err := f.service.Handle(context.Background(), "Show me financial trends for FY24", "Predictive")
	require.NoError(t, err)
	assert.Equal(t, models.IntentPredictive, answer.Intent)
	assert.True(t, answer.Classification.Overridden)
	assert.Len(t, answer.Projections, 3)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.oracle.calls))
}

func TestHandle_PredictiveNeedsHistory(t *testing.T) {
	f := newFixture(t)
	f.gateway.rows[models.TableActuals] = fy24Rows()[:2]

	answer, err := f.service.Handle(context.Background(), "Forecast revenue for FY24", "predictive")
	require.NoError(t, err)
	assert.True(t, answer.InsufficientData)
	assert.Zero(t, answer.Confidence)
	assert.Empty(t, answer.Projections)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.renderer.calls))
}

func TestHandle_QuarterlyRowsWithUnplaceablePeriodAreReported(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zapcore.WarnLevel)
	log := logger.NewZapAdapter(zap.New(core))
	c := cache.New(cache.NewMemoryStore(64, time.Minute), time.Minute, log)
	r := router.New(router.Config{LowConfidenceThreshold: 0.5, Timeout: time.Second, MaxRetries: 1}, f.oracle, log)
	a := retrieval.New(retrieval.Config{TopK: 5, HistoryYears: 2}, f.index, f.gateway, c, log)
	svc := NewService(Config{DefaultFiscalYear: 2024}, r, a,
		responder.NewRegistry(responder.Config{MinHistoryPeriods: 3, ForecastHorizon: 2}), nil, log)

	f.gateway.rows[models.TableActuals] = []models.Row{
		{Year: 2024, Period: "q1", Account: "A", Amount: 100},
		{Year: 2024, Period: "Q2", Account: "A", Amount: 110},
		{Year: 2024, Period: "Q3", Account: "A", Amount: 120},
		{Year: 2024, Period: "Q4", Account: "A", Amount: 130},
		{Year: 2024, Period: "H2", Account: "A", Amount: 250},
	}

	answer, err := svc.Handle(context.Background(), "Forecast revenue for FY24", "predictive")
	require.NoError(t, err)
	assert.False(t, answer.InsufficientData)
	require.Len(t, answer.Projections, 2)
	assert.Equal(t, 2025, answer.Projections[0].Year)
	assert.Equal(t, "Q1", answer.Projections[0].Period)
	assert.Equal(t, 1, answer.ExcludedPeriodRows)
	assert.Contains(t, answer.Narrative, "1 row(s) were left out")

	warned := logs.FilterMessage("rows with unplaceable periods left out").All()
	require.Len(t, warned, 1)
	assert.Equal(t, int64(1), warned[0].ContextMap()["rows"])
}

func TestHandle_InvalidInput(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		text   string
		intent string
	}{
		{"empty", "   ", ""},
		{"too long", strings.Repeat("x", DefaultMaxQueryLength+1), ""},
		{"unknown intent", "revenue", "general"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Handle(context.Background(), tt.text, tt.intent)
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, errors.ErrInvalidQuery))
		})
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.oracle.calls))
}

func TestHandle_OracleDownIsNotMisrouted(t *testing.T) {
	f := newFixture(t)
	f.oracle.err = stderrors.New("503 from model service")

	_, err := f.service.Handle(context.Background(), "Why did margin drop?", "")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrClassificationUnavailable))
	assert.Equal(t, int32(2), atomic.LoadInt32(&f.oracle.calls))
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.gateway.calls))
}

func TestHandle_SemanticOutageDegrades(t *testing.T) {
	f := newFixture(t)
	f.index.err = stderrors.New("vector store offline")

	answer, err := f.service.Handle(context.Background(), "Show me financial trends for FY24", "")
	require.NoError(t, err)
	assert.True(t, answer.Degraded)
	assert.Less(t, answer.Confidence, 0.93)
	assert.Contains(t, answer.Narrative, "semantic context was unavailable")

	again, err := f.service.Handle(context.Background(), "Show me financial trends for FY24", "")
	require.NoError(t, err)
	assert.False(t, again.Cached, "degraded answers are not cached")
}

func TestHandle_RenderFailureKeepsSpec(t *testing.T) {
	f := newFixture(t)
	f.renderer.err = errors.NewVisualizerUnavailableError(stderrors.New("connection refused"))

	answer, err := f.service.Handle(context.Background(), "Show me financial trends for FY24", "")
	require.NoError(t, err)
	assert.NotNil(t, answer.Chart)
	assert.Empty(t, answer.ChartRef)
}

func TestHandle_Deterministic(t *testing.T) {
	var narratives []string
	for i := 0; i < 3; i++ {
		f := newFixture(t)
		answer, err := f.service.Handle(context.Background(), "Show me financial trends for FY24", "")
		require.NoError(t, err)
		narratives = append(narratives, answer.Narrative)
	}
	assert.Equal(t, narratives[0], narratives[1])
	assert.Equal(t, narratives[1], narratives[2])
}

func TestNewQuery_FiscalYear(t *testing.T) {
	f := newFixture(t)
	q, err := f.service.NewQuery("Explain the EBITDA variance in FY23", "")
	require.NoError(t, err)
	assert.Equal(t, 2023, q.FiscalYear)

	q, err = f.service.NewQuery("What should we do about opex?", "")
	require.NoError(t, err)
	assert.Equal(t, 2024, q.FiscalYear)
}

func TestClassify(t *testing.T) {
	f := newFixture(t)
	res, err := f.service.Classify(context.Background(), "Show me financial trends for FY24", "")
	require.NoError(t, err)
	assert.Equal(t, models.IntentDescriptive, res.Intent)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.gateway.calls))
}
