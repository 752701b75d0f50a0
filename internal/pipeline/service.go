// Package pipeline answers financial questions end to end: classify the
// question, assemble evidence, run the matching responder and render its
// chart.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"fin-analytics/internal/common/errors"
	"fin-analytics/internal/common/logger"
	"fin-analytics/internal/common/metrics"
	"fin-analytics/internal/models"
	"fin-analytics/internal/pipeline/responder"
	"fin-analytics/internal/pipeline/retrieval"
	"fin-analytics/internal/pipeline/router"
	"fin-analytics/internal/visualizer"
)

const (
	DefaultMaxQueryLength    = 2000
	DefaultFiscalYear        = 2024
	DefaultVisualizerTimeout = 5 * time.Second
)

var tracer = otel.Tracer("fin-analytics/pipeline")

type Config struct {
	MaxQueryLength    int
	DefaultFiscalYear int
	RenderCharts      bool
	VisualizerTimeout time.Duration
}

type Service struct {
	config     Config
	router     *router.Router
	assembler  *retrieval.Assembler
	responders *responder.Registry
	renderer   visualizer.Renderer
	logger     logger.Logger
	now        func() time.Time
}

// NewService wires the pipeline. renderer may be nil, in which case answers
// carry chart specs without artifact references.
func NewService(config Config, r *router.Router, a *retrieval.Assembler, responders *responder.Registry, renderer visualizer.Renderer, log logger.Logger) *Service {
	if config.MaxQueryLength <= 0 {
		config.MaxQueryLength = DefaultMaxQueryLength
	}
	if config.DefaultFiscalYear <= 0 {
		config.DefaultFiscalYear = DefaultFiscalYear
	}
	if config.VisualizerTimeout <= 0 {
		config.VisualizerTimeout = DefaultVisualizerTimeout
	}
	return &Service{
		config:     config,
		router:     r,
		assembler:  a,
		responders: responders,
		renderer:   renderer,
		logger:     log.With(map[string]interface{}{"component": "pipeline"}),
		now:        time.Now,
	}
}

// NewQuery validates text and the optional explicit intent and builds the
// immutable query record.
func (s *Service) NewQuery(text, explicitIntent string) (models.Query, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Query{}, errors.NewInvalidQueryError("query text is empty")
	}
	if n := utf8.RuneCountInString(text); n > s.config.MaxQueryLength {
		return models.Query{}, errors.NewInvalidQueryError(fmt.Sprintf("query text is %d characters, limit is %d", n, s.config.MaxQueryLength))
	}

	var override models.Intent
	if explicitIntent = strings.TrimSpace(explicitIntent); explicitIntent != "" {
		intent, ok := models.ParseIntent(explicitIntent)
		if !ok {
			return models.Query{}, errors.NewInvalidQueryError(fmt.Sprintf("unknown intent %q", explicitIntent))
		}
		override = intent
	}

	return models.Query{
		ID:             uuid.New().String(),
		Text:           text,
		IntentOverride: override,
		FiscalYear:     models.DetectFiscalYear(text, s.config.DefaultFiscalYear),
		ReceivedAt:     s.now().UTC(),
	}, nil
}

// Classify runs only the routing step.
func (s *Service) Classify(ctx context.Context, text, explicitIntent string) (*models.ClassificationResult, error) {
	q, err := s.NewQuery(text, explicitIntent)
	if err != nil {
		return nil, err
	}
	return s.router.Route(ctx, q)
}

// Handle answers text. explicitIntent, when non-empty, bypasses
// classification.
func (s *Service) Handle(ctx context.Context, text, explicitIntent string) (*models.Answer, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "pipeline.handle")
	defer span.End()

	intentLabel := "unclassified"
	answer, err := s.handle(ctx, text, explicitIntent, &intentLabel)
	metrics.QueryDuration.WithLabelValues(intentLabel).Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil && errors.CodeOf(err) != errors.ErrCodeQueryCancelled {
			err = errors.NewQueryCancelledError(ctx.Err())
		}
		metrics.QueriesHandled.WithLabelValues(intentLabel, "error").Inc()
		span.SetStatus(codes.Error, err.Error())
		s.logger.WithError(err).Error("query failed", map[string]interface{}{
			"intent":    intentLabel,
			"errorCode": string(errors.CodeOf(err)),
		})
		return nil, err
	}

	outcome := "answered"
	switch {
	case answer.Cached:
		outcome = "cached"
	case answer.InsufficientData:
		outcome = "insufficient"
	case answer.Degraded:
		outcome = "degraded"
	}
	metrics.QueriesHandled.WithLabelValues(intentLabel, outcome).Inc()
	span.SetAttributes(
		attribute.String("intent", intentLabel),
		attribute.String("outcome", outcome),
		attribute.Float64("confidence", answer.Confidence),
	)
	s.logger.Info("query answered", map[string]interface{}{
		"queryId":    answer.QueryID,
		"answerId":   answer.ID,
		"intent":     intentLabel,
		"outcome":    outcome,
		"confidence": answer.Confidence,
		"durationMs": time.Since(start).Milliseconds(),
	})
	return answer, nil
}

func (s *Service) handle(ctx context.Context, text, explicitIntent string, intentLabel *string) (*models.Answer, error) {
	q, err := s.NewQuery(text, explicitIntent)
	if err != nil {
		return nil, err
	}

	classification, err := s.router.Route(ctx, q)
	if err != nil {
		return nil, err
	}
	*intentLabel = string(classification.Intent)

	r, err := s.assembler.Retrieve(ctx, q, classification.Intent)
	if err != nil {
		return nil, err
	}

	if reusable(r.CachedAnswer, classification) {
		answer := r.CachedAnswer.Clone()
		answer.Cached = true
		return s.bind(answer, q, classification, r.Bundle), nil
	}

	answer, err := s.responders.Respond(q, *classification, r.Bundle)
	if err != nil {
		return nil, err
	}
	if answer.ExcludedPeriodRows > 0 {
		s.logger.Warn("rows with unplaceable periods left out", map[string]interface{}{
			"queryId":  q.ID,
			"bundleId": r.Bundle.ID,
			"rows":     answer.ExcludedPeriodRows,
		})
	}
	s.render(ctx, answer)
	s.bind(answer, q, classification, r.Bundle)

	if err := s.assembler.StoreAnswer(ctx, r.Bundle, answer); err != nil {
		s.logger.WithError(err).Warn("answer not cached", map[string]interface{}{"queryId": q.ID})
	}
	return answer, nil
}

// reusable reports whether a cached answer was produced under the same
// classification outcome, so its narrative and confidence still hold.
func reusable(cached *models.Answer, c *models.ClassificationResult) bool {
	if cached == nil {
		return false
	}
	prev := cached.Classification
	return prev.Intent == c.Intent &&
		prev.Confidence == c.Confidence &&
		prev.LowConfidence == c.LowConfidence &&
		prev.Overridden == c.Overridden
}

func (s *Service) bind(a *models.Answer, q models.Query, c *models.ClassificationResult, b *models.EvidenceBundle) *models.Answer {
	a.ID = uuid.New().String()
	a.QueryID = q.ID
	a.BundleID = b.ID
	a.Classification = *c
	a.GeneratedAt = s.now().UTC()
	return a
}

// render attaches an artifact reference for the answer's chart. Rendering
// is best effort: the declarative spec stays on the answer either way.
func (s *Service) render(ctx context.Context, a *models.Answer) {
	if a.Chart == nil || s.renderer == nil || !s.config.RenderCharts {
		return
	}
	ctx, span := tracer.Start(ctx, "pipeline.render")
	defer span.End()

	start := time.Now()
	renderCtx, cancel := context.WithTimeout(ctx, s.config.VisualizerTimeout)
	ref, err := s.renderer.Render(renderCtx, *a.Chart)
	cancel()
	metrics.CollaboratorDuration.WithLabelValues("visualizer").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CollaboratorCalls.WithLabelValues("visualizer", "error").Inc()
		span.SetStatus(codes.Error, err.Error())
		s.logger.WithError(err).Warn("chart not rendered", map[string]interface{}{
			"queryId":   a.QueryID,
			"chartType": string(a.Chart.Type),
			"errorCode": string(errors.CodeOf(err)),
		})
		return
	}
	metrics.CollaboratorCalls.WithLabelValues("visualizer", "ok").Inc()
	a.ChartRef = ref
}
