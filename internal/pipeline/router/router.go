// Package router classifies a query into one of the four analytic intents.
package router

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"time"

	"fin-analytics/internal/common/errors"
	"fin-analytics/internal/common/logger"
	"fin-analytics/internal/common/metrics"
	"fin-analytics/internal/models"
	"fin-analytics/internal/oracle"
)

const (
	DefaultThreshold = 0.5
	DefaultTimeout   = 5 * time.Second
	// MaxRetries bounds oracle retries; classification is retried at most once.
	MaxRetries = 1
)

var errNoValidIntent = stderrors.New("oracle output names no known intent")

type Config struct {
	LowConfidenceThreshold float64
	Timeout                time.Duration
	MaxRetries             int
}

type Router struct {
	config Config
	oracle oracle.Oracle
	logger logger.Logger
	now    func() time.Time
}

func New(config Config, o oracle.Oracle, log logger.Logger) *Router {
	if config.LowConfidenceThreshold < 0 || config.LowConfidenceThreshold > 1 {
		config.LowConfidenceThreshold = DefaultThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.MaxRetries > MaxRetries {
		config.MaxRetries = MaxRetries
	}
	return &Router{
		config: config,
		oracle: o,
		logger: log.With(map[string]interface{}{"component": "intent-router"}),
		now:    time.Now,
	}
}

// Route classifies q. An explicit override is trusted without calling the
// oracle. Low confidence never blocks routing; it is flagged on the result.
func (r *Router) Route(ctx context.Context, q models.Query) (*models.ClassificationResult, error) {
	if q.HasOverride() {
		intent, ok := models.ParseIntent(string(q.IntentOverride))
		if !ok {
			return nil, errors.NewInvalidQueryError(fmt.Sprintf("unknown intent override %q", q.IntentOverride))
		}
		return &models.ClassificationResult{
			Intent:       intent,
			Confidence:   1,
			Overridden:   true,
			ClassifiedAt: r.now().UTC(),
		}, nil
	}

	out, err := r.classify(ctx, q.Text)
	if err != nil {
		return nil, err
	}

	result, err := r.resolve(out)
	if err != nil {
		r.logger.Warn("oracle output rejected", map[string]interface{}{
			"queryId": q.ID,
			"raw":     out.Raw,
		})
		return nil, errors.NewClassificationUnavailableError(err)
	}

	if result.LowConfidence {
		metrics.LowConfidenceClassifications.Inc()
	}
	r.logger.Info("query classified", map[string]interface{}{
		"queryId":       q.ID,
		"intent":        string(result.Intent),
		"confidence":    result.Confidence,
		"lowConfidence": result.LowConfidence,
	})
	return result, nil
}

func (r *Router) classify(ctx context.Context, text string) (*oracle.Output, error) {
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, errors.NewQueryCancelledError(ctx.Err())
			}
		}

		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
		out, err := r.oracle.Classify(callCtx, text)
		cancel()
		metrics.CollaboratorDuration.WithLabelValues("oracle").Observe(time.Since(start).Seconds())

		if err == nil {
			metrics.CollaboratorCalls.WithLabelValues("oracle", "ok").Inc()
			return out, nil
		}
		metrics.CollaboratorCalls.WithLabelValues("oracle", "error").Inc()

		if ctx.Err() != nil {
			return nil, errors.NewQueryCancelledError(ctx.Err())
		}
		lastErr = err
		r.logger.Warn("oracle call failed", map[string]interface{}{
			"attempt": attempt + 1,
			"error":   err,
		})
	}
	return nil, errors.NewClassificationUnavailableError(lastErr)
}

// resolve constrains the oracle output to the intent enumeration. When
// per-intent scores are present the best valid score wins, ties going to
// the earlier intent.
func (r *Router) resolve(out *oracle.Output) (*models.ClassificationResult, error) {
	result := &models.ClassificationResult{
		Metrics:      out.Metrics,
		Comparison:   out.Comparison,
		Reasoning:    out.Reasoning,
		RawOutput:    out.Raw,
		ClassifiedAt: r.now().UTC(),
	}

	scores := make(map[models.Intent]float64)
	for label, score := range out.Scores {
		if intent, ok := models.ParseIntent(label); ok {
			scores[intent] = clamp(score)
		}
	}

	if len(scores) > 0 {
		best := models.Intent("")
		for _, intent := range models.Intents {
			score, ok := scores[intent]
			if !ok {
				continue
			}
			if best == "" || score > scores[best] {
				best = intent
			}
		}
		result.Intent = best
		result.Confidence = scores[best]
		result.Scores = scores
	} else {
		intent, ok := models.ParseIntent(out.Intent)
		if !ok {
			return nil, fmt.Errorf("%w: %q", errNoValidIntent, out.Intent)
		}
		result.Intent = intent
		result.Confidence = clamp(out.Confidence)
	}

	result.LowConfidence = result.Confidence < r.config.LowConfidenceThreshold
	return result, nil
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
