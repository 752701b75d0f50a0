// Package retrieval assembles the evidence a responder works from: semantic
// hits from every collection plus the structured slices an intent needs.
package retrieval

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"fin-analytics/internal/common/errors"
	"fin-analytics/internal/common/logger"
	"fin-analytics/internal/common/metrics"
	"fin-analytics/internal/gateway"
	"fin-analytics/internal/models"
	"fin-analytics/internal/pipeline/cache"
	"fin-analytics/internal/semindex"
)

const (
	DefaultTopK         = 5
	DefaultHistoryYears = 2
	DefaultTimeout      = 3 * time.Second

	versionTable = "dataset_versions"
)

var tracer = otel.Tracer("fin-analytics/retrieval")

type Config struct {
	TopK              int
	HistoryYears      int
	SemanticTimeout   time.Duration
	SemanticRetries   int
	StructuredTimeout time.Duration
	StructuredRetries int
}

// Retrieval is the outcome of one assembly. CachedAnswer is set when the
// cache also held an answer for the fingerprint.
type Retrieval struct {
	Bundle       *models.EvidenceBundle
	CachedAnswer *models.Answer
	CacheHit     bool
	Shared       bool
}

type Assembler struct {
	config  Config
	index   semindex.Index
	gateway gateway.Gateway
	cache   *cache.Cache
	logger  logger.Logger
	now     func() time.Time
}

func New(config Config, index semindex.Index, gw gateway.Gateway, c *cache.Cache, log logger.Logger) *Assembler {
	if config.TopK <= 0 {
		config.TopK = DefaultTopK
	}
	if config.HistoryYears < 0 {
		config.HistoryYears = DefaultHistoryYears
	}
	if config.SemanticTimeout <= 0 {
		config.SemanticTimeout = DefaultTimeout
	}
	if config.StructuredTimeout <= 0 {
		config.StructuredTimeout = DefaultTimeout
	}
	return &Assembler{
		config:  config,
		index:   index,
		gateway: gw,
		cache:   c,
		logger:  log.With(map[string]interface{}{"component": "retrieval-assembler"}),
		now:     time.Now,
	}
}

// Assemble returns the evidence bundle for q under intent.
func (a *Assembler) Assemble(ctx context.Context, q models.Query, intent models.Intent) (*models.EvidenceBundle, error) {
	r, err := a.Retrieve(ctx, q, intent)
	if err != nil {
		return nil, err
	}
	return r.Bundle, nil
}

// Retrieve consults the cache before touching any collaborator. On a miss
// concurrent callers with the same fingerprint share one build.
func (a *Assembler) Retrieve(ctx context.Context, q models.Query, intent models.Intent) (*Retrieval, error) {
	ctx, span := tracer.Start(ctx, "retrieval.assemble")
	defer span.End()
	span.SetAttributes(attribute.String("intent", string(intent)))

	version, err := a.gateway.Version(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewQueryCancelledError(ctx.Err())
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.NewStructuredDataUnavailableError(versionTable, err)
	}
	a.cache.Invalidate(ctx, version)

	fp := cache.Fingerprint(q.Text, intent, version)
	span.SetAttributes(attribute.String("fingerprint", fp))

	if entry, ok := a.cache.Get(ctx, fp); ok {
		span.SetAttributes(attribute.Bool("cacheHit", true))
		bundle := entry.Bundle
		bundle.Query = q
		return &Retrieval{Bundle: bundle, CachedAnswer: entry.Answer, CacheHit: true}, nil
	}

	build := func(ctx context.Context) (*models.EvidenceBundle, error) {
		return a.build(ctx, q, intent, version, fp)
	}
	bundle, shared, err := a.cache.Do(ctx, fp, build)
	if err != nil && shared && ctx.Err() == nil && isCancellation(err) {
		// the caller that started the shared build went away
		bundle, err = build(ctx)
		shared = false
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewQueryCancelledError(ctx.Err())
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	bundle.Query = q
	span.SetAttributes(
		attribute.Int("hits", len(bundle.Hits)),
		attribute.Bool("semanticDegraded", bundle.SemanticDegraded),
		attribute.Bool("shared", shared),
	)
	return &Retrieval{Bundle: bundle, Shared: shared}, nil
}

// StoreAnswer caches answer next to the bundle it was generated from.
func (a *Assembler) StoreAnswer(ctx context.Context, bundle *models.EvidenceBundle, answer *models.Answer) error {
	if bundle.SemanticDegraded {
		return nil
	}
	return a.cache.Put(ctx, &models.CacheEntry{
		Fingerprint: bundle.Fingerprint,
		Bundle:      bundle,
		Answer:      answer,
		DataVersion: bundle.DataVersion,
	})
}

func (a *Assembler) build(ctx context.Context, q models.Query, intent models.Intent, version, fp string) (*models.EvidenceBundle, error) {
	plans := StructuredPlan(intent, q.FiscalYear, a.config.HistoryYears)

	var (
		hitsByCollection = make([][]models.SemanticHit, len(models.Collections))
		semanticErrs     = make([]error, len(models.Collections))
		slices           = make([]models.StructuredSlice, len(plans))
		versions         = make([]string, len(plans))
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, collection := range models.Collections {
		i, collection := i, collection
		g.Go(func() error {
			hits, err := a.search(gctx, collection, q.Text)
			if err != nil {
				semanticErrs[i] = err
				return nil
			}
			hitsByCollection[i] = hits
			return nil
		})
	}
	for i, plan := range plans {
		i, plan := i, plan
		g.Go(func() error {
			res, err := a.fetch(gctx, plan)
			if err != nil {
				return errors.NewStructuredDataUnavailableError(plan.Table, err)
			}
			slices[i] = models.StructuredSlice{
				Table:       plan.Table,
				Filter:      plan.Filter,
				Rows:        res.Rows,
				RowCount:    len(res.Rows),
				DataVersion: res.Version,
			}
			versions[i] = res.Version
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewQueryCancelledError(ctx.Err())
		}
		a.logger.WithError(err).Error("structured pull failed", map[string]interface{}{
			"queryId": q.ID,
			"intent":  string(intent),
		})
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, errors.NewQueryCancelledError(ctx.Err())
	}

	bundle := &models.EvidenceBundle{
		ID:          uuid.New().String(),
		Query:       q,
		Intent:      intent,
		Hits:        []models.SemanticHit{},
		Slices:      slices,
		DataVersion: version,
		Fingerprint: fp,
		AssembledAt: a.now().UTC(),
	}
	for i, collection := range models.Collections {
		if err := semanticErrs[i]; err != nil {
			bundle.SemanticDegraded = true
			bundle.DegradedCollections = append(bundle.DegradedCollections, collection)
			metrics.DegradedBundles.WithLabelValues(string(collection)).Inc()
			degraded := errors.NewSemanticIndexUnavailableError(string(collection), err)
			a.logger.WithError(err).Warn("semantic search degraded", map[string]interface{}{
				"queryId":    q.ID,
				"collection": string(collection),
				"errorCode":  string(degraded.Code),
			})
			continue
		}
		bundle.Hits = append(bundle.Hits, hitsByCollection[i]...)
	}
	MergeHits(bundle.Hits)

	consistent := true
	for _, v := range versions {
		if v != version {
			consistent = false
		}
	}

	switch {
	case !consistent:
		a.logger.Warn("data version moved during assembly, bundle not cached", map[string]interface{}{
			"queryId":  q.ID,
			"expected": version,
		})
	case bundle.SemanticDegraded:
		// partial evidence is served but never cached
	default:
		entry := &models.CacheEntry{Fingerprint: fp, Bundle: bundle, DataVersion: version}
		if err := a.cache.Put(ctx, entry); err != nil {
			a.logger.WithError(err).Warn("bundle not cached", map[string]interface{}{"fingerprint": fp})
		}
	}
	return bundle, nil
}

func (a *Assembler) search(ctx context.Context, collection models.Collection, text string) ([]models.SemanticHit, error) {
	ctx, span := tracer.Start(ctx, "retrieval.search", trace.WithAttributes(attribute.String("collection", string(collection))))
	defer span.End()

	var hits []models.SemanticHit
	err := callWithRetry(ctx, "semantic-index", a.config.SemanticRetries, a.config.SemanticTimeout, func(ctx context.Context) error {
		var err error
		hits, err = a.index.Search(ctx, collection, text, a.config.TopK)
		return err
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	for i := range hits {
		hits[i].Collection = collection
		hits[i].Rank = i
	}
	return hits, nil
}

func (a *Assembler) fetch(ctx context.Context, plan Plan) (*gateway.FetchResult, error) {
	ctx, span := tracer.Start(ctx, "retrieval.fetch", trace.WithAttributes(attribute.String("table", plan.Table)))
	defer span.End()

	var res *gateway.FetchResult
	err := callWithRetry(ctx, "structured-gateway", a.config.StructuredRetries, a.config.StructuredTimeout, func(ctx context.Context) error {
		var err error
		res, err = a.gateway.Fetch(ctx, plan.Table, plan.Filter)
		return err
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("rows", len(res.Rows)))
	return res, nil
}

// MergeHits orders hits by score, then collection priority, then the rank
// each hit had within its own collection.
func MergeHits(hits []models.SemanticHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if pa, pb := a.Collection.Priority(), b.Collection.Priority(); pa != pb {
			return pa < pb
		}
		return a.Rank < b.Rank
	})
}

func isCancellation(err error) bool {
	return stderrors.Is(err, context.Canceled) ||
		stderrors.Is(err, context.DeadlineExceeded) ||
		stderrors.Is(err, errors.ErrQueryCancelled)
}

// callWithRetry runs call under a per-attempt timeout, retrying failed
// attempts with exponential backoff while ctx is live.
func callWithRetry(ctx context.Context, collaborator string, retries int, timeout time.Duration, call func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		err := call(callCtx)
		cancel()
		metrics.CollaboratorDuration.WithLabelValues(collaborator).Observe(time.Since(start).Seconds())
		if err == nil {
			metrics.CollaboratorCalls.WithLabelValues(collaborator, "ok").Inc()
			return nil
		}
		metrics.CollaboratorCalls.WithLabelValues(collaborator, "error").Inc()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if stderrors.Is(err, gateway.ErrUnknownTable) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%s failed after %d attempts: %w", collaborator, retries+1, lastErr)
}
