// Package responder turns an evidence bundle into an answer. Every strategy
// is a pure function of the query, its classification and the bundle.
package responder

import (
	stderrors "errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"fin-analytics/internal/common/errors"
	"fin-analytics/internal/models"
)

const (
	DefaultMinHistoryPeriods = 3
	DefaultForecastHorizon   = 3

	// degradedPenalty scales confidence when semantic context was missing.
	degradedPenalty = 0.8
	maxEvidenceHits = 5
)

var errNoStrategy = stderrors.New("no responder registered for intent")

// Responder builds an answer from evidence.
type Responder interface {
	Respond(q models.Query, c models.ClassificationResult, b *models.EvidenceBundle) (*models.Answer, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(q models.Query, c models.ClassificationResult, b *models.EvidenceBundle) (*models.Answer, error)

func (f ResponderFunc) Respond(q models.Query, c models.ClassificationResult, b *models.EvidenceBundle) (*models.Answer, error) {
	return f(q, c, b)
}

type Config struct {
	MinHistoryPeriods int
	ForecastHorizon   int
}

// Registry is the closed intent to strategy table.
type Registry struct {
	strategies map[models.Intent]Responder
}

func NewRegistry(config Config) *Registry {
	if config.MinHistoryPeriods <= 0 {
		config.MinHistoryPeriods = DefaultMinHistoryPeriods
	}
	if config.ForecastHorizon <= 0 {
		config.ForecastHorizon = DefaultForecastHorizon
	}
	return &Registry{strategies: map[models.Intent]Responder{
		models.IntentDescriptive:  ResponderFunc(Descriptive),
		models.IntentDiagnostic:   ResponderFunc(Diagnostic),
		models.IntentPredictive:   &Predictive{MinHistoryPeriods: config.MinHistoryPeriods, Horizon: config.ForecastHorizon},
		models.IntentPrescriptive: ResponderFunc(Prescriptive),
	}}
}

// Respond dispatches to the strategy for c.Intent.
func (r *Registry) Respond(q models.Query, c models.ClassificationResult, b *models.EvidenceBundle) (*models.Answer, error) {
	strategy, ok := r.strategies[c.Intent]
	if !ok {
		return nil, errors.NewResponderFailedError(string(c.Intent), errNoStrategy)
	}
	if b == nil {
		return nil, errors.NewResponderFailedError(string(c.Intent), stderrors.New("nil evidence bundle"))
	}
	answer, err := strategy.Respond(q, c, b)
	if err != nil {
		if errors.AsStandard(err).Code == errors.ErrCodeResponderFailed {
			return nil, err
		}
		return nil, errors.NewResponderFailedError(string(c.Intent), err)
	}
	return answer, nil
}

// newAnswer fills the fields every strategy shares.
func newAnswer(q models.Query, c models.ClassificationResult, b *models.EvidenceBundle) *models.Answer {
	confidence := c.Confidence
	if b.SemanticDegraded {
		confidence *= degradedPenalty
	}
	return &models.Answer{
		QueryID:        q.ID,
		BundleID:       b.ID,
		Intent:         c.Intent,
		Classification: c,
		Confidence:     confidence,
		LowConfidence:  c.LowConfidence,
		Degraded:       b.SemanticDegraded,
		Evidence:       []models.EvidenceRef{},
	}
}

// insufficient marks an answer that carries no figures.
func insufficient(a *models.Answer) *models.Answer {
	a.InsufficientData = true
	a.Confidence = 0
	a.Chart = nil
	a.Summary = nil
	a.Drivers = nil
	a.Projections = nil
	a.Recommendations = nil
	return a
}

// finish prepends the disclaimers and joins the narrative lines.
func finish(a *models.Answer, lines []string) *models.Answer {
	var notes []string
	if a.LowConfidence {
		notes = append(notes, fmt.Sprintf("Note: this question was read as %s with low confidence (%.0f%%). Add an explicit intent if that is wrong.",
			a.Intent, a.Classification.Confidence*100))
	}
	if a.Degraded {
		notes = append(notes, "Note: semantic context was unavailable; this answer is based on structured data only.")
	}
	if a.ExcludedPeriodRows > 0 {
		notes = append(notes, fmt.Sprintf("Note: %d row(s) were left out because their period could not be placed on the fiscal calendar.",
			a.ExcludedPeriodRows))
	}
	a.Narrative = strings.Join(append(notes, lines...), "\n")
	return a
}

// periodTotals groups rows into a period series and records the rows it
// had to leave out on the answer.
func periodTotals(a *models.Answer, rows []models.Row) []models.PeriodTotal {
	totals, excluded := models.SummarizePeriods(rows)
	if excluded > a.ExcludedPeriodRows {
		a.ExcludedPeriodRows = excluded
	}
	return totals
}

// hitEvidence references the strongest semantic hits.
func hitEvidence(b *models.EvidenceBundle) []models.EvidenceRef {
	var refs []models.EvidenceRef
	for i, h := range b.Hits {
		if i == maxEvidenceHits {
			break
		}
		refs = append(refs, models.HitRef(h))
	}
	return refs
}

// metricName names what the figures measure: the oracle's metric when it
// named one, otherwise the best matching account.
func metricName(c models.ClassificationResult, b *models.EvidenceBundle) string {
	if len(c.Metrics) > 0 && strings.TrimSpace(c.Metrics[0]) != "" {
		return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(c.Metrics[0])), "_", " ")
	}
	for _, h := range b.Hits {
		if h.Collection == models.CollectionAccounts && h.Label != "" {
			return strings.ToLower(h.Label)
		}
	}
	return "financial results"
}

var (
	printer = message.NewPrinter(language.English)
	titler  = cases.Title(language.English)
)

func title(s string) string {
	return titler.String(s)
}

func amount(v float64) string {
	return printer.Sprintf("%.0f", v)
}

func signedAmount(v float64) string {
	return printer.Sprintf("%+.0f", v)
}

func fiscalYearLabel(year int) string {
	return fmt.Sprintf("FY%d", year)
}

func lineChartOrBar(periods int) models.ChartType {
	if periods >= 4 {
		return models.ChartLine
	}
	return models.ChartBar
}

func totalsSeries(name string, totals []models.PeriodTotal) models.ChartSeries {
	points := make([]models.ChartPoint, len(totals))
	for i, t := range totals {
		points[i] = models.ChartPoint{Label: t.Label(), Value: t.Amount}
	}
	return models.ChartSeries{Name: name, Points: points}
}
