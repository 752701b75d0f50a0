package responder

import (
	"fmt"
	"math"

	"fin-analytics/internal/models"
)

const (
	baseProjectionConfidence = 0.85
	confidenceDecay          = 0.1
	minProjectionConfidence  = 0.05
)

// Predictive answers "what will happen" with a linear projection of the
// per-period totals. It refuses to project from too little history.
type Predictive struct {
	MinHistoryPeriods int
	Horizon           int
}

func (p *Predictive) Respond(q models.Query, c models.ClassificationResult, b *models.EvidenceBundle) (*models.Answer, error) {
	a := newAnswer(q, c, b)
	rows := b.Rows(models.TableActuals)
	a.Evidence = append(a.Evidence, b.SliceRefs(models.TableActuals)...)

	totals := periodTotals(a, rows)
	if len(totals) < p.MinHistoryPeriods {
		return finish(insufficient(a), []string{
			fmt.Sprintf("Not enough history to forecast: %d period(s) available, at least %d required.",
				len(totals), p.MinHistoryPeriods),
		}), nil
	}
	a.Evidence = append(a.Evidence, hitEvidence(b)...)

	projections, step := Project(totals, p.Horizon)
	a.Projections = projections

	var meanConfidence float64
	for _, pr := range projections {
		meanConfidence += pr.Confidence
	}
	meanConfidence /= float64(len(projections))
	a.Confidence *= meanConfidence

	metric := metricName(c, b)
	first, last := totals[0], totals[len(totals)-1]
	a.Summary = map[string]float64{
		"lastActual":      last.Amount,
		"changePerPeriod": step,
		"historyPeriods":  float64(len(totals)),
		"horizon":         float64(len(projections)),
	}

	forecast := make([]models.ChartPoint, len(projections))
	for i, pr := range projections {
		forecast[i] = models.ChartPoint{
			Label: models.PeriodTotal{Year: pr.Year, Period: pr.Period}.Label(),
			Value: pr.Value,
		}
	}
	a.Chart = &models.ChartSpec{
		Type:   models.ChartLine,
		Title:  fmt.Sprintf("%s Forecast", title(metric)),
		XLabel: "Period",
		YLabel: "Amount",
		Series: []models.ChartSeries{
			totalsSeries("Historical", totals),
			{Name: "Projected", Points: forecast},
		},
		SourceRows: len(rows),
	}

	lines := []string{
		fmt.Sprintf("Forecast for %s over the next %d periods, based on %d periods of history (%s to %s):",
			metric, len(projections), len(totals), first.Label(), last.Label()),
	}
	for i, pr := range projections {
		lines = append(lines, fmt.Sprintf("  %s: %s (confidence %.0f%%)",
			forecast[i].Label, amount(pr.Value), pr.Confidence*100))
	}
	lines = append(lines, fmt.Sprintf("Average change per period: %s.", signedAmount(step)))
	return finish(a, lines), nil
}

// Project extends the totals horizon periods past the last one using the
// average change across the history. Confidence decays with distance.
// The step divides the overall change by the number of periods rather than
// the number of intervals, so it runs slightly below the observed slope.
func Project(totals []models.PeriodTotal, horizon int) ([]models.Projection, float64) {
	if len(totals) == 0 || horizon <= 0 {
		return nil, 0
	}
	first, last := totals[0], totals[len(totals)-1]
	step := (last.Amount - first.Amount) / float64(len(totals))

	out := make([]models.Projection, horizon)
	year, period := last.Year, last.Period
	for i := 0; i < horizon; i++ {
		year, period = models.NextPeriod(year, period)
		out[i] = models.Projection{
			Year:       year,
			Period:     period,
			Value:      last.Amount + step*float64(i+1),
			Confidence: math.Max(minProjectionConfidence, baseProjectionConfidence-confidenceDecay*float64(i)),
		}
	}
	return out, step
}
