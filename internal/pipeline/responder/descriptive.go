package responder

import (
	"fmt"
	"math"

	"fin-analytics/internal/models"
)

const trendBand = 5.0

// Trend summarises per-period totals.
type Trend struct {
	Totals    []models.PeriodTotal
	Total     float64
	Average   float64
	Min       float64
	Max       float64
	Latest    float64
	GrowthPct float64
	Direction string
}

// ComputeTrend returns false when totals is empty. Growth compares the last
// period to the first and is zero when the first is zero.
func ComputeTrend(totals []models.PeriodTotal) (Trend, bool) {
	if len(totals) == 0 {
		return Trend{}, false
	}
	t := Trend{
		Totals: totals,
		Min:    math.Inf(1),
		Max:    math.Inf(-1),
		Latest: totals[len(totals)-1].Amount,
	}
	for _, pt := range totals {
		t.Total += pt.Amount
		t.Min = math.Min(t.Min, pt.Amount)
		t.Max = math.Max(t.Max, pt.Amount)
	}
	t.Average = t.Total / float64(len(totals))
	if first := totals[0].Amount; first != 0 {
		t.GrowthPct = (t.Latest/first - 1) * 100
	}
	t.Direction = direction(t.GrowthPct)
	return t, true
}

func direction(growthPct float64) string {
	switch {
	case growthPct > trendBand:
		return "increasing"
	case growthPct < -trendBand:
		return "decreasing"
	}
	return "stable"
}

// Descriptive answers "what happened": per-period totals of the fiscal
// year's actuals with summary statistics and a trend chart.
func Descriptive(q models.Query, c models.ClassificationResult, b *models.EvidenceBundle) (*models.Answer, error) {
	a := newAnswer(q, c, b)
	rows := b.Rows(models.TableActuals)
	a.Evidence = append(a.Evidence, b.SliceRefs(models.TableActuals)...)

	trend, ok := ComputeTrend(periodTotals(a, rows))
	if !ok {
		if len(rows) > 0 {
			return finish(insufficient(a), []string{
				fmt.Sprintf("Found %d actual row(s) for %s but none has a recognizable period, so there is nothing to describe.",
					len(rows), fiscalYearLabel(q.FiscalYear)),
			}), nil
		}
		return finish(insufficient(a), []string{
			fmt.Sprintf("No actuals were found for %s, so there is nothing to describe.", fiscalYearLabel(q.FiscalYear)),
		}), nil
	}
	a.Evidence = append(a.Evidence, hitEvidence(b)...)

	metric := metricName(c, b)
	first, last := trend.Totals[0], trend.Totals[len(trend.Totals)-1]

	a.Summary = map[string]float64{
		"total":     trend.Total,
		"average":   trend.Average,
		"min":       trend.Min,
		"max":       trend.Max,
		"latest":    trend.Latest,
		"growthPct": trend.GrowthPct,
		"periods":   float64(len(trend.Totals)),
	}
	a.Chart = &models.ChartSpec{
		Type:       lineChartOrBar(len(trend.Totals)),
		Title:      fmt.Sprintf("%s %s", title(metric), fiscalYearLabel(q.FiscalYear)),
		XLabel:     "Period",
		YLabel:     "Amount",
		Series:     []models.ChartSeries{totalsSeries("Actuals", trend.Totals)},
		SourceRows: len(rows),
	}

	span := "for " + first.Label()
	if len(trend.Totals) > 1 {
		span = fmt.Sprintf("from %s to %s", first.Label(), last.Label())
	}
	lines := []string{
		fmt.Sprintf("Here is the %s data for %s %s:", metric, fiscalYearLabel(q.FiscalYear), span),
		fmt.Sprintf("Latest period (%s): %s", last.Label(), amount(trend.Latest)),
	}
	if len(trend.Totals) > 1 {
		lines = append(lines, fmt.Sprintf("Trend: %s (%+.1f%% over the period)", trend.Direction, trend.GrowthPct))
	}
	lines = append(lines, fmt.Sprintf("Summary: total %s, min %s, max %s, average %s across %d periods.",
		amount(trend.Total), amount(trend.Min), amount(trend.Max), amount(trend.Average), len(trend.Totals)))
	if related := relatedLabels(b, models.CollectionAccounts); related != "" {
		lines = append(lines, "Related accounts: "+related+".")
	}
	return finish(a, lines), nil
}

func relatedLabels(b *models.EvidenceBundle, collection models.Collection) string {
	var out string
	n := 0
	for _, h := range b.Hits {
		if h.Collection != collection || n == 3 {
			continue
		}
		label := h.Label
		if label == "" {
			label = h.EntityID
		}
		if n > 0 {
			out += ", "
		}
		out += label
		n++
	}
	return out
}
