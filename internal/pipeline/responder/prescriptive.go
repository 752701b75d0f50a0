package responder

import (
	"fmt"
	"sort"

	"fin-analytics/internal/models"
)

const (
	PriorityHigh   = "High"
	PriorityMedium = "Medium"
	PriorityLow    = "Low"

	growthThreshold  = 10.0
	declineThreshold = -5.0
	varianceBand     = 5.0
)

var priorityOrder = map[string]int{PriorityHigh: 0, PriorityMedium: 1, PriorityLow: 2}

// Prescriptive answers "what should we do": rules over the trend and the
// variance, each recommendation citing the evidence that triggered it.
func Prescriptive(q models.Query, c models.ClassificationResult, b *models.EvidenceBundle) (*models.Answer, error) {
	a := newAnswer(q, c, b)
	metric := metricName(c, b)

	var recs []models.Recommendation
	actualRefs := b.SliceRefs(models.TableActuals)

	trend, hasTrend := ComputeTrend(periodTotals(a, b.Rows(models.TableActuals)))
	hasTrend = hasTrend && len(trend.Totals) >= 2
	if hasTrend {
		recs = append(recs, growthRecommendation(metric, trend.GrowthPct, actualRefs))
	}

	v, hasVariance := ComputeVariance(b, q.FiscalYear)
	if v.ExcludedRows > a.ExcludedPeriodRows {
		a.ExcludedPeriodRows = v.ExcludedRows
	}
	if hasVariance {
		if rec, ok := varianceRecommendation(metric, v); ok {
			recs = append(recs, rec)
		}
		a.Drivers = v.Drivers
	}

	if len(recs) == 0 {
		recs = append(recs, models.Recommendation{
			Category:  "Data Review",
			Priority:  PriorityLow,
			Action:    fmt.Sprintf("Review %s reporting for %s and gather more periods before acting.", metric, fiscalYearLabel(q.FiscalYear)),
			Rationale: "The available evidence does not support a specific recommendation.",
			Generic:   true,
			Evidence:  actualRefs,
		})
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return priorityOrder[recs[i].Priority] < priorityOrder[recs[j].Priority]
	})
	a.Recommendations = recs

	for _, r := range recs {
		a.Evidence = appendUnique(a.Evidence, r.Evidence...)
	}
	a.Evidence = appendUnique(a.Evidence, hitEvidence(b)...)

	a.Summary = map[string]float64{}
	if hasTrend {
		a.Summary["growthPct"] = trend.GrowthPct
	}
	switch {
	case hasVariance:
		a.Summary["variancePct"] = v.VariancePct
		a.Chart = waterfall(fmt.Sprintf("%s Variance %s", title(metric), v.Period), v)
	case hasTrend:
		a.Chart = &models.ChartSpec{
			Type:       models.ChartBar,
			Title:      fmt.Sprintf("%s Performance %s", title(metric), fiscalYearLabel(q.FiscalYear)),
			XLabel:     "Period",
			YLabel:     "Amount",
			Series:     []models.ChartSeries{totalsSeries("Actuals", trend.Totals)},
			SourceRows: len(b.Rows(models.TableActuals)),
		}
	}
	if len(a.Summary) == 0 {
		a.Summary = nil
	}

	lines := []string{fmt.Sprintf("Recommendations for %s (%s):", metric, fiscalYearLabel(q.FiscalYear))}
	if hasVariance {
		lines = append(lines, fmt.Sprintf("Current situation: actual %s against %s baseline %s (%+.1f%%).",
			amount(v.Actual), v.Comparison, amount(v.Baseline), v.VariancePct))
	}
	for i, r := range recs {
		lines = append(lines,
			fmt.Sprintf("%d. %s [%s priority]: %s", i+1, r.Category, r.Priority, r.Action),
			"   Rationale: "+r.Rationale)
	}
	return finish(a, lines), nil
}

func growthRecommendation(metric string, growth float64, evidence []models.EvidenceRef) models.Recommendation {
	switch {
	case growth > growthThreshold:
		return models.Recommendation{
			Category:  "Growth Management",
			Priority:  PriorityMedium,
			Action:    fmt.Sprintf("Strong %s growth trajectory. Consider capacity planning and resource allocation.", metric),
			Rationale: fmt.Sprintf("Year-to-date growth of %.1f%% indicates expansion.", growth),
			Evidence:  evidence,
		}
	case growth < declineThreshold:
		return models.Recommendation{
			Category:  "Performance Improvement",
			Priority:  PriorityHigh,
			Action:    fmt.Sprintf("Declining %s trend detected. Conduct root cause analysis and implement corrective measures.", metric),
			Rationale: fmt.Sprintf("Year-to-date decline of %.1f%% requires attention.", growth),
			Evidence:  evidence,
		}
	}
	return models.Recommendation{
		Category:  "Optimization",
		Priority:  PriorityLow,
		Action:    fmt.Sprintf("Stable %s performance. Focus on efficiency improvements and cost optimization.", metric),
		Rationale: fmt.Sprintf("Year-to-date change of %.1f%% shows stability.", growth),
		Evidence:  evidence,
	}
}

func varianceRecommendation(metric string, v Variance) (models.Recommendation, bool) {
	evidence := append(append([]models.EvidenceRef(nil), v.Evidence...), driverEvidence(v.Drivers)...)
	switch {
	case v.VariancePct > varianceBand:
		return models.Recommendation{
			Category:  "Positive Variance",
			Priority:  PriorityMedium,
			Action:    fmt.Sprintf("Analyze drivers of positive %s variance and replicate successful strategies.", metric),
			Rationale: fmt.Sprintf("Recent %.1f%% increase %s in %s.", v.VariancePct, v.Comparison, v.Period),
			Evidence:  evidence,
		}, true
	case v.VariancePct < -varianceBand:
		return models.Recommendation{
			Category:  "Negative Variance",
			Priority:  PriorityHigh,
			Action:    fmt.Sprintf("Investigate causes of %s decline and implement immediate corrective actions.", metric),
			Rationale: fmt.Sprintf("Recent %.1f%% decrease %s in %s.", v.VariancePct, v.Comparison, v.Period),
			Evidence:  evidence,
		}, true
	}
	return models.Recommendation{}, false
}

func appendUnique(refs []models.EvidenceRef, more ...models.EvidenceRef) []models.EvidenceRef {
	for _, r := range more {
		seen := false
		for _, existing := range refs {
			if existing == r {
				seen = true
				break
			}
		}
		if !seen {
			refs = append(refs, r)
		}
	}
	return refs
}
