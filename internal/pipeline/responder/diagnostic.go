package responder

import (
	"fmt"
	"math"
	"sort"

	"fin-analytics/internal/models"
)

const (
	ComparisonBudget = "vs budget"
	ComparisonPrior  = "vs prior period"

	maxDrivers = 5
)

// Variance compares actuals to a baseline, either the budget for the same
// periods or the previous period.
type Variance struct {
	Comparison    string
	Period        string
	Actual        float64
	Baseline      float64
	Variance      float64
	VariancePct   float64
	Contributions []models.Driver
	// Drivers are the contributions linked to semantic hits, or the
	// largest contributions when none are.
	Drivers    []models.Driver
	SourceRows int
	Evidence   []models.EvidenceRef
	// ExcludedRows counts rows whose period could not be compared.
	ExcludedRows int
}

// ComputeVariance returns false when the bundle cannot support a
// comparison: no actuals, or no budget for the actual periods and fewer
// than two periods. ExcludedRows is set either way.
func ComputeVariance(b *models.EvidenceBundle, fiscalYear int) (Variance, bool) {
	actuals := b.Rows(models.TableActuals)
	if len(actuals) == 0 {
		return Variance{}, false
	}

	var v Variance
	var current, baseline []models.Row
	if budget := b.Rows(models.TableBudget); len(budget) > 0 {
		current, baseline, v.ExcludedRows = sharedPeriods(actuals, budget)
		if len(baseline) > 0 {
			v.Comparison = ComparisonBudget
			v.Period = fiscalYearLabel(fiscalYear)
			v.Evidence = b.SliceRefs(models.TableActuals, models.TableBudget)
		}
	}
	if len(baseline) == 0 {
		totals, excluded := models.SummarizePeriods(actuals)
		v.ExcludedRows = excluded
		if len(totals) < 2 {
			return Variance{ExcludedRows: excluded}, false
		}
		last, prev := totals[len(totals)-1], totals[len(totals)-2]
		current = nil
		for _, r := range actuals {
			period, _ := models.NormalizePeriod(r.Period)
			switch {
			case r.Year == last.Year && period == last.Period:
				current = append(current, r)
			case r.Year == prev.Year && period == prev.Period:
				baseline = append(baseline, r)
			}
		}
		v.Comparison = ComparisonPrior
		v.Period = last.Label()
		v.Evidence = b.SliceRefs(models.TableActuals)
	}

	v.Actual = sum(current)
	v.Baseline = sum(baseline)
	v.Variance = v.Actual - v.Baseline
	v.VariancePct = pct(v.Variance, v.Baseline)
	v.SourceRows = len(current) + len(baseline)

	for _, dim := range dimensions {
		v.Contributions = append(v.Contributions, contributions(dim, current, baseline)...)
	}
	sortByImpact(v.Contributions)
	v.Drivers = linkDrivers(v.Contributions, b)
	return v, true
}

// sharedPeriods keeps the actual and budget rows whose periods appear on
// both sides, so a partial year is compared like for like.
func sharedPeriods(actuals, budget []models.Row) (current, baseline []models.Row, excluded int) {
	keys := func(rows []models.Row) map[int]bool {
		out := make(map[int]bool)
		for _, r := range rows {
			if models.PeriodIndex(r.Period) >= 0 {
				out[models.PeriodKey(r.Year, r.Period)] = true
			}
		}
		return out
	}
	actualKeys, budgetKeys := keys(actuals), keys(budget)
	for _, r := range actuals {
		if models.PeriodIndex(r.Period) < 0 {
			excluded++
		} else if budgetKeys[models.PeriodKey(r.Year, r.Period)] {
			current = append(current, r)
		}
	}
	for _, r := range budget {
		if models.PeriodIndex(r.Period) < 0 {
			excluded++
		} else if actualKeys[models.PeriodKey(r.Year, r.Period)] {
			baseline = append(baseline, r)
		}
	}
	return current, baseline, excluded
}

type dimension struct {
	name       string
	collection models.Collection
	key        func(models.Row) string
}

var dimensions = []dimension{
	{"account", models.CollectionAccounts, func(r models.Row) string { return r.Account }},
	{"entity", models.CollectionEntities, func(r models.Row) string { return r.Entity }},
	{"department", models.CollectionDepartments, func(r models.Row) string { return r.Department }},
}

func contributions(dim dimension, current, baseline []models.Row) []models.Driver {
	byKey := make(map[string]*models.Driver)
	get := func(key string) *models.Driver {
		d, ok := byKey[key]
		if !ok {
			d = &models.Driver{Dimension: dim.name, Key: key}
			byKey[key] = d
		}
		return d
	}
	for _, r := range current {
		if k := dim.key(r); k != "" {
			get(k).Actual += r.Amount
		}
	}
	for _, r := range baseline {
		if k := dim.key(r); k != "" {
			get(k).Baseline += r.Amount
		}
	}

	out := make([]models.Driver, 0, len(byKey))
	for _, d := range byKey {
		d.Variance = d.Actual - d.Baseline
		d.VariancePct = pct(d.Variance, d.Baseline)
		out = append(out, *d)
	}
	return out
}

// sortByImpact orders by absolute variance, breaking ties by dimension and
// key so output does not depend on map order.
func sortByImpact(ds []models.Driver) {
	sort.SliceStable(ds, func(i, j int) bool {
		ai, aj := math.Abs(ds[i].Variance), math.Abs(ds[j].Variance)
		if ai != aj {
			return ai > aj
		}
		if ds[i].Dimension != ds[j].Dimension {
			return ds[i].Dimension < ds[j].Dimension
		}
		return ds[i].Key < ds[j].Key
	})
}

func linkDrivers(contribs []models.Driver, b *models.EvidenceBundle) []models.Driver {
	var linked []models.Driver
	for _, d := range contribs {
		if d.Variance == 0 {
			continue
		}
		hit, ok := hitFor(b, dimensionCollection(d.Dimension), d.Key)
		if !ok {
			continue
		}
		d.Label = hit.Label
		d.Evidence = []models.EvidenceRef{models.HitRef(hit)}
		linked = append(linked, d)
		if len(linked) == maxDrivers {
			return linked
		}
	}
	if len(linked) > 0 {
		return linked
	}

	for _, d := range contribs {
		if d.Dimension != "account" || d.Variance == 0 {
			continue
		}
		linked = append(linked, d)
		if len(linked) == maxDrivers {
			break
		}
	}
	return linked
}

func dimensionCollection(name string) models.Collection {
	for _, dim := range dimensions {
		if dim.name == name {
			return dim.collection
		}
	}
	return ""
}

func hitFor(b *models.EvidenceBundle, collection models.Collection, id string) (models.SemanticHit, bool) {
	for _, h := range b.Hits {
		if h.Collection == collection && h.EntityID == id {
			return h, true
		}
	}
	return models.SemanticHit{}, false
}

// Diagnostic answers "why did it happen": the variance for the fiscal year
// and the accounts, entities and departments that drove it.
func Diagnostic(q models.Query, c models.ClassificationResult, b *models.EvidenceBundle) (*models.Answer, error) {
	a := newAnswer(q, c, b)

	v, ok := ComputeVariance(b, q.FiscalYear)
	a.ExcludedPeriodRows = v.ExcludedRows
	if !ok {
		a.Evidence = append(a.Evidence, b.SliceRefs(models.TableActuals, models.TableBudget)...)
		return finish(insufficient(a), []string{
			fmt.Sprintf("There is not enough data for %s to explain a variance: it needs budget figures or at least two periods of actuals.",
				fiscalYearLabel(q.FiscalYear)),
		}), nil
	}

	metric := metricName(c, b)
	a.Evidence = append(a.Evidence, v.Evidence...)
	a.Evidence = append(a.Evidence, driverEvidence(v.Drivers)...)
	a.Drivers = v.Drivers
	a.Summary = map[string]float64{
		"actual":      v.Actual,
		"baseline":    v.Baseline,
		"variance":    v.Variance,
		"variancePct": v.VariancePct,
	}
	a.Chart = waterfall(fmt.Sprintf("%s Variance %s", title(metric), v.Period), v)

	lines := []string{
		fmt.Sprintf("Analysis of %s variance for %s (%s):", metric, v.Period, v.Comparison),
		fmt.Sprintf("%s %s: actual %s, baseline %s, change %s (%+.1f%%).",
			title(metric), movement(v.Variance), amount(v.Actual), amount(v.Baseline), signedAmount(v.Variance), v.VariancePct),
	}
	if len(v.Drivers) > 0 {
		lines = append(lines, "Contributing factors:")
		for _, d := range v.Drivers {
			lines = append(lines, fmt.Sprintf("  %s %s: %s (%+.1f%% impact)",
				d.Dimension, driverName(d), signedAmount(d.Variance), pct(d.Variance, math.Abs(v.Baseline))))
		}
	}
	lines = append(lines, interpretation(v))
	return finish(a, lines), nil
}

func interpretation(v Variance) string {
	size := "minor"
	switch abs := math.Abs(v.VariancePct); {
	case abs > 10:
		size = "significant"
	case abs > 5:
		size = "moderate"
	}
	tone := "Negative variance may indicate challenges or unfavourable conditions."
	if v.Variance > 0 {
		tone = "Positive variance suggests improved performance or favourable conditions."
	}
	return fmt.Sprintf("This is a %s %s (%.1f%%). %s", size, movement(v.Variance), math.Abs(v.VariancePct), tone)
}

func movement(variance float64) string {
	switch {
	case variance > 0:
		return "increase"
	case variance < 0:
		return "decrease"
	}
	return "no change"
}

// waterfall steps from the baseline through the account contributions to
// the actual. Accounts beyond the largest few are folded into "Other".
func waterfall(chartTitle string, v Variance) *models.ChartSpec {
	points := []models.ChartPoint{{Label: "Baseline", Value: v.Baseline}}
	var shown float64
	n := 0
	for _, d := range v.Contributions {
		if d.Dimension != "account" || d.Variance == 0 {
			continue
		}
		if n == maxDrivers {
			break
		}
		points = append(points, models.ChartPoint{Label: driverName(d), Value: d.Variance})
		shown += d.Variance
		n++
	}
	if rest := v.Variance - shown; math.Abs(rest) > 1e-9 {
		points = append(points, models.ChartPoint{Label: "Other", Value: rest})
	}
	points = append(points, models.ChartPoint{Label: "Actual", Value: v.Actual})

	return &models.ChartSpec{
		Type:       models.ChartWaterfall,
		Title:      chartTitle,
		XLabel:     "Driver",
		YLabel:     "Amount",
		Series:     []models.ChartSeries{{Name: "Variance", Points: points}},
		SourceRows: v.SourceRows,
	}
}

func driverName(d models.Driver) string {
	if d.Label != "" {
		return fmt.Sprintf("%s (%s)", d.Label, d.Key)
	}
	return d.Key
}

func driverEvidence(ds []models.Driver) []models.EvidenceRef {
	var refs []models.EvidenceRef
	for _, d := range ds {
		refs = append(refs, d.Evidence...)
	}
	return refs
}

func sum(rows []models.Row) float64 {
	var total float64
	for _, r := range rows {
		total += r.Amount
	}
	return total
}

func pct(delta, base float64) float64 {
	if base == 0 {
		return 0
	}
	return delta / math.Abs(base) * 100
}
