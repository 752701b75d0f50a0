package retrieval

import "fin-analytics/internal/models"

// Plan is one structured pull.
type Plan struct {
	Table  string
	Filter models.Filter
}

// StructuredPlan lists the pulls an intent needs for fiscalYear. Predictive
// answers look back historyYears years before fiscalYear.
func StructuredPlan(intent models.Intent, fiscalYear, historyYears int) []Plan {
	year := models.Filter{Years: []int{fiscalYear}}

	switch intent {
	case models.IntentDiagnostic, models.IntentPrescriptive:
		return []Plan{
			{Table: models.TableActuals, Filter: year},
			{Table: models.TableBudget, Filter: year},
		}
	case models.IntentPredictive:
		years := make([]int, 0, historyYears+1)
		for y := fiscalYear - historyYears; y <= fiscalYear; y++ {
			years = append(years, y)
		}
		return []Plan{{Table: models.TableActuals, Filter: models.Filter{Years: years}}}
	default:
		return []Plan{{Table: models.TableActuals, Filter: year}}
	}
}
