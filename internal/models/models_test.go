package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntent(t *testing.T) {
	tests := []struct {
		in     string
		want   Intent
		wantOK bool
	}{
		{"descriptive", IntentDescriptive, true},
		{"  Diagnostic ", IntentDiagnostic, true},
		{"PREDICTIVE", IntentPredictive, true},
		{"prescriptive", IntentPrescriptive, true},
		{"", "", false},
		{"general", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseIntent(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, 0, IntentDescriptive.Order())
	assert.Equal(t, 3, IntentPrescriptive.Order())
	assert.Equal(t, -1, Intent("other").Order())
}

func TestCollectionPriority(t *testing.T) {
	assert.Less(t, CollectionAccounts.Priority(), CollectionEntities.Priority())
	assert.Less(t, CollectionEntities.Priority(), CollectionDepartments.Priority())
	assert.Equal(t, 3, Collection("other").Priority())
}

func TestFilterString_Canonical(t *testing.T) {
	a := Filter{Years: []int{2024, 2023}, Accounts: []string{"rev", "cogs"}}
	b := Filter{Accounts: []string{"cogs", "rev"}, Years: []int{2023, 2024}}
	assert.Equal(t, a.String(), b.String())
	assert.Equal(t, "year in (2023,2024) and account in (cogs,rev)", a.String())
	assert.Equal(t, "*", Filter{}.String())
	// sorting must not reorder the caller's slice
	assert.Equal(t, []int{2024, 2023}, a.Years)
}

func TestDetectFiscalYear(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"Show me financial trends for FY24", 2024},
		{"revenue in fy 2023 by department", 2023},
		{"what happened in 2022?", 2022},
		{"what will next quarter look like?", 2025},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFiscalYear(tt.text, 2025))
		})
	}
}

func TestTotalsByPeriod(t *testing.T) {
	rows := []Row{
		{Year: 2024, Period: "Mar", Amount: 5},
		{Year: 2023, Period: "Dec", Amount: 1},
		{Year: 2024, Period: "Jan", Amount: 2},
		{Year: 2024, Period: "Jan", Amount: 3},
		{Year: 2024, Period: "Q1", Amount: 100},
	}
	totals := TotalsByPeriod(rows)
	require.Len(t, totals, 3)
	assert.Equal(t, PeriodTotal{Year: 2023, Period: "Dec", Amount: 1}, totals[0])
	assert.Equal(t, PeriodTotal{Year: 2024, Period: "Jan", Amount: 5}, totals[1])
	assert.Equal(t, PeriodTotal{Year: 2024, Period: "Mar", Amount: 5}, totals[2])
	assert.Equal(t, "Jan FY24", totals[1].Label())
}

func TestNextPeriod(t *testing.T) {
	y, p := NextPeriod(2024, "Nov")
	assert.Equal(t, 2024, y)
	assert.Equal(t, "Dec", p)
	y, p = NextPeriod(2024, "Dec")
	assert.Equal(t, 2025, y)
	assert.Equal(t, "Jan", p)
	y, p = NextPeriod(2024, "november")
	assert.Equal(t, 2024, y)
	assert.Equal(t, "Dec", p)
	y, p = NextPeriod(2024, "Q2")
	assert.Equal(t, 2024, y)
	assert.Equal(t, "Q3", p)
	y, p = NextPeriod(2024, "q4")
	assert.Equal(t, 2025, y)
	assert.Equal(t, "Q1", p)
}

func TestNormalizePeriod(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Jan", "Jan", true},
		{"JAN", "Jan", true},
		{"january", "Jan", true},
		{" March ", "Mar", true},
		{"Sept", "Sep", true},
		{"q3", "Q3", true},
		{"Q4", "Q4", true},
		{"Q5", "", false},
		{"H1", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizePeriod(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPeriodKey_QuartersFollowTheirLastMonth(t *testing.T) {
	assert.Less(t, PeriodKey(2024, "Mar"), PeriodKey(2024, "Q1"))
	assert.Less(t, PeriodKey(2024, "Q1"), PeriodKey(2024, "Apr"))
	assert.Less(t, PeriodKey(2024, "Q4"), PeriodKey(2025, "q1"))
	assert.Equal(t, PeriodKey(2024, "feb"), PeriodKey(2024, "February"))
	assert.Less(t, PeriodKey(2024, "H1"), PeriodKey(2024, "Jan"))
}

func TestSummarizePeriods_CanonicalNamesAndExclusions(t *testing.T) {
	rows := []Row{
		{Year: 2024, Period: "January", Amount: 1},
		{Year: 2024, Period: "JAN", Amount: 2},
		{Year: 2024, Period: "feb", Amount: 4},
		{Year: 2024, Period: "mar", Amount: 8},
		{Year: 2024, Period: "YTD", Amount: 15},
		{Year: 2024, Period: "Q1", Amount: 15},
	}
	totals, excluded := SummarizePeriods(rows)
	require.Len(t, totals, 3)
	assert.Equal(t, PeriodTotal{Year: 2024, Period: "Jan", Amount: 3}, totals[0])
	assert.Equal(t, PeriodTotal{Year: 2024, Period: "Feb", Amount: 4}, totals[1])
	assert.Equal(t, PeriodTotal{Year: 2024, Period: "Mar", Amount: 8}, totals[2])
	assert.Equal(t, 2, excluded)
	assert.Equal(t, 1, UnrecognizedPeriods(rows))
}

func TestSummarizePeriods_QuarterlySeries(t *testing.T) {
	rows := []Row{
		{Year: 2024, Period: "Q2", Amount: 20},
		{Year: 2024, Period: "q1", Amount: 10},
		{Year: 2023, Period: "Q4", Amount: 5},
	}
	totals, excluded := SummarizePeriods(rows)
	require.Len(t, totals, 3)
	assert.Zero(t, excluded)
	assert.Equal(t, "Q4 FY23", totals[0].Label())
	assert.Equal(t, "Q1 FY24", totals[1].Label())
	assert.Equal(t, "Q2 FY24", totals[2].Label())
}

func TestEvidenceBundleClone_NoAliasing(t *testing.T) {
	b := &EvidenceBundle{
		ID:   "b1",
		Hits: []SemanticHit{{EntityID: "4000", Score: 0.9, Collection: CollectionAccounts}},
		Slices: []StructuredSlice{{
			Table:  TableActuals,
			Filter: Filter{Years: []int{2024}},
			Rows:   []Row{{Year: 2024, Period: "Jan", Amount: 10}},
		}},
	}
	c := b.Clone()
	require.Equal(t, b, c)

	c.Hits[0].Score = 0.1
	c.Slices[0].Rows[0].Amount = 99
	c.Slices[0].Filter.Years[0] = 1999

	assert.Equal(t, 0.9, b.Hits[0].Score)
	assert.Equal(t, 10.0, b.Slices[0].Rows[0].Amount)
	assert.Equal(t, 2024, b.Slices[0].Filter.Years[0])
}

func TestEvidenceBundleClone_KeepsEmptyHits(t *testing.T) {
	c := (&EvidenceBundle{Hits: []SemanticHit{}}).Clone()
	assert.NotNil(t, c.Hits)
	assert.Nil(t, (&EvidenceBundle{}).Clone().Hits)
}

func TestAnswerClone_NoAliasing(t *testing.T) {
	a := &Answer{
		ID:      "a1",
		Summary: map[string]float64{"total": 10},
		Chart: &ChartSpec{Type: ChartLine, Series: []ChartSeries{
			{Name: "actuals", Points: []ChartPoint{{Label: "Jan", Value: 1}}},
		}},
		Evidence: []EvidenceRef{{Kind: EvidenceStructured, Source: TableActuals, ID: "*"}},
	}
	c := a.Clone()
	require.Equal(t, a, c)

	c.Summary["total"] = 0
	c.Chart.Series[0].Points[0].Value = 42
	c.Evidence[0].ID = "changed"

	assert.Equal(t, 10.0, a.Summary["total"])
	assert.Equal(t, 1.0, a.Chart.Series[0].Points[0].Value)
	assert.Equal(t, "*", a.Evidence[0].ID)
}

func TestBundleRowsAndRefs(t *testing.T) {
	b := &EvidenceBundle{Slices: []StructuredSlice{
		{Table: TableActuals, Rows: []Row{{Amount: 1}}},
		{Table: TableBudget, Rows: []Row{{Amount: 2}}},
		{Table: TableActuals, Filter: Filter{Years: []int{2023}}, Rows: []Row{{Amount: 3}}},
	}}
	assert.Len(t, b.Rows(TableActuals), 2)
	assert.Len(t, b.Rows(TableBudget), 1)
	assert.Len(t, b.SliceRefs(), 3)
	assert.Len(t, b.SliceRefs(TableBudget), 1)
}
