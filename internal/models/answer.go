package models

import "time"

type EvidenceKind string

const (
	EvidenceSemantic   EvidenceKind = "semantic"
	EvidenceStructured EvidenceKind = "structured"
)

// EvidenceRef points back into an EvidenceBundle without copying it.
type EvidenceRef struct {
	Kind   EvidenceKind `json:"kind"`
	Source string       `json:"source"`
	ID     string       `json:"id"`
}

// HitRef references a semantic hit.
func HitRef(h SemanticHit) EvidenceRef {
	return EvidenceRef{Kind: EvidenceSemantic, Source: string(h.Collection), ID: h.EntityID}
}

type ChartType string

const (
	ChartLine      ChartType = "line"
	ChartBar       ChartType = "bar"
	ChartWaterfall ChartType = "waterfall"
)

type ChartPoint struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

type ChartSeries struct {
	Name   string       `json:"name"`
	Points []ChartPoint `json:"points"`
}

// ChartSpec is a declarative chart description handed to the visualizer.
type ChartSpec struct {
	Type   ChartType     `json:"type"`
	Title  string        `json:"title"`
	XLabel string        `json:"xLabel,omitempty"`
	YLabel string        `json:"yLabel,omitempty"`
	Series []ChartSeries `json:"series"`
	// SourceRows is the number of structured rows the series were built from.
	SourceRows int `json:"sourceRows"`
}

// Driver is one contributor to a variance.
type Driver struct {
	Dimension   string        `json:"dimension"`
	Key         string        `json:"key"`
	Label       string        `json:"label,omitempty"`
	Actual      float64       `json:"actual"`
	Baseline    float64       `json:"baseline"`
	Variance    float64       `json:"variance"`
	VariancePct float64       `json:"variancePct"`
	Evidence    []EvidenceRef `json:"evidence,omitempty"`
}

type Projection struct {
	Year       int     `json:"year"`
	Period     string  `json:"period"`
	Value      float64 `json:"value"`
	Confidence float64 `json:"confidence"`
}

type Recommendation struct {
	Category  string        `json:"category"`
	Priority  string        `json:"priority"`
	Action    string        `json:"action"`
	Rationale string        `json:"rationale"`
	Generic   bool          `json:"generic"`
	Evidence  []EvidenceRef `json:"evidence,omitempty"`
}

// Answer is the result of handling one query.
type Answer struct {
	ID               string               `json:"id"`
	QueryID          string               `json:"queryId"`
	BundleID         string               `json:"bundleId"`
	Intent           Intent               `json:"intent"`
	Narrative        string               `json:"narrative"`
	Chart            *ChartSpec           `json:"chart,omitempty"`
	ChartRef         string               `json:"chartRef,omitempty"`
	Classification   ClassificationResult `json:"classification"`
	Confidence       float64              `json:"confidence"`
	LowConfidence    bool                 `json:"lowConfidence"`
	InsufficientData bool                 `json:"insufficientData"`
	Degraded         bool                 `json:"degraded"`
	Cached           bool                 `json:"cached"`
	Summary          map[string]float64   `json:"summary,omitempty"`
	Drivers          []Driver             `json:"drivers,omitempty"`
	Projections      []Projection         `json:"projections,omitempty"`
	Recommendations  []Recommendation     `json:"recommendations,omitempty"`
	Evidence         []EvidenceRef        `json:"evidence"`
	GeneratedAt      time.Time            `json:"generatedAt"`

	// ExcludedPeriodRows counts evidence rows left out of the period series
	// because their period name was not recognized or did not match the
	// series calendar.
	ExcludedPeriodRows int `json:"excludedPeriodRows,omitempty"`
}

// Clone copies the answer deeply enough that cached copies never share
// slices or maps with the caller.
func (a *Answer) Clone() *Answer {
	if a == nil {
		return nil
	}
	out := *a
	if a.Chart != nil {
		chart := *a.Chart
		chart.Series = make([]ChartSeries, len(a.Chart.Series))
		for i, s := range a.Chart.Series {
			s.Points = append([]ChartPoint(nil), s.Points...)
			chart.Series[i] = s
		}
		out.Chart = &chart
	}
	if a.Summary != nil {
		out.Summary = make(map[string]float64, len(a.Summary))
		for k, v := range a.Summary {
			out.Summary[k] = v
		}
	}
	if a.Classification.Scores != nil {
		out.Classification.Scores = make(map[Intent]float64, len(a.Classification.Scores))
		for k, v := range a.Classification.Scores {
			out.Classification.Scores[k] = v
		}
	}
	out.Classification.Metrics = append([]string(nil), a.Classification.Metrics...)
	out.Drivers = nil
	for _, d := range a.Drivers {
		d.Evidence = append([]EvidenceRef(nil), d.Evidence...)
		out.Drivers = append(out.Drivers, d)
	}
	out.Projections = append([]Projection(nil), a.Projections...)
	out.Recommendations = nil
	for _, r := range a.Recommendations {
		r.Evidence = append([]EvidenceRef(nil), r.Evidence...)
		out.Recommendations = append(out.Recommendations, r)
	}
	out.Evidence = append([]EvidenceRef(nil), a.Evidence...)
	return &out
}

// CacheEntry holds a bundle and optionally the answer generated from it.
type CacheEntry struct {
	Fingerprint string          `json:"fingerprint"`
	Bundle      *EvidenceBundle `json:"bundle"`
	Answer      *Answer         `json:"answer,omitempty"`
	DataVersion string          `json:"dataVersion"`
	CreatedAt   time.Time       `json:"createdAt"`
	ExpiresAt   time.Time       `json:"expiresAt"`
}

func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

func (e *CacheEntry) Clone() *CacheEntry {
	if e == nil {
		return nil
	}
	out := *e
	out.Bundle = e.Bundle.Clone()
	out.Answer = e.Answer.Clone()
	return &out
}
