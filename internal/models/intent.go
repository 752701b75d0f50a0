package models

import (
	"strings"
	"time"
)

// Intent is the analytic category of a financial question.
type Intent string

const (
	IntentDescriptive  Intent = "descriptive"
	IntentDiagnostic   Intent = "diagnostic"
	IntentPredictive   Intent = "predictive"
	IntentPrescriptive Intent = "prescriptive"
)

// Intents lists every intent in tie-break order.
var Intents = []Intent{
	IntentDescriptive,
	IntentDiagnostic,
	IntentPredictive,
	IntentPrescriptive,
}

// ParseIntent accepts an intent name in any casing. The empty string is
// reported as not ok.
func ParseIntent(s string) (Intent, bool) {
	candidate := Intent(strings.ToLower(strings.TrimSpace(s)))
	for _, i := range Intents {
		if i == candidate {
			return i, true
		}
	}
	return "", false
}

func (i Intent) Valid() bool {
	_, ok := ParseIntent(string(i))
	return ok
}

// Order is the position of the intent in Intents, or -1.
func (i Intent) Order() int {
	for idx, candidate := range Intents {
		if candidate == i {
			return idx
		}
	}
	return -1
}

// Query is a received question. It is not mutated after construction.
type Query struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	IntentOverride Intent    `json:"intentOverride,omitempty"`
	FiscalYear     int       `json:"fiscalYear"`
	ReceivedAt     time.Time `json:"receivedAt"`
}

func (q Query) HasOverride() bool {
	return q.IntentOverride != ""
}

// ClassificationResult is produced once per query by the router.
type ClassificationResult struct {
	Intent        Intent             `json:"intent"`
	Confidence    float64            `json:"confidence"`
	LowConfidence bool               `json:"lowConfidence"`
	Overridden    bool               `json:"overridden"`
	Scores        map[Intent]float64 `json:"scores,omitempty"`
	Metrics       []string           `json:"metrics,omitempty"`
	Comparison    string             `json:"comparison,omitempty"`
	Reasoning     string             `json:"reasoning,omitempty"`
	RawOutput     string             `json:"rawOutput,omitempty"`
	ClassifiedAt  time.Time          `json:"classifiedAt"`
}
