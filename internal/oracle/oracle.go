// Package oracle holds the classification oracle clients. The oracle names
// one of the four analytic intents for a piece of query text.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Output is what an oracle returned for one text. Intent is unvalidated;
// the router decides what to do with unknown labels.
type Output struct {
	Intent     string             `json:"intent"`
	Confidence float64            `json:"confidence"`
	Scores     map[string]float64 `json:"scores,omitempty"`
	Metrics    []string           `json:"metrics,omitempty"`
	Comparison string             `json:"comparison_type,omitempty"`
	Reasoning  string             `json:"reasoning,omitempty"`
	// Raw is the unparsed oracle response, kept for audit.
	Raw string `json:"-"`
}

type Oracle interface {
	Classify(ctx context.Context, text string) (*Output, error)
}

// wireOutput accepts both "intent" and the older "category" field name.
type wireOutput struct {
	Intent     string             `json:"intent"`
	Category   string             `json:"category"`
	Confidence *float64           `json:"confidence"`
	Scores     map[string]float64 `json:"scores"`
	Metrics    []string           `json:"metrics"`
	Comparison *string            `json:"comparison_type"`
	Reasoning  string             `json:"reasoning"`
}

// parseOutput decodes an oracle JSON document, tolerating a surrounding
// markdown code fence.
func parseOutput(raw string) (*Output, error) {
	body := stripCodeFence(raw)

	var w wireOutput
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return nil, fmt.Errorf("decode oracle output: %w", err)
	}

	out := &Output{
		Intent:    w.Intent,
		Scores:    w.Scores,
		Metrics:   w.Metrics,
		Reasoning: w.Reasoning,
		Raw:       raw,
	}
	if out.Intent == "" {
		out.Intent = w.Category
	}
	if w.Confidence != nil {
		out.Confidence = *w.Confidence
	}
	if w.Comparison != nil {
		out.Comparison = *w.Comparison
	}
	return out, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the language tag line, e.g. ```json
		s = s[nl+1:]
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}
