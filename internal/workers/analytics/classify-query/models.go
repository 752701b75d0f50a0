// internal/workers/analytics/classify-query/models.go
package classifyquery

type Input struct {
	Query  string `json:"query"`
	Intent string `json:"intent,omitempty"`
}

type Output struct {
	Classification Classification `json:"classification"`
}

type Classification struct {
	Intent        string             `json:"intent"`
	Confidence    float64            `json:"confidence"`
	LowConfidence bool               `json:"lowConfidence"`
	Overridden    bool               `json:"overridden"`
	Scores        map[string]float64 `json:"scores,omitempty"`
	Metrics       []string           `json:"metrics,omitempty"`
	Comparison    string             `json:"comparison,omitempty"`
	Reasoning     string             `json:"reasoning,omitempty"`
}

const inputSchema = `{
  "type": "object",
  "required": ["query"],
  "properties": {
    "query":  {"type": "string", "minLength": 1},
    "intent": {"type": "string"}
  }
}`
