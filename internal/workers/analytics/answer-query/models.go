// internal/workers/analytics/answer-query/models.go
package answerquery

import "fin-analytics/internal/models"

type Input struct {
	Query  string `json:"query"`
	Intent string `json:"intent,omitempty"`
}

// Output is flattened so gateways in the process model can branch on it
// without unpacking the answer.
type Output struct {
	AnswerID         string         `json:"answerId"`
	Intent           string         `json:"intent"`
	Narrative        string         `json:"narrative"`
	Confidence       float64        `json:"confidence"`
	LowConfidence    bool           `json:"lowConfidence"`
	InsufficientData bool           `json:"insufficientData"`
	Degraded         bool           `json:"degraded"`
	Cached           bool           `json:"cached"`
	ChartRef         string         `json:"chartRef,omitempty"`
	Answer           *models.Answer `json:"answer"`
}

const inputSchema = `{
  "type": "object",
  "required": ["query"],
  "properties": {
    "query":  {"type": "string", "minLength": 1},
    "intent": {"type": "string"}
  }
}`
