// Package visualizer hands declarative chart specs to the external chart
// renderer and returns the rendered artifact reference.
package visualizer

import (
	"context"
	stderrors "errors"
	"strings"

	"fin-analytics/internal/common/errors"
	apphttp "fin-analytics/internal/common/http"
	"fin-analytics/internal/common/validation"
	"fin-analytics/internal/models"
)

const renderPath = "/api/charts/render"

var errNoArtifact = stderrors.New("renderer returned no artifact reference")

const chartSchemaJSON = `{
  "type": "object",
  "required": ["type", "title", "series"],
  "properties": {
    "type": {"type": "string", "enum": ["line", "bar", "waterfall"]},
    "title": {"type": "string", "minLength": 1},
    "xLabel": {"type": "string"},
    "yLabel": {"type": "string"},
    "sourceRows": {"type": "integer", "minimum": 0},
    "series": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "points"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "points": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["label", "value"],
              "properties": {
                "label": {"type": "string", "minLength": 1},
                "value": {"type": "number"}
              }
            }
          }
        }
      }
    }
  }
}`

var chartSchema = validation.MustCompile("chart-spec", chartSchemaJSON)

// Renderer turns a chart spec into an artifact reference.
type Renderer interface {
	Render(ctx context.Context, spec models.ChartSpec) (string, error)
}

// Validate checks spec against the chart schema accepted by the renderer.
func Validate(spec models.ChartSpec) error {
	result, err := chartSchema.Validate(spec)
	if err != nil {
		return errors.NewChartValidationFailedError(err.Error())
	}
	if !result.Valid {
		return errors.NewChartValidationFailedError(result.Summary())
	}
	return nil
}

type Client struct {
	baseURL string
	client  *apphttp.Client
}

func NewClient(baseURL string, client *apphttp.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (c *Client) Render(ctx context.Context, spec models.ChartSpec) (string, error) {
	if err := Validate(spec); err != nil {
		return "", err
	}

	var resp struct {
		ArtifactID string `json:"artifactId"`
		URL        string `json:"url"`
	}
	if err := c.client.PostJSON(ctx, c.baseURL+renderPath, spec, &resp); err != nil {
		return "", errors.NewVisualizerUnavailableError(err)
	}
	switch {
	case resp.URL != "":
		return resp.URL, nil
	case resp.ArtifactID != "":
		return resp.ArtifactID, nil
	}
	return "", errors.NewVisualizerUnavailableError(errNoArtifact)
}
