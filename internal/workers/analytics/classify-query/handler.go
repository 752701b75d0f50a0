package classifyquery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"fin-analytics/internal/common/errors"
	"fin-analytics/internal/common/logger"
	"fin-analytics/internal/common/metrics"
	"fin-analytics/internal/common/validation"
	"fin-analytics/internal/models"
)

const (
	TaskType = "classify-financial-query"
)

var schema = validation.MustCompile(TaskType, inputSchema)

type Classifier interface {
	Classify(ctx context.Context, text, explicitIntent string) (*models.ClassificationResult, error)
}

type Handler struct {
	config       *Config
	classifier   Classifier
	logger       logger.Logger
	errorHandler *errors.ErrorHandler
}

func NewHandler(config *Config, classifier Classifier, log logger.Logger) *Handler {
	log = log.With(map[string]interface{}{
		"taskType": TaskType,
	})
	return &Handler{
		config:       config,
		classifier:   classifier,
		logger:       log,
		errorHandler: errors.NewErrorHandler(log),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	defer func() {
		metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	}()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	var input Input
	result, err := schema.Validate(job.Variables)
	switch {
	case err != nil:
		h.fail(client, job, errors.NewInvalidJobInputError(err.Error()))
		return
	case !result.Valid:
		h.fail(client, job, errors.NewInvalidJobInputError(result.Summary()))
		return
	}
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.fail(client, job, errors.NewInvalidJobInputError(fmt.Sprintf("parse input: %v", err)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.fail(client, job, err)
		return
	}

	cmd, err := client.NewCompleteJobCommand().JobKey(job.Key).VariablesFromObject(output)
	if err == nil {
		_, err = cmd.Send(context.Background())
	}
	if err != nil {
		h.logger.Error("failed to complete job", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	c, err := h.classifier.Classify(ctx, input.Query, input.Intent)
	if err != nil {
		return nil, err
	}

	scores := make(map[string]float64, len(c.Scores))
	for intent, score := range c.Scores {
		scores[string(intent)] = score
	}

	h.logger.Info("query classified", map[string]interface{}{
		"intent":        string(c.Intent),
		"confidence":    c.Confidence,
		"lowConfidence": c.LowConfidence,
	})

	return &Output{Classification: Classification{
		Intent:        string(c.Intent),
		Confidence:    c.Confidence,
		LowConfidence: c.LowConfidence,
		Overridden:    c.Overridden,
		Scores:        scores,
		Metrics:       c.Metrics,
		Comparison:    c.Comparison,
		Reasoning:     c.Reasoning,
	}}, nil
}

func (h *Handler) fail(client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.AsStandard(err).Code)).Inc()
	h.errorHandler.HandleJobError(context.Background(), client, job, err)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
