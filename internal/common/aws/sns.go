// internal/common/aws/sns.go
package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"fin-analytics/internal/common/errors"
)

// SNSAPI is the subset of the SNS client used here.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSClient struct {
	client   SNSAPI
	topicARN string
}

func NewSNSClient(ctx context.Context, region, topicARN string) (*SNSClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return &SNSClient{client: sns.NewFromConfig(cfg), topicARN: topicARN}, nil
}

// NewSNSClientWithAPI is used by tests to inject a fake SNS API.
func NewSNSClientWithAPI(api SNSAPI, topicARN string) *SNSClient {
	return &SNSClient{client: api, topicARN: topicARN}
}

// DataVersionChanged is published whenever the structured data version moves.
type DataVersionChanged struct {
	Previous  string    `json:"previous"`
	Current   string    `json:"current"`
	Purged    int       `json:"purged"`
	ChangedAt time.Time `json:"changedAt"`
}

// PublishVersionChange announces a data version change on the configured topic.
func (s *SNSClient) PublishVersionChange(ctx context.Context, event DataVersionChanged) (string, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return "", errors.NewNotificationPublishFailedError(err)
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String("data-version-changed"),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event": {
				DataType:    aws.String("String"),
				StringValue: aws.String("data-version-changed"),
			},
		},
	})
	if err != nil {
		return "", errors.NewNotificationPublishFailedError(fmt.Errorf("publish to %s: %w", s.topicARN, err))
	}
	return aws.ToString(out.MessageId), nil
}
