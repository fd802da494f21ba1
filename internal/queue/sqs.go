package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fanforge/fanforge/orchestration/internal/config"
)

// sqsAPI is the slice of the SQS client the queue actually uses.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSQueue delivers outbound messages through an SQS FIFO queue.
type SQSQueue struct {
	client   sqsAPI
	queueURL string
}

// NewSQSQueue builds a queue client from the ambient AWS credential chain.
// An endpoint override points the client at a local emulator.
func NewSQSQueue(ctx context.Context, cfg config.QueueConfig) (*SQSQueue, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.EndpointOverride != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointOverride)
		}
	})
	return &SQSQueue{client: client, queueURL: cfg.QueueURL}, nil
}

// newSQSQueueWithClient is the test seam.
func newSQSQueueWithClient(client sqsAPI, queueURL string) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL}
}

// envelope is the wire form of one queued message.
type envelope struct {
	MessageID   string                 `json:"message_id"`
	WorkflowID  string                 `json:"workflow_id"`
	UserID      string                 `json:"user_id"`
	RecipientID string                 `json:"recipient_id"`
	Content     string                 `json:"content"`
	Trace       map[string]interface{} `json:"trace_context,omitempty"`
}

func (q *SQSQueue) Enqueue(ctx context.Context, msg OutboundMessage) (*EnqueueResult, error) {
	messageID := uuid.New().String()
	dedupID := newDedupID()

	env := envelope{
		MessageID:   messageID,
		WorkflowID:  msg.WorkflowID,
		UserID:      msg.UserID,
		RecipientID: msg.RecipientID,
		Content:     msg.Content,
	}
	if msg.Trace != nil {
		env.Trace = map[string]interface{}{
			"trace_id":       msg.Trace.TraceID,
			"span_id":        msg.Trace.SpanID,
			"parent_span_id": msg.Trace.ParentSpanID,
		}
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, &DeliveryQueueError{MessageID: messageID, Err: err}
	}

	out, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:               aws.String(q.queueURL),
		MessageBody:            aws.String(string(body)),
		MessageGroupId:         aws.String(msg.UserID),
		MessageDeduplicationId: aws.String(dedupID),
		DelaySeconds:           ComplianceDelaySeconds,
	})
	if err != nil {
		log.Warn().Err(err).
			Str("message_id", messageID).
			Str("workflow_id", msg.WorkflowID).
			Msg("sqs send failed")
		return nil, &DeliveryQueueError{MessageID: messageID, Err: err}
	}

	return &EnqueueResult{
		MessageID:    messageID,
		SQSMessageID: aws.ToString(out.MessageId),
		GroupKey:     msg.UserID,
		DedupID:      dedupID,
		DelaySeconds: ComplianceDelaySeconds,
	}, nil
}

// Ping verifies the queue exists and is reachable.
func (q *SQSQueue) Ping(ctx context.Context) error {
	_, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(q.queueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	return err
}
