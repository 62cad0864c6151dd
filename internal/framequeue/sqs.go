// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package framequeue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type sqsQueue struct {
	client            *sqs.Client
	queueURL          string
	waitSeconds       int32
	visibilityTimeout int32
}

var _ Queue = (*sqsQueue)(nil)

func newSQSQueue(ctx context.Context, cfg Config) (*sqsQueue, error) {
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("sqs queue requires a queue url")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	waitSeconds := cfg.WaitSeconds
	if waitSeconds <= 0 {
		waitSeconds = 20
	}
	visibilityTimeout := cfg.VisibilityTimeout
	if visibilityTimeout <= 0 {
		visibilityTimeout = 60
	}

	return &sqsQueue{
		client:            sqs.NewFromConfig(awsCfg),
		queueURL:          cfg.QueueURL,
		waitSeconds:       waitSeconds,
		visibilityTimeout: visibilityTimeout,
	}, nil
}

func (q *sqsQueue) Send(ctx context.Context, msg Message) error {
	body, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("send sqs message: %w", err)
	}
	return nil
}

func (q *sqsQueue) Receive(ctx context.Context, max int32) ([]Delivery, error) {
	if max > 10 {
		max = 10 // SQS batch ceiling
	}
	result, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: max,
		WaitTimeSeconds:     q.waitSeconds,
		VisibilityTimeout:   q.visibilityTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("receive sqs messages: %w", err)
	}

	deliveries := make([]Delivery, 0, len(result.Messages))
	for _, m := range result.Messages {
		if m.Body == nil || m.ReceiptHandle == nil {
			continue
		}
		msg, err := DecodeMessage([]byte(*m.Body))
		if err != nil {
			// Malformed descriptors are acknowledged so they don't
			// redeliver forever; there is nothing to retry.
			_ = q.Delete(ctx, Delivery{receipt: *m.ReceiptHandle})
			continue
		}
		d := Delivery{Message: msg, receipt: *m.ReceiptHandle}
		if m.MessageId != nil {
			d.messageID = *m.MessageId
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, nil
}

func (q *sqsQueue) Delete(ctx context.Context, d Delivery) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(d.receipt),
	})
	if err != nil {
		return fmt.Errorf("delete sqs message: %w", err)
	}
	return nil
}
