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
	"encoding/base64"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
)

type azureQueue struct {
	client            *azqueue.QueueClient
	visibilityTimeout int32
}

var _ Queue = (*azureQueue)(nil)

func newAzureQueue(cfg Config) (*azureQueue, error) {
	if cfg.StorageAccount == "" || cfg.QueueName == "" {
		return nil, fmt.Errorf("azure queue requires a storage account and queue name")
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	queueURL := fmt.Sprintf("https://%s.queue.core.windows.net/%s", cfg.StorageAccount, cfg.QueueName)
	client, err := azqueue.NewQueueClient(queueURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure queue client: %w", err)
	}

	visibilityTimeout := cfg.VisibilityTimeout
	if visibilityTimeout <= 0 {
		visibilityTimeout = 60
	}
	return &azureQueue{client: client, visibilityTimeout: visibilityTimeout}, nil
}

func (q *azureQueue) Send(ctx context.Context, msg Message) error {
	body, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueMessage(ctx, string(body), nil)
	if err != nil {
		return fmt.Errorf("enqueue azure message: %w", err)
	}
	return nil
}

func (q *azureQueue) Receive(ctx context.Context, max int32) ([]Delivery, error) {
	if max > 32 {
		max = 32 // Azure dequeue ceiling
	}
	result, err := q.client.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  &max,
		VisibilityTimeout: &q.visibilityTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("dequeue azure messages: %w", err)
	}

	deliveries := make([]Delivery, 0, len(result.Messages))
	for _, m := range result.Messages {
		if m.MessageText == nil || m.MessageID == nil || m.PopReceipt == nil {
			continue
		}
		msg, err := DecodeMessage(decodeIfBase64(*m.MessageText))
		if err != nil {
			_ = q.Delete(ctx, Delivery{messageID: *m.MessageID, receipt: *m.PopReceipt})
			continue
		}
		deliveries = append(deliveries, Delivery{
			Message:   msg,
			messageID: *m.MessageID,
			receipt:   *m.PopReceipt,
		})
	}
	return deliveries, nil
}

func (q *azureQueue) Delete(ctx context.Context, d Delivery) error {
	_, err := q.client.DeleteMessage(ctx, d.messageID, d.receipt, nil)
	if err != nil {
		return fmt.Errorf("delete azure message: %w", err)
	}
	return nil
}

// decodeIfBase64 tolerates queue producers that base64-wrap message text,
// which the Azure portal and some SDKs do by default.
func decodeIfBase64(text string) []byte {
	if decoded, err := base64.StdEncoding.DecodeString(text); err == nil && len(decoded) > 0 && decoded[0] == '{' {
		return decoded
	}
	return []byte(text)
}
