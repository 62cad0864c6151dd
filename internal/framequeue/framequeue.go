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

// Package framequeue decouples frame ingestion from analysis. Delivery is
// at-least-once and unordered; consumers treat a delivery as a trigger, not
// as proof the frame was never processed.
package framequeue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is the lightweight frame descriptor carried on the queue. Raw
// frame bytes never ride the queue; FrameURI points at object storage.
type Message struct {
	SessionID     uuid.UUID `json:"sessionId"`
	FrameURI      string    `json:"frameUri"`
	CapturedAt    time.Time `json:"capturedAt"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// Delivery is one received message plus the backend receipt needed to
// acknowledge it.
type Delivery struct {
	Message   Message
	messageID string
	receipt   string
}

// ID returns the backend message id, for logging.
func (d Delivery) ID() string {
	return d.messageID
}

// Queue sends and receives frame descriptors.
type Queue interface {
	// Send enqueues one descriptor durably.
	Send(ctx context.Context, msg Message) error

	// Receive long-polls for up to max deliveries. An empty slice with a
	// nil error means the poll timed out with nothing to do.
	Receive(ctx context.Context, max int32) ([]Delivery, error)

	// Delete acknowledges a delivery. Unacknowledged deliveries become
	// visible again after the backend visibility timeout.
	Delete(ctx context.Context, d Delivery) error
}

// Config selects and parameterizes a queue backend.
type Config struct {
	Backend           string `mapstructure:"backend"` // sqs, azure, or memory
	QueueURL          string `mapstructure:"queue_url"`
	Region            string `mapstructure:"region"`
	StorageAccount    string `mapstructure:"storage_account"`
	QueueName         string `mapstructure:"queue_name"`
	VisibilityTimeout int32  `mapstructure:"visibility_timeout"`
	WaitSeconds       int32  `mapstructure:"wait_seconds"`
}

// NewQueue creates a queue for the configured backend.
func NewQueue(ctx context.Context, cfg Config) (Queue, error) {
	switch cfg.Backend {
	case "sqs", "":
		return newSQSQueue(ctx, cfg)
	case "azure":
		return newAzureQueue(cfg)
	case "memory":
		return NewMemoryQueue(time.Duration(cfg.VisibilityTimeout) * time.Second), nil
	default:
		return nil, fmt.Errorf("unsupported queue backend: %s", cfg.Backend)
	}
}

// EncodeMessage renders the JSON wire form of a descriptor.
func EncodeMessage(msg Message) ([]byte, error) {
	if msg.SessionID == uuid.Nil {
		return nil, fmt.Errorf("frame descriptor missing session id")
	}
	if msg.FrameURI == "" {
		return nil, fmt.Errorf("frame descriptor missing frame uri")
	}
	return json.Marshal(msg)
}

// DecodeMessage parses the JSON wire form of a descriptor.
func DecodeMessage(body []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("malformed frame descriptor: %w", err)
	}
	if msg.SessionID == uuid.Nil {
		return Message{}, fmt.Errorf("frame descriptor missing session id")
	}
	if msg.FrameURI == "" {
		return Message{}, fmt.Errorf("frame descriptor missing frame uri")
	}
	return msg, nil
}
