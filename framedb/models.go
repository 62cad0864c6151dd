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

package framedb

import (
	"time"

	"github.com/google/uuid"
)

// Execution states for a frame job. Terminal states are never updated again.
const (
	ExecStateQueued    = "queued"
	ExecStateAnalyzing = "analyzing"
	ExecStateStoring   = "storing"
	ExecStateCompleted = "completed"
	ExecStateFailed    = "failed"
)

// UnclaimedWorker is the claimed_by value of an execution no worker owns.
const UnclaimedWorker int64 = -1

// Session is one logical capture session.
type Session struct {
	ID        uuid.UUID
	Name      string
	Completed bool
	CreatedAt time.Time
}

// FrameJob is one captured frame awaiting or undergoing analysis. Rows are
// immutable after insert.
type FrameJob struct {
	ID                uuid.UUID
	SessionID         uuid.UUID
	FrameURI          string
	CapturedAtSeconds float64
	CorrelationID     *string
	CreatedAt         time.Time
}

// AnalysisItem is one candidate entity detected in a frame.
type AnalysisItem struct {
	ID             uuid.UUID
	FrameJobID     uuid.UUID
	Seq            int32
	Caption        string
	Description    *string
	Category       *string
	EstimatedValue *float64
	Confidence     float64
	Bounds         []byte
	CreatedAt      time.Time
}

// AnalysisItemParams is the insertable portion of an analysis item. Identity
// is (frame_job_id, seq), which is what makes writes repeatable.
type AnalysisItemParams struct {
	Seq            int32
	Caption        string
	Description    *string
	Category       *string
	EstimatedValue *float64
	Confidence     float64
	Bounds         []byte
}

// FrameExecution is the durable execution record for one frame job.
// ResultPayload holds the output of the last completed activity so a worker
// resuming after a crash replays from recorded state instead of re-running
// the activity.
type FrameExecution struct {
	ID            int64
	FrameJobID    uuid.UUID
	State         string
	Attempts      int32
	LastError     *string
	ClaimedBy     int64
	ResultPayload []byte
	HeartbeatedAt time.Time
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SessionStats summarizes execution progress for one session.
type SessionStats struct {
	Pending   int64
	Analyzing int64
	Storing   int64
	Completed int64
	Failed    int64
}
