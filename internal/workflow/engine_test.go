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

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/framepipe/framedb"
)

type fakeExecStore struct {
	mu    sync.Mutex
	execs map[int64]*framedb.FrameExecution
	next  int64
}

func newFakeExecStore() *fakeExecStore {
	return &fakeExecStore{execs: map[int64]*framedb.FrameExecution{}}
}

func (f *fakeExecStore) add(exec framedb.FrameExecution) framedb.FrameExecution {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	exec.ID = f.next
	if exec.State == "" {
		exec.State = framedb.ExecStateQueued
	}
	f.execs[exec.ID] = &exec
	return exec
}

func (f *fakeExecStore) get(id int64) framedb.FrameExecution {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.execs[id]
}

// setNextAttempt rewinds an execution's wake-up time so tests can reclaim
// it without waiting out the backoff.
func (f *fakeExecStore) setNextAttempt(id int64, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs[id].NextAttemptAt = at
}

func (f *fakeExecStore) StartExecution(_ context.Context, frameJobID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.execs {
		if e.FrameJobID == frameJobID {
			return false, nil
		}
	}
	f.next++
	f.execs[f.next] = &framedb.FrameExecution{
		ID:         f.next,
		FrameJobID: frameJobID,
		State:      framedb.ExecStateQueued,
		ClaimedBy:  framedb.UnclaimedWorker,
	}
	return true, nil
}

func (f *fakeExecStore) ClaimExecutions(_ context.Context, params framedb.ClaimExecutionsParams) ([]framedb.FrameExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var claimed []framedb.FrameExecution
	for _, e := range f.execs {
		if int32(len(claimed)) >= params.Limit {
			break
		}
		switch e.State {
		case framedb.ExecStateCompleted, framedb.ExecStateFailed:
			continue
		}
		if e.ClaimedBy != framedb.UnclaimedWorker || e.NextAttemptAt.After(time.Now()) {
			continue
		}
		e.ClaimedBy = params.WorkerID
		claimed = append(claimed, *e)
	}
	return claimed, nil
}

func (f *fakeExecStore) HeartbeatExecutions(_ context.Context, _ int64, _ []int64) error {
	return nil
}

func (f *fakeExecStore) AdvanceExecution(_ context.Context, id, workerID int64, fromState, toState string, resultPayload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.execs[id]
	if e == nil || e.ClaimedBy != workerID || e.State != fromState {
		return framedb.ErrClaimLost
	}
	e.State = toState
	e.Attempts = 0
	if resultPayload != nil {
		e.ResultPayload = resultPayload
	}
	return nil
}

func (f *fakeExecStore) RetryExecution(_ context.Context, id, workerID int64, lastError string, nextAttemptAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.execs[id]
	if e == nil || e.ClaimedBy != workerID {
		return framedb.ErrClaimLost
	}
	e.Attempts++
	e.LastError = &lastError
	e.ClaimedBy = framedb.UnclaimedWorker
	e.NextAttemptAt = nextAttemptAt
	return nil
}

func (f *fakeExecStore) CompleteExecution(_ context.Context, id, workerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.execs[id]
	if e == nil || e.ClaimedBy != workerID {
		return framedb.ErrClaimLost
	}
	e.State = framedb.ExecStateCompleted
	e.ClaimedBy = framedb.UnclaimedWorker
	return nil
}

func (f *fakeExecStore) FailExecution(_ context.Context, id, workerID int64, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.execs[id]
	if e == nil || e.ClaimedBy != workerID {
		return framedb.ErrClaimLost
	}
	e.State = framedb.ExecStateFailed
	e.Attempts++
	e.LastError = &lastError
	e.ClaimedBy = framedb.UnclaimedWorker
	return nil
}

func (f *fakeExecStore) ReleaseExecution(_ context.Context, id, workerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.execs[id]
	if e != nil && e.ClaimedBy == workerID {
		e.ClaimedBy = framedb.UnclaimedWorker
	}
	return nil
}

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]framedb.FrameJob
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: map[uuid.UUID]framedb.FrameJob{}}
}

func (f *fakeJobStore) add(job framedb.FrameJob) framedb.FrameJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	f.jobs[job.ID] = job
	return job
}

func (f *fakeJobStore) GetFrameJob(_ context.Context, id uuid.UUID) (framedb.FrameJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return framedb.FrameJob{}, framedb.ErrNotFound
	}
	return job, nil
}

func (f *fakeJobStore) FrameJobByURI(_ context.Context, sessionID uuid.UUID, frameURI string) (framedb.FrameJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.SessionID == sessionID && job.FrameURI == frameURI {
			return job, nil
		}
	}
	return framedb.FrameJob{}, framedb.ErrNotFound
}

type fakeAnalyzer struct {
	mu    sync.Mutex
	calls int
	items []ItemCandidate
	errs  []error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ string) ([]ItemCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.calls
	f.calls++
	if call < len(f.errs) && f.errs[call] != nil {
		return nil, f.errs[call]
	}
	return f.items, nil
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePersister struct {
	mu     sync.Mutex
	stored map[uuid.UUID][]ItemCandidate
	err    error
}

func newFakePersister() *fakePersister {
	return &fakePersister{stored: map[uuid.UUID][]ItemCandidate{}}
}

func (f *fakePersister) StoreAll(_ context.Context, frameJobID uuid.UUID, items []ItemCandidate) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.stored[frameJobID] = items
	ids := make([]uuid.UUID, len(items))
	for i := range ids {
		ids[i] = uuid.New()
	}
	return ids, nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	completed []uuid.UUID
}

func (f *fakeNotifier) NotifyCompleted(_ context.Context, _, frameJobID uuid.UUID, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, frameJobID)
}

func (f *fakeNotifier) notified() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.completed...)
}

func testEngine(execs ExecutionStore, jobs JobStore, an Analyzer, p Persister, n Notifier, cfg Config) *Engine {
	if cfg.WorkerID == 0 {
		cfg.WorkerID = 42
	}
	return NewEngine(execs, jobs, an, p, n, cfg)
}

func TestRunExecutionHappyPath(t *testing.T) {
	execs := newFakeExecStore()
	jobs := newFakeJobStore()
	job := jobs.add(framedb.FrameJob{SessionID: uuid.New(), FrameURI: "s3://frames/a.jpg"})
	exec := execs.add(framedb.FrameExecution{FrameJobID: job.ID, ClaimedBy: 42})

	items := []ItemCandidate{
		{Caption: "leather armchair", Confidence: 0.93},
		{Caption: "floor lamp", Confidence: 0.71},
	}
	analyzer := &fakeAnalyzer{items: items}
	persister := newFakePersister()
	notifier := &fakeNotifier{}

	e := testEngine(execs, jobs, analyzer, persister, notifier, Config{})
	e.runExecution(context.Background(), exec)

	final := execs.get(exec.ID)
	assert.Equal(t, framedb.ExecStateCompleted, final.State)
	assert.Equal(t, items, persister.stored[job.ID])
	assert.Equal(t, []uuid.UUID{job.ID}, notifier.notified())

	var recorded []ItemCandidate
	require.NoError(t, json.Unmarshal(final.ResultPayload, &recorded))
	assert.Equal(t, items, recorded)
}

func TestRunExecutionRetryableAnalyzeSchedulesRetry(t *testing.T) {
	execs := newFakeExecStore()
	jobs := newFakeJobStore()
	job := jobs.add(framedb.FrameJob{SessionID: uuid.New(), FrameURI: "s3://frames/a.jpg"})
	exec := execs.add(framedb.FrameExecution{FrameJobID: job.ID, ClaimedBy: 42})

	analyzer := &fakeAnalyzer{errs: []error{errors.New("model endpoint unavailable")}}
	e := testEngine(execs, jobs, analyzer, newFakePersister(), nil, Config{})
	e.runExecution(context.Background(), exec)

	final := execs.get(exec.ID)
	assert.Equal(t, framedb.ExecStateAnalyzing, final.State)
	assert.Equal(t, int32(1), final.Attempts)
	assert.Equal(t, framedb.UnclaimedWorker, final.ClaimedBy)
	assert.True(t, final.NextAttemptAt.After(time.Now()), "retry must be scheduled in the future")
	require.NotNil(t, final.LastError)
	assert.Contains(t, *final.LastError, "model endpoint unavailable")
}

func TestRunExecutionRetryableFailuresThenCompletes(t *testing.T) {
	execs := newFakeExecStore()
	jobs := newFakeJobStore()
	job := jobs.add(framedb.FrameJob{SessionID: uuid.New(), FrameURI: "s3://frames/a.jpg"})

	created, err := execs.StartExecution(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, created)

	analyzer := &fakeAnalyzer{
		errs:  []error{errors.New("model timeout"), errors.New("model timeout")},
		items: []ItemCandidate{{Caption: "vase", Confidence: 0.9}},
	}
	notifier := &fakeNotifier{}
	persister := newFakePersister()
	e := testEngine(execs, jobs, analyzer, persister, notifier, Config{})

	// Claim and run until the execution completes, recording each scheduled
	// backoff along the way. Two retryable failures then a success means
	// three claim rounds.
	var execID int64
	var delays []time.Duration
	for range 3 {
		claimed, err := execs.ClaimExecutions(context.Background(), framedb.ClaimExecutionsParams{WorkerID: 42, Limit: 1})
		require.NoError(t, err)
		require.Len(t, claimed, 1, "execution must stay claimable between retries")
		execID = claimed[0].ID

		before := time.Now()
		e.runExecution(context.Background(), claimed[0])

		final := execs.get(execID)
		if final.State == framedb.ExecStateCompleted {
			break
		}
		delays = append(delays, final.NextAttemptAt.Sub(before))
		execs.setNextAttempt(execID, time.Now().Add(-time.Second))
	}

	assert.Equal(t, 3, analyzer.callCount(), "two failed invocations plus the success")
	assert.Equal(t, framedb.ExecStateCompleted, execs.get(execID).State)
	assert.Equal(t, []uuid.UUID{job.ID}, notifier.notified())
	assert.Len(t, persister.stored[job.ID], 1)

	// Backoff schedule: 10s after the first failure, 20s after the second.
	require.Len(t, delays, 2)
	assert.InDelta(t, (10 * time.Second).Seconds(), delays[0].Seconds(), 1)
	assert.InDelta(t, (20 * time.Second).Seconds(), delays[1].Seconds(), 1)
}

func TestRunExecutionTerminalAnalyzeFails(t *testing.T) {
	execs := newFakeExecStore()
	jobs := newFakeJobStore()
	job := jobs.add(framedb.FrameJob{SessionID: uuid.New(), FrameURI: "s3://frames/a.jpg"})
	exec := execs.add(framedb.FrameExecution{FrameJobID: job.ID, ClaimedBy: 42})

	analyzer := &fakeAnalyzer{errs: []error{Terminal(errors.New("frame is not a decodable image"))}}
	notifier := &fakeNotifier{}
	e := testEngine(execs, jobs, analyzer, newFakePersister(), notifier, Config{})
	e.runExecution(context.Background(), exec)

	final := execs.get(exec.ID)
	assert.Equal(t, framedb.ExecStateFailed, final.State)
	assert.Empty(t, notifier.notified(), "failed executions must not notify")
}

func TestRunExecutionExhaustedRetriesFails(t *testing.T) {
	execs := newFakeExecStore()
	jobs := newFakeJobStore()
	job := jobs.add(framedb.FrameJob{SessionID: uuid.New(), FrameURI: "s3://frames/a.jpg"})
	exec := execs.add(framedb.FrameExecution{
		FrameJobID: job.ID,
		State:      framedb.ExecStateAnalyzing,
		Attempts:   2,
		ClaimedBy:  42,
	})

	analyzer := &fakeAnalyzer{errs: []error{errors.New("still flaking")}}
	e := testEngine(execs, jobs, analyzer, newFakePersister(), nil, Config{MaxAttempts: 3})
	e.runExecution(context.Background(), exec)

	final := execs.get(exec.ID)
	assert.Equal(t, framedb.ExecStateFailed, final.State)
	require.NotNil(t, final.LastError)
	assert.Contains(t, *final.LastError, "retries exhausted")
}

func TestRunExecutionReplayFromStoringSkipsAnalyze(t *testing.T) {
	execs := newFakeExecStore()
	jobs := newFakeJobStore()
	job := jobs.add(framedb.FrameJob{SessionID: uuid.New(), FrameURI: "s3://frames/a.jpg"})

	items := []ItemCandidate{{Caption: "oil painting", Confidence: 0.88}}
	payload, err := json.Marshal(items)
	require.NoError(t, err)

	// Simulate a reclaim after a crash between the analyze and store steps.
	exec := execs.add(framedb.FrameExecution{
		FrameJobID:    job.ID,
		State:         framedb.ExecStateStoring,
		ResultPayload: payload,
		ClaimedBy:     42,
	})

	analyzer := &fakeAnalyzer{}
	persister := newFakePersister()
	e := testEngine(execs, jobs, analyzer, persister, nil, Config{})
	e.runExecution(context.Background(), exec)

	assert.Equal(t, 0, analyzer.callCount(), "recorded result must not be recomputed")
	assert.Equal(t, items, persister.stored[job.ID])
	assert.Equal(t, framedb.ExecStateCompleted, execs.get(exec.ID).State)
}

func TestRunExecutionStoreFailureKeepsResult(t *testing.T) {
	execs := newFakeExecStore()
	jobs := newFakeJobStore()
	job := jobs.add(framedb.FrameJob{SessionID: uuid.New(), FrameURI: "s3://frames/a.jpg"})
	exec := execs.add(framedb.FrameExecution{FrameJobID: job.ID, ClaimedBy: 42})

	analyzer := &fakeAnalyzer{items: []ItemCandidate{{Caption: "bronze clock", Confidence: 0.8}}}
	persister := newFakePersister()
	persister.err = errors.New("database briefly unavailable")

	e := testEngine(execs, jobs, analyzer, persister, nil, Config{})
	e.runExecution(context.Background(), exec)

	final := execs.get(exec.ID)
	assert.Equal(t, framedb.ExecStateStoring, final.State)
	assert.Equal(t, int32(1), final.Attempts)
	assert.NotEmpty(t, final.ResultPayload, "analysis output survives a store retry")
	assert.Equal(t, 1, analyzer.callCount())
}

func TestRunExecutionMissingJobFails(t *testing.T) {
	execs := newFakeExecStore()
	exec := execs.add(framedb.FrameExecution{FrameJobID: uuid.New(), ClaimedBy: 42})

	e := testEngine(execs, newFakeJobStore(), &fakeAnalyzer{}, newFakePersister(), nil, Config{})
	e.runExecution(context.Background(), exec)

	assert.Equal(t, framedb.ExecStateFailed, execs.get(exec.ID).State)
}

func TestEngineRunProcessesClaimedExecutions(t *testing.T) {
	execs := newFakeExecStore()
	jobs := newFakeJobStore()
	notifier := &fakeNotifier{}

	var want []uuid.UUID
	for range 3 {
		job := jobs.add(framedb.FrameJob{SessionID: uuid.New(), FrameURI: "s3://frames/" + uuid.NewString() + ".jpg"})
		execs.add(framedb.FrameExecution{FrameJobID: job.ID, ClaimedBy: framedb.UnclaimedWorker})
		want = append(want, job.ID)
	}

	analyzer := &fakeAnalyzer{items: []ItemCandidate{{Caption: "vase", Confidence: 0.9}}}
	e := testEngine(execs, jobs, analyzer, newFakePersister(), notifier, Config{
		Concurrency:  2,
		PollInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(notifier.notified()) == len(want)
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.ElementsMatch(t, want, notifier.notified())
}
