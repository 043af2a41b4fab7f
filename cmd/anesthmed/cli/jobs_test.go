package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/anesthmed/anesthmed/jobs"
)

type fakeEnqueuer struct {
	tasks []string
}

func (f *fakeEnqueuer) enqueue(typ string) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, typ)
	return &asynq.TaskInfo{ID: "t-1", Type: typ, Queue: jobs.QueueDefault}, nil
}

func (f *fakeEnqueuer) EnqueueAlertScan(context.Context, jobs.AlertScanPayload) (*asynq.TaskInfo, error) {
	return f.enqueue(jobs.TaskStockAlertScan)
}

func (f *fakeEnqueuer) EnqueueLedgerIntegrity(context.Context) (*asynq.TaskInfo, error) {
	return f.enqueue(jobs.TaskLedgerIntegrity)
}

func (f *fakeEnqueuer) EnqueueInsightsWarmup(context.Context, jobs.InsightsWarmupPayload) (*asynq.TaskInfo, error) {
	return f.enqueue(jobs.TaskInsightsWarmup)
}

func (f *fakeEnqueuer) EnqueueIdempotencyCleanup(context.Context) (*asynq.TaskInfo, error) {
	return f.enqueue(jobs.TaskIdempotencyCleanup)
}

func (f *fakeEnqueuer) Close() error { return nil }

type fakeInspector struct{}

func (fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return &asynq.QueueInfo{Queue: queue, Pending: 2, Active: 1, Retry: 3}, nil
}

func (fakeInspector) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return nil, nil
}

func (fakeInspector) Close() error { return nil }

func TestTriggerKnownJobs(t *testing.T) {
	enq := &fakeEnqueuer{}
	c := &JobsCLI{client: enq, inspector: fakeInspector{}}

	names := []string{jobs.TaskStockAlertScan, jobs.TaskLedgerIntegrity, jobs.TaskInsightsWarmup, jobs.TaskIdempotencyCleanup}
	for _, name := range names {
		info, err := c.Trigger(context.Background(), name)
		require.NoError(t, err)
		require.Equal(t, name, info.Type)
	}
	require.Equal(t, names, enq.tasks)

	_, err := c.Trigger(context.Background(), "mail:send")
	require.ErrorContains(t, err, "unsupported job")
}

func TestRunCommands(t *testing.T) {
	c := &JobsCLI{client: &fakeEnqueuer{}, inspector: fakeInspector{}}

	var out bytes.Buffer
	require.NoError(t, c.Run(context.Background(), &out, []string{"stats"}))
	require.Equal(t, "queue=default pending=2 active=1 scheduled=0 retry=3\n", out.String())

	out.Reset()
	require.NoError(t, c.Run(context.Background(), &out, []string{"trigger", jobs.TaskLedgerIntegrity}))
	require.Contains(t, out.String(), "enqueued inventory:ledger-integrity")

	require.Error(t, c.Run(context.Background(), &out, nil))
	require.Error(t, c.Run(context.Background(), &out, []string{"scheduled", "x"}))
}
