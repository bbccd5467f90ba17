package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academicchain/issuance-be/internal/events"
	"github.com/academicchain/issuance-be/internal/ledger"
	"github.com/academicchain/issuance-be/internal/worker/domain"
	"github.com/academicchain/issuance-be/internal/worker/storage"
	"github.com/academicchain/issuance-be/shared/logger"
)

// newWorkerFromFixture builds a worker around the fixture's fakes. The
// RabbitMQ client stays nil: processJob never touches the broker.
func newWorkerFromFixture(f *issuerFixture, broadcaster events.Broadcaster) *Worker {
	return NewWorker(&Config{
		Logger:            logger.NewDefault().Logger,
		Store:             f.store,
		Registry:          f.registry,
		Publisher:         &fakePinner{uri: "ipfs://QmTest"},
		Broadcaster:       broadcaster,
		Scheduler:         f.scheduler,
		Concurrency:       1,
		JobTimeout:        time.Minute,
		HeartbeatInterval: time.Minute,
	})
}

// terminalStatusRecorder snapshots the job row's status at the moment a
// terminal event is published
type terminalStatusRecorder struct {
	events.Broadcaster
	store    *storage.MemoryStorage
	mu       sync.Mutex
	statuses map[string]string
}

func (r *terminalStatusRecorder) Publish(ctx context.Context, topic string, e events.Event) error {
	if e.Type == events.TypeJobCompleted || e.Type == events.TypeJobFailed {
		if status, err := r.store.GetJobStatus(ctx, e.JobID); err == nil {
			r.mu.Lock()
			r.statuses[e.Type] = status
			r.mu.Unlock()
		}
	}
	return r.Broadcaster.Publish(ctx, topic, e)
}

func (r *terminalStatusRecorder) statusAt(eventType string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[eventType]
}

func TestProcessJob_CompletedEventFollowsStatusWrite(t *testing.T) {
	f := newIssuerFixture(t)
	items := batchItems(2)
	job := seedBatchJob(t, f.store, items...)
	job.Status = domain.JobStatusPending
	f.store.PutJob(job)

	recorder := &terminalStatusRecorder{
		Broadcaster: f.broadcaster,
		store:       f.store,
		statuses:    make(map[string]string),
	}
	w := newWorkerFromFixture(f, recorder)

	ctx := context.Background()
	require.NoError(t, w.processJob(ctx, &domain.JobMessage{JobID: job.JobID}))

	status, err := f.store.GetJobStatus(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, status)

	// a client that resyncs on the event must already see COMPLETED
	assert.Equal(t, domain.JobStatusCompleted, recorder.statusAt(events.TypeJobCompleted))
}

func TestProcessJob_FailedEventFollowsStatusWrite(t *testing.T) {
	f := newIssuerFixture(t)
	items := batchItems(2)
	job := seedBatchJob(t, f.store, items...)
	job.Status = domain.JobStatusPending
	f.store.PutJob(job)

	f.primary.mintFn = func(int, string) (*ledger.MintResult, error) {
		return nil, domain.NewAdapterError("hedera", errors.New("gateway down"))
	}

	recorder := &terminalStatusRecorder{
		Broadcaster: f.broadcaster,
		store:       f.store,
		statuses:    make(map[string]string),
	}
	w := newWorkerFromFixture(f, recorder)

	ctx := context.Background()
	err := w.processJob(ctx, &domain.JobMessage{JobID: job.JobID})
	require.Error(t, err)

	status, getErr := f.store.GetJobStatus(ctx, job.JobID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.JobStatusFailed, status)

	assert.Equal(t, domain.JobStatusFailed, recorder.statusAt(events.TypeJobFailed))
}
