package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academicchain/issuance-be/internal/config"
	"github.com/academicchain/issuance-be/internal/ledger"
	"github.com/academicchain/issuance-be/internal/worker/domain"
	"github.com/academicchain/issuance-be/internal/worker/storage"
	"github.com/academicchain/issuance-be/shared/logger"
)

func newSchedulerFixture(t *testing.T, cfg config.AnchorRetryConfig, anchorer *fakeAnchorer) (*AnchorScheduler, *storage.MemoryStorage, *fakeRetryPublisher) {
	t.Helper()
	store := storage.NewMemoryStorage()
	pub := &fakeRetryPublisher{}
	registry := ledger.NewRegistryWithClients(&fakePrimary{}, anchorer)
	s := NewAnchorScheduler(logger.NewDefault().Logger, store, pub, registry, nil, cfg)
	return s, store, pub
}

func TestBackoff(t *testing.T) {
	s, _, _ := newSchedulerFixture(t, config.AnchorRetryConfig{
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		MaxAttempts: 10,
	}, &fakeAnchorer{name: "algorand"})

	// no jitter configured: delays are exact
	assert.Equal(t, time.Second, s.Backoff(2))
	assert.Equal(t, 2*time.Second, s.Backoff(3))
	assert.Equal(t, 4*time.Second, s.Backoff(4))
	assert.Equal(t, 8*time.Second, s.Backoff(5))
	assert.Equal(t, 10*time.Second, s.Backoff(6), "delay is capped at max_delay")
	assert.Equal(t, 10*time.Second, s.Backoff(9))
}

func TestBackoff_JitterStaysInBounds(t *testing.T) {
	s, _, _ := newSchedulerFixture(t, config.AnchorRetryConfig{
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
		MaxAttempts: 10,
		Jitter:      0.2,
	}, &fakeAnchorer{name: "algorand"})

	for attempt := 2; attempt <= 6; attempt++ {
		exact := time.Duration(float64(time.Second) * float64(int(1)<<(attempt-2)))
		for i := 0; i < 50; i++ {
			d := s.Backoff(attempt)
			assert.GreaterOrEqual(t, d, time.Duration(float64(exact)*0.8))
			assert.LessOrEqual(t, d, time.Duration(float64(exact)*1.2))
		}
	}
}

func TestScheduleRetry_CreatesDelayedJob(t *testing.T) {
	s, store, pub := newSchedulerFixture(t, config.AnchorRetryConfig{
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
		MaxAttempts: 5,
	}, &fakeAnchorer{name: "algorand"})

	ctx := context.Background()
	require.NoError(t, s.ScheduleRetry(ctx, "inst-1", "hash-1", "algorand", 3))

	jobs := store.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobTypeRetryAnchor, jobs[0].JobType)
	assert.Equal(t, "inst-1", jobs[0].InstitutionID)

	p, err := domain.ParseRetryAnchorPayload(jobs[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Attempt)

	require.Len(t, pub.delays, 1)
	assert.Equal(t, 2*time.Second, pub.delays[0], "attempt 3 waits base*2")

	var msg domain.JobMessage
	require.NoError(t, json.Unmarshal(pub.bodies[0], &msg))
	assert.Equal(t, jobs[0].JobID, msg.JobID)
}

func TestScheduleRetry_ExhaustedBudgetStopsChain(t *testing.T) {
	s, store, pub := newSchedulerFixture(t, config.AnchorRetryConfig{
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
		MaxAttempts: 3,
	}, &fakeAnchorer{name: "algorand"})

	require.NoError(t, s.ScheduleRetry(context.Background(), "inst-1", "hash-1", "algorand", 4))
	assert.Empty(t, store.Jobs(), "no job beyond the attempt budget")
	assert.Empty(t, pub.bodies)
}

func TestRunRetry_SuccessConfirmsAnchor(t *testing.T) {
	anchorer := &fakeAnchorer{name: "xrpl"}
	s, store, _ := newSchedulerFixture(t, config.AnchorRetryConfig{
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
		MaxAttempts: 5,
	}, anchorer)

	ctx := context.Background()
	payload, _ := json.Marshal(domain.RetryAnchorPayload{UniqueHash: "hash-1", Ledger: "xrpl", Attempt: 2})
	job := &domain.Job{JobID: "job-r1", JobType: domain.JobTypeRetryAnchor, InstitutionID: "inst-1", Payload: string(payload)}

	require.NoError(t, s.RunRetry(ctx, job))

	anchor, err := store.GetAnchor(ctx, "hash-1", "xrpl")
	require.NoError(t, err)
	assert.Equal(t, domain.AnchorStatusConfirmed, anchor.Status)
	assert.Equal(t, 2, anchor.Attempts)
	assert.NotEmpty(t, anchor.TxID)
}

func TestRunRetry_FailureSchedulesNextAttempt(t *testing.T) {
	anchorer := &fakeAnchorer{name: "xrpl", anchorFn: func(int) (*ledger.AnchorResult, error) {
		return nil, domain.NewItemError(errors.New("node timeout"))
	}}
	s, store, pub := newSchedulerFixture(t, config.AnchorRetryConfig{
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
		MaxAttempts: 5,
	}, anchorer)

	ctx := context.Background()
	payload, _ := json.Marshal(domain.RetryAnchorPayload{UniqueHash: "hash-1", Ledger: "xrpl", Attempt: 2})
	job := &domain.Job{JobID: "job-r1", JobType: domain.JobTypeRetryAnchor, InstitutionID: "inst-1", Payload: string(payload)}

	err := s.RunRetry(ctx, job)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrAnchorRetriesExhausted)

	anchor, getErr := store.GetAnchor(ctx, "hash-1", "xrpl")
	require.NoError(t, getErr)
	assert.Equal(t, domain.AnchorStatusFailed, anchor.Status)

	// the next attempt is already parked on the wait queue
	require.Len(t, pub.bodies, 1)
	jobs := store.Jobs()
	require.Len(t, jobs, 1)
	p, parseErr := domain.ParseRetryAnchorPayload(jobs[0].Payload)
	require.NoError(t, parseErr)
	assert.Equal(t, 3, p.Attempt)
}

func TestRunRetry_ExhaustionIsPermanent(t *testing.T) {
	anchorer := &fakeAnchorer{name: "xrpl", anchorFn: func(int) (*ledger.AnchorResult, error) {
		return nil, domain.NewItemError(errors.New("node timeout"))
	}}
	s, store, pub := newSchedulerFixture(t, config.AnchorRetryConfig{
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
		MaxAttempts: 3,
	}, anchorer)

	ctx := context.Background()
	payload, _ := json.Marshal(domain.RetryAnchorPayload{UniqueHash: "hash-1", Ledger: "xrpl", Attempt: 3})
	job := &domain.Job{JobID: "job-r1", JobType: domain.JobTypeRetryAnchor, InstitutionID: "inst-1", Payload: string(payload)}

	err := s.RunRetry(ctx, job)
	assert.ErrorIs(t, err, domain.ErrAnchorRetriesExhausted)

	anchor, getErr := store.GetAnchor(ctx, "hash-1", "xrpl")
	require.NoError(t, getErr)
	assert.Equal(t, domain.AnchorStatusFailed, anchor.Status)

	assert.Empty(t, store.Jobs(), "no further retries after exhaustion")
	assert.Empty(t, pub.bodies)
}

func TestRunRetry_AlreadyConfirmedIsNoop(t *testing.T) {
	anchorer := &fakeAnchorer{name: "xrpl"}
	s, store, _ := newSchedulerFixture(t, config.AnchorRetryConfig{
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
		MaxAttempts: 5,
	}, anchorer)

	ctx := context.Background()
	require.NoError(t, store.UpsertAnchor(ctx, &domain.Anchor{
		UniqueHash: "hash-1", Ledger: "xrpl", TxID: "XRP-TX-1",
		Status: domain.AnchorStatusConfirmed, Attempts: 1,
	}))

	payload, _ := json.Marshal(domain.RetryAnchorPayload{UniqueHash: "hash-1", Ledger: "xrpl", Attempt: 2})
	job := &domain.Job{JobID: "job-r1", JobType: domain.JobTypeRetryAnchor, Payload: string(payload)}

	require.NoError(t, s.RunRetry(ctx, job))
	assert.Zero(t, anchorer.calls, "a confirmed anchor is never re-anchored")
}

// The full chain: the inline attempt fails, two retry jobs run, the second
// retry confirms. Exactly two retry jobs exist at the end.
func TestAnchorRetryChain(t *testing.T) {
	anchorer := &fakeAnchorer{name: "algorand", anchorFn: func(call int) (*ledger.AnchorResult, error) {
		if call < 3 {
			return nil, domain.NewItemError(errors.New("node timeout"))
		}
		return &ledger.AnchorResult{TxID: "ALGO-TX-OK"}, nil
	}}

	f := newIssuerFixture(t)
	registry := ledger.NewRegistryWithClients(f.primary, anchorer)
	f.scheduler = NewAnchorScheduler(logger.NewDefault().Logger, f.store, f.retryPub, registry, nil, config.AnchorRetryConfig{
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
		MaxAttempts: 5,
	})
	f.issuer.registry = registry
	f.issuer.scheduler = f.scheduler

	items := batchItems(1)
	job := seedBatchJob(t, f.store, items...)
	hash := domain.UniqueHash("inst-1", items[0])

	ctx := context.Background()
	require.NoError(t, f.issuer.RunBatch(ctx, job))

	anchor, err := f.store.GetAnchor(ctx, hash, "algorand")
	require.NoError(t, err)
	assert.Equal(t, domain.AnchorStatusFailed, anchor.Status)

	// drain the scheduled retries the way the worker would
	ran := 0
	for {
		var retry *domain.Job
		for _, j := range f.store.Jobs() {
			if j.JobType == domain.JobTypeRetryAnchor && j.Status == domain.JobStatusPending {
				retry = j
				break
			}
		}
		if retry == nil {
			break
		}
		ran++
		err := f.scheduler.RunRetry(ctx, retry)
		status := domain.JobStatusCompleted
		if err != nil {
			status = domain.JobStatusFailed
		}
		require.NoError(t, f.store.UpdateJobStatus(ctx, retry.JobID, status, ""))
	}

	assert.Equal(t, 2, ran, "exactly two retry jobs run before confirmation")
	assert.Equal(t, 3, anchorer.calls)

	anchor, err = f.store.GetAnchor(ctx, hash, "algorand")
	require.NoError(t, err)
	assert.Equal(t, domain.AnchorStatusConfirmed, anchor.Status)
	assert.Equal(t, "ALGO-TX-OK", anchor.TxID)
}
