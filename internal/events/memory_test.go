package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBroadcaster_PublishSubscribe(t *testing.T) {
	b := NewMemoryBroadcaster()
	defer b.Close()

	ctx := context.Background()
	ch, cancel, err := b.Subscribe(ctx, JobTopic("job-1"))
	require.NoError(t, err)
	defer cancel()

	event := Event{
		Type:           TypeJobProgress,
		JobID:          "job-1",
		TotalCount:     10,
		ProcessedCount: 3,
	}
	require.NoError(t, b.Publish(ctx, JobTopic("job-1"), event))

	select {
	case got := <-ch:
		assert.Equal(t, TypeJobProgress, got.Type)
		assert.Equal(t, 3, got.ProcessedCount)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestMemoryBroadcaster_TopicIsolation(t *testing.T) {
	b := NewMemoryBroadcaster()
	defer b.Close()

	ctx := context.Background()
	jobCh, cancelJob, err := b.Subscribe(ctx, JobTopic("job-1"))
	require.NoError(t, err)
	defer cancelJob()

	otherCh, cancelOther, err := b.Subscribe(ctx, JobTopic("job-2"))
	require.NoError(t, err)
	defer cancelOther()

	require.NoError(t, b.Publish(ctx, JobTopic("job-1"), Event{Type: TypeJobCompleted, JobID: "job-1"}))

	select {
	case got := <-jobCh:
		assert.Equal(t, "job-1", got.JobID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case got := <-otherCh:
		t.Fatalf("unexpected event on other topic: %+v", got)
	default:
	}
}

func TestMemoryBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewMemoryBroadcaster()
	defer b.Close()

	ctx := context.Background()
	_, cancel, err := b.Subscribe(ctx, JobTopic("job-1"))
	require.NoError(t, err)
	defer cancel()

	// more events than the subscriber buffer holds; Publish must not block
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			b.Publish(ctx, JobTopic("job-1"), Event{Type: TypeJobProgress, ProcessedCount: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestMemoryBroadcaster_CancelStopsDelivery(t *testing.T) {
	b := NewMemoryBroadcaster()
	defer b.Close()

	ctx := context.Background()
	ch, cancel, err := b.Subscribe(ctx, InstitutionTopic("inst-1"))
	require.NoError(t, err)

	cancel()

	// channel closes and later publishes are dropped
	_, open := <-ch
	assert.False(t, open)
	assert.NoError(t, b.Publish(ctx, InstitutionTopic("inst-1"), Event{Type: TypeInstitutionUpdate}))
}

func TestMemoryBroadcaster_CloseIsIdempotent(t *testing.T) {
	b := NewMemoryBroadcaster()

	ctx := context.Background()
	ch, _, err := b.Subscribe(ctx, JobTopic("job-1"))
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, open := <-ch
	assert.False(t, open)
}
