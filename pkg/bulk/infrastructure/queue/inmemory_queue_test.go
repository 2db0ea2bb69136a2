package queue_test

import (
	"context"
	"testing"
	"time"

	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	"github.com/tigerroll/marlin/pkg/bulk/core/ports"
	"github.com/tigerroll/marlin/pkg/bulk/infrastructure/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMessage() ports.BatchMessage {
	return ports.BatchMessage{
		MessageID:   model.NewID(),
		ExecutionID: model.NewID(),
		BatchID:     model.NewID(),
		Sequence:    0,
		Attempt:     0,
	}
}

func TestInMemoryWorkQueue_DeliveryCountsAttempts(t *testing.T) {
	ctx := context.Background()
	q := queue.NewInMemoryWorkQueue(8)

	require.NoError(t, q.Enqueue(ctx, newMessage()))

	msg, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, msg.Attempt, "first delivery is attempt 1")

	// Each redelivery bumps the counter.
	require.NoError(t, q.Nack(ctx, msg, 0))
	msg, err = q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, msg.Attempt)

	require.NoError(t, q.Ack(ctx, msg))
}

func TestInMemoryWorkQueue_NackDelay(t *testing.T) {
	ctx := context.Background()
	q := queue.NewInMemoryWorkQueue(8)

	require.NoError(t, q.Enqueue(ctx, newMessage()))
	msg, err := q.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Nack(ctx, msg, 30*time.Millisecond))

	// Not redelivered before the delay.
	earlyCtx, cancelEarly := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancelEarly()
	_, err = q.Receive(earlyCtx)
	assert.Error(t, err)

	// Redelivered after it.
	lateCtx, cancelLate := context.WithTimeout(ctx, time.Second)
	defer cancelLate()
	redelivered, err := q.Receive(lateCtx)
	require.NoError(t, err)
	assert.Equal(t, msg.BatchID, redelivered.BatchID)
}

func TestInMemoryWorkQueue_DeadLetters(t *testing.T) {
	ctx := context.Background()
	q := queue.NewInMemoryWorkQueue(8)

	first := newMessage()
	second := newMessage()
	require.NoError(t, q.DeadLetter(ctx, first))
	require.NoError(t, q.DeadLetter(ctx, second))

	dead := q.DeadLetters()
	require.Len(t, dead, 2)
	assert.Equal(t, first.BatchID, dead[0].BatchID)
	assert.Equal(t, second.BatchID, dead[1].BatchID)
}

func TestInMemoryWorkQueue_ReceiveHonorsContext(t *testing.T) {
	q := queue.NewInMemoryWorkQueue(8)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
