package podmanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"

	"github.com/alation/acm/internal/acmerrors"
)

func TestHandleWaitDeliversHealthyPod(t *testing.T) {
	handle, producer, done := newHandle(context.Background())
	pod := &corev1.Pod{}

	go producer.send(context.Background(), podResult{pod: pod})

	got, err := handle.Wait(context.Background())
	require.NoError(t, err)
	assert.Same(t, pod, got)

	// The shim's job ends once the verdict is handed over; later Waits are
	// answered from the Handle's own cache.
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shim should exit once it has handed the verdict to the consumer")
	}
}

func TestHandleWaitMemoizesAndReplaysPhantomOnError(t *testing.T) {
	handle, producer, _ := newHandle(context.Background())
	producer.send(context.Background(), podResult{err: acmerrors.PodCrashed("OOMKilled", "bad")})

	_, err := handle.Wait(context.Background())
	require.Error(t, err)
	acmErr, ok := acmerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, acmerrors.KindPodCrashed, acmErr.Kind)

	_, err = handle.Wait(context.Background())
	require.Error(t, err)
	acmErr, ok = acmerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, acmerrors.KindPhantomError, acmErr.Kind)
}

func TestHandleWaitCancelledContext(t *testing.T) {
	handle, _, _ := newHandle(context.Background())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := handle.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHandleDropsVerdictIfConsumerNeverArrives(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, producer, done := newHandle(parent)
	ok := producer.send(context.Background(), podResult{pod: &corev1.Pod{}})
	assert.True(t, ok)

	// No one ever calls Wait, so the shim should eventually give up on its
	// own (not exercising the full 60s patience window here; cancelling the
	// parent context stands in for "nobody is ever coming").
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shim did not exit after its parent context was cancelled")
	}
}

func TestProducerSendFailsOnCancelledContext(t *testing.T) {
	// An unbuffered channel with no reader makes the send block forever on
	// its own, so a cancelled context is the only way out.
	producer := &handleProducer{inbound: make(chan podResult)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok := producer.send(ctx, podResult{pod: &corev1.Pod{}})
	assert.False(t, ok)
}
