package podmanager

import (
	"context"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/alation/acm/internal/acmerrors"
)

// handlePatience is how long the handle shim waits for a consumer to call
// Wait before giving up and dropping the verdict on the floor, per
// spec.md §4.5.
const handlePatience = 60 * time.Second

// podResult is the watcher's terminal verdict for a pod: exactly one of a
// healthy pod snapshot or a terminal error.
type podResult struct {
	pod *corev1.Pod
	err *acmerrors.Error
}

// Handle is the consumer-facing half of the External Handle rendezvous
// described in spec.md §4.5. Its Wait method is idempotent with
// memoization: the first call blocks for the watcher's verdict and caches a
// cloneable projection of it; every later call returns that projection
// immediately, substituting acmerrors.PhantomError for a cached failure
// since the original error is consumed-once.
type Handle struct {
	outbound <-chan podResult
	arrived  chan struct{}
	once     sync.Once

	mu        sync.Mutex
	cached    podResult
	gotCached bool
}

// handleProducer is the watcher-facing half: the only thing the Event
// Watcher is allowed to do with it is send its single terminal verdict.
type handleProducer struct {
	inbound chan<- podResult
}

// newHandle wires the rendezvous: an inbound single-slot channel from the
// watcher, an outbound single-slot channel to the consumer, and a small
// shim goroutine standing in for the source's two-party barrier — Go has
// no direct barrier primitive, so the shim instead waits for either a
// consumer to signal arrival (by closing arrived) or its patience timer to
// expire.
func newHandle(parent context.Context) (*Handle, *handleProducer, <-chan struct{}) {
	inbound := make(chan podResult, 1)
	outbound := make(chan podResult, 1)
	arrived := make(chan struct{})
	shimDone := make(chan struct{})

	go runHandleShim(parent, inbound, outbound, arrived, shimDone)

	return &Handle{outbound: outbound, arrived: arrived}, &handleProducer{inbound: inbound}, shimDone
}

func runHandleShim(ctx context.Context, inbound <-chan podResult, outbound chan<- podResult, arrived <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	var result podResult
	select {
	case r, ok := <-inbound:
		if !ok {
			result = podResult{err: acmerrors.Internal("external handle's inbound channel was dropped before a verdict was ever sent")}
		} else {
			result = r
		}
	case <-ctx.Done():
		return
	}

	patience := time.NewTimer(handlePatience)
	defer patience.Stop()
	select {
	case <-arrived:
	case <-patience.C:
		return
	case <-ctx.Done():
		return
	}

	select {
	case outbound <- result:
	case <-ctx.Done():
	}
}

// send delivers the watcher's one and only verdict. It reports false only
// if ctx is already done, the Go analogue of the source's "client gave up"
// delivery failure.
func (p *handleProducer) send(ctx context.Context, r podResult) bool {
	select {
	case p.inbound <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// Wait blocks until the watcher's verdict is ready, or ctx is cancelled.
func (h *Handle) Wait(ctx context.Context) (*corev1.Pod, error) {
	h.mu.Lock()
	if h.gotCached {
		cached := h.cached
		h.mu.Unlock()
		if cached.err != nil {
			return nil, acmerrors.PhantomError()
		}
		return cached.pod, nil
	}
	h.mu.Unlock()

	h.once.Do(func() { close(h.arrived) })

	select {
	case r, ok := <-h.outbound:
		if !ok {
			r = podResult{err: acmerrors.Internal("external handle's outbound channel was dropped before a verdict was delivered")}
		}
		h.mu.Lock()
		h.cached = r
		h.gotCached = true
		h.mu.Unlock()
		if r.err != nil {
			return nil, r.err
		}
		return r.pod, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
