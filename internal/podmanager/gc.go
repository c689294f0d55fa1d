package podmanager

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/alation/acm/internal/acmerrors"
	"github.com/alation/acm/internal/metrics"
	"github.com/alation/acm/internal/poddeploy"
	"github.com/alation/acm/internal/ticket"
)

// gcStatus is the tagged signal the Event Watcher sends the Garbage
// Collector, per spec.md §3's "GC Status Signal". Exactly one of the two
// fields is meaningful per message; running is nil for a Terminated signal.
type gcStatus struct {
	running    *corev1.Pod
	terminated bool
}

// refreshRequest is the Garbage Collector facade's one-shot request/reply
// pair: the caller sends on the request channel and blocks on reply.
type refreshRequest struct {
	reply chan ticket.Ticket
}

// GarbageCollector is the per-pod TTL enforcer described in spec.md §4.3. It
// runs as a single long-lived goroutine; all of its state is local to run.
type GarbageCollector struct {
	refresh chan refreshRequest
	stopped chan struct{}
}

// startGarbageCollector launches the Garbage Collector for pod id and
// returns its facade immediately; status is the receive end of the channel
// the Event Watcher uses to report Running/Terminated.
func startGarbageCollector(
	ctx context.Context,
	log logr.Logger,
	c client.Client,
	namespace, id string,
	ttl time.Duration,
	status <-chan gcStatus,
	m *metrics.Collectors,
) *GarbageCollector {
	gc := &GarbageCollector{
		refresh: make(chan refreshRequest),
		stopped: make(chan struct{}),
	}
	go gc.run(ctx, log.WithName("garbage-collector").WithValues("pod", id), c, namespace, id, ttl, status, m)
	return gc
}

// Refresh resets the lease countdown and returns a fresh ticket, or
// RefreshChannelClosed if the Garbage Collector has already exited — either
// because the request could not be delivered or because it exited before
// replying.
func (gc *GarbageCollector) Refresh(ctx context.Context) (ticket.Ticket, error) {
	req := refreshRequest{reply: make(chan ticket.Ticket, 1)}
	select {
	case gc.refresh <- req:
	case <-gc.stopped:
		return ticket.Ticket{}, acmerrors.RefreshChannelClosed()
	case <-ctx.Done():
		return ticket.Ticket{}, ctx.Err()
	}
	select {
	case t := <-req.reply:
		return t, nil
	case <-gc.stopped:
		return ticket.Ticket{}, acmerrors.RefreshChannelClosed()
	case <-ctx.Done():
		return ticket.Ticket{}, ctx.Err()
	}
}

// deadlineSignal is what a watchDeadline goroutine reports: the ticket's
// deadline elapsed, or ctx was cancelled while waiting on it.
type deadlineSignal struct {
	err error
}

// watchDeadline spawns a goroutine that blocks on t's own
// SleepUntilDeadline, making the ticket's deadline the sole scheduling
// authority spec.md §3 describes rather than a countdown derived
// independently from ttl. Its result is delivered on the returned channel;
// a refresh discards the old channel in favor of a fresh one; the stale
// goroutine still exits cleanly into its own unread buffered slot.
func watchDeadline(ctx context.Context, t ticket.Ticket) <-chan deadlineSignal {
	ch := make(chan deadlineSignal, 1)
	go func() { ch <- deadlineSignal{err: t.SleepUntilDeadline(ctx)} }()
	return ch
}

// run implements the Armed/Counting state machine of spec.md §4.3.
func (gc *GarbageCollector) run(
	ctx context.Context,
	log logr.Logger,
	c client.Client,
	namespace, id string,
	ttl time.Duration,
	status <-chan gcStatus,
	m *metrics.Collectors,
) {
	defer close(gc.stopped)

	// Armed: block until the watcher reports Running or Terminated.
	select {
	case s, ok := <-status:
		if !ok {
			log.Info("event watcher closed its status channel before reporting running; exiting")
			return
		}
		if s.terminated {
			return
		}
		// s.running != nil: fall through to Counting below.
	case <-ctx.Done():
		return
	}

	current := ticket.New(id, ttl)
	gc.patchLabels(ctx, log, c, namespace, current)
	deadline := watchDeadline(ctx, current)

	for {
		select {
		case sig := <-deadline:
			if sig.err != nil {
				// ctx was cancelled; the <-ctx.Done() case below will also
				// have fired, so just let this goroutine return quietly.
				return
			}
			if err := poddeploy.Delete(ctx, c, namespace, id); err != nil {
				log.Error(err, "failed to delete pod on lease expiry")
			}
			bumpGCDeletes(m, "ttl_expired")
			return

		case req, ok := <-gc.refresh:
			if !ok {
				return
			}
			current = ticket.New(id, ttl)
			gc.patchLabels(ctx, log, c, namespace, current)
			deadline = watchDeadline(ctx, current)
			select {
			case req.reply <- current:
			default:
				log.Info("refresh caller went away before its reply could be delivered")
			}

		case s, ok := <-status:
			if !ok {
				log.Info("event watcher's status channel closed unexpectedly; deleting pod defensively")
				if err := poddeploy.Delete(ctx, c, namespace, id); err != nil {
					log.Error(err, "failed to delete pod after status channel closed")
				}
				bumpGCDeletes(m, "status_channel_closed")
				return
			}
			if s.terminated {
				return
			}
			// Running while already counting is informational.

		case <-ctx.Done():
			return
		}
	}
}

func (gc *GarbageCollector) patchLabels(ctx context.Context, log logr.Logger, c client.Client, namespace string, t ticket.Ticket) {
	if err := t.LabelPatch(ctx, c, namespace); err != nil {
		log.Error(err, "failed to patch execution_date label; continuing without it")
	}
}

func bumpGCDeletes(m *metrics.Collectors, reason string) {
	if m != nil {
		m.GCDeletes.WithLabelValues(reason).Inc()
	}
}
