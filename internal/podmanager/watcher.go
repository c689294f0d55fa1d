package podmanager

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/alation/acm/internal/acmerrors"
	"github.com/alation/acm/internal/metrics"
	"github.com/alation/acm/internal/poddeploy"
	"github.com/alation/acm/internal/podutil"
)

// eventWatcher is the central controller spec.md §4.4 describes: it
// consumes the pod's filtered watch stream through its three-phase state
// machine, driving the Garbage Collector and the External Handle. It keeps
// a raw client-go clientset for the long-lived Watch stream, which has no
// controller-runtime equivalent outside the Reconciler/Manager model, and a
// controller-runtime client for the single-object deletes it issues on its
// terminal paths.
type eventWatcher struct {
	id        string
	namespace string
	clientset kubernetes.Interface
	crClient  client.Client

	gcStatus chan<- gcStatus
	gcOnce   sync.Once
	handle   *handleProducer
	metrics  *metrics.Collectors

	log logr.Logger
}

// startEventWatcher launches the watcher goroutine and returns immediately.
// m may be nil, in which case metrics are silently skipped.
func startEventWatcher(
	ctx context.Context,
	log logr.Logger,
	clientset kubernetes.Interface,
	crClient client.Client,
	namespace, id string,
	gcStatus chan<- gcStatus,
	handle *handleProducer,
	m *metrics.Collectors,
) <-chan struct{} {
	w := &eventWatcher{
		id:        id,
		namespace: namespace,
		clientset: clientset,
		crClient:  crClient,
		gcStatus:  gcStatus,
		handle:    handle,
		metrics:   m,
		log:       log.WithName("event-watcher").WithValues("pod", id),
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.run(ctx)
	}()
	return done
}

func (w *eventWatcher) run(ctx context.Context) {
	start := time.Now()
	stream := newPodEventStream(w.clientset, w.namespace, w.id)
	defer stream.close()
	events := stream.run(ctx)

	pod, ok := w.phase1(ctx, events)
	if !ok {
		return
	}
	w.log.Info("pod entered running phase", "elapsed", time.Since(start))

	pod, ok = w.phase2(ctx, events, pod)
	if !ok {
		return
	}
	w.log.Info("pod completed health check", "elapsed", time.Since(start))

	w.phase3(ctx, events)
}

// phase1 implements spec.md §4.4 "Await Running".
func (w *eventWatcher) phase1(ctx context.Context, events <-chan streamResult) (*corev1.Pod, bool) {
	for {
		select {
		case res, chOk := <-events:
			if !chOk {
				return nil, false
			}
			switch res.outcome {
			case outcomeUnresponsive:
				w.bumpWatchErrors()
				w.terminate(ctx, acmerrors.KubernetesUnresponsive(res.elapsed.String()))
				return nil, false
			case outcomeClosed:
				w.bumpWatchErrors()
				w.terminate(ctx, acmerrors.UnexpectedCloseOfEventStream())
				return nil, false
			}

			switch res.event.kind {
			case eventAdded, eventRestarted:
				continue
			case eventDeleted:
				w.terminate(ctx, acmerrors.PodDeleted())
				return nil, false
			case eventApplied:
				p := res.event.pod
				switch {
				case podutil.Running(p):
					select {
					case w.gcStatus <- gcStatus{running: p}:
					case <-ctx.Done():
						return nil, false
					}
					return p, true
				case podutil.Terminated(p) || podutil.Crashed(p):
					reason := podutil.TerminatedReason(p)
					message := podutil.TerminatedMessage(p)
					w.log.Info("pod crashed before becoming healthy", "reason", reason, "message", message)
					w.terminate(ctx, acmerrors.PodCrashed(reason, message))
					return nil, false
				case podutil.WasErrImagePull(p):
					w.terminate(ctx, podutil.ErrImagePull(p))
					return nil, false
				}
				// Applied with no interesting predicate: keep waiting.
			}
		case <-ctx.Done():
			return nil, false
		}
	}
}

// phase2 implements spec.md §4.4 "Health Check + Race on Watch".
func (w *eventWatcher) phase2(ctx context.Context, events <-chan streamResult, pod *corev1.Pod) (*corev1.Pod, bool) {
	addr, err := podutil.Address(pod)
	if err != nil {
		w.terminate(ctx, acmerrors.Internal("resolving pod address: %s", err))
		return nil, false
	}
	checker := startHealthChecker(ctx, w.log, addr)

	for {
		select {
		case res, chOk := <-events:
			if !chOk {
				checker.Kill()
				return nil, false
			}
			switch res.outcome {
			case outcomeUnresponsive:
				checker.Kill()
				w.bumpWatchErrors()
				w.terminate(ctx, acmerrors.KubernetesUnresponsive(res.elapsed.String()))
				return nil, false
			case outcomeClosed:
				checker.Kill()
				w.bumpWatchErrors()
				w.terminate(ctx, acmerrors.UnexpectedCloseOfEventStream())
				return nil, false
			}

			switch res.event.kind {
			case eventDeleted:
				checker.Kill()
				w.terminate(ctx, acmerrors.PodDeleted())
				return nil, false
			case eventRestarted:
				checker.Kill()
				w.terminate(ctx, acmerrors.PodRebooted())
				return nil, false
			default:
				// Added/Applied here are informational; the watch side of
				// the race has already reset its own backoff in next().
			}

		case r, chOk := <-checker.Result():
			if !chOk {
				checker.Join()
				w.terminate(ctx, acmerrors.HealthCheckDroppedItsChannel())
				return nil, false
			}
			checker.Join()
			if r.err != nil {
				w.bumpHealthCheckFails(r.err.Kind)
				w.terminate(ctx, r.err)
				return nil, false
			}
			if !w.handle.send(ctx, podResult{pod: pod}) {
				w.log.Info("client gave up before the healthy verdict could be delivered; tearing down")
				w.signalGCTerminated(ctx)
				w.deletePod(ctx)
				return nil, false
			}
			return pod, true

		case <-ctx.Done():
			checker.Kill()
			return nil, false
		}
	}
}

// phase3 implements spec.md §4.4 "Steady State".
func (w *eventWatcher) phase3(ctx context.Context, events <-chan streamResult) {
	for {
		select {
		case res, chOk := <-events:
			if !chOk {
				return
			}
			switch res.outcome {
			case outcomeUnresponsive:
				w.bumpWatchErrors()
				w.terminate(ctx, acmerrors.KubernetesUnresponsive(res.elapsed.String()))
				return
			case outcomeClosed:
				w.bumpWatchErrors()
				w.terminate(ctx, acmerrors.UnexpectedCloseOfEventStream())
				return
			}

			switch res.event.kind {
			case eventDeleted:
				w.signalGCTerminated(ctx)
				return
			case eventRestarted:
				w.terminate(ctx, acmerrors.PodRebooted())
				return
			default:
				// Ignored for the rest of the pod's lifecycle.
			}
		case <-ctx.Done():
			return
		}
	}
}

func (w *eventWatcher) bumpWatchErrors() {
	if w.metrics != nil {
		w.metrics.WatchErrors.WithLabelValues(w.id).Inc()
	}
}

func (w *eventWatcher) bumpHealthCheckFails(kind acmerrors.Kind) {
	if w.metrics != nil {
		w.metrics.HealthCheckFails.WithLabelValues(w.id, string(kind)).Inc()
	}
}

// terminate is the universal cancellation routine of spec.md §4.4: deliver
// the error to any waiting consumer, shut down the GC, and best-effort
// delete the pod.
func (w *eventWatcher) terminate(ctx context.Context, err *acmerrors.Error) {
	w.handle.send(ctx, podResult{err: err})
	w.signalGCTerminated(ctx)
	w.deletePod(ctx)
}

// signalGCTerminated sends the Terminated status at most once and then
// closes the channel, since the watcher is its sole producer.
func (w *eventWatcher) signalGCTerminated(ctx context.Context) {
	w.gcOnce.Do(func() {
		select {
		case w.gcStatus <- gcStatus{terminated: true}:
		case <-ctx.Done():
		}
		close(w.gcStatus)
	})
}

func (w *eventWatcher) deletePod(ctx context.Context) {
	if err := poddeploy.Delete(context.Background(), w.crClient, w.namespace, w.id); err != nil {
		w.log.Error(err, "failed to delete pod on terminal path")
	}
}
