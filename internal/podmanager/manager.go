// Package podmanager is the core of the system: the per-pod supervisor
// that composes the Event Watcher, Garbage Collector and Health Checker,
// plus the process-wide Registry that indexes supervisors by pod id.
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
	"github.com/alation/acm/internal/ticket"
)

// gcStatusBufferSize is the "small constant" capacity spec.md §4.6 calls
// for on the watcher -> GC status channel.
const gcStatusBufferSize = 1

// PodManager is the per-pod supervisor of spec.md §3/§4.6: it owns the
// Garbage Collector facade and the consumer side of the External Handle,
// and exposes the serialized wait/refresh operations the HTTP layer calls.
type PodManager struct {
	id string

	mu     sync.Mutex
	handle *Handle
	gc     *GarbageCollector
}

// New wires a fresh Pod Manager for pod id: the External Handle triple, the
// GC-status channel, the Event Watcher, and the Garbage Collector, per
// spec.md §4.6's numbered construction steps. The returned done channel
// closes once all three daemons (watcher, GC, handle shim) have exited.
func New(
	ctx context.Context,
	log logr.Logger,
	clientset kubernetes.Interface,
	crClient client.Client,
	namespace, id string,
	ttl time.Duration,
	m *metrics.Collectors,
) (*PodManager, <-chan struct{}) {
	log = log.WithValues("pod", id)

	handle, handleProd, handleDone := newHandle(ctx)
	status := make(chan gcStatus, gcStatusBufferSize)

	watcherDone := startEventWatcher(ctx, log, clientset, crClient, namespace, id, status, handleProd, m)
	gc := startGarbageCollector(ctx, log, crClient, namespace, id, ttl, status, m)

	pm := &PodManager{id: id, handle: handle, gc: gc}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-watcherDone
		<-gc.stopped
		<-handleDone
		log.Info("all daemons for this pod have exited")
	}()

	return pm, done
}

// Wait delegates to the External Handle.
func (pm *PodManager) Wait(ctx context.Context) (*corev1.Pod, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.handle.Wait(ctx)
}

// Refresh delegates to the Garbage Collector facade, returning a fresh
// ticket or RefreshChannelClosed.
func (pm *PodManager) Refresh(ctx context.Context) (ticket.Ticket, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.gc.Refresh(ctx)
}

// Registry is the process-wide mapping from pod id to Pod Manager
// described in spec.md §3. Reads (Get) take the shared lock; writes (the
// insert in Deploy and the removal once a manager's daemons exit) take it
// exclusively.
type Registry struct {
	mu       sync.RWMutex
	managers map[string]*PodManager
	log      logr.Logger
	metrics  *metrics.Collectors
}

// NewRegistry constructs an empty, ready-to-use Registry. m may be nil, in
// which case metrics are silently skipped.
func NewRegistry(log logr.Logger, m *metrics.Collectors) *Registry {
	return &Registry{
		managers: make(map[string]*PodManager),
		log:      log.WithName("pod-manager-registry"),
		metrics:  m,
	}
}

// Deploy constructs a new Pod Manager for id and inserts it into the
// registry, arranging for its removal once all three of its daemons have
// exited.
func (r *Registry) Deploy(ctx context.Context, clientset kubernetes.Interface, crClient client.Client, namespace, id string, ttl time.Duration) *PodManager {
	pm, done := New(ctx, r.log, clientset, crClient, namespace, id, ttl, r.metrics)

	r.mu.Lock()
	r.managers[id] = pm
	population := len(r.managers)
	r.mu.Unlock()
	r.log.Info("registered pod manager", "pod", id, "population", population)

	go func() {
		<-done
		r.mu.Lock()
		delete(r.managers, id)
		population := len(r.managers)
		r.mu.Unlock()
		r.log.Info("removed pod manager", "pod", id, "population", population)
		if r.metrics != nil {
			r.metrics.ManagedPods.Dec()
		}
	}()

	return pm
}

// Get returns the registered Pod Manager for id, or PodManagerNotFound.
func (r *Registry) Get(id string) (*PodManager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pm, ok := r.managers[id]
	if !ok {
		return nil, acmerrors.PodManagerNotFound(id)
	}
	return pm, nil
}
