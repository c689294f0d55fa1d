// Package httpapi is the HTTP surface spec.md §6 describes: routing, the
// {payload, error} JSON envelope, and the /deploy, /wait, /refresh, /delete
// handlers wired onto the Pod Manager Registry.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/alation/acm/internal/acmerrors"
	"github.com/alation/acm/internal/metrics"
	"github.com/alation/acm/internal/poddeploy"
	"github.com/alation/acm/internal/podmanager"
	"github.com/alation/acm/internal/ticket"
)

// ImageResolver is the only trace of the out-of-scope image-registry
// collaborator this package depends on: given a client-requested tag, it
// resolves the fully-qualified image reference to deploy. spec.md §1 places
// the registry service itself fully out of scope; this is the seam a real
// implementation plugs into.
type ImageResolver interface {
	Resolve(tag string) (string, error)
}

// ImageResolverFunc adapts a plain function to an ImageResolver.
type ImageResolverFunc func(tag string) (string, error)

func (f ImageResolverFunc) Resolve(tag string) (string, error) { return f(tag) }

// Server is the HTTP surface's dependency set. ctx roots every Pod Manager
// deploy spawns, so cancelling it (process shutdown) tears every live
// supervisor down along with it.
type Server struct {
	ctx        context.Context
	clientset  kubernetes.Interface
	crClient   client.Client
	namespace  string
	registry   *podmanager.Registry
	resolver   ImageResolver
	defaultTTL time.Duration
	metrics    *metrics.Collectors
	log        logr.Logger
}

// New constructs the mux.Router carrying the four routes spec.md §6 names.
// clientset drives the watch stream the Event Watcher opens on deploy;
// crClient is the controller-runtime client used for every single-object
// Create/Delete issued against a pod.
func New(
	ctx context.Context,
	clientset kubernetes.Interface,
	crClient client.Client,
	namespace string,
	registry *podmanager.Registry,
	resolver ImageResolver,
	defaultTTL time.Duration,
	m *metrics.Collectors,
	log logr.Logger,
) *mux.Router {
	s := &Server{
		ctx:        ctx,
		clientset:  clientset,
		crClient:   crClient,
		namespace:  namespace,
		registry:   registry,
		resolver:   resolver,
		defaultTTL: defaultTTL,
		metrics:    m,
		log:        log.WithName("httpapi"),
	}

	r := mux.NewRouter()
	r.HandleFunc("/deploy", s.handleDeploy).Methods(http.MethodPost)
	r.HandleFunc("/wait", s.handleWait).Methods(http.MethodGet)
	r.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/delete", s.handleDelete).Methods(http.MethodDelete)
	return r
}

// envelope is the {payload, error} wire format spec.md §6 requires.
type envelope struct {
	Payload interface{}  `json:"payload,omitempty"`
	Error   *errorPayload `json:"error,omitempty"`
}

type errorPayload struct {
	Kind    acmerrors.Kind `json:"kind"`
	Message string         `json:"message"`
	Cause   string         `json:"cause,omitempty"`
}

func writePayload(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Payload: payload})
}

func writeError(w http.ResponseWriter, log logr.Logger, err error) {
	acmErr, ok := acmerrors.As(err)
	if !ok {
		acmErr = acmerrors.Internal("%s", err)
	}
	log.Error(acmErr, "request failed")

	body := errorPayload{Kind: acmErr.Kind, Message: acmErr.Message}
	if cause := acmErr.Unwrap(); cause != nil {
		body.Cause = cause.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(acmErr.HTTPStatus())
	_ = json.NewEncoder(w).Encode(envelope{Error: &body})
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tag := r.URL.Query().Get("tag")
	name := r.URL.Query().Get("name")
	ttl := s.defaultTTL
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			writeError(w, s.log, acmerrors.Internal("invalid ttl %q: %s", raw, err))
			return
		}
		ttl = parsed
	}

	image, err := s.resolver.Resolve(tag)
	if err != nil {
		writeError(w, s.log, acmerrors.Internal("resolving image for tag %q: %s", tag, err))
		return
	}

	pod := poddeploy.New(s.namespace, poddeploy.Spec{Image: image, RequestedName: name, TTL: ttl})
	if err := poddeploy.Create(ctx, s.crClient, pod); err != nil {
		writeError(w, s.log, acmerrors.Wrap(acmerrors.KindInternal, err, "creating pod"))
		return
	}

	// The supervisor must outlive this request, so it is rooted on the
	// server's own context rather than r.Context().
	s.registry.Deploy(s.ctx, s.clientset, s.crClient, s.namespace, pod.Name, ttl)
	if s.metrics != nil {
		s.metrics.Deploys.Inc()
		s.metrics.ManagedPods.Inc()
	}
	writePayload(w, http.StatusOK, pod)
}

func (s *Server) handleWait(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	pm, err := s.registry.Get(id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	pod, err := pm.Wait(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	t, err := pm.Refresh(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	writePayload(w, http.StatusOK, struct {
		Pod    interface{}   `json:"pod"`
		Ticket ticket.Ticket `json:"ticket"`
	}{Pod: pod, Ticket: t})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("ticket")
	pm, err := s.registry.Get(id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	t, err := pm.Refresh(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writePayload(w, http.StatusOK, t)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if err := poddeploy.Delete(r.Context(), s.crClient, s.namespace, id); err != nil {
		writeError(w, s.log, acmerrors.Wrap(acmerrors.KindInternal, err, "deleting pod %q", id))
		return
	}
	if s.metrics != nil {
		s.metrics.GCDeletes.WithLabelValues("explicit").Inc()
	}
	writePayload(w, http.StatusOK, nil)
}
