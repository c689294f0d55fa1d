// Package acmerrors declares the closed error taxonomy used throughout the
// Pod Manager. Every error that can cross a channel boundary or reach the
// HTTP layer is one of the Kinds declared here.
package acmerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies one of the errors a Pod Manager may terminate with.
type Kind string

const (
	KindPodDeleted                   Kind = "PodDeleted"
	KindPodCrashed                   Kind = "PodCrashed"
	KindPodRebooted                  Kind = "PodRebooted"
	KindErrImagePull                 Kind = "ErrImagePull"
	KindKubernetesUnresponsive       Kind = "KubernetesUnresponsive"
	KindUnexpectedCloseOfEventStream Kind = "UnexpectedCloseOfEventStream"
	KindHealthCheckDroppedItsChannel Kind = "HealthCheckDroppedItsChannel"
	KindTooManyFailures              Kind = "TooManyFailures"
	KindNotReady                     Kind = "NotReady"
	KindRefreshChannelClosed         Kind = "RefreshChannelClosed"
	KindPodManagerNotFound           Kind = "PodManagerNotFound"
	KindPhantomError                 Kind = "PhantomError"
	// KindInternal covers severe state-machine violations that the source
	// models as distinct unit-struct errors (GarbageCollectorUnresponsive,
	// InboundResultChannelDropped, OutboundResultChannelDropped,
	// SendChannelClosed) but that spec.md's closed taxonomy does not name
	// individually. They all surface identically to callers: a 500 with a
	// message pointing at the violated invariant. The HTTP layer also reports
	// failures outside the taxonomy under this kind: an unparsable ttl, a
	// failed image resolution, and failed pod create/delete calls.
	KindInternal Kind = "InternalStateMachineViolation"
)

// httpStatus mirrors spec.md §7's Kind -> HTTP status table.
var httpStatus = map[Kind]int{
	KindPodDeleted:                   503,
	KindPodCrashed:                   503,
	KindPodRebooted:                  503,
	KindErrImagePull:                 404,
	KindKubernetesUnresponsive:       500,
	KindUnexpectedCloseOfEventStream: 500,
	KindHealthCheckDroppedItsChannel: 500,
	KindTooManyFailures:              503,
	KindNotReady:                     503,
	KindRefreshChannelClosed:         503,
	KindPodManagerNotFound:           404,
	KindPhantomError:                 400,
	KindInternal:                     500,
}

// Error is the concrete error type flowing through every Pod Manager
// channel. It is never unwound as a panic; it is always a value.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap lets errors.Is/errors.As and github.com/pkg/errors.Cause see
// through to whatever underlying error (if any) was wrapped.
func (e *Error) Unwrap() error {
	return e.cause
}

// HTTPStatus returns the status code the HTTP layer must answer with when
// this error is the terminal result of a request.
func (e *Error) HTTPStatus() int {
	if status, ok := httpStatus[e.Kind]; ok {
		return status
	}
	return 500
}

// New constructs an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind to an existing error as its cause, the Go analogue of
// the source's #[source] field on its derived error structs.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: errors.WithStack(cause)}
}

// As reports whether err is (or wraps) an *Error, returning it if so.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func PodDeleted() *Error {
	return New(KindPodDeleted, "the pod was deleted before it ever became healthy")
}

func PodCrashed(reason, message string) *Error {
	return New(KindPodCrashed, "the connector crashed before it entered the running phase (reason=%q, message=%q)", reason, message)
}

func PodRebooted() *Error {
	return New(KindPodRebooted, "the pod was rebooted; OCF has no tolerance for restart cycles")
}

func ErrImagePull(message string) *Error {
	return New(KindErrImagePull, "%s", message)
}

func KubernetesUnresponsive(elapsed string) *Error {
	return New(KindKubernetesUnresponsive, "the Kubernetes API server has not responded for %s", elapsed)
}

func UnexpectedCloseOfEventStream() *Error {
	return New(KindUnexpectedCloseOfEventStream, "Kubernetes permanently closed the event stream for this pod")
}

func HealthCheckDroppedItsChannel() *Error {
	return New(KindHealthCheckDroppedItsChannel, "the server health check daemon exited without ever reporting a result")
}

func TooManyFailures(uri string, cause error) *Error {
	return Wrap(KindTooManyFailures, cause, "too many failures connecting to %s", uri)
}

func NotReady() *Error {
	return New(KindNotReady, "the pod's gRPC server did not become reachable within its budget")
}

func RefreshChannelClosed() *Error {
	return New(KindRefreshChannelClosed, "this pod appears to have already been shut down or garbage collected")
}

func PodManagerNotFound(id string) *Error {
	return New(KindPodManagerNotFound, "no pod manager is registered for %q", id)
}

func PhantomError() *Error {
	return New(KindPhantomError, "this pod's wait() already resolved to an error and cannot be replayed")
}

func GarbageCollectorUnresponsive(pod string) *Error {
	return New(KindInternal, "the garbage collector for pod %q exited earlier than expected", pod)
}

func Internal(format string, args ...interface{}) *Error {
	return New(KindInternal, format, args...)
}
