// Package ticket implements the Keep-Alive Ticket: the lease token handed
// back to clients on wait/refresh, and the scheduling primitive the
// Garbage Collector counts down against.
package ticket

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// DefaultTTL is used when a deploy request does not specify one, per
// spec.md §5 ("Lease TTL: ... default 30 min if unspecified").
const DefaultTTL = 30 * time.Minute

// Ticket encodes lease identity and expiry. It is immutable once created;
// every refresh constructs a new one. executionDate is the wall-clock field
// serialized to clients for display; deadline is the monotonic instant the
// Garbage Collector actually schedules against.
type Ticket struct {
	id            string
	executionDate time.Time
	deadline      time.Time
}

// New constructs a Ticket for pod whose lease expires ttl from now.
func New(pod string, ttl time.Duration) Ticket {
	now := time.Now()
	return Ticket{
		id:            pod,
		executionDate: now.Add(ttl),
		deadline:      now.Add(ttl),
	}
}

// ID is the ticket identifier, equal to the pod identifier it leases.
func (t Ticket) ID() string { return t.id }

// Deadline is the monotonic instant the Garbage Collector schedules
// against.
func (t Ticket) Deadline() time.Time { return t.deadline }

// SleepUntilDeadline blocks the calling goroutine until the deadline is
// reached or ctx is cancelled, returning ctx.Err() in the latter case.
func (t Ticket) SleepUntilDeadline(ctx context.Context) error {
	timer := time.NewTimer(time.Until(t.deadline))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// jsonTicket is the wire representation clients receive: {ticket, execution_date}.
type jsonTicket struct {
	Ticket        string `json:"ticket"`
	ExecutionDate int64  `json:"execution_date"`
}

// MarshalJSON serializes the ticket as {"ticket", "execution_date"}, per
// spec.md §3. The monotonic deadline is never serialized — it is a local
// scheduling detail only the Garbage Collector needs.
func (t Ticket) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonTicket{
		Ticket:        t.id,
		ExecutionDate: t.executionDate.Unix(),
	})
}

// LabelPatch applies the best-effort observability label
// metadata.labels.execution_date to the pod via a controller-runtime merge
// patch, the same client.MergeFrom pattern a reconciler uses to patch a
// single field without clobbering concurrent writers. Per spec.md §9's open
// question, a failure here is logged and not propagated: callers should not
// treat this as fatal to the lease.
func (t Ticket) LabelPatch(ctx context.Context, c client.Client, namespace string) error {
	pod := &corev1.Pod{}
	if err := c.Get(ctx, client.ObjectKey{Namespace: namespace, Name: t.id}, pod); err != nil {
		return err
	}
	original := pod.DeepCopy()
	if pod.Labels == nil {
		pod.Labels = map[string]string{}
	}
	pod.Labels["execution_date"] = timeToLabel(t.executionDate)
	return c.Patch(ctx, pod, client.MergeFrom(original))
}

func timeToLabel(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
