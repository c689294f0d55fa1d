// Package poddeploy is the thin external-collaborator boundary spec.md §6
// calls out as "out of scope... specified only by interface": pod
// construction and deletion. It exists only so the HTTP surface has
// something real to call; it is deliberately minimal next to the Pod
// Manager's state machine, the genuine core of this repository.
package poddeploy

import (
	"context"
	"strconv"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/alation/acm/internal/names"
)

// deleteGracePeriodSeconds is the grace period spec.md §6 requires on every
// pod delete issued by the core.
const deleteGracePeriodSeconds int64 = 60

// Spec describes the connector pod a client asked for.
type Spec struct {
	// Image is the fully-qualified reference (<registry>/<repository>:<tag>)
	// resolved by the out-of-scope image-registry service before this
	// package is ever invoked.
	Image string
	// RequestedName is the client-supplied `name` query parameter, prior to
	// RFC-1123 sanitization.
	RequestedName string
	// TTL is the lease duration to stamp onto the pod's ttl label, purely
	// for observability; the Garbage Collector is the source of truth.
	TTL time.Duration
}

// New constructs the Pod object to submit to Kubernetes. It stamps the four
// labels spec.md §6 says are applied "by the deploy collaborator":
// servicer, servicer_dns, servicer_port, ttl.
func New(namespace string, spec Spec) *corev1.Pod {
	name := names.RFC1123Subdomain(spec.RequestedName)
	const containerPort = 8080
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels: map[string]string{
				"servicer":      name,
				"servicer_dns":  name + "." + namespace + ".pod",
				"servicer_port": strconv.Itoa(containerPort),
				"ttl":           spec.TTL.String(),
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{
				{
					Name:            name,
					Image:           spec.Image,
					ImagePullPolicy: corev1.PullIfNotPresent,
					Env: []corev1.EnvVar{
						{Name: "PORT", Value: strconv.Itoa(containerPort)},
					},
					Ports: []corev1.ContainerPort{
						{ContainerPort: containerPort, Protocol: corev1.ProtocolTCP},
					},
				},
			},
		},
	}
}

// Create submits pod to the API server through the controller-runtime
// client, the same Create a reconciler would issue for any object it owns.
func Create(ctx context.Context, c client.Client, pod *corev1.Pod) error {
	return c.Create(ctx, pod)
}

// Delete issues a pod delete with the 60s grace period spec.md §6 requires,
// mapping an upstream 404 to success (the pod is already gone, which is the
// caller's desired end state either way).
func Delete(ctx context.Context, c client.Client, namespace, id string) error {
	grace := deleteGracePeriodSeconds
	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: id, Namespace: namespace}}
	return client.IgnoreNotFound(c.Delete(ctx, pod, &client.DeleteOptions{GracePeriodSeconds: &grace}))
}
