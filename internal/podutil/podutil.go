// Package podutil answers common questions about a Kubernetes pod's
// container statuses: whether it is running, crashed, or stuck pulling an
// image, and how to reach its gRPC port over cluster DNS. It is the Go
// counterpart of the source's k8s::PodExt trait.
package podutil

import (
	"strconv"
	"strings"

	corev1 "k8s.io/api/core/v1"

	"github.com/alation/acm/internal/acmerrors"
)

// Running reports whether any container has entered state.running.
func Running(pod *corev1.Pod) bool {
	for _, status := range pod.Status.ContainerStatuses {
		if status.State.Running != nil {
			return true
		}
	}
	return false
}

// Terminated reports whether any container has entered state.terminated.
func Terminated(pod *corev1.Pod) bool {
	for _, status := range pod.Status.ContainerStatuses {
		if status.State.Terminated != nil {
			return true
		}
	}
	return false
}

// Crashed reports whether any container is waiting on CrashLoopBackOff.
func Crashed(pod *corev1.Pod) bool {
	for _, status := range pod.Status.ContainerStatuses {
		if w := status.State.Waiting; w != nil && w.Reason == "CrashLoopBackOff" {
			return true
		}
	}
	return false
}

// WasErrImagePull reports whether any container is waiting on ErrImagePull.
func WasErrImagePull(pod *corev1.Pod) bool {
	for _, status := range pod.Status.ContainerStatuses {
		if w := status.State.Waiting; w != nil && w.Reason == "ErrImagePull" {
			return true
		}
	}
	return false
}

// ErrImagePull returns the *acmerrors.Error carrying the waiting container's
// message, or nil if no container is actually stuck on ErrImagePull. Callers
// should check WasErrImagePull first; this mirrors the source's
// PodExt::err_image_pull, which panics if called out of order, but here we
// simply return nil rather than reproduce that hazard.
func ErrImagePull(pod *corev1.Pod) *acmerrors.Error {
	for _, status := range pod.Status.ContainerStatuses {
		if w := status.State.Waiting; w != nil && w.Reason == "ErrImagePull" {
			return acmerrors.ErrImagePull(w.Message)
		}
	}
	return nil
}

// TerminatedReason returns the first non-empty reason among containers in a
// terminated state, or "<None Given>" if there is none.
func TerminatedReason(pod *corev1.Pod) string {
	for _, status := range pod.Status.ContainerStatuses {
		if t := status.State.Terminated; t != nil && t.Reason != "" {
			return t.Reason
		}
	}
	return "<None Given>"
}

// TerminatedMessage returns the first non-empty message among containers in
// a terminated state, or "<None Given>" if there is none.
func TerminatedMessage(pod *corev1.Pod) string {
	for _, status := range pod.Status.ContainerStatuses {
		if t := status.State.Terminated; t != nil && t.Message != "" {
			return t.Message
		}
	}
	return "<None Given>"
}

// DNS resolves the cluster-DNS name Kubernetes assigns to a pod's IP, per
// spec.md §6: "<pod-ip-with-dashes>.<namespace>.pod".
func DNS(pod *corev1.Pod) (string, error) {
	if pod.Status.PodIP == "" {
		return "", acmerrors.Internal("pod %s has no status.podIP yet", pod.Name)
	}
	if pod.Namespace == "" {
		return "", acmerrors.Internal("pod %s has no namespace", pod.Name)
	}
	subdomain := strings.ReplaceAll(pod.Status.PodIP, ".", "-")
	return subdomain + "." + pod.Namespace + ".pod", nil
}

// Port returns the first container's first declared containerPort.
func Port(pod *corev1.Pod) (int32, error) {
	if len(pod.Spec.Containers) == 0 {
		return 0, acmerrors.Internal("pod %s has no containers", pod.Name)
	}
	ports := pod.Spec.Containers[0].Ports
	if len(ports) == 0 {
		return 0, acmerrors.Internal("pod %s's first container has no declared ports", pod.Name)
	}
	return ports[0].ContainerPort, nil
}

// Address returns "<dns>:<port>", the gRPC dial target the Health Checker
// probes.
func Address(pod *corev1.Pod) (string, error) {
	dns, err := DNS(pod)
	if err != nil {
		return "", err
	}
	port, err := Port(pod)
	if err != nil {
		return "", err
	}
	return dns + ":" + strconv.Itoa(int(port)), nil
}
