package podutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func podWithContainerState(state corev1.ContainerState) *corev1.Pod {
	return &corev1.Pod{
		Status: corev1.PodStatus{
			ContainerStatuses: []corev1.ContainerStatus{{State: state}},
		},
	}
}

func TestRunning(t *testing.T) {
	assert.True(t, Running(podWithContainerState(corev1.ContainerState{Running: &corev1.ContainerStateRunning{}})))
	assert.False(t, Running(podWithContainerState(corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{}})))
}

func TestTerminated(t *testing.T) {
	assert.True(t, Terminated(podWithContainerState(corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{}})))
	assert.False(t, Terminated(podWithContainerState(corev1.ContainerState{Running: &corev1.ContainerStateRunning{}})))
}

func TestCrashed(t *testing.T) {
	tests := []struct {
		name   string
		reason string
		want   bool
	}{
		{name: "crash loop", reason: "CrashLoopBackOff", want: true},
		{name: "other reason", reason: "ContainerCreating", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pod := podWithContainerState(corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{Reason: tt.reason}})
			assert.Equal(t, tt.want, Crashed(pod))
		})
	}
}

func TestWasErrImagePullAndErrImagePull(t *testing.T) {
	pod := podWithContainerState(corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{
		Reason: "ErrImagePull", Message: "manifest unknown",
	}})
	require.True(t, WasErrImagePull(pod))
	err := ErrImagePull(pod)
	require.NotNil(t, err)
	assert.Contains(t, err.Message, "manifest unknown")

	healthyPod := podWithContainerState(corev1.ContainerState{Running: &corev1.ContainerStateRunning{}})
	assert.False(t, WasErrImagePull(healthyPod))
	assert.Nil(t, ErrImagePull(healthyPod))
}

func TestTerminatedReasonAndMessage(t *testing.T) {
	pod := podWithContainerState(corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{
		Reason: "OOMKilled", Message: "out of memory",
	}})
	assert.Equal(t, "OOMKilled", TerminatedReason(pod))
	assert.Equal(t, "out of memory", TerminatedMessage(pod))

	empty := &corev1.Pod{}
	assert.Equal(t, "<None Given>", TerminatedReason(empty))
	assert.Equal(t, "<None Given>", TerminatedMessage(empty))
}

func TestDNS(t *testing.T) {
	tests := []struct {
		name    string
		pod     *corev1.Pod
		want    string
		wantErr bool
	}{
		{
			name: "valid",
			pod: &corev1.Pod{
				ObjectMeta: metav1.ObjectMeta{Namespace: "tenant-a"},
				Status:     corev1.PodStatus{PodIP: "10.1.2.3"},
			},
			want: "10-1-2-3.tenant-a.pod",
		},
		{
			name:    "no pod ip",
			pod:     &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Namespace: "tenant-a"}},
			wantErr: true,
		},
		{
			name:    "no namespace",
			pod:     &corev1.Pod{Status: corev1.PodStatus{PodIP: "10.1.2.3"}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DNS(tt.pod)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPortAndAddress(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Namespace: "tenant-a"},
		Status:     corev1.PodStatus{PodIP: "10.1.2.3"},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{{
				Ports: []corev1.ContainerPort{{ContainerPort: 8080}},
			}},
		},
	}
	port, err := Port(pod)
	require.NoError(t, err)
	assert.EqualValues(t, 8080, port)

	addr, err := Address(pod)
	require.NoError(t, err)
	assert.Equal(t, "10-1-2-3.tenant-a.pod:8080", addr)

	_, err = Port(&corev1.Pod{})
	assert.Error(t, err)
}
