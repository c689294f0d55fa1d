package ticket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	testclient "sigs.k8s.io/controller-runtime/pkg/client/fake"
)

func newFakeClient(objs ...client.Object) client.Client {
	scheme := runtime.NewScheme()
	_ = clientgoscheme.AddToScheme(scheme)
	return testclient.NewClientBuilder().WithScheme(scheme).WithObjects(objs...).Build()
}

func TestNewAndAccessors(t *testing.T) {
	before := time.Now()
	tk := New("my-pod", 5*time.Minute)
	after := time.Now()

	assert.Equal(t, "my-pod", tk.ID())
	assert.True(t, !tk.Deadline().Before(before.Add(5*time.Minute)))
	assert.True(t, !tk.Deadline().After(after.Add(5*time.Minute)))
}

func TestMarshalJSON(t *testing.T) {
	tk := New("pod-a", time.Minute)
	raw, err := json.Marshal(tk)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "pod-a", decoded["ticket"])
	assert.Contains(t, decoded, "execution_date")
	assert.NotContains(t, decoded, "deadline")
}

func TestSleepUntilDeadline(t *testing.T) {
	tk := New("pod-a", 10*time.Millisecond)
	err := tk.SleepUntilDeadline(context.Background())
	assert.NoError(t, err)
}

func TestSleepUntilDeadlineCancelled(t *testing.T) {
	tk := New("pod-a", time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := tk.SleepUntilDeadline(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLabelPatch(t *testing.T) {
	ns := "default"
	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "pod-a", Namespace: ns}}
	c := newFakeClient(pod)

	tk := New("pod-a", time.Minute)
	err := tk.LabelPatch(context.Background(), c, ns)
	require.NoError(t, err)

	got := &corev1.Pod{}
	require.NoError(t, c.Get(context.Background(), client.ObjectKey{Namespace: ns, Name: "pod-a"}, got))
	assert.Contains(t, got.Labels, "execution_date")
}
