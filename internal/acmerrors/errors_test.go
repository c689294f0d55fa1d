package acmerrors

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{name: "with message", err: New(KindPodDeleted, "pod %s gone", "x"), want: "PodDeleted: pod x gone"},
		{name: "empty message", err: &Error{Kind: KindInternal}, want: "InternalStateMachineViolation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindPodDeleted, 503},
		{KindErrImagePull, 404},
		{KindKubernetesUnresponsive, 500},
		{KindPhantomError, 400},
		{KindPodManagerNotFound, 404},
		{Kind("SomethingUnmapped"), 500},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := &Error{Kind: tt.kind}
			assert.Equal(t, tt.want, err.HTTPStatus())
		})
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("underlying failure")
	err := Wrap(KindInternal, cause, "wrapping")
	require.NotNil(t, err.Unwrap())
	assert.Contains(t, err.Unwrap().Error(), "underlying failure")
}

func TestAs(t *testing.T) {
	err := PodDeleted()
	var target error = err
	got, ok := As(target)
	require.True(t, ok)
	assert.Equal(t, KindPodDeleted, got.Kind)

	_, ok = As(errors.New("not an acm error"))
	assert.False(t, ok)
}

func TestConstructors(t *testing.T) {
	assert.Equal(t, KindPodCrashed, PodCrashed("OOMKilled", "bad").Kind)
	assert.Equal(t, KindPodRebooted, PodRebooted().Kind)
	assert.Equal(t, KindErrImagePull, ErrImagePull("no such image").Kind)
	assert.Equal(t, KindKubernetesUnresponsive, KubernetesUnresponsive("15m0s").Kind)
	assert.Equal(t, KindUnexpectedCloseOfEventStream, UnexpectedCloseOfEventStream().Kind)
	assert.Equal(t, KindHealthCheckDroppedItsChannel, HealthCheckDroppedItsChannel().Kind)
	assert.Equal(t, KindTooManyFailures, TooManyFailures("addr:1", errors.New("x")).Kind)
	assert.Equal(t, KindNotReady, NotReady().Kind)
	assert.Equal(t, KindRefreshChannelClosed, RefreshChannelClosed().Kind)
	assert.Equal(t, KindPodManagerNotFound, PodManagerNotFound("my-pod").Kind)
	assert.Equal(t, KindPhantomError, PhantomError().Kind)
	assert.Equal(t, KindInternal, GarbageCollectorUnresponsive("my-pod").Kind)
	assert.Equal(t, KindInternal, Internal("boom %d", 1).Kind)
}
