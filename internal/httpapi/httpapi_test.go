package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	testclient "sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/alation/acm/internal/podmanager"
)

func decodeResponseBody(resp *http.Response) ([]byte, error) {
	return io.ReadAll(resp.Body)
}

func stubResolver(image string, err error) ImageResolver {
	return ImageResolverFunc(func(tag string) (string, error) { return image, err })
}

func newTestServer(t *testing.T, resolver ImageResolver) (*httptest.Server, client.Client, *podmanager.Registry) {
	t.Helper()
	clientset := fake.NewSimpleClientset()
	scheme := runtime.NewScheme()
	_ = clientgoscheme.AddToScheme(scheme)
	crClient := testclient.NewClientBuilder().WithScheme(scheme).Build()
	registry := podmanager.NewRegistry(logr.Discard(), nil)
	router := New(context.Background(), clientset, crClient, "default", registry, resolver, 30*time.Minute, nil, logr.Discard())
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, crClient, registry
}

func decodeEnvelope(t *testing.T, body []byte) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(body, &env))
	return env
}

func TestHandleDeploySuccess(t *testing.T) {
	srv, crClient, registry := newTestServer(t, stubResolver("registry.local/connectors/demo:latest", nil))

	resp, err := http.Post(srv.URL+"/deploy?tag=latest&name=demo+connector", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Payload corev1.Pod `json:"payload"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.NotEmpty(t, payload.Payload.Name)

	err = crClient.Get(context.Background(), client.ObjectKey{Namespace: "default", Name: payload.Payload.Name}, &corev1.Pod{})
	assert.NoError(t, err)

	_, err = registry.Get(payload.Payload.Name)
	assert.NoError(t, err, "a deployed pod should be registered with the pod manager registry")
}

func TestHandleDeployRejectsBadTTL(t *testing.T) {
	srv, _, _ := newTestServer(t, stubResolver("img", nil))

	resp, err := http.Post(srv.URL+"/deploy?tag=latest&ttl=not-a-duration", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	body, _ := decodeResponseBody(resp)
	env := decodeEnvelope(t, body)
	require.NotNil(t, env.Error)
	assert.Equal(t, "InternalStateMachineViolation", string(env.Error.Kind))
}

func TestHandleDeployResolverFailure(t *testing.T) {
	srv, _, _ := newTestServer(t, stubResolver("", assertError{"no such tag"}))

	resp, err := http.Post(srv.URL+"/deploy?tag=missing", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestHandleWaitUnknownID(t *testing.T) {
	srv, _, _ := newTestServer(t, stubResolver("img", nil))

	resp, err := http.Get(srv.URL + "/wait?id=nonexistent")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	body, _ := decodeResponseBody(resp)
	env := decodeEnvelope(t, body)
	require.NotNil(t, env.Error)
	assert.Equal(t, "PodManagerNotFound", string(env.Error.Kind))
}

func TestHandleRefreshUnknownID(t *testing.T) {
	srv, _, _ := newTestServer(t, stubResolver("img", nil))

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/refresh?ticket=nonexistent", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleDeleteTreatsMissingPodAsSuccess(t *testing.T) {
	srv, _, _ := newTestServer(t, stubResolver("img", nil))

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/delete?id=does-not-exist", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
