package pushclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	path string
	body string
}

func newTestServer(t *testing.T, status int, response string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		captured.path = r.URL.Path
		captured.body = string(body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(svr.Close)
	return svr, captured
}

func TestSendMetric(t *testing.T) {
	svr, captured := newTestServer(t, http.StatusOK, "")

	client, err := New(svr.URL, WithJob("testjob"))
	require.NoError(t, err)

	require.NoError(t, client.SendMetric(context.Background(), "testmetric", 3.14))
	assert.Equal(t, "/metrics/job/testjob", captured.path)
	assert.Equal(t, "testmetric 3.14\n", captured.body)

	require.NoError(t, client.SendMetric(context.Background(), "testmetric", 314))
	assert.Equal(t, "testmetric 314\n", captured.body)
}

func TestSendMetricDefaultJob(t *testing.T) {
	svr, captured := newTestServer(t, http.StatusOK, "")

	client, err := New(svr.URL + "/")
	require.NoError(t, err)

	require.NoError(t, client.SendMetric(context.Background(), "testmetric", 1))
	assert.Equal(t, "/metrics/job/default", captured.path)
}

func TestSendMetricJobEscaping(t *testing.T) {
	svr, captured := newTestServer(t, http.StatusOK, "")

	client, err := New(svr.URL, WithJob("some job"))
	require.NoError(t, err)

	require.NoError(t, client.SendMetric(context.Background(), "testmetric", 1))
	assert.Equal(t, "/metrics/job/some job", captured.path)
}

func TestSendMetricBadName(t *testing.T) {
	client, err := New("http://pushgateway.test:9091/")
	require.NoError(t, err)

	tests := []struct {
		name   string
		metric string
	}{
		{"empty", ""},
		{"non-ascii", "métrica"},
		{"space", "test metric"},
		{"tab", "test\tmetric"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, client.SendMetric(context.Background(), tc.metric, 1))
		})
	}
}

func TestSendMetricServerError(t *testing.T) {
	svr, _ := newTestServer(t, http.StatusBadRequest, "text format parsing error\n")

	client, err := New(svr.URL)
	require.NoError(t, err)

	err = client.SendMetric(context.Background(), "testmetric", 1)
	require.Error(t, err)

	statusErr := &StatusError{}
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.Code)
	assert.Contains(t, statusErr.Detail, "text format parsing error")
}

func TestNewFromRecord(t *testing.T) {
	client, err := NewFromRecord(map[string]string{"url": "http://pushgateway.test:9091/"})
	require.NoError(t, err)
	assert.Equal(t, "http://pushgateway.test:9091/", client.endpoint)

	_, err = NewFromRecord(nil)
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = NewFromRecord(map[string]string{})
	assert.ErrorIs(t, err, ErrNotReady)
}
