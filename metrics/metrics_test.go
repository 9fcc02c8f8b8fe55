package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	m := New()

	m.ObserveCheck("response code was 201", true)
	m.ObserveCheck("response code was 201", true)
	m.ObserveCheck("response includes upload offset", false)
	m.ObserveRequest("append", 204, 20*time.Millisecond)
	m.ObserveRequest("append", 0, time.Second)
	m.ObserveIteration("completed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Checks.WithLabelValues("response code was 201", "pass")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Checks.WithLabelValues("response includes upload offset", "fail")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Iterations.WithLabelValues("completed")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.Requests))
}

func TestMetrics_InstancesAreIndependent(t *testing.T) {
	first := New()
	second := New()

	first.ObserveIteration("aborted")

	assert.Equal(t, 1.0, testutil.ToFloat64(first.Iterations.WithLabelValues("aborted")))
	assert.Equal(t, 0.0, testutil.ToFloat64(second.Iterations.WithLabelValues("aborted")))
}

func TestListen(t *testing.T) {
	// Given
	m := New()
	m.ObserveIteration("completed")

	server, err := Listen("127.0.0.1:0", m, log.NewLogger())
	require.NoError(t, err)

	// When
	resp, err := http.Get("http://" + server.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	// Then
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `resumable_upload_bench_iterations_total{outcome="completed"} 1`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))
}

func TestListen_InvalidAddress(t *testing.T) {
	_, err := Listen("not-an-address", New(), log.NewLogger())
	assert.Error(t, err)
}
