package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/nainya/rowstore/internal/logger"
	"github.com/nainya/rowstore/internal/metrics"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestObservabilityEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	m.RecordRowCreated()

	obs := NewObservabilityServer(0, reg, nil, logger.Nop())
	h := obs.Handler()

	code, body := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"service":"rowstore"`)

	code, body = get(t, h, "/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "ready")

	code, body = get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "rowstore_rows_created_total 1")
}

func TestReadinessFollowsStore(t *testing.T) {
	store := openTestStore(t)
	srv := NewServer(store, nil)
	h := NewObservabilityServer(0, prometheus.NewRegistry(), srv.Ready, logger.Nop()).Handler()

	code, _ := get(t, h, "/ready")
	assert.Equal(t, http.StatusOK, code)

	require.NoError(t, store.Close())
	code, body := get(t, h, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "not_ready")
}

func TestReadinessError(t *testing.T) {
	h := NewObservabilityServer(0, prometheus.NewRegistry(), func() error {
		return errors.New("warming up")
	}, logger.Nop()).Handler()

	code, body := get(t, h, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "warming up")
}

func TestInterceptorWithoutMetrics(t *testing.T) {
	intercept := GrpcMetricsInterceptor(nil, logger.Nop())
	info := &grpc.UnaryServerInfo{FullMethod: "/rowstore.v1.RowStore/Stats"}

	var resp any
	var err error
	require.NotPanics(t, func() {
		resp, err = intercept(context.Background(), "req", info, func(context.Context, any) (any, error) {
			return "resp", nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, "resp", resp)
}
