package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bangumi-scanner/internal/resolver"
)

func TestNewCollectorsRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewCollectors(reg)
	require.NoError(t, err)
	_, err = NewCollectors(reg)
	require.Error(t, err)
}

func TestInstrumentFetcher(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c, err := NewCollectors(reg)
	require.NoError(t, err)

	calls := 0
	fetcher := c.InstrumentFetcher(resolver.FetcherFunc(func(context.Context, string) (resolver.Response, error) {
		calls++
		switch calls {
		case 1:
			return resolver.Response{StatusCode: http.StatusOK}, nil
		case 2:
			return resolver.Response{StatusCode: http.StatusNotFound}, nil
		default:
			return resolver.Response{}, errors.New("connection reset")
		}
	}))

	for range 3 {
		_, _ = fetcher.Fetch(context.Background(), "http://example.test")
	}
	assert.InDelta(t, 1, testutil.ToFloat64(c.fetchTotal.WithLabelValues("200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.fetchTotal.WithLabelValues("404")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.fetchTotal.WithLabelValues("error")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(c.fetchDuration))
}

func TestServerRoutes(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c, err := NewCollectors(reg)
	require.NoError(t, err)
	c.ObserveFetch("200", 10*time.Millisecond)

	handler := NewServer(reg, c, nil).Handler()
	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = get("/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `bangumi_fetch_requests_total{code="200"} 1`)

	rec = get("/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.InDelta(t, 2, testutil.ToFloat64(c.httpRequests.WithLabelValues("GET", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.httpRequests.WithLabelValues("GET", "404")), 0)
}

func TestServerStartShutdown(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	srv := NewServer(reg, nil, nil)
	require.NoError(t, srv.Start("127.0.0.1:0"))
	require.NotEmpty(t, srv.Addr())

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, NewServer(reg, nil, nil).Shutdown(ctx), "shutdown before start is a no-op")
}
