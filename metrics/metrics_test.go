package metrics

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerExposesCollectors(t *testing.T) {
	Rotations.WithLabelValues("google").Inc()
	Commits.WithLabelValues("succeeded").Inc()

	srv := NewServer("127.0.0.1:0", slog.New(slog.NewTextHandler(io.Discard, nil)))
	rr := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `hybridtag_rotations_total{protocol="google"}`)
	assert.Contains(t, body, `hybridtag_identity_commits_total{result="succeeded"}`)
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(AdvertisingErrors.WithLabelValues("start"))
	AdvertisingErrors.WithLabelValues("start").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(AdvertisingErrors.WithLabelValues("start")))

	Provisioned.Set(1)
	assert.Equal(t, float64(1), testutil.ToFloat64(Provisioned))
}
