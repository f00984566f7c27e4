package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/x402-foundation/x402-multiversx"
)

func TestFacilitatorHooks(t *testing.T) {
	m := New()
	network := x402.Network("multiversx:D")

	verifyCtx := x402.FacilitatorVerifyContext{HookPayment: x402.HookPayment{Network: network}}
	require.NoError(t, m.AfterVerify(x402.FacilitatorVerifyResultContext{FacilitatorVerifyContext: verifyCtx, Duration: time.Millisecond}))
	result, err := m.OnVerifyFailure(x402.FacilitatorVerifyFailureContext{
		FacilitatorVerifyContext: verifyCtx,
		Error:                    x402.NewVerifyError("expired", "", ""),
	})
	require.NoError(t, err)
	assert.Nil(t, result)

	settleCtx := x402.FacilitatorSettleContext{HookPayment: x402.HookPayment{Network: network}}
	require.NoError(t, m.AfterSettle(x402.FacilitatorSettleResultContext{FacilitatorSettleContext: settleCtx}))
	require.NoError(t, m.OnSettleFailure(x402.FacilitatorSettleFailureContext{
		FacilitatorSettleContext: settleCtx,
		Error:                    errors.New("store down"),
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("multiversx:D", "valid", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("multiversx:D", "invalid", "expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.settlements.WithLabelValues("multiversx:D", "success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.settlements.WithLabelValues("multiversx:D", "failure", x402.ErrCodeInternal)))
}

func TestObserveSweep(t *testing.T) {
	m := New()

	m.ObserveSweep(3, time.Second, nil)
	m.ObserveSweep(2, time.Second, nil)
	m.ObserveSweep(0, time.Second, errors.New("locked"))

	assert.Equal(t, 5.0, testutil.ToFloat64(m.sweptRecords))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sweeps.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweeps.WithLabelValues("error")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRequest("/settle", http.MethodPost, http.StatusOK, 10*time.Millisecond)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, `x402_http_requests_total{method="POST",route="/settle",status="200"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}
