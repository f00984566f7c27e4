package http

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	x402 "github.com/x402-foundation/x402-multiversx"
	"github.com/x402-foundation/x402-multiversx/mechanisms/multiversx"
	"github.com/x402-foundation/x402-multiversx/mechanisms/multiversx/exact/facilitator"
	"github.com/x402-foundation/x402-multiversx/settlement"
)

const testPayTo = "erd1spyavw0956vq68xj8y4tenjpq2wd5a9p2c6j8gsz7ztyrnpxrruqzu66jx"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeFacilitator struct {
	mu          sync.Mutex
	verifyCalls int
	settleCalls int
	verifyErr   error
	settleErr   error
	deadline    time.Duration
	panicOn     string
}

func (f *fakeFacilitator) Verify(ctx context.Context, p x402.PaymentPayload, r x402.PaymentRequirements) (x402.VerifyResponse, error) {
	f.mu.Lock()
	f.verifyCalls++
	f.mu.Unlock()
	if f.panicOn == "verify" {
		panic("boom")
	}
	if f.verifyErr != nil {
		return x402.VerifyResponse{IsValid: false}, f.verifyErr
	}
	return x402.VerifyResponse{IsValid: true, Payer: p.Sender}, nil
}

func (f *fakeFacilitator) Settle(ctx context.Context, p x402.PaymentPayload, r x402.PaymentRequirements) (x402.SettleResponse, error) {
	f.mu.Lock()
	f.settleCalls++
	if deadline, ok := ctx.Deadline(); ok {
		f.deadline = time.Until(deadline)
	}
	f.mu.Unlock()
	if f.settleErr != nil {
		return x402.SettleResponse{Success: false}, f.settleErr
	}
	return x402.SettleResponse{Success: true, TxHash: "txhash", Payer: p.Sender, Network: r.Network}, nil
}

func (f *fakeFacilitator) GetSupported() x402.SupportedResponse {
	return x402.SupportedResponse{
		Kinds: []x402.SupportedKind{
			{X402Version: 2, Scheme: "exact", Network: "multiversx:D", Extra: map[string]interface{}{"relayer": "erd1relayer"}},
		},
	}
}

func validBody() map[string]interface{} {
	return map[string]interface{}{
		"payload": map[string]interface{}{
			"nonce":     1,
			"value":     "1000",
			"receiver":  testPayTo,
			"sender":    "erd1qyu5wthldzr8wx5c9ucg8kjagg0jfs53s8nr3zpz3hypefsdd8ssycr6th",
			"gasPrice":  1000000000,
			"gasLimit":  50000,
			"chainID":   "D",
			"version":   2,
			"signature": "abcd",
		},
		"requirements": map[string]interface{}{
			"network": "multiversx:D",
			"payTo":   testPayTo,
			"asset":   "EGLD",
			"amount":  "1000",
		},
	}
}

func post(t *testing.T, h http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case []byte:
		raw = b
	default:
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) x402.ErrorResponse {
	t.Helper()
	var resp x402.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode error response %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	server := NewServer(&fakeFacilitator{})

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("Expected a generated request ID")
	}
}

func TestSupported(t *testing.T) {
	server := NewServer(&fakeFacilitator{})

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/supported", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp x402.SupportedResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if len(resp.Kinds) != 1 || resp.Kinds[0].Network != "multiversx:D" {
		t.Errorf("Unexpected kinds %+v", resp.Kinds)
	}
	if resp.Kinds[0].Extra["relayer"] != "erd1relayer" {
		t.Errorf("Expected relayer extra, got %v", resp.Kinds[0].Extra)
	}
}

func TestVerifyHandler(t *testing.T) {
	fake := &fakeFacilitator{}
	server := NewServer(fake)

	w := post(t, server.Handler(), "/verify", validBody())
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp x402.VerifyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if !resp.IsValid || resp.Payer == "" {
		t.Errorf("Expected valid response with payer, got %+v", resp)
	}
}

func TestVerifyHandler_Rejections(t *testing.T) {
	missingSignature := validBody()
	delete(missingSignature["payload"].(map[string]interface{}), "signature")

	stringNonce := validBody()
	stringNonce["payload"].(map[string]interface{})["nonce"] = "1"

	missingAmount := validBody()
	delete(missingAmount["requirements"].(map[string]interface{}), "amount")

	tests := []struct {
		name string
		body interface{}
	}{
		{name: "not json", body: []byte("{nope")},
		{name: "empty", body: []byte("")},
		{name: "missing signature", body: missingSignature},
		{name: "string nonce", body: stringNonce},
		{name: "missing amount", body: missingAmount},
		{name: "missing requirements", body: map[string]interface{}{"payload": validBody()["payload"]}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeFacilitator{}
			w := post(t, NewServer(fake).Handler(), "/verify", tt.body)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d", w.Code)
			}
			if resp := decodeError(t, w); resp.Reason != x402.ErrCodeInvalidRequest || resp.Error == "" {
				t.Errorf("Expected invalid_request with message, got %+v", resp)
			}
			if fake.verifyCalls != 0 {
				t.Error("Expected facilitator not to be called")
			}
		})
	}
}

func TestVerifyHandler_VerifyError(t *testing.T) {
	fake := &fakeFacilitator{verifyErr: x402.NewVerifyError("expired", "erd1payer", "payment expired at 10, now 20")}
	w := post(t, NewServer(fake).Handler(), "/verify", validBody())

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
	resp := decodeError(t, w)
	if resp.Reason != "expired" {
		t.Errorf("Expected reason expired, got %s", resp.Reason)
	}
	if resp.Error != "payment expired at 10, now 20" {
		t.Errorf("Expected message, got %s", resp.Error)
	}
}

func TestSettleHandler(t *testing.T) {
	fake := &fakeFacilitator{}
	server := NewServer(fake, WithTimeouts(0, 5*time.Second))

	w := post(t, server.Handler(), "/settle", validBody())
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp x402.SettleResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if !resp.Success || resp.TxHash != "txhash" || resp.Network != "multiversx:D" {
		t.Errorf("Unexpected response %+v", resp)
	}
	if fake.deadline <= 0 || fake.deadline > 5*time.Second {
		t.Errorf("Expected settle deadline within 5s, got %s", fake.deadline)
	}
}

func TestSettleHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantReason string
		wantError  string
	}{
		{
			name:       "settle error",
			err:        x402.NewSettleError("already_in_progress", "erd1payer", "multiversx:D", "", "settlement already in progress"),
			wantReason: "already_in_progress",
			wantError:  "settlement already in progress",
		},
		{
			name:       "settle error without message",
			err:        &x402.SettleError{Reason: "previously_failed"},
			wantReason: "previously_failed",
			wantError:  "previously_failed",
		},
		{
			name:       "infrastructure error",
			err:        errors.New("database is locked"),
			wantReason: x402.ErrCodeInternal,
			wantError:  "database is locked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(t, NewServer(&fakeFacilitator{settleErr: tt.err}).Handler(), "/settle", validBody())
			if w.Code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d", w.Code)
			}
			resp := decodeError(t, w)
			if resp.Reason != tt.wantReason {
				t.Errorf("Expected reason %s, got %s", tt.wantReason, resp.Reason)
			}
			if resp.Error != tt.wantError {
				t.Errorf("Expected error %q, got %q", tt.wantError, resp.Error)
			}
		})
	}
}

func TestRequestIDPropagation(t *testing.T) {
	server := NewServer(&fakeFacilitator{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if got := w.Header().Get(RequestIDHeader); got != "req-123" {
		t.Errorf("Expected request ID req-123, got %s", got)
	}
}

func TestRecovery(t *testing.T) {
	w := post(t, NewServer(&fakeFacilitator{panicOn: "verify"}).Handler(), "/verify", validBody())

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
}

func TestMetricsAndObserver(t *testing.T) {
	var (
		mu     sync.Mutex
		routes []string
	)
	observe := func(route, method string, status int, d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		routes = append(routes, route)
	}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	server := NewServer(&fakeFacilitator{}, WithMetricsHandler(metrics), WithRequestObserver(observe))

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || w.Body.String() != "# metrics" {
		t.Errorf("Expected metrics output, got %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))

	mu.Lock()
	defer mu.Unlock()
	if len(routes) != 2 || routes[0] != "/metrics" || routes[1] != "unmatched" {
		t.Errorf("Unexpected observed routes %v", routes)
	}
}

func TestNoMetricsRouteByDefault(t *testing.T) {
	w := httptest.NewRecorder()
	NewServer(&fakeFacilitator{}).Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	server := NewServer(&fakeFacilitator{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- server.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not shut down")
	}
}

// End-to-end through the real facilitator with an in-memory store

type countingBroadcaster struct {
	calls int32
}

func (b *countingBroadcaster) Broadcast(ctx context.Context, tx *multiversx.Transaction) (string, error) {
	atomic.AddInt32(&b.calls, 1)
	time.Sleep(10 * time.Millisecond)
	return "e2e-hash", nil
}

func TestSettleEndToEnd(t *testing.T) {
	signer, err := multiversx.NewEd25519Signer(bytes.Repeat([]byte{0x01}, 32))
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}
	payload := x402.PaymentPayload{
		Nonce:    3,
		Value:    "5000",
		Receiver: testPayTo,
		Sender:   signer.Address(),
		GasPrice: 1_000_000_000,
		GasLimit: 50_000,
		ChainID:  "D",
		Version:  2,
	}
	sig, _ := signer.Sign(multiversx.CanonicalMessage(payload))
	payload.Signature = hex.EncodeToString(sig)

	sigVerifier, _ := multiversx.NewEd25519Verifier(multiversx.SignatureModeRaw)
	broadcaster := &countingBroadcaster{}
	scheme := facilitator.NewExactMultiversXScheme(
		facilitator.NewVerifier(sigVerifier, nil),
		facilitator.NewSettler(settlement.NewMemoryStore(), facilitator.NewDirectBroadcast(broadcaster)),
	)
	f := x402.Newx402Facilitator().Register(multiversx.NetworkDevnet, scheme)
	handler := NewServer(f).Handler()

	body := map[string]interface{}{
		"payload": payload,
		"requirements": x402.PaymentRequirements{
			Network: multiversx.NetworkDevnet,
			PayTo:   testPayTo,
			Asset:   multiversx.NativeAsset,
			Amount:  "5000",
		},
	}

	var wg sync.WaitGroup
	codes := make(chan int, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- post(t, handler, "/settle", body).Code
		}()
	}
	wg.Wait()
	close(codes)

	if calls := atomic.LoadInt32(&broadcaster.calls); calls != 1 {
		t.Errorf("Expected exactly 1 broadcast, got %d", calls)
	}

	w := post(t, handler, "/settle", body)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected replayed settle to succeed, got %d: %s", w.Code, w.Body.String())
	}
	var resp x402.SettleResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.TxHash != "e2e-hash" || resp.Payer != signer.Address() {
		t.Errorf("Unexpected response %+v", resp)
	}
	if calls := atomic.LoadInt32(&broadcaster.calls); calls != 1 {
		t.Errorf("Expected no further broadcast, got %d", calls)
	}

	for code := range codes {
		if code != http.StatusOK && code != http.StatusBadRequest {
			t.Errorf("Unexpected status %d", code)
		}
	}
}
