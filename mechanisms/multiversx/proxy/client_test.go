package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402-foundation/x402-multiversx/mechanisms/multiversx"
)

func testTransaction() *multiversx.Transaction {
	return &multiversx.Transaction{
		Nonce:     7,
		Value:     "1000000000000000000",
		Receiver:  "erd1spyavw0956vq68xj8y4tenjpq2wd5a9p2c6j8gsz7ztyrnpxrruqzu66jx",
		Sender:    "erd1qyu5wthldzr8wx5c9ucg8kjagg0jfs53s8nr3zpz3hypefsdd8ssycr6th",
		GasPrice:  1_000_000_000,
		GasLimit:  50_000,
		Data:      []byte("hello"),
		Signature: "aa",
		ChainID:   "D",
		Version:   2,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(nil, nil, Config{URL: server.URL + "/"})
	require.NoError(t, err)
	return client
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(nil, nil, Config{})
	assert.Error(t, err)
}

func TestBroadcast(t *testing.T) {
	var received map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, sendPath, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		writeJSON(w, http.StatusOK, `{"data":{"txHash":"abc123"},"error":"","code":"successful"}`)
	})

	txHash, err := client.Broadcast(context.Background(), testTransaction())
	require.NoError(t, err)
	assert.Equal(t, "abc123", txHash)

	assert.Equal(t, float64(7), received["nonce"])
	assert.Equal(t, "1000000000000000000", received["value"])
	assert.Equal(t, "aGVsbG8=", received["data"])
	assert.Equal(t, "D", received["chainID"])
	assert.NotContains(t, received, "relayer")
}

func TestBroadcast_Rejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, `{"data":null,"error":"lowerNonceInTx: true","code":"bad_request"}`)
	})

	_, err := client.Broadcast(context.Background(), testTransaction())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "lowerNonceInTx: true", apiErr.Err)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Contains(t, err.Error(), "transaction rejected")
}

func TestBroadcast_UnexpectedStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Broadcast(context.Background(), testTransaction())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestBroadcast_MissingHash(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"data":{},"code":"successful"}`)
	})

	_, err := client.Broadcast(context.Background(), testTransaction())
	assert.Error(t, err)
}

func TestBroadcast_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Broadcast(ctx, testTransaction())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimulate(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus string
		wantReason string
	}{
		{
			name:       "intra shard success",
			status:     http.StatusOK,
			body:       `{"data":{"status":"success","hash":"h1"},"code":"successful"}`,
			wantStatus: "success",
		},
		{
			name:       "intra shard failure",
			status:     http.StatusOK,
			body:       `{"data":{"status":"fail","failReason":"insufficient funds"},"code":"successful"}`,
			wantStatus: "fail",
			wantReason: "insufficient funds",
		},
		{
			name:   "cross shard success",
			status: http.StatusOK,
			body: `{"data":{"result":{"senderShard":{"status":"success","hash":"h2"},` +
				`"receiverShard":{"status":"success","hash":"h2"}}},"code":"successful"}`,
			wantStatus: "success",
		},
		{
			name:   "cross shard receiver failure",
			status: http.StatusOK,
			body: `{"data":{"result":{"senderShard":{"status":"success"},` +
				`"receiverShard":{"status":"fail","failReason":"out of gas"}}},"code":"successful"}`,
			wantStatus: "fail",
			wantReason: "out of gas",
		},
		{
			name:       "rejected by gateway",
			status:     http.StatusBadRequest,
			body:       `{"data":null,"error":"invalid signature","code":"bad_request"}`,
			wantStatus: "fail",
			wantReason: "invalid signature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, simulatePath, r.URL.Path)
				writeJSON(w, tt.status, tt.body)
			})

			result, err := client.Simulate(context.Background(), testTransaction())
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, result.Status)
			assert.Equal(t, tt.wantReason, result.FailReason)
			assert.Equal(t, tt.wantStatus == "success", result.Success())
		})
	}
}

func TestSimulate_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, `{"data":null,"error":"internal","code":"internal_issue"}`)
	})

	_, err := client.Simulate(context.Background(), testTransaction())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "internal_issue", apiErr.Code)
}

func TestNetworkConfig(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, configPath, r.URL.Path)
		writeJSON(w, http.StatusOK, `{"data":{"config":{"erd_chain_id":"D","erd_min_gas_price":1000000000,`+
			`"erd_min_gas_limit":50000,"erd_gas_per_data_byte":1500}},"code":"successful"}`)
	})

	cfg, err := client.NetworkConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "D", cfg.ChainID)
	assert.Equal(t, uint64(1_000_000_000), cfg.MinGasPrice)
	assert.Equal(t, uint64(50_000), cfg.MinGasLimit)
	assert.Equal(t, uint64(1500), cfg.GasPerDataByte)
}

func TestAPIError(t *testing.T) {
	empty := &APIError{Status: 502}
	assert.True(t, empty.IsEmpty())
	assert.Contains(t, empty.Error(), "502")

	full := &APIError{Err: "bad", Code: "bad_request"}
	assert.False(t, full.IsEmpty())
	assert.Equal(t, "gateway error: bad (bad_request)", full.Error())
}
