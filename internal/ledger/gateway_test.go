package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academicchain/issuance-be/internal/config"
	"github.com/academicchain/issuance-be/internal/worker/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *GatewayClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGatewayClient(config.LedgerConfig{
		Name:       "hedera",
		GatewayURL: srv.URL,
		APIKey:     "test-key",
		Network:    "testnet",
		Timeout:    5 * time.Second,
	})
}

func TestGatewayClient_Mint(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/tokens/mint", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hash-1", req["unique_hash"])
		assert.Equal(t, "ipfs://QmTest", req["metadata_uri"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"token_id":      "0.0.5005",
			"serial_number": 42,
		})
	})

	result, err := client.Mint(context.Background(), "hash-1", "ipfs://QmTest")
	require.NoError(t, err)
	assert.Equal(t, "0.0.5005", result.TokenID)
	assert.Equal(t, int64(42), result.SerialNumber)
}

func TestGatewayClient_Anchor(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/anchors", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"tx_id": "ALGO-TX-1"})
	})

	result, err := client.Anchor(context.Background(), "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "ALGO-TX-1", result.TxID)
}

func TestGatewayClient_Transfer(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/tokens/transfer", r.URL.Path)
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "0.0.5005", req["token_id"])
		assert.Equal(t, "0.0.9001", req["recipient_account_id"])
		w.WriteHeader(http.StatusOK)
	})

	err := client.Transfer(context.Background(), "0.0.5005", 42, "0.0.9001")
	assert.NoError(t, err)
}

func TestGatewayClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantItem    bool
		wantAdapter bool
	}{
		{
			name:     "422 is item scoped",
			status:   http.StatusUnprocessableEntity,
			body:     `{"error":"metadata rejected"}`,
			wantItem: true,
		},
		{
			name:     "409 is item scoped",
			status:   http.StatusConflict,
			body:     `{"error":"duplicate serial"}`,
			wantItem: true,
		},
		{
			name:        "500 is adapter scoped",
			status:      http.StatusInternalServerError,
			body:        `{"error":"node unavailable"}`,
			wantAdapter: true,
		},
		{
			name:        "401 is adapter scoped",
			status:      http.StatusUnauthorized,
			body:        `{"error":"bad key"}`,
			wantAdapter: true,
		},
		{
			name:        "403 is adapter scoped",
			status:      http.StatusForbidden,
			body:        `{"error":"key revoked"}`,
			wantAdapter: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := client.Mint(context.Background(), "hash-1", "ipfs://QmTest")
			require.Error(t, err)
			assert.Equal(t, tt.wantItem, domain.IsItemError(err))
			assert.Equal(t, tt.wantAdapter, domain.IsAdapterError(err))
		})
	}
}

func TestGatewayClient_ConnectionRefusedIsAdapterError(t *testing.T) {
	client := NewGatewayClient(config.LedgerConfig{
		Name:       "xrpl",
		GatewayURL: "http://127.0.0.1:1", // nothing listens here
		Timeout:    500 * time.Millisecond,
	})

	_, err := client.Anchor(context.Background(), "hash-1")
	require.Error(t, err)
	assert.True(t, domain.IsAdapterError(err))
	assert.Contains(t, err.Error(), "xrpl")
}

func TestGatewayClient_EmptyTokenID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	})

	_, err := client.Mint(context.Background(), "hash-1", "")
	require.Error(t, err)
	assert.True(t, domain.IsAdapterError(err))
}

func TestNewRegistry(t *testing.T) {
	cfg := config.LedgersConfig{
		Primary: config.LedgerConfig{Name: "hedera", GatewayURL: "http://localhost:7546"},
		Secondaries: []config.LedgerConfig{
			{Name: "algorand", GatewayURL: "http://localhost:7547"},
			{Name: "xrpl", GatewayURL: "http://localhost:7548"},
		},
	}

	reg, err := NewRegistry(cfg)
	require.NoError(t, err)
	assert.Equal(t, "hedera", reg.Primary().Name())
	assert.Len(t, reg.Secondaries(), 2)

	a, err := reg.Secondary("algorand")
	require.NoError(t, err)
	assert.Equal(t, "algorand", a.Name())

	_, err = reg.Secondary("solana")
	assert.Error(t, err)

	// duplicate secondary names are rejected
	cfg.Secondaries = append(cfg.Secondaries, config.LedgerConfig{Name: "xrpl", GatewayURL: "http://localhost:7549"})
	_, err = NewRegistry(cfg)
	assert.Error(t, err)
}
