package ledger_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payrollx/payrun/internal/client/ledger"
	"github.com/payrollx/payrun/internal/config"
	"github.com/payrollx/payrun/internal/support/exception"
)

func newClient(baseURL string) *ledger.HTTPClient {
	return ledger.NewHTTPClient(config.ClientConfig{BaseURL: baseURL, TimeoutSeconds: 5})
}

func TestSubmit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/transactions", r.URL.Path)

		var req ledger.SubmitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "9xQeWvG816bUx9EP", req.ToAddress)
		assert.Equal(t, int64(100_000), req.Amount)
		assert.Equal(t, "item-1", req.Reference)

		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"tx_signature":"5KtP9zvhE2S"}`))
	}))
	defer server.Close()

	sig, err := newClient(server.URL).Submit(context.Background(), ledger.SubmitRequest{
		ToAddress: "9xQeWvG816bUx9EP",
		Amount:    100_000,
		TokenMint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Signature: "mpc-sig",
		Reference: "item-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "5KtP9zvhE2S", sig)
}

func TestSubmit_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rpc node down", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newClient(server.URL).Submit(context.Background(), ledger.SubmitRequest{})
	require.Error(t, err)

	var se *exception.SettlementError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.IsRetryable())
}

func TestSubmit_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid signature", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	_, err := newClient(server.URL).Submit(context.Background(), ledger.SubmitRequest{})
	require.Error(t, err)

	var se *exception.SettlementError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.IsRetryable())
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		want   ledger.ConfirmStatus
		hasErr bool
	}{
		{"confirmed", `{"status":"confirmed"}`, ledger.ConfirmConfirmed, false},
		{"pending", `{"status":"pending"}`, ledger.ConfirmPending, false},
		{"failed", `{"status":"failed","error":"instruction error"}`, ledger.ConfirmFailed, false},
		{"unknown status", `{"status":"finalizing"}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "GET", r.Method)
				assert.Equal(t, "/api/transactions/5KtP9zvhE2S", r.URL.Path)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			status, err := newClient(server.URL).Confirm(context.Background(), "5KtP9zvhE2S")
			if tt.hasErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}
}
