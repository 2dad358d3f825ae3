package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/payrollx/payrun/internal/config"
	"github.com/payrollx/payrun/internal/support/exception"
	"github.com/payrollx/payrun/internal/support/logger"
)

const ModuleLedgerClient = "ledger_client"

type submitResponse struct {
	TxSignature string `json:"tx_signature"`
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HTTPClient talks to the ledger gateway that relays transfers to the chain.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(cfg config.ClientConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
}

var _ Ledger = (*HTTPClient)(nil)

func (c *HTTPClient) Submit(ctx context.Context, submitReq SubmitRequest) (string, error) {
	body, err := json.Marshal(submitReq)
	if err != nil {
		return "", exception.NewSettlementError(ModuleLedgerClient, "Failed to encode submit request", err, false)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/transactions", bytes.NewReader(body))
	if err != nil {
		return "", exception.NewSettlementError(ModuleLedgerClient, "Failed to create submit request", err, false)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", exception.NewSettlementError(ModuleLedgerClient, "Ledger submit call failed", err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		bodyBytes, _ := io.ReadAll(resp.Body)
		bodyString := strings.TrimSpace(string(bodyBytes))
		errMsg := fmt.Sprintf("Error response from ledger: Status code %d, Body: %s", resp.StatusCode, bodyString)
		isRetryable := resp.StatusCode >= 500
		return "", exception.NewSettlementError(ModuleLedgerClient, errMsg, errors.New(bodyString), isRetryable)
	}

	var result submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", exception.NewSettlementError(ModuleLedgerClient, "Failed to decode submit response", err, false)
	}
	if result.TxSignature == "" {
		return "", exception.NewSettlementError(ModuleLedgerClient, "Ledger returned an empty transaction signature", nil, false)
	}

	logger.Debugf("Submitted transfer to ledger (reference: %s, tx: %s)", submitReq.Reference, result.TxSignature)
	return result.TxSignature, nil
}

func (c *HTTPClient) Confirm(ctx context.Context, txSignature string) (ConfirmStatus, error) {
	endpoint := c.baseURL + "/api/transactions/" + url.PathEscape(txSignature)
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return "", exception.NewSettlementError(ModuleLedgerClient, "Failed to create status request", err, false)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", exception.NewSettlementError(ModuleLedgerClient, "Ledger status call failed", err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		bodyString := strings.TrimSpace(string(bodyBytes))
		errMsg := fmt.Sprintf("Error response from ledger: Status code %d, Body: %s", resp.StatusCode, bodyString)
		isRetryable := resp.StatusCode >= 500
		return "", exception.NewSettlementError(ModuleLedgerClient, errMsg, errors.New(bodyString), isRetryable)
	}

	var result statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", exception.NewSettlementError(ModuleLedgerClient, "Failed to decode status response", err, false)
	}

	switch ConfirmStatus(result.Status) {
	case ConfirmConfirmed, ConfirmFailed, ConfirmPending:
		return ConfirmStatus(result.Status), nil
	default:
		return "", exception.NewSettlementError(ModuleLedgerClient,
			fmt.Sprintf("Ledger returned unknown transaction status: %s", result.Status), nil, false)
	}
}
