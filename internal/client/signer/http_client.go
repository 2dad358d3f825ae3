package signer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/payrollx/payrun/internal/config"
	"github.com/payrollx/payrun/internal/support/exception"
	"github.com/payrollx/payrun/internal/support/logger"
)

const ModuleSignerClient = "signer_client"

type signRequest struct {
	Message  string   `json:"message"`
	ShareIDs []string `json:"share_ids"`
}

type signResponse struct {
	Signature string `json:"signature"`
}

// HTTPClient is a threshold signing service client. Each request carries a
// short-lived HS256 bearer token.
type HTTPClient struct {
	baseURL   string
	jwtSecret string
	client    *http.Client
}

func NewHTTPClient(cfg config.SignerClientConfig) *HTTPClient {
	return &HTTPClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		jwtSecret: cfg.JWTSecret,
		client:    &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
}

var _ Signer = (*HTTPClient)(nil)

func (c *HTTPClient) Sign(ctx context.Context, message []byte, keyShareIDs []string) (string, error) {
	token, err := c.serviceToken()
	if err != nil {
		return "", exception.NewSettlementError(ModuleSignerClient, "Failed to create service token", err, false)
	}

	body, err := json.Marshal(signRequest{
		Message:  base64.StdEncoding.EncodeToString(message),
		ShareIDs: keyShareIDs,
	})
	if err != nil {
		return "", exception.NewSettlementError(ModuleSignerClient, "Failed to encode sign request", err, false)
	}

	url := c.baseURL + "/api/mpc/sign"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", exception.NewSettlementError(ModuleSignerClient, "Failed to create sign request", err, false)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", exception.NewSettlementError(ModuleSignerClient, "Signing service call failed", err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		bodyString := strings.TrimSpace(string(bodyBytes))
		errMsg := fmt.Sprintf("Error response from signing service: Status code %d, Body: %s", resp.StatusCode, bodyString)
		isRetryable := resp.StatusCode >= 500
		return "", exception.NewSettlementError(ModuleSignerClient, errMsg, errors.New(bodyString), isRetryable)
	}

	var result signResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", exception.NewSettlementError(ModuleSignerClient, "Failed to decode sign response", err, false)
	}
	if result.Signature == "" {
		return "", exception.NewSettlementError(ModuleSignerClient, "Signing service returned an empty signature", nil, false)
	}

	logger.Debugf("Obtained signature from signing service (shares: %d)", len(keyShareIDs))
	return result.Signature, nil
}

func (c *HTTPClient) serviceToken() (string, error) {
	claims := jwt.MapClaims{
		"sub": "payrun",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.jwtSecret))
}
