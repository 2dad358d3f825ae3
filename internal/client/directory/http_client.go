package directory

import (
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
)

const ModuleDirectoryClient = "directory_client"

// HTTPClient resolves employees against the employee service.
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

var _ EmployeeDirectory = (*HTTPClient)(nil)

func (c *HTTPClient) Lookup(ctx context.Context, employeeID string) (Employee, error) {
	endpoint := c.baseURL + "/api/employees/" + url.PathEscape(employeeID)
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return Employee{}, exception.NewSettlementError(ModuleDirectoryClient, "Failed to create lookup request", err, false)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Employee{}, exception.NewSettlementError(ModuleDirectoryClient, "Directory lookup call failed", err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Employee{}, ErrEmployeeNotFound
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		bodyString := strings.TrimSpace(string(bodyBytes))
		errMsg := fmt.Sprintf("Error response from directory: Status code %d, Body: %s", resp.StatusCode, bodyString)
		isRetryable := resp.StatusCode >= 500
		return Employee{}, exception.NewSettlementError(ModuleDirectoryClient, errMsg, errors.New(bodyString), isRetryable)
	}

	var employee Employee
	if err := json.NewDecoder(resp.Body).Decode(&employee); err != nil {
		return Employee{}, exception.NewSettlementError(ModuleDirectoryClient, "Failed to decode lookup response", err, false)
	}
	return employee, nil
}
