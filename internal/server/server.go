package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/payrollx/payrun/internal/domain/repository"
	"github.com/payrollx/payrun/internal/engine/lifecycle"
	"github.com/payrollx/payrun/internal/support/exception"
)

// Config for the HTTP API handler.
type Config struct {
	Manager  *lifecycle.Manager
	Repo     repository.PayrollRepository
	Registry *prometheus.Registry
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_state"`
	Message string         `json:"message" example:"cannot execute a run in status PROCESSING"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the payroll run API.
func New(cfg Config) http.Handler {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	// Override Huma errors to use the required envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Payrun API", "1.0.0")
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerRuns(group, cfg.Manager)
	registerHealth(router, cfg.Repo)
	if cfg.Registry != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	return router
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps domain errors onto the error envelope.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve *exception.ValidationError
	if errors.As(err, &ve) {
		var details map[string]any
		if len(ve.EmployeeIDs) > 0 {
			details = map[string]any{"employee_ids": ve.EmployeeIDs}
		}
		return newAPIError(http.StatusBadRequest, "validation_failed", ve.Message, details)
	}
	if errors.Is(err, repository.ErrRunNotFound) || errors.Is(err, repository.ErrItemNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var ise *exception.InvalidStateError
	if errors.As(err, &ise) {
		return newAPIError(http.StatusConflict, "invalid_state", ise.Error(), map[string]any{
			"current_status": ise.Current,
		})
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{
		"error": exception.ExtractErrorMessage(err),
	})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "invalid_state"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerRuns(api huma.API, m *lifecycle.Manager) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-payroll-run",
		Method:        http.MethodPost,
		Path:          "/organizations/{organizationId}/payroll-runs",
		Summary:       "Create payroll run",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OrganizationID string           `path:"organizationId"`
		Body           CreateRunRequest `json:"body"`
	}) (*struct {
		Body RunResponse `json:"body"`
	}, error) {
		if len(input.Body.Items) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_failed", "items are required", nil)
		}
		currency := input.Body.Currency
		if currency == "" {
			currency = "USDC"
		}
		items := make([]lifecycle.ItemInput, 0, len(input.Body.Items))
		for _, it := range input.Body.Items {
			items = append(items, lifecycle.ItemInput{EmployeeID: it.EmployeeID, Amount: it.Amount})
		}
		run, err := m.CreateRun(ctx, lifecycle.CreateRunInput{
			OrganizationID: input.OrganizationID,
			ScheduledAt:    input.Body.ScheduledAt,
			Currency:       currency,
			CreatedBy:      input.Body.CreatedBy,
			Items:          items,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunResponse `json:"body"`
		}{Body: runResponse(run)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-payroll-run",
		Method:      http.MethodGet,
		Path:        "/payroll-runs/{runId}",
		Summary:     "Get payroll run",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"runId"`
	}) (*struct {
		Body RunResponse `json:"body"`
	}, error) {
		run, err := m.GetRun(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunResponse `json:"body"`
		}{Body: runResponse(run)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-payroll-runs",
		Method:      http.MethodGet,
		Path:        "/organizations/{organizationId}/payroll-runs",
		Summary:     "List payroll runs",
	}, func(ctx context.Context, input *struct {
		OrganizationID string `path:"organizationId"`
	}) (*struct {
		Body []RunResponse `json:"body"`
	}, error) {
		runs, err := m.ListRuns(ctx, input.OrganizationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RunResponse `json:"body"`
		}{Body: mapRuns(runs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "execute-payroll-run",
		Method:        http.MethodPost,
		Path:          "/payroll-runs/{runId}/execute",
		Summary:       "Execute payroll run",
		DefaultStatus: http.StatusAccepted,
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		RunID string            `path:"runId"`
		Body  ExecuteRunRequest `json:"body,omitempty"`
	}) (*struct {
		Body ExecuteRunResponse `json:"body"`
	}, error) {
		run, err := m.ExecuteRun(ctx, input.RunID, input.Body.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ExecuteRunResponse `json:"body"`
		}{Body: ExecuteRunResponse{ID: run.ID, Status: run.Status.String()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-payroll-run",
		Method:        http.MethodDelete,
		Path:          "/payroll-runs/{runId}",
		Summary:       "Delete payroll run",
		DefaultStatus: http.StatusNoContent,
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"runId"`
	}) (*struct{}, error) {
		if err := m.DeleteRun(ctx, input.RunID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

// registerHealth exposes a liveness endpoint that probes repository
// connectivity with a cheap lookup.
func registerHealth(router chi.Router, repo repository.PayrollRepository) {
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		_, err := repo.FindRunByID(ctx, "healthz-probe")
		if err != nil && !errors.Is(err, repository.ErrRunNotFound) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
}
