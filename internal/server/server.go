package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"bitacora/internal/engine"
	"bitacora/internal/repo"
	"bitacora/internal/stats"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"duplicate_ledger"`
	Message string         `json:"message" example:"work order OT-4471 already has an active ledger"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Bitacora API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Bitacora API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerLedgers(group, cfg.Engine)
	registerMessages(group, cfg.Engine)
	registerReceipts(group, cfg.Engine)
	registerStats(group, cfg.Engine)
	registerEvents(group, cfg.Engine)

	return router, nil
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var dup engine.DuplicateLedgerError
	if errors.As(err, &dup) {
		return newAPIError(http.StatusConflict, "duplicate_ledger", err.Error(), map[string]any{"order_id": dup.OrderID})
	}
	var inv engine.InvalidInputError
	if errors.As(err, &inv) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	var pe engine.PersistenceError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusBadGateway, "persistence_error", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	default:
		return "internal_error"
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Status string `json:"status" example:"ok"`
		} `json:"body"`
	}, error) {
		out := &struct {
			Body struct {
				Status string `json:"status" example:"ok"`
			} `json:"body"`
		}{}
		out.Body.Status = "ok"
		return out, nil
	})
}

func registerLedgers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-tracking",
		Method:        http.MethodPost,
		Path:          "/ledgers",
		Summary:       "Start tracking a work order",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusConflict,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		Body StartTrackingRequest `json:"body"`
	}) (*struct {
		Body LedgerResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.StartTrackingOptions{OrderID: input.Body.OrderID, Actor: actor}
		if input.Body.GroupingCode != nil {
			opts.GroupingCode = *input.Body.GroupingCode
		}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		job, err := e.StartTracking(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LedgerResponse `json:"body"`
		}{Body: ledgerResponse(job, actor.ID)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-ledgers",
		Method:      http.MethodGet,
		Path:        "/ledgers",
		Summary:     "List ledgers",
		Errors:      []int{http.StatusUnauthorized, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Search string `query:"search" doc:"Substring filter on work-order id and grouping code"`
		Unread bool   `query:"unread" doc:"Only ledgers with messages the caller has not acknowledged"`
	}) (*struct {
		Body []LedgerResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		filters := engine.JobFilters{Search: input.Search}
		if input.Unread {
			filters.UnreadFor = actor.ID
		}
		jobs, err := e.ListJobs(ctx, filters)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []LedgerResponse `json:"body"`
		}{Body: mapLedgers(jobs, actor.ID)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-ledger",
		Method:      http.MethodGet,
		Path:        "/ledgers/{job_id}",
		Summary:     "Get one ledger",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body LedgerResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		job, err := e.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LedgerResponse `json:"body"`
		}{Body: ledgerResponse(job, actor.ID)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-ledger",
		Method:      http.MethodDelete,
		Path:        "/ledgers/{job_id}",
		Summary:     "Delete a ledger (administrators only)",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if actor.Sector != "ADMIN" {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "only the ADMIN sector may delete ledgers", nil)
		}
		if err := e.Repo.DeleteJob(ctx, input.JobID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMessages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "append-message",
		Method:        http.MethodPost,
		Path:          "/ledgers/{job_id}/messages",
		Summary:       "Append a message to a ledger",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		JobID string               `path:"job_id"`
		Body  AppendMessageRequest `json:"body"`
	}) (*struct {
		Body LedgerResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		job, err := e.AppendMessage(ctx, input.JobID, actor, input.Body.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LedgerResponse `json:"body"`
		}{Body: ledgerResponse(job, actor.ID)}, nil
	})
}

func registerReceipts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "record-receipt",
		Method:      http.MethodPost,
		Path:        "/ledgers/{job_id}/messages/{message_id}/receipts",
		Summary:     "Acknowledge one message",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		JobID     string `path:"job_id"`
		MessageID string `path:"message_id"`
	}) (*struct {
		Body LedgerResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		job, err := e.RecordReceipt(ctx, input.JobID, input.MessageID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LedgerResponse `json:"body"`
		}{Body: ledgerResponse(job, actor.ID)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-all-receipts",
		Method:      http.MethodPost,
		Path:        "/ledgers/{job_id}/receipts",
		Summary:     "Acknowledge every message in a ledger",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body LedgerResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		job, err := e.RecordAllReceipts(ctx, input.JobID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LedgerResponse `json:"body"`
		}{Body: ledgerResponse(job, actor.ID)}, nil
	})
}

func registerStats(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "ledger-stats",
		Method:      http.MethodGet,
		Path:        "/ledgers/{job_id}/stats",
		Summary:     "Per-ledger completion stats and sector signatures",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body LedgerStatsResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		job, err := e.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LedgerStatsResponse `json:"body"`
		}{Body: ledgerStatsResponse(job)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "system-stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Totals across all ledgers",
		Errors:      []int{http.StatusUnauthorized, http.StatusBadGateway},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SystemStatsResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		jobs, err := e.ListJobs(ctx, engine.JobFilters{})
		if err != nil {
			return nil, handleError(err)
		}
		totals := stats.System(jobs)
		return &struct {
			Body SystemStatsResponse `json:"body"`
		}{Body: SystemStatsResponse{JobCount: totals.JobCount, ReceiptCount: totals.ReceiptCount}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the audit log",
		Errors:      []int{http.StatusUnauthorized, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		N     int    `query:"n" default:"20" minimum:"1" maximum:"500"`
		Type  string `query:"type"`
		JobID string `query:"job_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		n := input.N
		if n <= 0 {
			n = 20
		}
		events, err := e.Repo.LatestEvents(ctx, n, input.Type, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(events)}, nil
	})
}
