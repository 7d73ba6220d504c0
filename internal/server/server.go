package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"briefline/internal/alignment"
	"briefline/internal/config"
	"briefline/internal/domain"
	"briefline/internal/engine"
	"briefline/internal/errs"
	"briefline/internal/logging"
	"briefline/internal/policy"
	"briefline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"state_conflict"`
	Message string         `json:"message" example:"brief BR-2025-0001 is approved, not submitted"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type output[T any] struct {
	Body T
}

func reply[T any](v T) *output[T] {
	return &output[T]{Body: v}
}

// New returns an HTTP handler exposing the briefline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := logging.OrNop(cfg.Engine.Log)
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema and request decoding failures are bad requests; 422 is reserved for domain validation.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(log))
	router.Use(middleware.Recoverer)
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	router.Handle("/metrics", promhttp.Handler())

	hcfg := huma.DefaultConfig("Briefline API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(api)
	registerDocs(router, basePath)
	registerBriefs(group, cfg.Engine)
	registerDecisions(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerCatalog(group, cfg.Engine)
	registerUsers(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerConfig(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
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

// handleError maps error kinds onto HTTP statuses. Unclassified failures are logged
// and reported without detail.
func handleError(e engine.Engine, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var details map[string]any
	if fields := errs.FieldsOf(err); len(fields) > 0 {
		details = map[string]any{"fields": fields}
	}
	switch errs.KindOf(err) {
	case errs.KindUnauthorized:
		return newAPIError(http.StatusUnauthorized, "unauthorized", err.Error(), nil)
	case errs.KindForbidden:
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	case errs.KindNotFound:
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errs.KindValidationFailed:
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), details)
	case errs.KindStateConflict:
		return newAPIError(http.StatusConflict, "state_conflict", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	logging.OrNop(e.Log).Error("internal error", zap.Error(err))
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "state_conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

var (
	readErrors   = []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound}
	writeErrors  = []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity}
	createErrors = []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity}
)

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == "/health" {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Briefline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*output[map[string]string], error) {
		return reply(map[string]string{"status": "ok"}), nil
	})
}

type idPath struct {
	ID string `path:"id"`
}

func registerBriefs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-brief",
		Method:        http.MethodPost,
		Path:          "/briefs",
		Summary:       "Create a draft brief",
		DefaultStatus: http.StatusCreated,
		Errors:        append(createErrors, http.StatusNotFound),
	}, func(ctx context.Context, input *struct {
		Body BriefRequest
	}) (*output[domain.Brief], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.CreateBrief(ctx, input.Body.input(actorID))
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(b), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-briefs",
		Method:      http.MethodGet,
		Path:        "/briefs",
		Summary:     "List briefs visible to the caller",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		ClubID string `query:"club_id"`
		Limit  int    `query:"limit" default:"50"`
	}) (*output[[]domain.Brief], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListBriefs(ctx, engine.BriefListOptions{
			Status:  input.Status,
			ClubID:  input.ClubID,
			Limit:   normalizeLimit(input.Limit),
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-brief",
		Method:      http.MethodGet,
		Path:        "/briefs/{id}",
		Summary:     "Get brief",
		Errors:      readErrors,
	}, func(ctx context.Context, input *idPath) (*output[domain.Brief], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.GetBrief(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(b), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-brief",
		Method:      http.MethodPatch,
		Path:        "/briefs/{id}",
		Summary:     "Edit a draft or a brief sent back for changes",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdateBriefRequest
	}) (*output[domain.Brief], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		b, err := e.UpdateBrief(ctx, input.Body.patch(input.ID, actorID))
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(b), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-brief",
		Method:      http.MethodPost,
		Path:        "/briefs/{id}/submit",
		Summary:     "Submit a brief for validation",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *idPath) (*output[engine.SubmitResult], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.SubmitBrief(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-brief",
		Method:      http.MethodPost,
		Path:        "/briefs/{id}/cancel",
		Summary:     "Withdraw a brief",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *idPath) (*output[domain.Brief], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.CancelBrief(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(b), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "brief-policy",
		Method:      http.MethodGet,
		Path:        "/briefs/{id}/policy",
		Summary:     "Evaluate the policy rules for a brief",
		Errors:      readErrors,
	}, func(ctx context.Context, input *idPath) (*output[policy.Result], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.CheckBrief(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "brief-alignment",
		Method:      http.MethodGet,
		Path:        "/briefs/{id}/alignment",
		Summary:     "Score a brief against its brand strategy",
		Errors:      readErrors,
	}, func(ctx context.Context, input *idPath) (*output[alignment.Result], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Alignment(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "brief-approvals",
		Method:      http.MethodGet,
		Path:        "/briefs/{id}/approvals",
		Summary:     "Decision history of a brief",
		Errors:      readErrors,
	}, func(ctx context.Context, input *idPath) (*output[[]domain.Approval], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListApprovals(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-policy",
		Method:      http.MethodPost,
		Path:        "/policy/check",
		Summary:     "Evaluate the policy rules for unsaved brief content",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body DraftRequest
	}) (*output[policy.Result], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.CheckDraft(ctx, input.Body.input(actorID))
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(res), nil
	})
}

func registerDecisions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "decide-brief",
		Method:      http.MethodPost,
		Path:        "/briefs/{id}/decision",
		Summary:     "Record a validator decision",
		Description: "Approving creates the production task in the same transaction. A brief that is no longer submitted fails with 409.",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body DecisionRequest
	}) (*output[engine.DecisionResult], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Decide(ctx, engine.DecisionInput{
			BriefID:  input.ID,
			Decision: input.Body.Decision,
			Notes:    input.Body.Notes,
			Priority: input.Body.Priority,
			SLADays:  input.Body.SLADays,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "tag-outcome",
		Method:      http.MethodPost,
		Path:        "/briefs/{id}/outcome",
		Summary:     "Tag the outcome of a delivered brief",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body OutcomeRequest
	}) (*output[domain.Brief], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.TagOutcome(ctx, engine.OutcomeInput{
			BriefID: input.ID,
			Outcome: input.Body.Outcome,
			Note:    input.Body.OutcomeNote,
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(b), nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "Production queue ordered by due date",
		Errors:      []int{http.StatusUnauthorized, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Mine   bool   `query:"mine"`
		Limit  int    `query:"limit" default:"50"`
	}) (*output[[]domain.ProductionTask], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListTasks(ctx, engine.TaskListOptions{
			Status:  input.Status,
			Mine:    input.Mine,
			Limit:   normalizeLimit(input.Limit),
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get a production task and its next statuses",
		Errors:      readErrors,
	}, func(ctx context.Context, input *idPath) (*output[TransitionsResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTask(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(TransitionsResponse{Task: t, Allowed: nonNilSlice(engine.AllowedTaskTransitions(t.Status))}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}/status",
		Summary:     "Move a production task",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body TaskStatusRequest
	}) (*output[domain.ProductionTask], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTaskStatus(ctx, engine.TaskStatusInput{
			TaskID:     input.ID,
			Status:     input.Body.Status,
			Notes:      input.Body.Notes,
			AssigneeID: input.Body.AssigneeID,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(t), nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*output[domain.User], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.Me(ctx, actorID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/me/notifications",
		Summary:     "In-app notifications, newest first",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Unread bool `query:"unread"`
		Limit  int  `query:"limit" default:"50"`
	}) (*output[[]domain.Notification], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListNotifications(ctx, actorID, input.Unread, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "read-notification",
		Method:        http.MethodPost,
		Path:          "/me/notifications/{id}/read",
		Summary:       "Mark a notification read",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.MarkNotificationRead(ctx, input.ID, actorID); err != nil {
			return nil, handleError(e, err)
		}
		return &struct{}{}, nil
	})
}

func registerCatalog(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-regions",
		Method:      http.MethodGet,
		Path:        "/regions",
		Summary:     "List regions",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*output[[]domain.Region], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListRegions(ctx, actorID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-region",
		Method:        http.MethodPost,
		Path:          "/regions",
		Summary:       "Create region",
		DefaultStatus: http.StatusCreated,
		Errors:        createErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateRegionRequest
	}) (*output[domain.Region], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.CreateRegion(ctx, domain.Region{ID: input.Body.ID, Name: input.Body.Name}, actorID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(r), nil
	})

	registerDelete(api, e, "delete-region", "/regions/{id}", "Delete an unused region", e.DeleteRegion)

	huma.Register(api, huma.Operation{
		OperationID: "list-brands",
		Method:      http.MethodGet,
		Path:        "/brands",
		Summary:     "List brands",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*output[[]domain.Brand], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListBrands(ctx, actorID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-brand",
		Method:        http.MethodPost,
		Path:          "/brands",
		Summary:       "Create brand",
		DefaultStatus: http.StatusCreated,
		Errors:        createErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateBrandRequest
	}) (*output[domain.Brand], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.CreateBrand(ctx, domain.Brand{ID: input.Body.ID, Name: input.Body.Name}, actorID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(b), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-clubs",
		Method:      http.MethodGet,
		Path:        "/clubs",
		Summary:     "List clubs",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*output[[]domain.Club], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListClubs(ctx, actorID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-club",
		Method:        http.MethodPost,
		Path:          "/clubs",
		Summary:       "Create club",
		DefaultStatus: http.StatusCreated,
		Errors:        createErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateClubRequest
	}) (*output[domain.Club], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c := domain.Club{
			ID:       input.Body.ID,
			Name:     input.Body.Name,
			Tier:     input.Body.Tier,
			BrandID:  input.Body.BrandID,
			RegionID: input.Body.RegionID,
		}
		if input.Body.LocalContext != nil {
			c.Context = *input.Body.LocalContext
		}
		c, err := e.CreateClub(ctx, c, actorID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-club-context",
		Method:      http.MethodPatch,
		Path:        "/clubs/{id}/context",
		Summary:     "Replace a club's local context",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body domain.LocalContext
	}) (*output[domain.Club], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UpdateClubContext(ctx, input.ID, input.Body, actorID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(c), nil
	})

	registerDelete(api, e, "delete-club", "/clubs/{id}", "Delete a club without briefs", e.DeleteClub)

	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/templates",
		Summary:     "List request templates",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*output[[]domain.RequestTemplate], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListTemplates(ctx, actorID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-template",
		Method:        http.MethodPost,
		Path:          "/templates",
		Summary:       "Create request template",
		DefaultStatus: http.StatusCreated,
		Errors:        createErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTemplateRequest
	}) (*output[domain.RequestTemplate], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTemplate(ctx, domain.RequestTemplate{
			ID:              input.Body.ID,
			Name:            input.Body.Name,
			Category:        input.Body.Category,
			Fields:          input.Body.Fields,
			DefaultSLADays:  input.Body.DefaultSLADays,
			DefaultPriority: input.Body.DefaultPriority,
		}, actorID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(t), nil
	})

	registerDelete(api, e, "delete-template", "/templates/{id}", "Delete an unused template", e.DeleteTemplate)
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Role   string `query:"role"`
		ClubID string `query:"club_id"`
	}) (*output[[]domain.User], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListUsers(ctx, repo.UserFilter{Role: input.Role, ClubID: input.ClubID}, actorID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create user",
		DefaultStatus: http.StatusCreated,
		Errors:        createErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest
	}) (*output[domain.User], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.CreateUser(ctx, domain.User{
			ID:      input.Body.ID,
			Name:    input.Body.Name,
			Email:   input.Body.Email,
			Role:    input.Body.Role,
			ClubIDs: input.Body.ClubIDs,
		}, actorID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(u), nil
	})

	registerDelete(api, e, "delete-user", "/users/{id}", "Delete a user with no history", e.DeleteUser)

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/users/{id}/api-keys",
		Summary:       "Issue an API key",
		Description:   "The raw key is only returned once.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body CreateAPIKeyRequest
	}) (*output[APIKeyResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		raw, key, err := e.CreateAPIKey(ctx, input.ID, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(APIKeyResponse{
			ID:        key.ID,
			UserID:    key.UserID,
			Name:      key.Name,
			Key:       raw,
			CreatedAt: key.CreatedAt,
		}), nil
	})
}

func registerDelete(api huma.API, e engine.Engine, opID, route, summary string, del func(ctx context.Context, id, actorID string) error) {
	huma.Register(api, huma.Operation{
		OperationID:   opID,
		Method:        http.MethodDelete,
		Path:          route,
		Summary:       summary,
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := del(ctx, input.ID, actorID); err != nil {
			return nil, handleError(e, err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit log, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"brief,task,club,config"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*output[paginatedEvents], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		items, err := e.ListEvents(ctx, repo.EventFilter{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Before:     before,
			Limit:      limit + 1,
		}, actorID)
		if err != nil {
			return nil, handleError(e, err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return reply(resp), nil
	})
}

func registerConfig(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-config",
		Method:      http.MethodGet,
		Path:        "/config",
		Summary:     "Active brand strategy and rule configuration",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*output[*config.Config], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Actor(ctx, actorID); err != nil {
			return nil, handleError(e, err)
		}
		cfg, err := e.LoadConfig(ctx)
		if err != nil {
			return nil, handleError(e, err)
		}
		return reply(redactConfig(cfg)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-config",
		Method:      http.MethodPut,
		Path:        "/config",
		Summary:     "Replace the configuration",
		Description: "Accepts the YAML document or its JSON equivalent. The new rules apply to the next evaluation.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, _ *struct{}) (*output[*config.Config], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		data := bodyBytes(ctx)
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		cfg, err := config.FromYAML(data)
		if err != nil {
			return nil, newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), nil)
		}
		if err := e.ImportConfig(ctx, cfg, actorID); err != nil {
			return nil, handleError(e, err)
		}
		return reply(redactConfig(cfg)), nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
