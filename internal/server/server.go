package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"conecta/internal/auth"
	"conecta/internal/domain"
	"conecta/internal/repo"
	"conecta/internal/workflow"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   workflow.Engine
	BasePath string
	Auth     AuthConfig
	// Mutations per second allowed per client; zero disables limiting.
	RateLimit rate.Limit
	RateBurst int
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"capability idea.triage required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Conecta API.
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
			// Schema/request validation errors are the caller's fault
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newRateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Conecta API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerIdeas(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMe(group)
	registerDevAuth(group, cfg.Auth)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

// newRateLimitMiddleware throttles mutating requests per client address.
// Reads pass through untouched so the public tracker stays cheap to poll.
func newRateLimitMiddleware(limit rate.Limit, burst int) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst <= 0 {
		burst = int(limit)
		if burst < 1 {
			burst = 1
		}
	}
	var mu sync.Mutex
	limiters := map[string]*rate.Limiter{}
	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if l, ok := limiters[key]; ok {
			return l
		}
		l := rate.NewLimiter(limit, burst)
		limiters[key] = l
		return l
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			switch req.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, req)
				return
			}
			host, _, err := net.SplitHostPort(req.RemoteAddr)
			if err != nil {
				host = req.RemoteAddr
			}
			if !limiterFor(host).Allow() {
				respondStatusError(w, newAPIError(http.StatusTooManyRequests, "rate_limited", "too many requests", nil))
				return
			}
			next.ServeHTTP(w, req)
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ue auth.UnauthorizedError
	if errors.As(err, &ue) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"capability": string(ue.Capability)})
	}
	var oe auth.OwnershipError
	if errors.As(err, &oe) {
		return newAPIError(http.StatusForbidden, "forbidden_owner", err.Error(), map[string]any{"project_id": oe.ProjectID})
	}
	var te workflow.InvalidTransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", err.Error(), map[string]any{
			"from": te.From,
			"to":   te.To,
		})
	}
	var ve workflow.ValidationError
	if errors.As(err, &ve) {
		details := map[string]any{}
		if ve.Field != "" {
			details["field"] = ve.Field
		}
		return newAPIError(http.StatusBadRequest, "validation_error", err.Error(), details)
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
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "invalid_transition"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerIdeas(api huma.API, e workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-idea",
		Method:        http.MethodPost,
		Path:          "/ideas",
		Summary:       "Submit idea",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body SubmitIdeaRequest `json:"body"`
	}) (*struct {
		Body IdeaResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		opts := workflow.SubmitIdeaOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Category:    input.Body.Category,
			Priority:    input.Body.Priority,
		}
		if input.Body.Submitter != nil {
			opts.Submitter.Name = input.Body.Submitter.Name
			opts.Submitter.Email = input.Body.Submitter.Email
			opts.Submitter.Phone = input.Body.Submitter.Phone
		}
		i, err := e.SubmitIdea(ctx, actor, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IdeaResponse `json:"body"`
		}{Body: ideaResponse(i)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-ideas",
		Method:      http.MethodGet,
		Path:        "/ideas",
		Summary:     "List ideas",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" enum:"pendente,em_analise,aprovada,rejeitada,atribuida"`
		Category string `query:"category"`
		Priority string `query:"priority"`
		Search   string `query:"search"`
		Page     int    `query:"page" default:"1"`
		PageSize int    `query:"page_size"`
	}) (*struct {
		Body pagedIdeas `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		page, pageSize := normalizePage(e, input.Page, input.PageSize)
		items, total, err := e.Repo.ListIdeas(ctx, repo.IdeaFilters{
			Status:   input.Status,
			Category: input.Category,
			Priority: input.Priority,
			Search:   input.Search,
			Page:     page,
			PageSize: pageSize,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body pagedIdeas `json:"body"`
		}{Body: pagedIdeas{
			Items:      mapIdeas(items),
			Total:      total,
			Page:       page,
			PageSize:   pageSize,
			TotalPages: totalPages(total, pageSize),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-idea",
		Method:      http.MethodGet,
		Path:        "/ideas/{id}",
		Summary:     "Get idea",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body IdeaResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		i, err := e.Repo.GetIdea(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IdeaResponse `json:"body"`
		}{Body: ideaResponse(i)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "triage-idea",
		Method:      http.MethodPost,
		Path:        "/ideas/{id}/triage",
		Summary:     "Triage idea",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body TriageRequest `json:"body"`
	}) (*struct {
		Body IdeaResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Target == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "target is required", nil)
		}
		i, err := e.Triage(ctx, actor, input.ID, input.Body.Target, input.Body.Notes)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IdeaResponse `json:"body"`
		}{Body: ideaResponse(i)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-idea",
		Method:      http.MethodPost,
		Path:        "/ideas/{id}/assign",
		Summary:     "Assign idea to a class",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body AssignRequest `json:"body"`
	}) (*struct {
		Body struct {
			Idea    IdeaResponse    `json:"idea"`
			Project ProjectResponse `json:"project"`
		} `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		i, p, err := e.Assign(ctx, actor, input.ID, assignmentFromRequest(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Idea    IdeaResponse    `json:"idea"`
				Project ProjectResponse `json:"project"`
			} `json:"body"`
		}{}
		out.Body.Idea = ideaResponse(i)
		out.Body.Project = projectResponse(p)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "backlog-idea",
		Method:      http.MethodPost,
		Path:        "/ideas/{id}/backlog",
		Summary:     "Return idea to the backlog",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body IdeaResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		i, err := e.ToBacklog(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IdeaResponse `json:"body"`
		}{Body: ideaResponse(i)}, nil
	})
}

func registerProjects(api huma.API, e workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "Public project tracker",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" enum:"em_desenvolvimento,testando,concluido,suspenso"`
		Category string `query:"category"`
		Priority string `query:"priority"`
		Search   string `query:"search"`
		Page     int    `query:"page" default:"1"`
		PageSize int    `query:"page_size"`
	}) (*struct {
		Body pagedProjects `json:"body"`
	}, error) {
		page, pageSize := normalizePage(e, input.Page, input.PageSize)
		var statuses []string
		if input.Status != "" {
			statuses = []string{input.Status}
		} else if e.Config != nil {
			statuses = e.Config.Tracker.DefaultStatuses
		}
		items, total, err := e.Repo.ListProjects(ctx, repo.ProjectFilters{
			Statuses: statuses,
			Category: input.Category,
			Priority: input.Priority,
			Search:   input.Search,
			Page:     page,
			PageSize: pageSize,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body pagedProjects `json:"body"`
		}{Body: pagedProjects{
			Items:      mapProjects(items),
			Total:      total,
			Page:       page,
			PageSize:   pageSize,
			TotalPages: totalPages(total, pageSize),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-updates",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/updates",
		Summary:     "List project updates",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []ProjectUpdateResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProject(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		updates, err := e.Repo.ListProjectUpdates(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ProjectUpdateResponse, 0, len(updates))
		for _, u := range updates {
			res = append(res, updateResponse(u))
		}
		return &struct {
			Body []ProjectUpdateResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-project",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/claim",
		Summary:     "Claim project ownership",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body ClaimProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.ClaimProject(ctx, actor, input.ID, studentFromRequest(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "post-project-update",
		Method:        http.MethodPost,
		Path:          "/projects/{id}/updates",
		Summary:       "Post project update",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body PostUpdateRequest `json:"body"`
	}) (*struct {
		Body ProjectUpdateResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.PostUpdate(ctx, actor, input.ID, input.Body.Message)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectUpdateResponse `json:"body"`
		}{Body: updateResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-project-progress",
		Method:      http.MethodPatch,
		Path:        "/projects/{id}/progress",
		Summary:     "Set project progress",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body SetProgressRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SetProgress(ctx, actor, input.ID, input.Body.Value)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-project-status",
		Method:      http.MethodPatch,
		Path:        "/projects/{id}/status",
		Summary:     "Set project status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body SetProjectStatusRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Status == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status is required", nil)
		}
		p, err := e.SetProjectStatus(ctx, actor, input.ID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})
}

func registerEvents(api huma.API, e workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Event log tail",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"idea,project"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		if limit > 200 {
			limit = 200
		}
		events, err := e.Repo.LatestEvents(ctx, limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]EventResponse, 0, len(events))
		for _, evt := range events {
			res = append(res, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID: principal.ActorID,
			Name:    principal.Name,
			Role:    principal.Role,
			Source:  principal.Source,
		}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actorID := strings.TrimSpace(input.Body.ActorID)
		if actorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		if auth.ParseRole(input.Body.Role) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "role is required", nil)
		}
		token, err := signToken(authCfg.JWTSecret, actorID, input.Body.Name, string(auth.ParseRole(input.Body.Role)), 24*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func normalizePage(e workflow.Engine, page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	def, max := 6, 24
	if e.Config != nil {
		def = e.Config.PageSize()
		max = e.Config.MaxPageSize()
	}
	if pageSize <= 0 {
		pageSize = def
	}
	if pageSize > max {
		pageSize = max
	}
	return page, pageSize
}

func assignmentFromRequest(r AssignRequest) domain.Assignment {
	return domain.Assignment{
		Course:    r.Course,
		Class:     r.Class,
		Semester:  r.Semester,
		Professor: r.Professor,
	}
}

func studentFromRequest(r ClaimProjectRequest) domain.Student {
	return domain.Student{
		ActorID:  r.StudentActorID,
		Name:     r.StudentName,
		Course:   r.Course,
		Semester: r.Semester,
	}
}
