package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/oakmontlabs/storeforge/internal/adapter/token"
	"github.com/oakmontlabs/storeforge/internal/app"
	"github.com/oakmontlabs/storeforge/internal/domain"
)

// Handlers bundles the collaborators the API routes need.
type Handlers struct {
	Service   *app.JobService
	Populator *app.Populator
	Admission *token.SharedSecret
	Admin     *token.AdminVerifier
	Tasks     *token.ServiceIdentity
}

const roleSuperAdmin = "super_admin"

// EntityBody is the API representation of a job's owning entity.
type EntityBody struct {
	Type string `json:"type" enum:"user,company" doc:"Owner kind"`
	ID   string `json:"id" minLength:"1" doc:"Owner identifier"`
}

// ContentOptionsBody selects which content population creates.
type ContentOptionsBody struct {
	Pages      bool `json:"pages,omitempty" doc:"Create storefront pages"`
	Products   bool `json:"products,omitempty" doc:"Create seed products"`
	Navigation bool `json:"navigation,omitempty" doc:"Create navigation links"`
	ThemeCopy  bool `json:"themeCopy,omitempty" doc:"Write theme copy assets"`
}

// JobSpecBody is the immutable creation payload.
type JobSpecBody struct {
	StoreName        string             `json:"storeName" minLength:"1" maxLength:"255" doc:"Storefront display name"`
	BusinessEmail    string             `json:"businessEmail" format:"email" doc:"Business contact email"`
	Country          string             `json:"country,omitempty" doc:"ISO country code"`
	Currency         string             `json:"currency,omitempty" doc:"ISO currency code"`
	BrandDescription string             `json:"brandDescription,omitempty" doc:"Brand description used for content"`
	TargetAudience   string             `json:"targetAudience,omitempty" doc:"Audience used for content"`
	Content          ContentOptionsBody `json:"content,omitempty" doc:"Content creation options"`
	LegalName        string             `json:"legalName,omitempty" doc:"Legal entity name"`
	WebhookURL       string             `json:"webhookUrl,omitempty" format:"uri" doc:"Caller webhook for status updates"`
	CallerBaseURL    string             `json:"callerBaseUrl" format:"uri" doc:"Base URL the OAuth callback redirects to"`
}

// AssignmentBody is the storefront assigned during the handoff.
type AssignmentBody struct {
	StoreDomain    string `json:"storeDomain"`
	ExternalShopID string `json:"externalShopId"`
	InstallURL     string `json:"installUrl"`
}

// ResultBody describes the provisioned storefront.
type ResultBody struct {
	StoreURL           string `json:"createdStoreUrl"`
	AdminURL           string `json:"createdStoreAdminUrl"`
	StorefrontPassword string `json:"storefrontPassword,omitempty"`
}

// LogEntryBody is one audit trail line.
type LogEntryBody struct {
	Timestamp string `json:"timestamp" doc:"ISO 8601"`
	Message   string `json:"message"`
}

// JobResponse is the API representation of a job. The access credential is
// never exposed.
type JobResponse struct {
	ID         string          `json:"id"`
	Status     string          `json:"status"`
	Entity     EntityBody      `json:"entity"`
	Spec       JobSpecBody     `json:"requestSpec"`
	Assignment *AssignmentBody `json:"assignment,omitempty"`
	Result     *ResultBody     `json:"result,omitempty"`
	Logs       []LogEntryBody  `json:"logs,omitempty"`
	CreatedAt  string          `json:"createdAt"`
	UpdatedAt  string          `json:"updatedAt"`
}

const timeFormat = "2006-01-02T15:04:05Z"

func toJobResponse(j domain.Job) JobResponse {
	resp := JobResponse{
		ID:     j.ID,
		Status: string(j.Status),
		Entity: EntityBody{Type: string(j.Entity.Type), ID: j.Entity.ID},
		Spec: JobSpecBody{
			StoreName:        j.Spec.StoreName,
			BusinessEmail:    j.Spec.BusinessEmail,
			Country:          j.Spec.Country,
			Currency:         j.Spec.Currency,
			BrandDescription: j.Spec.BrandDescription,
			TargetAudience:   j.Spec.TargetAudience,
			Content: ContentOptionsBody{
				Pages:      j.Spec.Content.Pages,
				Products:   j.Spec.Content.Products,
				Navigation: j.Spec.Content.Navigation,
				ThemeCopy:  j.Spec.Content.ThemeCopy,
			},
			LegalName:     j.Spec.LegalName,
			WebhookURL:    j.Spec.WebhookURL,
			CallerBaseURL: j.Spec.CallerBaseURL,
		},
		CreatedAt: j.CreatedAt.Format(timeFormat),
		UpdatedAt: j.UpdatedAt.Format(timeFormat),
	}

	if j.Assignment != nil {
		resp.Assignment = &AssignmentBody{
			StoreDomain:    j.Assignment.StoreDomain,
			ExternalShopID: j.Assignment.ExternalShopID,
			InstallURL:     j.Assignment.InstallURL,
		}
	}
	if j.Result != nil {
		resp.Result = &ResultBody{
			StoreURL:           j.Result.StoreURL,
			AdminURL:           j.Result.AdminURL,
			StorefrontPassword: j.Result.StorefrontPassword,
		}
	}
	for _, entry := range j.Logs {
		resp.Logs = append(resp.Logs, LogEntryBody{
			Timestamp: entry.At.Format(timeFormat),
			Message:   entry.Message,
		})
	}
	return resp
}

// --- Create Job (admission) ---

type CreateJobInput struct {
	Authorization string `header:"Authorization" doc:"Static service bearer credential"`
	Body          struct {
		Entity EntityBody  `json:"entity"`
		Spec   JobSpecBody `json:"requestSpec"`
	}
}

type CreateJobOutput struct {
	Body struct {
		JobID string `json:"jobId"`
	}
}

// --- Assign ---

type AssignJobInput struct {
	Authorization string `header:"Authorization" doc:"Administrative identity token"`
	ID            string `path:"id" doc:"Job ID"`
	Body          struct {
		StoreDomain    string `json:"storeDomain" minLength:"1" doc:"Storefront domain to install on"`
		ExternalShopID string `json:"externalShopId" minLength:"1" doc:"Platform shop identifier"`
	}
}

type AssignJobOutput struct {
	Body struct {
		InstallURL string `json:"installUrl"`
	}
}

// --- OAuth callback ---

type AuthCallbackInput struct {
	Code  string `query:"code" doc:"Authorization code from the platform"`
	State string `query:"state" doc:"Opaque correlation token (the job id)"`
}

type AuthCallbackOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

// --- Populate trigger ---

type PopulateJobInput struct {
	Authorization string `header:"Authorization" doc:"Administrative identity token"`
	ID            string `path:"id" doc:"Job ID"`
}

type PopulateJobOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

// --- Task callback (queue -> service) ---

type PopulateTaskInput struct {
	Authorization string `header:"Authorization" doc:"Queue service identity token"`
	Body          struct {
		JobID string `json:"jobId,omitempty" doc:"Job to populate"`
	}
}

type PopulateTaskOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

// --- Get / List / Delete ---

type GetJobInput struct {
	Authorization string `header:"Authorization" doc:"Administrative identity token"`
	ID            string `path:"id" doc:"Job ID"`
}

type GetJobOutput struct {
	Body JobResponse
}

type ListJobsInput struct {
	Authorization string `header:"Authorization" doc:"Administrative identity token"`
	Status        string `query:"status" required:"false" doc:"Filter by status"`
	Limit         int    `query:"limit" required:"false" default:"50" doc:"Max results"`
	Offset        int    `query:"offset" required:"false" default:"0" doc:"Pagination offset"`
}

type ListJobsOutput struct {
	Body []JobResponse
}

type DeleteJobInput struct {
	Authorization string `header:"Authorization" doc:"Administrative identity token"`
	ID            string `path:"id" doc:"Job ID"`
}

// actorFrom authenticates an admin token and derives the acting identity.
func (h *Handlers) actorFrom(header string) (app.Actor, error) {
	claims, err := h.Admin.Verify(header)
	if err != nil {
		return app.Actor{}, err
	}
	return app.Actor{
		Entity:     domain.Entity{Type: domain.EntityType(claims.EntityType), ID: claims.EntityID},
		SuperAdmin: claims.Role == roleSuperAdmin,
	}, nil
}

// Register adds all orchestrator API routes to the Huma API.
func Register(api huma.API, h *Handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-job",
		Method:        http.MethodPost,
		Path:          "/api/v1/jobs",
		Summary:       "Admit a new provisioning job",
		Tags:          []string{"Jobs"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *CreateJobInput) (*CreateJobOutput, error) {
		if err := h.Admission.Verify(input.Authorization); err != nil {
			return nil, toHumaError(err)
		}

		entity := domain.Entity{Type: domain.EntityType(input.Body.Entity.Type), ID: input.Body.Entity.ID}
		spec := domain.JobSpec{
			StoreName:        input.Body.Spec.StoreName,
			BusinessEmail:    input.Body.Spec.BusinessEmail,
			Country:          input.Body.Spec.Country,
			Currency:         input.Body.Spec.Currency,
			BrandDescription: input.Body.Spec.BrandDescription,
			TargetAudience:   input.Body.Spec.TargetAudience,
			Content: domain.ContentOptions{
				Pages:      input.Body.Spec.Content.Pages,
				Products:   input.Body.Spec.Content.Products,
				Navigation: input.Body.Spec.Content.Navigation,
				ThemeCopy:  input.Body.Spec.Content.ThemeCopy,
			},
			LegalName:     input.Body.Spec.LegalName,
			WebhookURL:    input.Body.Spec.WebhookURL,
			CallerBaseURL: input.Body.Spec.CallerBaseURL,
		}

		job, err := h.Service.Create(ctx, entity, spec)
		if err != nil {
			return nil, toHumaError(err)
		}

		out := &CreateJobOutput{}
		out.Body.JobID = job.ID
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-job",
		Method:      http.MethodPost,
		Path:        "/api/v1/jobs/{id}/assign",
		Summary:     "Assign a storefront and get the install URL",
		Tags:        []string{"Jobs"},
	}, func(ctx context.Context, input *AssignJobInput) (*AssignJobOutput, error) {
		if _, err := h.actorFrom(input.Authorization); err != nil {
			return nil, toHumaError(err)
		}

		installURL, err := h.Service.Assign(ctx, input.ID, input.Body.StoreDomain, input.Body.ExternalShopID)
		if err != nil {
			return nil, toHumaError(err)
		}

		out := &AssignJobOutput{}
		out.Body.InstallURL = installURL
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "auth-callback",
		Method:      http.MethodGet,
		Path:        "/api/v1/auth/callback",
		Summary:     "Complete the OAuth authorization handoff",
		Description: "Not admin-authenticated; authenticity derives from the code exchange succeeding with the platform.",
		Tags:        []string{"Auth"},
	}, func(ctx context.Context, input *AuthCallbackInput) (*AuthCallbackOutput, error) {
		if err := h.Service.Authorize(ctx, input.State, input.Code); err != nil {
			return nil, toHumaError(err)
		}

		out := &AuthCallbackOutput{}
		out.Body.Message = "Storefront authorized. You can close this window."
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "populate-job",
		Method:        http.MethodPost,
		Path:          "/api/v1/jobs/{id}/populate",
		Summary:       "Trigger asynchronous storefront population",
		Tags:          []string{"Jobs"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *PopulateJobInput) (*PopulateJobOutput, error) {
		if _, err := h.actorFrom(input.Authorization); err != nil {
			return nil, toHumaError(err)
		}

		if err := h.Service.TriggerPopulate(ctx, input.ID); err != nil {
			return nil, toHumaError(err)
		}

		out := &PopulateJobOutput{}
		out.Body.Message = "Population task enqueued."
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "populate-task",
		Method:      http.MethodPost,
		Path:        "/api/v1/tasks/populate",
		Summary:     "Task queue callback running the population step",
		Description: "Trust boundary between the queue and the orchestrator. A non-2xx response signals the queue to retry the whole call.",
		Tags:        []string{"Tasks"},
	}, func(ctx context.Context, input *PopulateTaskInput) (*PopulateTaskOutput, error) {
		if err := h.Tasks.Verify(input.Authorization); err != nil {
			return nil, toHumaError(err)
		}

		if input.Body.JobID == "" {
			return nil, toHumaError(&domain.ValidationError{Field: "jobId", Reason: "must not be empty"})
		}

		if err := h.Populator.Run(ctx, input.Body.JobID); err != nil {
			return nil, toHumaError(err)
		}

		out := &PopulateTaskOutput{}
		out.Body.Message = "Population step acknowledged."
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs/{id}",
		Summary:     "Get a job by ID",
		Tags:        []string{"Jobs"},
	}, func(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
		actor, err := h.actorFrom(input.Authorization)
		if err != nil {
			return nil, toHumaError(err)
		}

		job, err := h.Service.GetByID(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}

		if !actor.SuperAdmin && job.Entity != actor.Entity {
			// Scoping: existence of other entities' jobs is not revealed.
			return nil, huma.Error404NotFound("job not found")
		}

		return &GetJobOutput{Body: toJobResponse(job)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs",
		Summary:     "List jobs owned by the caller's entity",
		Tags:        []string{"Jobs"},
	}, func(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
		actor, err := h.actorFrom(input.Authorization)
		if err != nil {
			return nil, toHumaError(err)
		}

		filter := domain.ListFilter{
			Limit:  input.Limit,
			Offset: input.Offset,
		}
		if input.Status != "" {
			s := domain.Status(input.Status)
			filter.Status = &s
		}

		jobs, err := h.Service.List(ctx, actor, filter)
		if err != nil {
			return nil, toHumaError(err)
		}

		resp := make([]JobResponse, len(jobs))
		for i, j := range jobs {
			resp[i] = toJobResponse(j)
		}
		return &ListJobsOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-job",
		Method:        http.MethodDelete,
		Path:          "/api/v1/jobs/{id}",
		Summary:       "Delete a job and release its quota",
		Tags:          []string{"Jobs"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *DeleteJobInput) (*struct{}, error) {
		actor, err := h.actorFrom(input.Authorization)
		if err != nil {
			return nil, toHumaError(err)
		}

		if err := h.Service.Delete(ctx, actor, input.ID); err != nil {
			return nil, toHumaError(err)
		}

		return &struct{}{}, nil
	})
}

// toHumaError translates the error taxonomy to Huma HTTP errors.
// Validation, authentication, and quota errors resolve entirely here and
// never reach the state machine.
func toHumaError(err error) error {
	if errors.Is(err, domain.ErrJobNotFound) {
		return huma.Error404NotFound("job not found")
	}

	var authErr *domain.AuthenticationError
	if errors.As(err, &authErr) {
		return huma.Error401Unauthorized(authErr.Error())
	}

	var quotaErr *domain.QuotaExceededError
	if errors.As(err, &quotaErr) {
		return huma.Error403Forbidden(quotaErr.Error())
	}

	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		return huma.Error422UnprocessableEntity(validationErr.Error())
	}

	var conflictErr *domain.ConflictError
	if errors.As(err, &conflictErr) {
		return huma.Error409Conflict(conflictErr.Error())
	}

	var trErr *domain.TransitionError
	if errors.As(err, &trErr) {
		return huma.Error409Conflict(trErr.Error())
	}

	var cfgErr *domain.ConfigurationError
	if errors.As(err, &cfgErr) {
		// Operator-actionable; the message names the missing setting.
		return huma.Error500InternalServerError(cfgErr.Error())
	}

	return huma.Error500InternalServerError("internal server error")
}
