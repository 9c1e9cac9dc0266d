package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/oakmontlabs/storeforge/internal/adapter/content"
	"github.com/oakmontlabs/storeforge/internal/adapter/fsm"
	adapter "github.com/oakmontlabs/storeforge/internal/adapter/http"
	"github.com/oakmontlabs/storeforge/internal/adapter/plan"
	"github.com/oakmontlabs/storeforge/internal/adapter/secret"
	"github.com/oakmontlabs/storeforge/internal/adapter/sqlite"
	"github.com/oakmontlabs/storeforge/internal/adapter/token"
	"github.com/oakmontlabs/storeforge/internal/app"
	"github.com/oakmontlabs/storeforge/internal/domain"
)

const admissionSecret = "test-admission-secret"

var tokenKey = []byte("0123456789abcdef0123456789abcdef")

// stubHandoff completes the OAuth handoff without the platform.
type stubHandoff struct{}

func (stubHandoff) InstallURL(storeDomain, _, jobID string) (string, error) {
	return "https://" + storeDomain + "/admin/oauth/authorize?state=" + jobID, nil
}

func (stubHandoff) ExchangeCode(_ context.Context, _, _ string) (string, error) {
	return "shpat_granted", nil
}

// stubStore satisfies domain.StorefrontClient without network calls.
type stubStore struct{}

func (stubStore) EnsurePage(context.Context, domain.StoreAccess, domain.PageContent) error { return nil }
func (stubStore) EnsureProduct(context.Context, domain.StoreAccess, domain.ProductContent) error {
	return nil
}
func (stubStore) EnsureNavLink(context.Context, domain.StoreAccess, domain.NavLink) error { return nil }
func (stubStore) EnsureThemeAsset(context.Context, domain.StoreAccess, domain.ThemeAsset) error {
	return nil
}
func (stubStore) StorefrontDetails(_ context.Context, access domain.StoreAccess) (domain.Result, error) {
	return domain.Result{
		StoreURL:           "https://" + access.Domain,
		AdminURL:           "https://" + access.Domain + "/admin",
		StorefrontPassword: "hunter2",
	}, nil
}

// recordingDispatcher records triggered job ids instead of running tasks.
type recordingDispatcher struct {
	mu     sync.Mutex
	jobIDs []string
}

func (d *recordingDispatcher) Dispatch(_ context.Context, jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobIDs = append(d.jobIDs, jobID)
	return nil
}

type testEnv struct {
	srv        *httptest.Server
	admin      *token.AdminVerifier
	tasks      *token.ServiceIdentity
	dispatcher *recordingDispatcher
}

// newTestEnv builds a full-stack server: in-memory SQLite, real FSM
// validator, stubbed platform collaborators.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cipher, err := secret.New(make([]byte, 32))
	if err != nil {
		t.Fatalf("creating cipher: %v", err)
	}
	repo, err := sqlite.New(":memory:", cipher)
	if err != nil {
		t.Fatalf("creating test repo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	validator := fsm.New()
	dispatcher := &recordingDispatcher{}
	svc := app.NewJobService(repo, plan.New(nil, 1), stubHandoff{}, dispatcher, validator, false)
	populator := app.NewPopulator(repo, stubStore{}, content.New(), validator).
		WithRetry(1, time.Millisecond)

	h := &adapter.Handlers{
		Service:   svc,
		Populator: populator,
		Admission: token.NewSharedSecret(admissionSecret),
		Admin:     token.NewAdminVerifier(tokenKey),
		Tasks:     token.NewServiceIdentity(tokenKey),
	}

	router := chi.NewMux()
	api := humachi.New(router, huma.DefaultConfig("storeforge", "0.1.0"))
	adapter.Register(api, h)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, admin: h.Admin, tasks: h.Tasks, dispatcher: dispatcher}
}

// doRequest performs an HTTP request with context (avoids noctx linter).
func doRequest(t *testing.T, method, url, auth, body string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, reader)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}

	return resp
}

func (e *testEnv) adminAuth(t *testing.T, entityID, role string) string {
	t.Helper()
	minted, err := e.admin.MintAdmin(domain.Entity{Type: domain.EntityUser, ID: entityID}, role, time.Minute)
	if err != nil {
		t.Fatalf("minting admin token: %v", err)
	}
	return "Bearer " + minted
}

func (e *testEnv) taskAuth(t *testing.T, jobID string) string {
	t.Helper()
	minted, err := e.tasks.Mint(jobID)
	if err != nil {
		t.Fatalf("minting task token: %v", err)
	}
	return "Bearer " + minted
}

func createJobBody(entityID string) string {
	return fmt.Sprintf(`{
		"entity": {"type": "user", "id": %q},
		"requestSpec": {
			"storeName": "Acme Goods",
			"businessEmail": "owner@acme.example",
			"callerBaseUrl": "https://admin.acme.example",
			"content": {"pages": true, "products": true}
		}
	}`, entityID)
}

// mustCreateJob admits a job via the API and returns its id.
func mustCreateJob(t *testing.T, e *testEnv, entityID string) string {
	t.Helper()

	resp := doRequest(t, http.MethodPost, e.srv.URL+"/api/v1/jobs", "Bearer "+admissionSecret, createJobBody(entityID))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("create job: status = %d, body %s", resp.StatusCode, raw)
	}

	var out struct {
		JobID string `json:"jobId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding create response: %v", err)
	}
	return out.JobID
}

// mustAssign assigns a storefront and returns the install URL.
func mustAssign(t *testing.T, e *testEnv, jobID string) string {
	t.Helper()

	resp := doRequest(t, http.MethodPost, e.srv.URL+"/api/v1/jobs/"+jobID+"/assign",
		e.adminAuth(t, "u1", "member"),
		`{"storeDomain": "acme.myshopify.example", "externalShopId": "shop-42"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("assign: status = %d, body %s", resp.StatusCode, raw)
	}

	var out struct {
		InstallURL string `json:"installUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding assign response: %v", err)
	}
	return out.InstallURL
}

func mustCallback(t *testing.T, e *testEnv, jobID string) {
	t.Helper()

	resp := doRequest(t, http.MethodGet,
		e.srv.URL+"/api/v1/auth/callback?code=auth-code&state="+jobID, "", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("callback: status = %d, body %s", resp.StatusCode, raw)
	}
}

func getJob(t *testing.T, e *testEnv, jobID, auth string) (adapter.JobResponse, int) {
	t.Helper()

	resp := doRequest(t, http.MethodGet, e.srv.URL+"/api/v1/jobs/"+jobID, auth, "")
	defer resp.Body.Close()

	var job adapter.JobResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
			t.Fatalf("decoding job: %v", err)
		}
	}
	return job, resp.StatusCode
}

// --- Admission ---

func TestCreateJob(t *testing.T) {
	e := newTestEnv(t)

	jobID := mustCreateJob(t, e, "u1")

	job, status := getJob(t, e, jobID, e.adminAuth(t, "u1", "member"))
	if status != http.StatusOK {
		t.Fatalf("get: status = %d", status)
	}
	if job.Status != "pending" {
		t.Errorf("status = %q, want pending", job.Status)
	}
	if len(job.Logs) != 1 || job.Logs[0].Message != "Job created and queued." {
		t.Errorf("logs = %+v, want the creation entry", job.Logs)
	}
}

func TestCreateJob_RequiresAdmissionSecret(t *testing.T) {
	e := newTestEnv(t)

	for _, auth := range []string{"", "Bearer wrong-secret", "Basic " + admissionSecret} {
		resp := doRequest(t, http.MethodPost, e.srv.URL+"/api/v1/jobs", auth, createJobBody("u1"))
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("auth %q: status = %d, want 401", auth, resp.StatusCode)
		}
	}
}

func TestCreateJob_QuotaExceeded(t *testing.T) {
	e := newTestEnv(t)

	mustCreateJob(t, e, "u1")

	// The default test plan allows one site per entity.
	resp := doRequest(t, http.MethodPost, e.srv.URL+"/api/v1/jobs", "Bearer "+admissionSecret, createJobBody("u1"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}

	// A different entity is unaffected.
	mustCreateJob(t, e, "u2")
}

func TestCreateJob_SchemaRejected(t *testing.T) {
	e := newTestEnv(t)

	resp := doRequest(t, http.MethodPost, e.srv.URL+"/api/v1/jobs", "Bearer "+admissionSecret,
		`{"entity": {"type": "user", "id": "u1"}, "requestSpec": {"storeName": ""}}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
}

// --- Assignment and authorization ---

func TestAssignAndCallback(t *testing.T) {
	e := newTestEnv(t)
	jobID := mustCreateJob(t, e, "u1")

	installURL := mustAssign(t, e, jobID)
	if !strings.Contains(installURL, "state="+jobID) {
		t.Errorf("installURL = %q, want the job id as state", installURL)
	}

	job, _ := getJob(t, e, jobID, e.adminAuth(t, "u1", "member"))
	if job.Status != "awaiting_auth" {
		t.Errorf("status = %q, want awaiting_auth", job.Status)
	}

	mustCallback(t, e, jobID)

	job, _ = getJob(t, e, jobID, e.adminAuth(t, "u1", "member"))
	if job.Status != "authorized" {
		t.Errorf("status = %q, want authorized", job.Status)
	}
}

func TestCallback_UnknownState(t *testing.T) {
	e := newTestEnv(t)

	resp := doRequest(t, http.MethodGet, e.srv.URL+"/api/v1/auth/callback?code=auth-code&state=no-such-job", "", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestCallback_ReplayConflicts(t *testing.T) {
	e := newTestEnv(t)
	jobID := mustCreateJob(t, e, "u1")
	mustAssign(t, e, jobID)
	mustCallback(t, e, jobID)

	// Replaying the redirect must not re-run the exchange.
	resp := doRequest(t, http.MethodGet,
		e.srv.URL+"/api/v1/auth/callback?code=auth-code&state="+jobID, "", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestAssign_AfterAuthorizationConflicts(t *testing.T) {
	e := newTestEnv(t)
	jobID := mustCreateJob(t, e, "u1")
	mustAssign(t, e, jobID)
	mustCallback(t, e, jobID)

	resp := doRequest(t, http.MethodPost, e.srv.URL+"/api/v1/jobs/"+jobID+"/assign",
		e.adminAuth(t, "u1", "member"),
		`{"storeDomain": "other.myshopify.example", "externalShopId": "shop-43"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

// --- Populate trigger and task gateway ---

func TestPopulateTrigger(t *testing.T) {
	e := newTestEnv(t)
	jobID := mustCreateJob(t, e, "u1")
	mustAssign(t, e, jobID)
	mustCallback(t, e, jobID)

	resp := doRequest(t, http.MethodPost, e.srv.URL+"/api/v1/jobs/"+jobID+"/populate",
		e.adminAuth(t, "u1", "member"), "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	e.dispatcher.mu.Lock()
	defer e.dispatcher.mu.Unlock()
	if len(e.dispatcher.jobIDs) != 1 || e.dispatcher.jobIDs[0] != jobID {
		t.Errorf("dispatched = %v, want [%s]", e.dispatcher.jobIDs, jobID)
	}
}

func TestPopulateTrigger_BeforeAuthorizationConflicts(t *testing.T) {
	e := newTestEnv(t)
	jobID := mustCreateJob(t, e, "u1")

	resp := doRequest(t, http.MethodPost, e.srv.URL+"/api/v1/jobs/"+jobID+"/populate",
		e.adminAuth(t, "u1", "member"), "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestTaskGateway_RunsPopulation(t *testing.T) {
	e := newTestEnv(t)
	jobID := mustCreateJob(t, e, "u1")
	mustAssign(t, e, jobID)
	mustCallback(t, e, jobID)

	resp := doRequest(t, http.MethodPost, e.srv.URL+"/api/v1/tasks/populate",
		e.taskAuth(t, jobID), fmt.Sprintf(`{"jobId": %q}`, jobID))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, body %s", resp.StatusCode, raw)
	}

	job, _ := getJob(t, e, jobID, e.adminAuth(t, "u1", "member"))
	if job.Status != "completed" {
		t.Errorf("status = %q, want completed", job.Status)
	}
	if job.Result == nil || job.Result.StoreURL != "https://acme.myshopify.example" {
		t.Errorf("result = %+v, want the storefront URL", job.Result)
	}
}

func TestTaskGateway_RedeliveryAcked(t *testing.T) {
	e := newTestEnv(t)
	jobID := mustCreateJob(t, e, "u1")
	mustAssign(t, e, jobID)
	mustCallback(t, e, jobID)

	for i := 0; i < 2; i++ {
		resp := doRequest(t, http.MethodPost, e.srv.URL+"/api/v1/tasks/populate",
			e.taskAuth(t, jobID), fmt.Sprintf(`{"jobId": %q}`, jobID))
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("delivery %d: status = %d, want 200", i, resp.StatusCode)
		}
	}
}

func TestTaskGateway_DeletedJobAcked(t *testing.T) {
	e := newTestEnv(t)

	// The job this task referenced no longer exists; the queue must not
	// retry forever.
	resp := doRequest(t, http.MethodPost, e.srv.URL+"/api/v1/tasks/populate",
		e.taskAuth(t, "gone"), `{"jobId": "gone"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestTaskGateway_Authentication(t *testing.T) {
	e := newTestEnv(t)

	expired, err := token.NewServiceIdentity(tokenKey).WithTTL(-time.Minute).Mint("job-1")
	if err != nil {
		t.Fatalf("minting expired token: %v", err)
	}
	rogue, err := token.NewServiceIdentity([]byte("rogue-key-rogue-key-rogue-key-ro")).Mint("job-1")
	if err != nil {
		t.Fatalf("minting rogue token: %v", err)
	}

	tests := []struct {
		name string
		auth string
	}{
		{"missing", ""},
		{"malformed", "Bearer not.a.jwt"},
		{"expired", "Bearer " + expired},
		{"wrong key", "Bearer " + rogue},
		{"admin token", e.adminAuth(t, "u1", "member")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodPost, e.srv.URL+"/api/v1/tasks/populate",
				tt.auth, `{"jobId": "job-1"}`)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", resp.StatusCode)
			}
		})
	}
}

func TestTaskGateway_MissingJobID(t *testing.T) {
	e := newTestEnv(t)

	resp := doRequest(t, http.MethodPost, e.srv.URL+"/api/v1/tasks/populate",
		e.taskAuth(t, "job-1"), `{}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
}

// --- Read scoping ---

func TestGetJob_CredentialNeverExposed(t *testing.T) {
	e := newTestEnv(t)
	jobID := mustCreateJob(t, e, "u1")
	mustAssign(t, e, jobID)
	mustCallback(t, e, jobID)

	resp := doRequest(t, http.MethodGet, e.srv.URL+"/api/v1/jobs/"+jobID,
		e.adminAuth(t, "u1", "member"), "")
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if strings.Contains(string(raw), "shpat_granted") {
		t.Error("access credential leaked into the API response")
	}
}

func TestGetJob_OtherEntityGets404(t *testing.T) {
	e := newTestEnv(t)
	jobID := mustCreateJob(t, e, "u1")

	if _, status := getJob(t, e, jobID, e.adminAuth(t, "u2", "member")); status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}

	// Super-admins see everything.
	if _, status := getJob(t, e, jobID, e.adminAuth(t, "admin", "super_admin")); status != http.StatusOK {
		t.Errorf("super admin status = %d, want 200", status)
	}
}

func TestListJobs_ScopedToCaller(t *testing.T) {
	e := newTestEnv(t)
	mine := mustCreateJob(t, e, "u1")
	mustCreateJob(t, e, "u2")

	resp := doRequest(t, http.MethodGet, e.srv.URL+"/api/v1/jobs", e.adminAuth(t, "u1", "member"), "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var jobs []adapter.JobResponse
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != mine {
		t.Errorf("got %d jobs, want only %s", len(jobs), mine)
	}
}

func TestDeleteJob(t *testing.T) {
	e := newTestEnv(t)
	jobID := mustCreateJob(t, e, "u1")

	// Another entity cannot delete it.
	resp := doRequest(t, http.MethodDelete, e.srv.URL+"/api/v1/jobs/"+jobID, e.adminAuth(t, "u2", "member"), "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodDelete, e.srv.URL+"/api/v1/jobs/"+jobID, e.adminAuth(t, "u1", "member"), "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}

	if _, status := getJob(t, e, jobID, e.adminAuth(t, "u1", "member")); status != http.StatusNotFound {
		t.Errorf("status after delete = %d, want 404", status)
	}

	// Deleting releases the quota slot.
	mustCreateJob(t, e, "u1")
}
