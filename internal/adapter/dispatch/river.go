package dispatch

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/riverqueue/river"

	"github.com/oakmontlabs/storeforge/internal/adapter/token"
	"github.com/oakmontlabs/storeforge/internal/domain"
)

// PopulateTaskArgs carries one population request through the queue.
// River serializes this as JSON into its job table.
type PopulateTaskArgs struct {
	JobID string `json:"job_id"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (PopulateTaskArgs) Kind() string { return "populate.requested" }

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

// Compile-time check: Queued implements domain.TaskDispatcher.
var _ domain.TaskDispatcher = (*Queued)(nil)

// Queued implements domain.TaskDispatcher by enqueuing River jobs. It
// submits exactly once; at-least-once delivery with backoff is River's
// responsibility.
type Queued struct {
	client *Client
}

// NewQueued creates a dispatcher backed by the given River client.
func NewQueued(client *Client) *Queued {
	return &Queued{client: client}
}

// Dispatch enqueues a population task.
func (q *Queued) Dispatch(ctx context.Context, jobID string) error {
	_, err := q.client.Insert(ctx, PopulateTaskArgs{JobID: jobID}, nil)
	if err != nil {
		return fmt.Errorf("enqueuing population task: %w", err)
	}
	return nil
}

// PopulateWorker delivers queued population tasks to the task handler
// gateway over authenticated HTTP. The gateway, not the worker, runs the
// population logic; the HTTP hop is the trust boundary the gateway
// verifies. A non-2xx response is returned as an error so River redelivers
// with backoff.
type PopulateWorker struct {
	river.WorkerDefaults[PopulateTaskArgs]

	gatewayURL string
	identity   *token.ServiceIdentity
	httpClient *http.Client
}

// NewPopulateWorker creates a worker targeting the given gateway URL.
func NewPopulateWorker(gatewayURL string, identity *token.ServiceIdentity) *PopulateWorker {
	return &PopulateWorker{
		gatewayURL: gatewayURL,
		identity:   identity,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

// Work delivers a single population task.
func (w *PopulateWorker) Work(ctx context.Context, job *river.Job[PopulateTaskArgs]) error {
	slog.InfoContext(ctx, "delivering population task",
		"job_id", job.Args.JobID,
		"queue_job_id", job.ID,
		"attempt", job.Attempt,
	)

	identity, err := w.identity.Mint(job.Args.JobID)
	if err != nil {
		return fmt.Errorf("minting task identity: %w", err)
	}

	body, err := json.Marshal(map[string]string{"jobId": job.Args.JobID})
	if err != nil {
		return fmt.Errorf("encoding task payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building task request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+identity)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delivering task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.TransientExternalError{
			Op:  "population task delivery",
			Err: fmt.Errorf("gateway returned status %d", resp.StatusCode),
		}
	}

	return nil
}

// WithHTTPClient overrides the delivery client. Test hook.
func (w *PopulateWorker) WithHTTPClient(client *http.Client) *PopulateWorker {
	w.httpClient = client
	return w
}
