package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/oakmontlabs/storeforge/internal/adapter/secret"
	"github.com/oakmontlabs/storeforge/internal/domain"

	_ "modernc.org/sqlite" // Register SQLite driver.
)

//go:embed migrations/*.sql
var migrations embed.FS

// JobRepository implements domain.JobRepository using SQLite.
//
// Status transitions go through a single UPDATE with the expected status in
// the WHERE clause, so two writers racing the same transition cannot both
// win. Log entries live in their own table and appends are single INSERTs,
// so concurrent appenders never lose entries. Credentials are sealed with
// the cipher before they touch the database.
type JobRepository struct {
	db     *sql.DB
	cipher *secret.Cipher
}

// Compile-time check: JobRepository implements domain.JobRepository.
var _ domain.JobRepository = (*JobRepository)(nil)

// New opens a SQLite database, runs migrations, and returns a ready repository.
func New(dataSourceName string, cipher *secret.Cipher) (*JobRepository, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite allows one writer; a single pooled connection also keeps the
	// pragmas below in effect for every query.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	// Enable foreign keys (off by default in SQLite); log deletion
	// cascades from job deletion.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return NewFromDB(db, cipher)
}

// NewFromDB wraps an existing database connection, runs migrations, and returns
// a ready repository. Use this when the *sql.DB has been pre-configured
// (e.g., with otelsql instrumentation).
func NewFromDB(db *sql.DB, cipher *secret.Cipher) (*JobRepository, error) {
	if err := runMigrations(db); err != nil {
		return nil, err
	}

	return &JobRepository{db: db, cipher: cipher}, nil
}

// Close closes the underlying database connection.
func (r *JobRepository) Close() error {
	return r.db.Close()
}

// DB returns the underlying database connection for use by other adapters
// (e.g., the River dispatcher).
func (r *JobRepository) DB() *sql.DB {
	return r.db
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

const timeFormat = "2006-01-02T15:04:05.000Z"

func (r *JobRepository) Create(ctx context.Context, job domain.Job) error {
	spec, err := json.Marshal(job.Spec)
	if err != nil {
		return fmt.Errorf("encoding job spec: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO jobs (id, status, entity_type, entity_id, spec, credential, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, '', ?, ?)`,
		job.ID, string(job.Status), string(job.Entity.Type), job.Entity.ID, string(spec),
		job.CreatedAt.Format(timeFormat),
		job.UpdatedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (domain.Job, error) {
	job, err := r.scanJob(r.db.QueryRowContext(ctx,
		`SELECT id, status, entity_type, entity_id, spec,
		        store_domain, external_shop_id, install_url, credential,
		        result_store_url, result_admin_url, result_password,
		        created_at, updated_at
		 FROM jobs WHERE id = ?`, id,
	))
	if err != nil {
		return domain.Job{}, err
	}

	logs, err := r.loadLogs(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	job.Logs = logs

	return job, nil
}

// List returns jobs matching the filter, newest first. Logs are not
// loaded; use GetByID for the full audit trail.
func (r *JobRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Job, error) {
	query := `SELECT id, status, entity_type, entity_id, spec,
	                 store_domain, external_shop_id, install_url, credential,
	                 result_store_url, result_admin_url, result_password,
	                 created_at, updated_at
	          FROM jobs`
	var clauses []string
	var args []any

	if filter.Entity != nil {
		clauses = append(clauses, `entity_type = ? AND entity_id = ?`)
		args = append(args, string(filter.Entity.Type), filter.Entity.ID)
	}
	if filter.Status != nil {
		clauses = append(clauses, `status = ?`)
		args = append(args, string(*filter.Status))
	}
	for i, clause := range clauses {
		if i == 0 {
			query += ` WHERE ` + clause
		} else {
			query += ` AND ` + clause
		}
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

func (r *JobRepository) CountByEntity(ctx context.Context, entity domain.Entity) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE entity_type = ? AND entity_id = ?`,
		string(entity.Type), entity.ID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting jobs: %w", err)
	}
	return count, nil
}

// Update applies the non-nil fields of update. When expected is non-nil the
// UPDATE only matches a row whose status equals it; zero rows affected then
// means either a missing job or a lost race, and the two are told apart by
// re-reading the current status.
func (r *JobRepository) Update(ctx context.Context, id string, update domain.JobUpdate, expected *domain.Status) error {
	set := `updated_at = ?`
	args := []any{time.Now().UTC().Format(timeFormat)}

	if update.Status != nil {
		set += `, status = ?`
		args = append(args, string(*update.Status))
	}
	if update.Assignment != nil {
		set += `, store_domain = ?, external_shop_id = ?, install_url = ?`
		args = append(args, update.Assignment.StoreDomain, update.Assignment.ExternalShopID, update.Assignment.InstallURL)
	}
	if update.Credential != nil {
		sealed, err := r.cipher.Seal(*update.Credential)
		if err != nil {
			return fmt.Errorf("sealing credential: %w", err)
		}
		set += `, credential = ?`
		args = append(args, sealed)
	}
	if update.Result != nil {
		set += `, result_store_url = ?, result_admin_url = ?, result_password = ?`
		args = append(args, update.Result.StoreURL, update.Result.AdminURL, update.Result.StorefrontPassword)
	}

	query := `UPDATE jobs SET ` + set + ` WHERE id = ?`
	args = append(args, id)
	if expected != nil {
		query += ` AND status = ?`
		args = append(args, string(*expected))
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return r.explainMiss(ctx, id, expected)
	}

	return nil
}

// explainMiss distinguishes a missing job from a failed status precondition.
func (r *JobRepository) explainMiss(ctx context.Context, id string, expected *domain.Status) error {
	var current string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return domain.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("reading job status: %w", err)
	}
	if expected == nil {
		return domain.ErrJobNotFound
	}
	return &domain.ConflictError{JobID: id, Expected: *expected, Observed: domain.Status(current)}
}

// AppendLog adds one entry to the job's audit trail. A single INSERT, so
// concurrent appenders interleave but never overwrite each other.
func (r *JobRepository) AppendLog(ctx context.Context, id string, message string) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO job_logs (job_id, at, message)
		 SELECT id, ?, ? FROM jobs WHERE id = ?`,
		time.Now().UTC().Format(timeFormat), message, id,
	)
	if err != nil {
		return fmt.Errorf("appending log: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrJobNotFound
	}

	return nil
}

func (r *JobRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrJobNotFound
	}

	return nil
}

func (r *JobRepository) loadLogs(ctx context.Context, id string) ([]domain.LogEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT at, message FROM job_logs WHERE job_id = ? ORDER BY id`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("loading logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.LogEntry
	for rows.Next() {
		var at, message string
		if err := rows.Scan(&at, &message); err != nil {
			return nil, fmt.Errorf("scanning log entry: %w", err)
		}
		entry := domain.LogEntry{Message: message}
		entry.At, _ = time.Parse(timeFormat, at)
		logs = append(logs, entry)
	}

	return logs, rows.Err()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *JobRepository) scanJob(row rowScanner) (domain.Job, error) {
	var job domain.Job
	var status, entityType, spec, credential, createdAt, updatedAt string
	var storeDomain, externalShopID, installURL sql.NullString
	var resultStoreURL, resultAdminURL, resultPassword sql.NullString

	err := row.Scan(
		&job.ID, &status, &entityType, &job.Entity.ID, &spec,
		&storeDomain, &externalShopID, &installURL, &credential,
		&resultStoreURL, &resultAdminURL, &resultPassword,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Job{}, domain.ErrJobNotFound
		}
		return domain.Job{}, fmt.Errorf("scanning job: %w", err)
	}

	job.Status = domain.Status(status)
	job.Entity.Type = domain.EntityType(entityType)

	if err := json.Unmarshal([]byte(spec), &job.Spec); err != nil {
		return domain.Job{}, fmt.Errorf("decoding job spec: %w", err)
	}

	if storeDomain.Valid {
		job.Assignment = &domain.Assignment{
			StoreDomain:    storeDomain.String,
			ExternalShopID: externalShopID.String,
			InstallURL:     installURL.String,
		}
	}

	if credential != "" {
		plain, err := r.cipher.Open(credential)
		if err != nil {
			return domain.Job{}, fmt.Errorf("unsealing credential: %w", err)
		}
		job.Credential = plain
	}

	if resultStoreURL.Valid {
		job.Result = &domain.Result{
			StoreURL:           resultStoreURL.String,
			AdminURL:           resultAdminURL.String,
			StorefrontPassword: resultPassword.String,
		}
	}

	job.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	job.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)

	return job, nil
}
