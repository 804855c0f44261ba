package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/oklog/ulid/v2"

	"jobs-engine/internal/domain"
	"jobs-engine/internal/domain/model"
	"jobs-engine/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

const pgUniqueViolation = "23505"

// activeStatuses is inlined into every latched write.
const activeStatuses = `('pending', 'running')`

const jobColumns = `
j.id, j.job_type, j.backend_task_ref, j.status, j.progress_current, j.progress_total,
j.progress_detail, j.result, j.error_message, j.items_succeeded, j.items_failed,
j.triggered_by, j.created_at, j.updated_at, j.started_at, j.completed_at,
COALESCE((SELECT string_agg(l.line || E'\n', '' ORDER BY l.seq)
            FROM job_log_lines l WHERE l.job_id = j.id), '') AS log`

type jobRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewJobRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *jobRepo {
	return &jobRepo{pool: pool, tm: tm}
}

// Create takes a transaction-scoped advisory lock on the job type, checks for
// an active run and inserts. The partial unique index catches anything that
// slips past the lock (e.g. a writer not using this repo).
func (r *jobRepo) Create(ctx context.Context, jobType string, triggeredBy *string) (*model.JobRecord, error) {
	rec := model.NewJobRecord(ulid.Make().String(), jobType, triggeredBy, time.Now().UTC())

	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ex, err := getExecutor(r.pool, tx)
		if err != nil {
			return err
		}
		if _, err := ex.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "job_records:"+jobType); err != nil {
			return fmt.Errorf("lock job type: %w", err)
		}

		var exists bool
		const activeQ = `SELECT EXISTS (SELECT 1 FROM job_records WHERE job_type = $1 AND status IN ` + activeStatuses + `)`
		if err := ex.QueryRow(ctx, activeQ, jobType).Scan(&exists); err != nil {
			return fmt.Errorf("check active job: %w", err)
		}
		if exists {
			return domain.ErrAlreadyRunning
		}

		const insertQ = `
INSERT INTO job_records (id, job_type, status, progress_total, triggered_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);`
		_, err = ex.Exec(ctx, insertQ,
			rec.ID, rec.JobType, string(rec.Status), rec.ProgressTotal, rec.TriggeredBy, rec.CreatedAt, rec.UpdatedAt)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, domain.ErrAlreadyRunning
		}
		if errors.Is(err, domain.ErrAlreadyRunning) {
			return nil, err
		}
		return nil, fmt.Errorf("create job record: %w", err)
	}
	return rec, nil
}

// UpdateFields writes all given fields, the optional log clear and the
// optional log append in one statement. Data-modifying CTEs run exactly once
// and share a snapshot, so the clear never removes the line appended here.
func (r *jobRepo) UpdateFields(ctx context.Context, id string, upd model.JobUpdate) error {
	query, args, err := buildUpdate(id, upd)
	if err != nil {
		return err
	}

	var n int
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if n > 0 {
		return nil
	}
	return r.latchedOrMissing(ctx, id)
}

// UpdateIfUnchanged is the optimistic form of UpdateFields: the row must
// still be Running with the updated_at the caller read.
func (r *jobRepo) UpdateIfUnchanged(ctx context.Context, id string, seen time.Time, upd model.JobUpdate) (bool, error) {
	query, args, err := buildConditionalUpdate(id, upd, &seen)
	if err != nil {
		return false, err
	}

	var n int
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("update job %s: %w", id, err)
	}
	if n > 0 {
		return true, nil
	}

	var status string
	err = r.pool.QueryRow(ctx, `SELECT status FROM job_records WHERE id = $1`, id).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return false, domain.ErrNotFound
	case err != nil:
		return false, fmt.Errorf("check job %s: %w", id, err)
	case model.JobStatus(status).IsTerminal():
		return false, domain.ErrJobFinished
	}
	return false, nil
}

func (r *jobRepo) AppendLog(ctx context.Context, id, line string) error {
	if line == "" {
		return nil
	}
	return r.UpdateFields(ctx, id, model.JobUpdate{AppendLog: line})
}

func (r *jobRepo) Get(ctx context.Context, id string) (*model.JobRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM job_records j WHERE j.id = $1`, id)
	rec, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return rec, nil
}

func (r *jobRepo) FindActive(ctx context.Context, jobType string) (*model.JobRecord, error) {
	q := `SELECT ` + jobColumns + ` FROM job_records j WHERE j.job_type = $1 AND j.status IN ` + activeStatuses + ` LIMIT 1`
	rec, err := scanJob(r.pool.QueryRow(ctx, q, jobType))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find active job %s: %w", jobType, err)
	}
	return rec, nil
}

func (r *jobRepo) Recent(ctx context.Context, n int) ([]*model.JobRecord, error) {
	return r.List(ctx, model.JobFilter{Limit: n})
}

func (r *jobRepo) List(ctx context.Context, f model.JobFilter) ([]*model.JobRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.JobType != "" {
		args = append(args, f.JobType)
		where = append(where, "j.job_type = $"+strconv.Itoa(len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, "j.status = $"+strconv.Itoa(len(args)))
	}

	q := `SELECT ` + jobColumns + ` FROM job_records j`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY j.created_at DESC, j.id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

func (r *jobRepo) ListStale(ctx context.Context, olderThan time.Duration) ([]*model.JobRecord, error) {
	q := `SELECT ` + jobColumns + ` FROM job_records j
 WHERE j.status = 'running' AND j.updated_at < $1
 ORDER BY j.created_at DESC`
	rows, err := r.pool.Query(ctx, q, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	return collectJobs(rows)
}

// latchedOrMissing explains why a latched write touched no row.
func (r *jobRepo) latchedOrMissing(ctx context.Context, id string) error {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM job_records WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check job %s: %w", id, err)
	}
	return domain.ErrJobFinished
}

func buildUpdate(id string, upd model.JobUpdate) (string, []interface{}, error) {
	return buildConditionalUpdate(id, upd, nil)
}

// buildConditionalUpdate narrows the latch to Running rows last written at
// seen when seen is set.
func buildConditionalUpdate(id string, upd model.JobUpdate, seen *time.Time) (string, []interface{}, error) {
	args := []interface{}{id}
	sets := []string{"updated_at = now()"}
	set := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, col+" = $"+strconv.Itoa(len(args)))
	}

	if upd.Status != nil {
		set("status", string(*upd.Status))
	}
	if upd.BackendTaskRef != nil {
		set("backend_task_ref", *upd.BackendTaskRef)
	}
	if upd.ProgressCurrent != nil {
		set("progress_current", *upd.ProgressCurrent)
	}
	if upd.ProgressTotal != nil {
		set("progress_total", *upd.ProgressTotal)
	}
	if upd.ProgressDetail != nil {
		set("progress_detail", *upd.ProgressDetail)
	}
	if upd.Result != nil {
		b, err := json.Marshal(upd.Result)
		if err != nil {
			return "", nil, fmt.Errorf("encode job result: %w", err)
		}
		set("result", string(b))
	}
	if upd.ErrorMessage != nil {
		set("error_message", *upd.ErrorMessage)
	}
	if upd.ItemsSucceeded != nil {
		set("items_succeeded", *upd.ItemsSucceeded)
	}
	if upd.ItemsFailed != nil {
		set("items_failed", *upd.ItemsFailed)
	}
	if upd.StartedAt != nil {
		set("started_at", upd.StartedAt.UTC())
	}
	if upd.CompletedAt != nil {
		set("completed_at", upd.CompletedAt.UTC())
	}

	where := "id = $1 AND status IN " + activeStatuses
	if seen != nil {
		args = append(args, seen.UTC())
		where = "id = $1 AND status = 'running' AND updated_at = $" + strconv.Itoa(len(args))
	}

	var b strings.Builder
	b.WriteString("WITH upd AS (\n  UPDATE job_records SET ")
	b.WriteString(strings.Join(sets, ", "))
	b.WriteString("\n   WHERE " + where + "\n  RETURNING id\n)")
	if upd.ClearLog {
		b.WriteString(", clr AS (\n  DELETE FROM job_log_lines WHERE job_id IN (SELECT id FROM upd)\n)")
	}
	if upd.AppendLog != "" {
		args = append(args, upd.AppendLog)
		b.WriteString(", ins AS (\n  INSERT INTO job_log_lines (job_id, line) SELECT id, $" + strconv.Itoa(len(args)) + " FROM upd\n)")
	}
	b.WriteString("\nSELECT count(*) FROM upd;")
	return b.String(), args, nil
}

func scanJob(row pgx.Row) (*model.JobRecord, error) {
	var (
		j         model.JobRecord
		status    string
		resultRaw []byte
	)
	err := row.Scan(
		&j.ID, &j.JobType, &j.BackendTaskRef, &status, &j.ProgressCurrent, &j.ProgressTotal,
		&j.ProgressDetail, &resultRaw, &j.ErrorMessage, &j.ItemsSucceeded, &j.ItemsFailed,
		&j.TriggeredBy, &j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt, &j.Log,
	)
	if err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	if len(resultRaw) > 0 {
		if err := json.Unmarshal(resultRaw, &j.Result); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*model.JobRecord, error) {
	defer rows.Close()
	var out []*model.JobRecord
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
