// File path: internal/store/cron.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/coreflowai/agent-dog/internal/event"
)

type cronJobRow struct {
	ID               string         `db:"id"`
	UserID           string         `db:"user_id"`
	Name             string         `db:"name"`
	Prompt           string         `db:"prompt"`
	ScheduleText     sql.NullString `db:"schedule_text"`
	CronExpression   string         `db:"cron_expression"`
	Timezone         string         `db:"timezone"`
	Enabled          bool           `db:"enabled"`
	NotifySlack      bool           `db:"notify_slack"`
	LastRunAt        int64          `db:"last_run_at"`
	LastRunSessionID sql.NullString `db:"last_run_session_id"`
	LastRunStatus    sql.NullString `db:"last_run_status"`
	NextRunAt        int64          `db:"next_run_at"`
	TotalRuns        int            `db:"total_runs"`
}

func (r cronJobRow) toCronJob() event.CronJob {
	return event.CronJob{
		ID:               r.ID,
		UserID:           r.UserID,
		Name:             r.Name,
		Prompt:           r.Prompt,
		ScheduleText:     r.ScheduleText.String,
		CronExpression:   r.CronExpression,
		Timezone:         r.Timezone,
		Enabled:          r.Enabled,
		NotifySlack:      r.NotifySlack,
		LastRunAt:        r.LastRunAt,
		LastRunSessionID: r.LastRunSessionID.String,
		LastRunStatus:    r.LastRunStatus.String,
		NextRunAt:        r.NextRunAt,
		TotalRuns:        r.TotalRuns,
	}
}

// SaveCronJob inserts or fully replaces a cron job definition.
func (s *Store) SaveCronJob(ctx context.Context, job event.CronJob) error {
	if job.Timezone == "" {
		job.Timezone = "UTC"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cron_jobs (id, user_id, name, prompt, schedule_text, cron_expression,
                        timezone, enabled, notify_slack, last_run_at, last_run_session_id,
                        last_run_status, next_run_at, total_runs)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
                 ON CONFLICT(id) DO UPDATE SET
                        name = excluded.name,
                        prompt = excluded.prompt,
                        schedule_text = excluded.schedule_text,
                        cron_expression = excluded.cron_expression,
                        timezone = excluded.timezone,
                        enabled = excluded.enabled,
                        notify_slack = excluded.notify_slack,
                        next_run_at = excluded.next_run_at`,
		job.ID, job.UserID, job.Name, job.Prompt, nullString(job.ScheduleText), job.CronExpression,
		job.Timezone, job.Enabled, job.NotifySlack, job.LastRunAt, nullString(job.LastRunSessionID),
		nullString(job.LastRunStatus), job.NextRunAt, job.TotalRuns)
	if err != nil {
		return fmt.Errorf("save cron job: %w", err)
	}
	return nil
}

// GetCronJob returns one job by id, or ErrNotFound.
func (s *Store) GetCronJob(ctx context.Context, id string) (event.CronJob, error) {
	var row cronJobRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM cron_jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return event.CronJob{}, ErrNotFound
	}
	if err != nil {
		return event.CronJob{}, fmt.Errorf("get cron job: %w", err)
	}
	return row.toCronJob(), nil
}

// ListCronJobs returns all jobs, optionally scoped to a user.
func (s *Store) ListCronJobs(ctx context.Context, userID string) ([]event.CronJob, error) {
	query := `SELECT * FROM cron_jobs ORDER BY name ASC`
	args := []interface{}{}
	if userID != "" {
		query = `SELECT * FROM cron_jobs WHERE user_id = ? ORDER BY name ASC`
		args = append(args, userID)
	}
	var rows []cronJobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list cron jobs: %w", err)
	}
	jobs := make([]event.CronJob, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.toCronJob())
	}
	return jobs, nil
}

// DeleteCronJob removes a job definition.
func (s *Store) DeleteCronJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cron_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete cron job: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordCronRun persists the bookkeeping for one finished run.
func (s *Store) RecordCronRun(ctx context.Context, id, sessionID, status string, ranAt, nextRunAt int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cron_jobs SET last_run_at = ?, last_run_session_id = ?, last_run_status = ?,
                        next_run_at = ?, total_runs = total_runs + 1 WHERE id = ?`,
		ranAt, nullString(sessionID), nullString(status), nextRunAt, id)
	if err != nil {
		return fmt.Errorf("record cron run: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}
