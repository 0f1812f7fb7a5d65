package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// sqlStore implements the record stores on database/sql. The SQLite and MySQL
// backends share it; the only dialect difference that matters is the step-run
// upsert statement, injected by the opening backend.
type sqlStore struct {
	db            *sql.DB
	upsertStepRun string
}

func (s *sqlStore) Workflows() WorkflowStore { return sqlWorkflows{s} }
func (s *sqlStore) Runs() RunStore           { return sqlRuns{s} }
func (s *sqlStore) StepRuns() StepRunStore   { return sqlStepRuns{s} }
func (s *sqlStore) Events() EventStore       { return sqlEvents{s} }

func (s *sqlStore) Close() error { return s.db.Close() }

func encodeJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	switch m := v.(type) {
	case map[string]any:
		if m == nil {
			return sql.NullString{}, nil
		}
	case json.RawMessage:
		if len(m) == 0 {
			return sql.NullString{}, nil
		}
		return sql.NullString{String: string(m), Valid: true}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode json column: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeJSONMap(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, fmt.Errorf("decode json column: %w", err)
	}
	return m, nil
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func encodeTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: encodeTime(*t), Valid: true}
}

func decodeTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func decodeTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := decodeTime(ns.String)
	return &t
}

type sqlWorkflows struct{ s *sqlStore }

func (w sqlWorkflows) Create(ctx context.Context, wf *Workflow) error {
	def, err := encodeJSON(wf.Definition)
	if err != nil {
		return err
	}
	schema, err := encodeJSON(wf.InputSchema)
	if err != nil {
		return err
	}
	_, err = w.s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, version, status, definition, input_schema, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.Name, wf.Version, string(wf.Status), def, schema,
		encodeTime(wf.CreatedAt), encodeTime(wf.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

func scanWorkflow(row interface{ Scan(...any) error }) (*Workflow, error) {
	var (
		wf                   Workflow
		status               string
		def, schema          sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&wf.ID, &wf.Name, &wf.Version, &status, &def, &schema, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan workflow: %w", err)
	}
	wf.Status = WorkflowStatus(status)
	if def.Valid {
		wf.Definition = json.RawMessage(def.String)
	}
	if schema.Valid {
		wf.InputSchema = json.RawMessage(schema.String)
	}
	wf.CreatedAt = decodeTime(createdAt)
	wf.UpdatedAt = decodeTime(updatedAt)
	return &wf, nil
}

const workflowColumns = "id, name, version, status, definition, input_schema, created_at, updated_at"

func (w sqlWorkflows) Get(ctx context.Context, id string) (*Workflow, error) {
	row := w.s.db.QueryRowContext(ctx,
		"SELECT "+workflowColumns+" FROM workflows WHERE id = ?", id)
	return scanWorkflow(row)
}

func (w sqlWorkflows) Update(ctx context.Context, id string, upd WorkflowUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{encodeTime(time.Now())}
	if upd.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.Definition != nil {
		def, err := encodeJSON(upd.Definition)
		if err != nil {
			return err
		}
		sets = append(sets, "definition = ?")
		args = append(args, def)
	}
	if upd.InputSchema != nil {
		schema, err := encodeJSON(upd.InputSchema)
		if err != nil {
			return err
		}
		sets = append(sets, "input_schema = ?")
		args = append(args, schema)
	}
	args = append(args, id)
	res, err := w.s.db.ExecContext(ctx,
		"UPDATE workflows SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	return checkAffected(res)
}

func (w sqlWorkflows) Delete(ctx context.Context, id string) error {
	res, err := w.s.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	return checkAffected(res)
}

func (w sqlWorkflows) List(ctx context.Context) ([]*Workflow, error) {
	rows, err := w.s.db.QueryContext(ctx,
		"SELECT "+workflowColumns+" FROM workflows ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()
	var out []*Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const runColumns = "id, workflow_id, status, trigger_type, input, context, error, idempotency_key, started_at, completed_at, created_at"

type sqlRuns struct{ s *sqlStore }

func (r sqlRuns) Create(ctx context.Context, run *Run) error {
	input, err := encodeJSON(run.Input)
	if err != nil {
		return err
	}
	runCtx, err := encodeJSON(run.Context)
	if err != nil {
		return err
	}
	_, err = r.s.db.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowID, string(run.Status), string(run.TriggerType),
		input, runCtx, run.Error, run.IdempotencyKey,
		encodeTimePtr(run.StartedAt), encodeTimePtr(run.CompletedAt),
		encodeTime(run.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var (
		run                    Run
		status, trigger        string
		input, runCtx          sql.NullString
		errMsg, idemKey        sql.NullString
		startedAt, completedAt sql.NullString
		createdAt              string
	)
	if err := row.Scan(&run.ID, &run.WorkflowID, &status, &trigger,
		&input, &runCtx, &errMsg, &idemKey, &startedAt, &completedAt, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.Status = RunStatus(status)
	run.TriggerType = TriggerType(trigger)
	var err error
	if run.Input, err = decodeJSONMap(input); err != nil {
		return nil, err
	}
	if run.Context, err = decodeJSONMap(runCtx); err != nil {
		return nil, err
	}
	run.Error = errMsg.String
	run.IdempotencyKey = idemKey.String
	run.StartedAt = decodeTimePtr(startedAt)
	run.CompletedAt = decodeTimePtr(completedAt)
	run.CreatedAt = decodeTime(createdAt)
	return &run, nil
}

func (r sqlRuns) Get(ctx context.Context, id string) (*Run, error) {
	row := r.s.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	return scanRun(row)
}

func (r sqlRuns) Update(ctx context.Context, id string, upd RunUpdate) error {
	var sets []string
	var args []any
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *upd.Error)
	}
	if upd.Context != nil {
		runCtx, err := encodeJSON(upd.Context)
		if err != nil {
			return err
		}
		sets = append(sets, "context = ?")
		args = append(args, runCtx)
	}
	if upd.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, encodeTime(*upd.StartedAt))
	}
	if upd.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, encodeTime(*upd.CompletedAt))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.s.db.ExecContext(ctx,
		"UPDATE runs SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return checkAffected(res)
}

func (r sqlRuns) ListByWorkflow(ctx context.Context, workflowID string) ([]*Run, error) {
	rows, err := r.s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE workflow_id = ? ORDER BY created_at", workflowID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r sqlRuns) GetByIdempotencyKey(ctx context.Context, workflowID, key string) (*Run, error) {
	row := r.s.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE workflow_id = ? AND idempotency_key = ?",
		workflowID, key)
	return scanRun(row)
}

const stepRunColumns = "run_id, step_id, step_type, status, attempt, input, output, error, started_at, completed_at"

type sqlStepRuns struct{ s *sqlStore }

func (r sqlStepRuns) Create(ctx context.Context, sr *StepRun) error {
	input, err := encodeJSON(sr.Input)
	if err != nil {
		return err
	}
	output, err := encodeJSON(sr.Output)
	if err != nil {
		return err
	}
	_, err = r.s.db.ExecContext(ctx, r.s.upsertStepRun,
		sr.RunID, sr.StepID, sr.StepType, string(sr.Status), sr.Attempt,
		input, output, sr.Error,
		encodeTimePtr(sr.StartedAt), encodeTimePtr(sr.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert step run: %w", err)
	}
	return nil
}

func (r sqlStepRuns) ListByRun(ctx context.Context, runID string) ([]*StepRun, error) {
	rows, err := r.s.db.QueryContext(ctx,
		"SELECT "+stepRunColumns+" FROM step_runs WHERE run_id = ? ORDER BY seq", runID)
	if err != nil {
		return nil, fmt.Errorf("list step runs: %w", err)
	}
	defer rows.Close()
	var out []*StepRun
	for rows.Next() {
		var (
			sr                     StepRun
			status                 string
			input, output          sql.NullString
			errMsg                 sql.NullString
			startedAt, completedAt sql.NullString
		)
		if err := rows.Scan(&sr.RunID, &sr.StepID, &sr.StepType, &status, &sr.Attempt,
			&input, &output, &errMsg, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan step run: %w", err)
		}
		sr.Status = StepStatus(status)
		if sr.Input, err = decodeJSONMap(input); err != nil {
			return nil, err
		}
		if sr.Output, err = decodeJSONMap(output); err != nil {
			return nil, err
		}
		sr.Error = errMsg.String
		sr.StartedAt = decodeTimePtr(startedAt)
		sr.CompletedAt = decodeTimePtr(completedAt)
		out = append(out, &sr)
	}
	return out, rows.Err()
}

func (r sqlStepRuns) Update(ctx context.Context, runID, stepID string, attempt int, upd StepRunUpdate) error {
	var sets []string
	var args []any
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.Output != nil {
		output, err := encodeJSON(upd.Output)
		if err != nil {
			return err
		}
		sets = append(sets, "output = ?")
		args = append(args, output)
	}
	if upd.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *upd.Error)
	}
	if upd.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, encodeTime(*upd.StartedAt))
	}
	if upd.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, encodeTime(*upd.CompletedAt))
	}
	if len(sets) == 0 {
		return nil
	}

	where := "run_id = ? AND step_id = ?"
	args = append(args, runID, stepID)
	if attempt > 0 {
		where += " AND attempt = ?"
		args = append(args, attempt)
	} else {
		where += " AND attempt = (SELECT MAX(attempt) FROM step_runs WHERE run_id = ? AND step_id = ?)"
		args = append(args, runID, stepID)
	}
	res, err := r.s.db.ExecContext(ctx,
		"UPDATE step_runs SET "+strings.Join(sets, ", ")+" WHERE "+where, args...)
	if err != nil {
		return fmt.Errorf("update step run: %w", err)
	}
	return checkAffected(res)
}

func (r sqlStepRuns) DeleteByStep(ctx context.Context, runID, stepID string) error {
	_, err := r.s.db.ExecContext(ctx,
		"DELETE FROM step_runs WHERE run_id = ? AND step_id = ?", runID, stepID)
	if err != nil {
		return fmt.Errorf("delete step runs: %w", err)
	}
	return nil
}

type sqlEvents struct{ s *sqlStore }

func (r sqlEvents) Append(ctx context.Context, ev *RunEvent) error {
	payload, err := encodeJSON(ev.Payload)
	if err != nil {
		return err
	}
	_, err = r.s.db.ExecContext(ctx, `
		INSERT INTO run_events (id, run_id, step_id, event_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RunID, ev.StepID, ev.EventType, payload, encodeTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert run event: %w", err)
	}
	return nil
}

func (r sqlEvents) ListByRun(ctx context.Context, runID string) ([]*RunEvent, error) {
	rows, err := r.s.db.QueryContext(ctx, `
		SELECT id, run_id, step_id, event_type, payload, created_at
		FROM run_events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer rows.Close()
	var out []*RunEvent
	for rows.Next() {
		var (
			ev        RunEvent
			stepID    sql.NullString
			payload   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&ev.ID, &ev.RunID, &stepID, &ev.EventType, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		ev.StepID = stepID.String
		if ev.Payload, err = decodeJSONMap(payload); err != nil {
			return nil, err
		}
		ev.CreatedAt = decodeTime(createdAt)
		out = append(out, &ev)
	}
	return out, rows.Err()
}
