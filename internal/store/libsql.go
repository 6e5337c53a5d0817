package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/triggerflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/triggerflow.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Workflows ---

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	wf.CreatedAt = timeOrNow(wf.CreatedAt)
	wf.UpdatedAt = timeOrNow(wf.UpdatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, owner_id, name, enabled, configuration, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.OwnerID, wf.Name, boolInt(wf.Enabled), nullRaw(wf.Configuration),
		wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		return storeErr("create workflow", err)
	}
	return nil
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, ownerID, id string) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, enabled, configuration, created_at, updated_at
		 FROM workflows WHERE owner_id = ? AND id = ?`, ownerID, id,
	)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, storeErr("get workflow", err)
	}
	return wf, nil
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, ownerID string) ([]*Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, name, enabled, configuration, created_at, updated_at
		 FROM workflows WHERE owner_id = ? ORDER BY created_at, id`, ownerID,
	)
	if err != nil {
		return nil, storeErr("list workflows", err)
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, storeErr("scan workflow", err)
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func (s *LibSQLStore) SetWorkflowEnabled(ctx context.Context, ownerID, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET enabled = ?, updated_at = ? WHERE owner_id = ? AND id = ?`,
		boolInt(enabled), time.Now().UTC(), ownerID, id,
	)
	if err != nil {
		return storeErr("update workflow", err)
	}
	return checkRowsAffected(res, "workflow", id)
}

// DeleteWorkflow removes the workflow; steps and triggers cascade, executions are kept.
func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE owner_id = ? AND id = ?`, ownerID, id)
	if err != nil {
		return storeErr("delete workflow", err)
	}
	return checkRowsAffected(res, "workflow", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(r rowScanner) (*Workflow, error) {
	wf := &Workflow{}
	var (
		enabled int
		config  sql.NullString
	)
	if err := r.Scan(&wf.ID, &wf.OwnerID, &wf.Name, &enabled, &config, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	wf.Enabled = enabled != 0
	wf.Configuration = rawOrNil(config)
	return wf, nil
}

// --- Steps ---

func (s *LibSQLStore) CreateStep(ctx context.Context, step *WorkflowStep) error {
	if step.ID == "" {
		step.ID = uuid.New().String()
	}
	step.CreatedAt = timeOrNow(step.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_steps (id, workflow_id, position, type, params, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		step.ID, step.WorkflowID, step.Position, string(step.Type), nullRaw(step.Params), step.CreatedAt,
	)
	if err != nil {
		return storeErr("create step", err)
	}
	return nil
}

// ListStepsOrdered returns the workflow's steps by ascending position.
// Ties keep insertion order.
func (s *LibSQLStore) ListStepsOrdered(ctx context.Context, ownerID, workflowID string) ([]*WorkflowStep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.workflow_id, s.position, s.type, s.params, s.created_at
		 FROM workflow_steps s JOIN workflows w ON w.id = s.workflow_id
		 WHERE w.owner_id = ? AND s.workflow_id = ?
		 ORDER BY s.position, s.rowid`, ownerID, workflowID,
	)
	if err != nil {
		return nil, storeErr("list steps", err)
	}
	defer rows.Close()

	var steps []*WorkflowStep
	for rows.Next() {
		st := &WorkflowStep{}
		var (
			stepType string
			params   sql.NullString
		)
		if err := rows.Scan(&st.ID, &st.WorkflowID, &st.Position, &stepType, &params, &st.CreatedAt); err != nil {
			return nil, storeErr("scan step", err)
		}
		st.Type = schema.StepType(stepType)
		st.Params = rawOrNil(params)
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// --- Triggers ---

func (s *LibSQLStore) CreateTrigger(ctx context.Context, trigger *WorkflowTrigger) error {
	if trigger.ID == "" {
		trigger.ID = uuid.New().String()
	}
	trigger.CreatedAt = timeOrNow(trigger.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_triggers (id, workflow_id, trigger_type, trigger_source_id, trigger_config, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		trigger.ID, trigger.WorkflowID, string(trigger.Type), trigger.SourceID, nullRaw(trigger.Config), trigger.CreatedAt,
	)
	if err != nil {
		return storeErr("create trigger", err)
	}
	return nil
}

func (s *LibSQLStore) DeleteTrigger(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM workflow_triggers WHERE id = ?
		 AND workflow_id IN (SELECT id FROM workflows WHERE owner_id = ?)`, id, ownerID,
	)
	if err != nil {
		return storeErr("delete trigger", err)
	}
	return checkRowsAffected(res, "trigger", id)
}

func (s *LibSQLStore) ListTriggers(ctx context.Context, ownerID string, filter TriggerFilter) ([]*WorkflowTrigger, error) {
	where := []string{"w.owner_id = ?"}
	args := []any{ownerID}

	if filter.Type != "" {
		where = append(where, "t.trigger_type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.SourceID != "" {
		where = append(where, "t.trigger_source_id = ?")
		args = append(args, filter.SourceID)
	}

	query := `SELECT t.id, t.workflow_id, t.trigger_type, t.trigger_source_id, t.trigger_config, t.created_at
		FROM workflow_triggers t JOIN workflows w ON w.id = t.workflow_id
		WHERE ` + strings.Join(where, " AND ") + ` ORDER BY t.created_at, t.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list triggers", err)
	}
	defer rows.Close()

	var triggers []*WorkflowTrigger
	for rows.Next() {
		t := &WorkflowTrigger{}
		var (
			triggerType string
			config      sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.WorkflowID, &triggerType, &t.SourceID, &config, &t.CreatedAt); err != nil {
			return nil, storeErr("scan trigger", err)
		}
		t.Type = schema.TriggerType(triggerType)
		t.Config = rawOrNil(config)
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

// --- Executions ---

func (s *LibSQLStore) InsertExecution(ctx context.Context, exec *WorkflowExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	exec.StartedAt = timeOrNow(exec.StartedAt)
	triggerData, err := marshalMapOrDefault(exec.TriggerData)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "marshal trigger_data").WithCause(err)
	}
	logs, err := marshalLogs(exec.Logs)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "marshal logs").WithCause(err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_executions (id, workflow_id, owner_id, status, trigger_type, trigger_data, logs, error_message, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.WorkflowID, exec.OwnerID, string(exec.Status), nullStr(exec.TriggerType),
		string(triggerData), logs, nullStr(exec.Error), exec.StartedAt, nullTime(exec.CompletedAt),
	)
	if err != nil {
		return storeErr("insert execution", err)
	}
	return nil
}

// UpdateExecution writes the terminal state. Only a running execution can be updated.
func (s *LibSQLStore) UpdateExecution(ctx context.Context, ownerID, id string, update ExecutionUpdate) error {
	logs, err := marshalLogs(update.Logs)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "marshal logs").WithCause(err)
	}
	completedAt := update.CompletedAt
	if completedAt == nil && update.Status.IsTerminal() {
		now := time.Now().UTC()
		completedAt = &now
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_executions SET status = ?, logs = ?, error_message = ?, completed_at = ?
		 WHERE owner_id = ? AND id = ? AND status = ?`,
		string(update.Status), logs, nullStr(update.Error), nullTime(completedAt),
		ownerID, id, string(schema.ExecutionRunning),
	)
	if err != nil {
		return storeErr("update execution", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("update execution", err)
	}
	if n > 0 {
		return nil
	}

	// Distinguish a missing row from one already finalized.
	existing, err := s.GetExecution(ctx, ownerID, id)
	if err != nil {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeConflict, "execution %q already %s", id, existing.Status)
}

func (s *LibSQLStore) GetExecution(ctx context.Context, ownerID, id string) (*WorkflowExecution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM workflow_executions WHERE owner_id = ? AND id = ?`, ownerID, id,
	)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	if err != nil {
		return nil, storeErr("get execution", err)
	}
	return exec, nil
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, ownerID string, filter ExecutionFilter) ([]*WorkflowExecution, error) {
	where := []string{"owner_id = ?"}
	args := []any{ownerID}

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := "SELECT " + executionColumns + " FROM workflow_executions WHERE " +
		strings.Join(where, " AND ") + " ORDER BY started_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return s.queryExecutions(ctx, query, args...)
}

// ListStaleExecutions returns running executions of any owner started before filter.Before.
func (s *LibSQLStore) ListStaleExecutions(ctx context.Context, filter StaleFilter) ([]*WorkflowExecution, error) {
	query := "SELECT " + executionColumns + " FROM workflow_executions WHERE status = ? AND started_at < ? ORDER BY started_at"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return s.queryExecutions(ctx, query, string(schema.ExecutionRunning), filter.Before)
}

const executionColumns = `id, workflow_id, owner_id, status, trigger_type, trigger_data, logs, error_message, started_at, completed_at`

func (s *LibSQLStore) queryExecutions(ctx context.Context, query string, args ...any) ([]*WorkflowExecution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list executions", err)
	}
	defer rows.Close()

	var execs []*WorkflowExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, storeErr("scan execution", err)
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func scanExecution(r rowScanner) (*WorkflowExecution, error) {
	exec := &WorkflowExecution{}
	var (
		status                         string
		triggerType, triggerData, errS sql.NullString
		logs                           string
		completedAt                    sql.NullTime
	)
	if err := r.Scan(&exec.ID, &exec.WorkflowID, &exec.OwnerID, &status, &triggerType, &triggerData,
		&logs, &errS, &exec.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	exec.Status = schema.ExecutionStatus(status)
	exec.TriggerType = triggerType.String
	exec.Error = errS.String
	if triggerData.Valid && triggerData.String != "" {
		if err := json.Unmarshal([]byte(triggerData.String), &exec.TriggerData); err != nil {
			return nil, fmt.Errorf("unmarshal trigger_data: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(logs), &exec.Logs); err != nil {
		return nil, fmt.Errorf("unmarshal logs: %w", err)
	}
	if completedAt.Valid {
		exec.CompletedAt = &completedAt.Time
	}
	return exec, nil
}

// --- Business records ---

func (s *LibSQLStore) InsertRecord(ctx context.Context, ownerID, tableID string, data map[string]any) (string, error) {
	payload, err := marshalMapOrDefault(data)
	if err != nil {
		return "", schema.NewError(schema.ErrCodeValidation, "marshal record data").WithCause(err)
	}
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO business_records (id, owner_id, table_id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, ownerID, tableID, string(payload), now, now,
	)
	if err != nil {
		return "", storeErr("insert record", err)
	}
	return id, nil
}

// UpdateRecord merges patch into the record's data and stamps updated_at.
func (s *LibSQLStore) UpdateRecord(ctx context.Context, ownerID, tableID, recordID string, patch map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin update record", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT data FROM business_records WHERE owner_id = ? AND table_id = ? AND id = ?`,
		ownerID, tableID, recordID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return storeNotFound("record", recordID)
	}
	if err != nil {
		return storeErr("read record", err)
	}

	data := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return storeErr("unmarshal record data", err)
		}
	}
	for k, v := range patch {
		data[k] = v
	}
	merged, err := json.Marshal(data)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "marshal record data").WithCause(err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE business_records SET data = ?, updated_at = ? WHERE owner_id = ? AND table_id = ? AND id = ?`,
		string(merged), time.Now().UTC(), ownerID, tableID, recordID,
	); err != nil {
		return storeErr("update record", err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit update record", err)
	}
	return nil
}

func (s *LibSQLStore) DeleteRecord(ctx context.Context, ownerID, tableID, recordID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM business_records WHERE owner_id = ? AND table_id = ? AND id = ?`,
		ownerID, tableID, recordID,
	)
	if err != nil {
		return storeErr("delete record", err)
	}
	return checkRowsAffected(res, "record", recordID)
}

func (s *LibSQLStore) GetRecord(ctx context.Context, ownerID, tableID, recordID string) (*Record, error) {
	rec := &Record{}
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, table_id, data, created_at, updated_at
		 FROM business_records WHERE owner_id = ? AND table_id = ? AND id = ?`,
		ownerID, tableID, recordID,
	).Scan(&rec.ID, &rec.OwnerID, &rec.TableID, &raw, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("record", recordID)
	}
	if err != nil {
		return nil, storeErr("get record", err)
	}
	if err := json.Unmarshal([]byte(raw), &rec.Data); err != nil {
		return nil, storeErr("unmarshal record data", err)
	}
	return rec, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func storeErr(op string, err error) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %v", op, err).WithCause(err)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("rows affected", err)
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}

func marshalLogs(logs []string) (string, error) {
	if logs == nil {
		logs = []string{}
	}
	b, err := json.Marshal(logs)
	return string(b), err
}
