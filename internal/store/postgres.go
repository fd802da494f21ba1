// PostgreSQL Store implementation backed by pgx.
//
// Schema (migrations managed externally):
//
//	CREATE TABLE workflows (
//	    workflow_id      text PRIMARY KEY,
//	    user_id          text NOT NULL,
//	    current_provider text NOT NULL,
//	    provider_states  jsonb NOT NULL,
//	    checkpoint_data  jsonb NOT NULL DEFAULT '{"fallback_history": []}',
//	    created_at       timestamptz NOT NULL,
//	    updated_at       timestamptz NOT NULL
//	);
//	CREATE INDEX workflows_user_idx ON workflows (user_id, created_at DESC);
//
//	CREATE TABLE queued_messages (
//	    id             text PRIMARY KEY,
//	    workflow_id    text NOT NULL,
//	    recipient_id   text NOT NULL,
//	    content        text NOT NULL,
//	    group_key      text NOT NULL,
//	    dedup_id       text NOT NULL,
//	    sqs_message_id text,
//	    status         text NOT NULL,
//	    created_at     timestamptz NOT NULL
//	);
//
//	CREATE TABLE pipelines (
//	    id     text PRIMARY KEY,
//	    doc    jsonb NOT NULL
//	);
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fanforge/fanforge/orchestration/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on a pgx connection pool. Row-level
// locking in PostgreSQL serializes writes per workflow id; distinct
// workflows proceed independently.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store over an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Connect opens a pool for the given URL and verifies connectivity.
func Connect(ctx context.Context, url string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// ── Workflows ────────────────────────────────────────────────

func (s *PostgresStore) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	states, _ := json.Marshal(wf.ProviderStates)
	checkpoint, _ := json.Marshal(wf.Checkpoint)

	_, err := s.pool.Exec(ctx,
		`INSERT INTO workflows (workflow_id, user_id, current_provider, provider_states, checkpoint_data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		wf.WorkflowID, wf.UserID, string(wf.CurrentProvider), states, checkpoint, wf.CreatedAt, wf.UpdatedAt)
	if err != nil {
		return &PersistenceError{Op: "create workflow", Key: wf.WorkflowID, Err: err}
	}
	return nil
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	var (
		wf         models.Workflow
		provider   string
		states     []byte
		checkpoint []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT workflow_id, user_id, current_provider, provider_states, checkpoint_data, created_at, updated_at
		 FROM workflows WHERE workflow_id = $1`,
		workflowID).Scan(&wf.WorkflowID, &wf.UserID, &provider, &states, &checkpoint, &wf.CreatedAt, &wf.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "workflow", Key: workflowID}
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get workflow", Key: workflowID, Err: err}
	}

	wf.CurrentProvider = models.ProviderID(provider)
	if err := json.Unmarshal(states, &wf.ProviderStates); err != nil {
		return nil, &PersistenceError{Op: "decode provider states", Key: workflowID, Err: err}
	}
	if err := json.Unmarshal(checkpoint, &wf.Checkpoint); err != nil {
		return nil, &PersistenceError{Op: "decode checkpoint", Key: workflowID, Err: err}
	}
	return &wf, nil
}

func (s *PostgresStore) ListWorkflows(ctx context.Context, userID string, limit int) ([]models.Workflow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT workflow_id, user_id, current_provider, provider_states, checkpoint_data, created_at, updated_at
		 FROM workflows
		 WHERE ($1 = '' OR user_id = $1)
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, &PersistenceError{Op: "list workflows", Key: userID, Err: err}
	}
	defer rows.Close()

	var out []models.Workflow
	for rows.Next() {
		var (
			wf         models.Workflow
			provider   string
			states     []byte
			checkpoint []byte
		)
		if err := rows.Scan(&wf.WorkflowID, &wf.UserID, &provider, &states, &checkpoint, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
			return nil, &PersistenceError{Op: "scan workflow", Key: userID, Err: err}
		}
		wf.CurrentProvider = models.ProviderID(provider)
		json.Unmarshal(states, &wf.ProviderStates)
		json.Unmarshal(checkpoint, &wf.Checkpoint)
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetProviderState(ctx context.Context, workflowID string, p models.ProviderID, state models.ProviderState) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE workflows
		 SET provider_states = jsonb_set(provider_states, ARRAY[$2::text], to_jsonb($3::text)),
		     updated_at = now()
		 WHERE workflow_id = $1`,
		workflowID, string(p), string(state))
	if err != nil {
		return &PersistenceError{Op: "set provider state", Key: workflowID, Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "workflow", Key: workflowID}
	}
	return nil
}

func (s *PostgresStore) SetCurrentProvider(ctx context.Context, workflowID string, p models.ProviderID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE workflows SET current_provider = $2, updated_at = now() WHERE workflow_id = $1`,
		workflowID, string(p))
	if err != nil {
		return &PersistenceError{Op: "set current provider", Key: workflowID, Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "workflow", Key: workflowID}
	}
	return nil
}

func (s *PostgresStore) AppendFallback(ctx context.Context, workflowID string, event models.FallbackEvent) error {
	eventJSON, _ := json.Marshal(event)

	// jsonb array append keeps the history append-only at the database
	// level; concurrent appends for the same workflow serialize on the row.
	tag, err := s.pool.Exec(ctx,
		`UPDATE workflows
		 SET checkpoint_data = jsonb_set(
		         checkpoint_data,
		         '{fallback_history}',
		         COALESCE(checkpoint_data->'fallback_history', '[]'::jsonb) || $2::jsonb),
		     updated_at = now()
		 WHERE workflow_id = $1`,
		workflowID, eventJSON)
	if err != nil {
		return &PersistenceError{Op: "append fallback", Key: workflowID, Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "workflow", Key: workflowID}
	}
	return nil
}

// ── Messages ─────────────────────────────────────────────────

func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.QueuedMessage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO queued_messages (id, workflow_id, recipient_id, content, group_key, dedup_id, sqs_message_id, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		msg.ID, msg.WorkflowID, msg.RecipientID, msg.Content, msg.GroupKey, msg.DedupID, msg.SQSMessageID, string(msg.Status), msg.CreatedAt)
	if err != nil {
		return &PersistenceError{Op: "create message", Key: msg.ID, Err: err}
	}
	return nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.QueuedMessage, error) {
	var (
		msg    models.QueuedMessage
		status string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, workflow_id, recipient_id, content, group_key, dedup_id, COALESCE(sqs_message_id, ''), status, created_at
		 FROM queued_messages WHERE id = $1`,
		id).Scan(&msg.ID, &msg.WorkflowID, &msg.RecipientID, &msg.Content, &msg.GroupKey, &msg.DedupID, &msg.SQSMessageID, &status, &msg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "message", Key: id}
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get message", Key: id, Err: err}
	}
	msg.Status = models.MessageStatus(status)
	return &msg, nil
}

// ── Pipelines ────────────────────────────────────────────────

func (s *PostgresStore) CreatePipeline(ctx context.Context, p *models.Pipeline) error {
	doc, _ := json.Marshal(p)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pipelines (id, doc) VALUES ($1, $2)`, p.ID, doc)
	if err != nil {
		return &PersistenceError{Op: "create pipeline", Key: p.ID, Err: err}
	}
	return nil
}

func (s *PostgresStore) UpdatePipeline(ctx context.Context, p *models.Pipeline) error {
	doc, _ := json.Marshal(p)
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipelines SET doc = $2 WHERE id = $1`, p.ID, doc)
	if err != nil {
		return &PersistenceError{Op: "update pipeline", Key: p.ID, Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "pipeline", Key: p.ID}
	}
	return nil
}

func (s *PostgresStore) GetPipeline(ctx context.Context, id string) (*models.Pipeline, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM pipelines WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "pipeline", Key: id}
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get pipeline", Key: id, Err: err}
	}
	var p models.Pipeline
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, &PersistenceError{Op: "decode pipeline", Key: id, Err: err}
	}
	return &p, nil
}

// ── Lifecycle ────────────────────────────────────────────────

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
