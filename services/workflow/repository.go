package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles workflow persistence in PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository backed by the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// InitSchema creates the workflows table if it does not exist.
func (r *Repository) InitSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS workflows (
			id          UUID PRIMARY KEY,
			name        TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			nodes       JSONB NOT NULL DEFAULT '[]',
			edges       JSONB NOT NULL DEFAULT '[]',
			schedule    TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Seed inserts the sample workflows if they do not already exist.
func (r *Repository) Seed(ctx context.Context) error {
	for _, wf := range sampleWorkflows() {
		nodesJSON, err := json.Marshal(wf.Nodes)
		if err != nil {
			return fmt.Errorf("marshal seed nodes: %w", err)
		}
		edgesJSON, err := json.Marshal(wf.Edges)
		if err != nil {
			return fmt.Errorf("marshal seed edges: %w", err)
		}

		_, err = r.db.Exec(ctx, `
			INSERT INTO workflows (id, name, description, nodes, edges)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING
		`, wf.ID, wf.Name, wf.Description, nodesJSON, edgesJSON)
		if err != nil {
			return fmt.Errorf("seed workflow %s: %w", wf.ID, err)
		}
	}
	return nil
}

// Get retrieves a workflow by ID. Returns nil, nil if not found.
func (r *Repository) Get(ctx context.Context, id string) (*Workflow, error) {
	var wf Workflow
	var nodesJSON, edgesJSON []byte

	err := r.db.QueryRow(ctx, `
		SELECT id, name, description, nodes, edges, schedule, created_at, updated_at
		FROM workflows WHERE id = $1
	`, id).Scan(&wf.ID, &wf.Name, &wf.Description, &nodesJSON, &edgesJSON, &wf.Schedule, &wf.CreatedAt, &wf.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}

	if err := json.Unmarshal(nodesJSON, &wf.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal nodes: %w", err)
	}
	if err := json.Unmarshal(edgesJSON, &wf.Edges); err != nil {
		return nil, fmt.Errorf("unmarshal edges: %w", err)
	}
	return &wf, nil
}

// List returns summaries of all workflows, most recently updated first.
func (r *Repository) List(ctx context.Context) ([]Summary, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, description, schedule, jsonb_array_length(nodes), updated_at
		FROM workflows ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.Schedule, &s.NodeCount, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return summaries, nil
}

// Save inserts or updates a workflow and returns the stored document with
// its timestamps filled in.
func (r *Repository) Save(ctx context.Context, wf *Workflow) (*Workflow, error) {
	nodesJSON, err := json.Marshal(wf.Nodes)
	if err != nil {
		return nil, fmt.Errorf("marshal nodes: %w", err)
	}
	edgesJSON, err := json.Marshal(wf.Edges)
	if err != nil {
		return nil, fmt.Errorf("marshal edges: %w", err)
	}

	saved := *wf
	err = r.db.QueryRow(ctx, `
		INSERT INTO workflows (id, name, description, nodes, edges, schedule)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name        = EXCLUDED.name,
			description = EXCLUDED.description,
			nodes       = EXCLUDED.nodes,
			edges       = EXCLUDED.edges,
			schedule    = EXCLUDED.schedule,
			updated_at  = NOW()
		RETURNING created_at, updated_at
	`, wf.ID, wf.Name, wf.Description, nodesJSON, edgesJSON, wf.Schedule).Scan(&saved.CreatedAt, &saved.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("save workflow: %w", err)
	}
	return &saved, nil
}

// Delete removes a workflow. Returns false if no row matched.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete workflow: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetSchedule updates only the schedule column of a workflow.
func (r *Repository) SetSchedule(ctx context.Context, id, cronExpr string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE workflows SET schedule = $2, updated_at = NOW() WHERE id = $1
	`, id, cronExpr)
	if err != nil {
		return fmt.Errorf("set schedule: %w", err)
	}
	return nil
}

// InitDB creates the schema and seeds initial data. Called from main on startup.
func InitDB(ctx context.Context, pool *pgxpool.Pool) error {
	repo := NewRepository(pool)
	if err := repo.InitSchema(ctx); err != nil {
		return err
	}
	return repo.Seed(ctx)
}

const (
	sampleWelcomeID = "b3f1c7e2-8a4d-4f6b-9c2e-d5a8f0b41e37"
	sampleShoutID   = "7d9e5a10-2c3b-4f8d-a6e1-94b7c25f08da"
)

// sampleWorkflows returns the seed documents: a greeting pipeline and the
// sub-workflow it invokes.
func sampleWorkflows() []Workflow {
	return []Workflow{
		{
			ID:          sampleWelcomeID,
			Name:        "Welcome Message",
			Description: "Greets a visitor and shouts the greeting via a sub-workflow",
			Nodes: []Node{
				{
					ID: "in", Type: "input",
					Position: Position{X: -120, Y: 220},
					Data: NodeData{
						Label:  "Visitor Name",
						Config: map[string]any{"name": "visitor", "value": "friend"},
					},
				},
				{
					ID: "combine", Type: "text_combiner",
					Position: Position{X: 180, Y: 220},
					Data: NodeData{
						Label:  "Compose Greeting",
						Config: map[string]any{"template": "Hello, {{input1}}!"},
					},
				},
				{
					ID: "shout", Type: "workflow",
					Position: Position{X: 480, Y: 220},
					Data: NodeData{
						Label:       "Shout",
						Description: "Runs the Shout sub-workflow",
						Config:      map[string]any{"workflowId": sampleShoutID},
					},
				},
				{
					ID: "out", Type: "output",
					Position: Position{X: 780, Y: 220},
					Data: NodeData{
						Label:  "Greeting",
						Config: map[string]any{"name": "greeting"},
					},
				},
			},
			Edges: []Edge{
				{ID: "e1", Source: "in", Target: "combine", TargetHandle: "input1", Type: "smoothstep", Animated: true, Style: map[string]any{"stroke": "#3b82f6"}},
				{ID: "e2", Source: "combine", Target: "shout", Type: "smoothstep", Animated: true, Style: map[string]any{"stroke": "#3b82f6"}},
				{ID: "e3", Source: "shout", SourceHandle: "output", Target: "out", Type: "smoothstep", Animated: true, Style: map[string]any{"stroke": "#10b981"}, Label: "Result"},
			},
		},
		{
			ID:          sampleShoutID,
			Name:        "Shout",
			Description: "Uppercases whatever text it receives",
			Nodes: []Node{
				{
					ID: "s_in", Type: "input",
					Position: Position{X: -120, Y: 160},
					Data:     NodeData{Label: "Text"},
				},
				{
					ID: "s_code", Type: "code_execution",
					Position: Position{X: 180, Y: 160},
					Data: NodeData{
						Label:  "Uppercase",
						Config: map[string]any{"code": "String(inputs.input).toUpperCase()", "timeout": 5},
					},
				},
				{
					ID: "s_out", Type: "output",
					Position: Position{X: 480, Y: 160},
					Data: NodeData{
						Label:  "Result",
						Config: map[string]any{"name": "result"},
					},
				},
			},
			Edges: []Edge{
				{ID: "s1", Source: "s_in", Target: "s_code", Type: "smoothstep", Animated: true},
				{ID: "s2", Source: "s_code", SourceHandle: "output", Target: "s_out", Type: "smoothstep", Animated: true},
			},
		},
	}
}
