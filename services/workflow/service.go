package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"

	"flomoji/api/services/engine"
	"flomoji/api/services/schedule"
)

// WorkflowRepo abstracts workflow persistence for testability.
type WorkflowRepo interface {
	Get(ctx context.Context, id string) (*Workflow, error)
	List(ctx context.Context) ([]Summary, error)
	Save(ctx context.Context, wf *Workflow) (*Workflow, error)
	Delete(ctx context.Context, id string) (bool, error)
	SetSchedule(ctx context.Context, id, cronExpr string) error
}

// Config carries the external dependencies for a workflow Service.
type Config struct {
	Pool    *pgxpool.Pool
	Chat    engine.ChatClient
	Metrics *engine.Metrics
}

// Service wires together the repository, execution engine, and scheduler
// for the workflow domain.
type Service struct {
	repo    WorkflowRepo
	engine  *engine.Service
	sched   *schedule.Scheduler
	sandbox *engine.Sandbox
}

// NewService creates a Service with a real PostgreSQL repository, the node
// engine, and a cron scheduler. The service itself resolves sub-workflow
// lookups against the repository.
func NewService(cfg Config) *Service {
	s := &Service{repo: NewRepository(cfg.Pool)}
	s.sandbox = engine.NewSandbox()
	s.engine = engine.NewService(engine.Deps{
		Chat:      cfg.Chat,
		Search:    engine.NewDuckDuckGoClient(),
		Sandbox:   s.sandbox,
		Workflows: s,
	})
	s.engine.SetMetrics(cfg.Metrics)
	s.sched = schedule.New(s.runScheduled, s.stopScheduled)
	return s
}

// LookupWorkflow resolves a stored workflow into its engine graph. Satisfies
// the engine's sub-workflow source.
func (s *Service) LookupWorkflow(ctx context.Context, id string) ([]engine.Node, []engine.Connection, error) {
	wf, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if wf == nil {
		return nil, nil, fmt.Errorf("workflow %q not found", id)
	}
	nodes, connections := wf.EngineGraph()
	return nodes, connections, nil
}

// ExecuteByID loads a workflow and runs it to completion.
func (s *Service) ExecuteByID(ctx context.Context, id string, inputs map[string]any) (engine.Result, error) {
	wf, err := s.repo.Get(ctx, id)
	if err != nil {
		return engine.Result{}, err
	}
	if wf == nil {
		return engine.Result{}, fmt.Errorf("workflow %q not found", id)
	}
	nodes, connections := wf.EngineGraph()
	return s.engine.Run(ctx, nodes, connections, inputs)
}

// runScheduled is the scheduler's trigger callback.
func (s *Service) runScheduled(ctx context.Context, workflowID string) error {
	res, err := s.ExecuteByID(ctx, workflowID, nil)
	if err != nil {
		return err
	}
	if res.Status == engine.StatusError && res.Err != nil {
		return res.Err
	}
	return nil
}

// stopScheduled is the scheduler's removal callback.
func (s *Service) stopScheduled(workflowID, reason string) {
	slog.Info("workflow schedule removed", "workflow_id", workflowID, "reason", reason)
}

// RestoreSchedules re-registers persisted schedules after a restart.
// A document with an expression the scheduler rejects is logged and skipped.
func (s *Service) RestoreSchedules(ctx context.Context) error {
	summaries, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("restore schedules: %w", err)
	}
	for _, summary := range summaries {
		if summary.Schedule == "" {
			continue
		}
		if err := s.sched.Add(summary.ID, summary.Schedule); err != nil {
			slog.Warn("Skipping stored schedule", "workflow_id", summary.ID, "error", err)
		}
	}
	return nil
}

// StartScheduler begins firing registered schedules.
func (s *Service) StartScheduler() { s.sched.Start() }

// Close stops the scheduler and shuts down the sandbox lane.
func (s *Service) Close() {
	s.sched.Shutdown()
	if s.sandbox != nil {
		s.sandbox.Close()
	}
}

// jsonMiddleware sets the Content-Type header to application/json.
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// LoadRoutes registers workflow HTTP handlers on the given router.
func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	router := parentRouter.PathPrefix("/workflows").Subrouter()
	router.StrictSlash(false)
	router.Use(jsonMiddleware)

	// "/import" must be registered before "/{id}" so it is not captured
	// as a workflow id.
	router.HandleFunc("", s.HandleListWorkflows).Methods("GET")
	router.HandleFunc("/import", s.HandleImportWorkflow).Methods("POST")
	router.HandleFunc("/{id}", s.HandleGetWorkflow).Methods("GET")
	router.HandleFunc("/{id}", s.HandleSaveWorkflow).Methods("PUT")
	router.HandleFunc("/{id}", s.HandleDeleteWorkflow).Methods("DELETE")
	router.HandleFunc("/{id}/execute", s.HandleExecuteWorkflow).Methods("POST")
	router.HandleFunc("/{id}/export", s.HandleExportWorkflow).Methods("GET")
	router.HandleFunc("/{id}/schedule", s.HandleScheduleWorkflow).Methods("POST")
	router.HandleFunc("/{id}/schedule", s.HandleUnscheduleWorkflow).Methods("DELETE")

	execution := parentRouter.PathPrefix("/execution").Subrouter()
	execution.StrictSlash(false)
	execution.Use(jsonMiddleware)

	execution.HandleFunc("/status", s.HandleExecutionStatus).Methods("GET")
	execution.HandleFunc("/log", s.HandleExecutionLog).Methods("GET")
	execution.HandleFunc("/log", s.HandleClearExecutionLog).Methods("DELETE")
	execution.HandleFunc("/stop", s.HandleStopExecution).Methods("POST")
}
