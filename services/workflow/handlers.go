package workflow

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"flomoji/api/services/engine"
)

// HandleListWorkflows returns summaries of all stored workflows.
func (s *Service) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.repo.List(r.Context())
	if err != nil {
		slog.Error("Failed to list workflows", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(summaries)
}

// HandleGetWorkflow loads a workflow document from the database and returns it as JSON.
func (s *Service) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	slog.Debug("Getting workflow", "id", id)

	wf, ok := s.loadWorkflow(w, r, id)
	if !ok {
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(wf)
}

// HandleSaveWorkflow creates or replaces the workflow document at the given id.
func (s *Service) HandleSaveWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}

	var wf Workflow
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	wf.ID = id
	if err := validateWorkflow(&wf); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if wf.Schedule != "" {
		if err := s.sched.Add(id, wf.Schedule); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		s.sched.Remove(id, "schedule cleared")
	}

	saved, err := s.repo.Save(r.Context(), &wf)
	if err != nil {
		slog.Error("Failed to save workflow", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(saved)
}

// HandleDeleteWorkflow removes a workflow document and its schedule.
func (s *Service) HandleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}

	found, err := s.repo.Delete(r.Context(), id)
	if err != nil {
		slog.Error("Failed to delete workflow", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	s.sched.Remove(id, "workflow deleted")

	w.WriteHeader(http.StatusNoContent)
}

// HandleExecuteWorkflow runs a workflow to completion and returns
// step-by-step results.
func (s *Service) HandleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	slog.Debug("Executing workflow", "id", id)

	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wf, ok := s.loadWorkflow(w, r, id)
	if !ok {
		return
	}

	if req.Debug {
		s.engine.SetDebugMode(true)
		defer s.engine.SetDebugMode(false)
	}

	logStart := len(s.engine.LogEntries())
	nodes, connections := wf.EngineGraph()
	exec, err := s.engine.Start(r.Context(), nodes, connections, req.Inputs)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrAlreadyRunning):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, engine.ErrNoExecutableNodes),
			errors.Is(err, engine.ErrCircularReference),
			errors.Is(err, engine.ErrDuplicateNode):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			slog.Error("Failed to start workflow", "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	results := s.drainExecution(exec, wf, logStart)

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(results)
}

// drainExecution advances a run to completion, collecting one step per
// executed node.
func (s *Service) drainExecution(exec *engine.Execution, wf *Workflow, logStart int) ExecutionResults {
	start := time.Now()
	stepStart := start
	steps := []ExecutionStep{}

	for exec.Advance() {
		nodeID := exec.CurrentNodeID()
		now := time.Now()

		step := ExecutionStep{
			StepNumber: len(steps) + 1,
			NodeID:     nodeID,
			Output:     exec.Outputs()[nodeID],
			Duration:   now.Sub(stepStart).Milliseconds(),
			Timestamp:  now.UTC().Format(time.RFC3339Nano),
		}
		if n, ok := wf.nodeByID(nodeID); ok {
			step.NodeType = n.Type
			step.Label = n.Data.Label
		}
		steps = append(steps, step)
		stepStart = now
	}

	res := exec.Result()
	end := time.Now()

	results := ExecutionResults{
		ExecutionID:   exec.ID(),
		WorkflowID:    wf.ID,
		Status:        string(res.Status),
		StartTime:     start.UTC().Format(time.RFC3339Nano),
		EndTime:       end.UTC().Format(time.RFC3339Nano),
		TotalDuration: end.Sub(start).Milliseconds(),
		Steps:         steps,
		Variables:     res.Variables,
	}
	if res.Err != nil {
		results.Error = &ExecutionError{NodeID: res.Err.NodeID, Message: res.Err.Err.Error()}
	}
	if entries := s.engine.LogEntries(); len(entries) > logStart {
		results.Log = entries[logStart:]
	}
	return results
}

// HandleExportWorkflow returns a workflow wrapped in the export envelope.
func (s *Service) HandleExportWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	wf, ok := s.loadWorkflow(w, r, id)
	if !ok {
		return
	}

	envelope := ExportEnvelope{
		Version:    exportVersion,
		ExportedAt: time.Now().UTC(),
		Workflow:   *wf,
	}
	w.Header().Set("Content-Disposition", `attachment; filename="workflow-`+wf.ID+`.json"`)
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(envelope)
}

// HandleImportWorkflow stores an exported workflow under a fresh id.
// Accepts either the export envelope or a bare workflow document.
func (s *Service) HandleImportWorkflow(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var envelope ExportEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	wf := envelope.Workflow
	if wf.Name == "" && envelope.Version == 0 {
		if err := json.Unmarshal(body, &wf); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if err := validateWorkflow(&wf); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Imports never collide with existing documents and never inherit a
	// schedule.
	wf.ID = uuid.NewString()
	wf.Schedule = ""

	saved, err := s.repo.Save(r.Context(), &wf)
	if err != nil {
		slog.Error("Failed to import workflow", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(saved)
}

// HandleScheduleWorkflow attaches a cron schedule to a workflow.
func (s *Service) HandleScheduleWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Cron == "" {
		writeError(w, http.StatusBadRequest, errMissing("cron").Error())
		return
	}

	if _, ok := s.loadWorkflow(w, r, id); !ok {
		return
	}
	if err := s.sched.Add(id, req.Cron); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.repo.SetSchedule(r.Context(), id, req.Cron); err != nil {
		slog.Error("Failed to persist schedule", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(ScheduleResponse{WorkflowID: id, Cron: req.Cron})
}

// HandleUnscheduleWorkflow detaches a workflow's cron schedule.
func (s *Service) HandleUnscheduleWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}

	s.sched.Remove(id, "unscheduled by user")
	if err := s.repo.SetSchedule(r.Context(), id, ""); err != nil {
		slog.Error("Failed to clear schedule", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleExecutionLog returns the engine's accumulated execution log.
func (s *Service) HandleExecutionLog(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(s.engine.LogEntries())
}

// HandleClearExecutionLog empties the engine's execution log.
func (s *Service) HandleClearExecutionLog(w http.ResponseWriter, r *http.Request) {
	s.engine.ClearLog()
	w.WriteHeader(http.StatusNoContent)
}

// HandleStopExecution requests cancellation of the current run, if any.
func (s *Service) HandleStopExecution(w http.ResponseWriter, r *http.Request) {
	s.engine.StopCurrent()
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"message": "stop requested"})
}

// HandleExecutionStatus reports whether a run currently holds the engine.
func (s *Service) HandleExecutionStatus(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]bool{"running": s.engine.IsRunning()})
}

// loadWorkflow validates the id, fetches the document, and writes the
// error response itself when the workflow cannot be served.
func (s *Service) loadWorkflow(w http.ResponseWriter, r *http.Request, id string) (*Workflow, bool) {
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return nil, false
	}

	wf, err := s.repo.Get(r.Context(), id)
	if err != nil {
		slog.Error("Failed to get workflow", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	if wf == nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return nil, false
	}
	return wf, true
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}

func validateWorkflow(wf *Workflow) error {
	if wf.Name == "" {
		return errMissing("name")
	}
	seen := make(map[string]bool, len(wf.Nodes))
	for _, n := range wf.Nodes {
		if n.ID == "" || seen[n.ID] {
			return errInvalid("nodes")
		}
		seen[n.ID] = true
	}
	return nil
}

type validationError struct {
	field string
	kind  string
}

func (e *validationError) Error() string {
	if e.kind == "missing" {
		return e.field + " is required"
	}
	return e.field + " is invalid"
}

func errMissing(field string) error { return &validationError{field: field, kind: "missing"} }
func errInvalid(field string) error { return &validationError{field: field, kind: "invalid"} }
