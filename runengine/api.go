package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quickrail-labs/quickrail-go/internal/domain"
	"github.com/quickrail-labs/quickrail-go/internal/execution/state"
	"github.com/quickrail-labs/quickrail-go/internal/platform/auth"
	"github.com/quickrail-labs/quickrail-go/internal/platform/httpserver"
	"github.com/quickrail-labs/quickrail-go/internal/platform/requestid"
	"github.com/quickrail-labs/quickrail-go/internal/repo"
	"github.com/quickrail-labs/quickrail-go/internal/service/runs"
	"github.com/quickrail-labs/quickrail-go/internal/snapshot"
)

const serviceName = "runengine"

type runsAPI struct {
	logger *slog.Logger
	svc    *runs.Service
}

func newRunsAPI(logger *slog.Logger, svc *runs.Service) *runsAPI {
	return &runsAPI{logger: logger, svc: svc}
}

func (api *runsAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /projects/{project_id}/runs", api.handleCreateRun)
	mux.HandleFunc("GET /projects/{project_id}/runs", api.handleListRuns)
	mux.HandleFunc("GET /runs/{run_id}", api.handleGetRun)
	mux.HandleFunc("POST /runs/{run_id}/close", api.handleCloseRun)
	mux.HandleFunc("POST /runs/{run_id}/reopen", api.handleReopenRun)
	mux.HandleFunc("GET /runs/{run_id}/slots", api.handleListSlots)
	mux.HandleFunc("GET /runs/{run_id}/stats", api.handleStats)
	mux.HandleFunc("POST /runs/{run_id}/results", api.handleSubmitResult)
	mux.HandleFunc("DELETE /runs/{run_id}/results", api.handleResetResults)
	mux.HandleFunc("DELETE /runs/{run_id}/results/{result_id}", api.handleDeleteResult)
	mux.HandleFunc("GET /runs/{run_id}/cases/{case_id}/results", api.handleHistory)
	mux.HandleFunc("POST /cases/{case_id}/invalidate-translations", api.handleInvalidateCase)
}

type runResponse struct {
	ID          string       `json:"id"`
	ProjectID   string       `json:"project_id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Language    string       `json:"language"`
	Closed      bool         `json:"closed"`
	CreatedBy   string       `json:"created_by"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	ClosedAt    *time.Time   `json:"closed_at,omitempty"`
	Stats       *state.Stats `json:"stats,omitempty"`
}

type snapshotResponse struct {
	CaseVersion    int      `json:"case_version"`
	Title          string   `json:"title"`
	Steps          string   `json:"steps"`
	ExpectedResult string   `json:"expected_result"`
	Priority       string   `json:"priority"`
	IssueLinks     []string `json:"issue_links"`
	MediaNames     []string `json:"media_names"`
	Language       string   `json:"language"`
	Translated     bool     `json:"translated"`
}

type slotResponse struct {
	ID            string           `json:"id"`
	CaseID        string           `json:"case_id"`
	Position      int              `json:"position"`
	Content       snapshotResponse `json:"content"`
	Live          bool             `json:"live"`
	RefreshedAt   *time.Time       `json:"refreshed_at,omitempty"`
	Latest        *resultResponse  `json:"latest,omitempty"`
	LatestComment *resultResponse  `json:"latest_comment,omitempty"`
}

type resultResponse struct {
	ID         string    `json:"id"`
	Seq        int64     `json:"seq"`
	RunID      string    `json:"run_id"`
	CaseID     string    `json:"case_id"`
	OperatorID string    `json:"operator_id"`
	Outcome    string    `json:"outcome"`
	Note       string    `json:"note,omitempty"`
	IssueLinks []string  `json:"issue_links"`
	CreatedAt  time.Time `json:"created_at"`
}

func toRunResponse(run domain.Run, stats *state.Stats) runResponse {
	return runResponse{
		ID:          run.ID,
		ProjectID:   run.ProjectID,
		Name:        run.Name,
		Description: run.Description,
		Language:    string(run.Language),
		Closed:      run.Closed,
		CreatedBy:   run.CreatedBy,
		CreatedAt:   run.CreatedAt,
		UpdatedAt:   run.UpdatedAt,
		ClosedAt:    run.ClosedAt,
		Stats:       stats,
	}
}

func toSnapshotResponse(s domain.Snapshot) snapshotResponse {
	return snapshotResponse{
		CaseVersion:    s.CaseVersion,
		Title:          s.Title,
		Steps:          s.Steps,
		ExpectedResult: s.ExpectedResult,
		Priority:       string(s.Priority),
		IssueLinks:     nonNil(domain.SplitList(s.IssueLinks)),
		MediaNames:     nonNil(domain.SplitList(s.MediaNames)),
		Language:       string(s.Language),
		Translated:     s.Translated,
	}
}

func toResultResponse(e domain.ResultEntry) resultResponse {
	return resultResponse{
		ID:         e.ID,
		Seq:        e.Seq,
		RunID:      e.RunID,
		CaseID:     e.CaseID,
		OperatorID: e.OperatorID,
		Outcome:    string(e.Outcome),
		Note:       e.Note,
		IssueLinks: nonNil(domain.SplitList(e.IssueLinks)),
		CreatedAt:  e.CreatedAt,
	}
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

type createRunRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Language    string   `json:"language"`
	CaseIDs     []string `json:"case_ids"`
}

func (api *runsAPI) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	res, err := api.svc.CreateRun(r.Context(), runs.CreateRunInput{
		ProjectID:   r.PathValue("project_id"),
		Name:        req.Name,
		Description: req.Description,
		Language:    req.Language,
		CaseIDs:     req.CaseIDs,
	}, auditInfo(r))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	slots := make([]slotResponse, 0, len(res.Slots))
	for _, slot := range res.Slots {
		slots = append(slots, slotResponse{
			ID:       slot.ID,
			CaseID:   slot.CaseID,
			Position: slot.Position,
			Content:  toSnapshotResponse(slot.Snapshot),
		})
	}
	httpserver.WriteJSON(w, http.StatusCreated, map[string]any{
		"run":    toRunResponse(res.Run, nil),
		"slots":  slots,
		"report": normalizeReport(res.Report),
	})
}

func (api *runsAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{ProjectID: r.PathValue("project_id")}
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("closed")); raw != "" {
		closed, err := strconv.ParseBool(raw)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_closed")
			return
		}
		filter.Closed = &closed
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 500 {
			api.writeError(w, r, http.StatusBadRequest, "invalid_limit")
			return
		}
		filter.Limit = limit
	}
	summaries, err := api.svc.ListRuns(r.Context(), filter)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]runResponse, 0, len(summaries))
	for _, summary := range summaries {
		stats := summary.Stats
		out = append(out, toRunResponse(summary.Run, &stats))
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (api *runsAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	summary, err := api.svc.GetRun(r.Context(), r.PathValue("run_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, toRunResponse(summary.Run, &summary.Stats))
}

func (api *runsAPI) handleCloseRun(w http.ResponseWriter, r *http.Request) {
	res, err := api.svc.CloseRun(r.Context(), r.PathValue("run_id"), auditInfo(r))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"run":       toRunResponse(res.Run, nil),
		"changed":   res.Changed,
		"refreshed": res.Refreshed,
		"report":    normalizeReport(res.Report),
	})
}

func (api *runsAPI) handleReopenRun(w http.ResponseWriter, r *http.Request) {
	run, changed, err := api.svc.ReopenRun(r.Context(), r.PathValue("run_id"), auditInfo(r))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"run":     toRunResponse(run, nil),
		"changed": changed,
	})
}

func (api *runsAPI) handleListSlots(w http.ResponseWriter, r *http.Request) {
	views, err := api.svc.Slots(r.Context(), r.PathValue("run_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]slotResponse, 0, len(views))
	for _, view := range views {
		item := slotResponse{
			ID:          view.Slot.ID,
			CaseID:      view.Slot.CaseID,
			Position:    view.Slot.Position,
			Content:     toSnapshotResponse(view.Content),
			Live:        view.Live,
			RefreshedAt: view.Slot.RefreshedAt,
		}
		if view.Latest != nil {
			latest := toResultResponse(*view.Latest)
			item.Latest = &latest
		}
		if view.LatestComment != nil {
			comment := toResultResponse(*view.LatestComment)
			item.LatestComment = &comment
		}
		out = append(out, item)
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"slots": out})
}

func (api *runsAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := api.svc.Stats(r.Context(), r.PathValue("run_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, stats)
}

type submitResultRequest struct {
	CaseID     string   `json:"case_id"`
	Outcome    string   `json:"outcome"`
	Note       string   `json:"note"`
	IssueLinks []string `json:"issue_links"`
}

func (api *runsAPI) handleSubmitResult(w http.ResponseWriter, r *http.Request) {
	var req submitResultRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	entry, disposition, err := api.svc.SubmitResult(r.Context(), runs.SubmitInput{
		RunID:      r.PathValue("run_id"),
		CaseID:     req.CaseID,
		Outcome:    req.Outcome,
		Note:       req.Note,
		IssueLinks: req.IssueLinks,
	}, auditInfo(r))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if disposition == runs.DispositionSuperseded {
		status = http.StatusOK
	}
	httpserver.WriteJSON(w, status, map[string]any{
		"result":      toResultResponse(entry),
		"disposition": string(disposition),
	})
}

func (api *runsAPI) handleDeleteResult(w http.ResponseWriter, r *http.Request) {
	if err := api.svc.DeleteResult(r.Context(), r.PathValue("run_id"), r.PathValue("result_id"), auditInfo(r)); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *runsAPI) handleResetResults(w http.ResponseWriter, r *http.Request) {
	n, err := api.svc.ResetResults(r.Context(), r.PathValue("run_id"), auditInfo(r))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func (api *runsAPI) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := api.svc.History(r.Context(), r.PathValue("run_id"), r.PathValue("case_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]resultResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toResultResponse(entry))
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (api *runsAPI) handleInvalidateCase(w http.ResponseWriter, r *http.Request) {
	if err := api.svc.InvalidateCase(r.Context(), r.PathValue("case_id")); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func normalizeReport(report snapshot.Report) map[string]any {
	missing := report.Missing
	if missing == nil {
		missing = []string{}
	}
	warnings := report.Warnings
	if warnings == nil {
		warnings = []snapshot.Warning{}
	}
	return map[string]any{"missing": missing, "warnings": warnings}
}

func auditInfo(r *http.Request) runs.AuditInfo {
	identity, _ := auth.IdentityFromContext(r.Context())
	id, _ := requestid.FromContext(r.Context())
	var ip net.IP
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = net.ParseIP(host)
	}
	return runs.AuditInfo{
		Actor:     identity.Subject,
		RequestID: id,
		UserAgent: r.UserAgent(),
		IP:        ip,
		Service:   serviceName,
	}
}

func (api *runsAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, runs.ErrInvalidInput):
		api.writeErrorDetail(w, r, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, repo.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, runs.ErrRunClosed):
		api.writeError(w, r, http.StatusConflict, "run_closed")
	case errors.Is(err, repo.ErrConflict):
		api.writeError(w, r, http.StatusConflict, "conflict")
	case errors.Is(err, runs.ErrForbidden):
		api.writeError(w, r, http.StatusForbidden, "forbidden")
	default:
		id, _ := requestid.FromContext(r.Context())
		api.logger.Error("request failed", "request_id", id, "path", r.URL.Path, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func (api *runsAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	httpserver.WriteJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get(requestid.Header),
	})
}

func (api *runsAPI) writeErrorDetail(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	httpserver.WriteJSON(w, status, map[string]any{
		"error":      code,
		"detail":     detail,
		"request_id": r.Header.Get(requestid.Header),
	})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}
