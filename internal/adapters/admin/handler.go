// Package admin exposes the administrative HTTP surface: team merges,
// on-demand reconciliation, the merge journal and report patches.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"refereecore/internal/adapters/reconciler"
	"refereecore/internal/core"
	"refereecore/internal/reconcile"
	"refereecore/pkg/domain"
)

// ActorHeader names the request header carrying the administrator's name.
const ActorHeader = "X-Refereecore-Actor"

const maxBodyBytes = 1 << 20

// Service is the subset of core.Service used by the handler.
type Service interface {
	MergeTeams(ctx context.Context, req reconcile.TeamMergeRequest) (reconcile.TeamMergeSummary, error)
	UpdateReport(ctx context.Context, id int64, patch domain.ReportPatch) (domain.Report, core.Result, error)
	ListMerges(ctx context.Context) ([]core.MergeRecord, error)
}

// Reconciler runs on-demand passes.
type Reconciler interface {
	Trigger(ctx context.Context) (core.ReconcileSummary, bool, error)
	Stats() reconciler.Stats
}

// Handler serves the admin API.
type Handler struct {
	Service    Service
	Reconciler Reconciler
	router     *mux.Router
}

// apiPrefix is registered per route on the root router; mux answers 405 for a
// method mismatch only there, not inside a subrouter.
const apiPrefix = "/api/v1"

// NewHandler constructs an admin handler. A nil reconciler disables the
// reconcile endpoints.
func NewHandler(svc Service, r Reconciler) *Handler {
	h := &Handler{Service: svc, Reconciler: r}
	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	router.HandleFunc(apiPrefix+"/teams/merge", h.handleMergeTeams).Methods(http.MethodPost)
	router.HandleFunc(apiPrefix+"/reconcile", h.handleReconcile).Methods(http.MethodPost)
	router.HandleFunc(apiPrefix+"/reconcile", h.handleReconcileStats).Methods(http.MethodGet)
	router.HandleFunc(apiPrefix+"/merges", h.handleListMerges).Methods(http.MethodGet)
	router.HandleFunc(apiPrefix+"/reports/{id:[0-9]+}", h.handlePatchReport).Methods(http.MethodPatch)
	h.router = router
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) handleMergeTeams(w http.ResponseWriter, r *http.Request) {
	var req reconcile.TeamMergeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	summary, err := h.Service.MergeTeams(withActor(r), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	status := "merged"
	if req.DryRun {
		status = "dry_run"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "summary": summary})
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if h.Reconciler == nil {
		http.NotFound(w, r)
		return
	}
	summary, ran, err := h.Reconciler.Trigger(r.Context())
	if !ran {
		writeJSON(w, http.StatusConflict, map[string]any{"status": "skipped", "message": "a reconciliation pass is already running"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "failed", "summary": summary, "error": core.DescribeError(err)})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "completed", "summary": summary})
}

func (h *Handler) handleReconcileStats(w http.ResponseWriter, r *http.Request) {
	if h.Reconciler == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.Reconciler.Stats())
}

func (h *Handler) handleListMerges(w http.ResponseWriter, r *http.Request) {
	records, err := h.Service.ListMerges(r.Context())
	if err != nil {
		writeFailure(w, domain.StorageError{Op: "list merges", Err: err})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"merges": records})
}

func (h *Handler) handlePatchReport(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeFailure(w, domain.ValidationError{Field: "id", Message: "report id must be a positive integer"})
		return
	}
	var patch domain.ReportPatch
	if err := decodeBody(w, r, &patch); err != nil {
		writeFailure(w, err)
		return
	}
	report, _, err := h.Service.UpdateReport(withActor(r), id, patch)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": report})
}

func withActor(r *http.Request) context.Context {
	if actor := r.Header.Get(ActorHeader); actor != "" {
		return core.WithActor(r.Context(), actor)
	}
	return r.Context()
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.ValidationError{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if dec.More() {
		return domain.ValidationError{Field: "body", Message: "unexpected data after JSON object"}
	}
	return nil
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.ErrorKindNotFound:
		return http.StatusNotFound
	case domain.ErrorKindValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeFailure(w http.ResponseWriter, err error) {
	failure := core.DescribeError(err)
	status := statusFor(failure.Kind)
	var validation domain.ValidationError
	if errors.As(err, &validation) && validation.Field == "body" {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, failure)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
