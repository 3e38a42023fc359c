package graph

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mergeplane/mergeplane/pkg/httputil"
)

// Handlers exposes the graph read API. Every endpoint is a pure query;
// cycles and conflicts are returned as data on a 200 response, never as
// errors.
type Handlers struct {
	service *Service
}

// NewHandlers creates graph HTTP handlers.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers the graph read endpoints.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/repositories/{owner}/{repo}/dependency-graph", h.getDependencyGraph).Methods("GET")
	router.HandleFunc("/repositories/{owner}/{repo}/merge-order", h.getMergeOrder).Methods("GET")
	router.HandleFunc("/workflows/{id}/impact", h.getImpact).Methods("GET")
	router.HandleFunc("/workflows/{id}/merge-check", h.getMergeCheck).Methods("GET")
	router.HandleFunc("/workflows/{id}/simulate-merge", h.simulateMerge).Methods("POST")
}

func (h *Handlers) getDependencyGraph(w http.ResponseWriter, r *http.Request) {
	repositoryID := repoID(r)
	if r.URL.Query().Get("refresh") == "true" {
		h.service.Invalidate(r.Context(), repositoryID)
	}

	g, err := h.service.DependencyGraph(r.Context(), repositoryID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, g)
}

func (h *Handlers) getMergeOrder(w http.ResponseWriter, r *http.Request) {
	repositoryID := repoID(r)

	order, err := h.service.MergeOrder(r.Context(), repositoryID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, order)
}

func (h *Handlers) getImpact(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["id"]

	report, err := h.service.ImpactAnalysis(r.Context(), workflowID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, report)
}

func (h *Handlers) getMergeCheck(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["id"]

	result, err := h.service.MergeCheck(r.Context(), workflowID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

func (h *Handlers) simulateMerge(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["id"]

	sim, err := h.service.SimulateMerge(r.Context(), workflowID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, sim)
}

// repoID joins the owner and repo path variables into the repository
// identifier used across the service.
func repoID(r *http.Request) string {
	vars := mux.Vars(r)
	return vars["owner"] + "/" + vars["repo"]
}
