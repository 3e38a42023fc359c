package queue

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/mergeplane/mergeplane/pkg/httputil"
	"github.com/mergeplane/mergeplane/pkg/notify"
)

// Handlers exposes the merge queue REST API.
type Handlers struct {
	store       Store
	scheduler   *Scheduler
	broadcaster notify.Broadcaster
	log         *logrus.Logger
}

// NewHandlers creates queue HTTP handlers.
func NewHandlers(store Store, scheduler *Scheduler, broadcaster notify.Broadcaster, log *logrus.Logger) *Handlers {
	if broadcaster == nil {
		broadcaster = notify.NopBroadcaster{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handlers{store: store, scheduler: scheduler, broadcaster: broadcaster, log: log}
}

// RegisterRoutes registers the queue endpoints under the repository prefix.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/repositories/{owner}/{repo}/merge-queue", h.listQueue).Methods("GET")
	router.HandleFunc("/repositories/{owner}/{repo}/merge-queue", h.addToQueue).Methods("POST")
	router.HandleFunc("/repositories/{owner}/{repo}/merge-queue/config", h.getConfig).Methods("GET")
	router.HandleFunc("/repositories/{owner}/{repo}/merge-queue/config", h.patchConfig).Methods("PATCH")
	router.HandleFunc("/repositories/{owner}/{repo}/merge-queue/process", h.processQueue).Methods("POST")
	router.HandleFunc("/repositories/{owner}/{repo}/merge-queue/{prNumber}", h.removeFromQueue).Methods("DELETE")
	router.HandleFunc("/repositories/{owner}/{repo}/merge-queue/{prNumber}/conflicts", h.getConflicts).Methods("GET")
	router.HandleFunc("/repositories/{owner}/{repo}/merge-queue/{prNumber}/rebase", h.rebaseAndRetry).Methods("POST")
}

// repositoryID is the canonical "owner/repo" key queue storage is scoped by.
func repositoryID(r *http.Request) (owner, repo, id string) {
	vars := mux.Vars(r)
	owner, repo = vars["owner"], vars["repo"]
	return owner, repo, owner + "/" + repo
}

func (h *Handlers) listQueue(w http.ResponseWriter, r *http.Request) {
	_, _, repoID := repositoryID(r)

	items, err := h.store.List(r.Context(), repoID)
	if err != nil {
		h.log.WithError(err).Error("failed to list merge queue")
		httputil.WriteServiceError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"repository_id": repoID,
		"items":         items,
		"total":         len(items),
	})
}

type addRequest struct {
	PRNumber int `json:"pr_number"`
	Priority int `json:"priority"`
}

func (h *Handlers) addToQueue(w http.ResponseWriter, r *http.Request) {
	_, _, repoID := repositoryID(r)

	var req addRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if req.PRNumber <= 0 {
		httputil.WriteBadRequest(w, "pr_number must be a positive integer")
		return
	}

	item, created, err := h.store.Add(r.Context(), repoID, req.PRNumber, req.Priority)
	if err != nil {
		h.log.WithError(err).Error("failed to add queue item")
		httputil.WriteServiceError(w, err)
		return
	}

	if created {
		h.broadcaster.Publish(r.Context(), notify.Event{
			Type:         notify.EventItemQueued,
			RepositoryID: repoID,
			Data: map[string]interface{}{
				"pr_number": item.PRNumber,
				"priority":  item.Priority,
			},
		})
		httputil.WriteCreated(w, item)
		return
	}
	// Re-adding an already queued PR returns the existing item untouched.
	httputil.WriteSuccess(w, item)
}

func (h *Handlers) removeFromQueue(w http.ResponseWriter, r *http.Request) {
	_, _, repoID := repositoryID(r)
	prNumber, err := httputil.PathInt(r, "prNumber")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.store.Remove(r.Context(), repoID, prNumber); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	h.broadcaster.Publish(r.Context(), notify.Event{
		Type:         notify.EventItemRemoved,
		RepositoryID: repoID,
		Data:         map[string]interface{}{"pr_number": prNumber},
	})
	httputil.WriteNoContent(w)
}

func (h *Handlers) getConfig(w http.ResponseWriter, r *http.Request) {
	_, _, repoID := repositoryID(r)
	httputil.WriteSuccess(w, h.store.GetConfig(r.Context(), repoID))
}

func (h *Handlers) patchConfig(w http.ResponseWriter, r *http.Request) {
	_, _, repoID := repositoryID(r)

	var patch ConfigPatch
	if err := httputil.ParseJSON(r, &patch); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	cfg, err := h.store.SetConfig(r.Context(), repoID, patch)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, cfg)
}

func (h *Handlers) processQueue(w http.ResponseWriter, r *http.Request) {
	owner, repo, repoID := repositoryID(r)

	result, err := h.scheduler.ProcessQueue(r.Context(), owner, repo, repoID)
	if err != nil {
		h.log.WithError(err).Error("queue processing pass failed")
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

func (h *Handlers) getConflicts(w http.ResponseWriter, r *http.Request) {
	owner, repo, repoID := repositoryID(r)
	prNumber, err := httputil.PathInt(r, "prNumber")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	item, err := h.store.Get(r.Context(), repoID, prNumber)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	items, err := h.store.List(r.Context(), repoID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	others := make([]int, 0, len(items))
	for _, other := range items {
		if other.PRNumber != prNumber && other.Status != StatusMerged {
			others = append(others, other.PRNumber)
		}
	}

	detector := NewConflictDetector(h.scheduler.client)
	conflicts, err := detector.Conflicts(r.Context(), owner, repo, prNumber, others)
	if err != nil {
		h.log.WithError(err).Error("conflict lookup failed")
		httputil.WriteServiceError(w, err)
		return
	}

	details := make([]map[string]interface{}, 0, len(conflicts))
	for _, other := range conflicts {
		shared, err := detector.SharedFiles(r.Context(), owner, repo, prNumber, other)
		if err != nil {
			httputil.WriteServiceError(w, err)
			return
		}
		details = append(details, map[string]interface{}{
			"pr_number":    other,
			"shared_files": shared,
		})
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"pr_number":     item.PRNumber,
		"repository_id": repoID,
		"conflicts":     details,
		"has_conflicts": len(details) > 0,
	})
}

func (h *Handlers) rebaseAndRetry(w http.ResponseWriter, r *http.Request) {
	owner, repo, repoID := repositoryID(r)
	prNumber, err := httputil.PathInt(r, "prNumber")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	result := h.scheduler.RebaseAndRetry(r.Context(), owner, repo, repoID, prNumber)
	if !result.Success {
		// Absent items report success=false on a 200 so queue tooling can
		// retry without treating the response as an API failure.
		h.log.WithFields(logrus.Fields{
			"repository_id": repoID,
			"pr":            prNumber,
		}).Info(fmt.Sprintf("rebase declined: %s", result.Message))
	}
	httputil.WriteSuccess(w, result)
}
