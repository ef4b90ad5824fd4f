package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/example/clinical-notify/internal/artifact"
)

func (h *Handler) listPatientArtifacts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := h.artifacts.ListByPatient(ctx, chi.URLParam(r, "hn"))
	if err != nil {
		h.respondErr(ctx, w, err)
		return
	}
	writeArtifacts(w, list)
}

func (h *Handler) listVisitArtifacts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := h.artifacts.ListByVisitOrRecord(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.respondErr(ctx, w, err)
		return
	}
	writeArtifacts(w, list)
}

func (h *Handler) getArtifact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, _, err := h.artifacts.GetByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.respondErr(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) getArtifactContent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, content, err := h.artifacts.GetByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.respondErr(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.Header().Set("Content-Disposition", `inline; filename="`+a.ID+`.pdf"`)
	w.Header().Set("ETag", `"`+a.SHA256+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func (h *Handler) deleteArtifact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.artifacts.Delete(ctx, chi.URLParam(r, "id")); err != nil {
		h.respondErr(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeArtifacts(w http.ResponseWriter, list []artifact.Artifact) {
	if list == nil {
		list = []artifact.Artifact{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": list})
}
