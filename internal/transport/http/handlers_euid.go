package httptransport

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"entityid/internal/identity"
	"entityid/pkg/euid"
	"entityid/pkg/platform/httputil"
	"entityid/pkg/requestcontext"
)

// handleGenerate handles POST /v1/euids.
func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[GenerateRequest](w, r, h.logger)
	if !ok {
		return
	}
	if err := required("entityType", req.EntityType); err != nil {
		httputil.WriteError(w, err)
		return
	}
	svcReq := req.toService(requestcontext.Actor(r.Context()))

	if len(req.RelatedTo) > 0 {
		ident, composite, err := h.identities.GenerateRelated(r.Context(), svcReq, req.edges())
		if err != nil {
			h.fail(w, r, "generate related identifier failed", err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, GenerateResponse{Identity: ident, Composite: composite})
		return
	}

	ident, err := h.identities.Generate(r.Context(), svcReq)
	if err != nil {
		h.fail(w, r, "generate identifier failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, GenerateResponse{Identity: ident})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ident, err := h.identities.Get(r.Context(), chi.URLParam(r, "euid"))
	if err != nil {
		h.fail(w, r, "get identifier failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ident)
}

// handleValidate checks an identifier against the live grammar, including
// custom prefixes. Invalid identifiers are a 200 with isValid=false.
func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "euid"))
	httputil.WriteJSON(w, http.StatusOK, h.lifecycle.Grammar().Validate(id))
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[StatusRequest](w, r, h.logger)
	if !ok {
		return
	}
	req.Status = euid.Status(strings.ToLower(string(req.Status)))
	ident, err := h.identities.UpdateStatus(r.Context(), chi.URLParam(r, "euid"), req.Status, requestcontext.Actor(r.Context()), req.cascade())
	if err != nil {
		h.fail(w, r, "status update failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ident)
}

func (h *Handler) handleRelationships(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[RelationshipsRequest](w, r, h.logger)
	if !ok {
		return
	}
	ident, err := h.identities.AddRelationships(r.Context(), chi.URLParam(r, "euid"), req.Relationships, requestcontext.Actor(r.Context()))
	if err != nil {
		h.fail(w, r, "add relationships failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ident)
}

func (h *Handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	version, err := h.identities.GenerateVersion(r.Context(), chi.URLParam(r, "euid"), requestcontext.Actor(r.Context()))
	if err != nil {
		h.fail(w, r, "create version failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, VersionResponse{EUID: version})
}

// handleDelete handles DELETE /v1/euids/{euid}?reason=...
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if err := required("reason", reason); err != nil {
		httputil.WriteError(w, err)
		return
	}
	tomb, err := h.identities.Delete(r.Context(), chi.URLParam(r, "euid"), requestcontext.Actor(r.Context()), reason)
	if err != nil {
		h.fail(w, r, "delete identifier failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tombstoneResponse(tomb))
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[BatchRequest](w, r, h.logger)
	if !ok {
		return
	}
	if err := required("entityType", req.EntityType); err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.identities.BatchGenerate(r.Context(), identity.BatchRequest{
		EntityType:  euid.EntityType(strings.ToUpper(strings.TrimSpace(req.EntityType))),
		Count:       req.Count,
		AccessLevel: euid.AccessLevel(strings.ToUpper(strings.TrimSpace(req.AccessLevel))),
		BatchID:     req.BatchID,
		Requestor:   requestcontext.Actor(r.Context()),
	})
	if err != nil {
		if len(res.EUIDs) > 0 {
			h.logger.WarnContext(r.Context(), "batch partially issued",
				"batch_id", res.BatchID,
				"issued", len(res.EUIDs),
				"error", err,
			)
		}
		h.fail(w, r, "batch generation failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, res)
}
