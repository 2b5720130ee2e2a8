package httptransport

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"entityid/internal/governor"
	"entityid/internal/recovery"
	"entityid/pkg/euid"
	"entityid/pkg/platform/httputil"
	"entityid/pkg/platform/sentinel"
	"entityid/pkg/requestcontext"
)

func (h *Handler) handleConflictStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.lifecycle.ConflictStats(r.Context())
	if err != nil {
		h.fail(w, r, "conflict stats failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleListDoe(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	does, err := h.recovery.DoeIdentities(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, r, "list doe identities failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ListResponse[recovery.DoeIdentity]{Items: does, Limit: limit, Offset: offset})
}

func (h *Handler) handleDoeStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.recovery.DoeStatistics(r.Context())
	if err != nil {
		h.fail(w, r, "doe statistics failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleRecover(w http.ResponseWriter, r *http.Request) {
	entry, err := h.recovery.AttemptRecovery(r.Context(), chi.URLParam(r, "doeId"))
	if err != nil {
		h.fail(w, r, "recovery attempt failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleOverride(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[OverrideRequest](w, r, h.logger)
	if !ok {
		return
	}
	err := h.lifecycle.ManualOverride(r.Context(), governor.OverrideRequest{
		Op:        req.Op,
		EUID:      req.EUID,
		Reason:    req.Reason,
		Requestor: requestcontext.Actor(r.Context()),
	})
	if err != nil {
		h.fail(w, r, "manual override failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListPrefixes(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.lifecycle.Prefixes())
}

func (h *Handler) handleCreatePrefix(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[PrefixRequest](w, r, h.logger)
	if !ok {
		return
	}
	def, err := h.lifecycle.GenerateNewPrefix(r.Context(), governor.PrefixRequest{
		TypeName:    req.TypeName,
		Description: req.Description,
		AutoRetire:  req.AutoRetire,
		Requestor:   requestcontext.Actor(r.Context()),
	})
	if err != nil {
		h.fail(w, r, "create prefix failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, def)
}

func (h *Handler) handleRetirePrefix(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if err := required("reason", reason); err != nil {
		httputil.WriteError(w, err)
		return
	}
	def, err := h.lifecycle.RetirePrefix(r.Context(), strings.ToUpper(chi.URLParam(r, "prefix")), requestcontext.Actor(r.Context()), reason)
	if err != nil {
		h.fail(w, r, "retire prefix failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, def)
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[ReserveRequest](w, r, h.logger)
	if !ok {
		return
	}
	res, err := h.lifecycle.Reserve(r.Context(), req.EUID, requestcontext.Actor(r.Context()), req.Reason)
	if err != nil {
		h.fail(w, r, "reserve identifier failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "euid")
	released, err := h.lifecycle.Release(r.Context(), id, requestcontext.Actor(r.Context()))
	if err != nil {
		h.fail(w, r, "release reservation failed", err)
		return
	}
	if !released {
		httputil.WriteError(w, fmt.Errorf("reservation %s: %w", id, sentinel.ErrNotFound))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListTombstones(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	tombs, err := h.lifecycle.ListTombstones(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, r, "list tombstones failed", err)
		return
	}
	items := make([]TombstoneResponse, 0, len(tombs))
	for _, t := range tombs {
		items = append(items, tombstoneResponse(t))
	}
	httputil.WriteJSON(w, http.StatusOK, ListResponse[TombstoneResponse]{Items: items, Limit: limit, Offset: offset})
}

func (h *Handler) handleRetentionRule(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[RetentionRuleRequest](w, r, h.logger)
	if !ok {
		return
	}
	rule, err := h.lifecycle.SetRetentionRule(r.Context(), governor.RetentionRule{
		EntityType:          euid.EntityType(strings.ToUpper(chi.URLParam(r, "entityType"))),
		RetentionPeriodDays: req.RetentionPeriodDays,
		Action:              req.Action,
	}, requestcontext.Actor(r.Context()))
	if err != nil {
		h.fail(w, r, "set retention rule failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rule)
}
