package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"entityid/internal/governor"
	"entityid/internal/identity"
	"entityid/internal/recovery"
	"entityid/pkg/euid"
	"entityid/pkg/platform/httputil"
	"entityid/pkg/requestcontext"
)

// IdentityService is the identifier issuing and record surface.
type IdentityService interface {
	Generate(ctx context.Context, req identity.GenerateRequest) (identity.Identity, error)
	GenerateRelated(ctx context.Context, req identity.GenerateRequest, edges []identity.Relationship) (identity.Identity, string, error)
	Get(ctx context.Context, id string) (identity.Identity, error)
	UpdateStatus(ctx context.Context, id string, status euid.Status, requestor string, cascade bool) (identity.Identity, error)
	AddRelationships(ctx context.Context, id string, edges []identity.Relationship, requestor string) (identity.Identity, error)
	GenerateVersion(ctx context.Context, id, requestor string) (string, error)
	Delete(ctx context.Context, id, requestor, reason string) (governor.Tombstone, error)
	BatchGenerate(ctx context.Context, req identity.BatchRequest) (identity.BatchResult, error)
}

// LifecycleService is the administrative governor surface.
type LifecycleService interface {
	Grammar() *euid.Grammar
	ConflictStats(ctx context.Context) (governor.ConflictStats, error)
	ManualOverride(ctx context.Context, req governor.OverrideRequest) error
	GenerateNewPrefix(ctx context.Context, req governor.PrefixRequest) (governor.PrefixDefinition, error)
	RetirePrefix(ctx context.Context, code, requestor, reason string) (governor.PrefixDefinition, error)
	Prefixes() []governor.PrefixDefinition
	Reserve(ctx context.Context, id, requestor, reason string) (governor.Reservation, error)
	Release(ctx context.Context, id, requestor string) (bool, error)
	ListTombstones(ctx context.Context, limit, offset int) ([]governor.Tombstone, error)
	SetRetentionRule(ctx context.Context, rule governor.RetentionRule, requestor string) (governor.RetentionRule, error)
}

type RecoveryService interface {
	DoeIdentities(ctx context.Context, limit, offset int) ([]recovery.DoeIdentity, error)
	DoeStatistics(ctx context.Context) (recovery.DoeStatistics, error)
	AttemptRecovery(ctx context.Context, doeID string) (recovery.CorruptedRecord, error)
}

// Handler wires the identifier endpoints to the services.
type Handler struct {
	identities IdentityService
	lifecycle  LifecycleService
	recovery   RecoveryService
	logger     *slog.Logger
}

func New(identities IdentityService, lifecycle LifecycleService, recovery RecoveryService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		identities: identities,
		lifecycle:  lifecycle,
		recovery:   recovery,
		logger:     logger,
	}
}

// Register mounts the identifier routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/euids", h.handleGenerate)
	r.Get("/euids/{euid}", h.handleGet)
	r.Get("/euids/{euid}/validation", h.handleValidate)
	r.Post("/euids/{euid}/status", h.handleStatus)
	r.Post("/euids/{euid}/relationships", h.handleRelationships)
	r.Post("/euids/{euid}/versions", h.handleVersion)
	r.Delete("/euids/{euid}", h.handleDelete)
	r.Post("/batches", h.handleBatch)
}

// RegisterAdmin mounts the admin routes on r. The caller enforces the role.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/conflicts/stats", h.handleConflictStats)
	r.Get("/doe", h.handleListDoe)
	r.Get("/doe/stats", h.handleDoeStats)
	r.Post("/doe/{doeId}/recovery", h.handleRecover)
	r.Post("/overrides", h.handleOverride)
	r.Get("/prefixes", h.handleListPrefixes)
	r.Post("/prefixes", h.handleCreatePrefix)
	r.Delete("/prefixes/{prefix}", h.handleRetirePrefix)
	r.Post("/reservations", h.handleReserve)
	r.Delete("/reservations/{euid}", h.handleRelease)
	r.Get("/tombstones", h.handleListTombstones)
	r.Put("/retention-rules/{entityType}", h.handleRetentionRule)
}

// fail logs err at a level matching its status and writes the response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	status, _ := httputil.Status(err)
	attrs := []any{
		"error", err,
		"actor", requestcontext.Actor(ctx),
		"request_id", requestcontext.RequestID(ctx),
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, attrs...)
	} else {
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}

// page reads limit and offset query parameters. Bad values fall back to
// the defaults.
func page(r *http.Request) (limit, offset int) {
	limit = 100
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 1000 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
