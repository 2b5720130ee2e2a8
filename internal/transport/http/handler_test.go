package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"entityid/internal/docstore/memory"
	"entityid/internal/governor"
	"entityid/internal/identity"
	"entityid/internal/platform/jwt"
	"entityid/internal/platform/metrics"
	"entityid/internal/recovery"
	"entityid/internal/sequence"
	"entityid/pkg/euid"
	"entityid/pkg/platform/audit/publisher"
	auditmemory "entityid/pkg/platform/audit/store/memory"
	"entityid/pkg/testutil"
)

const adminRole = "euid-admin"

type HandlerSuite struct {
	suite.Suite
	router     http.Handler
	userToken  string
	adminToken string
	storeErr   error
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.storeErr = nil
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	pub := publisher.NewPublisher(auditmemory.NewInMemoryStore())

	gov := governor.New(store, pub, governor.WithLogger(logger), governor.WithAdminRole(adminRole))
	s.Require().NoError(gov.Hydrate(ctx))
	alloc := sequence.New(sequence.NewDocstoreCounter(store))
	ids := identity.NewService(store, alloc, gov, pub, identity.WithLogger(logger), identity.WithMaxBatchSize(5))
	rec := recovery.NewService(store, alloc, gov, pub, recovery.WithLogger(logger))

	tokens := jwt.NewService("handler-test-signing-key-0123456789", "entityid-test")
	var err error
	s.userToken, err = tokens.GenerateToken("I00001", nil, time.Hour)
	s.Require().NoError(err)
	s.adminToken, err = tokens.GenerateToken("I00002", []string{adminRole}, time.Hour)
	s.Require().NoError(err)

	reg := prometheus.NewRegistry()
	checks := map[string]func(context.Context) error{
		"store": func(context.Context) error { return s.storeErr },
	}
	s.router = NewRouter(New(ids, gov, rec, logger), RouterConfig{
		Validator: tokens,
		AdminRole: adminRole,
		Gatherer:  reg,
		Logger:    logger,
		Metrics:   metrics.New(reg),
		Checks:    checks,
	})
}

func (s *HandlerSuite) do(token, method, path string, body any) *httpResponse {
	req := testutil.NewJSONRequest(s.T(), method, path, token, body)
	return &httpResponse{s.T(), testutil.DoRequest(s.router, req)}
}

func (s *HandlerSuite) generate(entityType string) identity.Identity {
	resp := s.do(s.userToken, http.MethodPost, "/v1/euids", GenerateRequest{EntityType: entityType})
	resp.status(http.StatusCreated)
	return testutil.UnmarshalResponse[GenerateResponse](s.T(), resp.rr).Identity
}

func (s *HandlerSuite) TestPublicRoutes() {
	s.do("", http.MethodGet, "/healthz", nil).status(http.StatusOK)
	s.do("", http.MethodGet, "/metrics", nil).status(http.StatusOK)
	s.do("", http.MethodGet, "/readyz", nil).status(http.StatusOK)

	s.storeErr = errors.New("connection refused")
	s.do("", http.MethodGet, "/readyz", nil).status(http.StatusServiceUnavailable)

	resp := s.do("", http.MethodPost, "/v1/euids", GenerateRequest{EntityType: "COMPANY"})
	resp.status(http.StatusUnauthorized)
}

func (s *HandlerSuite) TestGenerateAndRead() {
	ident := s.generate("company")
	s.Equal("C00001", ident.EUID)
	s.Equal("I00001", ident.Metadata.CreatedBy)

	got := s.do(s.userToken, http.MethodGet, "/v1/euids/C00001", nil)
	got.status(http.StatusOK)
	s.Equal(euid.StatusActive, testutil.UnmarshalResponse[identity.Identity](s.T(), got.rr).Status)

	s.do(s.userToken, http.MethodGet, "/v1/euids/C00404", nil).error(http.StatusNotFound, "not_found")

	resp := s.do(s.userToken, http.MethodPost, "/v1/euids", GenerateRequest{EntityType: "SPACESHIP"})
	resp.error(http.StatusUnprocessableEntity, "invalid_input")

	resp = s.do(s.userToken, http.MethodPost, "/v1/euids", map[string]any{"entityType": "COMPANY", "colour": "red"})
	resp.error(http.StatusBadRequest, "bad_request")
}

func (s *HandlerSuite) TestGenerateRelated() {
	s.generate("INDIVIDUAL")
	resp := s.do(s.userToken, http.MethodPost, "/v1/euids", GenerateRequest{EntityType: "COMPANY", RelatedTo: []string{"I00001"}})
	resp.status(http.StatusCreated)

	out := testutil.UnmarshalResponse[GenerateResponse](s.T(), resp.rr)
	s.Equal("C00001-I00001", out.Composite)
	s.Require().Len(out.Relationships, 1)
	s.Equal("I00001", out.Relationships[0].TargetEUID)
}

func (s *HandlerSuite) TestValidation() {
	resp := s.do(s.userToken, http.MethodGet, "/v1/euids/SGUS00002H/validation", nil)
	resp.status(http.StatusOK)
	res := testutil.UnmarshalResponse[euid.Result](s.T(), resp.rr)
	s.True(res.Valid)
	s.Equal(euid.AccessSecret, res.Parsed.AccessLevel)
	s.Equal("US", res.Parsed.Jurisdiction)
	s.Equal(euid.StatusHistorical, res.Parsed.Status)

	resp = s.do(s.userToken, http.MethodGet, "/v1/euids/Y00001/validation", nil)
	resp.status(http.StatusOK)
	s.False(testutil.UnmarshalResponse[euid.Result](s.T(), resp.rr).Valid)
}

func (s *HandlerSuite) TestStatusCascadesUnlessDisabled() {
	s.generate("INDIVIDUAL")
	s.generate("DOCUMENT")

	off := false
	resp := s.do(s.userToken, http.MethodPost, "/v1/euids/I00001/status", StatusRequest{Status: euid.StatusRetired, Cascade: &off})
	resp.status(http.StatusOK)
	got := s.do(s.userToken, http.MethodGet, "/v1/euids/D00001", nil)
	got.status(http.StatusOK)
	s.Equal(euid.StatusActive, testutil.UnmarshalResponse[identity.Identity](s.T(), got.rr).Status)

	resp = s.do(s.userToken, http.MethodPost, "/v1/euids/I00001/status", StatusRequest{Status: euid.StatusActive})
	resp.status(http.StatusOK)

	// no cascade field: the default applies
	resp = s.do(s.userToken, http.MethodPost, "/v1/euids/I00001/status", map[string]string{"status": "retired"})
	resp.status(http.StatusOK)
	got = s.do(s.userToken, http.MethodGet, "/v1/euids/D00001", nil)
	got.status(http.StatusOK)
	s.Equal(euid.StatusHistorical, testutil.UnmarshalResponse[identity.Identity](s.T(), got.rr).Status)
}

func (s *HandlerSuite) TestStatusVersionsAndRelationships() {
	s.generate("COMPANY")
	s.generate("INDIVIDUAL")

	resp := s.do(s.userToken, http.MethodPost, "/v1/euids/C00001/status", StatusRequest{Status: "RETIRED"})
	resp.status(http.StatusOK)
	s.Equal("C00001R", testutil.UnmarshalResponse[identity.Identity](s.T(), resp.rr).EUID)

	resp = s.do(s.userToken, http.MethodPost, "/v1/euids/C00001/status", StatusRequest{Status: "paused"})
	resp.error(http.StatusUnprocessableEntity, "invalid_input")

	resp = s.do(s.userToken, http.MethodPost, "/v1/euids/I00001/versions", nil)
	resp.status(http.StatusCreated)
	s.Equal("I00001-v2", testutil.UnmarshalResponse[VersionResponse](s.T(), resp.rr).EUID)

	resp = s.do(s.userToken, http.MethodPost, "/v1/euids/I00001/relationships", RelationshipsRequest{
		Relationships: []identity.Relationship{{TargetEUID: "C00001", RelationshipType: "employed_by"}},
	})
	resp.status(http.StatusOK)
	s.Len(testutil.UnmarshalResponse[identity.Identity](s.T(), resp.rr).Relationships, 1)
}

func (s *HandlerSuite) TestDelete() {
	s.generate("COMPANY")

	s.do(s.userToken, http.MethodDelete, "/v1/euids/C00001", nil).error(http.StatusUnprocessableEntity, "invalid_input")

	resp := s.do(s.userToken, http.MethodDelete, "/v1/euids/C00001?reason=merged", nil)
	resp.status(http.StatusOK)
	tomb := testutil.UnmarshalResponse[TombstoneResponse](s.T(), resp.rr)
	s.Equal("C00001", tomb.EUID)
	s.Equal("I00001", tomb.DeletedBy)

	s.do(s.userToken, http.MethodGet, "/v1/euids/C00001", nil).status(http.StatusNotFound)
	s.Equal("C00002", s.generate("COMPANY").EUID)
}

func (s *HandlerSuite) TestBatch() {
	resp := s.do(s.userToken, http.MethodPost, "/v1/batches", BatchRequest{EntityType: "DOCUMENT", Count: 3})
	resp.status(http.StatusCreated)
	res := testutil.UnmarshalResponse[identity.BatchResult](s.T(), resp.rr)
	s.Equal("B00001", res.BatchID)
	s.Equal([]string{"D00001", "D00002", "D00003"}, res.EUIDs)

	resp = s.do(s.userToken, http.MethodPost, "/v1/batches", BatchRequest{EntityType: "DOCUMENT", Count: 6})
	resp.error(http.StatusUnprocessableEntity, "invalid_input")
}

func (s *HandlerSuite) TestAdminRequiresRole() {
	s.do(s.userToken, http.MethodGet, "/v1/admin/prefixes", nil).status(http.StatusForbidden)
	s.do(s.adminToken, http.MethodGet, "/v1/admin/prefixes", nil).status(http.StatusOK)
}

func (s *HandlerSuite) TestPrefixLifecycle() {
	resp := s.do(s.adminToken, http.MethodPost, "/v1/admin/prefixes", PrefixRequest{TypeName: "Vessel"})
	resp.status(http.StatusCreated)
	def := testutil.UnmarshalResponse[governor.PrefixDefinition](s.T(), resp.rr)
	s.Equal("VES", def.Prefix)

	s.Equal("VES00001", s.generate("VESSEL").EUID)

	s.do(s.adminToken, http.MethodPost, "/v1/admin/prefixes", PrefixRequest{TypeName: "Vessel"}).error(http.StatusConflict, "conflict")
	s.do(s.adminToken, http.MethodDelete, "/v1/admin/prefixes/ves?reason=fleet+sold", nil).status(http.StatusOK)
	s.do(s.adminToken, http.MethodDelete, "/v1/admin/prefixes/C?reason=nope", nil).error(http.StatusConflict, "invalid_state")

	resp = s.do(s.userToken, http.MethodPost, "/v1/euids", GenerateRequest{EntityType: "VESSEL"})
	resp.error(http.StatusConflict, "invalid_state")
}

func (s *HandlerSuite) TestReservations() {
	resp := s.do(s.adminToken, http.MethodPost, "/v1/admin/reservations", ReserveRequest{EUID: "C00001", Reason: "migration"})
	resp.status(http.StatusCreated)
	s.Equal("C00002", s.generate("COMPANY").EUID)

	s.do(s.adminToken, http.MethodPost, "/v1/admin/reservations", ReserveRequest{EUID: "C00001", Reason: "again"}).status(http.StatusConflict)
	s.do(s.adminToken, http.MethodDelete, "/v1/admin/reservations/C00001", nil).status(http.StatusNoContent)
	s.do(s.adminToken, http.MethodDelete, "/v1/admin/reservations/C00001", nil).error(http.StatusNotFound, "not_found")
}

func (s *HandlerSuite) TestOverridesAndTombstones() {
	s.generate("COMPANY")
	s.do(s.userToken, http.MethodDelete, "/v1/euids/C00001?reason=closed", nil).status(http.StatusOK)

	resp := s.do(s.adminToken, http.MethodGet, "/v1/admin/tombstones", nil)
	resp.status(http.StatusOK)
	list := testutil.UnmarshalResponse[ListResponse[TombstoneResponse]](s.T(), resp.rr)
	s.Require().Len(list.Items, 1)
	s.Equal("C00001", list.Items[0].EUID)

	s.do(s.adminToken, http.MethodPost, "/v1/admin/overrides", OverrideRequest{Op: governor.OverrideUndelete, EUID: "C00001"}).
		error(http.StatusUnprocessableEntity, "invalid_input")
	s.do(s.adminToken, http.MethodPost, "/v1/admin/overrides", OverrideRequest{Op: governor.OverrideUndelete, EUID: "C00001", Reason: "deleted in error"}).
		status(http.StatusNoContent)

	resp = s.do(s.adminToken, http.MethodGet, "/v1/admin/tombstones", nil)
	s.Empty(testutil.UnmarshalResponse[ListResponse[TombstoneResponse]](s.T(), resp.rr).Items)
}

func (s *HandlerSuite) TestRetentionRules() {
	resp := s.do(s.adminToken, http.MethodPut, "/v1/admin/retention-rules/individual", RetentionRuleRequest{RetentionPeriodDays: 30, Action: governor.RetentionPurge})
	resp.status(http.StatusOK)
	rule := testutil.UnmarshalResponse[governor.RetentionRule](s.T(), resp.rr)
	s.Equal(euid.TypeIndividual, rule.EntityType)
	s.Equal(governor.RetentionPurge, rule.Action)

	s.do(s.adminToken, http.MethodPut, "/v1/admin/retention-rules/COMPANY", RetentionRuleRequest{RetentionPeriodDays: 30, Action: "shred"}).
		error(http.StatusUnprocessableEntity, "invalid_input")
}

func (s *HandlerSuite) TestRecoveryEndpoints() {
	resp := s.do(s.adminToken, http.MethodGet, "/v1/admin/doe/stats", nil)
	resp.status(http.StatusOK)
	s.Equal(recovery.DoeStatistics{}, testutil.UnmarshalResponse[recovery.DoeStatistics](s.T(), resp.rr))

	s.do(s.adminToken, http.MethodGet, "/v1/admin/doe?limit=10", nil).status(http.StatusOK)
	s.do(s.adminToken, http.MethodPost, "/v1/admin/doe/JOD00009/recovery", nil).error(http.StatusNotFound, "not_found")
	s.do(s.adminToken, http.MethodGet, "/v1/admin/conflicts/stats", nil).status(http.StatusOK)
}

type httpResponse struct {
	t  *testing.T
	rr *httptest.ResponseRecorder
}

func (r *httpResponse) status(want int) {
	r.t.Helper()
	testutil.AssertStatus(r.t, r.rr, want)
}

func (r *httpResponse) error(want int, code string) {
	r.t.Helper()
	testutil.AssertStatusAndError(r.t, r.rr, want, code)
}
