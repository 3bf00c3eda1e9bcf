package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"brokerdesk/internal/creditcheck/handler/mocks"
	"brokerdesk/internal/creditcheck/models"
	id "brokerdesk/pkg/domain"
	dErrors "brokerdesk/pkg/domain-errors"
	"brokerdesk/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service
type HandlerSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	service *mocks.MockService
	router  chi.Router
	broker  id.UserID
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.service = mocks.NewMockService(s.ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.router = chi.NewRouter()
	New(s.service, logger, decimal.NewFromInt(10000)).Register(s.router)
	s.broker = id.UserID(uuid.New())
}

func (s *HandlerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *HandlerSuite) do(req *http.Request) *httptest.ResponseRecorder {
	req = testutil.WithAuth(req, s.broker, id.RoleBroker)
	return testutil.DoRequest(s.router, req)
}

func terminal(score int, flags models.Flags) *models.CreditCheckRequest {
	done := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &models.CreditCheckRequest{
		ID:          7,
		Status:      models.StatusCompleted,
		RequestedAt: done.Add(-time.Second),
		CompletedAt: &done,
		Score:       &score,
		Flags:       flags,
		Provider:    "simulator",
	}
}

// =============================================================================
// POST /credit-checks
// =============================================================================

func (s *HandlerSuite) TestSubmitAccepted() {
	clientID := id.ClientID(uuid.New())
	profileID := id.ProfileID(uuid.New())
	s.service.EXPECT().Submit(gomock.Any(), clientID, s.broker, profileID).
		Return(&models.CreditCheckRequest{ID: 1, ClientID: clientID, BrokerID: s.broker, ProfileID: profileID, Status: models.StatusPending}, nil)

	rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/credit-checks", map[string]string{
		"client_id":  clientID.String(),
		"profile_id": profileID.String(),
	}))

	testutil.AssertStatus(s.T(), rr, http.StatusAccepted)
	body := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
	s.Equal("pending", (*body)["status"])
	s.Equal(clientID.String(), (*body)["client_id"])
}

func (s *HandlerSuite) TestSubmitRejectsBadBodies() {
	cases := map[string]string{
		"missing profile": `{"client_id":"` + uuid.NewString() + `"}`,
		"not a uuid":      `{"client_id":"abc","profile_id":"` + uuid.NewString() + `"}`,
		"unknown field":   `{"client_id":"` + uuid.NewString() + `","profile_id":"` + uuid.NewString() + `","x":1}`,
		"empty":           ``,
	}
	for name, body := range cases {
		s.Run(name, func() {
			rr := s.do(testutil.NewRequestWithBody(s.T(), http.MethodPost, "/credit-checks", body))
			testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
		})
	}
}

func (s *HandlerSuite) TestUnauthenticatedIsRejected() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/credit-checks"))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, string(dErrors.CodeUnauthorized))
}

// =============================================================================
// GET /credit-checks
// =============================================================================

func (s *HandlerSuite) TestListParsesFilter() {
	clientID := id.ClientID(uuid.New())
	s.service.EXPECT().List(gomock.Any(), s.broker, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ id.UserID, f models.ListFilter) ([]*models.CreditCheckRequest, int, error) {
			s.Equal([]models.Status{models.StatusCompleted, models.StatusFailed}, f.Statuses)
			s.Require().NotNil(f.ClientID)
			s.Equal(clientID, *f.ClientID)
			s.Equal(10, f.Limit)
			s.Equal(20, f.Offset)
			return []*models.CreditCheckRequest{terminal(700, models.Flags{})}, 21, nil
		})

	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet,
		"/credit-checks?status=Completed,failed,completed&client_id="+clientID.String()+"&limit=10&offset=20"))

	testutil.AssertStatusOK(s.T(), rr)
	resp := testutil.UnmarshalResponse[ListResponse](s.T(), rr)
	s.Equal(21, resp.Total)
	s.Len(resp.CreditChecks, 1)
}

func (s *HandlerSuite) TestListRejectsBadParams() {
	for _, q := range []string{"status=done", "limit=-1", "offset=x", "client_id=nope"} {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/credit-checks?"+q))
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	}
}

// =============================================================================
// GET /credit-checks/{id} and /risk
// =============================================================================

func (s *HandlerSuite) TestGetTerminalIncludesRisk() {
	s.service.EXPECT().Get(gomock.Any(), s.broker, int64(7)).Return(terminal(780, models.Flags{}), nil)

	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/credit-checks/7?nominal_limit=2500.50"))

	testutil.AssertStatusOK(s.T(), rr)
	var body struct {
		ID   int64 `json:"id"`
		Risk struct {
			Tier           string `json:"tier"`
			RiskLevel      string `json:"risk_level"`
			Recommendation string `json:"recommendation"`
			Limit          string `json:"max_recommended_limit"`
		} `json:"risk"`
	}
	s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &body))
	s.Equal(int64(7), body.ID)
	s.Equal("excellent", body.Risk.Tier)
	s.Equal("low", body.Risk.RiskLevel)
	s.Equal("approve", body.Risk.Recommendation)
	s.Equal("2500.5", body.Risk.Limit)
}

func (s *HandlerSuite) TestGetPendingOmitsRisk() {
	s.service.EXPECT().Get(gomock.Any(), s.broker, int64(3)).
		Return(&models.CreditCheckRequest{ID: 3, Status: models.StatusPending}, nil)

	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/credit-checks/3"))

	testutil.AssertStatusOK(s.T(), rr)
	body := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
	s.NotContains(*body, "risk")
}

func (s *HandlerSuite) TestRiskUsesDefaultNominalLimit() {
	s.service.EXPECT().Get(gomock.Any(), s.broker, int64(7)).
		Return(terminal(500, models.Flags{InsolvencyProceeding: true}), nil)

	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/credit-checks/7/risk"))

	testutil.AssertStatusOK(s.T(), rr)
	body := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
	s.Equal("critical", (*body)["risk_level"])
	s.Equal("reject", (*body)["recommendation"])
	s.Equal("0", (*body)["max_recommended_limit"])
}

func (s *HandlerSuite) TestRiskOnPendingConflicts() {
	s.service.EXPECT().Get(gomock.Any(), s.broker, int64(3)).
		Return(&models.CreditCheckRequest{ID: 3, Status: models.StatusPending}, nil)

	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/credit-checks/3/risk"))

	testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, string(dErrors.CodeInvalidState))
}

func (s *HandlerSuite) TestRiskRejectsBadInput() {
	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/credit-checks/abc/risk"))
	testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/credit-checks/7/risk?nominal_limit=lots"))
	testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
}

func (s *HandlerSuite) TestGetNotFound() {
	s.service.EXPECT().Get(gomock.Any(), s.broker, int64(9)).
		Return(nil, dErrors.New(dErrors.CodeNotFound, "credit check not found"))

	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/credit-checks/9"))

	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, string(dErrors.CodeNotFound))
}

// =============================================================================
// DELETE /credit-checks/{id}
// =============================================================================

func (s *HandlerSuite) TestDelete() {
	s.service.EXPECT().Delete(gomock.Any(), s.broker, int64(7)).Return(nil)

	rr := s.do(testutil.NewRequest(s.T(), http.MethodDelete, "/credit-checks/7"))

	testutil.AssertStatus(s.T(), rr, http.StatusNoContent)
}

func (s *HandlerSuite) TestDeleteInternalErrorHidesDetail() {
	s.service.EXPECT().Delete(gomock.Any(), s.broker, int64(7)).
		Return(dErrors.New(dErrors.CodeInternal, "connection reset by peer"))

	rr := s.do(testutil.NewRequest(s.T(), http.MethodDelete, "/credit-checks/7"))

	testutil.AssertStatus(s.T(), rr, http.StatusInternalServerError)
	s.NotContains(rr.Body.String(), "connection reset")
}
