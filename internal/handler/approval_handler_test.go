package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/loyalty-enrollment-api/internal/middleware"
	"github.com/noah-isme/loyalty-enrollment-api/internal/models"
	"github.com/noah-isme/loyalty-enrollment-api/internal/service"
	appErrors "github.com/noah-isme/loyalty-enrollment-api/pkg/errors"
)

type fakeApprovalSrv struct {
	created    *models.ApprovalRequest
	outcome    *models.ResolveOutcome
	fetched    *models.ApprovalRequest
	err        error
	lastCreate *service.CreateEnrollmentRequestInput
	lastResolv *service.ResolveInput
	lastActor  *models.JWTClaims
}

func (f *fakeApprovalSrv) CreateEnrollmentRequest(_ context.Context, in service.CreateEnrollmentRequestInput) (*models.ApprovalRequest, error) {
	f.lastCreate = &in
	return f.created, f.err
}

func (f *fakeApprovalSrv) Resolve(_ context.Context, in service.ResolveInput) (*models.ResolveOutcome, error) {
	f.lastResolv = &in
	return f.outcome, f.err
}

func (f *fakeApprovalSrv) Get(_ context.Context, _ string, actor *models.JWTClaims) (*models.ApprovalRequest, error) {
	f.lastActor = actor
	return f.fetched, f.err
}

type responseEnvelope struct {
	Data  map[string]interface{} `json:"data"`
	Meta  map[string]interface{} `json:"meta"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newTestContext(method, target, body string, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) responseEnvelope {
	t.Helper()
	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope
}

var (
	business3  = &models.JWTClaims{SubjectID: 3, Role: models.RoleBusiness}
	customer10 = &models.JWTClaims{SubjectID: 10, Role: models.RoleCustomer}
	admin      = &models.JWTClaims{SubjectID: 0, Role: models.RoleAdmin}
)

func TestApprovalHandlerCreate(t *testing.T) {
	srv := &fakeApprovalSrv{created: &models.ApprovalRequest{ID: "req-1", Status: models.ApprovalStatusPending}}
	handler := NewApprovalHandler(srv)

	c, rec := newTestContext(http.MethodPost, "/enrollment-requests", `{"customerId":10,"businessId":"3","programId":5}`, business3)
	handler.Create(c)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, srv.lastCreate)
	assert.Equal(t, service.CreateEnrollmentRequestInput{CustomerID: 10, BusinessID: 3, ProgramID: 5}, *srv.lastCreate)
	assert.Equal(t, "req-1", decodeEnvelope(t, rec).Data["id"])
}

func TestApprovalHandlerCreateRejectsOtherBusiness(t *testing.T) {
	srv := &fakeApprovalSrv{}
	handler := NewApprovalHandler(srv)

	c, rec := newTestContext(http.MethodPost, "/enrollment-requests", `{"customerId":10,"businessId":4,"programId":5}`, business3)
	handler.Create(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Nil(t, srv.lastCreate)
}

func TestApprovalHandlerCreateRejectsMalformedIDs(t *testing.T) {
	handler := NewApprovalHandler(&fakeApprovalSrv{})

	for _, body := range []string{
		`{"customerId":"010","businessId":3,"programId":5}`,
		`{"customerId":-1,"businessId":3,"programId":5}`,
		`{"businessId":3,"programId":5}`,
	} {
		c, rec := newTestContext(http.MethodPost, "/enrollment-requests", body, admin)
		handler.Create(c)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestApprovalHandlerResolveAsCustomer(t *testing.T) {
	cardID := "card-1"
	srv := &fakeApprovalSrv{outcome: &models.ResolveOutcome{RequestID: "req-1", Status: models.ApprovalStatusApproved, CardID: &cardID}}
	handler := NewApprovalHandler(srv)

	c, rec := newTestContext(http.MethodPost, "/enrollment-requests/req-1/resolve", `{"approved":true}`, customer10)
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	handler.Resolve(c)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, srv.lastResolv)
	assert.True(t, srv.lastResolv.Approve)
	require.NotNil(t, srv.lastResolv.ActorCustomerID)
	assert.Equal(t, models.CustomerID(10), *srv.lastResolv.ActorCustomerID)
	assert.Equal(t, "card-1", decodeEnvelope(t, rec).Data["cardId"])
}

func TestApprovalHandlerResolveRequiresDecision(t *testing.T) {
	srv := &fakeApprovalSrv{}
	handler := NewApprovalHandler(srv)

	c, rec := newTestContext(http.MethodPost, "/enrollment-requests/req-1/resolve", `{}`, admin)
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	handler.Resolve(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, srv.lastResolv)
}

func TestApprovalHandlerResolveRejectsBusiness(t *testing.T) {
	handler := NewApprovalHandler(&fakeApprovalSrv{})

	c, rec := newTestContext(http.MethodPost, "/enrollment-requests/req-1/resolve", `{"approved":false}`, business3)
	handler.Resolve(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestApprovalHandlerResolveMapsEngineErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{err: appErrors.Clone(appErrors.ErrExpired, "approval request expired"), status: http.StatusGone, code: "EXPIRED"},
		{err: appErrors.Clone(appErrors.ErrConflict, "already rejected"), status: http.StatusConflict, code: appErrors.ErrConflict.Code},
		{err: appErrors.ErrTransient, status: http.StatusServiceUnavailable, code: appErrors.ErrTransient.Code},
		{err: appErrors.ErrCardNumberGeneration, status: http.StatusConflict, code: "CARD_NUMBER_GENERATION_FAILED"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			handler := NewApprovalHandler(&fakeApprovalSrv{err: tc.err})

			c, rec := newTestContext(http.MethodPost, "/enrollment-requests/req-1/resolve", `{"approved":true}`, admin)
			handler.Resolve(c)

			assert.Equal(t, tc.status, rec.Code)
			envelope := decodeEnvelope(t, rec)
			require.NotNil(t, envelope.Error)
			assert.Equal(t, tc.code, envelope.Error.Code)
		})
	}
}

func TestApprovalHandlerGetPassesActor(t *testing.T) {
	srv := &fakeApprovalSrv{fetched: &models.ApprovalRequest{ID: "req-1"}}
	handler := NewApprovalHandler(srv)

	c, rec := newTestContext(http.MethodGet, "/enrollment-requests/req-1", "", customer10)
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	handler.Get(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Same(t, customer10, srv.lastActor)
}

func TestApprovalHandlerRequiresClaims(t *testing.T) {
	handler := NewApprovalHandler(&fakeApprovalSrv{})

	c, rec := newTestContext(http.MethodGet, "/enrollment-requests/req-1", "", nil)
	handler.Get(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
