package auth

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	id "brokerdesk/pkg/domain"
	"brokerdesk/pkg/requestcontext"
)

type stubValidator struct {
	claims *JWTClaims
	err    error
}

func (s stubValidator) ValidateToken(string) (*JWTClaims, error) {
	return s.claims, s.err
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func identityEcho(t *testing.T, wantUser id.UserID, wantRole id.Role) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, wantUser, requestcontext.UserID(r.Context()))
		assert.Equal(t, wantRole, requestcontext.Role(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequireAuth(t *testing.T) {
	userID := id.UserID(uuid.New())
	valid := stubValidator{claims: &JWTClaims{UserID: userID.String(), Role: "broker"}}

	t.Run("missing header", func(t *testing.T) {
		rr := httptest.NewRecorder()
		RequireAuth(valid, newLogger())(identityEcho(t, userID, id.RoleBroker)).
			ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer bad")
		rr := httptest.NewRecorder()
		RequireAuth(stubValidator{err: errors.New("bad")}, newLogger())(identityEcho(t, userID, id.RoleBroker)).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("non uuid subject", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer ok")
		rr := httptest.NewRecorder()
		v := stubValidator{claims: &JWTClaims{UserID: "alice"}}
		RequireAuth(v, newLogger())(identityEcho(t, userID, id.RoleBroker)).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("valid token populates context", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer ok")
		rr := httptest.NewRecorder()
		RequireAuth(valid, newLogger())(identityEcho(t, userID, id.RoleBroker)).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("query token only honoured on websocket upgrade", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/stream?access_token=ok", nil)
		rr := httptest.NewRecorder()
		RequireAuth(valid, newLogger())(identityEcho(t, userID, id.RoleBroker)).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)

		req = httptest.NewRequest(http.MethodGet, "/stream?access_token=ok", nil)
		req.Header.Set("Upgrade", "websocket")
		rr = httptest.NewRecorder()
		RequireAuth(valid, newLogger())(identityEcho(t, userID, id.RoleBroker)).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(requestcontext.WithRole(req.Context(), id.RoleBroker))
	rr := httptest.NewRecorder()
	RequireRole(newLogger(), id.RoleAdmin)(ok).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	req = req.WithContext(requestcontext.WithRole(req.Context(), id.RoleAdmin))
	rr = httptest.NewRecorder()
	RequireRole(newLogger(), id.RoleAdmin)(ok).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
