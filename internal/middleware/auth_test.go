package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticValidator struct {
	id   string
	name string
	err  error
}

func (v staticValidator) ValidateToken(string) (string, string, error) {
	return v.id, v.name, v.err
}

func serveAuth(t *testing.T, v TokenValidator, req *http.Request) (*httptest.ResponseRecorder, string, string) {
	t.Helper()
	var gotID, gotName string
	handler := NewAuthMiddleware(v).Handle(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = UserID(r.Context())
		gotName = UserName(r.Context())
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, gotID, gotName
}

func TestHandleInjectsIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/rooms/mine", nil)
	req.Header.Set("Authorization", "Bearer some-token")

	rec, id, name := serveAuth(t, staticValidator{id: "u1", name: "Ada Lovelace"}, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", id)
	assert.Equal(t, "Ada Lovelace", name)
}

func TestHandleQueryTokenFallback(t *testing.T) {
	// The websocket handshake cannot set headers.
	req := httptest.NewRequest(http.MethodGet, "/ws?token=some-token", nil)

	rec, id, _ := serveAuth(t, staticValidator{id: "u1", name: "Ada Lovelace"}, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", id)
}

func TestHandleMissingToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/rooms/mine", nil)

	rec, _, _ := serveAuth(t, staticValidator{id: "u1"}, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleInvalidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/rooms/mine", nil)
	req.Header.Set("Authorization", "Bearer bad-token")

	rec, _, _ := serveAuth(t, staticValidator{err: errors.New("invalid token")}, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestContextHelpersWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, UserID(req.Context()))
	assert.Empty(t, UserName(req.Context()))
}
