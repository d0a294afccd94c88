package handler

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tle_zone_contest/internal/common/security"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/stretchr/testify/require"
)

// mount serves register under prefix behind the same token verifier the
// application router uses.
func mount(t *testing.T, prefix string, register func(chi.Router)) *chi.Mux {
	t.Helper()
	security.InitJWT([]byte("handler-test"), time.Hour)
	r := chi.NewRouter()
	r.Use(jwtauth.Verify(security.TokenAuth, jwtauth.TokenFromHeader, jwtauth.TokenFromQuery))
	r.Route(prefix, register)
	return r
}

func tokenFor(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := security.GenerateToken(userID, role)
	require.NoError(t, err)
	return token
}

func do(h http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
