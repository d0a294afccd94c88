package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tle_zone_contest/internal/app/service"
	"tle_zone_contest/internal/common/security"
	"tle_zone_contest/internal/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsRecorder struct {
	userID string
}

func (w *wsRecorder) Serve(rw http.ResponseWriter, r *http.Request, userID string) error {
	w.userID = userID
	rw.WriteHeader(http.StatusSwitchingProtocols)
	return nil
}

type noSubmissions struct{}

func (noSubmissions) CreateSubmission(ctx context.Context, userID string, req service.CreateSubmissionRequest) (*model.Submission, error) {
	return &model.Submission{ID: "s1"}, nil
}
func (noSubmissions) RunCode(ctx context.Context, userID string, req service.RunCodeRequest) error {
	return nil
}
func (noSubmissions) GetSubmission(ctx context.Context, userID, userRole, submissionID string) (*model.Submission, error) {
	return &model.Submission{ID: submissionID}, nil
}

func newTestRouter(t *testing.T, ws *wsRecorder) http.Handler {
	t.Helper()
	security.InitJWT([]byte("router-test"), time.Hour)
	return NewRouter(Services{Submissions: noSubmissions{}, Notifications: ws}, []string{"*"})
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(t, &wsRecorder{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestWebsocketTokenFromQuery(t *testing.T) {
	ws := &wsRecorder{}
	r := newTestRouter(t, ws)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := security.GenerateToken("u7", model.RoleUser)
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ws?jwt="+token, nil))
	assert.Equal(t, "u7", ws.userID)
}

func TestSubmissionsRequireAuth(t *testing.T) {
	r := newTestRouter(t, &wsRecorder{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/submissions/s1", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := security.GenerateToken("u1", model.RoleUser)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/submissions/s1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
