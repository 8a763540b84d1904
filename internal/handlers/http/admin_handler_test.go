package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/services"
	"spacecast/internal/infrastructure/middleware"
	"spacecast/internal/infrastructure/monitoring"
	"spacecast/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type MockSpaceController struct {
	mock.Mock
}

func (m *MockSpaceController) State() domain.SessionState {
	return m.Called().Get(0).(domain.SessionState)
}

func (m *MockSpaceController) Broadcast() *domain.BroadcastSession {
	bs, _ := m.Called().Get(0).(*domain.BroadcastSession)
	return bs
}

func (m *MockSpaceController) Speakers() []domain.SpeakerInfo {
	return m.Called().Get(0).([]domain.SpeakerInfo)
}

func (m *MockSpaceController) ApproveSpeaker(ctx context.Context, userID, sessionUUID string) error {
	return m.Called(mock.Anything, userID, sessionUUID).Error(0)
}

func (m *MockSpaceController) RemoveSpeaker(ctx context.Context, userID string) error {
	return m.Called(mock.Anything, userID).Error(0)
}

func (m *MockSpaceController) React(emoji string) error {
	return m.Called(emoji).Error(0)
}

type fakeSpeaker struct {
	mu    sync.Mutex
	texts []string
}

func (s *fakeSpeaker) SpeakText(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return nil
}

type harness struct {
	router  *gin.Engine
	handler *AdminHandler
	space   *MockSpaceController
	auth    services.AuthService
}

func newHarness(t *testing.T, speaker Speaker) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	auth := services.NewAuthService("test-secret", time.Hour)
	space := &MockSpaceController{}

	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(logger))
	handler := NewAdminHandler(space, speaker, auth, monitoring.NewHealthChecker(), logger)
	handler.SetupRoutes(router)
	return &harness{router: router, handler: handler, space: space, auth: auth}
}

func (h *harness) token(t *testing.T, role services.OperatorRole) string {
	t.Helper()
	token, err := h.auth.GenerateToken("op_"+string(role), role)
	require.NoError(t, err)
	return token
}

func (h *harness) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestAdminHandler_GetSpace(t *testing.T) {
	h := newHarness(t, nil)
	h.space.On("State").Return(domain.StateReady)
	h.space.On("Broadcast").Return(&domain.BroadcastSession{RoomID: "1OdKrBnaEPXKX", BroadcastID: "b1"})
	h.space.On("Speakers").Return([]domain.SpeakerInfo{{UserID: "42", State: domain.SpeakerSubscribed}})

	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/api/v1/space", "", nil).Code)

	w := h.do(http.MethodGet, "/api/v1/space", h.token(t, services.RoleViewer), nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "ready", body["state"])
	assert.Equal(t, "1OdKrBnaEPXKX", body["broadcast"].(map[string]interface{})["room_id"])
	speakers := body["speakers"].([]interface{})
	require.Len(t, speakers, 1)
	assert.Equal(t, "subscribed", speakers[0].(map[string]interface{})["state"])
}

func TestAdminHandler_ApproveSpeaker(t *testing.T) {
	h := newHarness(t, nil)
	h.space.On("ApproveSpeaker", mock.Anything, "42", "sess-1").Return(nil).Once()

	viewer := h.token(t, services.RoleViewer)
	moderator := h.token(t, services.RoleModerator)

	w := h.do(http.MethodPost, "/api/v1/speakers/42/approve", viewer, ApproveSpeakerRequest{SessionUUID: "sess-1"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(http.MethodPost, "/api/v1/speakers/42/approve", moderator, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", decode(t, w)["error"])

	w = h.do(http.MethodPost, "/api/v1/speakers/42/approve", moderator, ApproveSpeakerRequest{SessionUUID: "bad_uuid"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPost, "/api/v1/speakers/42/approve", moderator, ApproveSpeakerRequest{SessionUUID: "sess-1"})
	assert.Equal(t, http.StatusOK, w.Code)
	h.space.AssertExpectations(t)
}

func TestAdminHandler_ApproveSpeakerBeforeInit(t *testing.T) {
	h := newHarness(t, nil)
	h.space.On("ApproveSpeaker", mock.Anything, "42", "sess-1").
		Return(errors.NewPreconditionError(domain.ErrNotInitialized, "approve speaker requires a ready space"))

	w := h.do(http.MethodPost, "/api/v1/speakers/42/approve", h.token(t, services.RoleHost), ApproveSpeakerRequest{SessionUUID: "sess-1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "PRECONDITION", decode(t, w)["error"])
}

func TestAdminHandler_RemoveSpeaker(t *testing.T) {
	h := newHarness(t, nil)
	moderator := h.token(t, services.RoleModerator)

	h.space.On("RemoveSpeaker", mock.Anything, "42").Return(nil).Once()
	h.space.On("RemoveSpeaker", mock.Anything, "7").
		Return(errors.NewPreconditionError(domain.ErrSpeakerNotFound, "remove speaker 7")).Once()

	assert.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, "/api/v1/speakers/42", moderator, nil).Code)
	assert.Equal(t, http.StatusConflict, h.do(http.MethodDelete, "/api/v1/speakers/7", moderator, nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodDelete, "/api/v1/speakers/a.b", moderator, nil).Code)
	h.space.AssertExpectations(t)
}

func TestAdminHandler_React(t *testing.T) {
	h := newHarness(t, nil)
	moderator := h.token(t, services.RoleModerator)

	h.space.On("React", "🔥").Return(nil).Once()
	h.space.On("React", "👏").
		Return(errors.NewAppError(errors.ErrCodeRateLimit, "reaction rate exceeded", http.StatusTooManyRequests)).Once()

	assert.Equal(t, http.StatusAccepted, h.do(http.MethodPost, "/api/v1/reactions", moderator, ReactRequest{Emoji: "🔥"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, h.do(http.MethodPost, "/api/v1/reactions", moderator, ReactRequest{Emoji: "👏"}).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/v1/reactions", moderator, ReactRequest{Emoji: "lol"}).Code)
	h.space.AssertExpectations(t)
}

func TestAdminHandler_Speak(t *testing.T) {
	speaker := &fakeSpeaker{}
	h := newHarness(t, speaker)
	h.space.On("State").Return(domain.StateReady)

	w := h.do(http.MethodPost, "/api/v1/speak", h.token(t, services.RoleModerator), SpeakRequest{Text: "hi"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	host := h.token(t, services.RoleHost)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/v1/speak", host, SpeakRequest{Text: "   "}).Code)

	w = h.do(http.MethodPost, "/api/v1/speak", host, SpeakRequest{Text: "  welcome everyone "})
	assert.Equal(t, http.StatusAccepted, w.Code)

	h.handler.Wait()
	speaker.mu.Lock()
	defer speaker.mu.Unlock()
	assert.Equal(t, []string{"welcome everyone"}, speaker.texts)
}

func TestAdminHandler_SpeakWithoutConversation(t *testing.T) {
	h := newHarness(t, nil)
	w := h.do(http.MethodPost, "/api/v1/speak", h.token(t, services.RoleHost), SpeakRequest{Text: "hi"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAdminHandler_HealthAndReady(t *testing.T) {
	h := newHarness(t, nil)
	h.handler.health.AddSpaceCheck(h.space)
	h.space.On("State").Return(domain.StateInitializing).Once()
	h.space.On("State").Return(domain.StateStopped)

	w := h.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	w = h.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = h.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not_ready", decode(t, w)["status"])
}
