package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/enochaseks/sideeye/config"
	"github.com/enochaseks/sideeye/internal/logging/logtest"
	"github.com/enochaseks/sideeye/internal/middleware"
	"github.com/enochaseks/sideeye/internal/models"
	"github.com/enochaseks/sideeye/internal/realtime"
	"github.com/enochaseks/sideeye/internal/signaling"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type testServer struct {
	handler *Handler
	router  *gin.Engine
	redis   *miniredis.Miniredis
	store   *realtime.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := &config.Config{
		AllowedOrigins: []string{"http://localhost:3000"},
		JWTSecret:      testSecret,
		Signaling:      config.SignalingConfig{RecordTTL: 30 * time.Second},
	}
	store := realtime.NewMemoryStore()
	h := New(client, store, cfg, logtest.New(t))

	return &testServer{
		handler: h,
		router:  h.Router(),
		redis:   mr,
		store:   store,
	}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := middleware.IssueToken(testSecret, userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) createRoom(t *testing.T, userID string, req *models.CreateRoomRequest) models.CreateRoomResponse {
	t.Helper()

	var body any
	if req != nil {
		body = req
	}
	rec := s.do(t, http.MethodPost, "/api/rooms", token(t, userID), body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp models.CreateRoomResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (s *testServer) getRoom(t *testing.T, identifier string) (int, models.RoomMetadata) {
	t.Helper()

	rec := s.do(t, http.MethodGet, "/api/rooms/"+identifier, "", nil)
	var room models.RoomMetadata
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &room))
	}
	return rec.Code, room
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "alice", Password: "pw"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alice", resp.UserID)

	claims, err := middleware.ParseToken(testSecret, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
}

func TestLoginRequiresCredentials(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRoom(t *testing.T) {
	s := newTestServer(t)

	resp := s.createRoom(t, "alice", &models.CreateRoomRequest{Name: "standup", MaxParticipants: 4})

	assert.NotEmpty(t, resp.RoomID)
	require.Len(t, resp.Code, roomCodeLength)
	for _, ch := range resp.Code {
		assert.Contains(t, codeChars, string(ch))
	}

	id, err := s.redis.Get(codeKey(resp.Code))
	require.NoError(t, err)
	assert.Equal(t, resp.RoomID, id)
	assert.Equal(t, roomTTL, s.redis.TTL(roomKey(resp.RoomID)))
	assert.Equal(t, roomTTL, s.redis.TTL(codeKey(resp.Code)))

	code, room := s.getRoom(t, resp.RoomID)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alice", room.CreatorID)
	assert.Equal(t, "standup", room.Name)
	assert.Equal(t, 4, room.MaxParticipants)
}

func TestCreateRoomDefaults(t *testing.T) {
	s := newTestServer(t)

	resp := s.createRoom(t, "alice", nil)

	code, room := s.getRoom(t, resp.Code)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, resp.RoomID, room.ID)
	assert.Equal(t, defaultMaxParticipants, room.MaxParticipants)
	assert.Zero(t, room.ParticipantCount)
}

func TestCreateRoomValidation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/rooms", token(t, "alice"), models.CreateRoomRequest{MaxParticipants: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/rooms", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetRoomNotFound(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.getRoom(t, "ZZZZZZ")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.getRoom(t, "2f1d7a1c-missing")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGetRoomCountsPresence(t *testing.T) {
	s := newTestServer(t)
	resp := s.createRoom(t, "alice", nil)

	require.NoError(t, s.store.Set(context.Background(), PresencePath(resp.RoomID), "peer-1", []byte(`{}`)))

	code, room := s.getRoom(t, resp.Code)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, room.ParticipantCount)
}

func TestDeleteRoom(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	resp := s.createRoom(t, "alice", nil)

	require.NoError(t, s.store.Set(ctx, PresencePath(resp.RoomID), "peer-1", []byte(`{}`)))
	require.NoError(t, s.store.Set(ctx, signaling.Path(resp.RoomID, models.KindOffer), "rec-1", []byte(`{}`)))

	rec := s.do(t, http.MethodDelete, "/api/rooms/"+resp.Code, token(t, "bob"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/rooms/"+resp.Code, token(t, "alice"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	code, _ := s.getRoom(t, resp.RoomID)
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, s.redis.Exists(codeKey(resp.Code)))

	presence, err := s.store.Get(ctx, PresencePath(resp.RoomID))
	require.NoError(t, err)
	assert.Empty(t, presence)
	offers, err := s.store.Get(ctx, signaling.Path(resp.RoomID, models.KindOffer))
	require.NoError(t, err)
	assert.Empty(t, offers)
}

func TestDeleteRoomNotFound(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodDelete, "/api/rooms/ZZZZZZ", token(t, "alice"), nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRedisFailure(t *testing.T) {
	s := newTestServer(t)
	s.redis.Close()

	code, _ := s.getRoom(t, "ZZZZZZ")

	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestOriginFilter(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name       string
		method     string
		origin     string
		requested  string
		wantStatus int
		wantCORS   bool
	}{
		{"no origin", http.MethodGet, "", "", http.StatusOK, false},
		{"allowed origin", http.MethodGet, "http://localhost:3000", "", http.StatusOK, true},
		{"foreign origin", http.MethodGet, "https://evil.example", "", http.StatusForbidden, false},
		{"preflight", http.MethodOptions, "http://localhost:3000", http.MethodDelete, http.StatusNoContent, true},
		{"preflight without method", http.MethodOptions, "http://localhost:3000", "", http.StatusNoContent, true},
		{"preflight for unused method", http.MethodOptions, "http://localhost:3000", http.MethodPut, http.StatusMethodNotAllowed, true},
		{"foreign preflight", http.MethodOptions, "https://evil.example", http.MethodGet, http.StatusForbidden, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.requested != "" {
				req.Header.Set("Access-Control-Request-Method", tt.requested)
			}
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCORS {
				assert.Equal(t, tt.origin, rec.Header().Get("Access-Control-Allow-Origin"))
				assert.Equal(t, "GET, POST, DELETE, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
			} else {
				assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestGenerateRoomCode(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		code, err := generateRoomCode()
		require.NoError(t, err)
		require.Len(t, code, roomCodeLength)
		assert.Equal(t, -1, strings.IndexAny(code, "01IO"))
		seen[code] = struct{}{}
	}
	assert.Greater(t, len(seen), 1)
}
