package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movienights/internal/client"
	"movienights/internal/domain"
	httpHandler "movienights/internal/handler/http"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("LOG_LEVEL", "loud")
	t.Setenv("PRESENCE_TTL", "not-a-duration")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "mn:", cfg.KeyPrefix)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 90*time.Second, cfg.PresenceTTL)
	assert.Equal(t, time.Minute, cfg.PresenceSweep)
	assert.Equal(t, 500, cfg.EventLogLimit)
	assert.False(t, cfg.EnforceControllerWrites)
	assert.False(t, cfg.ArchiveEnabled())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("DB_HOST", "db")
	t.Setenv("EVENT_LOG_LIMIT", "50")
	t.Setenv("ENFORCE_CONTROLLER_WRITES", "true")
	t.Setenv("PRESENCE_SWEEP", "30s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.StoreBackend)
	assert.Equal(t, 50, cfg.EventLogLimit)
	assert.True(t, cfg.EnforceControllerWrites)
	assert.Equal(t, 30*time.Second, cfg.PresenceSweep)
	assert.True(t, cfg.ArchiveEnabled())
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("STORE_BACKEND", "firestore")
	_, err = LoadConfig()
	assert.Error(t, err)
}

func testConfig(backend, redisAddr string) *Config {
	return &Config{
		ServerPort:        "0",
		AppEnv:            "test",
		LogLevel:          "error",
		StoreBackend:      backend,
		RedisAddr:         redisAddr,
		KeyPrefix:         "mn:",
		TicketSecret:      "test-secret",
		TicketExpiryHours: 1,
		PresenceTTL:       time.Minute,
		PresenceSweep:     time.Minute,
		EventLogLimit:     100,
		RateLimitMax:      100,
		RateLimitWindow:   time.Second,
		CORSAllowedOrigin: "*",
	}
}

func post(t *testing.T, h http.Handler, path, ticket string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if ticket != "" {
		req.Header.Set("Authorization", "Bearer "+ticket)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNewAppWithConfig_MemoryBackend(t *testing.T) {
	app, err := NewAppWithConfig(testConfig(BackendMemory, ""))
	require.NoError(t, err)
	assert.Nil(t, app.AsynqServer)
	assert.Nil(t, app.DB)

	h := app.HttpServer.Handler
	w := post(t, h, "/api/rooms", "", map[string]string{"participant_id": "H", "name": "Host"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created httpHandler.EnterRoomResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	code := created.Snapshot.Room.Code
	w = post(t, h, "/api/rooms/"+code+"/chat", created.Ticket, map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	room, err := app.Services.Rooms.GetRoom(context.Background(), code)
	require.NoError(t, err)
	assert.Len(t, room.Events, 2)
}

func TestNewAppWithConfig_MissingSecret(t *testing.T) {
	cfg := testConfig(BackendMemory, "")
	cfg.TicketSecret = ""
	_, err := NewAppWithConfig(cfg)
	assert.Error(t, err)
}

func TestNewAppWithConfig_RedisBackendSharesState(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(BackendRedis, mr.Addr())

	app, err := NewAppWithConfig(cfg)
	require.NoError(t, err)
	require.NotNil(t, app.AsynqServer)
	t.Cleanup(func() { _ = app.Stores.Close() })

	w := post(t, app.HttpServer.Handler, "/api/rooms", "", map[string]string{"participant_id": "H", "name": "Host"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created httpHandler.EnterRoomResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))

	// 另一个进程通过同一个 Redis 加入
	stores, err := OpenStores(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stores.Close() })
	services := NewServices(cfg, stores, nil)

	guest := client.NewSession(services.ClientBackend(stores), domain.Identity{ParticipantID: "G", DisplayName: "Guest"})
	require.NoError(t, guest.Join(context.Background(), created.Snapshot.Room.Code))
	assert.Eventually(t, func() bool {
		room := guest.Room()
		return room != nil && len(room.Participants) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "H", guest.Room().HostID)
	require.NoError(t, guest.Leave(context.Background()))
}
