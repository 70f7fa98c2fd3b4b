package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memorystate "movienights/internal/infra/state/memory"
	"movienights/internal/middleware"
	"movienights/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	store := memorystate.NewRoomStore()
	rooms := service.NewRoomService(store, nil, service.DefaultEventLogLimit)
	presence := service.NewPresenceService(store, memorystate.NewPresenceRepository(), rooms, service.DefaultEventLogLimit, 0)
	tickets, err := service.NewTicketService("test-secret", 1)
	require.NoError(t, err)

	router := gin.New()
	RegisterRoutes(router,
		NewRoomHandler(rooms, presence, tickets),
		NewSessionHandler(
			service.NewControllerService(store, service.DefaultEventLogLimit),
			service.NewPlaybackService(store, false),
			service.NewEventLogService(store, service.DefaultEventLogLimit),
		),
		middleware.Ticket(tickets),
		nil,
	)
	return router
}

func doJSON(t *testing.T, r *gin.Engine, method, path, ticket string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if ticket != "" {
		req.Header.Set("Authorization", "Bearer "+ticket)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeEnter(t *testing.T, w *httptest.ResponseRecorder) EnterRoomResponse {
	t.Helper()
	var resp EnterRoomResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCreateAndJoinFlow(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/rooms", "", gin.H{"participant_id": "H", "name": "Host"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	host := decodeEnter(t, w)
	code := host.Snapshot.Room.Code
	assert.Equal(t, "H", host.Snapshot.Room.ControllerID)
	assert.NotEmpty(t, host.Ticket)

	w = doJSON(t, r, http.MethodGet, "/api/rooms/"+code, "", nil)
	assert.JSONEq(t, `{"exists":true}`, w.Body.String())

	w = doJSON(t, r, http.MethodPost, "/api/rooms/"+code+"/join", "", gin.H{"name": "Pat"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	guest := decodeEnter(t, w)
	assert.NotEmpty(t, guest.ParticipantID, "server assigns an id when none is given")
	assert.Len(t, guest.Snapshot.Room.Participants, 2)

	w = doJSON(t, r, http.MethodPost, "/api/rooms/"+code+"/remote/pass", host.Ticket, gin.H{"target_id": guest.ParticipantID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodPost, "/api/rooms/"+code+"/remote/pass", host.Ticket, gin.H{"target_id": "H"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/rooms/"+code+"/chat", guest.Ticket, gin.H{"text": "hello"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/rooms/"+code+"/playback/state", guest.Ticket, gin.H{"is_playing": true})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/rooms/"+code+"/snapshot", host.Ticket, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap struct {
		Room struct {
			ControllerID string `json:"controllerId"`
			IsPlaying    bool   `json:"isPlaying"`
		} `json:"room"`
		Events []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, guest.ParticipantID, snap.Room.ControllerID)
	assert.True(t, snap.Room.IsPlaying)
	assert.Equal(t, "hello", snap.Events[len(snap.Events)-1].Text)

	w = doJSON(t, r, http.MethodPost, "/api/rooms/"+code+"/leave", guest.Ticket, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, r, http.MethodPost, "/api/rooms/"+code+"/leave", host.Ticket, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":true}`, w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/api/rooms/"+code, "", nil)
	assert.JSONEq(t, `{"exists":false}`, w.Body.String())
}

func TestJoinRoom_Errors(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/rooms/ZZZZZZ/join", "", gin.H{"name": "Pat"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/rooms", "", gin.H{"name": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/rooms", "", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMemberRoutesRequireTicket(t *testing.T) {
	r := setupRouter(t)
	w := doJSON(t, r, http.MethodPost, "/api/rooms", "", gin.H{"participant_id": "H", "name": "Host"})
	host := decodeEnter(t, w)
	code := host.Snapshot.Room.Code

	w = doJSON(t, r, http.MethodPost, "/api/rooms/"+code+"/chat", "", gin.H{"text": "hi"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/rooms/OTHER1/chat", host.Ticket, gin.H{"text": "hi"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTakeBack_NotHost(t *testing.T) {
	r := setupRouter(t)
	host := decodeEnter(t, doJSON(t, r, http.MethodPost, "/api/rooms", "", gin.H{"participant_id": "H", "name": "Host"}))
	code := host.Snapshot.Room.Code
	guest := decodeEnter(t, doJSON(t, r, http.MethodPost, "/api/rooms/"+code+"/join", "", gin.H{"participant_id": "P", "name": "Pat"}))

	w := doJSON(t, r, http.MethodPost, "/api/rooms/"+code+"/remote/take-back", guest.Ticket, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/rooms/"+code+"/remote/take-back", host.Ticket, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPlayback_DepartedTicketForbidden(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/rooms", "", gin.H{"participant_id": "H", "name": "Host"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	code := decodeEnter(t, w).Snapshot.Room.Code

	w = doJSON(t, r, http.MethodPost, "/api/rooms/"+code+"/join", "", gin.H{"participant_id": "P", "name": "Pat"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	guest := decodeEnter(t, w)

	w = doJSON(t, r, http.MethodPost, "/api/rooms/"+code+"/leave", guest.Ticket, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// 离开后票据仍未过期，但已不是成员
	w = doJSON(t, r, http.MethodPost, "/api/rooms/"+code+"/playback/url", guest.Ticket, gin.H{"url": "https://example.com/x.mp4"})
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	w = doJSON(t, r, http.MethodPost, "/api/rooms/"+code+"/playback/state", guest.Ticket, gin.H{"is_playing": true})
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
}

func TestHandleServiceError_StatusCodes(t *testing.T) {
	cases := map[error]int{
		service.ErrWriteConflict:    http.StatusConflict,
		service.ErrStoreUnavailable: http.StatusServiceUnavailable,
		service.ErrNotMember:        http.StatusForbidden,
		service.ErrRoomNotFound:     http.StatusNotFound,
	}
	for err, status := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		HandleServiceError(c, err)
		assert.Equal(t, status, w.Code, err.Error())
	}
}
