package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroomix/internal/assistant"
	"studyroomix/internal/credential"
	"studyroomix/internal/domain"
	"studyroomix/internal/infra/memory"
	"studyroomix/internal/middleware"
	"studyroomix/internal/retry"
	"studyroomix/internal/service"
)

// echoGenerator 原样回显提问
type echoGenerator struct{}

func (echoGenerator) Generate(ctx context.Context, req assistant.Request) (assistant.Reply, error) {
	if !req.Stream {
		return assistant.Complete("echo: " + req.Prompt), nil
	}
	ch := make(chan assistant.Fragment, 2)
	ch <- assistant.Fragment{Text: "echo: "}
	ch <- assistant.Fragment{Text: req.Prompt}
	close(ch)
	return assistant.Stream(ch), nil
}

// closeNotifyingRecorder 让 gin 的 c.Stream 可以在 ResponseRecorder 上运行
type closeNotifyingRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *closeNotifyingRecorder) CloseNotify() <-chan bool { return r.closed }

type apiTest struct {
	t      *testing.T
	router *gin.Engine
	store  *memory.Store
}

func newAPITest(t *testing.T) *apiTest {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := memory.NewStore()
	feed := memory.NewChangeFeed()
	verifier, err := credential.New(credential.ModePlain)
	require.NoError(t, err)
	policy := retry.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

	rooms := service.NewRoomService(store.Rooms(), store.Members(), store.Sessions(), store.State(), feed, verifier, nil, policy)
	study := service.NewStudyService(store.Rooms(), store.Members(), store.Sessions(), feed, policy)
	playback := service.NewPlaybackService(store.Rooms(), store.State(), feed, policy)
	messages := service.NewMessageService(store.Rooms(), store.Members(), store.Messages(), feed, policy)
	tutor := service.NewAssistantService(store.ChatHistory(), echoGenerator{}, nil, policy)

	r := gin.New()
	api := r.Group("/api")
	// 测试中用请求头代替 JWT
	api.Use(func(c *gin.Context) {
		if id, err := strconv.ParseUint(c.GetHeader("X-User"), 10, 32); err == nil {
			c.Set(middleware.UserIDKey, uint(id))
		}
		c.Next()
	})
	RegisterRoutes(api,
		NewRoomHandler(rooms, study),
		NewMessageHandler(rooms, messages),
		NewPlaybackHandler(rooms, playback),
		NewStudyHandler(study),
		NewAssistantHandler(tutor),
	)
	return &apiTest{t: t, router: r, store: store}
}

func (a *apiTest) do(method, path string, user uint, body interface{}) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != 0 {
		req.Header.Set("X-User", strconv.Itoa(int(user)))
	}
	w := &closeNotifyingRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}
	a.router.ServeHTTP(w, req)
	return w.ResponseRecorder
}

func (a *apiTest) createRoom(user uint, body gin.H) domain.Room {
	a.t.Helper()
	w := a.do(http.MethodPost, "/api/rooms", user, body)
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	var room domain.Room
	require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &room))
	return room
}

func TestRoomLifecycle(t *testing.T) {
	api := newAPITest(t)
	room := api.createRoom(1, gin.H{"kind": "study", "name": "Library"})
	path := fmt.Sprintf("/api/rooms/%d", room.ID)

	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodPost, "/api/rooms", 0, gin.H{"kind": "chat", "name": "x"}).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/api/rooms", 1, gin.H{"kind": "disco", "name": "x"}).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/api/rooms/abc", 1, nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/api/rooms/999", 1, nil).Code)

	w := api.do(http.MethodGet, path, 2, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "password")

	assert.Equal(t, http.StatusOK, api.do(http.MethodPost, path+"/join", 2, nil).Code)

	w = api.do(http.MethodGet, path+"/members", 2, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var members struct {
		Members []struct {
			UserID uint   `json:"user_id"`
			Status string `json:"status"`
			Local  bool   `json:"local"`
		} `json:"members"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &members))
	require.Len(t, members.Members, 2)
	assert.Equal(t, uint(1), members.Members[0].UserID)
	assert.True(t, members.Members[1].Local)
	assert.Equal(t, "waiting", members.Members[1].Status)

	w = api.do(http.MethodGet, "/api/rooms?kind=study", 1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"member_count":2`)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/api/rooms?kind=disco", 1, nil).Code)

	assert.Equal(t, http.StatusNoContent, api.do(http.MethodPost, path+"/leave", 2, nil).Code)
	assert.Equal(t, http.StatusForbidden, api.do(http.MethodDelete, path, 2, nil).Code)
	assert.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, path, 1, nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, path, 1, nil).Code)
}

func TestPrivateRoomJoin(t *testing.T) {
	api := newAPITest(t)
	room := api.createRoom(1, gin.H{"kind": "chat", "name": "Secret", "is_private": true, "password": "xyz"})
	path := fmt.Sprintf("/api/rooms/%d/join", room.ID)

	assert.Equal(t, http.StatusForbidden, api.do(http.MethodPost, path, 2, gin.H{"password": "abc"}).Code)
	assert.Equal(t, http.StatusOK, api.do(http.MethodPost, path, 2, gin.H{"password": "xyz"}).Code)
}

func TestPrivateRoomReadsRequireMembership(t *testing.T) {
	api := newAPITest(t)
	room := api.createRoom(1, gin.H{"kind": "watch", "name": "Screening", "video_url": "https://example.com/v.mp4", "is_private": true, "password": "xyz"})
	base := fmt.Sprintf("/api/rooms/%d", room.ID)
	reads := []string{base + "/messages", base + "/members", base + "/playback"}

	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, base+"/messages", 1, gin.H{"content": "members only"}).Code)
	assert.Equal(t, http.StatusForbidden, api.do(http.MethodPost, base+"/join", 3, gin.H{"password": "abc"}).Code)

	for _, path := range reads {
		w := api.do(http.MethodGet, path, 3, nil)
		assert.Equal(t, http.StatusForbidden, w.Code, path)
		assert.NotContains(t, w.Body.String(), "members only", path)
		assert.Equal(t, http.StatusOK, api.do(http.MethodGet, path, 1, nil).Code, path)
	}

	require.Equal(t, http.StatusOK, api.do(http.MethodPost, base+"/join", 3, gin.H{"password": "xyz"}).Code)
	for _, path := range reads {
		assert.Equal(t, http.StatusOK, api.do(http.MethodGet, path, 3, nil).Code, path)
	}

	// 公开房间不要求成员身份
	public := api.createRoom(1, gin.H{"kind": "chat", "name": "Open"})
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, fmt.Sprintf("/api/rooms/%d/messages", public.ID), 4, nil).Code)
}

func TestMessagesAPI(t *testing.T) {
	api := newAPITest(t)
	room := api.createRoom(1, gin.H{"kind": "chat", "name": "Lounge"})
	path := fmt.Sprintf("/api/rooms/%d/messages", room.ID)

	assert.Equal(t, http.StatusForbidden, api.do(http.MethodPost, path, 2, gin.H{"content": "hi"}).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, path, 1, gin.H{"content": strings.Repeat("a", 501)}).Code)
	for _, text := range []string{"one", "two"} {
		require.Equal(t, http.StatusCreated, api.do(http.MethodPost, path, 1, gin.H{"content": text}).Code)
	}

	w := api.do(http.MethodGet, path+"?limit=1", 1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Messages []domain.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Messages, 1)
	assert.Equal(t, "two", body.Messages[0].Content)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, path+"?limit=-1", 1, nil).Code)
}

func TestPlaybackAPI(t *testing.T) {
	api := newAPITest(t)
	room := api.createRoom(1, gin.H{"kind": "watch", "name": "Cinema", "video_url": "https://example.com/v.mp4"})
	path := fmt.Sprintf("/api/rooms/%d/playback", room.ID)

	w := api.do(http.MethodGet, path, 2, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var state domain.PlaybackState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.False(t, state.IsPlaying)
	assert.Zero(t, state.Position)

	assert.Equal(t, http.StatusOK, api.do(http.MethodPut, path, 1, gin.H{"is_playing": true, "position": 42.0}).Code)
	assert.Equal(t, http.StatusForbidden, api.do(http.MethodPut, path, 2, gin.H{"is_playing": false}).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPut, path, 1, gin.H{"position": -3}).Code)

	w = api.do(http.MethodGet, path, 2, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.True(t, state.IsPlaying)
	assert.Equal(t, 42.0, state.Position)
}

func TestStoreOutageMapsTo503(t *testing.T) {
	api := newAPITest(t)
	room := api.createRoom(1, gin.H{"kind": "chat", "name": "Lounge"})
	api.store.FailNext(10)
	defer api.store.FailNext(0)
	w := api.do(http.MethodGet, fmt.Sprintf("/api/rooms/%d", room.ID), 1, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAssistantAPI(t *testing.T) {
	api := newAPITest(t)

	w := api.do(http.MethodPost, "/api/assistant/chat", 1, gin.H{"prompt": "hello"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"answer":"echo: hello"}`, w.Body.String())

	w = api.do(http.MethodPost, "/api/assistant/chat", 1, gin.H{"prompt": "again", "stream": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")
	assert.Contains(t, w.Body.String(), "event:message")
	assert.Contains(t, w.Body.String(), "data:again")
	assert.Contains(t, w.Body.String(), "event:done")

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/api/assistant/chat", 1, gin.H{}).Code)

	require.Eventually(t, func() bool {
		w := api.do(http.MethodGet, "/api/assistant/history", 1, nil)
		var body struct {
			History []domain.ChatTurn `json:"history"`
		}
		return w.Code == http.StatusOK && json.Unmarshal(w.Body.Bytes(), &body) == nil && len(body.History) == 4
	}, time.Second, 5*time.Millisecond)
}

func TestStudyLeaderboardAPI(t *testing.T) {
	api := newAPITest(t)
	room := api.createRoom(1, gin.H{"kind": "study", "name": "Library"})
	ctx := context.Background()
	finished := func(user uint, id string, seconds int64) {
		_, err := api.store.Members().Upsert(ctx, &domain.Member{RoomID: room.ID, UserID: user})
		require.NoError(t, err)
		require.NoError(t, api.store.Sessions().StartAttached(ctx, &domain.Session{ID: id, RoomID: room.ID, UserID: user}))
		_, err = api.store.Sessions().StopDetached(ctx, room.ID, user, id, seconds, time.Now())
		require.NoError(t, err)
	}
	finished(2, "s-1", 120)
	finished(3, "s-2", 300)
	finished(2, "s-3", 30)

	w := api.do(http.MethodGet, "/api/study/leaderboard", 1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Leaderboard []domain.StudyTotal `json:"leaderboard"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []domain.StudyTotal{{UserID: 3, TotalDuration: 300}, {UserID: 2, TotalDuration: 150}}, body.Leaderboard)

	w = api.do(http.MethodGet, "/api/study/leaderboard?limit=1", 1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"leaderboard":[{"user_id":3,"total_duration":300}]}`, w.Body.String())
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/api/study/leaderboard?limit=x", 1, nil).Code)

	w = api.do(http.MethodGet, "/api/study/me", 2, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":2,"total_duration":150}`, w.Body.String())
	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/api/study/me", 0, nil).Code)
}
