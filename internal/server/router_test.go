package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/Dot-Click/proactive-be-sub000/internal/auth"
	"github.com/Dot-Click/proactive-be-sub000/internal/config"
	"github.com/Dot-Click/proactive-be-sub000/internal/db/dbtest"
	"github.com/Dot-Click/proactive-be-sub000/internal/models"
	"github.com/Dot-Click/proactive-be-sub000/internal/presence"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const testSecret = "secret"

type testEnv struct {
	t   *testing.T
	gdb *gorm.DB
	app *App
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Config{
		Env:                   "dev",
		JWTSecret:             testSecret,
		AccessTokenTTLMinutes: 15,
		SessionTTLDays:        7,
		OperationTimeout:      2 * time.Second,
		KeywordBadgeFallback:  true,
		WSMessagesPerSecond:   5,
		WSMessageBurst:        10,
	}
	gdb := dbtest.New(t)
	app := New(cfg, gdb, presence.NewMemoryStore())
	t.Cleanup(app.Close)
	return &testEnv{t: t, gdb: gdb, app: app}
}

func (e *testEnv) token(u models.User) string {
	e.t.Helper()
	tok, err := auth.GenerateAccessToken(u.ID, u.Role, testSecret, 15)
	if err != nil {
		e.t.Fatal(err)
	}
	return tok
}

type apiResponse struct {
	Success bool                       `json:"success"`
	Data    map[string]json.RawMessage `json:"data"`
	Meta    *meta                      `json:"meta"`
	Message string                     `json:"message"`
}

func (e *testEnv) do(method, path, token string, body interface{}) (int, apiResponse) {
	e.t.Helper()
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
	e.app.Engine.ServeHTTP(w, req)
	var resp apiResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w.Code, resp
}

func (e *testEnv) messageCount(chatID string) int64 {
	var n int64
	e.gdb.Model(&models.Message{}).Where("chat_id = ?", chatID).Count(&n)
	return n
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	e.app.Engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	e := newTestEnv(t)
	dbtest.User(t, e.gdb, "alice", "alice@example.com", "Alice", "")

	code, resp := e.do(http.MethodGet, "/api/v1/chat", "", nil)
	if code != http.StatusUnauthorized || resp.Success {
		t.Errorf("no token: %d %+v", code, resp)
	}
	// REST 从不接受裸用户 ID
	code, _ = e.do(http.MethodGet, "/api/v1/chat", "alice", nil)
	if code != http.StatusUnauthorized {
		t.Errorf("user id as bearer: got %d, want 401", code)
	}
}

func TestSendMessage(t *testing.T) {
	e := newTestEnv(t)
	alice := dbtest.User(t, e.gdb, "alice", "alice@example.com", "Alice", "")
	bob := dbtest.User(t, e.gdb, "bob", "bob@example.com", "Bob", "")
	dbtest.Room(t, e.gdb, "R1", "alice", "alice")

	code, resp := e.do(http.MethodPost, "/api/v1/chat/R1/messages", e.token(alice), gin.H{"content": "hello"})
	if code != http.StatusCreated || !resp.Success {
		t.Fatalf("send: %d %+v", code, resp)
	}
	var msg map[string]interface{}
	if err := json.Unmarshal(resp.Data["message"], &msg); err != nil {
		t.Fatal(err)
	}
	keys := make([]string, 0, len(msg))
	for k := range msg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if want := []string{"chatId", "content", "createdAt", "id", "sender", "senderId"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("message keys = %v, want %v", keys, want)
	}
	if msg["content"] != "hello" || msg["senderId"] != "alice" || msg["chatId"] != "R1" {
		t.Errorf("message = %v", msg)
	}
	sender, _ := msg["sender"].(map[string]interface{})
	if sender["id"] != "alice" || sender["name"] != "Alice" || sender["email"] != "alice@example.com" {
		t.Errorf("sender = %v", sender)
	}

	code, _ = e.do(http.MethodPost, "/api/v1/chat/R1/messages", e.token(bob), gin.H{"content": "intrusion"})
	if code != http.StatusForbidden {
		t.Errorf("non participant: got %d, want 403", code)
	}
	code, _ = e.do(http.MethodPost, "/api/v1/chat/nope/messages", e.token(alice), gin.H{"content": "hi"})
	if code != http.StatusNotFound {
		t.Errorf("missing chat: got %d, want 404", code)
	}
	code, resp = e.do(http.MethodPost, "/api/v1/chat/R1/messages", e.token(alice), gin.H{"content": "  "})
	if code != http.StatusBadRequest || resp.Success {
		t.Errorf("blank content: %d %+v", code, resp)
	}
	if n := e.messageCount("R1"); n != 1 {
		t.Errorf("message count = %d, want 1", n)
	}
}

func TestListMessages_ExcludesDeleted(t *testing.T) {
	e := newTestEnv(t)
	alice := dbtest.User(t, e.gdb, "alice", "alice@example.com", "Alice", "")
	admin := dbtest.Admin(t, e.gdb, "root")
	dbtest.Room(t, e.gdb, "R1", "alice", "alice")
	tok := e.token(alice)

	var ids []string
	for _, c := range []string{"one", "two", "three"} {
		_, resp := e.do(http.MethodPost, "/api/v1/chat/R1/messages", tok, gin.H{"content": c})
		var m struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(resp.Data["message"], &m)
		ids = append(ids, m.ID)
	}
	code, _ := e.do(http.MethodDelete, "/api/v1/chat/R1/messages/"+ids[1], tok, nil)
	if code != http.StatusOK {
		t.Fatalf("delete: got %d", code)
	}

	for page := 1; page <= 3; page++ {
		code, resp := e.do(http.MethodGet, "/api/v1/chat/R1/messages?limit=1&page="+strconv.Itoa(page), tok, nil)
		if code != http.StatusOK {
			t.Fatalf("list page %d: %d", page, code)
		}
		var msgs []struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(resp.Data["messages"], &msgs)
		for _, m := range msgs {
			if m.ID == ids[1] {
				t.Errorf("deleted message listed on page %d", page)
			}
		}
		if resp.Meta == nil || resp.Meta.Total != 2 || resp.Meta.TotalPages != 2 {
			t.Errorf("meta = %+v", resp.Meta)
		}
	}

	code, _ = e.do(http.MethodGet, "/api/v1/chat/R1/messages/"+ids[1], tok, nil)
	if code != http.StatusNotFound {
		t.Errorf("deleted message for member: got %d, want 404", code)
	}
	code, resp := e.do(http.MethodGet, "/api/v1/chat/R1/messages/"+ids[1], e.token(admin), nil)
	if code != http.StatusOK {
		t.Fatalf("audit lookup: got %d", code)
	}
	var audit struct {
		Content   string     `json:"content"`
		DeletedAt *time.Time `json:"deletedAt"`
	}
	_ = json.Unmarshal(resp.Data["message"], &audit)
	if audit.Content != "two" || audit.DeletedAt == nil {
		t.Errorf("audit message = %+v", audit)
	}
}

func TestRegisterLoginFlow(t *testing.T) {
	e := newTestEnv(t)
	body := gin.H{"email": "new@example.com", "password": "password1", "firstName": "Nia"}
	if code, resp := e.do(http.MethodPost, "/api/v1/auth/register", "", body); code != http.StatusCreated {
		t.Fatalf("register: %d %+v", code, resp)
	}
	if code, _ := e.do(http.MethodPost, "/api/v1/auth/register", "", body); code != http.StatusConflict {
		t.Errorf("duplicate register: got %d, want 409", code)
	}

	code, resp := e.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "new@example.com", "password": "password1"})
	if code != http.StatusOK {
		t.Fatalf("login: %d %+v", code, resp)
	}
	var at, st string
	_ = json.Unmarshal(resp.Data["accessToken"], &at)
	_ = json.Unmarshal(resp.Data["sessionToken"], &st)

	if code, _ := e.do(http.MethodGet, "/api/v1/auth/me", at, nil); code != http.StatusOK {
		t.Errorf("me with access token: got %d", code)
	}
	if code, _ := e.do(http.MethodGet, "/api/v1/auth/me", st, nil); code != http.StatusOK {
		t.Errorf("me with session token: got %d", code)
	}
	if code, _ := e.do(http.MethodPost, "/api/v1/auth/logout", "", gin.H{"sessionToken": st}); code != http.StatusOK {
		t.Errorf("logout: got %d", code)
	}
	if code, _ := e.do(http.MethodGet, "/api/v1/auth/me", st, nil); code != http.StatusUnauthorized {
		t.Errorf("revoked session: got %d, want 401", code)
	}
}

func TestApproveTracksAchievement(t *testing.T) {
	e := newTestEnv(t)
	coord := models.User{ID: "coord", Email: "coord@example.com", PasswordHash: "x", Role: models.PlatformRoleCoordinator}
	if err := e.gdb.Create(&coord).Error; err != nil {
		t.Fatal(err)
	}
	carol := dbtest.User(t, e.gdb, "carol", "carol@example.com", "Carol", "")

	code, resp := e.do(http.MethodPost, "/api/v1/trips", e.token(coord), gin.H{"title": "Alps", "category": "Hiking Adventure"})
	if code != http.StatusCreated {
		t.Fatalf("create trip: %d %+v", code, resp)
	}
	var trip models.Trip
	_ = json.Unmarshal(resp.Data["trip"], &trip)

	code, resp = e.do(http.MethodPost, "/api/v1/trips/"+trip.ID+"/applications", e.token(carol), nil)
	if code != http.StatusCreated {
		t.Fatalf("apply: %d %+v", code, resp)
	}
	var app models.TripApplication
	_ = json.Unmarshal(resp.Data["application"], &app)

	for i := 0; i < 2; i++ {
		code, _ = e.do(http.MethodPost, "/api/v1/trips/"+trip.ID+"/applications/"+app.ID+"/approve", e.token(coord), nil)
		if code != http.StatusOK {
			t.Fatalf("approve #%d: got %d", i+1, code)
		}
	}

	code, resp = e.do(http.MethodGet, "/api/v1/achievements/me", e.token(carol), nil)
	if code != http.StatusOK {
		t.Fatalf("achievements: %d", code)
	}
	var records []models.Achievement
	_ = json.Unmarshal(resp.Data["records"], &records)
	if len(records) != 1 || records[0].Badge != "Mountain Climber" || records[0].Unlocked {
		t.Errorf("records = %+v", records)
	}

	code, _ = e.do(http.MethodGet, "/api/v1/users/ghost/achievements", e.token(carol), nil)
	if code != http.StatusNotFound {
		t.Errorf("unknown user: got %d, want 404", code)
	}
}
