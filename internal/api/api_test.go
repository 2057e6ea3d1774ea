package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/starford/fanout/internal/chat"
	"github.com/starford/fanout/internal/dispatch"
	"github.com/starford/fanout/internal/session"
	"github.com/starford/fanout/internal/target"
	"github.com/starford/fanout/internal/testutil"
	"github.com/starford/fanout/internal/tier"
)

// stubHost is an in-memory surface host for API tests.
type stubHost struct {
	mu       sync.Mutex
	surfaces []target.Surface
	nextID   int
	events   chan target.Event
}

func newStubHost() *stubHost {
	return &stubHost{events: make(chan target.Event, 8)}
}

func (h *stubHost) List(context.Context) ([]target.Surface, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]target.Surface(nil), h.surfaces...), nil
}

func (h *stubHost) Open(_ context.Context, locator string) (target.Surface, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	s := target.Surface{ID: fmt.Sprintf("s%d", h.nextID), Location: locator}
	h.surfaces = append(h.surfaces, s)
	return s, nil
}

func (h *stubHost) Close(_ context.Context, surfaceID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.surfaces {
		if s.ID == surfaceID {
			h.surfaces = append(h.surfaces[:i], h.surfaces[i+1:]...)
			break
		}
	}
	return nil
}

func (h *stubHost) Events() <-chan target.Event { return h.events }

// stubAdapter records delivered prompts.
type stubAdapter struct {
	mu        sync.Mutex
	delivered []string
}

func (a *stubAdapter) Deliver(_ context.Context, prompt, targetID string, _ target.Surface) error {
	a.mu.Lock()
	a.delivered = append(a.delivered, targetID+":"+prompt)
	a.mu.Unlock()
	return nil
}

type testEnv struct {
	router  http.Handler
	svc     *session.Service
	reg     *target.Registry
	adapter *stubAdapter
}

// newTestEnv wires real store, tiers, registry, and coordinator behind the
// router. An empty token disables auth.
func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()
	return newTestEnvSSE(t, token, nil)
}

func newTestEnvSSE(t *testing.T, token string, sseHandler http.Handler) *testEnv {
	t.Helper()
	logger := testutil.Logger()

	clock := &testutil.FixedClock{Current: time.Now().UTC()}
	manager := tier.NewManager(testutil.TestSynced(t, 0), testutil.TestLocal(t), clock, logger)
	store := chat.NewStore(manager, nil, logger)

	targets := []target.Target{
		{ID: "alpha", MatchQuery: "alpha.example", CreationLocator: "https://alpha.example/chat", Adapter: "stub", Enabled: true},
		{ID: "beta", MatchQuery: "beta.example", CreationLocator: "https://beta.example/chat", Adapter: "stub", Enabled: true},
	}
	reg := target.NewRegistry(newStubHost(), targets, 0, logger)

	adapter := &stubAdapter{}
	coord := dispatch.NewCoordinator(reg, map[string]dispatch.Adapter{"stub": adapter}, logger)

	svc := session.NewService(store, reg, coord, nil, logger)
	router := NewRouter(svc, token != "", token, sseHandler)
	return &testEnv{router: router, svc: svc, reg: reg, adapter: adapter}
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateAndListChats(t *testing.T) {
	env := newTestEnv(t, "")

	w := doJSON(t, env.router, http.MethodPost, "/chats", map[string]string{"title": "first"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d, body = %s", w.Code, w.Body.String())
	}
	var created Chat
	_ = json.Unmarshal(w.Body.Bytes(), &created)
	if created.Title != "first" || created.ID == "" {
		t.Errorf("created = %+v", created)
	}

	w = doJSON(t, env.router, http.MethodPost, "/chats", map[string]string{})
	if w.Code != http.StatusCreated {
		t.Fatalf("create default = %d", w.Code)
	}

	w = doJSON(t, env.router, http.MethodGet, "/chats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var list ChatListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Total != 2 || len(list.Chats) != 2 {
		t.Errorf("list = %+v", list)
	}
	if list.ActiveChatID == created.ID {
		t.Error("most recently created chat should be active, not the first")
	}
}

func TestGetChat_NotFound(t *testing.T) {
	env := newTestEnv(t, "")
	w := doJSON(t, env.router, http.MethodGet, "/chats/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing chat = %d, want 404", w.Code)
	}
}

func TestAddMessage_ImplicitChat(t *testing.T) {
	env := newTestEnv(t, "")

	w := doJSON(t, env.router, http.MethodPost, "/chats/-/messages", map[string]string{"text": "hello"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		ChatID  string       `json:"chatId"`
		Message chat.Message `json:"message"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.ChatID == "" || resp.Message.Text != "hello" {
		t.Errorf("resp = %+v", resp)
	}

	// The implicit chat is fetchable.
	w = doJSON(t, env.router, http.MethodGet, "/chats/"+resp.ChatID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get = %d", w.Code)
	}
}

func TestAddMessage_Validation(t *testing.T) {
	env := newTestEnv(t, "")

	w := doJSON(t, env.router, http.MethodPost, "/chats/-/messages", map[string]string{"text": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty text = %d, want 400", w.Code)
	}
	w = doJSON(t, env.router, http.MethodPost, "/chats/ghost/messages", map[string]string{"text": "x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown chat = %d, want 404", w.Code)
	}
}

func TestUpdateAndDeleteMessage(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	c := env.svc.CreateChat(ctx, "chat")
	msg, _, err := env.svc.AddMessage(ctx, c.ID, "draft")
	if err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, env.router, http.MethodPut, "/chats/"+c.ID+"/messages/"+msg.ID, map[string]string{"text": "final"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("update = %d", w.Code)
	}
	got, _ := env.svc.GetChat(c.ID)
	if got.Messages[0].Text != "final" || !got.Messages[0].Edited {
		t.Errorf("message = %+v", got.Messages[0])
	}

	w = doJSON(t, env.router, http.MethodDelete, "/chats/"+c.ID+"/messages/"+msg.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	w = doJSON(t, env.router, http.MethodDelete, "/chats/"+c.ID+"/messages/"+msg.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestUpdateTitleAndActivate(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	c1 := env.svc.CreateChat(ctx, "a")
	env.svc.CreateChat(ctx, "b")

	w := doJSON(t, env.router, http.MethodPut, "/chats/"+c1.ID+"/title", map[string]string{"title": "renamed"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("title = %d", w.Code)
	}
	got, _ := env.svc.GetChat(c1.ID)
	if got.Title != "renamed" {
		t.Errorf("title = %q", got.Title)
	}

	w = doJSON(t, env.router, http.MethodPut, "/chats/"+c1.ID+"/title", map[string]string{"title": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty title = %d, want 400", w.Code)
	}

	w = doJSON(t, env.router, http.MethodPost, "/chats/"+c1.ID+"/activate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("activate = %d", w.Code)
	}
	if env.svc.ActiveChatID() != c1.ID {
		t.Errorf("active = %q, want %q", env.svc.ActiveChatID(), c1.ID)
	}

	w = doJSON(t, env.router, http.MethodPost, "/chats/ghost/activate", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("activate unknown = %d, want 404", w.Code)
	}
}

func TestDeleteChat(t *testing.T) {
	env := newTestEnv(t, "")
	c := env.svc.CreateChat(context.Background(), "bye")

	w := doJSON(t, env.router, http.MethodDelete, "/chats/"+c.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	w = doJSON(t, env.router, http.MethodGet, "/chats/"+c.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
}

func TestListTargets(t *testing.T) {
	env := newTestEnv(t, "")

	w := doJSON(t, env.router, http.MethodGet, "/targets", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("targets = %d", w.Code)
	}
	var resp TargetsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Aggregate != string(target.AllDisengaged) {
		t.Errorf("aggregate = %q", resp.Aggregate)
	}
	if len(resp.Targets) != 2 || resp.Targets[0].ID != "alpha" || resp.Targets[0].Engaged {
		t.Errorf("targets = %+v", resp.Targets)
	}
}

func TestEngageAndDisengageTarget(t *testing.T) {
	env := newTestEnv(t, "")

	w := doJSON(t, env.router, http.MethodPost, "/targets/alpha/engage", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("engage = %d, body = %s", w.Code, w.Body.String())
	}
	if agg := env.reg.Aggregate(); agg != target.Mixed {
		t.Errorf("aggregate = %v, want Mixed", agg)
	}

	w = doJSON(t, env.router, http.MethodPost, "/targets/alpha/disengage", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("disengage = %d", w.Code)
	}
	if agg := env.reg.Aggregate(); agg != target.AllDisengaged {
		t.Errorf("aggregate = %v, want AllDisengaged", agg)
	}

	w = doJSON(t, env.router, http.MethodPost, "/targets/ghost/engage", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown target = %d, want 404", w.Code)
	}
}

func TestToggleTargets(t *testing.T) {
	env := newTestEnv(t, "")

	w := doJSON(t, env.router, http.MethodPost, "/targets/toggle", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("toggle = %d", w.Code)
	}
	var resp ToggleResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Aggregate != string(target.AllEngaged) {
		t.Errorf("aggregate = %q, want all_engaged", resp.Aggregate)
	}

	w = doJSON(t, env.router, http.MethodPost, "/targets/toggle", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Aggregate != string(target.AllDisengaged) {
		t.Errorf("aggregate = %q, want all_disengaged", resp.Aggregate)
	}
}

func TestDispatchEndpoint(t *testing.T) {
	env := newTestEnv(t, "")

	w := doJSON(t, env.router, http.MethodPost, "/targets/toggle", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("toggle = %d", w.Code)
	}

	w = doJSON(t, env.router, http.MethodPost, "/dispatch", map[string]string{"prompt": "hello world"})
	if w.Code != http.StatusOK {
		t.Fatalf("dispatch = %d, body = %s", w.Code, w.Body.String())
	}
	var resp DispatchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.ChatID == "" || resp.Message.Text != "hello world" {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results = %+v, want one per engaged target", resp.Results)
	}
	for _, r := range resp.Results {
		if r.Outcome != dispatch.OutcomeDelivered {
			t.Errorf("result = %+v", r)
		}
	}
	if len(env.adapter.delivered) != 2 {
		t.Errorf("delivered = %v", env.adapter.delivered)
	}
}

func TestDispatchEndpoint_EmptyPrompt(t *testing.T) {
	env := newTestEnv(t, "")
	w := doJSON(t, env.router, http.MethodPost, "/dispatch", map[string]string{"prompt": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty prompt = %d, want 400", w.Code)
	}
}

func TestDispatchEndpoint_NoEngagedTargets(t *testing.T) {
	env := newTestEnv(t, "")
	w := doJSON(t, env.router, http.MethodPost, "/dispatch", map[string]string{"prompt": "hi"})
	if w.Code != http.StatusOK {
		t.Fatalf("dispatch = %d", w.Code)
	}
	var resp DispatchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results) != 0 {
		t.Errorf("results = %+v, want none", resp.Results)
	}
	// The prompt still lands in a chat.
	if resp.ChatID == "" {
		t.Error("prompt should append to a chat even with no targets engaged")
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	env := newTestEnv(t, "secret123")

	data, _ := json.Marshal(map[string]string{"title": "authed"})
	req := httptest.NewRequest(http.MethodPost, "/chats", bytes.NewReader(data))
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	env := newTestEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	env := newTestEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	env := newTestEnv(t, "")

	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint auth tests.

// stubSSEHandler writes headers and blocks until the request context ends.
func stubSSEHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	env := newTestEnvSSE(t, "secret", stubSSEHandler())

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_AuthDisabled(t *testing.T) {
	env := newTestEnvSSE(t, "", stubSSEHandler())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE should not require auth when disabled")
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	env := newTestEnvSSE(t, "tok", stubSSEHandler())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}
