package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/fanout/internal/chat"
	"github.com/starford/fanout/internal/dispatch"
	"github.com/starford/fanout/internal/session"
	"github.com/starford/fanout/internal/target"
	"github.com/starford/fanout/internal/testutil"
)

// stubHost is an in-memory surface host.
type stubHost struct {
	mu       sync.Mutex
	surfaces []target.Surface
	nextID   int
	events   chan target.Event
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

type okAdapter struct{}

func (okAdapter) Deliver(context.Context, string, string, target.Surface) error { return nil }

func testServer(t *testing.T) (*Server, *session.Service) {
	t.Helper()
	logger := testutil.Logger()

	store := chat.NewStore(nil, nil, logger)
	targets := []target.Target{
		{ID: "alpha", MatchQuery: "alpha.example", CreationLocator: "https://alpha.example/chat", Adapter: "ok", Enabled: true},
	}
	reg := target.NewRegistry(&stubHost{events: make(chan target.Event, 8)}, targets, 0, logger)
	coord := dispatch.NewCoordinator(reg, map[string]dispatch.Adapter{"ok": okAdapter{}}, logger)
	svc := session.NewService(store, reg, coord, nil, logger)

	return New(svc), svc
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct call-tool test helper, so invoke the handler
	// functions directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_chats":
		result, err = srv.listChats(ctx, req)
	case "read_chat":
		result, err = srv.readChat(ctx, req)
	case "create_chat":
		result, err = srv.createChat(ctx, req)
	case "add_message":
		result, err = srv.addMessage(ctx, req)
	case "switch_chat":
		result, err = srv.switchChat(ctx, req)
	case "delete_chat":
		result, err = srv.deleteChat(ctx, req)
	case "list_targets":
		result, err = srv.listTargets(ctx, req)
	case "toggle_targets":
		result, err = srv.toggleTargets(ctx, req)
	case "dispatch_prompt":
		result, err = srv.dispatchPrompt(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestCreateAndListChats(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "list_chats", map[string]interface{}{})
	if resultText(r) != "no chats" {
		t.Errorf("empty list = %q", resultText(r))
	}

	r = callTool(t, srv, "create_chat", map[string]interface{}{"title": "notes"})
	if !strings.HasPrefix(resultText(r), "created: notes") {
		t.Errorf("create result = %q", resultText(r))
	}

	r = callTool(t, srv, "list_chats", map[string]interface{}{})
	if !strings.Contains(resultText(r), "notes") {
		t.Errorf("list = %q", resultText(r))
	}
}

func TestAddMessageAndReadChat(t *testing.T) {
	srv, svc := testServer(t)

	r := callTool(t, srv, "add_message", map[string]interface{}{"text": "hello"})
	text := resultText(r)
	if !strings.Contains(text, "added message") {
		t.Fatalf("add result = %q", text)
	}

	chatID := svc.ActiveChatID()
	if chatID == "" {
		t.Fatal("implicit chat should be active")
	}

	r = callTool(t, srv, "read_chat", map[string]interface{}{"chat_id": chatID})
	if !strings.Contains(resultText(r), `"hello"`) {
		t.Errorf("read = %q", resultText(r))
	}
}

func TestReadChatMissing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "read_chat", map[string]interface{}{"chat_id": "nope"})
	if !r.IsError {
		t.Error("expected error for missing chat")
	}
}

func TestSwitchAndDeleteChat(t *testing.T) {
	srv, svc := testServer(t)

	c1 := svc.CreateChat(context.Background(), "first")
	svc.CreateChat(context.Background(), "second")

	r := callTool(t, srv, "switch_chat", map[string]interface{}{"chat_id": c1.ID})
	if !strings.Contains(resultText(r), "first") {
		t.Errorf("switch = %q", resultText(r))
	}
	if svc.ActiveChatID() != c1.ID {
		t.Errorf("active = %q", svc.ActiveChatID())
	}

	r = callTool(t, srv, "delete_chat", map[string]interface{}{"chat_id": c1.ID})
	if r.IsError {
		t.Fatalf("delete error: %q", resultText(r))
	}
	r = callTool(t, srv, "delete_chat", map[string]interface{}{"chat_id": c1.ID})
	if !r.IsError {
		t.Error("expected error deleting twice")
	}
}

func TestListAndToggleTargets(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "list_targets", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, "aggregate: all_disengaged") || !strings.Contains(text, "alpha\tdisengaged") {
		t.Errorf("list = %q", text)
	}

	r = callTool(t, srv, "toggle_targets", map[string]interface{}{})
	if resultText(r) != "aggregate: all_engaged" {
		t.Errorf("toggle = %q", resultText(r))
	}

	r = callTool(t, srv, "list_targets", map[string]interface{}{})
	if !strings.Contains(resultText(r), "alpha\tengaged") {
		t.Errorf("list after toggle = %q", resultText(r))
	}
}

func TestDispatchPrompt(t *testing.T) {
	srv, _ := testServer(t)

	callTool(t, srv, "toggle_targets", map[string]interface{}{})

	r := callTool(t, srv, "dispatch_prompt", map[string]interface{}{"prompt": "summarize"})
	text := resultText(r)
	if r.IsError {
		t.Fatalf("dispatch error: %q", text)
	}
	if !strings.Contains(text, `"delivered"`) || !strings.Contains(text, `"alpha"`) {
		t.Errorf("dispatch = %q", text)
	}
}

func TestDispatchPromptMissingArg(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "dispatch_prompt", map[string]interface{}{})
	if !r.IsError {
		t.Error("expected error for missing prompt")
	}
}
