// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the chat and dispatch commands for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/fanout/internal/session"
)

// Server wraps the MCP server with the fan-out command tools.
type Server struct {
	mcp *server.MCPServer
	svc *session.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *session.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Fanout",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_chats",
		mcp.WithDescription("List all chats, most recently modified first."),
	), s.listChats)

	s.mcp.AddTool(mcp.NewTool("read_chat",
		mcp.WithDescription("Read a chat and its messages in append order."),
		mcp.WithString("chat_id", mcp.Required(), mcp.Description("Chat identifier")),
	), s.readChat)

	s.mcp.AddTool(mcp.NewTool("create_chat",
		mcp.WithDescription("Create a new chat and make it the active chat."),
		mcp.WithString("title", mcp.Description("Optional title; defaults to Chat N")),
	), s.createChat)

	s.mcp.AddTool(mcp.NewTool("add_message",
		mcp.WithDescription("Append a message to a chat. Omit chat_id to create a chat implicitly."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Message text")),
		mcp.WithString("chat_id", mcp.Description("Chat identifier (empty creates one)")),
	), s.addMessage)

	s.mcp.AddTool(mcp.NewTool("switch_chat",
		mcp.WithDescription("Set the active chat."),
		mcp.WithString("chat_id", mcp.Required(), mcp.Description("Chat identifier")),
	), s.switchChat)

	s.mcp.AddTool(mcp.NewTool("delete_chat",
		mcp.WithDescription("Delete a chat from the store and both persistence tiers."),
		mcp.WithString("chat_id", mcp.Required(), mcp.Description("Chat identifier")),
	), s.deleteChat)

	s.mcp.AddTool(mcp.NewTool("list_targets",
		mcp.WithDescription("List dispatch targets with engaged flags and the aggregate state."),
	), s.listTargets)

	s.mcp.AddTool(mcp.NewTool("toggle_targets",
		mcp.WithDescription("Drive all targets to a uniform engaged/disengaged state."),
	), s.toggleTargets)

	s.mcp.AddTool(mcp.NewTool("dispatch_prompt",
		mcp.WithDescription("Append a prompt to the active chat and deliver it to every engaged target. "+
			"Returns one outcome per target; failed targets do not block the rest."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("Prompt text to dispatch")),
	), s.dispatchPrompt)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listChats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chats := s.svc.GetAllChatsOrdered()
	if len(chats) == 0 {
		return mcp.NewToolResultText("no chats"), nil
	}
	var b strings.Builder
	for _, c := range chats {
		fmt.Fprintf(&b, "%s\t%s\t%d messages\n", c.ID, c.Title, len(c.Messages))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) readChat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chatID, err := req.RequireString("chat_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	c, err := s.svc.GetChat(chatID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", chatID)), nil
	}
	out, _ := json.MarshalIndent(c, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) createChat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title := ""
	if v, err := req.RequireString("title"); err == nil {
		title = v
	}
	c := s.svc.CreateChat(ctx, title)
	return mcp.NewToolResultText(fmt.Sprintf("created: %s (%s)", c.Title, c.ID)), nil
}

func (s *Server) addMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	chatID := ""
	if v, err := req.RequireString("chat_id"); err == nil {
		chatID = v
	}
	msg, id, err := s.svc.AddMessage(ctx, chatID, text)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("added message %s to chat %s", msg.ID, id)), nil
}

func (s *Server) switchChat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chatID, err := req.RequireString("chat_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	c := s.svc.SwitchChat(ctx, chatID)
	if c == nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", chatID)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("active chat: %s (%s)", c.Title, c.ID)), nil
}

func (s *Server) deleteChat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chatID, err := req.RequireString("chat_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !s.svc.DeleteChat(ctx, chatID) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", chatID)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", chatID)), nil
}

func (s *Server) listTargets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	aggregate, states := s.svc.TargetStates()
	var b strings.Builder
	fmt.Fprintf(&b, "aggregate: %s\n", aggregate)
	for _, t := range s.svc.Targets() {
		state := "disengaged"
		if states[t.ID] {
			state = "engaged"
		}
		fmt.Fprintf(&b, "%s\t%s\n", t.ID, state)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) toggleTargets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state, err := s.svc.ToggleAggregate(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("aggregate: %s", state)), nil
}

func (s *Server) dispatchPrompt(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := req.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Dispatch(ctx, prompt)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(res, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
