package api

import (
	"github.com/starford/fanout/internal/chat"
	"github.com/starford/fanout/internal/dispatch"
	"github.com/starford/fanout/internal/session"
)

// CreateChatRequest is the request body for creating a chat.
type CreateChatRequest struct {
	Title string `json:"title" example:"Research ideas"`
}

// AddMessageRequest is the request body for appending a message.
type AddMessageRequest struct {
	Text string `json:"text" example:"hello" validate:"required"`
}

// UpdateMessageRequest is the request body for editing a message.
type UpdateMessageRequest struct {
	Text string `json:"text" example:"hi" validate:"required"`
}

// UpdateTitleRequest is the request body for renaming a chat.
type UpdateTitleRequest struct {
	Title string `json:"title" example:"Renamed chat" validate:"required"`
}

// DispatchRequest is the request body for submitting a prompt.
type DispatchRequest struct {
	Prompt string `json:"prompt" example:"Summarize this" validate:"required"`
}

// Chat is the chat response type (aliased from the domain layer).
type Chat = chat.Chat

// ChatListResponse wraps the ordered chat listing.
type ChatListResponse struct {
	Chats        []Chat `json:"chats" validate:"required"`
	ActiveChatID string `json:"activeChatId"`
	Total        int    `json:"total" example:"3" validate:"required"`
}

// TargetStatus is one target's configuration and engaged flag.
type TargetStatus struct {
	ID      string `json:"id" example:"claude" validate:"required"`
	Engaged bool   `json:"engaged" validate:"required"`
}

// TargetsResponse wraps the target listing with the derived aggregate.
type TargetsResponse struct {
	Aggregate string         `json:"aggregate" example:"mixed" validate:"required"`
	Targets   []TargetStatus `json:"targets" validate:"required"`
}

// ToggleResponse reports the aggregate state after a toggle sweep.
type ToggleResponse struct {
	Aggregate string `json:"aggregate" example:"all_engaged" validate:"required"`
}

// DispatchResponse is the submission outcome (aliased from the domain layer).
type DispatchResponse = session.SubmitResult

// DispatchResult is one target's outcome (aliased from the domain layer).
type DispatchResult = dispatch.Result
