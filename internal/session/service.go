// Package session exposes the command set consumed by the UI-facing
// surfaces: chat CRUD, target engagement, the aggregate toggle, and prompt
// dispatch. It coordinates the chat store, target registry, and dispatch
// coordinator, and publishes change events to the SSE broker.
package session

import (
	"context"
	"log/slog"

	"github.com/starford/fanout/internal/chat"
	"github.com/starford/fanout/internal/dispatch"
	"github.com/starford/fanout/internal/sse"
	"github.com/starford/fanout/internal/target"
)

// Service is the command facade. All fields are required except broker,
// which may be nil when no event stream is wired (tests).
type Service struct {
	store  *chat.Store
	reg    *target.Registry
	coord  *dispatch.Coordinator
	broker *sse.Broker
	logger *slog.Logger
}

// NewService creates the command facade.
func NewService(store *chat.Store, reg *target.Registry, coord *dispatch.Coordinator, broker *sse.Broker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, reg: reg, coord: coord, broker: broker, logger: logger}
}

// SubmitResult is the outcome of one prompt submission: the chat the
// prompt was appended to, the appended message, and one dispatch result
// per engaged target.
type SubmitResult struct {
	ChatID  string            `json:"chatId"`
	Message chat.Message      `json:"message"`
	Results []dispatch.Result `json:"results"`
}

// Dispatch appends the prompt to the active chat (creating one lazily when
// none is active), persists it, and fans it out to every engaged target.
// Per-target failures are part of the result, never an error; the chat
// append is not rolled back on delivery failure.
func (s *Service) Dispatch(ctx context.Context, prompt string) (SubmitResult, error) {
	msg, chatID, err := s.store.AddMessage(ctx, s.store.ActiveChatID(), prompt)
	if err != nil {
		return SubmitResult{}, err
	}
	s.publishChat("updated", chatID)

	engaged := s.reg.EngagedTargets()
	results := s.coord.Dispatch(ctx, prompt, engaged)
	if s.broker != nil {
		s.broker.PublishDispatchResults(chatID, results)
	}
	return SubmitResult{ChatID: chatID, Message: msg, Results: results}, nil
}

// CreateChat creates a chat and makes it active.
func (s *Service) CreateChat(ctx context.Context, title string) chat.Chat {
	c := s.store.CreateChat(ctx, title)
	s.publishChat("created", c.ID)
	return c
}

// AddMessage appends a message to the given chat (empty id creates one).
func (s *Service) AddMessage(ctx context.Context, chatID, text string) (chat.Message, string, error) {
	msg, id, err := s.store.AddMessage(ctx, chatID, text)
	if err != nil {
		return chat.Message{}, "", err
	}
	kind := "updated"
	if chatID == "" {
		kind = "created"
	}
	s.publishChat(kind, id)
	return msg, id, nil
}

// UpdateMessage edits a message's text.
func (s *Service) UpdateMessage(ctx context.Context, chatID, messageID, newText string) bool {
	ok := s.store.UpdateMessage(ctx, chatID, messageID, newText)
	if ok {
		s.publishChat("updated", chatID)
	}
	return ok
}

// DeleteMessage removes a message.
func (s *Service) DeleteMessage(ctx context.Context, chatID, messageID string) bool {
	ok := s.store.DeleteMessage(ctx, chatID, messageID)
	if ok {
		s.publishChat("updated", chatID)
	}
	return ok
}

// UpdateChatTitle renames a chat.
func (s *Service) UpdateChatTitle(ctx context.Context, chatID, newTitle string) {
	s.store.UpdateChatTitle(ctx, chatID, newTitle)
	s.publishChat("updated", chatID)
}

// DeleteChat removes a chat from the store and, through the flush, from
// both persistence tiers.
func (s *Service) DeleteChat(ctx context.Context, chatID string) bool {
	ok := s.store.DeleteChat(ctx, chatID)
	if ok {
		s.publishChat("deleted", chatID)
	}
	return ok
}

// SwitchChat changes the active chat.
func (s *Service) SwitchChat(ctx context.Context, chatID string) *chat.Chat {
	return s.store.SwitchChat(ctx, chatID)
}

// GetChat returns one chat.
func (s *Service) GetChat(chatID string) (chat.Chat, error) {
	return s.store.GetChat(chatID)
}

// GetAllChatsOrdered lists chats, most recently modified first.
func (s *Service) GetAllChatsOrdered() []chat.Chat {
	return s.store.GetAllChatsOrdered()
}

// ActiveChatID returns the active chat id, or "" when none.
func (s *Service) ActiveChatID() string {
	return s.store.ActiveChatID()
}

// TargetStates reports the aggregate state and per-target engaged flags.
func (s *Service) TargetStates() (target.State, map[string]bool) {
	return s.reg.Aggregate(), s.reg.States()
}

// Targets lists the enabled targets in configured order.
func (s *Service) Targets() []target.Target {
	return s.reg.Targets()
}

// EngageTarget drives one target to the engaged state.
func (s *Service) EngageTarget(ctx context.Context, targetID string) error {
	err := s.reg.Engage(ctx, targetID)
	s.publishTargets()
	return err
}

// DisengageTarget drives one target to the disengaged state.
func (s *Service) DisengageTarget(ctx context.Context, targetID string) error {
	err := s.reg.Disengage(ctx, targetID)
	s.publishTargets()
	return err
}

// ToggleAggregate drives all targets to a uniform state and returns the
// resulting aggregate.
func (s *Service) ToggleAggregate(ctx context.Context) (target.State, error) {
	state, err := s.reg.Toggle(ctx)
	s.publishTargets()
	return state, err
}

// PublishTargetState pushes the current target state to event stream
// subscribers. The surface event pump calls this after re-derivation.
func (s *Service) PublishTargetState() {
	s.publishTargets()
}

func (s *Service) publishChat(kind, chatID string) {
	if s.broker != nil {
		s.broker.PublishChatEvent(kind, chatID)
	}
}

func (s *Service) publishTargets() {
	if s.broker == nil {
		return
	}
	agg, states := s.reg.Aggregate(), s.reg.States()
	s.broker.PublishTargetState(string(agg), states)
}
