package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"qachat-backend/internal/ai"
	"qachat-backend/internal/cache"
	"qachat-backend/internal/model"
	"qachat-backend/internal/repository"
	"qachat-backend/internal/retriever"
)

const contextualizeSystemPrompt = "Given a chat history and the latest user question " +
	"which might reference context in the chat history, formulate a standalone question " +
	"which can be understood without the chat history. Do NOT answer the question, " +
	"just reformulate it if needed and otherwise return it as is."

const groundedSystemPrompt = "You are a helpful AI assistant. Use the following retrieved " +
	"context to answer the question. Do not make up facts that are not supported by the " +
	"context or your own knowledge.\n\nRetrieved context:\n%s"

const noContextSystemPrompt = "You are a helpful AI assistant. No relevant context was " +
	"found in the knowledge base for this question. Answer from your own knowledge and " +
	"tell the user that the answer is not based on their documents."

// Generator is the external streaming text-completion service. Complete is
// the single-shot form used for query reformulation.
type Generator interface {
	Complete(ctx context.Context, messages []ai.ChatMessage) (string, error)
	StreamComplete(ctx context.Context, messages []ai.ChatMessage, onChunk func(string) error) (string, error)
}

// Retriever is the external similarity-search service.
type Retriever interface {
	Retrieve(ctx context.Context, query, kbID string) ([]retriever.Fragment, error)
}

type StreamEventType string

const (
	EventToken StreamEventType = "token"
	EventError StreamEventType = "error"
	EventDone  StreamEventType = "done"
)

// StreamEvent is one unit forwarded to the caller during a streamed turn.
// Every terminal path, success or failure, ends with a done event.
type StreamEvent struct {
	Type    StreamEventType `json:"event"`
	Payload string          `json:"payload,omitempty"`
}

// ChatService drives one conversational turn end to end: commit the user
// message, assemble the grounded prompt, stream the generation and commit the
// assistant message. The chat store is the source of truth for history; the
// LRU cache in front of it is invalidated on every write in the same call
// path.
//
// Two concurrent turns on the same session id (for example a duplicate
// submit) may interleave their committed messages. Each commit is
// individually transactional, so the history stays consistent, just not
// strictly request-ordered.
type ChatService struct {
	chatRepo     *repository.ChatRepository
	historyCache *cache.HistoryCache
	generator    Generator
	retriever    Retriever
	maxContext   int
	logger       *zap.Logger
}

func NewChatService(
	chatRepo *repository.ChatRepository,
	historyCache *cache.HistoryCache,
	generator Generator,
	ret Retriever,
	maxContext int,
	logger *zap.Logger,
) *ChatService {
	if maxContext <= 0 {
		maxContext = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		chatRepo:     chatRepo,
		historyCache: historyCache,
		generator:    generator,
		retriever:    ret,
		maxContext:   maxContext,
		logger:       logger,
	}
}

// CommitUserTurn persists one user message, creating the session on demand.
func (s *ChatService) CommitUserTurn(ctx context.Context, sessionID, text string) (*model.Message, error) {
	sessionID = strings.TrimSpace(sessionID)
	text = strings.TrimSpace(text)
	if sessionID == "" || text == "" {
		return nil, ErrInvalidInput
	}

	message, err := s.chatRepo.AppendMessage(sessionID, model.RoleHuman, text)
	if err != nil {
		return nil, err
	}
	s.historyCache.Invalidate(sessionID)
	return message, nil
}

// GetHistory reads the session history through the cache, repopulating it
// from the chat store on a miss. The returned slice is trimmed to the most
// recent limit messages.
func (s *ChatService) GetHistory(sessionID string, limit int) ([]model.Message, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrInvalidInput
	}

	history, err := s.loadHistory(sessionID)
	if err != nil {
		return nil, err
	}
	return trimMessages(history, limit), nil
}

// UpdateSessionTitle reports ErrSessionNotFound when no such session exists.
func (s *ChatService) UpdateSessionTitle(sessionID, title string) error {
	sessionID = strings.TrimSpace(sessionID)
	title = strings.TrimSpace(title)
	if sessionID == "" || title == "" {
		return ErrInvalidInput
	}

	updated, err := s.chatRepo.UpdateSessionTitle(sessionID, title)
	if err != nil {
		return err
	}
	if !updated {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteSession removes the session and its messages, then drops the cache
// entry so a stale history can never be served afterwards.
func (s *ChatService) DeleteSession(sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrInvalidInput
	}

	deleted, err := s.chatRepo.DeleteSession(sessionID)
	if err != nil {
		return err
	}
	s.historyCache.Invalidate(sessionID)
	if !deleted {
		return ErrSessionNotFound
	}
	return nil
}

func (s *ChatService) ListSessions(limit, offset int) ([]model.Session, error) {
	return s.chatRepo.ListSessions(limit, offset)
}

// StreamAnswer runs one full turn: it commits the user message, assembles the
// grounded prompt, streams tokens to onEvent and commits the accumulated
// answer as the assistant message. Validation failures are returned before
// any storage mutation or event. A generator failure mid-stream emits an
// error event followed by a done event; the user message stays committed and
// no assistant message is written. The accumulated answer is committed
// exactly once, only after the stream is fully drained; a stream that drains
// without producing any text commits nothing.
func (s *ChatService) StreamAnswer(
	ctx context.Context,
	sessionID, text, kbID string,
	onEvent func(StreamEvent) error,
) error {
	sessionID = strings.TrimSpace(sessionID)
	text = strings.TrimSpace(text)
	if sessionID == "" || text == "" {
		return ErrInvalidInput
	}
	if strings.TrimSpace(kbID) == "" {
		kbID = model.DefaultKnowledgeBaseID
	}

	userMessage, err := s.chatRepo.AppendMessage(sessionID, model.RoleHuman, text)
	if err != nil {
		return err
	}
	s.historyCache.Invalidate(sessionID)

	prompt, err := s.assembleContext(ctx, sessionID, userMessage.ID, text, kbID)
	if err != nil {
		// History is required for assembly; retrieval and rewrite failures
		// degrade inside assembleContext instead of reaching here.
		s.emit(onEvent, StreamEvent{Type: EventError, Payload: err.Error()})
		s.emit(onEvent, StreamEvent{Type: EventDone})
		return err
	}

	full, err := s.generator.StreamComplete(ctx, prompt, func(chunk string) error {
		return onEvent(StreamEvent{Type: EventToken, Payload: chunk})
	})
	if err != nil {
		s.logger.Error("generation stream failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		s.emit(onEvent, StreamEvent{Type: EventError, Payload: err.Error()})
		s.emit(onEvent, StreamEvent{Type: EventDone})
		return fmt.Errorf("generation failed: %w", err)
	}

	full = strings.TrimSpace(full)
	if full == "" {
		// A drained stream that produced no tokens leaves no assistant
		// message; history never carries words the model did not emit.
		return onEvent(StreamEvent{Type: EventDone})
	}

	if _, err := s.chatRepo.AppendMessage(sessionID, model.RoleAssistant, full); err != nil {
		s.emit(onEvent, StreamEvent{Type: EventError, Payload: err.Error()})
		s.emit(onEvent, StreamEvent{Type: EventDone})
		return err
	}
	s.historyCache.Invalidate(sessionID)

	return onEvent(StreamEvent{Type: EventDone})
}

// assembleContext builds the exact prompt order the generator expects:
// system prompt, prior history oldest to newest, then the new user turn.
// excludeID drops the just-committed user message from the history block so
// the new turn appears exactly once, at the end.
func (s *ChatService) assembleContext(
	ctx context.Context,
	sessionID string,
	excludeID uint,
	text, kbID string,
) ([]ai.ChatMessage, error) {
	history, err := s.loadHistory(sessionID)
	if err != nil {
		return nil, err
	}
	prior := make([]model.Message, 0, len(history))
	for _, m := range history {
		if m.ID == excludeID {
			continue
		}
		prior = append(prior, m)
	}

	query := s.standaloneQuery(ctx, prior, text)

	var fragments []retriever.Fragment
	if s.retriever != nil {
		fragments, err = s.retriever.Retrieve(ctx, query, kbID)
		if err != nil {
			// Grounding is best effort: a failed retrieval degrades to the
			// no-context prompt instead of aborting the turn.
			s.logger.Warn("retrieval failed",
				zap.String("session_id", sessionID),
				zap.String("kb_id", kbID),
				zap.Error(err))
			fragments = nil
		}
	}

	messages := make([]ai.ChatMessage, 0, len(prior)+2)
	messages = append(messages, ai.ChatMessage{Role: "system", Content: buildSystemPrompt(fragments)})
	for _, m := range prior {
		messages = append(messages, ai.WireMessage(model.RoleOf(m.Role), m.Content))
	}
	messages = append(messages, ai.WireMessage(model.RoleHuman, text))
	return messages, nil
}

// standaloneQuery reformulates the user input into a question that stands on
// its own, using one non-streaming generator call. Any failure or an empty
// rewrite falls back to the original input; the turn is never blocked on it.
func (s *ChatService) standaloneQuery(ctx context.Context, prior []model.Message, text string) string {
	if len(prior) == 0 {
		return text
	}

	messages := make([]ai.ChatMessage, 0, len(prior)+2)
	messages = append(messages, ai.ChatMessage{Role: "system", Content: contextualizeSystemPrompt})
	for _, m := range prior {
		messages = append(messages, ai.WireMessage(model.RoleOf(m.Role), m.Content))
	}
	messages = append(messages, ai.WireMessage(model.RoleHuman, text))

	rewritten, err := s.generator.Complete(ctx, messages)
	if err != nil {
		s.logger.Warn("question rewrite failed", zap.Error(err))
		return text
	}
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return text
	}
	return rewritten
}

func buildSystemPrompt(fragments []retriever.Fragment) string {
	if len(fragments) == 0 {
		return noContextSystemPrompt
	}
	var b strings.Builder
	for i, f := range fragments {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] (score %.2f) %s", i+1, f.Score, f.Text)
	}
	return fmt.Sprintf(groundedSystemPrompt, b.String())
}

// loadHistory is the cache-fronted history read. The cache only ever holds
// what the chat store returned, so a miss after invalidation always yields
// fresh data.
func (s *ChatService) loadHistory(sessionID string) ([]model.Message, error) {
	if cached, hit := s.historyCache.Get(sessionID); hit {
		return cached, nil
	}
	messages, err := s.chatRepo.ListMessages(sessionID, s.maxContext)
	if err != nil {
		return nil, err
	}
	s.historyCache.Put(sessionID, messages)
	return messages, nil
}

// emit is a best-effort event send on failure paths: the caller may already
// be gone, in which case there is nobody left to notify.
func (s *ChatService) emit(onEvent func(StreamEvent) error, event StreamEvent) {
	if err := onEvent(event); err != nil {
		s.logger.Debug("emit stream event failed", zap.Error(err))
	}
}

func trimMessages(messages []model.Message, limit int) []model.Message {
	if limit <= 0 || limit >= len(messages) {
		return messages
	}
	return messages[len(messages)-limit:]
}
