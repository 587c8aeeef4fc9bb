package app

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"qachat-backend/internal/ai"
	"qachat-backend/internal/cache"
	"qachat-backend/internal/model"
	"qachat-backend/internal/repository"
	"qachat-backend/internal/retriever"
)

// stubGenerator scripts both generator calls: Complete answers query
// rewrites, StreamComplete replays tokens or fails. Every prompt is captured
// for assertions on assembly order.
type stubGenerator struct {
	rewrite     string
	rewriteErr  error
	tokens      []string
	streamErr   error
	completeGot [][]ai.ChatMessage
	streamGot   [][]ai.ChatMessage
}

func (g *stubGenerator) Complete(ctx context.Context, messages []ai.ChatMessage) (string, error) {
	g.completeGot = append(g.completeGot, messages)
	return g.rewrite, g.rewriteErr
}

func (g *stubGenerator) StreamComplete(
	ctx context.Context,
	messages []ai.ChatMessage,
	onChunk func(string) error,
) (string, error) {
	g.streamGot = append(g.streamGot, messages)
	var full string
	for _, tok := range g.tokens {
		if err := onChunk(tok); err != nil {
			return "", err
		}
		full += tok
	}
	if g.streamErr != nil {
		return "", g.streamErr
	}
	return full, nil
}

type stubRetriever struct {
	fragments []retriever.Fragment
	err       error
	queries   []string
	kbIDs     []string
}

func (r *stubRetriever) Retrieve(ctx context.Context, query, kbID string) ([]retriever.Fragment, error) {
	r.queries = append(r.queries, query)
	r.kbIDs = append(r.kbIDs, kbID)
	return r.fragments, r.err
}

type serviceFixture struct {
	service   *ChatService
	repo      *repository.ChatRepository
	cache     *cache.HistoryCache
	generator *stubGenerator
	retriever *stubRetriever
}

func newFixture(t *testing.T) *serviceFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Session{}, &model.Message{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	repo := repository.NewChatRepository(db)
	historyCache, err := cache.NewHistoryCache(8)
	require.NoError(t, err)
	generator := &stubGenerator{tokens: []string{"Hello", ", ", "world"}}
	ret := &stubRetriever{}

	return &serviceFixture{
		service:   NewChatService(repo, historyCache, generator, ret, 100, zap.NewNop()),
		repo:      repo,
		cache:     historyCache,
		generator: generator,
		retriever: ret,
	}
}

func collectEvents(events *[]StreamEvent) func(StreamEvent) error {
	return func(e StreamEvent) error {
		*events = append(*events, e)
		return nil
	}
}

func TestStreamAnswer_HappyPath(t *testing.T) {
	f := newFixture(t)

	var events []StreamEvent
	err := f.service.StreamAnswer(context.Background(), "s1", "hi there", "", collectEvents(&events))
	require.NoError(t, err)

	require.Len(t, events, 4)
	assert.Equal(t, StreamEvent{Type: EventToken, Payload: "Hello"}, events[0])
	assert.Equal(t, StreamEvent{Type: EventToken, Payload: ", "}, events[1])
	assert.Equal(t, StreamEvent{Type: EventToken, Payload: "world"}, events[2])
	assert.Equal(t, EventDone, events[3].Type)

	messages, err := f.repo.ListMessages("s1", 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, string(model.RoleHuman), messages[0].Role)
	assert.Equal(t, "hi there", messages[0].Content)
	assert.Equal(t, string(model.RoleAssistant), messages[1].Role)
	assert.Equal(t, "Hello, world", messages[1].Content)
}

func TestStreamAnswer_InvalidInputMutatesNothing(t *testing.T) {
	f := newFixture(t)

	for _, tc := range []struct{ sessionID, text string }{
		{"", "hello"},
		{"s1", ""},
		{"   ", "hello"},
		{"s1", "   "},
	} {
		var events []StreamEvent
		err := f.service.StreamAnswer(context.Background(), tc.sessionID, tc.text, "", collectEvents(&events))
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Empty(t, events, "validation failures must not emit events")
	}

	messages, err := f.repo.ListMessages("s1", 10)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestStreamAnswer_GeneratorFailureKeepsUserMessage(t *testing.T) {
	f := newFixture(t)
	f.generator.tokens = []string{"par", "tial"}
	f.generator.streamErr = errors.New("upstream reset")

	var events []StreamEvent
	err := f.service.StreamAnswer(context.Background(), "s1", "question", "", collectEvents(&events))
	require.Error(t, err)

	// Partial tokens, then an error event, always terminated by done.
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, EventError, events[len(events)-2].Type)
	assert.Contains(t, events[len(events)-2].Payload, "upstream reset")
	assert.Equal(t, EventDone, events[len(events)-1].Type)

	messages, listErr := f.repo.ListMessages("s1", 10)
	require.NoError(t, listErr)
	require.Len(t, messages, 1, "the user message stays committed, no assistant message is written")
	assert.Equal(t, string(model.RoleHuman), messages[0].Role)
}

func TestStreamAnswer_EmptyAnswerCommitsNothing(t *testing.T) {
	f := newFixture(t)
	f.generator.tokens = nil

	var events []StreamEvent
	err := f.service.StreamAnswer(context.Background(), "s1", "question", "", collectEvents(&events))
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, EventDone, events[0].Type)

	messages, err := f.repo.ListMessages("s1", 10)
	require.NoError(t, err)
	require.Len(t, messages, 1, "a zero-token answer must not be persisted")
	assert.Equal(t, string(model.RoleHuman), messages[0].Role)
}

func TestStreamAnswer_WhitespaceAnswerCommitsNothing(t *testing.T) {
	f := newFixture(t)
	f.generator.tokens = []string{"  ", "\n"}

	var events []StreamEvent
	err := f.service.StreamAnswer(context.Background(), "s1", "question", "", collectEvents(&events))
	require.NoError(t, err)
	assert.Equal(t, EventDone, events[len(events)-1].Type)

	messages, err := f.repo.ListMessages("s1", 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
}

func TestStreamAnswer_PromptAssemblyOrder(t *testing.T) {
	f := newFixture(t)

	// Seed one prior turn.
	prior := []StreamEvent{}
	require.NoError(t, f.service.StreamAnswer(context.Background(), "s1", "first question", "", collectEvents(&prior)))

	f.generator.rewrite = "standalone form of the followup"
	var events []StreamEvent
	require.NoError(t, f.service.StreamAnswer(context.Background(), "s1", "and then?", "", collectEvents(&events)))

	require.Len(t, f.generator.streamGot, 2)
	prompt := f.generator.streamGot[1]
	require.Len(t, prompt, 4, "system + two prior messages + new user turn")
	assert.Equal(t, "system", prompt[0].Role)
	assert.Equal(t, "user", prompt[1].Role)
	assert.Equal(t, "first question", prompt[1].Content)
	assert.Equal(t, "assistant", prompt[2].Role)
	assert.Equal(t, "Hello, world", prompt[2].Content)
	assert.Equal(t, "user", prompt[3].Role)
	assert.Equal(t, "and then?", prompt[3].Content)

	// The new user turn appears exactly once.
	occurrences := 0
	for _, m := range prompt {
		if m.Content == "and then?" {
			occurrences++
		}
	}
	assert.Equal(t, 1, occurrences)
}

func TestStreamAnswer_QueryRewriteFeedsRetriever(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.service.StreamAnswer(context.Background(), "s1", "first question", "", func(StreamEvent) error { return nil }))

	// The first turn has no prior history, so no rewrite call is made and the
	// retriever sees the raw input.
	assert.Empty(t, f.generator.completeGot)
	require.Len(t, f.retriever.queries, 1)
	assert.Equal(t, "first question", f.retriever.queries[0])

	f.generator.rewrite = "what does chapter two say"
	require.NoError(t, f.service.StreamAnswer(context.Background(), "s1", "what about that?", "kb-7", func(StreamEvent) error { return nil }))

	require.Len(t, f.generator.completeGot, 1)
	require.Len(t, f.retriever.queries, 2)
	assert.Equal(t, "what does chapter two say", f.retriever.queries[1])
	assert.Equal(t, "kb-7", f.retriever.kbIDs[1])
}

func TestStreamAnswer_DefaultKnowledgeBase(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.service.StreamAnswer(context.Background(), "s1", "hello", "  ", func(StreamEvent) error { return nil }))

	require.Len(t, f.retriever.kbIDs, 1)
	assert.Equal(t, model.DefaultKnowledgeBaseID, f.retriever.kbIDs[0])
}

func TestStreamAnswer_RetrieverFailureDegrades(t *testing.T) {
	f := newFixture(t)
	f.retriever.err = errors.New("search service down")

	var events []StreamEvent
	err := f.service.StreamAnswer(context.Background(), "s1", "question", "", collectEvents(&events))
	require.NoError(t, err, "retrieval failure must not abort the turn")

	require.Len(t, f.generator.streamGot, 1)
	assert.Equal(t, noContextSystemPrompt, f.generator.streamGot[0][0].Content)
}

func TestStreamAnswer_GroundedSystemPrompt(t *testing.T) {
	f := newFixture(t)
	f.retriever.fragments = []retriever.Fragment{
		{Text: "gophers burrow", Score: 0.91},
		{Text: "gophers eat roots", Score: 0.72},
	}

	require.NoError(t, f.service.StreamAnswer(context.Background(), "s1", "question", "", func(StreamEvent) error { return nil }))

	system := f.generator.streamGot[0][0].Content
	assert.Contains(t, system, "[1] (score 0.91) gophers burrow")
	assert.Contains(t, system, "[2] (score 0.72) gophers eat roots")
}

func TestStreamAnswer_RewriteFailureFallsBack(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.service.StreamAnswer(context.Background(), "s1", "first", "", func(StreamEvent) error { return nil }))

	f.generator.rewriteErr = errors.New("rewrite down")
	require.NoError(t, f.service.StreamAnswer(context.Background(), "s1", "followup", "", func(StreamEvent) error { return nil }))

	require.Len(t, f.retriever.queries, 2)
	assert.Equal(t, "followup", f.retriever.queries[1])
}

func TestCommitUserTurn(t *testing.T) {
	f := newFixture(t)

	msg, err := f.service.CommitUserTurn(context.Background(), "s1", "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)

	_, err = f.service.CommitUserTurn(context.Background(), "", "hello")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.service.CommitUserTurn(context.Background(), "s1", "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGetHistory_CacheStaysConsistent(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CommitUserTurn(context.Background(), "s1", "one")
	require.NoError(t, err)

	history, err := f.service.GetHistory("s1", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)

	// The read above populated the cache; the next write must invalidate it
	// so the follow-up read sees both messages.
	_, err = f.service.CommitUserTurn(context.Background(), "s1", "two")
	require.NoError(t, err)

	history, err = f.service.GetHistory("s1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "two", history[1].Content)
}

func TestGetHistory_Trim(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 4; i++ {
		_, err := f.service.CommitUserTurn(context.Background(), "s1", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	history, err := f.service.GetHistory("s1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "m2", history[0].Content)
	assert.Equal(t, "m3", history[1].Content)
}

func TestUpdateSessionTitle(t *testing.T) {
	f := newFixture(t)

	err := f.service.UpdateSessionTitle("ghost", "Title")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.service.CommitUserTurn(context.Background(), "s1", "hello")
	require.NoError(t, err)
	require.NoError(t, f.service.UpdateSessionTitle("s1", "Renamed"))

	err = f.service.UpdateSessionTitle("s1", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDeleteSession_DropsCache(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CommitUserTurn(context.Background(), "s1", "hello")
	require.NoError(t, err)
	_, err = f.service.GetHistory("s1", 0)
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteSession("s1"))

	_, hit := f.cache.Get("s1")
	assert.False(t, hit)

	history, err := f.service.GetHistory("s1", 0)
	require.NoError(t, err)
	assert.Empty(t, history)

	err = f.service.DeleteSession("ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
