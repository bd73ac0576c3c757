package conversation

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/valet/ai/breaker"
	"github.com/hrygo/valet/ai/cache"
	"github.com/hrygo/valet/ai/gateway"
	"github.com/hrygo/valet/ai/memory"
	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/internal/idgen"
	"github.com/hrygo/valet/internal/profile"
	"github.com/hrygo/valet/ports"
	"github.com/hrygo/valet/ports/porttest"
	"github.com/hrygo/valet/store"
	"github.com/hrygo/valet/store/db/sqlite"
)

type fixture struct {
	svc     *Service
	store   *store.Store
	clock   *porttest.FakeClock
	backend *porttest.FakeInference
}

func newFixture(t *testing.T, withMemory bool) *fixture {
	t.Helper()
	p := &profile.Profile{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "valet.db")}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	require.NoError(t, driver.Migrate(context.Background()))
	st := store.New(driver, p)
	t.Cleanup(func() { _ = st.Close() })

	clock := porttest.NewFakeClock(time.Unix(1_700_000_000, 0))
	backend := &porttest.FakeInference{}
	gw := gateway.New(backend,
		cache.NewTiered(nil, cache.Options{Clock: clock}),
		breaker.New(breaker.Options{Clock: clock}),
		gateway.DegradedConfig{}, nil)

	var mem *memory.Service
	if withMemory {
		key, err := memory.LoadOrCreateKey(filepath.Join(t.TempDir(), "memory.key"), true)
		require.NoError(t, err)
		mem = memory.NewService(st, &porttest.FakeEmbedder{}, clock, key, memory.Options{})
	}
	return &fixture{
		svc:     NewService(st, gw, mem, clock, Options{Model: "llama3.1"}),
		store:   st,
		clock:   clock,
		backend: backend,
	}
}

func TestChat_PersistsBothTurns(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.backend.Responses = []porttest.FakeResponse{{Content: "Hallo Alice!"}}

	convID, completion, err := f.svc.Chat(ctx, "alice", "", "Hallo, wie geht's?")
	require.NoError(t, err)
	assert.NotEmpty(t, convID)
	assert.Equal(t, "Hallo Alice!", completion.Content)

	messages, err := f.svc.History(ctx, "alice", convID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "Hallo, wie geht's?", messages[0].Content)
	assert.Equal(t, "assistant", messages[1].Role)
	assert.Equal(t, "Hallo Alice!", messages[1].Content)

	// The auto-created conversation is titled from the first turn.
	convs, err := f.svc.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "Hallo, wie geht's?", convs[0].Title)
}

func TestChat_HistoryFlowsIntoPrompt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.backend.Responses = []porttest.FakeResponse{{Content: "eins"}, {Content: "zwei"}}

	convID, _, err := f.svc.Chat(ctx, "alice", "", "erste Frage")
	require.NoError(t, err)
	_, _, err = f.svc.Chat(ctx, "alice", convID, "zweite Frage")
	require.NoError(t, err)

	messages, err := f.svc.History(ctx, "alice", convID)
	require.NoError(t, err)
	assert.Len(t, messages, 4)
	assert.Equal(t, 2, f.backend.Calls())
}

func TestChat_EmptyMessageRejected(t *testing.T) {
	f := newFixture(t, false)
	_, _, err := f.svc.Chat(context.Background(), "alice", "", "  ")
	require.Error(t, err)
	assert.Equal(t, errkind.Validation, errkind.KindOf(err))
}

func TestChat_OwnershipIsNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	conv, err := f.svc.Create(ctx, "alice", "privat")
	require.NoError(t, err)

	_, _, err = f.svc.Chat(ctx, "mallory", conv.ID, "hi")
	require.Error(t, err)
	assert.Equal(t, errkind.NotFound, errkind.KindOf(err))

	_, err = f.svc.History(ctx, "mallory", conv.ID)
	require.Error(t, err)
	assert.Equal(t, errkind.NotFound, errkind.KindOf(err))

	err = f.svc.Delete(ctx, "mallory", conv.ID)
	require.Error(t, err)
	assert.Equal(t, errkind.NotFound, errkind.KindOf(err))
}

func TestChat_LearnsFromUserTurn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.backend.Responses = []porttest.FakeResponse{{Content: "Verstanden."}}

	_, _, err := f.svc.Chat(ctx, "alice", "", "Ich trinke keinen Kaffee")
	require.NoError(t, err)

	userID := "alice"
	memories, err := f.store.ListMemories(ctx, &store.FindMemory{UserID: &userID})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	// Stored encrypted, never as plaintext.
	assert.NotContains(t, string(memories[0].Content), "Kaffee")
}

func drain(t *testing.T, s ports.Stream) (string, int) {
	t.Helper()
	var content string
	usageDeltas := 0
	for {
		d, err := s.Recv()
		if err == io.EOF {
			return content, usageDeltas
		}
		require.NoError(t, err)
		content += d.Content
		if d.Usage != nil {
			usageDeltas++
		}
	}
}

func TestChatStream_PersistsOnCompletion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.backend.Responses = []porttest.FakeResponse{{Content: "gestreamte Antwort"}}

	convID, stream, err := f.svc.ChatStream(ctx, "alice", "", "streame bitte")
	require.NoError(t, err)
	content, usageDeltas := drain(t, stream)
	require.NoError(t, stream.Close())
	assert.Equal(t, "gestreamte Antwort", content)
	assert.Equal(t, 1, usageDeltas)

	messages, err := f.svc.History(ctx, "alice", convID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "gestreamte Antwort", messages[1].Content)
}

func TestHistoryBound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	conv, err := f.svc.Create(ctx, "alice", "lang")
	require.NoError(t, err)
	for i := 0; i < store.MaxHistory+10; i++ {
		require.NoError(t, f.store.AppendMessage(ctx, &store.Message{
			ID:             idgen.New(),
			ConversationID: conv.ID,
			Role:           "user",
			Content:        "x",
			CreatedTs:      int64(i),
		}))
	}

	messages, err := f.svc.History(ctx, "alice", conv.ID)
	require.NoError(t, err)
	assert.Len(t, messages, store.MaxHistory)
}
