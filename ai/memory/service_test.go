package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/valet/internal/profile"
	"github.com/hrygo/valet/ports/porttest"
	"github.com/hrygo/valet/store"
	"github.com/hrygo/valet/store/db/sqlite"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	p := &profile.Profile{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "valet.db")}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	require.NoError(t, driver.Migrate(context.Background()))
	st := store.New(driver, p)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestService(t *testing.T, embedder *porttest.FakeEmbedder) (*Service, *store.Store, *porttest.FakeClock) {
	t.Helper()
	st := newTestStore(t)
	clock := porttest.NewFakeClock(time.Unix(1_700_000_000, 0))
	key, err := LoadOrCreateKey(filepath.Join(t.TempDir(), "memory.key"), true)
	require.NoError(t, err)
	return NewService(st, embedder, clock, key, Options{}), st, clock
}

func TestCrypto_RoundTrip(t *testing.T) {
	key, err := LoadOrCreateKey(filepath.Join(t.TempDir(), "memory.key"), true)
	require.NoError(t, err)

	sealed, err := encrypt([]byte("der Nutzer trinkt keinen Kaffee"), key)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "Kaffee")

	plain, err := decrypt(sealed, key)
	require.NoError(t, err)
	assert.Equal(t, "der Nutzer trinkt keinen Kaffee", string(plain))

	// Distinct nonces: sealing twice never repeats ciphertext.
	sealed2, err := encrypt([]byte("der Nutzer trinkt keinen Kaffee"), key)
	require.NoError(t, err)
	assert.NotEqual(t, sealed, sealed2)

	// Tampering is detected.
	sealed[len(sealed)-1] ^= 0xff
	_, err = decrypt(sealed, key)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestLoadOrCreateKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys", "memory.key")

	key, err := LoadOrCreateKey(path, true)
	require.NoError(t, err)
	assert.Len(t, key, 32)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// Second load returns the same key.
	again, err := LoadOrCreateKey(path, false)
	require.NoError(t, err)
	assert.Equal(t, key, again)

	// Without fresh-install a missing key is refused, not regenerated.
	_, err = LoadOrCreateKey(filepath.Join(dir, "other.key"), false)
	require.Error(t, err)
}

func TestRemember_StoresEncrypted(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newTestService(t, &porttest.FakeEmbedder{})

	id, merged, err := svc.Remember(ctx, "user-1", Input{
		Content: "prefers sparkling water",
		Summary: "drink preference",
		Type:    store.MemoryPreference,
	})
	require.NoError(t, err)
	assert.False(t, merged)

	rows, err := st.ListMemories(ctx, &store.FindMemory{ID: &id})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotContains(t, string(rows[0].Content), "sparkling")
	assert.NotContains(t, string(rows[0].Summary), "preference")
	assert.NotEmpty(t, rows[0].Vector)
}

func TestRemember_MergesNearDuplicate(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newTestService(t, &porttest.FakeEmbedder{})

	first, merged, err := svc.Remember(ctx, "user-1", Input{
		Content:    "lives in Hamburg",
		Summary:    "home city",
		Importance: 0.4,
	})
	require.NoError(t, err)
	require.False(t, merged)

	// Identical summary embeds identically, similarity 1.0 > threshold.
	second, merged, err := svc.Remember(ctx, "user-1", Input{
		Content:    "moved to Hamburg in 2024",
		Summary:    "home city",
		Importance: 0.7,
	})
	require.NoError(t, err)
	assert.True(t, merged)
	assert.Equal(t, first, second)

	rows, err := st.ListMemories(ctx, &store.FindMemory{UserID: strPtr("user-1")})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 0.7, rows[0].Importance)
	assert.Equal(t, 1, rows[0].AccessCount)
}

func TestRetrieve_ThresholdAndAccessBump(t *testing.T) {
	ctx := context.Background()
	embedder := &porttest.FakeEmbedder{Dim: 4, Vectors: map[string][]float32{
		"close":  {1, 0, 0, 0},
		"far":    {0, 1, 0, 0},
		"lookup": {0.9, 0, 0.436, 0},
	}}
	svc, st, _ := newTestService(t, embedder)

	_, _, err := svc.Remember(ctx, "user-1", Input{Content: "close fact", Summary: "close"})
	require.NoError(t, err)
	_, _, err = svc.Remember(ctx, "user-1", Input{Content: "far fact", Summary: "far"})
	require.NoError(t, err)

	got, err := svc.Retrieve(ctx, "user-1", "lookup", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "close fact", got[0].Content)
	assert.Greater(t, got[0].Similarity, 0.85)

	rows, err := st.ListMemories(ctx, &store.FindMemory{UserID: strPtr("user-1")})
	require.NoError(t, err)
	var bumped *store.Memory
	for _, m := range rows {
		if m.AccessCount == 1 {
			bumped = m
		}
	}
	require.NotNil(t, bumped)
	assert.InDelta(t, 0.52, bumped.Importance, 1e-9)
}

func TestDecayAndCleanup(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newTestService(t, &porttest.FakeEmbedder{})

	id, _, err := svc.Remember(ctx, "user-1", Input{Content: "fading fact", Summary: "fading", Importance: 0.12})
	require.NoError(t, err)

	updated, err := svc.Decay(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	rows, err := st.ListMemories(ctx, &store.FindMemory{ID: &id})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Less(t, rows[0].Importance, 0.12)

	// Cleanup only removes rows under the floor.
	deleted, err := svc.Cleanup(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)

	low := 0.05
	require.NoError(t, st.UpdateMemory(ctx, &store.UpdateMemory{ID: id, UserID: "user-1", Importance: &low}))
	deleted, err = svc.Cleanup(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestForget(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, &porttest.FakeEmbedder{})

	id, _, err := svc.Remember(ctx, "user-1", Input{Content: "temp", Summary: "temp"})
	require.NoError(t, err)

	require.NoError(t, svc.Forget(ctx, "user-1", id))
	assert.Error(t, svc.Forget(ctx, "user-1", id))
	// A different owner cannot delete.
	assert.Error(t, svc.Forget(ctx, "user-2", id))
}

func strPtr(s string) *string { return &s }
