package claim

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-triage/internal/model"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "shared"))
	require.NoError(t, err)
	return s
}

func TestFileStoreRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)

	_, found, err := s.Read(ctx, "thread:a@x")
	require.NoError(t, err)
	assert.False(t, found)

	rec := model.ClaimRecord{Key: "thread:a@x", Owner: "alice", ClaimedAt: time.Unix(100, 0).UTC(), Version: 1, Token: "t"}
	require.NoError(t, s.Write(ctx, rec))

	got, found, err := s.Read(ctx, "thread:a@x")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec, got)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.ClaimRecord{rec}, list)

	require.NoError(t, s.Remove(ctx, "thread:a@x"))
	require.NoError(t, s.Remove(ctx, "thread:a@x"), "second remove is a no-op")
	_, found, err = s.Read(ctx, "thread:a@x")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFileStoreRecordFormat(t *testing.T) {
	s := newTestFileStore(t)
	rec := model.ClaimRecord{Key: "k", Owner: "alice", ClaimedAt: time.Unix(0, 0).UTC(), Version: 3}
	require.NoError(t, s.Write(context.Background(), rec))

	data, err := os.ReadFile(s.recordPath("k"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"owner": "alice"`)
	assert.Contains(t, string(data), `"claimedAt"`)
	assert.Contains(t, string(data), `"version": 3`)
}

func TestFileStoreIntents(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)
	now := time.Now().UTC()

	intents, err := s.Intents(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, intents)

	require.NoError(t, s.WriteIntent(ctx, "k", model.ClaimIntent{Operator: "alice", Token: "a", At: now}))
	require.NoError(t, s.WriteIntent(ctx, "k", model.ClaimIntent{Operator: "bob", Token: "b", At: now}))

	intents, err = s.Intents(ctx, "k")
	require.NoError(t, err)
	assert.Len(t, intents, 2)

	require.NoError(t, s.RemoveIntent(ctx, "k", "alice"))
	intents, err = s.Intents(ctx, "k")
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, "bob", intents[0].Operator)

	require.NoError(t, s.ClearIntents(ctx, "k"))
	intents, err = s.Intents(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestIntentsOfSimilarOperatorsStayApart(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.WriteIntent(ctx, "k", model.ClaimIntent{Operator: "alice smith", Token: "a", At: now}))
	require.NoError(t, s.WriteIntent(ctx, "k", model.ClaimIntent{Operator: "alice_smith", Token: "b", At: now}))

	intents, err := s.Intents(ctx, "k")
	require.NoError(t, err)
	assert.Len(t, intents, 2)

	require.NoError(t, s.RemoveIntent(ctx, "k", "alice smith"))
	intents, err = s.Intents(ctx, "k")
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, "alice_smith", intents[0].Operator)
}

func TestFileNameDistinctAfterSanitizing(t *testing.T) {
	a := fileName("thread:a/b")
	b := fileName("thread:a_b")
	assert.NotEqual(t, a, b)
	assert.False(t, strings.ContainsAny(a, "/:"))

	long := fileName(strings.Repeat("x", 500))
	assert.LessOrEqual(t, len(long), maxNameLen+13)
}

func TestNewFileStoreRejectsEmptyDir(t *testing.T) {
	_, err := NewFileStore("")
	assert.Error(t, err)
}
