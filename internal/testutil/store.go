// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/store"
)

// NewTestStore opens a migrated in-memory database that is closed when the
// test ends.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err, "opening in-memory store")
	t.Cleanup(func() {
		require.NoError(t, s.Close(), "closing in-memory store")
	})
	return s
}

// NewSeededStore is NewTestStore with ns already saved, in order.
func NewSeededStore(t *testing.T, ns ...model.Notification) *store.SQLiteStore {
	t.Helper()

	s := NewTestStore(t)
	for _, n := range ns {
		require.NoError(t, s.SaveNotification(context.Background(), n), "seeding %s", n.ID)
	}
	return s
}
