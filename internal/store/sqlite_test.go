package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/store"
	"github.com/nhle/mail-triage/internal/testutil"
)

var now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func sample() model.Notification {
	return model.Notification{
		ID:           "n1",
		ThreadID:     "<root@mail>",
		SourceKey:    "<m1@mail>",
		Kind:         model.KindNewWorkItem,
		Status:       model.StatusPending,
		NeedsReview:  true,
		Confidence:   0.55,
		Reasoning:    "looks like a new job",
		Subject:      "New spot: Acme",
		Sender:       "producer@acme.test",
		Recipients:   []string{"desk@studio.test", "ops@studio.test"},
		BodySnapshot: "please cut a 30s",
		EmailCount:   1,
		Fields:       model.Fields{DocketNumber: "D-100", JobName: "Acme Spring"},
		Original:     model.Fields{DocketNumber: "D-100", JobName: "Acme"},
		Edited:       model.FieldSet(0).With(model.FieldJobName),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestMigrationsApplied(t *testing.T) {
	s := testutil.NewTestStore(t)

	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestMigrationsIdempotentOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triage.db")

	s, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveNotification(context.Background(), sample()))
	require.NoError(t, s.Close())

	s, err = store.NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.LoadNotifications(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSaveAndGetNotification(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	n := sample()

	require.NoError(t, s.SaveNotification(ctx, n))

	got, err := s.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, n, *got)
}

func TestSaveNotificationUpdatesInPlace(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	n := sample()
	require.NoError(t, s.SaveNotification(ctx, n))

	n.Status = model.StatusApproved
	n.Claim = model.GrabbedBy("alice", now.Add(time.Minute))
	n.JobID = "job-1"
	n.JobDeadline = model.TimePtr(now.Add(30 * time.Minute))
	n.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, s.SaveNotification(ctx, n))

	all, err := s.LoadNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	got := all[0]
	assert.Equal(t, model.StatusApproved, got.Status)
	assert.True(t, got.Claim.HeldBy("alice"))
	require.NotNil(t, got.Claim.GrabbedAt)
	assert.True(t, now.Add(time.Minute).Equal(*got.Claim.GrabbedAt))
	assert.Equal(t, "job-1", got.JobID)
	require.NotNil(t, got.JobDeadline)
	assert.Equal(t, now, got.CreatedAt, "created_at is never rewritten")
}

func TestGetNotificationNotFound(t *testing.T) {
	s := testutil.NewTestStore(t)

	_, err := s.GetNotification(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLoadNotificationsNewestFirst(t *testing.T) {
	older := sample()
	newer := sample()
	newer.ID = "n2"
	newer.ThreadID = "<other@mail>"
	newer.UpdatedAt = now.Add(time.Hour)

	s := testutil.NewSeededStore(t, older, newer)

	all, err := s.LoadNotifications(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "n2", all[0].ID)
	assert.Equal(t, "n1", all[1].ID)
}

func TestEmptyRecipientsRoundTripAsNil(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	n := sample()
	n.Recipients = nil

	require.NoError(t, s.SaveNotification(ctx, n))
	got, err := s.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Recipients)
}

func TestEventsRecordedWithSave(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	n := sample()

	require.NoError(t, s.SaveNotification(ctx, n, model.AuditEvent{
		Type: model.EventCreated,
		At:   now,
	}))
	require.NoError(t, s.SaveNotification(ctx, n,
		model.AuditEvent{Type: model.EventClaimed, Operator: "alice", At: now.Add(time.Minute)},
		model.AuditEvent{Type: model.EventApproved, Operator: "alice", Detail: "job-1", At: now.Add(time.Minute)},
	))

	events, err := s.ListEvents(ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, model.EventCreated, events[0].Type)
	assert.Equal(t, n.ID, events[0].NotificationID)
	assert.Equal(t, model.EventClaimed, events[1].Type)
	assert.Equal(t, "alice", events[1].Operator)
	assert.Equal(t, model.EventApproved, events[2].Type)
	assert.Equal(t, "job-1", events[2].Detail)
}

func TestEventsRequireNotification(t *testing.T) {
	s := testutil.NewTestStore(t)

	err := s.SaveNotification(context.Background(), sample(), model.AuditEvent{
		NotificationID: "ghost",
		Type:           model.EventEdited,
		At:             now,
	})
	require.Error(t, err)

	// The failed transaction leaves nothing behind.
	all, err := s.LoadNotifications(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCursor(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	validity, uid, err := s.LoadCursor(ctx, "INBOX")
	require.NoError(t, err)
	assert.Zero(t, validity, "unknown mailbox starts at zero")
	assert.Zero(t, uid)

	require.NoError(t, s.SaveCursor(ctx, "INBOX", 7, 42))
	require.NoError(t, s.SaveCursor(ctx, "INBOX", 7, 50))
	require.NoError(t, s.SaveCursor(ctx, "Archive", 9, 3))

	validity, uid, err = s.LoadCursor(ctx, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(7), validity)
	assert.Equal(t, uint32(50), uid)
}
