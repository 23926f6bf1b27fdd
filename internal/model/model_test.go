package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailThreadID(t *testing.T) {
	tests := []struct {
		name  string
		email Email
		want  string
	}{
		{
			name: "root of references wins",
			email: Email{
				MessageID:  "<c@x>",
				InReplyTo:  []string{"<b@x>"},
				References: []string{"<a@x>", "<b@x>"},
			},
			want: "a@x",
		},
		{
			name:  "in-reply-to without references",
			email: Email{MessageID: "<c@x>", InReplyTo: []string{"<b@x>"}},
			want:  "b@x",
		},
		{
			name:  "own message id starts a thread",
			email: Email{MessageID: "<a@x>"},
			want:  "a@x",
		},
		{
			name:  "no identifiers means no thread",
			email: Email{Subject: "hello"},
			want:  "",
		},
		{
			name:  "blank references are skipped",
			email: Email{MessageID: "<c@x>", References: []string{"  ", "<>"}},
			want:  "c@x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.email.ThreadID())
		})
	}
}

func TestEmailSourceKeyStable(t *testing.T) {
	date := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	a := Email{From: "Ops@Example.com", Subject: "Files", Date: date}
	b := Email{From: "ops@example.com ", Subject: "Files", Date: date.In(time.FixedZone("x", 3600))}

	assert.Equal(t, a.SourceKey(), b.SourceKey())
	assert.Equal(t, "m1@x", Email{MessageID: "<m1@x>"}.SourceKey())
}

func TestFieldSet(t *testing.T) {
	var s FieldSet
	assert.False(t, s.Has(FieldJobName))

	s = s.With(FieldJobName).With(FieldMessage)
	assert.True(t, s.Has(FieldJobName))
	assert.True(t, s.Has(FieldMessage))
	assert.False(t, s.Has(FieldDocketNumber))
	assert.Equal(t, []Field{FieldJobName, FieldMessage}, s.Names())
	assert.False(t, s.Has(Field("bogus")))
}

func TestFieldsGetSet(t *testing.T) {
	var f Fields
	for _, name := range AllFields {
		require.NoError(t, f.Set(name, string(name)+"-v"))
		assert.Equal(t, string(name)+"-v", f.Get(name))
	}
	assert.Error(t, f.Set(Field("bogus"), "x"))
}

func TestNotificationClaimKey(t *testing.T) {
	assert.Equal(t, "thread:t1", (&Notification{ID: "n", ThreadID: "t1", SourceKey: "s"}).ClaimKey())
	assert.Equal(t, "mail:s", (&Notification{ID: "n", SourceKey: "s"}).ClaimKey())
	assert.Equal(t, "local:n", (&Notification{ID: "n"}).ClaimKey())
}

func TestNotificationCloneIsDeep(t *testing.T) {
	now := time.Now()
	n := Notification{
		Recipients:   []string{"a"},
		Claim:        GrabbedBy("alice", now),
		ArchiveDueAt: TimePtr(now),
	}

	c := n.Clone()
	c.Recipients[0] = "b"
	*c.Claim.GrabbedAt = now.Add(time.Hour)
	*c.ArchiveDueAt = now.Add(time.Hour)

	assert.Equal(t, "a", n.Recipients[0])
	assert.True(t, n.Claim.GrabbedAt.Equal(now))
	assert.True(t, n.ArchiveDueAt.Equal(now))
}

func TestClassificationResultValidate(t *testing.T) {
	assert.NoError(t, ClassificationResult{Category: CategoryNone, Confidence: 0}.Validate())
	assert.NoError(t, ClassificationResult{Category: CategoryFileDelivery, Confidence: 1}.Validate())
	assert.Error(t, ClassificationResult{Category: "spam", Confidence: 0.5}.Validate())
	assert.Error(t, ClassificationResult{Category: CategoryNewWorkItem, Confidence: 1.01}.Validate())
	assert.Error(t, ClassificationResult{Category: CategoryNewWorkItem, Confidence: -0.2}.Validate())
}

func TestClaimRecordStale(t *testing.T) {
	now := time.Now()
	rec := ClaimRecord{ClaimedAt: now.Add(-3 * time.Hour)}
	assert.True(t, rec.Stale(now, 2*time.Hour))
	assert.False(t, rec.Stale(now, 4*time.Hour))
	assert.False(t, rec.Stale(now, 0))
}
