package dedup

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-triage/internal/gate"
	"github.com/nhle/mail-triage/internal/model"
)

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newTestPlanner(policy LateEmailPolicy) *Planner {
	n := 0
	return NewPlanner(policy,
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("n%d", n)
		}),
	)
}

func result(thread string, confidence float64) model.ClassificationResult {
	return model.ClassificationResult{
		Category:   model.CategoryNewWorkItem,
		Confidence: confidence,
		ThreadID:   thread,
		SourceKey:  thread + "-mail",
		Subject:    "New spot: Acme",
		Body:       "please cut a 30s",
		Extracted: model.Fields{
			DocketNumber: "D-100",
			JobName:      "Acme Spring",
		},
	}
}

func pending(thread string) *model.Notification {
	return &model.Notification{
		ID:         "existing",
		ThreadID:   thread,
		Kind:       model.KindNewWorkItem,
		Status:     model.StatusPending,
		EmailCount: 1,
		Fields:     model.Fields{DocketNumber: "D-1", JobName: "Old"},
		Original:   model.Fields{DocketNumber: "D-1", JobName: "Old"},
		Claim:      model.GrabbedBy("alice", fixedNow.Add(-time.Minute)),
	}
}

func TestPlanSkipsWhenGateRejects(t *testing.T) {
	p := newTestPlanner(LateEmailInfo)
	plan := p.Plan(result("t1", 0.9), gate.Decision{Create: false}, nil)
	assert.Equal(t, ActionSkip, plan.Action)
	assert.Nil(t, plan.Notification)
}

func TestPlanSkipsUnknownCategory(t *testing.T) {
	p := newTestPlanner(LateEmailInfo)
	r := result("t1", 0.9)
	r.Category = model.Category("")

	plan := p.Plan(r, gate.Decision{Create: true}, nil)
	assert.Equal(t, ActionSkip, plan.Action)
	assert.Nil(t, plan.Notification)
}

func TestPlanCreate(t *testing.T) {
	p := newTestPlanner(LateEmailInfo)
	r := result("t1", 0.4)

	plan := p.Plan(r, gate.Evaluate(r, gate.DefaultPolicy()), nil)
	require.Equal(t, ActionCreate, plan.Action)
	n := plan.Notification
	require.NotNil(t, n)

	assert.Equal(t, "n1", n.ID)
	assert.Equal(t, "t1", n.ThreadID)
	assert.Equal(t, model.KindNewWorkItem, n.Kind)
	assert.Equal(t, model.StatusPending, n.Status)
	assert.True(t, n.NeedsReview)
	assert.Equal(t, r.Extracted, n.Fields)
	assert.Equal(t, r.Extracted, n.Original)
	assert.False(t, n.Claim.IsGrabbed)
	assert.Equal(t, fixedNow, n.CreatedAt)
}

func TestPlanEmptyThreadAlwaysCreates(t *testing.T) {
	p := newTestPlanner(LateEmailInfo)
	r := result("", 0.9)

	plan := p.Plan(r, gate.Decision{Create: true}, pending(""))
	assert.Equal(t, ActionCreate, plan.Action)
}

func TestPlanMergePreservesEditsAndClaim(t *testing.T) {
	p := newTestPlanner(LateEmailInfo)
	match := pending("t1")
	match.Fields.JobName = "Operator Name"
	match.Edited = match.Edited.With(model.FieldJobName)

	r := result("t1", 0.85)
	plan := p.Plan(r, gate.Decision{Create: true}, match)

	require.Equal(t, ActionMerge, plan.Action)
	m := plan.Notification
	assert.Equal(t, "existing", m.ID)
	assert.Equal(t, "Operator Name", m.Fields.JobName, "edited field kept")
	assert.Equal(t, "D-100", m.Fields.DocketNumber, "unedited field follows classifier")
	assert.Equal(t, match.Original, m.Original, "original snapshot keeps creation values")
	assert.Equal(t, "please cut a 30s", m.BodySnapshot)
	assert.Equal(t, 2, m.EmailCount)
	assert.Equal(t, match.Claim.GrabbedBy, m.Claim.GrabbedBy)
	assert.True(t, m.Claim.IsGrabbed)

	// The match itself is not mutated.
	assert.Equal(t, 1, match.EmailCount)
	assert.Equal(t, "D-1", match.Fields.DocketNumber)
}

func TestPlanMergeKeepsValuesWhenExtractionEmpty(t *testing.T) {
	p := newTestPlanner(LateEmailInfo)
	r := result("t1", 0.9)
	r.Extracted = model.Fields{}
	r.Body = ""

	plan := p.Plan(r, gate.Decision{Create: true}, pending("t1"))
	require.Equal(t, ActionMerge, plan.Action)
	assert.Equal(t, "D-1", plan.Notification.Fields.DocketNumber)
}

func TestPlanMergeKeepsOriginalSnapshot(t *testing.T) {
	p := newTestPlanner(LateEmailInfo)
	r := result("t1", 0.9)
	r.Extracted = model.Fields{DocketNumber: "D-2", JobName: "Newer"}

	plan := p.Plan(r, gate.Decision{Create: true}, pending("t1"))
	require.Equal(t, ActionMerge, plan.Action)
	assert.Equal(t, "D-2", plan.Notification.Fields.DocketNumber)
	assert.Equal(t, model.Fields{DocketNumber: "D-1", JobName: "Old"}, plan.Notification.Original)
}

func TestPlanLateEmail(t *testing.T) {
	resolved := []model.NotificationStatus{
		model.StatusApproved,
		model.StatusDismissed,
		model.StatusCompleted,
	}

	for _, status := range resolved {
		t.Run(string(status)+"/info", func(t *testing.T) {
			match := pending("t1")
			match.Status = status

			plan := newTestPlanner(LateEmailInfo).Plan(result("t1", 0.9), gate.Decision{Create: true}, match)

			require.Equal(t, ActionLateEmail, plan.Action)
			require.NotNil(t, plan.Notification)
			info := plan.Notification
			assert.Equal(t, model.KindInfo, info.Kind)
			assert.Equal(t, "existing", info.RelatedID)
			assert.Empty(t, info.ThreadID)
			assert.False(t, plan.Reopen)
			assert.Equal(t, status, match.Status, "match untouched")
		})

		t.Run(string(status)+"/ignore", func(t *testing.T) {
			match := pending("t1")
			match.Status = status

			plan := newTestPlanner(LateEmailIgnore).Plan(result("t1", 0.9), gate.Decision{Create: true}, match)
			assert.Equal(t, ActionLateEmail, plan.Action)
			assert.Nil(t, plan.Notification)
		})
	}
}

func TestPlanLateEmailReopen(t *testing.T) {
	p := newTestPlanner(LateEmailReopen)

	dismissed := pending("t1")
	dismissed.Status = model.StatusDismissed
	plan := p.Plan(result("t1", 0.9), gate.Decision{Create: true}, dismissed)
	assert.True(t, plan.Reopen)
	require.NotNil(t, plan.Notification)
	assert.Equal(t, "existing", plan.Notification.ID)

	approved := pending("t1")
	approved.Status = model.StatusApproved
	plan = p.Plan(result("t1", 0.9), gate.Decision{Create: true}, approved)
	assert.False(t, plan.Reopen, "running jobs are never reopened")
	require.NotNil(t, plan.Notification)
	assert.Equal(t, model.KindInfo, plan.Notification.Kind)
}

func TestPlanArchivedMatchCreates(t *testing.T) {
	match := pending("t1")
	match.ArchivedAt = model.TimePtr(fixedNow)

	plan := newTestPlanner(LateEmailInfo).Plan(result("t1", 0.9), gate.Decision{Create: true}, match)
	assert.Equal(t, ActionCreate, plan.Action)
}

func TestParseLateEmailPolicy(t *testing.T) {
	p, err := ParseLateEmailPolicy("")
	require.NoError(t, err)
	assert.Equal(t, LateEmailInfo, p)

	p, err = ParseLateEmailPolicy("reopen")
	require.NoError(t, err)
	assert.Equal(t, LateEmailReopen, p)

	_, err = ParseLateEmailPolicy("loud")
	assert.Error(t, err)
}
