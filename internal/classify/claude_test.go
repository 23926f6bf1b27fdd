package classify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-triage/internal/model"
)

var testEmail = model.Email{
	MessageID:  "<m2@acme.test>",
	References: []string{"<m1@acme.test>"},
	Subject:    "Re: New spot",
	From:       "producer@acme.test",
	To:         []string{"desk@studio.test"},
	Date:       time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	Body:       "Docket 24-117, please open the job.",
}

func answer(t *testing.T, text string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))

		var req apiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 1)
		assert.Contains(t, req.Messages[0].Content[0].Text, "Docket 24-117")

		_ = json.NewEncoder(w).Encode(apiResponse{
			Content: []apiContentBlock{{Type: "text", Text: text}},
		})
	}
}

func newTestClaude(url string, timeout time.Duration) *Claude {
	return NewClaude("test-key", model.ClassifierConfig{
		Model:   "test-model",
		BaseURL: url,
		Timeout: timeout,
	})
}

func TestClaudeClassify(t *testing.T) {
	srv := httptest.NewServer(answer(t, "Here you go:\n```json\n"+
		`{"category":"new_work_item","confidence":0.82,"reasoning":"asks to open a job",`+
		`"fields":{"docket_number":"24-117","job_name":"Spring"}}`+"\n```"))
	defer srv.Close()

	r, err := newTestClaude(srv.URL, time.Second).Classify(context.Background(), testEmail)
	require.NoError(t, err)

	assert.Equal(t, model.CategoryNewWorkItem, r.Category)
	assert.InDelta(t, 0.82, r.Confidence, 1e-9)
	assert.Equal(t, "asks to open a job", r.Reasoning)
	assert.Equal(t, "m1@acme.test", r.ThreadID)
	assert.Equal(t, "m2@acme.test", r.SourceKey)
	assert.Equal(t, "producer@acme.test", r.Sender)
	assert.Equal(t, "24-117", r.Extracted.DocketNumber)
	assert.Equal(t, testEmail.Date, r.ReceivedAt)
}

func TestClaudeClassifyMalformed(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "no json", text: "I think this is a new job."},
		{name: "broken json", text: `{"category": "new_work_item", "confidence": }`},
		{name: "unknown category", text: `{"category":"urgent","confidence":0.9}`},
		{name: "confidence out of range", text: `{"category":"none","confidence":1.5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(answer(t, tt.text))
			defer srv.Close()

			_, err := newTestClaude(srv.URL, time.Second).Classify(context.Background(), testEmail)
			assert.ErrorIs(t, err, ErrMalformed)
			assert.Equal(t, "malformed", Reason(err))
		})
	}
}

func TestClaudeClassifyTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := newTestClaude(srv.URL, 50*time.Millisecond).Classify(context.Background(), testEmail)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, "timeout", Reason(err))
}

func TestClaudeClassifyAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	_, err := newTestClaude(srv.URL, time.Second).Classify(context.Background(), testEmail)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow down")
	assert.False(t, errors.Is(err, ErrMalformed))
	assert.Equal(t, "error", Reason(err))
}

func TestUserPromptTruncatesBody(t *testing.T) {
	e := testEmail
	long := make([]byte, maxBodyChars+100)
	for i := range long {
		long[i] = 'x'
	}
	e.Body = string(long)

	p := userPrompt(e)
	assert.Contains(t, p, "[truncated]")
	assert.Less(t, len(p), maxBodyChars+500)
}
