package classify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nhle/mail-triage/internal/model"
)

const systemPrompt = `You triage a shared production mailbox for a post-production studio.
Decide whether the email is one of:
- "new_work_item": a client or producer is asking for a new job to be opened.
- "file_delivery": someone is delivering files for an existing job.
- "none": anything else (chatter, newsletters, scheduling, replies with no new work).

Answer with a single JSON object and nothing else:
{"category": "...", "confidence": 0.0-1.0, "reasoning": "one sentence",
 "fields": {"docket_number": "", "job_name": "", "project_manager": "", "message": ""}}

Leave a field empty when the email does not state it. "message" is a one-line
summary an operator can act on.`

// userPrompt renders the email for classification.
func userPrompt(email model.Email) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\n", email.From)
	if len(email.To) > 0 {
		fmt.Fprintf(&sb, "To: %s\n", strings.Join(email.To, ", "))
	}
	fmt.Fprintf(&sb, "Subject: %s\n", email.Subject)
	if !email.Date.IsZero() {
		fmt.Fprintf(&sb, "Date: %s\n", email.Date.Format("2006-01-02 15:04 MST"))
	}
	if len(email.Attachments) > 0 {
		fmt.Fprintf(&sb, "Attachments: %s\n", strings.Join(email.Attachments, ", "))
	}
	sb.WriteString("\n")

	body := email.Body
	if len(body) > maxBodyChars {
		body = body[:maxBodyChars] + "\n[truncated]"
	}
	sb.WriteString(body)
	return sb.String()
}

type verdict struct {
	Category   model.Category `json:"category"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning"`
	Fields     model.Fields   `json:"fields"`
}

// parseVerdict extracts the JSON object from the model's answer. Models
// sometimes wrap the object in prose or code fences, so everything outside
// the outermost braces is ignored.
func parseVerdict(text string) (verdict, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return verdict{}, fmt.Errorf("%w: no JSON object in answer", ErrMalformed)
	}

	var v verdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return verdict{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	v.Category = model.Category(strings.ToLower(strings.TrimSpace(string(v.Category))))
	return v, nil
}
