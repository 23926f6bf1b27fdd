package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nhle/mail-triage/internal/model"
)

const (
	defaultModel     = "claude-sonnet-4-5-20250929"
	defaultMaxTokens = 1024
	defaultBaseURL   = "https://api.anthropic.com"
	defaultTimeout   = 45 * time.Second
	apiVersion       = "2023-06-01"

	// maxBodyChars bounds how much of a mail body is sent for classification.
	maxBodyChars = 8000
)

// Claude classifies emails with the Anthropic Messages API.
type Claude struct {
	apiKey    string
	model     string
	maxTokens int
	baseURL   string
	timeout   time.Duration
	client    *http.Client
}

// NewClaude creates a classifier from cfg. Zero values fall back to
// defaults.
func NewClaude(apiKey string, cfg model.ClassifierConfig) *Claude {
	c := &Claude{
		apiKey:    apiKey,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		timeout:   cfg.Timeout,
		client:    &http.Client{},
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	return c
}

// Classify sends the email to Claude and parses the verdict. The thread
// and message identity always come from the email, never from the model.
func (c *Claude) Classify(ctx context.Context, email model.Email) (model.ClassificationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.callAPI(ctx, email)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return model.ClassificationResult{}, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return model.ClassificationResult{}, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	verdict, err := parseVerdict(text.String())
	if err != nil {
		return model.ClassificationResult{}, err
	}

	result := model.ClassificationResult{
		Category:   verdict.Category,
		Confidence: verdict.Confidence,
		Reasoning:  verdict.Reasoning,
		ThreadID:   email.ThreadID(),
		SourceKey:  email.SourceKey(),
		Sender:     email.From,
		Recipients: email.To,
		Subject:    email.Subject,
		Body:       email.Body,
		ReceivedAt: email.Date,
		Extracted:  verdict.Fields,
	}
	if err := result.Validate(); err != nil {
		return model.ClassificationResult{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return result, nil
}

// callAPI makes a single request to the Claude Messages API.
func (c *Claude) callAPI(ctx context.Context, email model.Email) (*apiResponse, error) {
	reqBody := apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    systemPrompt,
		Messages: []apiMessage{{
			Role:    "user",
			Content: []apiContentBlock{{Type: "text", Text: userPrompt(email)}},
		}},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling Claude API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrMalformed, err)
	}

	return &result, nil
}

// --- Claude API types ---

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string            `json:"role"`
	Content []apiContentBlock `json:"content"`
}

type apiContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiResponse struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Role       string            `json:"role"`
	Content    []apiContentBlock `json:"content"`
	Model      string            `json:"model"`
	StopReason string            `json:"stop_reason"`
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
