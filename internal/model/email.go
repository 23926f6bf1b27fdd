package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Email is a message retrieved from the shared mailbox, reduced to what
// classification and deduplication need.
type Email struct {
	UID        uint32    `json:"uid"`
	MessageID  string    `json:"message_id"`
	InReplyTo  []string  `json:"in_reply_to"`
	References []string  `json:"references"`
	Subject    string    `json:"subject"`
	From       string    `json:"from"`
	To         []string  `json:"to"`
	Date       time.Time `json:"date"`
	Body       string    `json:"body"`

	// Attachments holds attachment file names only.
	Attachments []string `json:"attachments"`
}

// ThreadID derives the thread identity of the message: the root of the
// References chain, else the message it replies to, else its own
// Message-ID. A message without any of these has no thread.
func (e Email) ThreadID() string {
	for _, ref := range e.References {
		if id := normalizeMessageID(ref); id != "" {
			return id
		}
	}
	for _, ref := range e.InReplyTo {
		if id := normalizeMessageID(ref); id != "" {
			return id
		}
	}
	return normalizeMessageID(e.MessageID)
}

// SourceKey returns a stable identity for the message that every client
// reading the same mailbox derives identically.
func (e Email) SourceKey() string {
	if id := normalizeMessageID(e.MessageID); id != "" {
		return id
	}
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(e.From))))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(e.Subject)))
	h.Write([]byte{0})
	h.Write([]byte(e.Date.UTC().Format(time.RFC3339)))
	return "sha256:" + hex.EncodeToString(h.Sum(nil))[:24]
}

func normalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.TrimSpace(id)
}
